package port

import "context"

// TextEmbedder maps text into the shared vector space.
type TextEmbedder interface {
	// EmbedText returns one vector of length Dimension() for text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// ImageEmbedder maps a local image file into the same space as TextEmbedder.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)

	Dimension() int

	ModelName() string
}
