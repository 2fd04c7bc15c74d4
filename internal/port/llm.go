package port

import "context"

// Generator produces an answer to query grounded in the retrieved context text.
type Generator interface {
	Generate(ctx context.Context, query, retrieved string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// Completer answers a free-form prompt under a system instruction.
// It backs the LLM judge used to score evaluation samples.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}
