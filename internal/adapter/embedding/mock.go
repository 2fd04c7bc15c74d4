package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"

	"mmrag/internal/port"
)

// Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// MockEmbedder hashes words into buckets, so texts sharing words land
// close together. Deterministic and offline.
type MockEmbedder struct {
	dimension int
}

var _ port.TextEmbedder = (*MockEmbedder)(nil)

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, e.dimension)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,:;!?\"'()[]")))
		v[h.Sum32()%uint32(e.dimension)]++
	}
	return Normalize(v), nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}

// MockImageEmbedder derives a vector from the file's bytes.
type MockImageEmbedder struct {
	dimension int
}

var _ port.ImageEmbedder = (*MockImageEmbedder)(nil)

func NewMockImageEmbedder(dimension int) *MockImageEmbedder {
	return &MockImageEmbedder{dimension: dimension}
}

func (e *MockImageEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	v := make([]float32, e.dimension)
	seed := sha256.Sum256(data)
	for i := range v {
		block := sha256.Sum256(append(seed[:], byte(i), byte(i>>8)))
		v[i] = float32(int32(binary.LittleEndian.Uint32(block[:4]))) / math.MaxInt32
	}
	return Normalize(v), nil
}

func (e *MockImageEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockImageEmbedder) ModelName() string {
	return "mock"
}
