package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mmrag/internal/port"
)

// CLIPEmbedder sends image files to a CLIP inference service and returns
// unit-length vectors in the shared text/image space.
//
// The service accepts a multipart upload on POST {baseURL}/embed/image with
// the file in the "file" field and replies {"embedding": [...]}.
type CLIPEmbedder struct {
	baseURL   string
	dimension int
	client    *http.Client
}

var _ port.ImageEmbedder = (*CLIPEmbedder)(nil)

func NewCLIPEmbedder(baseURL string, dimension int, timeout time.Duration) *CLIPEmbedder {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CLIPEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		dimension: dimension,
		client:    &http.Client{Timeout: timeout},
	}
}

func (e *CLIPEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed/image", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clip request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("clip service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode clip response: %w", err)
	}
	if len(out.Embedding) != e.dimension {
		return nil, fmt.Errorf("clip embedding: expected dimension %d, got %d", e.dimension, len(out.Embedding))
	}
	return Normalize(out.Embedding), nil
}

func (e *CLIPEmbedder) Dimension() int {
	return e.dimension
}

func (e *CLIPEmbedder) ModelName() string {
	return "clip"
}
