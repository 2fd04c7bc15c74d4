package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// recordIDKey carries the caller's ID when it is not a UUID, since Qdrant
// only accepts UUIDs and unsigned integers as point IDs.
const recordIDKey = "record_id"

var idNamespace = uuid.MustParse("6f1c1f7e-3f0e-4b5a-9a57-8d1f0f3d2c41")

// Store implements port.VectorStore over the Qdrant REST API.
type Store struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu   sync.RWMutex
	dims map[string]int
}

var _ port.VectorStore = (*Store)(nil)

func New(baseURL, apiKey string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		dims:    make(map[string]int),
	}
}

type point struct {
	ID      any            `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type scoredPoint struct {
	point
	Score float64 `json:"score"`
}

type filter struct {
	Must []condition `json:"must"`
}

type condition struct {
	Key   string         `json:"key"`
	Match map[string]any `json:"match"`
}

func typeFilter(t domain.RecordType) *filter {
	if t == "" {
		return nil
	}
	return &filter{Must: []condition{{Key: "type", Match: map[string]any{"value": string(t)}}}}
}

// do sends body as JSON and decodes the "result" field of the reply into out.
// A 404 is reported as domain.ErrNotFound.
func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: qdrant %s", domain.ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return json.Unmarshal(envelope.Result, out)
}

func (s *Store) collectionDim(ctx context.Context, name string) (int, error) {
	s.mu.RLock()
	dim, ok := s.dims[name]
	s.mu.RUnlock()
	if ok {
		return dim, nil
	}

	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections/"+name, nil, &info); err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
		}
		return 0, err
	}

	dim = info.Config.Params.Vectors.Size
	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()
	return dim, nil
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	existing, err := s.collectionDim(ctx, name)
	if err == nil {
		if existing != dim {
			return fmt.Errorf("%w: collection %s has %d, requested %d", domain.ErrDimensionMismatch, name, existing, dim)
		}
		return nil
	}
	if !isCollectionNotFound(err) {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()
	return nil
}

func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(idNamespace, []byte(id)).String()
}

func (s *Store) Upsert(ctx context.Context, collection string, rec domain.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	dim, err := s.collectionDim(ctx, collection)
	if err != nil {
		return err
	}
	if len(rec.Vector) != dim {
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dim, len(rec.Vector))
	}

	payload := rec.Payload()
	pid := pointID(rec.ID)
	if pid != rec.ID {
		payload[recordIDKey] = rec.ID
	}

	body := map[string]any{
		"points": []point{{ID: pid, Vector: rec.Vector, Payload: payload}},
	}
	return s.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
}

func (s *Store) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	body := map[string]any{
		"ids":          []string{pointID(id)},
		"with_payload": true,
		"with_vector":  true,
	}
	var points []point
	if err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points", body, &points); err != nil {
		if isNotFound(err) {
			return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
		}
		return domain.Record{}, err
	}
	if len(points) == 0 {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return toRecord(points[0])
}

func (s *Store) Search(ctx context.Context, collection string, query []float32, topK int, t domain.RecordType) ([]domain.ScoredRecord, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}
	dim, err := s.collectionDim(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query expected %d, got %d", domain.ErrDimensionMismatch, dim, len(query))
	}

	body := map[string]any{
		"vector":       query,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  true,
	}
	if f := typeFilter(t); f != nil {
		body["filter"] = f
	}

	var hits []scoredPoint
	if err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &hits); err != nil {
		return nil, err
	}

	out := make([]domain.ScoredRecord, 0, len(hits))
	for _, h := range hits {
		rec, err := toRecord(h.point)
		if err != nil {
			continue // foreign payloads are not ours to interpret
		}
		out = append(out, domain.ScoredRecord{Record: rec, Score: h.Score})
	}
	return out, nil
}

func (s *Store) ScanByType(ctx context.Context, collection string, t domain.RecordType, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = port.DefaultScanLimit
	}
	body := map[string]any{
		"filter":       typeFilter(t),
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}

	var page struct {
		Points []point `json:"points"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &page); err != nil {
		return nil, err
	}

	out := make([]domain.Record, 0, len(page.Points))
	for _, p := range page.Points {
		rec, err := toRecord(p)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// DeleteByType counts matches first since Qdrant's delete does not report them.
func (s *Store) DeleteByType(ctx context.Context, collection string, t domain.RecordType) (int, error) {
	f := typeFilter(t)

	var counted struct {
		Count int `json:"count"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", map[string]any{"filter": f, "exact": true}, &counted); err != nil {
		return 0, err
	}
	if counted.Count == 0 {
		return 0, nil
	}

	if err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", map[string]any{"filter": f}, nil); err != nil {
		return 0, err
	}
	return counted.Count, nil
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func toRecord(p point) (domain.Record, error) {
	id := fmt.Sprint(p.ID)
	if orig, ok := p.Payload[recordIDKey].(string); ok && orig != "" {
		id = orig
	}
	delete(p.Payload, recordIDKey)

	data, err := json.Marshal(p.Payload)
	if err != nil {
		return domain.Record{}, err
	}
	return domain.DecodeRecord(id, p.Vector, data)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func isCollectionNotFound(err error) bool {
	return errors.Is(err, domain.ErrCollectionNotFound)
}
