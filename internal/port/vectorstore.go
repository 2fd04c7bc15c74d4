package port

import (
	"context"

	"mmrag/internal/domain"
)

// VectorStore persists typed records in named collections and answers
// cosine nearest-neighbour queries over them.
type VectorStore interface {
	// EnsureCollection creates the collection if absent. An existing
	// collection with a different dimension is an ErrDimensionMismatch.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert inserts or overwrites rec by ID. The write is visible to
	// subsequent reads when Upsert returns.
	Upsert(ctx context.Context, collection string, rec domain.Record) error

	// Get returns ErrNotFound when id is absent.
	Get(ctx context.Context, collection, id string) (domain.Record, error)

	// Search returns up to topK records by descending cosine similarity.
	// An empty filter matches every type.
	Search(ctx context.Context, collection string, query []float32, topK int, filter domain.RecordType) ([]domain.ScoredRecord, error)

	// ScanByType returns up to limit records of type t; limit <= 0 uses the
	// store default.
	ScanByType(ctx context.Context, collection string, t domain.RecordType, limit int) ([]domain.Record, error)

	// DeleteByType removes every record of type t and reports how many went.
	DeleteByType(ctx context.Context, collection string, t domain.RecordType) (int, error)

	Close() error
}

// DefaultScanLimit bounds ScanByType when no limit is given.
const DefaultScanLimit = 1000
