package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"mmrag/internal/adapter/store"
	"mmrag/internal/domain"
	"mmrag/internal/port"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	type       TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_type ON records (collection, type);
`

// Store implements port.VectorStore on SQLite. Embeddings are stored as
// little-endian float32 BLOBs and cosine similarity is computed in Go.
type Store struct {
	db *sql.DB
}

var _ port.VectorStore = (*Store)(nil)

// Open opens (or creates) the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) dimension(ctx context.Context, collection string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
	}
	return dim, err
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	existing, err := s.dimension(ctx, name)
	switch {
	case err == nil:
		if existing != dim {
			return fmt.Errorf("%w: collection %s has %d, requested %d", domain.ErrDimensionMismatch, name, existing, dim)
		}
		return nil
	case !errors.Is(err, domain.ErrCollectionNotFound):
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO collections (name, dimension) VALUES (?, ?)`, name, dim)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, rec domain.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return err
	}
	if len(rec.Vector) != dim {
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dim, len(rec.Vector))
	}

	payload, err := rec.MarshalPayload()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (collection, id, type, embedding, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			type = excluded.type,
			embedding = excluded.embedding,
			payload = excluded.payload,
			updated_at = CURRENT_TIMESTAMP
	`, collection, rec.ID, string(rec.Type), encodeFloat32s(rec.Vector), string(payload))
	return err
}

func (s *Store) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	var blob []byte
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, payload FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&blob, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Record{}, err
	}
	return domain.DecodeRecord(id, decodeFloat32s(blob), []byte(payload))
}

func (s *Store) Search(ctx context.Context, collection string, query []float32, topK int, filter domain.RecordType) ([]domain.ScoredRecord, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query expected %d, got %d", domain.ErrDimensionMismatch, dim, len(query))
	}

	q := `SELECT id, embedding, payload FROM records WHERE collection = ?`
	args := []any{collection}
	if filter != "" {
		q += ` AND type = ?`
		args = append(args, string(filter))
	}

	candidates, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return store.RankTopK(query, candidates, topK), nil
}

// ScanByType returns records in insertion order.
func (s *Store) ScanByType(ctx context.Context, collection string, t domain.RecordType, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = port.DefaultScanLimit
	}
	return s.query(ctx,
		`SELECT id, embedding, payload FROM records WHERE collection = ? AND type = ? ORDER BY rowid LIMIT ?`,
		collection, string(t), limit,
	)
}

func (s *Store) DeleteByType(ctx context.Context, collection string, t domain.RecordType) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND type = ?`, collection, string(t))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var id, payload string
		var blob []byte
		if err := rows.Scan(&id, &blob, &payload); err != nil {
			return nil, err
		}
		rec, err := domain.DecodeRecord(id, decodeFloat32s(blob), []byte(payload))
		if err != nil {
			continue // skip rows written by a newer schema
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
