package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.etcd.io/bbolt"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

var (
	bucketMeta        = []byte("meta")
	collectionPrefix  = []byte("collection:")
	keyDimPrefix      = []byte("dim:")
	errMetaBucketGone = errors.New("meta bucket not found")
)

// BoltStore implements port.VectorStore on a single BoltDB file.
// Each collection is its own bucket; records are cached in memory for
// brute-force search.
type BoltStore struct {
	db *bbolt.DB

	mu          sync.RWMutex
	dims        map[string]int
	collections map[string]map[string]domain.Record
}

type storedRecord struct {
	Vector  []float32       `json:"v"`
	Payload json.RawMessage `json:"p"`
}

var _ port.VectorStore = (*BoltStore)(nil)

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{
		db:          db,
		dims:        make(map[string]int),
		collections: make(map[string]map[string]domain.Record),
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}
	return s, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func collectionBucket(name string) []byte {
	return append(append([]byte{}, collectionPrefix...), name...)
}

func dimKey(name string) []byte {
	return append(append([]byte{}, keyDimPrefix...), name...)
}

// load reads every collection into memory.
func (s *BoltStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		return meta.ForEach(func(k, v []byte) error {
			if !bytes.HasPrefix(k, keyDimPrefix) {
				return nil
			}
			name := string(k[len(keyDimPrefix):])
			dim, err := strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("collection %s: bad dimension %q", name, v)
			}
			s.dims[name] = dim
			records := make(map[string]domain.Record)
			s.collections[name] = records

			b := tx.Bucket(collectionBucket(name))
			if b == nil {
				return nil
			}
			return b.ForEach(func(id, data []byte) error {
				rec, err := decodeStored(string(id), data)
				if err != nil {
					return nil // Skip corrupted entries
				}
				records[rec.ID] = rec
				return nil
			})
		})
	})
}

func decodeStored(id string, data []byte) (domain.Record, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.Record{}, err
	}
	return domain.DecodeRecord(id, stored.Vector, stored.Payload)
}

func (s *BoltStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("collection %s: dimension must be positive, got %d", name, dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.dims[name]; ok {
		if existing != dim {
			return fmt.Errorf("%w: collection %s has %d, requested %d", domain.ErrDimensionMismatch, name, existing, dim)
		}
		return nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(collectionBucket(name)); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return errMetaBucketGone
		}
		return meta.Put(dimKey(name), []byte(strconv.Itoa(dim)))
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	s.dims[name] = dim
	s.collections[name] = make(map[string]domain.Record)
	return nil
}

func (s *BoltStore) Upsert(ctx context.Context, collection string, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim, ok := s.dims[collection]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
	}
	if len(rec.Vector) != dim {
		return fmt.Errorf("%w: expected %d, got %d", domain.ErrDimensionMismatch, dim, len(rec.Vector))
	}

	payload, err := rec.MarshalPayload()
	if err != nil {
		return err
	}
	data, err := json.Marshal(storedRecord{Vector: rec.Vector, Payload: payload})
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(collectionBucket(collection))
		if b == nil {
			return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
		}
		return b.Put([]byte(rec.ID), data)
	})
	if err != nil {
		return err
	}

	s.collections[collection][rec.ID] = rec.Clone()
	return nil
}

func (s *BoltStore) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.collections[collection]
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
	}
	rec, ok := records[id]
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Search finds the topK nearest records using cosine similarity.
func (s *BoltStore) Search(ctx context.Context, collection string, query []float32, topK int, filter domain.RecordType) ([]domain.ScoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidTopK, topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dim, ok := s.dims[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query expected %d, got %d", domain.ErrDimensionMismatch, dim, len(query))
	}

	candidates := make([]domain.Record, 0, len(s.collections[collection]))
	for _, rec := range s.collections[collection] {
		if filter == "" || rec.Type == filter {
			candidates = append(candidates, rec)
		}
	}
	return CloneHits(RankTopK(query, candidates, topK)), nil
}

// ScanByType returns matching records in key order.
func (s *BoltStore) ScanByType(ctx context.Context, collection string, t domain.RecordType, limit int) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = port.DefaultScanLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
	}

	ids := make([]string, 0, len(records))
	for id, rec := range records {
		if rec.Type == t {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]domain.Record, len(ids))
	for i, id := range ids {
		out[i] = records[id].Clone()
	}
	return out, nil
}

func (s *BoltStore) DeleteByType(ctx context.Context, collection string, t domain.RecordType) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
	}

	var ids []string
	for id, rec := range records {
		if rec.Type == t {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(collectionBucket(collection))
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		delete(records, id)
	}
	return len(ids), nil
}

// Count returns the number of records per collection.
func (s *BoltStore) Count() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(s.collections))
	for name, records := range s.collections {
		counts[name] = len(records)
	}
	return counts
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
