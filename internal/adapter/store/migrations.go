package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"mmrag/config"
	"mmrag/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 2

var (
	keySchemaVersion = []byte("schema_version")
	keyConfigHash    = []byte("config_hash")
)

// SchemaInfo stores schema version and configuration hash.
type SchemaInfo struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
}

// GetSchemaInfo retrieves the current schema info from the database.
func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}

		versionData := b.Get(keySchemaVersion)
		if versionData != nil {
			if err := json.Unmarshal(versionData, &info.Version); err != nil {
				info.Version = 1
			}
		}

		hashData := b.Get(keyConfigHash)
		if hashData != nil {
			info.ConfigHash = string(hashData)
		}

		return nil
	})
	return &info, err
}

// SetSchemaInfo stores the schema info in the database.
func (s *BoltStore) SetSchemaInfo(info *SchemaInfo) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)

		versionData, err := json.Marshal(info.Version)
		if err != nil {
			return err
		}
		if err := b.Put(keySchemaVersion, versionData); err != nil {
			return err
		}

		return b.Put(keyConfigHash, []byte(info.ConfigHash))
	})
}

// ComputeConfigHash computes a hash of the configuration that shapes stored vectors.
// Records embedded under a different hash live in a different vector space.
func ComputeConfigHash(cfg *config.Config) string {
	relevant := struct {
		Dimension     int    `json:"dimension"`
		TextProvider  string `json:"text_provider"`
		TextModel     string `json:"text_model"`
		ImageProvider string `json:"image_provider"`
	}{
		Dimension:     cfg.Store.Dimension,
		TextProvider:  cfg.Embedding.Provider,
		TextModel:     cfg.Embedding.Model,
		ImageProvider: cfg.ImageEmbedding.Provider,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// CheckMigration checks if migration or rebuild is needed.
func (s *BoltStore) CheckMigration(cfg *config.Config) (*MigrationResult, error) {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	if info.Version == 0 {
		result.NeedsMigration = true
		result.Reason = "initializing schema version"
	} else if info.Version < CurrentSchemaVersion {
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	} else if info.Version > CurrentSchemaVersion {
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("database created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
		return result, nil
	}

	newHash := ComputeConfigHash(cfg)
	if info.ConfigHash != "" && info.ConfigHash != newHash {
		result.NeedsRebuild = true
		result.Reason = "embedding configuration changed"
	}

	return result, nil
}

// Migrate performs any necessary schema migrations.
func (s *BoltStore) Migrate(cfg *config.Config) error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}

	for v := info.Version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}

	newInfo := &SchemaInfo{
		Version:    CurrentSchemaVersion,
		ConfigHash: ComputeConfigHash(cfg),
	}
	return s.SetSchemaInfo(newInfo)
}

// runMigration runs a specific version migration.
func (s *BoltStore) runMigration(from, to int) error {
	switch {
	case from == 1 && to == 2:
		// v1 kept chat turns without a timestamp; stamp them with the epoch so
		// history ordering stays total.
		return s.backfillChatTimestamps()
	default:
		return nil
	}
}

func (s *BoltStore) backfillChatTimestamps() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		for name, records := range s.collections {
			b := tx.Bucket(collectionBucket(name))
			if b == nil {
				continue
			}
			for id, rec := range records {
				if rec.Chat == nil || !rec.Chat.Timestamp.IsZero() {
					continue
				}
				rec.Chat.Timestamp = time.Unix(0, 0).UTC()
				payload, err := rec.MarshalPayload()
				if err != nil {
					return err
				}
				data, err := json.Marshal(storedRecord{Vector: rec.Vector, Payload: payload})
				if err != nil {
					return err
				}
				if err := b.Put([]byte(id), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Clear drops every collection with its records and dimension (for rebuild).
// Schema info is kept; collections are recreated by EnsureCollection.
func (s *BoltStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		var buckets [][]byte
		if err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if bytes.HasPrefix(name, collectionPrefix) {
				buckets = append(buckets, append([]byte{}, name...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, name := range buckets {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return errMetaBucketGone
		}
		var dims [][]byte
		if err := meta.ForEach(func(k, _ []byte) error {
			if bytes.HasPrefix(k, keyDimPrefix) {
				dims = append(dims, append([]byte{}, k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range dims {
			if err := meta.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.dims = make(map[string]int)
	s.collections = make(map[string]map[string]domain.Record)
	return nil
}

// NeedsRebuild checks if the store needs a full rebuild due to config changes.
func (s *BoltStore) NeedsRebuild(cfg *config.Config) (bool, string, error) {
	result, err := s.CheckMigration(cfg)
	if err != nil {
		return false, "", err
	}
	return result.NeedsRebuild, result.Reason, nil
}
