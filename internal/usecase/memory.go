package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// ConversationMemory stores chat turns as chat records and recalls the
// turns most similar to a query.
type ConversationMemory struct {
	store      port.VectorStore
	embedder   port.TextEmbedder
	collection string
	scanLimit  int
}

func NewConversationMemory(store port.VectorStore, embedder port.TextEmbedder, collection string, scanLimit int) *ConversationMemory {
	if collection == "" {
		collection = "embeddings"
	}
	return &ConversationMemory{
		store:      store,
		embedder:   embedder,
		collection: collection,
		scanLimit:  scanLimit,
	}
}

func (m *ConversationMemory) ensure(ctx context.Context) error {
	if err := m.store.EnsureCollection(ctx, m.collection, m.embedder.Dimension()); err != nil {
		return fmt.Errorf("ensure collection %s: %w", m.collection, err)
	}
	return nil
}

// Append embeds content and stores it as a new turn. A nil ts means now.
func (m *ConversationMemory) Append(ctx context.Context, role, content string, ts *time.Time) (domain.Record, error) {
	if err := m.ensure(ctx); err != nil {
		return domain.Record{}, err
	}

	vec, err := m.embedder.EmbedText(ctx, content)
	if err != nil {
		return domain.Record{}, fmt.Errorf("embed chat turn: %w", err)
	}

	p := domain.ChatPayload{Role: role, Content: content}
	if ts != nil {
		p.Timestamp = ts.UTC()
	}
	rec := domain.NewChatRecord(uuid.NewString(), vec, p)
	if err := m.store.Upsert(ctx, m.collection, rec); err != nil {
		return domain.Record{}, fmt.Errorf("store chat turn: %w", err)
	}
	return rec, nil
}

// RetrieveRelevant returns up to topK prior turns as "role: content",
// best match first.
func (m *ConversationMemory) RetrieveRelevant(ctx context.Context, query string, topK int) ([]string, error) {
	vec, err := m.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return m.RetrieveRelevantByVector(ctx, vec, topK)
}

// RetrieveRelevantByVector is RetrieveRelevant with a precomputed query
// embedding. Turns missing a role or content are dropped.
func (m *ConversationMemory) RetrieveRelevantByVector(ctx context.Context, vec []float32, topK int) ([]string, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}

	hits, err := m.store.Search(ctx, m.collection, vec, topK, domain.TypeChat)
	if err != nil {
		return nil, fmt.Errorf("search chat: %w", err)
	}

	turns := make([]string, 0, len(hits))
	for _, h := range hits {
		c := h.Record.Chat
		if c == nil || c.Role == "" || c.Content == "" {
			continue
		}
		turns = append(turns, c.Role+": "+c.Content)
	}
	return turns, nil
}

// Clear deletes every chat turn and returns how many were removed.
func (m *ConversationMemory) Clear(ctx context.Context) (int, error) {
	if err := m.ensure(ctx); err != nil {
		return 0, err
	}
	n, err := m.store.DeleteByType(ctx, m.collection, domain.TypeChat)
	if err != nil {
		return 0, fmt.Errorf("clear chat: %w", err)
	}
	return n, nil
}

// History returns stored turns oldest first. limit <= 0 uses the scan limit.
func (m *ConversationMemory) History(ctx context.Context, limit int) ([]domain.ChatPayload, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = m.scanLimit
	}

	recs, err := m.store.ScanByType(ctx, m.collection, domain.TypeChat, limit)
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}

	turns := make([]domain.ChatPayload, 0, len(recs))
	for _, r := range recs {
		if r.Chat != nil {
			turns = append(turns, *r.Chat)
		}
	}
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
	return turns, nil
}
