package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text))}, nil
}

func (e *countingEmbedder) Dimension() int    { return 1 }
func (e *countingEmbedder) ModelName() string { return "counting" }

func TestQueryCacheGetPut(t *testing.T) {
	c := NewQueryCache(10, time.Minute)

	if _, ok := c.Get("m", "hello"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Put("m", "hello", []float32{1})
	v, ok := c.Get("m", "hello")
	if !ok || v[0] != 1 {
		t.Fatalf("expected hit with [1], got %v %v", v, ok)
	}
	if _, ok := c.Get("other-model", "hello"); ok {
		t.Error("cache key must include the model")
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 2 {
		t.Errorf("expected 1 hit / 2 misses, got %d / %d", hits, misses)
	}
}

func TestQueryCacheEviction(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	c.Put("m", "a", []float32{1})
	c.Put("m", "b", []float32{2})
	c.Get("m", "a") // a is now most recent
	c.Put("m", "c", []float32{3})

	if _, ok := c.Get("m", "b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("m", "a"); !ok {
		t.Error("expected a to survive")
	}
	if c.Size() != 2 {
		t.Errorf("expected size 2, got %d", c.Size())
	}
}

func TestQueryCacheTTL(t *testing.T) {
	c := NewQueryCache(10, time.Millisecond)
	c.Put("m", "a", []float32{1})
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("m", "a"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestQueryCacheInvalidate(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put("m", "a", []float32{1})
	c.Invalidate()

	if c.Size() != 0 {
		t.Errorf("expected empty cache, got %d", c.Size())
	}
	if _, ok := c.Get("m", "a"); ok {
		t.Error("expected miss after invalidate")
	}
}

func TestCachedTextEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewCachedTextEmbedder(inner, NewQueryCache(10, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := e.EmbedText(ctx, "abc")
		if err != nil {
			t.Fatal(err)
		}
		if v[0] != 3 {
			t.Errorf("expected [3], got %v", v)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 underlying call, got %d", inner.calls)
	}
}

func TestCachedTextEmbedderDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	e := NewCachedTextEmbedder(inner, NewQueryCache(10, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := e.EmbedText(context.Background(), "abc"); err == nil {
			t.Fatal("expected error")
		}
	}
	if inner.calls != 2 {
		t.Errorf("expected errors to bypass the cache, got %d calls", inner.calls)
	}
}
