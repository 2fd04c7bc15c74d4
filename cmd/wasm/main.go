//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"syscall/js"

	"mmrag/config"
	"mmrag/internal/adapter/chunker"
	"mmrag/internal/adapter/embedding"
	"mmrag/internal/adapter/llm"
	"mmrag/internal/adapter/memstore"
	"mmrag/internal/domain"
	"mmrag/internal/usecase"
)

// The browser build runs fully offline: hashed word embeddings and an echo
// generator stand in for the model APIs, so answers show the assembled prompt.
const dimension = 256

var (
	store   *memstore.MemoryStore
	memory  *usecase.ConversationMemory
	ingest  *usecase.IngestUseCase
	answers *usecase.AnswerUseCase
)

func init() {
	reset()
}

func reset() {
	defaults := config.DefaultConfig().Ingest
	text := embedding.NewMockEmbedder(dimension)
	store = memstore.NewMemoryStore()
	memory = usecase.NewConversationMemory(store, text, "embeddings", 0)
	ingest = usecase.NewIngestUseCase(store, text, embedding.NewMockImageEmbedder(dimension), chunker.NewWrapChunker(defaults.ChunkWidth),
		usecase.IngestOptions{MinTextLength: defaults.MinTextLength, Concurrency: 1}, nil)
	answers = usecase.NewAnswerUseCase(store, text, memory, llm.EchoGenerator{}, usecase.AnswerOptions{}, nil)
}

func main() {
	c := make(chan struct{})

	js.Global().Set("ragIndex", js.FuncOf(indexContent))
	js.Global().Set("ragQuery", js.FuncOf(queryContent))
	js.Global().Set("ragChat", js.FuncOf(appendChat))
	js.Global().Set("ragClear", js.FuncOf(clearChat))
	js.Global().Set("ragReset", js.FuncOf(resetAll))
	js.Global().Set("ragStats", js.FuncOf(getStats))

	<-c
}

func indexContent(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeError("usage: ragIndex(title, text, [url])")
	}

	doc := domain.Document{
		Title: args[0].String(),
		Text:  args[1].String(),
		URL:   "local:" + args[0].String(),
	}
	if len(args) > 2 {
		doc.URL = args[2].String()
	}

	out := ingest.IngestDocument(context.Background(), doc)
	if out.Error != "" {
		return makeError("indexing failed: " + out.Error)
	}
	return makeResult(out)
}

func queryContent(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("usage: ragQuery(query)")
	}

	ans, err := answers.Answer(context.Background(), args[0].String())
	if err != nil {
		return makeError("query failed: " + err.Error())
	}
	return makeResult(map[string]interface{}{
		"answer":  ans.Text,
		"sources": ans.Sources,
		"images":  ans.Images,
		"context": ans.Context,
	})
}

func appendChat(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeError("usage: ragChat(role, content)")
	}

	rec, err := memory.Append(context.Background(), args[0].String(), args[1].String(), nil)
	if err != nil {
		return makeError("append failed: " + err.Error())
	}
	return makeResult(map[string]interface{}{"id": rec.ID})
}

func clearChat(this js.Value, args []js.Value) interface{} {
	n, err := memory.Clear(context.Background())
	if err != nil {
		return makeError("clear failed: " + err.Error())
	}
	return makeResult(map[string]interface{}{
		"detail":  "Chat history cleared.",
		"removed": n,
	})
}

func resetAll(this js.Value, args []js.Value) interface{} {
	reset()
	return makeResult(map[string]interface{}{"success": true})
}

func getStats(this js.Value, args []js.Value) interface{} {
	ctx := context.Background()
	counts := make(map[string]int)
	for _, c := range store.Collections() {
		for _, t := range []domain.RecordType{domain.TypeArticle, domain.TypeImage, domain.TypeChat} {
			recs, _ := store.ScanByType(ctx, c, t, 0)
			counts[string(t)] += len(recs)
		}
	}
	return makeResult(map[string]interface{}{
		"collections": store.Collections(),
		"records":     counts,
	})
}

func makeError(msg string) interface{} {
	result, _ := json.Marshal(map[string]interface{}{
		"error": msg,
	})
	return string(result)
}

func makeResult(data interface{}) interface{} {
	result, _ := json.Marshal(data)
	return string(result)
}
