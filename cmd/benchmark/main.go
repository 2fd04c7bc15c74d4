package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"mmrag/config"
	"mmrag/internal/adapter/embedding"
	"mmrag/internal/adapter/store"
	"mmrag/internal/domain"
	"mmrag/internal/port"
)

func main() {
	dir := flag.String("dir", ".", "Directory holding .rag/")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -dir . -q \"query\"")
		fmt.Println("\nTests:")
		fmt.Println("  1. Embedding infrastructure (model connection, vector store)")
		fmt.Println("  2. Semantic similarity (query vs article chunks)")
		fmt.Println("  3. Image retrieval with the same query vector")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store.Backend != "bolt" {
		fmt.Fprintf(os.Stderr, "Benchmark reads the bolt store only (backend is %s)\n", cfg.Store.Backend)
		os.Exit(1)
	}

	st, err := store.NewBoltStore(config.StorePath(*dir, cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	embedder, err := setupEmbedding(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Semantic search not available: %v\n", err)
		os.Exit(1)
	}

	counts := st.Count()
	if counts[cfg.Store.Collection] == 0 {
		fmt.Fprintln(os.Stderr, "No embeddings - run 'mmrag scrape' first")
		os.Exit(1)
	}

	fmt.Println("SEMANTIC SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Records: %d in %s, %d in %s\n",
		counts[cfg.Store.Collection], cfg.Store.Collection,
		counts[cfg.Store.ImageCollection], cfg.Store.ImageCollection)
	fmt.Printf("Model: %s (%s)\n", embedder.ModelName(), cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n", embedder.Dimension())
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	ctx := context.Background()
	queryVec, err := embedder.EmbedText(ctx, *query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Query embedded: %d dimensions\n\n", len(queryVec))

	results, err := st.Search(ctx, cfg.Store.Collection, queryVec, *topK, domain.TypeArticle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No article chunks matched.")
		os.Exit(1)
	}

	fmt.Printf("Top %d semantic matches:\n\n", len(results))

	totalScore := 0.0
	for i, r := range results {
		a := r.Record.Article
		preview := strings.ReplaceAll(a.Text, "\n", " ")
		if len(preview) > 150 {
			preview = preview[:150] + "..."
		}

		totalScore += r.Score
		fmt.Printf("%d. [%s %.3f] %s\n", i+1, rating(r.Score), r.Score, a.Title)
		fmt.Printf("   %s\n   %s\n\n", a.URL, preview)
	}

	if counts[cfg.Store.ImageCollection] > 0 {
		images, err := st.Search(ctx, cfg.Store.ImageCollection, queryVec, 3, domain.TypeImage)
		if err == nil && len(images) > 0 {
			fmt.Println("Top image matches:")
			for _, im := range images {
				fmt.Printf("  [%s %.3f] %s\n", rating(im.Score), im.Score, im.Record.Image.ImageURL)
			}
			fmt.Println()
		}
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Score)

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - semantic search working well")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - may need better embeddings or re-scraping")
	}
}

func rating(similarity float64) string {
	switch {
	case similarity > 0.7:
		return "HIGH"
	case similarity > 0.5:
		return "GOOD"
	case similarity > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

func setupEmbedding(cfg *config.Config) (port.TextEmbedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKeyEnv: cfg.Embedding.APIKeyEnv,
			Model:     cfg.Embedding.Model,
			BaseURL:   cfg.Embedding.BaseURL,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("embedder init failed: %w", err)
		}
		return e, nil
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Embedding.Provider)
	}
}
