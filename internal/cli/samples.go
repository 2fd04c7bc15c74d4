package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mmrag/internal/usecase"
)

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Generate evaluation samples as JSON lines",
	Long: `Run a fixed question set through retrieval and generation and write
{question, contexts, answer} records for offline evaluation.

Examples:
  mmrag samples
  mmrag samples -o eval.jsonl -Q "What is CLIP?" -Q "What is RAG?"`,
	Args: cobra.NoArgs,
	RunE: runSamples,
}

var (
	samplesOut       string
	samplesQuestions []string
)

func init() {
	samplesCmd.Flags().StringVarP(&samplesOut, "output", "o", filepath.Join("evaluation", "rag_samples.jsonl"), "output file")
	samplesCmd.Flags().StringArrayVarP(&samplesQuestions, "question", "Q", nil, "question to ask (repeatable, default built-in set)")
	rootCmd.AddCommand(samplesCmd)
}

func runSamples(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	answers, err := a.answers()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	samples, err := usecase.NewSampleUseCase(answers).Generate(ctx, samplesQuestions, newProgress("Sampling"))
	if err != nil {
		return err
	}

	out := samplesOut
	if !filepath.IsAbs(out) {
		out = filepath.Join(GetRootDir(), out)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := usecase.WriteJSONL(f, samples); err != nil {
		return err
	}
	fmt.Printf("Saved %d samples to %s\n", len(samples), color.GreenString(out))
	return nil
}
