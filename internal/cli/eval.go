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

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score evaluation samples with an LLM judge",
	Long: `Read {question, contexts, answer} samples written by "mmrag samples" and score
faithfulness, answer relevancy and context precision with an LLM judge.

The judge uses the generation endpoint and API key with eval.judge_model.

Examples:
  mmrag eval
  mmrag eval -i eval.jsonl --json`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

var (
	evalInput string
	evalJSON  bool
)

func init() {
	evalCmd.Flags().StringVarP(&evalInput, "input", "i", filepath.Join("evaluation", "rag_samples.jsonl"), "samples file")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	in := evalInput
	if !filepath.IsAbs(in) {
		in = filepath.Join(GetRootDir(), in)
	}
	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("open samples: %w", err)
	}
	defer f.Close()

	samples, err := usecase.ReadJSONL(f)
	if err != nil {
		return fmt.Errorf("read samples: %w", err)
	}
	if len(samples) == 0 {
		return fmt.Errorf("no samples in %s", in)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := a.textEmbedder()
	if err != nil {
		return err
	}
	judge, err := a.judge()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := usecase.NewEvaluateUseCase(judge, text, logger).Evaluate(ctx, samples, newProgress("Scoring"))
	if err != nil {
		return err
	}

	if evalJSON {
		return printJSON(report)
	}

	fmt.Println(color.CyanString("\nEvaluation metrics (%d samples, judge %s):", len(report.Samples), judge.ModelName()))
	fmt.Printf("  faithfulness:       %s\n", scoreString(report.Mean.Faithfulness))
	fmt.Printf("  answer_relevancy:   %s\n", scoreString(report.Mean.AnswerRelevancy))
	fmt.Printf("  context_precision:  %s\n", scoreString(report.Mean.ContextPrecision))
	return nil
}

func scoreString(v float64) string {
	switch {
	case v >= 0.8:
		return color.GreenString("%.3f", v)
	case v >= 0.5:
		return color.YellowString("%.3f", v)
	default:
		return color.RedString("%.3f", v)
	}
}
