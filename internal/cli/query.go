package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Answer a question from the indexed articles",
	Long: `Answer a question using retrieved article chunks, images and chat history.

Examples:
  mmrag query -q "What is CLIP?"
  mmrag query -q "What are diffusion models?" --json
  mmrag query -q "What is RAG?" --context   # show the retrieved context`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

var (
	queryText        string
	queryJSON        bool
	queryShowContext bool
)

func init() {
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question to answer (required)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryShowContext, "context", false, "print the retrieved context")
	queryCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	answers, err := a.answers()
	if err != nil {
		return err
	}

	ans, err := answers.Answer(context.Background(), queryText)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		return printJSON(ans)
	}

	if queryShowContext {
		fmt.Println(color.CyanString("Context:"))
		fmt.Println(ans.Context)
		fmt.Println()
	}

	fmt.Println(ans.Text)

	if len(ans.Sources) > 0 {
		fmt.Println(color.CyanString("\nSources:"))
		for i, s := range ans.Sources {
			fmt.Printf("  [%d] %s\n      %s\n", i+1, s.Title, color.BlueString(s.URL))
		}
	}
	if len(ans.Images) > 0 {
		fmt.Println(color.CyanString("\nImages:"))
		for _, im := range ans.Images {
			fmt.Printf("  %s\n      %s\n", im.Caption, im.LocalPath)
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
