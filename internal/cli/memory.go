package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the chat history",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Append a turn to the chat history",
	Long: `Append a turn to the chat history. Stored turns are retrieved as context
for later queries.

Examples:
  mmrag chat --role user --content "I'm interested in vision models"`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the chat history, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	chatRole     string
	chatContent  string
	historyLimit int
)

func init() {
	chatCmd.Flags().StringVar(&chatRole, "role", "user", "speaker role")
	chatCmd.Flags().StringVar(&chatContent, "content", "", "turn content (required)")
	chatCmd.MarkFlagRequired("content")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "maximum turns to read (default store scan limit)")

	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	mem, err := a.memory()
	if err != nil {
		return err
	}
	n, err := mem.Clear(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Chat history cleared (%d turns removed).\n", n)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	mem, err := a.memory()
	if err != nil {
		return err
	}
	rec, err := mem.Append(context.Background(), chatRole, chatContent, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Stored turn %s\n", rec.ID)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	mem, err := a.memory()
	if err != nil {
		return err
	}
	turns, err := mem.History(context.Background(), historyLimit)
	if err != nil {
		return err
	}
	for _, t := range turns {
		fmt.Printf("%s %s: %s\n", color.HiBlackString(t.Timestamp.Format(time.RFC3339)), color.CyanString(t.Role), t.Content)
	}
	return nil
}
