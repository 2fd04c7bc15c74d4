package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"mmrag/internal/domain"
	"mmrag/internal/usecase"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape the configured site and index its articles",
	Long: `Scrape every article linked from scraper.base_url, download its images,
and store chunk and image embeddings.

Examples:
  mmrag scrape              # Scrape and index
  mmrag scrape --rebuild    # Drop article and image records first
  mmrag scrape --json       # Print the ingest report as JSON`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

var (
	scrapeRebuild  bool
	scrapeMaxPages int
	scrapeJSON     bool
)

func init() {
	scrapeCmd.Flags().BoolVar(&scrapeRebuild, "rebuild", false, "delete article and image records before scraping")
	scrapeCmd.Flags().IntVar(&scrapeMaxPages, "max-pages", 0, "stop after this many articles (overrides scraper.max_pages)")
	scrapeCmd.Flags().BoolVar(&scrapeJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if scrapeMaxPages > 0 {
		cfg.Scraper.MaxPages = scrapeMaxPages
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ingest, err := a.ingest()
	if err != nil {
		return err
	}
	fetcher, err := a.fetcher()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if scrapeRebuild {
		n, err := ingest.Reset(ctx)
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
		fmt.Printf("Removed %d article and image records\n", n)
	}

	fmt.Printf("Scraping %s...\n", cfg.Scraper.BaseURL)
	report, err := ingest.Run(ctx, fetcher, newProgress("Scraping"))
	if report == nil {
		return fmt.Errorf("scrape failed: %w", err)
	}

	if scrapeJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}
	if err != nil {
		return fmt.Errorf("scrape interrupted: %w", err)
	}
	return nil
}

// newProgress returns a callback that drives a progress bar with an ETA,
// created on the first call once the total is known.
func newProgress(label string) usecase.ProgressFunc {
	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	return func(processed, total int, current string) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]"+label+"[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}

		bar.Set(processed)

		if processed > 0 {
			elapsed := time.Since(startTime)
			rate := float64(processed) / elapsed.Seconds()
			remaining := total - processed
			if rate > 0 {
				eta := time.Duration(float64(remaining)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", label, formatDuration(eta)))
			}
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func printReport(report *domain.IngestReport) {
	counts := report.Counts()
	failed := counts[domain.OutcomeFailedFetch] + counts[domain.OutcomeFailedEmbed] + counts[domain.OutcomeFailedStore]

	fmt.Printf("\nIngestion complete in %s:\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Printf("  Documents stored:  %s\n", color.GreenString("%d", counts[domain.OutcomeStored]))
	fmt.Printf("  Skipped (short):   %d\n", counts[domain.OutcomeSkippedShort])
	if failed > 0 {
		fmt.Printf("  Failed:            %s (fetch %d, embed %d, store %d)\n",
			color.RedString("%d", failed),
			counts[domain.OutcomeFailedFetch],
			counts[domain.OutcomeFailedEmbed],
			counts[domain.OutcomeFailedStore])
	}
	fmt.Printf("  Chunks written:    %d\n", report.ChunksStored())
	fmt.Printf("  Images written:    %d\n", report.ImagesStored())

	if failures := report.Failures(); len(failures) > 0 {
		fmt.Println(color.YellowString("\nWarnings:"))
		for _, f := range failures {
			fmt.Printf("  - %s\n", f)
		}
	}
}
