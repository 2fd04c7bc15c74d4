package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mmrag/internal/adapter/fs"
	"mmrag/internal/domain"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index local documents",
	Long: `Index a single local document with optional images, or every HTML,
Markdown and text file under a directory.

Examples:
  mmrag ingest --title "CLIP Basics" --text-file clip.txt --image fig1.png
  mmrag ingest --from-dir ./articles --exclude "drafts/**"`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

var (
	ingestTitle    string
	ingestURL      string
	ingestTextFile string
	ingestImages   []string
	ingestFromDir  string
	ingestIncludes []string
	ingestExcludes []string
	ingestJSON     bool
)

func init() {
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "source URL (default is the text file's file:// URL)")
	ingestCmd.Flags().StringVar(&ingestTextFile, "text-file", "", "file holding the document text")
	ingestCmd.Flags().StringArrayVar(&ingestImages, "image", nil, "image file to index with the document (repeatable)")
	ingestCmd.Flags().StringVar(&ingestFromDir, "from-dir", "", "index every document under this directory")
	ingestCmd.Flags().StringArrayVar(&ingestIncludes, "include", nil, "glob of files to include with --from-dir (repeatable)")
	ingestCmd.Flags().StringArrayVar(&ingestExcludes, "exclude", nil, "glob of files to exclude with --from-dir (repeatable)")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "print the outcome as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func fileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	if (ingestFromDir == "") == (ingestTextFile == "") {
		return errors.New("exactly one of --text-file or --from-dir is required")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if ingestFromDir != "" {
		fetcher := fs.NewDirFetcher(ingestFromDir, ingestIncludes, ingestExcludes)
		report, err := ingest.Run(ctx, fetcher, newProgress("Ingesting"))
		if report == nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		if ingestJSON {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			printReport(report)
		}
		return err
	}

	text, err := os.ReadFile(ingestTextFile)
	if err != nil {
		return fmt.Errorf("failed to read text file: %w", err)
	}

	doc := domain.Document{Title: ingestTitle, Text: string(text), URL: ingestURL}
	if doc.URL == "" {
		if doc.URL, err = fileURL(ingestTextFile); err != nil {
			return err
		}
	}
	if doc.Title == "" {
		doc.Title = filepath.Base(ingestTextFile)
	}
	for _, img := range ingestImages {
		if _, err := os.Stat(img); err != nil {
			return fmt.Errorf("image %s: %w", img, err)
		}
		u, err := fileURL(img)
		if err != nil {
			return err
		}
		abs, _ := filepath.Abs(img)
		doc.Images = append(doc.Images, domain.ImageAsset{URL: u, LocalPath: abs})
	}

	out := ingest.IngestDocument(ctx, doc)
	if ingestJSON {
		return printJSON(out)
	}

	status := color.GreenString(string(out.Status))
	if out.Status != domain.OutcomeStored {
		status = color.RedString(string(out.Status))
	}
	fmt.Printf("%s: %s (%d/%d chunks, %d images)\n", doc.Title, status, out.ChunksStored, out.ChunkTotal, out.ImagesStored)
	for _, it := range out.Items {
		if it.Error != "" {
			fmt.Printf("  - %s %d: %s\n", it.Kind, it.Index, it.Error)
		}
	}
	if out.Error != "" {
		return errors.New(out.Error)
	}
	return nil
}
