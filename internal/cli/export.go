package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mmrag/internal/domain"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump stored records as JSON lines",
	Long: `Dump stored records of one type as JSON lines, one record per line.

Examples:
  mmrag export --type chat
  mmrag export --type article --limit 50 -o articles.jsonl
  mmrag export --type image --vectors`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	exportType    string
	exportLimit   int
	exportOut     string
	exportVectors bool
)

func init() {
	exportCmd.Flags().StringVar(&exportType, "type", "article", "record type: article, image or chat")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "maximum records (default store scan limit)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportVectors, "vectors", false, "include embedding vectors")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	typ, err := domain.ParseRecordType(exportType)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	collection := a.cfg.Store.Collection
	if typ == domain.TypeImage {
		collection = a.cfg.Store.ImageCollection
	}
	limit := exportLimit
	if limit <= 0 {
		limit = a.cfg.Store.ScanLimit
	}

	ctx := context.Background()
	if err := a.store.EnsureCollection(ctx, collection, a.cfg.Store.Dimension); err != nil {
		return err
	}
	recs, err := a.store.ScanByType(ctx, collection, typ, limit)
	if err != nil {
		return fmt.Errorf("scan %s: %w", typ, err)
	}

	var w io.Writer = os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)

	if err := writeRecords(bw, recs, exportVectors); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if exportOut != "" {
		fmt.Fprintf(os.Stderr, "Exported %d %s records to %s\n", len(recs), typ, exportOut)
	}
	return nil
}

func writeRecords(w io.Writer, recs []domain.Record, vectors bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range recs {
		line := r.Payload()
		line["id"] = r.ID
		if vectors {
			line["vector"] = r.Vector
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
