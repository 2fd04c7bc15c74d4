package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"mmrag/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API on the configured address.

Endpoints:
  POST /api/query    {"query": "..."}
  POST /api/scrape   scrape and index the configured site
  POST /api/clear    delete chat history
  POST /api/chat     {"role": "...", "content": "..."}
  GET  /api/health
  GET  /metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if !strings.EqualFold(cfg.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	answers, err := a.answers()
	if err != nil {
		return err
	}
	mem, err := a.memory()
	if err != nil {
		return err
	}
	ingest, err := a.ingest()
	if err != nil {
		return err
	}
	fetcher, err := a.fetcher()
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.Server, server.Dependencies{
		Answers: answers,
		Ingest:  ingest,
		Memory:  mem,
		Fetcher: fetcher,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
