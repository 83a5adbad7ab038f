package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rihoka/tachiserve/internal/archive"
	"github.com/rihoka/tachiserve/internal/library"
	"github.com/rihoka/tachiserve/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Index the library and serve it over HTTP",
	Long: `Serve walks the library root once, builds the catalogue in memory, and
serves it until interrupted. The filesystem is treated as a snapshot:
changes on disk become visible after POST /v1/reindex, never spontaneously.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()

		archives := archive.NewCache(cfg.VerifyChecksums)
		store, err := library.NewStore(cfg.Library, archives)
		if err != nil {
			return fmt.Errorf("indexing library: %w", err)
		}

		slog.Info("startup index complete",
			"mangas", store.Catalogue().Len(),
			"elapsed", time.Since(start).Round(time.Millisecond))

		srv, err := server.New(store, archives)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return srv.ListenAndServe(ctx, cfg.Addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
