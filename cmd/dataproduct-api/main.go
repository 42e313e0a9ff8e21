// Command dataproduct-api serves the science data product catalog: it
// indexes metadata files on the shared product volume, keeps them
// synchronized with a metadata store and exposes the search, ingestion
// and annotation REST API used by the data product dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skao/dataproduct-api/internal/api"
	"github.com/skao/dataproduct-api/internal/catalog"
	"github.com/skao/dataproduct-api/internal/config"
	"github.com/skao/dataproduct-api/internal/indexer"
	"github.com/skao/dataproduct-api/internal/logger"
	"github.com/skao/dataproduct-api/internal/metrics"
	"github.com/skao/dataproduct-api/internal/scanner"
	"github.com/skao/dataproduct-api/internal/search"
	"github.com/skao/dataproduct-api/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "dataproduct-api: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	log.Info().
		Str("volume", cfg.Volume.Root).
		Str("backend", cfg.Store.Backend).
		Msg("starting data product catalog")

	st, err := store.Open(store.Backend(cfg.Store.Backend), cfg.Store.DSN, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("failed to close metadata store")
		}
	}()

	m := metrics.New()
	se := search.New()
	sc := scanner.New(cfg.Volume.Root, cfg.Volume.MetadataFileName, log)
	eng := indexer.New(sc, st, se, m, log)
	cat := catalog.New(sc, st, se, eng, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Populate the index at startup without delaying readiness, then
	// keep it fresh on a timer.
	go cat.Reindex(ctx)
	if cfg.Reindex.Interval > 0 {
		go periodicReindex(ctx, cat, cfg.Reindex.Interval)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := api.New(addr, cat, m, log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func periodicReindex(ctx context.Context, cat *catalog.Catalog, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cat.Reindex(ctx)
		}
	}
}
