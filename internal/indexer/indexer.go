// Package indexer drives re-index cycles: scan the volume, parse every
// metadata file, upsert the store and the derived search index, then
// sweep records whose files disappeared. One cycle runs at a time;
// concurrent requests coalesce onto the running one.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/skao/dataproduct-api/internal/metadata"
	"github.com/skao/dataproduct-api/internal/metrics"
	"github.com/skao/dataproduct-api/internal/scanner"
	"github.com/skao/dataproduct-api/internal/search"
	"github.com/skao/dataproduct-api/internal/store"
	"github.com/skao/dataproduct-api/pkg/types"
)

// Engine owns the index state machine (Idle -> Indexing -> Idle).
type Engine struct {
	scanner *scanner.Scanner
	store   store.MetadataStore
	search  *search.Engine
	metrics *metrics.Metrics
	log     zerolog.Logger

	// busy is the cycle guard: 0 idle, 1 running. CAS keeps exactly one
	// cycle in flight without blocking the callers that lose the race.
	busy atomic.Int32

	mu    sync.Mutex
	state types.IndexState
}

// New creates an indexing engine over the given volume and stores.
func New(sc *scanner.Scanner, st store.MetadataStore, se *search.Engine, m *metrics.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		scanner: sc,
		store:   st,
		search:  se,
		metrics: m,
		log:     log.With().Str("component", "indexer").Logger(),
	}
}

// State returns a snapshot of the current index state.
func (e *Engine) State() types.IndexState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reindex runs one full cycle. If a cycle is already running the call
// coalesces: it returns the running cycle's state and started=false
// without scanning anything.
func (e *Engine) Reindex(ctx context.Context) (types.IndexState, bool) {
	if !e.busy.CompareAndSwap(0, 1) {
		e.log.Debug().Msg("reindex already in progress, coalescing")
		return e.State(), false
	}
	defer e.busy.Store(0)

	start := time.Now()
	e.mu.Lock()
	e.state.Indexing = true
	e.state.IndexStartedAt = start
	e.mu.Unlock()

	err := e.runCycle(ctx)

	finish := time.Now()
	e.mu.Lock()
	e.state.Indexing = false
	e.state.IndexFinishedAt = finish
	e.state.LastDuration = finish.Sub(start)
	if err == nil {
		if n, cerr := e.store.Count(ctx); cerr == nil {
			e.state.ProductCount = n
		}
	}
	snapshot := e.state
	e.mu.Unlock()

	status := "success"
	if err != nil {
		status = "failure"
		e.log.Error().Err(err).Msg("reindex cycle failed")
	} else {
		e.log.Info().
			Int("products", snapshot.ProductCount).
			Dur("duration", snapshot.LastDuration).
			Msg("reindex cycle complete")
	}
	e.metrics.RecordIndexCycle(status, snapshot.LastDuration, snapshot.ProductCount)
	return snapshot, true
}

func (e *Engine) runCycle(ctx context.Context) error {
	if err := e.store.BeginReindex(ctx); err != nil {
		return fmt.Errorf("failed to begin reindex: %w", err)
	}

	candidates, err := e.scanner.Scan(ctx)
	if err != nil {
		// The sweep must not run after a failed scan or every record
		// would be collected.
		return fmt.Errorf("failed to scan volume: %w", err)
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := metadata.LoadFile(c.AbsMetadataPath, c.ProductDir, c.MetadataPath)
		if err != nil {
			e.log.Warn().Err(err).Str("path", c.MetadataPath).Msg("skipping unparseable metadata file")
			continue
		}
		if err := e.upsert(ctx, rec); err != nil {
			// A bad candidate is that candidate's problem. Only losing
			// the store aborts the cycle, so the sweep still runs.
			if errors.Is(err, types.ErrConstraintViolation) || errors.Is(err, types.ErrValidation) {
				e.log.Warn().Err(err).Str("path", c.MetadataPath).Msg("skipping conflicting data product")
				continue
			}
			return err
		}
	}

	swept, err := e.store.CompleteReindex(ctx)
	if err != nil {
		return fmt.Errorf("failed to complete reindex: %w", err)
	}
	if len(swept) > 0 {
		e.search.Remove(swept)
		e.log.Info().Int("count", len(swept)).Msg("swept vanished data products")
	}
	return nil
}

// upsert writes one record to the store and mirrors the stored identity
// into the search index.
func (e *Engine) upsert(ctx context.Context, rec *types.DataProductMetadata) error {
	uid, outcome, err := e.store.UpsertProduct(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.ExecutionBlock, err)
	}
	if uid != rec.UID {
		// Update kept the stored uid; the flattened view must match.
		rec.UID = uid
		rec.FlattenedFields = metadata.FlattenedRecord(rec)
	}
	e.search.Upsert(rec)

	if outcome != types.OutcomeUnchanged {
		e.log.Debug().
			Str("uid", uid.String()).
			Str("execution_block", rec.ExecutionBlock).
			Str("outcome", string(outcome)).
			Msg("indexed data product")
	}
	return nil
}

// IndexProduct pushes a single already-parsed record through the same
// store-then-search path a full cycle uses. The ingestion reconciler
// calls it for single-product ingests between cycles.
func (e *Engine) IndexProduct(ctx context.Context, rec *types.DataProductMetadata) (types.IngestResult, error) {
	uid, outcome, err := e.store.UpsertProduct(ctx, rec)
	if err != nil {
		return types.IngestResult{}, err
	}
	if uid != rec.UID {
		rec.UID = uid
		rec.FlattenedFields = metadata.FlattenedRecord(rec)
	}
	e.search.Upsert(rec)
	return types.IngestResult{UID: uid, Outcome: outcome}, nil
}
