// Package catalog is the service facade. It ties the volume scanner,
// the metadata store, the search engine and the indexing engine
// together and exposes the operations the REST layer serves: status,
// re-indexing, search, single-product ingestion, annotations and
// download path resolution.
package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skao/dataproduct-api/internal/indexer"
	"github.com/skao/dataproduct-api/internal/metadata"
	"github.com/skao/dataproduct-api/internal/metrics"
	"github.com/skao/dataproduct-api/internal/scanner"
	"github.com/skao/dataproduct-api/internal/search"
	"github.com/skao/dataproduct-api/internal/store"
	"github.com/skao/dataproduct-api/pkg/types"
)

// Status aggregates the health of every layer for the status endpoint.
type Status struct {
	APIRunning bool               `json:"api_running"`
	Index      types.IndexState   `json:"index"`
	Store      types.StoreStatus  `json:"store"`
	Volume     types.VolumeStatus `json:"volume"`
}

// Catalog is the data product catalog facade.
type Catalog struct {
	scanner *scanner.Scanner
	store   store.MetadataStore
	search  *search.Engine
	engine  *indexer.Engine
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New assembles the catalog.
func New(sc *scanner.Scanner, st store.MetadataStore, se *search.Engine, eng *indexer.Engine, m *metrics.Metrics, log zerolog.Logger) *Catalog {
	return &Catalog{
		scanner: sc,
		store:   st,
		search:  se,
		engine:  eng,
		metrics: m,
		log:     log.With().Str("component", "catalog").Logger(),
	}
}

// StartReindex dispatches a re-index cycle in the background and
// returns immediately with the current index state. A cycle already in
// flight absorbs the request.
func (c *Catalog) StartReindex() types.IndexState {
	state := c.engine.State()
	if state.Indexing {
		return state
	}
	go func() {
		c.engine.Reindex(context.Background())
	}()
	return state
}

// Reindex runs a cycle synchronously. Startup and the periodic timer
// use it; HTTP handlers use StartReindex.
func (c *Catalog) Reindex(ctx context.Context) (types.IndexState, bool) {
	return c.engine.Reindex(ctx)
}

// GetStatus reports the combined service status.
func (c *Catalog) GetStatus(ctx context.Context) Status {
	return Status{
		APIRunning: true,
		Index:      c.engine.State(),
		Store:      c.store.Status(ctx),
		Volume:     c.scanner.Status(),
	}
}

// Search answers a simple date-window plus key:value query.
func (c *Catalog) Search(q types.SimpleSearchQuery, accessGroups []string) []types.FlattenedRecord {
	c.metrics.SearchQueriesTotal.Inc()
	return c.search.SimpleSearch(q, accessGroups)
}

// Filter answers a structured filter-model query.
func (c *Catalog) Filter(model types.FilterModel, sortBy types.Sort, page types.Page, accessGroups []string) ([]types.FlattenedRecord, int, error) {
	c.metrics.SearchQueriesTotal.Inc()
	return c.search.Filter(model, sortBy, page, accessGroups)
}

// FilterFields lists the fields the filter endpoint accepts.
func (c *Catalog) FilterFields() []string {
	return c.search.Fields()
}

// GetMetadata resolves an identifier (uid or execution block) to the
// full stored metadata documents. An execution block can map to several
// products.
func (c *Catalog) GetMetadata(ctx context.Context, identifier string) ([]*types.DataProductMetadata, error) {
	recs, err := c.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// IngestFromPath ingests a single product directory without a full
// re-index cycle. relDir is relative to the volume root.
func (c *Catalog) IngestFromPath(ctx context.Context, relDir string) (types.IngestResult, error) {
	cand, err := c.scanner.CheckDir(relDir)
	if err != nil {
		return types.IngestResult{}, err
	}
	rec, err := metadata.LoadFile(cand.AbsMetadataPath, cand.ProductDir, cand.MetadataPath)
	if err != nil {
		return types.IngestResult{}, err
	}
	return c.ingest(ctx, rec)
}

// IngestFromDocument ingests metadata posted as a decoded document.
func (c *Catalog) IngestFromDocument(ctx context.Context, doc map[string]any) (types.IngestResult, error) {
	rec, err := metadata.FromDocument(doc)
	if err != nil {
		return types.IngestResult{}, err
	}
	return c.ingest(ctx, rec)
}

func (c *Catalog) ingest(ctx context.Context, rec *types.DataProductMetadata) (types.IngestResult, error) {
	res, err := c.engine.IndexProduct(ctx, rec)
	if err != nil {
		return types.IngestResult{}, err
	}
	c.metrics.IngestsTotal.WithLabelValues(string(res.Outcome)).Inc()
	c.log.Info().
		Str("uid", res.UID.String()).
		Str("execution_block", rec.ExecutionBlock).
		Str("outcome", string(res.Outcome)).
		Msg("ingested data product")
	return res, nil
}

// UpsertAnnotation stores or updates an annotation. Stores without a
// relational backend surface types.ErrAnnotationsUnavailable and the
// REST layer degrades the response.
func (c *Catalog) UpsertAnnotation(ctx context.Context, a *types.Annotation) (int64, error) {
	return c.store.UpsertAnnotation(ctx, a)
}

// GetAnnotation fetches one annotation by id.
func (c *Catalog) GetAnnotation(ctx context.Context, annotationID int64) (*types.Annotation, error) {
	return c.store.GetAnnotation(ctx, annotationID)
}

// GetAnnotations lists a product's annotations.
func (c *Catalog) GetAnnotations(ctx context.Context, dataProductUID string) ([]*types.Annotation, error) {
	return c.store.GetAnnotations(ctx, dataProductUID)
}

// GetProductFilePaths resolves an identifier to absolute product
// directories on the volume, for the download endpoint. Pathless
// document-only products are skipped.
func (c *Catalog) GetProductFilePaths(ctx context.Context, identifier string) ([]string, error) {
	recs, err := c.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, rec := range recs {
		if rec.DataProductFile == "" {
			continue
		}
		// Stored paths originate from request bodies too; a document
		// ingested with a hostile dataproduct_file must not leak files
		// from outside the volume.
		abs, err := c.scanner.Resolve(rec.DataProductFile)
		if err != nil {
			c.log.Warn().Err(err).Str("uid", rec.UID.String()).Msg("ignoring product path outside the volume")
			continue
		}
		paths = append(paths, abs)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files on volume for %s", types.ErrNotFound, identifier)
	}
	return paths, nil
}

// FolderDetails reports size on disk and latest modification time for
// one product's directory tree.
func (c *Catalog) FolderDetails(ctx context.Context, identifier string) (scanner.Details, error) {
	paths, err := c.GetProductFilePaths(ctx, identifier)
	if err != nil {
		return scanner.Details{}, err
	}
	var cands []scanner.Candidate
	for _, p := range paths {
		rel, err := filepath.Rel(c.scanner.Root(), p)
		if err != nil {
			continue
		}
		cands = append(cands, scanner.Candidate{ProductDir: rel})
	}
	details := c.scanner.LoadDetails(ctx, cands)

	var total scanner.Details
	for _, d := range details {
		total.SizeOnDisk += d.SizeOnDisk
		if d.LatestModified.After(total.LatestModified) {
			total.LatestModified = d.LatestModified
		}
	}
	return total, nil
}

// resolve maps a uid or an execution block to stored records.
func (c *Catalog) resolve(ctx context.Context, identifier string) ([]*types.DataProductMetadata, error) {
	if uid, err := uuid.Parse(identifier); err == nil {
		rec, err := c.store.GetProduct(ctx, uid)
		if err != nil {
			return nil, err
		}
		return []*types.DataProductMetadata{rec}, nil
	}

	all, err := c.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.DataProductMetadata
	for _, rec := range all {
		if rec.ExecutionBlock == identifier {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: data product %s", types.ErrNotFound, identifier)
	}
	return out, nil
}
