// Package store provides the metadata store contract and its two
// variants: a process-local in-memory map and a relational store over
// database/sql (embedded SQLite or PostgreSQL). The indexing engine and
// the ingestion reconciler are the only writers; the search engine and
// status reporting read.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/skao/dataproduct-api/pkg/types"
)

// MetadataStore is the uniform contract implemented by both variants.
// All operations are safe for concurrent use; upserting one record is
// atomic from the store's perspective, so readers never observe a torn
// record. Cross-record atomicity across a whole re-index cycle is not
// guaranteed.
type MetadataStore interface {
	// UpsertProduct inserts or updates a record. Identity on re-index is
	// the dataproduct_file path; for pathless document ingests it is the
	// content hash. A matching identity with an identical hash is a
	// no-op returning the stored uid and OutcomeUnchanged; a differing
	// hash updates in place keeping the stored uid.
	UpsertProduct(ctx context.Context, rec *types.DataProductMetadata) (uuid.UUID, types.IngestOutcome, error)

	GetProduct(ctx context.Context, uid uuid.UUID) (*types.DataProductMetadata, error)
	ListProducts(ctx context.Context) ([]*types.DataProductMetadata, error)
	Count(ctx context.Context) (int, error)

	// BeginReindex starts a fresh generation. Records not touched by an
	// upsert before the matching CompleteReindex are swept then, never
	// mid-scan. CompleteReindex returns the swept uids so the derived
	// search index can drop them too.
	BeginReindex(ctx context.Context) error
	CompleteReindex(ctx context.Context) ([]uuid.UUID, error)

	// Annotation operations. Stores without a relational backend return
	// types.ErrAnnotationsUnavailable rather than dropping the request.
	UpsertAnnotation(ctx context.Context, a *types.Annotation) (int64, error)
	GetAnnotation(ctx context.Context, annotationID int64) (*types.Annotation, error)
	GetAnnotations(ctx context.Context, dataProductUID string) ([]*types.Annotation, error)

	Status(ctx context.Context) types.StoreStatus
	Close() error
}
