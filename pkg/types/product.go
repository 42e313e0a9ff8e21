package types

import (
	"errors"

	"github.com/google/uuid"
)

// DefaultDate is the fallback date_created for products whose execution
// block name carries no parsable date.
const DefaultDate = "1970-01-01"

// DataProductMetadata is the normalized record derived from one metadata
// document. FlattenedFields maps dotted field paths to scalar values and
// is what the search engine evaluates queries against.
type DataProductMetadata struct {
	// Identification
	UID            uuid.UUID `json:"uid"`
	ExecutionBlock string    `json:"execution_block"`

	// ContentHash is the SHA-256 hex digest of the canonical (stably
	// key-ordered) JSON serialization of the document.
	ContentHash string `json:"content_hash"`

	// Document is the nested metadata as parsed; FlattenedFields is its
	// depth-first flattening (objects become dotted keys, array elements
	// index-suffixed keys).
	Document        map[string]any `json:"document"`
	FlattenedFields map[string]any `json:"flattened_fields"`

	// DateCreated is an ISO date (YYYY-MM-DD).
	DateCreated string `json:"date_created"`

	// Storage-relative paths. DataProductFile is empty for products
	// ingested as documents without a backing directory.
	DataProductFile string `json:"dataproduct_file"`
	MetadataFile    string `json:"metadata_file"`

	// DataStore names the origin store of the product (defaults to "dpd").
	DataStore string `json:"data_store"`
}

// Validate checks the record carries the minimum identity fields.
func (m *DataProductMetadata) Validate() error {
	if m.ExecutionBlock == "" {
		return errors.New("execution_block is required")
	}
	if m.ContentHash == "" {
		return errors.New("content_hash is required")
	}
	return nil
}

// IngestOutcome distinguishes what an upsert did with a record.
type IngestOutcome string

const (
	OutcomeCreated   IngestOutcome = "created"
	OutcomeUpdated   IngestOutcome = "updated"
	OutcomeUnchanged IngestOutcome = "unchanged"
)

// IngestResult is returned by the ingestion entry points.
type IngestResult struct {
	UID     uuid.UUID     `json:"uid"`
	Outcome IngestOutcome `json:"outcome"`
}
