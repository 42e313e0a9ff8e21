package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/skao/dataproduct-api/pkg/types"
)

// DefaultDataStore tags products ingested by this service.
const DefaultDataStore = "dpd"

// LoadFile reads and parses a metadata document from a YAML file on the
// volume. productPath and metadataPath are the storage-relative paths
// recorded on the resulting record; the product path doubles as the
// identity key on re-index.
func LoadFile(absPath, productPath, metadataPath string) (*types.DataProductMetadata, error) {
	raw, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: metadata file %s", types.ErrNotFound, absPath)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", types.ErrParse, absPath, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", types.ErrParse, absPath, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s is empty", types.ErrParse, absPath)
	}

	return build(doc, productPath, metadataPath)
}

// FromDocument builds a record from an already-decoded document, the
// entry point for metadata posted as JSON. Such products usually have
// no backing directory; if the document names one under
// "dataproduct_file" it is used as the identity key.
func FromDocument(doc map[string]any) (*types.DataProductMetadata, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: document is empty", types.ErrValidation)
	}
	productPath, _ := doc["dataproduct_file"].(string)
	metadataPath, _ := doc["metadata_file"].(string)
	return build(doc, productPath, metadataPath)
}

func build(doc map[string]any, productPath, metadataPath string) (*types.DataProductMetadata, error) {
	eb, ok := doc["execution_block"].(string)
	if !ok || eb == "" {
		return nil, fmt.Errorf("%w: missing required section execution_block", types.ErrValidation)
	}

	hash, err := Hash(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing document: %v", types.ErrParse, err)
	}

	rec := &types.DataProductMetadata{
		ExecutionBlock:  eb,
		ContentHash:     hash,
		Document:        doc,
		DateCreated:     dateCreated(doc, eb),
		DataProductFile: productPath,
		MetadataFile:    metadataPath,
		DataStore:       DefaultDataStore,
	}

	if productPath != "" {
		rec.UID = DeriveUID(eb, productPath)
	} else {
		rec.UID = uuid.New()
	}

	rec.FlattenedFields = FlattenedRecord(rec)
	return rec, nil
}

// FlattenedRecord flattens the document and appends the derived core
// fields so the search index can match on them like any other key. The
// relational store uses it to rebuild records loaded from rows.
func FlattenedRecord(rec *types.DataProductMetadata) map[string]any {
	flat := Flatten(rec.Document)
	flat["uid"] = rec.UID.String()
	flat["execution_block"] = rec.ExecutionBlock
	flat["date_created"] = rec.DateCreated
	flat["dataproduct_file"] = rec.DataProductFile
	flat["metadata_file"] = rec.MetadataFile
	flat["data_store"] = rec.DataStore
	return flat
}

// Flatten turns a nested document into dotted-key scalars. Objects
// contribute dotted paths, array elements index-suffixed paths, nil
// values are dropped. Unknown fields flatten as-is, which is what lets
// the schema evolve without parser changes.
func Flatten(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]any, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flattenInto(out, joinKey(prefix, k), child)
		}
	case []any:
		for i, child := range val {
			flattenInto(out, joinKey(prefix, strconv.Itoa(i)), child)
		}
	case nil:
		// skipped, matching the dashboard's grid loader
	default:
		out[prefix] = val
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Hash returns the SHA-256 hex digest of the canonical JSON
// serialization of doc. encoding/json writes map keys in sorted order,
// so two documents differing only in key order hash identically.
func Hash(doc map[string]any) (string, error) {
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// DeriveUID folds the SHA-256 of "executionBlock:path" into a UUID.
// The path is unique and stable on the volume, so the uid survives
// re-index cycles as long as the product directory is untouched.
func DeriveUID(executionBlock, path string) uuid.UUID {
	sum := sha256.Sum256([]byte(executionBlock + ":" + path))
	var id uuid.UUID
	copy(id[:], sum[:16])
	return id
}

// dateCreated resolves the record date: an explicit date_created field
// wins, then the datetime segment of an execution block named
// type-generatorID-YYYYMMDD-localSeq, then the epoch fallback so
// malformed products still list on the dashboard.
func dateCreated(doc map[string]any, executionBlock string) string {
	if v, ok := doc["date_created"].(string); ok {
		if _, err := time.Parse("2006-01-02", v); err == nil {
			return v
		}
	}

	parts := strings.Split(executionBlock, "-")
	if len(parts) >= 3 {
		if t, err := time.Parse("20060102", parts[2]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return types.DefaultDate
}
