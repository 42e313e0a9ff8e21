package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skao/dataproduct-api/internal/metadata"
	"github.com/skao/dataproduct-api/pkg/types"
)

// MemoryStore is the process-local fallback store: a map keyed by uid
// with path and hash secondary indexes. It never reports
// ErrStoreUnavailable and cannot persist annotations.
type MemoryStore struct {
	mu sync.RWMutex

	products map[uuid.UUID]*memoryEntry
	byPath   map[string]uuid.UUID
	byHash   map[string]uuid.UUID

	generation   int64
	lastModified time.Time
}

// memoryEntry tags each record with the generation that last touched
// it. Stored records are treated as immutable; updates replace the
// pointer wholesale so concurrent readers never see a partial record.
type memoryEntry struct {
	rec        *types.DataProductMetadata
	generation int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[uuid.UUID]*memoryEntry),
		byPath:   make(map[string]uuid.UUID),
		byHash:   make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) UpsertProduct(_ context.Context, rec *types.DataProductMetadata) (uuid.UUID, types.IngestOutcome, error) {
	if err := rec.Validate(); err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.lookup(rec)
	if ok {
		entry := s.products[existing]
		if entry.rec.ContentHash == rec.ContentHash {
			entry.generation = s.generation
			return existing, types.OutcomeUnchanged, nil
		}

		updated := *rec
		updated.UID = existing
		// The flattened view carries the uid as a searchable field and
		// must reflect the retained one, not the caller's.
		updated.FlattenedFields = metadata.FlattenedRecord(&updated)
		s.products[existing] = &memoryEntry{rec: &updated, generation: s.generation}
		if updated.DataProductFile != "" {
			s.byPath[updated.DataProductFile] = existing
		} else {
			delete(s.byHash, entry.rec.ContentHash)
			s.byHash[updated.ContentHash] = existing
		}
		s.lastModified = time.Now()
		return existing, types.OutcomeUpdated, nil
	}

	if _, dup := s.products[rec.UID]; dup {
		return uuid.Nil, "", fmt.Errorf("%w: uid %s already present", types.ErrConstraintViolation, rec.UID)
	}

	inserted := *rec
	s.products[inserted.UID] = &memoryEntry{rec: &inserted, generation: s.generation}
	if inserted.DataProductFile != "" {
		s.byPath[inserted.DataProductFile] = inserted.UID
	} else {
		s.byHash[inserted.ContentHash] = inserted.UID
	}
	s.lastModified = time.Now()
	return inserted.UID, types.OutcomeCreated, nil
}

// lookup resolves the identity key: path-born records by volume path,
// pathless document ingests by content hash among pathless records
// only. Duplicate content at two paths stays two records. Caller holds
// the lock.
func (s *MemoryStore) lookup(rec *types.DataProductMetadata) (uuid.UUID, bool) {
	if rec.DataProductFile != "" {
		uid, ok := s.byPath[rec.DataProductFile]
		return uid, ok
	}
	uid, ok := s.byHash[rec.ContentHash]
	return uid, ok
}

func (s *MemoryStore) GetProduct(_ context.Context, uid uuid.UUID) (*types.DataProductMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.products[uid]
	if !ok {
		return nil, fmt.Errorf("%w: data product %s", types.ErrNotFound, uid)
	}
	return entry.rec, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]*types.DataProductMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.DataProductMetadata, 0, len(s.products))
	for _, entry := range s.products {
		out = append(out, entry.rec)
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}

func (s *MemoryStore) BeginReindex(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return nil
}

func (s *MemoryStore) CompleteReindex(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept []uuid.UUID
	for uid, entry := range s.products {
		if entry.generation < s.generation {
			swept = append(swept, uid)
			delete(s.products, uid)
			if entry.rec.DataProductFile != "" {
				delete(s.byPath, entry.rec.DataProductFile)
			} else {
				delete(s.byHash, entry.rec.ContentHash)
			}
		}
	}
	if len(swept) > 0 {
		s.lastModified = time.Now()
	}
	return swept, nil
}

// Annotations need a relational backend; the caller degrades the
// response instead of failing the request.

func (s *MemoryStore) UpsertAnnotation(context.Context, *types.Annotation) (int64, error) {
	return 0, types.ErrAnnotationsUnavailable
}

func (s *MemoryStore) GetAnnotation(context.Context, int64) (*types.Annotation, error) {
	return nil, types.ErrAnnotationsUnavailable
}

func (s *MemoryStore) GetAnnotations(context.Context, string) ([]*types.Annotation, error) {
	return nil, types.ErrAnnotationsUnavailable
}

func (s *MemoryStore) Status(_ context.Context) types.StoreStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.StoreStatus{
		StoreType:           "in-memory volume index metadata store",
		Running:             true,
		ProductCount:        len(s.products),
		SupportsAnnotations: false,
		LastModified:        s.lastModified,
	}
}

func (s *MemoryStore) Close() error { return nil }
