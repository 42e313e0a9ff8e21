package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skao/dataproduct-api/internal/metadata"
	"github.com/skao/dataproduct-api/pkg/types"
)

func setupSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(SQLiteDriverName, ":memory:", DialectSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testRecord builds a record the way ingestion does, through the
// metadata package, so identity derivation matches production.
func testRecord(t *testing.T, eb, path string, extra map[string]any) *types.DataProductMetadata {
	t.Helper()
	doc := map[string]any{"execution_block": eb}
	for k, v := range extra {
		doc[k] = v
	}
	if path != "" {
		doc["dataproduct_file"] = path
	}
	rec, err := metadata.FromDocument(doc)
	require.NoError(t, err)
	return rec
}

// testRecordAtPath builds a record the way a volume scan does: the
// document itself carries no path, so two directories holding the same
// metadata content share a content hash but not an identity.
func testRecordAtPath(t *testing.T, eb, path string, extra map[string]any) *types.DataProductMetadata {
	t.Helper()
	doc := map[string]any{"execution_block": eb}
	for k, v := range extra {
		doc[k] = v
	}
	rec, err := metadata.FromDocument(doc)
	require.NoError(t, err)
	rec.DataProductFile = path
	rec.MetadataFile = path + "/ska-data-product.yaml"
	rec.UID = metadata.DeriveUID(eb, path)
	rec.FlattenedFields = metadata.FlattenedRecord(rec)
	return rec
}

// eachStore runs a contract test against both store variants.
func eachStore(t *testing.T, fn func(t *testing.T, s MetadataStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, setupSQLiteStore(t))
	})
}

func TestUpsertProductCreate(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		rec := testRecord(t, "eb-m001-20230411-54321", "eb-m001-20230411-54321/product", nil)

		uid, outcome, err := s.UpsertProduct(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeCreated, outcome)
		assert.Equal(t, rec.UID, uid)

		got, err := s.GetProduct(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, "eb-m001-20230411-54321", got.ExecutionBlock)
		assert.Equal(t, "2023-04-11", got.DateCreated)
		assert.Equal(t, rec.ContentHash, got.ContentHash)
		assert.Equal(t, "eb-m001-20230411-54321", got.FlattenedFields["execution_block"])
	})
}

func TestUpsertProductUnchanged(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		rec := testRecord(t, "eb-m001-20230411-54321", "eb-m001-20230411-54321/product", nil)

		uid1, _, err := s.UpsertProduct(ctx, rec)
		require.NoError(t, err)

		again := testRecord(t, "eb-m001-20230411-54321", "eb-m001-20230411-54321/product", nil)
		uid2, outcome, err := s.UpsertProduct(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeUnchanged, outcome)
		assert.Equal(t, uid1, uid2)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestUpsertProductUpdateKeepsUID(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		path := "eb-m001-20230411-54321/product"
		rec := testRecord(t, "eb-m001-20230411-54321", path, map[string]any{"config": map[string]any{"version": "1.0"}})

		uid1, _, err := s.UpsertProduct(ctx, rec)
		require.NoError(t, err)

		changed := testRecord(t, "eb-m001-20230411-54321", path, map[string]any{"config": map[string]any{"version": "2.0"}})
		uid2, outcome, err := s.UpsertProduct(ctx, changed)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeUpdated, outcome)
		assert.Equal(t, uid1, uid2, "uid must survive metadata edits")

		got, err := s.GetProduct(ctx, uid1)
		require.NoError(t, err)
		assert.Equal(t, changed.ContentHash, got.ContentHash)
		assert.Equal(t, "2.0", got.FlattenedFields["config.version"])
	})
}

func TestUpsertPathlessIdentityByHash(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		rec := testRecord(t, "eb-notebook-20240102-00001", "", map[string]any{"notes": "ad hoc"})

		uid1, outcome, err := s.UpsertProduct(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeCreated, outcome)

		// Same document again: identity resolves through the content hash
		// even though each FromDocument call mints a fresh uid.
		again := testRecord(t, "eb-notebook-20240102-00001", "", map[string]any{"notes": "ad hoc"})
		uid2, outcome, err := s.UpsertProduct(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeUnchanged, outcome)
		assert.Equal(t, uid1, uid2)
	})
}

func TestUpsertDuplicateContentDistinctPaths(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		a := testRecordAtPath(t, "eb-m001-20230411-00001", "eb-m001-20230411-00001/vis", nil)
		b := testRecordAtPath(t, "eb-m001-20230411-00001", "eb-m001-20230411-00001/vis-copy", nil)
		require.Equal(t, a.ContentHash, b.ContentHash)

		uidA, outcomeA, err := s.UpsertProduct(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeCreated, outcomeA)

		uidB, outcomeB, err := s.UpsertProduct(ctx, b)
		require.NoError(t, err, "a copied product directory must not collide")
		assert.Equal(t, types.OutcomeCreated, outcomeB)
		assert.NotEqual(t, uidA, uidB)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestPathlessDistinctFromPathRecord(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		onVolume := testRecordAtPath(t, "eb-m001-20230411-00001", "eb-m001-20230411-00001/vis", nil)
		posted := testRecord(t, "eb-m001-20230411-00001", "", nil)
		require.Equal(t, onVolume.ContentHash, posted.ContentHash)

		_, _, err := s.UpsertProduct(ctx, onVolume)
		require.NoError(t, err)

		uid, outcome, err := s.UpsertProduct(ctx, posted)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeCreated, outcome, "hash identity only spans pathless records")
		assert.NotEqual(t, onVolume.UID, uid)
	})
}

func TestUpdateRecomputesFlattenedUID(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		path := "eb-m001-20230411-00001/vis"
		first := testRecordAtPath(t, "eb-m001-20230411-00001", path, nil)
		uid, _, err := s.UpsertProduct(ctx, first)
		require.NoError(t, err)

		second := testRecordAtPath(t, "eb-m001-20230411-00001", path, map[string]any{"config": "v2"})
		second.UID = uuid.New()
		second.FlattenedFields = metadata.FlattenedRecord(second)

		kept, outcome, err := s.UpsertProduct(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, types.OutcomeUpdated, outcome)
		assert.Equal(t, uid, kept)

		got, err := s.GetProduct(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, uid.String(), got.FlattenedFields["uid"],
			"flattened uid must track the retained identity")
	})
}

func TestGetProductNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		_, err := s.GetProduct(context.Background(), uuid.New())
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestReindexSweepsUntouched(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		keep := testRecord(t, "eb-m001-20230411-00001", "eb-m001-20230411-00001/product", nil)
		gone := testRecord(t, "eb-m001-20230411-00002", "eb-m001-20230411-00002/product", nil)

		_, _, err := s.UpsertProduct(ctx, keep)
		require.NoError(t, err)
		goneUID, _, err := s.UpsertProduct(ctx, gone)
		require.NoError(t, err)

		require.NoError(t, s.BeginReindex(ctx))
		_, _, err = s.UpsertProduct(ctx, testRecord(t, "eb-m001-20230411-00001", "eb-m001-20230411-00001/product", nil))
		require.NoError(t, err)

		swept, err := s.CompleteReindex(ctx)
		require.NoError(t, err)
		require.Len(t, swept, 1)
		assert.Equal(t, goneUID, swept[0])

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.GetProduct(ctx, goneUID)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestReindexRecordsVisibleMidScan(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		rec := testRecord(t, "eb-m001-20230411-00001", "eb-m001-20230411-00001/product", nil)
		uid, _, err := s.UpsertProduct(ctx, rec)
		require.NoError(t, err)

		require.NoError(t, s.BeginReindex(ctx))

		// Between begin and complete the old record still reads back.
		got, err := s.GetProduct(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, uid, got.UID)
	})
}

func TestListProducts(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			eb := fmt.Sprintf("eb-m001-20230411-%05d", i)
			_, _, err := s.UpsertProduct(ctx, testRecord(t, eb, eb+"/product", nil))
			require.NoError(t, err)
		}
		list, err := s.ListProducts(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})
}

func TestMemoryStoreAnnotationsUnavailable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.UpsertAnnotation(ctx, &types.Annotation{
		DataProductUID:    uuid.New().String(),
		AnnotationText:    "note",
		UserPrincipalName: "user@skao.int",
	})
	assert.ErrorIs(t, err, types.ErrAnnotationsUnavailable)

	_, err = s.GetAnnotations(ctx, uuid.New().String())
	assert.ErrorIs(t, err, types.ErrAnnotationsUnavailable)

	status := s.Status(ctx)
	assert.False(t, status.SupportsAnnotations)
}

func TestSQLStoreAnnotationLifecycle(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()
	productUID := uuid.New().String()

	a := &types.Annotation{
		DataProductUID:    productUID,
		AnnotationText:    "first light inspection",
		UserPrincipalName: "observer@skao.int",
	}
	id, err := s.UpsertAnnotation(ctx, a)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.GetAnnotation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first light inspection", got.AnnotationText)
	assert.Equal(t, productUID, got.DataProductUID)

	a.AnnotationText = "first light inspection, revised"
	id2, err := s.UpsertAnnotation(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	list, err := s.GetAnnotations(ctx, productUID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "first light inspection, revised", list[0].AnnotationText)
}

func TestSQLStoreAnnotationUpdateMissing(t *testing.T) {
	s := setupSQLiteStore(t)
	_, err := s.UpsertAnnotation(context.Background(), &types.Annotation{
		AnnotationID:      9999,
		DataProductUID:    uuid.New().String(),
		AnnotationText:    "orphan",
		UserPrincipalName: "user@skao.int",
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSQLStoreStatus(t *testing.T) {
	s := setupSQLiteStore(t)
	ctx := context.Background()
	_, _, err := s.UpsertProduct(ctx, testRecord(t, "eb-m001-20230411-00001", "eb-m001-20230411-00001/product", nil))
	require.NoError(t, err)

	status := s.Status(ctx)
	assert.True(t, status.Running)
	assert.True(t, status.SupportsAnnotations)
	assert.Equal(t, 1, status.ProductCount)
	assert.Contains(t, status.StoreType, "SQLite")
}

func TestUpsertProductInvalid(t *testing.T) {
	eachStore(t, func(t *testing.T, s MetadataStore) {
		_, _, err := s.UpsertProduct(context.Background(), &types.DataProductMetadata{})
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestMigrationsIdempotent(t *testing.T) {
	s := setupSQLiteStore(t)
	err := ApplyMigrations(context.Background(), s.db, DialectSQLite)
	require.NoError(t, err)

	var n int
	err = s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, len(AllMigrations), n)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("etcd", "", zerolog.Nop())
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrStoreUnavailable))
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(BackendMemory, "", zerolog.Nop())
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
}

func TestOpenPostgresFallsBack(t *testing.T) {
	s, err := Open(BackendPostgres, "postgres://nobody@127.0.0.1:1/none?connect_timeout=1", zerolog.Nop())
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok, "unreachable postgres should degrade to memory")
}
