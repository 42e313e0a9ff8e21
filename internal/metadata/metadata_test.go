package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skao/dataproduct-api/pkg/types"
)

func writeTempMetadata(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ska-data-product.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeTempMetadata(t, `
execution_block: eb-m001-20230411-54321
context:
  observer: A. Observer
obscore:
  instrument_name: SKA-LOW
`)

	rec, err := LoadFile(path, "product/eb-m001", "product/eb-m001/ska-data-product.yaml")
	require.NoError(t, err)

	assert.Equal(t, "eb-m001-20230411-54321", rec.ExecutionBlock)
	assert.Equal(t, "2023-04-11", rec.DateCreated)
	assert.Equal(t, "product/eb-m001", rec.DataProductFile)
	assert.NotEmpty(t, rec.ContentHash)
	assert.Equal(t, "SKA-LOW", rec.FlattenedFields["obscore.instrument_name"])
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("/no/such/file.yaml", "", "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeTempMetadata(t, "interferometer: [\n")
	_, err := LoadFile(path, "p", "p/f")
	assert.ErrorIs(t, err, types.ErrParse)
}

func TestFromDocument_MissingExecutionBlock(t *testing.T) {
	_, err := FromDocument(map[string]any{"context": map[string]any{}})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestFlatten(t *testing.T) {
	flat := Flatten(map[string]any{
		"obscore": map[string]any{"instrument_name": "SKA-LOW"},
		"files": []any{
			map[string]any{"path": "vis.ms", "size": 42},
			map[string]any{"path": "cal.ms"},
		},
		"empty": nil,
	})

	assert.Equal(t, "SKA-LOW", flat["obscore.instrument_name"])
	assert.Equal(t, "vis.ms", flat["files.0.path"])
	assert.Equal(t, 42, flat["files.0.size"])
	assert.Equal(t, "cal.ms", flat["files.1.path"])
	assert.NotContains(t, flat, "empty")
}

func TestHash_KeyOrderInvariant(t *testing.T) {
	a := map[string]any{"x": 1, "y": map[string]any{"a": "b", "c": "d"}}
	b := map[string]any{"y": map[string]any{"c": "d", "a": "b"}, "x": 1}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_ValueSensitive(t *testing.T) {
	ha, err := Hash(map[string]any{"x": 1})
	require.NoError(t, err)
	hb, err := Hash(map[string]any{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestDeriveUID_Stable(t *testing.T) {
	a := DeriveUID("eb-1", "product/eb-1")
	b := DeriveUID("eb-1", "product/eb-1")
	c := DeriveUID("eb-1", "product/other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDateCreated_Fallback(t *testing.T) {
	rec, err := FromDocument(map[string]any{"execution_block": "malformed"})
	require.NoError(t, err)
	assert.Equal(t, types.DefaultDate, rec.DateCreated)
}
