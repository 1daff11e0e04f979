package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDocs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	docs := map[string]string{
		"hr.md":    "# HR\n\n## 휴가\n\n연차는 입사일 기준으로 부여됩니다.\n",
		"infra.md": "# 인프라\n\nQdrant는 6334 포트에서 gRPC를 받습니다.\n",
	}
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func TestIndexer_IndexUpsertsChunks(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, &fakeEmbedder{dim: 4}, ragTestConfig())
	ix := NewIndexer(engine)

	result, err := ix.Index(context.Background(), IndexOptions{
		DocsRoot: writeDocs(t),
		Docset:   "docs",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.IndexedFiles)
	assert.Equal(t, result.IndexedChunks, len(store.upserted))
	assert.NotEmpty(t, store.upserted)
	assert.Empty(t, result.Preview)
}

func TestIndexer_ReplaceDocsetDeletesBeforeUpsert(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, &fakeEmbedder{dim: 4}, ragTestConfig())
	ix := NewIndexer(engine)

	_, err := ix.Index(context.Background(), IndexOptions{
		DocsRoot:      writeDocs(t),
		Docset:        "docs",
		ReplaceDocset: true,
	})
	require.NoError(t, err)

	require.Len(t, store.deleted, 1)
	assert.Equal(t, map[string]interface{}{"docset": "docs"}, store.deleted[0])
	assert.NotEmpty(t, store.upserted)
}

func TestIndexer_PreviewWritesNothing(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, &fakeEmbedder{dim: 4}, ragTestConfig())
	ix := NewIndexer(engine)

	result, err := ix.Index(context.Background(), IndexOptions{
		DocsRoot:      writeDocs(t),
		Docset:        "docs",
		Preview:       true,
		Recreate:      true,
		ReplaceDocset: true,
	})
	require.NoError(t, err)

	// A dry run reports counts and samples but never touches the store.
	assert.Equal(t, 2, result.IndexedFiles)
	assert.NotZero(t, result.IndexedChunks)
	assert.NotEmpty(t, result.Preview)
	assert.Empty(t, store.upserted)
	assert.Empty(t, store.deleted)
	assert.Zero(t, store.recreated)
}

func TestIndexer_MissingDocsRoot(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, &fakeEmbedder{dim: 4}, ragTestConfig())
	ix := NewIndexer(engine)

	_, err := ix.Index(context.Background(), IndexOptions{
		DocsRoot: filepath.Join(t.TempDir(), "missing"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docs_root not found")
}
