package rag

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IndexOptions controls one indexing run.
type IndexOptions struct {
	DocsRoot string
	Docset   string
	MaxFiles int
	// Recreate drops the whole collection first.
	Recreate bool
	// ReplaceDocset deletes the docset's existing points before upserting,
	// so re-indexing never accumulates duplicates. Ignored when Recreate.
	ReplaceDocset bool

	Preview              bool
	PreviewFiles         int
	PreviewChunksPerFile int
	PreviewChars         int
}

func (o *IndexOptions) setDefaults() {
	if o.Docset == "" {
		o.Docset = "docs"
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = 200
	}
	if o.PreviewFiles <= 0 {
		o.PreviewFiles = 20
	}
	if o.PreviewChunksPerFile <= 0 {
		o.PreviewChunksPerFile = 3
	}
	if o.PreviewChars <= 0 {
		o.PreviewChars = 320
	}
}

// SourcePreview summarizes the chunks produced from one source file.
type SourcePreview struct {
	Source       string        `json:"source"`
	ChunkCount   int           `json:"chunk_count"`
	SampleChunks []ChunkSample `json:"sample_chunks"`
}

// ChunkSample is a truncated look at one chunk.
type ChunkSample struct {
	Chars   int    `json:"chars"`
	Preview string `json:"preview"`
}

// IndexResult reports what an indexing run did.
type IndexResult struct {
	IndexedFiles  int             `json:"indexed_files"`
	IndexedChunks int             `json:"indexed_chunks"`
	Collection    string          `json:"collection,omitempty"`
	Preview       []SourcePreview `json:"preview,omitempty"`
}

// Indexer chunks documents under a root directory and feeds them to the
// engine.
type Indexer struct {
	engine    *Engine
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// NewIndexer builds an indexer with the engine's chunking configuration.
func NewIndexer(engine *Engine) *Indexer {
	cfg := engine.Config()
	return &Indexer{
		engine:    engine,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.ChunkOverlap,
		logger:    slog.Default(),
	}
}

// listDocFiles walks the root and returns .md and .txt files, sorted for
// deterministic chunk indices.
func listDocFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// BuildChunks chunks up to maxFiles documents under docsRoot. Sources are
// recorded as docset-relative paths so citations stay stable across hosts.
func (ix *Indexer) BuildChunks(docsRoot, docset string, maxFiles int) ([]Chunk, []string, error) {
	files, err := listDocFiles(docsRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list documents under %s: %w", docsRoot, err)
	}
	if maxFiles > 0 && len(files) > maxFiles {
		files = files[:maxFiles]
	}

	var chunks []Chunk
	for _, fp := range files {
		raw, err := os.ReadFile(fp)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", fp, err)
		}

		rel, err := filepath.Rel(docsRoot, fp)
		if err != nil {
			rel = filepath.Base(fp)
		}
		source := filepath.ToSlash(filepath.Join(docset, rel))

		markdown := strings.EqualFold(filepath.Ext(fp), ".md")
		chunks = append(chunks, ChunkDocument(string(raw), source, docset, markdown, ix.chunkSize, ix.overlap)...)
	}
	return chunks, files, nil
}

// Index runs one full indexing pass: chunk, (optionally) clear previous
// data, embed and upsert, rebuild BM25, and build the preview.
func (ix *Indexer) Index(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	opts.setDefaults()

	if _, err := os.Stat(opts.DocsRoot); err != nil {
		return nil, fmt.Errorf("docs_root not found: %s", opts.DocsRoot)
	}

	// Preview is a dry run: chunk and report, touch nothing in the store.
	if opts.Preview {
		chunks, files, err := ix.BuildChunks(opts.DocsRoot, opts.Docset, opts.MaxFiles)
		if err != nil {
			return nil, err
		}
		return &IndexResult{
			IndexedFiles:  len(files),
			IndexedChunks: len(chunks),
			Collection:    ix.engine.Store().Collection(),
			Preview:       buildPreview(chunks, opts.PreviewFiles, opts.PreviewChunksPerFile, opts.PreviewChars),
		}, nil
	}

	if opts.Recreate {
		if err := ix.engine.Store().RecreateCollection(ctx); err != nil {
			return nil, fmt.Errorf("failed to recreate collection: %w", err)
		}
		ix.engine.ClearBM25()
	}

	chunks, files, err := ix.BuildChunks(opts.DocsRoot, opts.Docset, opts.MaxFiles)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &IndexResult{Collection: ix.engine.Store().Collection()}, nil
	}

	if opts.ReplaceDocset && !opts.Recreate {
		if err := ix.engine.Store().DeleteByFilter(ctx, map[string]interface{}{"docset": opts.Docset}); err != nil {
			return nil, err
		}
	}

	if err := ix.engine.UpsertChunks(ctx, chunks); err != nil {
		return nil, err
	}

	ix.logger.Info("indexed documents",
		"docset", opts.Docset, "files", len(files), "chunks", len(chunks))

	return &IndexResult{
		IndexedFiles:  len(files),
		IndexedChunks: len(chunks),
		Collection:    ix.engine.Store().Collection(),
	}, nil
}

// AutoIndexResult reports whether a lazy index run happened.
type AutoIndexResult struct {
	AutoIndexed   bool   `json:"auto_indexed"`
	Points        int    `json:"points"`
	IndexedFiles  int    `json:"indexed_files,omitempty"`
	IndexedChunks int    `json:"indexed_chunks,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

// MaybeAutoIndex indexes the configured docs root when the collection holds
// fewer points than the threshold. Best effort; a missing docs root is a
// warning, not an error.
func (ix *Indexer) MaybeAutoIndex(ctx context.Context, docsRoot, docset string, threshold int) AutoIndexResult {
	count := ix.engine.Store().Count(ctx)
	if count >= threshold {
		return AutoIndexResult{Points: count}
	}

	if _, err := os.Stat(docsRoot); err != nil {
		return AutoIndexResult{Points: count, Warning: fmt.Sprintf("docs_root not found: %s", docsRoot)}
	}

	chunks, files, err := ix.BuildChunks(docsRoot, docset, 200)
	if err != nil {
		return AutoIndexResult{Points: count, Warning: err.Error()}
	}
	if len(chunks) > 0 {
		if err := ix.engine.UpsertChunks(ctx, chunks); err != nil {
			return AutoIndexResult{Points: count, Warning: err.Error()}
		}
	}
	return AutoIndexResult{
		AutoIndexed:   true,
		Points:        ix.engine.Store().Count(ctx),
		IndexedFiles:  len(files),
		IndexedChunks: len(chunks),
	}
}

// buildPreview groups chunk samples per source, preserving file order.
func buildPreview(chunks []Chunk, previewFiles, chunksPerFile, previewChars int) []SourcePreview {
	samples := make(map[string][]ChunkSample)
	counts := make(map[string]int)
	var order []string

	for _, ch := range chunks {
		if _, ok := samples[ch.Source]; !ok {
			samples[ch.Source] = nil
			order = append(order, ch.Source)
		}
		counts[ch.Source]++
		if len(samples[ch.Source]) < chunksPerFile {
			samples[ch.Source] = append(samples[ch.Source], ChunkSample{
				Chars:   runeLen(ch.Text),
				Preview: Snippet(ch.Text, previewChars),
			})
		}
	}

	if len(order) > previewFiles {
		order = order[:previewFiles]
	}
	out := make([]SourcePreview, 0, len(order))
	for _, src := range order {
		out = append(out, SourcePreview{
			Source:       src,
			ChunkCount:   counts[src],
			SampleChunks: samples[src],
		})
	}
	return out
}
