package rag

import (
	"context"
)

// QueryService answers retrieval queries as plain JSON-shaped maps, shared
// by the HTTP handler and the rag.query tool. Unless opted out, each query
// first runs the lazy auto-index check so a fresh collection serves content
// without an explicit indexing call.
type QueryService struct {
	engine  *Engine
	indexer *Indexer
}

// NewQueryService wires the facade over an engine and its indexer.
func NewQueryService(engine *Engine, indexer *Indexer) *QueryService {
	return &QueryService{engine: engine, indexer: indexer}
}

// QueryOptions tunes one retrieval query.
type QueryOptions struct {
	TopK    int
	Filters map[string]interface{}
	// AutoIndex runs the under-threshold indexing check before searching.
	AutoIndex bool
	// SnippetChars overrides the configured snippet length; <= 0 keeps it.
	SnippetChars int
}

// Query satisfies the rag.query tool contract.
func (s *QueryService) Query(ctx context.Context, query string, topK int) (interface{}, error) {
	return s.QueryWithOptions(ctx, query, QueryOptions{TopK: topK, AutoIndex: true})
}

// QueryWithOptions runs one hybrid query and shapes the response for the
// wire: query and snippet-truncated hits at the top level, tuning and the
// auto-index outcome under meta.
func (s *QueryService) QueryWithOptions(ctx context.Context, query string, opts QueryOptions) (map[string]interface{}, error) {
	cfg := s.engine.Config()
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.SnippetChars <= 0 {
		opts.SnippetChars = cfg.SnippetChars
	}

	meta := map[string]interface{}{
		"top_k":         opts.TopK,
		"fusion":        cfg.Fusion,
		"snippet_chars": opts.SnippetChars,
	}
	if opts.AutoIndex {
		meta["auto_index"] = s.indexer.MaybeAutoIndex(ctx, cfg.DocsRoot, cfg.Docset, cfg.AutoIndexThreshold)
	}

	hits, err := s.engine.Search(ctx, query, opts.TopK, opts.Filters)
	if err != nil {
		return nil, err
	}

	shaped := make([]interface{}, 0, len(hits))
	for _, h := range hits {
		item := map[string]interface{}{
			"id":           h.ID,
			"score":        h.Score,
			"vector_score": h.VectorScore,
			"bm25_score":   h.BM25Score,
			"text":         Snippet(h.Text, opts.SnippetChars),
			"source":       h.Source,
		}
		if hp, ok := h.Payload["heading_path"]; ok {
			item["heading_path"] = hp
		}
		shaped = append(shaped, item)
	}
	meta["count"] = len(shaped)

	return map[string]interface{}{
		"query": query,
		"hits":  shaped,
		"meta":  meta,
	}, nil
}
