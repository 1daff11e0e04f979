package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jykim-lab/maestro/pkg/config"
	"github.com/jykim-lab/maestro/pkg/databases"
	"github.com/jykim-lab/maestro/pkg/embedders"
)

// VectorStore is the slice of the vector database the engine needs.
// *databases.QdrantStore satisfies it.
type VectorStore interface {
	Collection() string
	Healthy(ctx context.Context) error
	EnsureCollection(ctx context.Context) error
	RecreateCollection(ctx context.Context) error
	Count(ctx context.Context) int
	Upsert(ctx context.Context, points []databases.Point) error
	Search(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]databases.SearchResult, error)
	ScrollPayloads(ctx context.Context, limit int) ([]databases.PayloadItem, error)
	DeleteByFilter(ctx context.Context, filter map[string]interface{}) error
}

// Hit is one fused retrieval result.
type Hit struct {
	ID          string                 `json:"id"`
	Score       float64                `json:"score"`
	VectorScore float64                `json:"vector_score"`
	BM25Score   float64                `json:"bm25_score"`
	VectorRank  int                    `json:"vector_rank,omitempty"`
	BM25Rank    int                    `json:"bm25_rank,omitempty"`
	Payload     map[string]interface{} `json:"-"`
	Source      string                 `json:"source"`
	Text        string                 `json:"text"`
}

// Engine runs hybrid retrieval: dense vector search against the store plus
// an in-memory BM25 leg, fused by weighted RRF or min-max normalization. The
// BM25 corpus is rebuilt from store payloads whenever it is empty, so the
// process can restart without re-indexing.
type Engine struct {
	store    VectorStore
	embedder embedders.Embedder
	bm25     *BM25Index
	cfg      config.RAGConfig
	logger   *slog.Logger

	rebuildMu sync.Mutex
}

// NewEngine wires the retrieval engine. embedder may be nil when no provider
// is configured; searches then fail with the provider error.
func NewEngine(store VectorStore, embedder embedders.Embedder, cfg config.RAGConfig) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		bm25:     NewBM25Index(),
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

// Store exposes the underlying vector store for health checks.
func (e *Engine) Store() VectorStore {
	return e.store
}

// Config returns the retrieval tuning in effect.
func (e *Engine) Config() config.RAGConfig {
	return e.cfg
}

// BM25Docs reports the BM25 cache size.
func (e *Engine) BM25Docs() int {
	return e.bm25.Len()
}

// UpsertChunks embeds chunk texts and writes them to the vector store, then
// rebuilds the BM25 corpus from the same chunks.
func (e *Engine) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if e.embedder == nil {
		return embedders.ErrNoProvider
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return &SearchError{Component: "engine", Operation: "embed chunks", Err: err}
	}

	points := make([]databases.Point, len(chunks))
	for i, ch := range chunks {
		points[i] = databases.Point{
			ID:      ch.ID,
			Vector:  vectors[i],
			Payload: chunkPayload(ch),
		}
	}
	if err := e.store.Upsert(ctx, points); err != nil {
		return err
	}

	e.RebuildBM25(chunks)
	return nil
}

func chunkPayload(ch Chunk) map[string]interface{} {
	payload := map[string]interface{}{
		"text":   ch.Text,
		"source": ch.Source,
	}
	for k, v := range ch.Meta {
		payload[k] = v
	}
	return payload
}

// RebuildBM25 replaces the BM25 corpus with the given chunks.
func (e *Engine) RebuildBM25(chunks []Chunk) {
	docs := make([]BM25Document, 0, len(chunks))
	for _, ch := range chunks {
		docs = append(docs, BM25Document{ID: ch.ID, Text: ch.Text, Payload: chunkPayload(ch)})
	}
	e.bm25.Build(docs)
}

// ClearBM25 drops the BM25 corpus, e.g. after a collection recreate.
func (e *Engine) ClearBM25() {
	e.bm25.Clear()
}

// ensureBM25 rebuilds the BM25 corpus from stored payloads when empty.
// Double-checked under the rebuild mutex so concurrent queries trigger at
// most one scroll.
func (e *Engine) ensureBM25(ctx context.Context) error {
	if e.bm25.Len() > 0 {
		return nil
	}

	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()
	if e.bm25.Len() > 0 {
		return nil
	}

	items, err := e.store.ScrollPayloads(ctx, e.cfg.ScrollLimit)
	if err != nil {
		return err
	}

	docs := make([]BM25Document, 0, len(items))
	for _, item := range items {
		text, ok := item.Payload["text"].(string)
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, BM25Document{ID: item.ID, Text: text, Payload: item.Payload})
	}
	e.bm25.Build(docs)
	e.logger.Debug("bm25 corpus rebuilt from store", "docs", len(docs))
	return nil
}

// pushdownFilter keeps the exact-match clauses for the vector store; string
// operators stay client-side.
func pushdownFilter(filters map[string]interface{}) map[string]interface{} {
	if len(filters) == 0 {
		return nil
	}
	out := make(map[string]interface{})
	for k, v := range filters {
		if strings.HasSuffix(k, "__prefix") || strings.HasSuffix(k, "__contains") {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type candidate struct {
	id          string
	payload     map[string]interface{}
	vectorScore float64
	bm25Score   float64
	vectorRank  int
	bm25Rank    int
	score       float64
}

// Search runs both retrieval legs concurrently and fuses the candidates.
func (e *Engine) Search(ctx context.Context, query string, topK int, filters map[string]interface{}) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	if err := e.ensureBM25(ctx); err != nil {
		return nil, err
	}

	mult := e.cfg.CandidateMultiple
	vectorK := topK * mult
	if vectorK < 20 {
		vectorK = 20
	}
	bm25K := topK * mult
	if bm25K < 20 {
		bm25K = 20
	}

	var vecHits []databases.SearchResult
	var bmHits []BM25Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if e.embedder == nil {
			return embedders.ErrNoProvider
		}
		vectors, err := e.embedder.Embed(gctx, []string{query})
		if err != nil {
			return &SearchError{Component: "engine", Operation: "embed query", Query: query, Err: err}
		}
		vecHits, err = e.store.Search(gctx, vectors[0], vectorK, pushdownFilter(filters))
		return err
	})
	g.Go(func() error {
		bmHits = e.bm25.Search(query, bm25K, filters)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge by point id, collecting 1-based ranks for RRF. The vector leg's
	// payload wins; the BM25 payload only fills in a missing text.
	byID := make(map[string]*candidate)
	order := make([]string, 0, len(vecHits)+len(bmHits))

	for rank, h := range vecHits {
		c, ok := byID[h.ID]
		if !ok {
			c = &candidate{id: h.ID}
			byID[h.ID] = c
			order = append(order, h.ID)
		}
		if c.vectorRank == 0 {
			c.vectorRank = rank + 1
		}
		c.vectorScore = h.Score
		if len(h.Payload) > 0 {
			c.payload = h.Payload
		}
	}
	for rank, h := range bmHits {
		c, ok := byID[h.ID]
		if !ok {
			c = &candidate{id: h.ID}
			byID[h.ID] = c
			order = append(order, h.ID)
		}
		if c.bm25Rank == 0 {
			c.bm25Rank = rank + 1
		}
		c.bm25Score = h.Score
		if text, _ := c.payload["text"].(string); text == "" && len(h.Payload) > 0 {
			c.payload = h.Payload
		}
	}

	cands := make([]*candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		if !MatchPayload(c.payload, filters) {
			continue
		}
		cands = append(cands, c)
	}

	if e.cfg.Fusion == "minmax" {
		fuseMinMax(cands, e.cfg.Alpha)
	} else {
		fuseRRF(cands, e.cfg.Alpha, e.cfg.RRFK)
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})
	if len(cands) > topK {
		cands = cands[:topK]
	}

	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		source, _ := c.payload["source"].(string)
		text, _ := c.payload["text"].(string)
		hits = append(hits, Hit{
			ID:          c.id,
			Score:       c.score,
			VectorScore: c.vectorScore,
			BM25Score:   c.bm25Score,
			VectorRank:  c.vectorRank,
			BM25Rank:    c.bm25Rank,
			Payload:     c.payload,
			Source:      source,
			Text:        text,
		})
	}
	return hits, nil
}

// fuseRRF assigns weighted reciprocal-rank scores:
// alpha/(k+rank_vec) + (1-alpha)/(k+rank_bm25), skipping absent legs.
func fuseRRF(cands []*candidate, alpha float64, rrfK int) {
	for _, c := range cands {
		var s float64
		if c.vectorRank > 0 {
			s += alpha / float64(rrfK+c.vectorRank)
		}
		if c.bm25Rank > 0 {
			s += (1 - alpha) / float64(rrfK+c.bm25Rank)
		}
		c.score = s
	}
}

// fuseMinMax normalizes each leg's scores to [0,1] and takes the weighted
// sum. A degenerate range normalizes to zero.
func fuseMinMax(cands []*candidate, alpha float64) {
	vecNorm := minMaxNorm(cands, func(c *candidate) float64 { return c.vectorScore })
	bmNorm := minMaxNorm(cands, func(c *candidate) float64 { return c.bm25Score })
	for i, c := range cands {
		c.score = alpha*vecNorm[i] + (1-alpha)*bmNorm[i]
	}
}

func minMaxNorm(cands []*candidate, get func(*candidate) float64) []float64 {
	out := make([]float64, len(cands))
	if len(cands) == 0 {
		return out
	}
	mn, mx := get(cands[0]), get(cands[0])
	for _, c := range cands[1:] {
		v := get(c)
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	if mx <= mn {
		return out
	}
	for i, c := range cands {
		out[i] = (get(c) - mn) / (mx - mn)
	}
	return out
}

// Snippet truncates text for display, appending an ellipsis when cut.
func Snippet(text string, chars int) string {
	if chars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= chars {
		return text
	}
	return string(runes[:chars]) + "..."
}

// SearchError reports a retrieval failure with enough context to tell which
// leg broke.
type SearchError struct {
	Component string
	Operation string
	Query     string
	Err       error
}

func (e *SearchError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("%s: %s failed for query %q: %v", e.Component, e.Operation, e.Query, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Component, e.Operation, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}
