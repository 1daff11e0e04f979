package rag

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// tokenPattern keeps maximal runs of Latin alphanumerics and Hangul
// syllables; everything else is a separator.
var tokenPattern = regexp.MustCompile(`[a-z0-9가-힣]+`)

// Tokenize lowercases the text and splits it into index terms.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// BM25Document is one indexed document: the chunk id, its raw text and the
// payload carried through to hits.
type BM25Document struct {
	ID      string
	Text    string
	Payload map[string]interface{}
}

// BM25Hit is a scored document.
type BM25Hit struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

type bm25Entry struct {
	doc    BM25Document
	tf     map[string]int
	length int
}

// BM25Index is an in-memory Okapi BM25 index over chunk texts. Rebuilt from
// the vector store payloads, so it never needs its own persistence. Safe for
// concurrent use.
type BM25Index struct {
	mu      sync.RWMutex
	entries []bm25Entry
	byID    map[string]int
	df      map[string]int
	totalLn int
}

// NewBM25Index returns an empty index.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		byID: make(map[string]int),
		df:   make(map[string]int),
	}
}

// Len returns the number of indexed documents.
func (ix *BM25Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Clear drops all documents.
func (ix *BM25Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = nil
	ix.byID = make(map[string]int)
	ix.df = make(map[string]int)
	ix.totalLn = 0
}

// Build replaces the whole corpus in one shot.
func (ix *BM25Index) Build(docs []BM25Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = make([]bm25Entry, 0, len(docs))
	ix.byID = make(map[string]int, len(docs))
	ix.df = make(map[string]int)
	ix.totalLn = 0

	for _, doc := range docs {
		ix.insertLocked(doc)
	}
}

// UpsertMany adds or replaces documents by id.
func (ix *BM25Index) UpsertMany(docs []BM25Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, doc := range docs {
		if pos, ok := ix.byID[doc.ID]; ok {
			ix.removeLocked(pos)
		}
		ix.insertLocked(doc)
	}
}

func (ix *BM25Index) insertLocked(doc BM25Document) {
	tokens := Tokenize(doc.Text)
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	// Document frequency counts each term once per document.
	for term := range tf {
		ix.df[term]++
	}
	ix.byID[doc.ID] = len(ix.entries)
	ix.entries = append(ix.entries, bm25Entry{doc: doc, tf: tf, length: len(tokens)})
	ix.totalLn += len(tokens)
}

func (ix *BM25Index) removeLocked(pos int) {
	entry := ix.entries[pos]
	for term := range entry.tf {
		if ix.df[term] <= 1 {
			delete(ix.df, term)
		} else {
			ix.df[term]--
		}
	}
	ix.totalLn -= entry.length

	last := len(ix.entries) - 1
	if pos != last {
		ix.entries[pos] = ix.entries[last]
		ix.byID[ix.entries[pos].doc.ID] = pos
	}
	ix.entries = ix.entries[:last]
	delete(ix.byID, entry.doc.ID)
}

func (ix *BM25Index) idf(term string) float64 {
	df := float64(ix.df[term])
	n := float64(len(ix.entries))
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// Search scores the corpus against the query and returns up to topK hits
// matching the payload filters. Empty corpus or query yields no hits.
func (ix *BM25Index) Search(query string, topK int, filters map[string]interface{}) []BM25Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 || topK <= 0 {
		return nil
	}

	// Query terms deduplicated, first occurrence order preserved.
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range Tokenize(query) {
		if !seen[tok] {
			seen[tok] = true
			terms = append(terms, tok)
		}
	}
	if len(terms) == 0 {
		return nil
	}

	avgdl := float64(ix.totalLn) / float64(len(ix.entries))
	if avgdl == 0 {
		avgdl = 1
	}

	hits := make([]BM25Hit, 0, len(ix.entries))
	for _, entry := range ix.entries {
		var score float64
		dl := float64(entry.length)
		for _, term := range terms {
			f := float64(entry.tf[term])
			if f == 0 {
				continue
			}
			idf := ix.idf(term)
			score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/avgdl))
		}
		if score > 0 {
			hits = append(hits, BM25Hit{ID: entry.doc.ID, Score: score, Payload: entry.doc.Payload})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	// Filters run on the top-k ranked candidates only. A filtered-out top
	// candidate shrinks the result; it never promotes a lower-ranked one.
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]BM25Hit, 0, len(hits))
	for _, hit := range hits {
		if !MatchPayload(hit.Payload, filters) {
			continue
		}
		out = append(out, hit)
	}
	return out
}

// MatchPayload evaluates a filter map against a payload. A bare key means
// equality, "key__prefix" and "key__contains" apply string operators, and a
// list value matches when any element matches. Clauses are ANDed.
func MatchPayload(payload, filters map[string]interface{}) bool {
	for key, want := range filters {
		field, op := key, "eq"
		if strings.HasSuffix(key, "__prefix") {
			field, op = strings.TrimSuffix(key, "__prefix"), "prefix"
		} else if strings.HasSuffix(key, "__contains") {
			field, op = strings.TrimSuffix(key, "__contains"), "contains"
		}

		got, ok := payload[field]
		if !ok {
			return false
		}

		if !matchClause(got, want, op) {
			return false
		}
	}
	return true
}

func matchClause(got, want interface{}, op string) bool {
	if list, ok := want.([]interface{}); ok {
		for _, candidate := range list {
			if matchClause(got, candidate, op) {
				return true
			}
		}
		return false
	}

	switch op {
	case "prefix":
		return strings.HasPrefix(asString(got), asString(want))
	case "contains":
		return strings.Contains(asString(got), asString(want))
	default:
		return equalValues(got, want)
	}
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// equalValues compares with numeric tolerance so JSON-decoded float64 values
// still match int payload fields.
func equalValues(a, b interface{}) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return asString(a) == asString(b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
