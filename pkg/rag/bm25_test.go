package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"english_lowercased", "Hello World", []string{"hello", "world"}},
		{"korean", "오늘 서울 날씨 알려줘", []string{"오늘", "서울", "날씨", "알려줘"}},
		{"mixed_with_punct", "Qdrant는 vector-DB다!", []string{"qdrant는", "vector", "db다"}},
		{"digits", "top_k=5", []string{"top", "k", "5"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func buildTestIndex() *BM25Index {
	ix := NewBM25Index()
	ix.Build([]BM25Document{
		{ID: "a", Text: "서울 날씨 맑음", Payload: map[string]interface{}{"docset": "docs", "source": "docs/weather.md"}},
		{ID: "b", Text: "부산 날씨 흐림 그리고 비", Payload: map[string]interface{}{"docset": "docs", "source": "docs/busan.md"}},
		{ID: "c", Text: "회의록 작성 가이드", Payload: map[string]interface{}{"docset": "wiki", "source": "wiki/meeting.md"}},
	})
	return ix
}

func TestBM25Search_RanksMatchingDocsFirst(t *testing.T) {
	ix := buildTestIndex()

	hits := ix.Search("서울 날씨", 10, nil)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID)

	// Doc c shares no terms with the query.
	for _, h := range hits {
		assert.NotEqual(t, "c", h.ID)
	}
}

func TestBM25Search_EmptyQueryAndCorpus(t *testing.T) {
	ix := NewBM25Index()
	assert.Empty(t, ix.Search("서울", 5, nil))

	ix = buildTestIndex()
	assert.Empty(t, ix.Search("", 5, nil))
	assert.Empty(t, ix.Search("!!!", 5, nil))
}

func TestBM25Search_DuplicateQueryTermsDoNotInflateScores(t *testing.T) {
	ix := buildTestIndex()

	once := ix.Search("날씨", 10, nil)
	twice := ix.Search("날씨 날씨 날씨", 10, nil)
	require.Equal(t, len(once), len(twice))
	for i := range once {
		assert.Equal(t, once[i].ID, twice[i].ID)
		assert.InDelta(t, once[i].Score, twice[i].Score, 1e-12)
	}
}

func TestBM25Search_Filters(t *testing.T) {
	ix := buildTestIndex()

	t.Run("equality", func(t *testing.T) {
		hits := ix.Search("날씨 회의록", 10, map[string]interface{}{"docset": "wiki"})
		require.Len(t, hits, 1)
		assert.Equal(t, "c", hits[0].ID)
	})

	t.Run("prefix", func(t *testing.T) {
		hits := ix.Search("날씨", 10, map[string]interface{}{"source__prefix": "docs/"})
		require.Len(t, hits, 2)
	})

	t.Run("contains", func(t *testing.T) {
		hits := ix.Search("날씨", 10, map[string]interface{}{"source__contains": "busan"})
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ID)
	})

	t.Run("any_of_list", func(t *testing.T) {
		hits := ix.Search("날씨 회의록", 10, map[string]interface{}{
			"docset": []interface{}{"wiki", "none"},
		})
		require.Len(t, hits, 1)
		assert.Equal(t, "c", hits[0].ID)
	})

	t.Run("clauses_are_anded", func(t *testing.T) {
		hits := ix.Search("날씨", 10, map[string]interface{}{
			"docset":          "docs",
			"source__contains": "nope",
		})
		assert.Empty(t, hits)
	})

	t.Run("missing_field_never_matches", func(t *testing.T) {
		hits := ix.Search("날씨", 10, map[string]interface{}{"missing": "x"})
		assert.Empty(t, hits)
	})
}

func TestBM25Upsert_ReplacesByID(t *testing.T) {
	ix := buildTestIndex()
	require.Equal(t, 3, ix.Len())

	ix.UpsertMany([]BM25Document{
		{ID: "a", Text: "완전히 다른 내용", Payload: map[string]interface{}{"docset": "docs"}},
	})
	assert.Equal(t, 3, ix.Len())

	hits := ix.Search("서울", 10, nil)
	for _, h := range hits {
		assert.NotEqual(t, "a", h.ID)
	}

	hits = ix.Search("완전히", 10, nil)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestBM25Search_TopKBound(t *testing.T) {
	ix := buildTestIndex()
	hits := ix.Search("날씨", 1, nil)
	assert.Len(t, hits, 1)
}

func TestBM25Search_FilterTruncatesBeforeMatching(t *testing.T) {
	ix := NewBM25Index()
	ix.Build([]BM25Document{
		{ID: "a", Text: "qdrant qdrant qdrant 벡터 검색", Payload: map[string]interface{}{"docset": "wiki"}},
		{ID: "b", Text: "qdrant 설치 안내", Payload: map[string]interface{}{"docset": "docs"}},
		{ID: "c", Text: "회의록 작성 가이드", Payload: map[string]interface{}{"docset": "docs"}},
	})

	// "a" outranks "b" for the query. With topK=1 the filter sees only "a";
	// a lower-ranked match must not be promoted into the freed slot.
	hits := ix.Search("qdrant", 1, map[string]interface{}{"docset": "docs"})
	assert.Empty(t, hits)

	// With topK=2 the filter window includes "b".
	hits = ix.Search("qdrant", 2, map[string]interface{}{"docset": "docs"})
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}
