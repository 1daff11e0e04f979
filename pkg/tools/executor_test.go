package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jykim-lab/maestro/pkg/config"
	"github.com/jykim-lab/maestro/pkg/session"
)

func newTestStore() *session.Store {
	return session.NewStore(20, 24*time.Hour, time.Hour)
}

func jsonHandler(v interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func TestPromptList(t *testing.T) {
	prompt := PromptList(DefaultSpecs())

	assert.Contains(t, prompt, `- weather.get: 특정 도시의 현재 날씨를 조회한다. | args={"city": "string (e.g., 서울)"}`)
	assert.Contains(t, prompt, `- rag.query:`)
	assert.Contains(t, prompt, `"top_k": "int"`)
}

func TestCallTool_WeatherDefaultsCity(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		jsonHandler(map[string]interface{}{"city": "서울", "temperature": 21.5})(w, r)
	}))
	defer srv.Close()

	e := NewExecutor(config.ToolsConfig{WeatherURL: srv.URL, Timeout: 5}, newTestStore(), nil)

	result, err := e.CallTool(context.Background(), "weather.get", nil)
	require.NoError(t, err)
	assert.Equal(t, "/weather/서울", gotPath.Load())

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "서울", m["city"])
}

func TestCallTool_CalendarTomorrow(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		jsonHandler(map[string]interface{}{"date": "2026-08-25", "total_events": 0})(w, r)
	}))
	defer srv.Close()

	e := NewExecutor(config.ToolsConfig{CalendarURL: srv.URL, Timeout: 5}, newTestStore(), nil)

	for _, when := range []string{"tomorrow", "내일", "Tomorrow"} {
		_, err := e.CallTool(context.Background(), "calendar.get", map[string]interface{}{"when": when})
		require.NoError(t, err)
		assert.Equal(t, "/calendar/tomorrow", gotPath)
	}

	_, err := e.CallTool(context.Background(), "calendar.get", nil)
	require.NoError(t, err)
	assert.Equal(t, "/calendar/today", gotPath)
}

func TestCallTool_NotificationDefaults(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		jsonHandler(map[string]interface{}{"id": "n1", "channel": "slack"})(w, r)
	}))
	defer srv.Close()

	e := NewExecutor(config.ToolsConfig{NotificationURL: srv.URL, Timeout: 5}, newTestStore(), nil)

	_, err := e.CallTool(context.Background(), "notification.send", map[string]interface{}{"message": "서울 맑음"})
	require.NoError(t, err)
	assert.Equal(t, "알림", gotBody["title"])
	assert.Equal(t, "서울 맑음", gotBody["message"])
	assert.Equal(t, "team", gotBody["recipient"])
	assert.Equal(t, "slack", gotBody["channel"])
}

func TestCallTool_Unknown(t *testing.T) {
	e := NewExecutor(config.ToolsConfig{Timeout: 5}, newTestStore(), nil)
	_, err := e.CallTool(context.Background(), "bogus.tool", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

type fakeRAG struct {
	lastQuery string
	lastTopK  int
}

func (f *fakeRAG) Query(ctx context.Context, query string, topK int) (interface{}, error) {
	f.lastQuery = query
	f.lastTopK = topK
	return map[string]interface{}{"hits": []interface{}{}}, nil
}

func TestCallTool_RAGQueryInProcess(t *testing.T) {
	rag := &fakeRAG{}
	e := NewExecutor(config.ToolsConfig{Timeout: 5}, newTestStore(), rag)

	_, err := e.CallTool(context.Background(), "rag.query", map[string]interface{}{"query": "휴가 규정", "top_k": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, "휴가 규정", rag.lastQuery)
	assert.Equal(t, 3, rag.lastTopK)

	_, err = e.CallTool(context.Background(), "rag.query", map[string]interface{}{"query": "휴가 규정"})
	require.NoError(t, err)
	assert.Equal(t, 5, rag.lastTopK)
}

func TestExecutePlan_NotesAndCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		jsonHandler(map[string]interface{}{"city": "서울", "condition": "맑음"})(w, r)
	}))
	defer srv.Close()

	store := newTestStore()
	sess := store.GetOrCreate("", "")
	e := NewExecutor(config.ToolsConfig{WeatherURL: srv.URL, Timeout: 5}, store, nil)

	tasks := []Task{
		{ID: "t1", Text: "도시를 추출한다", Tool: "none"},
		{ID: "t2", Tool: "weather.get", Args: map[string]interface{}{"city": "서울"}},
		{ID: "t3", Tool: "weather.get", Args: map[string]interface{}{"city": "서울"}},
	}
	obs, used, final := e.ExecutePlan(context.Background(), sess.ID, tasks, nil, nil)

	require.Len(t, obs, 3)
	assert.Equal(t, "도시를 추출한다", obs[0].Note)
	assert.False(t, obs[1].Cached)
	assert.True(t, obs[2].Cached, "identical call within TTL must come from the cache")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	assert.Equal(t, []string{"weather.get"}, used)
	assert.Len(t, final, 3)
}

func TestExecutePlan_SideEffectToolNeverCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		jsonHandler(map[string]interface{}{"id": "n1"})(w, r)
	}))
	defer srv.Close()

	store := newTestStore()
	sess := store.GetOrCreate("", "")
	e := NewExecutor(config.ToolsConfig{NotificationURL: srv.URL, Timeout: 5}, store, nil)

	args := map[string]interface{}{"message": "같은 알림"}
	tasks := []Task{
		{ID: "t1", Tool: "notification.send", Args: args},
		{ID: "t2", Tool: "notification.send", Args: args},
	}
	obs, _, _ := e.ExecutePlan(context.Background(), sess.ID, tasks, nil, nil)

	require.Len(t, obs, 2)
	assert.False(t, obs[0].Cached)
	assert.False(t, obs[1].Cached)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestExecutePlan_FillsEmptyArgs(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		jsonHandler(map[string]interface{}{"city": "부산"})(w, r)
	}))
	defer srv.Close()

	store := newTestStore()
	sess := store.GetOrCreate("", "")
	e := NewExecutor(config.ToolsConfig{WeatherURL: srv.URL, Timeout: 5}, store, nil)

	var filledTool string
	fill := func(tool string, schema []ArgSpec, observations []Observation) map[string]interface{} {
		filledTool = tool
		require.NotEmpty(t, schema)
		return map[string]interface{}{"city": "부산"}
	}

	tasks := []Task{{ID: "t1", Tool: "weather.get"}}
	obs, _, _ := e.ExecutePlan(context.Background(), sess.ID, tasks, fill, nil)

	require.Len(t, obs, 1)
	assert.Equal(t, "weather.get", filledTool)
	assert.Equal(t, "/weather/부산", gotPath)
	assert.Equal(t, "부산", obs[0].Args["city"])
}

func TestExecutePlan_ReplanOnFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		jsonHandler(map[string]interface{}{"city": "서울"})(w, r)
	}))
	defer srv.Close()

	store := newTestStore()
	sess := store.GetOrCreate("", "")
	e := NewExecutor(config.ToolsConfig{WeatherURL: srv.URL, Timeout: 5, MaxReplans: 2}, store, nil)

	replans := 0
	replan := func(current []Task, observations []Observation) []Task {
		replans++
		require.NotEmpty(t, observations)
		assert.NotEmpty(t, observations[len(observations)-1].Error)
		return []Task{{ID: "r1", Tool: "weather.get", Args: map[string]interface{}{"city": "서울"}}}
	}

	tasks := []Task{{ID: "t1", Tool: "bogus.tool", Args: map[string]interface{}{"x": 1}}}
	obs, used, final := e.ExecutePlan(context.Background(), sess.ID, tasks, nil, replan)

	assert.Equal(t, 1, replans)
	// Failure observation plus the replanned successful call.
	require.Len(t, obs, 2)
	assert.NotEmpty(t, obs[0].Error)
	assert.Empty(t, obs[1].Error)
	assert.Equal(t, []string{"weather.get"}, used)
	require.Len(t, final, 1)
	assert.Equal(t, "r1", final[0].ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestExecutePlan_ReplanBudgetExhausted(t *testing.T) {
	store := newTestStore()
	sess := store.GetOrCreate("", "")
	e := NewExecutor(config.ToolsConfig{Timeout: 5, MaxReplans: 2}, store, nil)

	replans := 0
	replan := func(current []Task, observations []Observation) []Task {
		replans++
		return []Task{{ID: "r", Tool: "bogus.tool"}}
	}

	tasks := []Task{{ID: "t1", Tool: "bogus.tool"}}
	obs, used, _ := e.ExecutePlan(context.Background(), sess.ID, tasks, nil, replan)

	assert.Equal(t, 2, replans)
	// Initial failure, two replanned failures.
	assert.Len(t, obs, 3)
	assert.Equal(t, []string{"bogus.tool"}, used)
}

func TestTopoSort(t *testing.T) {
	tasks := []Task{
		{ID: "t3", Tool: "notification.send", DependsOn: []string{"t2"}},
		{ID: "t1", Tool: "none"},
		{ID: "t2", Tool: "weather.get", DependsOn: []string{"t1", "ghost"}},
	}
	ordered := TopoSort(tasks)

	require.Len(t, ordered, 3)
	pos := make(map[string]int)
	for i, t := range ordered {
		pos[t.ID] = i
	}
	assert.Less(t, pos["t1"], pos["t2"])
	assert.Less(t, pos["t2"], pos["t3"])
}

func TestTopoSort_CycleAndMissingIDs(t *testing.T) {
	tasks := []Task{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
		{Tool: "weather.get"},
	}
	ordered := TopoSort(tasks)

	// Cycles are broken, id-less tasks are dropped.
	require.Len(t, ordered, 2)
	ids := []string{ordered[0].ID, ordered[1].ID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
