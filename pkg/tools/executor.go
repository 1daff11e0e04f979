package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jykim-lab/maestro/pkg/config"
	"github.com/jykim-lab/maestro/pkg/httpclient"
	"github.com/jykim-lab/maestro/pkg/session"
)

// Task is one planned step. Tool "none" (or empty) marks a reasoning-only
// step that is recorded as a note instead of executed.
type Task struct {
	ID        string                 `json:"id"`
	Text      string                 `json:"text"`
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args,omitempty"`
	DependsOn []string               `json:"depends_on,omitempty"`
	Produces  string                 `json:"produces,omitempty"`
}

// Observation records the outcome of one executed task.
type Observation struct {
	TaskID string                 `json:"task_id"`
	Tool   string                 `json:"tool,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Cached bool                   `json:"cached,omitempty"`
	Result interface{}            `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Note   string                 `json:"note,omitempty"`
}

// FillArgsFunc produces arguments for a tool whose planned args came back
// empty. It sees the tool's schema and the observations so far.
type FillArgsFunc func(tool string, schema []ArgSpec, observations []Observation) map[string]interface{}

// ReplanFunc asks the planner for a revised task list after a tool failure.
// A nil or empty return keeps the current plan.
type ReplanFunc func(current []Task, observations []Observation) []Task

// RAGQuerier answers rag.query calls in-process.
type RAGQuerier interface {
	Query(ctx context.Context, query string, topK int) (interface{}, error)
}

// Executor runs planned tool calls against the downstream services, reusing
// fresh results from the session cache and triggering replans on failure.
type Executor struct {
	http       *httpclient.Client
	cfg        config.ToolsConfig
	store      *session.Store
	rag        RAGQuerier
	specs      []Spec
	maxReplans int
	logger     *slog.Logger
}

// NewExecutor builds an executor over the default tool registry. rag may be
// nil when no retrieval engine is available; rag.query then fails like any
// unreachable tool.
func NewExecutor(cfg config.ToolsConfig, store *session.Store, rag RAGQuerier) *Executor {
	maxReplans := cfg.MaxReplans
	if maxReplans < 0 {
		maxReplans = 0
	}
	return &Executor{
		http:       httpclient.New(httpclient.WithTimeout(time.Duration(cfg.Timeout) * time.Second)),
		cfg:        cfg,
		store:      store,
		rag:        rag,
		specs:      DefaultSpecs(),
		maxReplans: maxReplans,
		logger:     slog.Default(),
	}
}

// Specs returns the executor's tool registry.
func (e *Executor) Specs() []Spec {
	return e.specs
}

func (e *Executor) specFor(name string) (Spec, bool) {
	for _, s := range e.specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

func strArg(args map[string]interface{}, key, fallback string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		if v != 0 {
			return v
		}
	case float64:
		if v != 0 {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n != 0 {
			return n
		}
	}
	return fallback
}

// CallTool executes one tool call and returns the decoded response.
func (e *Executor) CallTool(ctx context.Context, tool string, args map[string]interface{}) (interface{}, error) {
	var out interface{}

	switch tool {
	case "weather.get":
		city := strArg(args, "city", "서울")
		err := e.http.GetJSON(ctx, e.cfg.WeatherURL+"/weather/"+url.PathEscape(city), &out)
		return out, err

	case "calendar.get":
		when := strings.ToLower(strArg(args, "when", "today"))
		endpoint := "/calendar/today"
		if when == "tomorrow" || when == "내일" {
			endpoint = "/calendar/tomorrow"
		}
		err := e.http.GetJSON(ctx, e.cfg.CalendarURL+endpoint, &out)
		return out, err

	case "calendar.create":
		body := map[string]interface{}{
			"title":      strArg(args, "title", "새 일정"),
			"start_time": strArg(args, "start_time", "09:00"),
		}
		err := e.http.PostJSON(ctx, e.cfg.CalendarURL+"/calendar/events", body, &out)
		return out, err

	case "file.search":
		q := strArg(args, "q", "")
		err := e.http.GetJSON(ctx, e.cfg.FilesURL+"/files/search?q="+url.QueryEscape(q), &out)
		return out, err

	case "notification.send":
		body := map[string]interface{}{
			"title":     strArg(args, "title", "알림"),
			"message":   strArg(args, "message", ""),
			"recipient": strArg(args, "recipient", "team"),
			"channel":   strArg(args, "channel", "slack"),
		}
		err := e.http.PostJSON(ctx, e.cfg.NotificationURL+"/notifications/send", body, &out)
		return out, err

	case "rag.query":
		if e.rag == nil {
			return nil, fmt.Errorf("rag.query: no retrieval engine configured")
		}
		return e.rag.Query(ctx, strArg(args, "query", ""), intArg(args, "top_k", 5))

	default:
		return nil, fmt.Errorf("unknown tool: %s", tool)
	}
}

// ExecutePlan walks the tasks in order, executing tool steps and recording
// notes for the rest. Fresh cached results short-circuit the call; a failed
// call triggers at most maxReplans replans, each restarting from the top of
// the revised plan. Returns the observations, the sorted set of tools that
// ran, and the plan that was ultimately executed.
func (e *Executor) ExecutePlan(ctx context.Context, sessionID string, tasks []Task, fillArgs FillArgsFunc, replan ReplanFunc) ([]Observation, []string, []Task) {
	var observations []Observation
	usedSet := make(map[string]bool)
	current := make([]Task, len(tasks))
	copy(current, tasks)

	replans := 0
	i := 0
	for i < len(current) {
		t := current[i]
		tool := strings.TrimSpace(t.Tool)
		if tool == "" {
			tool = "none"
		}

		if tool == "none" {
			observations = append(observations, Observation{TaskID: t.ID, Note: t.Text})
			i++
			continue
		}

		args := t.Args
		if len(args) == 0 && fillArgs != nil {
			spec, _ := e.specFor(tool)
			args = fillArgs(tool, spec.Args, append([]Observation(nil), observations...))
		}
		if args == nil {
			args = map[string]interface{}{}
		}

		spec, known := e.specFor(tool)
		key := session.CacheKey(tool, args)

		if known && spec.TTL > 0 {
			if cached, ok := e.store.GetCached(sessionID, key, spec.TTL); ok {
				observations = append(observations, Observation{
					TaskID: t.ID, Tool: tool, Args: args, Cached: true, Result: cached,
				})
				usedSet[tool] = true
				i++
				continue
			}
		}

		result, err := e.CallTool(ctx, tool, args)
		if err != nil {
			observations = append(observations, Observation{
				TaskID: t.ID, Tool: tool, Args: args, Error: err.Error(),
			})
			e.logger.Warn("tool call failed", "tool", tool, "error", err)

			if replan != nil && replans < e.maxReplans {
				if revised := replan(append([]Task(nil), current...), observations); len(revised) > 0 {
					current = revised
					replans++
					i = 0
					continue
				}
			}
			usedSet[tool] = true
			i++
			continue
		}

		if known && spec.TTL > 0 {
			e.store.SetCached(sessionID, key, result)
		}
		observations = append(observations, Observation{
			TaskID: t.ID, Tool: tool, Args: args, Result: result,
		})
		usedSet[tool] = true
		i++
	}

	used := make([]string, 0, len(usedSet))
	for tool := range usedSet {
		used = append(used, tool)
	}
	sort.Strings(used)
	return observations, used, current
}

// TopoSort orders tasks so dependencies run before their dependents.
// Unknown dependency ids are ignored and cycles are broken at the point of
// revisit, so a malformed plan still yields a runnable order. Tasks without
// an id are dropped.
func TopoSort(tasks []Task) []Task {
	byID := make(map[string]Task)
	var ids []string
	for _, t := range tasks {
		if t.ID == "" {
			continue
		}
		if _, dup := byID[t.ID]; !dup {
			ids = append(ids, t.ID)
		}
		byID[t.ID] = t
	}

	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var out []Task

	var dfs func(id string)
	dfs = func(id string) {
		if visited[id] || visiting[id] {
			return
		}
		visiting[id] = true
		t := byID[id]
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; ok {
				dfs(dep)
			}
		}
		delete(visiting, id)
		visited[id] = true
		out = append(out, t)
	}

	for _, id := range ids {
		dfs(id)
	}
	return out
}
