package runtime

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jykim-lab/maestro/pkg/agent"
	"github.com/jykim-lab/maestro/pkg/config"
	"github.com/jykim-lab/maestro/pkg/llms"
	"github.com/jykim-lab/maestro/pkg/session"
	"github.com/jykim-lab/maestro/pkg/tools"
)

// Result is one completed chat exchange.
type Result struct {
	Message        string                 `json:"message"`
	Meta           map[string]interface{} `json:"meta"`
	ConversationID string                 `json:"conversation_id"`
}

// Runtime is the single entry point for chat requests. With a live LLM it
// runs the agentic pipeline (classify, plan, execute, answer); without one,
// or when the LLM fails mid-flight, it degrades to the rule-based branch so
// the API never crashes on provider trouble.
type Runtime struct {
	cfg        *config.Config
	provider   llms.ChatProvider
	store      *session.Store
	classifier *agent.Classifier
	planner    *agent.Planner
	executor   *tools.Executor
	logger     *slog.Logger
}

// NewRuntime wires the runtime. provider may be a disabled provider.
func NewRuntime(cfg *config.Config, provider llms.ChatProvider, store *session.Store, executor *tools.Executor) *Runtime {
	var classifierProvider llms.ChatProvider
	if provider != nil && provider.Name() != "disabled" {
		classifierProvider = provider
	}
	return &Runtime{
		cfg:        cfg,
		provider:   provider,
		store:      store,
		classifier: agent.NewClassifier(classifierProvider),
		planner:    agent.NewPlanner(classifierProvider, tools.PromptList(executor.Specs())),
		executor:   executor,
		logger:     slog.Default(),
	}
}

func (r *Runtime) llmEnabled() bool {
	return r.provider != nil && r.provider.Name() != "disabled"
}

// Handle processes one chat message and records the turn on the session.
func (r *Runtime) Handle(ctx context.Context, message, conversationID string) (*Result, error) {
	start := time.Now()
	sess := r.store.GetOrCreate(conversationID, "")

	var llmError string
	if r.llmEnabled() {
		run, err := r.agenticRun(ctx, message, sess.ID)
		if err == nil {
			meta := map[string]interface{}{
				"intent": "agentic",
				"analysis": map[string]interface{}{
					"intent":     run.intent,
					"apis":       run.apis,
					"confidence": run.confidence,
				},
				"plan":         map[string]interface{}{"tasks": run.todo},
				"agent":        map[string]interface{}{"executed": run.observations, "used_tools": run.usedTools},
				"session_id":   sess.ID,
				"recent_turns": r.store.RecentTurns(sess.ID, 5),
			}
			r.appendTurn(sess.ID, message, run.final, "agentic", run.confidence, run.usedTools, start)
			return &Result{Message: run.final, Meta: meta, ConversationID: sess.ID}, nil
		}
		llmError = err.Error()
		r.logger.Warn("agentic run failed, using rule-based fallback", "error", err)
	}

	return r.ruleHandle(ctx, sess.ID, message, llmError, start)
}

func (r *Runtime) appendTurn(sessionID, userInput, response, intent string, confidence float64, toolsUsed []string, start time.Time) {
	if _, err := r.store.AppendTurn(sessionID, session.Turn{
		UserInput:  userInput,
		Response:   response,
		Intent:     intent,
		Confidence: confidence,
		ToolsUsed:  toolsUsed,
		Success:    true,
		Duration:   time.Since(start),
	}); err != nil {
		r.logger.Warn("failed to record turn", "session_id", sessionID, "error", err)
	}
}

type agenticResult struct {
	final        string
	todo         []string
	observations []tools.Observation
	usedTools    []string
	intent       string
	apis         []string
	confidence   float64
}

func defaultPlan() []tools.Task {
	return []tools.Task{{ID: "t1", Text: "요청을 처리한다", Tool: "none"}}
}

func (r *Runtime) agenticRun(ctx context.Context, message, sessionID string) (*agenticResult, error) {
	recent := r.store.RecentTurns(sessionID, 5)

	analysis := r.classifier.Analyze(ctx, message)

	plan, err := r.planner.Plan(ctx, message, analysis.Intent, analysis.APIs, recent)
	if err != nil {
		return nil, err
	}
	tasks := plan.Tasks
	if len(tasks) == 0 {
		tasks = defaultPlan()
	}
	tasks = tools.TopoSort(tasks)

	var todo []string
	for _, t := range tasks {
		if t.Text != "" {
			todo = append(todo, t.Text)
		}
	}

	fillArgs := func(tool string, schema []tools.ArgSpec, observations []tools.Observation) map[string]interface{} {
		reply, err := r.provider.Chat(ctx, []llms.Message{
			{Role: "user", Content: agent.FillArgsPrompt(message, tool, schema, recent)},
		})
		if err != nil {
			return nil
		}
		obj := agent.ExtractJSONObject(reply)
		if args, ok := obj["args"].(map[string]interface{}); ok {
			return args
		}
		return nil
	}

	replan := func(current []tools.Task, observations []tools.Observation) []tools.Task {
		rp, err := r.planner.Replan(ctx, message, analysis.Intent, analysis.APIs, current, observations)
		if err != nil || len(rp.Tasks) == 0 {
			return nil
		}
		return tools.TopoSort(rp.Tasks)
	}

	observations, usedTools, finalTasks := r.executor.ExecutePlan(ctx, sessionID, tasks, fillArgs, replan)

	final, err := r.provider.Chat(ctx, []llms.Message{
		{Role: "user", Content: agent.FinalAnswerPrompt(message, analysis.Intent, finalTasks, observations)},
	})
	if err != nil {
		return nil, err
	}
	final = strings.TrimSpace(final)
	if final == "" {
		final = "요청을 처리했지만 답변 생성에 실패했어요."
	}

	return &agenticResult{
		final:        final,
		todo:         todo,
		observations: observations,
		usedTools:    usedTools,
		intent:       analysis.Intent,
		apis:         analysis.APIs,
		confidence:   analysis.Confidence,
	}, nil
}
