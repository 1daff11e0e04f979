package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jykim-lab/maestro/pkg/llms"
	"github.com/jykim-lab/maestro/pkg/session"
	"github.com/jykim-lab/maestro/pkg/tools"
)

// Plan is the planner's JSON contract.
type Plan struct {
	Tasks     []tools.Task `json:"tasks"`
	FinalStep string       `json:"final_step,omitempty"`
}

// Planner decomposes a request into executable tasks and revises the plan
// when observations demand it. It never executes tools itself.
type Planner struct {
	provider    llms.ChatProvider
	toolsPrompt string
	logger      *slog.Logger
}

// NewPlanner builds a planner over the given tool registry summary.
func NewPlanner(provider llms.ChatProvider, toolsPrompt string) *Planner {
	return &Planner{provider: provider, toolsPrompt: toolsPrompt, logger: slog.Default()}
}

// safeJSON renders v as compact JSON bounded to limit runes for prompt use.
func safeJSON(v interface{}, limit int) string {
	raw, err := json.Marshal(v)
	s := string(raw)
	if err != nil {
		s = fmt.Sprintf("%v", v)
	}
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return s
}

// ExtractJSONObject parses text as a JSON object, tolerating surrounding
// prose by retrying on the first-{ to last-} substring. Returns nil when
// nothing parses.
func ExtractJSONObject(text string) map[string]interface{} {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil {
			return obj
		}
	}
	return nil
}

// decodePlan re-decodes a leniently extracted object into the Plan shape.
func decodePlan(obj map[string]interface{}) Plan {
	if obj == nil {
		return Plan{}
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return Plan{}
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return Plan{}
	}
	return plan
}

func (p *Planner) chat(ctx context.Context, prompt string) (string, error) {
	if p.provider == nil {
		return "", llms.ErrProviderUnavailable
	}
	return p.provider.Chat(ctx, []llms.Message{{Role: "user", Content: prompt}})
}

// Plan asks the LLM for an initial task decomposition.
func (p *Planner) Plan(ctx context.Context, userInput, intent string, apis []string, recentTurns []session.Turn) (Plan, error) {
	prompt := "당신은 태스크 플래너 에이전트입니다.\n" +
		"목표: 사용자 요청을 실행 가능한 서브태스크로 분해하고, 각 태스크의 실행 순서/의존성을 포함한 계획을 JSON으로 작성하세요.\n" +
		"반드시 JSON만 출력.\n\n" +
		"사용 가능한 도구:\n" + p.toolsPrompt + "\n\n" +
		"의도(intent): " + intent + "\n" +
		"API 후보: " + safeJSON(apis, 200) + "\n\n" +
		"최근 대화(참고): " + safeJSON(recentTurns, 800) + "\n\n" +
		"반환 형식(키 고정):\n" +
		`{ "tasks":[{"id":"t1","text":"...","tool":"weather.get|...|none","args":{...},"depends_on":["t0"],"produces":"짧게"}], "final_step":"tN" }` + "\n\n" +
		"규칙:\n" +
		"- tool이 필요 없으면 \"none\"\n" +
		"- args는 가능한 채워서 주고, 불확실하면 비워두고 실행기(Executor)가 채우게 하세요.\n" +
		"- depends_on은 task id 리스트\n\n" +
		"사용자 요청: " + userInput + "\n"

	reply, err := p.chat(ctx, prompt)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to plan: %w", err)
	}
	return decodePlan(ExtractJSONObject(reply)), nil
}

// Replan revises the plan after observations, typically a tool failure.
func (p *Planner) Replan(ctx context.Context, userInput, intent string, apis []string, current []tools.Task, observations []tools.Observation) (Plan, error) {
	prompt := "당신은 태스크 플래너 에이전트입니다. 실행 중 관찰 결과를 반영해 계획을 업데이트하세요.\n" +
		"반드시 JSON만 출력.\n\n" +
		"사용 가능한 도구:\n" + p.toolsPrompt + "\n\n" +
		"의도(intent): " + intent + "\n" +
		"API 후보: " + safeJSON(apis, 200) + "\n\n" +
		"현재 계획(tasks): " + safeJSON(current, 1400) + "\n\n" +
		"관찰(observations): " + safeJSON(observations, 1400) + "\n\n" +
		"반환 형식(키 고정):\n" +
		`{ "tasks":[{"id":"t1","text":"...","tool":"...|none","args":{...},"depends_on":["..."],"produces":"..."}], "final_step":"tN" }` + "\n\n" +
		"사용자 요청: " + userInput + "\n"

	reply, err := p.chat(ctx, prompt)
	if err != nil {
		return Plan{}, fmt.Errorf("failed to replan: %w", err)
	}
	return decodePlan(ExtractJSONObject(reply)), nil
}

// FillArgsPrompt asks the LLM to fill missing tool arguments. The reply is
// expected to be {"args":{...}}.
func FillArgsPrompt(userInput, tool string, schema []tools.ArgSpec, recentTurns []session.Turn) string {
	schemaMap := make(map[string]string, len(schema))
	for _, a := range schema {
		schemaMap[a.Name] = a.Hint
	}
	return "당신은 Executor를 돕는 ReAct 서브루틴입니다.\n" +
		"주어진 tool을 실행하기 위한 args만 JSON으로 채우세요. 반드시 JSON만 출력.\n\n" +
		"tool: " + tool + "\n" +
		"args_schema: " + safeJSON(schemaMap, 400) + "\n" +
		"최근 대화(참고): " + safeJSON(recentTurns, 800) + "\n\n" +
		"사용자 요청: " + userInput + "\n" +
		`반환 형식: {"args":{...}}` + "\n"
}

// FinalAnswerPrompt asks the LLM for the user-facing answer built from the
// executed plan.
func FinalAnswerPrompt(userInput, intent string, tasks []tools.Task, observations []tools.Observation) string {
	return "당신은 Assistant입니다. 실행 관찰 결과를 바탕으로 사용자에게 최종 답변을 생성하세요.\n" +
		"불필요한 내부 계획/JSON/디버그를 노출하지 말고, 자연어로 간결하게 답하세요.\n\n" +
		"Intent: " + intent + "\n" +
		"사용자 요청: " + userInput + "\n\n" +
		"계획(tasks): " + safeJSON(tasks, 1200) + "\n\n" +
		"관찰(observations): " + safeJSON(observations, 1800) + "\n"
}
