package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jykim-lab/maestro/pkg/agent"
	"github.com/jykim-lab/maestro/pkg/llms"
	"github.com/jykim-lab/maestro/pkg/tools"
)

// Event is one coarse progress frame for the streaming UI.
type Event struct {
	Todo      []string `json:"todo"`
	Completed int      `json:"completed"`
	Status    string   `json:"status"`
	Final     string   `json:"final,omitempty"`
	Done      bool     `json:"done,omitempty"`
}

// Stream processes one chat message, emitting progress events on the
// returned channel. The channel is closed after the final event; the final
// event always carries Done=true and a non-empty Final text.
func (r *Runtime) Stream(ctx context.Context, message, conversationID string) <-chan Event {
	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		emit := func(e Event) bool {
			if e.Todo == nil {
				e.Todo = []string{}
			}
			select {
			case <-ctx.Done():
				return false
			case ch <- e:
				return true
			}
		}
		r.stream(ctx, message, conversationID, emit)
	}()
	return ch
}

func (r *Runtime) stream(ctx context.Context, message, conversationID string, emit func(Event) bool) {
	sess := r.store.GetOrCreate(conversationID, "")

	if r.llmEnabled() {
		if done := r.streamAgentic(ctx, message, sess.ID, emit); done {
			return
		}
	}
	r.streamRuleBased(ctx, message, sess.ID, emit)
}

// streamAgentic runs the LLM pipeline with progress events. Returns false
// when the pipeline failed and the rule-based stream should take over.
func (r *Runtime) streamAgentic(ctx context.Context, message, sessionID string, emit func(Event) bool) bool {
	recent := r.store.RecentTurns(sessionID, 5)

	if !emit(Event{Status: "의도 분석 중..."}) {
		return true
	}
	analysis := r.classifier.Analyze(ctx, message)

	if !emit(Event{Status: "계획 수립 중..."}) {
		return true
	}
	plan, err := r.planner.Plan(ctx, message, analysis.Intent, analysis.APIs, recent)
	if err != nil {
		emit(Event{Status: fmt.Sprintf("LLM 오류로 rule-based로 전환: %v", err)})
		return false
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
	if !emit(Event{Todo: todo, Status: "계획 수립 완료"}) {
		return true
	}

	completed := 0
	for _, t := range tasks {
		if completed < len(todo) {
			completed++
		}
		tool := strings.TrimSpace(t.Tool)
		status := "진행 중..."
		if tool != "" && tool != "none" {
			status = tool + " 실행 중..."
		}
		if !emit(Event{Todo: todo, Completed: completed, Status: status}) {
			return true
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

	observations, _, finalTasks := r.executor.ExecutePlan(ctx, sessionID, tasks, fillArgs, replan)

	final, err := r.provider.Chat(ctx, []llms.Message{
		{Role: "user", Content: agent.FinalAnswerPrompt(message, analysis.Intent, finalTasks, observations)},
	})
	if err != nil {
		emit(Event{Status: fmt.Sprintf("LLM 오류로 rule-based로 전환: %v", err)})
		return false
	}
	final = strings.TrimSpace(final)
	if final == "" {
		final = "요청을 처리했지만 답변 생성에 실패했어요."
	}

	emit(Event{Todo: todo, Completed: len(todo), Status: "완료", Final: final, Done: true})
	return true
}

// streamRuleBased mirrors the rule branch with step events. The weather and
// notification intents stream per-step statuses; the rest compute the final
// answer through the unary path and emit it as the closing event.
func (r *Runtime) streamRuleBased(ctx context.Context, message, sessionID string, emit func(Event) bool) {
	analysis := r.classifier.Analyze(ctx, message)
	todo := ruleTodoList(analysis)

	if !emit(Event{Todo: todo, Status: "계획 수립 중..."}) {
		return
	}
	if !emit(Event{Todo: todo, Status: "의도 분석 완료"}) {
		return
	}

	completed := 0
	step := func(status string) bool {
		if completed < len(todo) {
			completed++
		}
		return emit(Event{Todo: todo, Completed: completed, Status: status})
	}

	switch analysis.Intent {
	case "weather_query", "weather":
		if !step("파라미터 추출 완료") {
			return
		}
		if !step("weather-service 호출 중...") {
			return
		}
		result, err := r.executor.CallTool(ctx, "weather.get", map[string]interface{}{"city": extractCity(message)})
		if err != nil {
			emit(Event{Todo: todo, Completed: completed, Status: "완료",
				Final: fmt.Sprintf("날씨 조회에 실패했어요: %v", err), Done: true})
			return
		}
		summary := weatherSummary(asMap(result))

		final := summary
		if analysis.WantsNotify() {
			if !step("결과 요약 완료") {
				return
			}
			if !step("notification-service 발송 중...") {
				return
			}
			channel := pickChannel(message)
			nres, err := r.executor.CallTool(ctx, "notification.send", map[string]interface{}{
				"title": "날씨 알림", "message": summary, "recipient": "team", "channel": channel,
			})
			if err == nil {
				if !step("발송 결과 확인 완료") {
					return
				}
				final = summary + "\n\n" + notifySummary(asMap(nres), channel)
			}
		}
		emit(Event{Todo: todo, Completed: completed, Status: "완료", Final: final, Done: true})
		return

	case "notification_send", "notify":
		if !step("채널/수신자 결정 완료") {
			return
		}
		channel := pickChannel(message)
		if !step("notification-service 발송 중...") {
			return
		}
		result, err := r.executor.CallTool(ctx, "notification.send", map[string]interface{}{
			"title": "알림", "message": message, "recipient": "team", "channel": channel,
		})
		if err != nil {
			emit(Event{Todo: todo, Completed: completed, Status: "완료",
				Final: fmt.Sprintf("알림 발송에 실패했어요: %v", err), Done: true})
			return
		}
		if completed < len(todo) {
			completed++
		}
		final := fmt.Sprintf("[mock] %s 알림 발송 완료 (id=%s)", channel, getString(asMap(result), "id"))
		emit(Event{Todo: todo, Completed: completed, Status: "완료", Final: final, Done: true})
		return
	}

	// Remaining intents answer through the unary path.
	result, err := r.ruleHandle(ctx, sessionID, message, "", time.Now())
	final := message
	if err == nil && result.Message != "" {
		final = result.Message
	}
	emit(Event{Todo: todo, Completed: len(todo), Status: "완료", Final: final, Done: true})
}
