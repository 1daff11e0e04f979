package runtime

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jykim-lab/maestro/pkg/agent"
)

var (
	hourPattern  = regexp.MustCompile(`(\d{1,2})\s*시`)
	clockPattern = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
)

var knownCities = []string{"서울", "부산", "인천", "대구", "광주", "대전", "울산", "세종"}

func extractCity(text string) string {
	for _, c := range knownCities {
		if strings.Contains(text, c) {
			return c
		}
	}
	return "서울"
}

func extractTime(text string) string {
	if m := hourPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:00", hour)
	}
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%02d:%02d", hour, minute)
	}
	return "09:00"
}

func extractTitle(text string) string {
	title := text
	for _, k := range []string{"일정", "회의", "미팅", "잡아줘", "추가해줘", "생성해줘", "만들어줘"} {
		title = strings.ReplaceAll(title, k, "")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "새 일정"
	}
	return title
}

func pickChannel(message string) string {
	s := strings.ToLower(message)
	switch {
	case strings.Contains(message, "슬랙") || strings.Contains(s, "slack"):
		return "slack"
	case strings.Contains(message, "이메일") || strings.Contains(s, "email") || strings.Contains(s, "메일"):
		return "email"
	case strings.Contains(message, "문자") || strings.Contains(s, "sms"):
		return "sms"
	default:
		return "slack"
	}
}

// formatTodo renders the UI step list as a markdown section.
func formatTodo(tasks []string) string {
	if len(tasks) == 0 {
		return ""
	}
	lines := []string{"### To-Do"}
	for i, t := range tasks {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, t))
	}
	return strings.Join(lines, "\n")
}

func withPlan(responseText string, todo []string) string {
	section := formatTodo(todo)
	if section == "" {
		return responseText
	}
	return section + "\n\n### 실행 결과\n" + responseText
}

var notifyFollowup = []string{"팀에게 전달할 메시지를 구성한다", "notification-service로 발송한다", "발송 결과를 확인한다"}

// ruleTodoList builds the display-only step list for the rule-based branch.
func ruleTodoList(analysis agent.Analysis) []string {
	wantsNotify := analysis.WantsNotify()

	var tasks []string
	switch analysis.Intent {
	case "weather_query", "weather":
		tasks = []string{"도시/기간 등 파라미터를 추출한다", "weather-service를 호출해 데이터를 가져온다", "결과를 요약해 답변한다"}
	case "calendar_query", "calendar":
		tasks = []string{"날짜(오늘/내일/특정일)를 해석한다", "calendar-service를 호출해 일정을 가져온다", "일정/빈시간을 요약한다"}
	case "calendar_create":
		tasks = []string{"제목/시간/날짜를 추출한다", "calendar-service에 이벤트 생성을 요청한다", "생성 결과를 확인해 사용자에게 안내한다"}
	case "file_search":
		tasks = []string{"검색 키워드를 정제한다", "file-service를 호출해 검색한다", "상위 결과를 리스트업한다"}
	case "notification_send", "notify":
		return []string{"채널(email/slack/sms)과 수신자를 결정한다", "notification-service로 발송한다", "발송 결과를 확인한다"}
	case "help":
		return []string{"가능한 기능/예시를 정리해서 안내한다"}
	default:
		return []string{"문서 검색 엔진(Qdrant)을 질의해 관련 문서를 찾는다", "근거(출처)와 함께 간단히 답한다"}
	}

	if wantsNotify {
		tasks = append(tasks, notifyFollowup...)
	}
	return tasks
}

const helpText = "Agentic RAG 챗봇입니다.\n\n" +
	"- weather: 날씨 조회\n" +
	"- calendar: 일정 조회/생성\n" +
	"- file: 파일 검색\n" +
	"- notification: 알림 발송(mock)\n"

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// formatNumber renders a JSON number without a trailing ".0" for whole
// values, matching the downstream services' own formatting.
func formatNumber(v interface{}) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", n)
	}
}

func getInt(m map[string]interface{}, key string) int {
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func weatherSummary(data map[string]interface{}) string {
	return fmt.Sprintf("%s 현재 날씨는 %s, %s°C 입니다.",
		getString(data, "city"), getString(data, "condition"), formatNumber(data["temperature"]))
}

func notifySummary(data map[string]interface{}, channel string) string {
	if ch := getString(data, "channel"); ch != "" {
		channel = ch
	}
	return fmt.Sprintf("[mock] %s 알림 발송 완료 (id=%s)", channel, getString(data, "id"))
}

// ruleHandle is the LLM-free request path. Every branch answers from the
// downstream services directly with fixed response templates.
func (r *Runtime) ruleHandle(ctx context.Context, sessionID, message, llmError string, start time.Time) (*Result, error) {
	analysis := r.classifier.Analyze(ctx, message)
	intent := analysis.Intent
	wantsNotify := analysis.WantsNotify()
	todo := ruleTodoList(analysis)

	meta := map[string]interface{}{
		"intent":       intent,
		"analysis":     analysis,
		"plan":         map[string]interface{}{"tasks": todo, "intent": intent, "apis": analysis.APIs},
		"session_id":   sessionID,
		"recent_turns": r.store.RecentTurns(sessionID, 5),
	}
	if llmError != "" {
		meta["llm_fallback"] = map[string]interface{}{
			"provider": r.provider.Name(),
			"error":    llmError,
		}
	}

	finish := func(responseText string, apisUsed []string) *Result {
		r.appendTurn(sessionID, message, responseText, intent, analysis.Confidence, apisUsed, start)
		return &Result{Message: responseText, Meta: meta, ConversationID: sessionID}
	}

	switch intent {
	case "help":
		return finish(helpText, nil), nil

	case "weather_query", "weather":
		result, err := r.executor.CallTool(ctx, "weather.get", map[string]interface{}{"city": extractCity(message)})
		if err != nil {
			return nil, err
		}
		data := asMap(result)
		meta["weather"] = data
		summary := weatherSummary(data)

		if wantsNotify {
			channel := pickChannel(message)
			nres, err := r.executor.CallTool(ctx, "notification.send", map[string]interface{}{
				"title":     "날씨 알림",
				"message":   summary,
				"recipient": "team",
				"channel":   channel,
			})
			if err != nil {
				return nil, err
			}
			ndata := asMap(nres)
			meta["notification"] = ndata
			text := withPlan(summary+"\n\n"+notifySummary(ndata, channel), todo)
			return finish(text, []string{"weather", "notification"}), nil
		}
		return finish(withPlan(summary, todo), []string{"weather"}), nil

	case "calendar_query", "calendar":
		when := "today"
		if strings.Contains(message, "내일") {
			when = "tomorrow"
		}
		result, err := r.executor.CallTool(ctx, "calendar.get", map[string]interface{}{"when": when})
		if err != nil {
			return nil, err
		}
		data := asMap(result)
		meta["calendar"] = data

		if getInt(data, "total_events") == 0 {
			text := withPlan(fmt.Sprintf("%s 일정이 없습니다.", getString(data, "date")), todo)
			return finish(text, []string{"calendar"}), nil
		}
		var lines []string
		events := asSlice(data["events"])
		for i, ev := range events {
			if i >= 10 {
				break
			}
			e := asMap(ev)
			lines = append(lines, fmt.Sprintf("- %s %s", getString(e, "start_time"), getString(e, "title")))
		}
		text := withPlan(fmt.Sprintf("%s 일정 %d개:\n%s",
			getString(data, "date"), getInt(data, "total_events"), strings.Join(lines, "\n")), todo)
		return finish(text, []string{"calendar"}), nil

	case "calendar_create":
		result, err := r.executor.CallTool(ctx, "calendar.create", map[string]interface{}{
			"title":      extractTitle(message),
			"start_time": extractTime(message),
		})
		if err != nil {
			return nil, err
		}
		data := asMap(result)
		meta["calendar_create"] = data
		text := withPlan(fmt.Sprintf("일정을 생성했어요: %s - %s (id=%s)",
			getString(data, "start_time"), getString(data, "title"), getString(data, "id")), todo)
		return finish(text, []string{"calendar"}), nil

	case "file_search":
		result, err := r.executor.CallTool(ctx, "file.search", map[string]interface{}{"q": message})
		if err != nil {
			return nil, err
		}
		data := asMap(result)
		meta["file_search"] = data

		files := asSlice(data["files"])
		if len(files) == 0 {
			text := withPlan(fmt.Sprintf("'%s' 검색 결과가 없습니다.", message), todo)
			return finish(text, []string{"file"}), nil
		}
		var lines []string
		for i, fv := range files {
			if i >= 8 {
				break
			}
			f := asMap(fv)
			lines = append(lines, fmt.Sprintf("- %s (%s)", getString(f, "name"), getString(f, "path")))
		}
		text := withPlan(fmt.Sprintf("검색 결과 %d개:\n%s",
			getInt(data, "total_matches"), strings.Join(lines, "\n")), todo)
		return finish(text, []string{"file"}), nil

	case "notification_send", "notify":
		channel := pickChannel(message)
		result, err := r.executor.CallTool(ctx, "notification.send", map[string]interface{}{
			"title":     "알림",
			"message":   message,
			"recipient": "team",
			"channel":   channel,
		})
		if err != nil {
			return nil, err
		}
		data := asMap(result)
		meta["notification"] = data
		text := withPlan(fmt.Sprintf("[mock] %s 알림 발송 완료 (id=%s)", channel, getString(data, "id")), todo)
		return finish(text, []string{"notification"}), nil

	default: // chat: answer from retrieval when possible
		result, err := r.executor.CallTool(ctx, "rag.query", map[string]interface{}{"query": message, "top_k": 5})
		if err != nil {
			meta["rag_error"] = err.Error()
			return finish(withPlan(message, todo), nil), nil
		}
		data := asMap(result)
		meta["rag"] = data

		hits := asSlice(data["hits"])
		if len(hits) == 0 {
			return finish(withPlan("관련 문서를 찾지 못했어요.", todo), []string{"rag"}), nil
		}
		top := asMap(hits[0])
		text := withPlan(fmt.Sprintf("관련 문서 기반 답변(Top1):\n- %s\n(출처: %s)",
			getString(top, "text"), getString(top, "source")), todo)
		return finish(text, []string{"rag"}), nil
	}
}
