package agent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jykim-lab/maestro/pkg/llms"
)

// Analysis is the classifier's verdict on one user message.
type Analysis struct {
	Intent     string                 `json:"intent"`
	APIs       []string               `json:"apis"`
	Confidence float64                `json:"confidence"`
	Parameters map[string]interface{} `json:"parameters"`
	Reasoning  string                 `json:"reasoning"`
}

// WantsNotify reports whether composite detection flagged a follow-up
// notification.
func (a Analysis) WantsNotify() bool {
	for _, api := range a.APIs {
		if api == "notification" {
			return true
		}
	}
	notify, _ := a.Parameters["notify"].(bool)
	return notify
}

// intentLabels is the closed label set, in the order the substring parser
// scans them.
var intentLabels = []string{
	"weather_query",
	"calendar_create",
	"calendar_query",
	"file_search",
	"notification_send",
	"help",
	"chat",
}

var (
	notifyVerbs    = []string{"알려", "공유", "전달", "공지", "보내", "전송"}
	channelTerms   = []string{"슬랙", "slack", "이메일", "email", "sms", "문자", "메일"}
	recipientRegex = regexp.MustCompile(`(팀|전체|모두|[가-힣]+님)(한테|에게|께)`)
)

// Classifier maps a user message to an intent. The LLM path uses a few-shot
// label prompt; when the provider is unavailable it degrades to a keyword
// lexicon with the same output shape.
type Classifier struct {
	provider llms.ChatProvider
	logger   *slog.Logger
}

// NewClassifier builds a classifier. provider may be nil.
func NewClassifier(provider llms.ChatProvider) *Classifier {
	return &Classifier{provider: provider, logger: slog.Default()}
}

const classifyPrompt = `다음 사용자 메시지의 의도를 아래 레이블 중 하나로만 답하세요. 레이블 외 다른 텍스트 금지.

레이블:
- weather_query: 날씨/기온 조회 (예: "서울 날씨 어때?")
- calendar_query: 일정 조회 (예: "내일 일정 알려줘")
- calendar_create: 일정 생성 (예: "3시에 회의 잡아줘")
- file_search: 파일/문서 검색 (예: "API 명세 문서 찾아줘")
- notification_send: 알림/메시지 발송 (예: "팀에 공지 보내줘")
- help: 기능 안내 (예: "뭐 할 수 있어?")
- chat: 그 외 일반 대화/질문

메시지: `

// Analyze classifies one message. It never fails; parse and provider errors
// degrade to the keyword path.
func (c *Classifier) Analyze(ctx context.Context, userInput string) Analysis {
	if c.provider != nil {
		reply, err := c.provider.Chat(ctx, []llms.Message{
			{Role: "user", Content: classifyPrompt + userInput},
		})
		if err == nil {
			intent := parseIntentLabel(reply)
			analysis := Analysis{
				Intent:     intent,
				APIs:       apisForIntent(intent),
				Confidence: 0.85,
				Parameters: map[string]interface{}{"user_input": userInput},
				Reasoning:  "llm few-shot",
			}
			return detectComposite(analysis, userInput)
		}
		c.logger.Debug("intent llm unavailable, using keyword fallback", "error", err)
	}
	return detectComposite(c.keywordAnalyze(userInput), userInput)
}

// parseIntentLabel matches the reply exactly first, then by substring in
// label order. Anything else is chat.
func parseIntentLabel(reply string) string {
	s := strings.ToLower(strings.TrimSpace(reply))
	for _, label := range intentLabels {
		if s == label {
			return label
		}
	}
	for _, label := range intentLabels {
		if strings.Contains(s, label) {
			return label
		}
	}
	return "chat"
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func (c *Classifier) keywordAnalyze(userInput string) Analysis {
	s := strings.ToLower(userInput)

	intent := "chat"
	confidence := 0.7

	switch {
	case containsAny(s, []string{"날씨", "기온", "비", "눈", "우산"}):
		intent = "weather_query"
	case containsAny(s, []string{"일정", "회의", "미팅", "스케줄"}):
		if containsAny(s, []string{"잡아", "생성", "추가", "만들"}) {
			intent = "calendar_create"
		} else {
			intent = "calendar_query"
		}
	case containsAny(s, []string{"파일", "문서", "자료", "명세", "회의록"}):
		intent = "file_search"
	case containsAny(s, []string{"알림", "공지", "보내", "전송", "슬랙", "이메일", "sms", "문자"}):
		intent = "notification_send"
	case containsAny(s, []string{"도움말", "뭐 할 수", "할 수 있어"}):
		intent = "help"
		confidence = 0.9
	}

	return Analysis{
		Intent:     intent,
		APIs:       apisForIntent(intent),
		Confidence: confidence,
		Parameters: map[string]interface{}{"user_input": userInput},
		Reasoning:  "keyword lexicon",
	}
}

func apisForIntent(intent string) []string {
	switch intent {
	case "weather_query":
		return []string{"weather"}
	case "calendar_query", "calendar_create":
		return []string{"calendar"}
	case "file_search":
		return []string{"file"}
	case "notification_send":
		return []string{"notification"}
	case "chat":
		return []string{"rag"}
	default:
		return nil
	}
}

// detectComposite appends a notification follow-up when a tool intent also
// carries a notify verb, channel term, or recipient pattern. Adding tokens
// can only add the flag, never remove it.
func detectComposite(a Analysis, userInput string) Analysis {
	switch a.Intent {
	case "weather_query", "calendar_query", "calendar_create", "file_search":
	default:
		return a
	}

	s := strings.ToLower(userInput)
	if !containsAny(s, notifyVerbs) && !containsAny(s, channelTerms) && !recipientRegex.MatchString(userInput) {
		return a
	}

	a.APIs = append(a.APIs, "notification")
	if a.Parameters == nil {
		a.Parameters = map[string]interface{}{}
	}
	a.Parameters["notify"] = true
	return a
}
