package tools

import (
	"strings"
	"time"
)

// ArgSpec describes one tool argument: its name and the free-form hint the
// planner sees when filling arguments.
type ArgSpec struct {
	Name string
	Hint string
}

// Spec describes one callable tool. TTL bounds how long a result may be
// served from the session cache; a zero TTL marks the tool side-effectful
// and its results are never cached.
type Spec struct {
	Name        string
	Description string
	Args        []ArgSpec
	TTL         time.Duration
}

// DefaultSpecs returns the built-in tool registry the planner works with.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Name:        "weather.get",
			Description: "특정 도시의 현재 날씨를 조회한다.",
			Args:        []ArgSpec{{Name: "city", Hint: "string (e.g., 서울)"}},
			TTL:         300 * time.Second,
		},
		{
			Name:        "calendar.get",
			Description: "오늘/내일 일정을 조회한다.",
			Args:        []ArgSpec{{Name: "when", Hint: "string (today|tomorrow)"}},
			TTL:         60 * time.Second,
		},
		{
			Name:        "calendar.create",
			Description: "일정을 생성한다.",
			Args: []ArgSpec{
				{Name: "title", Hint: "string"},
				{Name: "start_time", Hint: "string (HH:MM)"},
			},
		},
		{
			Name:        "file.search",
			Description: "파일/문서를 키워드로 검색한다.",
			Args:        []ArgSpec{{Name: "q", Hint: "string"}},
			TTL:         120 * time.Second,
		},
		{
			Name:        "notification.send",
			Description: "팀/수신자에게 알림을 보낸다(모의).",
			Args: []ArgSpec{
				{Name: "title", Hint: "string"},
				{Name: "message", Hint: "string"},
				{Name: "recipient", Hint: "string"},
				{Name: "channel", Hint: "string (slack|email|sms)"},
			},
		},
		{
			Name:        "rag.query",
			Description: "문서 검색 엔진에 질의하여 관련 문서를 찾는다.",
			Args: []ArgSpec{
				{Name: "query", Hint: "string"},
				{Name: "top_k", Hint: "int"},
			},
			TTL: 120 * time.Second,
		},
	}
}

// PromptList renders the registry as the tool list shown to the planner,
// one tool per line.
func PromptList(specs []Spec) string {
	var b strings.Builder
	for i, s := range specs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(s.Name)
		b.WriteString(": ")
		b.WriteString(s.Description)
		b.WriteString(" | args={")
		for j, a := range s.Args {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(`"` + a.Name + `": "` + a.Hint + `"`)
		}
		b.WriteString("}")
	}
	return b.String()
}
