package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jykim-lab/maestro/pkg/llms"
)

type scriptedProvider struct {
	replies []string
	err     error
	prompts []string
}

func (s *scriptedProvider) Chat(ctx context.Context, messages []llms.Message) (string, error) {
	if len(messages) > 0 {
		s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	}
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *scriptedProvider) Name() string { return "scripted" }

func TestClassifier_LLMLabel(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"weather_query"}}
	c := NewClassifier(provider)

	a := c.Analyze(context.Background(), "서울 날씨 어때?")
	assert.Equal(t, "weather_query", a.Intent)
	assert.Equal(t, []string{"weather"}, a.APIs)
	assert.Equal(t, "llm few-shot", a.Reasoning)
}

func TestClassifier_LLMLabelWithProse(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"의도는 calendar_create 입니다."}}
	c := NewClassifier(provider)

	a := c.Analyze(context.Background(), "3시에 회의 잡아줘")
	assert.Equal(t, "calendar_create", a.Intent)
	assert.Equal(t, []string{"calendar"}, a.APIs)
}

func TestClassifier_UnparseableLabelFallsBackToChat(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"잘 모르겠어요"}}
	c := NewClassifier(provider)

	a := c.Analyze(context.Background(), "아무 말")
	assert.Equal(t, "chat", a.Intent)
	assert.Equal(t, []string{"rag"}, a.APIs)
}

func TestClassifier_KeywordFallback(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		input  string
		intent string
		apis   []string
	}{
		{"오늘 서울 날씨 어때?", "weather_query", []string{"weather"}},
		{"내일 일정 확인해줘", "calendar_query", []string{"calendar"}},
		{"3시에 회의 잡아줘", "calendar_create", []string{"calendar"}},
		{"API 명세 찾아줘", "file_search", []string{"file"}},
		{"팀에 슬랙 공지 부탁해", "notification_send", []string{"notification"}},
		{"뭐 할 수 있어?", "help", nil},
		{"고마워", "chat", []string{"rag"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a := c.Analyze(context.Background(), tt.input)
			assert.Equal(t, tt.intent, a.Intent)
			assert.Equal(t, tt.apis, a.APIs)
		})
	}
}

func TestClassifier_ProviderErrorFallsBackToKeywords(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("boom")}
	c := NewClassifier(provider)

	a := c.Analyze(context.Background(), "서울 날씨 알려줘")
	assert.Equal(t, "weather_query", a.Intent)
	assert.Equal(t, "keyword lexicon", a.Reasoning)
}

func TestClassifier_CompositeNotify(t *testing.T) {
	c := NewClassifier(nil)

	a := c.Analyze(context.Background(), "오늘 날씨를 팀한테 알려줘")
	require.Equal(t, "weather_query", a.Intent)
	assert.Equal(t, []string{"weather", "notification"}, a.APIs)
	assert.True(t, a.WantsNotify())

	// A channel term alone is enough.
	a = c.Analyze(context.Background(), "내일 일정 슬랙으로 정리해줘")
	assert.Equal(t, "calendar_query", a.Intent)
	assert.True(t, a.WantsNotify())

	// Monotone: a longer message keeps the flag.
	a = c.Analyze(context.Background(), "오늘 날씨를 팀한테 알려줘, 꼭 오늘 중으로")
	assert.True(t, a.WantsNotify())
}

func TestClassifier_NoCompositeOnNotificationIntent(t *testing.T) {
	c := NewClassifier(nil)

	a := c.Analyze(context.Background(), "팀에 공지 보내줘")
	assert.Equal(t, "notification_send", a.Intent)
	assert.Equal(t, []string{"notification"}, a.APIs)
}
