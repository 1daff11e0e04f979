package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jykim-lab/maestro/pkg/tools"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"plain_object", `{"tasks":[]}`, true},
		{"fenced", "```json\n{\"tasks\":[]}\n```", true},
		{"with_prose", "계획은 다음과 같습니다: {\"tasks\":[]} 끝.", true},
		{"array_not_object", `[1,2,3]`, false},
		{"garbage", "no json here", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := ExtractJSONObject(tt.input)
			if tt.want {
				assert.NotNil(t, obj)
			} else {
				assert.Nil(t, obj)
			}
		})
	}
}

func TestPlanner_Plan(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`
{"tasks":[
  {"id":"t1","text":"날씨를 조회한다","tool":"weather.get","args":{"city":"서울"},"depends_on":[]},
  {"id":"t2","text":"결과를 요약한다","tool":"none","depends_on":["t1"]}
], "final_step":"t2"}`}}
	p := NewPlanner(provider, tools.PromptList(tools.DefaultSpecs()))

	plan, err := p.Plan(context.Background(), "서울 날씨 어때?", "weather_query", []string{"weather"}, nil)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, "weather.get", plan.Tasks[0].Tool)
	assert.Equal(t, "서울", plan.Tasks[0].Args["city"])
	assert.Equal(t, []string{"t1"}, plan.Tasks[1].DependsOn)
	assert.Equal(t, "t2", plan.FinalStep)

	// The prompt carries the tool registry and the request.
	require.Len(t, provider.prompts, 1)
	assert.Contains(t, provider.prompts[0], "weather.get")
	assert.Contains(t, provider.prompts[0], "서울 날씨 어때?")
}

func TestPlanner_PlanMalformedReply(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"죄송합니다, 계획을 세울 수 없습니다."}}
	p := NewPlanner(provider, "")

	plan, err := p.Plan(context.Background(), "x", "chat", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Tasks)
}

func TestPlanner_Replan(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"tasks":[{"id":"r1","text":"다른 도구로 재시도","tool":"rag.query","args":{"query":"날씨"}}]}`}}
	p := NewPlanner(provider, tools.PromptList(tools.DefaultSpecs()))

	current := []tools.Task{{ID: "t1", Tool: "weather.get"}}
	observations := []tools.Observation{{TaskID: "t1", Tool: "weather.get", Error: "connection refused"}}

	plan, err := p.Replan(context.Background(), "서울 날씨", "weather_query", []string{"weather"}, current, observations)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "rag.query", plan.Tasks[0].Tool)

	// Observations reach the prompt so the planner can react to the failure.
	require.Len(t, provider.prompts, 1)
	assert.Contains(t, provider.prompts[0], "connection refused")
}

func TestPlanner_NoProvider(t *testing.T) {
	p := NewPlanner(nil, "")
	_, err := p.Plan(context.Background(), "x", "chat", nil, nil)
	assert.Error(t, err)
}

func TestFillArgsPrompt(t *testing.T) {
	prompt := FillArgsPrompt("부산 날씨", "weather.get", tools.DefaultSpecs()[0].Args, nil)
	assert.Contains(t, prompt, "tool: weather.get")
	assert.Contains(t, prompt, "city")
	assert.Contains(t, prompt, "부산 날씨")
}

func TestFinalAnswerPrompt(t *testing.T) {
	obs := []tools.Observation{{TaskID: "t1", Tool: "weather.get", Result: map[string]interface{}{"city": "서울"}}}
	prompt := FinalAnswerPrompt("서울 날씨", "weather_query", []tools.Task{{ID: "t1"}}, obs)
	assert.Contains(t, prompt, "Intent: weather_query")
	assert.Contains(t, prompt, "서울")
}
