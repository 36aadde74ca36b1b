package workers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/sleuth/internal/llm"
	"github.com/ShayCichocki/sleuth/pkg/models"
)

func request(taskType models.TaskType, payload models.Payload, upstream map[string]*models.TaskResult) models.AgentMessage {
	return models.AgentMessage{
		ID:        "req-1",
		Sender:    models.CoordinatorID,
		Recipient: "worker",
		Metadata:  models.MessageMetadata{ConversationID: "conv-1", RequestID: "rid-1"},
		Body: models.RequestBody{
			TaskID:   "t1",
			TaskType: taskType,
			Title:    "Assess Acme",
			Payload:  payload,
			Upstream: upstream,
		},
	}
}

func reply(c llm.CompleterFunc, role models.WorkerRole, msg models.AgentMessage) (*models.TaskResult, models.AgentMessage, error) {
	out, err := NewLLMWorker(role, c).Handle(context.Background(), msg)
	if err != nil {
		return nil, out, err
	}
	body, ok := out.Body.(models.ResponseBody)
	if !ok {
		return nil, out, errors.New("not a response body")
	}
	return body.Result, out, nil
}

func TestLLMWorker_ParsesStructuredReply(t *testing.T) {
	c := llm.CompleterFunc(func(ctx context.Context, system, prompt string) (string, error) {
		return "```json\n" + `{"subject":"Acme","category":"risk_assessment","claim":"high","confidence":0.9,"summary":"Leverage is high.","findings":["debt/equity 3.1"],"recommendations":["hedge"]}` + "\n```", nil
	})

	res, out, err := reply(c, models.RoleAnalysis, request(models.TaskTypeRiskAssessment, models.AnalysisPayload{Subject: "Acme"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "rid-1", out.Metadata.RequestID)
	assert.Equal(t, "conv-1", out.Metadata.ConversationID)
	assert.Equal(t, models.CoordinatorID, out.Recipient)

	assert.Equal(t, "Acme", res.Subject)
	assert.Equal(t, "risk_assessment", res.Category)
	assert.Equal(t, "high", res.Claim)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, []string{"debt/equity 3.1"}, res.Findings)
	assert.False(t, res.Recovered)
}

func TestLLMWorker_RecoversWithRoleDefaults(t *testing.T) {
	raw := strings.Repeat("plain prose without structure ", 40)
	c := llm.CompleterFunc(func(ctx context.Context, system, prompt string) (string, error) {
		return raw, nil
	})

	tests := []struct {
		role models.WorkerRole
		want float64
	}{
		{models.RoleResearch, 0.8},
		{models.RoleAnalysis, 0.75},
		{models.RoleSynthesis, 0.85},
		{models.RoleCompliance, 0.7},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			res, _, err := reply(c, tt.role, request(models.TaskTypeLiteratureReview, models.ResearchPayload{Query: "Acme debt"}, nil))
			require.NoError(t, err)
			assert.True(t, res.Recovered)
			assert.Equal(t, tt.want, res.Confidence)
			assert.Empty(t, res.Findings)
			assert.NotNil(t, res.Findings)
			assert.Empty(t, res.Recommendations)
			assert.Equal(t, llm.Truncate(strings.TrimSpace(raw), summaryLimit), res.Summary)
			assert.Equal(t, "Acme debt", res.Subject)
			assert.Equal(t, "claim", res.Category)
		})
	}
}

func TestLLMWorker_OutOfRangeConfidenceUsesDefault(t *testing.T) {
	c := llm.CompleterFunc(func(ctx context.Context, system, prompt string) (string, error) {
		return `{"claim":"x","confidence":7}`, nil
	})
	res, _, err := reply(c, models.RoleResearch, request(models.TaskTypeDataCollection, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 0.8, res.Confidence)
}

func TestLLMWorker_CompletionError(t *testing.T) {
	c := llm.CompleterFunc(func(ctx context.Context, system, prompt string) (string, error) {
		return "", errors.New("rate limited")
	})
	_, _, err := reply(c, models.RoleResearch, request(models.TaskTypeDataCollection, nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestLLMWorker_PromptCarriesPayloadAndUpstream(t *testing.T) {
	var gotSystem, gotPrompt string
	c := llm.CompleterFunc(func(ctx context.Context, system, prompt string) (string, error) {
		gotSystem, gotPrompt = system, prompt
		return `{}`, nil
	})
	upstream := map[string]*models.TaskResult{
		"r2": {Subject: "Acme", Claim: "rising debt", Confidence: 0.7},
		"r1": {Subject: "Acme", Claim: "new CFO", Confidence: 0.6},
	}
	_, _, err := reply(c, models.RoleSynthesis, request(models.TaskTypeSynthesis, models.SynthesisPayload{Audience: "board", Sections: []string{"risks"}}, upstream))
	require.NoError(t, err)

	assert.Contains(t, gotSystem, "synthesis specialist")
	assert.Contains(t, gotSystem, `"confidence"`)
	assert.Contains(t, gotPrompt, "Audience: board")
	assert.Contains(t, gotPrompt, "Sections: risks")
	assert.Less(t, strings.Index(gotPrompt, "- r1:"), strings.Index(gotPrompt, "- r2:"))
	assert.Contains(t, gotPrompt, "rising debt")
}

func TestLLMWorker_NonRequestMessage(t *testing.T) {
	w := NewLLMWorker(models.RoleResearch, nil)
	out, err := w.Handle(context.Background(), models.AgentMessage{Body: models.ErrorBody{}})
	require.NoError(t, err)
	assert.Equal(t, models.MessageError, out.Type())
}

func TestOfflineWorker(t *testing.T) {
	w := NewOfflineWorker(models.RoleAnalysis)
	upstream := map[string]*models.TaskResult{"b": {Claim: "two"}, "a": {Claim: "one"}}

	out, err := w.Handle(context.Background(), request(models.TaskTypeRiskAssessment, models.AnalysisPayload{Subject: "Acme"}, upstream))
	require.NoError(t, err)
	res := out.Body.(models.ResponseBody).Result
	assert.Equal(t, "Acme", res.Subject)
	assert.Equal(t, "risk_assessment", res.Category)
	assert.Equal(t, "medium", res.Claim)
	assert.Equal(t, 0.75, res.Confidence)
	assert.Equal(t, []string{"a: one", "b: two"}, res.Findings)

	again, err := w.Handle(context.Background(), request(models.TaskTypeRiskAssessment, models.AnalysisPayload{Subject: "Acme"}, upstream))
	require.NoError(t, err)
	assert.Equal(t, res, again.Body.(models.ResponseBody).Result)
}

func TestOfflineWorker_HonorsContext(t *testing.T) {
	w := NewOfflineWorker(models.RoleResearch)
	w.Delay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := w.Handle(ctx, request(models.TaskTypeDataCollection, nil, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewWorkerSets(t *testing.T) {
	assert.Len(t, NewOfflineWorkers(0), len(models.AllRoles()))
	assert.Len(t, NewLLMWorkers(nil, nil), len(models.AllRoles()))
}
