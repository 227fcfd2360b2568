package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"goa.design/taskloop/runtime/agent/model"
)

type stubModels struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (s *stubModels) GenerateContent(_ context.Context, m string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.model, s.contents, s.config = m, contents, cfg
	return s.resp, s.err
}

func TestComplete(t *testing.T) {
	stub := &stubModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{
				{Text: "thinking", Thought: true},
				{Text: `{"type":"terminate",`},
				{Text: `"response":"done"}`},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 4, TotalTokenCount: 16},
	}}
	c, err := New(stub, Options{DefaultModel: "gemini-2.5-flash", MaxTokens: 512, Temperature: 0.2})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.Request{
		System: "route the task",
		Messages: []model.Message{
			{Role: model.RoleUser, Text: "list files"},
			{Role: model.RoleUser, Text: "be brief"},
			{Role: model.RoleAssistant, Text: "ok"},
		},
		JSON: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"terminate","response":"done"}`, resp.Text)
	assert.Equal(t, "STOP", resp.StopReason)
	assert.Equal(t, model.TokenUsage{InputTokens: 12, OutputTokens: 4, TotalTokens: 16}, resp.Usage)

	assert.Equal(t, "gemini-2.5-flash", stub.model)
	require.Len(t, stub.contents, 2)
	assert.Equal(t, "user", stub.contents[0].Role)
	assert.Len(t, stub.contents[0].Parts, 2)
	assert.Equal(t, "model", stub.contents[1].Role)
	assert.Equal(t, "application/json", stub.config.ResponseMIMEType)
	assert.Equal(t, int32(512), stub.config.MaxOutputTokens)
	require.NotNil(t, stub.config.Temperature)
	assert.InDelta(t, 0.2, *stub.config.Temperature, 1e-6)
	require.NotNil(t, stub.config.SystemInstruction)
	assert.Equal(t, "route the task", stub.config.SystemInstruction.Parts[0].Text)
}

func TestCompleteRequestOverrides(t *testing.T) {
	stub := &stubModels{resp: &genai.GenerateContentResponse{}}
	c, err := New(stub, Options{DefaultModel: "gemini-2.5-flash", MaxTokens: 512})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), model.Request{
		Model:     "gemini-2.5-pro",
		MaxTokens: 64,
		Messages:  []model.Message{{Role: model.RoleUser, Text: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", stub.model)
	assert.Equal(t, int32(64), stub.config.MaxOutputTokens)
	assert.Nil(t, stub.config.Temperature)
	assert.Empty(t, stub.config.ResponseMIMEType)
}

func TestCompleteRateLimited(t *testing.T) {
	stub := &stubModels{err: genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}}
	c, err := New(stub, Options{DefaultModel: "gemini-2.5-flash"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), model.UserText("", "hi"))
	require.ErrorIs(t, err, model.ErrRateLimited)
	var pe *model.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "gemini", pe.Provider)
	assert.Equal(t, "RESOURCE_EXHAUSTED", pe.Code)
}

func TestCompleteTransportError(t *testing.T) {
	stub := &stubModels{err: errors.New("connection reset")}
	c, err := New(stub, Options{DefaultModel: "gemini-2.5-flash"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), model.UserText("", "hi"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrRateLimited)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "m"})
	assert.Error(t, err)
	_, err = New(&stubModels{}, Options{})
	assert.Error(t, err)
	_, err = NewFromAPIKey(context.Background(), "", Options{DefaultModel: "m"})
	assert.Error(t, err)
}
