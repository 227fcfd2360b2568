package openai_test

import (
	"context"
	"errors"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	openaimodel "goa.design/taskloop/features/model/openai"
	"goa.design/taskloop/runtime/agent/model"
)

type mockChatClient struct {
	captured openai.ChatCompletionNewParams
	response *openai.ChatCompletion
	err      error
}

func (m *mockChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.captured = body
	return m.response, m.err
}

func TestClientComplete(t *testing.T) {
	mock := &mockChatClient{
		response: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{{
				FinishReason: "stop",
				Message:      openai.ChatCompletionMessage{Content: `{"type":"tool","name":"ls"}`},
			}},
			Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o", MaxTokens: 256})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		System:   "route the task",
		Messages: []model.Message{{Role: model.RoleUser, Text: "list files"}},
		JSON:     true,
	})
	require.NoError(t, err)
	require.Equal(t, `{"type":"tool","name":"ls"}`, resp.Text)
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, 15, resp.Usage.TotalTokens)
	require.Equal(t, 10, resp.Usage.InputTokens)

	req := mock.captured
	require.Equal(t, "gpt-4o", string(req.Model))
	require.Len(t, req.Messages, 2)
	require.NotNil(t, req.Messages[0].OfSystem)
	require.NotNil(t, req.Messages[1].OfUser)
	require.NotNil(t, req.ResponseFormat.OfJSONObject)
	require.Equal(t, int64(256), req.MaxCompletionTokens.Value)
}

func TestClientCompleteModelOverride(t *testing.T) {
	mock := &mockChatClient{response: &openai.ChatCompletion{}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.Request{
		Model:    "gpt-4o-mini",
		Messages: []model.Message{{Role: model.RoleUser, Text: "hi"}, {Role: model.RoleAssistant, Text: "hello"}},
	})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", string(mock.captured.Model))
	require.Len(t, mock.captured.Messages, 2)
	require.NotNil(t, mock.captured.Messages[1].OfAssistant)
	require.Nil(t, mock.captured.ResponseFormat.OfJSONObject)
}

func TestClientCompleteRateLimited(t *testing.T) {
	mock := &mockChatClient{err: &openai.Error{StatusCode: 429, Message: "slow down"}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.UserText("", "hi"))
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrRateLimited)
	var pe *model.ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "openai", pe.Provider)
	require.True(t, pe.Retryable())
}

func TestClientCompleteRequiresMessages(t *testing.T) {
	client, err := openaimodel.New(openaimodel.Options{Client: &mockChatClient{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), model.Request{})
	require.Error(t, err)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := openaimodel.New(openaimodel.Options{DefaultModel: "gpt-4o"})
	require.Error(t, err)
	_, err = openaimodel.New(openaimodel.Options{Client: &mockChatClient{}})
	require.Error(t, err)
	_, err = openaimodel.NewFromAPIKey("", "gpt-4o", "")
	require.Error(t, err)
}
