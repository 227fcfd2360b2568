package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"goa.design/taskloop/runtime/agent/model"
)

type stubRuntimeClient struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (s *stubRuntimeClient) Converse(
	_ context.Context,
	params *bedrockruntime.ConverseInput,
	_ ...func(*bedrockruntime.Options),
) (*bedrockruntime.ConverseOutput, error) {
	s.input = params
	return s.out, s.err
}

func TestComplete_TranslatesRequestAndResponse(t *testing.T) {
	rt := &stubRuntimeClient{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "a.py, "},
				&brtypes.ContentBlockMemberText{Value: "b.py"},
			},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(7),
			OutputTokens: aws.Int32(3),
			TotalTokens:  aws.Int32(10),
		},
	}}
	client, err := New(rt, Options{DefaultModel: "anthropic.claude", MaxTokens: 64, Temperature: 0.2})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		System: "answer",
		Messages: []model.Message{
			{Role: model.RoleUser, Text: "list"},
			{Role: model.RoleUser, Text: "files"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "a.py, b.py", resp.Text)
	require.Equal(t, 10, resp.Usage.TotalTokens)
	require.Equal(t, "end_turn", resp.StopReason)

	in := rt.input
	require.Equal(t, "anthropic.claude", aws.ToString(in.ModelId))
	require.Len(t, in.Messages, 1)
	require.Len(t, in.Messages[0].Content, 2)
	require.Len(t, in.System, 1)
	require.Equal(t, int32(64), aws.ToInt32(in.InferenceConfig.MaxTokens))
	require.InDelta(t, 0.2, aws.ToFloat32(in.InferenceConfig.Temperature), 1e-6)
}

func TestComplete_WrapsThrottling(t *testing.T) {
	rt := &stubRuntimeClient{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	client, err := New(rt, Options{DefaultModel: "m"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.UserText("", "hi"))
	require.ErrorIs(t, err, model.ErrRateLimited)
	var pe *model.ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "ThrottlingException", pe.Code)
	require.Equal(t, "bedrock", pe.Provider)
}

func TestComplete_NonThrottlingError(t *testing.T) {
	rt := &stubRuntimeClient{err: &smithy.GenericAPIError{Code: "ValidationException", Message: "bad"}}
	client, err := New(rt, Options{DefaultModel: "m"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.UserText("", "hi"))
	require.Error(t, err)
	require.NotErrorIs(t, err, model.ErrRateLimited)
}

func TestInferenceConfig_OmittedWhenUnset(t *testing.T) {
	client, err := New(&stubRuntimeClient{}, Options{DefaultModel: "m"})
	require.NoError(t, err)
	require.Nil(t, client.inferenceConfig(0, 0))
}

func TestTranslateResponse_Nil(t *testing.T) {
	_, err := translateResponse(nil)
	require.Error(t, err)
}
