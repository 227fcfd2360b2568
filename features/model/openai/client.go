// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API using github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"goa.design/taskloop/runtime/agent/model"
)

// ChatClient captures the subset of the openai-go client used by the adapter.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
	// MaxTokens is used when a request does not set one.
	MaxTokens int
	// Temperature is used when a request does not set one.
	Temperature float32
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat        ChatClient
	model       string
	maxTokens   int
	temperature float32
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{
		chat:        opts.Client,
		model:       opts.DefaultModel,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
// baseURL is optional and targets OpenAI-compatible endpoints.
func NewFromAPIKey(apiKey, defaultModel, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	oc := openai.NewClient(reqOpts...)
	return New(Options{Client: &oc.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Text))
		default:
			messages = append(messages, openai.UserMessage(m.Text))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if n := firstInt(req.MaxTokens, c.maxTokens); n > 0 {
		params.MaxCompletionTokens = openai.Int(int64(n))
	}
	if t := firstFloat(req.Temperature, c.temperature); t > 0 {
		params.Temperature = openai.Float(float64(t))
	}
	if req.JSON {
		obj := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &obj}
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return model.Response{}, classify(err)
	}
	return translateResponse(resp), nil
}

func translateResponse(resp *openai.ChatCompletion) model.Response {
	if resp == nil {
		return model.Response{}
	}
	out := model.Response{
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.StopReason = resp.Choices[0].FinishReason
	}
	return out
}

// classify maps openai-go API errors to model.ProviderError so the rate
// limiter and retry policies can react to throttling.
func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &model.ProviderError{
			Provider:   "openai",
			Operation:  "chat.completions",
			HTTPStatus: apierr.StatusCode,
			Kind:       model.KindForStatus(apierr.StatusCode),
			Code:       apierr.Code,
			Message:    apierr.Message,
			Cause:      err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("openai chat completion: %w", err)
}

func firstInt(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstFloat(vals ...float32) float32 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
