// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API using github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/taskloop/runtime/agent/model"
)

// defaultMaxTokens applies when neither the request nor the options set a
// completion cap. The Messages API requires one.
const defaultMaxTokens = 4096

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by the
	// adapter. It is satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures optional Anthropic adapter behavior.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// model.Request.Model is empty.
		DefaultModel string
		// MaxTokens sets the default completion cap.
		MaxTokens int
		// Temperature is used when a request does not specify one.
		Temperature float64
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = defaultMaxTokens
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTok: maxTok, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a Messages.New request and returns the concatenated text
// blocks of the reply.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return model.Response{}, classify(err)
	}
	return translateResponse(msg)
}

func (c *Client) prepareRequest(req model.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  encodeMessages(req.Messages),
		Model:     sdk.Model(modelID),
	}
	system := req.System
	if req.JSON {
		// No structured output mode on Messages; steer through the system prompt.
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	t := c.temp
	if req.Temperature > 0 {
		t = float64(req.Temperature)
	}
	if t > 0 {
		params.Temperature = sdk.Float(t)
	}
	return params, nil
}

// encodeMessages merges consecutive messages with the same role since the
// Messages API requires alternating turns.
func encodeMessages(msgs []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var (
		role  model.Role
		texts []string
	)
	flush := func() {
		if len(texts) == 0 {
			return
		}
		block := sdk.NewTextBlock(strings.Join(texts, "\n\n"))
		if role == model.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
		texts = nil
	}
	for _, m := range msgs {
		r := m.Role
		if r != model.RoleAssistant {
			r = model.RoleUser
		}
		if r != role {
			flush()
			role = r
		}
		texts = append(texts, m.Text)
	}
	flush()
	return out
}

func classify(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return &model.ProviderError{
			Provider:   "anthropic",
			Operation:  "messages.new",
			HTTPStatus: apierr.StatusCode,
			Kind:       model.KindForStatus(apierr.StatusCode),
			Cause:      err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("anthropic messages.new: %w", err)
}

func translateResponse(msg *sdk.Message) (model.Response, error) {
	if msg == nil {
		return model.Response{}, errors.New("anthropic: response message is nil")
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return model.Response{
		Text: b.String(),
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}, nil
}
