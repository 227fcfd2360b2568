// Package gemini provides a model.Client implementation backed by the Google
// Gemini API using google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"goa.design/taskloop/runtime/agent/model"
)

type (
	// ModelsClient captures the subset of the genai client used by the
	// adapter. It is satisfied by *genai.Models.
	ModelsClient interface {
		GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	}

	// Options configures the Gemini adapter.
	Options struct {
		// DefaultModel is used when model.Request.Model is empty.
		DefaultModel string
		// MaxTokens is used when a request does not set one.
		MaxTokens int
		// Temperature is used when a request does not set one.
		Temperature float32
	}

	// Client implements model.Client via GenerateContent.
	Client struct {
		models      ModelsClient
		model       string
		maxTokens   int
		temperature float32
	}
)

// New builds a Gemini-backed model client.
func New(models ModelsClient, opts Options) (*Client, error) {
	if models == nil {
		return nil, errors.New("gemini models client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{
		models:      models,
		model:       opts.DefaultModel,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a client for the Gemini Developer API.
func NewFromAPIKey(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return New(gc.Models, opts)
}

// Complete generates content for req.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		// Consecutive messages of one role are merged into a single turn.
		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, &genai.Part{Text: m.Text})
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if n := req.MaxTokens; n > 0 {
		cfg.MaxOutputTokens = int32(n)
	} else if c.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.maxTokens)
	}
	if t := req.Temperature; t > 0 {
		cfg.Temperature = genai.Ptr(t)
	} else if c.temperature > 0 {
		cfg.Temperature = genai.Ptr(c.temperature)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	resp, err := c.models.GenerateContent(ctx, modelID, contents, cfg)
	if err != nil {
		return model.Response{}, classify(err)
	}
	return translateResponse(resp), nil
}

func translateResponse(resp *genai.GenerateContentResponse) model.Response {
	if resp == nil {
		return model.Response{}
	}
	var out model.Response
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		out.StopReason = string(cand.FinishReason)
		if cand.Content != nil {
			var b strings.Builder
			for _, p := range cand.Content.Parts {
				if p != nil && !p.Thought {
					b.WriteString(p.Text)
				}
			}
			out.Text = b.String()
		}
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.TokenUsage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out
}

// classify maps genai API errors to model.ProviderError.
func classify(err error) error {
	var apierr genai.APIError
	if !errors.As(err, &apierr) {
		var p *genai.APIError
		if !errors.As(err, &p) || p == nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("gemini generate content: %w", err)
		}
		apierr = *p
	}
	return &model.ProviderError{
		Provider:   "gemini",
		Operation:  "models.generate_content",
		HTTPStatus: apierr.Code,
		Kind:       model.KindForStatus(apierr.Code),
		Code:       apierr.Status,
		Message:    apierr.Message,
		Cause:      err,
	}
}
