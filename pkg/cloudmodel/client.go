// Package cloudmodel is the external model client used by the third
// analyzer phase. It wraps the vendor SDK behind a narrow interface so the
// phase worker and its tests never touch SDK types.
package cloudmodel

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client performs single-document analysis calls.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is one analysis call.
type Request struct {
	Model     string
	MaxTokens int64
	System    string
	Prompt    string
}

// Response carries the model's text plus token accounting for the budget
// ledger.
type Response struct {
	Text         string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// TotalTokens is the amount charged against the daily budget.
func (r *Response) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

type sdkClient struct {
	client sdk.Client
}

// Option configures the client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the SDK at a different endpoint, used by tests.
func WithBaseURL(url string) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// NewClient creates an external model client backed by the vendor SDK.
func NewClient(apiKey string, opts ...Option) Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "cloudmodel: create message")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text:         text,
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}
