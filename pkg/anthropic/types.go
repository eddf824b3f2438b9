// Package anthropic wraps the Messages API behind a narrow interface the
// analysis stage can fake.
package anthropic

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Client sends a single Messages API request.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

type MessageRequest struct {
	Model     string
	MaxTokens int64
	System    string
	// SystemCacheTTL marks System as a prompt-cache breakpoint ("5m" or
	// "1h"). Empty leaves it uncached.
	SystemCacheTTL string
	Messages       []Message
	Temperature    *float64
}

// Message is one conversational turn. Any role other than "assistant" is
// sent as the user.
type Message struct {
	Role    string
	Content string
}

type MessageResponse struct {
	ID         string
	Model      string
	StopReason string
	Content    []ContentBlock
	Usage      Usage
}

type ContentBlock struct {
	Type string
	Text string
}

// Text joins the response's text blocks, skipping thinking and tool blocks.
func (r *MessageResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Usage counts tokens billed for one response.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Input:      u.Input + o.Input,
		Output:     u.Output + o.Output,
		CacheWrite: u.CacheWrite + o.CacheWrite,
		CacheRead:  u.CacheRead + o.CacheRead,
	}
}

// Log emits the usage at debug level, tagged with the model and the stage
// that spent it.
func (u Usage) Log(model, stage string) {
	zap.L().Debug("anthropic usage",
		zap.String("model", model),
		zap.String("stage", stage),
		zap.Int64("input_tokens", u.Input),
		zap.Int64("output_tokens", u.Output),
		zap.Int64("cache_write_tokens", u.CacheWrite),
		zap.Int64("cache_read_tokens", u.CacheRead),
	)
}
