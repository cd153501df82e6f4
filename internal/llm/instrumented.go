package llm

import (
	"context"
	"time"
)

// Recorder receives one observation per generation call.
type Recorder interface {
	ObserveGeneration(model string, tier string, tokens int, elapsed time.Duration, err error)
}

// InstrumentedClient decorates a Client with per-call observations.
type InstrumentedClient struct {
	next     Client
	recorder Recorder
}

// NewInstrumentedClient wraps next. A nil recorder returns next unchanged.
func NewInstrumentedClient(next Client, recorder Recorder) Client {
	if recorder == nil {
		return next
	}
	return &InstrumentedClient{next: next, recorder: recorder}
}

// Generate implements Client.
func (c *InstrumentedClient) Generate(ctx context.Context, prompt, systemPrompt string, tier ModelTier) (*Response, error) {
	start := time.Now()
	resp, err := c.next.Generate(ctx, prompt, systemPrompt, tier)
	c.observe(tier, resp, start, err)
	return resp, err
}

// GenerateJSON implements Client.
func (c *InstrumentedClient) GenerateJSON(ctx context.Context, prompt, systemPrompt string, tier ModelTier) (*Response, error) {
	start := time.Now()
	resp, err := c.next.GenerateJSON(ctx, prompt, systemPrompt, tier)
	c.observe(tier, resp, start, err)
	return resp, err
}

// GetModel implements Client.
func (c *InstrumentedClient) GetModel(tier ModelTier) string {
	return c.next.GetModel(tier)
}

// Close implements Client.
func (c *InstrumentedClient) Close() error {
	return c.next.Close()
}

func (c *InstrumentedClient) observe(tier ModelTier, resp *Response, start time.Time, err error) {
	tokens := 0
	if resp != nil {
		tokens = resp.TokensUsed
	}
	c.recorder.ObserveGeneration(c.next.GetModel(tier), string(tier), tokens, time.Since(start), err)
}
