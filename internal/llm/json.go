package llm

import (
	"context"
	"encoding/json"
)

// DecodeOption adjusts GenerateInto.
type DecodeOption func(*decodeOptions)

type decodeOptions struct {
	validate func([]byte) error
}

// WithValidator checks the raw JSON document before it is decoded.
func WithValidator(validate func([]byte) error) DecodeOption {
	return func(o *decodeOptions) {
		o.validate = validate
	}
}

// GenerateInto runs a JSON generation and decodes the result into out.
// Tokens are reported even when decoding fails so the caller can record them.
func GenerateInto(ctx context.Context, client Client, prompt, systemPrompt string, tier ModelTier, out any, opts ...DecodeOption) (int, error) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	resp, err := client.GenerateJSON(ctx, prompt, systemPrompt, tier)
	if err != nil {
		return 0, err
	}

	raw := CleanJSONBlock(resp.Text)
	if !json.Valid([]byte(raw)) {
		return resp.TokensUsed, &ParseError{Raw: resp.Text}
	}
	if o.validate != nil {
		if err := o.validate([]byte(raw)); err != nil {
			return resp.TokensUsed, &ParseError{Raw: resp.Text, Cause: err}
		}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return resp.TokensUsed, &ParseError{Raw: resp.Text, Cause: err}
	}
	return resp.TokensUsed, nil
}
