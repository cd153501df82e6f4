package mocks

import (
	"context"
	"sync"

	"github.com/jonathan/viral-agents/internal/llm"
)

// MockLLMClient implements llm.Client for testing
type MockLLMClient struct {
	GenerateFunc     func(ctx context.Context, prompt, systemPrompt string, tier llm.ModelTier) (*llm.Response, error)
	GenerateJSONFunc func(ctx context.Context, prompt, systemPrompt string, tier llm.ModelTier) (*llm.Response, error)

	mu      sync.Mutex
	prompts []string
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt, systemPrompt string, tier llm.ModelTier) (*llm.Response, error) {
	m.record(prompt)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, systemPrompt, tier)
	}
	return &llm.Response{Text: "mock"}, nil
}

func (m *MockLLMClient) GenerateJSON(ctx context.Context, prompt, systemPrompt string, tier llm.ModelTier) (*llm.Response, error) {
	m.record(prompt)
	if m.GenerateJSONFunc != nil {
		return m.GenerateJSONFunc(ctx, prompt, systemPrompt, tier)
	}
	return &llm.Response{Text: `{}`}, nil
}

func (m *MockLLMClient) GetModel(_ llm.ModelTier) string {
	return "mock-model"
}

func (m *MockLLMClient) Close() error {
	return nil
}

func (m *MockLLMClient) record(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
}

// Calls returns the number of generation requests made
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns every prompt sent
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// JSONResponse returns a generate func that always answers text
func JSONResponse(text string, tokens int) func(context.Context, string, string, llm.ModelTier) (*llm.Response, error) {
	return func(context.Context, string, string, llm.ModelTier) (*llm.Response, error) {
		return &llm.Response{Text: text, TokensUsed: tokens}, nil
	}
}
