// Package llm provides the generation capability used by every pipeline stage.
// It hides the provider behind Client and reports throttling as *throttle.Error.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for cheap follow-up work: keyword derivation, scoring
	TierLite ModelTier = "lite"
	// TierStandard is for structured planning, analysis and preference mining
	TierStandard ModelTier = "standard"
	// TierAdvanced is for drafting
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// Default sampling parameters
const (
	DefaultTemperature     float32 = 0.7
	DefaultMaxOutputTokens int32   = 2048
)

// Config holds the model configuration for the application
type Config struct {
	Provider        Provider
	Models          map[ModelTier]string
	Temperature     float32
	MaxOutputTokens int32
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.0-flash-lite",
			TierStandard: "gemini-2.0-flash",
			TierAdvanced: "gemini-2.0-flash",
		},
		Temperature:     DefaultTemperature,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// GetModel returns the model for tier. A tier without its own model uses the standard
// model, then the lite one.
func (c *Config) GetModel(tier ModelTier) string {
	for _, t := range []ModelTier{tier, TierStandard, TierLite} {
		if model := c.Models[t]; model != "" {
			return model
		}
	}
	return ""
}

// WithModels returns a copy of c with the given tier models replaced. Empty names are
// ignored, so unset overrides keep the defaults.
func (c *Config) WithModels(overrides map[ModelTier]string) *Config {
	out := *c
	out.Models = make(map[ModelTier]string, len(c.Models)+len(overrides))
	for tier, model := range c.Models {
		out.Models[tier] = model
	}
	for tier, model := range overrides {
		if model != "" {
			out.Models[tier] = model
		}
	}
	return &out
}
