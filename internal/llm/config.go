// Package llm provides the LLM client used to turn filing text into a
// structured investment analysis. The record store treats its output as
// opaque payload; this package owns prompting and response cleanup only.
package llm

// ModelTier represents the capability level used for an analysis pass.
type ModelTier string

const (
	// TierFast is for quick-turnaround analyses of short filings.
	TierFast ModelTier = "fast"
	// TierDeep is for full analyses of complete annual/quarterly reports.
	TierDeep ModelTier = "deep"
)

// Provider represents an LLM provider.
type Provider string

// Provider constants define supported LLM providers.
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI is the OpenAI provider (future)
	ProviderOpenAI Provider = "openai"
)

// Config holds the model configuration for the analysis service.
type Config struct {
	Provider Provider
	Models   map[ModelTier]string
}

// DefaultConfig returns the default configuration (currently Gemini).
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierFast: "gemini-2.5-flash",
			TierDeep: "gemini-2.5-pro",
		},
	}
}

// GetModel returns the model name for a given tier, falling back to the fast
// tier when the requested one is not configured.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	if model, ok := c.Models[TierFast]; ok {
		return model
	}
	return ""
}

// WithModel returns a new Config with a specific model for a tier.
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := &Config{
		Provider: c.Provider,
		Models:   make(map[ModelTier]string),
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	newConfig.Models[tier] = model
	return newConfig
}
