package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/davidchen/finsight/internal/prompts"
)

// maxFilingChars caps the filing text sent to the model; long annual reports
// blow past context limits otherwise.
const maxFilingChars = 400_000

// FilingAnalyzer turns extracted filing text into a structured investment
// analysis payload. It satisfies the analysis service's Analyzer contract.
type FilingAnalyzer struct {
	client Client
	tier   ModelTier
}

// NewFilingAnalyzer creates an analyzer on top of an LLM client.
func NewFilingAnalyzer(client Client, tier ModelTier) *FilingAnalyzer {
	if tier == "" {
		tier = TierDeep
	}
	return &FilingAnalyzer{client: client, tier: tier}
}

// Analyze prompts the model with the filing text and parses its JSON reply.
func (a *FilingAnalyzer) Analyze(ctx context.Context, text string) (map[string]any, error) {
	if text == "" {
		return nil, fmt.Errorf("filing text is empty")
	}
	if len(text) > maxFilingChars {
		text = text[:maxFilingChars]
	}

	template, err := prompts.Get("analysis.json", "investment-analysis")
	if err != nil {
		return nil, err
	}
	prompt := prompts.Format(template, map[string]string{"FilingText": text})

	raw, err := a.client.GenerateJSON(ctx, prompt, a.tier)
	if err != nil {
		return nil, fmt.Errorf("analysis generation failed: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}
	return result, nil
}
