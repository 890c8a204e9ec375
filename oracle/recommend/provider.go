package recommend

import (
	"context"
	"fmt"
	"strings"

	"github.com/GPTx-global/oao-assistant/oracle/config"
)

// Completion is one text-in/text-out request to a language model.
type Completion struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int64
}

// Provider always returns plain text. Adapters flatten whatever shape their
// SDK responds with in a single textOf function.
type Provider interface {
	Name() string
	Complete(ctx context.Context, c Completion) (string, error)
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.BaseURL), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
