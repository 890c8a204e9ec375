package recommend

import (
	"context"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	metrics "github.com/armon/go-metrics"

	"github.com/GPTx-global/oao-assistant/oracle/config"
	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/pricefeed"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

// PriceSource supplies optional market context. *pricefeed.Client implements it.
type PriceSource interface {
	ETH(ctx context.Context) (pricefeed.Quote, error)
}

type Recommendation struct {
	Text     string           `json:"recommendation"`
	Provider string           `json:"provider"`
	Price    *pricefeed.Quote `json:"eth_price,omitempty"`
}

// Engine asks a language model for a yield strategy.
type Engine struct {
	provider Provider
	prices   PriceSource
	cfg      config.LLMConfig
}

// NewEngine accepts a nil prices source, in which case prompts carry no
// market context.
func NewEngine(provider Provider, prices PriceSource, cfg config.LLMConfig) *Engine {
	return &Engine{
		provider: provider,
		prices:   prices,
		cfg:      cfg,
	}
}

// Recommend never fails because of the price feed; only a provider error or
// an empty request is returned.
func (e *Engine) Recommend(ctx context.Context, request string, risk RiskProfile) (Recommendation, error) {
	if strings.TrimSpace(request) == "" {
		return Recommendation{}, errorsmod.Wrap(types.ErrInvalidRequest, "request is empty")
	}
	defer metrics.MeasureSince([]string{"recommend", "latency"}, time.Now())

	var quote *pricefeed.Quote
	if e.prices != nil {
		q, err := e.prices.ETH(ctx)
		if err != nil {
			log.Warnf("price feed unavailable, continuing without it: %v", err)
			metrics.IncrCounter([]string{"recommend", "price", "failures"}, 1)
		} else {
			quote = &q
		}
	}

	text, err := e.provider.Complete(ctx, Completion{
		Model:       e.cfg.Model,
		System:      e.cfg.System,
		Prompt:      recommendationPrompt(request, risk, quote),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		metrics.IncrCounter([]string{"recommend", "failures"}, 1)
		return Recommendation{}, errorsmod.Wrapf(types.ErrProvider, "%s: %v", e.provider.Name(), err)
	}

	metrics.IncrCounter([]string{"recommend", "success"}, 1)
	return Recommendation{
		Text:     strings.TrimSpace(text),
		Provider: e.provider.Name(),
		Price:    quote,
	}, nil
}
