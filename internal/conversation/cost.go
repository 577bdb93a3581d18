package conversation

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// RateProvider converts USD into another currency.
type RateProvider interface {
	// USDRate returns how many units of currency one USD buys.
	USDRate(ctx context.Context, currency string) (float64, error)
}

// ErrUnknownCurrency is returned by StaticRates for currencies it has no rate for.
var ErrUnknownCurrency = errors.New("conversation: unknown currency")

// StaticRates serves fixed exchange rates keyed by ISO currency code.
type StaticRates map[string]float64

func (r StaticRates) USDRate(_ context.Context, currency string) (float64, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "USD" {
		return 1, nil
	}
	rate, ok := r[currency]
	if !ok || rate <= 0 {
		return 0, ErrUnknownCurrency
	}
	return rate, nil
}

// CostEstimator prices token usage with per-million-token USD rates.
type CostEstimator struct {
	inputPerMTok  float64
	outputPerMTok float64
	currency      string
	rates         RateProvider
	logger        *logging.Logger
}

// NewCostEstimator builds an estimator reporting in currency. A nil rates provider reports
// in USD.
func NewCostEstimator(inputPerMTok, outputPerMTok float64, currency string, rates RateProvider, logger *logging.Logger) *CostEstimator {
	if logger == nil {
		logger = logging.Default()
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	return &CostEstimator{
		inputPerMTok:  inputPerMTok,
		outputPerMTok: outputPerMTok,
		currency:      currency,
		rates:         rates,
		logger:        logger,
	}
}

// Estimate prices usage. Exchange-rate failures fall back to USD.
func (e *CostEstimator) Estimate(ctx context.Context, usage TokenUsage) Cost {
	if e == nil {
		return Cost{Currency: "USD"}
	}
	usd := float64(usage.InputTokens)*e.inputPerMTok/1e6 + float64(usage.OutputTokens)*e.outputPerMTok/1e6
	if e.currency == "USD" || e.rates == nil {
		return Cost{Amount: round6(usd), Currency: "USD"}
	}
	rate, err := e.rates.USDRate(ctx, e.currency)
	if err != nil {
		e.logger.Warn("exchange rate unavailable, reporting cost in USD", "currency", e.currency, "error", err)
		return Cost{Amount: round6(usd), Currency: "USD"}
	}
	return Cost{Amount: round6(usd * rate), Currency: e.currency}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
