// Package rates resolves currency-to-USD conversion rates for PNL scoring.
package rates

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/metrics"
)

// USD is the settlement currency. Its rate is 1 by definition.
const USD = "USD"

// ErrUnavailable is returned when no usable rate exists for a currency.
// Callers treat it as a soft failure: the affected record is excluded
// from the computation rather than failing it.
var ErrUnavailable = errors.New("rates: rate unavailable")

// Provider resolves the USD rate for one unit of a currency.
//
// The at parameter names the instant the caller is scoring for. Providers
// without historical data return the spot rate at call time, which is the
// rate in effect at the time of scoring.
type Provider interface {
	Rate(ctx context.Context, currency string, at time.Time) (decimal.Decimal, error)
}

var one = decimal.NewFromInt(1)

// StaticProvider serves rates from a fixed table. It backs tests and
// offline deployments where live rate lookups are unwanted.
type StaticProvider struct {
	table map[string]decimal.Decimal
}

// NewStaticProvider builds a provider over a fixed currency-to-rate table.
// Keys are case-insensitive; USD is always present at 1.
func NewStaticProvider(table map[string]decimal.Decimal) *StaticProvider {
	normalized := make(map[string]decimal.Decimal, len(table)+1)
	for currency, rate := range table {
		normalized[strings.ToUpper(currency)] = rate
	}
	normalized[USD] = one
	return &StaticProvider{table: normalized}
}

// Rate returns the fixed rate for currency, or ErrUnavailable.
func (p *StaticProvider) Rate(_ context.Context, currency string, _ time.Time) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if rate, ok := p.table[currency]; ok {
		return rate, nil
	}
	metrics.RateLookupFailures.WithLabelValues(currency).Inc()
	return decimal.Decimal{}, ErrUnavailable
}
