package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/metrics"
)

// DefaultCoinGeckoBase is the public CoinGecko API root (free tier).
const DefaultCoinGeckoBase = "https://api.coingecko.com/api/v3"

// DefaultCacheTTL is how long a fetched rate stays fresh.
const DefaultCacheTTL = 5 * time.Minute

// coinIDs maps supported currency codes to CoinGecko coin ids.
var coinIDs = map[string]string{
	"SOL": "solana",
	"BTC": "bitcoin",
	"ETH": "ethereum",
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// CoinGeckoProvider resolves spot rates from the CoinGecko simple-price
// endpoint. Rates are cached per currency with a TTL; when a refresh
// fails, the last known rate is served stale rather than failing the
// caller.
type CoinGeckoProvider struct {
	httpClient *http.Client
	baseURL    string
	ttl        time.Duration

	mu    sync.RWMutex
	cache map[string]cachedRate
}

// NewCoinGeckoProvider builds a provider against baseURL (empty selects
// the public API) with the given cache TTL (non-positive selects the
// default).
func NewCoinGeckoProvider(baseURL string, ttl time.Duration) *CoinGeckoProvider {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoBase
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CoinGeckoProvider{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		ttl:        ttl,
		cache:      make(map[string]cachedRate),
	}
}

// Rate returns the USD spot rate for one unit of currency. USD is 1
// without a lookup. Unknown currencies and failed refreshes with no
// cached fallback return ErrUnavailable.
func (p *CoinGeckoProvider) Rate(ctx context.Context, currency string, _ time.Time) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == USD {
		return one, nil
	}

	coinID, ok := coinIDs[currency]
	if !ok {
		metrics.RateLookupFailures.WithLabelValues(currency).Inc()
		return decimal.Decimal{}, fmt.Errorf("%w: unsupported currency %q", ErrUnavailable, currency)
	}

	p.mu.RLock()
	cached, hasCached := p.cache[currency]
	p.mu.RUnlock()
	if hasCached && time.Since(cached.fetchedAt) < p.ttl {
		return cached.rate, nil
	}

	rate, err := p.fetch(ctx, currency, coinID)
	if err != nil {
		metrics.RateLookupFailures.WithLabelValues(currency).Inc()
		if hasCached {
			slog.Warn("rates: refresh failed, serving stale rate",
				"currency", currency, "age", time.Since(cached.fetchedAt), "error", err)
			return cached.rate, nil
		}
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p.mu.Lock()
	p.cache[currency] = cachedRate{rate: rate, fetchedAt: time.Now()}
	p.mu.Unlock()
	return rate, nil
}

func (p *CoinGeckoProvider) fetch(ctx context.Context, currency, coinID string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		p.baseURL, url.QueryEscape(coinID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	// Response shape: {"solana": {"usd": 142.35}}. Decode the price as a
	// json.Number so the decimal survives exactly.
	var payload map[string]map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("unmarshal response: %w", err)
	}

	num, ok := payload[coinID]["usd"]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no usd price for %s in response", coinID)
	}
	rate, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", num.String(), err)
	}
	if rate.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("non-positive price %s for %s", rate, coinID)
	}

	slog.Debug("rates: refreshed", "currency", currency, "rate", rate)
	return rate, nil
}
