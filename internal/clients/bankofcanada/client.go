// Package bankofcanada fetches daily foreign exchange rates from the Bank
// of Canada Valet API. Rates are cached in client_data.db so repeated
// lookups for the same date never hit the network.
package bankofcanada

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mapleledger/mapleledger/internal/clientdata"
	"github.com/mapleledger/mapleledger/internal/domain"
)

const (
	cacheTable = "fxrates"

	// The Valet API publishes one observation per business day. Looking
	// back a week always covers weekends and statutory holidays.
	lookbackDays = 7

	requestTimeout = 10 * time.Second
)

// Client is a Bank of Canada Valet API client with persistent caching.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *clientdata.Repository
	log        zerolog.Logger
}

// NewClient creates a new Valet API client.
func NewClient(baseURL string, cache *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		cache:      cache,
		log:        log.With().Str("client", "bankofcanada").Logger(),
	}
}

// observationsResponse mirrors the Valet observations payload. Each
// observation carries the series value keyed by the series name.
type observationsResponse struct {
	Observations []map[string]json.RawMessage `json:"observations"`
}

type observationValue struct {
	V string `json:"v"`
}

// cachedRate is the JSON blob stored per (series, date) cache key.
type cachedRate struct {
	Rate string `json:"rate"`
	Date string `json:"date"`
}

// RateFor returns the CAD exchange rate for one unit of the given currency
// on the given date. Weekends and holidays resolve to the most recent
// prior business day's published rate.
func (c *Client) RateFor(ctx context.Context, currency domain.Currency, date domain.Date) (decimal.Decimal, error) {
	if currency == domain.CAD {
		return domain.One, nil
	}

	series := fmt.Sprintf("FX%sCAD", currency)
	cacheKey := fmt.Sprintf("%s:%s", series, date.String())

	if data, err := c.cache.GetIfFresh(cacheTable, cacheKey); err == nil && data != nil {
		var cached cachedRate
		if err := json.Unmarshal(data, &cached); err == nil {
			if rate, err := decimal.NewFromString(cached.Rate); err == nil {
				return rate, nil
			}
		}
	}

	rate, obsDate, err := c.fetchRate(ctx, series, date)
	if err != nil {
		// Upstream unavailable: fall back to a stale cache entry before
		// giving up.
		if data, staleErr := c.cache.GetStale(cacheTable, cacheKey); staleErr == nil && data != nil {
			var cached cachedRate
			if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
				if stale, parseErr := decimal.NewFromString(cached.Rate); parseErr == nil {
					c.log.Warn().Err(err).Str("series", series).Str("date", date.String()).
						Msg("Valet API unavailable, serving stale cached rate")
					return stale, nil
				}
			}
		}
		return decimal.Zero, domain.Dependencyf(err, "exchange rate lookup failed for %s on %s", currency, date)
	}

	ttl := clientdata.TTLFxRateHistorical
	if date.Equal(domain.Today()) {
		ttl = clientdata.TTLFxRateToday
	}
	blob := cachedRate{Rate: rate.String(), Date: obsDate}
	if err := c.cache.Store(cacheTable, cacheKey, blob, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache exchange rate")
	}

	return rate, nil
}

// fetchRate queries the Valet observations endpoint over a trailing window
// and returns the latest observation on or before the requested date.
func (c *Client) fetchRate(ctx context.Context, series string, date domain.Date) (decimal.Decimal, string, error) {
	start := date.AddDays(-lookbackDays)
	url := fmt.Sprintf("%s/observations/%s/json?start_date=%s&end_date=%s",
		c.baseURL, series, start.String(), date.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, "", fmt.Errorf("valet API returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload observationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, "", fmt.Errorf("failed to decode response: %w", err)
	}

	// Observations arrive in ascending date order; walk backwards for the
	// last one on or before the requested date.
	for i := len(payload.Observations) - 1; i >= 0; i-- {
		obs := payload.Observations[i]

		var obsDate string
		if raw, ok := obs["d"]; ok {
			if err := json.Unmarshal(raw, &obsDate); err != nil {
				continue
			}
		}
		if obsDate == "" || obsDate > date.String() {
			continue
		}

		raw, ok := obs[series]
		if !ok {
			continue
		}
		var val observationValue
		if err := json.Unmarshal(raw, &val); err != nil {
			continue
		}
		rate, err := decimal.NewFromString(val.V)
		if err != nil || !rate.IsPositive() {
			continue
		}
		return rate, obsDate, nil
	}

	return decimal.Zero, "", fmt.Errorf("no observation found for %s on or before %s", series, date)
}
