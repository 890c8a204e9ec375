package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/dgraph-io/ristretto"
	"github.com/tidwall/gjson"

	"github.com/GPTx-global/oao-assistant/oracle/config"
	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/retry"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

// CoinEthereum is CoinGecko's id for ether.
const CoinEthereum = "ethereum"

// After breakerFailures failed quotes in a row the API is left alone for
// breakerReset; quotes fail fast meanwhile.
const (
	breakerFailures = 3
	breakerReset    = time.Minute
)

var (
	once      sync.Once
	transport *http.Transport
)

// sharedTransport keeps one connection pool for every price client in the process.
func sharedTransport() *http.Transport {
	once.Do(func() {
		transport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			MaxConnsPerHost:     20,
		}
	})

	return transport
}

// Quote is a USD spot price and its 24 hour change in percent.
type Quote struct {
	USD       float64 `json:"usd"`
	Change24h float64 `json:"usd_24h_change"`
}

func (q Quote) String() string {
	return fmt.Sprintf("$%.2f (%+.2f%% 24h)", q.USD, q.Change24h)
}

// Client reads spot prices from a CoinGecko compatible API.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *ristretto.Cache
	ttl     time.Duration
	retries *retry.Config
	breaker *retry.CircuitBreaker
}

func NewClient(cfg config.PriceConfig) (*Client, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1_000,
		MaxCost:     100,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create price cache: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: sharedTransport()},
		cache:   cache,
		ttl:     cfg.TTL,
		retries: retry.ReadConfig(),
		breaker: retry.NewCircuitBreaker(breakerFailures, breakerReset),
	}, nil
}

// SetRetry replaces the backoff used for price requests.
func (c *Client) SetRetry(config *retry.Config) {
	c.retries = config
}

// SetCircuitBreaker replaces the breaker guarding the API.
func (c *Client) SetCircuitBreaker(breaker *retry.CircuitBreaker) {
	c.breaker = breaker
}

// ETH returns the ether price.
func (c *Client) ETH(ctx context.Context) (Quote, error) {
	return c.Quote(ctx, CoinEthereum)
}

// Quote returns the price of coin, served from cache while it is fresh.
func (c *Client) Quote(ctx context.Context, coin string) (Quote, error) {
	if v, ok := c.cache.Get(coin); ok {
		return v.(Quote), nil
	}

	var body []byte
	err := c.breaker.Execute(func() error {
		return retry.Do(ctx, c.retries, func() error {
			var fetchErr error
			body, fetchErr = c.fetch(ctx, coin)
			return fetchErr
		}, isRetryable)
	})
	if err != nil {
		return Quote{}, errorsmod.Wrapf(types.ErrProvider, "price of %s: %v", coin, err)
	}

	quote, err := parseQuote(body, coin)
	if err != nil {
		return Quote{}, errorsmod.Wrapf(types.ErrProvider, "price of %s: %v", coin, err)
	}

	if c.ttl > 0 {
		c.cache.SetWithTTL(coin, quote, 1, c.ttl)
		c.cache.Wait()
	}

	log.Debugf("price of %s: %s", coin, quote)
	return quote, nil
}

func (c *Client) Close() {
	c.cache.Close()
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d (%s)", e.code, e.body)
}

// isRetryable retries rate limiting, 5xx and network errors.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}

	return retry.DefaultIsRetryable(err)
}

func (c *Client) fetch(ctx context.Context, coin string) ([]byte, error) {
	query := url.Values{}
	query.Set("ids", coin)
	query.Set("vs_currencies", "usd")
	query.Set("include_24hr_change", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", "oaod/1.0")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, &statusError{code: res.StatusCode, body: strings.TrimSpace(string(body))}
	}

	return body, nil
}

func parseQuote(body []byte, coin string) (Quote, error) {
	if !gjson.ValidBytes(body) {
		return Quote{}, errors.New("response is not valid JSON")
	}

	price := gjson.GetBytes(body, coin+".usd")
	if !price.Exists() {
		return Quote{}, fmt.Errorf("no usd price for %s", coin)
	}

	return Quote{
		USD:       price.Float(),
		Change24h: gjson.GetBytes(body, coin+".usd_24h_change").Float(),
	}, nil
}
