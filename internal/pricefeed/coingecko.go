package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public CoinGecko API.
	DefaultBaseURL = "https://api.coingecko.com/api"

	defaultTimeout    = 10 * time.Second
	simplePricePath   = "/v3/simple/price"
	maxResponseBytes  = 1 << 20
	queryIDs          = "ids"
	queryVsCurrencies = "vs_currencies"
)

// Price feed error values.
var (
	ErrUnexpectedStatus = errors.New("unexpected price feed status")
	ErrMissingPrice     = errors.New("price missing from response")
	ErrNotQuotable      = errors.New("currency cannot be quoted")
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// Client fetches spot prices from the CoinGecko simple price endpoint. It
// implements ledger.PriceSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a Client for baseURL, or DefaultBaseURL when empty.
func NewClient(baseURL string, options ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("%w: price feed url: %v", ledger.ErrInvalidConfig, err)
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// FetchPrice returns how many units of quote one unit of base is worth.
func (client *Client) FetchPrice(ctx context.Context, base ledger.Currency, quote ledger.Currency) (float64, error) {
	if base.CoinGeckoID == "" || quote.CoinGeckoQuote == "" {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotQuotable, base.Code, quote.Code)
	}
	query := url.Values{}
	query.Set(queryIDs, base.CoinGeckoID)
	query.Set(queryVsCurrencies, quote.CoinGeckoQuote)
	endpoint := client.baseURL + simplePricePath + "?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build price request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	response, err := client.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("price request: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}

	var decoded map[string]map[string]float64
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	price, ok := decoded[base.CoinGeckoID][quote.CoinGeckoQuote]
	if !ok {
		return 0, fmt.Errorf("%w: %s in %s", ErrMissingPrice, base.CoinGeckoID, quote.CoinGeckoQuote)
	}
	client.logger.Debug("price fetched",
		zap.String("base", base.Code),
		zap.String("quote", quote.Code),
		zap.Float64("price", price))
	return price, nil
}
