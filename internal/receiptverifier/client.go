package receiptverifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultURL is the public Web Monetization receipt verifier.
	DefaultURL = "https://webmonetization.org/api/receipts/verify"

	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 64 << 10
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

// WithRateLimit caps outbound requests per second. A non-positive limit
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(client *Client) {
		if perSecond <= 0 {
			client.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// Client posts receipts to a verifier service. It implements ledger.Verifier.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type verifyBody struct {
	Amount       *string `json:"amount"`
	SPSPEndpoint string  `json:"spspEndpoint"`
}

// NewClient returns a Client for endpoint, or DefaultURL when empty.
func NewClient(endpoint string, options ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		trimmed = DefaultURL
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("%w: receipt verifier url: %v", ledger.ErrInvalidConfig, err)
	}
	client := &Client{
		endpoint:   trimmed,
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

// Verify posts one receipt. Non-2xx answers are returned as responses, not
// errors; only transport failures and a cancelled context are errors.
func (client *Client) Verify(ctx context.Context, receipt string) (ledger.VerifyResponse, error) {
	if client.limiter != nil {
		if err := client.limiter.Wait(ctx); err != nil {
			return ledger.VerifyResponse{}, fmt.Errorf("receipt verifier rate limit: %w", err)
		}
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.endpoint, bytes.NewBufferString(receipt))
	if err != nil {
		return ledger.VerifyResponse{}, fmt.Errorf("build verify request: %w", err)
	}
	request.Header.Set("Content-Type", "text/plain")
	response, err := client.httpClient.Do(request)
	if err != nil {
		return ledger.VerifyResponse{}, fmt.Errorf("verify request: %w", err)
	}
	defer response.Body.Close()

	result := ledger.VerifyResponse{
		StatusCode: response.StatusCode,
		Status:     statusText(response),
	}
	if response.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBytes))
		return result, nil
	}
	var body verifyBody
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(&body); err != nil {
		client.logger.Warn("receipt verifier returned malformed body", zap.Error(err))
		return result, nil
	}
	result.Amount = body.Amount
	result.SPSPEndpoint = body.SPSPEndpoint
	return result, nil
}

// statusText is the reason phrase the server sent, which the verifier uses
// to distinguish expired receipts.
func statusText(response *http.Response) string {
	prefix := strconv.Itoa(response.StatusCode) + " "
	if strings.HasPrefix(response.Status, prefix) {
		return strings.TrimPrefix(response.Status, prefix)
	}
	return http.StatusText(response.StatusCode)
}
