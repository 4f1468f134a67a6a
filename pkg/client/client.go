// Package client provides the rate-limited HTTP client for the Halo Waypoint
// APIs, with bounded concurrency, per-call bearer tokens, retry and error
// classification.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/logging"
	"github.com/conan-hawkins/halo-stats-for-discord/pkg/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for fetch operations.
var (
	haloRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halo_requests_total",
		Help: "Total Halo API requests by operation and status",
	}, []string{"operation", "status"})

	haloRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "halo_request_duration_seconds",
		Help:    "Halo API request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	haloErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halo_errors_total",
		Help: "Total Halo API errors by kind",
	}, []string{"kind"})

	haloInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "halo_requests_in_flight",
		Help: "Current number of in-flight Halo API requests",
	})
)

// Config holds the fetch client configuration.
type Config struct {
	// Tokens supplies the bearer token, re-read on every request since the
	// external refresher may rotate it mid-run.
	Tokens token.Provider

	// MaxConcurrency caps in-flight requests across the whole process.
	MaxConcurrency int

	// Timeout bounds each individual network call. A timeout is treated as
	// a network failure for retry purposes.
	Timeout time.Duration

	// UserAgent sent with every request.
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(tokens token.Provider) Config {
	return Config{
		Tokens:         tokens,
		MaxConcurrency: 50,
		Timeout:        30 * time.Second,
		UserAgent:      "HaloWaypoint/2021.01.10.01",
	}
}

// Fetcher issues bounded-concurrency GET requests against the Halo APIs.
// All requests share one connection pool for the lifetime of the process.
type Fetcher struct {
	httpClient *http.Client
	sem        *semaphore.Weighted
	config     Config
	logger     zerolog.Logger
}

// New creates a new fetch client.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		config: cfg,
		logger: logging.NewLogger("fetch-client"),
	}, nil
}

// GetJSON performs a GET request and returns the response body on HTTP 200.
// op is a short operation name used for logging and metrics. Failures are
// returned as *FetchError; transient kinds are retried internally with
// backoff and only surface once the retry budget is spent.
func (f *Fetcher) GetJSON(ctx context.Context, op, rawURL string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		haloRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	var body []byte

	retryErr := retryWithBackoff(ctx, func() error {
		var attemptErr error
		body, attemptErr = f.doOnce(ctx, op, rawURL)
		return attemptErr
	}, KindOf)

	if retryErr != nil {
		haloErrorsTotal.WithLabelValues(string(KindOf(retryErr))).Inc()
		return nil, retryErr
	}

	return body, nil
}

// doOnce executes a single attempt: acquire a pool slot, read the current
// token, perform the round-trip, classify the outcome. The slot is released
// before any backoff wait so retries don't starve unrelated requests.
func (f *Fetcher) doOnce(ctx context.Context, op, rawURL string) ([]byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	haloInFlight.Inc()
	defer func() {
		f.sem.Release(1)
		haloInFlight.Dec()
	}()

	bearer, err := f.config.Tokens.CurrentToken(ctx)
	if err != nil {
		f.logger.Error().Err(err).Str("operation", op).Msg("No valid bearer token")
		return nil, &FetchError{
			Kind:     KindUnauthorized,
			Endpoint: op,
			Message:  "token provider has no valid token",
			Err:      err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Spartan "+bearer)
	req.Header.Set("x-343-authorization-spartan", bearer)

	f.logger.Debug().
		Str("operation", op).
		Msg("Executing Halo API request")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		haloRequestsTotal.WithLabelValues(op, "network_error").Inc()
		return nil, &FetchError{
			Kind:     KindNetwork,
			Endpoint: op,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer resp.Body.Close()

	haloRequestsTotal.WithLabelValues(op, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode)
		f.logger.Warn().
			Str("operation", op).
			Int("status", resp.StatusCode).
			Str("error_kind", string(kind)).
			Msg("Halo API request error")

		return nil, &FetchError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Endpoint:   op,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{
			Kind:     KindNetwork,
			Endpoint: op,
			Message:  "read response body",
			Err:      err,
		}
	}

	return body, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}
