package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/retry"
	"go.uber.org/zap"
)

const maxBodyBytes = 10 << 20

// Recorder receives scraper telemetry. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordFetch(host string, success bool, d time.Duration)
	SetBreakerState(host string, state int)
	AddItemsScraped(scope string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordFetch(string, bool, time.Duration) {}
func (nopRecorder) SetBreakerState(string, int)             {}
func (nopRecorder) AddItemsScraped(string, int)             {}

// FetcherConfig configures page fetching.
type FetcherConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	UserAgent   string
	MaxFailures int           // consecutive failures before a host's breaker opens
	Cooldown    time.Duration // how long an open breaker rejects calls
}

// DefaultFetcherConfig returns the fetch settings used when none are configured.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:     15 * time.Second,
		MaxRetries:  2,
		UserAgent:   "Mozilla/5.0 (compatible; dynamic-products-scraper/1.0)",
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Fetcher downloads HTML with a bounded timeout, retries transient failures and
// trips a per-host circuit breaker so one dead shop does not stall a whole batch.
type Fetcher struct {
	client   *http.Client
	config   FetcherConfig
	breakers *retry.CircuitBreakerManager
	logger   *zap.Logger
	recorder Recorder
}

// NewFetcher creates a fetcher. A nil recorder disables telemetry.
func NewFetcher(config FetcherConfig, logger *zap.Logger, recorder Recorder) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultFetcherConfig().Timeout
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultFetcherConfig().MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultFetcherConfig().Cooldown
	}

	breakerCfg := retry.DefaultCircuitBreakerConfig("")
	breakerCfg.MaxFailures = config.MaxFailures
	breakerCfg.ResetTimeout = config.Cooldown
	breakerCfg.Logger = logger
	breakerCfg.IsFailure = retry.IsTemporaryError
	breakerCfg.OnStateChange = func(host string, _, to retry.CircuitBreakerState) {
		recorder.SetBreakerState(host, int(to))
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:   config,
		breakers: retry.NewCircuitBreakerManager(breakerCfg),
		logger:   logger,
		recorder: recorder,
	}
}

// Fetch downloads rawURL and returns the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &retry.Permanent{Err: fmt.Errorf("fetch %q: not an absolute http(s) URL", rawURL)}
	}

	rc := retry.HTTPConfig(f.config.MaxRetries + 1)
	rc.Logger = f.logger
	breaker := f.breakers.Get(u.Host)

	start := time.Now()
	body, err := retry.Do(ctx, rc, func(ctx context.Context) ([]byte, error) {
		return retry.Execute(ctx, breaker, func(ctx context.Context) ([]byte, error) {
			return f.get(ctx, u.String())
		})
	})
	f.recorder.RecordFetch(u.Host, err == nil, time.Since(start))
	return body, err
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &retry.Permanent{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{URL: target, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("service unavailable: %w", statusErr)
		}
		return nil, &retry.Permanent{Err: statusErr}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
