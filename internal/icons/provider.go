// Package icons resolves Mermaid icon references to SVG bodies over HTTP.
package icons

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rendis/drawmaid/internal/engine"
	"github.com/rendis/drawmaid/internal/logging"
)

// DefaultPack is used for bare icon keys.
const DefaultPack = "mermaid"

const (
	defaultTimeout = 3 * time.Second
	defaultMaxBody = 512 * 1024
	defaultTTL     = time.Hour
	defaultMissTTL = 5 * time.Minute
)

// Config configures an HTTPProvider. Zero values take defaults.
type Config struct {
	Timeout  time.Duration
	MaxBody  int64
	CacheTTL time.Duration
	MissTTL  time.Duration
	Breaker  engine.CircuitBreakerConfig
	// Retry applies to timeouts, network errors and 5xx answers only.
	Retry  engine.RetryPolicy
	Client *http.Client
	Logger *slog.Logger
}

// Stats counts provider activity.
type Stats struct {
	Requests  int64 `json:"requests"`
	CacheHits int64 `json:"cache_hits"`
	Found     int64 `json:"found"`
	Missing   int64 `json:"missing"`
	Failures  int64 `json:"failures"`
	Rejected  int64 `json:"rejected"`
}

// HTTPProvider fetches icons from GET {serviceURL}/icons/{pack}/{key}.svg.
// Any non-200 status, timeout, non-SVG body or open circuit means unavailable.
type HTTPProvider struct {
	client   *http.Client
	cache    *Cache
	breakers *engine.CircuitBreakerRegistry
	retry    engine.RetryPolicy
	timeout  time.Duration
	maxBody  int64
	logger   *slog.Logger

	requests, hits, found, missing, failures, rejected atomic.Int64
}

// NewHTTPProvider creates a provider with its own cache and breaker registry.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultTTL
	}
	if cfg.MissTTL < 0 {
		cfg.MissTTL = 0
	} else if cfg.MissTTL == 0 {
		cfg.MissTTL = defaultMissTTL
	}
	if cfg.Breaker.Cooldown <= 0 {
		cfg.Breaker = engine.DefaultCircuitBreakerConfig()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &HTTPProvider{
		client:   cfg.Client,
		cache:    NewCache(cfg.CacheTTL, cfg.MissTTL),
		breakers: engine.NewCircuitBreakerRegistry(cfg.Breaker),
		retry:    cfg.Retry,
		timeout:  cfg.Timeout,
		maxBody:  cfg.MaxBody,
		logger:   logging.OrDiscard(cfg.Logger),
	}
}

// Cache exposes the provider cache, for a Janitor.
func (p *HTTPProvider) Cache() *Cache {
	return p.cache
}

// Breakers exposes the per-host breaker registry.
func (p *HTTPProvider) Breakers() *engine.CircuitBreakerRegistry {
	return p.breakers
}

// Stats returns a snapshot of provider counters.
func (p *HTTPProvider) Stats() Stats {
	return Stats{
		Requests:  p.requests.Load(),
		CacheHits: p.hits.Load(),
		Found:     p.found.Load(),
		Missing:   p.missing.Load(),
		Failures:  p.failures.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// ParseRef splits "pack:key" into its parts. A bare key uses DefaultPack.
func ParseRef(ref string) (pack, key string) {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, ":"); i > 0 && i < len(ref)-1 {
		return ref[:i], ref[i+1:]
	}
	return DefaultPack, strings.Trim(ref, ":")
}

// IconURL builds the lookup URL for a reference.
func IconURL(serviceURL, ref string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimRight(serviceURL, "/"))
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid icon service url %q", serviceURL)
	}
	pack, key := ParseRef(ref)
	if key == "" {
		return nil, fmt.Errorf("empty icon key in %q", ref)
	}
	return base.JoinPath("icons", pack, key+".svg"), nil
}

// FetchIcon returns the SVG body for ref, or false when it is unavailable.
// It never returns an error; failures are logged at debug level.
func (p *HTTPProvider) FetchIcon(ctx context.Context, serviceURL, ref string) (string, bool) {
	p.requests.Add(1)
	u, err := IconURL(serviceURL, ref)
	if err != nil {
		p.failures.Add(1)
		p.logger.DebugContext(ctx, "icon lookup skipped", slog.String("icon", ref), slog.String("error", err.Error()))
		return "", false
	}

	key := u.String()
	if body, ok, found := p.cache.Get(key); found {
		p.hits.Add(1)
		return body, ok
	}

	if err := p.breakers.AllowRequest(u.Host); err != nil {
		p.rejected.Add(1)
		p.logger.DebugContext(ctx, "icon lookup rejected", slog.String("icon", ref), slog.String("error", err.Error()))
		return "", false
	}

	var body string
	err = engine.Retry(ctx, p.retry, func(err error) bool {
		return !errors.Is(err, errUnavailable) && engine.IsRetryableError(err)
	}, func(ctx context.Context) error {
		var gerr error
		body, gerr = p.get(ctx, u)
		return gerr
	})
	switch {
	case err == nil:
		p.breakers.RecordSuccess(u.Host)
		p.found.Add(1)
		p.cache.Set(key, body, true)
		return body, true
	case errors.Is(err, errUnavailable):
		// The host answered; only this icon is missing.
		p.breakers.RecordSuccess(u.Host)
		p.missing.Add(1)
		p.cache.Set(key, "", false)
	default:
		p.breakers.RecordFailure(u.Host)
		p.failures.Add(1)
	}
	logging.LogWith(ctx, p.logger).Debug("icon unavailable", slog.String("icon", ref), slog.String("url", key), slog.String("error", err.Error()))
	return "", false
}

var errUnavailable = errors.New("icon unavailable")

func (p *HTTPProvider) get(ctx context.Context, u *url.URL) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build icon request: %w", err)
	}
	req.Header.Set("Accept", "image/svg+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("icon request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("icon service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", errUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody+1))
	if err != nil {
		return "", fmt.Errorf("read icon body: %w", err)
	}
	if int64(len(data)) > p.maxBody {
		return "", fmt.Errorf("%w: body exceeds %d bytes", errUnavailable, p.maxBody)
	}
	body := strings.TrimSpace(string(data))
	if !strings.Contains(body, "<svg") {
		return "", fmt.Errorf("%w: body is not svg", errUnavailable)
	}
	return body, nil
}
