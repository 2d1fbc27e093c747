package httpfetch

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/pkg/metrics"
	"github.com/user/document-ingestion/pkg/ratelimit"
)

// DefaultMaxBodyBytes caps a single response body.
const DefaultMaxBodyBytes = 512 << 20

// Renderer loads a reference in a browser. Implemented by chromedp_render.
type Renderer interface {
	Render(ctx context.Context, ref entity.DocumentReference) (*entity.FetchResult, error)
}

// Options configures a Fetcher.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// RenderHosts are fetched through Renderer instead of a plain GET.
	RenderHosts map[string]bool
}

// Fetcher issues rate-limited GETs and classifies failures.
type Fetcher struct {
	client   *http.Client
	limiter  *ratelimit.HostLimiter
	breakers *Breakers
	renderer Renderer
	opts     Options
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewFetcher creates a fetcher. client and renderer may be nil.
func NewFetcher(client *http.Client, limiter *ratelimit.HostLimiter, breakers *Breakers, renderer Renderer, opts Options, m *metrics.Metrics, log *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Fetcher{
		client:   client,
		limiter:  limiter,
		breakers: breakers,
		renderer: renderer,
		opts:     opts,
		metrics:  m,
		log:      log.Named("fetcher"),
	}
}

// Fetch waits for a token for the reference's host and issues one request.
func (f *Fetcher) Fetch(ctx context.Context, ref entity.DocumentReference) (*entity.FetchResult, error) {
	host := ref.Host
	if !f.breakers.Allow(host) {
		return nil, entity.TransientFetchError(ref.URL, 0, &entity.CircuitOpenError{
			Host:     host,
			ReopenAt: f.breakers.ReopenAt(host),
		})
	}

	waited, err := f.limiter.Wait(ctx, host)
	f.metrics.RateLimitWait.WithLabelValues(host).Observe(waited.Seconds())
	if err != nil {
		// Never reached the host; do not count against its circuit.
		f.breakers.Release(host)
		return nil, entity.TransientFetchError(ref.URL, 0, errors.Wrap(err, "wait for rate limit"))
	}

	var result *entity.FetchResult
	if f.renderer != nil && f.opts.RenderHosts[host] {
		result, err = f.renderer.Render(ctx, ref)
	} else {
		result, err = f.get(ctx, ref)
	}
	if err == nil {
		f.metrics.FetchDuration.WithLabelValues(host).Observe(result.Duration.Seconds())
		err = f.classifyStatus(ref, result)
	} else if _, classified := entity.AsError(err); !classified {
		err = entity.TransientFetchError(ref.URL, 0, err)
	}

	if entity.IsTransient(err) {
		f.breakers.Failure(host)
	} else {
		f.breakers.Success(host)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) get(ctx context.Context, ref entity.DocumentReference) (*entity.FetchResult, error) {
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, entity.PermanentFetchError(ref.URL, 0, err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, entity.TransientFetchError(ref.URL, 0, err)
	}
	defer resp.Body.Close()

	result := &entity.FetchResult{
		Reference:   ref,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   start,
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if d := retryAfter(resp.Header.Get("Retry-After"), start); d > 0 {
			f.limiter.Pause(ref.Host, d)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		result.Duration = time.Since(start)
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	result.Duration = time.Since(start)
	if err != nil {
		return nil, entity.TransientFetchError(ref.URL, resp.StatusCode, errors.Wrap(err, "read body"))
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, entity.PermanentFetchError(ref.URL, resp.StatusCode, errors.Newf("body exceeds %d bytes", f.opts.MaxBodyBytes))
	}
	result.Body = body
	return result, nil
}

// classifyStatus: 2xx is success, 429 and 5xx are transient, anything else permanent.
func (f *Fetcher) classifyStatus(ref entity.DocumentReference, result *entity.FetchResult) error {
	code := result.StatusCode
	switch {
	case code >= 200 && code <= 299:
		f.log.Debug("fetched", zap.String("url", ref.URL), zap.Int("status", code),
			zap.Int("bytes", len(result.Body)), zap.Duration("duration", result.Duration))
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return entity.TransientFetchError(ref.URL, code, errors.New(http.StatusText(code)))
	default:
		return entity.PermanentFetchError(ref.URL, code, errors.New(http.StatusText(code)))
	}
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return t.Sub(now)
	}
	return 0
}
