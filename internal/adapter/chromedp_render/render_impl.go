package chromedp_render

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/entity"
)

// Renderer loads pages in headless Chrome for hosts whose listings are built client-side.
// One browser is shared; every fetch runs in its own tab.
type Renderer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
	log         *zap.Logger

	once       sync.Once
	browserCtx context.Context
	browserEnd context.CancelFunc
}

// NewRenderer prepares the Chrome allocator. The browser itself starts on first use.
func NewRenderer(userAgent string, timeout time.Duration, log *zap.Logger) *Renderer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Renderer{
		allocCtx:    allocCtx,
		allocCancel: cancel,
		timeout:     timeout,
		log:         log.Named("render"),
	}
}

func (r *Renderer) browser() context.Context {
	r.once.Do(func() {
		r.browserCtx, r.browserEnd = chromedp.NewContext(r.allocCtx, chromedp.WithLogf(r.log.Sugar().Debugf))
	})
	return r.browserCtx
}

// Render navigates to ref.URL and returns the rendered document with the
// main response's status code. err is non-nil only when navigation itself failed.
func (r *Renderer) Render(ctx context.Context, ref entity.DocumentReference) (*entity.FetchResult, error) {
	tabCtx, cancel := chromedp.NewContext(r.browser())
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTimeout()

	// Tie the tab to the caller's context too.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		mu          sync.Mutex
		status      int
		contentType string
	)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			mu.Lock()
			if status == 0 {
				status = int(e.Response.Status)
				contentType = e.Response.MimeType
			}
			mu.Unlock()
		}
	})

	start := time.Now()
	var html string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(ref.URL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	elapsed := time.Since(start)
	if err != nil {
		r.log.Warn("render failed", zap.String("url", ref.URL), zap.Error(err))
		return nil, errors.Wrapf(err, "render %s", ref.URL)
	}

	mu.Lock()
	defer mu.Unlock()
	status, contentType = documentMeta(status, contentType)
	r.log.Debug("rendered", zap.String("url", ref.URL), zap.Int("status", status), zap.Duration("duration", elapsed))

	return &entity.FetchResult{
		Reference:   ref,
		Body:        []byte(html),
		StatusCode:  status,
		ContentType: contentType,
		FetchedAt:   start,
		Duration:    elapsed,
	}, nil
}

// documentMeta fills in what Chrome did not report for the main document,
// as happens for pages served from cache or rewritten by a service worker.
func documentMeta(status int, contentType string) (int, string) {
	if status == 0 {
		status = 200
	}
	if contentType == "" {
		contentType = "text/html"
	}
	return status, contentType
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	if r.browserEnd != nil {
		r.browserEnd()
	}
	r.allocCancel()
}
