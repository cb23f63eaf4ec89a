package extractor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
)

const renderDefaultTimeout = 30 * time.Second

// RenderingPager drives review listings through headless Chrome so
// JS-hydrated pages produce real markup before extraction.
type RenderingPager struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	userAgent       string
	logger          *zap.Logger

	mu         sync.Mutex
	currentURL string
	html       []byte
}

// NewRenderingPager launches the headless browser. Callers must Close it.
func NewRenderingPager(userAgent string, logger *zap.Logger) (*RenderingPager, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(userAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &RenderingPager{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		userAgent:       userAgent,
		logger:          logger.Named("extractor.rendering"),
	}, nil
}

// Close tears down the browser and allocator contexts.
func (p *RenderingPager) Close() {
	p.browserCancel()
	p.allocatorCancel()
}

// CurrentURL returns the final URL of the last completed navigation.
func (p *RenderingPager) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentURL == "" {
		return "", fmt.Errorf("no page loaded")
	}
	return p.currentURL, nil
}

// Navigate loads the page in a fresh tab, waits for the body to be ready and
// snapshots the rendered DOM.
func (p *RenderingPager) Navigate(ctx context.Context, target string) error {
	timeout := renderDefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}

	tabCtx, cancelTab := chromedp.NewContext(p.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()
	stop := cancelWhenDone(ctx, cancelTask)
	defer stop()

	var html, location string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(p.userAgent),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return fmt.Errorf("render %s: %w", target, err)
	}

	p.mu.Lock()
	p.currentURL = stripFragment(location)
	p.html = []byte(html)
	p.mu.Unlock()
	p.logger.Debug("page rendered", zap.String("url", target), zap.Int("html_bytes", len(html)))
	return nil
}

// Extract parses the DOM snapshot taken by the last Navigate.
func (p *RenderingPager) Extract(context.Context) (review.ExtractResult, error) {
	p.mu.Lock()
	currentURL, html := p.currentURL, p.html
	p.mu.Unlock()
	if len(html) == 0 {
		return review.ExtractResult{}, fmt.Errorf("no page loaded")
	}
	return ParsePage(currentURL, html), nil
}

// cancelWhenDone propagates cancellation of parent into cancel until the
// returned stop function runs.
func cancelWhenDone(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
