package extractor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
)

const staticDefaultTimeout = 30 * time.Second

// StaticPager drives review listings over plain HTTP using Colly. It holds
// the most recently fetched document so Extract stays side-effect-free.
type StaticPager struct {
	base   *colly.Collector
	logger *zap.Logger

	mu         sync.Mutex
	currentURL string
	body       []byte
}

// NewStaticPager builds a pager with the given User-Agent.
func NewStaticPager(userAgent string, logger *zap.Logger) *StaticPager {
	base := colly.NewCollector(colly.UserAgent(userAgent))
	base.AllowURLRevisit = true
	// Robots policy is evaluated by the session gate before any crawl
	// starts; letting Colly re-check it would apply different semantics.
	base.IgnoreRobotsTxt = true
	return &StaticPager{
		base:   base,
		logger: logger.Named("extractor.static"),
	}
}

// CurrentURL returns the final URL of the last completed navigation.
func (p *StaticPager) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentURL == "" {
		return "", fmt.Errorf("no page loaded")
	}
	return p.currentURL, nil
}

// Navigate fetches the target page. A response body is kept even on an HTTP
// error status, so captcha and block interstitials reach the extractor
// instead of surfacing as transport failures.
func (p *StaticPager) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := staticDefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}

	c := p.base.Clone()
	c.SetRequestTimeout(timeout)

	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		finalURL = r.Request.URL.String()
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && len(r.Body) > 0 {
			body = r.Body
			finalURL = r.Request.URL.String()
			p.logger.Debug("keeping error response body",
				zap.String("url", target),
				zap.Int("status", r.StatusCode))
			return
		}
		fetchErr = err
	})

	if err := c.Visit(target); err != nil {
		return fmt.Errorf("visit %s: %w", target, err)
	}
	c.Wait()
	if fetchErr != nil {
		return fmt.Errorf("fetch %s: %w", target, fetchErr)
	}
	if len(body) == 0 {
		return fmt.Errorf("fetch %s: empty response", target)
	}

	p.mu.Lock()
	p.currentURL = stripFragment(finalURL)
	p.body = body
	p.mu.Unlock()
	return nil
}

// Extract parses the page loaded by the last Navigate.
func (p *StaticPager) Extract(context.Context) (review.ExtractResult, error) {
	p.mu.Lock()
	currentURL, body := p.currentURL, p.body
	p.mu.Unlock()
	if len(body) == 0 {
		return review.ExtractResult{}, fmt.Errorf("no page loaded")
	}
	return ParsePage(currentURL, body), nil
}

// Body exposes the raw HTML of the current page for rendering detection.
func (p *StaticPager) Body() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.body
}
