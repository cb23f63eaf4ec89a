package extractor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
)

// FallbackPager serves pages from the static fetcher and escalates to the
// headless renderer when the fetched document looks JS-hydrated. The
// renderer is optional; without one the static result stands. Callers are
// serialized: the pager wraps a single fetch/browser pipeline, so
// overlapping Navigate/Extract calls take turns rather than interleave.
type FallbackPager struct {
	static   *StaticPager
	rendered *RenderingPager
	detector *Detector
	logger   *zap.Logger

	mu          sync.Mutex
	useRendered bool
}

func NewFallbackPager(static *StaticPager, rendered *RenderingPager, detector *Detector, logger *zap.Logger) *FallbackPager {
	if detector == nil {
		detector = DefaultDetector()
	}
	return &FallbackPager{
		static:   static,
		rendered: rendered,
		detector: detector,
		logger:   logger.Named("extractor.fallback"),
	}
}

func (p *FallbackPager) active() review.Pager {
	if p.useRendered {
		return p.rendered
	}
	return p.static
}

func (p *FallbackPager) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().CurrentURL(ctx)
}

// Navigate always tries the static fetch first; a transport failure falls
// straight through to the renderer when available.
func (p *FallbackPager) Navigate(ctx context.Context, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.useRendered = false
	err := p.static.Navigate(ctx, target)
	if err == nil {
		return nil
	}
	if p.rendered == nil {
		return err
	}
	p.logger.Debug("static fetch failed, rendering instead",
		zap.String("url", target), zap.Error(err))
	if renderErr := p.rendered.Navigate(ctx, target); renderErr != nil {
		return renderErr
	}
	p.useRendered = true
	return nil
}

// Extract parses the static document, re-rendering through the browser when
// no reviews came back and the page shows JS-hydration signals.
func (p *FallbackPager) Extract(ctx context.Context) (review.ExtractResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result, err := p.active().Extract(ctx)
	if err != nil || p.useRendered || p.rendered == nil {
		return result, err
	}
	if len(result.Reviews) > 0 || result.CaptchaDetected || result.Blocked {
		return result, nil
	}
	if !p.detector.NeedsRendering(p.static.Body()) {
		return result, nil
	}

	currentURL, err := p.static.CurrentURL(ctx)
	if err != nil {
		return result, nil
	}
	p.logger.Info("escalating to headless rendering", zap.String("url", currentURL))
	if err := p.rendered.Navigate(ctx, currentURL); err != nil {
		p.logger.Warn("rendering escalation failed", zap.Error(err))
		return result, nil
	}
	p.useRendered = true
	return p.rendered.Extract(ctx)
}
