// Package robots fetches and interprets a site's crawl policy for a single
// path. Decisions are deliberately not cached: a site's policy may change
// between consent gates, so every gate re-evaluates.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
)

const (
	maxPolicyBytes = 1 << 20
	excerptBytes   = 500
)

var disallowLine = regexp.MustCompile(`(?i)^Disallow:\s*(\S*)`)

// Evaluator implements review.RobotsEvaluator over plain HTTP.
//
// Only Disallow: prefixes are checked; Allow: overrides are not modeled. A
// disallowed verdict never blocks by itself — the consent gate decides what
// to do with it.
type Evaluator struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// New builds an Evaluator with a bounded-timeout HTTP client.
func New(userAgent string, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Evaluate fetches <origin>/robots.txt and tests the page path against its
// Disallow rules. Transport failures and non-2xx responses fail open: the
// decision reports fetched_ok=false with the error, and disallowed=false.
func (e *Evaluator) Evaluate(ctx context.Context, pageURL string) review.RobotsDecision {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return review.RobotsDecision{ErrorMessage: fmt.Sprintf("invalid page url %q", pageURL)}
	}

	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return review.RobotsDecision{ErrorMessage: fmt.Sprintf("new robots request: %v", err)}
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("robots fetch failed; failing open", zap.String("host", parsed.Host), zap.Error(err))
		return review.RobotsDecision{ErrorMessage: fmt.Sprintf("fetch robots: %v", err)}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return review.RobotsDecision{ErrorMessage: fmt.Sprintf("robots.txt status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPolicyBytes))
	if err != nil {
		return review.RobotsDecision{ErrorMessage: fmt.Sprintf("read robots body: %v", err)}
	}

	return review.RobotsDecision{
		FetchedOK:  true,
		Disallowed: pathDisallowed(string(body), parsed.Path),
		Excerpt:    excerpt(string(body)),
	}
}

// pathDisallowed scans Disallow directives line by line; the first matching
// rule wins. A non-empty rule is a path-prefix match. A bare "/" disallows
// the whole site except the root path itself.
func pathDisallowed(policy, path string) bool {
	if path == "" {
		path = "/"
	}
	for _, line := range strings.Split(policy, "\n") {
		m := disallowLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		rule := strings.TrimSpace(m[1])
		switch {
		case rule == "":
			continue
		case rule == "/":
			if len(path) > 1 {
				return true
			}
		case strings.HasPrefix(path, rule):
			return true
		}
	}
	return false
}

func excerpt(policy string) string {
	if len(policy) <= excerptBytes {
		return policy
	}
	return policy[:excerptBytes]
}
