package extractor

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/reviewlens/review-crawler/internal/hash/sha256"
	"github.com/reviewlens/review-crawler/internal/review"
)

// Selector profiles for review listing pages. Amazon-shaped markup first,
// generic fallbacks after.
var (
	reviewContainerSelectors = []string{
		"#cm_cr-review_list .review",
		"div[data-hook='review']",
		".review",
		"[data-review-id]",
	}
	reviewTextSelectors = []string{
		".review-text-content",
		"[data-hook='review-body']",
	}
	ratingSelectors = []string{
		".a-icon-alt",
		"[data-hook*='review-star-rating']",
		"i.a-icon-star span",
	}

	captchaPattern = regexp.MustCompile(`(?i)captcha|are you a human|select all images`)
	blockedPattern = regexp.MustCompile(`(?i)access denied|temporarily unavailable`)
	ratingValue    = regexp.MustCompile(`([0-9]+(?:\.[0-9])?)`)
	nextText       = regexp.MustCompile(`(?i)next`)
	seeAllText     = regexp.MustCompile(`(?i)see all reviews`)

	reviewListingPath = regexp.MustCompile(`/product-reviews/`)
)

const fallbackTextCap = 2000

// ParsePage extracts reviews, the next page URL and anti-bot signals from a
// rendered or fetched HTML document. It is pure: same input, same output.
func ParsePage(currentURL string, html []byte) review.ExtractResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return review.ExtractResult{Error: "parse html: " + err.Error()}
	}

	bodyText := doc.Find("body").Text()
	result := review.ExtractResult{
		CaptchaDetected: captchaPattern.MatchString(bodyText),
		Blocked:         blockedPattern.MatchString(bodyText),
	}
	result.Reviews = extractReviews(doc)
	result.NextPageURL = findNextPageURL(doc, currentURL)
	return result
}

func extractReviews(doc *goquery.Document) []review.Review {
	var nodes *goquery.Selection
	for _, sel := range reviewContainerSelectors {
		found := doc.Find(sel)
		if found.Length() > 0 {
			nodes = found
			break
		}
	}
	if nodes == nil {
		return nil
	}

	var out []review.Review
	nodes.Each(func(_ int, block *goquery.Selection) {
		text := reviewText(block)
		if text == "" {
			return
		}
		out = append(out, review.Review{
			ID:     reviewID(block, text),
			Text:   text,
			Rating: reviewRating(block),
		})
	})
	return out
}

func reviewText(block *goquery.Selection) string {
	for _, sel := range reviewTextSelectors {
		if el := block.Find(sel); el.Length() > 0 {
			return strings.TrimSpace(el.First().Text())
		}
	}
	text := strings.TrimSpace(block.Text())
	if len(text) > fallbackTextCap {
		text = text[:fallbackTextCap]
	}
	return text
}

// reviewID prefers the markup's own identifiers and falls back to a content
// hash so the same review text always maps to the same ID across pages.
func reviewID(block *goquery.Selection, text string) string {
	for _, attr := range []string{"id", "data-review-id", "data-hook"} {
		if v, ok := block.Attr(attr); ok && v != "" && v != "review" {
			return v
		}
	}
	return "r" + sha256.New().HashString(text)[:12]
}

func reviewRating(block *goquery.Selection) *float64 {
	for _, sel := range ratingSelectors {
		el := block.Find(sel)
		if el.Length() == 0 {
			continue
		}
		m := ratingValue.FindStringSubmatch(el.First().Text())
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return &v
		}
	}
	return nil
}

// findNextPageURL resolves the page to visit next: a jump to the dedicated
// review listing when not on it yet, otherwise rel=next, pagination markup,
// or any anchor labelled "next". Fragments are stripped and a link equal to
// the current page is treated as absent.
func findNextPageURL(doc *goquery.Document, currentURL string) string {
	current := stripFragment(currentURL)
	base, err := url.Parse(currentURL)
	if err != nil {
		return ""
	}

	resolve := func(href string) string {
		href = strings.TrimSpace(href)
		if href == "" {
			return ""
		}
		ref, err := url.Parse(href)
		if err != nil {
			return ""
		}
		abs := stripFragment(base.ResolveReference(ref).String())
		if abs == current {
			return ""
		}
		return abs
	}

	if !reviewListingPath.MatchString(current) {
		if u := findSeeAllLink(doc, resolve); u != "" {
			return u
		}
	}

	if href, ok := doc.Find("link[rel='next']").Attr("href"); ok {
		if u := resolve(href); u != "" {
			return u
		}
	}
	paginationNext := doc.Find(".a-pagination li.a-last:not(.a-disabled) a, .a-pagination li.a-next:not(.a-disabled) a")
	if href, ok := paginationNext.First().Attr("href"); ok {
		if u := resolve(href); u != "" {
			return u
		}
	}

	var generic string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !nextText.MatchString(strings.TrimSpace(a.Text())) {
			return true
		}
		href, _ := a.Attr("href")
		if u := resolve(href); u != "" {
			generic = u
			return false
		}
		return true
	})
	return generic
}

func findSeeAllLink(doc *goquery.Document, resolve func(string) string) string {
	direct := doc.Find("a[data-hook='see-all-reviews-link-foot'], a[data-hook='see-all-reviews-link']")
	if href, ok := direct.First().Attr("href"); ok {
		if u := resolve(href); u != "" && reviewListingPath.MatchString(u) {
			return u
		}
	}
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !seeAllText.MatchString(a.Text()) {
			return true
		}
		href, _ := a.Attr("href")
		if u := resolve(href); u != "" && reviewListingPath.MatchString(u) {
			found = u
			return false
		}
		return true
	})
	return found
}

func stripFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}
