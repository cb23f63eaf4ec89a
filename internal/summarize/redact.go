package summarize

import (
	"regexp"

	"github.com/reviewlens/review-crawler/internal/review"
)

// Review text is redacted before it is fingerprinted, cached, or sent to a
// remote model. The patterns are deliberately aggressive: a false positive
// costs a little context, a false negative leaks somebody's email address.
var (
	emailPattern = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\b\+?\d[\d\s().-]{7,}\b`)
	namePattern  = regexp.MustCompile(`\b[A-Z][a-z]{2,}(?:\s+[A-Z][a-z]{2,}){0,2}\b`)
)

// Redact replaces email addresses, phone-like digit runs and capitalized
// name sequences with fixed placeholder tokens.
func Redact(text string) string {
	if text == "" {
		return text
	}
	text = emailPattern.ReplaceAllString(text, "[REDACTED_EMAIL]")
	text = phonePattern.ReplaceAllString(text, "[REDACTED_PHONE]")
	text = namePattern.ReplaceAllString(text, "[REDACTED_NAME]")
	return text
}

// SanitizeReviews returns a copy of reviews with every text redacted. The
// input slice is left untouched.
func SanitizeReviews(reviews []review.Review) []review.Review {
	out := make([]review.Review, len(reviews))
	for i, r := range reviews {
		r.Text = Redact(r.Text)
		out[i] = r
	}
	return out
}
