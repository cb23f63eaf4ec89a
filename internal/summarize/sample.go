package summarize

import (
	"sort"
	"strconv"

	"github.com/reviewlens/review-crawler/internal/review"
)

const (
	// sampleChunkLen bounds the text taken from any single review so one
	// essay-length review cannot eat the whole prompt budget.
	sampleChunkLen = 800
	// sampleBudget is the total character budget for sampled review text.
	sampleBudget = 12000
)

// SampleForPrompt selects a representative, budget-bounded subset of reviews
// for a model prompt. Reviews are grouped by rating so every rating tier is
// represented, longest reviews first within each tier.
func SampleForPrompt(reviews []review.Review) []review.Review {
	if len(reviews) == 0 {
		return nil
	}

	var keys []string
	buckets := make(map[string][]review.Review)
	for _, r := range reviews {
		key := "na"
		if r.Rating != nil {
			key = strconv.FormatFloat(*r.Rating, 'f', -1, 64)
		}
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], r)
	}
	for _, key := range keys {
		b := buckets[key]
		sort.SliceStable(b, func(i, j int) bool {
			return len(b[i].Text) > len(b[j].Text)
		})
	}

	var out []review.Review
	total := 0
	for _, key := range keys {
		for _, r := range buckets[key] {
			chunk := r.Text
			if len(chunk) > sampleChunkLen {
				chunk = chunk[:sampleChunkLen]
			}
			if total+len(chunk) > sampleBudget {
				return out
			}
			r.Text = chunk
			out = append(out, r)
			total += len(chunk)
		}
	}
	return out
}

// ExtractFirstJSONBlock returns the first balanced {...} block in text.
// Models routinely wrap JSON in prose or markdown fences; this strips both.
func ExtractFirstJSONBlock(text string) (string, bool) {
	start := -1
	depth := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
