package summarize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/reviewlens/review-crawler/internal/review"
)

const (
	maxAspects    = 8
	maxLabelLen   = 120
	maxExampleIDs = 5
	maxNoteLen    = 200
)

var (
	placeholderWords = regexp.MustCompile(`(?i)\b(name|product|redacted|brand)\b`)
	multiSpace       = regexp.MustCompile(`\s{2,}`)
	allDigits        = regexp.MustCompile(`^[0-9]+$`)
	genericLabel     = regexp.MustCompile(`(?i)^(this|that|these|those|have|also|like|good|great|nice|really|very)$`)
	genericAdjective = regexp.MustCompile(`(?i)^(good|great|nice|very|really|also|have|has)$`)
)

// singleWordAspects are domain nouns allowed to stand alone as a label.
// Everything else needs a multi-word phrase or strong support to survive.
var singleWordAspects = newSet(
	"battery", "battery life", "motor", "noise", "noise level", "design",
	"warranty", "durability", "speed", "weight", "size", "build quality",
	"performance", "grinder", "grinding", "power", "taste", "flavor",
	"texture", "cleaning", "ease of use", "value", "price",
)

func newSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

func scrubLabel(label string) string {
	label = placeholderWords.ReplaceAllString(label, "")
	label = multiSpace.ReplaceAllString(label, " ")
	return strings.TrimSpace(label)
}

func clampAspects(aspects []review.Aspect) []review.Aspect {
	out := make([]review.Aspect, 0, len(aspects))
	for _, a := range aspects {
		if a.Label == "" {
			continue
		}
		if len(out) == maxAspects {
			break
		}
		if len(a.Label) > maxLabelLen {
			a.Label = a.Label[:maxLabelLen]
		}
		if a.SupportCount < 0 {
			a.SupportCount = 0
		}
		ids := make([]string, 0, maxExampleIDs)
		for _, id := range a.ExampleIDs {
			if id == "" || len(ids) == maxExampleIDs {
				continue
			}
			ids = append(ids, id)
		}
		a.ExampleIDs = ids
		out = append(out, a)
	}
	return out
}

func filterMeaningful(aspects []review.Aspect) []review.Aspect {
	out := make([]review.Aspect, 0, len(aspects))
	for _, a := range aspects {
		a.Label = scrubLabel(a.Label)
		if len(a.Label) < 3 || allDigits.MatchString(a.Label) {
			continue
		}
		if genericLabel.MatchString(a.Label) {
			continue
		}
		words := strings.Fields(a.Label)
		if len(words) == 1 {
			lower := strings.ToLower(a.Label)
			if _, ok := singleWordAspects[lower]; !ok {
				if !(a.SupportCount >= 3 && len(lower) >= 4 && !genericAdjective.MatchString(lower)) {
					continue
				}
			}
		}
		out = append(out, a)
	}
	return out
}

// consolidatePhrases drops labels that are word-boundary substrings of a
// longer kept label ("battery" vs "battery life") and merges their evidence
// when the longer phrase is at least as well supported.
func consolidatePhrases(aspects []review.Aspect) []review.Aspect {
	sorted := make([]review.Aspect, len(aspects))
	copy(sorted, aspects)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].Label) != len(sorted[j].Label) {
			return len(sorted[i].Label) > len(sorted[j].Label)
		}
		return sorted[i].SupportCount > sorted[j].SupportCount
	})

	containsWord := func(haystack, needle string) bool {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(needle) + `\b`)
		if err != nil {
			return false
		}
		return re.MatchString(haystack)
	}

	kept := make([]review.Aspect, 0, len(sorted))
	for _, item := range sorted {
		lower := strings.ToLower(item.Label)
		merged := false
		for i := range kept {
			if containsWord(strings.ToLower(kept[i].Label), lower) {
				merged = true
				break
			}
			if containsWord(lower, strings.ToLower(kept[i].Label)) && item.SupportCount >= kept[i].SupportCount {
				ids := kept[i].ExampleIDs
				for _, id := range item.ExampleIDs {
					if len(ids) >= maxExampleIDs || containsID(ids, id) {
						continue
					}
					ids = append(ids, id)
				}
				kept[i].Label = item.Label
				kept[i].SupportCount = item.SupportCount
				kept[i].ExampleIDs = ids
				merged = true
				break
			}
		}
		if !merged {
			kept = append(kept, item)
		}
	}
	return kept
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Clean normalizes a raw summary into the shape callers may rely on: at most
// eight pros and cons, scrubbed labels, bounded notes, and placeholder notes
// when a side came back empty.
func Clean(s review.Summary) review.Summary {
	pros := consolidatePhrases(filterMeaningful(clampAspects(s.Pros)))
	cons := consolidatePhrases(filterMeaningful(clampAspects(s.Cons)))
	if len(pros) > maxAspects {
		pros = pros[:maxAspects]
	}
	if len(cons) > maxAspects {
		cons = cons[:maxAspects]
	}
	notePros := s.NotePros
	if len(notePros) > maxNoteLen {
		notePros = notePros[:maxNoteLen]
	}
	noteCons := s.NoteCons
	if len(noteCons) > maxNoteLen {
		noteCons = noteCons[:maxNoteLen]
	}
	if len(pros) == 0 {
		notePros = "No pros found"
	}
	if len(cons) == 0 {
		noteCons = "No cons found"
	}
	return review.Summary{Pros: pros, Cons: cons, NotePros: notePros, NoteCons: noteCons}
}
