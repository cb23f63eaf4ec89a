package summarize

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/reviewlens/review-crawler/internal/review"
)

// Heuristic is the offline summarizer: a lexicon-driven aspect miner that
// produces usable pros/cons without any remote model. It is the fallback for
// every remote failure and the primary path when no API key is configured.
type Heuristic struct {
	logger *zap.Logger
}

func NewHeuristic(logger *zap.Logger) *Heuristic {
	return &Heuristic{logger: logger.Named("summarize.heuristic")}
}

var (
	positiveLexicon = newSet(
		"good", "great", "excellent", "amazing", "durable", "sturdy", "stable",
		"bright", "clear", "lightweight", "fast", "quiet", "smooth", "easy",
		"long", "compact", "useful", "handy", "sharp", "powerful", "reliable",
		"efficient", "strong", "comfortable",
	)
	negativeLexicon = newSet(
		"bad", "poor", "slow", "noisy", "loud", "heavy", "dull", "weak",
		"flimsy", "short", "difficult", "hard", "broken", "defective",
		"expensive", "costly", "confusing", "fragile", "rough", "low",
		"leaking", "leak", "scratch", "scratches", "crack", "cracked", "worse",
	)
	stopwords = newSet(
		"the", "and", "for", "with", "this", "that", "these", "those", "have",
		"has", "had", "was", "were", "will", "would", "could", "should",
		"about", "after", "before", "into", "from", "over", "under", "very",
		"really", "also", "just", "still", "been", "are", "its", "it", "they",
		"them", "their", "on", "of", "or", "in", "to", "is", "as", "at",
	)
	aspectNouns = newSet(
		"battery", "motor", "durability", "design", "noise", "warranty",
		"weight", "size", "performance", "quality", "grinder", "grinding",
		"power", "taste", "flavor", "texture", "cleaning", "ease", "value",
		"price", "build",
	)
	linkingWords = newSet(
		"became", "is", "was", "were", "be", "been", "being", "very", "really",
		"quite", "too",
	)

	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	tokenSplit    = regexp.MustCompile(`[^a-z0-9]+`)
	junkPhrase    = regexp.MustCompile(`(?i)^(this|that|also|have|has|good|great|nice|really|very)$`)
	bigramNoise   = regexp.MustCompile(`\b(?:the|and|for)\b`)

	negativeHint       = regexp.MustCompile(`(noisy|short|flimsy|weak|difficult|hard|broken|defective|scratch|crack|leak|leaking|expensive)`)
	positiveHint       = regexp.MustCompile(`(quiet|long|durable|sturdy|stable|easy|comfortable|powerful|reliable|efficient|sharp)`)
	positiveSingleHint = regexp.MustCompile(`(long|quiet|durable|sturdy|easy|comfortable|powerful|reliable|efficient|sharp|fast|lightweight)`)
)

const maxSentencesPerReview = 60

type phraseEntry struct {
	phrase   string
	reviews  map[string]struct{}
	pos      int
	neg      int
	examples []string
}

type phraseIndex struct {
	entries map[string]*phraseEntry
	order   []string
}

func newPhraseIndex() *phraseIndex {
	return &phraseIndex{entries: make(map[string]*phraseEntry)}
}

func (p *phraseIndex) add(rawPhrase, reviewID string, orientation int) {
	phrase := strings.TrimSpace(rawPhrase)
	if len(phrase) < 3 || junkPhrase.MatchString(phrase) {
		return
	}
	key := strings.ToLower(phrase)
	entry, ok := p.entries[key]
	if !ok {
		entry = &phraseEntry{phrase: phrase, reviews: make(map[string]struct{})}
		p.entries[key] = entry
		p.order = append(p.order, key)
	}
	entry.reviews[reviewID] = struct{}{}
	switch {
	case orientation > 0:
		entry.pos++
	case orientation < 0:
		entry.neg++
	}
	if len(entry.examples) < 3 && !containsID(entry.examples, reviewID) {
		entry.examples = append(entry.examples, reviewID)
	}
}

func singularize(token string) string {
	switch {
	case strings.HasSuffix(token, "ies") && len(token) > 4:
		return token[:len(token)-3] + "y"
	case strings.HasSuffix(token, "es") && len(token) > 3:
		return token[:len(token)-2]
	case strings.HasSuffix(token, "s") && len(token) > 3:
		return token[:len(token)-1]
	}
	return token
}

func isStopword(t string) bool {
	_, ok := stopwords[t]
	return ok
}

func (h *Heuristic) Summarize(_ context.Context, reviews []review.Review, _ string) (review.Summary, error) {
	if len(reviews) == 0 {
		return review.Summary{
			Pros: []review.Aspect{}, Cons: []review.Aspect{},
			NotePros: "No pros found", NoteCons: "No cons found",
		}, nil
	}

	index := newPhraseIndex()
	for _, r := range reviews {
		h.minePhrases(index, r)
	}
	mergeCanonical(index)

	pros, cons := classify(index)
	pros, cons = rebucketByLexicalHint(pros, cons)
	if len(cons) == 0 {
		cons = singletonFallback(index, false)
	}
	if len(pros) == 0 {
		pros = singletonFallback(index, true)
	}

	sortAspects(pros)
	sortAspects(cons)
	if len(pros) > 14 {
		pros = pros[:14]
	}
	if len(cons) > 14 {
		cons = cons[:14]
	}
	out := Clean(review.Summary{Pros: pros, Cons: cons})
	h.logger.Debug("heuristic summary produced",
		zap.Int("reviews", len(reviews)),
		zap.Int("pros", len(out.Pros)),
		zap.Int("cons", len(out.Cons)))
	return out, nil
}

// minePhrases walks each sentence, scores its sentiment against the lexicons
// plus a rating bias, and records candidate unigram/bigram/trigram aspect
// phrases with that orientation.
func (h *Heuristic) minePhrases(index *phraseIndex, r review.Review) {
	ratingBias := 0.0
	if r.Rating != nil {
		switch {
		case *r.Rating >= 4:
			ratingBias = 0.6
		case *r.Rating <= 2:
			ratingBias = -0.6
		}
	}

	sentences := sentenceSplit.Split(strings.ToLower(r.Text), -1)
	if len(sentences) > maxSentencesPerReview {
		sentences = sentences[:maxSentencesPerReview]
	}
	for _, s := range sentences {
		var tokens []string
		for _, t := range tokenSplit.Split(s, -1) {
			if t != "" && len(t) < 40 {
				tokens = append(tokens, t)
			}
		}
		if len(tokens) == 0 {
			continue
		}

		posHits, negHits := 0, 0
		for _, t := range tokens {
			if _, ok := positiveLexicon[t]; ok {
				posHits++
			} else if _, ok := negativeLexicon[t]; ok {
				negHits++
			}
		}
		score := float64(posHits-negHits) + ratingBias
		orientation := 0
		switch {
		case score > 0.3:
			orientation = 1
		case score < -0.3:
			orientation = -1
		}

		for i, t1 := range tokens {
			_, aspectNoun := aspectNouns[t1]
			if isStopword(t1) && !aspectNoun {
				continue
			}
			if !isStopword(t1) && (aspectNoun || len(t1) > 4) {
				index.add(singularize(t1), r.ID, orientation)
			}
			if i+1 < len(tokens) {
				t2 := tokens[i+1]
				if !isStopword(t2) {
					bigram := singularize(t1) + " " + singularize(t2)
					if !bigramNoise.MatchString(bigram) {
						index.add(bigram, r.ID, orientation)
					}
					if _, neg := negativeLexicon[t1]; neg {
						index.add(t1+" "+t2, r.ID, -1)
					}
					if _, pos := positiveLexicon[t1]; pos {
						index.add(t1+" "+t2, r.ID, 1)
					}
				}
			}
			if i+2 < len(tokens) {
				t2, t3 := tokens[i+1], tokens[i+2]
				if !isStopword(t2) && !isStopword(t3) {
					trigram := singularize(t1) + " " + singularize(t2) + " " + singularize(t3)
					index.add(trigram, r.ID, orientation)
					if (t1 == "short" || t1 == "long") && t2 == "battery" && t3 == "life" {
						o := 1
						if t1 == "short" {
							o = -1
						}
						index.add(t1+" battery life", r.ID, o)
					}
				}
			}
			if t1 == "cleaning" && i+1 < len(tokens) {
				if t2 := tokens[i+1]; t2 == "difficult" || t2 == "hard" {
					index.add("cleaning difficult", r.ID, -1)
				}
			}
		}
	}
}

// mergeCanonical folds phrases that differ only in word order or linking
// words ("motor was noisy" / "noisy motor") into a single entry, keeping the
// tighter phrase as the label.
func mergeCanonical(index *phraseIndex) {
	merged := make(map[string]*phraseEntry)
	var mergedOrder []string
	for _, key := range index.order {
		entry := index.entries[key]
		var tokens []string
		for _, t := range strings.Fields(strings.ToLower(entry.phrase)) {
			if _, link := linkingWords[t]; !link {
				tokens = append(tokens, t)
			}
		}
		canonKey := key
		if len(tokens) > 1 && len(tokens) <= 3 {
			sorted := make([]string, len(tokens))
			copy(sorted, tokens)
			sort.Strings(sorted)
			canonKey = strings.Join(sorted, "|")
		}
		existing, ok := merged[canonKey]
		if !ok {
			merged[canonKey] = entry
			mergedOrder = append(mergedOrder, canonKey)
			continue
		}
		for id := range entry.reviews {
			existing.reviews[id] = struct{}{}
		}
		existing.pos += entry.pos
		existing.neg += entry.neg
		for _, id := range entry.examples {
			if len(existing.examples) < 3 && !containsID(existing.examples, id) {
				existing.examples = append(existing.examples, id)
			}
		}
		existingHasLink := phraseHasLinking(existing.phrase)
		candHasLink := phraseHasLinking(entry.phrase)
		if len(strings.Fields(entry.phrase)) < len(strings.Fields(existing.phrase)) ||
			(existingHasLink && !candHasLink) {
			existing.phrase = entry.phrase
		}
	}

	index.entries = make(map[string]*phraseEntry, len(merged))
	index.order = index.order[:0]
	for _, canonKey := range mergedOrder {
		entry := merged[canonKey]
		key := strings.ToLower(entry.phrase)
		if _, dup := index.entries[key]; dup {
			continue
		}
		index.entries[key] = entry
		index.order = append(index.order, key)
	}
}

func phraseHasLinking(phrase string) bool {
	for _, t := range strings.Fields(strings.ToLower(phrase)) {
		if _, ok := linkingWords[t]; ok {
			return true
		}
	}
	return false
}

// classify buckets phrases by net sentiment. Phrases backed by a single
// review are dropped unless they carry a strongly negative adjective.
func classify(index *phraseIndex) (pros, cons []review.Aspect) {
	for _, key := range index.order {
		entry := index.entries[key]
		support := len(entry.reviews)
		if support < 2 {
			if !(entry.neg >= 1 && negativeHint.MatchString(entry.phrase)) {
				continue
			}
		}
		net := entry.pos - entry.neg
		bucket := 0
		switch {
		case net > 0:
			bucket = 1
		case net < 0:
			bucket = -1
		case support >= 3:
			bucket = 1
		}
		if bucket == 0 && entry.neg >= 1 && negativeHint.MatchString(entry.phrase) {
			bucket = -1
		}
		if bucket == 0 {
			continue
		}
		aspect := review.Aspect{
			Label:        entry.phrase,
			SupportCount: support,
			ExampleIDs:   append([]string(nil), entry.examples...),
		}
		if bucket > 0 {
			pros = append(pros, aspect)
		} else {
			cons = append(cons, aspect)
		}
	}
	return pros, cons
}

// rebucketByLexicalHint moves phrases whose wording plainly contradicts the
// sentiment bucket they landed in.
func rebucketByLexicalHint(pros, cons []review.Aspect) ([]review.Aspect, []review.Aspect) {
	keptPros := pros[:0]
	for _, p := range pros {
		if negativeHint.MatchString(strings.ToLower(p.Label)) && !hasLabel(cons, p.Label) {
			cons = append(cons, p)
			continue
		}
		keptPros = append(keptPros, p)
	}
	pros = keptPros
	keptCons := cons[:0]
	for _, c := range cons {
		if positiveHint.MatchString(strings.ToLower(c.Label)) && !hasLabel(pros, c.Label) {
			pros = append(pros, c)
			continue
		}
		keptCons = append(keptCons, c)
	}
	return pros, keptCons
}

func hasLabel(aspects []review.Aspect, label string) bool {
	for _, a := range aspects {
		if a.Label == label {
			return true
		}
	}
	return false
}

// singletonFallback admits single-review phrases when an entire side would
// otherwise be empty, so the caller never sees a blank column for a product
// that clearly has complaints (or praise).
func singletonFallback(index *phraseIndex, positive bool) []review.Aspect {
	var out []review.Aspect
	for _, key := range index.order {
		entry := index.entries[key]
		if len(entry.reviews) != 1 {
			continue
		}
		if positive {
			if entry.pos == 0 || !positiveSingleHint.MatchString(entry.phrase) {
				continue
			}
		} else {
			if entry.neg == 0 || !negativeHint.MatchString(entry.phrase) {
				continue
			}
		}
		out = append(out, review.Aspect{
			Label:        entry.phrase,
			SupportCount: 1,
			ExampleIDs:   append([]string(nil), entry.examples...),
		})
	}
	sortAspects(out)
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func sortAspects(aspects []review.Aspect) {
	sort.SliceStable(aspects, func(i, j int) bool {
		if aspects[i].SupportCount != aspects[j].SupportCount {
			return aspects[i].SupportCount > aspects[j].SupportCount
		}
		return aspects[i].Label < aspects[j].Label
	})
}
