package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/reviewlens/review-crawler/internal/review"
)

const (
	defaultModel   = "gemini-1.5-flash"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultTimeout = 30 * time.Second

	// requestSpacing is the minimum gap between remote calls. Free-tier
	// Gemini quotas are per-minute; a fixed floor keeps bursts out.
	requestSpacing = 3 * time.Second
)

// GeminiConfig configures the remote summarizer. An empty APIKey is valid
// and routes every request to the heuristic fallback.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Gemini summarizes reviews with the Gemini generateContent API. Any remote
// failure, malformed response, or schema violation degrades to the heuristic
// summarizer rather than failing the session.
type Gemini struct {
	client   *resty.Client
	limiter  *rate.Limiter
	fallback *Heuristic
	model    string
	apiKey   string
	logger   *zap.Logger
}

func NewGemini(cfg GeminiConfig, logger *zap.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Gemini{
		client:   resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.Timeout),
		limiter:  rate.NewLimiter(rate.Every(requestSpacing), 1),
		fallback: NewHeuristic(logger),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		logger:   logger.Named("summarize.gemini"),
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"topK"`
	TopP        float64 `json:"topP"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type promptReview struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Rating *float64 `json:"rating"`
}

const schemaDescription = `{
  "pros": [ { "label": string, "support_count": number, "example_ids": [string] } ],
  "cons": [ { "label": string, "support_count": number, "example_ids": [string] } ],
  "note_pros": string,
  "note_cons": string
}`

const systemPrompt = `You are an assistant that extracts product ASPECTS from user reviews and produces ONLY JSON (no markdown). Each aspect label must be a concise noun phrase (e.g. "battery life", "build quality", "noise level", "customer support"). Do NOT use placeholders like 'product', 'name', 'brand', 'redacted'. Merge duplicates. Limit to top 8 pros and 8 cons.`

func buildPrompt(reviews []review.Review, site string) (string, error) {
	sampled := SampleForPrompt(reviews)
	prompt := make([]promptReview, len(sampled))
	for i, r := range sampled {
		prompt[i] = promptReview{ID: r.ID, Text: r.Text, Rating: r.Rating}
	}
	input, err := json.Marshal(map[string]any{"site": site, "reviews": prompt})
	if err != nil {
		return "", fmt.Errorf("marshal prompt input: %w", err)
	}
	if site == "" {
		site = "unknown"
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nSOURCE SITE: " + site + "\n")
	b.WriteString("TASK: From the provided review objects, create summarised pros and cons focusing on tangible aspects or experience qualities. Decide whether an aspect is a pro or a con based on sentiment (ratings & wording). If both positive and negative feedback exist for an aspect, place it where the majority sentiment lies (break ties by rating average).\n")
	b.WriteString("RULES:\n")
	b.WriteString("- support_count is how many DISTINCT reviews (by id) back that aspect\n")
	b.WriteString("- example_ids: up to 3 representative review ids that mention it\n")
	b.WriteString("- Exclude overly generic tokens (product, item, purchase, amazon, delivery) unless directly critiqued (e.g. 'delivery delay')\n")
	b.WriteString("- Prefer multi-word phrases over single adjectives\n")
	b.WriteString("- NEVER fabricate aspects not found in text\n")
	b.WriteString("- If no pros or cons, return empty arrays and notes explaining absence.\n")
	b.WriteString("SCHEMA: " + schemaDescription + "\n")
	b.WriteString("INPUT_REVIEWS_JSON: " + string(input) + "\n")
	b.WriteString("Return ONLY raw JSON.")
	return b.String(), nil
}

func (g *Gemini) Summarize(ctx context.Context, reviews []review.Review, site string) (review.Summary, error) {
	if g.apiKey == "" {
		return g.fallback.Summarize(ctx, reviews, site)
	}
	summary, err := g.remoteSummary(ctx, reviews, site)
	if err != nil {
		if ctx.Err() != nil {
			return review.Summary{}, ctx.Err()
		}
		g.logger.Warn("remote summarization failed, using heuristic fallback", zap.Error(err))
		return g.fallback.Summarize(ctx, reviews, site)
	}
	return summary, nil
}

func (g *Gemini) remoteSummary(ctx context.Context, reviews []review.Review, site string) (review.Summary, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return review.Summary{}, err
	}
	prompt, err := buildPrompt(reviews, site)
	if err != nil {
		return review.Summary{}, err
	}

	var result generateResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("key", g.apiKey).
		SetBody(generateRequest{
			Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
			GenerationConfig: generationConfig{Temperature: 0.2, TopK: 32, TopP: 0.9},
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", g.model))
	if err != nil {
		return review.Summary{}, fmt.Errorf("gemini request: %w", err)
	}
	if !resp.IsSuccess() {
		return review.Summary{}, fmt.Errorf("gemini request: status %d", resp.StatusCode())
	}
	if len(result.Candidates) == 0 {
		return review.Summary{}, fmt.Errorf("gemini response: no candidates")
	}

	var text strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
		text.WriteString("\n")
	}
	block, ok := ExtractFirstJSONBlock(text.String())
	if !ok {
		return review.Summary{}, fmt.Errorf("gemini response: no JSON block")
	}
	return decodeSummary(block)
}

// decodeSummary parses a model payload and rejects it when any of the four
// schema fields is absent, before normal cleaning is applied.
func decodeSummary(block string) (review.Summary, error) {
	var raw struct {
		Pros     *[]review.Aspect `json:"pros"`
		Cons     *[]review.Aspect `json:"cons"`
		NotePros *string          `json:"note_pros"`
		NoteCons *string          `json:"note_cons"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return review.Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	if raw.Pros == nil || raw.Cons == nil || raw.NotePros == nil || raw.NoteCons == nil {
		return review.Summary{}, fmt.Errorf("decode summary: missing schema fields")
	}
	return Clean(review.Summary{
		Pros:     *raw.Pros,
		Cons:     *raw.Cons,
		NotePros: *raw.NotePros,
		NoteCons: *raw.NoteCons,
	}), nil
}

// ProbeKey issues a minimal generateContent call to classify the configured
// credential. It never consults the fallback; a missing key is a status, not
// an error.
func (g *Gemini) ProbeKey(ctx context.Context) (review.KeyStatus, string) {
	if g.apiKey == "" {
		return review.KeyMissing, "no API key configured"
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("key", g.apiKey).
		SetBody(generateRequest{Contents: []content{{Parts: []part{{Text: "hello"}}}}}).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", g.model))
	if err != nil {
		return review.KeyNetworkError, err.Error()
	}
	switch {
	case resp.StatusCode() == 400, resp.StatusCode() == 401, resp.StatusCode() == 403:
		return review.KeyInvalid, fmt.Sprintf("rejected with status %d", resp.StatusCode())
	case resp.StatusCode() == 429:
		return review.KeyQuotaExhausted, "quota exhausted"
	case resp.IsSuccess():
		return review.KeyValid, ""
	default:
		return review.KeyError, fmt.Sprintf("unexpected status %d", resp.StatusCode())
	}
}
