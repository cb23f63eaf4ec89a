package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingPage = `<html>
<head><link rel="next" href="/product-reviews/B01?page=2"></head>
<body>
<div id="cm_cr-review_list">
  <div class="review" id="R1">
    <span class="review-text-content">Great battery life, lasts all week.</span>
    <i class="a-icon-alt">5.0 out of 5 stars</i>
  </div>
  <div class="review" id="R2">
    <span class="review-text-content">Motor is noisy.</span>
    <i class="a-icon-alt">2.0 out of 5 stars</i>
  </div>
</div>
</body></html>`

func TestParsePageExtractsReviews(t *testing.T) {
	res := ParsePage("https://example.com/product-reviews/B01?page=1", []byte(listingPage))
	require.Empty(t, res.Error)
	require.Len(t, res.Reviews, 2)

	assert.Equal(t, "R1", res.Reviews[0].ID)
	assert.Equal(t, "Great battery life, lasts all week.", res.Reviews[0].Text)
	require.NotNil(t, res.Reviews[0].Rating)
	assert.Equal(t, 5.0, *res.Reviews[0].Rating)

	require.NotNil(t, res.Reviews[1].Rating)
	assert.Equal(t, 2.0, *res.Reviews[1].Rating)

	assert.False(t, res.CaptchaDetected)
	assert.False(t, res.Blocked)
	assert.Equal(t, "https://example.com/product-reviews/B01?page=2", res.NextPageURL)
}

func TestParsePageDetectsCaptchaAndBlock(t *testing.T) {
	res := ParsePage("https://example.com/x", []byte(`<html><body>Please complete the CAPTCHA to continue</body></html>`))
	assert.True(t, res.CaptchaDetected)
	assert.False(t, res.Blocked)

	res = ParsePage("https://example.com/x", []byte(`<html><body>Access Denied</body></html>`))
	assert.True(t, res.Blocked)
}

func TestParsePageNextLinkEqualToCurrentIsAbsent(t *testing.T) {
	page := `<html><body><a href="/p?page=1#top">Next</a></body></html>`
	res := ParsePage("https://example.com/p?page=1", []byte(page))
	assert.Empty(t, res.NextPageURL)
}

func TestParsePageStripsFragmentsFromNextURL(t *testing.T) {
	page := `<html><body><a href="/p?page=2#reviews">Next</a></body></html>`
	res := ParsePage("https://example.com/p?page=1", []byte(page))
	assert.Equal(t, "https://example.com/p?page=2", res.NextPageURL)
}

func TestParsePageJumpsToReviewListing(t *testing.T) {
	page := `<html><body>
	  <a data-hook="see-all-reviews-link" href="/product-reviews/B01">See all reviews</a>
	  <a href="/dp/B01?page=2">Next</a>
	</body></html>`
	res := ParsePage("https://example.com/dp/B01", []byte(page))
	assert.Equal(t, "https://example.com/product-reviews/B01", res.NextPageURL,
		"the review listing jump wins over generic pagination on a product page")
}

func TestParsePageNoJumpOnceOnListing(t *testing.T) {
	page := `<html><body>
	  <a data-hook="see-all-reviews-link" href="/product-reviews/B01">See all reviews</a>
	</body></html>`
	res := ParsePage("https://example.com/product-reviews/B01?page=3", []byte(page))
	assert.Empty(t, res.NextPageURL)
}

func TestParsePageStableFallbackIDs(t *testing.T) {
	page := `<html><body><div id="cm_cr-review_list">
	  <div class="review"><span class="review-text-content">Solid build quality.</span></div>
	</div></body></html>`
	first := ParsePage("https://example.com/p", []byte(page))
	second := ParsePage("https://example.com/p", []byte(page))
	require.Len(t, first.Reviews, 1)
	assert.NotEmpty(t, first.Reviews[0].ID)
	assert.Equal(t, first.Reviews[0].ID, second.Reviews[0].ID,
		"content-derived IDs must be stable across visits")
}

func TestParsePagePaginationMarkup(t *testing.T) {
	page := `<html><body>
	  <ul class="a-pagination">
	    <li class="a-last"><a href="/product-reviews/B01?page=4">More</a></li>
	  </ul>
	</body></html>`
	res := ParsePage("https://example.com/product-reviews/B01?page=3", []byte(page))
	assert.Equal(t, "https://example.com/product-reviews/B01?page=4", res.NextPageURL)
}
