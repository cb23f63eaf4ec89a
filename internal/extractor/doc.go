// Package extractor implements the page drivers that load review listing
// pages and pull structured reviews, pagination links and anti-bot signals
// out of them.
package extractor
