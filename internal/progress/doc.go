// Package progress defines the milestone events emitted during a crawl
// session and the hub that fans them out to sinks.
package progress
