// Package crawler implements the sequential listing crawl: page fetch with a
// readiness wait, selector-driven record extraction, next-link resolution,
// randomized pacing, and the loop that ties them together.
package crawler
