// Package crawler turns a set of curated RSS/Atom feeds into a deduplicated, time-windowed,
// newest-first list of articles.
//
// The Orchestrator fans feed fetches out over a bounded worker pool. Each worker acquires a
// per-host permit, waits out the host's spacing, performs a conditional fetch and parses the
// feed with gofeed. Results are merged, filtered to the requested window, deduplicated by the
// SHA-256 of each link and sorted by publication time.
package crawler
