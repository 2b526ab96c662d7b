// Package api hosts the HTTP server, middleware, and handlers of the crawl service.
// Routes:
//   - GET /crawl runs (or short-circuits) the crawl pipeline with conditional caching.
//   - GET /sources lists the feed catalog for a group selection.
//   - GET /health, /readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
