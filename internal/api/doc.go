// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/platforms lists the registered platforms with worker state.
//   - GET /v1/{platform}/metadata, /ranking, /search for platform-wide reads.
//   - GET /v1/{platform}/entities/{id} (scoring on first read), /percentile,
//     and POST .../score to force a rescore.
package api
