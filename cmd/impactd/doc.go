// Package main hosts the impact ranking service entrypoint.
//
// Architecture overview:
//   - Platforms: each enabled platform (github, huggingface, reddit) gets an adapter built by
//     internal/platform.Registry on a rate-limited JSON client. Adapters fetch activity records and
//     related entity keys from the upstream API.
//   - Supervisor & workers: internal/supervisor owns one bounded, de-duplicating queue and one worker
//     per platform. Workers alternate between scoring an entity and expanding its relations, bounded
//     by crawler.max_depth hops from the entity that seeded the walk.
//   - Scoring & persistence: a score run fetches records, computes the h-index, upserts the entity
//     into the configured EntityStore (memory or Postgres), and folds the change into the platform's
//     running statistics. A compact score event is then published (memory or Pub/Sub).
//   - HTTP API: internal/api.Server serves rankings, search, percentiles, and platform metadata.
//     Reading an entity that has never been scored triggers a synchronous score run.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Shutdown: SIGINT/SIGTERM drains the HTTP server, then stops every worker and waits for the
//     in-flight work item to finish before closing the store and publisher.
//   - Rate limiting: per-host token buckets sized by platforms.<name>.requests_per_second and burst.
//
// Quick checklist:
//   - Configure env vars: IMPACT_SERVER_PORT or PORT, IMPACT_STORAGE_DRIVER, IMPACT_DB_DSN,
//     IMPACT_PLATFORMS_GITHUB_TOKEN, IMPACT_PUBSUB_PROJECT_ID.
//   - Run locally: go run ./cmd/impactd -config config.yaml (or rely solely on env overrides).
package main
