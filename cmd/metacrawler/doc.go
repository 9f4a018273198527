// Package main hosts the metadata fetch service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job management, and artifact download endpoints.
//     Requests are validated, normalized into service inputs, and persisted via the JobStore before execution is
//     enqueued.
//   - Dispatcher & queue: started jobs flow through a bounded in-memory queue sized by workers.queue_depth and
//     are fanned out to a fixed worker pool sized by workers.count. Context cancellation stops workers cleanly on
//     shutdown; a job interrupted mid-run stays in the running state and can be resumed after restart.
//   - Fetch pipeline: workers hand each job to the service layer, which resolves a platform fetcher from the
//     registry. GitHub and GitLab speak GraphQL through a shared client with credential rotation; Bitbucket uses
//     paginated REST with OAuth2 client credentials. All outbound calls go through the retrying request executor
//     and the per-host pacer, and result payloads are parsed concurrently into repository records.
//   - Persistence & fanout: jobs (including their result payloads and log lines) live in Postgres when a DSN is
//     configured, otherwise in memory. CSV exports are written to the configured blob store (memory/local/GCS)
//     and served back under /files for readable backends. A compact completion event is published to Pub/Sub when
//     a topic is configured; job log lines are batched through the joblog hub into the store, the service log,
//     and Prometheus counters.
//   - Configuration & plumbing: Viper populates config from env/files (METACRAWLER_ prefix, .env support); zap
//     provides structured logging; Prometheus metrics are exported via the /metrics handler.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool; batch parsing has its own concurrency bound via
//     fetch.max_concurrent. Shutdown is coordinated via context cancellation propagated from the server through
//     the dispatcher to workers.
//   - Rate limiting/backoff: the executor retries transient failures with clamped exponential backoff and honors
//     Retry-After hints; rate-limited credentials are benched for fetch.ban_cooldown_seconds and rotation picks
//     the next available token.
//   - Observability: zap logs carry job IDs at key transitions; Prometheus counters/histograms track API traffic,
//     outbound requests, job outcomes, and fetched repository counts. Tracing is not wired in.
//
// Quick checklist:
//   - Configure env vars: METACRAWLER_SERVER_PORT, METACRAWLER_PLATFORMS_GITHUB_TOKENS (comma-separated),
//     METACRAWLER_PLATFORMS_GITLAB_TOKENS, METACRAWLER_PLATFORMS_BITBUCKET_CLIENT_ID/_CLIENT_SECRET, storage
//     (METACRAWLER_STORAGE_*), pubsub, and METACRAWLER_DB_DSN when persistence beyond memory is required.
//   - Run locally: go run ./cmd/metacrawler -config config.yaml (or rely solely on env overrides).
//   - Platforms without credentials are left out of the registry at startup and report as unsupported when a job
//     targets them; the service still starts so the remaining platforms keep working.
package main
