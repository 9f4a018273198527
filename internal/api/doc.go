// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes, including the queue depth.
//   - GET /metrics for Prometheus scraping.
//   - /api/v1/jobs/... for the job lifecycle: create, list, start, stop,
//     update, delete, logs, CSV export, and plugin runs.
//   - POST /api/v1/debug/raw for ad-hoc raw queries without a job.
//   - GET /files/{name} for downloading exported CSVs.
package api
