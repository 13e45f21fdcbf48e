// Package api hosts the HTTP server, middleware, and REST handlers of the
// catalog. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/providers and /v1/backends for catalog reads, with fields=
//     projection.
//   - POST, PATCH and DELETE on /v1/providers for curation (API key).
//   - POST /v1/admin/refresh to queue a refresh job, and
//     GET /v1/admin/refresh/{job_id} to follow it (API key).
package api
