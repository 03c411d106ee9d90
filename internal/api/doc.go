// Package api hosts the HTTP server, middleware, and REST handlers for the
// scraper. Notable routes:
//   - POST /v1/jobs to submit a domain, GET /v1/jobs to list jobs.
//   - GET /v1/jobs/{job_id} and POST /v1/jobs/{job_id}/cancel.
//   - GET /v1/ws for live job-update events over a websocket.
//   - GET /healthz, /readyz for probes and /metrics for Prometheus scraping.
package api
