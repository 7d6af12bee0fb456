// Package api hosts the HTTP server for job control. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit, GET /v1/jobs/{job_id} to inspect and
//     DELETE /v1/jobs/{job_id} to cancel a crawl job.
package api
