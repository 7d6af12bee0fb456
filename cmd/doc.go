// Package cmd defines the shelfscan command line.
//
// Architecture overview:
//   - serve: runs the HTTP API (internal/api) in front of the dispatcher. Submitted jobs are persisted through the
//     JobStore, queued on a bounded in-memory queue and picked up by a fixed worker pool. Seeds listed under
//     crawl.schedule are submitted automatically, once per crawl window when one is configured.
//   - crawl: runs a single job in the foreground for the configured (or flag-supplied) seeds and prints the final job
//     record as JSON. The exit status is non-zero when the job failed or was canceled.
//   - Each job walks its listing pages through the crawl state controller, extracts product cards, deduplicates them
//     through the identity index (memory or Redis) and emits records to the product store (memory or Postgres) with
//     optional notifications (memory, Pub/Sub or a Redis stream).
//   - Configuration: Viper reads an optional YAML file plus SHELFSCAN_* environment variables; zap provides structured
//     logging; Prometheus metrics are served on /metrics by the serve command.
package cmd
