// Package main hosts the siteverdict service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, classification, and key management endpoints.
//     Classification requests are authenticated per issued API key, rate limited, and answered from the result
//     cache or the store before the rendering pipeline is engaged.
//   - Classification pipeline: internal/classify.Pipeline normalizes the URL, optionally probes reachability with
//     a cheap Colly GET, captures a full-page screenshot through a retrying Chromedp capturer, encodes the image
//     as an inline data URL, and asks a multimodal chat-completions model for one of three canonical verdicts.
//     Render exhaustion engages the configured fallback (text-only judgment or immediate failure sentinel);
//     inference failures surface as the sentinel and are never retried.
//   - Persistence & fanout: outcomes are written to the configured store (memory/Postgres), cached in-process
//     with a TTL, optionally archived as screenshots (local/GCS), and optionally announced on a Pub/Sub topic.
//   - Configuration & plumbing: Viper populates config from file/env (CLASSIFIER_ prefix); zap provides
//     structured logging; Prometheus metrics are exported via middleware and the /metrics handler.
//
// Operational notes:
//   - Concurrency model: requests are synchronous end to end; headless renders are bounded by a semaphore sized
//     by render.max_parallel, and every render attempt runs in a fresh disposable tab context.
//   - Shutdown: the process reacts to SIGINT/SIGTERM with an HTTP drain, browser teardown, and store close.
//   - Run locally: go run ./cmd/siteverdict -config config.yaml (or rely solely on env overrides; auth requires
//     CLASSIFIER_AUTH_MASTER_KEY unless CLASSIFIER_AUTH_ENABLED=false).
package main
