// Package api hosts the ops HTTP server. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes (readyz pings the datastore).
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the scheduler snapshot.
//   - GET /v1/cycles and /v1/cycles/{cycle_id}/channels for cycle history via
//     the CycleRepository interface.
package api
