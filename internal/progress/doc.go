// Package progress provides the event primitives, non-blocking hub and emitter
// interface the scheduler uses to report cycle progress. Events are batched on
// a background goroutine and fanned out to pluggable sinks such as Prometheus
// metrics, structured logs or the cycle history table.
package progress
