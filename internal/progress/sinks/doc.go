// Package sinks implements concrete progress consumers: Prometheus per-channel
// counters, the cycle history repository, and structured logging. Each sink
// satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
