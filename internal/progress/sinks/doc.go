// Package sinks implements concrete event consumers: structured logging,
// Prometheus, Redis pub/sub and Google Cloud Pub/Sub. Each sink satisfies the
// progress.Sink interface and is safe for repeated Consume/Close cycles.
package sinks
