// Package progress carries job-update events from the scheduler to subscribers.
// The Hub accepts events without blocking, batches them on a background
// goroutine and fans them out to pluggable sinks such as structured logs,
// Prometheus, Redis pub/sub, Cloud Pub/Sub or websocket clients.
package progress
