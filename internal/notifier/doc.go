// Package notifier delivers chat messages.
//
// Deliver sends a change summary synchronously so the caller can record
// whether it went out. Notify queues operator alerts (pauses, sweep
// failures) for a worker pool that applies dedup, rate limiting and retry.
// Both paths share one rate limiter per process.
//
// FormatChanges renders a diff as the HTML summary users receive.
package notifier
