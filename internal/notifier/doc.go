// Package notifier delivers task results to chat recipients.
//
// Deliveries are synchronous so the caller learns the outcome, but every
// send passes a shared token-bucket limiter and is retried with backoff.
// Flood-control hints from the transport (retry_after) override the backoff.
//
// # History
//
// For operator visibility, the service keeps a small in-memory history of
// recent deliveries.
package notifier
