// Package scheduler fires registered task triggers at their wall-clock
// instants.
//
// The scheduler is responsible only for:
//   - keeping one pending entry per task id
//   - sleeping until the earliest next instant in a single loop
//   - handing firings to a Dispatcher without blocking the loop
//   - rebuilding entries from the task store on startup
//
// Execution (search, summary, delivery) lives behind the Dispatcher.
package scheduler
