// Package fetch populates the cache from the remote API without ever
// blocking the UI goroutine. Refresh requests spawn workers, coalesce
// per scope, retry transient failures with exponential backoff, and
// report progress over an event channel the UI drains as messages.
package fetch
