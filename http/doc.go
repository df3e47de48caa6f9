// Package http provides a resilient REST client that retries transient
// failures with exponential backoff and jitter and reports every call as a
// normalized Response instead of an error.
//
// Retries
//   - Controlled via Builder.WithRetries(maxRetries, initialBackoff, maxBackoff).
//   - Retries occur on:
//   - Transport failures classified as transient (connect, resolve, timeout,
//     TLS handshake, empty reply, send and receive errors)
//   - HTTP 5xx and 429 responses
//   - Other statuses, malformed URLs, redirect loops and certificate
//     verification failures end the call at once.
//
// Backoff Strategy
//   - The delay before retry n is min(initialBackoff * 2^(n-1), maxBackoff).
//   - The delay is scaled by a random factor in [0.5, 1.5).
//   - The wait is aborted when the request context is done.
//
// Notes
//   - Each attempt is built afresh from the immutable Request.
//   - Every attempt of one call carries the same X-Request-ID header.
//   - A call runs in one client span named "HTTP <METHOD>" whose context is
//     propagated as traceparent.
package http
