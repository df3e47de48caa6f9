// Package retry holds the retry/backoff decision engine of the HTTP client.
//
// Everything here is a pure function of its inputs: an attempt Outcome and
// the 0-based index of the attempt that produced it. The executor in package
// http asks Policy.Decide what to do next and sleeps for Decision.Delay when
// told to retry.
//
// Retryable outcomes
//   - HTTP 429 and every status >= 500.
//   - Transport failures classified as connect-failed, resolve-failed,
//     timed-out, tls-connect-failed, got-nothing, send-failed or recv-failed.
//
// Everything else fails fast: other 4xx, unexpected 3xx, malformed URLs,
// unsupported schemes, certificate verification failures, redirect exhaustion.
//
// Backoff
//
//	base  = min(InitialBackoff * 2^(attempt-1), MaxBackoff)
//	delay = base * uniform[0.5, 1.5)
//
// Backoff(0) is zero. With the defaults (1s, 10s) the delays before the
// second, third and fourth attempts are about 1s, 2s and 4s.
package retry
