// Package httpclient provides the HTTP client factory used for all traffic
// to orchestration servers, with consistent timeout, retry, and logging
// behavior.
//
// Clients created here include:
//   - Automatic retry with exponential backoff and jitter for idempotent
//     requests (poll traffic); task result updates are retried at the
//     runner level instead, where retry exhaustion must surface as an event
//   - Request logging via log/slog with sensitive query parameters redacted
//   - User-Agent header injection
//   - TLS 1.2 minimum, connection pooling
package httpclient
