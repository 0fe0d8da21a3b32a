package httpclient

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// sensitiveParams are query parameters redacted from request logs.
var sensitiveParams = map[string]bool{
	"api_key":   true,
	"apikey":    true,
	"token":     true,
	"secret":    true,
	"password":  true,
	"signature": true,
}

// loggingTransport wraps an http.RoundTripper to log each request with a
// sanitized URL and to inject the User-Agent header.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newLoggingTransport(base http.RoundTripper, userAgent string) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{base: base, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	logURL := sanitizeURL(req.URL)

	if err != nil {
		slog.Warn("http request failed",
			"method", req.Method,
			"url", logURL,
			"duration_ms", duration,
			"error", err.Error(),
		)
		return resp, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	slog.Log(req.Context(), level, "http request",
		"method", req.Method,
		"url", logURL,
		"status", resp.StatusCode,
		"duration_ms", duration,
	)

	return resp, nil
}

// sanitizeURL returns the URL as a string with sensitive query parameter
// values redacted. The original URL is not modified.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	redacted := false
	for key := range q {
		if sensitiveParams[key] {
			q.Set(key, "REDACTED")
			redacted = true
		}
	}
	if !redacted {
		return u.String()
	}
	clean := *u
	clean.RawQuery = q.Encode()
	return clean.String()
}
