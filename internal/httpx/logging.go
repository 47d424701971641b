package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// LoggingTransport emits one debug record per request and one per response
// (with latency). Query strings are dropped since they may carry API keys.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
	// Label names the upstream service ("model", "sheets", "github", ...).
	Label string
}

// Wrap returns base wrapped in a LoggingTransport, or base itself when logger is nil.
func Wrap(base http.RoundTripper, logger *slog.Logger, label string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		return base
	}
	return &LoggingTransport{Base: base, Logger: logger, Label: label}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	target := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

	start := time.Now()
	t.Logger.Debug("http request", "service", t.Label, "method", req.Method, "url", target)
	resp, err := base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.Logger.Debug("http error", "service", t.Label, "url", target, "duration", dur, "error", err)
		return resp, err
	}
	t.Logger.Debug("http response", "service", t.Label, "url", target, "status", resp.StatusCode, "duration", dur)
	return resp, err
}
