package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(Config{
		Handler:   slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		Component: ComponentLedger,
	})
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.Info("hello", FieldOperation, OpCreate)
	l.WithComponent(ComponentHTTP).Warn("careful")

	out := buf.String()
	if !strings.Contains(out, "component=ledger") || !strings.Contains(out, "operation=create") {
		t.Fatalf("missing attributes in %q", out)
	}
	if !strings.Contains(out, "component=http") {
		t.Fatalf("WithComponent not applied: %q", out)
	}
	if strings.Count(out, "component=") != 2 {
		t.Fatalf("component should appear once per record: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().WithOperation(OpAdjust).WithError(errors.New("boom")).WithHTTPResponse(404, 3)
	args := f.ToSlice()
	if len(args) != 2*len(f) {
		t.Fatalf("ToSlice() returned %d values for %d fields", len(args), len(f))
	}
	if f[FieldError] != "boom" || f[FieldStatusCode] != 404 {
		t.Fatalf("unexpected fields %v", f)
	}
}

func TestMiddlewareLogLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		h := Middleware(newBufferLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()).Component() != ComponentLedger {
				t.Error("logger missing from context")
			}
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/entries", nil))

		if out := buf.String(); !strings.Contains(out, tt.level) || !strings.Contains(out, "path=/entries") {
			t.Errorf("status %d: unexpected log %q", tt.status, out)
		}
	}
}

func TestMiddlewarePrefersContextLogger(t *testing.T) {
	var base, scoped bytes.Buffer
	h := Middleware(newBufferLogger(&base))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithLogger(context.Background(), newBufferLogger(&scoped).With(FieldRequestID, "req_1")))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if base.Len() != 0 {
		t.Errorf("base logger should be unused, got %q", base.String())
	}
	if !strings.Contains(scoped.String(), "request_id=req_1") {
		t.Errorf("scoped logger not used: %q", scoped.String())
	}
}
