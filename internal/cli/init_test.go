package cli

import (
	"context"
	"log/slog"
	"syscall"
	"testing"
	"time"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		info  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}
	for _, tt := range tests {
		logger := SetupLogger(tt.level)
		ctx := context.Background()
		if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.debug {
			t.Errorf("%s: debug enabled = %v", tt.level, got)
		}
		if got := logger.Enabled(ctx, slog.LevelInfo); got != tt.info {
			t.Errorf("%s: info enabled = %v", tt.level, got)
		}
	}
	SetupLogger("info")
}

func TestGracefulShutdown(t *testing.T) {
	logger := SetupLogger("error")
	cleaned := make(chan struct{})
	ctx, done := GracefulShutdown(logger, time.Second, func(ctx context.Context) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("cleanup context has no deadline")
		}
		close(cleaned)
	})

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		WaitForShutdown(ctx, done)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	select {
	case <-cleaned:
	default:
		t.Fatal("cleanup was not run")
	}
}
