package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestNew tests the level/format constructor used by the binary
func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "debug", "console", false},
		{"unknown format falls back to json", "warn", "production", false},
		{"empty level", "", "json", false},
		{"invalid level", "loud", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

// TestNewLevel tests that the configured level gates output
func TestNewLevel(t *testing.T) {
	logger, err := New("warn", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("Expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("Expected error to be enabled at warn level")
	}
}

// TestNewDevelopmentAndProduction tests the preset constructors
func TestNewDevelopmentAndProduction(t *testing.T) {
	dev, err := NewDevelopment()
	if err != nil {
		t.Fatalf("NewDevelopment() error = %v", err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected development logger to enable debug")
	}

	prod, err := NewProduction()
	if err != nil {
		t.Fatalf("NewProduction() error = %v", err)
	}
	if prod.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected production logger to disable debug")
	}
}

// TestNewWithConfigNil tests the nil config guard
func TestNewWithConfigNil(t *testing.T) {
	if _, err := NewWithConfig(nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

// TestContextLogger tests context-aware logging
func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithLogger(context.Background(), base)
	FromContext(ctx).Info("from context")

	if logs.Len() != 1 {
		t.Fatalf("Expected 1 log entry, got %d", logs.Len())
	}

	// Without a logger the fallback is a usable no-op
	FromContext(context.Background()).Info("dropped")
	if logs.Len() != 1 {
		t.Errorf("Expected fallback logger to drop entries, got %d", logs.Len())
	}
}

// TestScopedLoggers tests the field helpers
func TestScopedLoggers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithComponent(base, "bootstrap").Info("seeded")
	WithSubscription(base, 7, 3).Info("started")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(entries))
	}

	if got := entries[0].ContextMap()["component"]; got != "bootstrap" {
		t.Errorf("Expected component 'bootstrap', got %v", got)
	}

	fields := entries[1].ContextMap()
	if fields["subscription"] != uint64(7) {
		t.Errorf("Expected subscription 7, got %v", fields["subscription"])
	}
	if fields["chain"] != uint64(3) {
		t.Errorf("Expected chain 3, got %v", fields["chain"])
	}
}
