package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{"with field", NewConfigError("limits.tiers", "at least one tier"), "config error in limits.tiers: at least one tier"},
		{"without field", NewConfigError("", "file not found"), "config error: file not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandError(t *testing.T) {
	inner := errors.New("store unavailable")
	err := NewCommandError("check", inner)

	if got := err.Error(); got != "command check failed: store unavailable" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, inner) {
		t.Error("CommandError should unwrap to the inner error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"rejected", ErrRejected, ExitRejected},
		{"wrapped rejected", NewCommandError("check", fmt.Errorf("client acme: %w", ErrRejected)), ExitRejected},
		{"config", NewConfigError("server", "bad"), ExitConfig},
		{"wrapped config", fmt.Errorf("run: %w", NewConfigError("server", "bad")), ExitConfig},
		{"other", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
