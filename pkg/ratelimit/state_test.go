package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}

	bad := Config{Limit: 10}
	if err := bad.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
	}
}

func TestState_Saturated(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{
			name:     "room left",
			state:    State{Limit: 3, InWindow: 1, Pending: 1, Taken: now},
			expected: false,
		},
		{
			name:     "full window",
			state:    State{Limit: 3, InWindow: 3, Taken: now},
			expected: true,
		},
		{
			name:     "pending reservations fill the window",
			state:    State{Limit: 3, InWindow: 1, Pending: 2, Taken: now},
			expected: true,
		},
		{
			name:     "paused",
			state:    State{Limit: 3, PausedUntil: now.Add(time.Second), Taken: now},
			expected: true,
		},
		{
			name:     "pause expired",
			state:    State{Limit: 3, PausedUntil: now.Add(-time.Second), Taken: now},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Saturated(); got != tt.expected {
				t.Errorf("Saturated() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_TimeUntilResume(t *testing.T) {
	now := time.Now()

	s := State{PausedUntil: now.Add(30 * time.Second), Taken: now}
	if got := s.TimeUntilResume(); got != 30*time.Second {
		t.Errorf("TimeUntilResume() = %v, want 30s", got)
	}

	s = State{Taken: now}
	if got := s.TimeUntilResume(); got != 0 {
		t.Errorf("TimeUntilResume() = %v, want 0", got)
	}
}
