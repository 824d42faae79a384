package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 1 || calls != 1 {
		t.Errorf("Attempts = %d, calls = %d, want 1/1", result.Attempts, calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	result := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return permanent
	})

	if !errors.Is(result.Err, permanent) {
		t.Errorf("Err = %v, want %v", result.Err, permanent)
	}
	if result.Attempts != 3 || calls != 3 {
		t.Errorf("Attempts = %d, calls = %d, want 3/3", result.Attempts, calls)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	cfg := Config{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, Factor: 2}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := Do(ctx, cfg, func() error {
		calls++
		return errors.New("still failing")
	})

	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", result.Err)
	}
	if calls >= 10 {
		t.Errorf("calls = %d, want early stop", calls)
	}
}

func TestDoZeroConfigRunsOnce(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Config{}, func() error {
		calls++
		return errors.New("fail")
	})

	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls = %d, Attempts = %d, want 1/1", calls, result.Attempts)
	}
}
