package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestReconnectManager() *ReconnectManager {
	logger, _ := zap.NewDevelopment()
	return NewReconnectManager(ReconnectConfig{
		InitialDelay:      5 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
	}, logger)
}

func TestReconnect_BackoffDoubling(t *testing.T) {
	rm := newTestReconnectManager()

	want := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second, // capped
		60 * time.Second, // stays capped
	}

	for i, expected := range want {
		rm.incrementBackoff()
		if got := rm.currentDelay(); got != expected {
			t.Errorf("after %d failures: backoff = %v, want %v", i+1, got, expected)
		}
	}
}

func TestReconnect_FullJitterBounds(t *testing.T) {
	rm := newTestReconnectManager()

	// Full jitter draws uniformly from [0, currentBackoff)
	for i := 0; i < 100; i++ {
		delay := rm.nextBackoff()
		if delay < 0 || delay >= 5*time.Second {
			t.Fatalf("jittered delay %v outside [0, 5s)", delay)
		}
	}

	rm.incrementBackoff()
	for i := 0; i < 100; i++ {
		delay := rm.nextBackoff()
		if delay < 0 || delay >= 10*time.Second {
			t.Fatalf("jittered delay %v outside [0, 10s)", delay)
		}
	}
}

func TestReconnect_Reset(t *testing.T) {
	rm := newTestReconnectManager()

	rm.incrementBackoff()
	rm.incrementBackoff()
	if rm.currentDelay() != 20*time.Second {
		t.Fatalf("backoff = %v, want 20s", rm.currentDelay())
	}

	rm.Reset()
	if rm.currentDelay() != 5*time.Second {
		t.Errorf("backoff after reset = %v, want 5s", rm.currentDelay())
	}
}

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rm := NewReconnectManager(ReconnectConfig{
		InitialDelay:      time.Millisecond,
		MaxDelay:          4 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}, logger)

	attempts := 0
	connect := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("dial refused")
		}
		return nil
	}

	err := rm.Reconnect(context.Background(), connect)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	// Backoff resets after a successful reconnect
	if rm.currentDelay() != time.Millisecond {
		t.Errorf("backoff after success = %v, want 1ms", rm.currentDelay())
	}
}

func TestReconnect_ContextCancellation(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	rm := NewReconnectManager(ReconnectConfig{
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rm.Reconnect(ctx, func(ctx context.Context) error {
		t.Error("connect must not be called after cancellation")
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
