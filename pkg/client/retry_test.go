package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoffSuccess(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		return nil
	}, KindOf)

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoffTransientThenSuccess(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &FetchError{Kind: KindNetwork, Endpoint: "test", Message: "transient"}
		}
		return nil
	}, KindOf)

	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetryWithBackoffNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
	}{
		{"not found", KindNotFound},
		{"unauthorized", KindUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			fe := &FetchError{Kind: tt.kind, Endpoint: "test"}
			err := retryWithBackoff(context.Background(), func() error {
				calls++
				return fe
			}, KindOf)

			if !errors.Is(err, fe) {
				t.Errorf("expected original error, got %v", err)
			}
			if calls != 1 {
				t.Errorf("expected no retry, got %d calls", calls)
			}
		})
	}
}

func TestRetryWithBackoffExhaustion(t *testing.T) {
	calls := 0
	fe := &FetchError{Kind: KindNetwork, Endpoint: "test", Message: "down"}
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		return fe
	}, KindOf)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, fe) {
		t.Error("exhaustion error should wrap the last attempt error")
	}

	maxAttempts := RetryConfigForKind(KindNetwork).MaxAttempts
	if calls != maxAttempts {
		t.Errorf("expected %d calls, got %d", maxAttempts, calls)
	}
}

func TestRetryWithBackoffContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- retryWithBackoff(ctx, func() error {
			calls++
			return &FetchError{Kind: KindRateLimited, Endpoint: "test"}
		}, KindOf)
	}()

	// Cancel while the first backoff wait is in progress.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrContextCancelled) {
			t.Errorf("expected ErrContextCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not return after cancellation")
	}

	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestRetryConfigForKind(t *testing.T) {
	rl := RetryConfigForKind(KindRateLimited)
	if rl.MaxAttempts != 5 {
		t.Errorf("rate limited attempts = %d, want 5", rl.MaxAttempts)
	}

	nw := RetryConfigForKind(KindNetwork)
	if nw.MaxAttempts != 3 {
		t.Errorf("network attempts = %d, want 3", nw.MaxAttempts)
	}
	if nw.InitialBackoff >= rl.InitialBackoff {
		t.Error("network backoff should start faster than rate limited backoff")
	}
}
