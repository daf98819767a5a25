package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitConditionImmediateSuccess(t *testing.T) {
	calls := 0
	err := awaitCondition(context.Background(), time.Second, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single check, got %d", calls)
	}
}

func TestAwaitConditionEventualSuccess(t *testing.T) {
	calls := 0
	err := awaitCondition(context.Background(), time.Second, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 checks, got %d", calls)
	}
}

func TestAwaitConditionTimeout(t *testing.T) {
	err := awaitCondition(context.Background(), 20*time.Millisecond, time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestAwaitConditionPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := awaitCondition(context.Background(), time.Second, time.Millisecond, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected cond error, got %v", err)
	}
}

func TestAwaitConditionContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := awaitCondition(ctx, time.Second, time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
