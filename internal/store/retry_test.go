package store

import (
	"errors"
	"testing"
	"time"
)

var fastRetry = retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 4 * time.Millisecond}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"syntax", errors.New("near SELECT: syntax error"), false},
		{"busy", errors.New("SQLITE_BUSY"), true},
		{"locked text", errors.New("database is locked"), true},
		{"code 6", errors.New("sqlite: (6) table is locked"), true},
		{"short read", errors.New("sqlite: (522) short read"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOpRetriesTransient(t *testing.T) {
	calls := 0
	err := retryOp(fastRetry, func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d, want nil after 3 calls", err, calls)
	}
}

func TestRetryOpStopsOnPermanent(t *testing.T) {
	permanent := errors.New("constraint failed")
	calls := 0
	err := retryOp(fastRetry, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryOpGivesUp(t *testing.T) {
	calls := 0
	err := retryOp(fastRetry, func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || calls != fastRetry.maxRetries+1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(fastRetry, attempt)
		if d > fastRetry.maxDelay+fastRetry.baseDelay {
			t.Fatalf("attempt %d delay %v exceeds cap", attempt, d)
		}
	}
}
