package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeCleaner struct {
	n   int
	err error
	at  time.Time
}

func (f *fakeCleaner) CleanupExpiredClients(_ context.Context, now time.Time) (int, error) {
	f.at = now
	return f.n, f.err
}

func TestRunCleanup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := &fakeCleaner{n: 2}
	n, err := RunCleanup(context.Background(), f, now)
	if err != nil || n != 2 {
		t.Fatalf("RunCleanup = %d, %v", n, err)
	}
	if !f.at.Equal(now) {
		t.Errorf("cleanup ran at %v, want %v", f.at, now)
	}

	f.err = errors.New("boom")
	if n, err := RunCleanup(context.Background(), f, now); err == nil || n != 0 {
		t.Errorf("RunCleanup = %d, %v; want error", n, err)
	}
}

func TestNewScheduler(t *testing.T) {
	s, err := NewScheduler("0 3 * * *", &fakeCleaner{})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()
	next := s.Next()
	if next.IsZero() || next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("next run at %v, want 03:00", next)
	}

	if _, err := NewScheduler("every day", &fakeCleaner{}); err == nil {
		t.Error("invalid schedule accepted")
	}
}
