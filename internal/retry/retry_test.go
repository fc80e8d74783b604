package retry

import (
	"errors"
	"testing"
	"time"
)

func withStubbedSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleep
	sleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { sleep = orig })
	return &slept
}

func TestDoSucceedsWithoutSleeping(t *testing.T) {
	slept := withStubbedSleep(t)
	p := Policy{Attempts: 5, Base: 150 * time.Millisecond}
	if err := p.Do("op", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*slept) != 0 {
		t.Fatalf("slept %v on immediate success", *slept)
	}
}

func TestDoLinearBackoffThenSuccess(t *testing.T) {
	slept := withStubbedSleep(t)
	calls := 0
	p := Policy{Attempts: 5, Base: 100 * time.Millisecond}
	err := p.Do("op", func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("slept %v, want %v", *slept, want)
		}
	}
}

func TestDoExhaustionWrapsLastError(t *testing.T) {
	withStubbedSleep(t)
	sentinel := errors.New("locked")
	p := Policy{Attempts: 3, Base: time.Millisecond}
	err := p.Do("rename snapshot", func() error { return sentinel })
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("error does not wrap sentinel: %v", err)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	withStubbedSleep(t)
	calls := 0
	if err := (Policy{}).Do("op", func() error { calls++; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("ran %d times", calls)
	}
}
