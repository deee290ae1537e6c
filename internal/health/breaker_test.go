package health

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, interval time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, interval)
	b.now = clock.now
	return b, clock
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("expected Allow=true for closed breaker")
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected Allow=false for open breaker")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2, time.Second)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Errorf("expected closed, non-consecutive failures must not trip, got %s", b.State())
	}
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)

	b.RecordFailure()
	clock.advance(time.Second)

	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("expected first probe to be allowed")
	}
	if b.Allow() {
		t.Error("expected second concurrent probe to be rejected")
	}
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		want    State
	}{
		{"success closes", true, StateClosed},
		{"failure reopens", false, StateOpen},
	}

	for _, tt := range tests {
		b, clock := newTestBreaker(1, time.Second)
		b.RecordFailure()
		clock.advance(time.Second)
		b.Allow()

		if tt.success {
			b.RecordSuccess()
		} else {
			b.RecordFailure()
		}
		if got := b.State(); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestBreaker_OnChange(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)

	var transitions []string
	b.OnChange(func(from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	})

	b.RecordFailure()
	clock.advance(time.Second)
	b.Allow()
	b.RecordSuccess()

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBreaker_ReleaseFreesProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	b.RecordFailure()
	clock.advance(time.Second)

	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	b.Release()
	if b.State() != StateHalfOpen {
		t.Errorf("expected release to keep half_open, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("expected a new probe after release")
	}
}
