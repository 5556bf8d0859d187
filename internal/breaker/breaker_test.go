package breaker

import (
	"testing"
	"time"
)

func TestClosed_AllowsAttempts(t *testing.T) {
	s := NewSet()
	if !s.Allow("p1") {
		t.Fatal("closed circuit should allow attempts")
	}
	if s.CurrentState("p1") != Closed {
		t.Fatalf("expected Closed, got %s", s.CurrentState("p1"))
	}
}

func TestTripsAfterThreshold(t *testing.T) {
	s := NewSet()

	for i := 0; i < 4; i++ {
		s.RecordFailure("p1")
	}
	if s.CurrentState("p1") != Closed {
		t.Fatalf("expected Closed after 4 failures, got %s", s.CurrentState("p1"))
	}
	if !s.Allow("p1") {
		t.Fatal("should still allow after 4 failures")
	}

	// Fifth consecutive failure trips the circuit.
	s.RecordFailure("p1")
	if s.CurrentState("p1") != Open {
		t.Fatalf("expected Open after 5 failures, got %s", s.CurrentState("p1"))
	}
	if s.Allow("p1") {
		t.Fatal("open circuit should reject attempts")
	}
}

func TestCooldown_ClosesOnAllow(t *testing.T) {
	now := time.Now()
	s := NewSet(WithThreshold(1), WithCooldown(10*time.Second), WithClock(func() time.Time { return now }))

	s.RecordFailure("p1")
	if s.Allow("p1") {
		t.Fatal("should reject inside cooldown")
	}

	now = now.Add(11 * time.Second)
	if !s.Allow("p1") {
		t.Fatal("should allow after cooldown elapsed")
	}
	if s.CurrentState("p1") != Closed {
		t.Fatalf("expected Closed after cooldown, got %s", s.CurrentState("p1"))
	}
}

func TestRecordSuccess_ResetsCounterAndCloses(t *testing.T) {
	s := NewSet(WithThreshold(3))

	s.RecordFailure("p1")
	s.RecordFailure("p1")
	s.RecordSuccess("p1")

	// Counter reset: three more failures are needed to trip.
	s.RecordFailure("p1")
	s.RecordFailure("p1")
	if s.CurrentState("p1") != Closed {
		t.Fatalf("expected Closed, got %s", s.CurrentState("p1"))
	}
	s.RecordFailure("p1")
	if s.CurrentState("p1") != Open {
		t.Fatalf("expected Open, got %s", s.CurrentState("p1"))
	}

	// A success while Open closes the circuit immediately.
	s.RecordSuccess("p1")
	if s.CurrentState("p1") != Closed {
		t.Fatalf("expected Closed after success, got %s", s.CurrentState("p1"))
	}
	if !s.Allow("p1") {
		t.Fatal("circuit should allow after success")
	}
}

func TestCircuitsAreIndependent(t *testing.T) {
	s := NewSet(WithThreshold(1))

	s.RecordFailure("p1")
	if s.CurrentState("p1") != Open {
		t.Fatalf("expected p1 Open, got %s", s.CurrentState("p1"))
	}
	if !s.Allow("p2") {
		t.Fatal("p2 should be unaffected by p1's circuit")
	}
}

func TestOnStateChange_Callback(t *testing.T) {
	type transition struct {
		id       string
		from, to State
	}
	var transitions []transition
	now := time.Now()
	s := NewSet(
		WithThreshold(1),
		WithCooldown(5*time.Second),
		WithClock(func() time.Time { return now }),
		WithOnStateChange(func(id string, from, to State) {
			transitions = append(transitions, transition{id, from, to})
		}),
	)

	s.RecordFailure("p1") // Closed -> Open
	now = now.Add(6 * time.Second)
	s.Allow("p1") // Open -> Closed

	want := []transition{
		{"p1", Closed, Open},
		{"p1", Open, Closed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(transitions))
	}
	for i, tr := range transitions {
		if tr != want[i] {
			t.Errorf("transition %d: expected %+v, got %+v", i, want[i], tr)
		}
	}
}

func TestSnapshotAndReset(t *testing.T) {
	s := NewSet(WithThreshold(1))
	s.RecordFailure("p1")
	s.RecordFailure("p2")

	snap := s.Snapshot()
	if snap["p1"] != Open || snap["p2"] != Open {
		t.Fatalf("expected both circuits Open, got %v", snap)
	}

	s.Reset("p1")
	if !s.Allow("p1") {
		t.Fatal("reset circuit should allow attempts")
	}
	if s.CurrentState("p2") != Open {
		t.Fatal("reset of p1 should not touch p2")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
