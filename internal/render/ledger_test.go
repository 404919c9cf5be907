package render

import "testing"

func TestRegisterAndUsage(t *testing.T) {
	l := NewBufferLedger(1000)
	l.Register(100, 200)
	l.Register(200, 300)
	if got := l.Usage(); got != 500 {
		t.Fatalf("usage = %d, want 500", got)
	}
}

func TestHasCapacityRespectsCap(t *testing.T) {
	l := NewBufferLedger(500)
	l.Register(100, 400)
	if !l.HasCapacity(100) {
		t.Error("expected capacity for 100 more bytes")
	}
	if l.HasCapacity(101) {
		t.Error("expected no capacity for 101 more bytes")
	}
}

func TestPruneConsumedPopsHeadOnly(t *testing.T) {
	l := NewBufferLedger(1000)
	l.Register(100, 10)
	l.Register(200, 20)
	l.Register(300, 30)

	l.PruneConsumed(150)
	if got := l.Usage(); got != 50 {
		t.Fatalf("usage after prune = %d, want 50", got)
	}

	l.PruneConsumed(1000)
	if got := l.Usage(); got != 0 {
		t.Fatalf("usage after full prune = %d, want 0", got)
	}
}

func TestDropOldestEvictsHead(t *testing.T) {
	l := NewBufferLedger(10)
	l.Register(100, 5)
	l.Register(200, 5)

	freed, ok := l.DropOldest()
	if !ok || freed != 5 {
		t.Fatalf("DropOldest = (%d, %v), want (5, true)", freed, ok)
	}
	if got := l.Usage(); got != 5 {
		t.Fatalf("usage after drop = %d, want 5", got)
	}
}

func TestDropOldestOnEmptyLedger(t *testing.T) {
	l := NewBufferLedger(10)
	if _, ok := l.DropOldest(); ok {
		t.Fatal("expected DropOldest to report false on an empty ledger")
	}
}

func TestOutOfOrderRegistrationsAreNotReordered(t *testing.T) {
	l := NewBufferLedger(1000)
	// Register a later-ending chunk before an earlier-ending one; FIFO
	// order is preserved by registration order, not by end time.
	l.Register(300, 10)
	l.Register(100, 10)

	// Pruning at 150 removes nothing: the head (end_time 300 > 150) is not
	// yet due, even though the second entry (end_time 100) has already passed.
	l.PruneConsumed(150)
	if got := l.Usage(); got != 20 {
		t.Fatalf("usage = %d, want 20 (head not yet due)", got)
	}
}
