package stats

import (
	"errors"
	"testing"
	"time"
)

func TestClockRunRecordsSuccessAndBytes(t *testing.T) {
	c := NewClock(nil)
	err := c.Run("read", func(e *Entry) error {
		e.Bytes = 4096
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	e, ok := snap["read"]
	if !ok {
		t.Fatal("expected a snapshot entry for \"read\"")
	}
	if e.Ops != 1 {
		t.Fatalf("expected Ops == 1, got %d", e.Ops)
	}
	if e.Bytes != 4096 {
		t.Fatalf("expected Bytes == 4096, got %d", e.Bytes)
	}
}

func TestClockRunDoesNotCountOpOnError(t *testing.T) {
	c := NewClock(nil)
	boom := errors.New("boom")
	err := c.Run("write", func(e *Entry) error { return boom })
	if err != boom {
		t.Fatalf("expected Run to propagate the error, got %v", err)
	}
	snap := c.Snapshot()
	if snap["write"].Ops != 0 {
		t.Fatalf("expected Ops == 0 on a failed operation, got %d", snap["write"].Ops)
	}
}

func TestClockAccumulatesAcrossCalls(t *testing.T) {
	c := NewClock(nil)
	ticks := []time.Time{
		time.Unix(0, 0),
		time.Unix(1, 0),
		time.Unix(1, 0),
		time.Unix(3, 0),
	}
	i := 0
	c.now = func() time.Time {
		ts := ticks[i]
		i++
		return ts
	}
	c.Run("zero", func(*Entry) error { return nil })
	c.Run("zero", func(*Entry) error { return nil })

	e := c.Snapshot()["zero"]
	if e.Ops != 2 {
		t.Fatalf("expected Ops == 2, got %d", e.Ops)
	}
	if e.Seconds != 3 {
		t.Fatalf("expected 1s + 2s == 3s accumulated, got %v", e.Seconds)
	}
}

func TestNullClockDiscardsTimings(t *testing.T) {
	var c NullClock
	called := false
	if err := c.Run("noop", func(*Entry) error { called = true; return nil }); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected NullClock.Run to still invoke fn")
	}
}
