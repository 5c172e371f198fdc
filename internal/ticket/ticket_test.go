package ticket

import (
	"errors"
	"testing"
	"time"

	"github.com/ovirt/imageio-core/internal/cos"
)

func boolPtr(b bool) *bool { return &b }

func newSpec(id string, ops ...string) Spec {
	return Spec{
		UUID:    id,
		URL:     "file:///tmp/image",
		Ops:     ops,
		Size:    1024,
		Timeout: 300,
	}
}

// fakeOp mirrors original_source/test/auth_test.py's fake Operation: a
// caller-controlled offset/size/done with a Run that can be scripted.
type fakeOp struct {
	offset   int64
	size     int64
	done     int64
	canceled bool
	runFn    func(*fakeOp) error
}

func (o *fakeOp) Offset() int64 { return o.offset }
func (o *fakeOp) Done() int64   { return o.done }
func (o *fakeOp) Cancel()       { o.canceled = true }
func (o *fakeOp) Run() error {
	if o.runFn != nil {
		return o.runFn(o)
	}
	o.done = o.size
	return nil
}

func TestNewRejectsMissingFields(t *testing.T) {
	cases := []Spec{
		{},
		{UUID: "not-a-uuid", URL: "file:///x", Ops: []string{"read"}},
		{UUID: "3eb1d392-9ec4-4935-9f7a-16ba429b3af3", Ops: []string{"read"}},
		{UUID: "3eb1d392-9ec4-4935-9f7a-16ba429b3af3", URL: "ftp://x", Ops: []string{"read"}},
		{UUID: "3eb1d392-9ec4-4935-9f7a-16ba429b3af3", URL: "file:///x"},
		{UUID: "3eb1d392-9ec4-4935-9f7a-16ba429b3af3", URL: "file:///x", Ops: []string{"bogus"}},
	}
	for i, spec := range cases {
		if _, err := New(spec); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestMayOpWriteImpliesRead(t *testing.T) {
	tk, err := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "write"))
	if err != nil {
		t.Fatal(err)
	}
	if !tk.MayOp("read") {
		t.Error("write should imply read")
	}
	if !tk.MayOp("write") {
		t.Error("write should imply write")
	}
}

func TestMayOpReadOnly(t *testing.T) {
	tk, err := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	if err != nil {
		t.Fatal(err)
	}
	if tk.MayOp("write") {
		t.Error("read-only ticket must not allow write")
	}
}

func TestTransferredNothing(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	n, ok := tk.Transferred()
	if !ok || n != 0 {
		t.Errorf("expected (0, true), got (%d, %v)", n, ok)
	}
}

func TestTransferredMixedOpsUndefined(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read", "write"))
	_, ok := tk.Transferred()
	if ok {
		t.Error("expected ok=false for a ticket with more than one op")
	}
}

func TestTransferredInactiveOrderedOps(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	must(t, tk.Run(&fakeOp{offset: 0, size: 100}))
	must(t, tk.Run(&fakeOp{offset: 100, size: 100}))
	n, ok := tk.Transferred()
	if !ok || n != 200 {
		t.Errorf("expected 200, got %d (ok=%v)", n, ok)
	}
}

func TestTransferredInactiveOverlappingOps(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	must(t, tk.Run(&fakeOp{offset: 0, size: 100}))
	must(t, tk.Run(&fakeOp{offset: 50, size: 100}))
	n, _ := tk.Transferred()
	if n != 150 {
		t.Errorf("expected 150, got %d", n)
	}
}

func TestTransferredOngoingConcurrentOps(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	block := make(chan struct{})
	op1 := &fakeOp{offset: 0, size: 50, done: 50}
	op2 := &fakeOp{offset: 50, size: 50, done: 50, runFn: func(o *fakeOp) error {
		<-block
		return nil
	}}
	if err := tk.addOperation(op1); err != nil {
		t.Fatal(err)
	}
	if err := tk.addOperation(op2); err != nil {
		t.Fatal(err)
	}
	n, ok := tk.Transferred()
	if !ok || n != 100 {
		t.Errorf("expected 100 while both ongoing, got %d (ok=%v)", n, ok)
	}
	close(block)
	tk.removeOperation(op1)
	tk.removeOperation(op2)
}

func TestRunCanceledBeforeNeverRuns(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	if err := tk.Cancel(0); err != nil {
		if _, ok := err.(*cos.ConflictError); !ok {
			t.Fatalf("unexpected cancel error: %v", err)
		}
	}
	op := &fakeOp{offset: 0, size: 10}
	err := tk.Run(op)
	if err == nil {
		t.Fatal("expected authorization error")
	}
	if op.done != 0 {
		t.Error("operation must not have run")
	}
}

func TestRunCanceledDuringStillFails(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	op := &fakeOp{offset: 0, size: 10, runFn: func(o *fakeOp) error {
		o.done = o.size
		_ = tk.Cancel(0)
		return nil
	}}
	err := tk.Run(op)
	if err == nil {
		t.Fatal("expected authorization error even though the operation completed")
	}
	if op.done != op.size {
		t.Error("operation should have completed its own work")
	}
}

func TestCancelUnusedTicket(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	if err := tk.Cancel(time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.ConnectionCount() != 0 {
		t.Error("expected no connections")
	}
}

func TestCancelTimesOutWithOpenConnection(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	if err := tk.AddContext("conn-1", &Context{}); err != nil {
		t.Fatal(err)
	}
	err := tk.Cancel(1 * time.Millisecond)
	if err == nil {
		t.Fatal("expected cancel to time out")
	}
	if !tk.Canceled() {
		t.Error("ticket must remain canceled even after a timed-out cancel")
	}
	if tk.ConnectionCount() != 1 {
		t.Error("connection must remain registered after a timed-out cancel")
	}
}

func TestCancelWaitsForConnectionsToClose(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	ids := []string{"c1", "c2", "c3", "c4"}
	for _, id := range ids {
		if err := tk.AddContext(id, &Context{}); err != nil {
			t.Fatal(err)
		}
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		for _, id := range ids {
			tk.RemoveContext(id)
		}
	}()
	if err := tk.Cancel(time.Second); err != nil {
		t.Fatalf("expected cancel to succeed once connections close: %v", err)
	}
}

func TestCancelClosesOngoingOperations(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	ops := []*fakeOp{{offset: 0, size: 1}, {offset: 1, size: 1}, {offset: 2, size: 1}}
	for _, op := range ops {
		if err := tk.addOperation(op); err != nil {
			t.Fatal(err)
		}
	}
	if err := tk.Cancel(0); err != nil {
		var conflict *cos.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("unexpected error type: %v", err)
		}
	}
	for i, op := range ops {
		if !op.canceled {
			t.Errorf("op %d was not canceled", i)
		}
	}
}

func TestAddContextFailsAfterCancel(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	must(t, tk.Cancel(0))
	if err := tk.AddContext("c1", &Context{}); err == nil {
		t.Fatal("expected error adding context to a canceled ticket")
	}
}

func TestGetContextMissing(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	if _, ok := tk.GetContext("missing"); ok {
		t.Error("expected ok=false")
	}
}

func TestRemoveContextMissingIsNoop(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	tk.RemoveContext("missing")
}

func TestActiveAndIdleTime(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	if tk.Active() {
		t.Error("new ticket must not be active")
	}
	block := make(chan struct{})
	op := &fakeOp{offset: 0, size: 1, runFn: func(o *fakeOp) error { <-block; return nil }}
	done := make(chan error, 1)
	go func() { done <- tk.Run(op) }()
	for !tk.Active() {
		time.Sleep(time.Millisecond)
	}
	if tk.IdleTime(time.Now()) != 0 {
		t.Error("idle time must be zero while active")
	}
	close(block)
	<-done
}

func TestExtend(t *testing.T) {
	tk, _ := New(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read"))
	before := tk.Expires()
	tk.Extend(time.Hour)
	if !tk.Expires().After(before) {
		t.Error("extend must move expires forward")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
