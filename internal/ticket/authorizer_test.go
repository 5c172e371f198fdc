package ticket

import (
	"testing"
	"time"
)

func TestAuthorizerAddGetRemove(t *testing.T) {
	a := NewAuthorizer()
	spec := newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read")
	if _, err := a.Add(spec); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Get(spec.UUID); err != nil {
		t.Fatal(err)
	}
	if a.Len() != 1 {
		t.Errorf("expected 1 ticket, got %d", a.Len())
	}
	if err := a.Remove(spec.UUID, time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Get(spec.UUID); err == nil {
		t.Fatal("expected ticket to be gone")
	}
}

func TestAuthorizerAddReplacesInactive(t *testing.T) {
	a := NewAuthorizer()
	spec := newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read")
	if _, err := a.Add(spec); err != nil {
		t.Fatal(err)
	}
	spec.Size = 2048
	if _, err := a.Add(spec); err != nil {
		t.Fatalf("expected replace of an inactive ticket to succeed: %v", err)
	}
	tk, _ := a.Get(spec.UUID)
	if tk.Size != 2048 {
		t.Errorf("expected replaced ticket, got size %d", tk.Size)
	}
}

func TestAuthorizerAddRejectsActiveReplace(t *testing.T) {
	a := NewAuthorizer()
	spec := newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read")
	tk, err := a.Add(spec)
	if err != nil {
		t.Fatal(err)
	}
	block := make(chan struct{})
	op := &fakeOp{offset: 0, size: 1, runFn: func(o *fakeOp) error { <-block; return nil }}
	done := make(chan error, 1)
	go func() { done <- tk.Run(op) }()
	for !tk.Active() {
		time.Sleep(time.Millisecond)
	}
	if _, err := a.Add(spec); err == nil {
		t.Error("expected replacing an active ticket to fail")
	}
	close(block)
	<-done
}

func TestAuthorizerRemoveMissing(t *testing.T) {
	a := NewAuthorizer()
	if err := a.Remove("missing", time.Second); err == nil {
		t.Error("expected not-found error")
	}
}

func TestAuthorizerClear(t *testing.T) {
	a := NewAuthorizer()
	if _, err := a.Add(newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read")); err != nil {
		t.Fatal(err)
	}
	a.Clear()
	if a.Len() != 0 {
		t.Error("expected empty store after Clear")
	}
}

func TestAuthorizerAuthorize(t *testing.T) {
	a := NewAuthorizer()
	spec := newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read")
	if _, err := a.Add(spec); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Authorize(spec.UUID, "read"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Authorize(spec.UUID, "write"); err == nil {
		t.Error("expected forbidden-op error")
	}
	if _, err := a.Authorize("missing", "read"); err == nil {
		t.Error("expected no-ticket error")
	}
}

func TestAuthorizerAuthorizeExpired(t *testing.T) {
	a := NewAuthorizer()
	spec := newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read")
	spec.Timeout = 0
	tk, err := a.Add(spec)
	if err != nil {
		t.Fatal(err)
	}
	tk.Extend(-time.Second)
	if _, err := a.Authorize(spec.UUID, "read"); err == nil {
		t.Error("expected expired error")
	}
}

func TestAuthorizerAuthorizeCanceled(t *testing.T) {
	a := NewAuthorizer()
	spec := newSpec("3eb1d392-9ec4-4935-9f7a-16ba429b3af3", "read")
	tk, err := a.Add(spec)
	if err != nil {
		t.Fatal(err)
	}
	must(t, tk.Cancel(0))
	if _, err := a.Authorize(spec.UUID, "read"); err == nil {
		t.Error("expected canceled error")
	}
}
