package ticket

import (
	"sync"
	"time"

	"github.com/ovirt/imageio-core/internal/cos"
)

// Authorizer is the process-wide ticket store backing the control
// service's /tickets/ resource (spec.md §4.1, §4.3), grounded on
// original_source/daemon/ovirt_imageio_daemon/auth.py's module-level
// add/remove/clear/get functions, restated here as methods on a value the
// control and transfer services share explicitly instead of through
// package-level state.
type Authorizer struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
}

func NewAuthorizer() *Authorizer {
	return &Authorizer{tickets: make(map[string]*Ticket)}
}

// Add validates spec and inserts the resulting ticket. A ticket with the
// same uuid already present may only be replaced while inactive (spec.md
// §4.1 "add").
func (a *Authorizer) Add(spec Spec) (*Ticket, error) {
	t, err := New(spec)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.tickets[t.UUID]; ok && existing.Active() {
		return nil, cos.NewConflictError("ticket %s is active and cannot be replaced", t.UUID)
	}
	a.tickets[t.UUID] = t
	return t, nil
}

// Get returns the ticket by uuid or a NotFoundError.
func (a *Authorizer) Get(id string) (*Ticket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tickets[id]
	if !ok {
		return nil, cos.NewNotFoundError("no such ticket: %s", id)
	}
	return t, nil
}

// Remove cancels the ticket (waiting up to removeTimeout for open
// connections to close) and, only on success, drops it from the store.
// On a cancel timeout the ticket stays present and canceled so a later
// retry can complete the removal (spec.md §4.1 "Removal policy").
func (a *Authorizer) Remove(id string, removeTimeout time.Duration) error {
	t, err := a.Get(id)
	if err != nil {
		return err
	}
	if err := t.Cancel(removeTimeout); err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.tickets, id)
	a.mu.Unlock()
	return nil
}

// Clear empties the store without canceling anything, matching
// original_source's Handler.delete() with no ticket id (used for process
// shutdown and tests).
func (a *Authorizer) Clear() {
	a.mu.Lock()
	a.tickets = make(map[string]*Ticket)
	a.mu.Unlock()
}

// Len reports the number of tickets currently held, reported as the
// tickets_active gauge by the /info/ endpoint.
func (a *Authorizer) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tickets)
}

// List returns every ticket's info, sorted is left to the caller.
func (a *Authorizer) List() []Info {
	a.mu.Lock()
	tickets := make([]*Ticket, 0, len(a.tickets))
	for _, t := range a.tickets {
		tickets = append(tickets, t)
	}
	a.mu.Unlock()
	infos := make([]Info, len(tickets))
	for i, t := range tickets {
		infos[i] = t.Info()
	}
	return infos
}

// Authorize looks a ticket up by uuid and checks that it may perform op,
// is not canceled, and has not expired (spec.md §4.2 "authorize").
func (a *Authorizer) Authorize(id, op string) (*Ticket, error) {
	t, err := a.Get(id)
	if err != nil {
		return nil, cos.NewAuthError(cos.AuthNoTicket, "no such ticket: %s", id)
	}
	if t.Canceled() {
		return nil, cos.NewAuthError(cos.AuthCanceled, "ticket %s canceled", id)
	}
	if time.Now().After(t.Expires()) {
		return nil, cos.NewAuthError(cos.AuthExpired, "ticket %s expired", id)
	}
	if !t.MayOp(op) {
		return nil, cos.NewAuthError(cos.AuthForbiddenOp, "ticket %s forbids %q", id, op)
	}
	return t, nil
}
