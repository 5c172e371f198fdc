// Package ticket implements the ticket-scoped authorization store:
// authorization, lifetime, idle and cancellation semantics, and
// per-connection accounting (spec.md §4.1), grounded on
// original_source/test/auth_test.py and
// original_source/daemon/ovirt_imageio_daemon/auth.py.

package ticket

import (
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ovirt/imageio-core/internal/cos"
)

// SupportedSchemes are the backend URL schemes a ticket may name (spec.md
// §3 "url").
var SupportedSchemes = map[string]bool{
	"file": true, "nbd": true, "nbds": true, "https": true,
}

// Spec is the wire shape of a ticket as accepted by PUT /tickets/{id}
// (spec.md §6 "Ticket JSON schema").
type Spec struct {
	UUID              string   `json:"uuid"`
	TransferID        string   `json:"transfer_id,omitempty"`
	URL               string   `json:"url"`
	Ops               []string `json:"ops"`
	Size              int64    `json:"size"`
	Timeout           int64    `json:"timeout"`
	InactivityTimeout int64    `json:"inactivity_timeout,omitempty"`
	Sparse            *bool    `json:"sparse,omitempty"`
	Dirty             *bool    `json:"dirty,omitempty"`
	Filename          string   `json:"filename,omitempty"`
}

// Operation is anything a Ticket can run under its authorization: the
// copy-engine reads/writes, a zero step, or a flush (spec.md §4.1 "run").
// Offset/Done let the ticket merge the operation's in-flight range into
// its transferred-bytes accounting while the operation is still running.
type Operation interface {
	Offset() int64
	Done() int64
	Run() error
	Cancel()
}

// Context is the per-connection backend context (spec.md §3 "Per-connection
// backend context"): exactly one backend and one reusable buffer, owned by
// the ticket for the lifetime of one HTTP connection.
type Context struct {
	Backend Closer
	Buffer  []byte

	closeOnce sync.Once
	closeErr  error
}

// Closer is the minimal surface Context needs from a backend; satisfied by
// internal/backend.Backend without backend needing to import this package.
type Closer interface {
	Close() error
}

// Close is idempotent (spec.md §4.2 "close(): Idempotent"): both Cancel
// and the HTTP connection's own teardown may close the same context, so
// only the first call reaches the backend.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		if c.Backend != nil {
			c.closeErr = c.Backend.Close()
		}
	})
	return c.closeErr
}

// Ticket holds the immutable issuance attributes plus mutable state
// described in spec.md §3.
type Ticket struct {
	// Issuance (immutable after New).
	UUID              string
	TransferID        string
	URL               *url.URL
	RawURL            string
	Size              int64
	Ops               []string
	Timeout           time.Duration
	InactivityTimeout time.Duration
	Filename          string
	Sparse            bool
	Dirty             bool

	mu          sync.Mutex
	expires     time.Time
	lastAccess  time.Time
	canceled    bool
	ongoing     map[Operation]struct{}
	completed   []cos.ByteRange
	connections map[string]*Context
}

// New validates a Spec and constructs a Ticket with a fresh expiry window,
// mirroring original_source's Ticket.__init__ validation order: required
// fields, then type/range checks, then URL scheme support.
func New(spec Spec) (*Ticket, error) {
	if spec.UUID == "" {
		return nil, cos.NewValidationError("missing required field: uuid")
	}
	if _, err := uuid.Parse(spec.UUID); err != nil {
		return nil, cos.NewValidationError("invalid uuid %q: %v", spec.UUID, err)
	}
	if spec.URL == "" {
		return nil, cos.NewValidationError("missing required field: url")
	}
	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, cos.NewValidationError("invalid url %q: %v", spec.URL, err)
	}
	if !SupportedSchemes[u.Scheme] {
		return nil, cos.NewValidationError("unsupported url scheme: %q", u.Scheme)
	}
	if len(spec.Ops) == 0 {
		return nil, cos.NewValidationError("missing required field: ops")
	}
	for _, op := range spec.Ops {
		if op != "read" && op != "write" {
			return nil, cos.NewValidationError("invalid op %q, expecting \"read\" or \"write\"", op)
		}
	}
	if spec.Size < 0 {
		return nil, cos.NewValidationError("invalid size %d", spec.Size)
	}
	if spec.Timeout < 0 {
		return nil, cos.NewValidationError("invalid timeout %d", spec.Timeout)
	}
	if spec.InactivityTimeout < 0 {
		return nil, cos.NewValidationError("invalid inactivity_timeout %d", spec.InactivityTimeout)
	}

	now := time.Now()
	t := &Ticket{
		UUID:              spec.UUID,
		TransferID:        spec.TransferID,
		URL:               u,
		RawURL:            spec.URL,
		Size:              spec.Size,
		Ops:               spec.Ops,
		Timeout:           time.Duration(spec.Timeout) * time.Second,
		InactivityTimeout: time.Duration(spec.InactivityTimeout) * time.Second,
		Filename:          spec.Filename,
		expires:           now.Add(time.Duration(spec.Timeout) * time.Second),
		lastAccess:        now,
		ongoing:           make(map[Operation]struct{}),
		connections:       make(map[string]*Context),
	}
	if spec.Sparse != nil {
		t.Sparse = *spec.Sparse
	}
	if spec.Dirty != nil {
		t.Dirty = *spec.Dirty
	}
	return t, nil
}

// MayOp reports whether op is permitted; "write" implies "read" (spec.md
// §3 Invariants).
func (t *Ticket) MayOp(op string) bool {
	if op == "read" {
		return contains(t.Ops, "read") || contains(t.Ops, "write")
	}
	return contains(t.Ops, op)
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func (t *Ticket) Expires() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expires
}

func (t *Ticket) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Active reports whether any connection is actively executing an
// operation right now.
func (t *Ticket) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ongoing) > 0
}

// IdleTime is 0 while Active(); otherwise time since the last completed
// operation (spec.md §3 Invariants).
func (t *Ticket) IdleTime(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ongoing) > 0 {
		return 0
	}
	return now.Sub(t.lastAccess)
}

// Extend sets expires = now + timeout, permitted even if already expired
// (spec.md §4.1 "extend").
func (t *Ticket) Extend(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expires = time.Now().Add(timeout)
}

// Run registers op as ongoing, runs it, then records its final range into
// completed_ranges and refreshes last_access (spec.md §4.1 "run"). If the
// ticket was already canceled, op never runs. If the ticket becomes
// canceled while op runs (from another goroutine calling Cancel, which
// signals op.Cancel()), Run still reports an authorization error once op
// returns, regardless of op's own result.
func (t *Ticket) Run(op Operation) error {
	if err := t.addOperation(op); err != nil {
		return err
	}
	runErr := op.Run()
	t.removeOperation(op)
	if t.Canceled() {
		return cos.NewAuthError(cos.AuthCanceled, "ticket %s canceled", t.UUID)
	}
	return runErr
}

func (t *Ticket) addOperation(op Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		return cos.NewAuthError(cos.AuthCanceled, "ticket %s canceled", t.UUID)
	}
	t.ongoing[op] = struct{}{}
	return nil
}

func (t *Ticket) removeOperation(op Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ongoing, op)
	t.completed = append(t.completed, cos.ByteRange{Start: op.Offset(), Length: op.Done()})
	t.completed = cos.MergeRanges(t.completed)
	t.lastAccess = time.Now()
}

// Transferred returns the merged byte count from completed_ranges and
// every ongoing operation's [offset, offset+done) interval. The second
// return value is false when the ticket has both read and write ops, in
// which case the value is intentionally undefined (spec.md §3, §9 Open
// Questions; DESIGN.md decision #3).
func (t *Ticket) Transferred() (int64, bool) {
	if len(t.Ops) > 1 {
		return 0, false
	}
	t.mu.Lock()
	ranges := make([]cos.ByteRange, 0, len(t.completed)+len(t.ongoing))
	ranges = append(ranges, t.completed...)
	for op := range t.ongoing {
		ranges = append(ranges, cos.ByteRange{Start: op.Offset(), Length: op.Done()})
	}
	t.mu.Unlock()
	merged := cos.MergeRanges(ranges)
	return cos.SumLength(merged), true
}

// AddContext registers a per-connection context; fails once canceled
// (spec.md §3 Invariants "Adding a connection... is forbidden once
// canceled is true").
func (t *Ticket) AddContext(connID string, ctx *Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		return cos.NewAuthError(cos.AuthCanceled, "ticket %s canceled", t.UUID)
	}
	t.connections[connID] = ctx
	return nil
}

func (t *Ticket) GetContext(connID string) (*Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctx, ok := t.connections[connID]
	return ctx, ok
}

// RemoveContext drops the context from the ticket's connection set. It
// does not close it: the caller (the HTTP connection layer, or a test
// simulating it) is responsible for closing before or after removal.
// Missing connIDs are ignored, matching original_source's idempotent
// remove_context.
func (t *Ticket) RemoveContext(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.connections, connID)
}

func (t *Ticket) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connections)
}

// errCancelTimeout builds the ConflictError that Cancel returns (and
// Authorizer.Remove propagates) when connections remained open past the deadline;
// the ticket stays canceled and in the store so the caller can retry
// (spec.md §4.1 "Removal policy").
func errCancelTimeout(uuid string) error {
	return cos.NewConflictError("cancel timed out waiting for connections to close: ticket %s", uuid)
}

// Cancel marks the ticket canceled, signals every ongoing operation to
// cancel, closes every registered connection context, then waits up to
// timeout for all contexts to be removed (spec.md §4.1 "cancel").
func (t *Ticket) Cancel(timeout time.Duration) error {
	t.mu.Lock()
	t.canceled = true
	ops := make([]Operation, 0, len(t.ongoing))
	for op := range t.ongoing {
		ops = append(ops, op)
	}
	ctxs := make([]*Context, 0, len(t.connections))
	for _, c := range t.connections {
		ctxs = append(ctxs, c)
	}
	t.mu.Unlock()

	for _, op := range ops {
		op.Cancel()
	}
	for _, c := range ctxs {
		_ = c.Close()
	}

	const pollInterval = 5 * time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		if t.ConnectionCount() == 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errCancelTimeout(t.UUID)
		}
		sleep := pollInterval
		if remaining := time.Until(deadline); remaining < sleep {
			sleep = remaining
		}
		if sleep <= 0 {
			return errCancelTimeout(t.UUID)
		}
		time.Sleep(sleep)
	}
}

// Info is the control-service snapshot (spec.md §4.1 "info").
type Info struct {
	UUID              string   `json:"uuid"`
	TransferID        string   `json:"transfer_id,omitempty"`
	URL               string   `json:"url"`
	Ops               []string `json:"ops"`
	Size              int64    `json:"size"`
	Timeout           int64    `json:"timeout"`
	InactivityTimeout int64    `json:"inactivity_timeout,omitempty"`
	Sparse            bool     `json:"sparse,omitempty"`
	Dirty             bool     `json:"dirty,omitempty"`
	Filename          string   `json:"filename,omitempty"`
	Active            bool     `json:"active"`
	Canceled          bool     `json:"canceled"`
	Connections       int      `json:"connections"`
	Expires           int64    `json:"expires"`
	IdleTime          int64    `json:"idle_time"`
	Transferred       *int64   `json:"transferred,omitempty"`
}

func (t *Ticket) Info() Info {
	now := time.Now()
	t.mu.Lock()
	info := Info{
		UUID:              t.UUID,
		TransferID:        t.TransferID,
		URL:               t.RawURL,
		Ops:               t.Ops,
		Size:              t.Size,
		Timeout:           int64(t.Timeout / time.Second),
		InactivityTimeout: int64(t.InactivityTimeout / time.Second),
		Sparse:            t.Sparse,
		Dirty:             t.Dirty,
		Filename:          t.Filename,
		Active:            len(t.ongoing) > 0,
		Canceled:          t.canceled,
		Connections:       len(t.connections),
		Expires:           t.expires.Unix(),
	}
	if len(t.ongoing) == 0 {
		info.IdleTime = int64(now.Sub(t.lastAccess) / time.Second)
	}
	t.mu.Unlock()
	if v, ok := t.Transferred(); ok {
		info.Transferred = &v
	}
	return info
}
