// Package httpsrv is the minimal HTTP/1.1 framework shared by the three
// services (spec.md §4.4): a router, a per-connection context dictionary,
// CORS handling, and error shaping. Grounded on ais/target.go's route
// table plus original_source's http.py intent (a per-connection context
// cache closed when the connection goes away).

package httpsrv

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ovirt/imageio-core/internal/logging"
)

// ConnState is the per-connection context dictionary of spec.md §4.4:
// backends cache their opened state here across requests on the same
// connection, registering a closer that the framework runs once, when
// the connection ends ("Closing the connection runs close() on each
// stored context; exceptions during close are logged but don't prevent
// closing the rest").
type ConnState struct {
	id   int64
	conn net.Conn

	mu      sync.Mutex
	closers []func() error
}

// ID is a stable string identifying this connection, used as the key
// into a ticket's per-connection context map (spec.md §3).
func (cs *ConnState) ID() string { return strconv.FormatInt(cs.id, 10) }

// AddCloser registers fn to run exactly once, when the connection closes.
func (cs *ConnState) AddCloser(fn func() error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.closers = append(cs.closers, fn)
}

func (cs *ConnState) closeAll() {
	cs.mu.Lock()
	closers := cs.closers
	cs.closers = nil
	cs.mu.Unlock()
	for _, fn := range closers {
		if err := fn(); err != nil {
			logging.Warningf("httpsrv: error closing connection context: %v", err)
		}
	}
}

// SetIdleDeadline arms the connection's read/write deadline to the
// ticket's inactivity_timeout (spec.md §5 "a connection must set a
// read/write timeout equal to the ticket's inactivity_timeout; exceeding
// it closes the connection, not the ticket"). A non-positive d disarms
// the deadline.
func (cs *ConnState) SetIdleDeadline(d time.Duration) {
	if cs.conn == nil {
		return
	}
	if d <= 0 {
		_ = cs.conn.SetDeadline(time.Time{})
		return
	}
	_ = cs.conn.SetDeadline(time.Now().Add(d))
}

type connStateKey struct{}

// FromContext retrieves the ConnState attached by Tracker.ConnContext to
// this request's underlying connection.
func FromContext(ctx context.Context) *ConnState {
	cs, _ := ctx.Value(connStateKey{}).(*ConnState)
	return cs
}

// Tracker hooks http.Server's ConnContext/ConnState callbacks to create
// one ConnState per accepted connection and close it out when the
// connection ends.
type Tracker struct {
	mu     sync.Mutex
	byConn map[net.Conn]*ConnState
	nextID int64
}

func NewTracker() *Tracker {
	return &Tracker{byConn: make(map[net.Conn]*ConnState)}
}

func (t *Tracker) ConnContext(ctx context.Context, c net.Conn) context.Context {
	t.mu.Lock()
	t.nextID++
	cs := &ConnState{id: t.nextID, conn: c}
	t.byConn[c] = cs
	t.mu.Unlock()
	return context.WithValue(ctx, connStateKey{}, cs)
}

func (t *Tracker) ConnState(c net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}
	t.mu.Lock()
	cs, ok := t.byConn[c]
	delete(t.byConn, c)
	t.mu.Unlock()
	if ok {
		cs.closeAll()
	}
}
