// Package stats provides named operation timers used across handlers and
// the copy engine (spec.md §4.9), grounded on
// original_source/daemon/ovirt_imageio/_internal/stats.py's Clock/NullClock
// and exported through a Prometheus registry the way the teacher's
// stats/target_stats.go exposes its own Tracker.

package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer is the interface handlers and the copy engine depend on, so a
// request with no clock attached can use NullClock instead of a nil check
// at every call site.
type Timer interface {
	Start(name string) *Entry
	Run(name string, fn func(*Entry) error) error
}

// Clock times complex flows: multiple named timings within one request or
// copy operation (e.g. "read", "write", "zero", "flush", "checksum").
type Clock struct {
	mu    sync.Mutex
	stats map[string]*Entry
	now   func() time.Time
	hist  *prometheus.HistogramVec
}

type Entry struct {
	Name      string
	Seconds   float64
	Ops       int64
	Bytes     int64
	started   time.Time
	isRunning bool
}

// NewClock builds a Clock that also records each named operation's
// duration into hist, labeled by name; hist may be nil to skip export.
func NewClock(hist *prometheus.HistogramVec) *Clock {
	return &Clock{stats: make(map[string]*Entry), now: time.Now, hist: hist}
}

func (c *Clock) entry(name string) *Entry {
	e, ok := c.stats[name]
	if !ok {
		e = &Entry{Name: name}
		c.stats[name] = e
	}
	return e
}

func (c *Clock) Start(name string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(name)
	e.started = c.now()
	e.isRunning = true
	return e
}

func (c *Clock) stop(e *Entry, completed bool) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.now().Sub(e.started)
	e.Seconds += elapsed.Seconds()
	e.isRunning = false
	if completed {
		e.Ops++
	}
	if c.hist != nil {
		c.hist.WithLabelValues(e.Name).Observe(elapsed.Seconds())
	}
	return elapsed
}

// Run wraps fn, starting and stopping the named timer around it; fn may
// set *Entry.Bytes to record throughput.
func (c *Clock) Run(name string, fn func(*Entry) error) error {
	e := c.Start(name)
	err := fn(e)
	c.stop(e, err == nil)
	return err
}

func (c *Clock) Snapshot() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, len(c.stats))
	for k, v := range c.stats {
		out[k] = *v
	}
	return out
}

// NullClock discards all timings; used where a request has no clock
// attached, avoiding nil checks at every call site (mirrors
// original_source's NullClock).
type NullClock struct{}

func (NullClock) Start(string) *Entry                       { return &Entry{} }
func (NullClock) Run(_ string, fn func(*Entry) error) error { return fn(&Entry{}) }

var (
	_ Timer = (*Clock)(nil)
	_ Timer = NullClock{}
)
