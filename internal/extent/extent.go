// Package extent models the zero/hole/dirty/clean extent map described in
// spec.md §3 ("Extent") and §4.2, grounded on the original source's
// ZeroExtent/DirtyExtent value types
// (original_source/daemon/ovirt_imageio/_internal/backends/image.py).
package extent

import "fmt"

// Kind classifies an extent. A hole is a zero extent that is also
// unallocated; dirty/clean arise only under the "dirty" context.
type Kind int

const (
	Data Kind = iota
	Zero
	Hole
	Dirty
	Clean
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case Zero:
		return "zero"
	case Hole:
		return "hole"
	case Dirty:
		return "dirty"
	case Clean:
		return "clean"
	default:
		return "unknown"
	}
}

// Extent is (start, length, kind). length must be > 0; extents within a
// single enumeration are non-overlapping and cover [0, size) in ascending
// order (spec.md §3 Extent invariants).
type Extent struct {
	Start  int64
	Length int64
	Kind   Kind
}

func (e Extent) End() int64 { return e.Start + e.Length }

// IsZero reports whether this extent reads as zeroes (zero or hole).
func (e Extent) IsZero() bool { return e.Kind == Zero || e.Kind == Hole }

// IsDirty reports whether this extent changed since the last checkpoint.
func (e Extent) IsDirty() bool { return e.Kind == Dirty }

func (e Extent) String() string {
	return fmt.Sprintf("Extent(start=%d, length=%d, kind=%s)", e.Start, e.Length, e.Kind)
}

// ValidateCoverage checks the invariant from spec.md §3: non-overlapping,
// ascending, length > 0, covering exactly [0, size).
func ValidateCoverage(extents []Extent, size int64) error {
	var pos int64
	for i, e := range extents {
		if e.Length <= 0 {
			return fmt.Errorf("extent %d: non-positive length %d", i, e.Length)
		}
		if e.Start != pos {
			return fmt.Errorf("extent %d: expected start %d, got %d", i, pos, e.Start)
		}
		pos = e.End()
	}
	if pos != size {
		return fmt.Errorf("extents cover [0,%d), expected [0,%d)", pos, size)
	}
	return nil
}

// SplitMaxLength splits e into a sequence of extents each no longer than
// maxLength, preserving Kind. Used by the copy engine to bound chunk size
// for scheduling granularity and progress feedback (spec.md §4.3).
func SplitMaxLength(e Extent, maxLength int64) []Extent {
	if maxLength <= 0 || e.Length <= maxLength {
		return []Extent{e}
	}
	var out []Extent
	start := e.Start
	remaining := e.Length
	for remaining > 0 {
		n := remaining
		if n > maxLength {
			n = maxLength
		}
		out = append(out, Extent{Start: start, Length: n, Kind: e.Kind})
		start += n
		remaining -= n
	}
	return out
}
