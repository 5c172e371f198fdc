// Package backend is the uniform I/O surface over file, NBD, and HTTP
// image stores (spec.md §4.2), grounded on the capability-interface shape
// of ais/backend/http.go's httpProvider (one implementation per
// transport, selected by cluster.BackendProvider there, by url.Scheme
// here) and original_source's backends/__init__.py lazy-open-per-connection
// model.

package backend

import (
	"io"

	"github.com/ovirt/imageio-core/internal/extent"
)

// ExtentContext selects which extent map a backend reports.
type ExtentContext int

const (
	ContextZero ExtentContext = iota
	ContextDirty
)

func (c ExtentContext) String() string {
	if c == ContextDirty {
		return "dirty"
	}
	return "zero"
}

// ParseExtentContext maps the `context` query parameter to an
// ExtentContext (spec.md §4.5 "/images/{uuid}/extents").
func ParseExtentContext(s string) (ExtentContext, bool) {
	switch s {
	case "", "zero":
		return ContextZero, true
	case "dirty":
		return ContextDirty, true
	default:
		return 0, false
	}
}

// ExtentIterator is a lazy, finite, non-restartable sequence over a
// backend's extent map (spec.md §9 "Streaming iterators"). Next returns
// io.EOF once exhausted.
type ExtentIterator interface {
	Next() (extent.Extent, error)
}

// Backend is the capability set every transport implements (spec.md
// §4.2's table). Optional streaming capabilities are detected at runtime
// via ReaderFromBackend/WriterToBackend rather than being part of this
// interface, mirroring spec.md §9's "single capability interface... and a
// pair of optional extension capabilities".
type Backend interface {
	Readable() bool
	Writable() bool
	Size() (int64, error)
	BlockSize() int64
	Seek(pos int64) error
	ReadInto(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Zero(n int64) (int64, error)
	Flush() error
	Extents(ctx ExtentContext) (ExtentIterator, error)
	Close() error
	MaxReaders() int
	MaxWriters() int
}

// ReaderFromBackend is the optional "streaming receive" capability; a
// backend that implements it lets the copy engine and PUT handler avoid
// an extra buffer copy.
type ReaderFromBackend interface {
	ReadFromStream(src io.Reader, n int64, buf []byte) (int64, error)
}

// WriterToBackend is the optional "streaming send" capability.
type WriterToBackend interface {
	WriteToStream(dst io.Writer, n int64, buf []byte) (int64, error)
}

// sliceExtentIterator adapts a pre-computed slice of extents (the common
// case for backends that can't stream the map lazily) to ExtentIterator.
type sliceExtentIterator struct {
	extents []extent.Extent
	pos     int
}

func NewSliceExtentIterator(extents []extent.Extent) ExtentIterator {
	return &sliceExtentIterator{extents: extents}
}

func (it *sliceExtentIterator) Next() (extent.Extent, error) {
	if it.pos >= len(it.extents) {
		return extent.Extent{}, io.EOF
	}
	e := it.extents[it.pos]
	it.pos++
	return e, nil
}

// CollectExtents drains an iterator into a slice; used by handlers that
// must render the full JSON array (spec.md §4.5 "/extents" has no
// pagination) and by tests.
func CollectExtents(it ExtentIterator) ([]extent.Extent, error) {
	var out []extent.Extent
	for {
		e, err := it.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}
