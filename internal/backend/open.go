package backend

import (
	"net/url"
	"time"
	"unsafe"
)

// OpenArgs carries everything a backend needs to open the URL named by a
// ticket, independent of which scheme it turns out to be (spec.md §4.2,
// grounded on original_source's backends/__init__.get(): lazy-open, mode
// derived from the ticket's ops, sizes/timeouts sourced from config).
type OpenArgs struct {
	URL          *url.URL
	Writable     bool
	Sparse       bool
	FileBlockBuf int
	HTTPClient   struct {
		Timeout time.Duration
		CAFile  string
	}
}

// Open dispatches on URL scheme to the concrete backend implementation.
// Unsupported schemes are rejected earlier, at ticket authorization time
// (spec.md §4.2 "Unsupported schemes cause add to fail at authorization
// time, not at backend open"), so reaching an unknown scheme here would
// indicate a ticket validation bug.
func Open(args OpenArgs) (Backend, error) {
	switch args.URL.Scheme {
	case "file":
		return OpenFile(args.URL.Path, args.Writable, args.Sparse)
	case "nbd", "nbds":
		return OpenNBD(args.URL, args.Writable, args.HTTPClient.CAFile)
	case "https":
		client, err := NewHTTPClient(args.HTTPClient.Timeout, args.HTTPClient.CAFile)
		if err != nil {
			return nil, err
		}
		return OpenHTTP(args.URL, args.Writable, client)
	default:
		panic("backend: unsupported scheme " + args.URL.Scheme)
	}
}

// AlignedBuffer allocates a buffer of size bytes whose start address is a
// multiple of align. No backend in this tree currently requires O_DIRECT
// alignment (see DESIGN.md "File backend: buffered I/O, not O_DIRECT");
// this stays aligned to the reported block size anyway, both to carry
// over the original's layout and so a future direct-I/O file backend can
// reuse the same per-context buffer without a reallocation. Grounded on
// original_source's util.aligned_buffer, referenced from
// backends/__init__.py's per-context buffer allocation.
func AlignedBuffer(size, align int) []byte {
	if align <= 1 || size == 0 {
		return make([]byte, size)
	}
	buf := make([]byte, size+align)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if rem := int(addr % uintptr(align)); rem != 0 {
		offset = align - rem
	}
	return buf[offset : offset+size]
}
