package cos

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange is a half-open [Start, Start+Length) byte interval.
type ByteRange struct {
	Start  int64
	Length int64
}

func (r ByteRange) End() int64 { return r.Start + r.Length }

// ParseRangeHeader parses an HTTP "Range: bytes=a-b" header. Only the
// closed form "a-b" is supported; the suffix form "bytes=-N" is rejected
// deliberately (see DESIGN.md Open Question #2 / SPEC_FULL.md §C) by
// returning ok=false, which callers map to 416.
func ParseRangeHeader(header string) (r ByteRange, ok bool) {
	const prefix = "bytes="
	if header == "" {
		return ByteRange{}, false
	}
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		// Multi-range requests are not supported.
		return ByteRange{}, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return ByteRange{}, false
	}
	if parts[0] == "" {
		// Suffix form "bytes=-N": explicitly unsupported.
		return ByteRange{}, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, false
	}
	if parts[1] == "" {
		// Open-ended form "bytes=a-": handled by caller default length.
		return ByteRange{Start: start, Length: -1}, true
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return ByteRange{}, false
	}
	return ByteRange{Start: start, Length: end - start + 1}, true
}

// ContentRangeHeader renders "bytes a-b/size" for 206 responses.
func ContentRangeHeader(start, end, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, size)
}

// ContentRangeUnsatisfiable renders "bytes */limit" for 416 responses.
func ContentRangeUnsatisfiable(limit int64) string {
	return fmt.Sprintf("bytes */%d", limit)
}

// RoundUp rounds n up to the next multiple of align (align must be > 0).
func RoundUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + align - rem
}

// RoundDown rounds n down to the previous multiple of align.
func RoundDown(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return n - n%align
}
