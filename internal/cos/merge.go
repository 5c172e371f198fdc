package cos

import "sort"

// MergeRanges merges a set of possibly-overlapping, possibly-unordered
// half-open [start,end) ranges into a sorted, coalesced, non-overlapping
// list. Grounded on original_source's measure.merge_ranges, used by
// Ticket.transferred() to merge completed_ranges with the in-flight
// [offset, offset+done) interval of every ongoing operation (spec.md §3,
// §4.1). O((n) log n) per call.
func MergeRanges(ranges []ByteRange) []ByteRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]ByteRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End() < sorted[j].End()
	})

	merged := make([]ByteRange, 0, len(sorted))
	cur := sorted[0]
	for _, r := range sorted[1:] {
		if r.Length == 0 {
			continue
		}
		if r.Start <= cur.End() {
			if r.End() > cur.End() {
				cur.Length = r.End() - cur.Start
			}
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	return merged
}

// SumLength returns the total length covered by a set of (typically
// already-merged) ranges.
func SumLength(ranges []ByteRange) int64 {
	var total int64
	for _, r := range ranges {
		total += r.Length
	}
	return total
}
