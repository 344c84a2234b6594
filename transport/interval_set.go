package transport

import "sort"

// intervalRange is an inclusive range [start, end] of packet numbers or
// stream offsets merged into a single run.
type intervalRange struct {
	start, end uint64
}

func (r intervalRange) size() uint64 {
	return r.end - r.start + 1
}

// intervalSet is a Discrete Interval Encoding Tree (DIET): an ordered set
// of u64 values stored as merged, non-overlapping, non-adjacent ranges.
// spec.md §2 uses it for packet-number ACK bookkeeping (pnSpace.recv,
// recv_all) and for a stream's out-of-order reassembly set (in_ooo).
// Ranges are kept sorted ascending by start; insertion merges in O(log n)
// via binary search plus a bounded splice, not vendored-language
// intrusive-splay machinery (see spec.md §9).
type intervalSet struct {
	ranges []intervalRange
}

// add inserts the closed range [start, end] into the set, merging with
// any adjacent or overlapping ranges. Per spec.md §8's DIET round-trip
// law, the order in which values/ranges are added does not affect the
// final merged set.
func (s *intervalSet) add(start, end uint64) {
	if end < start {
		return
	}
	// Find the first range whose end is >= start-1 (candidate for merge).
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].end+1 >= start
	})
	if i == len(s.ranges) || s.ranges[i].start > end+1 {
		// No overlap/adjacency: insert a fresh range at i.
		s.ranges = append(s.ranges, intervalRange{})
		copy(s.ranges[i+1:], s.ranges[i:])
		s.ranges[i] = intervalRange{start, end}
		return
	}
	// Merge [start,end] into s.ranges[i], then absorb any following
	// ranges it now overlaps or touches.
	if s.ranges[i].start < start {
		start = s.ranges[i].start
	}
	if s.ranges[i].end > end {
		end = s.ranges[i].end
	}
	j := i + 1
	for j < len(s.ranges) && s.ranges[j].start <= end+1 {
		if s.ranges[j].end > end {
			end = s.ranges[j].end
		}
		j++
	}
	s.ranges[i] = intervalRange{start, end}
	s.ranges = append(s.ranges[:i+1], s.ranges[j:]...)
}

// addValue inserts a single value.
func (s *intervalSet) addValue(v uint64) {
	s.add(v, v)
}

// contains reports whether v is a member of any range.
func (s *intervalSet) contains(v uint64) bool {
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].end >= v
	})
	return i < len(s.ranges) && s.ranges[i].start <= v
}

// removeBefore drops the portion of the set below v, used to release
// stream bytes that have been delivered and dedupe bookkeeping that has
// aged out of the receive window.
func (s *intervalSet) removeBefore(v uint64) {
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].end >= v
	})
	s.ranges = s.ranges[i:]
	if len(s.ranges) > 0 && s.ranges[0].start < v {
		s.ranges[0].start = v
	}
}

// removeRange drops [start,end] from the set, splitting a range if the
// removed interval falls strictly inside it.
func (s *intervalSet) removeRange(start, end uint64) {
	// A split emits two ranges for one, so out cannot share s.ranges'
	// backing array without overwriting ranges not yet visited.
	out := make([]intervalRange, 0, len(s.ranges)+1)
	for _, r := range s.ranges {
		switch {
		case r.end < start || r.start > end:
			out = append(out, r)
		case r.start < start && r.end > end:
			out = append(out, intervalRange{r.start, start - 1}, intervalRange{end + 1, r.end})
		case r.start < start:
			out = append(out, intervalRange{r.start, start - 1})
		case r.end > end:
			out = append(out, intervalRange{end + 1, r.end})
		}
	}
	s.ranges = out
}

// min returns the smallest member of the set; ok is false if empty.
func (s *intervalSet) min() (v uint64, ok bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[0].start, true
}

// max returns the largest member of the set; ok is false if empty.
func (s *intervalSet) max() (v uint64, ok bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[len(s.ranges)-1].end, true
}

func (s *intervalSet) empty() bool {
	return len(s.ranges) == 0
}

// descending calls fn for each range from highest to lowest, stopping
// if fn returns false. ACK frames (spec.md §4.4) enumerate ranges in
// this order.
func (s *intervalSet) descending(fn func(start, end uint64) bool) {
	for i := len(s.ranges) - 1; i >= 0; i-- {
		if !fn(s.ranges[i].start, s.ranges[i].end) {
			return
		}
	}
}

func (s *intervalSet) reset() {
	s.ranges = s.ranges[:0]
}
