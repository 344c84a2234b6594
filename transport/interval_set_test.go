package transport

import (
	"math/rand"
	"testing"
)

func TestIntervalSetMerge(t *testing.T) {
	var s intervalSet
	s.add(5, 10)
	s.add(12, 15)
	s.add(11, 11) // bridges the two ranges
	if len(s.ranges) != 1 || s.ranges[0] != (intervalRange{5, 15}) {
		t.Fatalf("unexpected ranges: %v", s.ranges)
	}
}

func TestIntervalSetDisjoint(t *testing.T) {
	var s intervalSet
	s.add(10, 10)
	s.add(1, 1)
	s.add(20, 20)
	want := []intervalRange{{1, 1}, {10, 10}, {20, 20}}
	if len(s.ranges) != len(want) {
		t.Fatalf("got %v, want %v", s.ranges, want)
	}
	for i := range want {
		if s.ranges[i] != want[i] {
			t.Fatalf("got %v, want %v", s.ranges, want)
		}
	}
}

func TestIntervalSetOrderIndependent(t *testing.T) {
	values := []uint64{5, 1, 9, 3, 2, 100, 50, 4, 8, 7, 6, 51, 52}
	var sorted intervalSet
	cp := append([]uint64(nil), values...)
	for i := range cp {
		for j := i + 1; j < len(cp); j++ {
			if cp[j] < cp[i] {
				cp[i], cp[j] = cp[j], cp[i]
			}
		}
	}
	for _, v := range cp {
		sorted.addValue(v)
	}
	rnd := rand.New(rand.NewSource(1))
	shuffled := append([]uint64(nil), values...)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	var unordered intervalSet
	for _, v := range shuffled {
		unordered.addValue(v)
	}
	if len(sorted.ranges) != len(unordered.ranges) {
		t.Fatalf("ranges differ: %v vs %v", sorted.ranges, unordered.ranges)
	}
	for i := range sorted.ranges {
		if sorted.ranges[i] != unordered.ranges[i] {
			t.Fatalf("ranges differ: %v vs %v", sorted.ranges, unordered.ranges)
		}
	}
}

func TestIntervalSetContains(t *testing.T) {
	var s intervalSet
	s.add(5, 10)
	for v := uint64(5); v <= 10; v++ {
		if !s.contains(v) {
			t.Fatalf("expected %d in set", v)
		}
	}
	if s.contains(4) || s.contains(11) {
		t.Fatal("boundary values should not be contained")
	}
}

func TestIntervalSetRemoveBefore(t *testing.T) {
	var s intervalSet
	s.add(1, 5)
	s.add(10, 15)
	s.removeBefore(3)
	if got, _ := s.min(); got != 3 {
		t.Fatalf("min = %d, want 3", got)
	}
	s.removeBefore(20)
	if !s.empty() {
		t.Fatalf("expected empty set, got %v", s.ranges)
	}
}

func TestIntervalSetRemoveRangeSplits(t *testing.T) {
	var s intervalSet
	s.add(1, 10)
	s.removeRange(4, 6)
	want := []intervalRange{{1, 3}, {7, 10}}
	if len(s.ranges) != len(want) {
		t.Fatalf("got %v, want %v", s.ranges, want)
	}
	for i := range want {
		if s.ranges[i] != want[i] {
			t.Fatalf("got %v, want %v", s.ranges, want)
		}
	}
}

func TestIntervalSetDescendingOrder(t *testing.T) {
	var s intervalSet
	s.add(1, 2)
	s.add(5, 5)
	s.add(10, 12)
	var got []intervalRange
	s.descending(func(start, end uint64) bool {
		got = append(got, intervalRange{start, end})
		return true
	})
	want := []intervalRange{{10, 12}, {5, 5}, {1, 2}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
