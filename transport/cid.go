package transport

import "sort"

// Connection ID length bounds, spec.md §3.
const (
	MinCIDLength = 4
	MaxCIDLength = 20
)

// connectionID is spec.md §3's CID: an opaque identifier with a sequence
// number, a retire-prior-to watermark carried alongside it on the wire,
// a 16-byte Stateless Reset Token, and a retired flag.
type connectionID struct {
	seq        uint64
	id         []byte
	resetToken [16]byte
	retired    bool
}

// cidSet is an ordered set of CIDs indexed by sequence number, used for
// both the local scid set and the peer's advertised dcid set (spec.md
// §3, §4.5). Re-expressed per spec.md §9 as a plain sorted slice plus a
// separate active index, not an intrusive splay tree.
type cidSet struct {
	items    []connectionID // sorted ascending by seq
	activeSeq uint64
	hasActive bool
	maxSeq    uint64
	limit     int // active_connection_id_limit advertised/accepted
}

func (s *cidSet) init(limit int) {
	s.limit = limit
}

// insert adds or updates a CID by sequence number (spec.md §4.5:
// "duplicates are accepted silently"). It returns an error if accepting
// it would exceed the active CID limit.
func (s *cidSet) insert(seq uint64, id []byte, resetToken [16]byte) error {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i].seq >= seq })
	if i < len(s.items) && s.items[i].seq == seq {
		// Duplicate: accept silently, ignore mismatched payload.
		return nil
	}
	if s.activeCount()+1 > s.limit {
		return newError(ProtocolViolation, "active_connection_id_limit exceeded")
	}
	cid := connectionID{seq: seq, id: append([]byte(nil), id...), resetToken: resetToken}
	s.items = append(s.items, connectionID{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = cid
	if seq > s.maxSeq {
		s.maxSeq = seq
	}
	if !s.hasActive {
		s.activeSeq = seq
		s.hasActive = true
	}
	return nil
}

func (s *cidSet) activeCount() int {
	n := 0
	for _, c := range s.items {
		if !c.retired {
			n++
		}
	}
	return n
}

// retire marks the CID with the given sequence as retired. A retired CID
// can never be reactivated (spec.md §3 invariant).
func (s *cidSet) retire(seq uint64) {
	for i := range s.items {
		if s.items[i].seq == seq {
			s.items[i].retired = true
			return
		}
	}
}

// retireBelow retires every CID with sequence strictly less than
// retirePriorTo, as NEW_CONNECTION_ID's retire_prior_to field demands.
func (s *cidSet) retireBelow(retirePriorTo uint64) (retiredSeqs []uint64) {
	for i := range s.items {
		if s.items[i].seq < retirePriorTo && !s.items[i].retired {
			s.items[i].retired = true
			retiredSeqs = append(retiredSeqs, s.items[i].seq)
		}
	}
	return retiredSeqs
}

// active returns the currently active CID, if one has been chosen.
func (s *cidSet) active() (*connectionID, bool) {
	if !s.hasActive {
		return nil, false
	}
	for i := range s.items {
		if s.items[i].seq == s.activeSeq {
			return &s.items[i], true
		}
	}
	return nil, false
}

// setActive switches the active CID to seq. spec.md §3: "the active
// CID's sequence number is at most the maximum ever issued."
func (s *cidSet) setActive(seq uint64) bool {
	if seq > s.maxSeq {
		return false
	}
	for _, c := range s.items {
		if c.seq == seq {
			if c.retired {
				return false
			}
			s.activeSeq = seq
			s.hasActive = true
			return true
		}
	}
	return false
}

// nextUnretired returns the lowest-sequence unretired CID other than the
// currently active one. No code in this package calls it.
func (s *cidSet) nextUnretired() (*connectionID, bool) {
	for i := range s.items {
		if !s.items[i].retired && s.items[i].seq != s.activeSeq {
			return &s.items[i], true
		}
	}
	return nil, false
}

func (s *cidSet) byID(id []byte) (*connectionID, bool) {
	for i := range s.items {
		if string(s.items[i].id) == string(id) {
			return &s.items[i], true
		}
	}
	return nil, false
}

func (s *cidSet) count() int {
	return len(s.items)
}
