package transport

import "testing"

func TestCIDSetInsertAndActive(t *testing.T) {
	var s cidSet
	s.init(4)
	if err := s.insert(0, []byte{1, 2, 3, 4}, [16]byte{}); err != nil {
		t.Fatal(err)
	}
	if err := s.insert(1, []byte{5, 6, 7, 8}, [16]byte{}); err != nil {
		t.Fatal(err)
	}
	active, ok := s.active()
	if !ok || active.seq != 0 {
		t.Fatalf("active = %v, ok=%v", active, ok)
	}
}

func TestCIDSetDuplicateInsertIsSilent(t *testing.T) {
	var s cidSet
	s.init(4)
	if err := s.insert(0, []byte{1, 2, 3, 4}, [16]byte{}); err != nil {
		t.Fatal(err)
	}
	if err := s.insert(0, []byte{1, 2, 3, 4}, [16]byte{}); err != nil {
		t.Fatalf("duplicate insert should be silent, got %v", err)
	}
	if s.count() != 1 {
		t.Fatalf("count = %d, want 1", s.count())
	}
}

func TestCIDSetExceedsLimit(t *testing.T) {
	var s cidSet
	s.init(1)
	if err := s.insert(0, []byte{1, 2, 3, 4}, [16]byte{}); err != nil {
		t.Fatal(err)
	}
	err := s.insert(1, []byte{5, 6, 7, 8}, [16]byte{})
	if err == nil {
		t.Fatal("expected active_connection_id_limit violation")
	}
	qerr, ok := err.(*Error)
	if !ok || qerr.Code != ProtocolViolation {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCIDSetRetiredCannotReactivate(t *testing.T) {
	var s cidSet
	s.init(4)
	s.insert(0, []byte{1, 2, 3, 4}, [16]byte{})
	s.insert(1, []byte{5, 6, 7, 8}, [16]byte{})
	s.retire(1)
	if s.setActive(1) {
		t.Fatal("retired CID must not be reactivatable")
	}
}

func TestCIDSetRetireBelow(t *testing.T) {
	var s cidSet
	s.init(8)
	for i := uint64(0); i < 4; i++ {
		s.insert(i, []byte{byte(i), 1, 2, 3}, [16]byte{})
	}
	retired := s.retireBelow(2)
	if len(retired) != 2 || retired[0] != 0 || retired[1] != 1 {
		t.Fatalf("retired = %v", retired)
	}
}

func TestCIDSetActiveSeqNeverExceedsMax(t *testing.T) {
	var s cidSet
	s.init(8)
	s.insert(0, []byte{1, 2, 3, 4}, [16]byte{})
	if s.setActive(5) {
		t.Fatal("must not activate a sequence never issued")
	}
}
