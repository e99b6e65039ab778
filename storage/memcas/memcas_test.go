package memcas

import (
	"testing"

	"xdao.co/boards/storage"
	"xdao.co/boards/storage/testkit"
)

func TestMemCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return New()
	})
}

func TestMemCAS_GetReturnsCopy(t *testing.T) {
	c := New()
	id, err := c.Put([]byte("block"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b[0] = 'X'
	again, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(again) != "block" {
		t.Fatalf("stored block mutated through returned slice: %q", again)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}
