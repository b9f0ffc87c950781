package canframe

import "testing"

func TestFrame_Payload(t *testing.T) {
	var f Frame
	f.Len = 3
	f.Data[0], f.Data[1], f.Data[2] = 0x11, 0x22, 0x33
	f.Data[3] = 0xFF // beyond Len, must not be included

	got := f.Payload()
	if len(got) != 3 {
		t.Fatalf("len(Payload()) = %d, want 3", len(got))
	}
	if got[0] != 0x11 || got[1] != 0x22 || got[2] != 0x33 {
		t.Fatalf("Payload() = % X, want 11 22 33", got)
	}
}

func TestFrame_CopyShallow_Independent(t *testing.T) {
	f := Frame{ID: 0x123, Len: 2}
	f.Data[0] = 0xAA

	g := f.CopyShallow()
	g.Data[0] = 0xBB
	g.ID = 0x456

	if f.Data[0] != 0xAA {
		t.Fatalf("original frame mutated by copy: Data[0] = %#02x", f.Data[0])
	}
	if f.ID != 0x123 {
		t.Fatalf("original frame ID mutated by copy: ID = %#x", f.ID)
	}
	if g.ID != 0x456 || g.Data[0] != 0xBB {
		t.Fatalf("copy did not take the new values: %+v", g)
	}
}

func TestEFFMask_Is29Bits(t *testing.T) {
	if EFFMask != 1<<29-1 {
		t.Fatalf("EFFMask = %#x, want %#x", EFFMask, 1<<29-1)
	}
}
