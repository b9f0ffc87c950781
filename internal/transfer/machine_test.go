package transfer

import (
	"testing"

	"github.com/kstaniek/go-uavcan-can/internal/identifier"
	"github.com/kstaniek/go-uavcan-can/internal/tailbyte"
)

func tb(kind tailbyte.Kind, id uint8) *tailbyte.TailByte {
	tid, _ := identifier.NewTransferId(id)
	return &tailbyte.TailByte{Kind: kind, Id: tid}
}

func TestMachine_SingleFrame(t *testing.T) {
	var m Machine
	out := m.Advance(KindLessThanMTU, tb(tailbyte.SingleFrame, 1))
	if out != Push {
		t.Fatalf("Advance = %v, want Push", out)
	}
	if m.State() != Done {
		t.Fatalf("State = %v, want Done", m.State())
	}
}

func TestMachine_MultiFrameHappyPath(t *testing.T) {
	var m Machine
	if out := m.Advance(KindExactlyMTU, tb(tailbyte.MultiFrame, 5)); out != Push {
		t.Fatalf("start frame: Advance = %v, want Push", out)
	}
	if m.State() != AssemblingT1 {
		t.Fatalf("State after start = %v, want AssemblingT1", m.State())
	}
	if out := m.Advance(KindExactlyMTU, tb(tailbyte.MiddleT0, 5)); out != Push {
		t.Fatalf("middle frame: Advance = %v, want Push", out)
	}
	if m.State() != AssemblingT0 {
		t.Fatalf("State after middle = %v, want AssemblingT0", m.State())
	}
	if out := m.Advance(KindLessThanMTU, tb(tailbyte.EndT1, 5)); out != CheckCrcAndPush {
		t.Fatalf("end frame: Advance = %v, want CheckCrcAndPush", out)
	}
	if m.State() != Done {
		t.Fatalf("State after end = %v, want Done", m.State())
	}
}

func TestMachine_ToggleMismatchFails(t *testing.T) {
	var m Machine
	m.Advance(KindExactlyMTU, tb(tailbyte.MultiFrame, 1)) // -> AssemblingT1
	// MiddleT1 is invalid while AssemblingT1 is active; only MiddleT0 advances it.
	out := m.Advance(KindExactlyMTU, tb(tailbyte.MiddleT1, 1))
	if out != Drop {
		t.Fatalf("Advance = %v, want Drop", out)
	}
	if m.State() != Failure {
		t.Fatalf("State = %v, want Failure", m.State())
	}
}

func TestMachine_MalformedShapeInEmptyGoesFailure(t *testing.T) {
	var m Machine
	out := m.Advance(KindInvalid, nil)
	if out != Ignore {
		t.Fatalf("Advance = %v, want Ignore", out)
	}
	if m.State() != Failure {
		t.Fatalf("State = %v, want Failure", m.State())
	}
}

func TestMachine_MalformedShapeMidAssemblyDrops(t *testing.T) {
	var m Machine
	m.Advance(KindExactlyMTU, tb(tailbyte.MultiFrame, 1))
	out := m.Advance(KindInvalid, nil)
	if out != Drop {
		t.Fatalf("Advance = %v, want Drop", out)
	}
	if m.State() != Failure {
		t.Fatalf("State = %v, want Failure", m.State())
	}
}

func TestMachine_DoneIgnoresMalformedShape(t *testing.T) {
	var m Machine
	m.Advance(KindLessThanMTU, tb(tailbyte.SingleFrame, 1))
	out := m.Advance(KindInvalid, nil)
	if out != Ignore {
		t.Fatalf("Advance = %v, want Ignore", out)
	}
	if m.State() != Done {
		t.Fatalf("State = %v, want Done (malformed shape after Done is a no-op)", m.State())
	}
}

func TestMachine_SingleFrameAfterDoneOverwrites(t *testing.T) {
	var m Machine
	m.Advance(KindLessThanMTU, tb(tailbyte.SingleFrame, 1))
	out := m.Advance(KindLessThanMTU, tb(tailbyte.SingleFrame, 2))
	if out != Push {
		t.Fatalf("Advance = %v, want Push", out)
	}
	if m.State() != Done {
		t.Fatalf("State = %v, want Done", m.State())
	}
}

func TestMachine_ReservedV0KindsAlwaysFail(t *testing.T) {
	for _, k := range []tailbyte.Kind{tailbyte.MultiFrameV0, tailbyte.SingleFrameV0} {
		var m Machine
		out := m.Advance(KindExactlyMTU, tb(k, 1))
		if out != Ignore {
			t.Fatalf("kind %v: Advance = %v, want Ignore", k, out)
		}
		if m.State() != Failure {
			t.Fatalf("kind %v: State = %v, want Failure", k, m.State())
		}
	}
}

func TestMachine_Fail(t *testing.T) {
	var m Machine
	m.Advance(KindLessThanMTU, tb(tailbyte.SingleFrame, 1))
	m.Fail()
	if m.State() != Failure {
		t.Fatalf("State = %v, want Failure", m.State())
	}
}

func TestMachine_TransferID(t *testing.T) {
	var m Machine
	if _, ok := m.TransferID(); ok {
		t.Fatalf("expected no transfer id before any frame")
	}
	m.Advance(KindLessThanMTU, tb(tailbyte.SingleFrame, 9))
	id, ok := m.TransferID()
	if !ok {
		t.Fatalf("expected transfer id after a frame")
	}
	if id.Inner() != 9 {
		t.Fatalf("TransferID = %d, want 9", id.Inner())
	}
}

func TestKeyFor_DistinguishesSourceAndKind(t *testing.T) {
	src1, _ := identifier.NewNodeId(1)
	src2, _ := identifier.NewNodeId(2)
	subj, _ := identifier.NewSubjectId(10)
	id1 := identifier.NewMessageId(src1, subj, false, identifier.Nominal)
	id2 := identifier.NewMessageId(src2, subj, false, identifier.Nominal)

	k1, k2 := KeyFor(id1), KeyFor(id2)
	if k1 == k2 {
		t.Fatalf("keys for different sources must differ")
	}
}
