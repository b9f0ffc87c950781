// Package assembler reassembles UAVCAN/CAN transfers from a stream of CAN
// frames: one session per (transfer kind, source node), a fixed-capacity
// piece pool shared across all sessions, and a priority/arrival-ordered
// readout.
//
// Grounded on original_source/src/assembler.rs (pop, priority/sequence
// tie-break, counters) and original_source/uavcan-llr/src/assembler/*.rs
// (transfer FSM wiring, CRC-straddle handling). The session table is a
// fixed-size slice of slots, scanned linearly for a free slot on admission and
// indexed by a Go map from session key to slot. It is not an open-addressed
// hash table, and the index map allocates on the heap as sessions are added.
package assembler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kstaniek/go-uavcan-can/internal/crc16"
	"github.com/kstaniek/go-uavcan-can/internal/identifier"
	"github.com/kstaniek/go-uavcan-can/internal/piece"
	"github.com/kstaniek/go-uavcan-can/internal/tailbyte"
	"github.com/kstaniek/go-uavcan-can/internal/transfer"
)

// ErrTransfersFull names the condition where a new transfer cannot be
// admitted because the session table has no free slot. No method returns it:
// ProcessFrame counts that case in Counters.TransfersTableFull.
var ErrTransfersFull = errors.New("assembler: transfers table full")

// ErrPiecesFull is the piece-pool equivalent of ErrTransfersFull; it is not
// returned either (see Counters.PiecesPoolFull).
var ErrPiecesFull = errors.New("assembler: piece pool full")

const mapEmpty = -1

// Counters tallies assembler outcomes for observability. Exposed as plain
// fields per spec; the domain stack mirrors them into Prometheus counters.
type Counters struct {
	TransfersWithGoodCRC   uint64
	TransfersWithBadCRC    uint64
	DroppedFrames          uint64
	DuplicateFrames        uint64
	TransfersTableFull     uint64
	PiecesPoolFull         uint64
	MalformedFrameShape    uint64
	DestroyedWhileDone     uint64
	DestroyedWhileAssembly uint64
}

// ReadyTransfer is one fully reassembled, CRC-verified transfer, as handed
// back by Pop.
type ReadyTransfer struct {
	Source   identifier.NodeId
	Kind     identifier.TransferKind
	Priority identifier.Priority
	Payload  []byte
}

type entry struct {
	used    bool
	key     transfer.MapKey
	session transfer.Session
}

// Assembler reassembles frames from many concurrent transfers. It is
// single-threaded and run-to-completion: all exported methods must be
// called from one goroutine, or externally serialized.
type Assembler struct {
	mtu      int
	table    []entry
	indexOf  map[transfer.MapKey]int
	storage  *piece.Storage
	sequence int16
	counters Counters
	lifetime uint32
}

// New constructs an Assembler with room for maxTransfers concurrent
// sessions and maxPieces frame fragments, each mtu-1 bytes, shared across
// all sessions. lifetime is the TRANSFER_LIFETIME (spec.md §4.5) used for
// the inline sweep ProcessFrame runs when the piece pool is full; it is in
// the same units as the timeNow values passed to ProcessFrame.
func New(mtu, maxTransfers, maxPieces int, lifetime uint32) *Assembler {
	return &Assembler{
		mtu:      mtu,
		table:    make([]entry, maxTransfers),
		indexOf:  make(map[transfer.MapKey]int, maxTransfers),
		storage:  piece.New(maxPieces, mtu-1),
		lifetime: lifetime,
	}
}

// Counters returns a snapshot of the assembler's outcome counters.
func (a *Assembler) Counters() Counters { return a.counters }

func (a *Assembler) classify(payloadLen int) transfer.PayloadKind {
	switch {
	case payloadLen == 0:
		return transfer.KindEmpty
	case payloadLen == a.mtu-1:
		return transfer.KindExactlyMTU
	case payloadLen > 0 && payloadLen < a.mtu-1:
		return transfer.KindLessThanMTU
	default:
		return transfer.KindInvalid
	}
}

func (a *Assembler) findFreeSlot() (int, bool) {
	for i := range a.table {
		if !a.table[i].used {
			return i, true
		}
	}
	return 0, false
}

// evictOneLowerPriority is the non-default preemption path described in
// spec.md §4.5 as optional: among sessions whose priority is lower
// (numerically higher) than newPriority, it picks the single worst one —
// lowest priority first, oldest arrival breaking ties, mirroring Pop's
// tie-break idiom — marks it Failure, counts the eviction under
// DestroyedWhileDone or DestroyedWhileAssembly depending on the state it
// was evicted from, then frees its slot. Returns the freed slot, or false
// if no session qualifies. Not called from ProcessFrame.
func (a *Assembler) evictOneLowerPriority(newPriority identifier.Priority) (int, bool) {
	worst := -1
	for i := range a.table {
		if !a.table[i].used {
			continue
		}
		if !newPriority.Higher(a.table[i].session.Priority) {
			continue
		}
		if worst == -1 {
			worst = i
			continue
		}
		wp := a.table[worst].session.Priority
		cp := a.table[i].session.Priority
		if wp.Higher(cp) {
			// The current pick outranks the candidate, so the candidate is
			// the lower-priority (more evictable) of the two.
			worst = i
			continue
		}
		if wp == cp {
			wseq := a.table[worst].session.SequenceNumber
			cseq := a.table[i].session.SequenceNumber
			if int16(cseq-wseq) < 0 {
				worst = i
			}
		}
	}
	if worst == -1 {
		return 0, false
	}

	if a.table[worst].session.Machine.State() == transfer.Done {
		a.counters.DestroyedWhileDone++
	} else {
		a.counters.DestroyedWhileAssembly++
	}
	a.table[worst].session.Machine.Fail()
	a.releaseSlot(worst)
	return worst, true
}

func (a *Assembler) releaseSlot(i int) {
	e := &a.table[i]
	if e.session.HasPieces {
		a.storage.RemoveAll(e.session.FirstPieceIdx)
	}
	delete(a.indexOf, e.key)
	*e = entry{}
}

// EvictLowerPriority is the opt-in preemption entry point a caller may
// invoke when ProcessFrame reports the transfer table is full and the
// incoming frame's priority should be allowed to displace an existing
// lower-priority session. It is never called automatically.
func (a *Assembler) EvictLowerPriority(priority identifier.Priority) bool {
	_, ok := a.evictOneLowerPriority(priority)
	return ok
}

// ProcessFrame admits one incoming CAN frame into the assembler's session
// table, driving the owning session's FSM and pushing/removing pieces as
// directed by its Output. timeNow is an opaque monotonically increasing
// clock value used only for RemoveOutdatedTransfers.
func (a *Assembler) ProcessFrame(id identifier.CanId, payload []byte, timeNow uint32) {
	if len(payload) == 0 || len(payload) > a.mtu {
		a.counters.MalformedFrameShape++
		return
	}

	// spec.md §4.5 step 1: a full piece pool triggers a proactive sweep for
	// outdated transfers before admitting this frame, so a stalled sender
	// can't starve the pool out from under well-behaved ones.
	if a.storage.Full() {
		a.RemoveOutdatedTransfers(timeNow, a.lifetime)
	}

	rawLen := len(payload) - 1
	kind := a.classify(rawLen)
	var tb *tailbyte.TailByte
	if kind != transfer.KindInvalid {
		decoded := tailbyte.Decode(payload[len(payload)-1])
		tb = &decoded
	} else {
		a.counters.MalformedFrameShape++
	}
	chunk := payload[:rawLen]

	key := transfer.KeyFor(id)
	idx, exists := a.indexOf[key]
	if !exists {
		i, ok := a.findFreeSlot()
		if !ok {
			a.counters.TransfersTableFull++
			return
		}
		a.sequence++
		a.table[i] = entry{
			used:    true,
			key:     key,
			session: *transfer.NewSession(id.Priority, a.sequence, timeNow),
		}
		a.indexOf[key] = i
		idx = i
	}

	e := &a.table[idx]
	e.session.LastChangedTimestamp = timeNow
	e.session.Priority = id.Priority

	if tb == nil {
		e.session.Machine.Advance(transfer.KindInvalid, nil)
		a.releaseSlot(idx)
		a.counters.DroppedFrames++
		return
	}

	out := e.session.Machine.Advance(kind, tb)
	switch out {
	case transfer.Ignore:
		if e.session.Machine.State() == transfer.Done {
			a.counters.DuplicateFrames++
		}
	case transfer.Drop:
		a.releaseSlot(idx)
		a.counters.DroppedFrames++
	case transfer.Push, transfer.CheckCrcAndPush:
		// SingleFrame and MultiFrame (the two start kinds) both begin a fresh
		// chain even when the session is reused from a prior Done/Failure
		// transfer; any pieces still attached to that prior transfer must be
		// released first or they would be silently extended instead of
		// replaced, per the Done+new-SingleFrame decision in DESIGN.md.
		if (tb.Kind == tailbyte.SingleFrame || tb.Kind == tailbyte.MultiFrame) && e.session.HasPieces {
			a.storage.RemoveAll(e.session.FirstPieceIdx)
			e.session.HasPieces = false
		}
		// A SingleFrame transfer reaches Done immediately on Push, not just
		// on CheckCrcAndPush (which only an End frame produces), so finish
		// must run off the resulting state rather than off out itself.
		a.pushChunk(idx, chunk, e.session.Machine.State() == transfer.Done)
	}
}

func (a *Assembler) pushChunk(idx int, chunk []byte, final bool) {
	e := &a.table[idx]

	if !final && len(chunk) != a.storage.PieceSize() {
		// Middle pieces must be exactly PieceSize; padded to the pool's
		// fixed slot width so storage.Push's equal-length contract holds.
		padded := make([]byte, a.storage.PieceSize())
		copy(padded, chunk)
		chunk = padded
	} else if final && len(chunk) < a.storage.PieceSize() {
		padded := make([]byte, a.storage.PieceSize())
		copy(padded, chunk)
		e.session.LastPieceLen = len(chunk)
		chunk = padded
	} else {
		e.session.LastPieceLen = len(chunk)
	}

	var newIdx piece.Idx
	var ok bool
	if !e.session.HasPieces {
		newIdx, ok = a.storage.Push(chunk)
	} else {
		newIdx, ok = a.storage.PushAfter(chunk, e.session.LastPieceIdx)
	}
	if !ok {
		// Pool exhaustion fails the pushing session on this frame; preemption
		// is caller-opt-in only, via EvictLowerPriority, per spec.md §4.5 —
		// ProcessFrame never reaches for it on its own.
		a.counters.PiecesPoolFull++
		a.releaseSlot(idx)
		a.counters.DroppedFrames++
		return
	}

	if !e.session.HasPieces {
		e.session.FirstPieceIdx = newIdx
		e.session.HasPieces = true
	}
	e.session.LastPieceIdx = newIdx

	if final {
		a.finish(idx)
	}
}

// finish runs the transport CRC across the assembled piece chain (single-
// frame transfers carry no CRC and always pass) and marks the session Done
// or Failure accordingly, per spec.md §4.6: the CRC's own final two bytes
// may straddle the last two pieces, which Traverse's byte-level walk
// handles transparently since it is just a flat read over the chain.
func (a *Assembler) finish(idx int) {
	e := &a.table[idx]
	if e.session.Machine.State() != transfer.Done {
		return
	}

	single := e.session.FirstPieceIdx == e.session.LastPieceIdx
	if single {
		a.counters.TransfersWithGoodCRC++
		return
	}

	d := crc16.New()
	total := 0
	a.storage.Traverse(e.session.FirstPieceIdx, func(data []byte, isLast bool) bool {
		n := len(data)
		if isLast {
			n = e.session.LastPieceLen
		}
		_, _ = d.Write(data[:n])
		total += n
		return true
	})
	// Final checksum digest includes the 2 CRC bytes the sender appended,
	// so a correctly received transfer always yields a residue of 0.
	if d.Sum16() == 0 && total >= 2 {
		a.counters.TransfersWithGoodCRC++
	} else {
		a.counters.TransfersWithBadCRC++
		e.session.Machine.Fail()
		// Wipe the chain immediately per spec.md §4.6 rather than leaving it
		// allocated until a later Drop/sweep: a burst of bad-CRC multi-frame
		// transfers would otherwise leak the shared piece pool.
		a.storage.RemoveAll(e.session.FirstPieceIdx)
		e.session.HasPieces = false
		e.session.FirstPieceIdx = 0
		e.session.LastPieceIdx = 0
	}
}

// Pop removes and returns the highest-priority completed transfer, copying
// its reassembled payload (CRC bytes stripped) into buf. Ties between equal
// priorities are broken FIFO, by arrival sequence, via wrapping signed
// subtraction exactly as original_source/src/assembler.rs's
// find_max_priority_done_transfer does. Returns ok=false if no transfer is
// ready.
func (a *Assembler) Pop(buf []byte) (ReadyTransfer, bool) {
	best := -1
	for i := range a.table {
		if !a.table[i].used || a.table[i].session.Machine.State() != transfer.Done {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bp := a.table[best].session.Priority
		cp := a.table[i].session.Priority
		if cp.Higher(bp) {
			best = i
			continue
		}
		if cp == bp {
			bseq := a.table[best].session.SequenceNumber
			cseq := a.table[i].session.SequenceNumber
			if int16(bseq-cseq) > 0 {
				best = i
			}
		}
	}
	if best == -1 {
		return ReadyTransfer{}, false
	}

	e := &a.table[best]
	n := 0
	a.storage.Traverse(e.session.FirstPieceIdx, func(data []byte, isLast bool) bool {
		cp := len(data)
		if isLast {
			cp = e.session.LastPieceLen
		}
		n += copy(buf[n:], data[:cp])
		return true
	})
	crcLen := 2
	if e.session.FirstPieceIdx == e.session.LastPieceIdx {
		crcLen = 0
	}
	payloadLen := n
	if payloadLen >= crcLen {
		payloadLen -= crcLen
	}

	keyID, _ := canIDFromKey(e.key)
	rt := ReadyTransfer{
		Source:   e.key.Source,
		Kind:     keyID,
		Priority: e.session.Priority,
		Payload:  buf[:payloadLen],
	}
	a.releaseSlot(best)
	return rt, true
}

// canIDFromKey reconstructs just the TransferKind portion of a CanId from a
// session's map key, sufficient for Pop's ReadyTransfer; it does not
// recover the priority or source, which the caller already has from the
// session.
func canIDFromKey(key transfer.MapKey) (identifier.TransferKind, bool) {
	bits := key.KindBits
	isService := bits&(1<<25) != 0
	if isService {
		dest := identifier.NodeId((bits >> 7) & 0x7F)
		svc := identifier.ServiceId((bits >> 14) & 0x1FF)
		isRequest := bits&(1<<24) != 0
		return identifier.TransferKind{
			IsService: true,
			Service:   identifier.Service{DestinationNodeId: dest, ServiceId: svc, IsRequest: isRequest},
		}, true
	}
	subject := identifier.SubjectId((bits >> 8) & 0x1FFF)
	isAnon := bits&(1<<24) != 0
	return identifier.TransferKind{Message: identifier.Message{SubjectId: subject, IsAnonymous: isAnon}}, true
}

// String renders a diagnostic dump of in-flight sessions and pool
// occupancy, ported from uavcan-llr/src/assembler.rs's Display impl. For
// debug logging only, never on a hot path.
func (a *Assembler) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "assembler: %d/%d sessions, %d/%d pieces\n",
		len(a.indexOf), len(a.table), a.storage.Len(), a.storage.Cap())
	for i := range a.table {
		e := &a.table[i]
		if !e.used {
			continue
		}
		kind, _ := canIDFromKey(e.key)
		fmt.Fprintf(&b, "  src=N%03d pri=%s state=%s seq=%d kind=%+v\n",
			e.key.Source, e.session.Priority, e.session.Machine.State(), e.session.SequenceNumber, kind)
	}
	fmt.Fprintf(&b, "counters: %+v", a.counters)
	return b.String()
}

// RemoveOutdatedTransfers frees every session whose LastChangedTimestamp is
// older than timeNow-maxAge, reclaiming its piece chain. Invoked
// automatically from ProcessFrame when the piece pool is full (spec.md
// §4.5 step 1), and may also be called on a timer by the caller.
func (a *Assembler) RemoveOutdatedTransfers(timeNow, maxAge uint32) int {
	removed := 0
	for i := range a.table {
		if !a.table[i].used {
			continue
		}
		age := timeNow - a.table[i].session.LastChangedTimestamp
		if age > maxAge {
			a.releaseSlot(i)
			removed++
		}
	}
	return removed
}
