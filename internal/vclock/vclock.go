// Package vclock implements per-actor vector clocks used for catch-up gap
// computation and causal "has seen" checks. Vector clocks never order
// operations; canonical order is (hlc, op_id).
package vclock

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
)

// VectorClock maps each actor to the highest HLC seen from it.
// The zero value is an empty clock ready for reads; use New or Clone before writing.
type VectorClock map[identity.ActorID]hlc.Timestamp

// New returns an empty clock.
func New() VectorClock {
	return make(VectorClock)
}

// Get returns the entry for actor, or the zero timestamp.
func (vc VectorClock) Get(actor identity.ActorID) hlc.Timestamp {
	return vc[actor]
}

// Update records ts for actor if it is greater than the current entry.
// It reports whether the clock changed.
func (vc VectorClock) Update(actor identity.ActorID, ts hlc.Timestamp) bool {
	if cur, ok := vc[actor]; ok && !cur.Less(ts) {
		return false
	}
	vc[actor] = ts
	return true
}

// Merge takes the per-actor maximum of vc and other into vc.
func (vc VectorClock) Merge(other VectorClock) {
	for actor, ts := range other {
		vc.Update(actor, ts)
	}
}

// Diff returns, in byte order, the actors for which other has seen more
// than vc. These are the actors vc must fetch to catch up with other.
func (vc VectorClock) Diff(other VectorClock) []identity.ActorID {
	var out []identity.ActorID
	for actor, ts := range other {
		if vc[actor].Less(ts) {
			out = append(out, actor)
		}
	}
	slices.SortFunc(out, identity.ActorID.Compare)
	return out
}

// Covers reports whether vc has seen everything other has.
func (vc VectorClock) Covers(other VectorClock) bool {
	return len(vc.Diff(other)) == 0
}

// HasSeen reports whether an operation stamped ts by actor is within vc.
func (vc VectorClock) HasSeen(actor identity.ActorID, ts hlc.Timestamp) bool {
	cur, ok := vc[actor]
	return ok && !cur.Less(ts)
}

// Equal reports whether both clocks hold identical entries.
func (vc VectorClock) Equal(other VectorClock) bool {
	return maps.Equal(vc, other)
}

// Clone returns an independent copy. Clone of nil is an empty clock.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	maps.Copy(out, vc)
	return out
}

// Actors returns the actors in byte order.
func (vc VectorClock) Actors() []identity.ActorID {
	out := slices.Collect(maps.Keys(vc))
	slices.SortFunc(out, identity.ActorID.Compare)
	return out
}

// AppendBinary appends a deterministic encoding: entry count (u32) then
// actor(32) ∥ hlc(12) per entry in actor byte order.
func (vc VectorClock) AppendBinary(b []byte) []byte {
	n := uint32(len(vc))
	b = append(b, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	for _, actor := range vc.Actors() {
		b = append(b, actor[:]...)
		b = vc[actor].AppendBinary(b)
	}
	return b
}

// EntrySize is the encoded size of one clock entry.
const EntrySize = identity.ActorIDSize + hlc.Size

// MarshalJSON encodes as {"<hex actor>": "wall.counter"}.
func (vc VectorClock) MarshalJSON() ([]byte, error) {
	m := make(map[identity.ActorID]hlc.Timestamp, len(vc))
	maps.Copy(m, vc)
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (vc *VectorClock) UnmarshalJSON(data []byte) error {
	m := make(map[identity.ActorID]hlc.Timestamp)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*vc = VectorClock(m)
	return nil
}
