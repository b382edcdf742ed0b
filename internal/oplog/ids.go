package oplog

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// OpID is a UUIDv7: 16 bytes, time sortable.
type OpID = uuid.UUID

// EntityID is the stable identity of an entity. Never recycled.
type EntityID string

// EdgeID is the stable identity of an edge.
type EdgeID string

// BundleIDSize is the size of a BundleID.
const BundleIDSize = 16

// BundleID is content-derived from the signed operations of a bundle.
type BundleID [BundleIDSize]byte

// String returns lowercase hex.
func (id BundleID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is unset.
func (id BundleID) IsZero() bool {
	return id == BundleID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id BundleID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *BundleID) UnmarshalText(text []byte) error {
	parsed, err := ParseBundleID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseBundleID decodes a 32-character hex bundle ID.
func ParseBundleID(s string) (BundleID, error) {
	var id BundleID
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != BundleIDSize {
		return id, fmt.Errorf("invalid bundle id %q", s)
	}
	copy(id[:], raw)
	return id, nil
}

// IDGenerator issues identifiers for new operations, entities and edges.
type IDGenerator interface {
	NewOpID() OpID
	NewEntityID() EntityID
	NewEdgeID() EdgeID
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewOpID implements IDGenerator.
func (UUIDv7Generator) NewOpID() OpID {
	return uuid.Must(uuid.NewV7())
}

// NewEntityID implements IDGenerator.
func (UUIDv7Generator) NewEntityID() EntityID {
	return EntityID(uuid.Must(uuid.NewV7()).String())
}

// NewEdgeID implements IDGenerator.
func (UUIDv7Generator) NewEdgeID() EdgeID {
	return EdgeID(uuid.Must(uuid.NewV7()).String())
}

// SequentialGenerator issues predictable identifiers for tests and
// scenario replays. Op IDs embed a per-generator prefix byte so that two
// generators never collide.
//
// Thread-safety: SequentialGenerator is safe for concurrent use.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix byte
	label  string
	n      uint64
}

// NewSequentialGenerator creates a generator whose IDs carry label.
func NewSequentialGenerator(prefix byte, label string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix, label: label}
}

func (g *SequentialGenerator) next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.n
}

// NewOpID implements IDGenerator.
func (g *SequentialGenerator) NewOpID() OpID {
	n := g.next()
	var id OpID
	id[0] = g.prefix
	for i := 0; i < 8; i++ {
		id[15-i] = byte(n >> (8 * i))
	}
	return id
}

// NewEntityID implements IDGenerator.
func (g *SequentialGenerator) NewEntityID() EntityID {
	return EntityID(fmt.Sprintf("%s-e%d", g.label, g.next()))
}

// NewEdgeID implements IDGenerator.
func (g *SequentialGenerator) NewEdgeID() EdgeID {
	return EdgeID(fmt.Sprintf("%s-g%d", g.label, g.next()))
}
