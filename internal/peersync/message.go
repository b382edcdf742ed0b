package peersync

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// ProtocolVersion is the envelope format version.
const ProtocolVersion = 1

// MsgType identifies the body carried by an envelope.
type MsgType uint8

const (
	MsgVectorClockRequest  MsgType = 1
	MsgVectorClockResponse MsgType = 2
	MsgOperationsRequest   MsgType = 3
	MsgOperationsResponse  MsgType = 4
	MsgBundlePush          MsgType = 5
	MsgBundleAck           MsgType = 6
	MsgBundleNack          MsgType = 7
	MsgStateHashRequest    MsgType = 8
	MsgStateHashResponse   MsgType = 9
	MsgGoodbye             MsgType = 10
)

func (t MsgType) String() string {
	switch t {
	case MsgVectorClockRequest:
		return "vector_clock_request"
	case MsgVectorClockResponse:
		return "vector_clock_response"
	case MsgOperationsRequest:
		return "operations_request"
	case MsgOperationsResponse:
		return "operations_response"
	case MsgBundlePush:
		return "bundle_push"
	case MsgBundleAck:
		return "bundle_ack"
	case MsgBundleNack:
		return "bundle_nack"
	case MsgStateHashRequest:
		return "state_hash_request"
	case MsgStateHashResponse:
		return "state_hash_response"
	case MsgGoodbye:
		return "goodbye"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// NackReason tells the pusher why a bundle was refused.
type NackReason string

const (
	NackInvalidSignature NackReason = "invalid_signature"
	NackSchemaViolation  NackReason = "schema_violation"
	NackUnknownActor     NackReason = "unknown_actor"
	NackDuplicateBundle  NackReason = "duplicate_bundle"
	NackFutureHLC        NackReason = "future_hlc"
	NackSizeExceeded     NackReason = "size_exceeded"
	NackEntityCollision  NackReason = "entity_collision"
	NackStorageFailure   NackReason = "storage_failure"
)

// nackReason maps an ingest error to the reason sent on the wire.
func nackReason(err error) NackReason {
	switch oplog.CodeOf(err) {
	case oplog.CodeSchemaViolation:
		return NackSchemaViolation
	case oplog.CodeUnknownActor:
		return NackUnknownActor
	case oplog.CodeDuplicateOperation:
		return NackDuplicateBundle
	case oplog.CodeClockDriftExceeded:
		return NackFutureHLC
	case oplog.CodeSizeExceeded:
		return NackSizeExceeded
	case oplog.CodeEntityCollision:
		return NackEntityCollision
	case oplog.CodeStorageFailure:
		return NackStorageFailure
	}
	return NackInvalidSignature
}

// Envelope is the unit exchanged on the stream:
// version(1) type(1) sender(32) seq(8) body.
type Envelope struct {
	Type   MsgType
	Sender identity.ActorID
	Seq    uint64
	Body   []byte
}

const envelopeHeader = 1 + 1 + identity.ActorIDSize + 8

// MarshalBinary encodes the envelope.
func (e Envelope) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, envelopeHeader+len(e.Body))
	b = append(b, ProtocolVersion, byte(e.Type))
	b = append(b, e.Sender[:]...)
	b = binary.BigEndian.AppendUint64(b, e.Seq)
	return append(b, e.Body...), nil
}

// UnmarshalBinary decodes an envelope.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	if len(data) < envelopeHeader {
		return fmt.Errorf("envelope: %d bytes, need at least %d", len(data), envelopeHeader)
	}
	if data[0] != ProtocolVersion {
		return fmt.Errorf("envelope: unsupported version %d", data[0])
	}
	e.Type = MsgType(data[1])
	copy(e.Sender[:], data[2:2+identity.ActorIDSize])
	e.Seq = binary.BigEndian.Uint64(data[2+identity.ActorIDSize:])
	e.Body = data[envelopeHeader:]
	return nil
}

// Message bodies. Bundles travel as their binary wire records.

type vectorClockResponse struct {
	Clock vclock.VectorClock `json:"clock"`
}

type operationsRequest struct {
	Since vclock.VectorClock `json:"since"`
	Limit int                `json:"limit"`
}

type operationsResponse struct {
	Bundles  [][]byte `json:"bundles"`
	Complete bool     `json:"complete"`
}

type bundlePush struct {
	Bundle []byte `json:"bundle"`
}

type bundleAck struct {
	BundleID oplog.BundleID `json:"bundle_id"`
}

type bundleNack struct {
	BundleID oplog.BundleID `json:"bundle_id"`
	Reason   NackReason     `json:"reason"`
	Message  string         `json:"message,omitempty"`
}

type stateHashResponse struct {
	Hash string `json:"hash"`
}

func encodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeBody(env Envelope, v any) error {
	if err := json.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}
