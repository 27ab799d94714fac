package models

import "github.com/rawblock/ledgercore/pkg/ids"

// FlowType classifies the primitive value-movement reference a FlowRecord
// carries. These are references, never settlements.
type FlowType string

const (
	FlowTypeBuyInRef  FlowType = "BUYIN_REF"
	FlowTypeCashOutRef FlowType = "CASHOUT_REF"
	FlowTypeRakeRef   FlowType = "RAKE_REF"
	FlowTypeAdjustRef FlowType = "ADJUST_REF"
)

// Direction is the sign of a flow relative to the party it is recorded
// against.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// FlowStatus is the lifecycle state of a flow. The only legal transitions
// are PENDING->CONFIRMED, PENDING->VOID, and CONFIRMED->VOID; VOID is
// terminal.
type FlowStatus string

const (
	FlowStatusPending   FlowStatus = "PENDING"
	FlowStatusConfirmed FlowStatus = "CONFIRMED"
	FlowStatusVoid      FlowStatus = "VOID"
)

// FlowRecord is one append in the flow registry's hash-chained log. A
// FlowId may have several FlowRecords over time (one per status
// transition); the effective record for a FlowId is the one with the
// highest Sequence.
type FlowRecord struct {
	FlowId            ids.FlowId     `json:"flowId"`
	SessionId         ids.SessionId  `json:"sessionId"`
	Party             Party          `json:"party"`
	Type              FlowType       `json:"type"`
	Direction         Direction      `json:"direction"`
	Amount            uint64         `json:"amount"`
	Status            FlowStatus     `json:"status"`
	InjectedTimestamp int64          `json:"injectedTimestamp"`
	Sequence          uint64         `json:"sequence"`
	Checksum          string         `json:"checksum"`
	PreviousChecksum  string         `json:"previousChecksum"`
	Description       string         `json:"description,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// AppendFlowInput is the caller-supplied payload for AppendFlow. Sequence,
// Checksum and PreviousChecksum are assigned by the registry and must not
// be supplied here.
type AppendFlowInput struct {
	FlowId            ids.FlowId
	SessionId         ids.SessionId
	Party             Party
	Type              FlowType
	Direction         Direction
	Amount            uint64
	InjectedTimestamp int64
	Description       string
	Metadata          map[string]string
}

// AppendResult is returned by a successful append to the flow or recharge
// registry.
type AppendResult struct {
	Sequence uint64
	Checksum string
}
