package models

import "github.com/rawblock/ledgercore/pkg/ids"

// RechargeSource names where a recharge reference originated.
type RechargeSource string

const (
	RechargeSourceExternal RechargeSource = "EXTERNAL"
	RechargeSourceManual   RechargeSource = "MANUAL"
	RechargeSourceFuture   RechargeSource = "FUTURE"
)

// RechargeStatus is the lifecycle state of a recharge. VOIDED is
// terminal.
type RechargeStatus string

const (
	RechargeStatusDeclared  RechargeStatus = "DECLARED"
	RechargeStatusConfirmed RechargeStatus = "CONFIRMED"
	RechargeStatusVoided    RechargeStatus = "VOIDED"
)

// RechargeRecord is one append in the recharge registry's hash-chained
// log, mirroring FlowRecord's append-only discipline.
type RechargeRecord struct {
	RechargeId       ids.RechargeId      `json:"rechargeId"`
	Source           RechargeSource      `json:"source"`
	Status           RechargeStatus      `json:"status"`
	PartyId          ids.PartyId         `json:"partyId"`
	ReferenceAmount  uint64              `json:"referenceAmount"`
	ExternalReferenceId *ids.ExternalRefId `json:"externalReferenceId,omitempty"`
	Sequence         uint64              `json:"sequence"`
	DeclaredTs       int64               `json:"declaredTs"`
	ConfirmedTs      *int64              `json:"confirmedTs,omitempty"`
	VoidedTs         *int64              `json:"voidedTs,omitempty"`
	Checksum         string              `json:"checksum"`
	PreviousChecksum string              `json:"previousChecksum"`
}

// AppendRechargeInput is the caller-supplied payload for AppendRecharge.
type AppendRechargeInput struct {
	RechargeId          ids.RechargeId
	Source              RechargeSource
	PartyId             ids.PartyId
	ReferenceAmount     uint64
	ExternalReferenceId *ids.ExternalRefId
	DeclaredTs          int64
}

// RechargeLink is a pure reference tying one recharge to a set of flows.
// It moves no value.
type RechargeLink struct {
	LinkId               ids.LinkId   `json:"linkId"`
	RechargeId           ids.RechargeId `json:"rechargeId"`
	LinkedFlowIds        []ids.FlowId `json:"linkedFlowIds"`
	LinkedReferenceTotal uint64       `json:"linkedReferenceTotal"`
	LinkedTimestamp      int64        `json:"linkedTimestamp"`
	Checksum             string       `json:"checksum"`
}

// CreateRechargeLinkInput is the caller-supplied payload for
// create_recharge_link; LinkedReferenceTotal and Checksum are computed by
// the registry from the verified flow set.
type CreateRechargeLinkInput struct {
	LinkId          ids.LinkId
	RechargeId      ids.RechargeId
	LinkedFlowIds   []ids.FlowId
	LinkedTimestamp int64
}
