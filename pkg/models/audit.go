package models

import "github.com/rawblock/ledgercore/pkg/ids"

// AuditStatus classifies how well a flow's recharge and attribution
// correlations line up.
type AuditStatus string

const (
	AuditStatusMatched AuditStatus = "MATCHED"
	AuditStatusPartial AuditStatus = "PARTIAL"
	AuditStatusMissing AuditStatus = "MISSING"
	AuditStatusOrphan  AuditStatus = "ORPHAN"
)

// AuditFlag is one of the closed set of correlation flags a row may carry.
type AuditFlag string

const (
	FlagFlowNoRecharge       AuditFlag = "FLOW_NO_RECHARGE"
	FlagRechargeNoFlow       AuditFlag = "RECHARGE_NO_FLOW"
	FlagFlowNoAttribution    AuditFlag = "FLOW_NO_ATTRIBUTION"
	FlagAttributionNoFlow    AuditFlag = "ATTRIBUTION_NO_FLOW"
	FlagPartyMismatch        AuditFlag = "PARTY_MISMATCH"
	FlagRechargeNotConfirmed AuditFlag = "RECHARGE_NOT_CONFIRMED"
	FlagFlowNotConfirmed     AuditFlag = "FLOW_NOT_CONFIRMED"
	FlagMultipleAttributions AuditFlag = "MULTIPLE_ATTRIBUTIONS"
	FlagChecksumFailed       AuditFlag = "CHECKSUM_FAILED"
)

// AttributionBreakdownRef carries only which parties received attribution
// for a flow — never amounts.
type AttributionBreakdownRef struct {
	Parties []Party `json:"parties"`
}

// AuditRow is one flow's correlation verdict within an audit session.
type AuditRow struct {
	RowId                   ids.AuditRowId           `json:"rowId"`
	SessionId               ids.AuditSessionId       `json:"sessionId"`
	Sequence                uint64                   `json:"sequence"`
	FlowId                  ids.FlowId               `json:"flowId"`
	RechargeId              *ids.RechargeId          `json:"rechargeId,omitempty"`
	AttributionBreakdownRef AttributionBreakdownRef  `json:"attributionBreakdownRef"`
	AuditStatus             AuditStatus              `json:"auditStatus"`
	Flags                   []AuditFlag              `json:"flags"`
	Checksum                string                   `json:"checksum"`
}

// AuditSummary is the deterministic report produced by one audit session.
// OrphanRecharges lists recharges declared within the period that trace to
// no flow at all — RECHARGE_NO_FLOW's counterpart to a flow-side row, kept
// at the summary level because AuditRow's flowId is mandatory and such a
// recharge has none to report.
type AuditSummary struct {
	SessionId       ids.AuditSessionId  `json:"sessionId"`
	Period          Period              `json:"period"`
	Rows            []AuditRow          `json:"rows"`
	OrphanRecharges []ids.RechargeId    `json:"orphanRecharges,omitempty"`
	Passed          bool                `json:"passed"`
	CountsByStatus  map[AuditStatus]int `json:"countsByStatus"`
	CountsByFlag    map[AuditFlag]int   `json:"countsByFlag"`
	Checksum        string              `json:"checksum"`
}
