package models

import "github.com/rawblock/ledgercore/pkg/ids"

// Period bounds a reconciliation window. StartTs must be strictly less
// than EndTs; both are caller-supplied positive integers.
type Period struct {
	PeriodId ids.PeriodId `json:"periodId"`
	StartTs  int64        `json:"startTs"`
	EndTs    int64        `json:"endTs"`
	Label    string       `json:"label,omitempty"`
}

// FlowSummary aggregates one party's effective flows within a period.
// Totals are computed over non-void records; counts are computed over all
// records (including pending and void).
type FlowSummary struct {
	PartyId        ids.PartyId           `json:"partyId"`
	PartyType      PartyType             `json:"partyType"`
	TotalIn        uint64                `json:"totalIn"`
	TotalOut       uint64                `json:"totalOut"`
	NetReference   int64                 `json:"netReference"`
	CountsByType   map[FlowType]int      `json:"countsByType"`
	CountsByStatus map[FlowStatus]int    `json:"countsByStatus"`
	FlowIds        []ids.FlowId          `json:"flowIds"`
}

// SettlementTotal aggregates rake/adjustment flows for one bucket within a
// period. It is computed by the exact routine (partitioned by type and
// direction over non-void flows) per spec section 9's open-question
// resolution, never the "summary totals" shortcut.
type SettlementTotal struct {
	Bucket        PartyType `json:"bucket"`
	PeriodId      ids.PeriodId `json:"periodId"`
	TotalRakeIn   uint64    `json:"totalRakeIn"`
	TotalAdjustIn uint64    `json:"totalAdjustIn"`
	TotalAdjustOut uint64   `json:"totalAdjustOut"`
	NetSettlement int64     `json:"netSettlement"`
	PartyCount    int       `json:"partyCount"`
	FlowCount     int       `json:"flowCount"`
}

// DiscrepancySeverity ranks a discrepancy finding. Findings of severity
// ERROR or above cause a period's status to be IMBALANCED.
type DiscrepancySeverity string

const (
	SeverityInfo     DiscrepancySeverity = "INFO"
	SeverityWarning  DiscrepancySeverity = "WARNING"
	SeverityError    DiscrepancySeverity = "ERROR"
	SeverityCritical DiscrepancySeverity = "CRITICAL"
)

// DiscrepancyType names the kind of finding.
type DiscrepancyType string

const (
	DiscrepancyNonIntegerValue     DiscrepancyType = "NonIntegerValue"
	DiscrepancyStatusInconsistency DiscrepancyType = "StatusInconsistency"
	DiscrepancyDuplicateReference  DiscrepancyType = "DuplicateReference"
)

// Discrepancy is a finding, never a hard error: it travels in the
// reconciliation result rather than aborting the call.
type Discrepancy struct {
	Type            DiscrepancyType     `json:"type"`
	Severity        DiscrepancySeverity `json:"severity"`
	Message         string              `json:"message"`
	AffectedFlowIds []ids.FlowId        `json:"affectedFlowIds"`
	Expected        string              `json:"expected,omitempty"`
	Actual          string              `json:"actual,omitempty"`
	Details         string              `json:"details,omitempty"`
}

// ReconciliationStatus is the overall health of a period's reconciliation.
type ReconciliationStatus string

const (
	StatusBalanced   ReconciliationStatus = "BALANCED"
	StatusImbalanced ReconciliationStatus = "IMBALANCED"
	StatusIncomplete ReconciliationStatus = "INCOMPLETE"
)

// PeriodReconciliationResult is the frozen output of reconcile_period.
type PeriodReconciliationResult struct {
	Period           Period                        `json:"period"`
	Status           ReconciliationStatus          `json:"status"`
	PlatformSummary  *FlowSummary                  `json:"platformSummary,omitempty"`
	ClubSummaries    []FlowSummary                 `json:"clubSummaries"`
	AgentSummaries   []FlowSummary                 `json:"agentSummaries"`
	SettlementTotals []SettlementTotal             `json:"settlementTotals"`
	Discrepancies    []Discrepancy                 `json:"discrepancies"`
	CountsByStatus   map[FlowStatus]int             `json:"countsByStatus"`
	Checksum         string                        `json:"checksum"`
}

// SettlementSnapshot is an immutable, hash-chained, per-party view of a
// period's reconciliation, frozen at birth.
type SettlementSnapshot struct {
	SnapshotId          ids.SnapshotId    `json:"snapshotId"`
	Period              Period            `json:"period"`
	PartyId             ids.PartyId       `json:"partyId"`
	PartyType           PartyType         `json:"partyType"`
	Bucket              PartyType         `json:"bucket"`
	FlowSummary         FlowSummary       `json:"flowSummary"`
	SettlementTotal     SettlementTotal   `json:"settlementTotal"`
	Status              ReconciliationStatus `json:"status"`
	Discrepancies       []Discrepancy     `json:"discrepancies"`
	CreatedTimestamp    int64             `json:"createdTimestamp"`
	PreviousSnapshotHash string           `json:"previousSnapshotHash"`
	Checksum            string            `json:"checksum"`
}
