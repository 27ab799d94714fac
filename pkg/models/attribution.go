package models

import "github.com/rawblock/ledgercore/pkg/ids"

// MaxRulesPerSet bounds the number of rules an AttributionRuleSet may
// carry (spec section 3).
const MaxRulesPerSet = 100

// MaxHierarchyDepth bounds the length of any agent's parent chain (spec
// section 3).
const MaxHierarchyDepth = 10

// AttributionRule allocates a fixed basis-points share of a flow's amount
// to one party.
type AttributionRule struct {
	RuleSetId   ids.RuleSetId `json:"ruleSetId"`
	PartyId     ids.PartyId   `json:"partyId"`
	PartyType   PartyType     `json:"partyType"`
	BasisPoints int           `json:"basisPoints"`
	Label       string        `json:"label,omitempty"`
}

// AttributionRuleSet is a frozen set of rules whose basis points sum to
// exactly 10000.
type AttributionRuleSet struct {
	RuleSetId         ids.RuleSetId     `json:"ruleSetId"`
	Rules             []AttributionRule `json:"rules"`
	TotalBasisPoints  int               `json:"totalBasisPoints"`
	CreatedAt         int64             `json:"createdAt"`
	Label             string            `json:"label,omitempty"`
}

// AgentHierarchyNode is one agent's position in the hierarchy forest.
type AgentHierarchyNode struct {
	AgentId          ids.PartyId  `json:"agentId"`
	ParentAgentId    *ids.PartyId `json:"parentAgentId,omitempty"`
	Level            int          `json:"level"`
	ShareBasisPoints int          `json:"shareBasisPoints"`
}

// AgentHierarchy is a forest of agents: every node's parent chain
// terminates at a root without revisiting any node.
type AgentHierarchy struct {
	HierarchyId ids.HierarchyId       `json:"hierarchyId"`
	Nodes       []AgentHierarchyNode  `json:"nodes"`
	MaxLevel    int                   `json:"maxLevel"`
	AgentCount  int                   `json:"agentCount"`
}

// AttributionEntry is one party's integer share of a flow's amount.
type AttributionEntry struct {
	EntryId             ids.EntryId   `json:"entryId"`
	PartyId             ids.PartyId   `json:"partyId"`
	PartyType           PartyType     `json:"partyType"`
	Amount              uint64        `json:"amount"`
	SourceFlowId        ids.FlowId    `json:"sourceFlowId"`
	RuleSetId           ids.RuleSetId `json:"ruleSetId"`
	AppliedBasisPoints  int           `json:"appliedBasisPoints"`
	OriginalAmount      uint64        `json:"originalAmount"`
}

// FlowAttributionResult is the per-flow output of attribute_flow. The sum
// of Entries' amounts always equals OriginalAmount and Remainder is always
// zero — the remainder from flooring is folded into the first entry before
// the result is returned.
type FlowAttributionResult struct {
	SourceFlowId    ids.FlowId          `json:"sourceFlowId"`
	OriginalAmount  uint64              `json:"originalAmount"`
	Entries         []AttributionEntry  `json:"entries"`
	TotalAttributed uint64              `json:"totalAttributed"`
	Remainder       uint64              `json:"remainder"`
}

// PeriodAttributionResult is the frozen output of attribute_period for one
// (period, rule set) pair.
type PeriodAttributionResult struct {
	Period          Period                    `json:"period"`
	RuleSetId       ids.RuleSetId             `json:"ruleSetId"`
	FlowResults     []FlowAttributionResult   `json:"flowResults"`
	TotalOriginal   uint64                    `json:"totalOriginal"`
	TotalAttributed uint64                    `json:"totalAttributed"`
	FlowCount       int                       `json:"flowCount"`
	Checksum        string                    `json:"checksum"`
}

// PartyAttributionSummary aggregates entries for one party across an
// attribution snapshot.
type PartyAttributionSummary struct {
	PartyId   ids.PartyId `json:"partyId"`
	PartyType PartyType   `json:"partyType"`
	Total     uint64      `json:"total"`
	EntryCount int        `json:"entryCount"`
}

// PartyTypeAttributionSummary aggregates entries by party type.
type PartyTypeAttributionSummary struct {
	PartyType  PartyType `json:"partyType"`
	Total      uint64    `json:"total"`
	EntryCount int       `json:"entryCount"`
}

// AttributionSnapshot is an immutable, hash-chained flat view of a
// (period, rule set) attribution, frozen at birth.
type AttributionSnapshot struct {
	SnapshotId       ids.SnapshotId                 `json:"snapshotId"`
	Period           Period                         `json:"period"`
	RuleSetId        ids.RuleSetId                  `json:"ruleSetId"`
	HierarchyId      *ids.HierarchyId               `json:"hierarchyId,omitempty"`
	Entries          []AttributionEntry             `json:"entries"`
	PartySummaries   []PartyAttributionSummary      `json:"partySummaries"`
	PartyTypeSummaries []PartyTypeAttributionSummary `json:"partyTypeSummaries"`
	CreatedTimestamp int64                          `json:"createdTimestamp"`
	PreviousHash     string                         `json:"previousHash"`
	Checksum         string                         `json:"checksum"`
}
