// Package ids defines the branded string identifiers used throughout the
// ledger stack. Each type is a distinct newtype over string so that, for
// example, a PartyId can never be passed where a FlowId is expected without
// an explicit conversion.
package ids

// FlowId identifies a single flow lineage in the flow registry. All
// records sharing a FlowId are revisions of the same logical flow; the
// effective record is the one with the highest Sequence.
type FlowId string

// SessionId identifies an audit or ingestion session.
type SessionId string

// PartyId identifies a platform, club, agent, or player.
type PartyId string

// RechargeId identifies a recharge lineage in the recharge registry.
type RechargeId string

// LinkId identifies a recharge-to-flows link record.
type LinkId string

// ExternalRefId identifies an external reference supplied by an upstream
// producer (e.g. a payment processor's transaction id).
type ExternalRefId string

// PeriodId identifies a reconciliation period.
type PeriodId string

// SnapshotId identifies a settlement or attribution snapshot.
type SnapshotId string

// RuleSetId identifies an attribution rule set.
type RuleSetId string

// HierarchyId identifies an agent hierarchy.
type HierarchyId string

// EntryId identifies a single attribution entry.
type EntryId string

// AuditSessionId identifies an audit correlation run.
type AuditSessionId string

// AuditRowId identifies a single row within an audit session.
type AuditRowId string

func (f FlowId) String() string          { return string(f) }
func (s SessionId) String() string       { return string(s) }
func (p PartyId) String() string         { return string(p) }
func (r RechargeId) String() string      { return string(r) }
func (l LinkId) String() string          { return string(l) }
func (e ExternalRefId) String() string   { return string(e) }
func (p PeriodId) String() string        { return string(p) }
func (s SnapshotId) String() string      { return string(s) }
func (r RuleSetId) String() string       { return string(r) }
func (h HierarchyId) String() string     { return string(h) }
func (e EntryId) String() string         { return string(e) }
func (a AuditSessionId) String() string  { return string(a) }
func (a AuditRowId) String() string      { return string(a) }
