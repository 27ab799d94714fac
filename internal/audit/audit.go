// Package audit implements the correlation pass described in spec section
// 4.5 (component C5): for a period, it walks every effective flow and every
// effective recharge and reports how well they line up with each other and
// with attribution, without recomputing or storing any amount itself. It
// never recomputes attribution — it only asks whether a flow resolved to
// zero, one, or more than one attribution party and link.
package audit

import (
	"sort"

	"github.com/rawblock/ledgercore/internal/canonical"
	"github.com/rawblock/ledgercore/internal/guard"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

const auditChecksumTag = "audit_"

// FlowSource gives audit read-only access to a period's effective flow
// records. Implemented by *flowregistry.FlowRegistry.
type FlowSource interface {
	GetRecordsByTimeWindow(start, end int64) []models.FlowRecord
}

// RechargeSource gives audit read-only access to a period's effective
// recharge records and the link index. Implemented by *recharge.Registry.
type RechargeSource interface {
	GetEffectiveRecords() []models.RechargeRecord
	TraceFlowToRecharges(flowId ids.FlowId) []models.RechargeLink
	TraceRechargeToFlows(rechargeId ids.RechargeId) []models.RechargeLink
}

// AttributionSource resolves which parties a flow's amount was attributed
// to, without exposing amounts. A flow with zero attribution entries
// resolves to an empty slice.
type AttributionSource interface {
	PartiesForFlow(flowId ids.FlowId) []models.Party
}

// RunAuditSession correlates every effective flow and recharge within
// period and returns a deterministic AuditSummary. sessionId must be
// non-empty and createdTs must be a positive integer.
func RunAuditSession(sessionId ids.AuditSessionId, period models.Period, flows FlowSource, recharges RechargeSource, attributions AttributionSource, createdTs int64) (*models.AuditSummary, error) {
	if sessionId == "" {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidSessionId,
			"sessionId must be non-empty", nil)
	}
	if err := guard.AssertNoForbiddenConceptsForAudit("sessionId", string(sessionId)); err != nil {
		return nil, err
	}
	if createdTs <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"createdTs must be a positive integer", nil)
	}
	if err := validatePeriod(period); err != nil {
		return nil, err
	}

	flowRecords := flows.GetRecordsByTimeWindow(period.StartTs, period.EndTs)
	sort.Slice(flowRecords, func(i, j int) bool { return flowRecords[i].FlowId < flowRecords[j].FlowId })

	chainIntact := verifyChains(flows, recharges)

	rows := make([]models.AuditRow, 0, len(flowRecords))
	var sequence uint64

	for _, rec := range flowRecords {
		links := recharges.TraceFlowToRecharges(rec.FlowId)
		parties := attributions.PartiesForFlow(rec.FlowId)

		var flags []models.AuditFlag
		var rechargeId *ids.RechargeId
		rechargeConfirmed := false

		if rec.Status != models.FlowStatusConfirmed {
			flags = append(flags, models.FlagFlowNotConfirmed)
		}
		switch {
		case len(links) == 0:
			flags = append(flags, models.FlagFlowNoRecharge)
		case len(links) > 1:
			flags = append(flags, models.FlagMultipleAttributions)
			rechargeId = &links[0].RechargeId
		default:
			rechargeId = &links[0].RechargeId
		}
		if len(parties) == 0 {
			flags = append(flags, models.FlagFlowNoAttribution)
		}
		if !chainIntact {
			flags = append(flags, models.FlagChecksumFailed)
		}

		if rechargeId != nil {
			rc, err := findRecharge(recharges, *rechargeId)
			if err == nil {
				if rc.Status == models.RechargeStatusConfirmed {
					rechargeConfirmed = true
				} else {
					flags = append(flags, models.FlagRechargeNotConfirmed)
				}
				if rc.PartyId != rec.Party.PartyId {
					flags = append(flags, models.FlagPartyMismatch)
				}
			}
		}

		status := deriveRowStatus(len(links), len(parties), rechargeConfirmed, !chainIntact)

		row := models.AuditRow{
			RowId:                   ids.AuditRowId(string(sessionId) + ":" + string(rec.FlowId)),
			SessionId:               sessionId,
			Sequence:                sequence,
			FlowId:                  rec.FlowId,
			RechargeId:              rechargeId,
			AttributionBreakdownRef: models.AttributionBreakdownRef{Parties: parties},
			AuditStatus:             status,
			Flags:                   flags,
		}
		row.Checksum = checksumRow(row)
		rows = append(rows, row)
		sequence++
	}

	// Recharges that fall within the period but trace to no flow cannot be
	// represented as an AuditRow (its flowId is mandatory, not optional) —
	// they are reported as a session-level list instead, with
	// RECHARGE_NO_FLOW counted directly against that list rather than a row.
	var orphanRecharges []ids.RechargeId
	for _, rc := range recharges.GetEffectiveRecords() {
		if rc.DeclaredTs < period.StartTs || rc.DeclaredTs > period.EndTs {
			continue
		}
		if len(recharges.TraceRechargeToFlows(rc.RechargeId)) > 0 {
			continue
		}
		orphanRecharges = append(orphanRecharges, rc.RechargeId)
	}
	sort.Slice(orphanRecharges, func(i, j int) bool { return orphanRecharges[i] < orphanRecharges[j] })

	countsByStatus := make(map[models.AuditStatus]int)
	countsByFlag := make(map[models.AuditFlag]int)
	passed := true
	for _, row := range rows {
		countsByStatus[row.AuditStatus]++
		for _, f := range row.Flags {
			countsByFlag[f]++
		}
		if row.AuditStatus == models.AuditStatusMissing || row.AuditStatus == models.AuditStatusOrphan {
			passed = false
		}
	}
	if len(orphanRecharges) > 0 {
		countsByFlag[models.FlagRechargeNoFlow] += len(orphanRecharges)
		passed = false
	}

	summary := &models.AuditSummary{
		SessionId:       sessionId,
		Period:          period,
		Rows:            rows,
		OrphanRecharges: orphanRecharges,
		Passed:          passed,
		CountsByStatus:  countsByStatus,
		CountsByFlag:    countsByFlag,
	}
	summary.Checksum = checksumSummary(summary)
	return summary, nil
}

func validatePeriod(period models.Period) error {
	if period.StartTs <= 0 || period.EndTs <= 0 {
		return ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"period timestamps must be positive integers", nil)
	}
	if period.StartTs >= period.EndTs {
		return ledgererrors.New(ledgererrors.CodeInvalidPeriod,
			"period startTs must be strictly less than endTs", nil)
	}
	return nil
}

// integrityChecker is implemented by both *flowregistry.FlowRegistry and
// *recharge.Registry; audit uses it to fold CHECKSUM_FAILED into every row
// of a session if either underlying log's hash chain has been tampered
// with, without re-deriving that log's own checksums itself.
type integrityChecker interface {
	VerifyIntegrity() error
}

func verifyChains(flows FlowSource, recharges RechargeSource) bool {
	if checker, ok := flows.(integrityChecker); ok {
		if checker.VerifyIntegrity() != nil {
			return false
		}
	}
	if checker, ok := recharges.(integrityChecker); ok {
		if checker.VerifyIntegrity() != nil {
			return false
		}
	}
	return true
}

// deriveRowStatus classifies a flow's row per spec's literal status
// definitions: ORPHAN is a flow with neither a recharge link nor an
// attribution entry; MATCHED requires a *confirmed* recharge link, at
// least one attribution entry, and an intact checksum chain; MISSING
// covers the named example of a link that exists but isn't confirmed;
// everything else with partial correlation is PARTIAL.
func deriveRowStatus(linkCount, partyCount int, rechargeConfirmed, checksumFailed bool) models.AuditStatus {
	switch {
	case linkCount == 0 && partyCount == 0:
		return models.AuditStatusOrphan
	case checksumFailed:
		return models.AuditStatusPartial
	case linkCount >= 1 && partyCount >= 1 && rechargeConfirmed:
		return models.AuditStatusMatched
	case linkCount >= 1 && !rechargeConfirmed:
		return models.AuditStatusMissing
	default:
		return models.AuditStatusPartial
	}
}

func findRecharge(recharges RechargeSource, rechargeId ids.RechargeId) (*models.RechargeRecord, error) {
	for _, rc := range recharges.GetEffectiveRecords() {
		if rc.RechargeId == rechargeId {
			return &rc, nil
		}
	}
	return nil, ledgererrors.New(ledgererrors.CodeRechargeNotFound,
		"rechargeId not found", map[string]any{"rechargeId": string(rechargeId)})
}

func checksumRow(row models.AuditRow) string {
	parties := make(canonical.Slice, len(row.AttributionBreakdownRef.Parties))
	for i, p := range row.AttributionBreakdownRef.Parties {
		parties[i] = canonical.Object{"partyId": string(p.PartyId), "partyType": string(p.PartyType)}
	}
	flags := make(canonical.Slice, len(row.Flags))
	for i, f := range row.Flags {
		flags[i] = string(f)
	}
	var rechargeId string
	if row.RechargeId != nil {
		rechargeId = string(*row.RechargeId)
	}
	obj := canonical.Object{
		"rowId":       string(row.RowId),
		"sessionId":   string(row.SessionId),
		"sequence":    row.Sequence,
		"flowId":      string(row.FlowId),
		"rechargeId":  rechargeId,
		"parties":     parties,
		"auditStatus": string(row.AuditStatus),
		"flags":       flags,
	}
	return canonical.Checksum(auditChecksumTag, obj)
}

func checksumSummary(s *models.AuditSummary) string {
	rows := make(canonical.Slice, len(s.Rows))
	for i, r := range s.Rows {
		rows[i] = r.Checksum
	}
	orphans := make(canonical.Slice, len(s.OrphanRecharges))
	for i, id := range s.OrphanRecharges {
		orphans[i] = string(id)
	}
	obj := canonical.Object{
		"sessionId":       string(s.SessionId),
		"periodId":        string(s.Period.PeriodId),
		"rows":            rows,
		"orphanRecharges": orphans,
		"passed":          s.Passed,
	}
	return canonical.Checksum(auditChecksumTag, obj)
}

// VerifyRowChecksum recomputes row's checksum independently, returning
// CodeChecksumMismatch if it does not match. RunAuditSession does not call
// it; the CHECKSUM_FAILED flag comes from the registries' VerifyIntegrity.
func VerifyRowChecksum(row models.AuditRow) error {
	if checksumRow(row) != row.Checksum {
		return ledgererrors.New(ledgererrors.CodeChecksumMismatch,
			"audit row checksum does not recompute", map[string]any{"rowId": string(row.RowId)})
	}
	return nil
}
