// Package reconciliation implements the pure per-period aggregation engine
// described in spec section 4.2 (component C2). It never mutates the flow
// registry it reads from; every call derives a fresh, frozen result.
package reconciliation

import (
	"fmt"
	"sort"

	"github.com/rawblock/ledgercore/internal/canonical"
	"github.com/rawblock/ledgercore/internal/flowregistry"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

const snapshotChecksumTag = "rview_"

// ReconcilePeriod derives a PeriodReconciliationResult from registry for
// period. It performs no writes and has no side effects.
func ReconcilePeriod(registry *flowregistry.FlowRegistry, period models.Period) (*models.PeriodReconciliationResult, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}

	effective := registry.GetRecordsByTimeWindow(period.StartTs, period.EndTs)
	if len(effective) == 0 {
		return nil, ledgererrors.New(ledgererrors.CodeNoDataForPeriod,
			"no flow records fall within the period", map[string]any{"periodId": string(period.PeriodId)})
	}

	firstSeen := partyFirstSeen(registry.GetAllRecords())

	byParty := make(map[ids.PartyId][]models.FlowRecord)
	partyType := make(map[ids.PartyId]models.PartyType)
	for _, rec := range effective {
		byParty[rec.Party.PartyId] = append(byParty[rec.Party.PartyId], rec)
		partyType[rec.Party.PartyId] = rec.Party.PartyType
	}

	var platformParties, clubParties, agentParties []ids.PartyId
	for pid, pt := range partyType {
		switch pt {
		case models.PartyTypePlatform:
			platformParties = append(platformParties, pid)
		case models.PartyTypeClub:
			clubParties = append(clubParties, pid)
		case models.PartyTypeAgent:
			agentParties = append(agentParties, pid)
		}
	}

	var platformSummary *models.FlowSummary
	if len(platformParties) > 0 {
		sort.Slice(platformParties, func(i, j int) bool {
			return firstSeen[platformParties[i]] < firstSeen[platformParties[j]]
		})
		representative := platformParties[0]
		var allPlatformRecords []models.FlowRecord
		for _, pid := range platformParties {
			allPlatformRecords = append(allPlatformRecords, byParty[pid]...)
		}
		summary := buildFlowSummary(representative, models.PartyTypePlatform, allPlatformRecords)
		platformSummary = &summary
	}

	clubSummaries := buildSummaries(clubParties, partyType, byParty)
	agentSummaries := buildSummaries(agentParties, partyType, byParty)

	settlementTotals := calculateSettlementTotalsFromFlows(period.PeriodId, effective)

	discrepancies := detectDiscrepancies(effective)

	countsByStatus := countByStatus(effective)

	status := deriveStatus(countsByStatus, discrepancies)

	result := &models.PeriodReconciliationResult{
		Period:           period,
		Status:           status,
		PlatformSummary:  platformSummary,
		ClubSummaries:    clubSummaries,
		AgentSummaries:   agentSummaries,
		SettlementTotals: settlementTotals,
		Discrepancies:    discrepancies,
		CountsByStatus:   countsByStatus,
	}
	result.Checksum = checksumResult(result)
	return result, nil
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

// partyFirstSeen returns, for every partyId appearing anywhere in raw
// (the full, unfiltered registry log), the lowest Sequence at which it was
// recorded — i.e. its insertion order.
func partyFirstSeen(raw []models.FlowRecord) map[ids.PartyId]uint64 {
	out := make(map[ids.PartyId]uint64)
	for _, rec := range raw {
		if seq, ok := out[rec.Party.PartyId]; !ok || rec.Sequence < seq {
			out[rec.Party.PartyId] = rec.Sequence
		}
	}
	return out
}

func buildSummaries(partyIds []ids.PartyId, partyType map[ids.PartyId]models.PartyType, byParty map[ids.PartyId][]models.FlowRecord) []models.FlowSummary {
	sort.Slice(partyIds, func(i, j int) bool { return partyIds[i] < partyIds[j] })
	out := make([]models.FlowSummary, 0, len(partyIds))
	for _, pid := range partyIds {
		out = append(out, buildFlowSummary(pid, partyType[pid], byParty[pid]))
	}
	return out
}

func buildFlowSummary(partyId ids.PartyId, pt models.PartyType, records []models.FlowRecord) models.FlowSummary {
	summary := models.FlowSummary{
		PartyId:        partyId,
		PartyType:      pt,
		CountsByType:   make(map[models.FlowType]int),
		CountsByStatus: make(map[models.FlowStatus]int),
	}
	var totalIn, totalOut uint64
	for _, rec := range records {
		summary.CountsByType[rec.Type]++
		summary.CountsByStatus[rec.Status]++
		summary.FlowIds = append(summary.FlowIds, rec.FlowId)
		if rec.Status == models.FlowStatusVoid {
			continue
		}
		if rec.Direction == models.DirectionIn {
			totalIn += rec.Amount
		} else {
			totalOut += rec.Amount
		}
	}
	summary.TotalIn = totalIn
	summary.TotalOut = totalOut
	summary.NetReference = int64(totalIn) - int64(totalOut)
	sort.Slice(summary.FlowIds, func(i, j int) bool { return summary.FlowIds[i] < summary.FlowIds[j] })
	return summary
}

// calculateSettlementTotalsFromFlows is the exact, authoritative routine
// named in spec section 9: amounts are partitioned by type and direction
// over non-void flows, one SettlementTotal per bucket with at least one
// non-void record.
func calculateSettlementTotalsFromFlows(periodId ids.PeriodId, records []models.FlowRecord) []models.SettlementTotal {
	type accum struct {
		rakeIn, adjustIn, adjustOut uint64
		parties                     map[ids.PartyId]bool
		flowCount                   int
	}
	buckets := make(map[models.PartyType]*accum)
	order := []models.PartyType{models.PartyTypePlatform, models.PartyTypeClub, models.PartyTypeAgent}

	for _, rec := range records {
		if rec.Status == models.FlowStatusVoid {
			continue
		}
		bucket := rec.Party.PartyType
		if bucket != models.PartyTypePlatform && bucket != models.PartyTypeClub && bucket != models.PartyTypeAgent {
			continue
		}
		a, ok := buckets[bucket]
		if !ok {
			a = &accum{parties: make(map[ids.PartyId]bool)}
			buckets[bucket] = a
		}
		a.parties[rec.Party.PartyId] = true
		a.flowCount++
		switch {
		case rec.Type == models.FlowTypeRakeRef && rec.Direction == models.DirectionIn:
			a.rakeIn += rec.Amount
		case rec.Type == models.FlowTypeAdjustRef && rec.Direction == models.DirectionIn:
			a.adjustIn += rec.Amount
		case rec.Type == models.FlowTypeAdjustRef && rec.Direction == models.DirectionOut:
			a.adjustOut += rec.Amount
		}
	}

	var out []models.SettlementTotal
	for _, bucket := range order {
		a, ok := buckets[bucket]
		if !ok {
			continue
		}
		out = append(out, models.SettlementTotal{
			Bucket:         bucket,
			PeriodId:       periodId,
			TotalRakeIn:    a.rakeIn,
			TotalAdjustIn:  a.adjustIn,
			TotalAdjustOut: a.adjustOut,
			NetSettlement:  int64(a.rakeIn) + int64(a.adjustIn) - int64(a.adjustOut),
			PartyCount:     len(a.parties),
			FlowCount:      a.flowCount,
		})
	}
	return out
}

func detectDiscrepancies(records []models.FlowRecord) []models.Discrepancy {
	var out []models.Discrepancy

	// Duplicate-flowId check: the effective-record extraction already
	// guarantees uniqueness per FlowId in a Go registry, but the
	// algorithm shape is preserved for parity with the source (and in
	// case a future persistence-replay path feeds this engine
	// externally-reconstructed records).
	seen := make(map[ids.FlowId]bool)
	var duplicates []ids.FlowId
	for _, rec := range records {
		if seen[rec.FlowId] {
			duplicates = append(duplicates, rec.FlowId)
		}
		seen[rec.FlowId] = true
	}
	if len(duplicates) > 0 {
		out = append(out, models.Discrepancy{
			Type:            models.DiscrepancyDuplicateReference,
			Severity:        models.SeverityError,
			Message:         "duplicate flowId among effective records",
			AffectedFlowIds: duplicates,
		})
	}

	var pending []ids.FlowId
	for _, rec := range records {
		if rec.Status == models.FlowStatusPending {
			pending = append(pending, rec.FlowId)
		}
	}
	if len(pending) > 0 {
		sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })
		out = append(out, models.Discrepancy{
			Type:            models.DiscrepancyStatusInconsistency,
			Severity:        models.SeverityWarning,
			Message:         fmt.Sprintf("%d flow(s) are still PENDING within the period", len(pending)),
			AffectedFlowIds: pending,
		})
	}

	return out
}

func countByStatus(records []models.FlowRecord) map[models.FlowStatus]int {
	out := make(map[models.FlowStatus]int)
	for _, rec := range records {
		out[rec.Status]++
	}
	return out
}

func deriveStatus(counts map[models.FlowStatus]int, discrepancies []models.Discrepancy) models.ReconciliationStatus {
	if counts[models.FlowStatusPending] > 0 {
		return models.StatusIncomplete
	}
	for _, d := range discrepancies {
		if d.Severity == models.SeverityError || d.Severity == models.SeverityCritical {
			return models.StatusImbalanced
		}
	}
	return models.StatusBalanced
}

func checksumResult(r *models.PeriodReconciliationResult) string {
	return canonical.Checksum(snapshotChecksumTag, reconciliationResultValue(r))
}

func reconciliationResultValue(r *models.PeriodReconciliationResult) canonical.Value {
	obj := canonical.Object{
		"periodId":         string(r.Period.PeriodId),
		"startTs":          r.Period.StartTs,
		"endTs":            r.Period.EndTs,
		"status":           string(r.Status),
		"clubSummaries":    summariesValue(r.ClubSummaries),
		"agentSummaries":   summariesValue(r.AgentSummaries),
		"settlementTotals": settlementTotalsValue(r.SettlementTotals),
		"discrepancies":    discrepanciesValue(r.Discrepancies),
	}
	if r.PlatformSummary != nil {
		obj["platformSummary"] = summaryValue(*r.PlatformSummary)
	} else {
		obj["platformSummary"] = nil
	}
	return obj
}

func summaryValue(s models.FlowSummary) canonical.Value {
	flowIds := make(canonical.Slice, len(s.FlowIds))
	for i, f := range s.FlowIds {
		flowIds[i] = string(f)
	}
	return canonical.Object{
		"partyId":      string(s.PartyId),
		"partyType":    string(s.PartyType),
		"totalIn":      s.TotalIn,
		"totalOut":     s.TotalOut,
		"netReference": s.NetReference,
		"flowIds":      flowIds,
	}
}

func summariesValue(summaries []models.FlowSummary) canonical.Value {
	out := make(canonical.Slice, len(summaries))
	for i, s := range summaries {
		out[i] = summaryValue(s)
	}
	return out
}

func settlementTotalsValue(totals []models.SettlementTotal) canonical.Value {
	out := make(canonical.Slice, len(totals))
	for i, t := range totals {
		out[i] = canonical.Object{
			"bucket":         string(t.Bucket),
			"totalRakeIn":    t.TotalRakeIn,
			"totalAdjustIn":  t.TotalAdjustIn,
			"totalAdjustOut": t.TotalAdjustOut,
			"netSettlement":  t.NetSettlement,
			"partyCount":     t.PartyCount,
			"flowCount":      t.FlowCount,
		}
	}
	return out
}

func discrepanciesValue(discrepancies []models.Discrepancy) canonical.Value {
	out := make(canonical.Slice, len(discrepancies))
	for i, d := range discrepancies {
		flowIds := make(canonical.Slice, len(d.AffectedFlowIds))
		for j, f := range d.AffectedFlowIds {
			flowIds[j] = string(f)
		}
		out[i] = canonical.Object{
			"type":            string(d.Type),
			"severity":        string(d.Severity),
			"message":         d.Message,
			"affectedFlowIds": flowIds,
		}
	}
	return out
}
