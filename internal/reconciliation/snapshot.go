package reconciliation

import (
	"github.com/rawblock/ledgercore/internal/canonical"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

const settlementSnapshotTag = "snap_"

// CreateSnapshotsFromReconciliation emits one immutable SettlementSnapshot
// per party present in result, in the fixed order platform, then clubs by
// ascending partyId, then agents by ascending partyId. Each snapshot's
// PreviousSnapshotHash equals the prior snapshot's Checksum; the first
// uses previousHash (or the genesis hash if previousHash is empty).
func CreateSnapshotsFromReconciliation(result *models.PeriodReconciliationResult, createdTs int64, previousHash string) ([]models.SettlementSnapshot, error) {
	if createdTs <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"createdTs must be a positive integer", nil)
	}
	if previousHash == "" {
		previousHash = canonical.Genesis
	}

	totalsByBucket := make(map[models.PartyType]models.SettlementTotal)
	for _, t := range result.SettlementTotals {
		totalsByBucket[t.Bucket] = t
	}

	var ordered []models.FlowSummary
	if result.PlatformSummary != nil {
		ordered = append(ordered, *result.PlatformSummary)
	}
	ordered = append(ordered, result.ClubSummaries...)
	ordered = append(ordered, result.AgentSummaries...)

	snapshots := make([]models.SettlementSnapshot, 0, len(ordered))
	prevHash := previousHash
	snapshotSeq := 0
	for _, summary := range ordered {
		flowSet := make(map[ids.FlowId]bool, len(summary.FlowIds))
		for _, f := range summary.FlowIds {
			flowSet[f] = true
		}
		var assigned []models.Discrepancy
		for _, d := range result.Discrepancies {
			for _, f := range d.AffectedFlowIds {
				if flowSet[f] {
					assigned = append(assigned, d)
					break
				}
			}
		}

		snap := models.SettlementSnapshot{
			SnapshotId:           ids.SnapshotId(snapshotIdFor(result.Period.PeriodId, summary.PartyId, snapshotSeq)),
			Period:               result.Period,
			PartyId:              summary.PartyId,
			PartyType:            summary.PartyType,
			Bucket:               summary.PartyType,
			FlowSummary:          summary,
			SettlementTotal:      totalsByBucket[summary.PartyType],
			Status:               result.Status,
			Discrepancies:        assigned,
			CreatedTimestamp:     createdTs,
			PreviousSnapshotHash: prevHash,
		}
		snap.Checksum = checksumSnapshot(snap)
		snapshots = append(snapshots, snap)
		prevHash = snap.Checksum
		snapshotSeq++
	}

	return snapshots, nil
}

func snapshotIdFor(periodId ids.PeriodId, partyId ids.PartyId, seq int) string {
	return string(periodId) + ":" + string(partyId) + ":" + itoa(seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func checksumSnapshot(s models.SettlementSnapshot) string {
	flowIds := make(canonical.Slice, len(s.FlowSummary.FlowIds))
	for i, f := range s.FlowSummary.FlowIds {
		flowIds[i] = string(f)
	}
	obj := canonical.Object{
		"periodId":             string(s.Period.PeriodId),
		"partyId":              string(s.PartyId),
		"partyType":            string(s.PartyType),
		"bucket":               string(s.Bucket),
		"totalIn":              s.FlowSummary.TotalIn,
		"totalOut":             s.FlowSummary.TotalOut,
		"netReference":         s.FlowSummary.NetReference,
		"flowIds":              flowIds,
		"totalRakeIn":          s.SettlementTotal.TotalRakeIn,
		"totalAdjustIn":        s.SettlementTotal.TotalAdjustIn,
		"totalAdjustOut":       s.SettlementTotal.TotalAdjustOut,
		"netSettlement":        s.SettlementTotal.NetSettlement,
		"status":               string(s.Status),
		"createdTimestamp":     s.CreatedTimestamp,
		"previousSnapshotHash": s.PreviousSnapshotHash,
	}
	return canonical.Checksum(settlementSnapshotTag, obj)
}

// VerifySnapshotChecksum recomputes a single snapshot's checksum.
func VerifySnapshotChecksum(s models.SettlementSnapshot) error {
	if checksumSnapshot(s) != s.Checksum {
		return ledgererrors.New(ledgererrors.CodeChecksumMismatch,
			"snapshot checksum does not recompute",
			map[string]any{"snapshotId": string(s.SnapshotId)})
	}
	return nil
}

// VerifySnapshotChain checks that the first snapshot's PreviousSnapshotHash
// is the genesis hash and that every subsequent snapshot's
// PreviousSnapshotHash equals its predecessor's Checksum.
func VerifySnapshotChain(snapshots []models.SettlementSnapshot) error {
	for i, s := range snapshots {
		if err := VerifySnapshotChecksum(s); err != nil {
			return err
		}
		if i == 0 {
			if s.PreviousSnapshotHash != canonical.Genesis {
				return ledgererrors.New(ledgererrors.CodeChecksumMismatch,
					"first snapshot in chain must anchor to the genesis hash",
					map[string]any{"snapshotId": string(s.SnapshotId)})
			}
			continue
		}
		if s.PreviousSnapshotHash != snapshots[i-1].Checksum {
			return ledgererrors.New(ledgererrors.CodeChecksumMismatch,
				"broken snapshot chain linkage",
				map[string]any{"index": i, "snapshotId": string(s.SnapshotId)})
		}
	}
	return nil
}
