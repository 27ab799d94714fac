package audit

import (
	"testing"

	"github.com/rawblock/ledgercore/internal/flowregistry"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/internal/recharge"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

type fakeAttributions struct {
	byFlow map[ids.FlowId][]models.Party
}

func (f fakeAttributions) PartiesForFlow(flowId ids.FlowId) []models.Party {
	return f.byFlow[flowId]
}

func setupFlows(t *testing.T) *flowregistry.FlowRegistry {
	t.Helper()
	fr := flowregistry.New()
	_, err := fr.AppendFlow(models.AppendFlowInput{
		FlowId: ids.FlowId("f1"), SessionId: ids.SessionId("s1"),
		Party: models.Party{PartyId: ids.PartyId("club1"), PartyType: models.PartyTypeClub},
		Type:  models.FlowTypeBuyInRef, Direction: models.DirectionIn, Amount: 500, InjectedTimestamp: 1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fr.ConfirmFlow(ids.FlowId("f1"), 1001); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = fr.AppendFlow(models.AppendFlowInput{
		FlowId: ids.FlowId("f2"), SessionId: ids.SessionId("s1"),
		Party: models.Party{PartyId: ids.PartyId("club2"), PartyType: models.PartyTypeClub},
		Type:  models.FlowTypeBuyInRef, Direction: models.DirectionIn, Amount: 250, InjectedTimestamp: 1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return fr
}

func TestRunAuditSession(t *testing.T) {
	period := models.Period{PeriodId: ids.PeriodId("p1"), StartTs: 1, EndTs: 2000}

	t.Run("matched flow has no flags and MATCHED status", func(t *testing.T) {
		fr := setupFlows(t)
		rr := recharge.New()
		rr.AppendRecharge(models.AppendRechargeInput{RechargeId: ids.RechargeId("r1"), PartyId: ids.PartyId("club1"), ReferenceAmount: 500, DeclaredTs: 999})
		rr.ConfirmRecharge(ids.RechargeId("r1"), 1000)
		rr.CreateRechargeLink(models.CreateRechargeLinkInput{
			LinkId: ids.LinkId("l1"), RechargeId: ids.RechargeId("r1"),
			LinkedFlowIds: []ids.FlowId{ids.FlowId("f1")}, LinkedTimestamp: 1001,
		}, fr)

		attrs := fakeAttributions{byFlow: map[ids.FlowId][]models.Party{
			ids.FlowId("f1"): {{PartyId: ids.PartyId("club1"), PartyType: models.PartyTypeClub}},
		}}

		summary, err := RunAuditSession(ids.AuditSessionId("sess1"), period, fr, rr, attrs, 2000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var f1Row *models.AuditRow
		for i, row := range summary.Rows {
			if row.FlowId == ids.FlowId("f1") {
				f1Row = &summary.Rows[i]
			}
		}
		if f1Row == nil {
			t.Fatalf("expected a row for f1")
		}
		if f1Row.AuditStatus != models.AuditStatusMatched {
			t.Fatalf("expected MATCHED, got %s", f1Row.AuditStatus)
		}
		if len(f1Row.Flags) != 0 {
			t.Fatalf("expected no flags, got %v", f1Row.Flags)
		}
	})

	t.Run("flow with no recharge and no attribution is ORPHAN", func(t *testing.T) {
		fr := setupFlows(t)
		rr := recharge.New()
		attrs := fakeAttributions{byFlow: map[ids.FlowId][]models.Party{}}

		summary, err := RunAuditSession(ids.AuditSessionId("sess2"), period, fr, rr, attrs, 2000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, row := range summary.Rows {
			if row.FlowId == ids.FlowId("f2") {
				if row.AuditStatus != models.AuditStatusOrphan {
					t.Fatalf("expected ORPHAN, got %s", row.AuditStatus)
				}
				hasFlag := func(f models.AuditFlag) bool {
					for _, x := range row.Flags {
						if x == f {
							return true
						}
					}
					return false
				}
				if !hasFlag(models.FlagFlowNoRecharge) || !hasFlag(models.FlagFlowNoAttribution) {
					t.Fatalf("expected FLOW_NO_RECHARGE and FLOW_NO_ATTRIBUTION, got %v", row.Flags)
				}
			}
		}
	})

	t.Run("flow with an unconfirmed recharge link is MISSING", func(t *testing.T) {
		fr := setupFlows(t)
		rr := recharge.New()
		rr.AppendRecharge(models.AppendRechargeInput{RechargeId: ids.RechargeId("r1"), PartyId: ids.PartyId("club2"), ReferenceAmount: 250, DeclaredTs: 999})
		rr.CreateRechargeLink(models.CreateRechargeLinkInput{
			LinkId: ids.LinkId("l1"), RechargeId: ids.RechargeId("r1"),
			LinkedFlowIds: []ids.FlowId{ids.FlowId("f2")}, LinkedTimestamp: 1001,
		}, fr)
		attrs := fakeAttributions{byFlow: map[ids.FlowId][]models.Party{
			ids.FlowId("f2"): {{PartyId: ids.PartyId("club2"), PartyType: models.PartyTypeClub}},
		}}

		summary, err := RunAuditSession(ids.AuditSessionId("sess5"), period, fr, rr, attrs, 2000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, row := range summary.Rows {
			if row.FlowId == ids.FlowId("f2") {
				if row.AuditStatus != models.AuditStatusMissing {
					t.Fatalf("expected MISSING for an unconfirmed recharge link, got %s", row.AuditStatus)
				}
			}
		}
	})

	t.Run("flow resolving to multiple links is flagged", func(t *testing.T) {
		fr := setupFlows(t)
		rr := recharge.New()
		rr.AppendRecharge(models.AppendRechargeInput{RechargeId: ids.RechargeId("r1"), PartyId: ids.PartyId("club1"), DeclaredTs: 999})
		rr.AppendRecharge(models.AppendRechargeInput{RechargeId: ids.RechargeId("r2"), PartyId: ids.PartyId("club1"), DeclaredTs: 999})
		rr.CreateRechargeLink(models.CreateRechargeLinkInput{
			LinkId: ids.LinkId("l1"), RechargeId: ids.RechargeId("r1"),
			LinkedFlowIds: []ids.FlowId{ids.FlowId("f1")}, LinkedTimestamp: 1001,
		}, fr)
		rr.CreateRechargeLink(models.CreateRechargeLinkInput{
			LinkId: ids.LinkId("l2"), RechargeId: ids.RechargeId("r2"),
			LinkedFlowIds: []ids.FlowId{ids.FlowId("f1")}, LinkedTimestamp: 1002,
		}, fr)

		attrs := fakeAttributions{byFlow: map[ids.FlowId][]models.Party{
			ids.FlowId("f1"): {{PartyId: ids.PartyId("club1"), PartyType: models.PartyTypeClub}},
		}}

		summary, err := RunAuditSession(ids.AuditSessionId("sess3"), period, fr, rr, attrs, 2000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		found := false
		for _, row := range summary.Rows {
			if row.FlowId == ids.FlowId("f1") {
				for _, f := range row.Flags {
					if f == models.FlagMultipleAttributions {
						found = true
					}
				}
			}
		}
		if !found {
			t.Fatalf("expected MULTIPLE_ATTRIBUTIONS flag on f1")
		}
	})

	t.Run("orphan recharge with no linked flow is listed, not rowed", func(t *testing.T) {
		fr := flowregistry.New()
		rr := recharge.New()
		rr.AppendRecharge(models.AppendRechargeInput{RechargeId: ids.RechargeId("r9"), PartyId: ids.PartyId("club9"), DeclaredTs: 1000})
		attrs := fakeAttributions{byFlow: map[ids.FlowId][]models.Party{}}

		summary, err := RunAuditSession(ids.AuditSessionId("sess4"), period, fr, rr, attrs, 2000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(summary.OrphanRecharges) != 1 || summary.OrphanRecharges[0] != ids.RechargeId("r9") {
			t.Fatalf("expected r9 in OrphanRecharges, got %v", summary.OrphanRecharges)
		}
		if summary.CountsByFlag[models.FlagRechargeNoFlow] != 1 {
			t.Fatalf("expected RECHARGE_NO_FLOW counted once, got %d", summary.CountsByFlag[models.FlagRechargeNoFlow])
		}
		if summary.Passed {
			t.Fatalf("expected passed=false with an unlinked recharge in scope")
		}
		for _, row := range summary.Rows {
			if row.FlowId == "" {
				t.Fatalf("expected no row with a zero-value flowId, got %+v", row)
			}
		}
	})

	t.Run("rejects empty sessionId", func(t *testing.T) {
		fr := flowregistry.New()
		rr := recharge.New()
		attrs := fakeAttributions{}
		_, err := RunAuditSession(ids.AuditSessionId(""), period, fr, rr, attrs, 2000)
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidSessionId) {
			t.Fatalf("expected CodeInvalidSessionId, got %v", err)
		}
	})

	t.Run("rejects a forbidden concept in sessionId", func(t *testing.T) {
		fr := flowregistry.New()
		rr := recharge.New()
		attrs := fakeAttributions{}
		_, err := RunAuditSession(ids.AuditSessionId("payout-session"), period, fr, rr, attrs, 2000)
		if !ledgererrors.Is(err, ledgererrors.CodeForbiddenConcept) {
			t.Fatalf("expected CodeForbiddenConcept, got %v", err)
		}
	})

	t.Run("rejects a malformed period", func(t *testing.T) {
		fr := flowregistry.New()
		rr := recharge.New()
		attrs := fakeAttributions{}
		bad := models.Period{PeriodId: ids.PeriodId("badp"), StartTs: 2000, EndTs: 1000}
		_, err := RunAuditSession(ids.AuditSessionId("sess6"), bad, fr, rr, attrs, 2000)
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidPeriod) {
			t.Fatalf("expected CodeInvalidPeriod, got %v", err)
		}
	})

	t.Run("deterministic checksum across identical runs", func(t *testing.T) {
		fr := setupFlows(t)
		rr := recharge.New()
		attrs := fakeAttributions{byFlow: map[ids.FlowId][]models.Party{}}
		s1, _ := RunAuditSession(ids.AuditSessionId("sessA"), period, fr, rr, attrs, 2000)
		s2, _ := RunAuditSession(ids.AuditSessionId("sessA"), period, fr, rr, attrs, 2000)
		if s1.Checksum != s2.Checksum {
			t.Fatalf("expected identical checksums, got %s vs %s", s1.Checksum, s2.Checksum)
		}
	})
}
