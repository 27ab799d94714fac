package flowregistry

import (
	"testing"

	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

func sampleInput(flowId ids.FlowId) models.AppendFlowInput {
	return models.AppendFlowInput{
		FlowId:            flowId,
		SessionId:         ids.SessionId("s1"),
		Party:             models.Party{PartyId: ids.PartyId("club1"), PartyType: models.PartyTypeClub},
		Type:              models.FlowTypeBuyInRef,
		Direction:         models.DirectionIn,
		Amount:            1000,
		InjectedTimestamp: 1000,
	}
}

func TestAppendFlow(t *testing.T) {
	t.Run("appends and rejects duplicate flowId", func(t *testing.T) {
		r := New()
		if _, err := r.AppendFlow(sampleInput(ids.FlowId("f1"))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err := r.AppendFlow(sampleInput(ids.FlowId("f1")))
		if !ledgererrors.Is(err, ledgererrors.CodeDuplicateFlowId) {
			t.Fatalf("expected CodeDuplicateFlowId, got %v", err)
		}
	})

	t.Run("rejects non-positive injectedTimestamp", func(t *testing.T) {
		r := New()
		input := sampleInput(ids.FlowId("f1"))
		input.InjectedTimestamp = 0
		_, err := r.AppendFlow(input)
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidTimestamp) {
			t.Fatalf("expected CodeInvalidTimestamp, got %v", err)
		}
	})

	t.Run("rejects forbidden concepts in description", func(t *testing.T) {
		r := New()
		input := sampleInput(ids.FlowId("f1"))
		input.Description = "player withdraw via wallet"
		_, err := r.AppendFlow(input)
		if !ledgererrors.Is(err, ledgererrors.CodeForbiddenConcept) {
			t.Fatalf("expected CodeForbiddenConcept, got %v", err)
		}
	})

	t.Run("rejects forbidden concepts in metadata values", func(t *testing.T) {
		r := New()
		input := sampleInput(ids.FlowId("f1"))
		input.Metadata = map[string]string{"note": "balance transfer"}
		_, err := r.AppendFlow(input)
		if !ledgererrors.Is(err, ledgererrors.CodeForbiddenConcept) {
			t.Fatalf("expected CodeForbiddenConcept, got %v", err)
		}
	})

	t.Run("does not mutate registry on validation failure", func(t *testing.T) {
		r := New()
		input := sampleInput(ids.FlowId("f1"))
		input.InjectedTimestamp = -1
		r.AppendFlow(input)
		if _, err := r.GetFlow(ids.FlowId("f1")); !ledgererrors.Is(err, ledgererrors.CodeFlowNotFound) {
			t.Fatalf("expected no record to have been appended")
		}
	})
}

func TestFlowTransitions(t *testing.T) {
	t.Run("legal PENDING->CONFIRMED->VOID chain", func(t *testing.T) {
		r := New()
		r.AppendFlow(sampleInput(ids.FlowId("f1")))
		if _, err := r.ConfirmFlow(ids.FlowId("f1"), 1001); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := r.VoidFlow(ids.FlowId("f1"), 1002); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rec, err := r.GetFlow(ids.FlowId("f1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Status != models.FlowStatusVoid {
			t.Fatalf("expected VOID, got %s", rec.Status)
		}
	})

	t.Run("rejects VOID->CONFIRMED", func(t *testing.T) {
		r := New()
		r.AppendFlow(sampleInput(ids.FlowId("f1")))
		r.VoidFlow(ids.FlowId("f1"), 1001)
		_, err := r.ConfirmFlow(ids.FlowId("f1"), 1002)
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidStatusTransition) {
			t.Fatalf("expected CodeInvalidStatusTransition, got %v", err)
		}
	})

	t.Run("rejects transition on unknown flowId", func(t *testing.T) {
		r := New()
		_, err := r.ConfirmFlow(ids.FlowId("ghost"), 1000)
		if !ledgererrors.Is(err, ledgererrors.CodeFlowNotFound) {
			t.Fatalf("expected CodeFlowNotFound, got %v", err)
		}
	})
}

func TestGetters(t *testing.T) {
	r := New()
	r.AppendFlow(sampleInput(ids.FlowId("f2")))
	r.AppendFlow(sampleInput(ids.FlowId("f1")))
	r.ConfirmFlow(ids.FlowId("f1"), 1001)

	t.Run("GetEffectiveRecords is sorted by flowId and latest revision", func(t *testing.T) {
		out := r.GetEffectiveRecords()
		if len(out) != 2 {
			t.Fatalf("expected 2 records, got %d", len(out))
		}
		if out[0].FlowId != ids.FlowId("f1") || out[1].FlowId != ids.FlowId("f2") {
			t.Fatalf("expected ascending flowId order, got %v, %v", out[0].FlowId, out[1].FlowId)
		}
		if out[0].Status != models.FlowStatusConfirmed {
			t.Fatalf("expected f1's effective record to be CONFIRMED, got %s", out[0].Status)
		}
	})

	t.Run("GetAllRecords includes every revision in append order", func(t *testing.T) {
		out := r.GetAllRecords()
		if len(out) != 3 {
			t.Fatalf("expected 3 raw records (2 appends + 1 confirm), got %d", len(out))
		}
	})

	t.Run("GetRecordsByParty filters by partyId", func(t *testing.T) {
		out := r.GetRecordsByParty(ids.PartyId("club1"))
		if len(out) != 3 {
			t.Fatalf("expected 3 records for club1, got %d", len(out))
		}
	})

	t.Run("GetRecordsByTimeWindow is inclusive on both ends", func(t *testing.T) {
		out := r.GetRecordsByTimeWindow(1000, 1000)
		if len(out) != 2 {
			t.Fatalf("expected both flows at ts=1000, got %d", len(out))
		}
	})
}

func TestVerifyIntegrity(t *testing.T) {
	t.Run("passes for an untouched registry", func(t *testing.T) {
		r := New()
		r.AppendFlow(sampleInput(ids.FlowId("f1")))
		r.ConfirmFlow(ids.FlowId("f1"), 1001)
		if err := r.VerifyIntegrity(); err != nil {
			t.Fatalf("unexpected integrity failure: %v", err)
		}
	})

	t.Run("detects a tampered record", func(t *testing.T) {
		r := New()
		r.AppendFlow(sampleInput(ids.FlowId("f1")))
		r.records[0].Amount = 999999
		err := r.VerifyIntegrity()
		if !ledgererrors.Is(err, ledgererrors.CodeChecksumMismatch) {
			t.Fatalf("expected CodeChecksumMismatch, got %v", err)
		}
	})
}

func TestDeterministicChecksums(t *testing.T) {
	r1 := New()
	r1.AppendFlow(sampleInput(ids.FlowId("f1")))
	c1 := r1.GetLastChecksum()

	r2 := New()
	r2.AppendFlow(sampleInput(ids.FlowId("f1")))
	c2 := r2.GetLastChecksum()

	if c1 != c2 {
		t.Fatalf("expected identical checksums for identical inputs, got %s vs %s", c1, c2)
	}
}
