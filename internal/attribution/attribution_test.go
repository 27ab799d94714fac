package attribution

import (
	"testing"

	"github.com/rawblock/ledgercore/internal/canonical"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

func threeWayRuleSet() models.AttributionRuleSet {
	rs, err := CreateAttributionRuleSet(ids.RuleSetId("rs1"), []models.AttributionRule{
		{PartyId: ids.PartyId("platform"), PartyType: models.PartyTypePlatform, BasisPoints: 5000},
		{PartyId: ids.PartyId("club1"), PartyType: models.PartyTypeClub, BasisPoints: 3000},
		{PartyId: ids.PartyId("agent1"), PartyType: models.PartyTypeAgent, BasisPoints: 2000},
	}, 1000, "three way")
	if err != nil {
		panic(err)
	}
	return *rs
}

func TestCreateAttributionRuleSet(t *testing.T) {
	t.Run("valid total", func(t *testing.T) {
		rs := threeWayRuleSet()
		if rs.TotalBasisPoints != 10000 {
			t.Fatalf("expected total 10000, got %d", rs.TotalBasisPoints)
		}
	})

	t.Run("rejects total != 10000", func(t *testing.T) {
		_, err := CreateAttributionRuleSet(ids.RuleSetId("bad"), []models.AttributionRule{
			{PartyId: ids.PartyId("p1"), BasisPoints: 4000},
		}, 1000, "")
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidRuleSetTotal) {
			t.Fatalf("expected CodeInvalidRuleSetTotal, got %v", err)
		}
	})

	t.Run("rejects out-of-range basis points", func(t *testing.T) {
		_, err := CreateAttributionRuleSet(ids.RuleSetId("bad"), []models.AttributionRule{
			{PartyId: ids.PartyId("p1"), BasisPoints: 10001},
		}, 1000, "")
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidBasisPoints) {
			t.Fatalf("expected CodeInvalidBasisPoints, got %v", err)
		}
	})

	t.Run("rejects empty rule list", func(t *testing.T) {
		_, err := CreateAttributionRuleSet(ids.RuleSetId("empty"), nil, 1000, "")
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidRuleSetTotal) {
			t.Fatalf("expected CodeInvalidRuleSetTotal, got %v", err)
		}
	})

	t.Run("rejects more than MaxRulesPerSet rules", func(t *testing.T) {
		rules := make([]models.AttributionRule, models.MaxRulesPerSet+1)
		for i := range rules {
			rules[i] = models.AttributionRule{PartyId: ids.PartyId("p"), BasisPoints: 0}
		}
		_, err := CreateAttributionRuleSet(ids.RuleSetId("too-many"), rules, 1000, "")
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidRuleSetTotal) {
			t.Fatalf("expected CodeInvalidRuleSetTotal, got %v", err)
		}
	})
}

func TestAttributeFlow(t *testing.T) {
	rs := threeWayRuleSet()

	t.Run("exact division conserves amount", func(t *testing.T) {
		result, err := AttributeFlow(ids.FlowId("f1"), 10000, rs, "p")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.TotalAttributed != 10000 {
			t.Fatalf("expected totalAttributed 10000, got %d", result.TotalAttributed)
		}
		want := map[string]uint64{"platform": 5000, "club1": 3000, "agent1": 2000}
		for _, e := range result.Entries {
			if e.Amount != want[string(e.PartyId)] {
				t.Fatalf("party %s: expected %d, got %d", e.PartyId, want[string(e.PartyId)], e.Amount)
			}
		}
	})

	t.Run("flooring remainder folds into first entry", func(t *testing.T) {
		result, err := AttributeFlow(ids.FlowId("f2"), 7, rs, "p")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.TotalAttributed != 7 {
			t.Fatalf("expected conservation of original amount 7, got %d", result.TotalAttributed)
		}
		// floor(7*5000/10000)=3, floor(7*3000/10000)=2, floor(7*2000/10000)=1, sum=6, remainder=1 -> first entry
		if result.Entries[0].Amount != 4 {
			t.Fatalf("expected first entry to absorb remainder (4), got %d", result.Entries[0].Amount)
		}
		if result.Entries[1].Amount != 2 || result.Entries[2].Amount != 1 {
			t.Fatalf("unexpected non-first shares: %+v", result.Entries)
		}
	})

	t.Run("deterministic across repeated calls", func(t *testing.T) {
		r1, _ := AttributeFlow(ids.FlowId("f3"), 12345, rs, "p")
		r2, _ := AttributeFlow(ids.FlowId("f3"), 12345, rs, "p")
		for i := range r1.Entries {
			if r1.Entries[i].EntryId != r2.Entries[i].EntryId {
				t.Fatalf("entry ids diverged across identical calls: %v vs %v", r1.Entries[i].EntryId, r2.Entries[i].EntryId)
			}
			if r1.Entries[i].Amount != r2.Entries[i].Amount {
				t.Fatalf("amounts diverged across identical calls")
			}
		}
	})

	t.Run("zero amount yields zero shares", func(t *testing.T) {
		result, err := AttributeFlow(ids.FlowId("f4"), 0, rs, "p")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, e := range result.Entries {
			if e.Amount != 0 {
				t.Fatalf("expected zero share, got %d", e.Amount)
			}
		}
	})
}

func TestValidateHierarchyIsDAG(t *testing.T) {
	root := ids.PartyId("root")
	mid := ids.PartyId("mid")

	t.Run("accepts a valid chain", func(t *testing.T) {
		nodes := []models.AgentHierarchyNode{
			{AgentId: root, ShareBasisPoints: 10000},
			{AgentId: mid, ParentAgentId: &root, ShareBasisPoints: 5000},
		}
		if err := ValidateHierarchyIsDAG(nodes); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects a cycle", func(t *testing.T) {
		a := ids.PartyId("a")
		b := ids.PartyId("b")
		nodes := []models.AgentHierarchyNode{
			{AgentId: a, ParentAgentId: &b},
			{AgentId: b, ParentAgentId: &a},
		}
		err := ValidateHierarchyIsDAG(nodes)
		if !ledgererrors.Is(err, ledgererrors.CodeHierarchyCycleDetected) {
			t.Fatalf("expected CodeHierarchyCycleDetected, got %v", err)
		}
	})

	t.Run("rejects a chain deeper than MaxHierarchyDepth", func(t *testing.T) {
		var nodes []models.AgentHierarchyNode
		var parent *ids.PartyId
		for i := 0; i <= models.MaxHierarchyDepth+1; i++ {
			id := ids.PartyId(itoa(i))
			nodes = append(nodes, models.AgentHierarchyNode{AgentId: id, ParentAgentId: parent})
			p := id
			parent = &p
		}
		err := ValidateHierarchyIsDAG(nodes)
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidHierarchyLevel) {
			t.Fatalf("expected CodeInvalidHierarchyLevel, got %v", err)
		}
	})

	t.Run("rejects duplicate agent ids", func(t *testing.T) {
		nodes := []models.AgentHierarchyNode{
			{AgentId: root},
			{AgentId: root},
		}
		err := ValidateHierarchyIsDAG(nodes)
		if !ledgererrors.Is(err, ledgererrors.CodeDuplicateAgent) {
			t.Fatalf("expected CodeDuplicateAgent, got %v", err)
		}
	})

	t.Run("rejects a missing parent reference", func(t *testing.T) {
		ghost := ids.PartyId("ghost")
		nodes := []models.AgentHierarchyNode{
			{AgentId: ids.PartyId("a"), ParentAgentId: &ghost},
		}
		err := ValidateHierarchyIsDAG(nodes)
		if !ledgererrors.Is(err, ledgererrors.CodeParentAgentNotFound) {
			t.Fatalf("expected CodeParentAgentNotFound, got %v", err)
		}
	})
}

func TestAttributeToAgentHierarchy(t *testing.T) {
	root := ids.PartyId("root")
	leaf := ids.PartyId("leaf")
	hierarchy := models.AgentHierarchy{
		HierarchyId: ids.HierarchyId("h1"),
		Nodes: []models.AgentHierarchyNode{
			{AgentId: root, ShareBasisPoints: 10000},
			{AgentId: leaf, ParentAgentId: &root, ShareBasisPoints: 4000},
		},
	}

	t.Run("splits agentAmount up the chain conserving total", func(t *testing.T) {
		entries, err := AttributeToAgentHierarchy(ids.FlowId("f1"), 1000, hierarchy, leaf, ids.RuleSetId("rs1"), "h")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var total uint64
		for _, e := range entries {
			total += e.Amount
		}
		if total != 1000 {
			t.Fatalf("expected conserved total 1000, got %d", total)
		}
	})

	t.Run("rejects unknown leaf agent", func(t *testing.T) {
		_, err := AttributeToAgentHierarchy(ids.FlowId("f1"), 1000, hierarchy, ids.PartyId("nope"), ids.RuleSetId("rs1"), "h")
		if !ledgererrors.Is(err, ledgererrors.CodeParentAgentNotFound) {
			t.Fatalf("expected CodeParentAgentNotFound, got %v", err)
		}
	})
}

func TestAttributePeriod(t *testing.T) {
	rs := threeWayRuleSet()
	period := models.Period{PeriodId: ids.PeriodId("p1"), StartTs: 1, EndTs: 100}

	t.Run("aggregates and conserves across flows", func(t *testing.T) {
		amounts := map[ids.FlowId]uint64{
			ids.FlowId("f1"): 10000,
			ids.FlowId("f2"): 7,
		}
		result, err := AttributePeriod(period, amounts, rs, "p")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.TotalOriginal != 10007 || result.TotalAttributed != 10007 {
			t.Fatalf("expected conservation of 10007, got original=%d attributed=%d", result.TotalOriginal, result.TotalAttributed)
		}
		if result.Checksum == "" {
			t.Fatalf("expected non-empty checksum")
		}
	})

	t.Run("deterministic checksum across repeated calls", func(t *testing.T) {
		amounts := map[ids.FlowId]uint64{ids.FlowId("f1"): 999}
		r1, _ := AttributePeriod(period, amounts, rs, "p")
		r2, _ := AttributePeriod(period, amounts, rs, "p")
		if r1.Checksum != r2.Checksum {
			t.Fatalf("expected identical checksums, got %s vs %s", r1.Checksum, r2.Checksum)
		}
	})
}

func TestRegistry(t *testing.T) {
	t.Run("round-trips a rule set", func(t *testing.T) {
		reg := NewRegistry()
		rs := threeWayRuleSet()
		reg.PutRuleSet(rs)
		got, err := reg.GetRuleSet(rs.RuleSetId)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.RuleSetId != rs.RuleSetId {
			t.Fatalf("expected %s, got %s", rs.RuleSetId, got.RuleSetId)
		}
	})

	t.Run("rejects a cyclic hierarchy", func(t *testing.T) {
		reg := NewRegistry()
		a, b := ids.PartyId("a"), ids.PartyId("b")
		hierarchy := models.AgentHierarchy{
			HierarchyId: ids.HierarchyId("h1"),
			Nodes: []models.AgentHierarchyNode{
				{AgentId: a, ParentAgentId: &b},
				{AgentId: b, ParentAgentId: &a},
			},
		}
		if err := reg.PutHierarchy(hierarchy); !ledgererrors.Is(err, ledgererrors.CodeHierarchyCycleDetected) {
			t.Fatalf("expected CodeHierarchyCycleDetected, got %v", err)
		}
	})
}

func TestCreateSnapshotFromAttribution(t *testing.T) {
	rs := threeWayRuleSet()
	period := models.Period{PeriodId: ids.PeriodId("p1"), StartTs: 1, EndTs: 100}
	amounts := map[ids.FlowId]uint64{ids.FlowId("f1"): 10000}
	periodResult, err := AttributePeriod(period, amounts, rs, "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("defaults previousHash to genesis", func(t *testing.T) {
		snap, err := CreateSnapshotFromAttribution(periodResult, "", 1000, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if snap.PreviousHash != canonical.Genesis {
			t.Fatalf("expected previousHash to default to genesis %q, got %q", canonical.Genesis, snap.PreviousHash)
		}
	})

	t.Run("rejects non-positive createdAt", func(t *testing.T) {
		_, err := CreateSnapshotFromAttribution(periodResult, "", 0, nil)
		if !ledgererrors.Is(err, ledgererrors.CodeInvalidTimestamp) {
			t.Fatalf("expected CodeInvalidTimestamp, got %v", err)
		}
	})

	t.Run("party summaries conserve the period total", func(t *testing.T) {
		snap, err := CreateSnapshotFromAttribution(periodResult, "", 1000, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var total uint64
		for _, p := range snap.PartySummaries {
			total += p.Total
		}
		if total != periodResult.TotalAttributed {
			t.Fatalf("expected party summaries to conserve %d, got %d", periodResult.TotalAttributed, total)
		}
	})
}
