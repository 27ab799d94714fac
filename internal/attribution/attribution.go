// Package attribution implements the pure basis-points allocation engine
// described in spec section 4.3 (component C3). Every exported function is
// a pure function of its arguments: no internal state, no clock, entirely
// integer math. EntryId values are derived deterministically from their
// inputs (caller prefix, flow id, index) rather than randomly generated, so
// that two calls with identical arguments produce byte-identical results —
// spec testable properties 1 and 12 require that.
package attribution

import (
	"sort"
	"sync"

	"github.com/rawblock/ledgercore/internal/canonical"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

const (
	flowAttributionTag = "attr_"
	snapshotTag        = "asnap_"
)

// CreateAttributionRuleSet validates and freezes a rule set: between 1 and
// MaxRulesPerSet rules, each with an integer BasisPoints in [0, 10000],
// summing to exactly 10000.
func CreateAttributionRuleSet(ruleSetId ids.RuleSetId, rules []models.AttributionRule, createdAt int64, label string) (*models.AttributionRuleSet, error) {
	if len(rules) == 0 || len(rules) > models.MaxRulesPerSet {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidRuleSetTotal,
			"rule set must contain between 1 and MAX_RULES_PER_SET rules",
			map[string]any{"count": len(rules), "max": models.MaxRulesPerSet})
	}

	total := 0
	for _, r := range rules {
		if r.BasisPoints < 0 || r.BasisPoints > 10000 {
			return nil, ledgererrors.New(ledgererrors.CodeInvalidBasisPoints,
				"basisPoints must be an integer in [0, 10000]",
				map[string]any{"partyId": string(r.PartyId), "basisPoints": r.BasisPoints})
		}
		total += r.BasisPoints
	}
	if total != 10000 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidRuleSetTotal,
			"sum of rule basisPoints must equal 10000",
			map[string]any{"total": total})
	}

	frozen := make([]models.AttributionRule, len(rules))
	copy(frozen, rules)
	for i := range frozen {
		frozen[i].RuleSetId = ruleSetId
	}

	return &models.AttributionRuleSet{
		RuleSetId:        ruleSetId,
		Rules:            frozen,
		TotalBasisPoints: total,
		CreatedAt:        createdAt,
		Label:            label,
	}, nil
}

// AttributeFlow splits amount across ruleSet's rules, in rule order, by
// floor(amount * basisPoints / 10000), with any flooring remainder folded
// into the first entry (platform, by rule-set convention). prefix seeds
// the deterministic EntryId for each entry.
func AttributeFlow(flowId ids.FlowId, amount uint64, ruleSet models.AttributionRuleSet, prefix string) (*models.FlowAttributionResult, error) {
	entries := make([]models.AttributionEntry, len(ruleSet.Rules))
	var allocated uint64
	for i, rule := range ruleSet.Rules {
		share := (amount * uint64(rule.BasisPoints)) / 10000
		entries[i] = models.AttributionEntry{
			EntryId:            ids.EntryId(entryIdFor(prefix, flowId, i)),
			PartyId:            rule.PartyId,
			PartyType:          rule.PartyType,
			Amount:             share,
			SourceFlowId:       flowId,
			RuleSetId:          ruleSet.RuleSetId,
			AppliedBasisPoints: rule.BasisPoints,
			OriginalAmount:     amount,
		}
		allocated += share
	}

	remainder := amount - allocated
	if remainder > 0 && len(entries) > 0 {
		entries[0].Amount += remainder
	}

	var totalAttributed uint64
	for _, e := range entries {
		totalAttributed += e.Amount
	}
	if totalAttributed != amount {
		return nil, ledgererrors.New(ledgererrors.CodeAmountMismatch,
			"sum of attribution entries does not equal the original amount",
			map[string]any{"flowId": string(flowId), "amount": amount, "totalAttributed": totalAttributed})
	}

	return &models.FlowAttributionResult{
		SourceFlowId:    flowId,
		OriginalAmount:  amount,
		Entries:         entries,
		TotalAttributed: totalAttributed,
		Remainder:       0,
	}, nil
}

func entryIdFor(prefix string, flowId ids.FlowId, index int) string {
	return prefix + ":" + string(flowId) + ":" + itoa(index)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// ValidateHierarchyIsDAG walks every node's parent chain and rejects a
// cycle (HierarchyCycleDetected) or a chain longer than
// MaxHierarchyDepth (InvalidHierarchyLevel).
func ValidateHierarchyIsDAG(nodes []models.AgentHierarchyNode) error {
	byId := make(map[ids.PartyId]models.AgentHierarchyNode, len(nodes))
	for _, n := range nodes {
		if _, exists := byId[n.AgentId]; exists {
			return ledgererrors.New(ledgererrors.CodeDuplicateAgent,
				"duplicate agentId in hierarchy", map[string]any{"agentId": string(n.AgentId)})
		}
		byId[n.AgentId] = n
	}

	for _, n := range nodes {
		visited := map[ids.PartyId]bool{n.AgentId: true}
		current := n
		depth := 0
		for current.ParentAgentId != nil {
			depth++
			if depth > models.MaxHierarchyDepth {
				return ledgererrors.New(ledgererrors.CodeInvalidHierarchyLevel,
					"agent parent chain exceeds MAX_HIERARCHY_DEPTH",
					map[string]any{"agentId": string(n.AgentId)})
			}
			parent, ok := byId[*current.ParentAgentId]
			if !ok {
				return ledgererrors.New(ledgererrors.CodeParentAgentNotFound,
					"parentAgentId not found in hierarchy",
					map[string]any{"agentId": string(current.AgentId), "parentAgentId": string(*current.ParentAgentId)})
			}
			if visited[parent.AgentId] {
				return ledgererrors.New(ledgererrors.CodeHierarchyCycleDetected,
					"agent hierarchy contains a cycle",
					map[string]any{"agentId": string(n.AgentId)})
			}
			visited[parent.AgentId] = true
			current = parent
		}
	}
	return nil
}

// AttributeToAgentHierarchy resolves leafAgentId's chain to its root and
// distributes agentAmount across the chain by each ancestor's
// ShareBasisPoints (evaluated against the leaf's allocation), entering
// entries leaf-to-root with any leaf remainder assigned to the leaf.
func AttributeToAgentHierarchy(flowId ids.FlowId, agentAmount uint64, hierarchy models.AgentHierarchy, leafAgentId ids.PartyId, ruleSetId ids.RuleSetId, prefix string) ([]models.AttributionEntry, error) {
	if err := ValidateHierarchyIsDAG(hierarchy.Nodes); err != nil {
		return nil, err
	}

	byId := make(map[ids.PartyId]models.AgentHierarchyNode, len(hierarchy.Nodes))
	for _, n := range hierarchy.Nodes {
		byId[n.AgentId] = n
	}

	leaf, ok := byId[leafAgentId]
	if !ok {
		return nil, ledgererrors.New(ledgererrors.CodeParentAgentNotFound,
			"leafAgentId not found in hierarchy", map[string]any{"agentId": string(leafAgentId)})
	}

	var chain []models.AgentHierarchyNode
	current := leaf
	chain = append(chain, current)
	for current.ParentAgentId != nil {
		current = byId[*current.ParentAgentId]
		chain = append(chain, current)
	}

	entries := make([]models.AttributionEntry, len(chain))
	var allocated uint64
	for i, node := range chain {
		share := (agentAmount * uint64(node.ShareBasisPoints)) / 10000
		entries[i] = models.AttributionEntry{
			EntryId:            ids.EntryId(entryIdFor(prefix, flowId, i)),
			PartyId:            node.AgentId,
			PartyType:          models.PartyTypeAgent,
			Amount:             share,
			SourceFlowId:       flowId,
			RuleSetId:          ruleSetId,
			AppliedBasisPoints: node.ShareBasisPoints,
			OriginalAmount:     agentAmount,
		}
		allocated += share
	}

	remainder := agentAmount - allocated
	if remainder > 0 && len(entries) > 0 {
		entries[0].Amount += remainder
	}

	return entries, nil
}

// AttributePeriod attributes every flow in flowAmounts (flowId -> amount),
// in ascending flowId order, against ruleSet, aggregating totals and counts
// into a frozen PeriodAttributionResult. It sees only ids and amounts: flow
// status is not checked, so pending or void flows present in flowAmounts
// are attributed like any other.
func AttributePeriod(period models.Period, flowAmounts map[ids.FlowId]uint64, ruleSet models.AttributionRuleSet, prefix string) (*models.PeriodAttributionResult, error) {
	flowIds := make([]ids.FlowId, 0, len(flowAmounts))
	for f := range flowAmounts {
		flowIds = append(flowIds, f)
	}
	sort.Slice(flowIds, func(i, j int) bool { return flowIds[i] < flowIds[j] })

	flowResults := make([]models.FlowAttributionResult, 0, len(flowIds))
	var totalOriginal, totalAttributed uint64
	for _, flowId := range flowIds {
		amount := flowAmounts[flowId]
		fr, err := AttributeFlow(flowId, amount, ruleSet, prefix)
		if err != nil {
			return nil, err
		}
		flowResults = append(flowResults, *fr)
		totalOriginal += fr.OriginalAmount
		totalAttributed += fr.TotalAttributed
	}

	if totalAttributed != totalOriginal {
		return nil, ledgererrors.New(ledgererrors.CodeAmountMismatch,
			"period-level attribution does not conserve total amount",
			map[string]any{"totalOriginal": totalOriginal, "totalAttributed": totalAttributed})
	}

	result := &models.PeriodAttributionResult{
		Period:          period,
		RuleSetId:       ruleSet.RuleSetId,
		FlowResults:     flowResults,
		TotalOriginal:   totalOriginal,
		TotalAttributed: totalAttributed,
		FlowCount:       len(flowResults),
	}
	result.Checksum = checksumPeriodResult(result)
	return result, nil
}

func checksumPeriodResult(r *models.PeriodAttributionResult) string {
	frs := make(canonical.Slice, len(r.FlowResults))
	for i, fr := range r.FlowResults {
		entries := make(canonical.Slice, len(fr.Entries))
		for j, e := range fr.Entries {
			entries[j] = canonical.Object{
				"entryId":            string(e.EntryId),
				"partyId":            string(e.PartyId),
				"partyType":          string(e.PartyType),
				"amount":             e.Amount,
				"appliedBasisPoints": e.AppliedBasisPoints,
			}
		}
		frs[i] = canonical.Object{
			"sourceFlowId":    string(fr.SourceFlowId),
			"originalAmount":  fr.OriginalAmount,
			"entries":         entries,
			"totalAttributed": fr.TotalAttributed,
		}
	}
	obj := canonical.Object{
		"periodId":        string(r.Period.PeriodId),
		"ruleSetId":       string(r.RuleSetId),
		"flowResults":     frs,
		"totalOriginal":   r.TotalOriginal,
		"totalAttributed": r.TotalAttributed,
		"flowCount":       r.FlowCount,
	}
	return canonical.Checksum(flowAttributionTag, obj)
}

// CreateSnapshotFromAttribution flattens periodResult's entries and builds
// per-party and per-party-type summaries sorted by partyType then
// partyId, producing a frozen, hash-chained AttributionSnapshot.
func CreateSnapshotFromAttribution(periodResult *models.PeriodAttributionResult, previousHash string, createdAt int64, hierarchyId *ids.HierarchyId) (*models.AttributionSnapshot, error) {
	if createdAt <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"createdAt must be a positive integer", nil)
	}
	if previousHash == "" {
		previousHash = canonical.Genesis
	}

	var allEntries []models.AttributionEntry
	for _, fr := range periodResult.FlowResults {
		allEntries = append(allEntries, fr.Entries...)
	}

	partyTotals := make(map[ids.PartyId]*models.PartyAttributionSummary)
	partyTypeTotals := make(map[models.PartyType]*models.PartyTypeAttributionSummary)
	for _, e := range allEntries {
		pt, ok := partyTotals[e.PartyId]
		if !ok {
			pt = &models.PartyAttributionSummary{PartyId: e.PartyId, PartyType: e.PartyType}
			partyTotals[e.PartyId] = pt
		}
		pt.Total += e.Amount
		pt.EntryCount++

		ptt, ok := partyTypeTotals[e.PartyType]
		if !ok {
			ptt = &models.PartyTypeAttributionSummary{PartyType: e.PartyType}
			partyTypeTotals[e.PartyType] = ptt
		}
		ptt.Total += e.Amount
		ptt.EntryCount++
	}

	partySummaries := make([]models.PartyAttributionSummary, 0, len(partyTotals))
	for _, pt := range partyTotals {
		partySummaries = append(partySummaries, *pt)
	}
	sort.Slice(partySummaries, func(i, j int) bool {
		if partySummaries[i].PartyType != partySummaries[j].PartyType {
			return partySummaries[i].PartyType < partySummaries[j].PartyType
		}
		return partySummaries[i].PartyId < partySummaries[j].PartyId
	})

	partyTypeSummaries := make([]models.PartyTypeAttributionSummary, 0, len(partyTypeTotals))
	for _, ptt := range partyTypeTotals {
		partyTypeSummaries = append(partyTypeSummaries, *ptt)
	}
	sort.Slice(partyTypeSummaries, func(i, j int) bool { return partyTypeSummaries[i].PartyType < partyTypeSummaries[j].PartyType })

	sort.Slice(allEntries, func(i, j int) bool { return allEntries[i].EntryId < allEntries[j].EntryId })

	snap := &models.AttributionSnapshot{
		SnapshotId:         ids.SnapshotId(string(periodResult.Period.PeriodId) + ":" + string(periodResult.RuleSetId)),
		Period:             periodResult.Period,
		RuleSetId:          periodResult.RuleSetId,
		HierarchyId:        hierarchyId,
		Entries:            allEntries,
		PartySummaries:     partySummaries,
		PartyTypeSummaries: partyTypeSummaries,
		CreatedTimestamp:   createdAt,
		PreviousHash:       previousHash,
	}
	snap.Checksum = checksumSnapshot(snap)
	return snap, nil
}

// Registry is a small in-memory lookup of frozen rule sets and hierarchies
// by id, mirroring the teacher's map-of-value-by-id manager shape: the
// core engine functions above all take a rule set or hierarchy value
// directly, but a realistic caller needs somewhere to keep the ones it has
// built between calls.
type Registry struct {
	mu          sync.Mutex
	ruleSets    map[ids.RuleSetId]models.AttributionRuleSet
	hierarchies map[ids.HierarchyId]models.AgentHierarchy
}

// NewRegistry returns an empty rule-set/hierarchy registry.
func NewRegistry() *Registry {
	return &Registry{
		ruleSets:    make(map[ids.RuleSetId]models.AttributionRuleSet),
		hierarchies: make(map[ids.HierarchyId]models.AgentHierarchy),
	}
}

// PutRuleSet stores ruleSet under its own RuleSetId, overwriting any
// previous rule set with that id.
func (r *Registry) PutRuleSet(ruleSet models.AttributionRuleSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ruleSets[ruleSet.RuleSetId] = ruleSet
}

// GetRuleSet looks up a previously stored rule set by id.
func (r *Registry) GetRuleSet(ruleSetId ids.RuleSetId) (*models.AttributionRuleSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.ruleSets[ruleSetId]
	if !ok {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidRuleSetTotal,
			"ruleSetId not found in registry", map[string]any{"ruleSetId": string(ruleSetId)})
	}
	return &rs, nil
}

// PutHierarchy validates hierarchy as a DAG and stores it under its own
// HierarchyId, overwriting any previous hierarchy with that id.
func (r *Registry) PutHierarchy(hierarchy models.AgentHierarchy) error {
	if err := ValidateHierarchyIsDAG(hierarchy.Nodes); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hierarchies[hierarchy.HierarchyId] = hierarchy
	return nil
}

// GetHierarchy looks up a previously stored hierarchy by id.
func (r *Registry) GetHierarchy(hierarchyId ids.HierarchyId) (*models.AgentHierarchy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hierarchies[hierarchyId]
	if !ok {
		return nil, ledgererrors.New(ledgererrors.CodeParentAgentNotFound,
			"hierarchyId not found in registry", map[string]any{"hierarchyId": string(hierarchyId)})
	}
	return &h, nil
}

func checksumSnapshot(s *models.AttributionSnapshot) string {
	entries := make(canonical.Slice, len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = canonical.Object{
			"entryId":   string(e.EntryId),
			"partyId":   string(e.PartyId),
			"partyType": string(e.PartyType),
			"amount":    e.Amount,
		}
	}
	partySummaries := make(canonical.Slice, len(s.PartySummaries))
	for i, p := range s.PartySummaries {
		partySummaries[i] = canonical.Object{
			"partyId":    string(p.PartyId),
			"partyType":  string(p.PartyType),
			"total":      p.Total,
			"entryCount": p.EntryCount,
		}
	}
	obj := canonical.Object{
		"periodId":       string(s.Period.PeriodId),
		"ruleSetId":      string(s.RuleSetId),
		"entries":        entries,
		"partySummaries": partySummaries,
		"previousHash":   s.PreviousHash,
		"createdTimestamp": s.CreatedTimestamp,
	}
	return canonical.Checksum(snapshotTag, obj)
}
