// Package recharge implements the append-only recharge log and the pure
// reference-link registry described in spec section 4.4 (component C4). A
// recharge is a declared external reference value; a link ties a recharge
// to the flows it accounts for without moving any value itself.
//
// Both registries follow the same single-writer-mutex discipline as
// internal/flowregistry, modeled on the teacher's heuristics.InvestigationManager.
package recharge

import (
	"sort"
	"sync"

	"github.com/rawblock/ledgercore/internal/canonical"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

const (
	rechargeChecksumTag = "rchg_"
	linkChecksumTag     = "link_"
)

// Registry is the append-only recharge log plus its derived link index.
// Zero value is not usable; construct with New.
type Registry struct {
	mu              sync.Mutex
	records         []models.RechargeRecord
	latestByRecharge map[ids.RechargeId]int
	lastChecksum    string

	links             map[ids.LinkId]models.RechargeLink
	linksByRecharge   map[ids.RechargeId][]ids.LinkId
	linksByFlow       map[ids.FlowId][]ids.LinkId
}

// New returns an empty recharge registry.
func New() *Registry {
	return &Registry{
		latestByRecharge: make(map[ids.RechargeId]int),
		lastChecksum:     canonical.Genesis,
		links:            make(map[ids.LinkId]models.RechargeLink),
		linksByRecharge:  make(map[ids.RechargeId][]ids.LinkId),
		linksByFlow:      make(map[ids.FlowId][]ids.LinkId),
	}
}

// AppendRecharge validates and appends a new recharge lineage in DECLARED
// status. It fails with CodeDuplicateRechargeId or CodeInvalidTimestamp
// without mutating the registry.
func (r *Registry) AppendRecharge(input models.AppendRechargeInput) (*models.AppendResult, error) {
	if input.DeclaredTs <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"declaredTs must be a positive integer", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.latestByRecharge[input.RechargeId]; exists {
		return nil, ledgererrors.New(ledgererrors.CodeDuplicateRechargeId,
			"rechargeId already exists in registry", map[string]any{"rechargeId": string(input.RechargeId)})
	}

	rec := models.RechargeRecord{
		RechargeId:          input.RechargeId,
		Source:              input.Source,
		Status:              models.RechargeStatusDeclared,
		PartyId:             input.PartyId,
		ReferenceAmount:     input.ReferenceAmount,
		ExternalReferenceId: input.ExternalReferenceId,
		Sequence:            uint64(len(r.records)),
		DeclaredTs:          input.DeclaredTs,
		PreviousChecksum:    r.lastChecksum,
	}
	rec.Checksum = checksumRecharge(rec)

	r.records = append(r.records, rec)
	r.latestByRecharge[rec.RechargeId] = len(r.records) - 1
	r.lastChecksum = rec.Checksum

	return &models.AppendResult{Sequence: rec.Sequence, Checksum: rec.Checksum}, nil
}

// ConfirmRecharge transitions a recharge from DECLARED to CONFIRMED by
// appending a new record for the same RechargeId.
func (r *Registry) ConfirmRecharge(rechargeId ids.RechargeId, ts int64) (*models.AppendResult, error) {
	return r.transition(rechargeId, ts, models.RechargeStatusConfirmed)
}

// VoidRecharge transitions a recharge to VOIDED (from either DECLARED or
// CONFIRMED) by appending a new record for the same RechargeId.
func (r *Registry) VoidRecharge(rechargeId ids.RechargeId, ts int64) (*models.AppendResult, error) {
	return r.transition(rechargeId, ts, models.RechargeStatusVoided)
}

func (r *Registry) transition(rechargeId ids.RechargeId, ts int64, target models.RechargeStatus) (*models.AppendResult, error) {
	if ts <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"timestamp must be a positive integer", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, exists := r.latestByRecharge[rechargeId]
	if !exists {
		return nil, ledgererrors.New(ledgererrors.CodeRechargeNotFound,
			"rechargeId not found in registry", map[string]any{"rechargeId": string(rechargeId)})
	}
	current := r.records[idx]

	if !isLegalTransition(current.Status, target) {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidStatusTransition,
			"illegal recharge status transition",
			map[string]any{"from": string(current.Status), "to": string(target)})
	}

	next := current
	next.Status = target
	next.Sequence = uint64(len(r.records))
	next.PreviousChecksum = r.lastChecksum
	switch target {
	case models.RechargeStatusConfirmed:
		next.ConfirmedTs = &ts
	case models.RechargeStatusVoided:
		next.VoidedTs = &ts
	}
	next.Checksum = checksumRecharge(next)

	r.records = append(r.records, next)
	r.latestByRecharge[rechargeId] = len(r.records) - 1
	r.lastChecksum = next.Checksum

	return &models.AppendResult{Sequence: next.Sequence, Checksum: next.Checksum}, nil
}

func isLegalTransition(from, to models.RechargeStatus) bool {
	switch {
	case from == models.RechargeStatusDeclared && to == models.RechargeStatusConfirmed:
		return true
	case from == models.RechargeStatusDeclared && to == models.RechargeStatusVoided:
		return true
	case from == models.RechargeStatusConfirmed && to == models.RechargeStatusVoided:
		return true
	default:
		return false
	}
}

// GetRecharge returns the effective (latest-sequence) record for rechargeId.
func (r *Registry) GetRecharge(rechargeId ids.RechargeId) (*models.RechargeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, exists := r.latestByRecharge[rechargeId]
	if !exists {
		return nil, ledgererrors.New(ledgererrors.CodeRechargeNotFound,
			"rechargeId not found in registry", map[string]any{"rechargeId": string(rechargeId)})
	}
	rec := r.records[idx]
	return &rec, nil
}

// GetEffectiveRecords returns the latest record per RechargeId, ordered by
// ascending RechargeId for deterministic downstream iteration.
func (r *Registry) GetEffectiveRecords() []models.RechargeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RechargeRecord, 0, len(r.latestByRecharge))
	for _, idx := range r.latestByRecharge {
		out = append(out, r.records[idx])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RechargeId < out[j].RechargeId })
	return out
}

// GetLastChecksum returns the checksum of the most recently appended
// recharge record, or the genesis hash if the registry is empty.
func (r *Registry) GetLastChecksum() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastChecksum
}

// VerifyIntegrity recomputes every recharge record's checksum and checks
// chain linkage, returning the first broken invariant it finds (if any).
func (r *Registry) VerifyIntegrity() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := canonical.Genesis
	for i, rec := range r.records {
		if rec.PreviousChecksum != prev {
			return ledgererrors.New(ledgererrors.CodeChecksumMismatch,
				"broken hash chain linkage",
				map[string]any{"sequence": i, "expectedPrevious": prev, "actualPrevious": rec.PreviousChecksum})
		}
		withoutChecksum := rec
		withoutChecksum.Checksum = ""
		if checksumRecharge(withoutChecksum) != rec.Checksum {
			return ledgererrors.New(ledgererrors.CodeChecksumMismatch,
				"recharge checksum does not recompute",
				map[string]any{"sequence": i, "rechargeId": string(rec.RechargeId)})
		}
		prev = rec.Checksum
	}
	return nil
}

func checksumRecharge(rec models.RechargeRecord) string {
	var extRef string
	if rec.ExternalReferenceId != nil {
		extRef = string(*rec.ExternalReferenceId)
	}
	obj := canonical.Object{
		"rechargeId":          string(rec.RechargeId),
		"source":              string(rec.Source),
		"status":              string(rec.Status),
		"partyId":             string(rec.PartyId),
		"referenceAmount":     rec.ReferenceAmount,
		"externalReferenceId": extRef,
		"sequence":            rec.Sequence,
		"declaredTs":          rec.DeclaredTs,
		"previousChecksum":    rec.PreviousChecksum,
	}
	return canonical.Checksum(rechargeChecksumTag, obj)
}

// AppendLink appends a caller-built link as-is, with no verification of its
// LinkedFlowIds or LinkedReferenceTotal against the flow registry. It fails
// with CodeDuplicateLinkId, CodeRechargeNotFound, or CodeInvalidTimestamp
// without mutating the index. Most callers should prefer the safe variant
// CreateRechargeLink, which computes LinkedReferenceTotal from verified
// flows instead of trusting the caller's figure.
func (r *Registry) AppendLink(link models.RechargeLink) (*models.RechargeLink, error) {
	if link.LinkedTimestamp <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"linkedTimestamp must be a positive integer", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.links[link.LinkId]; exists {
		return nil, ledgererrors.New(ledgererrors.CodeDuplicateLinkId,
			"linkId already exists in registry", map[string]any{"linkId": string(link.LinkId)})
	}
	if _, exists := r.latestByRecharge[link.RechargeId]; !exists {
		return nil, ledgererrors.New(ledgererrors.CodeRechargeNotFound,
			"rechargeId not found in registry", map[string]any{"rechargeId": string(link.RechargeId)})
	}

	link.LinkedFlowIds = append([]ids.FlowId(nil), link.LinkedFlowIds...)
	link.Checksum = checksumLink(link)

	r.links[link.LinkId] = link
	r.linksByRecharge[link.RechargeId] = append(r.linksByRecharge[link.RechargeId], link.LinkId)
	for _, flowId := range link.LinkedFlowIds {
		r.linksByFlow[flowId] = append(r.linksByFlow[flowId], link.LinkId)
	}

	return &link, nil
}

// FlowAmountLookup resolves a flow's effective amount, for CreateRechargeLink
// to verify and total the flows a caller wants to link. Implemented by
// *flowregistry.FlowRegistry.
type FlowAmountLookup interface {
	GetFlow(flowId ids.FlowId) (*models.FlowRecord, error)
}

// CreateRechargeLink verifies every flow in input against flows, computes
// LinkedReferenceTotal as the sum of their effective amounts, and appends
// the link to the registry's link index. It fails with CodeDuplicateLinkId,
// CodeFlowNotFound, or CodeInvalidTimestamp without mutating the index.
func (r *Registry) CreateRechargeLink(input models.CreateRechargeLinkInput, flows FlowAmountLookup) (*models.RechargeLink, error) {
	if input.LinkedTimestamp <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"linkedTimestamp must be a positive integer", nil)
	}

	var total uint64
	for _, flowId := range input.LinkedFlowIds {
		rec, err := flows.GetFlow(flowId)
		if err != nil {
			return nil, err
		}
		total += rec.Amount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.links[input.LinkId]; exists {
		return nil, ledgererrors.New(ledgererrors.CodeDuplicateLinkId,
			"linkId already exists in registry", map[string]any{"linkId": string(input.LinkId)})
	}
	if _, exists := r.latestByRecharge[input.RechargeId]; !exists {
		return nil, ledgererrors.New(ledgererrors.CodeRechargeNotFound,
			"rechargeId not found in registry", map[string]any{"rechargeId": string(input.RechargeId)})
	}

	link := models.RechargeLink{
		LinkId:               input.LinkId,
		RechargeId:            input.RechargeId,
		LinkedFlowIds:        append([]ids.FlowId(nil), input.LinkedFlowIds...),
		LinkedReferenceTotal: total,
		LinkedTimestamp:      input.LinkedTimestamp,
	}
	link.Checksum = checksumLink(link)

	r.links[link.LinkId] = link
	r.linksByRecharge[link.RechargeId] = append(r.linksByRecharge[link.RechargeId], link.LinkId)
	for _, flowId := range link.LinkedFlowIds {
		r.linksByFlow[flowId] = append(r.linksByFlow[flowId], link.LinkId)
	}

	return &link, nil
}

func checksumLink(l models.RechargeLink) string {
	flowIds := make(canonical.Slice, len(l.LinkedFlowIds))
	for i, f := range l.LinkedFlowIds {
		flowIds[i] = string(f)
	}
	obj := canonical.Object{
		"linkId":               string(l.LinkId),
		"rechargeId":           string(l.RechargeId),
		"linkedFlowIds":        flowIds,
		"linkedReferenceTotal": l.LinkedReferenceTotal,
		"linkedTimestamp":      l.LinkedTimestamp,
	}
	return canonical.Checksum(linkChecksumTag, obj)
}

// TraceRechargeToFlows returns every link recorded against rechargeId, in
// ascending LinkId order.
func (r *Registry) TraceRechargeToFlows(rechargeId ids.RechargeId) []models.RechargeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linksFor(r.linksByRecharge[rechargeId])
}

// TraceFlowToRecharges returns every link that includes flowId, in
// ascending LinkId order.
func (r *Registry) TraceFlowToRecharges(flowId ids.FlowId) []models.RechargeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linksFor(r.linksByFlow[flowId])
}

func (r *Registry) linksFor(linkIds []ids.LinkId) []models.RechargeLink {
	out := make([]models.RechargeLink, 0, len(linkIds))
	for _, id := range linkIds {
		out = append(out, r.links[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkId < out[j].LinkId })
	return out
}
