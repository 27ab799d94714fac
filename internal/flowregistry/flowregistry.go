// Package flowregistry implements the append-only, hash-chained flow log
// described in spec section 4.1 (component C1). It is the single source
// of flow references every downstream engine reads from; nothing in this
// package mutates a record once it has been appended.
//
// The single-writer-lock discipline follows the same shape as the
// teacher's heuristics.InvestigationManager: one mutex guards the whole
// struct, writers take it for the full append, and no reader is ever
// handed a record whose checksum has not yet been computed.
package flowregistry

import (
	"sort"
	"sync"

	"github.com/rawblock/ledgercore/internal/canonical"
	"github.com/rawblock/ledgercore/internal/guard"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

// checksumTag prefixes every flow-record checksum, per spec section 9's
// module-tag convention.
const checksumTag = "flow_"

// FlowRegistry is the append-only log of flow records. Zero value is not
// usable; construct with New.
type FlowRegistry struct {
	mu           sync.Mutex
	records      []models.FlowRecord     // append order == sequence order
	latestByFlow map[ids.FlowId]int      // flowId -> index of latest record
	lastChecksum string
}

// New returns an empty flow registry.
func New() *FlowRegistry {
	return &FlowRegistry{
		latestByFlow: make(map[ids.FlowId]int),
		lastChecksum: canonical.Genesis,
	}
}

// AppendFlow validates and appends a new flow lineage. It fails with
// CodeForbiddenConcept, CodeInvalidTimestamp, or CodeDuplicateFlowId without
// mutating the registry. Amount is a uint64, so no amount check is made here.
func (r *FlowRegistry) AppendFlow(input models.AppendFlowInput) (*models.AppendResult, error) {
	if err := guard.AssertNoForbiddenConcepts("description", input.Description); err != nil {
		return nil, err
	}
	for k, v := range input.Metadata {
		if err := guard.AssertNoForbiddenConcepts("metadata."+k, v); err != nil {
			return nil, err
		}
	}
	if input.InjectedTimestamp <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"injectedTimestamp must be a positive integer", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.latestByFlow[input.FlowId]; exists {
		return nil, ledgererrors.New(ledgererrors.CodeDuplicateFlowId,
			"flowId already exists in registry", map[string]any{"flowId": string(input.FlowId)})
	}

	rec := models.FlowRecord{
		FlowId:            input.FlowId,
		SessionId:         input.SessionId,
		Party:             input.Party,
		Type:              input.Type,
		Direction:         input.Direction,
		Amount:            input.Amount,
		Status:            models.FlowStatusPending,
		InjectedTimestamp: input.InjectedTimestamp,
		Sequence:          uint64(len(r.records)),
		PreviousChecksum:  r.lastChecksum,
		Description:       input.Description,
		Metadata:          input.Metadata,
	}
	rec.Checksum = checksumRecord(rec)

	r.records = append(r.records, rec)
	r.latestByFlow[rec.FlowId] = len(r.records) - 1
	r.lastChecksum = rec.Checksum

	return &models.AppendResult{Sequence: rec.Sequence, Checksum: rec.Checksum}, nil
}

// ConfirmFlow transitions a flow from PENDING to CONFIRMED by appending a
// new record for the same FlowId.
func (r *FlowRegistry) ConfirmFlow(flowId ids.FlowId, ts int64) (*models.AppendResult, error) {
	return r.transition(flowId, ts, models.FlowStatusConfirmed)
}

// VoidFlow transitions a flow to VOID (from either PENDING or CONFIRMED)
// by appending a new record for the same FlowId.
func (r *FlowRegistry) VoidFlow(flowId ids.FlowId, ts int64) (*models.AppendResult, error) {
	return r.transition(flowId, ts, models.FlowStatusVoid)
}

func (r *FlowRegistry) transition(flowId ids.FlowId, ts int64, target models.FlowStatus) (*models.AppendResult, error) {
	if ts <= 0 {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidTimestamp,
			"timestamp must be a positive integer", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx, exists := r.latestByFlow[flowId]
	if !exists {
		return nil, ledgererrors.New(ledgererrors.CodeFlowNotFound,
			"flowId not found in registry", map[string]any{"flowId": string(flowId)})
	}
	current := r.records[idx]

	if !isLegalTransition(current.Status, target) {
		return nil, ledgererrors.New(ledgererrors.CodeInvalidStatusTransition,
			"illegal flow status transition",
			map[string]any{"from": string(current.Status), "to": string(target)})
	}

	next := current
	next.Status = target
	next.Sequence = uint64(len(r.records))
	next.PreviousChecksum = r.lastChecksum
	next.Checksum = checksumRecord(next)

	r.records = append(r.records, next)
	r.latestByFlow[flowId] = len(r.records) - 1
	r.lastChecksum = next.Checksum

	return &models.AppendResult{Sequence: next.Sequence, Checksum: next.Checksum}, nil
}

func isLegalTransition(from, to models.FlowStatus) bool {
	switch {
	case from == models.FlowStatusPending && to == models.FlowStatusConfirmed:
		return true
	case from == models.FlowStatusPending && to == models.FlowStatusVoid:
		return true
	case from == models.FlowStatusConfirmed && to == models.FlowStatusVoid:
		return true
	default:
		return false
	}
}

// GetFlow returns the effective (latest-sequence) record for flowId.
func (r *FlowRegistry) GetFlow(flowId ids.FlowId) (*models.FlowRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, exists := r.latestByFlow[flowId]
	if !exists {
		return nil, ledgererrors.New(ledgererrors.CodeFlowNotFound,
			"flowId not found in registry", map[string]any{"flowId": string(flowId)})
	}
	rec := r.records[idx]
	return &rec, nil
}

// GetAllRecords returns the raw log in append (sequence) order. The
// returned slice is a copy; mutating it does not affect the registry.
func (r *FlowRegistry) GetAllRecords() []models.FlowRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.FlowRecord, len(r.records))
	copy(out, r.records)
	return out
}

// GetEffectiveRecords returns the latest record per FlowId, ordered by
// ascending FlowId for deterministic downstream iteration.
func (r *FlowRegistry) GetEffectiveRecords() []models.FlowRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.FlowRecord, 0, len(r.latestByFlow))
	for _, idx := range r.latestByFlow {
		out = append(out, r.records[idx])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowId < out[j].FlowId })
	return out
}

// GetRecordsByParty returns every raw record (all revisions) recorded
// against partyId, in sequence order.
func (r *FlowRegistry) GetRecordsByParty(partyId ids.PartyId) []models.FlowRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FlowRecord
	for _, rec := range r.records {
		if rec.Party.PartyId == partyId {
			out = append(out, rec)
		}
	}
	return out
}

// GetRecordsBySession returns every raw record originating from
// sessionId, in sequence order. This is the registry's "by source"
// accessor: a flow's source is the ingestion session that produced it.
func (r *FlowRegistry) GetRecordsBySession(sessionId ids.SessionId) []models.FlowRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FlowRecord
	for _, rec := range r.records {
		if rec.SessionId == sessionId {
			out = append(out, rec)
		}
	}
	return out
}

// GetRecordsByTimeWindow returns the effective record per FlowId whose
// InjectedTimestamp falls in [start, end] inclusive on both ends, ordered
// by ascending FlowId.
func (r *FlowRegistry) GetRecordsByTimeWindow(start, end int64) []models.FlowRecord {
	effective := r.GetEffectiveRecords()
	var out []models.FlowRecord
	for _, rec := range effective {
		if rec.InjectedTimestamp >= start && rec.InjectedTimestamp <= end {
			out = append(out, rec)
		}
	}
	return out
}

// GetLastChecksum returns the checksum of the most recently appended
// record, or the genesis hash if the registry is empty.
func (r *FlowRegistry) GetLastChecksum() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastChecksum
}

// VerifyIntegrity recomputes every record's checksum and checks chain
// linkage, returning the first broken invariant it finds (if any).
func (r *FlowRegistry) VerifyIntegrity() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := canonical.Genesis
	for i, rec := range r.records {
		if rec.PreviousChecksum != prev {
			return ledgererrors.New(ledgererrors.CodeChecksumMismatch,
				"broken hash chain linkage",
				map[string]any{"sequence": i, "expectedPrevious": prev, "actualPrevious": rec.PreviousChecksum})
		}
		recomputed := checksumRecord(withoutChecksum(rec))
		if recomputed != rec.Checksum {
			return ledgererrors.New(ledgererrors.CodeChecksumMismatch,
				"record checksum does not recompute",
				map[string]any{"sequence": i, "flowId": string(rec.FlowId)})
		}
		prev = rec.Checksum
	}
	return nil
}

// withoutChecksum returns rec with Checksum cleared, so checksumRecord can
// be used both to assign a fresh checksum and to independently recompute
// one for verification.
func withoutChecksum(rec models.FlowRecord) models.FlowRecord {
	rec.Checksum = ""
	return rec
}

func checksumRecord(rec models.FlowRecord) string {
	metadata := canonical.Object{}
	for k, v := range rec.Metadata {
		metadata[k] = v
	}
	obj := canonical.Object{
		"flowId":            string(rec.FlowId),
		"sessionId":         string(rec.SessionId),
		"partyId":           string(rec.Party.PartyId),
		"partyType":         string(rec.Party.PartyType),
		"type":              string(rec.Type),
		"direction":         string(rec.Direction),
		"amount":            rec.Amount,
		"status":            string(rec.Status),
		"injectedTimestamp": rec.InjectedTimestamp,
		"sequence":          rec.Sequence,
		"previousChecksum":  rec.PreviousChecksum,
		"description":       rec.Description,
		"metadata":          metadata,
	}
	return canonical.Checksum(checksumTag, obj)
}
