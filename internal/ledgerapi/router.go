// Package ledgerapi is the optional Gin HTTP shell around the ledger
// stack's core engines: a thin transport layer, never itself a source of
// truth. Every handler either reads from a registry, appends to one through
// its own API, or invokes a pure engine function and serializes the result;
// nothing here recomputes a checksum. The only state Handler keeps itself is
// the parties last attributed per flow and the tail hash of the last
// settlement snapshot chain it built.
package ledgerapi

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/ledgercore/internal/attribution"
	"github.com/rawblock/ledgercore/internal/audit"
	"github.com/rawblock/ledgercore/internal/flowregistry"
	"github.com/rawblock/ledgercore/internal/ledgererrors"
	"github.com/rawblock/ledgercore/internal/ledgerstore"
	"github.com/rawblock/ledgercore/internal/reconciliation"
	"github.com/rawblock/ledgercore/internal/recharge"
	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

// Handler wires the HTTP surface to the in-memory registries and engines.
type Handler struct {
	flows     *flowregistry.FlowRegistry
	recharges *recharge.Registry
	rules     *attribution.Registry
	wsHub     *Hub
	store     *ledgerstore.Store

	attrMu     sync.Mutex
	attrByFlow map[ids.FlowId][]models.Party

	snapMu           sync.Mutex
	lastSnapshotHash string
}

// NewHandler constructs a Handler over the given registries. store may be
// nil, in which case every Mirror* call becomes a no-op and the stack runs
// entirely in-memory.
func NewHandler(flows *flowregistry.FlowRegistry, recharges *recharge.Registry, rules *attribution.Registry, wsHub *Hub, store *ledgerstore.Store) *Handler {
	return &Handler{
		flows:      flows,
		recharges:  recharges,
		rules:      rules,
		wsHub:      wsHub,
		store:      store,
		attrByFlow: make(map[ids.FlowId][]models.Party),
	}
}

// mirrorFlow reloads flowId's effective record and writes it through to the
// Postgres mirror. Mirror failures are logged, never surfaced to the
// caller: the in-memory registry remains the system of record for the
// request's own response.
func (h *Handler) mirrorFlow(ctx context.Context, flowId ids.FlowId) {
	if h.store == nil {
		return
	}
	rec, err := h.flows.GetFlow(flowId)
	if err != nil {
		log.Printf("ledger mirror: could not reload flow %s: %v", flowId, err)
		return
	}
	if err := h.store.MirrorFlowRecord(ctx, *rec); err != nil {
		log.Printf("ledger mirror: flow %s: %v", flowId, err)
	}
}

// mirrorRecharge reloads rechargeId's effective record and writes it
// through to the Postgres mirror.
func (h *Handler) mirrorRecharge(ctx context.Context, rechargeId ids.RechargeId) {
	if h.store == nil {
		return
	}
	rec, err := h.recharges.GetRecharge(rechargeId)
	if err != nil {
		log.Printf("ledger mirror: could not reload recharge %s: %v", rechargeId, err)
		return
	}
	if err := h.store.MirrorRechargeRecord(ctx, *rec); err != nil {
		log.Printf("ledger mirror: recharge %s: %v", rechargeId, err)
	}
}

// mirrorLink writes a just-created recharge link through to the Postgres
// mirror.
func (h *Handler) mirrorLink(ctx context.Context, link models.RechargeLink) {
	if h.store == nil {
		return
	}
	if err := h.store.MirrorRechargeLink(ctx, link); err != nil {
		log.Printf("ledger mirror: link %s: %v", link.LinkId, err)
	}
}

// mirrorSnapshots writes a freshly created settlement snapshot chain
// through to the Postgres mirror and remembers the chain's tail checksum so
// the next call's snapshots anchor to it instead of restarting at genesis.
func (h *Handler) mirrorSnapshots(ctx context.Context, snapshots []models.SettlementSnapshot) {
	h.snapMu.Lock()
	defer h.snapMu.Unlock()
	for _, snap := range snapshots {
		if h.store != nil {
			if err := h.store.MirrorSettlementSnapshot(ctx, snap); err != nil {
				log.Printf("ledger mirror: snapshot %s: %v", snap.SnapshotId, err)
			}
		}
		h.lastSnapshotHash = snap.Checksum
	}
}

// recordAttribution remembers the parties a flow was last attributed to, so
// a later audit session run over HTTP can see them through PartiesForFlow.
// This is request-scoped bookkeeping on top of the core registries, not a
// new source of truth: attribute_flow remains a pure function, this just
// lets the HTTP layer recall its own past outputs.
func (h *Handler) recordAttribution(flowId ids.FlowId, entries []models.AttributionEntry) {
	parties := make([]models.Party, 0, len(entries))
	for _, e := range entries {
		parties = append(parties, models.Party{PartyId: e.PartyId, PartyType: e.PartyType})
	}
	h.attrMu.Lock()
	defer h.attrMu.Unlock()
	h.attrByFlow[flowId] = parties
}

// PartiesForFlow implements audit.AttributionSource by returning the parties
// most recently recorded for flowId via recordAttribution.
func (h *Handler) PartiesForFlow(flowId ids.FlowId) []models.Party {
	h.attrMu.Lock()
	defer h.attrMu.Unlock()
	return h.attrByFlow[flowId]
}

// correlationId stamps every inbound request with a fresh UUID for its log
// line. This is the one place in the whole module google/uuid may appear:
// every identifier inside the core packages must be caller-supplied or
// derived deterministically from inputs, never random, because a random id
// anywhere in a checksummed result would break the determinism testable
// property. An HTTP request's log correlation id is neither checksummed
// nor fed back into any core computation, so it carries no such constraint.
func correlationId() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("correlationId", uuid.New().String())
		c.Next()
	}
}

// SetupRouter wires the ledger API surface: read endpoints plus the POST
// endpoints that append flows, recharges, links and rule sets.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()
	r.Use(correlationId())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", h.handleHealth)
		v1.GET("/stream", h.wsHub.Subscribe)

		v1.GET("/flows/:flowId", h.handleGetFlow)
		v1.GET("/flows", h.handleListFlows)
		v1.POST("/flows", h.handleAppendFlow)
		v1.POST("/flows/:flowId/confirm", h.handleConfirmFlow)
		v1.POST("/flows/:flowId/void", h.handleVoidFlow)

		v1.POST("/recharges", h.handleAppendRecharge)
		v1.POST("/recharges/:rechargeId/confirm", h.handleConfirmRecharge)
		v1.POST("/recharges/:rechargeId/void", h.handleVoidRecharge)
		v1.POST("/recharges/:rechargeId/links", h.handleCreateRechargeLink)
		v1.GET("/recharges/:rechargeId/flows", h.handleTraceRechargeToFlows)
		v1.GET("/flows/:flowId/recharges", h.handleTraceFlowToRecharges)

		v1.POST("/reconciliation/periods", h.handleReconcilePeriod)

		v1.POST("/attribution/rule-sets", h.handleCreateRuleSet)
		v1.POST("/attribution/flows/:flowId", h.handleAttributeFlow)

		v1.POST("/audit/sessions", h.handleRunAuditSession)
	}

	return r
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"correlationId": c.GetString("correlationId"),
	})
}

func (h *Handler) handleGetFlow(c *gin.Context) {
	flowId := ids.FlowId(c.Param("flowId"))
	rec, err := h.flows.GetFlow(flowId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleListFlows(c *gin.Context) {
	if partyId := c.Query("partyId"); partyId != "" {
		c.JSON(http.StatusOK, h.flows.GetRecordsByParty(ids.PartyId(partyId)))
		return
	}
	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr != "" && endStr != "" {
		start, err1 := strconv.ParseInt(startStr, 10, 64)
		end, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start and end must be integers"})
			return
		}
		c.JSON(http.StatusOK, h.flows.GetRecordsByTimeWindow(start, end))
		return
	}
	c.JSON(http.StatusOK, h.flows.GetEffectiveRecords())
}

func (h *Handler) handleAppendFlow(c *gin.Context) {
	var req struct {
		FlowId            string            `json:"flowId"`
		SessionId         string            `json:"sessionId"`
		PartyId           string            `json:"partyId"`
		PartyType         string            `json:"partyType"`
		Type              string            `json:"type"`
		Direction         string            `json:"direction"`
		Amount            int64             `json:"amount"`
		InjectedTimestamp int64             `json:"injectedTimestamp"`
		Description       string            `json:"description"`
		Metadata          map[string]string `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Amount < 0 {
		respondError(c, ledgererrors.New(ledgererrors.CodeInvalidAmount,
			"amount must not be negative", map[string]any{"amount": req.Amount}))
		return
	}

	result, err := h.flows.AppendFlow(models.AppendFlowInput{
		FlowId:            ids.FlowId(req.FlowId),
		SessionId:         ids.SessionId(req.SessionId),
		Party:             models.Party{PartyId: ids.PartyId(req.PartyId), PartyType: models.PartyType(req.PartyType)},
		Type:              models.FlowType(req.Type),
		Direction:         models.Direction(req.Direction),
		Amount:            uint64(req.Amount),
		InjectedTimestamp: req.InjectedTimestamp,
		Description:       req.Description,
		Metadata:          req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.mirrorFlow(c.Request.Context(), ids.FlowId(req.FlowId))
	if h.wsHub != nil {
		h.wsHub.Broadcast([]byte(`{"event":"flow_appended","flowId":"` + req.FlowId + `"}`))
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) handleConfirmFlow(c *gin.Context) {
	h.transitionFlow(c, h.flows.ConfirmFlow)
}

func (h *Handler) handleVoidFlow(c *gin.Context) {
	h.transitionFlow(c, h.flows.VoidFlow)
}

func (h *Handler) transitionFlow(c *gin.Context, transition func(ids.FlowId, int64) (*models.AppendResult, error)) {
	var req struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	flowId := ids.FlowId(c.Param("flowId"))
	result, err := transition(flowId, req.Timestamp)
	if err != nil {
		respondError(c, err)
		return
	}
	h.mirrorFlow(c.Request.Context(), flowId)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleAppendRecharge(c *gin.Context) {
	var req struct {
		RechargeId          string `json:"rechargeId"`
		Source              string `json:"source"`
		PartyId             string `json:"partyId"`
		ReferenceAmount     int64  `json:"referenceAmount"`
		ExternalReferenceId string `json:"externalReferenceId"`
		DeclaredTs          int64  `json:"declaredTs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	input := models.AppendRechargeInput{
		RechargeId:      ids.RechargeId(req.RechargeId),
		Source:          models.RechargeSource(req.Source),
		PartyId:         ids.PartyId(req.PartyId),
		ReferenceAmount: uint64(req.ReferenceAmount),
		DeclaredTs:      req.DeclaredTs,
	}
	if req.ExternalReferenceId != "" {
		ref := ids.ExternalRefId(req.ExternalReferenceId)
		input.ExternalReferenceId = &ref
	}
	result, err := h.recharges.AppendRecharge(input)
	if err != nil {
		respondError(c, err)
		return
	}
	h.mirrorRecharge(c.Request.Context(), input.RechargeId)
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) handleConfirmRecharge(c *gin.Context) {
	h.transitionRecharge(c, h.recharges.ConfirmRecharge)
}

func (h *Handler) handleVoidRecharge(c *gin.Context) {
	h.transitionRecharge(c, h.recharges.VoidRecharge)
}

func (h *Handler) transitionRecharge(c *gin.Context, transition func(ids.RechargeId, int64) (*models.AppendResult, error)) {
	var req struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	rechargeId := ids.RechargeId(c.Param("rechargeId"))
	result, err := transition(rechargeId, req.Timestamp)
	if err != nil {
		respondError(c, err)
		return
	}
	h.mirrorRecharge(c.Request.Context(), rechargeId)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleCreateRechargeLink(c *gin.Context) {
	var req struct {
		LinkId          string        `json:"linkId"`
		LinkedFlowIds   []ids.FlowId  `json:"linkedFlowIds"`
		LinkedTimestamp int64         `json:"linkedTimestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	link, err := h.recharges.CreateRechargeLink(models.CreateRechargeLinkInput{
		LinkId:          ids.LinkId(req.LinkId),
		RechargeId:      ids.RechargeId(c.Param("rechargeId")),
		LinkedFlowIds:   req.LinkedFlowIds,
		LinkedTimestamp: req.LinkedTimestamp,
	}, h.flows)
	if err != nil {
		respondError(c, err)
		return
	}
	h.mirrorLink(c.Request.Context(), *link)
	c.JSON(http.StatusCreated, link)
}

func (h *Handler) handleTraceRechargeToFlows(c *gin.Context) {
	rechargeId := ids.RechargeId(c.Param("rechargeId"))
	c.JSON(http.StatusOK, h.recharges.TraceRechargeToFlows(rechargeId))
}

func (h *Handler) handleTraceFlowToRecharges(c *gin.Context) {
	flowId := ids.FlowId(c.Param("flowId"))
	c.JSON(http.StatusOK, h.recharges.TraceFlowToRecharges(flowId))
}

func (h *Handler) handleReconcilePeriod(c *gin.Context) {
	var req struct {
		models.Period
		CreatedTs int64 `json:"createdTs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := reconciliation.ReconcilePeriod(h.flows, req.Period)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.wsHub != nil && len(result.Discrepancies) > 0 {
		h.wsHub.Broadcast([]byte(`{"event":"discrepancies_found","periodId":"` + string(req.Period.PeriodId) + `"}`))
	}

	var snapshots []models.SettlementSnapshot
	if req.CreatedTs > 0 {
		h.snapMu.Lock()
		anchor := h.lastSnapshotHash
		h.snapMu.Unlock()
		snaps, err := reconciliation.CreateSnapshotsFromReconciliation(result, req.CreatedTs, anchor)
		if err != nil {
			respondError(c, err)
			return
		}
		h.mirrorSnapshots(c.Request.Context(), snaps)
		snapshots = snaps
	}

	c.JSON(http.StatusOK, gin.H{"reconciliation": result, "snapshots": snapshots})
}

func (h *Handler) handleCreateRuleSet(c *gin.Context) {
	var req struct {
		RuleSetId string                   `json:"ruleSetId"`
		Rules     []models.AttributionRule `json:"rules"`
		CreatedAt int64                    `json:"createdAt"`
		Label     string                   `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ruleSet, err := attribution.CreateAttributionRuleSet(ids.RuleSetId(req.RuleSetId), req.Rules, req.CreatedAt, req.Label)
	if err != nil {
		respondError(c, err)
		return
	}
	h.rules.PutRuleSet(*ruleSet)
	c.JSON(http.StatusCreated, ruleSet)
}

func (h *Handler) handleAttributeFlow(c *gin.Context) {
	flowId := ids.FlowId(c.Param("flowId"))
	var req struct {
		RuleSetId string `json:"ruleSetId"`
		Prefix    string `json:"prefix"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	flow, err := h.flows.GetFlow(flowId)
	if err != nil {
		respondError(c, err)
		return
	}
	ruleSet, err := h.rules.GetRuleSet(ids.RuleSetId(req.RuleSetId))
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := attribution.AttributeFlow(flowId, flow.Amount, *ruleSet, req.Prefix)
	if err != nil {
		respondError(c, err)
		return
	}
	h.recordAttribution(flowId, result.Entries)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) handleRunAuditSession(c *gin.Context) {
	var req struct {
		SessionId string       `json:"sessionId"`
		Period    models.Period `json:"period"`
		CreatedTs int64        `json:"createdTs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	summary, err := audit.RunAuditSession(ids.AuditSessionId(req.SessionId), req.Period, h.flows, h.recharges, h, req.CreatedTs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func respondError(c *gin.Context, err error) {
	le, ok := err.(*ledgererrors.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(statusForCode(le.Code), gin.H{"error": le.Message, "code": le.Code, "details": le.Details})
}

func statusForCode(code ledgererrors.Code) int {
	switch code {
	case ledgererrors.CodeFlowNotFound, ledgererrors.CodeRechargeNotFound, ledgererrors.CodeLinkNotFound,
		ledgererrors.CodeSnapshotNotFound, ledgererrors.CodeSessionNotFound, ledgererrors.CodeParentAgentNotFound:
		return http.StatusNotFound
	case ledgererrors.CodeDuplicateFlowId, ledgererrors.CodeDuplicateRechargeId, ledgererrors.CodeDuplicateLinkId,
		ledgererrors.CodeDuplicateSession, ledgererrors.CodeDuplicateAgent:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
