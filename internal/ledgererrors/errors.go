// Package ledgererrors defines the closed per-layer error-code sets used by
// every component in the ledger stack, and the Error type that carries a
// code, a human-readable message, and an opaque details map.
//
// This replaces the teacher's bare fmt.Errorf style at the core layer: spec
// section 9 calls for the target language's natural sum type in place of the
// source's hand-threaded {success, value|error} discipline, and Go's
// idiomatic equivalent is a typed error value callers can switch on by code.
package ledgererrors

import "fmt"

// Code is a closed error kind. The codes are grouped below by the component
// that chiefly uses them; some (e.g. INVALID_TIMESTAMP, FORBIDDEN_CONCEPT)
// are returned by several components.
type Code string

const (
	// Flow Registry (C1) and Recharge Reference Map (C4) share these.
	CodeDuplicateFlowId        Code = "DUPLICATE_FLOW_ID"
	CodeDuplicateRechargeId    Code = "DUPLICATE_RECHARGE_ID"
	CodeDuplicateLinkId        Code = "DUPLICATE_LINK_ID"
	CodeFlowNotFound           Code = "FLOW_NOT_FOUND"
	CodeRechargeNotFound       Code = "RECHARGE_NOT_FOUND"
	CodeLinkNotFound           Code = "LINK_NOT_FOUND"
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodeInvalidAmount          Code = "INVALID_AMOUNT"
	CodeInvalidTimestamp       Code = "INVALID_TIMESTAMP"
	CodeChecksumMismatch       Code = "CHECKSUM_MISMATCH"

	// Reconciliation Engine (C2).
	CodeInvalidPeriod     Code = "INVALID_PERIOD"
	CodeNoDataForPeriod   Code = "NO_DATA_FOR_PERIOD"
	CodeNonIntegerValue   Code = "NON_INTEGER_VALUE"
	CodeSnapshotNotFound  Code = "SNAPSHOT_NOT_FOUND"
	CodeInvalidPartyType  Code = "INVALID_PARTY_TYPE"

	// Attribution Engine (C3).
	CodeInvalidBasisPoints     Code = "INVALID_BASIS_POINTS"
	CodeInvalidRuleSetTotal    Code = "INVALID_RULE_SET_TOTAL"
	CodeHierarchyCycleDetected Code = "HIERARCHY_CYCLE_DETECTED"
	CodeInvalidHierarchyLevel Code = "INVALID_HIERARCHY_LEVEL"
	CodeParentAgentNotFound    Code = "PARENT_AGENT_NOT_FOUND"
	CodeDuplicateAgent         Code = "DUPLICATE_AGENT"
	CodeAmountMismatch         Code = "AMOUNT_MISMATCH"

	// Audit Correlator (C5).
	CodeInvalidSessionId Code = "INVALID_SESSION_ID"
	CodeDuplicateSession Code = "DUPLICATE_SESSION"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeInvalidInput     Code = "INVALID_INPUT"

	// Shared boundary guard (spec section 6).
	CodeForbiddenConcept Code = "FORBIDDEN_CONCEPT"
)

// Error is the single error type returned by every public operation in the
// ledger stack. It is never wrapped further: callers switch on Code.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an Error with an (optionally nil) details map.
func New(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// Is reports whether err is a *Error with the given code, so that callers
// can write `if ledgererrors.Is(err, ledgererrors.CodeFlowNotFound)`.
func Is(err error, code Code) bool {
	le, ok := err.(*Error)
	return ok && le.Code == code
}
