// Package guard implements the boundary hygiene check required by spec
// section 6: caller-provided free text (labels, descriptions, metadata
// keys) must never smuggle payments/settlement vocabulary into a stack
// whose outputs are references and shares, never balances.
package guard

import (
	"strings"

	"github.com/rawblock/ledgercore/internal/ledgererrors"
)

// forbiddenSubstrings is the closed set of case-insensitive substrings
// rejected in any free-text field passed to AssertNoForbiddenConcepts. The
// base set applies everywhere; auditExtra additionally applies at the
// audit layer (spec section 6: "settle"/"payout" for the audit layer").
var forbiddenSubstrings = []string{
	"payment", "wallet", "crypto", "blockchain", "usdt", "transfer",
	"deposit", "withdraw", "balance", "credit", "debit", "transaction",
}

var auditExtraSubstrings = []string{"settle", "payout"}

// AssertNoForbiddenConcepts rejects text containing any forbidden
// substring (case-insensitive). field names the caller-facing field for
// the error message; it is not itself checked.
func AssertNoForbiddenConcepts(field, text string) error {
	return check(field, text, forbiddenSubstrings)
}

// AssertNoForbiddenConceptsForAudit is the audit-layer variant, which also
// rejects "settle" and "payout".
func AssertNoForbiddenConceptsForAudit(field, text string) error {
	if err := check(field, text, forbiddenSubstrings); err != nil {
		return err
	}
	return check(field, text, auditExtraSubstrings)
}

func check(field, text string, substrings []string) error {
	lower := strings.ToLower(text)
	for _, bad := range substrings {
		if strings.Contains(lower, bad) {
			return ledgererrors.New(ledgererrors.CodeForbiddenConcept,
				"field contains a forbidden concept",
				map[string]any{"field": field, "term": bad})
		}
	}
	return nil
}
