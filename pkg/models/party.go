// Package models holds the value types shared by every layer of the
// ledger stack: parties, flow records, reconciliation results, attribution
// results, recharge records, and audit rows. Nothing in this package has
// behavior beyond simple accessors — the engines that compute and validate
// these values live in internal/.
package models

import "github.com/rawblock/ledgercore/pkg/ids"

// PartyType is the role a Party plays in the ledger. It is the aggregation
// axis used by both reconciliation buckets and attribution rules.
type PartyType string

const (
	PartyTypePlatform PartyType = "PLATFORM"
	PartyTypeClub     PartyType = "CLUB"
	PartyTypeAgent    PartyType = "AGENT"
	PartyTypePlayer   PartyType = "PLAYER"
)

// Party is a foreign key referenced by flows, attribution rules, and
// hierarchy nodes.
type Party struct {
	PartyId   ids.PartyId `json:"partyId"`
	PartyType PartyType   `json:"partyType"`
}
