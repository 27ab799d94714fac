// Package ledgerstore mirrors the append-only flow, recharge, link, and
// settlement-snapshot logs into Postgres via pgx, for durability and crash
// recovery. It is a write-behind mirror, not the system of record: every
// read path in this module continues to be served from the in-memory
// registries; a crash that loses the in-memory state can be recovered by
// replaying these tables back through AppendFlow/AppendRecharge/etc., which
// is the caller's responsibility, not this package's.
package ledgerstore

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/ledgercore/pkg/ids"
	"github.com/rawblock/ledgercore/pkg/models"
)

// Store wraps a pgx connection pool mirroring the ledger's append-only logs.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens the connection pool to Postgres using pgx.
func Connect(connStr string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	log.Println("Successfully connected to PostgreSQL for ledger mirror")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql.
func (s *Store) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/ledgerstore/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	if _, err := s.pool.Exec(context.Background(), string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	log.Println("Ledger mirror schema initialized")
	return nil
}

// MirrorFlowRecord persists one flow-registry append. Every FlowRecord
// revision is inserted, never updated, mirroring the registry's own
// append-only discipline.
func (s *Store) MirrorFlowRecord(ctx context.Context, rec models.FlowRecord) error {
	sql := `
		INSERT INTO flow_records
			(flow_id, sequence, session_id, party_id, party_type, type, direction,
			 amount, status, injected_timestamp, previous_checksum, checksum, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (flow_id, sequence) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql,
		string(rec.FlowId), rec.Sequence, string(rec.SessionId), string(rec.Party.PartyId), string(rec.Party.PartyType),
		string(rec.Type), string(rec.Direction), rec.Amount, string(rec.Status),
		rec.InjectedTimestamp, rec.PreviousChecksum, rec.Checksum, rec.Description)
	if err != nil {
		return fmt.Errorf("failed to mirror flow record: %w", err)
	}
	return nil
}

// MirrorRechargeRecord persists one recharge-registry append.
func (s *Store) MirrorRechargeRecord(ctx context.Context, rec models.RechargeRecord) error {
	var extRef *string
	if rec.ExternalReferenceId != nil {
		v := string(*rec.ExternalReferenceId)
		extRef = &v
	}
	sql := `
		INSERT INTO recharge_records
			(recharge_id, sequence, source, status, party_id, reference_amount,
			 external_reference_id, declared_ts, previous_checksum, checksum)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (recharge_id, sequence) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql,
		string(rec.RechargeId), rec.Sequence, string(rec.Source), string(rec.Status), string(rec.PartyId),
		rec.ReferenceAmount, extRef, rec.DeclaredTs, rec.PreviousChecksum, rec.Checksum)
	if err != nil {
		return fmt.Errorf("failed to mirror recharge record: %w", err)
	}
	return nil
}

// MirrorRechargeLink persists a recharge-to-flows link.
func (s *Store) MirrorRechargeLink(ctx context.Context, link models.RechargeLink) error {
	flowIds := make([]string, len(link.LinkedFlowIds))
	for i, f := range link.LinkedFlowIds {
		flowIds[i] = string(f)
	}
	sql := `
		INSERT INTO recharge_links (link_id, recharge_id, linked_flow_ids, linked_reference_total, linked_timestamp, checksum)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (link_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql,
		string(link.LinkId), string(link.RechargeId), flowIds, link.LinkedReferenceTotal, link.LinkedTimestamp, link.Checksum)
	if err != nil {
		return fmt.Errorf("failed to mirror recharge link: %w", err)
	}
	return nil
}

// MirrorSettlementSnapshot persists one settlement snapshot.
func (s *Store) MirrorSettlementSnapshot(ctx context.Context, snap models.SettlementSnapshot) error {
	sql := `
		INSERT INTO settlement_snapshots
			(snapshot_id, period_id, party_id, party_type, created_timestamp, previous_snapshot_hash, checksum)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (snapshot_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql,
		string(snap.SnapshotId), string(snap.Period.PeriodId), string(snap.PartyId), string(snap.PartyType),
		snap.CreatedTimestamp, snap.PreviousSnapshotHash, snap.Checksum)
	if err != nil {
		return fmt.Errorf("failed to mirror settlement snapshot: %w", err)
	}
	return nil
}

// LoadFlowChecksumTail returns the most recent checksum recorded for
// flowId, used to reconcile an in-memory registry against the mirror after
// a restart. ids.FlowId is accepted directly so callers never stringify by
// hand at this boundary.
func (s *Store) LoadFlowChecksumTail(ctx context.Context, flowId ids.FlowId) (string, error) {
	var checksum string
	sql := `SELECT checksum FROM flow_records WHERE flow_id = $1 ORDER BY sequence DESC LIMIT 1;`
	err := s.pool.QueryRow(ctx, sql, string(flowId)).Scan(&checksum)
	if err != nil {
		return "", fmt.Errorf("failed to load flow checksum tail: %w", err)
	}
	return checksum, nil
}
