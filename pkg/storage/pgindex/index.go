// Copyright 2025 Cynic Protocol
//
// Package pgindex is an optional secondary index: a Postgres mirror of
// finalized blocks and judgments, for SQL chain_status/audit queries
// that a plain directory-backed FileStore can't answer efficiently
// (range scans by slot, joins across operators). The primary,
// authoritative state stays in pkg/storage.FileStore (or pkg/kvdb);
// this index is best-effort and rebuildable from the chain itself —
// losing it is never a correctness problem, only a convenience one.
package pgindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
)

// Index wraps a connection pool to the mirror database, following the
// teacher's pkg/database.Client bootstrap shape (sql.Open + ping +
// pool limits), scaled down to this index's narrower surface.
type Index struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection with a ping.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*Index, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, cynicerr.Wrapf(err, cynicerr.Configuration, "pgindex: open %q", dsn)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, cynicerr.Wrap(err, cynicerr.Transient, "pgindex: ping")
	}
	return &Index{db: db}, nil
}

// Close releases the connection pool.
func (idx *Index) Close() error { return idx.db.Close() }

// EnsureSchema creates the mirror tables if they don't already exist.
// Idempotent — safe to call on every startup.
func (idx *Index) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS cynic_blocks (
	block_hash      TEXT PRIMARY KEY,
	operator_pubkey TEXT NOT NULL,
	slot            BIGINT NOT NULL,
	prev_hash       TEXT NOT NULL,
	timestamp_ms    BIGINT NOT NULL,
	judgments_root  TEXT NOT NULL,
	knowledge_root  TEXT NOT NULL,
	state_root      TEXT NOT NULL,
	block_type      SMALLINT NOT NULL,
	indexed_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cynic_blocks_operator_slot_idx ON cynic_blocks (operator_pubkey, slot);

CREATE TABLE IF NOT EXISTS cynic_judgments (
	judgment_id  TEXT PRIMARY KEY,
	block_hash   TEXT NOT NULL REFERENCES cynic_blocks (block_hash),
	item_hash    TEXT NOT NULL,
	global_score BIGINT NOT NULL,
	verdict      TEXT NOT NULL,
	indexed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS cynic_judgments_block_idx ON cynic_judgments (block_hash);
`
	if _, err := idx.db.ExecContext(ctx, schema); err != nil {
		return cynicerr.Wrap(err, cynicerr.Configuration, "pgindex: ensure schema")
	}
	return nil
}

// BlockRow is the mirrored projection of a sealed block's header.
type BlockRow struct {
	BlockHash      string
	OperatorPubkey string
	Slot           uint64
	PrevHash       string
	TimestampMs    int64
	JudgmentsRoot  string
	KnowledgeRoot  string
	StateRoot      string
	BlockType      int
}

// IndexBlock upserts one finalized block's header into the mirror.
func (idx *Index) IndexBlock(ctx context.Context, b BlockRow) error {
	const q = `
INSERT INTO cynic_blocks (block_hash, operator_pubkey, slot, prev_hash, timestamp_ms, judgments_root, knowledge_root, state_root, block_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (block_hash) DO NOTHING`
	_, err := idx.db.ExecContext(ctx, q, b.BlockHash, b.OperatorPubkey, b.Slot, b.PrevHash, b.TimestampMs,
		b.JudgmentsRoot, b.KnowledgeRoot, b.StateRoot, b.BlockType)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Transient, "pgindex: index block")
	}
	return nil
}

// JudgmentRow is the mirrored projection of one judgment record.
type JudgmentRow struct {
	JudgmentID  string
	BlockHash   string
	ItemHash    string
	GlobalScore int64 // fixed-point x10^4, per §3/§6
	Verdict     string
}

// IndexJudgment upserts one judgment record into the mirror.
func (idx *Index) IndexJudgment(ctx context.Context, j JudgmentRow) error {
	const q = `
INSERT INTO cynic_judgments (judgment_id, block_hash, item_hash, global_score, verdict)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (judgment_id) DO NOTHING`
	_, err := idx.db.ExecContext(ctx, q, j.JudgmentID, j.BlockHash, j.ItemHash, j.GlobalScore, j.Verdict)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Transient, "pgindex: index judgment")
	}
	return nil
}

// SlotRange returns every mirrored block for operatorPubkey between
// [from, to], ordered by slot — the range-scan query a plain
// FileStore cannot answer without a linear directory walk.
func (idx *Index) SlotRange(ctx context.Context, operatorPubkey string, from, to uint64) ([]BlockRow, error) {
	const q = `
SELECT block_hash, operator_pubkey, slot, prev_hash, timestamp_ms, judgments_root, knowledge_root, state_root, block_type
FROM cynic_blocks WHERE operator_pubkey = $1 AND slot BETWEEN $2 AND $3 ORDER BY slot ASC`
	rows, err := idx.db.QueryContext(ctx, q, operatorPubkey, from, to)
	if err != nil {
		return nil, cynicerr.Wrap(err, cynicerr.Transient, "pgindex: slot range query")
	}
	defer rows.Close()

	var out []BlockRow
	for rows.Next() {
		var b BlockRow
		if err := rows.Scan(&b.BlockHash, &b.OperatorPubkey, &b.Slot, &b.PrevHash, &b.TimestampMs,
			&b.JudgmentsRoot, &b.KnowledgeRoot, &b.StateRoot, &b.BlockType); err != nil {
			return nil, fmt.Errorf("pgindex: scan block row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
