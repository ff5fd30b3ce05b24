// Copyright 2025 Cynic Protocol

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
)

// OperatorRecord is the on-disk shape of operator.json: a reference to
// this node's keypair (private key storage is out of scope — only a
// pointer/label is kept here) plus the running e_score/burn_total/
// uptime stats FreezeWeights needs at epoch boundaries.
type OperatorRecord struct {
	PubkeyHex     string    `json:"pubkey_hex"`
	KeyRef        string    `json:"key_ref"` // opaque pointer to wherever the private key actually lives
	EScore        float64   `json:"e_score"`
	BurnTotal     float64   `json:"burn_total"`
	UptimeRatio   float64   `json:"uptime_ratio"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// PeerRecord is the on-disk shape of one peers.json entry, mirroring
// gossip.Peer's fields without importing pkg/gossip (storage stays a
// leaf dependency; callers translate at the boundary).
type PeerRecord struct {
	ID             string  `json:"id"`
	Address        string  `json:"address"`
	Score          int     `json:"score"`
	LatencyMs      float64 `json:"latency_ms"`
	LastSeenHeight uint64  `json:"last_seen_height"`
}

// ProposalRecord is the on-disk shape of proposals/<proposal_id>: the
// canonical governance body plus the votes cast and the result once
// decided. Mirrors §6's governance proposal wire format.
type ProposalRecord struct {
	ID             string          `json:"id"`
	Action         string          `json:"action"`
	Params         json.RawMessage `json:"params"`
	ProposerPubkey string          `json:"proposer_pubkey"`
	Votes          []VoteRecord    `json:"votes"`
	Result         *ResultRecord   `json:"result,omitempty"`
}

type VoteRecord struct {
	VoterPubkey   string `json:"voter_pubkey"`
	Choice        string `json:"choice"`
	WeightAtEpoch float64 `json:"weight_at_epoch"`
	Signature     []byte `json:"sig"`
}

type ResultRecord struct {
	TotalWeight  float64 `json:"total_weight"`
	AgreeWeight  float64 `json:"agree_weight"`
	Ratio        float64 `json:"ratio"`
	Status       string  `json:"status"` // PASSED | FAILED | DEFERRED
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cynicerr.Wrap(err, cynicerr.ResourceExhausted, "create directory")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.Integrity, "marshal record")
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cynicerr.Wrap(err, cynicerr.ResourceExhausted, "read record")
	}
	return json.Unmarshal(data, v)
}

// SaveOperator writes operator.json under root.
func SaveOperator(root string, rec *OperatorRecord) error {
	return writeJSON(filepath.Join(root, "operator.json"), rec)
}

// LoadOperator reads operator.json from under root.
func LoadOperator(root string) (*OperatorRecord, error) {
	var rec OperatorRecord
	if err := readJSON(filepath.Join(root, "operator.json"), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SavePeers writes peers.json under root.
func SavePeers(root string, peers []PeerRecord) error {
	return writeJSON(filepath.Join(root, "peers.json"), peers)
}

// LoadPeers reads peers.json from under root. A missing file is not
// an error — a fresh node starts with no known peers.
func LoadPeers(root string) ([]PeerRecord, error) {
	var peers []PeerRecord
	path := filepath.Join(root, "peers.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return peers, nil
	}
	if err := readJSON(path, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// SaveProposal writes proposals/<proposal_id> under root.
func SaveProposal(root string, rec *ProposalRecord) error {
	return writeJSON(filepath.Join(root, "proposals", rec.ID), rec)
}

// LoadProposal reads proposals/<proposal_id> from under root.
func LoadProposal(root, proposalID string) (*ProposalRecord, error) {
	var rec ProposalRecord
	if err := readJSON(filepath.Join(root, "proposals", proposalID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
