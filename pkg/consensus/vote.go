// Copyright 2025 Cynic Protocol

package consensus

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/crypto/blsagg"
)

// VoteChoice is an operator's stance on a proposal.
type VoteChoice string

const (
	Agree    VoteChoice = "AGREE"
	Disagree VoteChoice = "DISAGREE"
)

// Vote is one operator's signed stance on a proposal at a given slot
// (§4.C8 PREVOTE/PRECOMMIT).
type Vote struct {
	ProposalID  string     `json:"proposal_id"`
	Operator    string     `json:"operator"` // pubkey hex
	Slot        uint64     `json:"slot"`
	Choice      VoteChoice `json:"choice"`
	TimestampMs int64      `json:"timestamp_ms"`
	Signature   []byte     `json:"signature"`

	// BLSSignature is an optional second signature over the same
	// canonical body, for operators who opted into BLS dual-signing
	// (Engine.RegisterBLSKey). Ed25519 Signature remains the protocol's
	// signature of record; this only enables QuorumCertificate.
	BLSSignature []byte `json:"bls_signature,omitempty"`
}

func (v *Vote) canonical() []byte {
	return crypto.Canonicalize([]crypto.Field{
		{Name: "proposal_id", Value: crypto.Str(v.ProposalID)},
		{Name: "operator", Value: crypto.Str(v.Operator)},
		{Name: "slot", Value: crypto.U64(v.Slot)},
		{Name: "choice", Value: crypto.Str(string(v.Choice))},
		{Name: "timestamp_ms", Value: crypto.I64(v.TimestampMs)},
	})
}

// Sign signs the vote's canonical body with keys, setting Signature.
// keys' public key must match the hex-decoded Operator field.
func (v *Vote) Sign(keys *crypto.KeyPair) {
	v.Signature = keys.Sign(v.canonical())
}

// VerifySignature checks v.Signature against v's canonical body under
// the operator's pubkey (decoded from the hex Operator field).
func (v *Vote) VerifySignature() bool {
	pub, err := hex.DecodeString(v.Operator)
	if err != nil {
		return false
	}
	return crypto.Verify(ed25519.PublicKey(pub), v.canonical(), v.Signature)
}

// SignBLS additionally signs the vote's canonical body with a BLS
// secret key, setting BLSSignature. Opt-in: most votes never call this.
func (v *Vote) SignBLS(sk *blsagg.PrivateKey) {
	v.BLSSignature = sk.Sign(v.canonical()).Bytes()
}

// VerifyBLS checks v.BLSSignature against v's canonical body under pk.
// Returns false (not a panic) if BLSSignature is absent or malformed,
// since dual-signing is optional per operator.
func (v *Vote) VerifyBLS(pk *blsagg.PublicKey) bool {
	if len(v.BLSSignature) == 0 {
		return false
	}
	sig, err := blsagg.SignatureFromBytes(v.BLSSignature)
	if err != nil {
		return false
	}
	return pk.Verify(sig, v.canonical())
}
