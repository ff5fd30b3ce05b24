// Copyright 2025 Cynic Protocol
//
// Optional BLS12-381 vote aggregation for the phi-BFT consensus engine.
//
// The consensus protocol (§4.C8) is specified entirely in terms of
// Ed25519-signed votes; nothing here replaces that. This package exists
// so a node reconstructing a finalized block's quorum certificate does
// not need to retain every individual PREVOTE/PRECOMMIT signature: once
// a set of votes on the same target_block_hash is known, their
// Ed25519 signatures are kept as the source of truth but the BLS
// signatures collected alongside them (signed over the same canonical
// vote body, by operators who opted into dual-signing) aggregate into
// one 48-byte point, letting an auditor verify "these N operators
// agreed" with a single pairing check instead of N Ed25519 checks.
//
// Pure Go BLS12-381 via gnark-crypto, following the curve-arithmetic
// half of the teacher's crypto/bls package (the SNARK backend is not
// used anywhere in this protocol).
package blsagg

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// DomainVote is the domain separation tag for consensus vote signatures.
const DomainVote = "CYNIC_VOTE_V1"

const (
	PrivateKeySize = 32
	PublicKeySize  = 96
	SignatureSize  = 48
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

func initialize() {
	initOnce.Do(func() {
		_, _, g1, g2 := bls12381.Generators()
		g1Gen, g2Gen = g1, g2
	})
}

// PrivateKey is a BLS scalar in Fr.
type PrivateKey struct{ scalar fr.Element }

// PublicKey is a G2 point.
type PublicKey struct{ point bls12381.G2Affine }

// Signature is a G1 point.
type Signature struct{ point bls12381.G1Affine }

// GenerateKeyPair returns a fresh, randomly sampled BLS keypair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	initialize()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("blsagg: generate scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// PrivateKeyFromSeed derives a deterministic keypair from a seed, hashed
// down to a 32-byte scalar.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, *PublicKey, error) {
	initialize()
	h := sha256.Sum256(seed)
	var sk fr.Element
	sk.SetBytes(h[:])
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// Bytes serializes the private scalar.
func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

// PublicKey derives pk = sk * G2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	initialize()
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign computes sig = sk * H(domain || message) on G1.
func (sk *PrivateKey) Sign(message []byte) *Signature {
	h := hashToG1(domainMessage(DomainVote, message))
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

// Bytes serializes the public key (compressed G2 point, PublicKeySize bytes).
func (pk *PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

// PublicKeyFromBytes deserializes a G2 point.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	initialize()
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(data); err != nil {
		return nil, fmt.Errorf("blsagg: deserialize public key: %w", err)
	}
	return &PublicKey{point: pk}, nil
}

// Bytes serializes the signature (compressed G1 point).
func (s *Signature) Bytes() []byte {
	b := s.point.Bytes()
	return b[:]
}

// SignatureFromBytes deserializes a G1 point.
func SignatureFromBytes(data []byte) (*Signature, error) {
	initialize()
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(data); err != nil {
		return nil, fmt.Errorf("blsagg: deserialize signature: %w", err)
	}
	return &Signature{point: sig}, nil
}

// Verify checks a single vote signature: e(sig, G2) == e(H(msg), pk).
func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	initialize()
	h := hashToG1(domainMessage(DomainVote, message))
	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	return err == nil && ok
}

// AggregateSignatures sums a set of vote signatures on G1. Used to
// collapse a PRECOMMIT round's signatures into a single quorum
// certificate once the round closes.
func AggregateSignatures(sigs []*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, errors.New("blsagg: no signatures to aggregate")
	}
	var agg bls12381.G1Jac
	agg.FromAffine(&sigs[0].point)
	for _, s := range sigs[1:] {
		var j bls12381.G1Jac
		j.FromAffine(&s.point)
		agg.AddAssign(&j)
	}
	var out bls12381.G1Affine
	out.FromJacobian(&agg)
	return &Signature{point: out}, nil
}

// AggregatePublicKeys sums a set of public keys on G2, for verifying an
// aggregate signature against "the set of operators who agreed."
func AggregatePublicKeys(pks []*PublicKey) (*PublicKey, error) {
	if len(pks) == 0 {
		return nil, errors.New("blsagg: no public keys to aggregate")
	}
	var agg bls12381.G2Jac
	agg.FromAffine(&pks[0].point)
	for _, p := range pks[1:] {
		var j bls12381.G2Jac
		j.FromAffine(&p.point)
		agg.AddAssign(&j)
	}
	var out bls12381.G2Affine
	out.FromJacobian(&agg)
	return &PublicKey{point: out}, nil
}

// VerifyAggregate verifies an aggregated signature against the
// aggregated public keys of every signer, all having signed the same
// vote body — the quorum-certificate verification path.
func VerifyAggregate(aggSig *Signature, signers []*PublicKey, message []byte) bool {
	aggPk, err := AggregatePublicKeys(signers)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

func domainMessage(domain string, msg []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(msg)
	return h.Sum(nil)
}

// hashToG1 maps an arbitrary message to a point on G1 by repeated
// hash-and-test, matching the teacher's own construction (not the full
// RFC 9380 hash_to_curve — adequate for an internal vote-aggregation
// optimization, not a public-facing signature scheme).
func hashToG1(message []byte) bls12381.G1Affine {
	h := sha256.New()
	h.Write([]byte("CYNIC_BLS_VOTE_H2C_V1"))
	h.Write(message)

	var counter uint64
	for {
		h2 := sha256.New()
		h2.Write(h.Sum(nil))
		binary.Write(h2, binary.BigEndian, counter)
		hash := h2.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(hash); err == nil && !point.IsInfinity() {
			return point
		}
		counter++
	}
}
