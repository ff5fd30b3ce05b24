// Copyright 2025 Cynic Protocol
//
// Crypto Primitives (§4.C2)
//
// SHA-256 hashing, Ed25519 signing, canonical serialization, and the
// privacy-hashing salt hooks. Every value that crosses into a hash or a
// signature must pass through Canonicalize first — floats never enter
// a hashed payload; scores and weights are fixed-point integers.

package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// HashSize is the width of every hash in the protocol.
const HashSize = 32

// Hash is a 32-byte SHA-256 digest.
type Hash [HashSize]byte

// ZeroHash is the canonical "empty" root (§4.C3 invariant: an empty
// leaf set roots to 32 zero bytes).
var ZeroHash Hash

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool { return h == ZeroHash }

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Bytes returns a copy of the hash bytes.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// SumHash computes SHA-256 over concatenated byte slices.
func SumHash(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashFromBytes copies b into a Hash, requiring an exact 32-byte length.
func HashFromBytes(b []byte) (Hash, error) {
	var out Hash
	if len(b) != HashSize {
		return out, fmt.Errorf("crypto: expected %d byte hash, got %d", HashSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// --- Ed25519 signing ---

// KeyPair is an operator's Ed25519 signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 keypair. Failure here is a
// Configuration-class fatal error at key load per §4.C2.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeed deterministically derives a keypair from a 32-byte
// seed (used by cmd/cynicd to load the operator key file).
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// Sign signs msg with the private key.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify checks sig against msg under pub. A malformed pubkey or
// signature length never panics — it reports false, mapping to the
// Integrity error class at the call site.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// --- Fixed-point encoding ---

// ScoreScale is the fixed-point scale for scores (§4.C2: "scores are
// encoded as fixed-point integers (score*10^4)").
const ScoreScale = 10_000

// ToFixedPoint converts a float score in [0,100] to its canonical
// fixed-point integer representation.
func ToFixedPoint(score float64) int64 {
	return int64(score*ScoreScale + 0.5*sign(score))
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// FromFixedPoint converts a fixed-point integer back to a float.
func FromFixedPoint(fp int64) float64 {
	return float64(fp) / ScoreScale
}

// --- Canonical serialization ---

// Canonicalize deterministically serializes a field map: fields are
// sorted lexicographically by name, integers are big-endian
// fixed-width, and strings are UTF-8 length-prefixed. Floats are
// rejected outright — every caller must pre-convert scores/weights to
// fixed-point via ToFixedPoint before calling this.
//
// Field encoding tags:
//
//	U64(v uint64)   -- 8 bytes big-endian
//	I64(v int64)    -- 8 bytes big-endian (two's complement)
//	Bytes(v []byte) -- 4-byte big-endian length prefix + raw bytes
//	Str(v string)   -- 4-byte big-endian length prefix + UTF-8 bytes
type Field struct {
	Name  string
	Value Encodable
}

// Encodable is implemented by each canonical field value type.
type Encodable interface {
	encode() []byte
}

type u64 uint64

func (v u64) encode() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

type i64 int64

func (v i64) encode() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

type bytesField []byte

func (v bytesField) encode() []byte {
	b := make([]byte, 4+len(v))
	binary.BigEndian.PutUint32(b, uint32(len(v)))
	copy(b[4:], v)
	return b
}

type strField string

func (v strField) encode() []byte {
	return bytesField(v).encode()
}

// U64, I64, Bytes, Str construct Encodable field values.
func U64(v uint64) Encodable  { return u64(v) }
func I64(v int64) Encodable   { return i64(v) }
func Bytes(v []byte) Encodable { return bytesField(v) }
func Str(v string) Encodable  { return strField(v) }

// Canonicalize sorts fields by name and concatenates their encodings,
// each preceded by its own length-prefixed name. This is the single
// entry point every hashed/signed payload in the protocol must pass
// through.
func Canonicalize(fields []Field) []byte {
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var out []byte
	for _, f := range sorted {
		out = append(out, strField(f.Name).encode()...)
		out = append(out, f.Value.encode()...)
	}
	return out
}

// --- Privacy hashing hooks (§6) ---

// DeriveSalt deterministically derives a 32-byte salt for a purpose tag
// from a global salt, using HMAC-SHA256. Used in "deterministic lookup"
// mode, where a collaborator needs the same hashed value to recur
// across calls (e.g. to deduplicate a recurring contributor id).
func DeriveSalt(purposeTag string, globalSalt []byte) Hash {
	mac := hmac.New(sha256.New, globalSalt)
	mac.Write([]byte(purposeTag))
	var out Hash
	copy(out[:], mac.Sum(nil))
	return out
}

// RandomSalt returns n cryptographically random bytes for "storage
// mode" hashing, where no two calls should ever agree.
func RandomSalt(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: random salt: %w", err)
	}
	return b, nil
}

// HashForSharing implements the §6 privacy hook: collaborators may
// pre-hash user-identifying fields before they cross into the core.
// The core never sees cleartext PII; this is a boundary function only.
func HashForSharing(value []byte, purpose string, salt []byte) Hash {
	return SumHash(salt, []byte(purpose), value)
}
