// Copyright 2025 Cynic Protocol
//
// Ratio Kernel
//
// Single source of the golden-ratio constants and Fibonacci table that
// every other component derives its thresholds and timings from. All
// values here are computed once at process init and are immutable
// afterward — nothing downstream may recompute phi from scratch, so a
// single kernel revision keeps every node bit-identical.

package kernel

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Phi is the golden ratio, fixed to the precision used throughout the
// protocol. Do not replace with math.Phi-style runtime derivation —
// the exact literal must match across every node for canonical
// encodings to agree.
const Phi = 1.618033988749895

// fibTableSize is the number of Fibonacci terms the kernel memoizes
// (F(0)..F(16)); the protocol never needs a term beyond F(16)=987.
const fibTableSize = 17

// Kernel holds the derived constants for one process. Constructed once
// by Init and never mutated after; every field is read-only to callers.
type Kernel struct {
	PhiInv  float64 // φ⁻¹
	PhiInv2 float64 // φ⁻²
	PhiInv3 float64 // φ⁻³
	PhiSq   float64 // φ²

	fib [fibTableSize]uint64

	// BaseMillis is the configured timing base (default 100ms per spec
	// §4.C1; deployments may substitute a slower base via a single
	// multiplier without changing any ratio).
	BaseMillis float64

	Tick  time.Duration // base · φ⁻³
	Micro time.Duration // base · φ⁻²
	Slot  time.Duration // base · φ⁻¹
	Block time.Duration // base
	Epoch time.Duration // base · φ
	Cycle time.Duration // base · φ²
}

var (
	initOnce sync.Once
	instance *Kernel
	initErr  error
)

// Init builds the process-wide Kernel from a single configured timing
// base in milliseconds. It is safe to call multiple times; only the
// first call's baseMillis takes effect, and every call after the first
// must supply the same value or Init returns an error — silently accepting a second, different base would let two
// components in the same process disagree about SLOT length.
func Init(baseMillis float64) (*Kernel, error) {
	if baseMillis <= 0 {
		return nil, fmt.Errorf("kernel: timing base must be positive, got %v", baseMillis)
	}
	initOnce.Do(func() {
		instance = build(baseMillis)
	})
	if instance.BaseMillis != baseMillis {
		return nil, fmt.Errorf("kernel: already initialized with base %vms, cannot reinitialize with %vms", instance.BaseMillis, baseMillis)
	}
	return instance, initErr
}

// Must panics if Init fails. Reserved for startup paths where a
// Configuration error is fatal by definition (§7).
func Must(baseMillis float64) *Kernel {
	k, err := Init(baseMillis)
	if err != nil {
		panic(err)
	}
	return k
}

func build(baseMillis float64) *Kernel {
	k := &Kernel{
		BaseMillis: baseMillis,
		PhiInv:     1 / Phi,
		PhiInv2:    1 / (Phi * Phi),
		PhiInv3:    1 / (Phi * Phi * Phi),
		PhiSq:      Phi * Phi,
	}
	k.fib[0] = 0
	k.fib[1] = 1
	for i := 2; i < fibTableSize; i++ {
		k.fib[i] = k.fib[i-1] + k.fib[i-2]
	}

	ms := func(f float64) time.Duration {
		return time.Duration(f * float64(time.Millisecond))
	}
	k.Tick = ms(baseMillis * k.PhiInv3)
	k.Micro = ms(baseMillis * k.PhiInv2)
	k.Slot = ms(baseMillis * k.PhiInv)
	k.Block = ms(baseMillis)
	k.Epoch = ms(baseMillis * Phi)
	k.Cycle = ms(baseMillis * k.PhiSq)
	return k
}

// Fib returns F(n) for 0 <= n < 17. Panics on out-of-range n: every call
// site in this protocol uses a compile-time-known index (F(5), F(7),
// F(9), F(10), F(11)), so an out-of-range index is a programming error,
// not recoverable input.
func (k *Kernel) Fib(n int) uint64 {
	if n < 0 || n >= fibTableSize {
		panic(fmt.Sprintf("kernel: fib(%d) out of range [0,%d)", n, fibTableSize))
	}
	return k.fib[n]
}

// LogPhi computes log_phi(x) = ln(x) / ln(phi). Used once per voting
// epoch by C8 to fold an operator's burn_total into vote weight; callers
// must round the result to the fixed-point representation before it
// enters canonical encoding (see pkg/crypto.ToFixedPoint).
func LogPhi(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Log(x) / math.Log(Phi)
}

// Instance returns the already-initialized process-wide Kernel, or nil
// if Init has not yet run.
func Instance() *Kernel {
	return instance
}
