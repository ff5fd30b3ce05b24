// Copyright 2025 Cynic Protocol

package consensus

import "time"

// OperatorRole mirrors the network's two participant kinds: full
// voting operators and read-only observers.
type OperatorRole string

const (
	RoleOperator OperatorRole = "operator"
	RoleObserver OperatorRole = "observer"
)

// Operator is one node's voting-relevant profile, recomputed at the
// start of each EPOCH and frozen for its duration (§4.C8 "Vote
// weight... frozen during the epoch").
type Operator struct {
	PubkeyHex string       `json:"pubkey_hex"`
	Role      OperatorRole `json:"role"`

	EScore      float64 `json:"e_score"`     // reputation/engagement score
	BurnTotal   float64 `json:"burn_total"`  // cumulative BURN-axiom stake
	UptimeRatio float64 `json:"uptime_ratio"`

	Weight float64 `json:"weight"` // e_score * log_phi(1+burn_total) * uptime_ratio, frozen per epoch

	Active        bool      `json:"active"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ValidateThreshold reports whether agreeWeight/totalWeight meets
// threshold. Used by PRECOMMIT (threshold = phi^-1) and other
// weight-ratio checks.
func ValidateThreshold(agreeWeight, totalWeight, threshold float64) bool {
	if totalWeight <= 0 {
		return false
	}
	return agreeWeight/totalWeight >= threshold
}

// MeetsQuorum reports whether the number of distinct voting operators
// meets the minimum quorum (F(5) = 5, §4.C8 "Quorum").
func MeetsQuorum(distinctVoters int, quorum int) bool {
	return distinctVoters >= quorum
}

// IsByzantineFaultTolerant reports whether a validator set of size
// totalOperators can tolerate maxFaults Byzantine operators under the
// classical n >= 3f+1 bound. Retained as a sanity check for network
// sizing, independent of the phi-weighted thresholds actually used for
// block agreement.
func IsByzantineFaultTolerant(totalOperators, maxFaults int) bool {
	return totalOperators >= 3*maxFaults+1
}
