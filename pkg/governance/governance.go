// Copyright 2025 Cynic Protocol
//
// Package governance glues the hard-consensus protocol (§4.C8) to the
// components a passed proposal actually mutates: the dimension
// registry (§3 data model), the consensus engine's equivocation
// rap-sheet, and the node's timing base. Proposals are carried as
// canonical §6 bodies inside GOVERNANCE blocks; this package only
// concerns itself with what happens once CastVote/AdvancePrecommit/
// Commit has already decided a proposal's fate.
package governance

import (
	"encoding/json"
	"fmt"

	"github.com/cynic-protocol/cynic-node/pkg/consensus"
	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
)

// Action is the §6 governance proposal action enum.
type Action string

const (
	ActionAddDimension    Action = "ADD_DIMENSION"
	ActionModifyThreshold Action = "MODIFY_THRESHOLD"
	ActionRemoveDimension Action = "REMOVE_DIMENSION"
	ActionChangeTimingBase Action = "CHANGE_TIMING_BASE"

	// ActionClearRapSheet resolves §4.C8's "persistence across epochs is
	// governance-decided" by making rap-sheet clearing an explicit,
	// REMOVE_DIMENSION-shaped governance action rather than an implicit
	// per-epoch reset.
	ActionClearRapSheet Action = "CLEAR_RAP_SHEET"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAddDimension, ActionModifyThreshold, ActionRemoveDimension, ActionChangeTimingBase, ActionClearRapSheet:
		return true
	default:
		return false
	}
}

// AddDimensionParams is the action-specific payload for ADD_DIMENSION.
type AddDimensionParams struct {
	Name       string             `json:"name"`
	Axiom      dimension.Axiom    `json:"axiom"`
	Weight     float64            `json:"weight"`
	Thresholds dimension.Thresholds `json:"thresholds"`
}

// ModifyThresholdParams is the action-specific payload for
// MODIFY_THRESHOLD.
type ModifyThresholdParams struct {
	DimensionName string             `json:"dimension_name"`
	Thresholds    dimension.Thresholds `json:"thresholds"`
}

// RemoveDimensionParams is the action-specific payload for
// REMOVE_DIMENSION.
type RemoveDimensionParams struct {
	DimensionName string `json:"dimension_name"`
}

// ChangeTimingBaseParams is the action-specific payload for
// CHANGE_TIMING_BASE.
type ChangeTimingBaseParams struct {
	BaseMillis float64 `json:"base_millis"`
}

// ClearRapSheetParams is the action-specific payload for
// CLEAR_RAP_SHEET.
type ClearRapSheetParams struct {
	OperatorPubkey string `json:"operator_pubkey"`
}

// Body is the canonical §6 governance proposal payload carried inside
// a GOVERNANCE block, before it is wrapped in a consensus.Proposal for
// hard-consensus voting.
type Body struct {
	ID             string          `json:"id"`
	Action         Action          `json:"action"`
	Params         json.RawMessage `json:"params"`
	ProposerPubkey string          `json:"proposer_pubkey"`
}

// Applier applies the effect of a passed governance proposal to the
// components it targets. It holds no voting logic of its own — that
// is consensus.Engine's job; Applier runs only after Engine.Commit has
// already decided PASSED.
type Applier struct {
	Registry *dimension.Registry
	Engine   *consensus.Engine

	// OnTimingBaseChange, if set, is invoked with a passed
	// CHANGE_TIMING_BASE proposal's new base. Rebuilding the kernel (and
	// every duration derived from it) is a whole-node operation the
	// controller must coordinate, not something Applier can do itself.
	OnTimingBaseChange func(baseMillis float64)
}

// Apply decodes body.Params per body.Action and applies the effect.
// Callers must only invoke Apply for proposals the consensus engine has
// already finalized as PASSED.
func (a *Applier) Apply(body *Body) error {
	if !body.Action.Valid() {
		return cynicerr.Newf(cynicerr.Protocol, "governance: unknown action %q", body.Action)
	}

	switch body.Action {
	case ActionAddDimension:
		var p AddDimensionParams
		if err := json.Unmarshal(body.Params, &p); err != nil {
			return cynicerr.Newf(cynicerr.Protocol, "governance: malformed ADD_DIMENSION params: %v", err)
		}
		return a.Registry.ApplyGovernance(&dimension.Dimension{
			Name:       p.Name,
			Axiom:      p.Axiom,
			Weight:     p.Weight,
			Thresholds: p.Thresholds,
			Evaluator:  pendingEvaluator(p.Name),
		}, body.ProposerPubkey)

	case ActionModifyThreshold:
		var p ModifyThresholdParams
		if err := json.Unmarshal(body.Params, &p); err != nil {
			return cynicerr.Newf(cynicerr.Protocol, "governance: malformed MODIFY_THRESHOLD params: %v", err)
		}
		d, ok := a.Registry.Get(p.DimensionName)
		if !ok {
			return cynicerr.Newf(cynicerr.Protocol, "governance: dimension %q not found", p.DimensionName)
		}
		updated := *d
		updated.Thresholds = p.Thresholds
		return a.Registry.ApplyGovernance(&updated, body.ProposerPubkey)

	case ActionRemoveDimension:
		var p RemoveDimensionParams
		if err := json.Unmarshal(body.Params, &p); err != nil {
			return cynicerr.Newf(cynicerr.Protocol, "governance: malformed REMOVE_DIMENSION params: %v", err)
		}
		return a.Registry.Remove(p.DimensionName)

	case ActionChangeTimingBase:
		var p ChangeTimingBaseParams
		if err := json.Unmarshal(body.Params, &p); err != nil {
			return cynicerr.Newf(cynicerr.Protocol, "governance: malformed CHANGE_TIMING_BASE params: %v", err)
		}
		if p.BaseMillis <= 0 {
			return cynicerr.Newf(cynicerr.Configuration, "governance: timing base must be positive, got %v", p.BaseMillis)
		}
		if a.OnTimingBaseChange != nil {
			a.OnTimingBaseChange(p.BaseMillis)
		}
		return nil

	case ActionClearRapSheet:
		var p ClearRapSheetParams
		if err := json.Unmarshal(body.Params, &p); err != nil {
			return cynicerr.Newf(cynicerr.Protocol, "governance: malformed CLEAR_RAP_SHEET params: %v", err)
		}
		if a.Engine != nil {
			a.Engine.ClearRapSheet(p.OperatorPubkey)
		}
		return nil

	default:
		return fmt.Errorf("governance: unhandled action %q", body.Action)
	}
}

// pendingEvaluator is installed for a governance-discovered dimension
// until an operator binary ships the real evaluator for it; it always
// abstains with a zero score rather than panicking or blocking the
// judgment pipeline. Discovery is human-gated (§9 "automatic adoption
// is out of scope") — this is a placeholder, not an evaluation.
func pendingEvaluator(name string) dimension.Evaluator {
	return func(item []byte, ctx map[string]any) (float64, error) {
		return 0, cynicerr.Newf(cynicerr.DimensionEvaluation, "dimension %q: no evaluator bound yet", name)
	}
}
