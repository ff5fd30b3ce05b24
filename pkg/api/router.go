// Copyright 2025 Cynic Protocol
//
// External interfaces (§6): a gin router exposing the node controller
// API consumed by external collaborators. Transport is not normative
// per spec — HTTP/JSON is this deployment's choice, following the
// teacher pack's own gin-based API shape.
package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cynic-protocol/cynic-node/pkg/consensus"
	"github.com/cynic-protocol/cynic-node/pkg/crypto"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
	"github.com/cynic-protocol/cynic-node/pkg/gossip"
	"github.com/cynic-protocol/cynic-node/pkg/governance"
	"github.com/cynic-protocol/cynic-node/pkg/judgment"
	"github.com/cynic-protocol/cynic-node/pkg/knowledge"
	"github.com/cynic-protocol/cynic-node/pkg/merkle"
	"github.com/cynic-protocol/cynic-node/pkg/node"
)

// Handler serves the §6 node controller API over HTTP.
type Handler struct {
	ctrl      *node.Controller
	knowledge *knowledge.Store
	peers     *gossip.PeerSet
	prop      *gossip.Propagator
	engine    *consensus.Engine // nil until the node has joined a voting epoch

	// applier applies the effect of a PASSED governance proposal when
	// tryAdvance commits it. nil until SetGovernanceApplier is called;
	// while nil, committed proposals are not applied.
	applier *governance.Applier

	judgments map[string]*judgment.Judgment
}

// NewHandler wires a Handler over the running controller and its
// components. ctrl may be nil at construction time when the
// controller's Deps.OnJudged must reference this handler's OnJudged
// method before the controller itself can be built; call SetController
// once it is.
func NewHandler(ctrl *node.Controller, kstore *knowledge.Store, peers *gossip.PeerSet, prop *gossip.Propagator, engine *consensus.Engine) *Handler {
	return &Handler{ctrl: ctrl, knowledge: kstore, peers: peers, prop: prop, engine: engine, judgments: make(map[string]*judgment.Judgment)}
}

// SetController attaches the controller once constructed, for the
// NewHandler(nil, ...) then SetController wiring order.
func (h *Handler) SetController(ctrl *node.Controller) {
	h.ctrl = ctrl
}

// SetGovernanceApplier attaches the governance applier that turns a
// PASSED proposal's body into an actual dimension-registry/consensus
// effect (§6). Optional: an engine with no applier attached can still
// vote, it just can't apply what it commits.
func (h *Handler) SetGovernanceApplier(a *governance.Applier) {
	h.applier = a
}

// OnJudged is a node.Deps.OnJudged-compatible hook that indexes every
// judgment the controller produces by id, so get_judgment can serve it.
func (h *Handler) OnJudged(j *judgment.Judgment) {
	h.judgments[j.ID] = j
}

// SetupRouter builds the gin engine with every §6 endpoint registered
// under /api/v1.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	v1 := r.Group("/api/v1")
	{
		v1.POST("/items", h.handleSubmitItem)
		v1.GET("/judgments/:id", h.handleGetJudgment)
		v1.GET("/blocks/:hash", h.handleGetBlock)
		v1.GET("/heads/:operator", h.handleGetHead)
		v1.POST("/verify", h.handleVerifyInclusion)
		v1.POST("/feedback", h.handleSubmitFeedback)
		v1.POST("/proposals", h.handlePropose)
		v1.POST("/proposals/:id/votes", h.handleVote)
		v1.GET("/peers", h.handlePeerStatus)
		v1.GET("/chain/status", h.handleChainStatus)
	}
	return r
}

type submitItemRequest struct {
	Item    []byte         `json:"item" binding:"required"`
	Context map[string]any `json:"context"`
}

// handleSubmitItem implements submit_item(item, context) -> judgment_id.
// The judgment id isn't known synchronously (evaluation runs on the
// worker pool), so this reports "accepted" status; collaborators poll
// get_judgment once OnJudged indexes the result.
func (h *Handler) handleSubmitItem(c *gin.Context) {
	var req submitItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.ctrl.SubmitItem(req.Item, req.Context)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) handleGetJudgment(c *gin.Context) {
	id := c.Param("id")
	j, ok := h.judgments[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "judgment not found"})
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h *Handler) handleGetBlock(c *gin.Context) {
	raw, err := hex.DecodeString(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block hash"})
		return
	}
	hash, err := crypto.HashFromBytes(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block hash"})
		return
	}
	b, ok := h.ctrl.Chain().GetBlock(hash)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) handleGetHead(c *gin.Context) {
	operator, err := hex.DecodeString(c.Param("operator"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operator pubkey"})
		return
	}
	head, ok := h.ctrl.Chain().Head(operator)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no head for operator"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"block_hash": head.String()})
}

type verifyInclusionRequest struct {
	Axiom     dimension.Axiom `json:"axiom" binding:"required"`
	LeafID    string          `json:"leaf_id" binding:"required"`
}

// handleVerifyInclusion implements verify_inclusion(item_hash, proof,
// root) -> bool, scoped to the Knowledge Store: it re-fetches the leaf
// and its proof by id and verifies it against the shard's current
// root, rather than trusting a caller-supplied proof/root pair
// (preventing a forged proof from ever reporting true).
func (h *Handler) handleVerifyInclusion(c *gin.Context) {
	var req verifyInclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_, _, proof, err := h.knowledge.Get(req.Axiom, req.LeafID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	root, err := h.knowledge.Root(req.Axiom)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	valid := proof != nil && proof.MerkleRoot == hex.EncodeToString(root[:]) &&
		merkle.FromInclusionProof(proof, 0).Validate() == nil
	c.JSON(http.StatusOK, gin.H{"valid": valid, "root": crypto.Hash(root).String()})
}

type submitFeedbackRequest struct {
	JudgmentID      string                   `json:"judgment_id" binding:"required"`
	Outcome         knowledge.LearningOutcome `json:"outcome" binding:"required"`
	Axiom           dimension.Axiom          `json:"axiom" binding:"required"`
	ContributorHash string                   `json:"contributor_hash"`
}

func (h *Handler) handleSubmitFeedback(c *gin.Context) {
	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	learning := &knowledge.Learning{
		ID:         req.JudgmentID + ":feedback",
		JudgmentID: req.JudgmentID,
		Outcome:    req.Outcome,
		Axiom:      req.Axiom,
	}
	if req.ContributorHash != "" {
		learning.ContributorHash = crypto.SumHash([]byte(req.ContributorHash))
	}
	if err := h.knowledge.PutLearning(learning); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ack"})
}

type proposeRequest struct {
	ID             string `json:"id" binding:"required"`
	ConflictClass  string `json:"conflict_class" binding:"required"`
	ProposerPubkey string `json:"proposer_pubkey" binding:"required"`
	Body           []byte `json:"body"`
}

func (h *Handler) handlePropose(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "consensus engine not active this epoch"})
		return
	}
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := &consensus.Proposal{ID: req.ID, ConflictClass: req.ConflictClass, ProposerPubkey: req.ProposerPubkey, Body: req.Body}
	if err := h.engine.SubmitProposal(p); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"proposal_id": req.ID})
}

type voteRequest struct {
	Operator  string               `json:"operator" binding:"required"`
	Slot      uint64               `json:"slot"`
	Choice    consensus.VoteChoice `json:"choice" binding:"required"`
	Signature []byte               `json:"signature" binding:"required"`
}

func (h *Handler) handleVote(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "consensus engine not active this epoch"})
		return
	}
	proposalID := c.Param("id")
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v := &consensus.Vote{ProposalID: proposalID, Operator: req.Operator, Slot: req.Slot, Choice: req.Choice, Signature: req.Signature}
	if err := h.engine.CastVote(v); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	stage := h.tryAdvance(proposalID)
	c.JSON(http.StatusOK, gin.H{"status": "ack", "stage": stage})
}

// tryAdvance runs one PREVOTE -> PRECOMMIT -> COMMIT step for
// proposalID after a vote is cast, applying the proposal's governance
// effect the moment it reaches COMMIT. A proposal that reaches
// PRECOMMIT on this call is committed in the same call: no further
// SLOT of votes is awaited and no second tally checks for a contrary
// majority before Commit.
func (h *Handler) tryAdvance(proposalID string) consensus.Stage {
	stage, err := h.engine.AdvancePrecommit(proposalID)
	if err != nil || stage != consensus.StagePrecommit {
		return stage
	}

	if err := h.engine.Commit(proposalID); err != nil {
		return stage
	}

	proposal, committedStage, ok := h.engine.Proposal(proposalID)
	if !ok || h.applier == nil {
		return committedStage
	}
	var body governance.Body
	if err := json.Unmarshal(proposal.Body, &body); err != nil {
		return committedStage
	}
	_ = h.applier.Apply(&body)
	return committedStage
}

func (h *Handler) handlePeerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"peer_count":              h.peers.Len(),
		"measured_propagation_ms": h.prop.MeasuredPropagationMs(),
	})
}

func (h *Handler) handleChainStatus(c *gin.Context) {
	pending, updates := h.ctrl.Chain().PendingSize()
	c.JSON(http.StatusOK, gin.H{
		"state":              h.ctrl.State(),
		"pending_judgments":  pending,
		"pending_updates":    updates,
	})
}

