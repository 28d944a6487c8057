// Copyright 2025 Certen Protocol
//
// Package anchor orchestrates anchor-block designation and the
// prepare-phase side of affirmation-map construction (spec §4.4.a, §4.5).
// Which block-commit an operator elects as the anchor for a cycle is
// decided outside this module — it depends on a sortition/reward-set
// computation this repository treats as an external concern, the same way
// transaction classification and burn-chain header delivery are external
// collaborators (spec §6). What this package owns is: given a candidate,
// recompute the prepare-phase affirmation maps of every commit in that
// phase against it, and keep the anchor registry and reward-phase
// descendancy in sync when a reorganization forces a cycle to be redone.
package anchor

import (
	"context"
	"fmt"
	"log"

	"github.com/certen/burnchaindb/pkg/burnchain"
	"github.com/certen/burnchaindb/pkg/descendancy"
	"github.com/certen/burnchaindb/pkg/store"
)

// Candidate is a block-commit nominated as a reward cycle's anchor block.
type Candidate struct {
	BlockHash burnchain.BlockHash
	Op        burnchain.TypedOp
}

// Orchestrator ties together the store's anchor-registry primitives, the
// descendancy engine, and the prepare-phase construction algorithm.
type Orchestrator struct {
	store  *store.Store
	bc     *burnchain.Burnchain
	hr     burnchain.HeaderReader
	desc   *descendancy.Engine
	logger *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the orchestrator's logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New builds an anchor orchestrator. desc must be built over the same
// store, burnchain parameters, and header-reader.
func New(s *store.Store, bc *burnchain.Burnchain, hr burnchain.HeaderReader, desc *descendancy.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  s,
		bc:     bc,
		hr:     hr,
		desc:   desc,
		logger: log.New(log.Writer(), "[anchor] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// prepareWindow returns the [start, end) block-height range of cycle's
// trailing prepare phase.
func (o *Orchestrator) prepareWindow(cycle burnchain.RewardCycle) (uint64, uint64) {
	start := o.bc.RewardPhaseEnd(cycle)
	end := o.bc.RewardCycleToBlockHeight(cycle + 1)
	return start, end
}

// preparePhaseCommits lists every LeaderBlockCommit mined in cycle's
// prepare-phase window, in header order then vtxindex order.
func (o *Orchestrator) preparePhaseCommits(ctx context.Context, tx *store.Tx, cycle burnchain.RewardCycle) ([]Candidate, error) {
	start, end := o.prepareWindow(cycle)
	if end <= start {
		return nil, nil
	}
	headers, err := o.hr.ReadHeaders(start, end)
	if err != nil {
		return nil, fmt.Errorf("anchor: read prepare-phase headers for cycle %d: %w", uint64(cycle), err)
	}
	var out []Candidate
	for _, hdr := range headers {
		ops, err := o.store.GetLeaderBlockCommitsInBlock(ctx, tx, hdr.BlockHash)
		if err != nil {
			return nil, fmt.Errorf("anchor: list commits in %s: %w", hdr.BlockHash.Hex(), err)
		}
		for _, op := range ops {
			out = append(out, Candidate{BlockHash: hdr.BlockHash, Op: op})
		}
	}
	return out, nil
}

// descendsFrom walks commit's parent-pointer chain looking for target,
// stopping at genesis or once height drops below target's.
func (o *Orchestrator) descendsFrom(ctx context.Context, tx *store.Tx, commit burnchain.TypedOp, target burnchain.TypedOp) (bool, error) {
	cur := commit
	for {
		if cur.Height == target.Height && cur.VtxIndex == target.VtxIndex {
			return true, nil
		}
		if cur.Height <= target.Height {
			return false, nil
		}
		if burnchain.IsGenesisParent(cur.ParentBlockPtr, cur.ParentVtxIndex) {
			return false, nil
		}
		parentOp, _, found, err := o.store.GetCommitAt(ctx, tx, o.hr, uint64(cur.ParentBlockPtr), cur.ParentVtxIndex)
		if err != nil {
			return false, fmt.Errorf("anchor: walk ancestry of %s: %w", commit.Txid.Hex(), err)
		}
		if !found {
			return false, nil
		}
		cur = parentOp
	}
}

// RecomputePreparePhase reconstructs the affirmation map of every
// prepare-phase commit of cycle against candidate (spec §4.4.a). Pass a nil
// candidate to recompute the "no anchor elected" path for every such
// commit. Call this before (or instead of) SetAnchorBlock so the
// anchor-affirming commit itself has an up-to-date affirmation_id by the
// time it is asked for.
func (o *Orchestrator) RecomputePreparePhase(ctx context.Context, tx *store.Tx, cycle burnchain.RewardCycle, candidate *Candidate) error {
	commits, err := o.preparePhaseCommits(ctx, tx, cycle)
	if err != nil {
		return err
	}

	var candMeta *store.CommitMetadata
	if candidate != nil {
		m, err := o.store.GetCommitMetadata(ctx, tx, candidate.BlockHash, candidate.Op.Txid)
		if err != nil {
			return fmt.Errorf("anchor: candidate metadata: %w", err)
		}
		candMeta = &m
	}

	for _, c := range commits {
		if burnchain.IsGenesisParent(c.Op.ParentBlockPtr, c.Op.ParentVtxIndex) {
			if err := o.store.UpdateCommitMetadata(ctx, tx, c.BlockHash, c.Op.Txid, 0, burnchain.SentinelCycle); err != nil {
				return err
			}
			continue
		}

		descends := false
		if candidate != nil {
			descends, err = o.descendsFrom(ctx, tx, c.Op, candidate.Op)
			if err != nil {
				return err
			}
		}
		if _, err := o.store.ConstructPreparePhaseAffirmation(ctx, tx, o.hr, o.bc, cycle, c.BlockHash, c.Op, candMeta, descends); err != nil {
			return fmt.Errorf("anchor: prepare-phase affirmation for %s: %w", c.Op.Txid.Hex(), err)
		}
	}
	return nil
}

// ElectAnchorBlock designates candidate as cycle's anchor block: it
// recomputes the prepare-phase affirmation maps of cycle against the
// candidate, installs the registry entry (spec §4.5 set_anchor_block), then
// re-runs the reward-phase descendancy pass for cycle now that its anchor
// decision is final (spec §4.5 update_reward_phase_descendancies
// precondition).
func (o *Orchestrator) ElectAnchorBlock(ctx context.Context, tx *store.Tx, cycle burnchain.RewardCycle, candidate Candidate) error {
	if err := o.RecomputePreparePhase(ctx, tx, cycle, &candidate); err != nil {
		return err
	}
	if err := o.store.SetAnchorBlock(ctx, tx, candidate.BlockHash, candidate.Op.Txid, cycle); err != nil {
		return fmt.Errorf("anchor: set anchor block for cycle %d: %w", uint64(cycle), err)
	}
	if o.desc != nil {
		if err := o.desc.UpdateRewardPhaseDescendancies(ctx, tx, cycle); err != nil {
			return err
		}
	}
	o.logger.Printf("elected %s as anchor block for cycle %d", candidate.Op.Txid.Hex(), uint64(cycle))
	return nil
}

// DeclineAnchorBlock records that cycle has no anchor block: every
// prepare-phase commit's affirmation map is recomputed with no candidate,
// and the reward phase is rerun.
func (o *Orchestrator) DeclineAnchorBlock(ctx context.Context, tx *store.Tx, cycle burnchain.RewardCycle) error {
	if err := o.RecomputePreparePhase(ctx, tx, cycle, nil); err != nil {
		return err
	}
	if o.desc != nil {
		if err := o.desc.UpdateRewardPhaseDescendancies(ctx, tx, cycle); err != nil {
			return err
		}
	}
	return nil
}

// ResetCycle implements the reorganization-reset flow (spec §4.5): clears
// cycle's derived descendancy state and anchor-block designation so the
// caller can re-run election from scratch.
func (o *Orchestrator) ResetCycle(ctx context.Context, tx *store.Tx, cycle burnchain.RewardCycle) error {
	if err := o.store.ClearAnchorBlock(ctx, tx, cycle); err != nil {
		return err
	}
	if err := o.store.ClearRewardCycleDescendancies(ctx, tx, o.bc, cycle); err != nil {
		return err
	}
	return nil
}
