// Copyright 2025 Certen Protocol
//
// Package descendancy recomputes block-commit affirmation state whenever a
// new block's commits are stored, or whenever a reward cycle's derived
// state needs to be rebuilt after an anchor block election or reset. It
// owns the reward-phase side of the affirmation engine's wiring (spec
// §4.3, §4.5); the prepare-phase side is driven by pkg/anchor, which
// elects a cycle's anchor block before this engine's reward-phase pass
// over that cycle is allowed to run.
package descendancy

import (
	"context"
	"fmt"
	"log"

	"github.com/certen/burnchaindb/pkg/burnchain"
	"github.com/certen/burnchaindb/pkg/store"
)

// Engine recomputes descendancy and reward-phase affirmation maps for
// commits, reading headers through hr rather than the store's own headers
// table so a fork-aware caller can drive it with whatever it currently
// considers canonical.
type Engine struct {
	store  *store.Store
	bc     *burnchain.Burnchain
	hr     burnchain.HeaderReader
	logger *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the engine's logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New builds a descendancy engine over s, scoped to bc's schedule and
// resolving headers through hr.
func New(s *store.Store, bc *burnchain.Burnchain, hr burnchain.HeaderReader, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		bc:     bc,
		hr:     hr,
		logger: log.New(log.Writer(), "[descendancy] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpdateBlockDescendancy runs the descendancy engine (spec §4.3) over every
// LeaderBlockCommit stored in blockHash: resolves each commit's parent, and
// either assigns the empty map (parent absent or reward-cycle-incompatible)
// or delegates to the reward-phase affirmation construction.
func (e *Engine) UpdateBlockDescendancy(ctx context.Context, tx *store.Tx, blockHash burnchain.BlockHash) error {
	commits, err := e.store.GetLeaderBlockCommitsInBlock(ctx, tx, blockHash)
	if err != nil {
		return fmt.Errorf("descendancy: list block commits: %w", err)
	}
	if len(commits) == 0 {
		return nil
	}

	for _, commit := range commits {
		if burnchain.IsGenesisParent(commit.ParentBlockPtr, commit.ParentVtxIndex) {
			if err := e.store.UpdateCommitMetadata(ctx, tx, blockHash, commit.Txid, 0, burnchain.SentinelCycle); err != nil {
				return fmt.Errorf("descendancy: %s builds on genesis: %w", commit.Txid.Hex(), err)
			}
			continue
		}

		_, parentMeta, found, err := e.store.GetCommitAt(ctx, tx, e.hr, uint64(commit.ParentBlockPtr), commit.ParentVtxIndex)
		if err != nil {
			return fmt.Errorf("descendancy: resolve parent of %s: %w", commit.Txid.Hex(), err)
		}
		if !found {
			e.logger.Printf("no block-commit parent found for %s at (%d,%d); marking invalid",
				commit.Txid.Hex(), commit.ParentBlockPtr, commit.ParentVtxIndex)
			if err := e.store.UpdateCommitMetadata(ctx, tx, blockHash, commit.Txid, 0, burnchain.SentinelCycle); err != nil {
				return err
			}
			continue
		}

		_, childCycle, ok := e.bc.GetParentChildRewardCycles(parentMeta.Height, commit.Height)
		if !ok {
			e.logger.Printf("no compatible parent reward cycle for %s", commit.Txid.Hex())
			if err := e.store.UpdateCommitMetadata(ctx, tx, blockHash, commit.Txid, 0, burnchain.SentinelCycle); err != nil {
				return err
			}
			continue
		}

		if _, err := e.store.ConstructRewardPhaseAffirmation(ctx, tx, childCycle, blockHash, commit, parentMeta); err != nil {
			return fmt.Errorf("descendancy: reward-phase affirmation for %s: %w", commit.Txid.Hex(), err)
		}
	}
	return nil
}

// UpdateRewardPhaseDescendancies re-runs UpdateBlockDescendancy over every
// header in the reward portion of cycle, excluding its trailing
// prepare-phase suffix (spec §4.5). Callers must have already finished the
// cycle's prepare-phase anchor-block election (pkg/anchor) before invoking
// this, since the reward-phase recomputation reads anchor-block status.
func (e *Engine) UpdateRewardPhaseDescendancies(ctx context.Context, tx *store.Tx, cycle burnchain.RewardCycle) error {
	first := e.bc.RewardCycleToBlockHeight(cycle)
	last := e.bc.RewardPhaseEnd(cycle)
	if last <= first {
		return nil
	}
	headers, err := e.hr.ReadHeaders(first, last)
	if err != nil {
		return fmt.Errorf("descendancy: read reward-phase headers for cycle %d: %w", uint64(cycle), err)
	}
	end := first + uint64(len(headers))
	if end > last {
		end = last
	}

	e.logger.Printf("updating reward-phase descendancies for cycle %d over heights [%d,%d)", uint64(cycle), first, end)
	for h := first; h < end; h++ {
		hdr := headers[h-first]
		if err := e.UpdateBlockDescendancy(ctx, tx, hdr.BlockHash); err != nil {
			return err
		}
	}
	return nil
}
