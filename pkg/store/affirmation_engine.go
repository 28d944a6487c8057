// Copyright 2025 Certen Protocol
//
// Affirmation-map construction (spec §4.4). Both paths share the same
// post-step — intern the resulting map, then update the commit's metadata
// row — so each returns only the assigned affirmation id and leaves that
// step to its caller-visible completion at the bottom of the function,
// mirroring the original update_block_commit_affirmation() call sites.
package store

import (
	"context"
	"fmt"

	"github.com/certen/burnchaindb/pkg/affirmation"
	"github.com/certen/burnchaindb/pkg/burnchain"
)

// ConstructRewardPhaseAffirmation implements the reward-phase path (spec
// §4.4.b): the commit lies in the non-prepare portion of childCycle and
// simply extends its parent's map up through childCycle. parentMeta must be
// the already-resolved metadata of the commit's parent.
func (s *Store) ConstructRewardPhaseAffirmation(
	ctx context.Context,
	tx *Tx,
	childCycle burnchain.RewardCycle,
	commitBlockHash burnchain.BlockHash,
	commit burnchain.TypedOp,
	parentMeta CommitMetadata,
) (int64, error) {
	if uint64(commit.ParentBlockPtr) != parentMeta.Height || commit.ParentVtxIndex != parentMeta.VtxIndex {
		return 0, &CorruptionError{Reason: fmt.Sprintf(
			"reward-phase commit %s parent pointer (%d,%d) does not match resolved parent (%d,%d)",
			commit.Txid.Hex(), commit.ParentBlockPtr, commit.ParentVtxIndex, parentMeta.Height, parentMeta.VtxIndex)}
	}

	am, err := s.GetAffirmationMapByID(ctx, tx, parentMeta.AffirmationID)
	if err != nil {
		return 0, err
	}
	for rc := uint64(am.Len()) + 1; rc <= uint64(childCycle); rc++ {
		has, err := s.HasAnchorBlock(ctx, tx, burnchain.RewardCycle(rc))
		if err != nil {
			return 0, err
		}
		if has {
			am = am.Append(affirmation.Absent)
		} else {
			am = am.Append(affirmation.Nothing)
		}
	}

	id, err := s.InternAffirmationMap(ctx, tx, am)
	if err != nil {
		return 0, err
	}
	if err := s.UpdateCommitMetadata(ctx, tx, commitBlockHash, commit.Txid, id, parentMeta.AnchorBlockDescendant); err != nil {
		return 0, err
	}
	return id, nil
}

// ConstructPreparePhaseAffirmation implements the prepare-phase path (spec
// §4.4.a). cycle is the reward cycle whose prepare phase commit belongs to.
// anchorMeta is the elected candidate anchor block's own commit metadata, or
// nil if no anchor has been elected for cycle; descendsFromAnchorBlock tells
// whether commit's chain descends from that candidate.
func (s *Store) ConstructPreparePhaseAffirmation(
	ctx context.Context,
	tx *Tx,
	hr burnchain.HeaderReader,
	bc *burnchain.Burnchain,
	cycle burnchain.RewardCycle,
	commitBlockHash burnchain.BlockHash,
	commit burnchain.TypedOp,
	anchorMeta *CommitMetadata,
	descendsFromAnchorBlock bool,
) (int64, error) {
	_, parentMeta, found, err := s.GetCommitAt(ctx, tx, hr, uint64(commit.ParentBlockPtr), commit.ParentVtxIndex)
	if err != nil {
		return 0, fmt.Errorf("burnchain db: resolve prepare-phase parent: %w", err)
	}
	if !found {
		// No parent resolvable (and not genesis-parented, since genesis
		// parents are filtered out by the caller before this is invoked):
		// the commit cannot be scored, so it gets the empty map.
		if err := s.UpdateCommitMetadata(ctx, tx, commitBlockHash, commit.Txid, 0, burnchain.SentinelCycle); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var am affirmation.Map
	var anchorDescendant burnchain.RewardCycle

	if anchorMeta != nil {
		abAM, err := s.GetAffirmationMapByID(ctx, tx, anchorMeta.AffirmationID)
		if err != nil {
			return 0, err
		}
		if descendsFromAnchorBlock {
			am = abAM.Append(affirmation.Present)
			anchorDescendant = cycle
		} else {
			am = abAM.Append(affirmation.Absent)
			anchorDescendant = parentMeta.AnchorBlockDescendant
		}
	} else {
		parentCycle, _, ok := bc.GetParentChildRewardCycles(parentMeta.Height, commit.Height)
		if !ok {
			return 0, &CorruptionError{Reason: fmt.Sprintf(
				"prepare-phase commit %s has no compatible parent reward cycle", commit.Txid.Hex())}
		}

		pad := parentMeta.AnchorBlockDescendant
		if !pad.IsSentinel() {
			// P already affirmed some prior anchor block at cycle pad:
			// load THAT anchor block's own map, not P's map.
			_, prevMeta, ok, err := s.GetAnchorBlockCommit(ctx, tx, pad)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, &CorruptionError{Reason: fmt.Sprintf(
					"commit descends from anchor block at reward cycle %d, but no anchor block is registered there", uint64(pad))}
			}
			prevAM, err := s.GetAffirmationMapByID(ctx, tx, prevMeta.AffirmationID)
			if err != nil {
				return 0, err
			}
			if uint64(prevAM.Len()) < uint64(pad) {
				// the prior anchor's own map has not yet voted on its own
				// cycle; C affirms it by extending its length.
				prevAM = prevAM.Append(affirmation.Present)
			}
			am = prevAM
			anchorDescendant = pad
		} else {
			parentAM, err := s.GetAffirmationMapByID(ctx, tx, parentMeta.AffirmationID)
			if err != nil {
				return 0, err
			}
			if uint64(parentAM.Len()) < uint64(parentCycle) {
				parentAM = parentAM.Append(affirmation.Nothing)
			}
			am = parentAM
			anchorDescendant = burnchain.SentinelCycle
		}

		for rc := uint64(am.Len()) + 1; rc <= uint64(cycle); rc++ {
			has, err := s.HasAnchorBlock(ctx, tx, burnchain.RewardCycle(rc))
			if err != nil {
				return 0, err
			}
			if has {
				am = am.Append(affirmation.Absent)
			} else {
				am = am.Append(affirmation.Nothing)
			}
		}
	}

	id, err := s.InternAffirmationMap(ctx, tx, am)
	if err != nil {
		return 0, err
	}
	if err := s.UpdateCommitMetadata(ctx, tx, commitBlockHash, commit.Txid, id, anchorDescendant); err != nil {
		return 0, err
	}
	return id, nil
}
