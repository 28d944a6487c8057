// Copyright 2025 Certen Protocol

package burnchain

// PoxConstants carries the schedule parameters of the PoX reward cycle: its
// total length and the length of the trailing prepare phase in which anchor
// blocks are elected.
type PoxConstants struct {
	RewardCycleLength uint64
	PrepareLength     uint64
}

// Burnchain bundles the genesis parameters and PoX schedule an indexer is
// configured against (spec §6 "Burnchain parameters").
type Burnchain struct {
	FirstBlockHeight    uint64
	FirstBlockHash      BlockHash
	FirstBlockTimestamp uint64
	PoxConstants        PoxConstants
}

// RewardCycleToBlockHeight returns the height of the first block in cycle rc.
func (b *Burnchain) RewardCycleToBlockHeight(rc RewardCycle) uint64 {
	return b.FirstBlockHeight + uint64(rc)*b.PoxConstants.RewardCycleLength
}

// BlockHeightToRewardCycle returns the cycle containing height, or false if
// height lies before the genesis block.
func (b *Burnchain) BlockHeightToRewardCycle(height uint64) (RewardCycle, bool) {
	if height < b.FirstBlockHeight {
		return 0, false
	}
	return RewardCycle((height - b.FirstBlockHeight) / b.PoxConstants.RewardCycleLength), true
}

// IsInPreparePhase reports whether height falls in the trailing
// prepare-phase suffix of its reward cycle.
func (b *Burnchain) IsInPreparePhase(height uint64) bool {
	if height < b.FirstBlockHeight {
		return false
	}
	offset := (height - b.FirstBlockHeight) % b.PoxConstants.RewardCycleLength
	return offset >= b.PoxConstants.RewardCycleLength-b.PoxConstants.PrepareLength
}

// RewardPhaseEnd returns the height one past the last reward-phase block of
// cycle rc (i.e. the first block of rc's prepare-phase suffix).
func (b *Burnchain) RewardPhaseEnd(rc RewardCycle) uint64 {
	return b.RewardCycleToBlockHeight(rc) + b.PoxConstants.RewardCycleLength - b.PoxConstants.PrepareLength
}

// GetParentChildRewardCycles returns the (parent_cycle, child_cycle) pair iff
// parentHeight -> childHeight is a valid parent-child relationship under
// this schedule: the child must lie in the same cycle as the parent or a
// later one (spec §4.3).
func (b *Burnchain) GetParentChildRewardCycles(parentHeight, childHeight uint64) (parentCycle, childCycle RewardCycle, ok bool) {
	pc, ok1 := b.BlockHeightToRewardCycle(parentHeight)
	cc, ok2 := b.BlockHeightToRewardCycle(childHeight)
	if !ok1 || !ok2 || cc < pc {
		return 0, 0, false
	}
	return pc, cc, true
}
