// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/certen/burnchaindb/pkg/affirmation"
	"github.com/certen/burnchaindb/pkg/burnchain"
)

// SetAnchorBlock designates (blockHash, txid) as the anchor block for
// reward_cycle, inserting it into the registry and updating the commit's
// metadata row (spec §4.5). Any commit previously marked as cycle's anchor
// is reset to SENTINEL first, preserving invariant 3 ("at most one commit
// per reward cycle has anchor_block != SENTINEL").
func (s *Store) SetAnchorBlock(ctx context.Context, tx *Tx, blockHash burnchain.BlockHash, txid burnchain.Txid, cycle burnchain.RewardCycle) error {
	if cycle.IsSentinel() {
		return fmt.Errorf("burnchain db: cannot set anchor block at sentinel cycle")
	}

	if _, err := tx.tx.ExecContext(ctx,
		`UPDATE block_commit_metadata SET anchor_block = ? WHERE anchor_block = ?`,
		int64(burnchain.SentinelCycle), int64(cycle)); err != nil {
		return fmt.Errorf("burnchain db: clear prior anchor for cycle %d: %w", cycle, err)
	}

	if _, err := tx.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO anchor_blocks (reward_cycle) VALUES (?)`, int64(cycle)); err != nil {
		return fmt.Errorf("burnchain db: insert anchor registry row: %w", err)
	}

	res, err := tx.tx.ExecContext(ctx,
		`UPDATE block_commit_metadata SET anchor_block = ? WHERE burn_block_hash = ? AND txid = ?`,
		int64(cycle), blockHash.Hex(), txid.Hex())
	if err != nil {
		return fmt.Errorf("burnchain db: set anchor block: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &CorruptionError{Reason: fmt.Sprintf("no commit metadata row for (%s, %s)", blockHash.Hex(), txid.Hex())}
	}
	return nil
}

// ClearAnchorBlock resets every metadata row whose anchor_block == cycle
// back to SENTINEL. The registry row is retained: it remains a valid
// foreign-key target with no referring rows (spec §4.5, §9 — do not
// "tidy" by deleting the registry row).
func (s *Store) ClearAnchorBlock(ctx context.Context, tx *Tx, cycle burnchain.RewardCycle) error {
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE block_commit_metadata SET anchor_block = ? WHERE anchor_block = ?`,
		int64(burnchain.SentinelCycle), int64(cycle))
	if err != nil {
		return fmt.Errorf("burnchain db: clear anchor block: %w", err)
	}
	return nil
}

// HasAnchorBlock reports whether some commit's metadata currently carries
// anchor_block == cycle. Defined in terms of metadata, not the registry
// table, so that ClearAnchorBlock's retained registry row does not make
// this report a stale true (spec §9).
func (s *Store) HasAnchorBlock(ctx context.Context, tx *Tx, cycle burnchain.RewardCycle) (bool, error) {
	if cycle.IsSentinel() {
		return false, nil
	}
	var n int
	err := s.q(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM block_commit_metadata WHERE anchor_block = ?`, int64(cycle)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("burnchain db: has anchor block: %w", err)
	}
	return n > 0, nil
}

// GetAnchorBlockCommit returns the commit and metadata designated as
// cycle's anchor block, or found=false if none (spec §4.1
// get_anchor_block_commit; returns absent for the sentinel cycle).
func (s *Store) GetAnchorBlockCommit(ctx context.Context, tx *Tx, cycle burnchain.RewardCycle) (burnchain.TypedOp, CommitMetadata, bool, error) {
	if cycle.IsSentinel() {
		return burnchain.TypedOp{}, CommitMetadata{}, false, nil
	}
	row := s.q(tx).QueryRowContext(ctx,
		`SELECT `+commitMetadataColumns+` FROM block_commit_metadata WHERE anchor_block = ? LIMIT 1`, int64(cycle))
	meta, err := scanCommitMetadata(row)
	if err == sql.ErrNoRows {
		return burnchain.TypedOp{}, CommitMetadata{}, false, nil
	}
	if err != nil {
		return burnchain.TypedOp{}, CommitMetadata{}, false, fmt.Errorf("burnchain db: get anchor block commit: %w", err)
	}
	op, err := s.GetOp(ctx, tx, meta.Txid)
	if err != nil {
		return burnchain.TypedOp{}, CommitMetadata{}, false, fmt.Errorf("burnchain db: get anchor block commit op: %w", err)
	}
	return op, meta, true, nil
}

// ClearRewardCycleDescendancies resets every commit whose height falls in
// [cycleStart, nextCycleStart) back to affirmation_id 0, anchor_block
// SENTINEL, anchor_block_descendant SENTINEL (spec §4.5). Invoked when a
// reorganization invalidates a cycle's derived state and the caller intends
// to recompute it via the descendancy and affirmation engines.
func (s *Store) ClearRewardCycleDescendancies(ctx context.Context, tx *Tx, bc *burnchain.Burnchain, cycle burnchain.RewardCycle) error {
	start := bc.RewardCycleToBlockHeight(cycle)
	end := bc.RewardCycleToBlockHeight(cycle + 1)
	_, err := tx.tx.ExecContext(ctx,
		`UPDATE block_commit_metadata
		 SET affirmation_id = 0, anchor_block = ?, anchor_block_descendant = ?
		 WHERE height >= ? AND height < ?`,
		int64(burnchain.SentinelCycle), int64(burnchain.SentinelCycle), start, end)
	if err != nil {
		return fmt.Errorf("burnchain db: clear reward cycle descendancies: %w", err)
	}
	return nil
}

// ============================================================================
// OVERRIDES
// ============================================================================

// SetOverride installs an operator override map for reward_cycle. Per spec
// §3 invariant 7, the overridden map's length must equal cycle-1; a
// violation is a fatal invariant error (spec §7), not a validation error
// the caller can shrug off.
func (s *Store) SetOverride(ctx context.Context, tx *Tx, cycle burnchain.RewardCycle, m affirmation.Map) error {
	if uint64(m.Len())+1 != uint64(cycle) {
		return &CorruptionError{Reason: fmt.Sprintf("override at cycle %d has length %d, want %d", cycle, m.Len(), cycle-1)}
	}
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO overrides (reward_cycle, encoded_map) VALUES (?, ?)
		 ON CONFLICT(reward_cycle) DO UPDATE SET encoded_map = excluded.encoded_map`,
		int64(cycle), m.Encode())
	if err != nil {
		return fmt.Errorf("burnchain db: set override: %w", err)
	}
	return nil
}

// ClearOverride removes the override at cycle, if any.
func (s *Store) ClearOverride(ctx context.Context, tx *Tx, cycle burnchain.RewardCycle) error {
	_, err := tx.tx.ExecContext(ctx, `DELETE FROM overrides WHERE reward_cycle = ?`, int64(cycle))
	if err != nil {
		return fmt.Errorf("burnchain db: clear override: %w", err)
	}
	return nil
}

// GetOverride returns the override map installed for cycle, if any.
func (s *Store) GetOverride(ctx context.Context, cycle burnchain.RewardCycle) (affirmation.Map, bool, error) {
	var encoded string
	err := s.rdb.QueryRowContext(ctx,
		`SELECT encoded_map FROM overrides WHERE reward_cycle = ?`, int64(cycle)).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("burnchain db: get override: %w", err)
	}
	m, err := affirmation.Decode(encoded)
	if err != nil {
		return nil, false, &ParseError{Column: "encoded_map", Value: encoded, Err: err}
	}
	return m, true, nil
}
