// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/burnchaindb/pkg/burnchain"
)

// CommitMetadata is a BlockCommitMetadata row (spec §3).
type CommitMetadata struct {
	BurnBlockHash         burnchain.BlockHash
	Txid                  burnchain.Txid
	Height                uint64
	VtxIndex              burnchain.VtxIndex
	ParentBlockPtr        burnchain.BlockPtr
	ParentVtxIndex        burnchain.VtxIndex
	AffirmationID         int64
	AnchorBlock           burnchain.RewardCycle
	AnchorBlockDescendant burnchain.RewardCycle
}

func scanCommitMetadata(row interface{ Scan(dest ...any) error }) (CommitMetadata, error) {
	var m CommitMetadata
	var blockHashHex, txidHex string
	var anchorBlock, anchorDescendant int64
	if err := row.Scan(&blockHashHex, &txidHex, &m.Height, &m.VtxIndex,
		&m.ParentBlockPtr, &m.ParentVtxIndex, &m.AffirmationID, &anchorBlock, &anchorDescendant); err != nil {
		return CommitMetadata{}, err
	}
	m.BurnBlockHash = burnchain.BlockHash(common.HexToHash(blockHashHex))
	m.Txid = burnchain.Txid(common.HexToHash(txidHex))
	m.AnchorBlock = burnchain.RewardCycle(anchorBlock)
	m.AnchorBlockDescendant = burnchain.RewardCycle(anchorDescendant)
	return m, nil
}

const commitMetadataColumns = `burn_block_hash, txid, height, vtxindex, parent_block_ptr, parent_vtxindex, affirmation_id, anchor_block, anchor_block_descendant`

// InsertDefaultCommitMetadata inserts the placeholder metadata row created
// at ingest time for a LeaderBlockCommit op: affirmation_id 0, anchor_block
// and anchor_block_descendant both SENTINEL (spec §3, §4.2 step 4).
func (s *Store) InsertDefaultCommitMetadata(ctx context.Context, tx *Tx, blockHash burnchain.BlockHash, op burnchain.TypedOp) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO block_commit_metadata (`+commitMetadataColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		blockHash.Hex(), op.Txid.Hex(), op.Height, op.VtxIndex,
		op.ParentBlockPtr, op.ParentVtxIndex,
		int64(burnchain.SentinelCycle), int64(burnchain.SentinelCycle),
	)
	if err != nil {
		return fmt.Errorf("burnchain db: insert commit metadata: %w", err)
	}
	return nil
}

// UpdateCommitMetadata sets a commit's affirmation_id and
// anchor_block_descendant, the common post-step of both affirmation-map
// construction paths (spec §4.4 "Post-step").
func (s *Store) UpdateCommitMetadata(ctx context.Context, tx *Tx, blockHash burnchain.BlockHash, txid burnchain.Txid, affirmationID int64, anchorDescendant burnchain.RewardCycle) error {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE block_commit_metadata SET affirmation_id = ?, anchor_block_descendant = ?
		 WHERE burn_block_hash = ? AND txid = ?`,
		affirmationID, int64(anchorDescendant), blockHash.Hex(), txid.Hex(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return &CorruptionError{Reason: fmt.Sprintf("affirmation_id %d has no backing affirmation_maps row", affirmationID)}
		}
		return fmt.Errorf("burnchain db: update commit metadata: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &CorruptionError{Reason: fmt.Sprintf("no commit metadata row for (%s, %s)", blockHash.Hex(), txid.Hex())}
	}
	return nil
}

// GetCommitMetadata returns the metadata row for (blockHash, txid), or
// ErrNotFound. A nil tx reads the committed snapshot.
func (s *Store) GetCommitMetadata(ctx context.Context, tx *Tx, blockHash burnchain.BlockHash, txid burnchain.Txid) (CommitMetadata, error) {
	row := s.q(tx).QueryRowContext(ctx,
		`SELECT `+commitMetadataColumns+` FROM block_commit_metadata WHERE burn_block_hash = ? AND txid = ?`,
		blockHash.Hex(), txid.Hex())
	m, err := scanCommitMetadata(row)
	if err == sql.ErrNoRows {
		return CommitMetadata{}, ErrNotFound
	}
	if err != nil {
		return CommitMetadata{}, fmt.Errorf("burnchain db: get commit metadata: %w", err)
	}
	return m, nil
}

// GetLeaderBlockCommitsInBlock returns every LeaderBlockCommit operation in
// blockHash, ordered by vtxindex (spec §4.3 step 1).
func (s *Store) GetLeaderBlockCommitsInBlock(ctx context.Context, tx *Tx, blockHash burnchain.BlockHash) ([]burnchain.TypedOp, error) {
	ops, err := s.getBlockOps(ctx, tx, blockHash)
	if err != nil {
		return nil, err
	}
	out := ops[:0:0]
	for _, op := range ops {
		if op.Type == burnchain.OpLeaderBlockCommit {
			out = append(out, op)
		}
	}
	return out, nil
}

// GetCommitInBlockAt looks up the block-commit at (height, vtxindex) within
// a specific block hash directly, without resolving the canonical header
// at that height first (spec §4.1 get_commit_in_block_at).
func (s *Store) GetCommitInBlockAt(ctx context.Context, tx *Tx, blockHash burnchain.BlockHash, height uint64, vtx burnchain.VtxIndex) (burnchain.TypedOp, CommitMetadata, bool, error) {
	ops, err := s.getBlockOps(ctx, tx, blockHash)
	if err != nil {
		return burnchain.TypedOp{}, CommitMetadata{}, false, err
	}
	for _, op := range ops {
		if op.Type == burnchain.OpLeaderBlockCommit && op.Height == height && op.VtxIndex == vtx {
			meta, err := s.GetCommitMetadata(ctx, tx, blockHash, op.Txid)
			if err != nil {
				return burnchain.TypedOp{}, CommitMetadata{}, false, err
			}
			return op, meta, true, nil
		}
	}
	return burnchain.TypedOp{}, CommitMetadata{}, false, nil
}

// GetCommitAt resolves the canonical header at height via the external
// header-reader hr, then looks up the block-commit at (height, vtx) within
// that header's block. Returns found=false if hr has no header at that
// height (e.g. after a reorganization pruned it) or no commit sits at that
// slot (spec §4.1 get_commit_at). hr is the authority on "which header is
// canonical at this height right now"; Store's own headers table may lag
// it or carry headers hr no longer considers canonical.
func (s *Store) GetCommitAt(ctx context.Context, tx *Tx, hr burnchain.HeaderReader, height uint64, vtx burnchain.VtxIndex) (burnchain.TypedOp, CommitMetadata, bool, error) {
	headers, err := hr.ReadHeaders(height, height+1)
	if err != nil {
		return burnchain.TypedOp{}, CommitMetadata{}, false, fmt.Errorf("burnchain db: read headers: %w", err)
	}
	if len(headers) == 0 {
		return burnchain.TypedOp{}, CommitMetadata{}, false, nil
	}
	return s.GetCommitInBlockAt(ctx, tx, headers[0].BlockHash, height, vtx)
}
