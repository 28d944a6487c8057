// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/burnchaindb/pkg/burnchain"
)

func scanHeader(row interface {
	Scan(dest ...any) error
}) (burnchain.Header, error) {
	var h burnchain.Header
	var blockHashHex, parentHashHex string
	if err := row.Scan(&blockHashHex, &h.Height, &parentHashHex, &h.NumTxs, &h.Timestamp); err != nil {
		return burnchain.Header{}, err
	}
	h.BlockHash = burnchain.BlockHash(common.HexToHash(blockHashHex))
	h.ParentHash = burnchain.BlockHash(common.HexToHash(parentHashHex))
	return h, nil
}

// InsertHeader writes a block header within tx. Returns ErrAlreadyExists if
// block_hash is already present (spec §4.2: duplicate headers rejected by
// the schema's uniqueness constraint).
func (s *Store) InsertHeader(ctx context.Context, tx *Tx, h burnchain.Header) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO burnchain_db_block_headers (block_hash, height, parent_block_hash, num_txs, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		h.BlockHash.Hex(), h.Height, h.ParentHash.Hex(), h.NumTxs, h.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("burnchain db: insert header %s: %w", h.BlockHash.Hex(), ErrAlreadyExists)
		}
		return fmt.Errorf("burnchain db: insert header: %w", err)
	}
	return nil
}

// CanonicalTip returns the header with the greatest height, ties broken by
// ascending block_hash (spec §4.1, deterministic).
func (s *Store) CanonicalTip(ctx context.Context) (burnchain.Header, error) {
	row := s.rdb.QueryRowContext(ctx,
		`SELECT block_hash, height, parent_block_hash, num_txs, timestamp
		 FROM burnchain_db_block_headers
		 ORDER BY height DESC, block_hash ASC
		 LIMIT 1`)
	h, err := scanHeader(row)
	if err != nil {
		return burnchain.Header{}, fmt.Errorf("burnchain db: canonical tip: %w", err)
	}
	return h, nil
}

// CanonicalTipHeight is a convenience wrapper over CanonicalTip used by the
// selector and descendancy passes (SPEC_FULL §5).
func (s *Store) CanonicalTipHeight(ctx context.Context) (uint64, error) {
	h, err := s.CanonicalTip(ctx)
	if err != nil {
		return 0, err
	}
	return h.Height, nil
}

// GetHeaderByHash returns the header for hash, or ErrUnknownBlock.
func (s *Store) GetHeaderByHash(ctx context.Context, hash burnchain.BlockHash) (burnchain.Header, error) {
	row := s.rdb.QueryRowContext(ctx,
		`SELECT block_hash, height, parent_block_hash, num_txs, timestamp
		 FROM burnchain_db_block_headers WHERE block_hash = ?`, hash.Hex())
	h, err := scanHeader(row)
	if err == sql.ErrNoRows {
		return burnchain.Header{}, ErrUnknownBlock
	}
	if err != nil {
		return burnchain.Header{}, fmt.Errorf("burnchain db: get header: %w", err)
	}
	return h, nil
}

// GetCanonicalHeaderAtHeight returns the header at height with the smallest
// block_hash (the same ascending tie-break CanonicalTip uses among forks
// stored at one height), or ErrUnknownBlock if no header exists at that height —
// e.g. after a reorganization pruned it (spec §4.1 get_commit_at).
func (s *Store) GetCanonicalHeaderAtHeight(ctx context.Context, height uint64) (burnchain.Header, error) {
	row := s.rdb.QueryRowContext(ctx,
		`SELECT block_hash, height, parent_block_hash, num_txs, timestamp
		 FROM burnchain_db_block_headers WHERE height = ?
		 ORDER BY block_hash ASC LIMIT 1`, height)
	h, err := scanHeader(row)
	if err == sql.ErrNoRows {
		return burnchain.Header{}, ErrUnknownBlock
	}
	if err != nil {
		return burnchain.Header{}, fmt.Errorf("burnchain db: get header at height: %w", err)
	}
	return h, nil
}

// GetBlock returns a header plus its operations in vtxindex order. Fails
// with ErrUnknownBlock if hash is absent (spec §4.1).
func (s *Store) GetBlock(ctx context.Context, hash burnchain.BlockHash) (burnchain.Header, []burnchain.TypedOp, error) {
	h, err := s.GetHeaderByHash(ctx, hash)
	if err != nil {
		return burnchain.Header{}, nil, err
	}
	ops, err := s.getBlockOps(ctx, nil, hash)
	if err != nil {
		return burnchain.Header{}, nil, err
	}
	return h, ops, nil
}
