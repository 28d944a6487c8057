// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/burnchaindb/pkg/burnchain"
)

// opBlob is the JSON shape persisted in burnchain_db_block_ops.op_blob —
// "serialized typed op blob" per spec §3, kept as an opaque column the
// schema never queries into.
type opBlob struct {
	ParentBlockPtr      uint64 `json:"parent_block_ptr,omitempty"`
	ParentVtxIndex      uint32 `json:"parent_vtxindex,omitempty"`
	PreStxOutputAddr    string `json:"pre_stx_output_addr,omitempty"`
	PreStxOutputIdx     uint32 `json:"pre_stx_output_idx,omitempty"`
	StackStxPreStxTxid  string `json:"stack_stx_pre_stx_txid,omitempty"`
	StackStxOutputIndex uint32 `json:"stack_stx_output_index,omitempty"`
	Sender              string `json:"sender,omitempty"`
	Payload             []byte `json:"payload,omitempty"`
}

func encodeOp(op burnchain.TypedOp) ([]byte, error) {
	b := opBlob{
		ParentBlockPtr:      uint64(op.ParentBlockPtr),
		ParentVtxIndex:      uint32(op.ParentVtxIndex),
		PreStxOutputAddr:    op.PreStxOutputAddr,
		PreStxOutputIdx:     op.PreStxOutputIdx,
		StackStxPreStxTxid:  op.StackStxPreStxTxid.Hex(),
		StackStxOutputIndex: op.StackStxOutputIndex,
		Sender:              op.Sender,
		Payload:             op.Payload,
	}
	return json.Marshal(b)
}

func decodeOp(opType string, txid common.Hash, vtx uint32, height uint64, blob []byte) (burnchain.TypedOp, error) {
	var b opBlob
	if err := json.Unmarshal(blob, &b); err != nil {
		return burnchain.TypedOp{}, &ParseError{Column: "op_blob", Value: string(blob), Err: err}
	}
	return burnchain.TypedOp{
		Type:                burnchain.OpType(opType),
		Txid:                burnchain.Txid(txid),
		VtxIndex:            burnchain.VtxIndex(vtx),
		Height:              height,
		ParentBlockPtr:      burnchain.BlockPtr(b.ParentBlockPtr),
		ParentVtxIndex:      burnchain.VtxIndex(b.ParentVtxIndex),
		PreStxOutputAddr:    b.PreStxOutputAddr,
		PreStxOutputIdx:     b.PreStxOutputIdx,
		StackStxPreStxTxid:  burnchain.Txid(common.HexToHash(b.StackStxPreStxTxid)),
		StackStxOutputIndex: b.StackStxOutputIndex,
		Sender:              b.Sender,
		Payload:             b.Payload,
	}, nil
}

// InsertOp writes a single classified operation within tx. Caller is
// responsible for the vtxindex ordering and height-match checks (spec §4.2
// step 3); InsertOp itself only enforces the schema's uniqueness of txid,
// which holds across the whole store, not just within block_hash.
func (s *Store) InsertOp(ctx context.Context, tx *Tx, blockHash burnchain.BlockHash, op burnchain.TypedOp) error {
	blob, err := encodeOp(op)
	if err != nil {
		return fmt.Errorf("burnchain db: encode op: %w", err)
	}
	_, err = tx.tx.ExecContext(ctx,
		`INSERT INTO burnchain_db_block_ops (block_hash, txid, vtxindex, height, op_type, op_blob)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		blockHash.Hex(), op.Txid.Hex(), op.VtxIndex, op.Height, string(op.Type), blob,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("burnchain db: insert op %s: %w", op.Txid.Hex(), ErrAlreadyExists)
		}
		return fmt.Errorf("burnchain db: insert op: %w", err)
	}
	return nil
}

// getBlockOps returns a block's operations strictly ordered by vtxindex
// (spec §3 invariant 4, §8 property 3).
func (s *Store) getBlockOps(ctx context.Context, tx *Tx, blockHash burnchain.BlockHash) ([]burnchain.TypedOp, error) {
	rows, err := s.q(tx).QueryContext(ctx,
		`SELECT op_type, txid, vtxindex, height, op_blob
		 FROM burnchain_db_block_ops
		 WHERE block_hash = ?
		 ORDER BY vtxindex ASC`, blockHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("burnchain db: get block ops: %w", err)
	}
	defer rows.Close()

	var ops []burnchain.TypedOp
	for rows.Next() {
		var opType, txidHex string
		var vtx uint32
		var height uint64
		var blob []byte
		if err := rows.Scan(&opType, &txidHex, &vtx, &height, &blob); err != nil {
			return nil, fmt.Errorf("burnchain db: scan op: %w", err)
		}
		op, err := decodeOp(opType, common.HexToHash(txidHex), vtx, height, blob)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetOp returns a single operation by txid, or ErrNotFound. A nil tx reads
// the committed snapshot.
func (s *Store) GetOp(ctx context.Context, tx *Tx, txid burnchain.Txid) (burnchain.TypedOp, error) {
	row := s.q(tx).QueryRowContext(ctx,
		`SELECT op_type, txid, vtxindex, height, op_blob
		 FROM burnchain_db_block_ops WHERE txid = ?`, txid.Hex())

	var opType, txidHex string
	var vtx uint32
	var height uint64
	var blob []byte
	err := row.Scan(&opType, &txidHex, &vtx, &height, &blob)
	if err == sql.ErrNoRows {
		return burnchain.TypedOp{}, ErrNotFound
	}
	if err != nil {
		return burnchain.TypedOp{}, fmt.Errorf("burnchain db: get op: %w", err)
	}
	return decodeOp(opType, common.HexToHash(txidHex), vtx, height, blob)
}
