// Copyright 2025 Certen Protocol
//
// Package ingest implements block storage (spec §4.2): classify a block's
// transactions into typed operations, validate them, and commit the block
// header, its operations, default commit metadata, and the resulting
// descendancy pass in a single write transaction.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/certen/burnchaindb/pkg/burnchain"
	"github.com/certen/burnchaindb/pkg/descendancy"
	"github.com/certen/burnchaindb/pkg/store"
)

// RawBlock is the unprocessed input to StoreNewBurnchainBlock: a header
// plus its raw transactions in vtxindex order.
type RawBlock struct {
	Header burnchain.Header
	Txs    []burnchain.RawTx
}

// storeOpReader adapts the store's committed-op lookup to the classifier's
// OpReader collaborator. Classification runs before the block's write
// transaction opens, so only prior blocks' operations are visible — which
// is the point: a same-block PreStx arrives via the scratchpad instead.
type storeOpReader struct {
	s *store.Store
}

func (r storeOpReader) GetOp(ctx context.Context, txid burnchain.Txid) (*burnchain.TypedOp, error) {
	op, err := r.s.GetOp(ctx, nil, txid)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

// Ingester drives classification, validation, and storage of new blocks.
type Ingester struct {
	store      *store.Store
	bc         *burnchain.Burnchain
	classifier burnchain.Classifier
	desc       *descendancy.Engine
	logger     *log.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger overrides the ingester's logger.
func WithLogger(logger *log.Logger) Option {
	return func(i *Ingester) { i.logger = logger }
}

// New builds an Ingester. desc must be driven by the same header-reader the
// caller uses to supply blocks, so descendancy resolution sees a consistent
// view of canonical headers.
func New(s *store.Store, bc *burnchain.Burnchain, classifier burnchain.Classifier, desc *descendancy.Engine, opts ...Option) *Ingester {
	i := &Ingester{
		store:      s,
		bc:         bc,
		classifier: classifier,
		desc:       desc,
		logger:     log.New(log.Writer(), "[ingest] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// StoreNewBurnchainBlock implements spec §4.2: classifies block's
// transactions, validates vtxindex ordering and height consistency, and
// commits the header, operations, default commit metadata, and the
// resulting descendancy pass in one write transaction.
func (i *Ingester) StoreNewBurnchainBlock(ctx context.Context, block RawBlock) ([]burnchain.TypedOp, error) {
	requestID := uuid.New()
	txs := append([]burnchain.RawTx(nil), block.Txs...)
	sort.Slice(txs, func(a, b int) bool { return txs[a].VtxIndex < txs[b].VtxIndex })

	scratch := make(burnchain.PrestxScratchpad)
	var ops []burnchain.TypedOp
	seenVtx := make(map[burnchain.VtxIndex]bool, len(txs))

	for _, tx := range txs {
		if seenVtx[tx.VtxIndex] {
			return nil, &store.CorruptionError{Reason: fmt.Sprintf("duplicate vtxindex %d in block %s", tx.VtxIndex, block.Header.BlockHash.Hex())}
		}
		seenVtx[tx.VtxIndex] = true
		if tx.Height != block.Header.Height {
			return nil, fmt.Errorf("ingest: tx %s height %d does not match block %s height %d",
				tx.Txid.Hex(), tx.Height, block.Header.BlockHash.Hex(), block.Header.Height)
		}

		op, err := i.classifier.Classify(ctx, i.bc, storeOpReader{s: i.store}, block.Header, tx, scratch)
		if err != nil {
			return nil, fmt.Errorf("ingest: classify tx %s: %w", tx.Txid.Hex(), err)
		}
		if op == nil {
			continue
		}
		if op.Height != block.Header.Height {
			return nil, fmt.Errorf("ingest: op %s height %d does not match block %s height %d",
				op.Txid.Hex(), op.Height, block.Header.BlockHash.Hex(), block.Header.Height)
		}
		if op.Type == burnchain.OpPreStx {
			scratch[op.Txid] = *op
		}
		ops = append(ops, *op)
	}

	tx, err := i.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := i.store.InsertHeader(ctx, tx, block.Header); err != nil {
		return nil, fmt.Errorf("ingest: insert header %s: %w", block.Header.BlockHash.Hex(), err)
	}

	for _, op := range ops {
		if err := i.store.InsertOp(ctx, tx, block.Header.BlockHash, op); err != nil {
			return nil, fmt.Errorf("ingest: insert op %s: %w", op.Txid.Hex(), err)
		}
		if op.Type == burnchain.OpLeaderBlockCommit {
			if err := i.store.InsertDefaultCommitMetadata(ctx, tx, block.Header.BlockHash, op); err != nil {
				return nil, fmt.Errorf("ingest: insert default commit metadata for %s: %w", op.Txid.Hex(), err)
			}
		}
	}

	if err := i.desc.UpdateBlockDescendancy(ctx, tx, block.Header.BlockHash); err != nil {
		return nil, fmt.Errorf("ingest: descendancy pass on %s: %w", block.Header.BlockHash.Hex(), err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ingest: commit block %s: %w", block.Header.BlockHash.Hex(), err)
	}
	committed = true

	i.logger.Printf("[%s] stored block %s at height %d with %d ops", requestID, block.Header.BlockHash.Hex(), block.Header.Height, len(ops))
	return ops, nil
}
