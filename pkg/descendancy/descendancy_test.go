// Copyright 2025 Certen Protocol
//
// Exercises the descendancy engine against a real embedded store (the
// teacher's "drive the real driver, don't mock it" style) plus an in-memory
// stand-in for the external header source.
package descendancy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/certen/burnchaindb/pkg/burnchain"
	"github.com/certen/burnchaindb/pkg/store"
)

type memHeaderReader struct {
	byHeight map[uint64]burnchain.Header
	tip      uint64
}

func (m *memHeaderReader) ReadHeaders(start, end uint64) ([]burnchain.Header, error) {
	var out []burnchain.Header
	for h := start; h < end; h++ {
		hdr, ok := m.byHeight[h]
		if !ok {
			break
		}
		out = append(out, hdr)
	}
	return out, nil
}

func (m *memHeaderReader) Height() (uint64, error) { return m.tip + 1, nil }

func testBurnchain() *burnchain.Burnchain {
	return &burnchain.Burnchain{
		FirstBlockHeight: 1,
		FirstBlockHash:   burnchain.BlockHash{},
		PoxConstants:     burnchain.PoxConstants{RewardCycleLength: 10, PrepareLength: 3},
	}
}

func hashFromByte(b byte) burnchain.BlockHash {
	var h burnchain.BlockHash
	h[31] = b
	return h
}

func openTestStore(t *testing.T, bc *burnchain.Burnchain) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burnchain.sqlite")
	s, err := store.Open(context.Background(), path, bc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// A commit whose parent sits outside the header-reader's knowledge (e.g.
// pruned by a reorganization) gets the empty map and SENTINEL descendant
// (spec §8 boundary behavior).
func TestUpdateBlockDescendancyUnresolvableParentGetsEmptyMap(t *testing.T) {
	bc := testBurnchain()
	s := openTestStore(t, bc)
	ctx := context.Background()
	hr := &memHeaderReader{byHeight: map[uint64]burnchain.Header{}}
	eng := New(s, bc, hr)

	blockHash := hashFromByte(0x10)
	commit := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x11}),
		VtxIndex: 0, Height: 5, ParentBlockPtr: burnchain.BlockPtr(4), ParentVtxIndex: 0,
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeader(ctx, tx, burnchain.Header{BlockHash: blockHash, Height: 5}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertOp(ctx, tx, blockHash, commit); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertDefaultCommitMetadata(ctx, tx, blockHash, commit); err != nil {
		t.Fatal(err)
	}
	if err := eng.UpdateBlockDescendancy(ctx, tx, blockHash); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	meta, err := s.GetCommitMetadata(ctx, nil, blockHash, commit.Txid)
	if err != nil {
		t.Fatal(err)
	}
	if meta.AffirmationID != 0 || meta.AnchorBlockDescendant != burnchain.SentinelCycle {
		t.Fatalf("meta = %+v, want empty map and sentinel descendant", meta)
	}
}

// A commit with parent (0,0) is genesis-parented and gets the empty map
// without consulting the header-reader at all (spec §8).
func TestUpdateBlockDescendancyGenesisParent(t *testing.T) {
	bc := testBurnchain()
	s := openTestStore(t, bc)
	ctx := context.Background()
	hr := &memHeaderReader{byHeight: map[uint64]burnchain.Header{}}
	eng := New(s, bc, hr)

	blockHash := hashFromByte(0x20)
	commit := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x21}),
		VtxIndex: 0, Height: 1,
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeader(ctx, tx, burnchain.Header{BlockHash: blockHash, Height: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertOp(ctx, tx, blockHash, commit); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertDefaultCommitMetadata(ctx, tx, blockHash, commit); err != nil {
		t.Fatal(err)
	}
	if err := eng.UpdateBlockDescendancy(ctx, tx, blockHash); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	meta, err := s.GetCommitMetadata(ctx, nil, blockHash, commit.Txid)
	if err != nil {
		t.Fatal(err)
	}
	if meta.AffirmationID != 0 {
		t.Fatalf("affirmation id = %d, want 0", meta.AffirmationID)
	}
}

// A commit whose parent resolves successfully within the same reward cycle
// gets a reward-phase map extending the parent's.
func TestUpdateBlockDescendancyReachableParentExtendsMap(t *testing.T) {
	bc := testBurnchain()
	s := openTestStore(t, bc)
	ctx := context.Background()

	parentHash := hashFromByte(0x30)
	parentOp := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x31}),
		VtxIndex: 0, Height: 2,
	}

	tx0, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeader(ctx, tx0, burnchain.Header{BlockHash: parentHash, Height: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertOp(ctx, tx0, parentHash, parentOp); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertDefaultCommitMetadata(ctx, tx0, parentHash, parentOp); err != nil {
		t.Fatal(err)
	}
	if err := tx0.Commit(); err != nil {
		t.Fatal(err)
	}

	hr := &memHeaderReader{byHeight: map[uint64]burnchain.Header{2: {BlockHash: parentHash, Height: 2}}, tip: 2}
	eng := New(s, bc, hr)

	childHash := hashFromByte(0x32)
	child := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x33}),
		VtxIndex: 0, Height: 3, ParentBlockPtr: burnchain.BlockPtr(2), ParentVtxIndex: 0,
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeader(ctx, tx, burnchain.Header{BlockHash: childHash, Height: 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertOp(ctx, tx, childHash, child); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertDefaultCommitMetadata(ctx, tx, childHash, child); err != nil {
		t.Fatal(err)
	}
	if err := eng.UpdateBlockDescendancy(ctx, tx, childHash); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	meta, err := s.GetCommitMetadata(ctx, nil, childHash, child.Txid)
	if err != nil {
		t.Fatal(err)
	}
	m, err := s.GetAffirmationMapByID(ctx, nil, meta.AffirmationID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Encode() != "" {
		t.Fatalf("encoded = %q, want empty (both heights in cycle 0, no anchor blocks)", m.Encode())
	}
}

// Clearing a reward cycle's derived state and replaying its blocks yields
// the same affirmation ids that existed before the clear, with no
// intervening writes (spec §8 round-trip property).
func TestClearAndReplayReproducesAffirmationIDs(t *testing.T) {
	bc := testBurnchain()
	s := openTestStore(t, bc)
	ctx := context.Background()

	storeCommit := func(blockHash burnchain.BlockHash, op burnchain.TypedOp) {
		tx, err := s.BeginTx(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.InsertHeader(ctx, tx, burnchain.Header{BlockHash: blockHash, Height: op.Height}); err != nil {
			t.Fatal(err)
		}
		if err := s.InsertOp(ctx, tx, blockHash, op); err != nil {
			t.Fatal(err)
		}
		if err := s.InsertDefaultCommitMetadata(ctx, tx, blockHash, op); err != nil {
			t.Fatal(err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}

	rootHash := hashFromByte(0x40)
	root := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x41}),
		VtxIndex: 0, Height: 2,
	}
	storeCommit(rootHash, root)

	anchorHash := hashFromByte(0x42)
	anchorOp := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x43}),
		VtxIndex: 0, Height: 12, ParentBlockPtr: burnchain.BlockPtr(2), ParentVtxIndex: 0,
	}
	storeCommit(anchorHash, anchorOp)

	txA, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnchorBlock(ctx, txA, anchorHash, anchorOp.Txid, 1); err != nil {
		t.Fatal(err)
	}
	if err := txA.Commit(); err != nil {
		t.Fatal(err)
	}

	c1Hash := hashFromByte(0x44)
	c1 := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x45}),
		VtxIndex: 0, Height: 25, ParentBlockPtr: burnchain.BlockPtr(2), ParentVtxIndex: 0,
	}
	storeCommit(c1Hash, c1)
	c2Hash := hashFromByte(0x46)
	c2 := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x47}),
		VtxIndex: 0, Height: 26, ParentBlockPtr: burnchain.BlockPtr(25), ParentVtxIndex: 0,
	}
	storeCommit(c2Hash, c2)

	hr := &memHeaderReader{byHeight: map[uint64]burnchain.Header{
		2:  {BlockHash: rootHash, Height: 2},
		12: {BlockHash: anchorHash, Height: 12},
		25: {BlockHash: c1Hash, Height: 25},
		26: {BlockHash: c2Hash, Height: 26},
	}, tip: 26}
	eng := New(s, bc, hr)

	replay := func() {
		for _, h := range []burnchain.BlockHash{c1Hash, c2Hash} {
			tx, err := s.BeginTx(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if err := eng.UpdateBlockDescendancy(ctx, tx, h); err != nil {
				t.Fatal(err)
			}
			if err := tx.Commit(); err != nil {
				t.Fatal(err)
			}
		}
	}
	replay()

	idOf := func(blockHash burnchain.BlockHash, txid burnchain.Txid) int64 {
		meta, err := s.GetCommitMetadata(ctx, nil, blockHash, txid)
		if err != nil {
			t.Fatal(err)
		}
		return meta.AffirmationID
	}
	beforeC1, beforeC2 := idOf(c1Hash, c1.Txid), idOf(c2Hash, c2.Txid)
	if beforeC1 == 0 {
		t.Fatal("expected a non-empty map for a commit past an anchored cycle")
	}

	txC, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ClearRewardCycleDescendancies(ctx, txC, bc, 2); err != nil {
		t.Fatal(err)
	}
	if err := txC.Commit(); err != nil {
		t.Fatal(err)
	}
	if id := idOf(c1Hash, c1.Txid); id != 0 {
		t.Fatalf("affirmation id after clear = %d, want 0", id)
	}

	replay()
	if got := idOf(c1Hash, c1.Txid); got != beforeC1 {
		t.Fatalf("replayed c1 affirmation id = %d, want %d", got, beforeC1)
	}
	if got := idOf(c2Hash, c2.Txid); got != beforeC2 {
		t.Fatalf("replayed c2 affirmation id = %d, want %d", got, beforeC2)
	}
}
