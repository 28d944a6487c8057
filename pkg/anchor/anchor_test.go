// Copyright 2025 Certen Protocol
package anchor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/certen/burnchaindb/pkg/affirmation"
	"github.com/certen/burnchaindb/pkg/burnchain"
	"github.com/certen/burnchaindb/pkg/descendancy"
	"github.com/certen/burnchaindb/pkg/store"
)

type memHeaderReader struct {
	byHeight map[uint64]burnchain.Header
}

func (m *memHeaderReader) ReadHeaders(start, end uint64) ([]burnchain.Header, error) {
	var out []burnchain.Header
	for h := start; h < end; h++ {
		if hdr, ok := m.byHeight[h]; ok {
			out = append(out, hdr)
		}
	}
	return out, nil
}

func (m *memHeaderReader) Height() (uint64, error) { return 0, nil }

func testBurnchain() *burnchain.Burnchain {
	return &burnchain.Burnchain{
		FirstBlockHeight: 1,
		FirstBlockHash:   burnchain.BlockHash{},
		PoxConstants:     burnchain.PoxConstants{RewardCycleLength: 10, PrepareLength: 3},
	}
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

func hashFromByte(b byte) burnchain.BlockHash {
	var h burnchain.BlockHash
	h[31] = b
	return h
}

func mustCommit(t *testing.T, s *store.Store, ctx context.Context, blockHash burnchain.BlockHash, height uint64, op burnchain.TypedOp) {
	t.Helper()
	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeader(ctx, tx, burnchain.Header{BlockHash: blockHash, Height: height}); err != nil {
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

// Electing a cycle's anchor block recomputes every prepare-phase commit's
// map against it: a commit descending from the candidate appends Present
// onto the candidate's map, and the anchor registry records the election
// (spec §4.4.a, §4.5). The candidate here is genesis-parented, so its own
// map is reset to empty.
func TestElectAnchorBlockRecomputesPreparePhase(t *testing.T) {
	bc := testBurnchain()
	s := openTestStore(t, bc)
	ctx := context.Background()

	candidateHash := hashFromByte(0x60)
	candidateOp := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x61}),
		VtxIndex: 0, Height: 9,
	}
	mustCommit(t, s, ctx, candidateHash, 9, candidateOp)

	// seed the candidate's own map to "p" so the appended P is visible.
	txSeed, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	candAM, err := affirmation.Decode("p")
	if err != nil {
		t.Fatal(err)
	}
	candAMID, err := s.InternAffirmationMap(ctx, txSeed, candAM)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateCommitMetadata(ctx, txSeed, candidateHash, candidateOp.Txid, candAMID, burnchain.SentinelCycle); err != nil {
		t.Fatal(err)
	}
	if err := txSeed.Commit(); err != nil {
		t.Fatal(err)
	}

	childHash := hashFromByte(0x62)
	child := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x63}),
		VtxIndex: 0, Height: 10, ParentBlockPtr: burnchain.BlockPtr(9), ParentVtxIndex: 0,
	}
	mustCommit(t, s, ctx, childHash, 10, child)

	hr := &memHeaderReader{byHeight: map[uint64]burnchain.Header{
		9:  {BlockHash: candidateHash, Height: 9},
		10: {BlockHash: childHash, Height: 10},
	}}
	desc := descendancy.New(s, bc, hr)
	orch := New(s, bc, hr, desc)

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.ElectAnchorBlock(ctx, tx, 0, Candidate{BlockHash: candidateHash, Op: candidateOp}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	childMeta, err := s.GetCommitMetadata(ctx, nil, childHash, child.Txid)
	if err != nil {
		t.Fatal(err)
	}
	childAM, err := s.GetAffirmationMapByID(ctx, nil, childMeta.AffirmationID)
	if err != nil {
		t.Fatal(err)
	}
	if childAM.Encode() != "pp" {
		t.Fatalf("child map = %q, want %q", childAM.Encode(), "pp")
	}
	if childMeta.AnchorBlockDescendant != 0 {
		t.Fatalf("child anchor_block_descendant = %d, want 0", childMeta.AnchorBlockDescendant)
	}

	has, err := s.HasAnchorBlock(ctx, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Fatal("HasAnchorBlock(0) = false, want true after election")
	}
}

// ResetCycle clears a cycle's anchor designation and derived descendancy
// state; the anchor_blocks registry row is left in place (spec §9:
// clear_anchor_block does not delete the row). Checks that HasAnchorBlock
// reports no anchor after the reset.
func TestResetCycleClearsAnchorAndDescendancy(t *testing.T) {
	bc := testBurnchain()
	s := openTestStore(t, bc)
	ctx := context.Background()

	candidateHash := hashFromByte(0x70)
	candidateOp := burnchain.TypedOp{
		Type: burnchain.OpLeaderBlockCommit, Txid: burnchain.TxidFromBytes([]byte{0x71}),
		VtxIndex: 0, Height: 9,
	}
	mustCommit(t, s, ctx, candidateHash, 9, candidateOp)

	hr := &memHeaderReader{byHeight: map[uint64]burnchain.Header{
		9: {BlockHash: candidateHash, Height: 9},
	}}
	desc := descendancy.New(s, bc, hr)
	orch := New(s, bc, hr, desc)

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.ElectAnchorBlock(ctx, tx, 0, Candidate{BlockHash: candidateHash, Op: candidateOp}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx2, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.ResetCycle(ctx, tx2, 0); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	has, err := s.HasAnchorBlock(ctx, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("HasAnchorBlock(0) = true, want false after reset")
	}
}
