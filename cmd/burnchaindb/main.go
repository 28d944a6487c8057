// Copyright 2025 Certen Protocol
//
// burnchaindb is a thin operator CLI over the indexing and affirmation
// engine: ingest a block description, print the canonical affirmation map,
// and install or clear emergency overrides.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/certen/burnchaindb/pkg/affirmation"
	"github.com/certen/burnchaindb/pkg/anchor"
	"github.com/certen/burnchaindb/pkg/burnchain"
	"github.com/certen/burnchaindb/pkg/config"
	"github.com/certen/burnchaindb/pkg/descendancy"
	"github.com/certen/burnchaindb/pkg/ingest"
	"github.com/certen/burnchaindb/pkg/selector"
	"github.com/certen/burnchaindb/pkg/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "burnchaindb:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: burnchaindb <ingest|canonical|anchor|override-set|override-clear> ...")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.StorePath, cfg.Burnchain(), store.WithRetryBudget(cfg.RetryMaxElapsed))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	switch args[0] {
	case "ingest":
		return cmdIngest(ctx, s, args[1:])
	case "canonical":
		return cmdCanonical(ctx, s)
	case "anchor":
		return cmdAnchor(ctx, s, args[1:])
	case "override-set":
		return cmdOverrideSet(ctx, s, args[1:])
	case "override-clear":
		return cmdOverrideClear(ctx, s, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// blockFile is the JSON shape accepted by `ingest`: a header plus its raw
// transactions, already decoded into typed operations (the CLI plays the
// role of both header-reader and classifier, since it has no live
// burn-chain connection of its own).
type blockFile struct {
	Header struct {
		BlockHash  string `json:"block_hash"`
		Height     uint64 `json:"height"`
		ParentHash string `json:"parent_hash"`
		NumTxs     uint32 `json:"num_txs"`
		Timestamp  uint64 `json:"timestamp"`
	} `json:"header"`
	Ops []struct {
		Type           string `json:"type"`
		Txid           string `json:"txid"`
		VtxIndex       uint32 `json:"vtxindex"`
		ParentBlockPtr uint64 `json:"parent_block_ptr"`
		ParentVtxIndex uint32 `json:"parent_vtxindex"`
		Sender         string `json:"sender"`
	} `json:"ops"`
}

// preclassifiedClassifier trusts the caller's JSON rather than parsing raw
// transaction bytes: the CLI's input already names each operation's type,
// since this repository's transaction-parsing layer is an external
// collaborator (spec §6), not something this module implements.
type preclassifiedClassifier struct {
	ops map[burnchain.Txid]burnchain.TypedOp
}

func (c *preclassifiedClassifier) Classify(ctx context.Context, bc *burnchain.Burnchain, ops burnchain.OpReader, header burnchain.Header, tx burnchain.RawTx, scratch burnchain.PrestxScratchpad) (*burnchain.TypedOp, error) {
	op, ok := c.ops[tx.Txid]
	if !ok {
		return nil, fmt.Errorf("no preclassified operation for txid %s", tx.Txid.Hex())
	}
	return &op, nil
}

// storeHeaderReader serves already-ingested headers back out of the store,
// so the descendancy and anchor engines can resolve parents of blocks that
// were ingested in earlier CLI invocations.
type storeHeaderReader struct {
	store *store.Store
}

func (r *storeHeaderReader) ReadHeaders(start, end uint64) ([]burnchain.Header, error) {
	var out []burnchain.Header
	for h := start; h < end; h++ {
		hdr, err := r.store.GetCanonicalHeaderAtHeight(context.Background(), h)
		if err != nil {
			if store.IsNotFound(err) {
				break
			}
			return nil, err
		}
		out = append(out, hdr)
	}
	return out, nil
}

func (r *storeHeaderReader) Height() (uint64, error) {
	h, err := r.store.CanonicalTipHeight(context.Background())
	if err != nil {
		return 0, err
	}
	return h + 1, nil
}

func cmdIngest(ctx context.Context, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: burnchaindb ingest <block.json>")
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read block file: %w", err)
	}
	var bf blockFile
	if err := json.Unmarshal(raw, &bf); err != nil {
		return fmt.Errorf("parse block file: %w", err)
	}

	hdr := burnchain.Header{
		BlockHash:  burnchain.BlockHashFromBytes(mustHex(bf.Header.BlockHash)),
		Height:     bf.Header.Height,
		ParentHash: burnchain.BlockHashFromBytes(mustHex(bf.Header.ParentHash)),
		NumTxs:     bf.Header.NumTxs,
		Timestamp:  bf.Header.Timestamp,
	}

	classifier := &preclassifiedClassifier{ops: make(map[burnchain.Txid]burnchain.TypedOp)}
	var rawTxs []burnchain.RawTx
	for _, o := range bf.Ops {
		txid := burnchain.TxidFromBytes(mustHex(o.Txid))
		op := burnchain.TypedOp{
			Type:           burnchain.OpType(o.Type),
			Txid:           txid,
			VtxIndex:       burnchain.VtxIndex(o.VtxIndex),
			Height:         hdr.Height,
			ParentBlockPtr: burnchain.BlockPtr(o.ParentBlockPtr),
			ParentVtxIndex: burnchain.VtxIndex(o.ParentVtxIndex),
			Sender:         o.Sender,
		}
		classifier.ops[txid] = op
		rawTxs = append(rawTxs, burnchain.RawTx{Txid: txid, VtxIndex: op.VtxIndex, Height: hdr.Height})
	}

	hr := &storeHeaderReader{store: s}
	logger := log.New(log.Writer(), "[burnchaindb] ", log.LstdFlags)
	desc := descendancy.New(s, s.Burnchain(), hr, descendancy.WithLogger(logger))
	ing := ingest.New(s, s.Burnchain(), classifier, desc, ingest.WithLogger(logger))

	accepted, err := ing.StoreNewBurnchainBlock(ctx, ingest.RawBlock{Header: hdr, Txs: rawTxs})
	if err != nil {
		return err
	}
	fmt.Printf("stored block %s at height %d: %d ops accepted\n", hdr.BlockHash.Hex(), hdr.Height, len(accepted))
	return nil
}

func cmdCanonical(ctx context.Context, s *store.Store) error {
	oracle := func(commitTxid burnchain.Txid, affirmationID int64) (bool, error) {
		// No live observer wired to the CLI: conservatively report absent.
		return false, nil
	}
	sel := selector.New(s, s.Burnchain(), oracle)
	m, err := sel.CanonicalAffirmationMap(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("canonical affirmation map: %s (weight %d)\n", m.Encode(), m.Weight())
	return nil
}

func cmdAnchor(ctx context.Context, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("anchor", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: burnchaindb anchor <reward_cycle> <block_hash> <txid>")
	}
	var cycle uint64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &cycle); err != nil {
		return fmt.Errorf("parse reward cycle: %w", err)
	}
	blockHash := burnchain.BlockHashFromBytes(mustHex(fs.Arg(1)))
	txid := burnchain.TxidFromBytes(mustHex(fs.Arg(2)))

	hr := &storeHeaderReader{store: s}
	desc := descendancy.New(s, s.Burnchain(), hr)
	orch := anchor.New(s, s.Burnchain(), hr, desc)

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	op, err := s.GetOp(ctx, tx, txid)
	if err != nil {
		tx.Rollback()
		return err
	}
	if err := orch.ElectAnchorBlock(ctx, tx, burnchain.RewardCycle(cycle), anchor.Candidate{BlockHash: blockHash, Op: op}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func cmdOverrideSet(ctx context.Context, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("override-set", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: burnchaindb override-set <reward_cycle> <encoded_map>")
	}
	var cycle uint64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &cycle); err != nil {
		return fmt.Errorf("parse reward cycle: %w", err)
	}
	m, err := affirmation.Decode(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("parse affirmation map: %w", err)
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := s.SetOverride(ctx, tx, burnchain.RewardCycle(cycle), m); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func cmdOverrideClear(ctx context.Context, s *store.Store, args []string) error {
	fs := flag.NewFlagSet("override-clear", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: burnchaindb override-clear <reward_cycle>")
	}
	var cycle uint64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &cycle); err != nil {
		return fmt.Errorf("parse reward cycle: %w", err)
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := s.ClearOverride(ctx, tx, burnchain.RewardCycle(cycle)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func mustHex(s string) []byte {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
