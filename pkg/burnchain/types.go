// Copyright 2025 Certen Protocol
//
// Package burnchain defines the identifiers, parameters, and collaborator
// interfaces the store, ingest, descendancy, and affirmation packages are
// built against. Nothing in this package touches a database or a network
// socket; it is pure value types plus the capability-set interfaces that
// the rest of the module depends on (header readers, transaction
// classifiers, the unconfirmed-oracle callback).
package burnchain

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// BlockHash identifies a burn-chain block. It is an opaque fixed-width byte
// string in the wire format; we back it with common.Hash and convert to it
// for Hex and Bytes rather than reinventing them. common.Hash's other
// methods (Cmp, text marshalling) are not carried over to this type.
type BlockHash common.Hash

// Txid identifies a burn-chain transaction within a block.
type Txid common.Hash

// Bytes returns the big-endian byte representation of the hash.
func (h BlockHash) Bytes() []byte { return common.Hash(h).Bytes() }

// Hex renders the hash as a 0x-prefixed hex string.
func (h BlockHash) Hex() string { return common.Hash(h).Hex() }

// IsZero reports whether h is the all-zero hash.
func (h BlockHash) IsZero() bool { return h == BlockHash{} }

// Bytes returns the big-endian byte representation of the txid.
func (t Txid) Bytes() []byte { return common.Hash(t).Bytes() }

// Hex renders the txid as a 0x-prefixed hex string.
func (t Txid) Hex() string { return common.Hash(t).Hex() }

// BlockHashFromBytes left-pads/truncates b into a BlockHash, mirroring
// common.BytesToHash.
func BlockHashFromBytes(b []byte) BlockHash { return BlockHash(common.BytesToHash(b)) }

// TxidFromBytes left-pads/truncates b into a Txid.
func TxidFromBytes(b []byte) Txid { return Txid(common.BytesToHash(b)) }

// RewardCycle numbers a PoX reward cycle. Cycle 0 is genesis and is never
// represented as an affirmation-map entry.
type RewardCycle uint64

// SentinelCycle is the reserved value encoding "no cycle" in columns that
// must stay non-nullable for indexing (spec §3, §9). 2^63 - 1.
const SentinelCycle RewardCycle = RewardCycle(math.MaxInt64)

// IsSentinel reports whether rc is the sentinel "no cycle" value.
func (rc RewardCycle) IsSentinel() bool { return rc == SentinelCycle }

// VtxIndex is a transaction's position within a block, used to total-order
// operations and to resolve block-commit parent pointers.
type VtxIndex uint32

// BlockPtr addresses a burn-chain block by height, for parent pointers that
// use (height, vtxindex) rather than a hash (spec §3 invariant 6).
type BlockPtr uint64

// GenesisParentPtr / GenesisParentVtx denote a block-commit whose parent
// pointer is the reserved (0, 0) sentinel meaning "no parent, mined atop
// genesis" (spec §4.3 step 2).
const (
	GenesisParentPtr BlockPtr  = 0
	GenesisParentVtx VtxIndex = 0
)

// IsGenesisParent reports whether (ptr, vtx) is the reserved genesis-parent
// marker.
func IsGenesisParent(ptr BlockPtr, vtx VtxIndex) bool {
	return ptr == GenesisParentPtr && vtx == GenesisParentVtx
}
