// Copyright 2025 Certen Protocol
//
// Package selector implements the canonical-map computation (spec §4.6):
// the heaviest anchor-block affirmation map, operator-override
// substitution, and tip-ward extension through the unconfirmed-oracle
// callback.
package selector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/certen/burnchaindb/pkg/affirmation"
	"github.com/certen/burnchaindb/pkg/burnchain"
	"github.com/certen/burnchaindb/pkg/store"
)

// Selector computes the canonical affirmation map over a store.
type Selector struct {
	store  *store.Store
	bc     *burnchain.Burnchain
	oracle burnchain.UnconfirmedOracle
}

// New builds a Selector. oracle answers whether an anchor block still
// appears present to an external observer once the selector walks past the
// heaviest map's last decided cycle.
func New(s *store.Store, bc *burnchain.Burnchain, oracle burnchain.UnconfirmedOracle) *Selector {
	return &Selector{store: s, bc: bc, oracle: oracle}
}

// HeaviestAnchorBlockAffirmationMap joins affirmation maps against commit
// metadata restricted to anchor-block rows, ordered by (weight DESC,
// anchor_block DESC) — the exact tie-break spec §9 calls out as
// load-bearing: don't reorder these two keys. Returns the empty map if no
// anchor blocks exist.
func (s *Selector) HeaviestAnchorBlockAffirmationMap(ctx context.Context) (affirmation.Map, burnchain.RewardCycle, error) {
	row := s.store.DB().QueryRowContext(ctx, `
		SELECT am.affirmation_id, am.encoded_map, m.anchor_block
		FROM block_commit_metadata m
		JOIN affirmation_maps am ON am.affirmation_id = m.affirmation_id
		WHERE m.anchor_block != ?
		ORDER BY am.weight DESC, m.anchor_block DESC
		LIMIT 1`, int64(burnchain.SentinelCycle))

	var id int64
	var encoded string
	var anchorBlock int64
	err := row.Scan(&id, &encoded, &anchorBlock)
	if err == sql.ErrNoRows {
		return affirmation.Map{}, burnchain.SentinelCycle, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("selector: heaviest anchor-block map: %w", err)
	}
	m, err := affirmation.Decode(encoded)
	if err != nil {
		return nil, 0, &store.ParseError{Column: "encoded_map", Value: encoded, Err: err}
	}
	return m, burnchain.RewardCycle(anchorBlock), nil
}

// resolveOverride returns the override for cycle, if one is installed.
func (s *Selector) resolveOverride(ctx context.Context, cycle burnchain.RewardCycle) (affirmation.Map, bool, error) {
	return s.store.GetOverride(ctx, cycle)
}

// CanonicalAffirmationMap implements the full canonical-map computation
// (spec §4.6). An operator override for the canonical tip's trailing cycle
// substitutes the whole result. Otherwise the map starts from the heaviest
// anchor-block map — or, if an override is installed for the cycle right
// after that map's anchor cycle, from that override — and extends cycle by
// cycle up to the cycle containing the canonical tip, consulting the
// unconfirmed oracle for any cycle with a recorded but not-yet-affirmed
// anchor block. Only the tip-cycle override bypasses the extension; the
// heaviest-map override merely replaces the base the extension grows from.
func (s *Selector) CanonicalAffirmationMap(ctx context.Context) (affirmation.Map, error) {
	tipHeight, err := s.store.CanonicalTipHeight(ctx)
	if err != nil {
		return nil, err
	}
	tipCycle, tipOK := s.bc.BlockHeightToRewardCycle(tipHeight)
	if tipOK {
		if override, ok, err := s.resolveOverride(ctx, tipCycle+1); err != nil {
			return nil, err
		} else if ok {
			return override, nil
		}
	}

	heaviest, anchorCycle, err := s.HeaviestAnchorBlockAffirmationMap(ctx)
	if err != nil {
		return nil, err
	}

	base := heaviest
	if !anchorCycle.IsSentinel() {
		if override, ok, err := s.resolveOverride(ctx, anchorCycle+1); err != nil {
			return nil, err
		} else if ok {
			base = override
		}
	}
	if !tipOK {
		return base, nil
	}

	for rc := burnchain.RewardCycle(base.Len()) + 1; rc <= tipCycle; rc++ {
		op, meta, found, err := s.store.GetAnchorBlockCommit(ctx, nil, rc)
		if err != nil {
			return nil, err
		}
		if !found {
			base = base.Append(affirmation.Nothing)
			continue
		}
		present, err := s.oracle(op.Txid, meta.AffirmationID)
		if err != nil {
			return nil, fmt.Errorf("selector: unconfirmed oracle for %s: %w", op.Txid.Hex(), err)
		}
		if present {
			base = base.Append(affirmation.Present)
		} else {
			base = base.Append(affirmation.Absent)
		}
	}
	return base, nil
}
