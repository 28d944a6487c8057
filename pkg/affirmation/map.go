// Copyright 2025 Certen Protocol
//
// Package affirmation implements the affirmation-map value type: an ordered
// per-reward-cycle ledger of a block-commit's stance on past anchor blocks,
// its wire encoding, and weight. Construction of maps for a given commit
// (the prepare-phase and reward-phase algorithms) lives in
// pkg/store (affirmation_engine.go), which depends on this package.
package affirmation

import "fmt"

// Entry is one reward cycle's position in an affirmation map.
type Entry byte

const (
	// Nothing records that the map has not taken a position on this cycle's
	// anchor block (either none was elected, or the commit's ancestry has
	// not yet voted). Still advances the map's length.
	Nothing Entry = 'n'
	// Present records a vote that the cycle's anchor block is part of this
	// commit's history.
	Present Entry = 'p'
	// Absent records a vote that the cycle's anchor block is not part of
	// this commit's history.
	Absent Entry = 'a'
)

func (e Entry) valid() bool {
	return e == Nothing || e == Present || e == Absent
}

// Map is an affirmation map: index i describes reward cycle i+1.
type Map []Entry

// Empty is the zero-length affirmation map, always interned at id 0.
func Empty() Map { return nil }

// Len returns the number of reward cycles this map has an opinion about
// (including Nothing entries, which still count toward length per spec
// §4.4: "weight increases even without a decision... N still counts as a
// map-length increment").
func (m Map) Len() int { return len(m) }

// Weight is the count of non-Nothing entries: the number of anchor-block
// decisions this map has taken a position on. It is the primary sort key
// for "heaviest" comparisons (spec §3, §4.6).
func (m Map) Weight() int {
	w := 0
	for _, e := range m {
		if e != Nothing {
			w++
		}
	}
	return w
}

// At returns the entry for reward cycle rc (1-indexed), or Nothing if the
// map has not been extended that far.
func (m Map) At(rc uint64) Entry {
	if rc == 0 || rc > uint64(len(m)) {
		return Nothing
	}
	return m[rc-1]
}

// Append returns a new map with e appended, leaving m untouched.
func (m Map) Append(e Entry) Map {
	out := make(Map, len(m)+1)
	copy(out, m)
	out[len(m)] = e
	return out
}

// Encode renders the map as its wire string: one byte per entry, 'n'/'p'/'a'
// (spec §6 "Affirmation-map wire format"). The empty map encodes to "".
func (m Map) Encode() string {
	b := make([]byte, len(m))
	for i, e := range m {
		b[i] = byte(e)
	}
	return string(b)
}

// Decode parses an affirmation map's wire string. Any byte outside
// {n, p, a} is a parse error (SPEC_FULL §5: "Affirmation map decoding is
// fallible" — the original rejects it rather than silently coercing it to
// Nothing).
func Decode(s string) (Map, error) {
	if s == "" {
		return nil, nil
	}
	m := make(Map, len(s))
	for i := 0; i < len(s); i++ {
		e := Entry(s[i])
		if !e.valid() {
			return nil, fmt.Errorf("affirmation map: invalid entry %q at offset %d in %q", s[i], i, s)
		}
		m[i] = e
	}
	return m, nil
}

// Equal reports whether two maps encode identically.
func (m Map) Equal(other Map) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		if m[i] != other[i] {
			return false
		}
	}
	return true
}
