// Copyright 2025 Certen Protocol
//
// Package store provides sentinel errors for the burnchain persistence
// layer, following the teacher's flat var-block convention
// (pkg/database/errors.go) rather than a generated error-code enum.
package store

import "errors"

var (
	// ErrUnknownBlock is returned by GetBlock when the caller asks for a
	// hash not present in the store. Recoverable (spec §7).
	ErrUnknownBlock = errors.New("burnchain db: unknown block")

	// ErrNotFound is the general "optional lookup came up empty" result
	// returned by GetOp and GetCommitMetadata; IsNotFound lets callers treat
	// absence as a normal result rather than an error to propagate.
	// GetAnchorBlockCommit and GetOverride report absence through their
	// found/ok return value instead.
	ErrNotFound = errors.New("burnchain db: not found")

	// ErrAlreadyExists signals a uniqueness-constraint rejection, e.g. a
	// duplicate block header (spec §4.2: "Duplicate headers must be
	// rejected by the schema's uniqueness constraint").
	ErrAlreadyExists = errors.New("burnchain db: already exists")

	// ErrReadOnly is returned by any write operation attempted against a
	// store opened in read-only mode.
	ErrReadOnly = errors.New("burnchain db: store opened read-only")
)

// ParseError wraps a malformed on-disk value: an affirmation-map string
// that fails to decode, or a numeric column that fails to parse (spec §7).
// Recoverable — it indicates a corrupt row, not a programming bug, and
// the caller may choose to skip or report it.
type ParseError struct {
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return "burnchain db: parse error in column " + e.Column + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// CorruptionError models a violated referential invariant that the schema
// is supposed to make impossible: a metadata row pointing at an
// affirmation_id with no backing row, an override whose length disagrees
// with its reward_cycle, a duplicate vtxindex within a block. Per spec §7
// these "must not be recovered silently — they must surface to the
// operator." Store and ingest functions return it like any other error;
// it is the caller's job (the ingest driver, cmd/burnchaindb) to treat its
// presence as fatal rather than retry the next block.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string {
	return "burnchain db: corruption: " + e.Reason
}

// IsNotFound reports whether err is (or wraps) ErrNotFound or ErrUnknownBlock.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownBlock)
}
