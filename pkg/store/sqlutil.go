// Copyright 2025 Certen Protocol

package store

import "strings"

// isUniqueViolation reports whether err came from a UNIQUE/PRIMARY KEY
// constraint rejection. modernc.org/sqlite doesn't expose a typed error for
// this the way lib/pq's pq.Error does, so we match on the driver's message
// the way the teacher's repositories match on "does not exist" in
// pkg/database/client.go.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation reports whether err came from a FOREIGN KEY
// constraint rejection — this should never happen in practice given the
// invariants this store maintains, and its surfacing is treated as
// corruption (spec §7).
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
