// Package nodeid implements the stable node identifier used across the
// election protocol: the full link-local IPv6 address and its "short form"
// with the fe80:: prefix stripped.
package nodeid

import "strings"

const linkLocalPrefix = "fe80::"

// ID is a node identifier. The zero value is the empty ID and compares
// greater than every non-empty ID under Less.
type ID struct {
	full string
}

// FromFull builds an ID from a full textual link-local address, e.g.
// "fe80::1234:5678:9abc:def0".
func FromFull(full string) ID {
	return ID{full: full}
}

// FromShort builds an ID from a short-form address (fe80:: prefix already
// stripped), e.g. "1234:5678:9abc:def0".
func FromShort(short string) ID {
	if short == "" {
		return ID{}
	}
	return ID{full: linkLocalPrefix + short}
}

// Full returns the full textual address, as carried on the wire in frames
// that do not use the short form.
func (id ID) Full() string {
	return id.full
}

// Short returns the address with the fe80:: prefix stripped, the form used
// as a coordinator lookup key.
func (id ID) Short() string {
	return strings.TrimPrefix(id.full, linkLocalPrefix)
}

// IsZero reports whether id is the empty identifier.
func (id ID) IsZero() bool {
	return id.full == ""
}

// Equal reports whether id and other name the same node.
func (id ID) Equal(other ID) bool {
	return id.full == other.full
}

// Less implements the canonical tie-break: lexicographically smaller
// short-form ID wins. An empty ID is never Less than anything, and every
// non-empty ID is Less than an empty one, matching the "no leader claim"
// sentinel use.
func (id ID) Less(other ID) bool {
	if id.IsZero() {
		return false
	}
	if other.IsZero() {
		return true
	}
	return id.Short() < other.Short()
}

// String implements fmt.Stringer for logging.
func (id ID) String() string {
	if id.IsZero() {
		return "<none>"
	}
	return id.Short()
}
