/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcp

// Seq is a TCP sequence number. All comparisons between two Seq values
// are modulo 2^32: A < B iff int32(A-B) < 0. A plain uint32 comparison
// would be wrong across wraparound, which is why every comparison in
// this package goes through these methods rather than Go's built-in
// operators.
type Seq uint32

// Before reports whether a comes strictly before b, mod 2^32.
func (a Seq) Before(b Seq) bool {
	return int32(a-b) < 0
}

// After reports whether a comes strictly after b, mod 2^32.
func (a Seq) After(b Seq) bool {
	return b.Before(a)
}

// BeforeEq reports whether a comes at or before b, mod 2^32.
func (a Seq) BeforeEq(b Seq) bool {
	return a == b || a.Before(b)
}

// AfterEq reports whether a comes at or after b, mod 2^32.
func (a Seq) AfterEq(b Seq) bool {
	return a == b || a.After(b)
}

// InWindow reports whether a lies in [lo, lo+size), mod 2^32, with size
// treated as unsigned. A zero-size window never contains anything.
func (a Seq) InWindow(lo Seq, size uint32) bool {
	if size == 0 {
		return false
	}
	return Seq(a - lo) < Seq(size)
}

// Add returns a advanced by n, wrapping mod 2^32 as uint32 arithmetic
// already does.
func (a Seq) Add(n uint32) Seq {
	return a + Seq(n)
}

// Diff returns a-b as a signed 32-bit quantity, the same sense used by
// invariants 3/4's "(int32)(x - y) >= 0" phrasing.
func (a Seq) Diff(b Seq) int32 {
	return int32(a - b)
}
