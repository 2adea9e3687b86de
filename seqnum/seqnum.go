// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seqnum defines the types and functions for TCP sequence numbers
// such that sequence number comparisons are done with proper wrap-around
// handling.
//
// All ordering between Value and Size operands goes through this package's
// comparison helpers; a bare uint32 comparison would silently misbehave
// across a sequence wrap and is never permitted in the tcp/stack packages.
package seqnum

// Value represents the value of a sequence number.
type Value uint32

// Size represents the size of a window, segment, or other any other
// quantity that has to be fit within the sequence number space.
type Size uint32

// Add calculates the sequence number following the [v, v+s) range.
func (v Value) Add(s Size) Value {
	return v + Value(s)
}

// Size calculates the size of the window defined by [v, w).
func (v Value) Size(w Value) Size {
	return Size(w - v)
}

// LessThan checks if v is before w, i.e. if v is earlier in the sequence
// space than w, while allowing for wrap-around.
//
// Note that this relation is not transitive. Given three numbers X, Y and Z,
// it's possible to have:
//
//	LessThan(X, Y) && LessThan(Y, Z)
//
// be true but have:
//
//	LessThan(X, Z)
//
// be false when there is a wrap-around between X/Y and Z.
func (v Value) LessThan(w Value) bool {
	return int32(v-w) < 0
}

// LessThanEq checks if v is before or at w.
func (v Value) LessThanEq(w Value) bool {
	return v == w || v.LessThan(w)
}

// InRange checks if v is in the range [a, b).
func (v Value) InRange(a, b Value) bool {
	return v-a < b-a
}

// InWindow checks if v is included in the window that starts at 'first' and
// spans 'size' bytes.
func (v Value) InWindow(first Value, size Size) bool {
	return v.InRange(first, first.Add(size))
}

// WindowSize calculates the window size given by [v, w) for sequence number
// ordering purposes. This differs from Size() in that it returns a Size(0)
// if w comes before v in the sequence number space, instead of returning a
// huge number.
func (v Value) WindowSize(w Value) Size {
	if v.LessThanEq(w) {
		return v.Size(w)
	}
	return Size(0)
}
