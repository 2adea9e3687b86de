// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package seqnum

import "testing"

func TestLessThanWrapsAround(t *testing.T) {
	tests := []struct {
		comment string
		a, b    Value
		want    bool
	}{
		{"simple ordering", 1, 2, true},
		{"simple reverse", 2, 1, false},
		{"equal", 5, 5, false},
		{"wrap forward", 0xfffffffe, 1, true},
		{"wrap reverse", 1, 0xfffffffe, false},
	}

	for _, tc := range tests {
		if got := tc.a.LessThan(tc.b); got != tc.want {
			t.Errorf("%s: (%d).LessThan(%d) = %v, want %v", tc.comment, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestInWindow(t *testing.T) {
	tests := []struct {
		comment string
		v       Value
		first   Value
		size    Size
		want    bool
	}{
		{"inside", 105, 100, 10, true},
		{"at start", 100, 100, 10, true},
		{"at end, exclusive", 110, 100, 10, false},
		{"before start", 99, 100, 10, false},
		{"wrapped window", 3, 0xfffffff0, 20, true},
	}

	for _, tc := range tests {
		if got := tc.v.InWindow(tc.first, tc.size); got != tc.want {
			t.Errorf("%s: %d.InWindow(%d, %d) = %v, want %v", tc.comment, tc.v, tc.first, tc.size, got, tc.want)
		}
	}
}

func TestAddAndSize(t *testing.T) {
	v := Value(0xfffffff8)
	w := v.Add(Size(16))
	if w != Value(8) {
		t.Errorf("Add wrapped incorrectly: got %d, want 8", w)
	}
	if got, want := v.Size(w), Size(16); got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
}

func TestWindowSizeHandlesReversedOrder(t *testing.T) {
	v := Value(100)
	w := Value(50)
	if got, want := v.WindowSize(w), Size(0); got != want {
		t.Errorf("WindowSize() with reversed operands = %d, want %d", got, want)
	}
}
