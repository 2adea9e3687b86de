// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"testing"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/seqnum"
)

func newTestReceiver(t *testing.T) *receiver {
	t.Helper()
	ep, _ := newTestEndpoint(t)
	r := newReceiver(ep, 999, 16384, 0)
	ep.rcv = r
	return r
}

func TestAcceptableWithinWindow(t *testing.T) {
	r := newTestReceiver(t)

	if !r.acceptable(r.rcvNxt, 10) {
		t.Errorf("acceptable() at rcvNxt = false, want true")
	}
	if r.acceptable(r.rcvNxt.Add(r.rcvWnd+1), 1) {
		t.Errorf("acceptable() past the window = true, want false")
	}
}

func TestAcceptableZeroWindowOnlyAcceptsEmptyNextSegment(t *testing.T) {
	r := newTestReceiver(t)
	r.rcvWnd = 0

	if !r.acceptable(r.rcvNxt, 0) {
		t.Errorf("acceptable() with zero window, empty, at rcvNxt = false, want true")
	}
	if r.acceptable(r.rcvNxt, 1) {
		t.Errorf("acceptable() with zero window and nonzero payload = true, want false")
	}
	if r.acceptable(r.rcvNxt.Add(1), 0) {
		t.Errorf("acceptable() with zero window, empty, past rcvNxt = true, want false")
	}
}

func TestTrimClipsLeadingOverlap(t *testing.T) {
	r := newTestReceiver(t)

	buf := buffer.New(0)
	buf.Append([]byte("hello world"))
	seg := &segment{
		sequenceNumber: r.rcvNxt - 5,
		data:           buf,
	}

	r.trim(seg)

	if got, want := seg.sequenceNumber, r.rcvNxt; got != want {
		t.Errorf("sequenceNumber after trim = %d, want clipped up to rcvNxt (%d)", got, want)
	}
	if got, want := seg.data.Size(), len("hello world")-5; got != want {
		t.Errorf("payload size after trim = %d, want %d", got, want)
	}
}

func TestHandleRcvdSegmentAdvancesRcvNxtOnInOrderData(t *testing.T) {
	r := newTestReceiver(t)

	buf := buffer.New(0)
	buf.Append([]byte("abc"))
	seg := &segment{sequenceNumber: r.rcvNxt, data: buf}

	r.handleRcvdSegment(seg)

	if got, want := r.rcvNxt, seqnum.Value(1000+3); got != want {
		t.Errorf("rcvNxt after 3 in-order bytes = %d, want %d", got, want)
	}
	if got, want := r.readQueue.Available(), uint32(3); got != want {
		t.Errorf("readQueue.Available() = %d, want %d", got, want)
	}
}

func TestHandleRcvdSegmentDetectsFinAtRcvNxt(t *testing.T) {
	r := newTestReceiver(t)

	seg := &segment{
		sequenceNumber: r.rcvNxt,
		flags:          header.FlagFin,
		data:           buffer.New(0),
	}

	r.handleRcvdSegment(seg)

	if !r.finFound {
		t.Errorf("finFound = false after an in-order bare FIN, want true")
	}
	if got, want := r.rcvNxt, seqnum.Value(1001); got != want {
		t.Errorf("rcvNxt after FIN = %d, want %d (FIN consumes one sequence number)", got, want)
	}
}

func TestHandleRcvdSegmentIgnoresFinPastRcvNxt(t *testing.T) {
	r := newTestReceiver(t)

	seg := &segment{
		sequenceNumber: r.rcvNxt.Add(5),
		flags:          header.FlagFin,
		data:           buffer.New(0),
	}

	r.handleRcvdSegment(seg)

	if r.finFound {
		t.Errorf("finFound = true for an out-of-order FIN, want false until the gap closes")
	}
}
