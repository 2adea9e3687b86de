// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/queue"
	"github.com/lucidnet/tcpstack/seqnum"
)

// receiver holds the inbound half of a connection: the reassembly
// queue, PAWS/timestamp bookkeeping, and FIN tracking. Its methods run
// under the owning endpoint's lock.
type receiver struct {
	ep *Endpoint

	readQueue *queue.BufferQueue

	rcvNxt      seqnum.Value
	rcvWnd      seqnum.Size
	rcvWndScale uint8
	rcvAdv      seqnum.Value

	closed    bool
	finSeq    seqnum.Value
	finFound  bool

	lastTimestampEcho uint32
	lastTSValSeen     uint32
	sawTimestamp      bool
}

func newReceiver(ep *Endpoint, irs seqnum.Value, rcvWnd seqnum.Size, rcvWndScale uint8) *receiver {
	r := &receiver{
		ep:          ep,
		readQueue:   queue.New(ep.receiveBufferSize()),
		rcvNxt:      irs + 1,
		rcvWnd:      rcvWnd,
		rcvWndScale: rcvWndScale,
	}
	r.rcvAdv = r.rcvNxt.Add(rcvWnd)
	r.readQueue.SetInitialSequence(r.rcvNxt)
	return r
}

func (r *receiver) advertisedWindow() seqnum.Size {
	free := r.readQueue.Free()
	w := seqnum.Size(free)
	if w > seqnum.Size(r.ep.tuning.MaxWindow)<<r.rcvWndScale {
		w = seqnum.Size(r.ep.tuning.MaxWindow) << r.rcvWndScale
	}
	return w >> r.rcvWndScale
}

// acceptable implements RFC 793's segment-acceptability test: with a
// zero receive window only an empty, exactly-next-sequence segment is
// acceptable; otherwise either edge of the segment must fall in
// [rcvNxt, rcvNxt+rcvWnd).
func (r *receiver) acceptable(seq seqnum.Value, size seqnum.Size) bool {
	if r.rcvWnd == 0 {
		return size == 0 && seq == r.rcvNxt
	}
	if seq.InWindow(r.rcvNxt, r.rcvWnd) {
		return true
	}
	if size == 0 {
		return false
	}
	return seq.Add(size - 1).InWindow(r.rcvNxt, r.rcvWnd)
}

// trim clips seg's payload to the receive window, per the standard
// receive path's step 5.
func (r *receiver) trim(seg *segment) {
	upper := r.rcvNxt.Add(r.rcvWnd)
	size := seqnum.Size(seg.payloadSize())
	end := seg.sequenceNumber.Add(size)

	if seg.sequenceNumber.LessThan(r.rcvNxt) {
		trim := uint32(seg.sequenceNumber.Size(r.rcvNxt))
		seg.data.RemoveHeader(int(trim))
		seg.sequenceNumber = r.rcvNxt
	}
	if upper.LessThan(end) {
		keep := uint32(seg.sequenceNumber.Size(upper))
		seg.data.Trim(int(keep))
	}
}

// handleRcvdSegment runs the standard receive path's data/FIN handling
// (steps 7-8 of the reception walk-through) for an already-acceptable,
// already-trimmed segment, advancing r.rcvNxt past whatever became
// contiguous.
func (r *receiver) handleRcvdSegment(seg *segment) {
	if seg.payloadSize() > 0 {
		r.readQueue.AddAt(seg.data, seg.sequenceNumber)
		seg.data = nil
		r.rcvNxt = r.readQueue.NextSequence()
		if seg.flagIsSet(header.FlagPsh) {
			r.readQueue.SetPushPointer()
		}
	}

	if r.ep.timestampsEnabled && seg.options.HasTS {
		end := seg.sequenceNumber.Add(seqnum.Size(seg.payloadSize()) + 1)
		if seg.sequenceNumber.LessThanEq(r.rcvNxt) && r.rcvNxt.LessThan(end) {
			r.lastTimestampEcho = seg.options.TSVal
		}
	}

	if seg.flagIsSet(header.FlagFin) {
		finAt := seg.sequenceNumber.Add(seqnum.Size(seg.payloadSize()))
		if finAt.LessThanEq(r.rcvNxt) {
			r.rcvNxt++
			r.finFound = true
			r.finSeq = finAt
			r.closed = true
		}
	}
}
