// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"testing"
	"time"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/stack"
)

func TestHandleTimeWaitSegmentIgnoresRst(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.state = stack.StateTimeWait

	seg := &segment{flags: header.FlagRst, data: buffer.New(0)}
	if action := ep.handleTimeWaitSegment(seg); action != ActionDrop {
		t.Errorf("handleTimeWaitSegment() on RST = %v, want ActionDrop", action)
	}
	if ep.state != stack.StateTimeWait {
		t.Errorf("state after RST in TIME_WAIT = %v, want unchanged StateTimeWait", ep.state)
	}
}

func TestHandleTimeWaitSegmentRestartsTimerOnReceivedFin(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.state = stack.StateTimeWait
	ep.tuning.MSL = time.Hour

	// The peer's FIN consumed sequence number rcvNxt-1, same as it did
	// the first time around; a retransmission arrives at that seq again
	// because our ACK never reached it.
	seg := &segment{
		sequenceNumber: ep.rcv.rcvNxt - 1,
		flags:          header.FlagFin,
		data:           buffer.New(0),
	}

	action := ep.handleTimeWaitSegment(seg)
	if action != ActionDrop {
		t.Errorf("handleTimeWaitSegment() on re-received FIN = %v, want ActionDrop", action)
	}
	if ep.state != stack.StateTimeWait {
		t.Errorf("state after re-received FIN = %v, want still StateTimeWait", ep.state)
	}
	if ep.timeWaitTimer == nil {
		t.Errorf("timeWaitTimer = nil after a re-received FIN, want armTimeWait to have (re)started it")
	}
}

func TestHandleTimeWaitSegmentIgnoresUnrelatedFin(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.state = stack.StateTimeWait

	// A FIN at some other sequence number isn't the one that put us in
	// TIME_WAIT and must not re-arm anything.
	seg := &segment{
		sequenceNumber: ep.rcv.rcvNxt + 50,
		flags:          header.FlagFin,
		data:           buffer.New(0),
	}

	ep.handleTimeWaitSegment(seg)
	if ep.timeWaitTimer != nil {
		t.Errorf("timeWaitTimer armed for a FIN that doesn't match the known finSeq")
	}
}
