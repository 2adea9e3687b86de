// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"testing"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/config"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcpip"
)

// recordingRouter captures every segment handed to SendRoutedData so
// tests can inspect what a sender actually put on the wire.
type recordingRouter struct {
	route *stack.Route
	sent  []*buffer.NetBuffer
}

func (r *recordingRouter) GetRoute(tcpip.Address) (*stack.Route, bool) { return r.route, true }

func (r *recordingRouter) SendRoutedData(route *stack.Route, buf *buffer.NetBuffer) error {
	r.sent = append(r.sent, buf)
	return nil
}

func newTestEndpoint(t *testing.T) (*Endpoint, *recordingRouter) {
	t.Helper()
	manager := stack.NewEndpointManager(config.Default(), nil)
	router := &recordingRouter{route: &stack.Route{LocalAddress: "10.0.0.1", RemoteAddress: "10.0.0.2"}}
	ep := NewEndpoint(manager, router, config.Default(), nil, nil)
	ep.id = stack.TransportEndpointID{LocalAddress: "10.0.0.1", LocalPort: 1000, RemoteAddress: "10.0.0.2", RemotePort: 80}
	return ep, router
}

func TestNewSenderInitializesWriteQueueWithFreeCapacity(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	s := newSender(ep, 100, 200, 65535, 1460, 0)

	if got := s.writeQueue.Free(); got == 0 {
		t.Fatalf("writeQueue.Free() = 0, want > 0 so SendData never blocks forever on a fresh sender")
	}
}

func TestInitialCwndSegmentsFollowsMSSThresholds(t *testing.T) {
	cases := []struct {
		mss  uint16
		want seqnum.Size
	}{
		{mss: 500, want: 4},
		{mss: 1094, want: 4},
		{mss: 1095, want: 3},
		{mss: 2189, want: 3},
		{mss: 2190, want: 2},
		{mss: 9000, want: 2},
	}
	for _, c := range cases {
		if got := initialCwndSegments(c.mss); got != c.want {
			t.Errorf("initialCwndSegments(%d) = %d, want %d", c.mss, got, c.want)
		}
	}
}

func TestFlightSizeIsUnackedUpToSndMax(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	s := newSender(ep, 100, 200, 65535, 1460, 0)
	s.sndMax = s.sndUna + 500

	if got, want := s.flightSize(), seqnum.Size(500); got != want {
		t.Errorf("flightSize() = %d, want %d", got, want)
	}
}

func TestUsableShrinksAsOutstandingGrowsTowardWindow(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	s := newSender(ep, 100, 200, 1000, 1460, 0)
	s.cwnd = 1000
	s.sndNxt = s.sndUna + 400

	if got, want := s.usable(), seqnum.Size(600); got != want {
		t.Errorf("usable() = %d, want %d", got, want)
	}

	s.sndNxt = s.sndUna + 1000
	if got := s.usable(); got != 0 {
		t.Errorf("usable() at full window = %d, want 0", got)
	}
}

func TestAcknowledgedAdvancesUnaAndGrowsCwndInSlowStart(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	s := newSender(ep, 100, 200, 65535, 1000, 0)
	s.cwnd = 2000
	s.ssthresh = 100000
	s.sndNxt = s.sndUna + 1500
	s.sndMax = s.sndNxt

	s.acknowledged(s.sndUna+1500, &segment{})

	if s.sndUna != s.sndNxt {
		t.Errorf("sndUna = %d, want it to catch up to sndNxt (%d)", s.sndUna, s.sndNxt)
	}
	if got, want := s.cwnd, seqnum.Size(3000); got != want {
		t.Errorf("cwnd after full-segment ack in slow start = %d, want %d (capped at one MSS)", got, want)
	}
	if s.dupAckCount != 0 {
		t.Errorf("dupAckCount = %d, want reset to 0 on a new ack", s.dupAckCount)
	}
}

func TestHandleDuplicateAckFastRetransmitsOnThirdDup(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	s := newSender(ep, 100, 200, 65535, 1000, 0)
	s.sndNxt = s.sndUna + 3000
	s.sndMax = s.sndNxt
	buf := buffer.New(0)
	buf.Append(make([]byte, 3000))
	s.writeQueue.Add(buf)

	seg := &segment{ackNumber: s.sndUna}
	s.handleDuplicateAck(seg)
	s.handleDuplicateAck(seg)
	if s.recovery {
		t.Fatalf("recovery entered after only 2 duplicate acks")
	}

	s.handleDuplicateAck(seg)
	if !s.recovery {
		t.Errorf("recovery = false after third duplicate ack, want true (fast retransmit)")
	}
	if got, want := s.sndNxt, s.sndUna; got != want {
		t.Errorf("sndNxt after fast retransmit = %d, want rewound to sndUna (%d)", got, want)
	}
}

func TestRetransmitTimerExpiredResetsToSlowStart(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	s := newSender(ep, 100, 200, 65535, 1000, 0)
	s.sndNxt = s.sndUna + 4000
	s.sndMax = s.sndNxt
	s.cwnd = 8000
	s.rto = ep.tuning.MinRTO

	s.retransmitTimerExpired()

	if got, want := s.cwnd, seqnum.Size(1000); got != want {
		t.Errorf("cwnd after RTO = %d, want %d (one MSS, slow start)", got, want)
	}
	if got, want := s.rto, 2*ep.tuning.MinRTO; got != want {
		t.Errorf("rto after expiry = %v, want doubled to %v", got, want)
	}
	if s.sndNxt != s.sndUna {
		t.Errorf("sndNxt after RTO = %d, want rewound to sndUna (%d)", s.sndNxt, s.sndUna)
	}
}

func TestRetransmitTimerExpiredNoOpWhenNothingOutstanding(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	s := newSender(ep, 100, 200, 65535, 1000, 0)
	rto := s.rto

	s.retransmitTimerExpired()

	if s.rto != rto {
		t.Errorf("rto changed with nothing in flight: got %v, want unchanged %v", s.rto, rto)
	}
}
