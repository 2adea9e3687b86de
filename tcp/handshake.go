// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"time"

	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/sleep"
	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcpip"
)

const maxSegmentsPerWake = 100

type handshakeState int

// The states of the three-way handshake, RFC 793 figure 6.
const (
	handshakeSynSent handshakeState = iota
	handshakeSynRcvd
	handshakeCompleted
)

const (
	wakerForResend = iota
	wakerForNotification
	wakerForNewSegment
)

// handshake drives one endpoint through SYN_SENT or SYN_RECEIVED until
// the connection is ESTABLISHED or the attempt fails.
type handshake struct {
	ep     *Endpoint
	state  handshakeState
	active bool
	flags  uint8
	ackNum seqnum.Value

	iss seqnum.Value

	rcvWnd      seqnum.Size
	sndWnd      seqnum.Size
	mss         uint16
	sndWndScale int
	rcvWndScale int
}

func newHandshake(ep *Endpoint, rcvWnd seqnum.Size) (*handshake, error) {
	h := &handshake{
		ep:          ep,
		active:      true,
		rcvWnd:      rcvWnd,
		rcvWndScale: findWndScale(rcvWnd),
	}
	if err := h.resetState(); err != nil {
		return nil, err
	}
	return h, nil
}

// findWndScale picks the smallest shift such that 0xffff<<shift >= wnd,
// per RFC 1323 section 2.3.
func findWndScale(wnd seqnum.Size) int {
	if wnd < 0x10000 {
		return 0
	}
	max := seqnum.Size(0xffff)
	s := 0
	for wnd > max && s < maxWndScale {
		s++
		max <<= 1
	}
	return s
}

const maxWndScale = 14

func (h *handshake) resetState() error {
	h.state = handshakeSynSent
	h.flags = header.FlagSyn
	h.ackNum = 0
	h.mss = 0
	h.iss = newISS()
	return nil
}

func (h *handshake) effectiveRcvWndScale() uint8 {
	if h.sndWndScale < 0 {
		return 0
	}
	return uint8(h.rcvWndScale)
}

// resetToSynRcvd primes the handshake for a passive-open child spawned
// out of LISTEN, having already parsed the peer's SYN.
func (h *handshake) resetToSynRcvd(iss, irs seqnum.Value, mss uint16, sndWndScale int) {
	h.active = false
	h.state = handshakeSynRcvd
	h.flags = header.FlagSyn | header.FlagAck
	h.iss = iss
	h.ackNum = irs + 1
	h.mss = mss
	h.sndWndScale = sndWndScale
}

// checkAck validates a handshake segment's ACK number against our ISS;
// an invalid one draws a RST per RFC 793 page 36 without changing state.
func (h *handshake) checkAck(s *segment) bool {
	if s.flagIsSet(header.FlagAck) && s.ackNumber != h.iss+1 {
		ack := s.sequenceNumber.Add(s.logicalLen())
		h.ep.sendRaw(nil, header.FlagRst|header.FlagAck, s.ackNumber, ack, 0)
		return false
	}
	return true
}

func (h *handshake) synSentState(s *segment) error {
	if s.flagIsSet(header.FlagRst) {
		if s.flagIsSet(header.FlagAck) && s.ackNumber == h.iss+1 {
			return tcpip.ErrConnectionRefused
		}
		return nil
	}

	if !h.checkAck(s) {
		return nil
	}

	if !s.flagIsSet(header.FlagSyn) {
		return nil
	}

	opts := s.options
	if opts.MSS == 0 {
		opts.MSS = h.ep.tuning.DefaultMSS
	}
	ws := -1
	if opts.HasWS {
		ws = int(opts.WS)
		if ws > maxWndScale {
			ws = maxWndScale
		}
	}

	h.ackNum = s.sequenceNumber + 1
	h.flags |= header.FlagAck
	h.mss = opts.MSS
	h.sndWndScale = ws

	if s.flagIsSet(header.FlagAck) {
		h.state = handshakeCompleted
		h.ep.sendRaw(nil, header.FlagAck, h.iss+1, h.ackNum, h.rcvWnd>>h.effectiveRcvWndScale())
		return nil
	}

	// Simultaneous open: peer sent a bare SYN. Acknowledge it, resend
	// our own SYN, and wait out SYN_RECEIVED.
	h.state = handshakeSynRcvd
	h.ep.sendSynSegment(h.flags, h.iss, h.ackNum, h.rcvWnd, h.rcvWndScale)
	return nil
}

func (h *handshake) synRcvdState(s *segment) error {
	if s.flagIsSet(header.FlagRst) {
		if s.sequenceNumber.InWindow(h.ackNum, h.rcvWnd) {
			return tcpip.ErrConnectionRefused
		}
		return nil
	}

	if !h.checkAck(s) {
		return nil
	}

	if s.flagIsSet(header.FlagSyn) && s.sequenceNumber != h.ackNum-1 {
		ack := s.sequenceNumber.Add(s.logicalLen())
		seq := seqnum.Value(0)
		if s.flagIsSet(header.FlagAck) {
			seq = s.ackNumber
		}
		h.ep.sendRaw(nil, header.FlagRst|header.FlagAck, seq, ack, 0)

		if !h.active {
			return tcpip.ErrInvalidEndpointState
		}
		if err := h.resetState(); err != nil {
			return err
		}
		h.ep.sendSynSegment(h.flags, h.iss, h.ackNum, h.rcvWnd, h.rcvWndScale)
		return nil
	}

	if s.flagIsSet(header.FlagAck) {
		h.state = handshakeCompleted
	}
	return nil
}

func (h *handshake) processSegments() error {
	for i := 0; i < maxSegmentsPerWake; i++ {
		s := h.ep.segmentQueue.dequeue()
		if s == nil {
			return nil
		}

		h.sndWnd = s.window
		if !s.flagIsSet(header.FlagSyn) && h.sndWndScale > 0 {
			h.sndWnd <<= uint8(h.sndWndScale)
		}

		var err error
		switch h.state {
		case handshakeSynRcvd:
			err = h.synRcvdState(s)
		case handshakeSynSent:
			err = h.synSentState(s)
		}
		s.free()
		if err != nil {
			return err
		}
		if h.state == handshakeCompleted {
			break
		}
	}

	if !h.ep.segmentQueue.empty() {
		h.ep.newSegmentWaker.Assert()
	}
	return nil
}

// execute runs the three-way handshake to completion, blocking the
// calling goroutine (connect()'s caller for an active open, the
// runPassiveHandshake goroutine for a passive one) until it succeeds or
// fails.
func (h *handshake) execute() error {
	resendWaker := &sleep.Waker{}
	timeout := h.ep.tuning.InitialSynRTO
	rt := time.AfterFunc(timeout, func() { resendWaker.Assert() })
	defer rt.Stop()

	s := &sleep.Sleeper{}
	s.AddWaker(resendWaker, wakerForResend)
	s.AddWaker(&h.ep.notificationWaker, wakerForNotification)
	s.AddWaker(&h.ep.newSegmentWaker, wakerForNewSegment)
	defer s.Done()

	h.ep.sendSynSegment(h.flags, h.iss, h.ackNum, h.rcvWnd, h.rcvWndScale)
	for h.state != handshakeCompleted {
		switch index, _ := s.Fetch(true); index {
		case wakerForResend:
			timeout *= 2
			if timeout > h.ep.tuning.MaxRTO {
				return tcpip.ErrConnectionTimedOut
			}
			rt.Reset(timeout)
			h.ep.sendSynSegment(h.flags, h.iss, h.ackNum, h.rcvWnd, h.rcvWndScale)

		case wakerForNotification:
			n := h.ep.fetchNotifications()
			if n&notifyClose != 0 {
				return tcpip.ErrConnectionAborted
			}

		case wakerForNewSegment:
			if err := h.processSegments(); err != nil {
				return err
			}
		}
	}
	return nil
}

// finishHandshake builds the endpoint's sender and receiver out of the
// negotiated parameters once the handshake has completed, and moves
// the endpoint to ESTABLISHED. Callers must hold h.ep's lock.
func (h *handshake) finishHandshake() {
	irs := h.ackNum - 1
	h.ep.snd = newSender(h.ep, h.iss, irs, h.sndWnd, h.mss, h.sndWndScale)
	h.ep.rcv = newReceiver(h.ep, irs, h.rcvWnd, h.effectiveRcvWndScale())
	h.ep.handshake = nil
	h.ep.setState(stack.StateEstablished)
	if h.ep.metrics != nil {
		h.ep.metrics.Established.Inc()
	}
}
