// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"github.com/rs/xid"

	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcpip"
	"github.com/lucidnet/tcpstack/waiter"
)

// SegmentReceived is the reception dispatch's entry point into an
// already-matched endpoint. It holds the endpoint's lock for the
// whole call, so every state transition below is atomic with respect
// to timers and the public operations surface.
func (e *Endpoint) SegmentReceived(seg *segment) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SegmentsIn.Inc()
	}

	switch e.state {
	case stack.StateListen:
		return e.handleListenSegment(seg)

	case stack.StateSynSent, stack.StateSynReceived:
		if !e.segmentQueue.enqueue(seg) {
			return ActionDrop
		}
		e.newSegmentWaker.Assert()
		return ActionKeep

	case stack.StateClosed:
		return ActionDrop

	case stack.StateTimeWait:
		return e.handleTimeWaitSegment(seg)

	default:
		return e.handleEstablishedSegment(seg)
	}
}

// handleTimeWaitSegment implements RFC 793's TIME_WAIT behavior: the
// connection is otherwise dead, but a re-received FIN (the peer never
// saw our final ACK) still gets re-acknowledged and restarts the
// 2*MSL timer, and RSTs are ignored outright rather than used to tear
// down early (RFC 1337).
func (e *Endpoint) handleTimeWaitSegment(seg *segment) Action {
	if seg.flagIsSet(header.FlagRst) {
		return ActionDrop
	}
	if seg.flagIsSet(header.FlagFin) && e.rcv != nil {
		finAt := seg.sequenceNumber.Add(seqnum.Size(seg.payloadSize()))
		if finAt.Add(1) == e.rcv.rcvNxt {
			e.armTimeWait()
			e.sendImmediateAck()
		}
	}
	return ActionDrop
}

// handleListenSegment implements passive-open spawning: a bare SYN
// starts a child endpoint through SYN_RECEIVED on its own goroutine;
// anything else addressed to a listener is silently ignored (RFC 793
// page 65, LISTEN state, "other control or text").
func (e *Endpoint) handleListenSegment(seg *segment) Action {
	if !seg.flagIsSet(header.FlagSyn) || seg.flagIsSet(header.FlagAck) || seg.flagIsSet(header.FlagRst) {
		return ActionDrop
	}
	if len(e.acceptQueue) >= e.backlog {
		return ActionDrop
	}

	route, ok := e.router.GetRoute(seg.id.RemoteAddress)
	if !ok {
		return ActionDrop
	}

	child := NewEndpoint(e.manager, e.router, e.tuning, e.log, e.metrics)
	child.id = seg.id
	child.route = route
	child.loopback = e.loopback
	child.timestampsEnabled = e.timestampsEnabled && seg.options.HasTS
	child.state = stack.StateSynReceived

	h, err := newHandshake(child, seqnum.Size(child.receiveBufferSize()))
	if err != nil {
		return ActionDrop
	}
	mss := seg.options.MSS
	if mss == 0 {
		mss = e.tuning.DefaultMSS
	}
	sndWndScale := -1
	if seg.options.HasWS {
		sndWndScale = int(seg.options.WS)
	}
	h.resetToSynRcvd(newISS(), seg.sequenceNumber, mss, sndWndScale)
	child.handshake = h
	child.segmentQueue.enqueue(seg)

	entryID := xid.New().String()
	go e.runPassiveHandshake(entryID, child, h)

	return ActionKeep
}

// runPassiveHandshake drives a spawned child through SYN_RECEIVED and,
// on success, delivers it to the listener's accept queue. It owns no
// lock of its own until it needs to touch the parent or child state.
func (e *Endpoint) runPassiveHandshake(entryID string, child *Endpoint, h *handshake) {
	err := h.execute()

	if err != nil {
		child.mu.Lock()
		child.teardownLocked()
		child.mu.Unlock()
		child.manager.RemoveConnection(child)
		return
	}

	child.mu.Lock()
	h.finishHandshake()
	child.mu.Unlock()

	if err := e.manager.SetConnection(child, child.route); err != nil {
		child.mu.Lock()
		child.teardownLocked()
		child.mu.Unlock()
		child.manager.RemoveConnection(child)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.acceptQueue = append(e.acceptQueue, acceptedChild{id: entryID, ep: child})
	e.cond.Broadcast()
	e.waiterQueue.Notify(waiter.EventIn)
}

// handleEstablishedSegment implements the standard receive-path walk
// for every post-handshake state: PAWS, acceptability, RST, in-window
// SYN, trim, ACK-field processing, data/FIN delivery, and the ack
// decision.
func (e *Endpoint) handleEstablishedSegment(seg *segment) Action {
	if !e.pawsRecent(seg) {
		e.sendImmediateAck()
		return ActionDrop
	}

	size := seqnum.Size(seg.payloadSize())
	if !e.rcv.acceptable(seg.sequenceNumber, size) {
		if !seg.flagIsSet(header.FlagRst) {
			e.sendImmediateAck()
		}
		return ActionDrop
	}

	if seg.flagIsSet(header.FlagRst) {
		e.abort(tcpip.ErrConnectionReset)
		return ActionReset | ActionDeletedEndpoint
	}

	if seg.flagIsSet(header.FlagSyn) {
		e.sendRaw(nil, header.FlagRst|header.FlagAck, seg.ackNumber, e.rcv.rcvNxt, 0)
		e.abort(tcpip.ErrConnectionReset)
		return ActionReset | ActionDeletedEndpoint
	}

	if !seg.flagIsSet(header.FlagAck) {
		return ActionDrop
	}

	e.rcv.trim(seg)
	e.snd.handleRcvdSegment(seg)
	e.advanceOnAck()

	hadData := seg.payloadSize() > 0
	e.rcv.handleRcvdSegment(seg)
	e.recordTimestamp(seg)

	finDelivered := e.rcv.finFound && !e.finHandled
	if finDelivered {
		e.finHandled = true
		e.onFinReceived()
	}

	action := ActionKeep
	switch {
	case finDelivered, seg.flagIsSet(header.FlagPsh):
		e.sendImmediateAck()
		action |= ActionImmediateAcknowledge
	case hadData:
		e.armDelayedAck()
		action |= ActionAcknowledge
	}

	if finDelivered {
		e.waiterQueue.Notify(waiter.EventIn | waiter.EventHUp)
	} else if hadData {
		e.waiterQueue.Notify(waiter.EventIn)
	}

	e.cond.Broadcast()
	return action
}

// onFinSent records the sequence number our own FIN went out on, once
// the sender actually emits it, so later ACKs can be checked against
// it. Callers must hold e.mu.
func (e *Endpoint) onFinSent(seq seqnum.Value) {
	e.finSent = true
	e.finSeq = seq
}

// advanceOnAck applies the half-close state transitions that an ACK
// alone (no FIN in this segment) can trigger: our previously-sent FIN
// being acknowledged.
func (e *Endpoint) advanceOnAck() {
	finAcked := e.finSent && e.snd.sndUna == e.finSeq.Add(1)
	switch e.state {
	case stack.StateFinWait1:
		if finAcked {
			e.setState(stack.StateFinWait2)
		}
	case stack.StateClosing:
		if finAcked {
			e.armTimeWait()
		}
	case stack.StateLastAck:
		if finAcked {
			e.setState(stack.StateClosed)
			e.deleted = true
		}
	}
}

// onFinReceived applies the state transitions the peer's FIN causes,
// independent of whatever our own half of the connection is doing.
func (e *Endpoint) onFinReceived() {
	switch e.state {
	case stack.StateEstablished:
		e.setState(stack.StateCloseWait)
	case stack.StateFinWait1:
		if e.finSent && e.snd.sndUna == e.finSeq.Add(1) {
			e.armTimeWait()
		} else {
			e.setState(stack.StateClosing)
		}
	case stack.StateFinWait2:
		e.armTimeWait()
	}
}

// abort tears a connection down immediately on a peer RST, waking any
// blocked caller with hardError set. The connection-table and timer
// cleanup happens once the caller's Release brings the reference
// count to zero.
func (e *Endpoint) abort(err error) {
	e.hardError = err
	e.setState(stack.StateClosed)
	e.deleted = true
	if e.metrics != nil {
		e.metrics.Reset.Inc()
	}
	e.cond.Broadcast()
	e.waiterQueue.Notify(waiter.AllEvents)
}
