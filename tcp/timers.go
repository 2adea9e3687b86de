// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"time"

	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/stack"
)

// armDelayedAck schedules the deferred ACK the standard receive path
// owes the peer when it neither pushed nor filled a window, per the
// delayed-ACK timer in the endpoint's timer set.
func (e *Endpoint) armDelayedAck() {
	if e.delayedAckDue {
		return
	}
	e.delayedAckDue = true
	if e.delayedAckTimer == nil {
		e.delayedAckTimer = time.AfterFunc(e.tuning.DelayedACK, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.delayedAckDue {
				return
			}
			e.delayedAckDue = false
			e.sendAck()
		})
		return
	}
	e.delayedAckTimer.Reset(e.tuning.DelayedACK)
}

// sendImmediateAck cancels any pending delayed ACK and sends one now.
func (e *Endpoint) sendImmediateAck() {
	if e.delayedAckTimer != nil {
		e.delayedAckTimer.Stop()
	}
	e.delayedAckDue = false
	e.sendAck()
}

func (e *Endpoint) sendAck() {
	if e.snd == nil || e.rcv == nil {
		return
	}
	e.sendRaw(nil, header.FlagAck, e.snd.sndNxt, e.rcv.rcvNxt, e.rcv.advertisedWindow())
}

// armPersistTimer starts (or restarts) the zero-window probe timer. It
// fires repeatedly, doubling up to MaxRTO, for as long as the peer's
// advertised window stays at zero and we still have data queued.
func (e *Endpoint) armPersistTimer() {
	if e.snd == nil {
		return
	}
	timeout := e.snd.persistBackoff
	if timeout == 0 {
		timeout = e.tuning.PersistTimeout
	}
	if e.persistTimer == nil {
		e.persistTimer = time.AfterFunc(timeout, e.persistTimerFired)
		return
	}
	e.persistTimer.Reset(timeout)
}

func (e *Endpoint) stopPersistTimer() {
	if e.persistTimer != nil {
		e.persistTimer.Stop()
	}
	if e.snd != nil {
		e.snd.persistBackoff = 0
	}
}

// persistTimerFired sends a single byte of unacknowledged data (or a
// window probe with no payload if none is queued) to provoke a fresh
// window update from the peer, then reschedules itself if the window
// is still closed.
func (e *Endpoint) persistTimerFired() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snd == nil || e.state != stack.StateEstablished && e.state != stack.StateFinWait1 && e.state != stack.StateFinWait2 {
		return
	}
	if e.snd.sndWnd > 0 {
		return
	}

	buf, err := e.snd.writeQueue.GetAt(e.snd.sndUna, 1)
	if err == nil {
		e.sendRaw(buf, header.FlagAck, e.snd.sndUna, e.rcv.rcvNxt, e.rcv.advertisedWindow())
	} else {
		e.sendRaw(nil, header.FlagAck, e.snd.sndUna-1, e.rcv.rcvNxt, e.rcv.advertisedWindow())
	}

	next := e.snd.persistBackoff
	if next == 0 {
		next = e.tuning.PersistTimeout
	}
	next *= 2
	if next > e.tuning.MaxRTO {
		next = e.tuning.MaxRTO
	}
	e.snd.persistBackoff = next
	e.armPersistTimer()
}

// armTimeWait starts the 2*MSL TIME_WAIT timer; its firing is the only
// way a connection leaves TIME_WAIT under normal operation.
func (e *Endpoint) armTimeWait() {
	e.setState(stack.StateTimeWait)
	if e.timeWaitTimer != nil {
		e.timeWaitTimer.Stop()
	}
	e.timeWaitTimer = time.AfterFunc(e.tuning.TimeWaitDuration(), func() {
		e.mu.Lock()
		e.setState(stack.StateClosed)
		e.deleted = true
		teardown := e.refs == 0
		if teardown {
			e.teardownLocked()
		}
		e.mu.Unlock()

		// RemoveConnection must run with e.mu released; see teardownLocked.
		if teardown {
			e.manager.RemoveConnection(e)
		}
	})
}

// pawsRecent implements the Protect-Against-Wrapped-Sequences check:
// a segment's timestamp must not be strictly older than the last one
// seen inside the current window.
func (e *Endpoint) pawsRecent(seg *segment) bool {
	if !e.timestampsEnabled || !seg.options.HasTS || !e.rcv.sawTimestamp {
		return true
	}
	elapsed := int32(seg.options.TSVal - e.rcv.lastTSValSeen)
	return elapsed >= 0
}

func (e *Endpoint) recordTimestamp(seg *segment) {
	if !e.timestampsEnabled || !seg.options.HasTS {
		return
	}
	if !e.rcv.sawTimestamp || seqnum.Value(seg.options.TSVal-e.rcv.lastTSValSeen) < seqnum.Value(1)<<31 {
		e.rcv.lastTSValSeen = seg.options.TSVal
		e.rcv.sawTimestamp = true
	}
}
