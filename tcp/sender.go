// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"time"

	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/queue"
	"github.com/lucidnet/tcpstack/seqnum"
)

// sender holds everything to do with the outgoing half of a connection:
// the retransmission queue, Reno congestion control, and RTT/RTO
// estimation. All of its methods run under the owning endpoint's lock.
type sender struct {
	ep *Endpoint

	writeQueue *queue.BufferQueue

	sndUna seqnum.Value
	sndNxt seqnum.Value
	sndMax seqnum.Value
	sndWnd seqnum.Size

	sndWndScale int
	mss         uint16

	cwnd     seqnum.Size
	ssthresh seqnum.Size

	dupAckCount int
	recovery    bool
	recoverSeq  seqnum.Value
	prevFlight  seqnum.Size

	rto   time.Duration
	srtt  time.Duration
	rttvar time.Duration
	rttMeasured bool

	roundTripStartSeq seqnum.Value
	sendTime          time.Time
	measuring         bool

	closed     bool
	finNotified bool

	resendTimer *time.Timer

	// persistBackoff holds the current zero-window-probe interval once
	// persistTimerFired has doubled it at least once; zero means "use
	// the tuning default," so a fresh zero-window episode always starts
	// the backoff over rather than resuming where the last one left off.
	persistBackoff time.Duration
}

func newSender(ep *Endpoint, iss, irs seqnum.Value, sndWnd seqnum.Size, mss uint16, sndWndScale int) *sender {
	if mss == 0 {
		mss = ep.tuning.DefaultMSS
	}
	s := &sender{
		ep:          ep,
		writeQueue:  queue.New(ep.receiveBufferSize()),
		sndUna:      iss + 1,
		sndNxt:      iss + 1,
		sndMax:      iss + 1,
		sndWnd:      sndWnd,
		sndWndScale: sndWndScale,
		mss:         mss,
		cwnd:        seqnum.Size(mss) * initialCwndSegments(mss),
		ssthresh:    seqnum.Size(^uint32(0) >> 1),
		rto:         ep.tuning.MinRTO,
	}
	s.writeQueue.SetInitialSequence(s.sndNxt)
	return s
}

// initialCwndSegments implements the 2/3/4-segment initial window per
// the MSS thresholds tested by the handshake scenario: 4 segments below
// 1095 bytes, 3 below 2190, else 2.
func initialCwndSegments(mss uint16) seqnum.Size {
	switch {
	case mss < 1095:
		return 4
	case mss < 2190:
		return 3
	default:
		return 2
	}
}

func (s *sender) flightSize() seqnum.Size {
	return s.sndUna.Size(s.sndMax)
}

func (s *sender) effectiveWindow() seqnum.Size {
	w := s.sndWnd
	if s.cwnd < w {
		w = s.cwnd
	}
	return w
}

func (s *sender) usable() seqnum.Size {
	w := s.effectiveWindow()
	outstanding := s.sndUna.Size(s.sndNxt)
	if outstanding >= w {
		return 0
	}
	return w - outstanding
}

// handleRcvdSegment runs the acknowledgement, congestion-control, and
// duplicate-ACK logic for one inbound segment carrying the ACK flag.
func (s *sender) handleRcvdSegment(seg *segment) {
	ack := seg.ackNumber

	if ack.LessThanEq(s.sndUna) {
		if ack == s.sndUna && seg.payloadSize() == 0 && seqnum.Size(seg.window) == s.sndWnd {
			s.handleDuplicateAck(seg)
		}
		return
	}

	if s.sndMax.LessThan(ack) {
		// Peer acked data we never sent: answer with an immediate ack
		// and leave the send state untouched.
		s.ep.sendImmediateAck()
		return
	}

	s.acknowledged(ack, seg)
}

func (s *sender) acknowledged(ack seqnum.Value, seg *segment) {
	bytesAcked := s.sndUna.Size(ack)
	s.writeQueue.RemoveUntil(ack)
	s.sndUna = ack
	s.dupAckCount = 0

	if s.cwnd < s.ssthresh {
		inc := bytesAcked
		if inc > seqnum.Size(s.mss) {
			inc = seqnum.Size(s.mss)
		}
		s.cwnd += inc
	} else {
		mss := seqnum.Size(s.mss)
		inc := mss * mss / s.cwnd
		if inc < 1 {
			inc = 1
		}
		s.cwnd += inc
	}

	if s.recovery && s.recoverSeq.LessThan(ack) {
		flight := s.flightSize()
		base := flight
		if base < seqnum.Size(s.mss) {
			base = seqnum.Size(s.mss)
		}
		newCwnd := base + seqnum.Size(s.mss)
		if newCwnd > s.ssthresh {
			newCwnd = s.ssthresh
		}
		s.cwnd = newCwnd
		s.recovery = false
	}

	s.sampleRTT(ack, seg)

	if s.sndUna == s.sndNxt {
		s.stopRetransmitTimer()
	} else {
		s.armRetransmitTimer()
	}

	s.sendData()
}

func (s *sender) sampleRTT(ack seqnum.Value, seg *segment) {
	var sample time.Duration
	have := false

	if s.ep.timestampsEnabled && seg.options.HasTS && seg.options.TSEcr != 0 {
		sample = time.Duration(s.ep.clock()-seg.options.TSEcr) * time.Millisecond
		have = true
	} else if s.measuring && s.roundTripStartSeq.LessThan(ack) {
		sample = time.Since(s.sendTime)
		have = true
	}
	if !have {
		return
	}
	s.measuring = false

	if !s.rttMeasured {
		s.srtt = sample
		s.rttvar = sample / 2
		s.rttMeasured = true
	} else {
		diff := s.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		s.rttvar += (diff - s.rttvar) / 4
		s.srtt += (sample - s.srtt) / 8
	}

	rto := s.srtt + maxDuration(100*time.Millisecond, 4*s.rttvar)
	if rto < s.ep.tuning.MinRTO {
		rto = s.ep.tuning.MinRTO
	}
	if rto > s.ep.tuning.MaxRTO {
		rto = s.ep.tuning.MaxRTO
	}
	s.rto = rto
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// handleDuplicateAck implements limited transmit for the first two
// duplicates and fast retransmit/recovery from the third on.
func (s *sender) handleDuplicateAck(seg *segment) {
	s.dupAckCount++

	switch {
	case s.dupAckCount < 3:
		if s.writeQueue.Available() > 0 && s.sndWnd > s.sndUna.Size(s.sndNxt) {
			saved := s.cwnd
			s.cwnd += seqnum.Size(s.dupAckCount) * seqnum.Size(s.mss)
			s.sendData()
			s.cwnd = saved
		}

	case s.dupAckCount == 3:
		prevFlight := s.flightSize()
		if s.recoverSeq.LessThan(seg.ackNumber-1) || prevFlight <= 4*seqnum.Size(s.mss) {
			s.recovery = true
			s.recoverSeq = s.sndMax - 1
			half := prevFlight / 2
			if half < 2*seqnum.Size(s.mss) {
				half = 2 * seqnum.Size(s.mss)
			}
			s.ssthresh = half
			s.cwnd = s.ssthresh + 3*seqnum.Size(s.mss)
			s.retransmitFrom(s.sndUna)
			if s.ep.metrics != nil {
				s.ep.metrics.FastRetransmits.Inc()
			}
		}

	default:
		s.cwnd += seqnum.Size(s.mss)
		s.sendData()
	}
}

// sendData emits as many segments as the send-decision rules (Nagle /
// silly-window avoidance) permit from the current send window.
func (s *sender) sendData() {
	for {
		avail := s.writeQueue.AvailableFrom(s.sndNxt)
		usable := s.usable()
		if usable == 0 {
			break
		}

		segLen := uint32(usable)
		if uint32(avail) < segLen {
			segLen = uint32(avail)
		}
		if segLen > uint32(s.mss) {
			segLen = uint32(s.mss)
		}

		if segLen == 0 {
			if s.closed && !s.finNotified && s.sndNxt == s.writeQueue.LastSequence() && s.sndNxt == s.sndMax {
				finSeq := s.sndNxt
				s.ep.sendRaw(nil, header.FlagAck|header.FlagFin, s.sndNxt, s.ep.rcv.rcvNxt, s.ep.rcv.advertisedWindow())
				s.sndNxt++
				s.sndMax = s.sndNxt
				s.finNotified = true
				s.ep.onFinSent(finSeq)
			}
			break
		}

		if !s.shouldSend(segLen, avail) {
			break
		}

		buf, err := s.writeQueue.GetAt(s.sndNxt, segLen)
		if err != nil {
			break
		}
		s.ep.sendRaw(buf, header.FlagAck, s.sndNxt, s.ep.rcv.rcvNxt, s.ep.rcv.advertisedWindow())
		s.sndNxt = s.sndNxt.Add(seqnum.Size(segLen))
		if s.sndMax.LessThan(s.sndNxt) {
			s.sndMax = s.sndNxt
			if !s.measuring {
				s.measuring = true
				s.roundTripStartSeq = s.sndUna
				s.sendTime = time.Now()
			}
		}
	}

	if s.sndUna != s.sndNxt {
		s.armRetransmitTimer()
	}

	if s.sndWnd == 0 && s.writeQueue.AvailableFrom(s.sndNxt) > 0 {
		s.ep.armPersistTimer()
	} else {
		s.ep.stopPersistTimer()
	}
}

// shouldSend implements the send-decision rules: full-MSS segments and
// control segments always go out; partial ones only when Nagle is
// disabled, they flush the remaining queued data, or they're at least
// half the effective send window (the smaller of sndWnd and cwnd).
func (s *sender) shouldSend(segLen uint32, avail uint32) bool {
	if segLen == uint32(s.mss) {
		return true
	}
	if s.ep.nagleDisabled {
		return true
	}
	if segLen == avail {
		return true
	}
	if seqnum.Size(segLen) >= s.effectiveWindow()/2 {
		return true
	}
	return false
}

// retransmitFrom resets sndNxt to seq and re-sends starting there.
func (s *sender) retransmitFrom(seq seqnum.Value) {
	s.sndNxt = seq
	s.measuring = false
	s.sendData()
}

func (s *sender) armRetransmitTimer() {
	if s.resendTimer == nil {
		s.resendTimer = time.AfterFunc(s.rto, s.retransmitTimerFired)
		return
	}
	s.resendTimer.Reset(s.rto)
}

func (s *sender) stopRetransmitTimer() {
	if s.resendTimer != nil {
		s.resendTimer.Stop()
	}
}

// retransmitTimerFired is the time.AfterFunc callback: it re-acquires
// the endpoint's lock before touching any shared state, then
// short-circuits if the endpoint has already moved on.
func (s *sender) retransmitTimerFired() {
	s.ep.mu.Lock()
	defer s.ep.mu.Unlock()
	if s.ep.deleted || s.ep.snd != s {
		return
	}
	s.retransmitTimerExpired()
}

// retransmitTimerExpired implements the retransmit timer's firing
// action: halve cwnd into slow start, double the RTO, rewind sndNxt,
// and resend the oldest outstanding segment.
func (s *sender) retransmitTimerExpired() bool {
	if s.sndUna == s.sndNxt {
		return true
	}

	flight := s.flightSize()
	half := flight / 2
	if half < 2*seqnum.Size(s.mss) {
		half = 2 * seqnum.Size(s.mss)
	}
	s.ssthresh = half
	s.cwnd = seqnum.Size(s.mss)

	s.rto *= 2
	if s.rto > s.ep.tuning.MaxRTO {
		s.rto = s.ep.tuning.MaxRTO
	}

	s.sndNxt = s.sndUna
	s.measuring = false
	if s.ep.metrics != nil {
		s.ep.metrics.Retransmits.Inc()
		s.ep.metrics.RTO.Observe(s.rto.Seconds())
	}
	s.sendData()
	return true
}
