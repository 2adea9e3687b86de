// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/config"
	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/metrics"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/sleep"
	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcpip"
	"github.com/lucidnet/tcpstack/waiter"
)

// notify flags, set by any goroutine and drained by the handshake loop
// under notificationWaker.
const (
	notifyNonZeroReceiveWindow uint32 = 1 << iota
	notifyReceiveWindowChanged
	notifyClose
)

// acceptedChild pairs a spawned SYN_RECEIVED child with the short,
// sortable backlog entry id it was tagged with for debug logging.
type acceptedChild struct {
	id string
	ep *Endpoint
}

// Endpoint is one TCP connection (or listener). It implements
// stack.Endpoint so an EndpointManager can demultiplex segments to it.
type Endpoint struct {
	manager *stack.EndpointManager
	router  stack.Router
	tuning  config.Tuning
	log     *logrus.Entry
	metrics *metrics.Endpoint
	traceID uuid.UUID

	mu   sync.Mutex
	cond *sync.Cond

	id    stack.TransportEndpointID
	route *stack.Route
	state stack.State

	reuseAddr         bool
	loopback          bool
	nagleDisabled     bool
	timestampsEnabled bool

	snd       *sender
	rcv       *receiver
	handshake *handshake

	finSent    bool
	finSeq     seqnum.Value
	finHandled bool

	segmentQueue      *segmentQueue
	notificationWaker sleep.Waker
	newSegmentWaker   sleep.Waker
	sndWaker          sleep.Waker
	sndCloseWaker     sleep.Waker

	notifyMu sync.Mutex
	notify   uint32

	waiterQueue waiter.Queue

	backlog     int
	acceptQueue []acceptedChild

	hardError error

	refs          int
	workerRunning bool
	deleted       bool
	shutRead      bool

	lowWaterMark int

	delayedAckTimer *time.Timer
	delayedAckDue   bool
	persistTimer    *time.Timer
	timeWaitTimer   *time.Timer
}

// NewEndpoint allocates a closed endpoint bound to no address.
func NewEndpoint(manager *stack.EndpointManager, router stack.Router, tuning config.Tuning, log *logrus.Entry, m *metrics.Endpoint) *Endpoint {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Endpoint{
		manager:      manager,
		router:       router,
		tuning:       tuning,
		log:          log,
		metrics:      m,
		traceID:      uuid.New(),
		state:        stack.StateClosed,
		segmentQueue: newSegmentQueue(maxSegmentsPerWake),
		lowWaterMark: 1,
		refs:         1,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// --- stack.Endpoint ---

func (e *Endpoint) ID() stack.TransportEndpointID { e.mu.Lock(); defer e.mu.Unlock(); return e.id }

func (e *Endpoint) SetID(id stack.TransportEndpointID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = id
}

func (e *Endpoint) State() stack.State { e.mu.Lock(); defer e.mu.Unlock(); return e.state }

func (e *Endpoint) IsLoopback() bool { e.mu.Lock(); defer e.mu.Unlock(); return e.loopback }

func (e *Endpoint) ReuseAddress() bool { e.mu.Lock(); defer e.mu.Unlock(); return e.reuseAddr }

// Acquire takes a reference for the duration of one segment_received
// call, refusing once the endpoint has been marked deleted.
func (e *Endpoint) Acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return false
	}
	e.refs++
	return true
}

func (e *Endpoint) Release() {
	e.mu.Lock()
	e.refs--
	teardown := e.refs == 0 && e.deleted
	if teardown {
		e.teardownLocked()
	}
	e.mu.Unlock()

	// RemoveConnection takes the manager's lock; it must never run while
	// e.mu is held, or it inverts the manager-before-endpoint order that
	// FindConnection uses (RLock then Acquire) and deadlocks against it.
	if teardown {
		e.manager.RemoveConnection(e)
	}
}

func (e *Endpoint) clock() uint32 {
	return uint32(time.Now().UnixMilli())
}

func (e *Endpoint) receiveBufferSize() uint32 {
	return uint32(e.tuning.MaxWindow) << e.tuning.MaxWindowShift
}

func (e *Endpoint) receiveBufferAvailable() seqnum.Size {
	if e.rcv != nil {
		return seqnum.Size(e.rcv.readQueue.Free())
	}
	return seqnum.Size(e.tuning.MaxWindow)
}

func (e *Endpoint) fetchNotifications() uint32 {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	n := e.notify
	e.notify = 0
	return n
}

func (e *Endpoint) notifyFlag(flag uint32) {
	e.notifyMu.Lock()
	e.notify |= flag
	e.notifyMu.Unlock()
	e.notificationWaker.Assert()
}

// --- wire helpers ---

func (e *Endpoint) pendingOptions() header.OptionsToEncode {
	var o header.OptionsToEncode
	if e.timestampsEnabled && e.rcv != nil {
		o.EnableTS = true
		o.TSVal = e.clock()
		o.TSEcr = e.rcv.lastTimestampEcho
	}
	return o
}

// sendRaw builds and transmits one segment with the given flags/seq/ack
// over the endpoint's route.
func (e *Endpoint) sendRaw(data *buffer.NetBuffer, flags uint8, seq, ack seqnum.Value, rcvWnd seqnum.Size) error {
	opts := header.EncodeOptions(e.pendingOptions())
	return e.sendSegment(data, flags, seq, ack, rcvWnd, opts)
}

// sendSynSegment sends a SYN (or SYN-ACK) carrying MSS and window-scale
// options, mirroring the options layout a handshake always advertises.
func (e *Endpoint) sendSynSegment(flags uint8, seq, ack seqnum.Value, rcvWnd seqnum.Size, rcvWndScale int) error {
	mss := uint16(header.TCPMaximumHeaderSize)
	if e.route != nil && e.route.MTU() > int(header.TCPMinimumSize) {
		mss = uint16(e.route.MTU() - header.TCPMinimumSize)
	}
	opts := header.OptionsToEncode{MSS: mss}
	if rcvWndScale >= 0 {
		opts.EnableWS = true
		opts.WS = uint8(rcvWndScale)
	}
	return e.sendSegment(nil, flags, seq, ack, rcvWnd, header.EncodeOptions(opts))
}

func (e *Endpoint) sendSegment(data *buffer.NetBuffer, flags uint8, seq, ack seqnum.Value, rcvWnd seqnum.Size, opts []byte) error {
	if rcvWnd > seqnum.Size(e.tuning.MaxWindow) {
		rcvWnd = seqnum.Size(e.tuning.MaxWindow)
	}

	headerLen := header.TCPMinimumSize + len(opts)
	buf := buffer.New(headerLen)
	tcpHdr := header.TCP(make([]byte, headerLen))
	tcpHdr.Encode(&header.TCPFields{
		SrcPort:    e.id.LocalPort,
		DstPort:    e.id.RemotePort,
		SeqNum:     uint32(seq),
		AckNum:     uint32(ack),
		DataOffset: uint8(headerLen),
		Flags:      flags,
		WindowSize: uint16(rcvWnd),
	})
	copy(tcpHdr[header.TCPMinimumSize:], opts)

	length := uint16(headerLen)
	if data != nil {
		length += uint16(data.Size())
	}
	tcpHdr.SetChecksum(^tcpHdr.CalculateChecksum(0, length))

	buf.Append(tcpHdr)
	if data != nil {
		buf.Append(data.Payload())
		data.Free()
	}

	if e.metrics != nil {
		e.metrics.SegmentsOut.Inc()
	}

	if err := e.router.SendRoutedData(e.route, buf); err != nil {
		buf.Free()
		return err
	}
	return nil
}

func (e *Endpoint) setState(s stack.State) {
	e.state = s
	e.cond.Broadcast()
}

// teardownLocked stops every per-endpoint timer. Callers must hold e.mu
// and, once they release it, must call e.manager.RemoveConnection(e)
// themselves — manager operations must never run while an endpoint lock
// is held (see the ordering note on Release).
func (e *Endpoint) teardownLocked() {
	if e.delayedAckTimer != nil {
		e.delayedAckTimer.Stop()
	}
	if e.persistTimer != nil {
		e.persistTimer.Stop()
	}
	if e.timeWaitTimer != nil {
		e.timeWaitTimer.Stop()
	}
	if e.snd != nil {
		e.snd.stopRetransmitTimer()
	}
}
