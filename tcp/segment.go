// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"sync"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/stack"
)

// segment is the in-memory representation of one received TCP segment,
// decoded once at dispatch time and then passed around by state-machine
// code without re-parsing the wire bytes.
type segment struct {
	route *stack.Route
	id    stack.TransportEndpointID

	sequenceNumber seqnum.Value
	ackNumber      seqnum.Value
	flags          uint8
	window         seqnum.Size
	options        header.ParsedOptions

	data *buffer.NetBuffer
}

func (s *segment) flagIsSet(flag uint8) bool {
	return s.flags&flag != 0
}

// payloadSize returns the number of data bytes carried, independent of
// any SYN/FIN accounting.
func (s *segment) payloadSize() int {
	return s.data.Size()
}

// logicalLen is the number of sequence numbers this segment consumes:
// the payload plus one each for SYN and FIN.
func (s *segment) logicalLen() seqnum.Size {
	l := seqnum.Size(s.payloadSize())
	if s.flagIsSet(header.FlagSyn) {
		l++
	}
	if s.flagIsSet(header.FlagFin) {
		l++
	}
	return l
}

func (s *segment) free() {
	if s.data != nil {
		s.data.Free()
	}
}

// segmentQueue is a bounded FIFO of received segments, shared between the
// reception-dispatch caller (which enqueues) and the goroutine running
// the endpoint's handshake (which drains it). It carries its own mutex so a caller never
// needs the endpoint lock just to hand off a segment.
type segmentQueue struct {
	mu    sync.Mutex
	items []*segment
	limit int
}

func newSegmentQueue(limit int) *segmentQueue {
	return &segmentQueue{limit: limit}
}

// enqueue appends seg, dropping it and reporting false if the queue is at
// capacity (the caller frees the segment in that case, same as any other
// unacceptable-segment drop).
func (q *segmentQueue) enqueue(seg *segment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.limit {
		return false
	}
	q.items = append(q.items, seg)
	return true
}

func (q *segmentQueue) dequeue() *segment {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	s := q.items[0]
	q.items = q.items[1:]
	return s
}

func (q *segmentQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}
