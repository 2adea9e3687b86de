// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package queue implements an ordered, gap-tolerant segment store used by
// both the receive reassembly path and the send retransmission path: data
// can arrive or be appended out of order, and the queue tracks both the
// total bytes held and the contiguous run available from the front.
package queue

import (
	"errors"
	"sort"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/seqnum"
)

// ErrBadValue is returned by GetAt when the requested range isn't held by
// the queue at all.
var ErrBadValue = errors.New("queue: sequence range not held")

type entry struct {
	sequence seqnum.Value
	buf      *buffer.NetBuffer
}

func (e entry) end() seqnum.Value {
	return e.sequence.Add(seqnum.Size(e.buf.Size()))
}

// BufferQueue holds an ordered, sequence-addressed set of byte ranges. It
// is a plain value manipulated entirely under its owning endpoint's mutex;
// it does no locking of its own.
type BufferQueue struct {
	entries []entry

	firstSeq, lastSeq seqnum.Value
	numBytes          uint32
	contiguousBytes   uint32
	maxBytes          uint32
	pushPointer       uint32
}

// New creates an empty queue with the given soft byte budget.
func New(maxBytes uint32) *BufferQueue {
	return &BufferQueue{maxBytes: maxBytes}
}

// SetMaxBytes adjusts the soft acceptance cap. The cap bounds future
// Add calls, not bytes already retained.
func (q *BufferQueue) SetMaxBytes(n uint32) {
	q.maxBytes = n
}

// SetInitialSequence sets the starting point of an empty queue. It is only
// valid to call this before any data has been added.
func (q *BufferQueue) SetInitialSequence(s seqnum.Value) {
	q.firstSeq = s
	q.lastSeq = s
}

// FirstSequence returns the sequence number of the start of the queue's
// range (data or hole).
func (q *BufferQueue) FirstSequence() seqnum.Value { return q.firstSeq }

// LastSequence returns the sequence number just past the queue's range.
func (q *BufferQueue) LastSequence() seqnum.Value { return q.lastSeq }

// NextSequence returns the sequence number of the first byte not yet
// deliverable, i.e. the end of the contiguous prefix. Receivers assign
// this to rcv.nxt after every Add.
func (q *BufferQueue) NextSequence() seqnum.Value {
	return q.firstSeq.Add(seqnum.Size(q.contiguousBytes))
}

// Available returns the number of contiguous bytes available starting at
// FirstSequence.
func (q *BufferQueue) Available() uint32 { return q.contiguousBytes }

// AvailableFrom returns the number of contiguous bytes available starting
// at the given sequence number, 0 if seq lies past the contiguous prefix.
func (q *BufferQueue) AvailableFrom(seq seqnum.Value) uint32 {
	end := q.NextSequence()
	if end.LessThan(seq) {
		return 0
	}
	if seq.LessThanEq(q.firstSeq) {
		return q.contiguousBytes
	}
	return uint32(seq.WindowSize(end))
}

// Used returns the total number of bytes retained, including bytes behind
// gaps.
func (q *BufferQueue) Used() uint32 { return q.numBytes }

// Free returns the remaining soft byte budget.
func (q *BufferQueue) Free() uint32 {
	if q.maxBytes > q.numBytes {
		return q.maxBytes - q.numBytes
	}
	return 0
}

// Add inserts buf's payload at the end of the queue.
func (q *BufferQueue) Add(buf *buffer.NetBuffer) {
	q.AddAt(buf, q.lastSeq)
}

// AddAt inserts buf's payload labeled with the given starting sequence
// number. Overlaps with already-held data are resolved by trimming the
// incoming buffer against whichever side holds more bytes: a new range
// that is a strict subset of existing data is dropped, one that only
// partially overlaps is trimmed down to its novel portion, and one that
// fully covers an existing entry replaces it.
func (q *BufferQueue) AddAt(buf *buffer.NetBuffer, sequence seqnum.Value) {
	size := seqnum.Size(buf.Size())

	if sequence.Add(size).LessThanEq(q.firstSeq) || size == 0 {
		buf.Free()
		return
	}

	if sequence.LessThan(q.firstSeq) {
		trim := uint32(sequence.Size(q.firstSeq))
		buf.RemoveHeader(int(trim))
		sequence = q.firstSeq
		size = seqnum.Size(buf.Size())
	}

	// Fast path: append at or beyond the tail.
	if len(q.entries) == 0 || !sequence.LessThan(q.lastSeq) {
		hadNoHoles := sequence == q.lastSeq && q.firstSeq.Size(q.lastSeq) == seqnum.Size(q.numBytes)
		q.entries = append(q.entries, entry{sequence, buf})
		if hadNoHoles {
			q.contiguousBytes += uint32(size)
		}
		q.lastSeq = sequence.Add(size)
		q.numBytes += uint32(size)
		return
	}

	if q.lastSeq.LessThan(sequence.Add(size)) {
		q.lastSeq = sequence.Add(size)
	}

	// Resolve overlap with the predecessor, if any.
	predIdx := -1
	for i := range q.entries {
		if !sequence.LessThan(q.entries[i].sequence) {
			predIdx = i
		} else {
			break
		}
	}

	startIdx := predIdx + 1

	if predIdx >= 0 {
		p := q.entries[predIdx]
		pEnd := p.end()
		switch {
		case sequence == p.sequence:
			if p.buf.Size() >= buf.Size() {
				buf.Free()
				return
			}
			q.numBytes -= uint32(p.buf.Size())
			p.buf.Free()
			q.entries = append(q.entries[:predIdx], q.entries[predIdx+1:]...)
			startIdx = predIdx
		case !pEnd.LessThan(sequence.Add(size)):
			// Predecessor's range fully covers the new buffer.
			buf.Free()
			return
		case sequence.LessThan(pEnd):
			trim := uint32(sequence.Size(pEnd))
			buf.RemoveHeader(int(trim))
			sequence = pEnd
			size = seqnum.Size(buf.Size())
		}
	}

	// Resolve overlap with successors. Starts strictly after the
	// predecessor: entries before it were already ruled out as
	// non-overlapping or handled above.
	i := startIdx
	for buf != nil && i < len(q.entries) {
		next := q.entries[i]
		newEnd := sequence.Add(size)
		if newEnd.LessThanEq(next.sequence) {
			break
		}
		nEnd := next.end()
		switch {
		case nEnd.LessThanEq(newEnd):
			q.numBytes -= uint32(next.buf.Size())
			next.buf.Free()
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			continue
		case sequence.LessThan(next.sequence):
			trim := uint32(next.sequence.Size(newEnd))
			buf.RemoveTrailer(int(trim))
			size = seqnum.Size(buf.Size())
		default:
			buf.Free()
			buf = nil
		}
	}

	if buf == nil {
		return
	}

	q.entries = append(q.entries, entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = entry{sequence, buf}
	q.numBytes += uint32(buf.Size())

	if q.firstSeq.Size(q.lastSeq) == seqnum.Size(q.numBytes) {
		q.contiguousBytes = q.numBytes
	} else if q.firstSeq.Add(seqnum.Size(q.contiguousBytes)) == sequence {
		j := i
		for j < len(q.entries) && q.firstSeq.Add(seqnum.Size(q.contiguousBytes)) == q.entries[j].sequence {
			q.contiguousBytes += uint32(q.entries[j].buf.Size())
			j++
		}
	}
}

// RemoveUntil drops or head-trims entries below sequence. Callers must
// only invoke this when sequence lies within the contiguous region;
// calling it through a hole silently corrupts contiguousBytes.
func (q *BufferQueue) RemoveUntil(sequence seqnum.Value) {
	if sequence.LessThan(q.firstSeq) {
		return
	}

	removed := 0
	for removed < len(q.entries) && q.entries[removed].sequence.LessThan(sequence) {
		e := q.entries[removed]
		if !sequence.LessThan(e.end()) {
			q.numBytes -= uint32(e.buf.Size())
			q.contiguousBytes -= uint32(e.buf.Size())
			e.buf.Free()
			removed++
			continue
		}

		trim := uint32(e.sequence.Size(sequence))
		e.buf.RemoveHeader(int(trim))
		q.numBytes -= trim
		q.contiguousBytes -= trim
		q.entries[removed] = entry{sequence, e.buf}
		break
	}

	q.entries = q.entries[removed:]
	if len(q.entries) == 0 {
		q.firstSeq = q.lastSeq
	} else {
		q.firstSeq = q.entries[0].sequence
	}
}

// GetAt clones n bytes starting at sequence into a fresh NetBuffer. It
// fails with ErrBadValue if sequence isn't held by the queue at all; if
// sequence+n runs past the queue's range, the result is silently
// truncated to what exists.
func (q *BufferQueue) GetAt(sequence seqnum.Value, n uint32) (*buffer.NetBuffer, error) {
	if n == 0 {
		return buffer.New(0), nil
	}
	if sequence.LessThan(q.firstSeq) || !sequence.LessThan(q.lastSeq) {
		return nil, ErrBadValue
	}
	if end := sequence.Add(seqnum.Size(n)); q.lastSeq.LessThan(end) {
		n = uint32(sequence.Size(q.lastSeq))
	}

	idx := sort.Search(len(q.entries), func(i int) bool {
		return sequence.LessThan(q.entries[i].end())
	})

	out := buffer.New(0)
	remaining := n
	offset := 0
	if idx < len(q.entries) && q.entries[idx].sequence.LessThan(sequence) {
		offset = int(q.entries[idx].sequence.Size(sequence))
	}
	for remaining > 0 && idx < len(q.entries) {
		e := q.entries[idx]
		avail := e.buf.Size() - offset
		take := avail
		if uint32(take) > remaining {
			take = int(remaining)
		}
		out.AppendCloned(e.buf, offset, take)
		remaining -= uint32(take)
		offset = 0
		idx++
	}
	return out, nil
}

// GetRemove extracts up to min(n, Available()) bytes from the contiguous
// prefix. If remove is true the bytes are consumed from the queue
// (FirstSequence advances); otherwise the queue is left untouched. It
// returns an empty (non-nil, zero-length) buffer, never an error, when
// nothing is available.
func (q *BufferQueue) GetRemove(n uint32, remove bool) *buffer.NetBuffer {
	if n > q.contiguousBytes {
		n = q.contiguousBytes
	}
	out := buffer.New(0)
	if n == 0 {
		return out
	}

	if !remove {
		for i := 0; n > 0 && i < len(q.entries); i++ {
			e := q.entries[i]
			take := e.buf.Size()
			if uint32(take) > n {
				take = int(n)
			}
			out.AppendCloned(e.buf, 0, take)
			n -= uint32(take)
		}
		return out
	}

	for n > 0 && len(q.entries) > 0 {
		e := q.entries[0]
		size := e.buf.Size()
		take := size
		if uint32(take) > n {
			take = int(n)
		}
		out.AppendCloned(e.buf, 0, take)
		q.numBytes -= uint32(take)
		q.contiguousBytes -= uint32(take)
		q.firstSeq = q.firstSeq.Add(seqnum.Size(take))
		n -= uint32(take)

		if take == size {
			e.buf.Free()
			q.entries = q.entries[1:]
		} else {
			e.buf.RemoveHeader(take)
			q.entries[0] = entry{e.sequence.Add(seqnum.Size(take)), e.buf}
		}
	}
	return out
}

// SetPushPointer records LastSequence as the push threshold.
func (q *BufferQueue) SetPushPointer() {
	if len(q.entries) == 0 {
		q.pushPointer = 0
		return
	}
	q.pushPointer = uint32(q.entries[len(q.entries)-1].end())
}

// PushedData returns the pushed bytes still held in the contiguous
// prefix, 0 when unset or already passed.
func (q *BufferQueue) PushedData() uint32 {
	if q.pushPointer == 0 {
		return 0
	}
	pp := seqnum.Value(q.pushPointer)
	result := uint32(q.firstSeq.WindowSize(pp))
	if result > q.contiguousBytes {
		result = q.contiguousBytes
	}
	return result
}

// Verify walks the entry list and reports whether the structural
// invariants (sorted, non-overlapping entries; numBytes and
// contiguousBytes matching what the entries actually hold) still hold.
// It is meant for use in tests and optionally at runtime in debug builds.
func (q *BufferQueue) Verify() error {
	if len(q.entries) == 0 {
		if q.numBytes != 0 {
			return errors.New("queue: empty entry list but numBytes != 0")
		}
		return nil
	}

	last := q.firstSeq
	var numBytes, contiguousBytes uint32
	contiguous := true
	for _, e := range q.entries {
		if last.LessThan(e.sequence) {
			contiguous = false
		} else if e.sequence.LessThan(last) {
			return errors.New("queue: entries not in sequence order")
		}
		if contiguous {
			contiguousBytes += uint32(e.buf.Size())
		}
		if e.buf.Size() <= 0 {
			return errors.New("queue: zero-size entry")
		}
		numBytes += uint32(e.buf.Size())
		last = e.end()
	}

	if last != q.lastSeq {
		return errors.New("queue: last entry does not reach lastSeq")
	}
	if numBytes != q.numBytes {
		return errors.New("queue: numBytes mismatch")
	}
	if contiguousBytes != q.contiguousBytes {
		return errors.New("queue: contiguousBytes mismatch")
	}
	return nil
}
