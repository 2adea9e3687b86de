// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buffer provides the NetBuffer collaborator type used throughout
// the core: an owned byte payload that can be appended to, trimmed at
// either end, and cheaply cloned. The queue and tcp packages never touch a
// raw []byte directly; they go through this type so that a future
// zero-copy, pooled payload chain has a single seam to plug into.
package buffer

// View is a slice of bytes, much like a string or []byte, but without the
// the immutability of the former and the length limitations of the latter.
type View []byte

// NewView creates a new view with the given size.
func NewView(size int) View {
	return make(View, size)
}

// NewViewFromBytes creates a new view from a byte slice, taking ownership
// of it.
func NewViewFromBytes(b []byte) View {
	return View(b)
}

// Size returns the size of the view.
func (v View) Size() int {
	return len(v)
}

// Clone returns a new view holding a copy of this one's bytes; the two
// views share no storage.
func (v View) Clone() View {
	c := make(View, len(v))
	copy(c, v)
	return c
}

// TrimFront removes the first n bytes from the view.
func (v *View) TrimFront(n int) {
	*v = (*v)[n:]
}

// CapLength reduces the length of the view to n, discarding the tail.
func (v *View) CapLength(n int) {
	if n > len(*v) {
		return
	}
	*v = (*v)[:n]
}

// NetBuffer is an owned, appendable, sequence-addressable payload holder.
// In a production network stack this would chain scatter/gather segments
// from a shared pool; here it is a single owned View plus the bookkeeping
// the TCP core attaches to every buffer that flows through it.
type NetBuffer struct {
	data View

	// Sequence is the sequence number protocol code may stamp onto a
	// buffer; it has no meaning to this package.
	Sequence uint32

	// Source and Destination are opaque address/port pairs set by the
	// reception dispatch path before handing the buffer to an endpoint.
	Source, Destination Endpoint
}

// Endpoint is an opaque comparable (address, port) pair.
type Endpoint struct {
	Addr string
	Port uint16
}

// New allocates a new NetBuffer with headerReserve bytes of spare capacity
// at the front.
func New(headerReserve int) *NetBuffer {
	return &NetBuffer{data: make(View, 0, headerReserve)}
}

// NewFromView wraps an existing view as a NetBuffer without copying.
func NewFromView(v View) *NetBuffer {
	return &NetBuffer{data: v}
}

// Size returns the number of payload bytes currently held.
func (b *NetBuffer) Size() int {
	if b == nil {
		return 0
	}
	return b.data.Size()
}

// Payload exposes the raw bytes. Callers must not retain the slice past the
// buffer's lifetime if they intend to call Trim/Append afterwards.
func (b *NetBuffer) Payload() View {
	return b.data
}

// Append copies data onto the end of the buffer.
func (b *NetBuffer) Append(data []byte) {
	b.data = append(b.data, data...)
}

// Read copies up to len(out) bytes starting at offset into out, returning
// the number of bytes actually copied.
func (b *NetBuffer) Read(offset int, out []byte) int {
	if offset >= len(b.data) {
		return 0
	}
	return copy(out, b.data[offset:])
}

// RemoveHeader drops the first n bytes of the payload.
func (b *NetBuffer) RemoveHeader(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	b.data.TrimFront(n)
}

// RemoveTrailer drops the last n bytes of the payload.
func (b *NetBuffer) RemoveTrailer(n int) {
	if n <= 0 {
		return
	}
	l := len(b.data) - n
	if l < 0 {
		l = 0
	}
	b.data.CapLength(l)
}

// Trim reduces the payload to at most n bytes, keeping the front; a
// payload of n bytes or fewer is left unchanged.
func (b *NetBuffer) Trim(n int) {
	b.data.CapLength(n)
}

// Clone returns an independent copy of the buffer, including its sequence
// and address fields. shared controls nothing here (no backing pool to
// share) but is kept so callers written against a pooled-buffer
// collaborator compile unchanged against this non-pooled one.
func (b *NetBuffer) Clone(shared bool) *NetBuffer {
	return &NetBuffer{
		data:        b.data.Clone(),
		Sequence:    b.Sequence,
		Source:      b.Source,
		Destination: b.Destination,
	}
}

// AppendCloned appends n bytes starting at offset from src's payload.
func (b *NetBuffer) AppendCloned(src *NetBuffer, offset, n int) {
	end := offset + n
	if end > len(src.data) {
		end = len(src.data)
	}
	if offset > end {
		offset = end
	}
	b.Append(src.data[offset:end])
}

// Free releases the buffer. It is a no-op under Go's garbage collector and
// exists so call sites that will eventually return buffers to a shared
// pool already have the right shape.
func (b *NetBuffer) Free() {}
