// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/tcpip"
)

// SendData enqueues data onto the send queue, splitting it across
// segments as the congestion and advertised windows allow, and
// blocks until at least lowWaterMark bytes of queue room are free
// unless nonBlocking is set. It returns the number of bytes actually
// accepted, which may be less than len(data) when the queue is
// nearly full.
func (e *Endpoint) SendData(data []byte, nonBlocking bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snd == nil {
		return 0, tcpip.ErrNotConnected
	}
	if e.snd.closed {
		return 0, tcpip.ErrBrokenPipe
	}

	for e.snd.writeQueue.Free() < uint32(e.lowWaterMark) {
		if nonBlocking {
			return 0, tcpip.ErrWouldBlock
		}
		e.cond.Wait()
		if e.snd == nil {
			return 0, tcpip.ErrNotConnected
		}
		if e.snd.closed {
			return 0, tcpip.ErrBrokenPipe
		}
	}

	n := len(data)
	if free := e.snd.writeQueue.Free(); uint32(n) > free {
		n = int(free)
	}

	buf := buffer.New(0)
	buf.Append(data[:n])
	e.snd.writeQueue.Add(buf)
	e.snd.sendData()
	return n, nil
}

// ReadData waits for the standard read-ready conditions (low-water
// mark met, a push boundary reached, or the peer half-closed) and
// then returns the contiguous prefix of the receive queue, up to n
// bytes. A nil, nil return with no error indicates half-close: the
// FIN arrived and the queue has drained.
func (e *Endpoint) ReadData(n int, nonBlocking bool) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rcv == nil {
		return nil, tcpip.ErrNotConnected
	}

	for {
		avail := e.rcv.readQueue.Available()
		if avail == 0 && e.rcv.finFound {
			return nil, nil
		}
		ready := avail > 0 && (avail >= uint32(e.lowWaterMark) || e.rcv.readQueue.PushedData() > 0 || e.rcv.finFound)
		if ready {
			break
		}
		if e.shutRead {
			return nil, nil
		}
		if nonBlocking {
			return nil, tcpip.ErrWouldBlock
		}
		e.cond.Wait()
		if e.rcv == nil {
			return nil, tcpip.ErrNotConnected
		}
	}

	want := uint32(n)
	if avail := e.rcv.readQueue.Available(); want > avail {
		want = avail
	}

	halfWindow := seqnum.Size(e.tuning.MaxWindow) / 2
	beforeWin := e.rcv.advertisedWindow()

	buf := e.rcv.readQueue.GetRemove(want, true)
	out := append([]byte(nil), buf.Payload()...)
	buf.Free()

	if afterWin := e.rcv.advertisedWindow(); beforeWin < halfWindow && afterWin >= halfWindow {
		e.sendImmediateAck()
	}

	e.cond.Broadcast()
	return out, nil
}

// SendAvailable returns the number of bytes still free in the send
// queue.
func (e *Endpoint) SendAvailable() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snd == nil {
		return 0
	}
	return e.snd.writeQueue.Free()
}

// ReadAvailable returns the number of contiguous bytes ready to read.
func (e *Endpoint) ReadAvailable() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rcv == nil {
		return 0
	}
	return e.rcv.readQueue.Available()
}
