// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"time"

	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcpip"
	"github.com/lucidnet/tcpstack/waiter"
)

// ShutdownFlags selects which half (or both) of a connection shutdown
// affects.
type ShutdownFlags int

// The directions shutdown(dir) can close.
const (
	ShutdownRead ShutdownFlags = 1 << iota
	ShutdownWrite
)

// EventQueue exposes the endpoint's waiter queue to an embedding
// socket façade, so it can park a goroutine on readiness instead of
// polling SendAvailable/ReadAvailable.
func (e *Endpoint) EventQueue() *waiter.Queue { return &e.waiterQueue }

// Open readies a freshly allocated endpoint for use. It exists mainly
// so callers have an explicit counterpart to Close; NewEndpoint
// already leaves the endpoint CLOSED and otherwise usable.
func (e *Endpoint) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stack.StateClosed {
		return tcpip.ErrInvalidEndpointState
	}
	return nil
}

// Bind registers the endpoint at addr, picking an ephemeral port if
// addr.Port is zero.
func (e *Endpoint) Bind(addr tcpip.FullAddress, privileged bool) (tcpip.FullAddress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stack.StateClosed {
		return tcpip.FullAddress{}, tcpip.ErrInvalidEndpointState
	}

	reuse := e.reuseAddr
	e.mu.Unlock()
	bound, err := e.manager.Bind(e, addr, reuse, privileged)
	e.mu.Lock()
	if err != nil {
		return tcpip.FullAddress{}, err
	}
	e.id.LocalAddress = bound.Addr
	e.id.LocalPort = bound.Port
	return bound, nil
}

// Listen moves a bound, CLOSED endpoint into LISTEN with an accept
// queue sized backlog.
func (e *Endpoint) Listen(backlog int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stack.StateClosed && e.state != stack.StateListen {
		return tcpip.ErrInvalidEndpointState
	}
	if e.id.LocalPort == 0 {
		reuse := e.reuseAddr
		e.mu.Unlock()
		bound, err := e.manager.Bind(e, tcpip.FullAddress{}, reuse, false)
		e.mu.Lock()
		if err != nil {
			return err
		}
		e.id.LocalAddress = bound.Addr
		e.id.LocalPort = bound.Port
	}

	e.backlog = backlog
	e.setState(stack.StateListen)
	return nil
}

// Connect performs an active open to peer, blocking the calling
// goroutine until the connection is ESTABLISHED, refused, or times
// out.
func (e *Endpoint) Connect(peer tcpip.FullAddress) error {
	e.mu.Lock()
	switch e.state {
	case stack.StateEstablished:
		e.mu.Unlock()
		return tcpip.ErrAlreadyConnected
	case stack.StateSynSent, stack.StateSynReceived:
		e.mu.Unlock()
		return tcpip.ErrConnectionInProgress
	case stack.StateClosed, stack.StateListen:
	default:
		e.mu.Unlock()
		return tcpip.ErrInvalidEndpointState
	}

	route, ok := e.router.GetRoute(peer.Addr)
	if !ok {
		e.mu.Unlock()
		return tcpip.ErrNetworkUnreachable
	}
	e.route = route

	if e.id.LocalPort == 0 {
		reuse := e.reuseAddr
		e.mu.Unlock()
		bound, err := e.manager.Bind(e, tcpip.FullAddress{Addr: route.LocalAddress}, reuse, false)
		e.mu.Lock()
		if err != nil {
			e.mu.Unlock()
			return err
		}
		e.id.LocalAddress = bound.Addr
		e.id.LocalPort = bound.Port
	}
	e.id.RemoteAddress = peer.Addr
	e.id.RemotePort = peer.Port

	e.mu.Unlock()
	setErr := e.manager.SetConnection(e, route)
	e.mu.Lock()
	if setErr != nil {
		e.mu.Unlock()
		return setErr
	}

	h, err := newHandshake(e, seqnum.Size(e.receiveBufferSize()))
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.handshake = h
	e.setState(stack.StateSynSent)
	e.mu.Unlock()

	err = h.execute()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.setState(stack.StateClosed)
		// RemoveConnection takes the manager's lock and must never run
		// while e.mu is held (manager-before-endpoint ordering).
		e.mu.Unlock()
		e.manager.RemoveConnection(e)
		e.mu.Lock()
		return err
	}
	h.finishHandshake()
	e.waiterQueue.Notify(waiter.EventOut)
	return nil
}

// Accept blocks until a spawned child connection is available and
// returns it, or returns ErrWouldBlock immediately if nonBlocking is
// set and the queue is empty.
func (e *Endpoint) Accept(nonBlocking bool) (*Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stack.StateListen {
		return nil, tcpip.ErrInvalidEndpointState
	}

	for len(e.acceptQueue) == 0 {
		if nonBlocking {
			return nil, tcpip.ErrWouldBlock
		}
		e.cond.Wait()
		if e.state != stack.StateListen {
			return nil, tcpip.ErrInvalidEndpointState
		}
	}

	child := e.acceptQueue[0].ep
	e.acceptQueue = e.acceptQueue[1:]
	return child, nil
}

// Shutdown applies a half- or full-close without tearing down the
// endpoint's table entries the way Close does.
func (e *Endpoint) Shutdown(flags ShutdownFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if flags&ShutdownRead != 0 {
		e.shutRead = true
		e.cond.Broadcast()
	}
	if flags&ShutdownWrite != 0 {
		e.startCloseLocked()
	}
	return nil
}

// startCloseLocked begins the sending half's close sequence: mark the
// write queue closed and move to FIN_WAIT_1 (from ESTABLISHED) or
// LAST_ACK (from CLOSE_WAIT), then let the sender flush and emit the
// FIN once the queue drains. Callers must hold e.mu.
func (e *Endpoint) startCloseLocked() {
	if e.snd == nil || e.snd.closed {
		return
	}
	switch e.state {
	case stack.StateEstablished:
		e.setState(stack.StateFinWait1)
	case stack.StateCloseWait:
		e.setState(stack.StateLastAck)
	default:
		return
	}
	e.snd.closed = true
	e.snd.sendData()
}

// Close closes the endpoint. If linger is true it blocks (subject to
// the configured MSL-derived linger period) until the send queue has
// fully drained and been acknowledged; timing out during linger is
// not itself an error.
func (e *Endpoint) Close(linger bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stack.StateClosed, stack.StateTimeWait:
		return nil
	case stack.StateListen:
		e.setState(stack.StateClosed)
		e.deleted = true
		// Unbind takes the manager's lock and must never run while e.mu
		// is held (manager-before-endpoint ordering).
		localPort := e.id.LocalPort
		e.mu.Unlock()
		e.manager.Unbind(localPort, e)
		e.mu.Lock()
		return nil
	case stack.StateSynSent, stack.StateSynReceived:
		e.setState(stack.StateClosed)
		e.notifyFlag(notifyClose)
		e.deleted = true
		return nil
	}

	e.startCloseLocked()

	if linger {
		timedOut := false
		timer := time.AfterFunc(e.tuning.MSL, func() {
			e.mu.Lock()
			timedOut = true
			e.cond.Broadcast()
			e.mu.Unlock()
		})
		defer timer.Stop()

		for e.snd != nil && e.snd.sndUna != e.snd.sndNxt && !timedOut {
			e.cond.Wait()
		}
	}
	return nil
}
