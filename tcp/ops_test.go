// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"testing"
	"time"

	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcpip"
)

func TestBindAssignsEphemeralPortWhenUnspecified(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	ep.id = stack.TransportEndpointID{}

	addr, err := ep.Bind(tcpip.FullAddress{}, false)
	if err != nil {
		t.Fatalf("Bind() = %v", err)
	}
	if addr.Port == 0 {
		t.Errorf("Bind() with no port requested left Port = 0")
	}
}

func TestBindRejectsWhenNotClosed(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	ep.state = stack.StateEstablished

	if _, err := ep.Bind(tcpip.FullAddress{}, false); err != tcpip.ErrInvalidEndpointState {
		t.Errorf("Bind() on an established endpoint = %v, want ErrInvalidEndpointState", err)
	}
}

func TestListenMovesClosedEndpointToListenState(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	ep.id = stack.TransportEndpointID{}

	if err := ep.Listen(5); err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	if ep.state != stack.StateListen {
		t.Errorf("state = %v, want StateListen", ep.state)
	}
	if ep.backlog != 5 {
		t.Errorf("backlog = %d, want 5", ep.backlog)
	}
}

func TestConnectRejectsWhenAlreadyConnected(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	ep.state = stack.StateEstablished

	if err := ep.Connect(tcpip.FullAddress{Addr: "10.0.0.2", Port: 80}); err != tcpip.ErrAlreadyConnected {
		t.Errorf("Connect() while established = %v, want ErrAlreadyConnected", err)
	}
}

func TestAcceptReturnsWouldBlockOnEmptyQueueNonBlocking(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	ep.state = stack.StateListen

	if _, err := ep.Accept(true); err != tcpip.ErrWouldBlock {
		t.Errorf("Accept(nonBlocking=true) on an empty queue = %v, want ErrWouldBlock", err)
	}
}

func TestStartCloseLockedMovesEstablishedToFinWait1(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.state = stack.StateEstablished

	ep.mu.Lock()
	ep.startCloseLocked()
	ep.mu.Unlock()

	if ep.state != stack.StateFinWait1 {
		t.Errorf("state after startCloseLocked() from ESTABLISHED = %v, want StateFinWait1", ep.state)
	}
	if !ep.snd.closed {
		t.Errorf("snd.closed = false after startCloseLocked(), want true")
	}
}

func TestStartCloseLockedMovesCloseWaitToLastAck(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.state = stack.StateCloseWait

	ep.mu.Lock()
	ep.startCloseLocked()
	ep.mu.Unlock()

	if ep.state != stack.StateLastAck {
		t.Errorf("state after startCloseLocked() from CLOSE_WAIT = %v, want StateLastAck", ep.state)
	}
}

func TestCloseOnListenerUnbindsAndMarksDeleted(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	ep.id = stack.TransportEndpointID{}
	if err := ep.Listen(5); err != nil {
		t.Fatalf("Listen() = %v", err)
	}

	if err := ep.Close(false); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !ep.deleted {
		t.Errorf("deleted = false after closing a listener, want true")
	}
	if ep.state != stack.StateClosed {
		t.Errorf("state = %v, want StateClosed", ep.state)
	}
}

func TestCloseWithLingerTimesOutWithoutHanging(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.state = stack.StateEstablished
	ep.tuning.MSL = 10 * time.Millisecond

	// Leave unacked data outstanding so the linger wait can't complete
	// naturally; Close must still return once the MSL-derived timer fires.
	ep.snd.sndNxt = ep.snd.sndUna + 10

	done := make(chan error, 1)
	go func() { done <- ep.Close(true) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close(linger=true) = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close(linger=true) did not return after its MSL-derived timeout")
	}
}
