// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"testing"

	"github.com/lucidnet/tcpstack/tcpip"
)

func TestSendDataRejectsWhenNotConnected(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	if _, err := ep.SendData([]byte("hi"), true); err != tcpip.ErrNotConnected {
		t.Errorf("SendData() with no sender = %v, want ErrNotConnected", err)
	}
}

func TestSendDataRejectsOnClosedWriteHalf(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.snd.closed = true

	if _, err := ep.SendData([]byte("hi"), true); err != tcpip.ErrBrokenPipe {
		t.Errorf("SendData() after close = %v, want ErrBrokenPipe", err)
	}
}

func TestSendDataAcceptsAndEnqueuesBytes(t *testing.T) {
	ep := establishedTestEndpoint(t)

	n, err := ep.SendData([]byte("hello"), true)
	if err != nil {
		t.Fatalf("SendData() = %v", err)
	}
	if n != 5 {
		t.Errorf("SendData() accepted = %d bytes, want 5", n)
	}
}

func TestReadDataReturnsNilOnHalfCloseWithEmptyQueue(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.rcv.finFound = true

	data, err := ep.ReadData(100, true)
	if err != nil {
		t.Fatalf("ReadData() = %v", err)
	}
	if data != nil {
		t.Errorf("ReadData() after half-close with nothing queued = %v, want nil", data)
	}
}

func TestReadDataReturnsWouldBlockWhenNotReady(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.lowWaterMark = 10

	if _, err := ep.ReadData(100, true); err != tcpip.ErrWouldBlock {
		t.Errorf("ReadData() with nothing queued, nonBlocking = %v, want ErrWouldBlock", err)
	}
}

func TestReadAndSendAvailableReflectQueueState(t *testing.T) {
	ep := establishedTestEndpoint(t)

	if got := ep.ReadAvailable(); got != 0 {
		t.Errorf("ReadAvailable() on a fresh receiver = %d, want 0", got)
	}
	if got := ep.SendAvailable(); got == 0 {
		t.Errorf("SendAvailable() on a fresh sender = 0, want > 0")
	}
}
