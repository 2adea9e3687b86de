// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stack

// State is a TCP connection state per RFC 793 Figure 6.
type State int

// The states a connection moves through over its lifetime.
const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateLastAck
	StateCloseWait
	StateTimeWait
)

var stateNames = [...]string{
	StateClosed:      "CLOSED",
	StateListen:      "LISTEN",
	StateSynSent:     "SYN_SENT",
	StateSynReceived: "SYN_RECEIVED",
	StateEstablished: "ESTABLISHED",
	StateFinWait1:    "FIN_WAIT_1",
	StateFinWait2:    "FIN_WAIT_2",
	StateClosing:     "CLOSING",
	StateLastAck:     "LAST_ACK",
	StateCloseWait:   "CLOSE_WAIT",
	StateTimeWait:    "TIME_WAIT",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// ClosingLocally reports whether a loopback connection sitting in this
// state is winding down — past ESTABLISHED or already CLOSED — the
// condition a bind collision scan waits out rather than rejecting.
func (s State) ClosingLocally() bool {
	return s == StateClosed || s > StateEstablished
}
