// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tcp implements the endpoint state machine: the three-way
// handshake, Reno congestion control, RTT/RTO estimation, the four
// per-endpoint timers, and the public connect/accept/send/read surface
// described for an RFC 793 connection. It is driven by stack.Router for
// outbound segments and stack.EndpointManager for demultiplexing inbound
// ones; it never touches a socket or network device directly.
package tcp

import (
	"crypto/rand"

	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/tcpip"
)

// ProtocolNumber is TCP's transport protocol number.
const ProtocolNumber tcpip.TransportProtocolNumber = 6

// newISS picks a pseudo-random initial sequence number for a new
// connection attempt, active or passive.
func newISS() seqnum.Value {
	b := make([]byte, 4)
	rand.Read(b)
	return seqnum.Value(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}
