// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stack provides the collaborator interfaces an endpoint
// routes segments through (Router, Route) and the EndpointManager
// that demultiplexes inbound segments to the right endpoint.
package stack

import (
	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/tcpip"
)

// TransportEndpointID is the four-tuple that identifies a TCP
// connection, or, with RemoteAddress/RemotePort left zero, a bind
// registration.
type TransportEndpointID struct {
	LocalAddress  tcpip.Address
	LocalPort     uint16
	RemoteAddress tcpip.Address
	RemotePort    uint16
}

// AnyAddress is the wildcard network address, used for both a
// passive-open listen entry's local address and a connection table
// lookup's wildcard peer.
const AnyAddress = tcpip.Address("")

// Route describes how to reach a peer: the local interface address to
// source from and whether the peer is directly reachable without a
// gateway hop.
type Route struct {
	LocalAddress  tcpip.Address
	RemoteAddress tcpip.Address

	// Local is set when the peer is on a directly-attached interface
	// (RTF_LOCAL in the originating driver's terms); a route without
	// it still works, it just means a gateway forwards the segment.
	Local bool

	mtu int
}

// MTU returns the path MTU to use when sizing MSS for this route.
func (r *Route) MTU() int { return r.mtu }

// Router resolves routes to a peer and sends data along them. An
// embedding program supplies a concrete Router; the core never
// touches a socket or network device directly.
type Router interface {
	// GetRoute returns a route to peer, or ok=false if the peer is
	// unreachable.
	GetRoute(peer tcpip.Address) (route *Route, ok bool)

	// SendRoutedData transmits buf's payload along route. The Router
	// takes ownership of buf on success; the caller frees it on
	// failure.
	SendRoutedData(route *Route, buf *buffer.NetBuffer) error
}
