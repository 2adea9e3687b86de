// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/sirupsen/logrus"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcp"
	"github.com/lucidnet/tcpstack/tcpip"
)

// loopbackRouter hands every segment a local endpoint sends straight
// back into the same manager's reception dispatch, on its own
// goroutine, so the demo never touches an actual socket or device.
type loopbackRouter struct {
	manager *stack.EndpointManager
	addr    tcpip.Address
	log     *logrus.Entry
}

func newLoopbackRouter(manager *stack.EndpointManager, addr tcpip.Address, log *logrus.Entry) *loopbackRouter {
	return &loopbackRouter{manager: manager, addr: addr, log: log}
}

func (r *loopbackRouter) GetRoute(peer tcpip.Address) (*stack.Route, bool) {
	return &stack.Route{LocalAddress: r.addr, RemoteAddress: peer, Local: true}, true
}

func (r *loopbackRouter) SendRoutedData(route *stack.Route, buf *buffer.NetBuffer) error {
	go r.deliver(route, buf)
	return nil
}

func (r *loopbackRouter) deliver(route *stack.Route, buf *buffer.NetBuffer) {
	seg, ok := tcp.DecodeSegment(route, buf, 0)
	if !ok {
		r.log.Warn("dropping undecodable loopback segment")
		return
	}
	// The segment arrives at its destination (route.RemoteAddress, the
	// peer we sent to) carrying r.addr as its remote/peer address.
	tcp.Deliver(r.manager, r, route, route.RemoteAddress, r.addr, seg)
}
