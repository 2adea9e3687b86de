// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stack

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/config"
	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/tcpip"
)

// Endpoint is the subset of tcp.Endpoint the manager needs in order
// to demultiplex segments and police bind collisions. tcp.Endpoint
// implements it; keeping the dependency this way round (stack doesn't
// import tcp) avoids an import cycle between the two packages.
type Endpoint interface {
	ID() TransportEndpointID
	SetID(TransportEndpointID)
	State() State
	IsLoopback() bool
	ReuseAddress() bool

	// Acquire attempts to take a reference on the endpoint for the
	// duration of one segment_received call, returning false if the
	// endpoint is already being torn down.
	Acquire() bool
	Release()
}

// EndpointManager owns the tables that demultiplex inbound segments
// to endpoints and arbitrates bind/ephemeral-port/connect collisions
// for one address family.
type EndpointManager struct {
	tuning config.Tuning
	log    *logrus.Entry

	mu sync.RWMutex

	// connectionTable maps a fully-specified four-tuple to the
	// endpoint owning that connection.
	connectionTable map[TransportEndpointID]Endpoint

	// endpointTable maps a local port to every endpoint bound to it
	// (distinct endpoints may share a port when their full tuples
	// differ, e.g. one listener plus several accepted connections).
	endpointTable map[uint16][]Endpoint

	lastEphemeral uint16
}

// NewEndpointManager creates an empty manager.
func NewEndpointManager(tuning config.Tuning, log *logrus.Entry) *EndpointManager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EndpointManager{
		tuning:          tuning,
		log:             log,
		connectionTable: make(map[TransportEndpointID]Endpoint),
		endpointTable:   make(map[uint16][]Endpoint),
		lastEphemeral:   tuning.EphemeralBase,
	}
}

// Bind registers ep at addr. If addr.Port is 0, an ephemeral port is
// chosen. privileged allows binding to a port at or below the last
// reserved port.
func (m *EndpointManager) Bind(ep Endpoint, addr tcpip.FullAddress, reuseAddr, privileged bool) (tcpip.FullAddress, error) {
	if addr.Port == 0 {
		return m.bindEphemeral(ep, addr)
	}

	if addr.Port <= m.tuning.LastReservedPort && !privileged {
		return tcpip.FullAddress{}, tcpip.ErrPermissionDenied
	}

	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		holder, retry := m.collide(addr, reuseAddr)
		if holder != nil {
			m.mu.Unlock()
			return tcpip.FullAddress{}, tcpip.ErrAddressInUse
		}
		if !retry {
			m.endpointTable[addr.Port] = append(m.endpointTable[addr.Port], ep)
			m.mu.Unlock()
			return addr, nil
		}
		m.mu.Unlock()

		if attempt >= m.tuning.BindRetryCount {
			return tcpip.FullAddress{}, tcpip.ErrAddressInUse
		}
		time.Sleep(m.tuning.BindRetryDelay)
	}
}

// collide scans the port's current holders for a conflict with addr.
// It returns a non-nil holder when the bind must be rejected outright,
// or retry=true when the caller should wait for a local TIME_WAIT
// connection to finish tearing down and try again.
func (m *EndpointManager) collide(addr tcpip.FullAddress, reuseAddr bool) (holder Endpoint, retry bool) {
	for _, candidate := range m.endpointTable[addr.Port] {
		id := candidate.ID()
		if id.LocalAddress != AnyAddress && id.LocalAddress != addr.Addr && addr.Addr != AnyAddress {
			continue
		}

		if candidate.IsLoopback() && candidate.State().ClosingLocally() {
			return nil, true
		}
		if !reuseAddr {
			return candidate, false
		}
		if candidate.State() != StateTimeWait && candidate.State() != StateClosed {
			return candidate, false
		}
	}
	return nil, false
}

// bindEphemeral assigns the first free ephemeral port found by stepping
// from the last port it assigned, in up to four passes over the port
// space: each of the first three uses a pseudo-random step of 1 to 32,
// the last a step of 1.
func (m *EndpointManager) bindEphemeral(ep Endpoint, addr tcpip.FullAddress) (tcpip.FullAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	const fullRange = 65536
	for rotation := 0; rotation < 4; rotation++ {
		step := uint16(rand.Intn(32) + 1)
		if rotation == 3 {
			step = 1
		}

		port := m.lastEphemeral
		for i := 0; i < fullRange; i++ {
			port += step
			if port <= m.tuning.LastReservedPort {
				continue
			}
			if len(m.endpointTable[port]) == 0 {
				addr.Port = port
				m.endpointTable[port] = append(m.endpointTable[port], ep)
				m.lastEphemeral = port
				return addr, nil
			}
		}
	}
	return tcpip.FullAddress{}, tcpip.ErrAddressInUse
}

// Unbind removes ep from the port's endpoint-table entry. It is a
// no-op if ep isn't registered under port.
func (m *EndpointManager) Unbind(port uint16, ep Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.endpointTable[port]
	for i, e := range list {
		if e == ep {
			m.endpointTable[port] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.endpointTable[port]) == 0 {
		delete(m.endpointTable, port)
	}
}

// SetConnection registers ep's active-open four-tuple in the
// connection table, resolving a wildcard local address from route
// first. It rejects the call if the resulting tuple is already taken
// by a different connection.
func (m *EndpointManager) SetConnection(ep Endpoint, route *Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ep.ID()
	if id.LocalAddress == AnyAddress {
		id.LocalAddress = route.LocalAddress
		ep.SetID(id)
	}

	if existing, ok := m.connectionTable[id]; ok && existing != ep {
		return tcpip.ErrAddressInUse
	}

	for key, owner := range m.connectionTable {
		if owner == ep {
			delete(m.connectionTable, key)
		}
	}

	m.connectionTable[id] = ep
	return nil
}

// RemoveConnection drops ep's connection-table entry, if any.
func (m *EndpointManager) RemoveConnection(ep Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, owner := range m.connectionTable {
		if owner == ep {
			delete(m.connectionTable, key)
		}
	}
}

// FindConnection locates the endpoint that should handle a segment
// identified by id (its local fields are the segment's destination,
// its remote fields the segment's source). It tries an exact match,
// then a local-address match against a wildcard-peer listening
// endpoint, then a fully wildcard listener, and returns the first
// tier match whose endpoint can still be reference-acquired.
func (m *EndpointManager) FindConnection(id TransportEndpointID) (Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := []TransportEndpointID{
		id,
		{LocalAddress: id.LocalAddress, LocalPort: id.LocalPort},
		{LocalAddress: AnyAddress, LocalPort: id.LocalPort},
	}

	for _, id := range candidates {
		if ep, ok := m.connectionTable[id]; ok && ep.Acquire() {
			return ep, true
		}
	}
	return nil, false
}

// ReplyWithReset synthesizes and sends a RST for a segment that
// matched no endpoint.
func (m *EndpointManager) ReplyWithReset(router Router, route *Route, id TransportEndpointID, seg header.TCP) {
	replyRoute, ok := router.GetRoute(id.RemoteAddress)
	if !ok {
		replyRoute = route
	}

	var seq, ack seqnum.Value
	flags := uint8(header.FlagRst)
	if seg.Flags()&header.FlagAck == 0 {
		seq = 0
		flags |= header.FlagAck
		ack = seqnum.Value(seg.SequenceNumber()).Add(seqnum.Size(len(seg) - int(seg.DataOffset())))
		if seg.Flags()&(header.FlagSyn|header.FlagFin) != 0 {
			ack = ack.Add(1)
		}
	} else {
		seq = seqnum.Value(seg.AckNumber())
	}

	buf := buffer.New(header.TCPMinimumSize)
	tcpHdr := header.TCP(make([]byte, header.TCPMinimumSize))
	tcpHdr.Encode(&header.TCPFields{
		SrcPort:    id.LocalPort,
		DstPort:    id.RemotePort,
		SeqNum:     uint32(seq),
		AckNum:     uint32(ack),
		DataOffset: header.TCPMinimumSize,
		Flags:      flags,
	})
	buf.Append(tcpHdr)

	if err := router.SendRoutedData(replyRoute, buf); err != nil {
		buf.Free()
		m.log.WithError(err).Debug("failed to send reset")
	}
}
