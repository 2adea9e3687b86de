// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/metrics"
	"github.com/lucidnet/tcpstack/seqnum"
	"github.com/lucidnet/tcpstack/stack"
	"github.com/lucidnet/tcpstack/tcpip"
)

// Action is the bitset an endpoint's SegmentReceived returns to tell the
// reception dispatch loop what to do with the buffer and connection
// table entry that carried the segment in.
type Action uint8

// The bits a SegmentReceived call can combine in its return value.
const (
	ActionKeep Action = 1 << iota
	ActionDrop
	ActionReset
	ActionAcknowledge
	ActionImmediateAcknowledge
	ActionDeletedEndpoint
)

func (a Action) has(bit Action) bool { return a&bit != 0 }

// DecodeSegment validates a raw inbound TCP segment's header length and
// checksum and parses it into a segment ready for dispatch. ok is false
// if the segment is too short or fails checksum and must be silently
// dropped. The checksum is verified over the header bytes (up to the
// data offset) plus pseudoHeaderChecksum, the same span
// header.TCP.CalculateChecksum covers; the payload is not checked.
func DecodeSegment(route *stack.Route, buf *buffer.NetBuffer, pseudoHeaderChecksum uint16) (*segment, bool) {
	raw := header.TCP(buf.Payload())
	if len(raw) < header.TCPMinimumSize {
		return nil, false
	}
	dataOffset := raw.DataOffset()
	if int(dataOffset) < header.TCPMinimumSize || int(dataOffset) > len(raw) {
		return nil, false
	}

	// The sum includes the stored checksum, so an intact header folds
	// to all ones.
	xsum := header.Checksum(raw[:dataOffset], pseudoHeaderChecksum)
	if xsum != 0xffff && xsum != 0 {
		return nil, false
	}

	opts, _ := header.ParseOptions(raw.Options())

	payload := buffer.New(0)
	payload.Append(raw[dataOffset:])

	seg := &segment{
		route:          route,
		sequenceNumber: seqnum.Value(raw.SequenceNumber()),
		ackNumber:      seqnum.Value(raw.AckNumber()),
		flags:          raw.Flags(),
		window:         seqnum.Size(raw.WindowSize()),
		options:        opts,
		data:           payload,
	}
	seg.id.LocalPort = raw.DestinationPort()
	seg.id.RemotePort = raw.SourcePort()
	return seg, true
}

// Deliver implements the reception dispatch path: it locates the owning
// endpoint via manager, synthesizes a RST for unmatched non-RST traffic,
// and otherwise hands the segment to the endpoint and honors its
// returned action.
func Deliver(manager *stack.EndpointManager, router stack.Router, route *stack.Route, localAddr, remoteAddr tcpip.Address, seg *segment) {
	seg.id.LocalAddress = localAddr
	seg.id.RemoteAddress = remoteAddr

	ep, found := manager.FindConnection(seg.id)
	if !found {
		metrics.SegmentsDropped.Inc()
		if !seg.flagIsSet(header.FlagRst) {
			manager.ReplyWithReset(router, route, seg.id, header.TCP(encodeForReset(seg)))
		}
		seg.free()
		return
	}

	endpoint := ep.(*Endpoint)
	action := endpoint.SegmentReceived(seg)

	if action.has(ActionDrop) {
		metrics.SegmentsDropped.Inc()
		seg.free()
	}
	endpoint.Release()
}

// encodeForReset re-serializes just enough of seg for
// EndpointManager.ReplyWithReset to read back the flags/sequence fields
// it needs; it never leaves this package.
func encodeForReset(seg *segment) []byte {
	raw := make([]byte, header.TCPMinimumSize)
	tcpHdr := header.TCP(raw)
	tcpHdr.Encode(&header.TCPFields{
		SeqNum:     uint32(seg.sequenceNumber),
		AckNum:     uint32(seg.ackNumber),
		DataOffset: header.TCPMinimumSize,
		Flags:      seg.flags,
	})
	return append(raw, make([]byte, seg.payloadSize())...)
}
