// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"testing"

	"github.com/lucidnet/tcpstack/buffer"
	"github.com/lucidnet/tcpstack/config"
	"github.com/lucidnet/tcpstack/header"
	"github.com/lucidnet/tcpstack/stack"
)

// synBytes builds a minimal, checksum-valid bare-SYN segment addressed
// from port src to port dst.
func synBytes(t *testing.T, src, dst uint16, seq uint32) []byte {
	t.Helper()
	raw := make([]byte, header.TCPMinimumSize)
	tcpHdr := header.TCP(raw)
	tcpHdr.Encode(&header.TCPFields{
		SrcPort:    src,
		DstPort:    dst,
		SeqNum:     seq,
		DataOffset: header.TCPMinimumSize,
		Flags:      header.FlagSyn,
		WindowSize: 4096,
	})
	tcpHdr.SetChecksum(^tcpHdr.CalculateChecksum(0, uint16(len(raw))))
	return raw
}

func TestDecodeSegmentRejectsShortHeader(t *testing.T) {
	buf := buffer.NewFromView(buffer.NewViewFromBytes(make([]byte, 10)))
	if _, ok := DecodeSegment(nil, buf, 0); ok {
		t.Errorf("DecodeSegment() on a too-short buffer = ok, want rejected")
	}
}

func TestDecodeSegmentRejectsBadChecksum(t *testing.T) {
	raw := synBytes(t, 1000, 80, 1)
	raw[len(raw)-1] ^= 0xff // corrupt a checksummed header byte (urgent pointer)

	buf := buffer.NewFromView(buffer.NewViewFromBytes(raw))
	if _, ok := DecodeSegment(nil, buf, 0); ok {
		t.Errorf("DecodeSegment() with a corrupted checksum = ok, want rejected")
	}
}

func TestDecodeSegmentAcceptsValidSyn(t *testing.T) {
	raw := synBytes(t, 1000, 80, 42)

	buf := buffer.NewFromView(buffer.NewViewFromBytes(raw))
	seg, ok := DecodeSegment(nil, buf, 0)
	if !ok {
		t.Fatalf("DecodeSegment() on a valid SYN = rejected, want ok")
	}
	if !seg.flagIsSet(header.FlagSyn) {
		t.Errorf("decoded flags = %#x, want SYN set", seg.flags)
	}
	if got, want := seg.id.LocalPort, uint16(80); got != want {
		t.Errorf("decoded LocalPort = %d, want %d", got, want)
	}
	if got, want := seg.id.RemotePort, uint16(1000); got != want {
		t.Errorf("decoded RemotePort = %d, want %d", got, want)
	}
}

func TestDeliverSendsResetForUnmatchedNonRst(t *testing.T) {
	manager := stack.NewEndpointManager(config.Default(), nil)
	router := &recordingRouter{route: &stack.Route{LocalAddress: "10.0.0.1", RemoteAddress: "10.0.0.2"}}

	raw := synBytes(t, 1000, 80, 42)
	buf := buffer.NewFromView(buffer.NewViewFromBytes(raw))
	seg, ok := DecodeSegment(router.route, buf, 0)
	if !ok {
		t.Fatalf("DecodeSegment() = rejected, want ok")
	}

	Deliver(manager, router, router.route, "10.0.0.1", "10.0.0.2", seg)

	if len(router.sent) != 1 {
		t.Fatalf("segments sent by Deliver() for an unmatched non-RST = %d, want 1 (the RST reply)", len(router.sent))
	}

	reply := header.TCP(router.sent[0].Payload())
	if reply.Flags()&header.FlagRst == 0 {
		t.Errorf("reply flags = %#x, want RST set", reply.Flags())
	}
	// The reply must swap the inbound ports: it comes from the port the
	// SYN was addressed to and goes back to the port it came from.
	if got, want := reply.SourcePort(), uint16(80); got != want {
		t.Errorf("reset SourcePort() = %d, want %d (the inbound destination port)", got, want)
	}
	if got, want := reply.DestinationPort(), uint16(1000); got != want {
		t.Errorf("reset DestinationPort() = %d, want %d (the inbound source port)", got, want)
	}
}

func TestActionHasChecksBitset(t *testing.T) {
	a := ActionKeep | ActionAcknowledge
	if !a.has(ActionKeep) || !a.has(ActionAcknowledge) {
		t.Errorf("has() missed a bit that was set in %#x", uint8(a))
	}
	if a.has(ActionReset) {
		t.Errorf("has(ActionReset) = true on %#x, want false", uint8(a))
	}
}
