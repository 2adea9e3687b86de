// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	opts := EncodeOptions(OptionsToEncode{MSS: 1460})
	b := make(TCP, TCPMinimumSize+len(opts))
	b.Encode(&TCPFields{
		SrcPort:    1234,
		DstPort:    80,
		SeqNum:     1000,
		AckNum:     2000,
		DataOffset: uint8(TCPMinimumSize + len(opts)),
		Flags:      FlagSyn,
		WindowSize: 65535,
	})
	copy(b[TCPMinimumSize:], opts)

	if got, want := b.SourcePort(), uint16(1234); got != want {
		t.Errorf("SourcePort() = %d, want %d", got, want)
	}
	if got, want := b.SequenceNumber(), uint32(1000); got != want {
		t.Errorf("SequenceNumber() = %d, want %d", got, want)
	}
	if got, want := b.Flags(), uint8(FlagSyn); got != want {
		t.Errorf("Flags() = %d, want %d", got, want)
	}
	if got, want := b.DataOffset(), uint8(TCPMinimumSize+len(opts)); got != want {
		t.Errorf("DataOffset() = %d, want %d", got, want)
	}

	parsed, ok := ParseOptions(b.Options())
	if !ok {
		t.Fatalf("ParseOptions() failed")
	}
	if diff := cmp.Diff(ParsedOptions{MSS: 1460}, parsed); diff != "" {
		t.Errorf("ParseOptions() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOptionsMalformedLengthStops(t *testing.T) {
	// An MSS option truncated mid-value.
	opts := []byte{TCPOptionMSS, 4, 0x05}
	_, ok := ParseOptions(opts)
	if ok {
		t.Errorf("ParseOptions() should reject truncated MSS option")
	}
}

func TestParseOptionsSkipsUnknown(t *testing.T) {
	opts := []byte{99, 3, 0xff, TCPOptionMSS, 4, 0x05, 0xb4}
	parsed, ok := ParseOptions(opts)
	if !ok {
		t.Fatalf("ParseOptions() failed on option it should skip")
	}
	if parsed.MSS != 0x05b4 {
		t.Errorf("parsed MSS = %#x, want 0x05b4", parsed.MSS)
	}
}

func TestEncodeOptionsOrderingAndPadding(t *testing.T) {
	out := EncodeOptions(OptionsToEncode{
		MSS:      1460,
		EnableTS: true, TSVal: 1, TSEcr: 2,
		EnableWS: true, WS: 7,
		SACKPermitted: true,
	})
	if len(out)%4 != 0 {
		t.Fatalf("options length %d is not a multiple of 4", len(out))
	}
	if out[0] != TCPOptionMSS {
		t.Errorf("first option kind = %d, want MSS", out[0])
	}
}

func TestChecksumZeroForEmpty(t *testing.T) {
	if got := Checksum(nil, 0); got != 0 {
		t.Errorf("Checksum(nil, 0) = %d, want 0", got)
	}
}
