// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package header encodes and decodes the fixed 20-byte TCP header plus its
// variable options area, per RFC 793 and RFC 1323.
package header

import "encoding/binary"

const (
	// TCPMinimumSize is the minimum size of a valid TCP packet.
	TCPMinimumSize = 20

	// TCPMaximumHeaderSize is the maximum header size, with all options
	// present.
	TCPMaximumHeaderSize = 60

	// TCPProtocolNumber is TCP's transport protocol number.
	TCPProtocolNumber = 6
)

// Flags that may be set in a TCP segment.
const (
	FlagFin = 1 << iota
	FlagSyn
	FlagRst
	FlagPsh
	FlagAck
	FlagUrg
)

// Option kinds recognized by the codec.
const (
	TCPOptionEOL       = 0
	TCPOptionNOP       = 1
	TCPOptionMSS       = 2
	TCPOptionWS        = 3
	TCPOptionSACKPerm  = 4
	TCPOptionSACK      = 5
	TCPOptionTS        = 8
)

const (
	tcpOptionMSSLength   = 4
	tcpOptionWSLength    = 3
	tcpOptionTSLength    = 10
	tcpOptionSACKPermLen = 2
)

// TCPFields contains the fields of a TCP packet, in host byte order. It is
// the bridge between the wire format and the in-memory segment
// representation used by tcp.Endpoint.
type TCPFields struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	DataOffset uint8
	Flags      uint8
	WindowSize uint16
	Checksum   uint16
}

// TCP represents a TCP header stored in a byte array, per RFC 793.
type TCP []byte

const (
	tcpSrcPortOffset  = 0
	tcpDstPortOffset  = 2
	tcpSeqNumOffset   = 4
	tcpAckNumOffset   = 8
	tcpDataOffOffset  = 12
	tcpFlagsOffset    = 13
	tcpWinSizeOffset  = 14
	tcpChecksumOffset = 16
)

// SourcePort returns the source port in network byte order field.
func (b TCP) SourcePort() uint16 { return binary.BigEndian.Uint16(b[tcpSrcPortOffset:]) }

// DestinationPort returns the destination port field.
func (b TCP) DestinationPort() uint16 { return binary.BigEndian.Uint16(b[tcpDstPortOffset:]) }

// SequenceNumber returns the sequence number field.
func (b TCP) SequenceNumber() uint32 { return binary.BigEndian.Uint32(b[tcpSeqNumOffset:]) }

// AckNumber returns the ack number field.
func (b TCP) AckNumber() uint32 { return binary.BigEndian.Uint32(b[tcpAckNumOffset:]) }

// DataOffset returns the data offset field, in bytes.
func (b TCP) DataOffset() uint8 { return (b[tcpDataOffOffset] >> 4) * 4 }

// Flags returns the flags field.
func (b TCP) Flags() uint8 { return b[tcpFlagsOffset] }

// WindowSize returns the window size field.
func (b TCP) WindowSize() uint16 { return binary.BigEndian.Uint16(b[tcpWinSizeOffset:]) }

// Checksum returns the checksum field.
func (b TCP) Checksum() uint16 { return binary.BigEndian.Uint16(b[tcpChecksumOffset:]) }

// Options returns a slice holding the unparsed TCP options.
func (b TCP) Options() []byte {
	return b[TCPMinimumSize:b.DataOffset()]
}

// SetChecksum sets the checksum field of the TCP header.
func (b TCP) SetChecksum(checksum uint16) {
	binary.BigEndian.PutUint16(b[tcpChecksumOffset:], checksum)
}

// Encode encodes all the fields of the TCP header.
func (b TCP) Encode(t *TCPFields) {
	binary.BigEndian.PutUint16(b[tcpSrcPortOffset:], t.SrcPort)
	binary.BigEndian.PutUint16(b[tcpDstPortOffset:], t.DstPort)
	binary.BigEndian.PutUint32(b[tcpSeqNumOffset:], t.SeqNum)
	binary.BigEndian.PutUint32(b[tcpAckNumOffset:], t.AckNum)
	b[tcpDataOffOffset] = (t.DataOffset / 4) << 4
	b[tcpFlagsOffset] = t.Flags
	binary.BigEndian.PutUint16(b[tcpWinSizeOffset:], t.WindowSize)
	binary.BigEndian.PutUint16(b[tcpChecksumOffset:], t.Checksum)
}

// CalculateChecksum returns the RFC 1071 sum of the header bytes up to
// DataOffset, with the checksum field taken as zero, accumulated onto
// partialChecksum (the network-layer pseudo-header sum). Payload bytes
// are not included, and totalLen is not used.
func (b TCP) CalculateChecksum(partialChecksum uint16, totalLen uint16) uint16 {
	// Reset the checksum field before calculating the checksum.
	saved := b.Checksum()
	b.SetChecksum(0)
	xsum := Checksum(b[:b.DataOffset()], partialChecksum)
	b.SetChecksum(saved)
	return xsum
}

// Checksum calculates the checksum (as defined in RFC 1071) of the bytes in
// the slice, accumulating with initial.
func Checksum(data []byte, initial uint16) uint16 {
	sum := uint32(initial)
	for len(data) >= 2 {
		sum += uint32(data[0])<<8 | uint32(data[1])
		data = data[2:]
	}
	if len(data) == 1 {
		sum += uint32(data[0]) << 8
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return uint16(sum)
}

// ParsedOptions holds the subset of options relevant to the core, decoded
// from the raw options area by ParseSynOptions / ParseOptions.
type ParsedOptions struct {
	MSS          uint16
	HasWS        bool
	WS           uint8
	SACKPermitted bool
	HasTS        bool
	TSVal        uint32
	TSEcr        uint32
}

// ParseOptions decodes the TCP options area: unknown options are skipped
// by length; malformed lengths (0 or greater than remaining) terminate
// parsing. Returns ok=false when any option, recognized or not, runs
// past the end of the area or (for an unknown option) carries a zero
// length byte, in which case partial results parsed so far are still
// returned (callers that need strict rejection, like a SYN handshake,
// should check ok).
func ParseOptions(opts []byte) (ParsedOptions, bool) {
	var p ParsedOptions
	limit := len(opts)
	for i := 0; i < limit; {
		switch opts[i] {
		case TCPOptionEOL:
			return p, true
		case TCPOptionNOP:
			i++
		case TCPOptionMSS:
			if i+tcpOptionMSSLength > limit {
				return p, false
			}
			p.MSS = uint16(opts[i+2])<<8 | uint16(opts[i+3])
			i += tcpOptionMSSLength
		case TCPOptionWS:
			if i+tcpOptionWSLength > limit {
				return p, false
			}
			p.HasWS = true
			p.WS = opts[i+2]
			i += tcpOptionWSLength
		case TCPOptionSACKPerm:
			if i+tcpOptionSACKPermLen > limit {
				return p, false
			}
			p.SACKPermitted = true
			i += tcpOptionSACKPermLen
		case TCPOptionTS:
			if i+tcpOptionTSLength > limit {
				return p, false
			}
			p.HasTS = true
			p.TSVal = uint32(opts[i+2])<<24 | uint32(opts[i+3])<<16 | uint32(opts[i+4])<<8 | uint32(opts[i+5])
			p.TSEcr = uint32(opts[i+6])<<24 | uint32(opts[i+7])<<16 | uint32(opts[i+8])<<8 | uint32(opts[i+9])
			i += tcpOptionTSLength
		default:
			if i+2 > limit {
				return p, false
			}
			l := int(opts[i+1])
			if l == 0 || i+l > limit {
				return p, false
			}
			i += l
		}
	}
	return p, true
}

// EncodeOptions serializes the options in a fixed emission order: MSS (if
// nonzero), Timestamp (if enabled), WindowScale (if enabled), SACK-permitted
// (if enabled), up to four SACK blocks, then EOL bytes until the total
// length is a multiple of four. Two NOPs go before the Timestamp option
// and before the SACK option when the bytes emitted so far end two
// short of a four-byte boundary; no other option is aligned.
type OptionsToEncode struct {
	MSS           uint16
	TSVal, TSEcr  uint32
	EnableTS      bool
	WS            uint8
	EnableWS      bool
	SACKPermitted bool
	SACKBlocks    []SACKBlock
}

// SACKBlock is a single left/right edge pair for SACK option emission.
// Interpreting SACK blocks received from a peer is not implemented; this
// type only supports emission.
type SACKBlock struct {
	Start, End uint32
}

func EncodeOptions(o OptionsToEncode) []byte {
	buf := make([]byte, 0, TCPMaximumHeaderSize-TCPMinimumSize)

	if o.MSS != 0 {
		buf = append(buf, TCPOptionMSS, tcpOptionMSSLength, byte(o.MSS>>8), byte(o.MSS))
	}

	if o.EnableTS {
		// Timestamp must start on a 4-byte boundary; pad with two NOPs
		// if needed, matching RFC 1323 appendix A's recommended layout.
		if len(buf)%4 == 2 {
			buf = append(buf, TCPOptionNOP, TCPOptionNOP)
		}
		buf = append(buf, TCPOptionTS, tcpOptionTSLength,
			byte(o.TSVal>>24), byte(o.TSVal>>16), byte(o.TSVal>>8), byte(o.TSVal),
			byte(o.TSEcr>>24), byte(o.TSEcr>>16), byte(o.TSEcr>>8), byte(o.TSEcr))
	}

	if o.EnableWS {
		buf = append(buf, TCPOptionWS, tcpOptionWSLength, o.WS)
	}

	if o.SACKPermitted {
		buf = append(buf, TCPOptionSACKPerm, tcpOptionSACKPermLen)
	}

	if n := len(o.SACKBlocks); n > 0 {
		if n > 4 {
			n = 4
		}
		if len(buf)%4 == 2 {
			buf = append(buf, TCPOptionNOP, TCPOptionNOP)
		}
		buf = append(buf, TCPOptionSACK, byte(2+8*n))
		for _, blk := range o.SACKBlocks[:n] {
			buf = append(buf,
				byte(blk.Start>>24), byte(blk.Start>>16), byte(blk.Start>>8), byte(blk.Start),
				byte(blk.End>>24), byte(blk.End>>16), byte(blk.End>>8), byte(blk.End))
		}
	}

	for len(buf)%4 != 0 {
		buf = append(buf, TCPOptionEOL)
	}

	return buf
}
