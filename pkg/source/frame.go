// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// Feed frame layout, all integers big-endian:
//
//	byte  0     version (0x01)
//	byte  1     transport (0 = udp, 1 = tcp, 2 = sctp)
//	bytes 2-9   capture time, microseconds since the Unix epoch
//	bytes 10-25 source IP, 16 bytes (IPv4 mapped)
//	bytes 26-41 destination IP, 16 bytes
//	bytes 42-43 source port
//	bytes 44-45 destination port
//	byte  46    interface name length n
//	...         interface name (n bytes), then the payload
const (
	frameVersion   = 0x01
	frameFixedSize = 47
)

var (
	errFrameShort   = errors.New("feed frame truncated")
	errFrameVersion = errors.New("unsupported feed frame version")
)

var frameTransports = map[byte]string{
	0: TransportUDP,
	1: TransportTCP,
	2: TransportSCTP,
}

// DecodeFrame parses one framed feed unit into a Packet. The payload slice
// is copied; the input buffer may be reused by the caller.
func DecodeFrame(buf []byte) (*Packet, error) {
	if len(buf) < frameFixedSize {
		return nil, errFrameShort
	}
	if buf[0] != frameVersion {
		return nil, fmt.Errorf("%w: 0x%02x", errFrameVersion, buf[0])
	}
	transport, ok := frameTransports[buf[1]]
	if !ok {
		return nil, fmt.Errorf("feed frame: unknown transport %d", buf[1])
	}

	micros := binary.BigEndian.Uint64(buf[2:10])
	srcIP := net.IP(buf[10:26])
	dstIP := net.IP(buf[26:42])

	ifaceLen := int(buf[46])
	if len(buf) < frameFixedSize+ifaceLen {
		return nil, errFrameShort
	}
	iface := string(buf[frameFixedSize : frameFixedSize+ifaceLen])
	payload := append([]byte(nil), buf[frameFixedSize+ifaceLen:]...)

	return &Packet{
		Payload:     payload,
		SrcIP:       srcIP.String(),
		DstIP:       dstIP.String(),
		SrcPort:     binary.BigEndian.Uint16(buf[42:44]),
		DstPort:     binary.BigEndian.Uint16(buf[44:46]),
		Transport:   transport,
		CaptureTime: time.UnixMicro(int64(micros)).UTC(),
		Interface:   iface,
	}, nil
}

// EncodeFrame renders a Packet in the feed frame layout. Probes and tests use
// it; the listener only decodes.
func EncodeFrame(p *Packet) ([]byte, error) {
	transport := byte(0xff)
	for code, name := range frameTransports {
		if name == p.Transport {
			transport = code
		}
	}
	if transport == 0xff {
		return nil, fmt.Errorf("feed frame: unknown transport %q", p.Transport)
	}
	if len(p.Interface) > 255 {
		return nil, fmt.Errorf("feed frame: interface name too long (%d)", len(p.Interface))
	}
	src := net.ParseIP(p.SrcIP).To16()
	dst := net.ParseIP(p.DstIP).To16()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("feed frame: bad address %q -> %q", p.SrcIP, p.DstIP)
	}

	buf := make([]byte, frameFixedSize, frameFixedSize+len(p.Interface)+len(p.Payload))
	buf[0] = frameVersion
	buf[1] = transport
	binary.BigEndian.PutUint64(buf[2:10], uint64(p.CaptureTime.UnixMicro()))
	copy(buf[10:26], src)
	copy(buf[26:42], dst)
	binary.BigEndian.PutUint16(buf[42:44], p.SrcPort)
	binary.BigEndian.PutUint16(buf[44:46], p.DstPort)
	buf[46] = byte(len(p.Interface))
	buf = append(buf, p.Interface...)
	buf = append(buf, p.Payload...)
	return buf, nil
}
