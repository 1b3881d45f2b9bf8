// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package aper holds the minimal aligned-PER plumbing the NGAP and S1AP
// decoders share. It is not a conformant ASN.1 decoder: it walks the PDU
// header and the protocol-IE container far enough to pull out identifiers,
// causes and embedded NAS-PDUs, which is all the monitor needs.
package aper

import (
	"encoding/binary"
	"fmt"
)

// PDU choice bytes.
const (
	ChoiceInitiating   = 0x00
	ChoiceSuccessful   = 0x20
	ChoiceUnsuccessful = 0x40
)

// IE is one entry of a protocol-IE container.
type IE struct {
	ID          int
	Criticality byte
	Value       []byte
}

// PDU is the walked envelope of an NGAP or S1AP message.
type PDU struct {
	Choice        byte
	ProcedureCode int
	IEs           []IE
}

// ReadLength reads an aligned-PER length determinant. Fragmented (>16383)
// lengths do not occur in signaling PDUs and are rejected.
func ReadLength(b []byte) (length, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("truncated length determinant")
	}
	if b[0] < 0x80 {
		return int(b[0]), 1, nil
	}
	if b[0]&0xC0 == 0x80 {
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("truncated two-byte length determinant")
		}
		return int(b[0]&0x3F)<<8 | int(b[1]), 2, nil
	}
	return 0, 0, fmt.Errorf("fragmented length determinant")
}

// ValidHeader reports whether the payload starts like an NGAP/S1AP PDU:
// a known choice byte, a criticality octet and a length determinant that
// stays inside the payload.
func ValidHeader(b []byte) bool {
	if len(b) < 7 {
		return false
	}
	switch b[0] {
	case ChoiceInitiating, ChoiceSuccessful, ChoiceUnsuccessful:
	default:
		return false
	}
	switch b[2] {
	case 0x00, 0x40, 0x80:
	default:
		return false
	}
	length, n, err := ReadLength(b[3:])
	if err != nil {
		return false
	}
	return 3+n+length <= len(b)
}

// Parse walks the PDU header and protocol-IE container.
func Parse(b []byte) (*PDU, error) {
	if len(b) < 7 {
		return nil, fmt.Errorf("payload too short: %d bytes", len(b))
	}
	pdu := &PDU{Choice: b[0], ProcedureCode: int(b[1])}
	switch pdu.Choice {
	case ChoiceInitiating, ChoiceSuccessful, ChoiceUnsuccessful:
	default:
		return nil, fmt.Errorf("unknown pdu choice 0x%02X", pdu.Choice)
	}
	length, n, err := ReadLength(b[3:])
	if err != nil {
		return nil, err
	}
	value := b[3+n:]
	if length > len(value) {
		return nil, fmt.Errorf("value length %d overruns payload", length)
	}
	value = value[:length]

	// Value: extension/preamble octet, 16-bit IE count, then the IEs.
	if len(value) < 3 {
		return pdu, nil
	}
	count := int(binary.BigEndian.Uint16(value[1:3]))
	rest := value[3:]
	for i := 0; i < count && len(rest) >= 4; i++ {
		ie := IE{
			ID:          int(binary.BigEndian.Uint16(rest[0:2])),
			Criticality: rest[2],
		}
		ieLen, m, err := ReadLength(rest[3:])
		if err != nil {
			return nil, fmt.Errorf("ie %d: %v", ie.ID, err)
		}
		start := 3 + m
		if start+ieLen > len(rest) {
			return nil, fmt.Errorf("ie %d length %d overruns container", ie.ID, ieLen)
		}
		ie.Value = rest[start : start+ieLen]
		pdu.IEs = append(pdu.IEs, ie)
		rest = rest[start+ieLen:]
	}
	return pdu, nil
}

// Uint interprets an IE value as a big-endian unsigned integer, which is how
// the constrained UE-ID integers come out of the aligned encoding.
func Uint(b []byte) uint64 {
	var v uint64
	for _, o := range b {
		v = v<<8 | uint64(o)
	}
	return v
}

// FirstIEID probes the id of the first IE without a full parse, for decoder
// dispatch between NGAP and S1AP.
func FirstIEID(b []byte) (int, bool) {
	if !ValidHeader(b) {
		return 0, false
	}
	_, n, err := ReadLength(b[3:])
	if err != nil {
		return 0, false
	}
	value := b[3+n:]
	if len(value) < 5 {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(value[3:5])), true
}
