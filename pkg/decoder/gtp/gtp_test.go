// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gtp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

func testKB(t *testing.T) *knowledge.Base {
	t.Helper()
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	return kb
}

func bcd(t *testing.T, digits string) []byte {
	t.Helper()
	b, err := decoder.EncodeBCD(digits)
	require.NoError(t, err)
	return b
}

func apnBytes(labels ...string) []byte {
	var out []byte
	for _, l := range labels {
		out = append(out, byte(len(l)))
		out = append(out, l...)
	}
	return out
}

// v2IE renders one GTPv2 information element: type, 16-bit length, instance.
func v2IE(typ int, data []byte) []byte {
	out := []byte{byte(typ), 0, 0, 0}
	binary.BigEndian.PutUint16(out[1:3], uint16(len(data)))
	return append(out, data...)
}

// v2Message renders a GTPv2 header with the T flag and the given IEs.
func v2Message(msgType int, teid, seq uint32, ies ...[]byte) []byte {
	buf := []byte{0x48, byte(msgType), 0, 0}
	teidBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(teidBytes, teid)
	buf = append(buf, teidBytes...)
	buf = append(buf, byte(seq>>16), byte(seq>>8), byte(seq), 0)
	for _, ie := range ies {
		buf = append(buf, ie...)
	}
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)-4))
	return buf
}

func TestV2DecodeCreateSessionRequest(t *testing.T) {
	plmn, err := decoder.EncodePLMN("001", "01")
	require.NoError(t, err)
	fteid := append([]byte{0x8A}, 0xDE, 0xAD, 0xBE, 0xEF, 10, 0, 0, 1) // V4 flag, S11 MME
	payload := v2Message(32, 0, 0x000102,
		v2IE(v2IEIMSI, bcd(t, "001010123456789")),
		v2IE(v2IEMSISDN, bcd(t, "15551234567")),
		v2IE(v2IEAPN, apnBytes("internet", "mnc001", "mcc001", "gprs")),
		v2IE(v2IEServingNet, plmn),
		v2IE(v2IEFTEID, fteid),
	)

	d := NewV2(testKB(t))
	require.True(t, d.CanDecode(payload))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)

	assert.Equal(t, decoder.ProtocolGTPv2, msg.Protocol)
	assert.Equal(t, "Create Session Request", msg.MessageName)
	assert.Equal(t, decoder.DirectionRequest, msg.Direction)
	assert.Equal(t, "001010123456789", msg.IMSI)
	assert.Equal(t, "15551234567", msg.MSISDN)
	assert.Equal(t, "internet.mnc001.mcc001.gprs", msg.APN)
	assert.Equal(t, "00101", msg.PLMN)
	assert.Equal(t, uint32(0x000102), msg.SequenceNum)
	assert.Equal(t, uint32(0xDEADBEEF), msg.TEID, "F-TEID fills in a zero header TEID")
	assert.Equal(t, decoder.NodeMME, msg.Source.Type)
	assert.Equal(t, decoder.NodeSGW, msg.Destination.Type)
}

func TestV2DirectionFollowsMessageTable(t *testing.T) {
	d := NewV2(testKB(t))

	// The bearer family pairs odd requests with even responses, unlike the
	// even-request session family.
	for msgType, want := range map[int]decoder.Direction{
		1:   decoder.DirectionRequest, // Echo Request
		2:   decoder.DirectionResponse,
		32:  decoder.DirectionRequest, // Create Session Request
		33:  decoder.DirectionResponse,
		95:  decoder.DirectionRequest, // Create Bearer Request
		96:  decoder.DirectionResponse,
		97:  decoder.DirectionRequest, // Update Bearer Request
		98:  decoder.DirectionResponse,
		99:  decoder.DirectionRequest, // Delete Bearer Request
		100: decoder.DirectionResponse,
		170: decoder.DirectionRequest, // Release Access Bearers Request
		171: decoder.DirectionResponse,
	} {
		msg, err := d.Decode(v2Message(msgType, 1, 1), nil)
		require.NoError(t, err, "type %d", msgType)
		assert.Equal(t, want, msg.Direction, "type %d %s", msgType, msg.MessageName)
	}

	// Bearer procedures are network-initiated: requests run SGW→MME,
	// responses reverse.
	msg, err := d.Decode(v2Message(95, 1, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, "Create Bearer Request", msg.MessageName)
	assert.Equal(t, decoder.NodeSGW, msg.Source.Type)
	assert.Equal(t, decoder.NodeMME, msg.Destination.Type)
	msg, err = d.Decode(v2Message(96, 1, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.NodeMME, msg.Source.Type)
}

func TestV2DecodeCauses(t *testing.T) {
	d := NewV2(testKB(t))

	accepted := v2Message(33, 0x1001, 1, v2IE(v2IECause, []byte{16, 0}))
	msg, err := d.Decode(accepted, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.ResultSuccess, msg.Result)
	assert.Equal(t, decoder.DirectionResponse, msg.Direction)

	rejected := v2Message(33, 0x1001, 2, v2IE(v2IECause, []byte{64, 0}))
	msg, err = d.Decode(rejected, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.ResultFailure, msg.Result)
	assert.Equal(t, 64, msg.CauseCode)
	assert.Equal(t, "Context Not Found", msg.CauseText)
}

func TestV2RejectsTruncatedIE(t *testing.T) {
	payload := v2Message(32, 0, 1)
	payload = append(payload, 0x01, 0x00, 0x40, 0x00) // claims 64 bytes, has none
	binary.BigEndian.PutUint16(payload[2:4], uint16(len(payload)-4))

	d := NewV2(testKB(t))
	_, err := d.Decode(payload, nil)
	require.Error(t, err)
	var decodeErr *decoder.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

// v1IE renders one GTPv1 information element: type, 16-bit length.
func v1IE(typ int, data []byte) []byte {
	out := []byte{byte(typ), 0, 0}
	binary.BigEndian.PutUint16(out[1:3], uint16(len(data)))
	return append(out, data...)
}

// v1Message renders a GTPv1 header with PT and S flags set.
func v1Message(msgType int, teid uint32, seq uint16, ies ...[]byte) []byte {
	buf := []byte{0x32, byte(msgType), 0, 0}
	teidBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(teidBytes, teid)
	buf = append(buf, teidBytes...)
	buf = append(buf, byte(seq>>8), byte(seq), 0, 0) // seq, N-PDU, next ext
	for _, ie := range ies {
		buf = append(buf, ie...)
	}
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)-8))
	return buf
}

func TestV1DecodeCreatePDPContextRequest(t *testing.T) {
	teidControl := []byte{0x00, 0x00, 0x10, 0x01}
	payload := v1Message(16, 0, 0x0042,
		v1IE(v1IEIMSI, bcd(t, "001010000000001")),
		v1IE(v1IEAPN, apnBytes("internet")),
		v1IE(v1IETEIDControl, teidControl),
	)

	d := NewV1(testKB(t))
	require.True(t, d.CanDecode(payload))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)

	assert.Equal(t, decoder.ProtocolGTPv1, msg.Protocol)
	assert.Equal(t, "Create PDP Context Request", msg.MessageName)
	assert.Equal(t, decoder.DirectionRequest, msg.Direction)
	assert.Equal(t, "001010000000001", msg.IMSI)
	assert.Equal(t, "internet", msg.APN)
	assert.Equal(t, uint32(0x0042), msg.SequenceNum)
	assert.Equal(t, uint32(0x1001), msg.TEID)
	assert.Equal(t, decoder.NodeSGSN, msg.Source.Type)
	assert.Equal(t, decoder.NodeGGSN, msg.Destination.Type)
}

func TestV1DecodeCauses(t *testing.T) {
	d := NewV1(testKB(t))

	accepted := v1Message(17, 0x2002, 1, v1IE(v1IECause, []byte{128}))
	msg, err := d.Decode(accepted, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.ResultSuccess, msg.Result)
	assert.Equal(t, decoder.DirectionResponse, msg.Direction)

	rejected := v1Message(17, 0x2002, 2, v1IE(v1IECause, []byte{199}))
	msg, err = d.Decode(rejected, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.ResultFailure, msg.Result)
	assert.Equal(t, 199, msg.CauseCode)
}

func TestCanDecodeDiscriminatesVersions(t *testing.T) {
	kb := testKB(t)
	v1 := NewV1(kb)
	v2 := NewV2(kb)

	v1Payload := v1Message(1, 0, 1)
	v2Payload := v2Message(1, 0, 1)
	assert.True(t, v1.CanDecode(v1Payload))
	assert.False(t, v2.CanDecode(v1Payload))
	assert.True(t, v2.CanDecode(v2Payload))
	assert.False(t, v1.CanDecode(v2Payload))

	// PFCP shares the version-1 bits but clears PT.
	pfcp := append([]byte{0x20, 1, 0, 4}, 0, 0, 0, 1)
	assert.False(t, v1.CanDecode(pfcp))
}
