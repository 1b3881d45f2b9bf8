// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tcap

import (
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

// tlv renders one short-form BER TLV.
func tlv(tag byte, value ...[]byte) []byte {
	var body []byte
	for _, v := range value {
		body = append(body, v...)
	}
	out := []byte{tag, byte(len(body))}
	return append(out, body...)
}

func berIntBytes(v int) []byte {
	return tlv(tagInteger, []byte{byte(v)})
}

func mapBegin(t *testing.T, opCode int, imsi string) []byte {
	t.Helper()
	imsiBCD, err := decoder.EncodeBCD(imsi)
	require.NoError(t, err)
	invoke := tlv(tagInvoke,
		berIntBytes(1), // invoke ID
		berIntBytes(opCode),
		tlv(tagOctetString, imsiBCD),
	)
	return tlv(tagBegin,
		tlv(tagOTID, []byte{0x12, 0x34}),
		tlv(tagComponentPortion, invoke),
	)
}

func TestMAPDecodeUpdateLocationInvoke(t *testing.T) {
	payload := mapBegin(t, 2, "001010123456789")

	d := NewMAPDecoder(testKB(t))
	require.True(t, d.CanDecode(payload))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)

	assert.Equal(t, decoder.ProtocolMAP, msg.Protocol)
	assert.Equal(t, "UpdateLocation", msg.MessageName)
	assert.Equal(t, "TCAP_Begin", msg.MessageType)
	assert.Equal(t, decoder.DirectionRequest, msg.Direction)
	assert.Equal(t, "1234", msg.TransactionID)
	assert.Equal(t, "001010123456789", msg.IMSI)
	assert.Equal(t, "location", msg.Details["category"])
	assert.Equal(t, decoder.NodeVLR, msg.Source.Type)
	assert.Equal(t, decoder.NodeHLR, msg.Destination.Type)
}

func TestMAPDecodeReturnError(t *testing.T) {
	returnError := tlv(tagReturnError,
		berIntBytes(1), // invoke ID
		berIntBytes(1), // Unknown Subscriber
	)
	payload := tlv(tagEnd,
		tlv(tagDTID, []byte{0x12, 0x34}),
		tlv(tagComponentPortion, returnError),
	)

	d := NewMAPDecoder(testKB(t))
	require.True(t, d.CanDecode(payload), "error-only envelopes fall to MAP")
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)

	assert.Equal(t, decoder.ResultFailure, msg.Result)
	assert.Equal(t, 1, msg.CauseCode)
	assert.Equal(t, "Unknown Subscriber", msg.CauseText)
	assert.Equal(t, decoder.DirectionResponse, msg.Direction)
	assert.Equal(t, "MAP End", msg.MessageName)
}

func TestTCAPEndIsSuccess(t *testing.T) {
	result := tlv(tagReturnResultLast,
		berIntBytes(1),
		tlv(0x30, berIntBytes(2)),
	)
	payload := tlv(tagEnd,
		tlv(tagDTID, []byte{0xAB}),
		tlv(tagComponentPortion, result),
	)

	d := NewMAPDecoder(testKB(t))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.ResultSuccess, msg.Result)
	assert.Equal(t, "UpdateLocation", msg.MessageName)
	assert.Equal(t, decoder.NodeHLR, msg.Source.Type, "responses flow HLR to VLR")
}

func TestTCAPAbortIsFailure(t *testing.T) {
	payload := tlv(tagAbort, tlv(tagDTID, []byte{0x01}))

	d := NewMAPDecoder(testKB(t))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, "TCAP_Abort", msg.MessageType)
	assert.Equal(t, decoder.ResultFailure, msg.Result)
}

func TestDispatchBetweenMAPAndCAP(t *testing.T) {
	kb := testKB(t)
	mapDec := NewMAPDecoder(kb)
	capDec := NewCAPDecoder(kb)
	inapDec := NewINAPDecoder(kb)

	// InitialDP (0) is CAP's; UpdateLocation (2) is MAP's.
	initialDP := tlv(tagBegin,
		tlv(tagOTID, []byte{0x01}),
		tlv(tagComponentPortion, tlv(tagInvoke, berIntBytes(1), berIntBytes(0))),
	)
	assert.False(t, mapDec.CanDecode(initialDP))
	assert.True(t, capDec.CanDecode(initialDP))

	updateLocation := mapBegin(t, 2, "001010123456789")
	assert.True(t, mapDec.CanDecode(updateLocation))
	assert.False(t, capDec.CanDecode(updateLocation))

	// An operation neither table knows lands on INAP.
	exotic := tlv(tagBegin,
		tlv(tagOTID, []byte{0x01}),
		tlv(tagComponentPortion, tlv(tagInvoke, berIntBytes(1), berIntBytes(120))),
	)
	assert.False(t, mapDec.CanDecode(exotic))
	assert.False(t, capDec.CanDecode(exotic))
	assert.True(t, inapDec.CanDecode(exotic))
}

func TestCAPDecodeInitialDP(t *testing.T) {
	payload := tlv(tagBegin,
		tlv(tagOTID, []byte{0x99}),
		tlv(tagComponentPortion, tlv(tagInvoke, berIntBytes(1), berIntBytes(0))),
	)

	d := NewCAPDecoder(testKB(t))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.ProtocolCAP, msg.Protocol)
	assert.Equal(t, "InitialDP", msg.MessageName)
	assert.Equal(t, decoder.NodeSSP, msg.Source.Type)
	assert.Equal(t, decoder.NodeSCP, msg.Destination.Type)
}

func TestIsTCAPRejectsForeignPayloads(t *testing.T) {
	assert.False(t, isTCAP([]byte{0x48, 32, 0, 8})) // GTPv2
	assert.False(t, isTCAP([]byte{0x01, 0, 0, 20})) // Diameter
	assert.False(t, isTCAP([]byte{0x62}))           // truncated
}
