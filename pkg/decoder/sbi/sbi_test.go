// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package sbi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

func testKB(t *testing.T) *knowledge.Base {
	t.Helper()
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	return kb
}

func headerBlock(t *testing.T, fields ...hpack.HeaderField) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		require.NoError(t, enc.WriteField(f))
	}
	return buf.Bytes()
}

func requestPayload(t *testing.T, method, path string, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	framer := http2.NewFramer(&buf, nil)
	block := headerBlock(t,
		hpack.HeaderField{Name: ":method", Value: method},
		hpack.HeaderField{Name: ":path", Value: path},
		hpack.HeaderField{Name: ":authority", Value: "udm.5gc.mnc001.mcc001.example.org"},
		hpack.HeaderField{Name: "content-type", Value: "application/json"},
	)
	require.NoError(t, framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     len(body) == 0,
	}))
	if len(body) > 0 {
		require.NoError(t, framer.WriteData(1, true, body))
	}
	return buf.Bytes()
}

func responsePayload(t *testing.T, status string, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	framer := http2.NewFramer(&buf, nil)
	block := headerBlock(t, hpack.HeaderField{Name: ":status", Value: status})
	require.NoError(t, framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     len(body) == 0,
	}))
	if len(body) > 0 {
		require.NoError(t, framer.WriteData(1, true, body))
	}
	return buf.Bytes()
}

func testMeta() *decoder.Metadata {
	return &decoder.Metadata{SourceIP: "10.0.0.1", DestIP: "10.0.0.2", Transport: "tcp"}
}

func TestDecodeUECMRegistrationRequest(t *testing.T) {
	payload := requestPayload(t, "PUT", "/nudm-uecm/v1/imsi-001010123456789/registrations", nil)

	d := New(testKB(t))
	require.True(t, d.CanDecode(payload))
	msg, err := d.Decode(payload, testMeta())
	require.NoError(t, err)

	assert.Equal(t, decoder.ProtocolHTTP2, msg.Protocol)
	assert.Equal(t, "Nudm-UECM Registrations", msg.MessageName)
	assert.Equal(t, decoder.DirectionRequest, msg.Direction)
	assert.Equal(t, "PUT", msg.Details["method"])
	assert.Equal(t, "imsi-001010123456789", msg.SUPI)
	assert.Equal(t, "001010123456789", msg.IMSI)
	assert.Equal(t, "10.0.0.1:1", msg.TransactionID)
	assert.Equal(t, decoder.NodeAMF, msg.Source.Type)
	assert.Equal(t, decoder.NodeUDM, msg.Destination.Type)
}

func TestDecodeResponseProblemDetails(t *testing.T) {
	d := New(testKB(t))

	created := responsePayload(t, "201", nil)
	msg, err := d.Decode(created, testMeta())
	require.NoError(t, err)
	assert.Equal(t, "HTTP2 201", msg.MessageName)
	assert.Equal(t, decoder.ResultSuccess, msg.Result)
	assert.Equal(t, decoder.DirectionResponse, msg.Direction)

	problem := []byte(`{"cause":"USER_NOT_FOUND","detail":"no such SUPI"}`)
	notFound := responsePayload(t, "404", problem)
	msg, err = d.Decode(notFound, testMeta())
	require.NoError(t, err)
	assert.Equal(t, decoder.ResultFailure, msg.Result)
	assert.Equal(t, 404, msg.CauseCode)
	assert.Equal(t, "USER_NOT_FOUND", msg.CauseText)
	assert.Equal(t, "no such SUPI", msg.Details["problem_detail"])
}

func TestDecodeBodyIdentifiers(t *testing.T) {
	body := []byte(`{"supi":"imsi-001010123456789","pei":"imei-123456789012345","gpsi":"msisdn-15551234567","dnn":"internet"}`)
	payload := requestPayload(t, "POST", "/nsmf-pdusession/v1/sm-contexts", body)

	d := New(testKB(t))
	msg, err := d.Decode(payload, testMeta())
	require.NoError(t, err)

	assert.Equal(t, "imsi-001010123456789", msg.SUPI)
	assert.Equal(t, "001010123456789", msg.IMSI)
	assert.Equal(t, "123456789012345", msg.IMEI)
	assert.Equal(t, "15551234567", msg.MSISDN)
	assert.Equal(t, "internet", msg.DNN)
	assert.Equal(t, decoder.NodeAMF, msg.Source.Type)
	assert.Equal(t, decoder.NodeSMF, msg.Destination.Type)
}

func TestDecodePrefacedConnection(t *testing.T) {
	payload := append([]byte(preface), requestPayload(t, "GET", "/nnrf-disc/v1/nf-instances", nil)...)

	d := New(testKB(t))
	require.True(t, d.CanDecode(payload))
	msg, err := d.Decode(payload, testMeta())
	require.NoError(t, err)
	assert.Equal(t, "Nnrf-DISC Nf Instances", msg.MessageName)
	assert.Equal(t, decoder.NodeNRF, msg.Destination.Type)
}

func TestCanDecodeRejectsForeignPayloads(t *testing.T) {
	d := New(testKB(t))
	assert.False(t, d.CanDecode([]byte(`{"supi":"imsi-001010123456789"}`)))
	assert.False(t, d.CanDecode([]byte{0x48, 32, 0, 8, 0, 0, 0, 1})) // GTPv2
	assert.False(t, d.CanDecode([]byte{0x62, 0x06, 0x48, 0x02}))     // TCAP
}
