// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package s1ap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/decoder/aper"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

func testKB(t *testing.T) *knowledge.Base {
	t.Helper()
	kb, err := knowledge.Load("")
	require.NoError(t, err)
	return kb
}

// buildIE renders one protocol-IE entry: 16-bit id, criticality, short
// length determinant.
func buildIE(id int, value []byte) []byte {
	out := []byte{byte(id >> 8), byte(id), 0x40, byte(len(value))}
	return append(out, value...)
}

func buildPDU(choice byte, procCode int, ies ...[]byte) []byte {
	value := []byte{0x00, byte(len(ies) >> 8), byte(len(ies))}
	for _, ie := range ies {
		value = append(value, ie...)
	}
	out := []byte{choice, byte(procCode), 0x40, byte(len(value))}
	return append(out, value...)
}

// attachRequestNAS renders a plain EMM Attach Request carrying the IMSI as
// the EPS mobile identity.
func attachRequestNAS(t *testing.T, imsi string) []byte {
	t.Helper()
	require.Len(t, imsi, 15)
	rest, err := decoder.EncodeBCD(imsi[1:])
	require.NoError(t, err)
	id := append([]byte{(imsi[0]-'0')<<4 | 0x09}, rest...)
	out := []byte{0x07, 0x41, 0x71, byte(len(id))}
	return append(out, id...)
}

func TestDecodeInitialUEMessage(t *testing.T) {
	plmn, err := decoder.EncodePLMN("001", "01")
	require.NoError(t, err)
	cgi := append(plmn, 0x00, 0x12, 0x34, 0x56)
	payload := buildPDU(aper.ChoiceInitiating, 12,
		buildIE(ieENBUES1APID, []byte{0x00, 0x5A}),
		buildIE(ieNASPDU, attachRequestNAS(t, "001010123456789")),
		buildIE(ieEUTRANCGI, cgi),
	)

	d := New(testKB(t))
	require.True(t, d.CanDecode(payload))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)

	assert.Equal(t, decoder.ProtocolS1AP, msg.Protocol)
	assert.Equal(t, "InitialUEMessage", msg.MessageName)
	assert.Equal(t, decoder.DirectionRequest, msg.Direction)
	assert.Equal(t, uint64(0x5A), msg.ENBUEID)
	assert.Equal(t, "001010123456789", msg.IMSI, "identity folded in from the NAS-PDU")
	assert.Equal(t, "Attach Request", msg.Details["nas_message"])
	assert.Equal(t, "00101", msg.PLMN)
	assert.Equal(t, "1193046", msg.CellID)
	assert.Equal(t, decoder.NodeENB, msg.Source.Type)
	assert.Equal(t, decoder.NodeMME, msg.Destination.Type)
}

func TestDecodeInitialContextSetupOutcomes(t *testing.T) {
	d := New(testKB(t))

	success := buildPDU(aper.ChoiceSuccessful, 9,
		buildIE(ieMMEUES1APID, []byte{0x00, 0x01}),
		buildIE(ieENBUES1APID, []byte{0x00, 0x5A}),
	)
	msg, err := d.Decode(success, nil)
	require.NoError(t, err)
	assert.Equal(t, "InitialContextSetup", msg.MessageName)
	assert.Equal(t, decoder.ResultSuccess, msg.Result)
	assert.Equal(t, uint64(1), msg.MMEUEID)
	assert.Equal(t, decoder.NodeENB, msg.Source.Type, "the eNB answers MME-initiated setup")

	failure := buildPDU(aper.ChoiceUnsuccessful, 9,
		buildIE(ieMMEUES1APID, []byte{0x00, 0x01}),
		buildIE(ieCause, []byte{0x40, 21}),
	)
	msg, err = d.Decode(failure, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.ResultFailure, msg.Result)
	assert.Equal(t, 21, msg.CauseCode)
	assert.Equal(t, 2, msg.Details["cause_group"])
}

func TestDecodeGUMMEIAndReject(t *testing.T) {
	plmn, err := decoder.EncodePLMN("001", "01")
	require.NoError(t, err)
	// Attach Reject, cause 11, wrapped in a DownlinkNASTransport.
	payload := buildPDU(aper.ChoiceInitiating, 11,
		buildIE(ieGUMMEI, append(plmn, 0x00, 0x01, 0x02)),
		buildIE(ieNASPDU, []byte{0x07, 0x44, 11}),
	)

	d := New(testKB(t))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, "DownlinkNASTransport", msg.MessageName)
	assert.Equal(t, "00101", msg.PLMN)
	assert.Equal(t, "Attach Reject", msg.Details["nas_message"])
	assert.Equal(t, 11, msg.Details["nas_cause"])
	assert.Equal(t, decoder.NodeMME, msg.Source.Type, "downlink transport starts at the MME")
}

func TestDecodeUnknownProcedureLeavesNodesUnset(t *testing.T) {
	payload := buildPDU(aper.ChoiceInitiating, 60,
		buildIE(ieENBUES1APID, []byte{0x01}),
	)

	d := New(testKB(t))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, "S1AP_Procedure_60", msg.MessageName)
	assert.Equal(t, decoder.NodeUnknown, msg.Source.Type)
}

func TestCanDecodeRejectsForeignPayloads(t *testing.T) {
	d := New(testKB(t))
	assert.False(t, d.CanDecode([]byte{0x62, 0x06, 0x48, 0x02, 0x12, 0x34})) // TCAP Begin
	assert.False(t, d.CanDecode([]byte{0x48, 32, 0, 8, 0, 0, 0, 1}))         // GTPv2
	assert.True(t, d.CanDecode(buildPDU(aper.ChoiceInitiating, 12, buildIE(ieENBUES1APID, []byte{0x01}))))
}
