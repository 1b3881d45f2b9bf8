// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ngap

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

// registrationRequestNAS renders a plain 5GMM Registration Request carrying a
// null-scheme SUCI for the given IMSI.
func registrationRequestNAS(t *testing.T, mcc, mnc, msin string) []byte {
	t.Helper()
	plmn, err := decoder.EncodePLMN(mcc, mnc)
	require.NoError(t, err)
	msinBCD, err := decoder.EncodeBCD(msin)
	require.NoError(t, err)
	identity := append([]byte{0x01}, plmn...)
	identity = append(identity, 0xF0, 0xFF, 0x00, 0x00)
	identity = append(identity, msinBCD...)
	out := []byte{0x7E, 0x00, 0x41, 0x09, byte(len(identity) >> 8), byte(len(identity))}
	return append(out, identity...)
}

func TestDecodeInitialUEMessage(t *testing.T) {
	payload := buildPDU(aper.ChoiceInitiating, 15,
		buildIE(ieRANUENGAPID, []byte{0x00, 0x07}),
		buildIE(ieNASPDU, registrationRequestNAS(t, "001", "01", "0123456789")),
	)

	d := New(testKB(t))
	require.True(t, d.CanDecode(payload))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)

	assert.Equal(t, decoder.ProtocolNGAP, msg.Protocol)
	assert.Equal(t, "InitialUEMessage", msg.MessageName)
	assert.Equal(t, decoder.DirectionRequest, msg.Direction)
	assert.Equal(t, uint64(7), msg.RANUEID)
	assert.Equal(t, "imsi-001010123456789", msg.SUPI, "identity folded in from the NAS-PDU")
	assert.Equal(t, "001010123456789", msg.IMSI)
	assert.Equal(t, "Registration Request", msg.Details["nas_message"])
	assert.Equal(t, decoder.NodeGNB, msg.Source.Type)
	assert.Equal(t, decoder.NodeAMF, msg.Destination.Type)
}

func TestDecodeInitialContextSetupOutcomes(t *testing.T) {
	d := New(testKB(t))

	success := buildPDU(aper.ChoiceSuccessful, 14,
		buildIE(ieAMFUENGAPID, []byte{0x00, 0x01}),
		buildIE(ieRANUENGAPID, []byte{0x00, 0x07}),
	)
	msg, err := d.Decode(success, nil)
	require.NoError(t, err)
	assert.Equal(t, "InitialContextSetup", msg.MessageName)
	assert.Equal(t, decoder.ResultSuccess, msg.Result)
	assert.Equal(t, uint64(1), msg.AMFUEID)
	assert.Equal(t, decoder.NodeGNB, msg.Source.Type, "the gNB answers AMF-initiated setup")

	failure := buildPDU(aper.ChoiceUnsuccessful, 14,
		buildIE(ieAMFUENGAPID, []byte{0x00, 0x01}),
		buildIE(ieCause, []byte{0x40, 10}),
	)
	msg, err = d.Decode(failure, nil)
	require.NoError(t, err)
	assert.Equal(t, decoder.ResultFailure, msg.Result)
	assert.Equal(t, 10, msg.CauseCode)
	assert.Equal(t, 2, msg.Details["cause_group"])
}

func TestDecodeGUAMIPLMN(t *testing.T) {
	plmn, err := decoder.EncodePLMN("001", "01")
	require.NoError(t, err)
	payload := buildPDU(aper.ChoiceInitiating, 24,
		buildIE(ieGUAMI, append(plmn, 0x00, 0x01, 0x02)),
	)

	d := New(testKB(t))
	msg, err := d.Decode(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, "Paging", msg.MessageName)
	assert.Equal(t, "00101", msg.PLMN)
	assert.Equal(t, decoder.NodeAMF, msg.Source.Type, "paging starts at the AMF")
}

func TestCanDecodeRequiresKnownLeadingIE(t *testing.T) {
	d := New(testKB(t))

	ngap := buildPDU(aper.ChoiceInitiating, 15, buildIE(ieRANUENGAPID, []byte{0x07}))
	assert.True(t, d.CanDecode(ngap))

	// An S1AP InitialUEMessage leads with ENB-UE-S1AP-ID (8), which is not
	// in the NGAP tables.
	s1ap := buildPDU(aper.ChoiceInitiating, 12, buildIE(8, []byte{0x5A}))
	assert.False(t, d.CanDecode(s1ap))

	assert.False(t, d.CanDecode([]byte{0x62, 0x06, 0x48, 0x02, 0x12, 0x34}))
}
