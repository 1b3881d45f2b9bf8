// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package tcap

import (
	"fmt"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

// capOperationNames covers the CAMEL phase 1-4 operations (TS 29.078). The
// code space overlaps MAP's; dispatch order resolves the ambiguity in MAP's
// favor for the shared codes.
var capOperationNames = map[int]string{
	0:  "InitialDP",
	16: "AssistRequestInstructions",
	17: "EstablishTemporaryConnection",
	18: "DisconnectForwardConnection",
	19: "ConnectToResource",
	31: "Continue",
	32: "InitiateCallAttempt",
	33: "ResetTimer",
	34: "FurnishChargingInformation",
	35: "ApplyCharging",
	36: "ApplyChargingReport",
	41: "ReleaseCall",
	47: "ActivityTest",
	48: "RequestReportBCSMEvent",
	49: "EventReportBCSM",
	53: "Connect",
	60: "SendChargingInformation",
	75: "ContinueWithArgument",
	88: "InitialDPSMS",
}

// CAPDecoder decodes CAMEL Application Part over TCAP.
type CAPDecoder struct {
	kb *knowledge.Base
}

// NewCAPDecoder returns a CAP decoder resolving error names through kb.
func NewCAPDecoder(kb *knowledge.Base) *CAPDecoder {
	return &CAPDecoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *CAPDecoder) Protocol() decoder.Protocol { return decoder.ProtocolCAP }

// CanDecode claims TCAP envelopes whose operation is in the CAP table. MAP
// already took the envelopes without an operation code.
func (d *CAPDecoder) CanDecode(payload []byte) bool {
	if !isTCAP(payload) {
		return false
	}
	op, ok := envelopeOpCode(payload)
	if !ok {
		return false
	}
	_, known := capOperationNames[op]
	return known
}

// Decode implements decoder.Decoder.
func (d *CAPDecoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	env, err := decodeEnvelope(decoder.ProtocolCAP, payload)
	if err != nil {
		return nil, err
	}
	msg := decoder.NewMessage(decoder.ProtocolCAP, payload, meta)
	fill(msg, env, d.kb)

	if env.comp != nil && env.comp.hasOp {
		op := env.comp.opCode
		if name, ok := capOperationNames[op]; ok {
			msg.MessageName = name
		} else {
			msg.MessageName = fmt.Sprintf("CAP_Operation_%d", op)
		}
		msg.Details["operation"] = msg.MessageName
	} else {
		msg.MessageName = "CAP " + env.tcapType
	}

	// CAMEL dialogues run between the service switching and control points.
	src, dst := decoder.NodeSSP, decoder.NodeSCP
	if msg.Direction == decoder.DirectionResponse {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
	return msg, nil
}
