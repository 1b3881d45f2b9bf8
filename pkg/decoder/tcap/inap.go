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

var inapOperationNames = map[int]string{
	0:  "InitialDP",
	1:  "OriginationAttemptAuthorized",
	2:  "CollectedInformation",
	3:  "AnalysedInformation",
	4:  "RouteSelectFailure",
	5:  "OCalledPartyBusy",
	6:  "ONoAnswer",
	7:  "OAnswer",
	8:  "ODisconnect",
	9:  "TermAttemptAuthorized",
	10: "TBusy",
	11: "TNoAnswer",
	12: "TAnswer",
	13: "TDisconnect",
	16: "AssistRequestInstructions",
	17: "EstablishTemporaryConnection",
	18: "DisconnectForwardConnection",
	19: "ConnectToResource",
	20: "Connect",
	22: "ReleaseCall",
	23: "RequestReportBCSMEvent",
	24: "EventReportBCSM",
	26: "CollectInformation",
	27: "AnalyseInformation",
	28: "SelectRoute",
	29: "SelectFacility",
	30: "Continue",
	31: "InitiateCallAttempt",
	32: "ResetTimer",
	33: "FurnishChargingInformation",
	34: "ApplyCharging",
	35: "ApplyChargingReport",
}

// inapCapabilitySet classifies an INAP operation by the capability set that
// introduced it.
func inapCapabilitySet(op int) string {
	switch {
	case op <= 17:
		return "CS-1"
	case op <= 26:
		return "CS-2"
	default:
		return "CS-3"
	}
}

// INAPDecoder decodes Intelligent Network Application Part over TCAP. It is
// the fallback for TCAP envelopes neither MAP nor CAP claimed.
type INAPDecoder struct {
	kb *knowledge.Base
}

// NewINAPDecoder returns an INAP decoder resolving error names through kb.
func NewINAPDecoder(kb *knowledge.Base) *INAPDecoder {
	return &INAPDecoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *INAPDecoder) Protocol() decoder.Protocol { return decoder.ProtocolINAP }

// CanDecode claims any TCAP envelope.
func (d *INAPDecoder) CanDecode(payload []byte) bool {
	return isTCAP(payload)
}

// Decode implements decoder.Decoder.
func (d *INAPDecoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	env, err := decodeEnvelope(decoder.ProtocolINAP, payload)
	if err != nil {
		return nil, err
	}
	msg := decoder.NewMessage(decoder.ProtocolINAP, payload, meta)
	fill(msg, env, d.kb)

	if env.comp != nil && env.comp.hasOp {
		op := env.comp.opCode
		if name, ok := inapOperationNames[op]; ok {
			msg.MessageName = name
		} else {
			msg.MessageName = fmt.Sprintf("INAP_Operation_%d", op)
		}
		msg.Details["operation"] = msg.MessageName
		msg.Details["capability_set"] = inapCapabilitySet(op)
	} else {
		msg.MessageName = "INAP " + env.tcapType
	}

	src, dst := decoder.NodeSSP, decoder.NodeSCP
	if msg.Direction == decoder.DirectionResponse {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
	return msg, nil
}
