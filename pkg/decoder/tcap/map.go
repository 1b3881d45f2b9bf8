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

// mapOperationNames covers the MAP operations in the category ranges the
// monitor classifies (TS 29.002).
var mapOperationNames = map[int]string{
	2:  "UpdateLocation",
	3:  "CancelLocation",
	4:  "ProvideRoamingNumber",
	5:  "NoteSubscriberDataModified",
	6:  "ResumeCallHandling",
	7:  "InsertSubscriberData",
	8:  "DeleteSubscriberData",
	10: "RegisterSS",
	11: "EraseSS",
	12: "ActivateSS",
	13: "DeactivateSS",
	14: "InterrogateSS",
	17: "RegisterPassword",
	18: "GetPassword",
	19: "ProcessUnstructuredSS",
	20: "ReleaseResources",
	22: "SendRoutingInfo",
	23: "UpdateGprsLocation",
	24: "SendRoutingInfoForGprs",
	25: "FailureReport",
	26: "NoteMsPresentForGprs",
	29: "SendEndSignal",
	44: "MtForwardSM",
	45: "SendRoutingInfoForSM",
	46: "MoForwardSM",
	54: "BeginSubscriberActivity",
	55: "SendIdentification",
	56: "SendAuthenticationInfo",
	57: "RestoreData",
	58: "SendIMSI",
	59: "ProcessAccessSignalling",
}

// mapCategory classifies a MAP operation code per the TS 29.002 grouping the
// node inference uses.
func mapCategory(op int) string {
	switch {
	case op >= 2 && op <= 7:
		return "location"
	case op >= 8 && op <= 19:
		return "supplementary_services"
	case op >= 20 && op <= 30:
		return "subscriber_management"
	case op >= 44 && op <= 46:
		return "sms"
	case op >= 54 && op <= 59:
		return "roaming"
	}
	return "other"
}

func mapOperationKnown(op int) bool {
	_, ok := mapOperationNames[op]
	return ok
}

// MAPDecoder decodes GSM MAP over TCAP.
type MAPDecoder struct {
	kb *knowledge.Base
}

// NewMAPDecoder returns a MAP decoder resolving error names through kb.
func NewMAPDecoder(kb *knowledge.Base) *MAPDecoder {
	return &MAPDecoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *MAPDecoder) Protocol() decoder.Protocol { return decoder.ProtocolMAP }

// CanDecode claims TCAP envelopes whose operation is in the MAP tables, and
// component-less or error-only envelopes (ends, aborts), which carry no
// operation to discriminate on. MAP registers ahead of CAP and INAP, so those
// fall here first.
func (d *MAPDecoder) CanDecode(payload []byte) bool {
	if !isTCAP(payload) {
		return false
	}
	op, ok := envelopeOpCode(payload)
	if !ok {
		return true
	}
	return mapOperationKnown(op)
}

// Decode implements decoder.Decoder.
func (d *MAPDecoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	env, err := decodeEnvelope(decoder.ProtocolMAP, payload)
	if err != nil {
		return nil, err
	}
	msg := decoder.NewMessage(decoder.ProtocolMAP, payload, meta)
	fill(msg, env, d.kb)

	op, hasOp := -1, false
	if env.comp != nil && env.comp.hasOp {
		op, hasOp = env.comp.opCode, true
	}
	if hasOp {
		msg.MessageName = mapOperationName(op)
		msg.Details["operation"] = msg.MessageName
		msg.Details["category"] = mapCategory(op)
		d.inferNodes(msg, mapCategory(op))
	} else {
		msg.MessageName = "MAP " + env.tcapType
	}
	return msg, nil
}

func mapOperationName(op int) string {
	if name, ok := mapOperationNames[op]; ok {
		return name
	}
	return fmt.Sprintf("MAP_Operation_%d", op)
}

// inferNodes derives endpoint roles from the operation category; responses
// reverse the request direction.
func (d *MAPDecoder) inferNodes(msg *decoder.Message, category string) {
	var src, dst decoder.NodeType
	switch category {
	case "location":
		src, dst = decoder.NodeVLR, decoder.NodeHLR
	case "supplementary_services":
		src, dst = decoder.NodeMSC, decoder.NodeHLR
	case "subscriber_management":
		src, dst = decoder.NodeHLR, decoder.NodeVLR
	case "sms":
		src, dst = decoder.NodeSMSC, decoder.NodeMSC
	case "roaming":
		src, dst = decoder.NodeType("MSC-VPLMN"), decoder.NodeType("HLR-HPLMN")
	default:
		return
	}
	if msg.Direction == decoder.DirectionResponse {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}
