// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ngap decodes the 5G NG Application Protocol (TS 38.413) between
// gNB and AMF, including the handoff of embedded NAS-PDUs to the nas
// decoder.
package ngap

import (
	"fmt"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/decoder/aper"
	"github.com/DataDog/sigmon/pkg/decoder/nas"
	"github.com/DataDog/sigmon/pkg/knowledge"
	"github.com/DataDog/sigmon/pkg/util/log"
)

// Protocol IE ids (TS 38.413 §9.4).
const (
	ieAMFUENGAPID = 10
	ieCause       = 15
	ieGUAMI       = 28
	ieNASPDU      = 38
	ieRANUENGAPID = 85
)

var procedureNames = map[int]string{
	0:  "AMFConfigurationUpdate",
	1:  "AMFStatusIndication",
	4:  "DownlinkNASTransport",
	9:  "ErrorIndication",
	10: "HandoverCancel",
	11: "HandoverNotification",
	12: "HandoverPreparation",
	13: "HandoverResourceAllocation",
	14: "InitialContextSetup",
	15: "InitialUEMessage",
	18: "LocationReport",
	19: "NASNonDeliveryIndication",
	20: "NGReset",
	21: "NGSetup",
	24: "Paging",
	25: "PathSwitchRequest",
	26: "PDUSessionResourceModify",
	28: "PDUSessionResourceRelease",
	29: "PDUSessionResourceSetup",
	35: "RANConfigurationUpdate",
	40: "UEContextModification",
	41: "UEContextRelease",
	42: "UEContextReleaseRequest",
	46: "UplinkNASTransport",
}

// knownFirstIEs discriminates NGAP from S1AP payloads, which share the wire
// shape: the leading IE of every NGAP PDU the monitor cares about is one of
// these. NGAP registers before S1AP, so an unrecognized leading IE falls
// through to S1AP.
var knownFirstIEs = map[int]bool{
	ieAMFUENGAPID: true,
	ieRANUENGAPID: true,
	ieNASPDU:      true,
	ieGUAMI:       true,
	ieCause:       true,
	21:            true, // GlobalRANNodeID (NGSetup)
	27:            true, // GlobalRANNodeID in setup response paths
}

// amfOriginated lists the procedures the AMF initiates; everything else
// known starts at the gNB.
var amfOriginated = map[int]bool{
	0: true, 4: true, 13: true, 14: true, 20: true, 24: true,
	26: true, 28: true, 29: true, 40: true, 41: true,
}

// Decoder decodes NGAP payloads.
type Decoder struct {
	kb *knowledge.Base
}

// New returns an NGAP decoder.
func New(kb *knowledge.Base) *Decoder {
	return &Decoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *Decoder) Protocol() decoder.Protocol { return decoder.ProtocolNGAP }

// CanDecode claims PDUs with a valid header whose leading IE id is in the
// NGAP tables.
func (d *Decoder) CanDecode(payload []byte) bool {
	id, ok := aper.FirstIEID(payload)
	return ok && knownFirstIEs[id]
}

// Decode implements decoder.Decoder.
func (d *Decoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	pdu, err := aper.Parse(payload)
	if err != nil {
		return nil, decoder.NewDecodeError(decoder.ProtocolNGAP, "%v", err)
	}
	msg := decoder.NewMessage(decoder.ProtocolNGAP, payload, meta)
	msg.Details["procedure_code"] = pdu.ProcedureCode

	switch pdu.Choice {
	case aper.ChoiceInitiating:
		msg.MessageType = "NGAP_InitiatingMessage"
		msg.Direction = decoder.DirectionRequest
	case aper.ChoiceSuccessful:
		msg.MessageType = "NGAP_SuccessfulOutcome"
		msg.Direction = decoder.DirectionResponse
		msg.Result = decoder.ResultSuccess
	case aper.ChoiceUnsuccessful:
		msg.MessageType = "NGAP_UnsuccessfulOutcome"
		msg.Direction = decoder.DirectionResponse
		msg.Result = decoder.ResultFailure
	}
	msg.MessageName = procedureName(pdu.ProcedureCode)

	for _, ie := range pdu.IEs {
		switch ie.ID {
		case ieAMFUENGAPID:
			msg.AMFUEID = aper.Uint(ie.Value)
			msg.Details["amf_ue_ngap_id"] = msg.AMFUEID
		case ieRANUENGAPID:
			msg.RANUEID = aper.Uint(ie.Value)
			msg.Details["ran_ue_ngap_id"] = msg.RANUEID
		case ieGUAMI:
			if len(ie.Value) >= 3 {
				if plmn, err := decoder.DecodePLMN(ie.Value[0:3]); err == nil {
					msg.PLMN = plmn
					msg.Details["guami_plmn"] = plmn
				}
			}
		case ieCause:
			if len(ie.Value) >= 2 {
				msg.CauseCode = int(ie.Value[1])
				msg.Details["cause_group"] = int(ie.Value[0] >> 5)
				msg.Details["cause_value"] = msg.CauseCode
				if entry, ok := d.kb.ErrorCode(string(decoder.ProtocolNGAP), msg.CauseCode); ok {
					msg.CauseText = entry.Name
				}
			}
		case ieNASPDU:
			d.handoffNAS(msg, ie.Value)
		}
	}

	d.inferNodes(msg, pdu.ProcedureCode)
	return msg, nil
}

func procedureName(code int) string {
	if name, ok := procedureNames[code]; ok {
		return name
	}
	return fmt.Sprintf("NGAP_Procedure_%d", code)
}

// handoffNAS decodes the embedded NAS-PDU and folds its identifiers into the
// transport message. A malformed inner PDU does not fail the NGAP decode.
func (d *Decoder) handoffNAS(msg *decoder.Message, pdu []byte) {
	info, err := nas.Extract(pdu)
	if err != nil {
		log.Debugf("ngap: embedded NAS-PDU not decodable: %v", err)
		return
	}
	msg.Details["nas_message"] = info.MessageName
	if info.Ciphered {
		msg.Details["nas_ciphered"] = true
		return
	}
	if info.IMSI != "" {
		msg.IMSI = info.IMSI
	}
	if info.SUPI != "" {
		msg.SUPI = info.SUPI
	}
	if info.Reject {
		msg.Details["nas_cause"] = info.CauseCode
	}
}

func (d *Decoder) inferNodes(msg *decoder.Message, code int) {
	if _, known := procedureNames[code]; !known {
		return
	}
	src, dst := decoder.NodeGNB, decoder.NodeAMF
	if amfOriginated[code] {
		src, dst = dst, src
	}
	if msg.Direction == decoder.DirectionResponse {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}
