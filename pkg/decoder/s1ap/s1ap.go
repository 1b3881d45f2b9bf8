// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package s1ap decodes the 4G S1 Application Protocol (TS 36.413) between
// eNB and MME, including the handoff of embedded NAS-PDUs to the nas
// decoder.
package s1ap

import (
	"fmt"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/decoder/aper"
	"github.com/DataDog/sigmon/pkg/decoder/nas"
	"github.com/DataDog/sigmon/pkg/knowledge"
	"github.com/DataDog/sigmon/pkg/util/log"
)

// Protocol IE ids (TS 36.413 §9.2).
const (
	ieMMEUES1APID = 0
	ieCause       = 2
	ieENBUES1APID = 8
	ieNASPDU      = 26
	ieGUMMEI      = 75
	ieEUTRANCGI   = 100
	ieTAI         = 67
)

var procedureNames = map[int]string{
	0:  "HandoverPreparation",
	1:  "HandoverResourceAllocation",
	2:  "HandoverNotification",
	3:  "PathSwitchRequest",
	4:  "HandoverCancel",
	5:  "E-RABSetup",
	6:  "E-RABModify",
	7:  "E-RABRelease",
	8:  "E-RABReleaseIndication",
	9:  "InitialContextSetup",
	10: "Paging",
	11: "DownlinkNASTransport",
	12: "InitialUEMessage",
	13: "UplinkNASTransport",
	14: "Reset",
	15: "ErrorIndication",
	16: "NASNonDeliveryIndication",
	17: "S1Setup",
	18: "UEContextReleaseRequest",
	21: "UEContextModification",
	22: "UECapabilityInfoIndication",
	23: "UEContextRelease",
	24: "eNBStatusTransfer",
	25: "MMEStatusTransfer",
	29: "ENBConfigurationUpdate",
	30: "MMEConfigurationUpdate",
	33: "LocationReport",
	34: "OverloadStart",
	35: "OverloadStop",
}

// mmeOriginated lists the procedures the MME initiates.
var mmeOriginated = map[int]bool{
	1: true, 5: true, 6: true, 7: true, 9: true, 10: true, 11: true,
	21: true, 23: true, 25: true, 30: true, 34: true, 35: true,
}

// Decoder decodes S1AP payloads.
type Decoder struct {
	kb *knowledge.Base
}

// New returns an S1AP decoder.
func New(kb *knowledge.Base) *Decoder {
	return &Decoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *Decoder) Protocol() decoder.Protocol { return decoder.ProtocolS1AP }

// CanDecode claims PDUs with a valid APER envelope. S1AP registers after
// NGAP, so everything NGAP recognized by its leading IE is already gone.
func (d *Decoder) CanDecode(payload []byte) bool {
	return aper.ValidHeader(payload)
}

// Decode implements decoder.Decoder.
func (d *Decoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	pdu, err := aper.Parse(payload)
	if err != nil {
		return nil, decoder.NewDecodeError(decoder.ProtocolS1AP, "%v", err)
	}
	msg := decoder.NewMessage(decoder.ProtocolS1AP, payload, meta)
	msg.Details["procedure_code"] = pdu.ProcedureCode

	switch pdu.Choice {
	case aper.ChoiceInitiating:
		msg.MessageType = "S1AP_InitiatingMessage"
		msg.Direction = decoder.DirectionRequest
	case aper.ChoiceSuccessful:
		msg.MessageType = "S1AP_SuccessfulOutcome"
		msg.Direction = decoder.DirectionResponse
		msg.Result = decoder.ResultSuccess
	case aper.ChoiceUnsuccessful:
		msg.MessageType = "S1AP_UnsuccessfulOutcome"
		msg.Direction = decoder.DirectionResponse
		msg.Result = decoder.ResultFailure
	}
	msg.MessageName = procedureName(pdu.ProcedureCode)

	for _, ie := range pdu.IEs {
		switch ie.ID {
		case ieMMEUES1APID:
			msg.MMEUEID = aper.Uint(ie.Value)
			msg.Details["mme_ue_s1ap_id"] = msg.MMEUEID
		case ieENBUES1APID:
			msg.ENBUEID = aper.Uint(ie.Value)
			msg.Details["enb_ue_s1ap_id"] = msg.ENBUEID
		case ieGUMMEI:
			if len(ie.Value) >= 3 {
				if plmn, err := decoder.DecodePLMN(ie.Value[0:3]); err == nil {
					msg.PLMN = plmn
					msg.Details["gummei_plmn"] = plmn
				}
			}
		case ieCause:
			if len(ie.Value) >= 2 {
				msg.CauseCode = int(ie.Value[1])
				msg.Details["cause_group"] = int(ie.Value[0] >> 5)
				msg.Details["cause_value"] = msg.CauseCode
				if entry, ok := d.kb.ErrorCode(string(decoder.ProtocolS1AP), msg.CauseCode); ok {
					msg.CauseText = entry.Name
				}
			}
		case ieEUTRANCGI:
			if len(ie.Value) >= 7 {
				if plmn, err := decoder.DecodePLMN(ie.Value[0:3]); err == nil && msg.PLMN == "" {
					msg.PLMN = plmn
				}
				eci := aper.Uint(ie.Value[3:7]) & 0x0FFFFFFF
				msg.CellID = fmt.Sprintf("%d", eci)
				msg.Details["eutran_cgi"] = eci
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
	return fmt.Sprintf("S1AP_Procedure_%d", code)
}

// handoffNAS decodes the embedded NAS-PDU and folds its identifiers into the
// transport message. A malformed inner PDU does not fail the S1AP decode.
func (d *Decoder) handoffNAS(msg *decoder.Message, pdu []byte) {
	info, err := nas.Extract(pdu)
	if err != nil {
		log.Debugf("s1ap: embedded NAS-PDU not decodable: %v", err)
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
	if info.Reject {
		msg.Details["nas_cause"] = info.CauseCode
	}
}

func (d *Decoder) inferNodes(msg *decoder.Message, code int) {
	if _, known := procedureNames[code]; !known {
		return
	}
	src, dst := decoder.NodeENB, decoder.NodeMME
	if mmeOriginated[code] {
		src, dst = dst, src
	}
	if msg.Direction == decoder.DirectionResponse {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}
