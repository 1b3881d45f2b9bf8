// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gtp

import (
	"encoding/binary"
	"fmt"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

// GTPv1-C information element types (TS 29.060 §7.7).
const (
	v1IECause       = 1
	v1IEIMSI        = 2
	v1IERecovery    = 14
	v1IETEIDDataI   = 16
	v1IETEIDControl = 17
	v1IEEndUserAddr = 128
	v1IEAPN         = 131
	v1IEGSNAddress  = 133
	v1IEMSISDN      = 134
	v1IEQoSProfile  = 135
)

var v1MessageNames = map[int]string{
	1:  "Echo Request",
	2:  "Echo Response",
	16: "Create PDP Context Request",
	17: "Create PDP Context Response",
	18: "Update PDP Context Request",
	19: "Update PDP Context Response",
	20: "Delete PDP Context Request",
	21: "Delete PDP Context Response",
	26: "Error Indication",
	27: "PDU Notification Request",
	28: "PDU Notification Response",
}

// v1Requests holds the message types that initiate an exchange; their
// responses are the type one above.
var v1Requests = map[int]bool{1: true, 16: true, 18: true, 20: true, 27: true}

// V1Decoder decodes GTPv1-C.
type V1Decoder struct {
	kb *knowledge.Base
}

// NewV1 returns a GTPv1-C decoder.
func NewV1(kb *knowledge.Base) *V1Decoder {
	return &V1Decoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *V1Decoder) Protocol() decoder.Protocol { return decoder.ProtocolGTPv1 }

// CanDecode claims version-1 payloads with the PT bit set (GTP proper, not
// GTP') whose declared length matches the payload.
func (d *V1Decoder) CanDecode(payload []byte) bool {
	if len(payload) < 8 {
		return false
	}
	if payload[0]>>5 != 1 || payload[0]&0x10 == 0 {
		return false
	}
	return int(binary.BigEndian.Uint16(payload[2:4])) == len(payload)-8
}

// Decode implements decoder.Decoder.
func (d *V1Decoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	if len(payload) < 8 {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv1, "payload too short: %d bytes", len(payload))
	}
	flags := payload[0]
	if flags>>5 != 1 {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv1, "unexpected version %d", flags>>5)
	}
	msgType := int(payload[1])
	declared := int(binary.BigEndian.Uint16(payload[2:4]))
	if declared != len(payload)-8 {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv1, "declared length %d != body %d", declared, len(payload)-8)
	}

	msg := decoder.NewMessage(decoder.ProtocolGTPv1, payload, meta)
	msg.TEID = binary.BigEndian.Uint32(payload[4:8])
	msg.MessageType = fmt.Sprintf("GTPv1_%d", msgType)
	msg.Details["message_type"] = msgType
	if name, ok := v1MessageNames[msgType]; ok {
		msg.MessageName = name
	} else {
		msg.MessageName = fmt.Sprintf("GTPv1 Message %d", msgType)
	}
	if v1Requests[msgType] {
		msg.Direction = decoder.DirectionRequest
	} else if _, known := v1MessageNames[msgType]; known {
		msg.Direction = decoder.DirectionResponse
	}

	body := payload[8:]
	// The optional fields (sequence, N-PDU, extension header type) are present
	// as a block when any of the E, S or PN flags is set.
	if flags&0x07 != 0 {
		if len(body) < 4 {
			return nil, decoder.NewDecodeError(decoder.ProtocolGTPv1, "optional header overruns payload")
		}
		if flags&0x02 != 0 {
			msg.SequenceNum = uint32(binary.BigEndian.Uint16(body[0:2]))
			msg.Details["sequence_number"] = msg.SequenceNum
		}
		body = body[4:]
	}

	ies, err := parseV1IEs(body)
	if err != nil {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv1, "ie parse: %v", err)
	}
	d.extract(msg, ies)
	d.inferNodes(msg, msgType)
	return msg, nil
}

// parseV1IEs walks the information elements as (type, 16-bit length, value).
func parseV1IEs(b []byte) ([]ie, error) {
	var out []ie
	for i := 0; i < len(b); {
		if i+3 > len(b) {
			return nil, fmt.Errorf("truncated ie header at offset %d", i)
		}
		typ := int(b[i])
		length := int(binary.BigEndian.Uint16(b[i+1 : i+3]))
		start := i + 3
		if start+length > len(b) {
			return nil, fmt.Errorf("ie %d length %d overruns buffer", typ, length)
		}
		out = append(out, ie{typ: typ, data: b[start : start+length]})
		i = start + length
	}
	return out, nil
}

func (d *V1Decoder) extract(msg *decoder.Message, ies []ie) {
	for _, e := range ies {
		switch e.typ {
		case v1IECause:
			if len(e.data) >= 1 {
				resolveCause(d.kb, msg, int(e.data[0]), v1CauseAccepted)
			}
		case v1IEIMSI:
			msg.IMSI = extractBCD(msg, "imsi", e.data)
		case v1IEMSISDN:
			// First octet carries the numbering plan indicator.
			if len(e.data) > 1 {
				msg.MSISDN = extractBCD(msg, "msisdn", e.data[1:])
			}
		case v1IEAPN:
			if apn, err := decoder.DecodeAPN(e.data); err == nil {
				msg.APN = apn
				msg.Details["apn"] = apn
			}
		case v1IETEIDDataI:
			if len(e.data) >= 4 {
				msg.Details["teid_data"] = binary.BigEndian.Uint32(e.data[0:4])
			}
		case v1IETEIDControl:
			if len(e.data) >= 4 {
				teid := binary.BigEndian.Uint32(e.data[0:4])
				msg.Details["teid_control"] = teid
				if msg.TEID == 0 {
					msg.TEID = teid
				}
			}
		case v1IEGSNAddress:
			if ip := ipv4(e.data); ip != "" {
				msg.Details["gsn_address"] = ip
			}
		default:
			if v, ok := d.kb.Vendor("GTP", e.typ); ok {
				msg.Vendor = v.Vendor
				msg.Details["vendor_extension"] = v.Extension
			}
		}
	}
}

// inferNodes: the PDP context procedures run SGSN→GGSN; responses reverse.
func (d *V1Decoder) inferNodes(msg *decoder.Message, msgType int) {
	if msgType < 16 || msgType > 21 {
		return
	}
	src, dst := decoder.NodeSGSN, decoder.NodeGGSN
	if msg.Direction == decoder.DirectionResponse {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}
