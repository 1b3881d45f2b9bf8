// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gtp

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

// GTPv2-C information element types (TS 29.274 §8.1).
const (
	v2IEIMSI       = 1
	v2IECause      = 2
	v2IERecovery   = 3
	v2IEAPN        = 71
	v2IEAMBR       = 72
	v2IEEBI        = 73
	v2IEMEI        = 75
	v2IEMSISDN     = 76
	v2IEPAA        = 79
	v2IERATType    = 82
	v2IEServingNet = 83
	v2IEULI        = 86
	v2IEFTEID      = 87
	v2IEBearerCtx  = 93
)

var v2MessageNames = map[int]string{
	1:   "Echo Request",
	2:   "Echo Response",
	32:  "Create Session Request",
	33:  "Create Session Response",
	34:  "Modify Bearer Request",
	35:  "Modify Bearer Response",
	36:  "Delete Session Request",
	37:  "Delete Session Response",
	95:  "Create Bearer Request",
	96:  "Create Bearer Response",
	97:  "Update Bearer Request",
	98:  "Update Bearer Response",
	99:  "Delete Bearer Request",
	100: "Delete Bearer Response",
	170: "Release Access Bearers Request",
	171: "Release Access Bearers Response",
}

// V2Decoder decodes GTPv2-C.
type V2Decoder struct {
	kb *knowledge.Base
}

// NewV2 returns a GTPv2-C decoder.
func NewV2(kb *knowledge.Base) *V2Decoder {
	return &V2Decoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *V2Decoder) Protocol() decoder.Protocol { return decoder.ProtocolGTPv2 }

// CanDecode claims version-2 payloads whose declared length matches the
// payload.
func (d *V2Decoder) CanDecode(payload []byte) bool {
	if len(payload) < 8 {
		return false
	}
	if payload[0]>>5 != 2 {
		return false
	}
	return int(binary.BigEndian.Uint16(payload[2:4])) == len(payload)-4
}

// Decode implements decoder.Decoder.
func (d *V2Decoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	if len(payload) < 8 {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv2, "payload too short: %d bytes", len(payload))
	}
	flags := payload[0]
	if flags>>5 != 2 {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv2, "unexpected version %d", flags>>5)
	}
	msgType := int(payload[1])
	declared := int(binary.BigEndian.Uint16(payload[2:4]))
	if declared != len(payload)-4 {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv2, "declared length %d != body %d", declared, len(payload)-4)
	}

	msg := decoder.NewMessage(decoder.ProtocolGTPv2, payload, meta)
	msg.MessageType = fmt.Sprintf("GTPv2_%d", msgType)
	msg.Details["message_type"] = msgType
	// Direction follows the message table: TS 29.274 pairs even session
	// requests with odd responses but odd bearer requests with even
	// responses, so parity alone cannot decide it.
	if name, ok := v2MessageNames[msgType]; ok {
		msg.MessageName = name
		if strings.HasSuffix(name, "Request") {
			msg.Direction = decoder.DirectionRequest
		} else {
			msg.Direction = decoder.DirectionResponse
		}
	} else {
		msg.MessageName = fmt.Sprintf("GTPv2 Message %d", msgType)
	}

	offset := 4
	if flags&0x08 != 0 { // T flag: TEID present
		if len(payload) < 12 {
			return nil, decoder.NewDecodeError(decoder.ProtocolGTPv2, "header with TEID overruns payload")
		}
		msg.TEID = binary.BigEndian.Uint32(payload[4:8])
		offset = 8
	}
	if len(payload) < offset+4 {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv2, "truncated sequence number")
	}
	msg.SequenceNum = uint32(payload[offset])<<16 | uint32(payload[offset+1])<<8 | uint32(payload[offset+2])
	msg.Details["sequence_number"] = msg.SequenceNum
	offset += 4

	ies, err := parseV2IEs(payload[offset:])
	if err != nil {
		return nil, decoder.NewDecodeError(decoder.ProtocolGTPv2, "ie parse: %v", err)
	}
	d.extract(msg, ies)
	d.inferNodes(msg, msgType)
	return msg, nil
}

// parseV2IEs walks the information elements as (type, 16-bit length,
// instance, value).
func parseV2IEs(b []byte) ([]ie, error) {
	var out []ie
	for i := 0; i < len(b); {
		if i+4 > len(b) {
			return nil, fmt.Errorf("truncated ie header at offset %d", i)
		}
		typ := int(b[i])
		length := int(binary.BigEndian.Uint16(b[i+1 : i+3]))
		instance := int(b[i+3] & 0x0F)
		start := i + 4
		if start+length > len(b) {
			return nil, fmt.Errorf("ie %d length %d overruns buffer", typ, length)
		}
		out = append(out, ie{typ: typ, instance: instance, data: b[start : start+length]})
		i = start + length
	}
	return out, nil
}

func (d *V2Decoder) extract(msg *decoder.Message, ies []ie) {
	for _, e := range ies {
		switch e.typ {
		case v2IECause:
			if len(e.data) >= 1 {
				resolveCause(d.kb, msg, int(e.data[0]), v2CauseAccepted)
			}
		case v2IEIMSI:
			msg.IMSI = extractBCD(msg, "imsi", e.data)
		case v2IEMSISDN:
			msg.MSISDN = extractBCD(msg, "msisdn", e.data)
		case v2IEMEI:
			msg.IMEI = extractBCD(msg, "mei", e.data)
		case v2IEAPN:
			if apn, err := decoder.DecodeAPN(e.data); err == nil {
				msg.APN = apn
				msg.Details["apn"] = apn
			}
		case v2IEFTEID:
			d.extractFTEID(msg, e)
		case v2IEServingNet:
			if plmn, err := decoder.DecodePLMN(e.data); err == nil {
				msg.PLMN = plmn
				msg.Details["serving_network"] = plmn
			}
		case v2IEULI:
			d.extractULI(msg, e.data)
		case v2IERATType:
			if len(e.data) >= 1 {
				msg.Details["rat_type"] = int(e.data[0])
			}
		case v2IEPAA:
			if len(e.data) >= 5 && e.data[0]&0x07 == 1 {
				msg.Details["pdn_address"] = ipv4(e.data[1:])
			}
		default:
			if v, ok := d.kb.Vendor("GTP", e.typ); ok {
				msg.Vendor = v.Vendor
				msg.Details["vendor_extension"] = v.Extension
			}
		}
	}
}

// extractFTEID reads the fully qualified TEID: flags+interface byte, 32-bit
// TEID, then the IPv4 address when the V4 bit is set.
func (d *V2Decoder) extractFTEID(msg *decoder.Message, e ie) {
	if len(e.data) < 5 {
		return
	}
	teid := binary.BigEndian.Uint32(e.data[1:5])
	if msg.TEID == 0 {
		msg.TEID = teid
	}
	msg.Details["fteid"] = teid
	msg.Details["fteid_interface"] = int(e.data[0] & 0x3F)
	if e.data[0]&0x80 != 0 && len(e.data) >= 9 {
		msg.Details["fteid_ipv4"] = ipv4(e.data[5:9])
	}
}

// extractULI reads the user location: a presence mask then the location
// blocks in mask order. Only TAI and ECGI are decoded.
func (d *V2Decoder) extractULI(msg *decoder.Message, b []byte) {
	if len(b) < 1 {
		return
	}
	mask := b[0]
	i := 1
	skip := map[byte]int{0x01: 7, 0x02: 7, 0x04: 7} // CGI, SAI, RAI
	for _, bit := range []byte{0x01, 0x02, 0x04} {
		if mask&bit != 0 {
			i += skip[bit]
		}
	}
	if mask&0x08 != 0 { // TAI
		if len(b) < i+5 {
			return
		}
		if plmn, err := decoder.DecodePLMN(b[i : i+3]); err == nil && msg.PLMN == "" {
			msg.PLMN = plmn
		}
		msg.Details["tac"] = int(binary.BigEndian.Uint16(b[i+3 : i+5]))
		i += 5
	}
	if mask&0x10 != 0 { // ECGI
		if len(b) < i+7 {
			return
		}
		eci := binary.BigEndian.Uint32(b[i+3:i+7]) & 0x0FFFFFFF
		msg.CellID = fmt.Sprintf("%d", eci)
		msg.Details["ecgi"] = eci
	}
}

// inferNodes: session management runs MME→SGW on S11; the bearer procedures
// are network-initiated and run the other way. Responses reverse.
func (d *V2Decoder) inferNodes(msg *decoder.Message, msgType int) {
	if _, known := v2MessageNames[msgType]; !known || msgType <= 2 {
		return
	}
	src, dst := decoder.NodeMME, decoder.NodeSGW
	if msgType >= 95 && msgType <= 100 {
		src, dst = dst, src
	}
	if msg.Direction == decoder.DirectionResponse {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}
