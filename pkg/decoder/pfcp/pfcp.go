// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package pfcp decodes the Packet Forwarding Control Protocol (TS 29.244)
// spoken between the SMF and UPF on N4.
package pfcp

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

const causeAccepted = 1

// Information element types (TS 29.244 §8.1).
const (
	ieCause             = 19
	ieFSEIDLegacy       = 21 // some probes emit F-SEID under the pre-release type
	ieNodeID            = 60
	ieVolumeMeasurement = 66
	ieFSEID             = 57
	ieUsageReportSRR    = 80
	ieReportType        = 39
)

var messageNames = map[int]string{
	1:  "Heartbeat Request",
	2:  "Heartbeat Response",
	5:  "Association Setup Request",
	6:  "Association Setup Response",
	7:  "Association Update Request",
	8:  "Association Update Response",
	9:  "Association Release Request",
	10: "Association Release Response",
	50: "Session Establishment Request",
	51: "Session Establishment Response",
	52: "Session Modification Request",
	53: "Session Modification Response",
	54: "Session Deletion Request",
	55: "Session Deletion Response",
	56: "Session Report Request",
	57: "Session Report Response",
}

type ie struct {
	typ  int
	data []byte
}

// Decoder decodes PFCP payloads.
type Decoder struct {
	kb *knowledge.Base
}

// New returns a PFCP decoder.
func New(kb *knowledge.Base) *Decoder {
	return &Decoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *Decoder) Protocol() decoder.Protocol { return decoder.ProtocolPFCP }

// CanDecode claims version-1 payloads with clear spare bits (which separates
// PFCP from GTPv1, whose PT bit is set), a known message type and a matching
// declared length.
func (d *Decoder) CanDecode(payload []byte) bool {
	if len(payload) < 8 {
		return false
	}
	if payload[0]>>5 != 1 || payload[0]&0x18 != 0 {
		return false
	}
	if _, known := messageNames[int(payload[1])]; !known {
		return false
	}
	return int(binary.BigEndian.Uint16(payload[2:4])) == len(payload)-4
}

// Decode implements decoder.Decoder.
func (d *Decoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	if len(payload) < 8 {
		return nil, decoder.NewDecodeError(decoder.ProtocolPFCP, "payload too short: %d bytes", len(payload))
	}
	flags := payload[0]
	if flags>>5 != 1 {
		return nil, decoder.NewDecodeError(decoder.ProtocolPFCP, "unexpected version %d", flags>>5)
	}
	msgType := int(payload[1])
	declared := int(binary.BigEndian.Uint16(payload[2:4]))
	if declared != len(payload)-4 {
		return nil, decoder.NewDecodeError(decoder.ProtocolPFCP, "declared length %d != body %d", declared, len(payload)-4)
	}

	msg := decoder.NewMessage(decoder.ProtocolPFCP, payload, meta)
	msg.MessageType = fmt.Sprintf("PFCP_%d", msgType)
	msg.Details["message_type"] = msgType
	// Direction follows the message table: the node family (1-10) pairs odd
	// requests with even responses, the session family (50-57) the reverse.
	if name, ok := messageNames[msgType]; ok {
		msg.MessageName = name
		if strings.HasSuffix(name, "Request") {
			msg.Direction = decoder.DirectionRequest
		} else {
			msg.Direction = decoder.DirectionResponse
		}
	} else {
		msg.MessageName = fmt.Sprintf("PFCP Message %d", msgType)
	}

	offset := 4
	if flags&0x01 != 0 { // S flag: SEID present
		if len(payload) < 16 {
			return nil, decoder.NewDecodeError(decoder.ProtocolPFCP, "header with SEID overruns payload")
		}
		msg.SEID = binary.BigEndian.Uint64(payload[4:12])
		offset = 12
	}
	if len(payload) < offset+4 {
		return nil, decoder.NewDecodeError(decoder.ProtocolPFCP, "truncated sequence number")
	}
	msg.SequenceNum = uint32(payload[offset])<<16 | uint32(payload[offset+1])<<8 | uint32(payload[offset+2])
	msg.Details["sequence_number"] = msg.SequenceNum
	offset += 4

	ies, err := parseIEs(payload[offset:])
	if err != nil {
		return nil, decoder.NewDecodeError(decoder.ProtocolPFCP, "ie parse: %v", err)
	}
	d.extract(msg, ies)
	d.inferNodes(msg, msgType)
	return msg, nil
}

// parseIEs walks information elements as (16-bit type, 16-bit length, value).
func parseIEs(b []byte) ([]ie, error) {
	var out []ie
	for i := 0; i < len(b); {
		if i+4 > len(b) {
			return nil, fmt.Errorf("truncated ie header at offset %d", i)
		}
		typ := int(binary.BigEndian.Uint16(b[i : i+2]))
		length := int(binary.BigEndian.Uint16(b[i+2 : i+4]))
		start := i + 4
		if start+length > len(b) {
			return nil, fmt.Errorf("ie %d length %d overruns buffer", typ, length)
		}
		out = append(out, ie{typ: typ, data: b[start : start+length]})
		i = start + length
	}
	return out, nil
}

func (d *Decoder) extract(msg *decoder.Message, ies []ie) {
	for _, e := range ies {
		switch e.typ {
		case ieCause:
			if len(e.data) >= 1 {
				d.resolveCause(msg, int(e.data[0]))
			}
		case ieFSEID, ieFSEIDLegacy:
			d.extractFSEID(msg, e.data)
		case ieNodeID:
			if len(e.data) >= 5 && e.data[0] == 0 {
				msg.Details["node_id"] = net.IP(e.data[1:5]).String()
			}
		case ieUsageReportSRR:
			nested, err := parseIEs(e.data)
			if err != nil {
				continue
			}
			for _, n := range nested {
				if n.typ == ieVolumeMeasurement {
					d.extractVolume(msg, n.data)
				}
			}
		case ieReportType:
			if len(e.data) >= 1 {
				msg.Details["report_type"] = int(e.data[0])
			}
		}
	}
}

func (d *Decoder) resolveCause(msg *decoder.Message, cause int) {
	msg.CauseCode = cause
	msg.Details["cause"] = cause
	if cause == causeAccepted {
		msg.Result = decoder.ResultSuccess
		msg.CauseText = "Request Accepted"
		return
	}
	msg.Result = decoder.ResultFailure
	if entry, ok := d.kb.ErrorCode(string(decoder.ProtocolPFCP), cause); ok {
		msg.CauseText = entry.Name
	}
}

// extractFSEID reads the F-SEID: flags byte, 64-bit SEID, then the IPv4
// address when the V4 bit is set.
func (d *Decoder) extractFSEID(msg *decoder.Message, b []byte) {
	if len(b) < 9 {
		return
	}
	seid := binary.BigEndian.Uint64(b[1:9])
	if msg.SEID == 0 {
		msg.SEID = seid
	}
	msg.Details["fseid"] = seid
	if b[0]&0x02 != 0 && len(b) >= 13 {
		msg.Details["fseid_ipv4"] = net.IP(b[9:13]).String()
	}
}

// extractVolume reads a volume measurement: a presence mask (TOVOL, ULVOL,
// DLVOL) then the 64-bit counters in mask order.
func (d *Decoder) extractVolume(msg *decoder.Message, b []byte) {
	if len(b) < 1 {
		return
	}
	mask := b[0]
	i := 1
	if mask&0x01 != 0 {
		if len(b) < i+8 {
			return
		}
		msg.Details["volume_total_bytes"] = binary.BigEndian.Uint64(b[i : i+8])
		i += 8
	}
	if mask&0x02 != 0 {
		if len(b) < i+8 {
			return
		}
		msg.Details["volume_uplink_bytes"] = binary.BigEndian.Uint64(b[i : i+8])
		i += 8
	}
	if mask&0x04 != 0 {
		if len(b) < i+8 {
			return
		}
		msg.Details["volume_downlink_bytes"] = binary.BigEndian.Uint64(b[i : i+8])
	}
}

// inferNodes: the session procedures run SMF→UPF; reports originate at the
// UPF. Responses reverse the request direction.
func (d *Decoder) inferNodes(msg *decoder.Message, msgType int) {
	var src, dst decoder.NodeType
	switch msgType {
	case 50, 51, 52, 53, 54, 55:
		src, dst = decoder.NodeSMF, decoder.NodeUPF
	case 56, 57:
		src, dst = decoder.NodeUPF, decoder.NodeSMF
	default:
		return
	}
	if msg.Direction == decoder.DirectionResponse {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}
