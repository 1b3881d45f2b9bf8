// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package diameter decodes the Diameter base protocol (RFC 6733) and the 3GPP
// applications layered on it (S6a, S13, Gx, Gy, SWx, Cx).
package diameter

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

const headerLen = 20

// Command flag bits.
const (
	flagRequest = 0x80
	flagError   = 0x20
)

// AVP codes the monitor extracts.
const (
	avpUserName          = 1
	avpResultCode        = 268
	avpSessionID         = 263
	avpOriginHost        = 264
	avpOriginRealm       = 296
	avpDestinationRealm  = 283
	avpDestinationHost   = 293
	avpExperimentalRes   = 297
	avpExperimentalCode  = 298
	avpSubscriptionID    = 443
	avpSubscriptionData  = 444
	avpSubscriptionType  = 450
	avpMSISDN            = 701
	avpVisitedPLMNID     = 1407
	avpIMEI              = 1402
	avpRATType           = 1032
	avpServingNode       = 2401
	avpCalledStationID   = 30
	avpFramedIPAddress   = 8
	avpChargingRuleName  = 1005
	avpCCRequestType     = 416
	avpCCRequestNumber   = 415
	avpAuthSessionState  = 277
	avpSupportedFeatures = 628
)

var commandNames = map[uint32]string{
	257: "Capabilities-Exchange",
	258: "Re-Auth",
	265: "AA",
	271: "Accounting",
	272: "Credit-Control",
	274: "Abort-Session",
	275: "Session-Termination",
	280: "Device-Watchdog",
	282: "Disconnect-Peer",
	300: "User-Authorization",
	301: "Server-Assignment",
	302: "Location-Info",
	303: "Multimedia-Auth",
	304: "Registration-Termination",
	305: "Push-Profile",
	316: "Update-Location",
	317: "Cancel-Location",
	318: "Authentication-Information",
	319: "Insert-Subscriber-Data",
	320: "Delete-Subscriber-Data",
	321: "Purge-UE",
	322: "Reset",
	323: "Notify",
	324: "ME-Identity-Check",
}

var applicationNames = map[uint32]string{
	0:        "Base",
	4:        "Gy",
	16777216: "Cx",
	16777238: "Gx",
	16777251: "S6a",
	16777252: "S13",
	16777265: "SWx",
	16777272: "S6b",
	16777312: "S9",
}

// avp is one parsed attribute-value pair.
type avp struct {
	code     uint32
	flags    byte
	vendorID uint32
	data     []byte
}

func (a *avp) mandatory() bool      { return a.flags&0x40 != 0 }
func (a *avp) vendorSpecific() bool { return a.flags&0x80 != 0 }

// Decoder decodes Diameter payloads.
type Decoder struct {
	kb *knowledge.Base
}

// New returns a Diameter decoder resolving result-code names through kb.
func New(kb *knowledge.Base) *Decoder {
	return &Decoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *Decoder) Protocol() decoder.Protocol { return decoder.ProtocolDiameter }

// CanDecode claims payloads with a version-1 Diameter header whose declared
// length matches the payload.
func (d *Decoder) CanDecode(payload []byte) bool {
	if len(payload) < headerLen || payload[0] != 1 {
		return false
	}
	return be24(payload[1:4]) == len(payload)
}

// Decode implements decoder.Decoder.
func (d *Decoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	if len(payload) < headerLen {
		return nil, decoder.NewDecodeError(decoder.ProtocolDiameter, "payload too short: %d bytes", len(payload))
	}
	if payload[0] != 1 {
		return nil, decoder.NewDecodeError(decoder.ProtocolDiameter, "unsupported version %d", payload[0])
	}
	msgLen := be24(payload[1:4])
	if msgLen != len(payload) {
		return nil, decoder.NewDecodeError(decoder.ProtocolDiameter, "declared length %d != payload %d", msgLen, len(payload))
	}

	cmdFlags := payload[4]
	cmdCode := uint32(be24(payload[5:8]))
	appID := binary.BigEndian.Uint32(payload[8:12])
	hopByHop := binary.BigEndian.Uint32(payload[12:16])
	endToEnd := binary.BigEndian.Uint32(payload[16:20])

	msg := decoder.NewMessage(decoder.ProtocolDiameter, payload, meta)
	msg.SequenceNum = hopByHop
	msg.TransactionID = fmt.Sprintf("%08x", endToEnd)
	msg.Details["command_code"] = int(cmdCode)
	msg.Details["application_id"] = int(appID)
	msg.Details["hop_by_hop_id"] = hopByHop
	msg.Details["end_to_end_id"] = endToEnd
	if name, ok := applicationNames[appID]; ok {
		msg.Details["application"] = name
	}

	request := cmdFlags&flagRequest != 0
	if request {
		msg.Direction = decoder.DirectionRequest
	} else {
		msg.Direction = decoder.DirectionResponse
	}
	msg.MessageType = fmt.Sprintf("Diameter_%d", cmdCode)
	msg.MessageName = commandName(cmdCode, request)

	avps, err := parseAVPs(payload[headerLen:])
	if err != nil {
		return nil, decoder.NewDecodeError(decoder.ProtocolDiameter, "avp parse: %v", err)
	}
	d.extract(msg, avps, request)
	if cmdFlags&flagError != 0 && msg.Result == decoder.ResultUnknown {
		msg.Result = decoder.ResultFailure
	}
	d.inferNodes(msg, appID, request)
	return msg, nil
}

func commandName(code uint32, request bool) string {
	name, ok := commandNames[code]
	if !ok {
		name = fmt.Sprintf("Command-%d", code)
	}
	if request {
		return name + "-Request"
	}
	return name + "-Answer"
}

func be24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

func parseAVPs(b []byte) ([]avp, error) {
	var out []avp
	for i := 0; i+8 <= len(b); {
		a := avp{
			code:  binary.BigEndian.Uint32(b[i : i+4]),
			flags: b[i+4],
		}
		length := be24(b[i+5 : i+8])
		if length < 8 || i+length > len(b) {
			return nil, fmt.Errorf("avp %d length %d overruns buffer at offset %d", a.code, length, i)
		}
		dataStart := i + 8
		if a.vendorSpecific() {
			if length < 12 {
				return nil, fmt.Errorf("vendor avp %d too short", a.code)
			}
			a.vendorID = binary.BigEndian.Uint32(b[i+8 : i+12])
			dataStart = i + 12
		}
		a.data = b[dataStart : i+length]
		out = append(out, a)
		// AVPs are padded to 4-byte boundaries.
		i += (length + 3) &^ 3
	}
	return out, nil
}

// extract pulls correlation identifiers and the result classification out of
// the AVP list.
func (d *Decoder) extract(msg *decoder.Message, avps []avp, request bool) {
	for _, a := range avps {
		switch a.code {
		case avpSessionID:
			msg.SessionID = string(a.data)
			msg.Details["session_id"] = msg.SessionID
		case avpOriginHost:
			msg.Details["origin_host"] = string(a.data)
		case avpOriginRealm:
			msg.Details["origin_realm"] = string(a.data)
		case avpDestinationHost:
			msg.Details["destination_host"] = string(a.data)
		case avpDestinationRealm:
			msg.Details["destination_realm"] = string(a.data)
		case avpUserName:
			user := string(a.data)
			msg.Details["user_name"] = user
			if strings.HasPrefix(user, "imsi-") {
				msg.SUPI = user
				msg.IMSI = strings.TrimPrefix(user, "imsi-")
			} else if isDigits(user) && len(user) == 15 {
				msg.IMSI = user
			}
		case avpMSISDN:
			if digits, err := decoder.DecodeBCD(a.data); err == nil {
				msg.MSISDN = digits
			}
		case avpIMEI:
			msg.IMEI = string(a.data)
		case avpVisitedPLMNID:
			if plmn, err := decoder.DecodePLMN(a.data); err == nil {
				msg.PLMN = plmn
				msg.Details["visited_plmn"] = plmn
			}
		case avpResultCode:
			if len(a.data) == 4 {
				d.setResult(msg, int(binary.BigEndian.Uint32(a.data)))
			}
		case avpExperimentalRes:
			sub, err := parseAVPs(a.data)
			if err != nil {
				continue
			}
			for _, s := range sub {
				if s.code == avpExperimentalCode && len(s.data) == 4 {
					d.setResult(msg, int(binary.BigEndian.Uint32(s.data)))
				}
			}
		case avpRATType:
			if len(a.data) == 4 {
				msg.Details["rat_type"] = int(binary.BigEndian.Uint32(a.data))
			}
		case avpCCRequestType:
			if len(a.data) == 4 {
				msg.Details["cc_request_type"] = int(binary.BigEndian.Uint32(a.data))
			}
		}
		if a.vendorSpecific() {
			if v, ok := d.kb.Vendor(string(decoder.ProtocolDiameter), int(a.code)); ok {
				msg.Vendor = v.Vendor
				msg.Details["vendor_extension"] = v.Extension
			}
		}
	}
	// A request carries no result code; leave it unknown so correlation does
	// not count it as a failure.
	if request {
		msg.Result = decoder.ResultUnknown
	}
}

// setResult classifies a Diameter result code: 2xxx success, 3xxx protocol
// error, 4xxx transient failure, 5xxx permanent failure.
func (d *Decoder) setResult(msg *decoder.Message, code int) {
	msg.CauseCode = code
	msg.Details["result_code"] = code
	if code >= 2000 && code < 3000 {
		msg.Result = decoder.ResultSuccess
	} else {
		msg.Result = decoder.ResultFailure
	}
	if entry, ok := d.kb.ErrorCode(string(decoder.ProtocolDiameter), code); ok {
		msg.CauseText = entry.Name
	}
}

// inferNodes derives endpoint roles from the application. The mobility
// applications run between the MME (or SGSN) and the HSS; the policy and
// charging ones between gateway and PCRF/OCS.
func (d *Decoder) inferNodes(msg *decoder.Message, appID uint32, request bool) {
	var src, dst decoder.NodeType
	switch applicationNames[appID] {
	case "S6a", "S13":
		src, dst = decoder.NodeMME, decoder.NodeHSS
	case "Gx":
		src, dst = decoder.NodePGW, decoder.NodePCF
	case "Gy":
		src, dst = decoder.NodePGW, decoder.NodeType("OCS")
	case "SWx", "Cx":
		src, dst = decoder.NodeType("AAA"), decoder.NodeHSS
	default:
		return
	}
	if !request {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
