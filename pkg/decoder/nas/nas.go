// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package nas decodes 4G EMM/ESM (TS 24.301) and 5G 5GMM/5GSM (TS 24.501)
// non-access-stratum messages, both standalone and embedded in S1AP/NGAP
// NAS-PDU information elements. Ciphered payloads are surfaced as such; no
// attempt is made to break them.
package nas

import (
	"fmt"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

// Protocol discriminators.
const (
	pdESM   = 0x02
	pdEMM   = 0x07
	epd5GSM = 0x2E
	epd5GMM = 0x7E
)

var emmMessageNames = map[byte]string{
	0x41: "Attach Request",
	0x42: "Attach Accept",
	0x43: "Attach Complete",
	0x44: "Attach Reject",
	0x45: "Detach Request",
	0x46: "Detach Accept",
	0x48: "Tracking Area Update Request",
	0x49: "Tracking Area Update Accept",
	0x4A: "Tracking Area Update Complete",
	0x4B: "Tracking Area Update Reject",
	0x4C: "Extended Service Request",
	0x4E: "Service Reject",
	0x50: "GUTI Reallocation Command",
	0x51: "GUTI Reallocation Complete",
	0x52: "Authentication Request",
	0x53: "Authentication Response",
	0x54: "Authentication Reject",
	0x55: "Identity Request",
	0x56: "Identity Response",
	0x5C: "Authentication Failure",
	0x5D: "Security Mode Command",
	0x5E: "Security Mode Complete",
	0x5F: "Security Mode Reject",
	0x60: "EMM Status",
	0x61: "EMM Information",
}

var fivegmmMessageNames = map[byte]string{
	0x41: "Registration Request",
	0x42: "Registration Accept",
	0x43: "Registration Complete",
	0x44: "Registration Reject",
	0x45: "Deregistration Request",
	0x46: "Deregistration Accept",
	0x4C: "Service Request",
	0x4D: "Service Reject",
	0x4E: "Service Accept",
	0x56: "Authentication Request",
	0x57: "Authentication Response",
	0x58: "Authentication Reject",
	0x59: "Authentication Failure",
	0x5C: "Security Mode Command",
	0x5E: "Security Mode Complete",
	0x5F: "Security Mode Reject",
	0x64: "5GMM Status",
	0x65: "Notification",
}

var esmMessageNames = map[byte]string{
	0xC1: "Activate Default EPS Bearer Context Request",
	0xC2: "Activate Default EPS Bearer Context Accept",
	0xC3: "Activate Default EPS Bearer Context Reject",
	0xCD: "Deactivate EPS Bearer Context Request",
	0xCE: "Deactivate EPS Bearer Context Accept",
	0xD0: "PDN Connectivity Request",
	0xD1: "PDN Connectivity Reject",
}

// uplink message types, used for direction inference (UE to network).
var emmUplink = map[byte]bool{
	0x41: true, 0x43: true, 0x45: true, 0x48: true, 0x4A: true, 0x4C: true,
	0x51: true, 0x53: true, 0x56: true, 0x5C: true, 0x5E: true,
}

var emmRejects = map[byte]bool{0x44: true, 0x4B: true, 0x4E: true, 0x54: true, 0x5F: true}

// Info is the protocol-level outcome of a NAS decode, shared between the
// standalone decoder and the NGAP/S1AP embedded handoff.
type Info struct {
	MessageType string
	MessageName string
	Generation  string // 4G | 5G
	Ciphered    bool
	Uplink      bool
	Reject      bool
	CauseCode   int
	IMSI        string
	SUPI        string
	GUTI        string
	BearerID    int
}

// Extract decodes the identifying fields of a NAS PDU without building a
// full Message.
func Extract(b []byte) (*Info, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("nas: payload too short: %d bytes", len(b))
	}
	switch {
	case b[0] == epd5GMM:
		return extract5GMM(b)
	case b[0] == epd5GSM:
		return extract5GSM(b)
	case b[0]&0x0F == pdEMM:
		return extractEMM(b)
	case b[0]&0x0F == pdESM:
		return extractESM(b)
	}
	return nil, fmt.Errorf("nas: unknown protocol discriminator 0x%02X", b[0]&0x0F)
}

func extractEMM(b []byte) (*Info, error) {
	info := &Info{Generation: "4G"}
	sec := b[0] >> 4
	switch sec {
	case 0: // plain
	case 1, 3: // integrity protected: 6-byte security header, plain inside
		if len(b) < 7 {
			return nil, fmt.Errorf("nas: truncated security header")
		}
		return Extract(b[6:])
	default: // ciphered
		info.Ciphered = true
		info.MessageType = "NAS_Ciphered"
		info.MessageName = "NAS (ciphered)"
		return info, nil
	}
	msgType := b[1]
	name, ok := emmMessageNames[msgType]
	if !ok {
		name = fmt.Sprintf("EMM Message 0x%02X", msgType)
	}
	info.MessageType = fmt.Sprintf("EMM_0x%02X", msgType)
	info.MessageName = name
	info.Uplink = emmUplink[msgType]
	info.Reject = emmRejects[msgType]
	if info.Reject && len(b) > 2 {
		info.CauseCode = int(b[2])
	}
	switch msgType {
	case 0x41: // Attach Request: ksi+type byte, then EPS mobile identity LV
		if len(b) > 3 {
			parseMobileIdentityLV(info, b[3:])
		}
	case 0x56: // Identity Response: identity LV directly
		if len(b) > 2 {
			parseMobileIdentityLV(info, b[2:])
		}
	}
	return info, nil
}

func extract5GMM(b []byte) (*Info, error) {
	info := &Info{Generation: "5G"}
	sec := b[1]
	switch sec {
	case 0: // plain
	case 1, 3: // integrity protected: 7-byte security header
		if len(b) < 8 {
			return nil, fmt.Errorf("nas: truncated security header")
		}
		return Extract(b[7:])
	default:
		info.Ciphered = true
		info.MessageType = "NAS_Ciphered"
		info.MessageName = "NAS (ciphered)"
		return info, nil
	}
	if len(b) < 3 {
		return nil, fmt.Errorf("nas: truncated 5GMM header")
	}
	msgType := b[2]
	name, ok := fivegmmMessageNames[msgType]
	if !ok {
		name = fmt.Sprintf("5GMM Message 0x%02X", msgType)
	}
	info.MessageType = fmt.Sprintf("5GMM_0x%02X", msgType)
	info.MessageName = name
	switch msgType {
	case 0x41, 0x43, 0x45, 0x57, 0x5E:
		info.Uplink = true
	case 0x44, 0x4D, 0x58, 0x5F:
		info.Reject = true
		if len(b) > 3 {
			info.CauseCode = int(b[3])
		}
	}
	if msgType == 0x41 && len(b) > 6 {
		// ngKSI+registration type byte, then 5GS mobile identity LV-E
		// (16-bit length).
		length := int(b[4])<<8 | int(b[5])
		if 6+length <= len(b) {
			parse5GSMobileIdentity(info, b[6:6+length])
		}
	}
	return info, nil
}

func extract5GSM(b []byte) (*Info, error) {
	info := &Info{Generation: "5G"}
	if len(b) < 4 {
		return nil, fmt.Errorf("nas: truncated 5GSM header")
	}
	msgType := b[3]
	info.MessageType = fmt.Sprintf("5GSM_0x%02X", msgType)
	info.MessageName = fmt.Sprintf("5GSM Message 0x%02X", msgType)
	if msgType == 0xC1 {
		info.MessageName = "PDU Session Establishment Request"
		info.Uplink = true
	} else if msgType == 0xC2 {
		info.MessageName = "PDU Session Establishment Accept"
	}
	info.BearerID = int(b[1])
	return info, nil
}

func extractESM(b []byte) (*Info, error) {
	info := &Info{Generation: "4G", BearerID: int(b[0] >> 4)}
	if len(b) < 3 {
		return nil, fmt.Errorf("nas: truncated ESM header")
	}
	msgType := b[2]
	name, ok := esmMessageNames[msgType]
	if !ok {
		name = fmt.Sprintf("ESM Message 0x%02X", msgType)
	}
	info.MessageType = fmt.Sprintf("ESM_0x%02X", msgType)
	info.MessageName = name
	return info, nil
}

// parseMobileIdentityLV reads a length-prefixed EPS mobile identity (TS
// 24.301 §9.9.3.12): type bits in the low nibble of the first octet, first
// digit in its high nibble, remaining digits BCD.
func parseMobileIdentityLV(info *Info, b []byte) {
	if len(b) < 2 {
		return
	}
	length := int(b[0])
	if 1+length > len(b) || length < 1 {
		return
	}
	id := b[1 : 1+length]
	typ := id[0] & 0x07
	digits := string('0' + rune(id[0]>>4))
	rest, err := decoder.DecodeBCD(id[1:])
	if err != nil {
		return
	}
	digits += rest
	switch typ {
	case 1:
		if len(digits) == 15 {
			info.IMSI = digits
		}
	case 6:
		info.GUTI = digits
	}
}

// parse5GSMobileIdentity reads a 5GS mobile identity (TS 24.501 §9.11.3.4).
// Only a SUCI with SUPI format IMSI and the null protection scheme yields a
// subscriber identity.
func parse5GSMobileIdentity(info *Info, b []byte) {
	if len(b) < 8 {
		return
	}
	if b[0]&0x07 != 1 { // not a SUCI
		return
	}
	plmn, err := decoder.DecodePLMN(b[1:4])
	if err != nil {
		return
	}
	// routing indicator (2), protection scheme (1), home network key id (1)
	if b[6]&0x0F != 0 { // protected scheme output is opaque
		return
	}
	msin, err := decoder.DecodeBCD(b[8:])
	if err != nil {
		return
	}
	info.SUPI = "imsi-" + plmn + msin
	info.IMSI = plmn + msin
}

// Decoder decodes standalone NAS payloads.
type Decoder struct {
	kb *knowledge.Base
}

// New returns a NAS decoder resolving EMM/5GMM causes through kb.
func New(kb *knowledge.Base) *Decoder {
	return &Decoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *Decoder) Protocol() decoder.Protocol { return decoder.ProtocolNAS }

// CanDecode probes the protocol discriminator. NAS registers last, so the
// octet values it shares with other protocols' leading bytes are already
// claimed by their stricter probes.
func (d *Decoder) CanDecode(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	switch {
	case payload[0] == epd5GMM, payload[0] == epd5GSM:
		return true
	case payload[0]&0x0F == pdEMM:
		return payload[0]>>4 <= 4
	case payload[0]&0x0F == pdESM:
		return true
	}
	return false
}

// Decode implements decoder.Decoder.
func (d *Decoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	info, err := Extract(payload)
	if err != nil {
		return nil, decoder.NewDecodeError(decoder.ProtocolNAS, "%v", err)
	}
	msg := decoder.NewMessage(decoder.ProtocolNAS, payload, meta)
	Apply(msg, info, d.kb)
	return msg, nil
}

// Apply copies a decoded Info onto a Message, resolving the cause name
// through the knowledge base. The NGAP and S1AP decoders reuse it for
// embedded NAS-PDUs.
func Apply(msg *decoder.Message, info *Info, kb *knowledge.Base) {
	msg.MessageType = info.MessageType
	msg.MessageName = info.MessageName
	msg.Details["generation"] = info.Generation
	if info.Ciphered {
		msg.Details["ciphered"] = true
		msg.Result = decoder.ResultUnknown
		return
	}
	if info.Uplink {
		msg.Direction = decoder.DirectionRequest
	} else {
		msg.Direction = decoder.DirectionResponse
	}
	if info.Reject {
		msg.Result = decoder.ResultFailure
		msg.CauseCode = info.CauseCode
		if entry, ok := kb.ErrorCode(string(decoder.ProtocolNAS), info.CauseCode); ok {
			msg.CauseText = entry.Name
		}
	}
	if info.IMSI != "" {
		msg.IMSI = info.IMSI
	}
	if info.SUPI != "" {
		msg.SUPI = info.SUPI
	}
	if info.GUTI != "" {
		msg.Details["guti"] = info.GUTI
	}
	if info.BearerID != 0 {
		msg.Details["eps_bearer_id"] = info.BearerID
	}

	var src, dst decoder.NodeType
	if info.Generation == "5G" {
		src, dst = decoder.NodeGNB, decoder.NodeAMF
	} else {
		src, dst = decoder.NodeENB, decoder.NodeMME
	}
	if !info.Uplink {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}
