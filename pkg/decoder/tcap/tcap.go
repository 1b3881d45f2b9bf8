// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package tcap decodes the SS7 application protocols carried over TCAP: MAP,
// CAP and INAP. The three share the BER-encoded TCAP envelope; they differ in
// operation-code spaces, so the MAP and CAP decoders claim only payloads whose
// operation falls in their tables and the INAP decoder takes any remaining
// TCAP envelope.
package tcap

import (
	"encoding/hex"
	"fmt"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

// TCAP message tags (ITU-T Q.773).
const (
	tagBegin    = 0x62
	tagEnd      = 0x64
	tagContinue = 0x65
	tagAbort    = 0x67

	tagOTID             = 0x48
	tagDTID             = 0x49
	tagComponentPortion = 0x6C
	tagInvoke           = 0xA1
	tagReturnResultLast = 0xA2
	tagReturnError      = 0xA3
	tagReject           = 0xA4
	tagInteger          = 0x02
	tagOctetString      = 0x04
	tagContext0         = 0x80
)

// element is one BER TLV.
type element struct {
	tag      byte
	value    []byte
	children []element
}

func isTCAP(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	switch payload[0] {
	case tagBegin, tagEnd, tagContinue, tagAbort:
	default:
		return false
	}
	_, n, err := berLength(payload[1:])
	if err != nil {
		return false
	}
	return 1+n <= len(payload)
}

// berLength reads a BER definite length. Indefinite lengths do not occur in
// TCAP transaction portions and are rejected.
func berLength(b []byte) (length, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("truncated length")
	}
	if b[0] < 0x80 {
		return int(b[0]), 1, nil
	}
	n := int(b[0] & 0x7F)
	if n == 0 {
		return 0, 0, fmt.Errorf("indefinite length")
	}
	if n > 3 || len(b) < 1+n {
		return 0, 0, fmt.Errorf("unsupported length form")
	}
	v := 0
	for i := 1; i <= n; i++ {
		v = v<<8 | int(b[i])
	}
	return v, 1 + n, nil
}

func isConstructed(tag byte) bool {
	return tag&0x20 != 0
}

// parseElements walks a run of sibling TLVs, descending into constructed ones.
func parseElements(b []byte) ([]element, error) {
	var out []element
	for i := 0; i < len(b); {
		tag := b[i]
		length, n, err := berLength(b[i+1:])
		if err != nil {
			return nil, err
		}
		start := i + 1 + n
		if start+length > len(b) {
			return nil, fmt.Errorf("element 0x%02X length %d overruns buffer", tag, length)
		}
		el := element{tag: tag, value: b[start : start+length]}
		if isConstructed(tag) {
			el.children, err = parseElements(el.value)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, el)
		i = start + length
	}
	return out, nil
}

// find returns the first element with the tag, searching depth first.
func find(els []element, tag byte) *element {
	for i := range els {
		if els[i].tag == tag {
			return &els[i]
		}
		if c := find(els[i].children, tag); c != nil {
			return c
		}
	}
	return nil
}

func berInt(b []byte) int {
	v := 0
	for _, o := range b {
		v = v<<8 | int(o)
	}
	return v
}

// component is the decoded view of one TCAP component portion.
type component struct {
	kind      string // invoke | returnResultLast | returnError | reject
	opCode    int
	hasOp     bool
	errorCode int
	hasError  bool
}

// parseComponent extracts the operation or error code from the first
// component. Invoke holds {invokeID INTEGER, opCode INTEGER}; returnError
// holds {invokeID INTEGER, errorCode INTEGER}; returnResultLast nests the
// opCode inside a SEQUENCE.
func parseComponent(els []element) *component {
	portion := find(els, tagComponentPortion)
	if portion == nil {
		return nil
	}
	for _, el := range portion.children {
		c := &component{}
		switch el.tag {
		case tagInvoke:
			c.kind = "invoke"
			ints := directIntegers(el.children)
			if len(ints) >= 2 {
				c.opCode, c.hasOp = ints[1], true
			} else if len(ints) == 1 {
				c.opCode, c.hasOp = ints[0], true
			}
		case tagReturnResultLast:
			c.kind = "returnResultLast"
			if seq := find(el.children, 0x30); seq != nil {
				if op := find(seq.children, tagInteger); op != nil {
					c.opCode, c.hasOp = berInt(op.value), true
				}
			}
		case tagReturnError:
			c.kind = "returnError"
			ints := directIntegers(el.children)
			if len(ints) >= 2 {
				c.errorCode, c.hasError = ints[1], true
			} else if len(ints) == 1 {
				c.errorCode, c.hasError = ints[0], true
			}
		case tagReject:
			c.kind = "reject"
		default:
			continue
		}
		return c
	}
	return nil
}

func directIntegers(els []element) []int {
	var out []int
	for _, el := range els {
		if el.tag == tagInteger {
			out = append(out, berInt(el.value))
		}
	}
	return out
}

// findIMSI scans the parameter portion for a 15-digit BCD value behind an
// OCTET STRING or context-0 primitive of 7 or 8 bytes.
func findIMSI(els []element) string {
	for _, el := range els {
		if (el.tag == tagOctetString || el.tag == tagContext0) && (len(el.value) == 7 || len(el.value) == 8) {
			if digits, err := decoder.DecodeBCD(el.value); err == nil && len(digits) == 15 {
				return digits
			}
		}
		if imsi := findIMSI(el.children); imsi != "" {
			return imsi
		}
	}
	return ""
}

// envelope is the protocol-independent part of a decoded TCAP payload.
type envelope struct {
	tcapType      string
	direction     decoder.Direction
	result        decoder.Result
	transactionID string
	comp          *component
	imsi          string
}

func decodeEnvelope(protocol decoder.Protocol, payload []byte) (*envelope, error) {
	els, err := parseElements(payload)
	if err != nil {
		return nil, decoder.NewDecodeError(protocol, "malformed TCAP: %v", err)
	}
	if len(els) == 0 {
		return nil, decoder.NewDecodeError(protocol, "empty TCAP payload")
	}
	env := &envelope{direction: decoder.DirectionUnknown, result: decoder.ResultUnknown}
	switch els[0].tag {
	case tagBegin:
		env.tcapType = "Begin"
		env.direction = decoder.DirectionRequest
	case tagContinue:
		env.tcapType = "Continue"
	case tagEnd:
		env.tcapType = "End"
		env.direction = decoder.DirectionResponse
		env.result = decoder.ResultSuccess
	case tagAbort:
		env.tcapType = "Abort"
		env.direction = decoder.DirectionResponse
		env.result = decoder.ResultFailure
	default:
		return nil, decoder.NewDecodeError(protocol, "unknown TCAP tag 0x%02X", els[0].tag)
	}
	if tid := find(els[0].children, tagOTID); tid != nil {
		env.transactionID = hex.EncodeToString(tid.value)
	} else if tid := find(els[0].children, tagDTID); tid != nil {
		env.transactionID = hex.EncodeToString(tid.value)
	}
	env.comp = parseComponent(els[0].children)
	if env.comp != nil && env.comp.hasError {
		env.result = decoder.ResultFailure
	}
	env.imsi = findIMSI(els[0].children)
	return env, nil
}

// fill applies the shared envelope fields to a message and resolves the error
// cause through the knowledge base.
func fill(msg *decoder.Message, env *envelope, kb *knowledge.Base) {
	msg.MessageType = "TCAP_" + env.tcapType
	msg.Direction = env.direction
	msg.Result = env.result
	msg.TransactionID = env.transactionID
	msg.IMSI = env.imsi
	msg.Details["tcap_message"] = env.tcapType
	if env.comp != nil {
		msg.Details["component"] = env.comp.kind
		if env.comp.hasOp {
			msg.Details["operation_code"] = env.comp.opCode
		}
		if env.comp.hasError {
			msg.CauseCode = env.comp.errorCode
			msg.Details["error_code"] = env.comp.errorCode
			if entry, ok := kb.ErrorCode(string(msg.Protocol), env.comp.errorCode); ok {
				msg.CauseText = entry.Name
			}
		}
	}
}

// envelopeOpCode probes the operation code without a full decode, for
// CanDecode dispatch between MAP, CAP and INAP.
func envelopeOpCode(payload []byte) (int, bool) {
	els, err := parseElements(payload)
	if err != nil || len(els) == 0 {
		return 0, false
	}
	comp := parseComponent(els[0].children)
	if comp == nil || !comp.hasOp {
		return 0, false
	}
	return comp.opCode, true
}
