// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package gtp decodes the GPRS Tunnelling Protocol control planes: GTPv1-C
// (TS 29.060) and GTPv2-C (TS 29.274). The version lives in the top three
// bits of the first byte; GTPv1 additionally sets the PT bit, which is what
// separates it from PFCP on the wire.
package gtp

import (
	"fmt"
	"net"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

// Cause values meaning "accepted".
const (
	v1CauseAccepted = 128
	v2CauseAccepted = 16
)

// ie is one parsed information element, shared by both versions.
type ie struct {
	typ      int
	instance int // GTPv2 only
	data     []byte
}

func ipv4(b []byte) string {
	if len(b) < 4 {
		return ""
	}
	return net.IP(b[:4]).String()
}

// shared per-IE extraction for the identifiers both versions carry in BCD.
func extractBCD(msg *decoder.Message, name string, data []byte) string {
	digits, err := decoder.DecodeBCD(data)
	if err != nil {
		msg.Details[name+"_raw"] = fmt.Sprintf("%x", data)
		return ""
	}
	msg.Details[name] = digits
	return digits
}

func resolveCause(kb *knowledge.Base, msg *decoder.Message, cause, accepted int) {
	msg.CauseCode = cause
	msg.Details["cause"] = cause
	if cause == accepted {
		msg.Result = decoder.ResultSuccess
		msg.CauseText = "Request Accepted"
		return
	}
	msg.Result = decoder.ResultFailure
	if entry, ok := kb.ErrorCode("GTP", cause); ok {
		msg.CauseText = entry.Name
	}
}
