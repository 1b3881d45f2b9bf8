// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package flows

import (
	"time"

	"github.com/DataDog/sigmon/pkg/decoder"
)

// Step is one expected message in a procedure template. Message is matched
// case-insensitively as a substring of the decoded message name; an empty
// Direction matches either leg.
type Step struct {
	Number      int               `json:"number"`
	Protocol    decoder.Protocol  `json:"protocol"`
	Message     string            `json:"message"`
	Direction   decoder.Direction `json:"direction,omitempty"`
	Source      string            `json:"source,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Mandatory   bool              `json:"mandatory"`
}

// Template is one reference 3GPP procedure the reconstructor matches
// sessions against.
type Template struct {
	Name             string        `json:"name"`
	Standard         string        `json:"standard"`
	Section          string        `json:"section"`
	Generation       string        `json:"generation"`
	ExpectedDuration time.Duration `json:"expected_duration"`
	Steps            []Step        `json:"steps"`
}

// mandatorySteps counts the template's mandatory steps.
func (t *Template) mandatorySteps() int {
	n := 0
	for _, s := range t.Steps {
		if s.Mandatory {
			n++
		}
	}
	return n
}

// builtinTemplates are the reference procedures shipped with the monitor.
func builtinTemplates() []*Template {
	return []*Template{
		{
			Name:             "4G Attach Procedure",
			Standard:         "TS 23.401",
			Section:          "5.3.2.1",
			Generation:       "4G",
			ExpectedDuration: 2 * time.Second,
			Steps: []Step{
				{1, decoder.ProtocolNAS, "Attach Request", decoder.DirectionRequest, "UE", "MME", true},
				{2, decoder.ProtocolDiameter, "Authentication-Information-Request", "", "MME", "HSS", true},
				{3, decoder.ProtocolDiameter, "Authentication-Information-Answer", "", "HSS", "MME", true},
				{4, decoder.ProtocolNAS, "Authentication Request", decoder.DirectionRequest, "MME", "UE", true},
				{5, decoder.ProtocolNAS, "Authentication Response", decoder.DirectionResponse, "UE", "MME", true},
				{6, decoder.ProtocolDiameter, "Update-Location-Request", "", "MME", "HSS", true},
				{7, decoder.ProtocolDiameter, "Update-Location-Answer", "", "HSS", "MME", true},
				{8, decoder.ProtocolGTPv2, "Create Session Request", "", "MME", "SGW", true},
				{9, decoder.ProtocolGTPv2, "Create Session Response", "", "SGW", "MME", true},
				{10, decoder.ProtocolS1AP, "InitialContextSetup", decoder.DirectionRequest, "MME", "eNB", true},
				{11, decoder.ProtocolS1AP, "InitialContextSetup", decoder.DirectionResponse, "eNB", "MME", true},
				{12, decoder.ProtocolNAS, "Attach Accept", decoder.DirectionResponse, "MME", "UE", true},
				{13, decoder.ProtocolNAS, "Attach Complete", "", "UE", "MME", true},
			},
		},
		{
			Name:             "5G Registration Procedure",
			Standard:         "TS 23.502",
			Section:          "4.2.2.2.2",
			Generation:       "5G",
			ExpectedDuration: 2 * time.Second,
			Steps: []Step{
				{1, decoder.ProtocolNAS, "Registration Request", decoder.DirectionRequest, "UE", "AMF", true},
				{2, decoder.ProtocolNGAP, "InitialUEMessage", "", "gNB", "AMF", false},
				{3, decoder.ProtocolHTTP2, "Nausf-AUTH", "", "AMF", "AUSF", false},
				{4, decoder.ProtocolNAS, "Authentication Request", decoder.DirectionRequest, "AMF", "UE", false},
				{5, decoder.ProtocolNAS, "Authentication Response", decoder.DirectionResponse, "UE", "AMF", false},
				{6, decoder.ProtocolHTTP2, "Nudm-UECM", "", "AMF", "UDM", true},
				{7, decoder.ProtocolHTTP2, "Nudm-SDM", "", "AMF", "UDM", true},
				{8, decoder.ProtocolNAS, "Registration Accept", decoder.DirectionResponse, "AMF", "UE", true},
			},
		},
		{
			Name:             "GTP Create Session Procedure",
			Standard:         "TS 29.274",
			Section:          "7.2.1",
			Generation:       "4G",
			ExpectedDuration: 500 * time.Millisecond,
			Steps: []Step{
				{1, decoder.ProtocolGTPv2, "Create Session Request", "", "MME", "SGW", true},
				{2, decoder.ProtocolGTPv2, "Create Session Request", "", "SGW", "PGW", true},
				{3, decoder.ProtocolGTPv2, "Create Session Response", "", "PGW", "SGW", true},
				{4, decoder.ProtocolGTPv2, "Create Session Response", "", "SGW", "MME", true},
			},
		},
		{
			Name:             "MAP Update Location",
			Standard:         "TS 29.002",
			Section:          "7.3",
			Generation:       "2G/3G",
			ExpectedDuration: time.Second,
			Steps: []Step{
				{1, decoder.ProtocolMAP, "UpdateLocation", decoder.DirectionRequest, "VLR", "HLR", true},
				{2, decoder.ProtocolMAP, "UpdateLocation", decoder.DirectionResponse, "HLR", "VLR", true},
			},
		},
		{
			Name:             "5G PDU Session Establishment",
			Standard:         "TS 23.502",
			Section:          "4.3.2.2.1",
			Generation:       "5G",
			ExpectedDuration: time.Second,
			Steps: []Step{
				{1, decoder.ProtocolNAS, "PDU Session Establishment Request", "", "UE", "SMF", true},
				{2, decoder.ProtocolHTTP2, "Nsmf-PDUSESSION", "", "AMF", "SMF", true},
				{3, decoder.ProtocolPFCP, "Session Establishment Request", "", "SMF", "UPF", true},
				{4, decoder.ProtocolPFCP, "Session Establishment Response", "", "UPF", "SMF", true},
				{5, decoder.ProtocolNGAP, "PDUSessionResourceSetup", "", "AMF", "gNB", true},
				{6, decoder.ProtocolNAS, "PDU Session Establishment Accept", "", "SMF", "UE", true},
			},
		},
	}
}
