// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package knowledge

// Severity levels used by error-code entries and the issues derived from them.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
	SeverityWarning  = "warning"
)

var validSeverities = map[string]bool{
	SeverityCritical: true,
	SeverityMajor:    true,
	SeverityMinor:    true,
	SeverityWarning:  true,
}

// Standard is one telecom standard document (3GPP TS, IETF RFC).
type Standard struct {
	ID           string    `json:"id" yaml:"id"`
	Title        string    `json:"title" yaml:"title"`
	Version      string    `json:"version" yaml:"version"`
	URL          string    `json:"url" yaml:"url"`
	Organization string    `json:"organization" yaml:"organization"`
	Protocols    []string  `json:"protocols" yaml:"protocols"`
	Description  string    `json:"description" yaml:"description"`
	Sections     []Section `json:"sections,omitempty" yaml:"sections"`
}

// Section points into a standard document.
type Section struct {
	Number      string `json:"number" yaml:"number"`
	Title       string `json:"title" yaml:"title"`
	MessageType string `json:"message_type,omitempty" yaml:"message_type"`
}

// Procedure describes one signaling procedure as specified by a standard.
type Procedure struct {
	StandardID  string     `json:"standard_id" yaml:"standard_id"`
	Section     string     `json:"section" yaml:"section"`
	Protocol    string     `json:"protocol" yaml:"protocol"`
	Name        string     `json:"name" yaml:"name"`
	MessageType string     `json:"message_type" yaml:"message_type"`
	Description string     `json:"description" yaml:"description"`
	Purpose     string     `json:"purpose" yaml:"purpose"`
	IEs         []string   `json:"ies,omitempty" yaml:"ies"`
	Steps       []FlowStep `json:"steps,omitempty" yaml:"steps"`
}

// FlowStep is one message exchange within a procedure or call flow.
type FlowStep struct {
	Step        int    `json:"step" yaml:"step"`
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	Message     string `json:"message" yaml:"message"`
	Description string `json:"description,omitempty" yaml:"description"`
	Optional    bool   `json:"optional,omitempty" yaml:"optional"`
}

// ErrorCodeEntry documents one protocol error or cause code: what it means,
// what usually causes it, and what to do about it.
type ErrorCodeEntry struct {
	Protocol        string   `json:"protocol" yaml:"protocol"`
	Code            int      `json:"code" yaml:"code"`
	Name            string   `json:"name" yaml:"name"`
	Description     string   `json:"description" yaml:"description"`
	Causes          string   `json:"causes" yaml:"causes"`
	Recommendations []string `json:"recommendations" yaml:"recommendations"`
	StandardRef     string   `json:"standard_ref" yaml:"standard_ref"`
	Severity        string   `json:"severity" yaml:"severity"`
}

// VendorExtension documents a vendor-specific IE or AVP seen on the wire.
type VendorExtension struct {
	Vendor      string `json:"vendor" yaml:"vendor"`
	Protocol    string `json:"protocol" yaml:"protocol"`
	Extension   string `json:"extension" yaml:"extension"`
	Code        int    `json:"code" yaml:"code"`
	Description string `json:"description" yaml:"description"`
	Usage       string `json:"usage" yaml:"usage"`
}

// CallFlow is a reference end-to-end message sequence for one procedure,
// used for display and for comparing captured flows against the standard.
type CallFlow struct {
	Name        string     `json:"name" yaml:"name"`
	Protocol    string     `json:"protocol" yaml:"protocol"`
	Type        string     `json:"type" yaml:"type"`
	Generation  string     `json:"generation" yaml:"generation"`
	Steps       []FlowStep `json:"steps" yaml:"steps"`
	StandardRef string     `json:"standard_ref" yaml:"standard_ref"`
}
