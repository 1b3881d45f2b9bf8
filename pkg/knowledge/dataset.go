// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package knowledge

// The built-in dataset. It must cover at least the error codes consumed by
// the analysis rules; everything else is operator reference material.

func (b *Base) loadBuiltin() {
	b.loadStandards()
	b.loadProcedures()
	b.loadErrorCodes()
	b.loadVendorExtensions()
	b.loadCallFlows()
}

func (b *Base) loadStandards() {
	for _, s := range []*Standard{
		{
			ID:           "TS 29.002",
			Title:        "Mobile Application Part (MAP) specification",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/29002.htm",
			Organization: "3GPP",
			Protocols:    []string{"MAP"},
			Description:  "MAP protocol for GSM/UMTS core network signaling (HLR, VLR, MSC, SGSN).",
			Sections: []Section{
				{Number: "7.6.1", Title: "MAP Error Codes", MessageType: "Error"},
				{Number: "9.1", Title: "Location Management Procedures", MessageType: "UpdateLocation"},
				{Number: "10.1", Title: "Subscriber Management", MessageType: "InsertSubscriberData"},
			},
		},
		{
			ID:           "TS 29.078",
			Title:        "Customised Applications for Mobile network Enhanced Logic (CAMEL) Phase 4; CAMEL Application Part (CAP) specification",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/29078.htm",
			Organization: "3GPP",
			Protocols:    []string{"CAP"},
			Description:  "CAP protocol for intelligent network services and prepaid charging.",
			Sections: []Section{
				{Number: "4.2", Title: "CAMEL Service Logic", MessageType: "InitialDP"},
				{Number: "5.1", Title: "Circuit Switched Calls", MessageType: "Connect"},
			},
		},
		{
			ID:           "TS 29.272",
			Title:        "Evolved Packet System (EPS); Mobility Management Entity (MME) and Serving GPRS Support Node (SGSN) related interfaces based on Diameter protocol",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/29272.htm",
			Organization: "3GPP",
			Protocols:    []string{"S6a", "S6d", "Diameter"},
			Description:  "S6a and S6d Diameter interfaces between MME/SGSN and HSS.",
			Sections: []Section{
				{Number: "7.2.3", Title: "Update Location Request", MessageType: "ULR"},
				{Number: "7.2.4", Title: "Update Location Answer", MessageType: "ULA"},
				{Number: "7.2.7", Title: "Authentication Information Request", MessageType: "AIR"},
				{Number: "7.4", Title: "Result-Code and Experimental-Result-Code Values", MessageType: "Result"},
			},
		},
		{
			ID:           "TS 29.273",
			Title:        "Evolved Packet System (EPS); 3GPP EPS AAA interfaces",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/29273.htm",
			Organization: "3GPP",
			Protocols:    []string{"SWm", "SWx", "Diameter"},
			Description:  "SWm and SWx Diameter interfaces for non-3GPP access.",
			Sections: []Section{
				{Number: "8.2.2", Title: "Diameter-EAP-Request", MessageType: "DER"},
				{Number: "8.2.3", Title: "Diameter-EAP-Answer", MessageType: "DEA"},
			},
		},
		{
			ID:           "TS 29.274",
			Title:        "3GPP Evolved Packet System (EPS); Evolved General Packet Radio Service (GPRS) Tunnelling Protocol for Control plane (GTPv2-C)",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/29274.htm",
			Organization: "3GPP",
			Protocols:    []string{"GTPv2-C", "GTP"},
			Description:  "GTPv2-C control plane protocol on the S4, S5, S8 and S11 interfaces.",
			Sections: []Section{
				{Number: "7.2.1", Title: "Create Session Request", MessageType: "CreateSessionRequest"},
				{Number: "7.2.2", Title: "Create Session Response", MessageType: "CreateSessionResponse"},
				{Number: "8.4", Title: "Cause Values", MessageType: "Cause"},
			},
		},
		{
			ID:           "TS 29.244",
			Title:        "Interface between the Control Plane and the User Plane nodes (PFCP)",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/29244.htm",
			Organization: "3GPP",
			Protocols:    []string{"PFCP", "N4"},
			Description:  "PFCP protocol for SMF-UPF communication on the N4 interface.",
			Sections: []Section{
				{Number: "7.4.2", Title: "Session Establishment", MessageType: "SessionEstablishmentRequest"},
				{Number: "8.2", Title: "Cause Values", MessageType: "Cause"},
			},
		},
		{
			ID:           "TS 38.413",
			Title:        "NG-RAN; NG Application Protocol (NGAP)",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/38413.htm",
			Organization: "3GPP",
			Protocols:    []string{"NGAP", "N2", "5G"},
			Description:  "NGAP protocol between gNB and AMF on the N2 interface.",
			Sections: []Section{
				{Number: "8.3.1", Title: "Initial UE Message", MessageType: "InitialUEMessage"},
				{Number: "8.6.1", Title: "Initial Context Setup Request", MessageType: "InitialContextSetupRequest"},
				{Number: "9.3.1", Title: "Cause", MessageType: "Cause"},
			},
		},
		{
			ID:           "TS 36.413",
			Title:        "Evolved Universal Terrestrial Radio Access Network (E-UTRAN); S1 Application Protocol (S1AP)",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/36413.htm",
			Organization: "3GPP",
			Protocols:    []string{"S1AP", "S1", "4G"},
			Description:  "S1AP protocol between eNB and MME on the S1-MME interface.",
			Sections: []Section{
				{Number: "8.3.1", Title: "Initial UE Message", MessageType: "InitialUEMessage"},
				{Number: "8.6.1", Title: "Initial Context Setup Request", MessageType: "InitialContextSetupRequest"},
				{Number: "9.2.1", Title: "Cause", MessageType: "Cause"},
			},
		},
		{
			ID:           "TS 24.301",
			Title:        "Non-Access-Stratum (NAS) protocol for Evolved Packet System (EPS)",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/24301.htm",
			Organization: "3GPP",
			Protocols:    []string{"NAS", "EPS", "4G"},
			Description:  "NAS signaling between UE and MME in LTE/EPS networks.",
			Sections: []Section{
				{Number: "8.2.1", Title: "Attach Request", MessageType: "AttachRequest"},
				{Number: "8.2.2", Title: "Attach Accept", MessageType: "AttachAccept"},
				{Number: "9.9.3", Title: "EMM Cause", MessageType: "Cause"},
			},
		},
		{
			ID:           "TS 24.501",
			Title:        "Non-Access-Stratum (NAS) protocol for 5G System (5GS)",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/24501.htm",
			Organization: "3GPP",
			Protocols:    []string{"NAS", "5GS", "5G"},
			Description:  "NAS signaling between UE and AMF in 5G networks.",
			Sections: []Section{
				{Number: "8.2.6", Title: "Registration Request", MessageType: "RegistrationRequest"},
				{Number: "8.2.7", Title: "Registration Accept", MessageType: "RegistrationAccept"},
				{Number: "9.11.3", Title: "5GMM Cause", MessageType: "Cause"},
			},
		},
		{
			ID:           "TS 29.500",
			Title:        "5G System; Technical Realization of Service Based Architecture",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/29500.htm",
			Organization: "3GPP",
			Protocols:    []string{"HTTP2", "SBI"},
			Description:  "HTTP/2-based Service-Based Interface for the 5G core.",
			Sections: []Section{
				{Number: "6.1", Title: "HTTP/2 Usage", MessageType: "HTTP"},
				{Number: "6.10", Title: "Error Handling", MessageType: "ProblemDetails"},
			},
		},
		{
			ID:           "TS 23.401",
			Title:        "General Packet Radio Service (GPRS) enhancements for Evolved Universal Terrestrial Radio Access Network (E-UTRAN) access",
			Version:      "Release 16",
			URL:          "https://www.3gpp.org/DynaReport/23401.htm",
			Organization: "3GPP",
			Protocols:    []string{"EPC"},
			Description:  "EPC architecture and procedures for 4G/LTE, including initial attach and detach.",
			Sections: []Section{
				{Number: "5.3.2", Title: "E-UTRAN Initial Attach", MessageType: "Attach"},
				{Number: "5.3.3", Title: "Detach", MessageType: "Detach"},
			},
		},
		{
			ID:           "RFC 6733",
			Title:        "Diameter Base Protocol",
			Version:      "October 2012",
			URL:          "https://www.rfc-editor.org/rfc/rfc6733.html",
			Organization: "IETF",
			Protocols:    []string{"Diameter"},
			Description:  "Base Diameter protocol (AAA framework).",
		},
		{
			ID:           "RFC 7540",
			Title:        "Hypertext Transfer Protocol Version 2 (HTTP/2)",
			Version:      "May 2015",
			URL:          "https://www.rfc-editor.org/rfc/rfc7540.html",
			Organization: "IETF",
			Protocols:    []string{"HTTP2"},
			Description:  "HTTP/2 protocol used by the 5G Service-Based Architecture.",
		},
		{
			ID:           "RFC 4960",
			Title:        "Stream Control Transmission Protocol (SCTP)",
			Version:      "September 2007",
			URL:          "https://www.rfc-editor.org/rfc/rfc4960.html",
			Organization: "IETF",
			Protocols:    []string{"SCTP"},
			Description:  "SCTP transport carrying NGAP and S1AP signaling.",
		},
	} {
		b.addStandard(s)
	}
}

func (b *Base) loadProcedures() {
	for _, p := range []*Procedure{
		{
			StandardID:  "TS 29.272",
			Section:     "7.2.3",
			Protocol:    "Diameter",
			Name:        "Update Location Request/Answer",
			MessageType: "ULR/ULA",
			Description: "Sent by MME to HSS to update subscriber location and retrieve subscriber data when UE attaches or moves to a new tracking area.",
			Purpose:     "Informs HSS of the subscriber's current MME and retrieves subscription data including APN configurations and roaming restrictions.",
			IEs:         []string{"User-Name (IMSI)", "Visited-PLMN-Id", "ULR-Flags", "RAT-Type"},
			Steps: []FlowStep{
				{Step: 1, Source: "MME", Destination: "HSS", Message: "Update-Location-Request", Description: "MME updates UE location"},
				{Step: 2, Source: "HSS", Destination: "MME", Message: "Update-Location-Answer", Description: "HSS confirms and returns subscription data"},
			},
		},
		{
			StandardID:  "TS 29.272",
			Section:     "7.2.5",
			Protocol:    "Diameter",
			Name:        "Authentication Information Request/Answer",
			MessageType: "AIR/AIA",
			Description: "Sent by MME to HSS to request authentication vectors for UE authentication.",
			Purpose:     "Retrieves authentication vectors (RAND, AUTN, XRES, KASME) for EPS-AKA authentication.",
			IEs:         []string{"User-Name (IMSI)", "Requested-EUTRAN-Authentication-Info"},
			Steps: []FlowStep{
				{Step: 1, Source: "MME", Destination: "HSS", Message: "Authentication-Information-Request", Description: "MME requests authentication vectors"},
				{Step: 2, Source: "HSS", Destination: "MME", Message: "Authentication-Information-Answer", Description: "HSS provides authentication vectors"},
			},
		},
		{
			StandardID:  "TS 29.274",
			Section:     "7.2.1",
			Protocol:    "GTPv2-C",
			Name:        "Create Session Request/Response",
			MessageType: "CSReq/CSResp",
			Description: "Sent by MME/SGSN to SGW/PGW to create a new session for a UE.",
			Purpose:     "Establishes GTP tunnels (bearers) for user plane traffic between eNB, SGW and PGW.",
			IEs:         []string{"IMSI", "MSISDN", "APN", "RAT-Type", "Bearer-Contexts", "PDN-Type"},
			Steps: []FlowStep{
				{Step: 1, Source: "MME", Destination: "SGW", Message: "Create Session Request", Description: "MME requests default bearer"},
				{Step: 2, Source: "SGW", Destination: "PGW", Message: "Create Session Request", Description: "SGW forwards to PGW"},
				{Step: 3, Source: "PGW", Destination: "SGW", Message: "Create Session Response", Description: "PGW allocates IP address and accepts"},
				{Step: 4, Source: "SGW", Destination: "MME", Message: "Create Session Response", Description: "SGW confirms to MME"},
			},
		},
		{
			StandardID:  "TS 29.274",
			Section:     "7.2.7",
			Protocol:    "GTPv2-C",
			Name:        "Delete Session Request/Response",
			MessageType: "DSReq/DSResp",
			Description: "Sent to delete an existing PDN connection.",
			Purpose:     "Releases GTP tunnels and resources when UE detaches or the PDN connection is deleted.",
			IEs:         []string{"Cause", "EBI (EPS Bearer Identity)"},
			Steps: []FlowStep{
				{Step: 1, Source: "MME", Destination: "SGW", Message: "Delete Session Request", Description: "MME tears down the bearer"},
				{Step: 2, Source: "SGW", Destination: "MME", Message: "Delete Session Response", Description: "SGW confirms release"},
			},
		},
		{
			StandardID:  "TS 29.244",
			Section:     "7.4.2",
			Protocol:    "PFCP",
			Name:        "Session Establishment Request/Response",
			MessageType: "SessionEstablishment",
			Description: "Sent by SMF to UPF to establish a PFCP session for a 5G PDU session.",
			Purpose:     "Creates packet forwarding rules in the UPF for user plane traffic.",
			IEs:         []string{"Node ID", "F-SEID", "PDR", "FAR", "QER"},
			Steps: []FlowStep{
				{Step: 1, Source: "SMF", Destination: "UPF", Message: "Session Establishment Request", Description: "SMF installs forwarding rules"},
				{Step: 2, Source: "UPF", Destination: "SMF", Message: "Session Establishment Response", Description: "UPF allocates F-SEID and confirms"},
			},
		},
		{
			StandardID:  "TS 29.002",
			Section:     "9.1",
			Protocol:    "MAP",
			Name:        "Update Location",
			MessageType: "UpdateLocationArg/UpdateLocationRes",
			Description: "Sent by VLR to HLR when a subscriber enters a new location area.",
			Purpose:     "Updates subscriber location in the HLR and retrieves subscriber data.",
			IEs:         []string{"IMSI", "MSC Number", "VLR Number", "LMSI"},
			Steps: []FlowStep{
				{Step: 1, Source: "VLR", Destination: "HLR", Message: "UpdateLocation", Description: "VLR reports the new location area"},
				{Step: 2, Source: "HLR", Destination: "VLR", Message: "InsertSubscriberData", Description: "HLR pushes the subscriber profile"},
				{Step: 3, Source: "VLR", Destination: "HLR", Message: "UpdateLocation Result", Description: "HLR confirms the update"},
			},
		},
		{
			StandardID:  "TS 38.413",
			Section:     "8.6.1",
			Protocol:    "NGAP",
			Name:        "Initial Context Setup",
			MessageType: "InitialContextSetupRequest/Response",
			Description: "Sent by AMF to gNB to establish the initial UE context after registration.",
			Purpose:     "Configures radio resources, security and QoS for the UE in the 5G network.",
			IEs:         []string{"AMF-UE-NGAP-ID", "RAN-UE-NGAP-ID", "PDU-Session-Resource-Setup-List", "Security-Key"},
			Steps: []FlowStep{
				{Step: 1, Source: "AMF", Destination: "gNB", Message: "Initial Context Setup Request", Description: "AMF requests UE context"},
				{Step: 2, Source: "gNB", Destination: "AMF", Message: "Initial Context Setup Response", Description: "gNB confirms radio resources"},
			},
		},
		{
			StandardID:  "TS 36.413",
			Section:     "8.6.1",
			Protocol:    "S1AP",
			Name:        "Initial Context Setup",
			MessageType: "InitialContextSetupRequest/Response",
			Description: "Sent by MME to eNB to establish the initial UE context after attach.",
			Purpose:     "Configures radio resources, security and bearers for the UE in the LTE network.",
			IEs:         []string{"MME-UE-S1AP-ID", "eNB-UE-S1AP-ID", "E-RABToBeSetupList", "Security-Key"},
			Steps: []FlowStep{
				{Step: 1, Source: "MME", Destination: "eNB", Message: "Initial Context Setup Request", Description: "MME requests UE context"},
				{Step: 2, Source: "eNB", Destination: "MME", Message: "Initial Context Setup Response", Description: "eNB confirms bearers"},
			},
		},
	} {
		b.addProcedure(p)
	}
}

func (b *Base) loadErrorCodes() {
	for _, e := range []*ErrorCodeEntry{
		// Diameter result codes, TS 29.272 / RFC 6733.
		{
			Protocol:    "Diameter",
			Code:        3002,
			Name:        "DIAMETER_UNABLE_TO_DELIVER",
			Description: "The message could not be delivered to the destination host.",
			Causes:      "Destination unreachable, routing problem, peer down, congestion.",
			Recommendations: []string{
				"Verify network connectivity to the HSS",
				"Check Diameter routing configuration",
				"Verify the destination host is operational",
				"Review DRA/DEA routing tables",
			},
			StandardRef: "RFC 6733 Section 7.1.3",
			Severity:    SeverityCritical,
		},
		{
			Protocol:    "Diameter",
			Code:        3003,
			Name:        "DIAMETER_REALM_NOT_SERVED",
			Description: "The realm in the Destination-Realm AVP is not served by any peer.",
			Causes:      "Incorrect realm configuration, DRA misconfiguration, typo in realm name.",
			Recommendations: []string{
				"Verify the Destination-Realm AVP value",
				"Check DRA routing configuration for the realm",
				"Ensure peer connections are established",
			},
			StandardRef: "RFC 6733 Section 7.1.3",
			Severity:    SeverityCritical,
		},
		{
			Protocol:    "Diameter",
			Code:        4181,
			Name:        "DIAMETER_AUTHENTICATION_DATA_UNAVAILABLE",
			Description: "The HSS cannot provide authentication vectors for the subscriber.",
			Causes:      "K/OPC keys not provisioned, crypto module failure, HSS database error.",
			Recommendations: []string{
				"Verify authentication keys are provisioned",
				"Check the HSS crypto module status",
				"Review HSS error logs",
				"Verify HSS database connectivity",
			},
			StandardRef: "3GPP TS 29.272 Section 7.4.4",
			Severity:    SeverityCritical,
		},
		{
			Protocol:    "Diameter",
			Code:        5001,
			Name:        "DIAMETER_ERROR_USER_UNKNOWN",
			Description: "The specified user (IMSI) is not known in the HSS/HLR.",
			Causes:      "Subscriber not provisioned in HSS, IMSI typo, database synchronization issue, subscriber deleted but still cached in the network.",
			Recommendations: []string{
				"Verify the IMSI is correctly provisioned in the HSS",
				"Check the HSS database for the subscriber record",
				"Verify no recent provisioning changes",
				"Clear stale cache in the MME if applicable",
			},
			StandardRef: "3GPP TS 29.272 Section 7.4.3",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "Diameter",
			Code:        5004,
			Name:        "DIAMETER_ERROR_ROAMING_NOT_ALLOWED",
			Description: "Roaming is not allowed for this subscriber in the visited network.",
			Causes:      "Roaming agreement not in place, subscriber barred from roaming, visited PLMN not in the allowed PLMN list.",
			Recommendations: []string{
				"Verify roaming agreements between operators",
				"Check subscriber roaming permissions in the HSS",
				"Validate the Visited-PLMN-Id in the ULR message",
				"Review roaming restrictions in the subscription profile",
			},
			StandardRef: "3GPP TS 29.272 Section 7.4.3",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "Diameter",
			Code:        5012,
			Name:        "DIAMETER_ERROR_RAT_NOT_ALLOWED",
			Description: "The Radio Access Technology type is not permitted for this subscriber.",
			Causes:      "RAT restrictions in the subscriber profile, network access mode limitations.",
			Recommendations: []string{
				"Check subscriber access restrictions",
				"Verify the RAT-Type parameter",
				"Review the subscriber service profile",
				"Update subscriber access permissions if needed",
			},
			StandardRef: "3GPP TS 29.272 Section 7.4.3",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "Diameter",
			Code:        5420,
			Name:        "DIAMETER_ERROR_UNKNOWN_EPS_SUBSCRIPTION",
			Description: "The HSS has no EPS subscription data for this user.",
			Causes:      "Subscriber has only 2G/3G subscription, EPS not activated, migration to LTE not completed.",
			Recommendations: []string{
				"Verify the EPS subscription is provisioned in the HSS",
				"Check whether the subscriber has LTE service activated",
				"Ensure APN configurations are present",
			},
			StandardRef: "3GPP TS 29.272 Section 7.4.4",
			Severity:    SeverityMajor,
		},
		// GTP cause values, TS 29.274. GTPv1 and GTPv2 share this table.
		{
			Protocol:    "GTP",
			Code:        64,
			Name:        "Context Not Found",
			Description: "The requested GTP context (bearer/session) does not exist on the receiving node.",
			Causes:      "Session already deleted, TEID mismatch, SGW/PGW restart without state sync.",
			Recommendations: []string{
				"Check the session lifecycle; it may have been legitimately deleted",
				"Verify the TEID values in messages",
				"Check for recent SGW/PGW restarts",
				"Enable the GTP echo procedure for peer monitoring",
			},
			StandardRef: "3GPP TS 29.274 Section 8.4",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "GTP",
			Code:        67,
			Name:        "Missing or Unknown APN",
			Description: "The Access Point Name is not configured or not recognized by the PGW.",
			Causes:      "APN not provisioned in the PGW, typo in the APN name, APN not in the HSS subscription.",
			Recommendations: []string{
				"Verify the APN is configured in the PGW",
				"Check the APN name in the Create Session Request",
				"Validate the APN in the HSS subscription profile",
				"Ensure a default APN is configured if the UE does not send one",
			},
			StandardRef: "3GPP TS 29.274 Section 8.4",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "GTP",
			Code:        72,
			Name:        "Semantic Error in TFT Operation",
			Description: "The Traffic Flow Template carries semantic errors.",
			Causes:      "Invalid packet filter, conflicting TFT rules, duplicate precedence values.",
			Recommendations: []string{
				"Validate TFT packet filter syntax",
				"Check for conflicting filter rules",
				"Ensure precedence values are unique",
			},
			StandardRef: "3GPP TS 29.274 Section 8.4",
			Severity:    SeverityMinor,
		},
		{
			Protocol:    "GTP",
			Code:        73,
			Name:        "No Resources Available",
			Description: "The node has insufficient resources to handle the request.",
			Causes:      "Memory exhaustion, bearer limit reached, CPU overload, license limitation.",
			Recommendations: []string{
				"Check SGW/PGW resource utilization",
				"Verify license bearer capacity",
				"Review the active session count",
				"Consider load balancing or scaling",
			},
			StandardRef: "3GPP TS 29.274 Section 8.4",
			Severity:    SeverityCritical,
		},
		{
			Protocol:    "GTP",
			Code:        91,
			Name:        "No Resources Available",
			Description: "The node has insufficient resources to handle the request (legacy alias of cause 73).",
			Causes:      "Memory exhaustion, bearer limit reached, CPU overload, license limitation.",
			Recommendations: []string{
				"Check SGW/PGW resource utilization",
				"Verify license bearer capacity",
				"Review the active session count",
				"Consider load balancing or scaling",
			},
			StandardRef: "3GPP TS 29.274 Section 8.4",
			Severity:    SeverityCritical,
		},
		{
			Protocol:    "GTP",
			Code:        93,
			Name:        "Request Rejected",
			Description: "The request was rejected by the receiving node (generic rejection).",
			Causes:      "Policy violation, feature not supported, administrative restriction, temporary overload.",
			Recommendations: []string{
				"Check the detailed cause in the message",
				"Review policy rules",
				"Verify feature support on both ends",
			},
			StandardRef: "3GPP TS 29.274 Section 8.4",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "GTP",
			Code:        95,
			Name:        "APN Restriction Type Incompatible",
			Description: "The requested APN restriction is incompatible with an active bearer.",
			Causes:      "APN configuration mismatch, mobility restrictions, handover constraints.",
			Recommendations: []string{
				"Verify the APN restriction configuration",
				"Check handover source/target restrictions",
				"Ensure consistent APN configuration across PGWs",
			},
			StandardRef: "3GPP TS 29.274 Section 8.4",
			Severity:    SeverityMajor,
		},
		// MAP user errors, TS 29.002.
		{
			Protocol:    "MAP",
			Code:        1,
			Name:        "Unknown Subscriber",
			Description: "The subscriber identity (IMSI) is not known in the HLR.",
			Causes:      "IMSI not provisioned, subscriber deleted, incorrect IMSI value in the message.",
			Recommendations: []string{
				"Verify the IMSI exists in the HLR",
				"Check for recent deletions",
				"Validate the IMSI format (MCC-MNC-MSIN)",
			},
			StandardRef: "3GPP TS 29.002 Section 17.7.1",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "MAP",
			Code:        8,
			Name:        "Roaming Not Allowed",
			Description: "The subscriber is not allowed to roam in the requested network.",
			Causes:      "No roaming agreement, PLMN not in the allowed list, operator determined barring.",
			Recommendations: []string{
				"Verify roaming agreements",
				"Check subscriber roaming permissions",
				"Review ODB settings",
			},
			StandardRef: "3GPP TS 29.002 Section 17.7.1",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "MAP",
			Code:        21,
			Name:        "Facility Not Supported",
			Description: "The requested supplementary service or feature is not supported.",
			Causes:      "Service not subscribed, feature not supported by the network, protocol version mismatch.",
			Recommendations: []string{
				"Check the supplementary service subscription",
				"Verify feature support in the network",
				"Check MAP protocol version compatibility",
			},
			StandardRef: "3GPP TS 29.002 Section 17.7.1",
			Severity:    SeverityMinor,
		},
		{
			Protocol:    "MAP",
			Code:        27,
			Name:        "Absent Subscriber",
			Description: "The subscriber is not reachable (phone off, out of coverage).",
			Causes:      "UE powered off, out of coverage, IMSI detached.",
			Recommendations: []string{
				"Check the subscriber's last known location",
				"Verify network coverage in the area",
				"Review attach/detach history",
			},
			StandardRef: "3GPP TS 29.002 Section 17.7.1",
			Severity:    SeverityMinor,
		},
		{
			Protocol:    "MAP",
			Code:        34,
			Name:        "System Failure",
			Description: "General system failure in the responding network node.",
			Causes:      "Database error, hardware failure, software crash, resource exhaustion.",
			Recommendations: []string{
				"Check HLR/VLR logs for specific errors",
				"Verify database connectivity",
				"Review system resource usage",
				"Restart the affected service if needed",
			},
			StandardRef: "3GPP TS 29.002 Section 17.7.1",
			Severity:    SeverityCritical,
		},
		// NAS EMM causes, TS 24.301.
		{
			Protocol:    "NAS",
			Code:        7,
			Name:        "EPS Services Not Allowed",
			Description: "The UE is not allowed to access EPS services.",
			Causes:      "Subscription not active, service restrictions, network barring.",
			Recommendations: []string{
				"Verify the subscription status",
				"Check service entitlements",
				"Review access restrictions",
			},
			StandardRef: "3GPP TS 24.301 Section 9.9.3.9",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "NAS",
			Code:        11,
			Name:        "PLMN Not Allowed",
			Description: "The UE is not permitted to register on this PLMN.",
			Causes:      "Roaming not allowed, PLMN in the forbidden list, no roaming agreement.",
			Recommendations: []string{
				"Check roaming agreements",
				"Verify the PLMN ID configuration",
				"Check the forbidden PLMN list on the UE side",
			},
			StandardRef: "3GPP TS 24.301 Section 9.9.3.9",
			Severity:    SeverityMajor,
		},
		{
			Protocol:    "NAS",
			Code:        22,
			Name:        "Congestion",
			Description: "The network is experiencing congestion.",
			Causes:      "Network overload, too many simultaneous connections, resource shortage.",
			Recommendations: []string{
				"Check network load statistics",
				"Consider access class barring",
				"Review capacity planning",
			},
			StandardRef: "3GPP TS 24.301 Section 9.9.3.9",
			Severity:    SeverityMajor,
		},
		// NGAP radio network causes, TS 38.413.
		{
			Protocol:    "NGAP",
			Code:        0,
			Name:        "Radio Connection With UE Lost",
			Description: "The radio connection to the UE has been lost.",
			Causes:      "UE moved out of coverage, interference, handover failure, UE power off.",
			Recommendations: []string{
				"Check radio conditions in the cell",
				"Review the handover success rate",
				"Analyze interference levels",
			},
			StandardRef: "3GPP TS 38.413 Section 9.3.1.2",
			Severity:    SeverityMinor,
		},
		{
			Protocol:    "NGAP",
			Code:        1,
			Name:        "Failure In Radio Interface Procedure",
			Description: "An RRC procedure towards the UE failed.",
			Causes:      "RRC setup or reconfiguration failure, incompatible UE capabilities.",
			Recommendations: []string{
				"Review the RRC configuration",
				"Check UE capability compatibility",
				"Analyze RRC failure statistics",
			},
			StandardRef: "3GPP TS 38.413 Section 9.3.1.2",
			Severity:    SeverityMajor,
		},
	} {
		b.addErrorCode(e)
	}
}

func (b *Base) loadVendorExtensions() {
	for _, v := range []*VendorExtension{
		{
			Vendor:      "Ericsson",
			Protocol:    "Diameter",
			Extension:   "Ericsson-Specific-AVP",
			Code:        193,
			Description: "Ericsson proprietary AVP for session management.",
			Usage:       "Used on the S6a interface for Ericsson-specific subscriber data.",
		},
		{
			Vendor:      "Ericsson",
			Protocol:    "GTP",
			Extension:   "Private-Extension-IE",
			Code:        255,
			Description: "Private extension IE carried between Ericsson nodes.",
			Usage:       "Carries vendor-specific information between Ericsson nodes.",
		},
		{
			Vendor:      "Huawei",
			Protocol:    "Diameter",
			Extension:   "Huawei-Charging-Info",
			Code:        2011,
			Description: "Huawei-specific charging information AVP.",
			Usage:       "Used for Huawei billing system integration.",
		},
		{
			Vendor:      "Huawei",
			Protocol:    "GTP",
			Extension:   "Huawei-QoS-Extension",
			Code:        240,
			Description: "Extended QoS parameters for Huawei equipment.",
			Usage:       "Enhanced QoS control in Huawei EPC.",
		},
		{
			Vendor:      "ZTE",
			Protocol:    "Diameter",
			Extension:   "ZTE-User-Location",
			Code:        3001,
			Description: "ZTE enhanced user location information.",
			Usage:       "Detailed location tracking in ZTE HSS.",
		},
		{
			Vendor:      "Nokia",
			Protocol:    "MAP",
			Extension:   "Nokia-Supplementary-Service",
			Code:        150,
			Description: "Nokia-specific supplementary service extensions.",
			Usage:       "Advanced CAMEL features in Nokia HLR.",
		},
		{
			Vendor:      "Cisco",
			Protocol:    "GTP",
			Extension:   "Cisco-Session-Priority",
			Code:        245,
			Description: "Cisco session priority marking.",
			Usage:       "QoS prioritization in Cisco ASR routers.",
		},
	} {
		b.addVendorExtension(v)
	}
}

func (b *Base) loadCallFlows() {
	b.addCallFlow("4G_Attach", &CallFlow{
		Name:        "4G E-UTRAN Initial Attach",
		Protocol:    "EPS",
		Type:        "Attach",
		Generation:  "4G",
		StandardRef: "3GPP TS 23.401 Section 5.3.2",
		Steps: []FlowStep{
			{Step: 1, Source: "UE", Destination: "MME", Message: "Attach Request", Description: "UE sends attach request"},
			{Step: 2, Source: "MME", Destination: "HSS", Message: "Authentication-Information-Request", Description: "MME requests authentication vectors"},
			{Step: 3, Source: "HSS", Destination: "MME", Message: "Authentication-Information-Answer", Description: "HSS provides authentication vectors"},
			{Step: 4, Source: "MME", Destination: "UE", Message: "Authentication Request", Description: "MME challenges the UE"},
			{Step: 5, Source: "UE", Destination: "MME", Message: "Authentication Response", Description: "UE responds with RES"},
			{Step: 6, Source: "MME", Destination: "HSS", Message: "Update-Location-Request", Description: "MME updates UE location in HSS"},
			{Step: 7, Source: "HSS", Destination: "MME", Message: "Update-Location-Answer", Description: "HSS confirms location update"},
			{Step: 8, Source: "MME", Destination: "SGW", Message: "Create Session Request", Description: "MME requests the default bearer"},
			{Step: 9, Source: "SGW", Destination: "MME", Message: "Create Session Response", Description: "SGW confirms the session"},
			{Step: 10, Source: "MME", Destination: "eNB", Message: "Initial Context Setup Request", Description: "MME requests radio bearers"},
			{Step: 11, Source: "eNB", Destination: "MME", Message: "Initial Context Setup Response", Description: "eNB confirms radio bearers"},
			{Step: 12, Source: "MME", Destination: "UE", Message: "Attach Accept", Description: "MME accepts the attach"},
			{Step: 13, Source: "UE", Destination: "MME", Message: "Attach Complete", Description: "UE confirms the attach"},
		},
	})

	b.addCallFlow("5G_Registration", &CallFlow{
		Name:        "5G Initial Registration",
		Protocol:    "5GS",
		Type:        "Registration",
		Generation:  "5G",
		StandardRef: "3GPP TS 23.502 Section 4.2.2",
		Steps: []FlowStep{
			{Step: 1, Source: "UE", Destination: "AMF", Message: "Registration Request", Description: "UE sends registration request"},
			{Step: 2, Source: "AMF", Destination: "AUSF", Message: "Nausf_UEAuthentication_Authenticate Request", Description: "AMF requests authentication"},
			{Step: 3, Source: "AUSF", Destination: "AMF", Message: "Nausf_UEAuthentication_Authenticate Response", Description: "AUSF returns the 5G AV"},
			{Step: 4, Source: "AMF", Destination: "UE", Message: "Authentication Request", Description: "AMF challenges the UE"},
			{Step: 5, Source: "UE", Destination: "AMF", Message: "Authentication Response", Description: "UE responds with RES*"},
			{Step: 6, Source: "AMF", Destination: "UE", Message: "Security Mode Command", Description: "AMF activates NAS security"},
			{Step: 7, Source: "UE", Destination: "AMF", Message: "Security Mode Complete", Description: "UE confirms security"},
			{Step: 8, Source: "AMF", Destination: "UDM", Message: "Nudm_UECM_Registration", Description: "AMF registers with UDM"},
			{Step: 9, Source: "UDM", Destination: "AMF", Message: "Nudm_UECM_Registration Response", Description: "UDM confirms"},
			{Step: 10, Source: "AMF", Destination: "UE", Message: "Registration Accept", Description: "AMF accepts registration"},
			{Step: 11, Source: "UE", Destination: "AMF", Message: "Registration Complete", Description: "UE completes registration"},
		},
	})

	b.addCallFlow("5G_PDU_Session", &CallFlow{
		Name:        "5G PDU Session Establishment",
		Protocol:    "5GS",
		Type:        "SessionEstablishment",
		Generation:  "5G",
		StandardRef: "3GPP TS 23.502 Section 4.3.2",
		Steps: []FlowStep{
			{Step: 1, Source: "UE", Destination: "AMF", Message: "PDU Session Establishment Request", Description: "UE requests a PDU session"},
			{Step: 2, Source: "AMF", Destination: "SMF", Message: "Nsmf_PDUSession_CreateSMContext Request", Description: "AMF selects an SMF"},
			{Step: 3, Source: "SMF", Destination: "UPF", Message: "Session Establishment Request", Description: "SMF installs forwarding rules"},
			{Step: 4, Source: "UPF", Destination: "SMF", Message: "Session Establishment Response", Description: "UPF confirms with F-SEID"},
			{Step: 5, Source: "SMF", Destination: "AMF", Message: "Nsmf_PDUSession_CreateSMContext Response", Description: "SMF confirms the SM context"},
			{Step: 6, Source: "AMF", Destination: "UE", Message: "PDU Session Establishment Accept", Description: "Session accepted"},
		},
	})
}
