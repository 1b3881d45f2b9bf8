// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package decoder

import (
	"time"

	"github.com/google/uuid"
)

// Protocol tags the wire protocol a message was decoded from.
type Protocol string

const (
	ProtocolMAP      Protocol = "MAP"
	ProtocolCAP      Protocol = "CAP"
	ProtocolINAP     Protocol = "INAP"
	ProtocolDiameter Protocol = "Diameter"
	ProtocolGTPv1    Protocol = "GTPv1"
	ProtocolGTPv2    Protocol = "GTPv2"
	ProtocolPFCP     Protocol = "PFCP"
	ProtocolHTTP2    Protocol = "HTTP2"
	ProtocolNGAP     Protocol = "NGAP"
	ProtocolS1AP     Protocol = "S1AP"
	ProtocolNAS      Protocol = "NAS"
)

// Direction of a message relative to the procedure it belongs to.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
	DirectionUnknown  Direction = "unknown"
)

// Result of the procedure step carried by a message.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultTimeout Result = "timeout"
	ResultUnknown Result = "unknown"
)

// NodeType is the inferred role of a network element. Decoders infer it from
// the message type; composite roles like "MSC-VPLMN" are built from these.
type NodeType string

const (
	NodeMME     NodeType = "MME"
	NodeHSS     NodeType = "HSS"
	NodeSGW     NodeType = "SGW"
	NodePGW     NodeType = "PGW"
	NodeSGSN    NodeType = "SGSN"
	NodeGGSN    NodeType = "GGSN"
	NodeAMF     NodeType = "AMF"
	NodeSMF     NodeType = "SMF"
	NodeUPF     NodeType = "UPF"
	NodeUDM     NodeType = "UDM"
	NodeAUSF    NodeType = "AUSF"
	NodePCF     NodeType = "PCF"
	NodeNRF     NodeType = "NRF"
	NodeGNB     NodeType = "gNB"
	NodeENB     NodeType = "eNB"
	NodeMSC     NodeType = "MSC"
	NodeVLR     NodeType = "VLR"
	NodeHLR     NodeType = "HLR"
	NodeSMSC    NodeType = "SMSC"
	NodeSSP     NodeType = "SSP"
	NodeSCP     NodeType = "SCP"
	NodeUnknown NodeType = "Unknown"
)

// NetworkElement is one endpoint of a captured message.
type NetworkElement struct {
	IP   string   `json:"ip"`
	Port uint16   `json:"port"`
	Type NodeType `json:"node_type"`
}

// Metadata is what the capture source knows about a payload before decoding.
type Metadata struct {
	CaptureTime time.Time
	SourceIP    string
	DestIP      string
	SourcePort  uint16
	DestPort    uint16
	Transport   string // tcp | udp | sctp
	Interface   string
}

// Message is the uniform decoded record every decoder produces. It is
// immutable once returned: correlation, analysis and the writers share it by
// reference and never write to it.
type Message struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Protocol    Protocol  `json:"protocol"`
	MessageType string    `json:"message_type"`
	MessageName string    `json:"message_name"`
	Direction   Direction `json:"direction"`
	Result      Result    `json:"result"`
	CauseCode   int       `json:"cause_code,omitempty"`
	CauseText   string    `json:"cause_text,omitempty"`

	Source      NetworkElement `json:"source"`
	Destination NetworkElement `json:"destination"`

	// Correlation identifiers, empty/zero when absent.
	IMSI          string `json:"imsi,omitempty"`
	MSISDN        string `json:"msisdn,omitempty"`
	IMEI          string `json:"imei,omitempty"`
	SUPI          string `json:"supi,omitempty"`
	PLMN          string `json:"plmn,omitempty"`
	CellID        string `json:"cell_id,omitempty"`
	APN           string `json:"apn,omitempty"`
	DNN           string `json:"dnn,omitempty"`
	TEID          uint32 `json:"teid,omitempty"`
	SEID          uint64 `json:"seid,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	SequenceNum   uint32 `json:"sequence_num,omitempty"`
	AMFUEID       uint64 `json:"amf_ue_id,omitempty"`
	RANUEID       uint64 `json:"ran_ue_id,omitempty"`
	MMEUEID       uint64 `json:"mme_ue_id,omitempty"`
	ENBUEID       uint64 `json:"enb_ue_id,omitempty"`

	// Vendor is set when a vendor-specific IE or AVP was recognized.
	Vendor string `json:"vendor,omitempty"`

	Details map[string]interface{} `json:"details"`

	Raw              []byte `json:"-"`
	PayloadSize      int    `json:"payload_size"`
	DecodeTimeMicros int64  `json:"decode_time_us"`
}

// NewMessage builds a Message with the invariant fields every decoder shares:
// identity, capture timestamp, endpoints and payload accounting.
func NewMessage(protocol Protocol, payload []byte, meta *Metadata) *Message {
	if meta == nil {
		meta = &Metadata{}
	}
	return &Message{
		ID:          uuid.New().String(),
		Timestamp:   meta.CaptureTime,
		Protocol:    protocol,
		Direction:   DirectionUnknown,
		Result:      ResultUnknown,
		Source:      NetworkElement{IP: meta.SourceIP, Port: meta.SourcePort, Type: NodeUnknown},
		Destination: NetworkElement{IP: meta.DestIP, Port: meta.DestPort, Type: NodeUnknown},
		Details:     make(map[string]interface{}),
		Raw:         payload,
		PayloadSize: len(payload),
	}
}

// IsResponse reports whether the message closes a request/response pair.
func (m *Message) IsResponse() bool {
	return m.Direction == DirectionResponse
}
