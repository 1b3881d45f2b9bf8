// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package sbi decodes 5G service-based-interface traffic: HTTP/2 frames
// (RFC 7540) carrying the 3GPP TS 29.500 REST APIs between core network
// functions. HPACK header blocks are decoded per payload; cross-payload
// dynamic-table state is not tracked, which is acceptable for the probe
// feeds the monitor receives (each unit carries a self-contained block).
package sbi

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/knowledge"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// serviceNodes maps the SBI service prefix to the consumer and producer
// roles of its API.
var serviceNodes = map[string][2]decoder.NodeType{
	"nudm-uecm":            {decoder.NodeAMF, decoder.NodeUDM},
	"nudm-sdm":             {decoder.NodeAMF, decoder.NodeUDM},
	"nausf-auth":           {decoder.NodeAMF, decoder.NodeAUSF},
	"nsmf-pdusession":      {decoder.NodeAMF, decoder.NodeSMF},
	"namf-comm":            {decoder.NodeSMF, decoder.NodeAMF},
	"npcf-smpolicycontrol": {decoder.NodeSMF, decoder.NodePCF},
	"nnrf-disc":            {decoder.NodeAMF, decoder.NodeNRF},
	"nnrf-nfm":             {decoder.NodeAMF, decoder.NodeNRF},
}

// Decoder decodes HTTP/2 SBI payloads.
type Decoder struct {
	kb *knowledge.Base
}

// New returns an SBI decoder.
func New(kb *knowledge.Base) *Decoder {
	return &Decoder{kb: kb}
}

// Protocol implements decoder.Decoder.
func (d *Decoder) Protocol() decoder.Protocol { return decoder.ProtocolHTTP2 }

// CanDecode claims payloads that start with the HTTP/2 connection preface or
// chain cleanly as HTTP/2 frames to the end of the buffer.
func (d *Decoder) CanDecode(payload []byte) bool {
	if strings.HasPrefix(string(payload), preface) {
		return true
	}
	i := 0
	frames := 0
	for i+9 <= len(payload) {
		length := int(payload[i])<<16 | int(payload[i+1])<<8 | int(payload[i+2])
		if payload[i+3] > 0x09 { // unknown frame type
			return false
		}
		i += 9 + length
		frames++
	}
	return frames > 0 && i == len(payload)
}

// stream accumulates one HTTP/2 stream's headers and body.
type stream struct {
	headers []hpack.HeaderField
	body    bytes.Buffer
	ended   bool
}

// Decode implements decoder.Decoder.
func (d *Decoder) Decode(payload []byte, meta *decoder.Metadata) (*decoder.Message, error) {
	data := payload
	if strings.HasPrefix(string(data), preface) {
		data = data[len(preface):]
	}

	streams := make(map[uint32]*stream)
	var order []uint32
	hdec := hpack.NewDecoder(4096, nil)
	framer := http2.NewFramer(nil, bytes.NewReader(data))

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			break
		}
		switch f := frame.(type) {
		case *http2.HeadersFrame:
			s := getStream(streams, &order, f.StreamID)
			fields, err := hdec.DecodeFull(f.HeaderBlockFragment())
			if err != nil {
				return nil, decoder.NewDecodeError(decoder.ProtocolHTTP2, "hpack: %v", err)
			}
			s.headers = append(s.headers, fields...)
			if f.StreamEnded() {
				s.ended = true
			}
		case *http2.ContinuationFrame:
			s := getStream(streams, &order, f.StreamID)
			fields, err := hdec.DecodeFull(f.HeaderBlockFragment())
			if err != nil {
				return nil, decoder.NewDecodeError(decoder.ProtocolHTTP2, "hpack: %v", err)
			}
			s.headers = append(s.headers, fields...)
		case *http2.DataFrame:
			s := getStream(streams, &order, f.StreamID)
			s.body.Write(f.Data())
			if f.StreamEnded() {
				s.ended = true
			}
		}
	}

	var chosen *stream
	var streamID uint32
	for _, id := range order {
		if len(streams[id].headers) > 0 {
			chosen, streamID = streams[id], id
			break
		}
	}
	if chosen == nil {
		return nil, decoder.NewDecodeError(decoder.ProtocolHTTP2, "no HEADERS frame in payload")
	}

	msg := decoder.NewMessage(decoder.ProtocolHTTP2, payload, meta)
	msg.Details["stream_id"] = streamID
	// Stream id doubles as the transaction id: request and response share it
	// within a connection.
	msg.TransactionID = fmt.Sprintf("%s:%d", msg.Source.IP, streamID)
	msg.SequenceNum = streamID
	d.fill(msg, chosen)
	return msg, nil
}

func getStream(streams map[uint32]*stream, order *[]uint32, id uint32) *stream {
	if s, ok := streams[id]; ok {
		return s
	}
	s := &stream{}
	streams[id] = s
	*order = append(*order, id)
	return s
}

func (d *Decoder) fill(msg *decoder.Message, s *stream) {
	var method, path, status string
	for _, h := range s.headers {
		switch h.Name {
		case ":method":
			method = h.Value
		case ":path":
			path = h.Value
		case ":status":
			status = h.Value
		case ":authority":
			msg.Details["authority"] = h.Value
		case "content-type":
			msg.Details["content_type"] = h.Value
		case "3gpp-sbi-message-priority":
			msg.Details["sbi_message_priority"] = h.Value
		}
	}

	switch {
	case method != "":
		msg.Direction = decoder.DirectionRequest
		msg.MessageType = "HTTP2_Request"
		msg.Details["method"] = method
		msg.Details["path"] = path
		msg.MessageName = requestName(method, path)
		d.extractPath(msg, path)
		d.inferNodes(msg, path, true)
	case status != "":
		msg.Direction = decoder.DirectionResponse
		msg.MessageType = "HTTP2_Response"
		code, _ := strconv.Atoi(status)
		msg.Details["status"] = code
		msg.MessageName = fmt.Sprintf("HTTP2 %s", status)
		if code >= 200 && code < 300 {
			msg.Result = decoder.ResultSuccess
		} else {
			msg.Result = decoder.ResultFailure
			msg.CauseCode = code
			d.extractProblemDetails(msg, s.body.Bytes())
		}
	default:
		msg.MessageType = "HTTP2_Headers"
		msg.MessageName = "HTTP2 Headers"
	}

	if s.body.Len() > 0 {
		msg.Details["body_size"] = s.body.Len()
		d.extractBodyIdentifiers(msg, s.body.Bytes())
	}
}

// requestName renders the SBI operation, e.g.
// "Nudm-UECM Registration" for PUT /nudm-uecm/v1/{supi}/registrations/....
func requestName(method, path string) string {
	segments := splitPath(path)
	if len(segments) == 0 {
		return method
	}
	service := segments[0]
	parts := strings.SplitN(service, "-", 2)
	if len(parts) == 2 && strings.HasPrefix(parts[0], "n") {
		service = strings.Title(parts[0]) + "-" + strings.ToUpper(parts[1])
	}
	op := segments[len(segments)-1]
	if strings.HasPrefix(op, "imsi-") || isDigits(op) {
		if len(segments) >= 2 {
			op = segments[len(segments)-2]
		}
	}
	return service + " " + strings.Title(strings.ReplaceAll(op, "-", " "))
}

// extractPath pulls the SUPI out of URI path segments like
// /nudm-uecm/v1/imsi-001010000000001/registrations/amf-3gpp-access.
func (d *Decoder) extractPath(msg *decoder.Message, path string) {
	for _, seg := range splitPath(path) {
		if strings.HasPrefix(seg, "imsi-") {
			msg.SUPI = seg
			imsi := strings.TrimPrefix(seg, "imsi-")
			if isDigits(imsi) && len(imsi) == 15 {
				msg.IMSI = imsi
			}
		} else if strings.HasPrefix(seg, "msisdn-") {
			msg.MSISDN = strings.TrimPrefix(seg, "msisdn-")
		}
	}
}

// extractProblemDetails reads the RFC 7807 problem body 5G SBI errors carry.
func (d *Decoder) extractProblemDetails(msg *decoder.Message, body []byte) {
	if len(body) == 0 {
		return
	}
	var problem struct {
		Cause  string `json:"cause"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &problem); err != nil {
		return
	}
	if problem.Cause != "" {
		msg.CauseText = problem.Cause
		msg.Details["problem_cause"] = problem.Cause
	}
	if problem.Detail != "" {
		msg.Details["problem_detail"] = problem.Detail
	}
}

// extractBodyIdentifiers scans a JSON body for the identifier fields the SBI
// APIs carry.
func (d *Decoder) extractBodyIdentifiers(msg *decoder.Message, body []byte) {
	var fields struct {
		SUPI string `json:"supi"`
		PEI  string `json:"pei"`
		GPSI string `json:"gpsi"`
		DNN  string `json:"dnn"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return
	}
	if fields.SUPI != "" && msg.SUPI == "" {
		msg.SUPI = fields.SUPI
		imsi := strings.TrimPrefix(fields.SUPI, "imsi-")
		if isDigits(imsi) && len(imsi) == 15 {
			msg.IMSI = imsi
		}
	}
	if fields.PEI != "" {
		msg.IMEI = strings.TrimPrefix(fields.PEI, "imei-")
	}
	if fields.GPSI != "" && msg.MSISDN == "" {
		msg.MSISDN = strings.TrimPrefix(fields.GPSI, "msisdn-")
	}
	if fields.DNN != "" {
		msg.DNN = fields.DNN
	}
}

func (d *Decoder) inferNodes(msg *decoder.Message, path string, request bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return
	}
	roles, ok := serviceNodes[segments[0]]
	if !ok {
		return
	}
	src, dst := roles[0], roles[1]
	if !request {
		src, dst = dst, src
	}
	msg.Source.Type, msg.Destination.Type = src, dst
}

func splitPath(path string) []string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
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
