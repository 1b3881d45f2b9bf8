// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package decoder defines the uniform Message model, the decoder registry and
// the shared wire-format helpers (BCD, APN, PLMN). Per-protocol decoders live
// in subpackages and register against the Registry.
package decoder

import (
	"expvar"
	"fmt"
	"time"

	"github.com/DataDog/sigmon/pkg/telemetry"
)

var (
	decoderExpvars     = expvar.NewMap("decoder")
	decoderErrors      = expvar.Int{}
	decoderNoneMatched = expvar.Int{}

	tlmDecoded = telemetry.NewCounter("decoder", "messages_total",
		"Messages decoded, by protocol.", "protocol")
	tlmDecodeErrors = telemetry.NewCounter("decoder", "errors_total",
		"Payloads a decoder claimed but failed to parse, by protocol.", "protocol")
	tlmNoDecoder = telemetry.NewCounter("decoder", "unclaimed_total",
		"Payloads no decoder claimed.")
)

func init() {
	decoderExpvars.Set("DecodeErrors", &decoderErrors)
	decoderExpvars.Set("UnclaimedPayloads", &decoderNoneMatched)
}

// Decoder is one protocol decoder. Implementations are stateless and
// reentrant; the registry calls them from multiple workers concurrently.
type Decoder interface {
	Protocol() Protocol
	// CanDecode probes the payload cheaply, without allocating.
	CanDecode(payload []byte) bool
	Decode(payload []byte, meta *Metadata) (*Message, error)
}

// DecodeError reports a payload that a decoder claimed but could not parse.
type DecodeError struct {
	Protocol Protocol
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %s", e.Protocol, e.Reason)
}

// NewDecodeError builds a DecodeError with a formatted reason.
func NewDecodeError(protocol Protocol, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Protocol: protocol, Reason: fmt.Sprintf(format, args...)}
}

// NoDecoderError reports a payload no registered decoder claimed.
type NoDecoderError struct {
	PayloadSize int
}

func (e *NoDecoderError) Error() string {
	return fmt.Sprintf("no decoder claims payload (%d bytes)", e.PayloadSize)
}

// Registry dispatches payloads to decoders in registration order; the first
// decoder whose CanDecode returns true wins.
type Registry struct {
	decoders []Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a decoder. Registration order is dispatch order.
func (r *Registry) Register(d Decoder) {
	r.decoders = append(r.decoders, d)
}

// Protocols lists the registered decoders in dispatch order.
func (r *Registry) Protocols() []Protocol {
	out := make([]Protocol, len(r.decoders))
	for i, d := range r.decoders {
		out[i] = d.Protocol()
	}
	return out
}

// Decode finds the first decoder claiming the payload and runs it. The decode
// duration is stamped here so every decoder reports it uniformly.
func (r *Registry) Decode(payload []byte, meta *Metadata) (*Message, error) {
	for _, d := range r.decoders {
		if !d.CanDecode(payload) {
			continue
		}
		start := time.Now()
		msg, err := d.Decode(payload, meta)
		if err != nil {
			decoderErrors.Add(1)
			tlmDecodeErrors.WithLabelValues(string(d.Protocol())).Inc()
			return nil, err
		}
		msg.DecodeTimeMicros = time.Since(start).Microseconds()
		tlmDecoded.WithLabelValues(string(msg.Protocol)).Inc()
		return msg, nil
	}
	decoderNoneMatched.Add(1)
	tlmNoDecoder.WithLabelValues().Inc()
	return nil, &NoDecoderError{PayloadSize: len(payload)}
}
