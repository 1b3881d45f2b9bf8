// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package source defines the packet input contract of the pipeline and the
// feed listeners that receive pre-captured signaling units from external
// probes. Capture itself happens outside this process.
package source

import (
	"time"

	"github.com/DataDog/sigmon/pkg/decoder"
)

// Transport labels for Packet.Transport.
const (
	TransportUDP  = "udp"
	TransportTCP  = "tcp"
	TransportSCTP = "sctp"
)

// Packet is one captured signaling unit: the L4 payload plus the coordinates
// the probe recorded for it.
type Packet struct {
	Payload     []byte
	SrcIP       string
	DstIP       string
	SrcPort     uint16
	DstPort     uint16
	Transport   string
	CaptureTime time.Time
	Interface   string
}

// Metadata converts the packet coordinates into decoder metadata.
func (p *Packet) Metadata() *decoder.Metadata {
	return &decoder.Metadata{
		CaptureTime: p.CaptureTime,
		SourceIP:    p.SrcIP,
		DestIP:      p.DstIP,
		SourcePort:  p.SrcPort,
		DestPort:    p.DstPort,
		Transport:   p.Transport,
		Interface:   p.Interface,
	}
}

// Source yields packets to the dispatcher. Implementations close the channel
// returned by Packets when Stop is called and the intake has drained.
type Source interface {
	Start() error
	Stop()
	Packets() <-chan *Packet
}

// ChannelSource adapts an externally fed channel to the Source contract.
// Embedders and tests push packets directly.
type ChannelSource struct {
	ch chan *Packet
}

// NewChannelSource returns a source backed by a channel of the given size.
func NewChannelSource(size int) *ChannelSource {
	return &ChannelSource{ch: make(chan *Packet, size)}
}

// Send blocks until the pipeline accepts the packet.
func (s *ChannelSource) Send(p *Packet) {
	s.ch <- p
}

// Start is a no-op; the feeder owns the production side.
func (s *ChannelSource) Start() error { return nil }

// Stop closes the channel; no Send may follow.
func (s *ChannelSource) Stop() {
	close(s.ch)
}

// Packets returns the consumption side.
func (s *ChannelSource) Packets() <-chan *Packet {
	return s.ch
}
