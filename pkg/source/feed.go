// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package source

import (
	"expvar"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/time/rate"

	"github.com/DataDog/sigmon/pkg/config"
	"github.com/DataDog/sigmon/pkg/telemetry"
	"github.com/DataDog/sigmon/pkg/util/log"
)

// Feed modes.
const (
	ModeFramed = "framed"
	ModeRaw    = "raw"
)

var (
	feedExpvars      = expvar.NewMap("feed")
	expFeedPackets   = expvar.Int{}
	expFeedBytes     = expvar.Int{}
	expFeedMalformed = expvar.Int{}

	tlmFeedPackets = telemetry.NewCounter("feed", "packets_total",
		"Feed units received, by outcome.", "outcome")
)

func init() {
	feedExpvars.Set("Packets", &expFeedPackets)
	feedExpvars.Set("Bytes", &expFeedBytes)
	feedExpvars.Set("Malformed", &expFeedMalformed)
}

// UDPFeed receives pre-captured signaling units from external probes over a
// UDP socket. In framed mode each datagram carries the feed frame header; in
// raw mode each datagram is a full link-layer frame the listener peels down
// to the L4 payload.
type UDPFeed struct {
	addr       string
	mode       string
	bufferSize int
	rcvbuf     int

	conn    *net.UDPConn
	out     chan *Packet
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// NewUDPFeed builds a listener from the feed.* configuration.
func NewUDPFeed(cfg config.Config, channelSize int) (*UDPFeed, error) {
	mode := cfg.GetString("feed.mode")
	if mode != ModeFramed && mode != ModeRaw {
		return nil, fmt.Errorf("feed: unknown mode %q", mode)
	}
	return &UDPFeed{
		addr:       fmt.Sprintf("%s:%d", cfg.GetString("feed.bind_host"), cfg.GetInt("feed.port")),
		mode:       mode,
		bufferSize: cfg.GetInt("feed.buffer_size"),
		rcvbuf:     cfg.GetInt("feed.so_rcvbuf"),
		out:        make(chan *Packet, channelSize),
		limiter:    rate.NewLimiter(rate.Every(time.Minute), 1),
	}, nil
}

// Start binds the socket and launches the read loop. Failure to bind is
// fatal to the caller.
func (f *UDPFeed) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", f.addr)
	if err != nil {
		return fmt.Errorf("feed: resolve %s: %w", f.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("feed: bind %s: %w", f.addr, err)
	}
	if f.rcvbuf > 0 {
		if err := conn.SetReadBuffer(f.rcvbuf); err != nil {
			log.Warnf("Feed: could not set SO_RCVBUF to %d: %v", f.rcvbuf, err)
		}
	}
	f.conn = conn
	f.wg.Add(1)
	go f.readLoop()
	log.Infof("Feed listener started on %s (%s mode)", f.addr, f.mode)
	return nil
}

// Stop closes the socket; the read loop drains and closes the packet channel.
func (f *UDPFeed) Stop() {
	if f.conn != nil {
		f.conn.Close()
	}
	f.wg.Wait()
}

// Packets returns the decoded packet stream.
func (f *UDPFeed) Packets() <-chan *Packet {
	return f.out
}

func (f *UDPFeed) readLoop() {
	defer f.wg.Done()
	defer close(f.out)

	buf := make([]byte, f.bufferSize)
	for {
		n, _, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			// The socket was closed by Stop, or something unrecoverable
			// happened; either way the loop ends.
			log.Infof("Feed listener stopped: %v", err)
			return
		}
		expFeedBytes.Add(int64(n))

		pkt, err := f.decode(buf[:n])
		if err != nil {
			expFeedMalformed.Add(1)
			tlmFeedPackets.WithLabelValues("malformed").Inc()
			if f.limiter.Allow() {
				log.Warnf("Feed: dropping malformed unit: %v", err)
			}
			continue
		}
		expFeedPackets.Add(1)
		tlmFeedPackets.WithLabelValues("ok").Inc()
		f.out <- pkt
	}
}

func (f *UDPFeed) decode(buf []byte) (*Packet, error) {
	if f.mode == ModeFramed {
		return DecodeFrame(buf)
	}
	return peelFrame(buf, time.Now().UTC())
}

// peelFrame extracts the L4 payload and 5-tuple from a link-layer frame.
// Probes in raw mode forward whole frames without capture metadata, so the
// receive time stands in for the capture time.
func peelFrame(buf []byte, captureTime time.Time) (*Packet, error) {
	pkt := gopacket.NewPacket(buf, layers.LayerTypeEthernet, gopacket.Default)
	if pkt.NetworkLayer() == nil {
		// Some probes strip the Ethernet header and forward from L3 up.
		pkt = gopacket.NewPacket(buf, layers.LayerTypeIPv4, gopacket.Default)
	}
	nl := pkt.NetworkLayer()
	if nl == nil {
		return nil, fmt.Errorf("feed: no network layer in %d-byte frame", len(buf))
	}

	out := &Packet{
		CaptureTime: captureTime,
		SrcIP:       nl.NetworkFlow().Src().String(),
		DstIP:       nl.NetworkFlow().Dst().String(),
	}
	switch l := pkt.TransportLayer().(type) {
	case *layers.UDP:
		out.Transport = TransportUDP
		out.SrcPort = uint16(l.SrcPort)
		out.DstPort = uint16(l.DstPort)
		out.Payload = append([]byte(nil), l.Payload...)
	case *layers.TCP:
		out.Transport = TransportTCP
		out.SrcPort = uint16(l.SrcPort)
		out.DstPort = uint16(l.DstPort)
		out.Payload = append([]byte(nil), l.Payload...)
	case *layers.SCTP:
		out.Transport = TransportSCTP
		out.SrcPort = uint16(l.SrcPort)
		out.DstPort = uint16(l.DstPort)
		out.Payload = append([]byte(nil), l.Payload...)
	default:
		return nil, fmt.Errorf("feed: no transport layer in %d-byte frame", len(buf))
	}
	if len(out.Payload) == 0 {
		return nil, fmt.Errorf("feed: empty payload")
	}
	return out, nil
}
