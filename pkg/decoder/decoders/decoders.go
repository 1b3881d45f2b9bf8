// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package decoders assembles the decoder registry from the per-protocol
// subpackages. Registration order is dispatch order and matters where wire
// shapes overlap: MAP before CAP before INAP on the shared TCAP envelope,
// GTPv1 before PFCP on the shared version bits, NGAP before S1AP on the
// shared APER envelope, NAS last as the least-discriminating probe.
package decoders

import (
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/decoder/diameter"
	"github.com/DataDog/sigmon/pkg/decoder/gtp"
	"github.com/DataDog/sigmon/pkg/decoder/nas"
	"github.com/DataDog/sigmon/pkg/decoder/ngap"
	"github.com/DataDog/sigmon/pkg/decoder/pfcp"
	"github.com/DataDog/sigmon/pkg/decoder/s1ap"
	"github.com/DataDog/sigmon/pkg/decoder/sbi"
	"github.com/DataDog/sigmon/pkg/decoder/tcap"
	"github.com/DataDog/sigmon/pkg/knowledge"
	"github.com/DataDog/sigmon/pkg/util/log"
)

// BuildRegistry registers a decoder for every enabled protocol. The enabled
// map uses the configuration names; "gtp" covers both GTP versions.
func BuildRegistry(kb *knowledge.Base, enabled map[string]bool) *decoder.Registry {
	r := decoder.NewRegistry()
	if enabled["map"] {
		r.Register(tcap.NewMAPDecoder(kb))
	}
	if enabled["cap"] {
		r.Register(tcap.NewCAPDecoder(kb))
	}
	if enabled["inap"] {
		r.Register(tcap.NewINAPDecoder(kb))
	}
	if enabled["diameter"] {
		r.Register(diameter.New(kb))
	}
	if enabled["gtp"] {
		r.Register(gtp.NewV1(kb))
		r.Register(gtp.NewV2(kb))
	}
	if enabled["pfcp"] {
		r.Register(pfcp.New(kb))
	}
	if enabled["http2"] {
		r.Register(sbi.New(kb))
	}
	if enabled["ngap"] {
		r.Register(ngap.New(kb))
	}
	if enabled["s1ap"] {
		r.Register(s1ap.New(kb))
	}
	if enabled["nas"] {
		r.Register(nas.New(kb))
	}
	log.Infof("Decoder registry built with %d decoders: %v", len(r.Protocols()), r.Protocols())
	return r
}
