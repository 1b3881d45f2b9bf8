// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package knowledge holds the static telecom protocol catalog: standards,
// procedure references, error-code dictionaries, vendor extensions and
// reference call flows. A Base is immutable once loaded; a configuration
// reload builds a fresh Base off the hot path and swaps the reference.
package knowledge

import (
	"expvar"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const searchCacheSize = 128

var (
	kbExpvars           = expvar.NewMap("knowledge")
	kbSearchCacheHits   = expvar.Int{}
	kbSearchCacheMisses = expvar.Int{}
)

func init() {
	kbExpvars.Set("SearchCacheHits", &kbSearchCacheHits)
	kbExpvars.Set("SearchCacheMisses", &kbSearchCacheMisses)
}

// Base is the in-memory catalog. All maps are written only during load;
// lookups on the decode path take no lock.
type Base struct {
	standards  map[string]*Standard
	procedures map[string][]*Procedure            // keyed by protocol
	errorCodes map[string]map[int]*ErrorCodeEntry // keyed by protocol, then code
	vendors    map[string][]*VendorExtension      // keyed by vendor name
	callFlows  map[string]*CallFlow               // keyed by flow name

	// vendorByCode resolves (protocol, code) back to the extension that
	// defines it, for vendor attribution on captured sessions.
	vendorByCode map[vendorKey]*VendorExtension

	index map[string][]interface{}

	// searchCache memoizes substring scans; exact matches hit the index
	// directly and are never cached.
	searchCache *lru.Cache[string, []interface{}]
}

type vendorKey struct {
	protocol string
	code     int
}

func newBase() *Base {
	return &Base{
		standards:    make(map[string]*Standard),
		procedures:   make(map[string][]*Procedure),
		errorCodes:   make(map[string]map[int]*ErrorCodeEntry),
		vendors:      make(map[string][]*VendorExtension),
		callFlows:    make(map[string]*CallFlow),
		vendorByCode: make(map[vendorKey]*VendorExtension),
		index:        make(map[string][]interface{}),
	}
}

// Load builds a Base from the built-in dataset, overlaid with the optional
// dataset file at path (empty path skips the overlay).
func Load(path string) (*Base, error) {
	b := newBase()
	b.loadBuiltin()
	if path != "" {
		if err := b.loadDatasetFile(path); err != nil {
			return nil, err
		}
	}
	b.buildIndex()

	cache, err := lru.New[string, []interface{}](searchCacheSize)
	if err != nil {
		return nil, err
	}
	b.searchCache = cache
	return b, nil
}

// protocolKey normalizes protocol names for error-code lookups. GTPv1 and
// GTPv2 share one cause-value table.
func protocolKey(protocol string) string {
	key := strings.ToUpper(strings.TrimSpace(protocol))
	if strings.HasPrefix(key, "GTP") {
		return "GTP"
	}
	return key
}

func (b *Base) addStandard(s *Standard) {
	b.standards[s.ID] = s
}

func (b *Base) addProcedure(p *Procedure) {
	key := protocolKey(p.Protocol)
	b.procedures[key] = append(b.procedures[key], p)
}

func (b *Base) addErrorCode(e *ErrorCodeEntry) {
	key := protocolKey(e.Protocol)
	if b.errorCodes[key] == nil {
		b.errorCodes[key] = make(map[int]*ErrorCodeEntry)
	}
	b.errorCodes[key][e.Code] = e
}

func (b *Base) addCallFlow(key string, f *CallFlow) {
	b.callFlows[key] = f
}

func (b *Base) addVendorExtension(v *VendorExtension) {
	b.vendors[v.Vendor] = append(b.vendors[v.Vendor], v)
	b.vendorByCode[vendorKey{protocolKey(v.Protocol), v.Code}] = v
}

// ErrorCode resolves (protocol, code) to its dictionary entry.
func (b *Base) ErrorCode(protocol string, code int) (*ErrorCodeEntry, bool) {
	codes, ok := b.errorCodes[protocolKey(protocol)]
	if !ok {
		return nil, false
	}
	e, ok := codes[code]
	return e, ok
}

// Procedures returns the procedure references for a protocol.
func (b *Base) Procedures(protocol string) []*Procedure {
	return b.procedures[protocolKey(protocol)]
}

// Protocols returns every protocol the catalog has entries for, sorted.
func (b *Base) Protocols() []string {
	seen := make(map[string]bool, len(b.errorCodes))
	for p := range b.errorCodes {
		seen[p] = true
	}
	for p := range b.procedures {
		seen[p] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Standard returns a standard document reference by id, e.g. "TS 29.272".
func (b *Base) Standard(id string) (*Standard, bool) {
	s, ok := b.standards[id]
	return s, ok
}

// Standards returns every standard in the catalog, sorted by id.
func (b *Base) Standards() []*Standard {
	out := make([]*Standard, 0, len(b.standards))
	for _, s := range b.standards {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VendorExtensions returns the known extensions for one vendor.
func (b *Base) VendorExtensions(vendor string) []*VendorExtension {
	return b.vendors[vendor]
}

// Vendor attributes a vendor-specific IE or AVP code to its vendor.
func (b *Base) Vendor(protocol string, code int) (*VendorExtension, bool) {
	v, ok := b.vendorByCode[vendorKey{protocolKey(protocol), code}]
	return v, ok
}

// CallFlow returns a reference call flow by name, e.g. "4G_Attach".
func (b *Base) CallFlow(name string) (*CallFlow, bool) {
	f, ok := b.callFlows[name]
	return f, ok
}

// CallFlows returns every reference call flow, sorted by name.
func (b *Base) CallFlows() []*CallFlow {
	out := make([]*CallFlow, 0, len(b.callFlows))
	for _, f := range b.callFlows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *Base) indexItem(key string, item interface{}) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	b.index[key] = append(b.index[key], item)
}

func (b *Base) buildIndex() {
	for id, s := range b.standards {
		b.indexItem(id, s)
		b.indexItem(s.Title, s)
		for _, p := range s.Protocols {
			b.indexItem(p, s)
		}
	}
	for _, procs := range b.procedures {
		for _, p := range procs {
			b.indexItem(p.Name, p)
			b.indexItem(p.MessageType, p)
			b.indexItem(p.Protocol, p)
		}
	}
	for proto, codes := range b.errorCodes {
		for code, e := range codes {
			b.indexItem(e.Name, e)
			b.indexItem(proto+"_"+strconv.Itoa(code), e)
			b.indexItem("cause_"+strconv.Itoa(code), e)
		}
	}
	for _, exts := range b.vendors {
		for _, v := range exts {
			b.indexItem(v.Vendor, v)
			b.indexItem(v.Extension, v)
		}
	}
	for name, f := range b.callFlows {
		b.indexItem(name, f)
		b.indexItem(f.Name, f)
	}
}

// Search looks the query up in the index: an exact keyword match wins,
// otherwise every keyword containing the query (or contained by it)
// contributes its entries. Substring results are memoized.
func (b *Base) Search(query string) []interface{} {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	if results, ok := b.index[query]; ok {
		return results
	}

	if cached, ok := b.searchCache.Get(query); ok {
		kbSearchCacheHits.Add(1)
		return cached
	}
	kbSearchCacheMisses.Add(1)

	var results []interface{}
	seen := make(map[interface{}]bool)
	for keyword, items := range b.index {
		if !strings.Contains(keyword, query) && !strings.Contains(query, keyword) {
			continue
		}
		for _, item := range items {
			if !seen[item] {
				results = append(results, item)
				seen[item] = true
			}
		}
	}

	b.searchCache.Add(query, results)
	return results
}
