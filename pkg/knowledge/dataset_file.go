// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package knowledge

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// DatasetError reports a malformed dataset overlay file. It is fatal during
// initial load; a reload keeps the previous Base and logs it.
type DatasetError struct {
	Path   string
	Reason string
}

func (e *DatasetError) Error() string {
	return fmt.Sprintf("knowledge dataset %s: %s", e.Path, e.Reason)
}

// datasetFile is the on-disk overlay format. Entries add to or replace the
// built-in catalog (error codes replace by (protocol, code), standards by id,
// call flows by name; procedures and vendor extensions append).
type datasetFile struct {
	Standards        []*Standard        `yaml:"standards"`
	Procedures       []*Procedure       `yaml:"procedures"`
	ErrorCodes       []*ErrorCodeEntry  `yaml:"error_codes"`
	VendorExtensions []*VendorExtension `yaml:"vendor_extensions"`
	CallFlows        []*CallFlow        `yaml:"call_flows"`
}

func (b *Base) loadDatasetFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &DatasetError{Path: path, Reason: err.Error()}
	}

	var ds datasetFile
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return &DatasetError{Path: path, Reason: fmt.Sprintf("invalid yaml: %v", err)}
	}

	for i, s := range ds.Standards {
		if s.ID == "" {
			return &DatasetError{Path: path, Reason: fmt.Sprintf("standards[%d]: missing id", i)}
		}
		b.addStandard(s)
	}
	for i, p := range ds.Procedures {
		if p.Protocol == "" || p.Name == "" {
			return &DatasetError{Path: path, Reason: fmt.Sprintf("procedures[%d]: protocol and name are required", i)}
		}
		b.addProcedure(p)
	}
	for i, e := range ds.ErrorCodes {
		switch {
		case e.Protocol == "":
			return &DatasetError{Path: path, Reason: fmt.Sprintf("error_codes[%d]: missing protocol", i)}
		case e.Name == "":
			return &DatasetError{Path: path, Reason: fmt.Sprintf("error_codes[%d]: missing name", i)}
		case e.Code < 0:
			return &DatasetError{Path: path, Reason: fmt.Sprintf("error_codes[%d]: negative code %d", i, e.Code)}
		case !validSeverities[e.Severity]:
			return &DatasetError{Path: path, Reason: fmt.Sprintf("error_codes[%d]: unknown severity %q", i, e.Severity)}
		}
		b.addErrorCode(e)
	}
	for i, v := range ds.VendorExtensions {
		if v.Vendor == "" || v.Protocol == "" {
			return &DatasetError{Path: path, Reason: fmt.Sprintf("vendor_extensions[%d]: vendor and protocol are required", i)}
		}
		b.addVendorExtension(v)
	}
	for i, f := range ds.CallFlows {
		if f.Name == "" {
			return &DatasetError{Path: path, Reason: fmt.Sprintf("call_flows[%d]: missing name", i)}
		}
		b.addCallFlow(f.Name, f)
	}
	return nil
}
