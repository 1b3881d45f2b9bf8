// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinErrorCodes(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	// The analysis rules depend on these entries.
	for _, tc := range []struct {
		protocol string
		code     int
		name     string
		severity string
	}{
		{"Diameter", 5001, "DIAMETER_ERROR_USER_UNKNOWN", SeverityMajor},
		{"Diameter", 5004, "DIAMETER_ERROR_ROAMING_NOT_ALLOWED", SeverityMajor},
		{"Diameter", 5012, "DIAMETER_ERROR_RAT_NOT_ALLOWED", SeverityMajor},
		{"Diameter", 4181, "DIAMETER_AUTHENTICATION_DATA_UNAVAILABLE", SeverityCritical},
		{"GTPv2", 64, "Context Not Found", SeverityMajor},
		{"GTPv2", 67, "Missing or Unknown APN", SeverityMajor},
		{"GTPv2", 73, "No Resources Available", SeverityCritical},
		{"GTPv2", 91, "No Resources Available", SeverityCritical},
		{"MAP", 1, "Unknown Subscriber", SeverityMajor},
		{"MAP", 34, "System Failure", SeverityCritical},
		{"NAS", 11, "PLMN Not Allowed", SeverityMajor},
	} {
		e, ok := b.ErrorCode(tc.protocol, tc.code)
		require.True(t, ok, "missing %s/%d", tc.protocol, tc.code)
		assert.Equal(t, tc.name, e.Name)
		assert.Equal(t, tc.severity, e.Severity)
		assert.NotEmpty(t, e.Recommendations)
		assert.NotEmpty(t, e.StandardRef)
	}
}

func TestErrorCodeProtocolNormalization(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	// GTPv1 and GTPv2 share the cause table.
	v1, ok := b.ErrorCode("GTPv1", 64)
	require.True(t, ok)
	v2, ok := b.ErrorCode("gtpv2", 64)
	require.True(t, ok)
	assert.Same(t, v1, v2)

	_, ok = b.ErrorCode("Diameter", 99999)
	assert.False(t, ok)
	_, ok = b.ErrorCode("BGP", 1)
	assert.False(t, ok)
}

func TestProceduresAndStandards(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	procs := b.Procedures("GTPv2-C")
	require.NotEmpty(t, procs)
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "Create Session Request/Response")

	std, ok := b.Standard("TS 29.272")
	require.True(t, ok)
	assert.Equal(t, "3GPP", std.Organization)
	assert.Contains(t, std.Protocols, "S6a")

	all := b.Standards()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].ID, all[i].ID)
	}
}

func TestProtocols(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	protocols := b.Protocols()
	require.NotEmpty(t, protocols)
	assert.Contains(t, protocols, "DIAMETER")
	assert.Contains(t, protocols, "GTP")
	assert.Contains(t, protocols, "MAP")
	for i := 1; i < len(protocols); i++ {
		assert.Less(t, protocols[i-1], protocols[i])
	}
}

func TestVendorAttribution(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	v, ok := b.Vendor("GTPv1", 255)
	require.True(t, ok)
	assert.Equal(t, "Ericsson", v.Vendor)

	v, ok = b.Vendor("Diameter", 2011)
	require.True(t, ok)
	assert.Equal(t, "Huawei", v.Vendor)

	_, ok = b.Vendor("Diameter", 1)
	assert.False(t, ok)

	exts := b.VendorExtensions("Ericsson")
	assert.Len(t, exts, 2)
}

func TestCallFlows(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	f, ok := b.CallFlow("4G_Attach")
	require.True(t, ok)
	assert.Equal(t, "4G", f.Generation)
	assert.Len(t, f.Steps, 13)
	assert.Equal(t, "Attach Request", f.Steps[0].Message)
	assert.Equal(t, "Attach Complete", f.Steps[len(f.Steps)-1].Message)

	flows := b.CallFlows()
	assert.GreaterOrEqual(t, len(flows), 3)
}

func TestSearch(t *testing.T) {
	b, err := Load("")
	require.NoError(t, err)

	// Exact keyword hit.
	results := b.Search("DIAMETER_ERROR_USER_UNKNOWN")
	require.Len(t, results, 1)
	e, ok := results[0].(*ErrorCodeEntry)
	require.True(t, ok)
	assert.Equal(t, 5001, e.Code)

	// Substring scan, served from the cache the second time.
	first := b.Search("user_unknown")
	require.NotEmpty(t, first)
	second := b.Search("user_unknown")
	assert.Equal(t, first, second)

	assert.Empty(t, b.Search(""))
	assert.Empty(t, b.Search("nothing-matches-this-query-at-all"))
}

func TestDatasetOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.yaml")
	overlay := `
error_codes:
  - protocol: S1AP
    code: 21
    name: Radio Connection With UE Lost
    description: The radio connection to the UE has been lost.
    causes: UE out of coverage.
    recommendations:
      - Check radio conditions in the cell
    standard_ref: 3GPP TS 36.413 Section 9.2.1
    severity: minor
  - protocol: Diameter
    code: 5001
    name: DIAMETER_ERROR_USER_UNKNOWN
    description: Overridden description.
    causes: Overridden causes.
    recommendations:
      - Overridden recommendation
    standard_ref: 3GPP TS 29.272 Section 7.4.3
    severity: major
vendor_extensions:
  - vendor: Samsung
    protocol: GTP
    extension: Samsung-Paging-Policy
    code: 201
    description: Samsung paging policy IE.
    usage: Paging differentiation in Samsung MME.
`
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o644))

	b, err := Load(path)
	require.NoError(t, err)

	e, ok := b.ErrorCode("S1AP", 21)
	require.True(t, ok)
	assert.Equal(t, "Radio Connection With UE Lost", e.Name)

	// Overlay replaces the built-in entry for the same (protocol, code).
	e, ok = b.ErrorCode("Diameter", 5001)
	require.True(t, ok)
	assert.Equal(t, "Overridden description.", e.Description)

	v, ok := b.Vendor("GTPv2", 201)
	require.True(t, ok)
	assert.Equal(t, "Samsung", v.Vendor)
}

func TestDatasetOverlayRejectsMalformed(t *testing.T) {
	dir := t.TempDir()

	for name, content := range map[string]string{
		"bad_yaml.yaml":     "error_codes: [unclosed",
		"bad_severity.yaml": "error_codes:\n  - protocol: MAP\n    code: 2\n    name: X\n    severity: fatal\n",
		"no_protocol.yaml":  "error_codes:\n  - code: 2\n    name: X\n    severity: major\n",
		"neg_code.yaml":     "error_codes:\n  - protocol: MAP\n    code: -4\n    name: X\n    severity: major\n",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		_, err := Load(path)
		require.Error(t, err, name)
		var dsErr *DatasetError
		assert.ErrorAs(t, err, &dsErr, name)
	}

	_, err := Load(filepath.Join(dir, "does_not_exist.yaml"))
	require.Error(t, err)
}
