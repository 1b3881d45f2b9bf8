// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package decoder

import (
	"fmt"
	"strings"
)

// DecodeBCD decodes telephony BCD: two digits per byte, low nibble first.
// 0x0F in the final high nibble pads an odd digit count; any other nibble
// above 9 is rejected.
func DecodeBCD(b []byte) (string, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("bcd: empty value")
	}
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for i, octet := range b {
		lo := octet & 0x0F
		hi := octet >> 4
		if lo > 9 {
			return "", fmt.Errorf("bcd: invalid digit nibble 0x%X at octet %d", lo, i)
		}
		sb.WriteByte('0' + lo)
		if hi == 0x0F {
			if i != len(b)-1 {
				return "", fmt.Errorf("bcd: filler nibble before final octet (octet %d)", i)
			}
			return sb.String(), nil
		}
		if hi > 9 {
			return "", fmt.Errorf("bcd: invalid digit nibble 0x%X at octet %d", hi, i)
		}
		sb.WriteByte('0' + hi)
	}
	return sb.String(), nil
}

// EncodeBCD encodes a digit string as telephony BCD, padding an odd digit
// count with a 0x0F filler nibble.
func EncodeBCD(digits string) ([]byte, error) {
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return nil, fmt.Errorf("bcd: non-digit %q at position %d", digits[i], i)
		}
	}
	out := make([]byte, 0, (len(digits)+1)/2)
	for i := 0; i < len(digits); i += 2 {
		octet := digits[i] - '0'
		if i+1 < len(digits) {
			octet |= (digits[i+1] - '0') << 4
		} else {
			octet |= 0xF0
		}
		out = append(out, octet)
	}
	return out, nil
}

// DecodeAPN decodes a DNS-label encoded APN: length-prefixed labels joined
// with dots, terminated by a zero length byte or the end of the buffer.
func DecodeAPN(b []byte) (string, error) {
	var labels []string
	for i := 0; i < len(b); {
		n := int(b[i])
		if n == 0 {
			break
		}
		i++
		if i+n > len(b) {
			return "", fmt.Errorf("apn: label length %d overruns buffer at offset %d", n, i-1)
		}
		labels = append(labels, string(b[i:i+n]))
		i += n
	}
	if len(labels) == 0 {
		return "", fmt.Errorf("apn: no labels")
	}
	return strings.Join(labels, "."), nil
}

// EncodeAPN encodes a dotted APN as length-prefixed DNS labels.
func EncodeAPN(apn string) ([]byte, error) {
	if apn == "" {
		return nil, fmt.Errorf("apn: empty")
	}
	labels := strings.Split(apn, ".")
	out := make([]byte, 0, len(apn)+len(labels))
	for _, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("apn: empty label in %q", apn)
		}
		if len(l) > 63 {
			return nil, fmt.Errorf("apn: label %q longer than 63 bytes", l)
		}
		out = append(out, byte(len(l)))
		out = append(out, l...)
	}
	return out, nil
}
