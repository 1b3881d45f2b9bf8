// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package decoder

import "fmt"

// DecodePLMN decodes the 3-byte PLMN identity (TS 24.008 10.5.1.3) into the
// concatenated MCC+MNC digit string. A 0xF filler in the MNC digit 3 slot
// yields a 2-digit MNC.
func DecodePLMN(b []byte) (string, error) {
	if len(b) < 3 {
		return "", fmt.Errorf("plmn: need 3 bytes, have %d", len(b))
	}
	nib := func(v byte) (byte, error) {
		if v > 9 {
			return 0, fmt.Errorf("plmn: invalid digit nibble 0x%X", v)
		}
		return '0' + v, nil
	}
	mcc1, err := nib(b[0] & 0x0F)
	if err != nil {
		return "", err
	}
	mcc2, err := nib(b[0] >> 4)
	if err != nil {
		return "", err
	}
	mcc3, err := nib(b[1] & 0x0F)
	if err != nil {
		return "", err
	}
	mnc1, err := nib(b[2] & 0x0F)
	if err != nil {
		return "", err
	}
	mnc2, err := nib(b[2] >> 4)
	if err != nil {
		return "", err
	}
	out := []byte{mcc1, mcc2, mcc3, mnc1, mnc2}
	if mnc3 := b[1] >> 4; mnc3 != 0x0F {
		d, err := nib(mnc3)
		if err != nil {
			return "", err
		}
		out = append(out, d)
	}
	return string(out), nil
}

// EncodePLMN encodes MCC (3 digits) and MNC (2 or 3 digits) as the 3-byte
// PLMN identity.
func EncodePLMN(mcc, mnc string) ([]byte, error) {
	if len(mcc) != 3 {
		return nil, fmt.Errorf("plmn: mcc must be 3 digits, got %q", mcc)
	}
	if len(mnc) != 2 && len(mnc) != 3 {
		return nil, fmt.Errorf("plmn: mnc must be 2 or 3 digits, got %q", mnc)
	}
	digit := func(c byte) (byte, error) {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("plmn: non-digit %q", c)
		}
		return c - '0', nil
	}
	var d [6]byte
	for i := 0; i < 3; i++ {
		v, err := digit(mcc[i])
		if err != nil {
			return nil, err
		}
		d[i] = v
	}
	mnc3 := byte(0x0F)
	for i := 0; i < len(mnc); i++ {
		v, err := digit(mnc[i])
		if err != nil {
			return nil, err
		}
		if i == 2 {
			mnc3 = v
		} else {
			d[3+i] = v
		}
	}
	return []byte{
		d[1]<<4 | d[0],
		mnc3<<4 | d[2],
		d[4]<<4 | d[3],
	}, nil
}
