// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// LZW decoding with the early-change variant.
//
// PDF's LZWDecode grows the code width one code earlier than the
// classic TIFF-style decoder when /EarlyChange is 1 (the default),
// which compress/lzw cannot express, so the decoder is implemented
// here. Codes are MSB-first, 9 to 12 bits, with 256 as clear and 257
// as end of data.

package pdfproc

import (
	"errors"
	"fmt"
)

const (
	lzwClearCode = 256
	lzwEODCode   = 257
	lzwFirstCode = 258
	lzwMaxWidth  = 12
)

type lzwReader struct {
	data []byte
	pos  int  // bit position in data
	w    uint // current code width
}

func (l *lzwReader) next() (int, error) {
	if l.pos+int(l.w) > len(l.data)*8 {
		return 0, errors.New("truncated LZW data")
	}
	code := 0
	for i := uint(0); i < l.w; i++ {
		byteIdx := (l.pos + int(i)) / 8
		bitIdx := 7 - uint(l.pos+int(i))%8
		code = code<<1 | int(l.data[byteIdx]>>bitIdx&1)
	}
	l.pos += int(l.w)
	return code, nil
}

func lzwDecode(data []byte, earlyChange bool, max int64) ([]byte, error) {
	rd := &lzwReader{data: data, w: 9}
	table := make([][]byte, lzwFirstCode, 1<<lzwMaxWidth)
	for i := 0; i < 256; i++ {
		table[i] = []byte{byte(i)}
	}

	bump := 0
	if earlyChange {
		bump = 1
	}

	var out []byte
	var prev []byte
	for {
		code, err := rd.next()
		if err != nil {
			return nil, errors.New("truncated LZW data: no end-of-data marker")
		}
		switch {
		case code == lzwEODCode:
			return out, nil
		case code == lzwClearCode:
			table = table[:lzwFirstCode]
			rd.w = 9
			prev = nil
			continue
		}

		var entry []byte
		switch {
		case code < len(table) && table[code] != nil:
			entry = table[code]
		case code == len(table) && prev != nil:
			entry = append(append([]byte{}, prev...), prev[0])
		default:
			return nil, fmt.Errorf("invalid LZW code %d", code)
		}

		out = append(out, entry...)
		if max > 0 && int64(len(out)) > max {
			return nil, fmt.Errorf("decoded output exceeds cap of %d bytes", max)
		}

		if prev != nil && len(table) < 1<<lzwMaxWidth {
			table = append(table, append(append([]byte{}, prev...), entry[0]))
		}
		prev = entry

		// widen when the next append would overflow the current width;
		// early change widens one code sooner
		if len(table)+bump >= 1<<rd.w && rd.w < lzwMaxWidth {
			rd.w++
		}
	}
}
