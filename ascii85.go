// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import "io"

// alphaReader wraps a reader of ASCII85 data and blanks everything the
// decoder must not see: bytes outside the ASCII85 alphabet and the
// "~>" end-of-data marker with whatever follows it. Blanked positions
// become NUL, which the decoder skips as whitespace, so byte counts
// and read sizes pass through unchanged.
type alphaReader struct {
	reader io.Reader
	done   bool
}

func newAlphaReader(r io.Reader) *alphaReader {
	return &alphaReader{reader: r}
}

func alpha(c byte) byte {
	if ('!' <= c && c <= 'u') || c == 'z' {
		return c
	}
	return 0
}

func (a *alphaReader) Read(p []byte) (int, error) {
	n, err := a.reader.Read(p)
	if n == 0 {
		return n, err
	}
	for i := 0; i < n; i++ {
		if a.done || p[i] == '~' {
			a.done = true
			p[i] = 0
			continue
		}
		p[i] = alpha(p[i])
	}
	return n, err
}
