// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Predictor post-processing applied after decompression: PNG per-row
// filters (predictors 10-15) and TIFF horizontal differencing
// (predictor 2).

package pdfproc

import "fmt"

type predictorParams struct {
	predictor int
	colors    int
	bpc       int
	columns   int
}

func (p predictorParams) bytesPerPixel() int {
	n := (p.colors*p.bpc + 7) / 8
	if n < 1 {
		n = 1
	}
	return n
}

func (p predictorParams) rowBytes() int {
	return (p.columns*p.colors*p.bpc + 7) / 8
}

func applyPredictor(data []byte, p predictorParams) ([]byte, error) {
	switch {
	case p.predictor == 1:
		return data, nil
	case p.predictor == 2:
		return applyTIFFPredictor(data, p)
	case p.predictor >= 10 && p.predictor <= 15:
		return applyPNGPredictor(data, p)
	default:
		return nil, fmt.Errorf("unknown predictor %d", p.predictor)
	}
}

// applyTIFFPredictor undoes horizontal differencing: each byte is a
// delta against the byte one pixel to the left.
func applyTIFFPredictor(data []byte, p predictorParams) ([]byte, error) {
	rowBytes := p.rowBytes()
	bpp := p.bytesPerPixel()
	if rowBytes <= 0 || len(data)%rowBytes != 0 {
		return nil, fmt.Errorf("TIFF predictor: data length %d not a multiple of row size %d", len(data), rowBytes)
	}
	out := make([]byte, len(data))
	copy(out, data)
	for row := 0; row < len(out); row += rowBytes {
		for i := bpp; i < rowBytes; i++ {
			out[row+i] += out[row+i-bpp]
		}
	}
	return out, nil
}

// applyPNGPredictor undoes the per-row PNG filters. Each row is
// prefixed with a filter type byte (0 none, 1 sub, 2 up, 3 average,
// 4 paeth); predictors 10-15 only tell the encoder which filters it
// may use, decoding is identical for all of them.
func applyPNGPredictor(data []byte, p predictorParams) ([]byte, error) {
	rowBytes := p.rowBytes()
	bpp := p.bytesPerPixel()
	if rowBytes <= 0 || len(data)%(rowBytes+1) != 0 {
		return nil, fmt.Errorf("PNG predictor: data length %d not a multiple of row size %d", len(data), rowBytes+1)
	}
	rows := len(data) / (rowBytes + 1)
	out := make([]byte, 0, rows*rowBytes)
	prior := make([]byte, rowBytes)
	cur := make([]byte, rowBytes)
	for row := 0; row < rows; row++ {
		ft := data[row*(rowBytes+1)]
		copy(cur, data[row*(rowBytes+1)+1:(row+1)*(rowBytes+1)])
		switch ft {
		case 0:
			// none
		case 1:
			for i := bpp; i < rowBytes; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2:
			for i := 0; i < rowBytes; i++ {
				cur[i] += prior[i]
			}
		case 3:
			for i := 0; i < rowBytes; i++ {
				left := 0
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prior[i])) / 2)
			}
		case 4:
			for i := 0; i < rowBytes; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prior[i-bpp]
				}
				cur[i] += paethPredictor(left, prior[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("PNG predictor: invalid filter type %d in row %d", ft, row)
		}
		out = append(out, cur...)
		prior, cur = cur, prior
	}
	return out, nil
}

func paethPredictor(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
