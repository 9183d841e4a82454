// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPredictor_None(t *testing.T) {
	data := []byte{1, 2, 3}
	out, err := applyPredictor(data, predictorParams{predictor: 1, colors: 1, bpc: 8, columns: 3})
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestApplyPredictor_TIFF(t *testing.T) {
	// horizontal differencing: each byte stores the delta to its left
	// neighbor
	data := []byte{
		10, 5, 5, 5, // row 1: 10 15 20 25
		1, 1, 1, 1, // row 2: 1 2 3 4
	}
	out, err := applyPredictor(data, predictorParams{predictor: 2, colors: 1, bpc: 8, columns: 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 15, 20, 25, 1, 2, 3, 4}, out)
}

func TestApplyPredictor_TIFFMultiComponent(t *testing.T) {
	// deltas apply per component, one pixel back
	data := []byte{10, 100, 5, 10}
	out, err := applyPredictor(data, predictorParams{predictor: 2, colors: 2, bpc: 8, columns: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 100, 15, 110}, out)
}

func TestApplyPredictor_TIFFBadLength(t *testing.T) {
	_, err := applyPredictor([]byte{1, 2, 3}, predictorParams{predictor: 2, colors: 1, bpc: 8, columns: 4})
	assert.Error(t, err)
}

func TestApplyPredictor_PNG(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want []byte
	}{
		{
			"none",
			[]byte{0, 1, 2, 3},
			[]byte{1, 2, 3},
		},
		{
			"sub",
			[]byte{1, 10, 5, 5},
			[]byte{10, 15, 20},
		},
		{
			"up",
			[]byte{0, 10, 20, 30, 2, 1, 1, 1},
			[]byte{10, 20, 30, 11, 21, 31},
		},
		{
			"average",
			// row 1 raw, row 2 average of left and above
			[]byte{0, 10, 20, 30, 3, 5, 10, 10},
			[]byte{10, 20, 30, 10, 25, 37},
		},
		{
			"paeth",
			[]byte{0, 10, 20, 30, 4, 1, 1, 1},
			[]byte{10, 20, 30, 11, 21, 31},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, err := applyPredictor(c.data, predictorParams{predictor: 12, colors: 1, bpc: 8, columns: 3})
			require.NoError(t, err)
			assert.Equal(t, c.want, out)
		})
	}
}

func TestApplyPredictor_PNGBadFilterByte(t *testing.T) {
	_, err := applyPredictor([]byte{9, 1, 2, 3}, predictorParams{predictor: 12, colors: 1, bpc: 8, columns: 3})
	assert.Error(t, err)
}

func TestApplyPredictor_PNGBadLength(t *testing.T) {
	_, err := applyPredictor([]byte{0, 1, 2}, predictorParams{predictor: 12, colors: 1, bpc: 8, columns: 3})
	assert.Error(t, err)
}

func TestApplyPredictor_Unknown(t *testing.T) {
	_, err := applyPredictor([]byte{1}, predictorParams{predictor: 7, colors: 1, bpc: 8, columns: 1})
	assert.Error(t, err)
}

func TestPaethPredictor(t *testing.T) {
	assert.Equal(t, byte(10), paethPredictor(10, 20, 20))
	assert.Equal(t, byte(20), paethPredictor(10, 20, 10))
	assert.Equal(t, byte(10), paethPredictor(10, 10, 10))
	assert.Equal(t, byte(0), paethPredictor(0, 0, 0))
}

func TestPredictorGeometry(t *testing.T) {
	p := predictorParams{colors: 3, bpc: 8, columns: 10}
	assert.Equal(t, 3, p.bytesPerPixel())
	assert.Equal(t, 30, p.rowBytes())

	// sub-byte components round up
	p = predictorParams{colors: 1, bpc: 4, columns: 3}
	assert.Equal(t, 1, p.bytesPerPixel())
	assert.Equal(t, 2, p.rowBytes())
}
