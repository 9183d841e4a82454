// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func a85Encode(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := ascii85.NewEncoder(&buf)
	_, err := enc.Write(data)
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	buf.WriteString("~>")
	return buf.Bytes()
}

func testDecodeReader() *Reader {
	return &Reader{cfg: NewDefaultConfig()}
}

func TestDecodeFilter_Flate(t *testing.T) {
	r := testDecodeReader()
	out, err := r.decodeFilter("FlateDecode", zlibCompress(t, []byte("hello")), Value{})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}

func TestDecodeFilter_FlateInvalid(t *testing.T) {
	r := testDecodeReader()
	_, err := r.decodeFilter("FlateDecode", []byte("not zlib at all"), Value{})
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "FlateDecode", decErr.Filter)
}

func TestDecodeFilter_ASCII85(t *testing.T) {
	r := testDecodeReader()
	out, err := r.decodeFilter("ASCII85Decode", a85Encode(t, []byte("hi there!")), Value{})
	require.NoError(t, err)
	assert.Equal(t, []byte("hi there!"), out)
}

func TestDecodeFilter_ASCII85ZeroGroup(t *testing.T) {
	// 'z' is shorthand for four zero bytes
	r := testDecodeReader()
	out, err := r.decodeFilter("ASCII85Decode", []byte("z~>"), Value{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, out)
}

func TestDecodeFilter_ASCIIHex(t *testing.T) {
	r := testDecodeReader()
	out, err := r.decodeFilter("ASCIIHexDecode", []byte("48 65 6C 6C 6F>"), Value{})
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello"), out)
}

func TestDecodeFilter_RunLength(t *testing.T) {
	r := testDecodeReader()
	out, err := r.decodeFilter("RunLengthDecode", []byte{2, 'h', 'i', '!', 255, 'A', 128}, Value{})
	require.NoError(t, err)
	assert.Equal(t, []byte("hi!AA"), out)
}

func TestDecodeFilter_Unknown(t *testing.T) {
	r := testDecodeReader()
	_, err := r.decodeFilter("Crypt", []byte("abc"), Value{})
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "Crypt", decErr.Filter)
}

func TestDecodeFilter_DecodedBytesCap(t *testing.T) {
	r := testDecodeReader()
	r.cfg.MaxDecodedBytes = 4
	_, err := r.decodeFilter("FlateDecode", zlibCompress(t, []byte("hello world")), Value{})
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Truef(t, errHas(err, "cap"), "got: %v", err)
}

func TestAsciiHexDecode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"68693e>", "hi>"},
		{"4865 6c6C6f >", "Hello"},
		// odd digit count pads with a zero nibble
		{"48656C6C6F2>", "Hello "},
		// EOD marker may be missing at end of data
		{"6869", "hi"},
		{">", ""},
	}
	for _, c := range cases {
		out, err := asciiHexDecode([]byte(c.in))
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, []byte(c.want), out, "input %q", c.in)
	}

	_, err := asciiHexDecode([]byte("4g>"))
	assert.Error(t, err)
}

func TestRunLengthDecode_Errors(t *testing.T) {
	_, err := runLengthDecode([]byte{5, 'a', 'b'}, 0)
	assert.Truef(t, errHas(err, "truncated"), "got: %v", err)

	_, err = runLengthDecode([]byte{200}, 0)
	assert.Truef(t, errHas(err, "truncated"), "got: %v", err)

	_, err = runLengthDecode([]byte{0, 'a'}, 0)
	assert.Truef(t, errHas(err, "end-of-data"), "got: %v", err)

	_, err = runLengthDecode([]byte{255, 'A'}, 1)
	assert.Truef(t, errHas(err, "cap"), "got: %v", err)
}

func TestStreamContents_FilterChain(t *testing.T) {
	// [ASCII85Decode, FlateDecode] runs left to right: un-85 first,
	// then inflate.
	payload := []byte("chained payload, long enough to compress a little bit")
	body := a85Encode(t, zlibCompress(t, payload))

	p := newPDFFile()
	p.obj(1, "<< /Type /Catalog >>")
	p.streamObj(2, "/Filter [/ASCII85Decode /FlateDecode]", body)
	data, _ := p.finishClassic("/Root 1 0 R")

	r := openTestReader(t, data, nil)
	out, err := r.StreamBytes(2, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestStreamContents_TruncatedFlate(t *testing.T) {
	full := zlibCompress(t, []byte("this payload will be cut off mid-stream"))
	truncated := full[:len(full)/2]

	p := newPDFFile()
	p.obj(1, "<< /Type /Catalog >>")
	p.streamObj(2, "/Filter /FlateDecode /Marker (still here)", truncated)
	data, _ := p.finishClassic("/Root 1 0 R")

	r := openTestReader(t, data, nil)

	_, err := r.StreamBytes(2, 0)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "FlateDecode", decErr.Filter)

	// the stream dictionary stays retrievable after the decode failure
	v, err := r.Get(2, 0)
	require.NoError(t, err)
	assert.Equal(t, "still here", v.Key("Marker").RawString())

	// and so do the raw, undecoded bytes
	raw, err := r.RawStreamBytes(2, 0)
	require.NoError(t, err)
	assert.Equal(t, truncated, raw)
}

func TestRawStreamContents_WrongLengthFallsBackToScan(t *testing.T) {
	p := newPDFFile()
	p.obj(1, "<< /Type /Catalog >>")
	p.note(2)
	p.buf.WriteString("2 0 obj\n<< /Length 9999 >>\nstream\nbody bytes\nendstream\nendobj\n")
	data, _ := p.finishClassic("/Root 1 0 R")

	r := openTestReader(t, data, nil)
	out, err := r.StreamBytes(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("body bytes"), out)
}

func TestRawStreamContents_IndirectLength(t *testing.T) {
	p := newPDFFile()
	p.obj(1, "<< /Type /Catalog >>")
	p.note(2)
	p.buf.WriteString("2 0 obj\n<< /Length 3 0 R >>\nstream\nten chars!\nendstream\nendobj\n")
	p.obj(3, "10")
	data, _ := p.finishClassic("/Root 1 0 R")

	r := openTestReader(t, data, nil)
	out, err := r.StreamBytes(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("ten chars!"), out)
}

func TestScanEndstream(t *testing.T) {
	t.Run("trims one trailing EOL", func(t *testing.T) {
		data := []byte("stream body\r\nendstream")
		r := &Reader{f: bytes.NewReader(data), end: int64(len(data))}
		n, err := r.scanEndstream(0)
		require.NoError(t, err)
		assert.Equal(t, int64(len("stream body")), n)
	})
	t.Run("CRLF split across scan windows", func(t *testing.T) {
		// The scan reads 64 KiB at a time. Place the delimiter so its
		// carriage return falls in one window and the rest in the next.
		body := bytes.Repeat([]byte{'x'}, 65526)
		data := append(append([]byte{}, body...), '\r', '\n')
		data = append(data, []byte("endstream")...)
		r := &Reader{f: bytes.NewReader(data), end: int64(len(data))}
		n, err := r.scanEndstream(0)
		require.NoError(t, err)
		assert.Equal(t, int64(len(body)), n)
	})
	t.Run("unterminated", func(t *testing.T) {
		data := []byte("no marker here")
		r := &Reader{f: bytes.NewReader(data), end: int64(len(data))}
		_, err := r.scanEndstream(0)
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Truef(t, errHas(err, "unterminated"), "got: %v", err)
	})
}

func TestValueReader(t *testing.T) {
	p := newPDFFile()
	p.obj(1, "<< /Type /Catalog >>")
	p.streamObj(2, "/Filter /FlateDecode", zlibCompress(t, []byte("via Reader")))
	data, _ := p.finishClassic("/Root 1 0 R")

	r := openTestReader(t, data, nil)
	v, err := r.Get(2, 0)
	require.NoError(t, err)

	rc := v.Reader()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, []byte("via Reader"), got)

	// a non-stream value reports the failure through the reader
	nv := Value{data: int64(42)}
	_, err = io.ReadAll(nv.Reader())
	assert.Error(t, err)
}

func TestStreamContents_MalformedFilterEntry(t *testing.T) {
	p := newPDFFile()
	p.obj(1, "<< /Type /Catalog >>")
	p.streamObj(2, "/Filter 42", []byte("body"))
	data, _ := p.finishClassic("/Root 1 0 R")

	r := openTestReader(t, data, nil)
	_, err := r.StreamBytes(2, 0)
	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestPositionalDecodeParms(t *testing.T) {
	// Filter array with per-position parms: the second filter gets the
	// second parms entry, a PNG Up predictor.
	const columns = 4
	rows := [][]byte{
		{10, 20, 30, 40},
		{11, 22, 33, 44},
	}
	var raw bytes.Buffer
	prev := make([]byte, columns)
	for _, row := range rows {
		raw.WriteByte(2) // Up
		for i, b := range row {
			raw.WriteByte(b - prev[i])
		}
		prev = row
	}
	body := a85Encode(t, zlibCompress(t, raw.Bytes()))

	p := newPDFFile()
	p.obj(1, "<< /Type /Catalog >>")
	p.streamObj(2, fmt.Sprintf(
		"/Filter [/ASCII85Decode /FlateDecode] /DecodeParms [null << /Predictor 12 /Columns %d >>]",
		columns), body)
	data, _ := p.finishClassic("/Root 1 0 R")

	r := openTestReader(t, data, nil)
	out, err := r.StreamBytes(2, 0)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, rows[0]...), rows[1]...), out)
}
