// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Stream body extraction and the filter decode pipeline.

package pdfproc

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"errors"
	"fmt"
	"io"

	"github.com/cmlburnett/pdfproc/logger"
)

// rawStreamContents returns the undecoded byte range of a stream body.
// The declared /Length is used when it is a direct integer, or an
// indirect reference that resolves to one, and lands inside the file.
// Otherwise the body is located by scanning forward for the endstream
// keyword; /Length is wrong often enough in real files that the scan is
// a required fallback, not a corner case.
func (r *Reader) rawStreamContents(stm stream) ([]byte, error) {
	length := int64(-1)
	switch x := stm.hdr["Length"].(type) {
	case int64:
		length = x
	case objptr:
		v, err := r.getObject(x)
		if err != nil {
			logger.Debug(fmt.Sprintf("stream %d: indirect Length unresolvable: %v", stm.ptr.id, err))
		} else if v.Kind() == Integer {
			length = v.Int64()
		}
	}
	if length < 0 || stm.offset+length > r.end {
		scanned, err := r.scanEndstream(stm.offset)
		if err != nil {
			return nil, err
		}
		length = scanned
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(r.f, stm.offset, length), buf); err != nil {
		return nil, &ParseError{Offset: stm.offset, Msg: fmt.Sprintf("reading stream body: %v", err)}
	}
	return buf, nil
}

// scanEndstream locates the endstream keyword following offset and
// returns the body length, with a single trailing EOL trimmed.
func (r *Reader) scanEndstream(offset int64) (int64, error) {
	const chunk = 1 << 16
	marker := []byte("endstream")
	for base := offset; base < r.end; base += chunk - int64(len(marker)) {
		n := int64(chunk)
		if base+n > r.end {
			n = r.end - base
		}
		buf := make([]byte, n)
		m, err := r.f.ReadAt(buf, base)
		if err != nil && err != io.EOF {
			return 0, &ParseError{Offset: base, Msg: fmt.Sprintf("scanning for endstream: %v", err)}
		}
		buf = buf[:m]
		if i := bytes.Index(buf, marker); i >= 0 {
			end := base + int64(i)
			length := end - offset
			// The EOL before endstream belongs to the delimiter, not the
			// body. Re-read those bytes directly so a marker landing at
			// the start of a scan window still gets its EOL trimmed.
			start := end - 2
			if start < offset {
				start = offset
			}
			pre := make([]byte, end-start)
			np, _ := r.f.ReadAt(pre, start)
			pre = pre[:np]
			if len(pre) == 2 && pre[0] == '\r' && pre[1] == '\n' {
				length -= 2
			} else if len(pre) >= 1 && (pre[len(pre)-1] == '\n' || pre[len(pre)-1] == '\r') {
				length--
			}
			if length < 0 {
				length = 0
			}
			return length, nil
		}
		if int64(m) < n {
			break
		}
	}
	return 0, &ParseError{Offset: offset, Msg: "unterminated stream: no endstream keyword"}
}

// streamContents returns the fully decoded contents of a stream,
// applying the /Filter chain left to right with /DecodeParms paired
// positionally. A decode failure reports a DecodeError; the raw bytes
// stay available through rawStreamContents.
func (r *Reader) streamContents(stm stream) ([]byte, error) {
	data, err := r.rawStreamContents(stm)
	if err != nil {
		return nil, err
	}
	v := Value{r, stm.ptr, stm}
	filter := v.Key("Filter")
	param := v.Key("DecodeParms")
	switch filter.Kind() {
	case Null:
		return data, nil
	case Name:
		return r.decodeFilter(filter.Name(), data, param)
	case Array:
		for i := 0; i < filter.Len(); i++ {
			data, err = r.decodeFilter(filter.Index(i).Name(), data, param.Index(i))
			if err != nil {
				return nil, err
			}
		}
		return data, nil
	default:
		return nil, &DecodeError{Filter: filter.String(), Err: errors.New("malformed Filter entry")}
	}
}

// decodeFilter applies one named filter to data. Decoding is a pure
// transformation of the input bytes; any predictor named by parms runs
// after decompression.
func (r *Reader) decodeFilter(filterName string, data []byte, parms Value) ([]byte, error) {
	logger.Debug(fmt.Sprintf("filter: %s (%d bytes in)", filterName, len(data)))
	var out []byte
	var err error
	switch filterName {
	default:
		logger.Error("unknown filter " + filterName)
		return nil, &DecodeError{Filter: filterName, Err: errors.New("unknown filter")}

	case "FlateDecode":
		zr, zerr := zlib.NewReader(bytes.NewReader(data))
		if zerr != nil {
			return nil, &DecodeError{Filter: filterName, Err: zerr}
		}
		out, err = r.readAllCapped(zr)
		zr.Close()
		if err != nil {
			return nil, &DecodeError{Filter: filterName, Err: err}
		}

	case "LZWDecode":
		early := true
		if ec := parms.Key("EarlyChange"); ec.Kind() == Integer {
			early = ec.Int64() != 0
		}
		out, err = lzwDecode(data, early, r.cfg.MaxDecodedBytes)
		if err != nil {
			return nil, &DecodeError{Filter: filterName, Err: err}
		}

	case "ASCII85Decode":
		dec := ascii85.NewDecoder(newAlphaReader(bytes.NewReader(data)))
		out, err = r.readAllCapped(dec)
		if err != nil {
			return nil, &DecodeError{Filter: filterName, Err: err}
		}

	case "ASCIIHexDecode":
		out, err = asciiHexDecode(data)
		if err != nil {
			return nil, &DecodeError{Filter: filterName, Err: err}
		}

	case "RunLengthDecode":
		out, err = runLengthDecode(data, r.cfg.MaxDecodedBytes)
		if err != nil {
			return nil, &DecodeError{Filter: filterName, Err: err}
		}
	}

	if pred := parms.Key("Predictor"); pred.Kind() == Integer && pred.Int64() > 1 {
		out, err = applyPredictor(out, predictorParams{
			predictor: int(pred.Int64()),
			colors:    intOrDefault(parms.Key("Colors"), 1),
			bpc:       intOrDefault(parms.Key("BitsPerComponent"), 8),
			columns:   intOrDefault(parms.Key("Columns"), 1),
		})
		if err != nil {
			return nil, &DecodeError{Filter: filterName, Err: err}
		}
	}
	return out, nil
}

func intOrDefault(v Value, def int) int {
	if v.Kind() == Integer {
		return int(v.Int64())
	}
	return def
}

// readAllCapped reads rd to EOF, honoring the configured decode cap.
func (r *Reader) readAllCapped(rd io.Reader) ([]byte, error) {
	max := r.cfg.MaxDecodedBytes
	if max <= 0 {
		return io.ReadAll(rd)
	}
	data, err := io.ReadAll(io.LimitReader(rd, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("decoded output exceeds cap of %d bytes", max)
	}
	return data, nil
}

// asciiHexDecode decodes whitespace-insensitive hex digit pairs up to
// the '>' end marker; a trailing odd digit is padded with zero.
func asciiHexDecode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)/2)
	hi := -1
	for i, c := range data {
		if isWhitespace(c) {
			continue
		}
		if c == '>' {
			if hi >= 0 {
				out = append(out, byte(hi<<4))
			}
			return out, nil
		}
		x := unhex(c)
		if x < 0 {
			return nil, fmt.Errorf("invalid hex digit %#q at %d", rune(c), i)
		}
		if hi < 0 {
			hi = x
		} else {
			out = append(out, byte(hi<<4|x))
			hi = -1
		}
	}
	// missing '>' is tolerated at end of data
	if hi >= 0 {
		out = append(out, byte(hi<<4))
	}
	return out, nil
}

// runLengthDecode expands run-length encoded data: a length byte n of
// 0..127 copies the next n+1 bytes literally, 129..255 repeats the next
// byte 257-n times, 128 is end of data.
func runLengthDecode(data []byte, max int64) ([]byte, error) {
	var out []byte
	i := 0
	for i < len(data) {
		n := int(data[i])
		i++
		if n == 128 {
			return out, nil
		}
		if n < 128 {
			if i+n+1 > len(data) {
				return nil, errors.New("truncated literal run")
			}
			out = append(out, data[i:i+n+1]...)
			i += n + 1
		} else {
			if i >= len(data) {
				return nil, errors.New("truncated repeat run")
			}
			for j := 0; j < 257-n; j++ {
				out = append(out, data[i])
			}
			i++
		}
		if max > 0 && int64(len(out)) > max {
			return nil, fmt.Errorf("decoded output exceeds cap of %d bytes", max)
		}
	}
	return nil, errors.New("missing end-of-data marker")
}

type errorReadCloser struct {
	err error
}

func (e *errorReadCloser) Read([]byte) (int, error) {
	return 0, e.err
}

func (e *errorReadCloser) Close() error {
	return e.err
}

// Reader returns the decoded data contained in the stream v.
// If v.Kind() != Stream, or if the stream body cannot be decoded,
// Reader returns a ReadCloser whose reads report the failure.
func (v Value) Reader() io.ReadCloser {
	x, ok := v.data.(stream)
	if !ok {
		return &errorReadCloser{fmt.Errorf("stream not present")}
	}
	data, err := v.r.streamContents(x)
	if err != nil {
		logger.Error(fmt.Sprintf("stream %d: %v", x.ptr.id, err))
		return &errorReadCloser{err}
	}
	return io.NopCloser(bytes.NewReader(data))
}

// RawReader returns the raw, undecoded data of the stream v, bypassing
// the filter pipeline. Useful after a decode failure.
func (v Value) RawReader() io.ReadCloser {
	x, ok := v.data.(stream)
	if !ok {
		return &errorReadCloser{fmt.Errorf("stream not present")}
	}
	data, err := v.r.rawStreamContents(x)
	if err != nil {
		return &errorReadCloser{err}
	}
	return io.NopCloser(bytes.NewReader(data))
}
