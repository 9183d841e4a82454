// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Package pdfproc implements reading of PDF files.
//
// # Overview
//
// A PDF document is a complex data format built on a fairly simple
// structure. This package exposes that structure: it tokenizes the raw
// bytes, reconstructs the object graph, resolves indirect references
// through the cross-reference index, and decodes stream payloads.
// Interpretation of page content, fonts, and rendering belong to layers
// built on top of this one.
//
// Specifically, a PDF is a data structure built from Values, each of which has
// one of the following Kinds:
//
//	Null, for the null object.
//	Integer, for an integer.
//	Real, for a floating-point number.
//	Bool, for a boolean value.
//	Name, for a name constant (as in /Helvetica).
//	String, for a string constant.
//	Dict, for a dictionary of name-value pairs.
//	Array, for an array of values.
//	Stream, for an opaque data stream and associated header dictionary.
//
// The accessors on Value—Int64, Float64, Bool, Name, and so on—return
// a view of the data as the given type. When there is no appropriate view,
// the accessor returns a zero result. For example, the Name accessor returns
// the empty string if called on a Value v for which v.Kind() != Name.
// Returning zero values this way, especially from the Dict and Array accessors,
// which themselves return Values, makes it possible to traverse a PDF quickly
// without writing any error checking. Callers that need failures surfaced
// use the Reader's Get and StreamBytes methods, which report typed errors.
//
// Indirect references inside dictionaries and arrays are never followed
// eagerly; Key and Index resolve them on access, and Get resolves them on
// demand. Consumers that walk the graph recursively must track visited
// object numbers themselves, since reference cycles are legal in real
// files.
package pdfproc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cmlburnett/pdfproc/logger"
)

// A Reader is a single PDF file open for reading.
// A Reader is safe for concurrent use: first-time resolution of an
// object number is serialized on its cache slot, and the underlying
// source is accessed only through ReadAt.
type Reader struct {
	f          io.ReaderAt
	closer     io.Closer
	end        int64
	xref       []xref
	trailer    dict
	trailerptr objptr
	version    string
	recovered  bool
	cfg        *Config
	cache      *objcache
}

type xref struct {
	ptr      objptr
	inStream bool
	stream   objptr
	offset   int64
	free     bool
}

// Open opens the named file for reading. The returned Reader owns the
// file handle; Close releases it.
func Open(file string, cfg *Config) (*Reader, error) {
	logger.Debug("Open file", true)
	f, err := os.Open(file)
	if err != nil {
		return nil, &OpenError{Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &OpenError{Err: err}
	}
	logger.Debug(fmt.Sprintf("document: file:%s -- opened (size=%d)", file, fi.Size()), true)
	r, err := NewReader(f, fi.Size(), cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader opens a document for reading, using the data in f with the
// given total size. A nil cfg means NewDefaultConfig. NewReader either
// returns a usable Reader, possibly built through the linear-scan
// recovery path, or a single OpenError.
func NewReader(f io.ReaderAt, size int64, cfg *Config) (*Reader, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &OpenError{Err: err}
	}
	if cfg.Logger != nil {
		logger.SetLogger(cfg.Logger)
	}

	r := &Reader{f: f, end: size, cfg: cfg, cache: newObjCache()}

	logger.Debug("Checking Header", true)
	version, err := checkHeader(f, size)
	if err != nil {
		return nil, &OpenError{Err: err}
	}
	r.version = version

	logger.Debug("Checking End of file Marker", true)
	if err := validateEOFMarker(f, size); err != nil {
		return nil, &OpenError{Err: err}
	}

	logger.Debug("Checking Startxref", true)
	startxref, err := findStartXref(f, size)
	if err == nil && (startxref < 0 || startxref >= size) {
		err = &XRefError{Offset: startxref, Msg: "startxref offset out of bounds"}
	}
	if err == nil {
		logger.Debug("Checking xref table + trailer", true)
		b := newBuffer(io.NewSectionReader(r.f, startxref, r.end-startxref), startxref)
		var table []xref
		var trailerptr objptr
		var trailer dict
		table, trailerptr, trailer, err = readXref(r, b)
		if err == nil {
			r.xref = table
			r.trailer = trailer
			r.trailerptr = trailerptr
			return r, nil
		}
	}

	// The startxref chain is unusable. Rebuild the index by scanning the
	// whole file for object envelopes.
	logger.Error(fmt.Sprintf("xref chain unusable, attempting recovery scan: %v", err))
	if rerr := r.rebuildXref(); rerr != nil {
		return nil, &OpenError{Err: errors.Join(err, rerr)}
	}
	r.recovered = true
	return r, nil
}

// Close releases the underlying source if the Reader owns it.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Version returns the version from the file header, such as "1.7".
func (r *Reader) Version() string {
	return r.version
}

// headerWindow bounds the scan for %PDF- at the start of the file.
// Real-world producers prepend HTTP junk or BOMs; 1 KiB of tolerance
// covers what is seen in practice.
const headerWindow = 1024

// checkHeader validates the PDF header near the beginning of the file.
// It locates "%PDF-x.y" within the first KiB and checks the version is
// within 1.0–1.7 or 2.0.
func checkHeader(f io.ReaderAt, size int64) (string, error) {
	n := int64(headerWindow)
	if size < n {
		n = size
	}
	buf := make([]byte, n)
	m, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		logger.Error(fmt.Sprintf("failed to read initial bytes for header check: %v", err))
		return "", err
	}
	if m == 0 {
		logger.Error("not a PDF file: empty")
		return "", errors.New("not a PDF file: empty")
	}
	buf = buf[:m]
	p := bytes.Index(buf, []byte("%PDF-"))
	if p < 0 {
		logger.Error("not a PDF file: no %PDF- header in leading bytes")
		return "", errors.New("not a PDF file: missing %PDF- header")
	}

	lineBuf := buf[p:]
	lineEnd := bytes.IndexAny(lineBuf, "\r\n")
	if lineEnd < 0 {
		lineEnd = len(lineBuf)
	}
	line := lineBuf[:lineEnd]
	// Some files have trailing spaces/tabs/NULLs before the newline; trim them.
	line = bytes.TrimRight(line, " \t\x00")

	var major, minor int
	if _, err := fmt.Sscanf(string(line), "%%PDF-%d.%d", &major, &minor); err != nil {
		logger.Error("not a PDF file: malformed version")
		return "", errors.New("not a PDF file: malformed version")
	}
	if !((major == 1 && minor >= 0 && minor <= 7) || (major == 2 && minor == 0)) {
		logger.Error(fmt.Sprintf("unsupported PDF version %d.%d", major, minor))
		return "", fmt.Errorf("unsupported PDF version %d.%d", major, minor)
	}
	logger.Debug(fmt.Sprintf("header: PDF-%d.%d", major, minor), true)
	return fmt.Sprintf("%d.%d", major, minor), nil
}

// validateEOFMarker checks the last chunk of the file for the "%%EOF"
// marker. When updates were appended incrementally several markers
// exist; only the final one matters here.
func validateEOFMarker(f io.ReaderAt, size int64) error {
	logger.Debug("checking for EOF")
	const endChunk = 100
	n := int64(endChunk)
	if size < n {
		n = size
	}
	buf := make([]byte, n)
	m, err := f.ReadAt(buf, size-n)
	if err != nil && err != io.EOF {
		return err
	}
	buf = bytes.TrimRight(buf[:m], "\r\n\t\x00 ")
	if !bytes.HasSuffix(buf, []byte("%%EOF")) {
		logger.Error("not a PDF file: missing %%EOF")
		return errors.New("not a PDF file: missing %%EOF")
	}
	return nil
}

// findStartXref locates and parses the "startxref" pointer near the end
// of the file. Returns the byte offset where the cross-reference
// table/stream begins.
func findStartXref(f io.ReaderAt, size int64) (int64, error) {
	const endChunk = 256
	n := int64(endChunk)
	if size < n {
		n = size
	}
	buf := make([]byte, n)
	m, err := f.ReadAt(buf, size-n)
	if err != nil && err != io.EOF {
		return 0, err
	}
	buf = buf[:m]
	i := findLastLine(buf, "startxref")
	if i < 0 {
		logger.Error("malformed PDF file: missing final startxref")
		return 0, &XRefError{Offset: size, Msg: "missing final startxref"}
	}
	pos := size - n + int64(i)
	b := newBuffer(io.NewSectionReader(f, pos, size-pos), pos)
	b.allowEOF = true

	tok := b.readToken()
	if tok != keyword("startxref") {
		logger.Error(fmt.Sprintf("malformed PDF file: missing startxref: %v", tok))
		return 0, &XRefError{Offset: pos, Msg: "missing startxref keyword"}
	}
	startxref, ok := b.readToken().(int64)
	if !ok {
		logger.Error("malformed PDF file: startxref not followed by integer")
		return 0, &XRefError{Offset: pos, Msg: "startxref not followed by integer"}
	}
	logger.Debug(fmt.Sprintf("xref: findStartXref -- startxref=%d", startxref), true)
	return startxref, nil
}

// Trailer returns the file's trailer dictionary.
func (r *Reader) Trailer() Value {
	return Value{r, r.trailerptr, r.trailer}
}

// Catalog returns the document catalog, reached through the trailer's
// /Root entry.
func (r *Reader) Catalog() (Value, error) {
	root, ok := r.trailer[name("Root")]
	if !ok {
		return Value{}, &ParseError{Msg: "trailer has no /Root entry"}
	}
	v, err := r.resolve(r.trailerptr, root)
	if err != nil {
		return Value{}, err
	}
	if v.Kind() != Dict {
		return Value{}, &ParseError{Msg: fmt.Sprintf("catalog is %v, not a dictionary", v)}
	}
	return v, nil
}

// Get resolves the object with the given number and generation.
// Results are cached for the life of the Reader. A free slot or an
// absent object number reports a ReferenceError; a generation mismatch
// is a warning in best-effort mode and a ReferenceError in strict mode.
func (r *Reader) Get(num uint32, gen uint16) (Value, error) {
	return r.getObject(objptr{num, gen})
}

func readXref(r *Reader, b *buffer) ([]xref, objptr, dict, error) {
	tok := b.readToken()
	if tok == keyword("xref") {
		logger.Debug("Found Xref Table", true)
		return readXrefTable(r, b)
	}
	if _, ok := tok.(int64); ok {
		b.unreadToken(tok)
		logger.Debug("Found Xref Stream", true)
		return readXrefStream(r, b)
	}
	logger.Error(fmt.Sprintf("malformed PDF: neither cross-reference table nor stream found: %v", tok))
	return nil, objptr{}, nil, &XRefError{Offset: b.readOffset(), Msg: "neither cross-reference table nor stream found"}
}

func readXrefStream(r *Reader, b *buffer) ([]xref, objptr, dict, error) {
	logger.Debug("processing Xref Stream")
	strmptr, strm, err := parseXrefStreamObject(b)
	if err != nil {
		return nil, objptr{}, nil, err
	}
	// Extract /Size and allocate the table.
	size, err := xrefSize(strm)
	if err != nil {
		return nil, objptr{}, nil, err
	}
	table := make([]xref, size)
	// Fill entries from the first stream.
	table, err = readXrefStreamData(r, strm, table, size)
	if err != nil {
		return nil, objptr{}, nil, &XRefError{Offset: strm.offset, Msg: "reading xref stream data", Err: err}
	}
	// Follow and merge any /Prev streams.
	table, err = mergePrevXrefStreams(r, strm, table, size)
	if err != nil {
		return nil, objptr{}, nil, err
	}

	return table, strmptr, strm.hdr, nil
}

// parseXrefStreamObject reads one object from the buffer and returns
// its objptr and stream, ensuring it is an /XRef stream.
func parseXrefStreamObject(b *buffer) (objptr, stream, error) {
	off := b.readOffset()
	obj1 := b.readObject()
	od, ok := obj1.(objdef)
	if !ok {
		logger.Error(fmt.Sprintf("malformed PDF: objdef not found: %v", objfmt(obj1)))
		return objptr{}, stream{}, &XRefError{Offset: off, Msg: "object definition not found"}
	}
	strm, ok := od.obj.(stream)
	if !ok {
		logger.Error(fmt.Sprintf("malformed PDF: cross-reference stream not found: %v", objfmt(od)))
		return objptr{}, stream{}, &XRefError{Offset: off, Msg: "cross-reference stream not found"}
	}
	if strm.hdr["Type"] != name("XRef") {
		logger.Error("malformed PDF: xref stream does not have type XRef")
		return objptr{}, stream{}, &XRefError{Offset: off, Msg: "xref stream does not have type XRef"}
	}

	return od.ptr, strm, nil
}

// xrefSize returns the /Size from an xref stream header.
func xrefSize(strm stream) (int64, error) {
	if size, ok := strm.hdr["Size"].(int64); ok {
		return size, nil
	}
	logger.Error("malformed PDF: xref stream missing Size")
	return 0, &XRefError{Offset: strm.offset, Msg: "xref stream missing Size"}
}

// mergePrevXrefStreams walks the /Prev chain, validating and merging
// each older stream. Entries already present always win: a newer
// section's record of an object, including a freed one, shadows every
// older record.
func mergePrevXrefStreams(r *Reader, cur stream, table []xref, maxSize int64) ([]xref, error) {
	seen := map[int64]bool{}
	for prevoff := cur.hdr["Prev"]; prevoff != nil; {
		off, ok := prevoff.(int64)
		if !ok {
			logger.Error(fmt.Sprintf("malformed PDF: xref Prev is not integer: %v", prevoff))
			return nil, &XRefError{Msg: "xref Prev is not an integer"}
		}
		if seen[off] {
			logger.Error(fmt.Sprintf("malformed PDF: xref Prev chain loops at %d", off))
			return nil, &XRefError{Offset: off, Msg: "Prev chain loops"}
		}
		seen[off] = true
		logger.Debug(fmt.Sprintf("found Prev stream with offset %d", off), true)
		b := newBuffer(io.NewSectionReader(r.f, off, r.end-off), off)
		_, prevStrm, err := parseXrefStreamObject(b)
		if err != nil {
			return nil, err
		}
		prevoff = prevStrm.hdr["Prev"]
		psize, err := xrefSize(prevStrm)
		if err != nil {
			return nil, err
		}
		if psize > maxSize {
			logger.Error("malformed PDF: xref prev stream larger than last stream")
			return nil, &XRefError{Offset: off, Msg: "prev stream larger than last stream"}
		}
		table, err = readXrefStreamData(r, prevStrm, table, psize)
		if err != nil {
			logger.Error(fmt.Sprintf("malformed PDF: reading xref prev stream: %v", err))
			return nil, &XRefError{Offset: off, Msg: "reading prev stream", Err: err}
		}
		inheritTrailerKeys(cur.hdr, prevStrm.hdr)
	}
	return table, nil
}

func readXrefStreamData(r *Reader, strm stream, table []xref, size int64) ([]xref, error) {
	index, _ := strm.hdr["Index"].(array)
	if index == nil {
		index = array{int64(0), size}
	}
	if len(index)%2 != 0 {
		err := fmt.Errorf("invalid Index array %v", objfmt(index))
		logger.Error(err.Error())
		return nil, err
	}

	ww, ok := strm.hdr["W"].(array)
	if !ok {
		err := fmt.Errorf("xref stream missing W array")
		logger.Error(err.Error())
		return nil, err
	}

	var w []int
	for _, x := range ww {
		i, ok := x.(int64)
		if !ok || int64(int(i)) != i || i < 0 {
			err := fmt.Errorf("invalid W array %v", objfmt(ww))
			logger.Error(err.Error())
			return nil, err
		}
		w = append(w, int(i))
	}
	if len(w) < 3 {
		err := fmt.Errorf("invalid W array %v", objfmt(ww))
		logger.Error(err.Error())
		return nil, err
	}

	data, err := r.streamContents(strm)
	if err != nil {
		return nil, err
	}
	wtotal := 0
	for _, wid := range w {
		wtotal += wid
	}
	rd := bytes.NewReader(data)
	buf := make([]byte, wtotal)
	for len(index) > 0 {
		start, ok1 := index[0].(int64)
		n, ok2 := index[1].(int64)
		if !ok1 || !ok2 {
			err := fmt.Errorf("malformed Index pair %v %v", objfmt(index[0]), objfmt(index[1]))
			logger.Error(err.Error())
			return nil, err
		}
		index = index[2:]
		for i := 0; i < int(n); i++ {
			if _, err := io.ReadFull(rd, buf); err != nil {
				err = fmt.Errorf("error reading xref stream: %v", err)
				logger.Error(err.Error())
				return nil, err
			}
			v1 := decodeInt(buf[0:w[0]])
			if w[0] == 0 {
				// missing type field defaults to in-use
				v1 = 1
			}
			v2 := decodeInt(buf[w[0] : w[0]+w[1]])
			v3 := decodeInt(buf[w[0]+w[1] : w[0]+w[1]+w[2]])
			x := int(start) + i
			table = ensureLen(table, x+1)
			if table[x].ptr != (objptr{}) {
				continue
			}
			switch v1 {
			case 0:
				table[x] = xref{ptr: objptr{uint32(x), uint16(v3)}, free: true}
			case 1:
				table[x] = xref{ptr: objptr{uint32(x), uint16(v3)}, offset: int64(v2)}
			case 2:
				table[x] = xref{ptr: objptr{uint32(x), 0}, inStream: true, stream: objptr{uint32(v2), 0}, offset: int64(v3)}
			default:
				logger.Error(fmt.Sprintf("invalid xref stream type %d: %x", v1, buf))
			}
		}
	}
	logger.Debug(fmt.Sprintf("parseXrefEntries (entries parsed=%d)", size), true)

	return table, nil
}

func decodeInt(b []byte) int {
	x := 0
	for _, c := range b {
		x = x<<8 | int(c)
	}
	return x
}

func readXrefTable(r *Reader, b *buffer) ([]xref, objptr, dict, error) {
	logger.Debug("processing xref table")
	table, trailer, err := parseXrefTableAndTrailer(b, nil)
	if err != nil {
		return nil, objptr{}, nil, err
	}

	// Hybrid-reference files carry an /XRefStm alongside the table.
	table, trailer, err = r.handleTrailerXRefStm(table, trailer)
	if err != nil {
		logger.Error(fmt.Sprintf("readXrefTable: XRefStm handling error: %v. Falling back to Prev chain.", err))
		// proceed with the Prev chain to salvage what we can from ASCII tables
	}

	table, trailer, err = resolvePrevXrefTables(r, trailer, table)
	if err != nil {
		return nil, objptr{}, nil, err
	}

	if err := validateTrailerSize(&table, trailer); err != nil {
		return nil, objptr{}, nil, err
	}

	return table, objptr{}, trailer, nil
}

// parseXrefTableAndTrailer parses a single xref table section
// and the trailer dictionary that follows it.
func parseXrefTableAndTrailer(b *buffer, table []xref) ([]xref, dict, error) {
	var err error
	table, err = readXrefTableData(b, table)
	if err != nil {
		logger.Error(fmt.Sprintf("malformed PDF: %v", err))
		return nil, nil, err
	}
	logger.Debug(fmt.Sprintf("parsed xref table section, %d entries so far", len(table)))
	trailer, ok := b.readObject().(dict)
	if !ok {
		logger.Error("malformed PDF: xref table not followed by trailer dictionary")
		return nil, nil, &XRefError{Offset: b.readOffset(), Msg: "xref table not followed by trailer dictionary"}
	}
	return table, trailer, nil
}

func resolvePrevXrefTables(r *Reader, trailer dict, table []xref) ([]xref, dict, error) {
	seen := map[int64]bool{}
	for prevoff := trailer[name("Prev")]; prevoff != nil; {
		off, ok := prevoff.(int64)
		if !ok {
			logger.Error(fmt.Sprintf("malformed PDF: xref Prev is not integer: %v", prevoff))
			return nil, nil, &XRefError{Msg: "xref Prev is not an integer"}
		}
		if seen[off] {
			logger.Error(fmt.Sprintf("malformed PDF: xref Prev chain loops at %d", off))
			return nil, nil, &XRefError{Offset: off, Msg: "Prev chain loops"}
		}
		seen[off] = true
		logger.Debug("found Prev xref table", true)
		b := newBuffer(io.NewSectionReader(r.f, off, r.end-off), off)
		tok := b.readToken()
		if tok != keyword("xref") {
			logger.Error("malformed PDF: xref Prev does not point to xref")
			return nil, nil, &XRefError{Offset: off, Msg: "Prev does not point to xref"}
		}
		var prev dict
		var err error
		table, prev, err = parseXrefTableAndTrailer(b, table)
		if err != nil {
			return nil, nil, err
		}
		table, prev, err = r.handleTrailerXRefStm(table, prev)
		if err != nil {
			logger.Debug(fmt.Sprintf("warning: XRefStm handling error in Prev chain: %v; continuing", err))
		}
		inheritTrailerKeys(trailer, prev)
		prevoff = prev[name("Prev")]
	}
	return table, trailer, nil
}

// inheritTrailerKeys copies document-level entries from an older
// trailer into the newest one when the newest lacks them. Incremental
// updates are allowed to omit /Root and rely on an earlier revision.
func inheritTrailerKeys(trailer, prev dict) {
	for _, k := range []name{"Root", "Info", "Encrypt", "ID"} {
		if _, ok := trailer[k]; ok {
			continue
		}
		if v, ok := prev[k]; ok {
			trailer[k] = v
		}
	}
}

// validateTrailerSize trims the xref table to the declared /Size in trailer.
func validateTrailerSize(table *[]xref, trailer dict) error {
	size, ok := trailer[name("Size")].(int64)
	if !ok {
		logger.Error("malformed PDF: trailer missing /Size entry")
		return &XRefError{Msg: "trailer missing /Size entry"}
	}

	if size < int64(len(*table)) {
		*table = (*table)[:size]
	}
	logger.Debug(fmt.Sprintf("trailer size validated: %d", size))
	return nil
}

// ensureLen makes sure s has length at least n (growing capacity if needed)
// and returns the possibly-reallocated slice.
func ensureLen[T any](s []T, n int) []T {
	if n <= len(s) {
		return s
	}
	if cap(s) < n {
		ns := make([]T, n)
		copy(ns, s)
		return ns
	}
	return s[:n]
}

// setIfEmpty sets table[x] to val only if the slot is currently empty.
// Sections are processed newest first, so an occupied slot is always
// the more recent record and must not be overwritten.
func setIfEmpty(table *[]xref, x int, val xref) {
	if x < 0 {
		return
	}
	*table = ensureLen(*table, x+1)
	if (*table)[x].ptr == (objptr{}) {
		(*table)[x] = val
	}
}

func readXrefTableData(b *buffer, table []xref) ([]xref, error) {
	logger.Debug("reading xref table data")
	for {
		tok := b.readToken()
		if tok == keyword("trailer") {
			break
		}
		start, ok1 := tok.(int64)
		count, ok2 := b.readToken().(int64)
		if !ok1 || !ok2 || start < 0 || count < 0 {
			logger.Error("malformed xref table subsection header")
			return nil, &XRefError{Offset: b.readOffset(), Msg: "malformed xref table subsection header"}
		}
		for i := 0; i < int(count); i++ {
			offTok := b.readToken()
			genTok := b.readToken()
			allocTok := b.readToken()

			off, okOff := offTok.(int64)
			gen, okGen := genTok.(int64)
			alloc, okAlloc := allocTok.(keyword)
			if !okOff || !okGen || !okAlloc {
				logger.Error(fmt.Sprintf("malformed xref entry at subsection starting %d", start))
				return nil, &XRefError{Offset: b.readOffset(), Msg: "malformed xref entry"}
			}

			idx := int(start) + i
			switch alloc {
			case keyword("n"):
				setIfEmpty(&table, idx, xref{ptr: objptr{uint32(idx), uint16(gen)}, offset: off})
			case keyword("f"):
				setIfEmpty(&table, idx, xref{ptr: objptr{uint32(idx), uint16(gen)}, free: true})
			default:
				logger.Error(fmt.Sprintf("malformed xref table: unexpected alloc token %v", alloc))
				return nil, &XRefError{Offset: b.readOffset(), Msg: fmt.Sprintf("unexpected alloc token %v", alloc)}
			}
		}
	}
	return table, nil
}

// mergeXrefTables merges src into dest using conservative rules:
//   - extend dest if src bigger
//   - if dest empty, accept src
//   - an in-use src always wins: the stream is authoritative in a
//     hybrid file, where the classic table lists compressed objects as
//     free placeholders for pre-1.5 readers
//   - a free src only fills an empty slot
func mergeXrefTables(dest []xref, src []xref) []xref {
	if len(src) > len(dest) {
		nd := make([]xref, len(src))
		copy(nd, dest)
		dest = nd
	}
	for i := 0; i < len(src); i++ {
		s := src[i]
		if s.ptr == (objptr{}) {
			continue
		}
		if dest[i].ptr == (objptr{}) || !s.free {
			dest[i] = s
		}
	}
	return dest
}

// handleTrailerXRefStm parses the stream named by a trailer's /XRefStm
// entry, if any, and merges its table into the provided table. If the
// stream looks too damaged, it returns an error so the caller can fall
// back to the ASCII table alone.
func (r *Reader) handleTrailerXRefStm(table []xref, trailer dict) ([]xref, dict, error) {
	xrefstm := trailer[name("XRefStm")]
	if xrefstm == nil {
		return table, trailer, nil
	}
	logger.Debug("found XRefStm in trailer", true)
	off, ok := xrefstm.(int64)
	if !ok {
		logger.Error(fmt.Sprintf("malformed PDF: XRefStm not integer: %v", xrefstm))
		return table, trailer, &XRefError{Msg: "XRefStm is not an integer"}
	}
	b := newBuffer(io.NewSectionReader(r.f, off, r.end-off), off)
	srcTable, _, hdr, err := readXrefStream(r, b)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to parse XRefStm at %d: %v", off, err))
		return table, trailer, &XRefError{Offset: off, Msg: "parsing XRefStm", Err: err}
	}
	_, invalid := r.validateAndRepairXrefEntries(srcTable)

	total := 0
	for _, e := range srcTable {
		if e.ptr != (objptr{}) {
			total++
		}
	}
	// Accept or reject the stream table based on an invalid threshold.
	if total > 0 && float64(invalid)/float64(total) > 0.30 {
		logger.Error(fmt.Sprintf("xref stream at %d appears invalid: %d/%d invalid entries", off, invalid, total))
		return table, trailer, &XRefError{Offset: off, Msg: fmt.Sprintf("%d/%d invalid entries", invalid, total)}
	}

	table = mergeXrefTables(table, srcTable)

	if _, ok := hdr["Size"]; !ok {
		logger.Debug(fmt.Sprintf("xref stream at %d missing /Size", off))
		return table, trailer, &XRefError{Offset: off, Msg: "XRefStm missing /Size"}
	}
	return table, trailer, nil
}

// findLastLine searches backwards in buf for the last occurrence of the
// keyword s (e.g. "startxref") that is correctly terminated. The
// grammar wants the keyword followed directly by an EOL, but producers
// routinely pad with spaces, tabs, or NULs first, so any run of PDF
// whitespace containing at least one CR or LF is accepted.
func findLastLine(buf []byte, s string) int {
	bs := []byte(s)
	var indices []int

	for i := 0; ; {
		j := bytes.Index(buf[i:], bs)
		if j < 0 {
			break
		}
		indices = append(indices, i+j)
		i += j + 1
	}

	for k := len(indices) - 1; k >= 0; k-- {
		i := indices[k]
		j := skipWhitespace(buf, i+len(bs))
		if endsWithEOL(buf, i+len(bs), j) {
			return i
		}
	}
	return -1
}

var wsBits [4]uint64 // 256 bits = 4 * 64

func init() {
	for _, b := range []byte{0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20} {
		wsBits[b>>6] |= 1 << (b & 63)
	}
}

// isWhitespace reports whether b is one of the six whitespace characters
// defined by ISO 32000-1 §7.2.2 for PDF syntax: 00, 09, 0A, 0C, 0D, 20.
func isWhitespace(b byte) bool {
	return (wsBits[b>>6] & (1 << (b & 63))) != 0
}

// skipWhitespace advances j past all whitespace.
func skipWhitespace(buf []byte, j int) int {
	for j < len(buf) && isWhitespace(buf[j]) {
		j++
	}
	return j
}

// endsWithEOL checks whether the last skipped char is CR or LF.
func endsWithEOL(buf []byte, start, end int) bool {
	if end > start {
		last := buf[end-1]
		return last == '\n' || last == '\r'
	}
	return false
}

// A Value is a single PDF value, such as an integer, dictionary, or array.
// The zero Value is a PDF null (Kind() == Null, IsNull() = true).
type Value struct {
	r    *Reader
	ptr  objptr
	data interface{}
}

// IsNull reports whether the value is a null. It is equivalent to Kind() == Null.
func (v Value) IsNull() bool {
	return v.data == nil
}

// A ValueKind specifies the kind of data underlying a Value.
type ValueKind int

// The PDF value kinds.
const (
	Null ValueKind = iota
	Bool
	Integer
	Real
	String
	Name
	Dict
	Array
	Stream
)

// Kind reports the kind of value underlying v.
func (v Value) Kind() ValueKind {
	switch v.data.(type) {
	default:
		return Null
	case bool:
		return Bool
	case int64:
		return Integer
	case float64:
		return Real
	case string:
		return String
	case name:
		return Name
	case dict:
		return Dict
	case array:
		return Array
	case stream:
		return Stream
	}
}

// String returns a textual representation of the value v.
// Note that String is not the accessor for values with Kind() == String.
// To access such values, see RawString, Text, and TextFromUTF16.
func (v Value) String() string {
	return objfmt(v.data)
}

func objfmt(x interface{}) string {
	switch x := x.(type) {
	default:
		return fmt.Sprint(x)
	case string:
		if isPDFDocEncoded(x) {
			return strconv.Quote(pdfDocDecode(x))
		}
		if isUTF16(x) {
			return strconv.Quote(utf16Decode(x[2:]))
		}
		return strconv.Quote(x)
	case name:
		return "/" + string(x)
	case dict:
		var keys []string
		for k := range x {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteString("<<")
		for i, k := range keys {
			elem := x[name(k)]
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString("/")
			buf.WriteString(k)
			buf.WriteString(" ")
			buf.WriteString(objfmt(elem))
		}
		buf.WriteString(">>")
		return buf.String()

	case array:
		var buf bytes.Buffer
		buf.WriteString("[")
		for i, elem := range x {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(objfmt(elem))
		}
		buf.WriteString("]")
		return buf.String()

	case stream:
		return fmt.Sprintf("%v@%d", objfmt(x.hdr), x.offset)

	case objptr:
		return fmt.Sprintf("%d %d R", x.id, x.gen)

	case objdef:
		return fmt.Sprintf("{%d %d obj}%v", x.ptr.id, x.ptr.gen, objfmt(x.obj))
	}
}

// Bool returns v's boolean value.
// If v.Kind() != Bool, Bool returns false.
func (v Value) Bool() bool {
	x, ok := v.data.(bool)
	if !ok {
		return false
	}
	return x
}

// Int64 returns v's int64 value.
// If v.Kind() != Integer, Int64 returns 0.
func (v Value) Int64() int64 {
	x, ok := v.data.(int64)
	if !ok {
		return 0
	}
	return x
}

// Float64 returns v's float64 value, converting from integer if necessary.
// If v.Kind() != Real and v.Kind() != Integer, Float64 returns 0.
func (v Value) Float64() float64 {
	x, ok := v.data.(float64)
	if !ok {
		x, ok := v.data.(int64)
		if ok {
			return float64(x)
		}
		return 0
	}
	return x
}

// RawString returns v's string value.
// If v.Kind() != String, RawString returns the empty string.
func (v Value) RawString() string {
	x, ok := v.data.(string)
	if !ok {
		return ""
	}
	return x
}

// Text returns v's string value interpreted as a “text string” (defined in the PDF spec)
// and converted to UTF-8.
// If v.Kind() != String, Text returns the empty string.
func (v Value) Text() string {
	x, ok := v.data.(string)
	if !ok {
		return ""
	}
	if isPDFDocEncoded(x) {
		return pdfDocDecode(x)
	}
	if isUTF16(x) {
		return utf16Decode(x[2:])
	}
	return x
}

// TextFromUTF16 returns v's string value interpreted as big-endian UTF-16
// and then converted to UTF-8.
// If v.Kind() != String or if the data is not valid UTF-16, TextFromUTF16 returns
// the empty string.
func (v Value) TextFromUTF16() string {
	x, ok := v.data.(string)
	if !ok {
		return ""
	}
	if len(x)%2 == 1 {
		return ""
	}
	if x == "" {
		return ""
	}
	return utf16Decode(x)
}

// Name returns v's name value.
// If v.Kind() != Name, Name returns the empty string.
// The returned name does not include the leading slash:
// if v corresponds to the name written using the syntax /Helvetica,
// Name() == "Helvetica".
func (v Value) Name() string {
	x, ok := v.data.(name)
	if !ok {
		return ""
	}
	return string(x)
}

// Key returns the value associated with the given name key in the dictionary v.
// Like the result of the Name method, the key should not include a leading slash.
// If v is a stream, Key applies to the stream's header dictionary.
// If v.Kind() != Dict and v.Kind() != Stream, Key returns a null Value.
// An indirect value is resolved on access; resolution failure yields a
// null Value, with the error reported through Reader.Get for callers
// that need it.
func (v Value) Key(key string) Value {
	x, ok := v.data.(dict)
	if !ok {
		strm, ok := v.data.(stream)
		if !ok {
			return Value{}
		}
		x = strm.hdr
	}
	rv, err := v.r.resolve(v.ptr, x[name(key)])
	if err != nil {
		logger.Debug(fmt.Sprintf("resolving key %s: %v", key, err))
		return Value{}
	}
	return rv
}

// Keys returns a sorted list of the keys in the dictionary v.
// If v is a stream, Keys applies to the stream's header dictionary.
// If v.Kind() != Dict and v.Kind() != Stream, Keys returns nil.
func (v Value) Keys() []string {
	x, ok := v.data.(dict)
	if !ok {
		strm, ok := v.data.(stream)
		if !ok {
			return nil
		}
		x = strm.hdr
	}
	keys := []string{} // not nil
	for k := range x {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// Index returns the i'th element in the array v.
// If v.Kind() != Array or if i is outside the array bounds,
// Index returns a null Value.
func (v Value) Index(i int) Value {
	x, ok := v.data.(array)
	if !ok || i < 0 || i >= len(x) {
		return Value{}
	}
	rv, err := v.r.resolve(v.ptr, x[i])
	if err != nil {
		logger.Debug(fmt.Sprintf("resolving index %d: %v", i, err))
		return Value{}
	}
	return rv
}

// Len returns the length of the array v.
// If v.Kind() != Array, Len returns 0.
func (v Value) Len() int {
	x, ok := v.data.(array)
	if !ok {
		return 0
	}
	return len(x)
}

func (r *Reader) resolve(parent objptr, x interface{}) (Value, error) {
	if ptr, ok := x.(objptr); ok {
		return r.getObject(ptr)
	}
	switch x := x.(type) {
	case nil, bool, int64, float64, name, dict, array, stream, string:
		return Value{r, parent, x}, nil
	default:
		logger.Error(fmt.Sprintf("unexpected value type %T in resolve", x))
		return Value{}, &ParseError{Msg: fmt.Sprintf("unexpected value type %T", x)}
	}
}

func (r *Reader) getObject(ptr objptr) (Value, error) {
	if ptr.id >= uint32(len(r.xref)) {
		return Value{}, &ReferenceError{Ptr: ptr, Msg: "not in cross-reference index"}
	}
	ent := r.xref[ptr.id]
	if ent.ptr == (objptr{}) {
		return Value{}, &ReferenceError{Ptr: ptr, Msg: "not in cross-reference index"}
	}
	if ent.free {
		return Value{}, &ReferenceError{Ptr: ptr, Msg: "object slot is free"}
	}
	if ent.ptr.gen != ptr.gen {
		// Stale generations in referencing dictionaries are common in
		// real files. Best-effort mode takes the indexed object anyway.
		if r.cfg.ParsingMode == Strict {
			return Value{}, &ReferenceError{Ptr: ptr, Msg: fmt.Sprintf("generation mismatch: index has %d", ent.ptr.gen)}
		}
		logger.Error(fmt.Sprintf("object %d: generation mismatch: requested %d, index has %d", ptr.id, ptr.gen, ent.ptr.gen))
	}
	return r.cache.value(ptr.id, func() (Value, error) {
		return r.loadObject(ent)
	})
}

// loadObject parses the object named by an xref entry, either directly
// at its byte offset or out of its containing object stream.
func (r *Reader) loadObject(ent xref) (Value, error) {
	if ent.inStream {
		obj, err := r.loadFromObjectStream(ent)
		if err != nil {
			return Value{}, err
		}
		return r.resolve(ent.ptr, obj)
	}

	if ent.offset <= 0 || ent.offset >= r.end {
		return Value{}, &ReferenceError{Ptr: ent.ptr, Msg: fmt.Sprintf("offset %d out of bounds", ent.offset)}
	}
	b := newBuffer(io.NewSectionReader(r.f, ent.offset, r.end-ent.offset), ent.offset)
	obj := b.readObject()
	if err := b.readErr(); err != nil {
		return Value{}, err
	}
	def, ok := obj.(objdef)
	if !ok {
		logger.Error(fmt.Sprintf("loading %v: found %T instead of objdef", ent.ptr, obj))
		return Value{}, &ParseError{Offset: ent.offset, Msg: fmt.Sprintf("loading %d %d: found %T instead of object definition", ent.ptr.id, ent.ptr.gen, obj)}
	}
	if def.ptr != ent.ptr {
		logger.Error(fmt.Sprintf("loading %v: found %v", ent.ptr, def.ptr))
		return Value{}, &ParseError{Offset: ent.offset, Msg: fmt.Sprintf("loading %d %d: found %d %d", ent.ptr.id, ent.ptr.gen, def.ptr.id, def.ptr.gen)}
	}
	return r.resolve(ent.ptr, def.obj)
}

// loadFromObjectStream resolves a compressed entry: decode the
// container object stream, walk its id/offset header pairs, and parse
// the packed sub-object. /Extends chains are followed when the object
// is not in the first container.
func (r *Reader) loadFromObjectStream(ent xref) (object, error) {
	// Walk the compressed-container chain in the index before touching
	// the cache. A corrupt index can mark a container as packed inside
	// itself (or a mutual cycle); resolving it would re-enter the cache
	// slot being loaded and block forever.
	seen := map[uint32]bool{ent.ptr.id: true}
	for p := ent.stream; ; {
		if seen[p.id] {
			return nil, &XRefError{Msg: fmt.Sprintf("object %d: container chain loops at %d", ent.ptr.id, p.id)}
		}
		seen[p.id] = true
		if p.id >= uint32(len(r.xref)) || !r.xref[p.id].inStream {
			break
		}
		p = r.xref[p.id].stream
	}

	strm, err := r.getObject(ent.stream)
	if err != nil {
		return nil, err
	}
	for {
		if strm.Kind() != Stream {
			return nil, &ReferenceError{Ptr: ent.ptr, Msg: fmt.Sprintf("container %d is not a stream", ent.stream.id)}
		}
		if strm.Key("Type").Name() != "ObjStm" {
			return nil, &ReferenceError{Ptr: ent.ptr, Msg: fmt.Sprintf("container %d is not an object stream", ent.stream.id)}
		}
		n := int(strm.Key("N").Int64())
		first := strm.Key("First").Int64()
		if first == 0 {
			return nil, &ParseError{Msg: fmt.Sprintf("object stream %d missing First", ent.stream.id)}
		}
		data, err := strm.r.streamContents(strm.data.(stream))
		if err != nil {
			return nil, err
		}
		b := newBuffer(bytes.NewReader(data), 0)
		b.allowEOF = true
		for i := 0; i < n; i++ {
			id, _ := b.readToken().(int64)
			off, _ := b.readToken().(int64)
			if uint32(id) == ent.ptr.id {
				b.seekForward(first + off)
				obj := b.readObject()
				if err := b.readErr(); err != nil {
					return nil, err
				}
				return obj, nil
			}
		}
		ext := strm.Key("Extends")
		if ext.Kind() != Stream {
			return nil, &ReferenceError{Ptr: ent.ptr, Msg: fmt.Sprintf("not found in object stream %d", ent.stream.id)}
		}
		if seen[ext.ptr.id] {
			return nil, &XRefError{Msg: fmt.Sprintf("object %d: Extends chain loops at %d", ent.ptr.id, ext.ptr.id)}
		}
		seen[ext.ptr.id] = true
		strm = ext
	}
}

// isLikelyObjectAt performs a lightweight check whether an object header or dict begins at off.
func (r *Reader) isLikelyObjectAt(off int64) bool {
	if off < 0 || off >= r.end {
		return false
	}
	buf := make([]byte, 64)
	n, err := r.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return false
	}
	if n == 0 {
		return false
	}
	s := string(buf[:n])
	// Allow a single EOL before the envelope and nothing else; trimming
	// arbitrary whitespace would make any offset shortly before the real
	// envelope look valid and defeat the repair scan.
	if strings.HasPrefix(s, "\r\n") {
		s = s[2:]
	} else if len(s) > 0 && (s[0] == '\r' || s[0] == '\n') {
		s = s[1:]
	}
	if objHeaderRE.MatchString(s) {
		return true
	}
	if strings.HasPrefix(s, "<<") {
		return true
	}
	if strings.HasPrefix(s, "%PDF-") {
		return true
	}
	return false
}

// scanForObjectAt searches a ±window around approx for "<id> <gen> obj" and returns the found offset or -1.
func (r *Reader) scanForObjectAt(id uint32, gen uint16, approx int64, window int64) int64 {
	if approx < 0 {
		approx = 0
	}
	start := approx - window
	if start < 0 {
		start = 0
	}
	end := approx + window
	if end > r.end {
		end = r.end
	}
	size := end - start
	if size <= 0 {
		return -1
	}
	buf := make([]byte, size)
	n, err := r.f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return -1
	}
	buf = buf[:n]
	loc := envelopeRE(id, gen).FindIndex(buf)
	if loc == nil {
		return -1
	}
	return start + int64(loc[0])
}

// validateAndRepairXrefEntries checks offsets in table and tries to repair stale ones with a small-window scan.
// Returns counts of repaired entries and of invalid (unrepairable) entries.
func (r *Reader) validateAndRepairXrefEntries(table []xref) (repaired int, invalid int) {
	for i := 0; i < len(table); i++ {
		ent := table[i]
		if ent.ptr == (objptr{}) || ent.free {
			continue
		}
		if ent.inStream || ent.offset == 0 {
			// no external file offset to validate
			continue
		}
		if r.isLikelyObjectAt(ent.offset) {
			continue
		}
		found := r.scanForObjectAt(ent.ptr.id, ent.ptr.gen, ent.offset, 1024)
		if found >= 0 {
			table[i].offset = found
			repaired++
			continue
		}
		invalid++
	}
	return
}
