// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Cross-reference recovery for files whose startxref chain is missing
// or unusable: rebuild the index by scanning the whole file for object
// envelopes.

package pdfproc

import (
	"fmt"
	"io"
	"regexp"

	"github.com/cmlburnett/pdfproc/logger"
)

var objHeaderRE = regexp.MustCompile(`^\d+\s+\d+\s+obj\b`)

var envelopeScanRE = regexp.MustCompile(`(?:^|[\r\n \t>])(\d{1,10})\s+(\d{1,5})\s+obj\b`)

func envelopeRE(id uint32, gen uint16) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`\b%d\s+%d\s+obj\b`, id, gen))
}

const (
	scanChunk   = 1 << 20
	scanOverlap = 64
)

// rebuildXref scans the file for every "N G obj" envelope and rebuilds
// the cross-reference index from what it finds, keeping the last
// occurrence of each object number so incrementally appended updates
// win. It then recovers a trailer from the last trailer dictionary in
// the file, or synthesizes one around the catalog object if no trailer
// survives.
func (r *Reader) rebuildXref() error {
	logger.Debug("rebuildXref: scanning file for object envelopes", true)

	offsets := map[uint32]xref{}
	var maxID uint32
	var lastTrailer int64 = -1

	buf := make([]byte, scanChunk+scanOverlap)
	for base := int64(0); base < r.end; base += scanChunk {
		n, err := r.f.ReadAt(buf, base)
		if err != nil && err != io.EOF {
			return &XRefError{Offset: base, Msg: "recovery scan read failed", Err: err}
		}
		chunk := buf[:n]
		for _, m := range envelopeScanRE.FindAllSubmatchIndex(chunk, -1) {
			// m[2]:m[3] is the object number, m[4]:m[5] the generation
			id64, gen64 := parseUint(chunk[m[2]:m[3]]), parseUint(chunk[m[4]:m[5]])
			if id64 == 0 || id64 > 1<<31 || gen64 > 65535 {
				continue
			}
			off := base + int64(m[2])
			if off >= base+scanChunk && base+scanChunk < r.end {
				// the overlap region belongs to the next chunk
				continue
			}
			id := uint32(id64)
			offsets[id] = xref{ptr: objptr{id, uint16(gen64)}, offset: off}
			if id > maxID {
				maxID = id
			}
		}
		for _, m := range trailerScanRE.FindAllIndex(chunk, -1) {
			off := base + int64(m[0])
			if off >= base+scanChunk && base+scanChunk < r.end {
				continue
			}
			lastTrailer = off
		}
		if int64(n) < scanChunk {
			break
		}
	}

	if len(offsets) == 0 {
		return &XRefError{Msg: "recovery scan found no object envelopes"}
	}
	logger.Debug(fmt.Sprintf("rebuildXref: recovered %d objects (max id %d)", len(offsets), maxID), true)

	table := make([]xref, maxID+1)
	for id, ent := range offsets {
		table[id] = ent
	}
	r.xref = table

	trailer := r.recoverTrailer(lastTrailer)
	if trailer == nil {
		return &XRefError{Msg: "recovery scan could not reconstruct a trailer"}
	}
	if _, ok := trailer[name("Size")]; !ok {
		trailer[name("Size")] = int64(maxID + 1)
	}
	r.trailer = trailer
	r.trailerptr = objptr{}
	return nil
}

var trailerScanRE = regexp.MustCompile(`(?:^|[\r\n \t])trailer\b`)

// recoverTrailer parses the trailer dictionary found at lastTrailer, or
// synthesizes one by locating the catalog object when no usable trailer
// dictionary exists in the file.
func (r *Reader) recoverTrailer(lastTrailer int64) dict {
	if lastTrailer >= 0 {
		b := newBuffer(io.NewSectionReader(r.f, lastTrailer, r.end-lastTrailer), lastTrailer)
		b.allowEOF = true
		tok := b.readToken()
		if tok == keyword("trailer") {
			if t, ok := b.readObject().(dict); ok {
				if _, ok := t[name("Root")]; ok {
					logger.Debug("rebuildXref: recovered trailer dictionary", true)
					return t
				}
			}
		}
	}

	// No trailer survived. Find the catalog and synthesize one.
	for id, ent := range r.xref {
		if ent.ptr == (objptr{}) || ent.free {
			continue
		}
		v, err := r.cache.value(uint32(id), func() (Value, error) {
			return r.loadObject(ent)
		})
		if err != nil {
			continue
		}
		if v.Kind() == Dict && v.Key("Type").Name() == "Catalog" {
			logger.Debug(fmt.Sprintf("rebuildXref: synthesized trailer around catalog %d", id), true)
			return dict{name("Root"): ent.ptr}
		}
	}
	return nil
}

func parseUint(b []byte) uint64 {
	var x uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0
		}
		x = x*10 + uint64(c-'0')
	}
	return x
}
