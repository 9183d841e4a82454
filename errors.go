// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import "fmt"

// LexError reports a malformed token at a byte offset.
type LexError struct {
	Offset int64
	Msg    string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("malformed token at offset %d: %s", e.Offset, e.Msg)
}

// ParseError reports an unexpected token in a grammar context.
type ParseError struct {
	Offset int64
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Msg)
}

// XRefError reports an unreadable or inconsistent cross-reference
// section. During open it triggers the linear-scan recovery path
// instead of failing the document.
type XRefError struct {
	Offset int64
	Msg    string
	Err    error
}

func (e *XRefError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xref at offset %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("xref at offset %d: %s", e.Offset, e.Msg)
}

func (e *XRefError) Unwrap() error { return e.Err }

// DecodeError reports a filter pipeline failure. The stream's
// dictionary and raw bytes remain reachable after this error.
type DecodeError struct {
	Filter string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding %s: %v", e.Filter, e.Err)
	}
	return fmt.Sprintf("decoding %s failed", e.Filter)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ReferenceError reports a reference that points at a freed slot or at
// nothing in the cross-reference index.
type ReferenceError struct {
	Ptr objptr
	Msg string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("object %d %d: %s", e.Ptr.id, e.Ptr.gen, e.Msg)
}

// OpenError is the single failure mode of Open and NewReader.
type OpenError struct {
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("cannot open document: %v", e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }
