// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// corruptStartxref rewrites the startxref pointer to a bogus offset
// without changing the file length.
func corruptStartxref(t *testing.T, data []byte) []byte {
	t.Helper()
	i := bytes.LastIndex(data, []byte("startxref\n"))
	require.Greater(t, i, 0)
	j := i + len("startxref\n")
	k := bytes.IndexByte(data[j:], '\n')
	require.Greater(t, k, 0)

	out := append([]byte{}, data...)
	for n := j; n < j+k; n++ {
		out[n] = '9'
	}
	return out
}

func TestRecovery_CorruptedStartxref(t *testing.T) {
	data, _ := simpleDoc().finishClassic("/Root 1 0 R")
	data = corruptStartxref(t, data)

	r := openTestReader(t, data, nil)
	assert.True(t, r.recovered)

	cat, err := r.Catalog()
	require.NoError(t, err)
	assert.Equal(t, "Catalog", cat.Key("Type").Name())

	v, err := r.Get(3, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", v.RawString())
}

func TestRecovery_NoTrailerSynthesizesFromCatalog(t *testing.T) {
	// Objects but no xref, no trailer, and no startxref line at all.
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")
	buf.WriteString("%%EOF\n")

	r := openTestReader(t, buf.Bytes(), nil)
	assert.True(t, r.recovered)

	cat, err := r.Catalog()
	require.NoError(t, err)
	assert.Equal(t, int64(0), cat.Key("Pages").Key("Count").Int64())

	// a synthesized trailer carries a /Size
	assert.Equal(t, int64(3), r.Trailer().Key("Size").Int64())
}

func TestRecovery_LatestEnvelopeWins(t *testing.T) {
	// The same object number appears twice; the scan must keep the
	// later occurrence, matching incremental-update semantics.
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	buf.WriteString("2 0 obj\n(old revision)\nendobj\n")
	buf.WriteString("2 0 obj\n(new revision)\nendobj\n")
	buf.WriteString("%%EOF\n")

	r := openTestReader(t, buf.Bytes(), nil)
	require.True(t, r.recovered)

	v, err := r.Get(2, 0)
	require.NoError(t, err)
	assert.Equal(t, "new revision", v.RawString())
}

func TestRecovery_TrailerDictReused(t *testing.T) {
	data, _ := simpleDoc().finishClassic("/Root 1 0 R /ID [(a)(b)]")
	data = corruptStartxref(t, data)

	r := openTestReader(t, data, nil)
	require.True(t, r.recovered)

	// the scan found the real trailer dictionary, not a synthetic one
	id := r.Trailer().Key("ID")
	assert.Equal(t, 2, id.Len())
}

func TestRecovery_NothingToRecover(t *testing.T) {
	data := []byte("%PDF-1.4\njust some text with no objects\n%%EOF\n")
	_, err := NewReader(bytes.NewReader(data), int64(len(data)), nil)
	require.Error(t, err)
	var openErr *OpenError
	assert.ErrorAs(t, err, &openErr)
}

func TestRebuildXref_ObjectInStringIgnoredByLastWins(t *testing.T) {
	// "5 0 obj" inside a string body would also match the scan; the
	// real definition appears later and wins the slot.
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	buf.WriteString("4 0 obj\n(mentions 5 0 obj inside)\nendobj\n")
	buf.WriteString("5 0 obj\n(the real one)\nendobj\n")
	buf.WriteString("%%EOF\n")

	r := openTestReader(t, buf.Bytes(), nil)
	require.True(t, r.recovered)

	v, err := r.Get(5, 0)
	require.NoError(t, err)
	assert.Equal(t, "the real one", v.RawString())
}

func TestEnvelopeRegexps(t *testing.T) {
	assert.True(t, objHeaderRE.MatchString("12 0 obj"))
	assert.True(t, objHeaderRE.MatchString("3 65535 obj\n<<"))
	assert.False(t, objHeaderRE.MatchString("obj 12 0"))
	assert.False(t, objHeaderRE.MatchString("12 0 objx"))

	re := envelopeRE(7, 0)
	assert.True(t, re.MatchString("7 0 obj"))
	assert.False(t, re.MatchString("17 0 obj"))
	assert.False(t, re.MatchString("7 0 object"))
}

func TestParseUintHelper(t *testing.T) {
	assert.Equal(t, uint64(123), parseUint([]byte("123")))
	assert.Equal(t, uint64(0), parseUint([]byte("12a")))
	assert.Equal(t, uint64(0), parseUint([]byte("")))
}
