// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(t *testing.T, mode ParsingMode) *processor {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.ParsingMode = mode
	proc, err := NewProcessor(cfg)
	require.NoError(t, err)
	return proc
}

// writeTestPDF drops the given bytes into a temp file and returns its path.
func writeTestPDF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// brokenDoc builds a document whose cross-reference table claims object 5
// lives at object 3's offset, so resolving 5 trips the envelope check.
// Object 6 is a healthy compressed stream so preload also exercises decoding.
func brokenDoc(t *testing.T) []byte {
	t.Helper()
	p := simpleDoc()
	p.streamObj(6, "/Filter /FlateDecode", zlibCompress(t, []byte("preload me")))
	p.offs[5] = p.offs[3]
	p.gens[5] = 0
	if p.max < 6 {
		p.max = 6
	}
	data, _ := p.finishClassic("/Root 1 0 R")
	return data
}

func TestNewProcessor(t *testing.T) {
	proc, err := NewProcessor(nil)
	require.NoError(t, err)
	assert.Equal(t, BestEffort, proc.cfg.ParsingMode)

	bad := NewDefaultConfig()
	bad.MaxConcurrentDocs = 0
	_, err = NewProcessor(bad)
	assert.Error(t, err, "config outside validation bounds must be rejected")

	bad2 := NewDefaultConfig()
	bad2.WorkerTimeout = 0
	_, err = NewProcessor(bad2)
	assert.Error(t, err)
}

func TestProcessor_Preload_BestEffort(t *testing.T) {
	path := writeTestPDF(t, brokenDoc(t))
	proc := newTestProcessor(t, BestEffort)

	report, err := proc.Preload(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Objects)
	assert.Equal(t, 4, report.Loaded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, uint32(5), report.Failures[0].Num)
	assert.Error(t, report.Failures[0].Err)
}

func TestProcessor_Preload_Strict(t *testing.T) {
	path := writeTestPDF(t, brokenDoc(t))
	proc := newTestProcessor(t, Strict)

	_, err := proc.Preload(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict mode failed on object 5")
}

func TestProcessor_Preload_CleanDocument(t *testing.T) {
	data, _ := simpleDoc().finishClassic("/Root 1 0 R")
	path := writeTestPDF(t, data)
	proc := newTestProcessor(t, Strict)

	report, err := proc.Preload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Objects)
	assert.Equal(t, 3, report.Loaded)
	assert.Empty(t, report.Failures)
}

func TestProcessor_Preload_OpenError(t *testing.T) {
	proc := newTestProcessor(t, BestEffort)
	_, err := proc.Preload(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}

func TestProcessor_Preload_ContextCancelled(t *testing.T) {
	data, _ := simpleDoc().finishClassic("/Root 1 0 R")
	path := writeTestPDF(t, data)
	proc := newTestProcessor(t, BestEffort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := proc.Preload(ctx, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessor_Metadata(t *testing.T) {
	path := writeTestPDF(t, metaDoc(true))
	proc := newTestProcessor(t, BestEffort)

	var out strings.Builder
	require.NoError(t, proc.Metadata(context.Background(), path, &out))

	assert.Contains(t, out.String(), "XMP Title")
	assert.Contains(t, out.String(), "\"pdf:hasXMP\": true")
}

func TestAdjustWorkerCount(t *testing.T) {
	proc := &processor{}

	assert.Equal(t, 1, proc.adjustWorkerCount(0))
	assert.Equal(t, runtime.NumCPU(), proc.adjustWorkerCount(runtime.NumCPU()))
	assert.Equal(t, runtime.NumCPU(), proc.adjustWorkerCount(runtime.NumCPU()+4))
}
