// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/cmlburnett/pdfproc/logger"
)

// Processor defines the contract for bulk-resolving documents.
type Processor interface {
	Preload(ctx context.Context, path string) (*PreloadReport, error)
	Metadata(ctx context.Context, path string, w io.Writer) error
}

// PreloadReport summarizes a Preload run over one document.
type PreloadReport struct {
	Objects  int
	Loaded   int
	Failures []ObjectFailure
}

// ObjectFailure records one object that could not be resolved or
// decoded during a best-effort preload.
type ObjectFailure struct {
	Num uint32
	Gen uint16
	Err error
}

// processor walks a document's cross-reference index and resolves
// every object through a bounded worker pool, warming the Reader's
// caches. The semaphore bounds how many documents are processed at
// once across all Preload calls on the same processor.
type processor struct {
	cfg *Config
	sem *semaphore.Weighted
}

// NewProcessor validates the config and creates a new processor.
func NewProcessor(cfg *Config) (*processor, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger != nil {
		logger.SetLogger(cfg.Logger)
	}

	logger.Debug(fmt.Sprintf("Processor initialized: parsing_mode=%v, max_concurrent_docs=%d, max_workers_per_doc=%d",
		cfg.ParsingMode, cfg.MaxConcurrentDocs, cfg.MaxWorkersPerDoc), true)

	return &processor{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrentDocs)),
	}, nil
}

// Preload opens the document at path and resolves every in-use and
// compressed object in its index, decoding stream bodies as it goes.
// In strict mode the first failure aborts the run; in best-effort mode
// failures are collected into the report and the rest of the document
// is still loaded.
func (p *processor) Preload(ctx context.Context, path string) (*PreloadReport, error) {
	logger.Debug(fmt.Sprintf("Starting preload: path=%s", path), true)

	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	r, err := Open(path, p.cfg)
	if err != nil {
		logger.Debug(fmt.Sprintf("Failed to open PDF: path=%s err=%v", path, err), true)
		return nil, err
	}
	defer r.Close()

	report, err := p.preloadReader(ctx, r)
	if err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("Preload completed: path=%s objects=%d loaded=%d failures=%d",
		path, report.Objects, report.Loaded, len(report.Failures)), true)
	return report, nil
}

func (p *processor) preloadReader(ctx context.Context, r *Reader) (*PreloadReport, error) {
	var targets []objptr
	for _, ent := range r.xref {
		if ent.ptr == (objptr{}) || ent.free {
			continue
		}
		targets = append(targets, ent.ptr)
	}
	report := &PreloadReport{Objects: len(targets)}
	if len(targets) == 0 {
		return report, nil
	}

	numWorkers := p.adjustWorkerCount(p.cfg.MaxWorkersPerDoc)
	logger.Debug(fmt.Sprintf("Starting workers: count=%d", numWorkers), true)

	jobs := make(chan objptr, len(targets))
	results := make(chan objResult, len(targets))

	var wg sync.WaitGroup
	p.startWorkers(ctx, r, jobs, results, numWorkers, &wg)
	if err := p.feedJobs(ctx, targets, jobs); err != nil {
		close(jobs)
		wg.Wait()
		return nil, err
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			if p.cfg.ParsingMode == Strict {
				logger.Debug(fmt.Sprintf("Strict mode error, stopping preload: obj=%d err=%v", res.ptr.id, res.err))
				return nil, fmt.Errorf("strict mode failed on object %d %d: %w", res.ptr.id, res.ptr.gen, res.err)
			}
			report.Failures = append(report.Failures, ObjectFailure{Num: res.ptr.id, Gen: res.ptr.gen, Err: res.err})
			continue
		}
		report.Loaded++
	}
	return report, nil
}

func (p *processor) acquireSlot(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	logger.Debug("Slot acquired successfully", true)
	return nil
}

func (p *processor) adjustWorkerCount(maxWorkers int) int {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if n := runtime.NumCPU(); maxWorkers > n {
		maxWorkers = n
	}
	logger.Debug(fmt.Sprintf("Adjusted worker count: workers=%d", maxWorkers), true)
	return maxWorkers
}

type objResult struct {
	ptr objptr
	err error
}

func (p *processor) startWorkers(ctx context.Context, r *Reader, jobs <-chan objptr, results chan<- objResult, numWorkers int, wg *sync.WaitGroup) {
	for w := 1; w <= numWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for ptr := range jobs {
				if ctx.Err() != nil {
					results <- objResult{ptr, ctx.Err()}
					continue
				}
				results <- objResult{ptr, p.loadObject(ctx, r, ptr)}
			}
		}(w)
	}
}

// loadObject resolves one object, decoding its stream body when it has
// one so later accesses are served from cache.
func (p *processor) loadObject(ctx context.Context, r *Reader, ptr objptr) error {
	ctxObj, cancel := context.WithTimeout(ctx, p.cfg.WorkerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		v, err := r.Get(ptr.id, ptr.gen)
		if err == nil && v.Kind() == Stream {
			_, err = r.StreamBytes(ptr.id, ptr.gen)
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctxObj.Done():
		return ctxObj.Err()
	}
}

func (p *processor) feedJobs(ctx context.Context, targets []objptr, jobs chan<- objptr) error {
	for _, ptr := range targets {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled while feeding jobs", true)
			return ctx.Err()
		case jobs <- ptr:
		}
	}
	logger.Debug(fmt.Sprintf("All jobs queued: total_objects=%d", len(targets)), true)
	return nil
}

// Metadata prints PDF metadata as JSON to the provided writer.
func (p *processor) Metadata(ctx context.Context, path string, w io.Writer) error {
	logger.Debug(fmt.Sprintf("Reading metadata: path=%s", path), true)

	if err := p.acquireSlot(ctx); err != nil {
		return err
	}
	defer p.sem.Release(1)

	r, err := Open(path, p.cfg)
	if err != nil {
		logger.Error("failed to open PDF for metadata")
		return err
	}
	defer r.Close()
	if err := r.MetadataJSON(w); err != nil {
		logger.Error("failed to read metadata")
		return err
	}

	logger.Debug(fmt.Sprintf("Metadata extraction completed: path=%s", path), true)
	return nil
}
