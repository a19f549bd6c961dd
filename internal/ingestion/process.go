package ingestion

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the document fan-out used when a caller passes zero.
const DefaultWorkers = 2

// ProcessOptions controls a full ingest-and-index run.
type ProcessOptions struct {
	// Force re-runs the index stages even when they are up to date. The
	// ingest stage is never forced by a process run.
	Force      bool
	SkipText   bool
	SkipVisual bool
	EnableVLM  bool
}

// DocResult is the outcome of processing one file.
type DocResult struct {
	Path    string
	Reports []*Report
	Err     error
}

// Process ingests the file at path and then runs the enabled index stages.
// Stages run in order and the first stage error stops the document.
func (p *Pipeline) Process(ctx context.Context, path string, opts ProcessOptions) ([]*Report, error) {
	var reports []*Report

	ing, err := p.IngestPDF(ctx, path, IngestOptions{EnableVLM: opts.EnableVLM})
	if ing != nil {
		reports = append(reports, ing)
	}
	if err != nil {
		return reports, err
	}

	if !opts.SkipText {
		rep, err := p.IndexText(ctx, ing.DocID, opts.Force)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	if !opts.SkipVisual {
		rep, err := p.IndexVisual(ctx, ing.DocID, opts.Force)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// ProcessAll runs Process over paths with up to workers documents in
// flight. A failing document does not stop the others; the returned error
// joins every document error.
func (p *Pipeline) ProcessAll(ctx context.Context, paths []string, opts ProcessOptions, workers int) ([]DocResult, error) {
	return fanOut(ctx, paths, workers, func(ctx context.Context, path string) ([]*Report, error) {
		return p.Process(ctx, path, opts)
	})
}

// IngestAll runs IngestPDF over paths with up to workers documents in
// flight.
func (p *Pipeline) IngestAll(ctx context.Context, paths []string, opts IngestOptions, workers int) ([]DocResult, error) {
	return fanOut(ctx, paths, workers, func(ctx context.Context, path string) ([]*Report, error) {
		rep, err := p.IngestPDF(ctx, path, opts)
		if rep == nil {
			return nil, err
		}
		return []*Report{rep}, err
	})
}

func fanOut(ctx context.Context, paths []string, workers int, fn func(context.Context, string) ([]*Report, error)) ([]DocResult, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	results := make([]DocResult, len(paths))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			reps, err := fn(ctx, path)
			results[i] = DocResult{Path: path, Reports: reps, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Path, r.Err))
		}
	}
	return results, errors.Join(errs...)
}
