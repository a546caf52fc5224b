package pipeline

import (
	"context"
	"log"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-list-ingest/types"
)

const (
	defaultBatchSize            = 1000
	defaultMaxConcurrentBatches = 10
	defaultFileWorkers          = 64
)

type Scanner interface {
	Scan(ctx context.Context, root string) ([]string, error)
}

type Loader interface {
	Load(path string) (any, error)
}

type Transformer interface {
	Transform(doc any) (*types.Graph, error)
}

// Committer persists one batch atomically.
type Committer interface {
	Commit(ctx context.Context, g *types.Graph) error
}

// Policy decides what a load or transform failure does to its batch.
type Policy string

const (
	// FailFast aborts the batch on the first failing file; nothing of it is committed.
	FailFast Policy = "fail-fast"
	// Skip drops failing files and commits the rest of the batch.
	Skip Policy = "skip"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case FailFast, Skip:
		return p, nil
	}
	return "", xerrors.Errorf("unknown failure policy: %q", s)
}

type options struct {
	batchSize            int
	maxConcurrentBatches int
	fileWorkers          int
	policy               Policy
	progress             bool
}

type option func(*options)

func WithBatchSize(n int) option {
	return func(opts *options) {
		opts.batchSize = n
	}
}

func WithMaxConcurrentBatches(n int) option {
	return func(opts *options) {
		opts.maxConcurrentBatches = n
	}
}

// WithFileWorkers caps concurrent loads inside one batch. Zero means no cap.
func WithFileWorkers(n int) option {
	return func(opts *options) {
		opts.fileWorkers = n
	}
}

func WithPolicy(p Policy) option {
	return func(opts *options) {
		opts.policy = p
	}
}

func WithProgress(enabled bool) option {
	return func(opts *options) {
		opts.progress = enabled
	}
}

type Pipeline struct {
	scanner     Scanner
	loader      Loader
	transformer Transformer
	committer   Committer
	*options
}

func New(s Scanner, l Loader, t Transformer, c Committer, opts ...option) Pipeline {
	o := &options{
		batchSize:            defaultBatchSize,
		maxConcurrentBatches: defaultMaxConcurrentBatches,
		fileWorkers:          defaultFileWorkers,
		policy:               FailFast,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Pipeline{
		scanner:     s,
		loader:      l,
		transformer: t,
		committer:   c,
		options:     o,
	}
}

// Summary describes a finished run. Row counts cover committed batches only.
type Summary struct {
	Files            int      `json:"files"`
	Batches          int      `json:"batches"`
	CommittedBatches int      `json:"committedBatches"`
	FailedBatches    int      `json:"failedBatches"`
	SkippedFiles     []string `json:"skippedFiles,omitempty"`

	Records          int `json:"records"`
	ProblemTypes     int `json:"problemTypes"`
	AffectedProducts int `json:"affectedProducts"`
	ProductVersions  int `json:"productVersions"`
	References       int `json:"references"`
	RecordReferences int `json:"recordReferences"`
}

type run struct {
	Pipeline
	total int
	bar   *pb.ProgressBar

	mu      sync.Mutex
	summary Summary
}

// Run ingests every eligible file below root. Batches commit independently: the returned
// error lists the batches that failed while the others stay committed.
func (p Pipeline) Run(ctx context.Context, root string) (Summary, error) {
	if p.batchSize <= 0 || p.maxConcurrentBatches <= 0 {
		return Summary{}, xerrors.Errorf("invalid batching: size %d, concurrency %d", p.batchSize, p.maxConcurrentBatches)
	}

	log.Printf("Scanning %s...", root)
	files, err := p.scanner.Scan(ctx, root)
	if err != nil {
		return Summary{}, xerrors.Errorf("scan error: %w", err)
	}

	batches := lo.Chunk(files, p.batchSize)
	log.Printf("Found %d files, %d batches of up to %d", len(files), len(batches), p.batchSize)

	r := &run{
		Pipeline: p,
		total:    len(batches),
		summary:  Summary{Files: len(files), Batches: len(batches)},
	}
	if p.progress {
		r.bar = pb.StartNew(len(files))
	}

	err = schedule(ctx, batches, p.maxConcurrentBatches, r.batch)

	if r.bar != nil {
		r.bar.Finish()
	}
	if err != nil {
		return r.summary, xerrors.Errorf("ingest error: %w", err)
	}
	return r.summary, nil
}

func (r *run) batch(ctx context.Context, idx int, files []string) error {
	g, skipped, err := r.process(ctx, files)
	if err != nil {
		r.record(func(s *Summary) { s.FailedBatches++ })
		log.Printf("Batch %d/%d aborted: %v", idx+1, r.total, err)
		return xerrors.Errorf("batch %d/%d: %w", idx+1, r.total, err)
	}

	for _, f := range skipped {
		log.Printf("Skipping %v", f.err)
	}

	if len(g.Records) > 0 {
		if err = r.committer.Commit(ctx, g); err != nil {
			r.record(func(s *Summary) { s.FailedBatches++ })
			log.Printf("Batch %d/%d rolled back: %v", idx+1, r.total, err)
			return xerrors.Errorf("batch %d/%d: %w", idx+1, r.total, err)
		}
	}

	r.record(func(s *Summary) {
		s.CommittedBatches++
		s.Records += len(g.Records)
		s.ProblemTypes += len(g.ProblemTypes)
		s.AffectedProducts += len(g.AffectedProducts)
		s.ProductVersions += len(g.ProductVersions)
		s.References += len(g.References)
		s.RecordReferences += len(g.RecordReferences)
		for _, f := range skipped {
			s.SkippedFiles = append(s.SkippedFiles, f.path)
		}
	})
	log.Printf("Committed batch %d/%d (%d records, %d rows, %d skipped)", idx+1, r.total, len(g.Records), g.Len(), len(skipped))
	return nil
}

type failure struct {
	path string
	err  error
}

// process loads and transforms every file of one batch concurrently and merges the
// results in file order once all of them are done.
func (r *run) process(ctx context.Context, files []string) (*types.Graph, []failure, error) {
	graphs := make([]*types.Graph, len(files))
	failures := make([]error, len(files))

	eg, egCtx := errgroup.WithContext(ctx)
	if r.fileWorkers > 0 {
		eg.SetLimit(r.fileWorkers)
	}
	for i, path := range files {
		if egCtx.Err() != nil {
			break
		}
		i, path := i, path
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			g, err := r.document(path)
			r.tick()
			switch {
			case err == nil:
				graphs[i] = g
			case r.policy == Skip:
				failures[i] = err
			default:
				return err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	batch := &types.Graph{}
	var skipped []failure
	for i := range files {
		if failures[i] != nil {
			skipped = append(skipped, failure{path: files[i], err: failures[i]})
			continue
		}
		batch.Merge(graphs[i])
	}
	return batch, skipped, nil
}

func (r *run) document(path string) (*types.Graph, error) {
	doc, err := r.loader.Load(path)
	if err != nil {
		return nil, err
	}
	g, err := r.transformer.Transform(doc)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func (r *run) tick() {
	if r.bar != nil {
		r.bar.Increment()
	}
}

func (r *run) record(f func(s *Summary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.summary)
}
