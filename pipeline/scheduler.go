package pipeline

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"
)

// schedule runs fn once per batch with at most limit batches in flight. A failing batch
// does not stop the others; every failure is returned in one multierror. If ctx is
// canceled, batches that have not been admitted yet are not started.
func schedule(ctx context.Context, batches [][]string, limit int, fn func(ctx context.Context, idx int, files []string) error) error {
	gate := semaphore.NewWeighted(int64(limit))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	appendErr := func(err error) {
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}

	for i, batch := range batches {
		if err := gate.Acquire(ctx, 1); err != nil {
			appendErr(xerrors.Errorf("%d batches not started: %w", len(batches)-i, err))
			break
		}
		wg.Add(1)
		go func(idx int, files []string) {
			defer wg.Done()
			defer gate.Release(1)
			if err := fn(ctx, idx, files); err != nil {
				appendErr(err)
			}
		}(i, batch)
	}
	wg.Wait()

	return errs.ErrorOrNil()
}
