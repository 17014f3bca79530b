//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package profile

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/deeptutor/memory-go/log"
	"github.com/deeptutor/memory-go/session"
)

// BatchIngest replays a set of summaries into the profile service on a worker
// pool, used for backfills and rebuilds after a profile wipe. Summaries of
// different users run concurrently; backends serialize per user, so the merge
// result is the same as a sequential replay per user. The first error aborts
// the report but remaining in-flight tasks still finish.
func BatchIngest(
	ctx context.Context,
	service Service,
	summaries []*session.Summary,
	parallelism int,
) error {
	if len(summaries) == 0 {
		return nil
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	pool, err := ants.NewPool(parallelism)
	if err != nil {
		return fmt.Errorf("failed to create ingest worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	errCh := make(chan error, len(summaries))

	for i, sum := range summaries {
		if sum == nil {
			continue
		}
		wg.Add(1)
		idx := i
		summary := sum
		err := pool.Submit(func() {
			defer wg.Done()
			if _, err := service.IngestSummary(ctx, summary); err != nil {
				errCh <- fmt.Errorf("ingest summary %d (session %s): %w", idx, summary.SessionID, err)
				return
			}
			log.Debugf("batch ingested summary for session %s", summary.SessionID)
		})
		if err != nil {
			wg.Done()
			errCh <- fmt.Errorf("failed to submit ingest task: %w", err)
		}
	}

	wg.Wait()
	close(errCh)

	return <-errCh
}
