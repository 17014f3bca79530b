//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package inmemory

import (
	"context"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/deeptutor/memory-go/log"
	"github.com/deeptutor/memory-go/session"
)

// summaryJob is one queued summarization pass.
type summaryJob struct {
	key   session.Key
	force bool
}

// EnqueueSummaryJob queues a summarization pass for asynchronous processing,
// falling back to a synchronous pass when workers are disabled, the queue is
// full, or the context is cancelled.
func (s *Service) EnqueueSummaryJob(ctx context.Context, key session.Key, force bool) error {
	if s.opts.summarizer == nil {
		return fmt.Errorf("no summarizer configured")
	}
	if err := key.CheckSessionKey(); err != nil {
		return fmt.Errorf("check session key failed: %w", err)
	}

	if len(s.summaryJobChans) == 0 {
		_, err := s.Summarize(ctx, key, force)
		return err
	}

	if s.tryEnqueueJob(ctx, &summaryJob{key: key, force: force}) {
		return nil
	}
	_, err := s.Summarize(ctx, key, force)
	return err
}

// tryEnqueueJob attempts to enqueue a summary job to the appropriate channel.
// Jobs for the same session always hash to the same worker, so passes for one
// session run in order.
func (s *Service) tryEnqueueJob(ctx context.Context, job *summaryJob) bool {
	keyStr := fmt.Sprintf("%s:%s", job.key.UserID, job.key.SessionID)
	index := int(murmur3.Sum32([]byte(keyStr))) % len(s.summaryJobChans)

	// Sending on a closed channel panics; recover and fall back to sync.
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("summary job channel may be closed, falling back to synchronous processing: %v", r)
		}
	}()

	select {
	case s.summaryJobChans[index] <- job:
		return true
	case <-ctx.Done():
		log.Debugf("summary job enqueue cancelled, falling back to synchronous processing: %v", ctx.Err())
		return false
	default:
		log.Warnf("summary job queue is full, falling back to synchronous processing")
		return false
	}
}

func (s *Service) startAsyncSummaryWorker() {
	s.summaryJobChans = make([]chan *summaryJob, s.opts.asyncSummaryNum)
	for i := range s.summaryJobChans {
		s.summaryJobChans[i] = make(chan *summaryJob, s.opts.summaryQueueSize)
	}
	for _, jobChan := range s.summaryJobChans {
		go func(jobChan chan *summaryJob) {
			for job := range jobChan {
				s.processSummaryJob(job)
			}
		}(jobChan)
	}
}

// processSummaryJob runs one queued pass. Failures are logged and swallowed:
// a failed async pass must never disturb the stored summary or the session,
// and the next trigger simply tries again.
func (s *Service) processSummaryJob(job *summaryJob) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in summary worker: %v", r)
		}
	}()

	ctx := context.Background()
	if s.opts.summaryJobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.summaryJobTimeout)
		defer cancel()
	}

	if _, err := s.Summarize(ctx, job.key, job.force); err != nil {
		log.Errorf("summary worker failed for session %s: %v", job.key.SessionID, err)
	}
}

// stopAsyncSummaryWorker stops all async summary workers and closes their
// channels.
func (s *Service) stopAsyncSummaryWorker() {
	for _, ch := range s.summaryJobChans {
		close(ch)
	}
	s.summaryJobChans = nil
}
