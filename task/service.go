// task/service.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package task runs background work on behalf of the render thread. The
// pool is bounded and admission never blocks: when all workers are busy a
// request is dropped and the caller retries naturally on a later frame.
package task

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tellusgl/tellus/log"
)

// Service is a bounded worker pool with per-key deduplication. Run admits a
// task only if a worker slot is free and no task with the same key is
// already in flight.
type Service struct {
	workers  *semaphore.Weighted
	nworkers int64

	mu       sync.Mutex
	inFlight map[string]interface{}

	lg *log.Logger
}

func NewService(workers int, lg *log.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		workers:  semaphore.NewWeighted(int64(workers)),
		nworkers: int64(workers),
		inFlight: make(map[string]interface{}),
		lg:       lg,
	}
}

// Run launches fn on a worker goroutine and returns true, or returns false
// without running it if the pool is saturated or a task with the same key
// is already in flight. The key is released when fn returns.
func (s *Service) Run(key string, fn func()) bool {
	s.mu.Lock()
	if _, dup := s.inFlight[key]; dup {
		s.mu.Unlock()
		return false
	}
	if !s.workers.TryAcquire(1) {
		s.mu.Unlock()
		return false
	}
	s.inFlight[key] = nil
	s.mu.Unlock()

	go func() {
		defer func() {
			if err := recover(); err != nil {
				s.lg.Errorf("task %s panicked: %v", key, err)
			}
			s.mu.Lock()
			delete(s.inFlight, key)
			s.mu.Unlock()
			s.workers.Release(1)
		}()
		fn()
	}()
	return true
}

// Contains reports whether a task with the given key is in flight.
func (s *Service) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

// IsAvailable reports whether the pool has a free worker slot.
func (s *Service) IsAvailable() bool {
	if s.workers.TryAcquire(1) {
		s.workers.Release(1)
		return true
	}
	return false
}

// Wait blocks until every in-flight task has completed. It is intended for
// shutdown and tests, not for the render thread.
func (s *Service) Wait() {
	_ = s.workers.Acquire(context.Background(), s.nworkers)
	s.workers.Release(s.nworkers)
}
