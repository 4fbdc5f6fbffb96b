// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Executor runs continuations. Post must not block.
type Executor interface {
	Post(func())
}

// SerialExecutor runs posted functions one at a time, in post order,
// on a single goroutine. The queue is unbounded so Post never blocks.
type SerialExecutor struct {
	logger *slog.Logger

	mu      sync.Mutex
	wake    *sync.Cond
	pending []func()
	closed  bool
	// running is true while the executor goroutine is alive; late
	// is true while a post-close drainer is.
	running bool
	late    bool
	done    chan struct{}
}

// NewSerialExecutor starts the executor goroutine. A panic inside a
// posted function is logged and the executor keeps running.
func NewSerialExecutor(logger *slog.Logger) *SerialExecutor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	executor := &SerialExecutor{
		logger:  logger,
		running: true,
		done:    make(chan struct{}),
	}
	executor.wake = sync.NewCond(&executor.mu)
	go executor.run()
	return executor
}

// Post queues f. Functions posted after Close still run one at a
// time in post order, on a short-lived goroutine started for them,
// so a late result reaches its continuation without overlapping
// another.
func (e *SerialExecutor) Post(f func()) {
	e.mu.Lock()
	e.pending = append(e.pending, f)
	startLate := e.closed && !e.running && !e.late
	if startLate {
		e.late = true
	}
	e.mu.Unlock()

	if startLate {
		go e.drainLate()
		return
	}
	e.wake.Signal()
}

// Close runs everything already posted, then stops the goroutine.
// Idempotent. Must not be called from a posted function.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wake.Signal()
	<-e.done
}

// Done is closed once the executor goroutine has exited.
func (e *SerialExecutor) Done() <-chan struct{} {
	return e.done
}

func (e *SerialExecutor) run() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.pending) == 0 && !e.closed {
			e.wake.Wait()
		}
		if len(e.pending) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		batch := e.pending
		e.pending = nil
		e.mu.Unlock()

		for _, f := range batch {
			e.invoke(f)
		}
	}
}

// drainLate runs functions posted after the executor goroutine
// exited, until none are left.
func (e *SerialExecutor) drainLate() {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.late = false
			e.mu.Unlock()
			return
		}
		batch := e.pending
		e.pending = nil
		e.mu.Unlock()

		for _, f := range batch {
			e.invoke(f)
		}
	}
}

func (e *SerialExecutor) invoke(f func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error("continuation panicked", "panic", fmt.Sprint(recovered))
		}
	}()
	f()
}
