// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import "sync"

// Queue is a FIFO of requests waiting for a connection. Enqueue may be
// called from any goroutine.
type Queue struct {
	mu       sync.Mutex
	requests []*Request
}

// Enqueue appends request.
func (q *Queue) Enqueue(request *Request) {
	q.mu.Lock()
	q.requests = append(q.requests, request)
	q.mu.Unlock()
}

// DrainAll removes and returns every queued request in FIFO order. A
// request enqueued concurrently lands either in this drain or in the
// next one, never both.
func (q *Queue) DrainAll() []*Request {
	q.mu.Lock()
	drained := q.requests
	q.requests = nil
	q.mu.Unlock()
	return drained
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}
