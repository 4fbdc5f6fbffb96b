// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/credcourier/courier/lib/clock"
)

// ErrWaitTimeout is returned by SubmitWait when the configured wait
// timeout elapses before the result arrives.
var ErrWaitTimeout = errors.New("timed out waiting for delivery result")

// Config holds a client's collaborators.
type Config struct {
	// Transport, Policy and Verifier are required; see BrokerConfig.
	Transport Transport
	Policy    PolicySource
	Verifier  Verifier

	// Executor runs continuations. When nil the client starts a
	// SerialExecutor and stops it on Close.
	Executor Executor

	// Clock drives SubmitWait's timeout. Defaults to clock.Real().
	Clock clock.Clock

	// WaitTimeout bounds SubmitWait. Zero means wait until ctx ends.
	WaitTimeout time.Duration

	Logger *slog.Logger
}

// Client is the credential delivery façade. Create it with New when
// delivery becomes active and Close it when it stops; there is no
// process-wide instance.
type Client struct {
	broker   *Broker
	executor Executor
	owned    *SerialExecutor
	clock    clock.Clock
	wait     time.Duration
	logger   *slog.Logger
	closed   atomic.Bool
}

// New returns a Client with an Idle broker.
func New(config Config) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.WaitTimeout < 0 {
		return nil, errors.New("delivery: negative wait timeout")
	}

	executor := config.Executor
	var owned *SerialExecutor
	if executor == nil {
		owned = NewSerialExecutor(logger)
		executor = owned
	}

	broker, err := NewBroker(BrokerConfig{
		Transport: config.Transport,
		Policy:    config.Policy,
		Verifier:  config.Verifier,
		Executor:  executor,
		Logger:    logger,
	})
	if err != nil {
		if owned != nil {
			owned.Close()
		}
		return nil, err
	}

	return &Client{
		broker:   broker,
		executor: executor,
		owned:    owned,
		clock:    config.Clock,
		wait:     config.WaitTimeout,
		logger:   logger,
	}, nil
}

// Submit delivers credential to the destination selector names at this
// moment and returns the request ID. It never blocks on I/O. The
// result reaches continuation exactly once, on the client's executor;
// continuation may be nil.
//
// Delivery turned off resolves ProviderDisabled and no destination
// resolves NoProviderSelected, both without touching the broker. A
// selector that fails to answer counts as turned off.
func (c *Client) Submit(credential Credential, selector Selector, continuation Continuation) string {
	request := newRequest(credential, continuation)

	if c.closed.Load() {
		c.broker.resolve(request, Result{Kind: Released})
		return request.id
	}

	if selector == nil {
		c.broker.resolve(request, Result{Kind: ProviderDisabled})
		return request.id
	}
	selection, err := selector.Selection()
	if err != nil {
		c.logger.Error("reading delivery selection failed; treating delivery as disabled",
			"request", request,
			"error", err)
		c.broker.resolve(request, Result{Kind: ProviderDisabled})
		return request.id
	}
	if !selection.Enabled {
		c.broker.resolve(request, Result{Kind: ProviderDisabled})
		return request.id
	}
	if selection.Target.IsZero() {
		c.broker.resolve(request, Result{Kind: NoProviderSelected})
		return request.id
	}

	request.target = selection.Target
	c.logger.Debug("delivery submitted",
		"request", request,
		"destination", selection.Target)
	c.broker.Deliver(selection.Target, request)
	return request.id
}

// SubmitWait submits and blocks the calling goroutine until the result
// arrives, ctx ends, or the configured wait timeout elapses. Giving up
// does not cancel the delivery; its result is dropped when it comes.
func (c *Client) SubmitWait(ctx context.Context, credential Credential, selector Selector) (Result, error) {
	results := make(chan Result, 1)
	id := c.Submit(credential, selector, ContinuationFunc(func(result Result) {
		results <- result
	}))

	var timeout <-chan time.Time
	if c.wait > 0 {
		timeout = c.clock.After(c.wait)
	}

	select {
	case result := <-results:
		return result, nil
	case <-ctx.Done():
		return Result{RequestID: id}, ctx.Err()
	case <-timeout:
		c.logger.Warn("stopped waiting for delivery result",
			"request_id", id,
			"timeout", c.wait)
		return Result{RequestID: id}, ErrWaitTimeout
	}
}

// Status returns the broker snapshot.
func (c *Client) Status() Status {
	return c.broker.Status()
}

// Release resolves everything outstanding with Released and returns the
// broker to Idle. The client stays usable.
func (c *Client) Release() {
	c.broker.Release()
}

// Close releases, refuses later submissions (they resolve Released),
// and stops an executor the client started after it has run every
// pending continuation. Continuations resolved after that, such as a
// late status from a call that was in progress, still run one at a
// time in resolution order, but no longer on the executor goroutine.
// Idempotent. Must not be called from a continuation when the client
// owns its executor.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.broker.Close()
	if c.owned != nil {
		c.owned.Close()
	}
}
