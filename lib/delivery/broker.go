// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/trust"
)

// State is the broker's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is a snapshot of the broker.
type Status struct {
	State State

	// Target is the destination being connected to or connected to.
	// Zero when Idle.
	Target destination.ID

	// Queued counts requests waiting for a connection.
	Queued int

	// InFlight counts requests handed to the current connection and
	// not yet resolved.
	InFlight int
}

// BrokerConfig holds the broker's collaborators. Transport, Policy,
// Verifier and Executor are required.
type BrokerConfig struct {
	Transport Transport
	Policy    PolicySource
	Verifier  Verifier
	Executor  Executor
	Logger    *slog.Logger
}

// Broker owns at most one connection to a destination.
//
// All state lives in the *connection record the broker currently
// points at. Callbacks from connection attempts, the transport and
// dispatchers carry the record they were started for; when it is no
// longer the broker's current record the callback is stale and does
// nothing. Whoever detaches a record (release, disconnect, switching
// destination) resolves the requests it held.
type Broker struct {
	transport Transport
	policy    PolicySource
	verifier  Verifier
	executor  Executor
	logger    *slog.Logger

	queue Queue

	mu     sync.Mutex
	conn   *connection
	closed bool
}

// connection is one attempt, and if it succeeds, the live connection.
type connection struct {
	target destination.ID
	state  State
	handle Handle

	// ctx is cancelled when the record is detached.
	ctx    context.Context
	cancel context.CancelFunc

	// lost records a disconnect reported while still Connecting.
	lost bool

	// disconnected is set when the transport reported the connection
	// gone. Requests already in a remote call are then resolved by
	// their dispatcher with whatever the call returns, so a status
	// that arrived just before the disconnect is not overwritten.
	disconnected bool

	// inflight holds requests handed to this connection and not yet
	// resolved by the dispatcher.
	inflight map[*Request]struct{}

	// outbox feeds the dispatcher; wake signals it.
	outbox Queue
	wake   chan struct{}
}

// detached is a connection record removed from the broker, with the
// requests it still owed results to.
type detached struct {
	conn     *connection
	requests []*Request
}

// NewBroker returns an Idle broker.
func NewBroker(config BrokerConfig) (*Broker, error) {
	if config.Transport == nil {
		return nil, errors.New("delivery: broker requires a transport")
	}
	if config.Policy == nil {
		return nil, errors.New("delivery: broker requires a policy source")
	}
	if config.Verifier == nil {
		return nil, errors.New("delivery: broker requires a verifier")
	}
	if config.Executor == nil {
		return nil, errors.New("delivery: broker requires an executor")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Broker{
		transport: config.Transport,
		policy:    config.Policy,
		verifier:  config.Verifier,
		executor:  config.Executor,
		logger:    logger,
	}, nil
}

// Status returns a snapshot of the broker.
func (b *Broker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := Status{State: StateIdle, Queued: b.queue.Len()}
	if c := b.conn; c != nil {
		status.State = c.state
		status.Target = c.target
		status.InFlight = len(c.inflight)
	}
	return status
}

// Deliver sends request to dest: straight to the connection when the
// broker is Connected to dest, otherwise into the queue followed by
// EnsureConnected. The check and the enqueue happen under one lock, so
// a request cannot slip between a connection becoming ready and the
// queue being drained.
func (b *Broker) Deliver(dest destination.ID, request *Request) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.resolve(request, Result{Kind: Released})
		return
	}
	if c := b.conn; c != nil && c.state == StateConnected && c.target == dest {
		b.handOffLocked(c, request)
		b.mu.Unlock()
		return
	}
	b.queue.Enqueue(request)
	old := b.ensureConnectedLocked(dest)
	b.mu.Unlock()

	b.finish(old, Released)
}

// EnsureConnected starts connecting to dest unless the broker is
// already Connecting or Connected to it. A connection to another
// destination is torn down first: its in-flight requests resolve
// Released, while queued requests stay queued for dest.
func (b *Broker) EnsureConnected(dest destination.ID) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	old := b.ensureConnectedLocked(dest)
	b.mu.Unlock()

	b.finish(old, Released)
}

// Dispatch hands request to the current connection. If the broker is
// not Connected the request resolves RemoteUnavailable.
func (b *Broker) Dispatch(request *Request) {
	b.mu.Lock()
	if c := b.conn; c != nil && c.state == StateConnected && !b.closed {
		b.handOffLocked(c, request)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.resolve(request, Result{Kind: RemoteUnavailable})
}

// Release tears down any connection or attempt, resolves every queued
// and in-flight request with Released, and returns to Idle. Safe from
// any goroutine; idempotent. The broker stays usable.
func (b *Broker) Release() {
	b.mu.Lock()
	old := b.detachLocked()
	queued := b.queue.DrainAll()
	b.mu.Unlock()

	if old != nil || len(queued) > 0 {
		b.logger.Info("delivery released",
			"queued", len(queued),
			"in_flight", inflightCount(old))
	}
	b.finish(old, Released)
	b.resolveAll(queued, Result{Kind: Released})
}

// Close releases and refuses further deliveries; later requests
// resolve Released.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Release()
}

func (b *Broker) ensureConnectedLocked(dest destination.ID) *detached {
	var old *detached
	if c := b.conn; c != nil {
		if c.target == dest {
			return nil
		}
		b.logger.Info("switching destination",
			"from", c.target,
			"to", dest)
		old = b.detachLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		target:   dest,
		state:    StateConnecting,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[*Request]struct{}),
		wake:     make(chan struct{}, 1),
	}
	b.conn = c
	b.logger.Debug("connecting", "destination", dest)
	go b.connect(c)
	return old
}

// detachLocked removes the current record, if any, and takes its
// in-flight requests in hand-off order.
func (b *Broker) detachLocked() *detached {
	c := b.conn
	if c == nil {
		return nil
	}
	b.conn = nil

	requests := make([]*Request, 0, len(c.inflight))
	for request := range c.inflight {
		requests = append(requests, request)
	}
	c.inflight = nil
	slices.SortFunc(requests, func(x, y *Request) int {
		return cmp.Compare(x.sequence, y.sequence)
	})
	return &detached{conn: c, requests: requests}
}

// finish resolves a detached record's requests, then stops its
// dispatcher and closes its handle. Call without the lock.
func (b *Broker) finish(old *detached, kind Kind) {
	if old == nil {
		return
	}
	b.resolveAll(old.requests, Result{Kind: kind})
	old.conn.cancel()
	if old.conn.handle != nil {
		if err := b.transport.Disconnect(old.conn.handle); err != nil {
			b.logger.Warn("disconnect failed",
				"destination", old.conn.target,
				"error", err)
		}
	}
}

// connect runs one connection attempt: trust gate, then transport.
func (b *Broker) connect(c *connection) {
	policy, err := b.policy.TrustPolicy()
	if err != nil {
		b.logger.Error("reading trust policy failed; refusing destination",
			"destination", c.target,
			"error", err)
		b.connectFailed(c, NotTrusted)
		return
	}

	if policy.Enabled {
		if !b.verify(c, policy) {
			b.connectFailed(c, NotTrusted)
			return
		}
	} else {
		b.logger.Warn("signer verification disabled; destination not checked",
			"destination", c.target)
	}

	if c.ctx.Err() != nil {
		return
	}

	handle, err := b.transport.Connect(c.ctx, c.target, func(err error) {
		b.onDisconnected(c, err)
	})
	if err != nil {
		b.logger.Warn("connect failed",
			"destination", c.target,
			"error", err)
		b.connectFailed(c, BindFailed)
		return
	}
	b.onConnected(c, handle)
}

// verify runs the verifier; a panicking verifier counts as a
// rejection.
func (b *Broker) verify(c *connection, policy trust.Policy) (trusted bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("verifier panicked; refusing destination",
				"destination", c.target,
				"panic", fmt.Sprint(recovered))
			trusted = false
		}
	}()
	return b.verifier.Verify(c.target, policy)
}

func (b *Broker) connectFailed(c *connection, kind Kind) {
	b.mu.Lock()
	if b.conn != c {
		b.mu.Unlock()
		return
	}
	old := b.detachLocked()
	queued := b.queue.DrainAll()
	b.mu.Unlock()

	b.logger.Info("connection attempt aborted",
		"destination", c.target,
		"result", kind,
		"queued", len(queued))
	b.finish(old, kind)
	b.resolveAll(queued, Result{Kind: kind})
}

func (b *Broker) onConnected(c *connection, handle Handle) {
	b.mu.Lock()
	if b.conn != c {
		b.mu.Unlock()
		// The attempt was abandoned while connecting.
		if err := b.transport.Disconnect(handle); err != nil {
			b.logger.Warn("disconnect of abandoned attempt failed",
				"destination", c.target,
				"error", err)
		}
		return
	}
	if c.lost {
		c.handle = handle
		old := b.detachLocked()
		queued := b.queue.DrainAll()
		b.mu.Unlock()

		b.logger.Warn("connection lost while being established",
			"destination", c.target)
		b.finish(old, RemoteUnavailable)
		b.resolveAll(queued, Result{Kind: RemoteUnavailable})
		return
	}

	c.state = StateConnected
	c.handle = handle
	queued := b.queue.DrainAll()
	for _, request := range queued {
		b.handOffLocked(c, request)
	}
	b.mu.Unlock()

	b.logger.Info("connected",
		"destination", c.target,
		"flushing", len(queued))
	go b.runDispatcher(c)
}

func (b *Broker) onDisconnected(c *connection, cause error) {
	b.mu.Lock()
	if b.conn != c {
		b.mu.Unlock()
		return
	}
	if c.state == StateConnecting {
		c.lost = true
		b.mu.Unlock()
		return
	}
	c.disconnected = true
	old := b.detachLocked()
	queued := b.queue.DrainAll()
	b.mu.Unlock()

	calling := 0
	waiting := old.requests[:0]
	for _, request := range old.requests {
		if request.dispatched.Load() {
			calling++
			continue
		}
		waiting = append(waiting, request)
	}
	old.requests = waiting

	b.logger.Warn("connection lost",
		"destination", c.target,
		"in_flight", len(waiting)+calling,
		"error", cause)
	b.finish(old, RemoteUnavailable)
	b.resolveAll(queued, Result{Kind: RemoteUnavailable})
}

// handOffLocked gives request to connection c's dispatcher.
func (b *Broker) handOffLocked(c *connection, request *Request) {
	request.target = c.target
	c.inflight[request] = struct{}{}
	c.outbox.Enqueue(request)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// runDispatcher sends c's requests one at a time, in hand-off order,
// until c is detached.
func (b *Broker) runDispatcher(c *connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		for _, request := range c.outbox.DrainAll() {
			b.dispatch(c, request)
		}
	}
}

func (b *Broker) dispatch(c *connection, request *Request) {
	b.mu.Lock()
	if b.conn != c {
		b.mu.Unlock()
		return
	}
	if _, ok := c.inflight[request]; !ok {
		b.mu.Unlock()
		return
	}
	request.dispatched.Store(true)
	handle := c.handle
	b.mu.Unlock()

	result := b.call(c, handle, request)
	request.closeSecrets()

	b.mu.Lock()
	current := b.conn == c
	if current {
		delete(c.inflight, request)
	}
	owner := current || c.disconnected
	b.mu.Unlock()

	// Release and switching resolve a detached record's requests
	// themselves; a disconnect leaves calls in progress to us.
	if owner {
		b.resolve(request, result)
	}
}

// call performs the remote call and maps its outcome.
func (b *Broker) call(c *connection, handle Handle, request *Request) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("remote call panicked",
				"destination", c.target,
				"request", request,
				"panic", fmt.Sprint(recovered))
			result = Result{Kind: RemoteCallFailed}
		}
	}()

	status, err := b.transport.Call(c.ctx, handle, request.payload())
	switch {
	case err == nil:
		return statusResult(status)
	case errors.Is(err, ErrConnectionLost), c.ctx.Err() != nil:
		return Result{Kind: RemoteUnavailable}
	default:
		b.logger.Warn("remote call failed",
			"destination", c.target,
			"request", request,
			"error", err)
		return Result{Kind: RemoteCallFailed}
	}
}

// resolve delivers result to request's continuation on the executor,
// the first time only.
func (b *Broker) resolve(request *Request, result Result) {
	if !request.resolved.CompareAndSwap(false, true) {
		return
	}
	if !request.dispatched.Load() {
		request.closeSecrets()
	}
	result.RequestID = request.id

	level := slog.LevelInfo
	if !result.OK() {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "delivery resolved",
		"request", request,
		"destination", request.target,
		"result", result.String())

	continuation := request.continuation
	if continuation == nil {
		return
	}
	b.executor.Post(func() {
		continuation.Complete(result)
	})
}

func (b *Broker) resolveAll(requests []*Request, result Result) {
	for _, request := range requests {
		b.resolve(request, result)
	}
}

func inflightCount(old *detached) int {
	if old == nil {
		return 0
	}
	return len(old.requests)
}
