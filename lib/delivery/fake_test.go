// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/secret"
	"github.com/credcourier/courier/lib/testutil"
	"github.com/credcourier/courier/lib/trust"
)

const waitTimeout = 5 * time.Second

var (
	vault = destination.ID{Application: "org.example.vault", Endpoint: "fill"}
	typer = destination.ID{Application: "org.example.typer", Endpoint: "type"}
)

// events is an ordered log shared by the fake transport and the spy
// verifier, so tests can check what happened before what.
type events struct {
	mu      sync.Mutex
	entries []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	e.entries = append(e.entries, fmt.Sprintf(format, args...))
	e.mu.Unlock()
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.entries...)
}

type fakeHandle struct {
	id           int
	dest         destination.ID
	onDisconnect func(error)
	dropped      atomic.Bool
}

// drop simulates the remote going away.
func (h *fakeHandle) drop() {
	if h.dropped.CompareAndSwap(false, true) {
		h.onDisconnect(errors.New("remote exited"))
	}
}

type recordedCall struct {
	dest    destination.ID
	payload Payload
	secret  string
	otp     string
}

// fakeTransport is a scriptable Transport.
type fakeTransport struct {
	log *events

	mu sync.Mutex
	// connectGate, when set, holds Connect until it is closed (or
	// the attempt is abandoned, unless ignoreCancel).
	connectGate  chan struct{}
	ignoreCancel bool
	connectErr   error
	// dropDuringConnect reports a disconnect before Connect returns.
	dropDuringConnect bool

	// callGate, when set, holds every Call until it is closed or the
	// connection ends.
	callGate   chan struct{}
	callStatus int
	callErr    error
	callPanic  bool

	// dropAfterReply makes the remote answer and then go away, with
	// the disconnect reported before Call returns the answer.
	dropAfterReply bool

	handles     []*fakeHandle
	calls       []recordedCall
	disconnects int

	connectStarted chan destination.ID
	callStarted    chan string
	connectReturn  chan struct{}
}

func newFakeTransport(log *events) *fakeTransport {
	return &fakeTransport{
		log:            log,
		connectStarted: make(chan destination.ID, 64),
		callStarted:    make(chan string, 1024),
		connectReturn:  make(chan struct{}, 64),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, dest destination.ID, onDisconnect func(error)) (Handle, error) {
	f.log.add("connect %s", dest)
	f.connectStarted <- dest
	defer func() { f.connectReturn <- struct{}{} }()

	f.mu.Lock()
	gate, ignoreCancel, connectErr, drop := f.connectGate, f.ignoreCancel, f.connectErr, f.dropDuringConnect
	f.mu.Unlock()

	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}

	f.mu.Lock()
	handle := &fakeHandle{id: len(f.handles) + 1, dest: dest, onDisconnect: onDisconnect}
	f.handles = append(f.handles, handle)
	f.mu.Unlock()

	if drop {
		handle.drop()
	}
	return handle, nil
}

func (f *fakeTransport) Call(ctx context.Context, handle Handle, payload Payload) (int, error) {
	fake := handle.(*fakeHandle)
	f.log.add("call %s %s", fake.dest, payload.RequestID)

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{
		dest:    fake.dest,
		payload: payload,
		secret:  string(payload.Secret),
		otp:     string(payload.OTP),
	})
	gate, status, callErr, panics, dropAfterReply := f.callGate, f.callStatus, f.callErr, f.callPanic, f.dropAfterReply
	f.mu.Unlock()

	f.callStarted <- payload.RequestID

	if dropAfterReply {
		fake.drop()
		return status, nil
	}
	if panics {
		panic("remote stub exploded")
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, fmt.Errorf("call aborted: %w", ErrConnectionLost)
		}
	}
	return status, callErr
}

func (f *fakeTransport) Disconnect(handle Handle) error {
	fake := handle.(*fakeHandle)
	f.log.add("disconnect %s", fake.dest)
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	// A local disconnect never reports through onDisconnect.
	fake.dropped.Store(true)
	return nil
}

func (f *fakeTransport) set(change func(f *fakeTransport)) {
	f.mu.Lock()
	change(f)
	f.mu.Unlock()
}

func (f *fakeTransport) recordedCalls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeTransport) handleList() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeHandle(nil), f.handles...)
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// spyVerifier records every verification and answers from trusted.
type spyVerifier struct {
	log     *events
	mu      sync.Mutex
	trusted map[destination.ID]bool
	calls   int
}

func (s *spyVerifier) Verify(dest destination.ID, policy trust.Policy) bool {
	s.log.add("verify %s", dest)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.trusted[dest]
}

func (s *spyVerifier) setTrusted(dest destination.ID, trusted bool) {
	s.mu.Lock()
	s.trusted[dest] = trusted
	s.mu.Unlock()
}

func (s *spyVerifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// switchable is a Selector and PolicySource tests can flip.
type switchable struct {
	mu        sync.Mutex
	selection destination.Selection
	policy    trust.Policy
	err       error
	policyErr error
}

func (s *switchable) Selection() (destination.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection, s.err
}

func (s *switchable) TrustPolicy() (trust.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy, s.policyErr
}

func (s *switchable) set(change func(s *switchable)) {
	s.mu.Lock()
	change(s)
	s.mu.Unlock()
}

// markingExecutor wraps a SerialExecutor and records whether code is
// running inside a posted function.
type markingExecutor struct {
	*SerialExecutor
	inside atomic.Bool
	posts  atomic.Int64
}

func (m *markingExecutor) Post(f func()) {
	m.posts.Add(1)
	m.SerialExecutor.Post(func() {
		m.inside.Store(true)
		defer m.inside.Store(false)
		f()
	})
}

type harness struct {
	t         *testing.T
	log       *events
	transport *fakeTransport
	verifier  *spyVerifier
	settings  *switchable
	executor  *markingExecutor
	client    *Client

	mu      sync.Mutex
	counts  map[string]int
	results chan Result
}

// newHarness builds a client selecting vault, with verification on and
// vault trusted.
func newHarness(t *testing.T) *harness {
	t.Helper()
	log := &events{}
	h := &harness{
		t:         t,
		log:       log,
		transport: newFakeTransport(log),
		verifier:  &spyVerifier{log: log, trusted: map[destination.ID]bool{vault: true, typer: true}},
		settings: &switchable{
			selection: destination.Selection{Enabled: true, Target: vault},
			policy:    trust.Policy{Enabled: true, Allowed: []string{"ignored-by-spy"}},
		},
		executor: &markingExecutor{SerialExecutor: NewSerialExecutor(nil)},
		counts:   make(map[string]int),
		results:  make(chan Result, 1024),
	}
	client, err := New(Config{
		Transport: h.transport,
		Policy:    h.settings,
		Verifier:  h.verifier,
		Executor:  h.executor,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.client = client
	t.Cleanup(func() {
		client.Close()
		h.executor.Close()
	})
	return h
}

// continuation counts invocations per request and forwards results.
func (h *harness) continuation() Continuation {
	return ContinuationFunc(func(result Result) {
		if !h.executor.inside.Load() {
			h.t.Errorf("continuation for %s ran outside the executor", result.RequestID)
		}
		h.mu.Lock()
		h.counts[result.RequestID]++
		h.mu.Unlock()
		h.results <- result
	})
}

func (h *harness) submit(credential Credential) string {
	return h.client.Submit(credential, h.settings, h.continuation())
}

func (h *harness) next() Result {
	h.t.Helper()
	return testutil.RequireReceive(h.t, h.results, waitTimeout, "waiting for delivery result")
}

func (h *harness) count(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[id]
}

// awaitState polls the broker until it reaches want.
func (h *harness) awaitState(want State) {
	h.t.Helper()
	done := make(chan struct{})
	go func() {
		for h.client.Status().State != want {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	testutil.RequireClosed(h.t, done, waitTimeout, "waiting for broker state %s", want)
}

func password(t *testing.T, value string) Credential {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	return Credential{Mode: ModePassword, Secret: buffer}
}
