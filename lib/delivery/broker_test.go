// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"testing"
	"time"

	"github.com/credcourier/courier/lib/testutil"
)

func TestEnsureConnectedStartsOneAttempt(t *testing.T) {
	h := newHarness(t)
	broker := h.client.broker
	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.connectGate = gate })

	broker.EnsureConnected(vault)
	broker.EnsureConnected(vault)
	if dest := testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "connect"); dest != vault {
		t.Fatalf("connecting to %s, want %s", dest, vault)
	}
	testutil.RequireNoReceive(t, h.transport.connectStarted, 50*time.Millisecond, "second attempt for the same destination")
	if status := broker.Status(); status.State != StateConnecting || status.Target != vault {
		t.Fatalf("status = %+v, want connecting to %s", status, vault)
	}

	close(gate)
	h.awaitState(StateConnected)
	broker.EnsureConnected(vault)
	testutil.RequireNoReceive(t, h.transport.connectStarted, 50*time.Millisecond, "reconnect while connected")
	if handles := h.transport.handleList(); len(handles) != 1 {
		t.Errorf("%d connections opened, want 1", len(handles))
	}
}

func TestEnsureConnectedElsewhereKeepsQueue(t *testing.T) {
	h := newHarness(t)
	broker := h.client.broker

	broker.EnsureConnected(vault)
	h.awaitState(StateConnected)
	testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "connect to vault")

	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.connectGate = gate })
	request := newRequest(password(t, "queued"), h.continuation())
	broker.queue.Enqueue(request)

	broker.EnsureConnected(typer)
	if dest := testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "connect to typer"); dest != typer {
		t.Fatalf("connecting to %s, want %s", dest, typer)
	}
	if status := broker.Status(); status.State != StateConnecting || status.Target != typer || status.Queued != 1 {
		t.Fatalf("status = %+v, want connecting to %s with one queued", status, typer)
	}
	if h.transport.disconnectCount() != 1 {
		t.Error("connection to the previous destination was not closed")
	}

	close(gate)
	if result := h.next(); result.Kind != Success || result.RequestID != request.ID() {
		t.Fatalf("result = %+v, want success for %s", result, request.ID())
	}
	calls := h.transport.recordedCalls()
	if len(calls) != 1 || calls[0].dest != typer || calls[0].secret != "queued" {
		t.Errorf("calls = %+v, want the queued secret sent to %s", calls, typer)
	}
}

func TestDispatchWithoutConnection(t *testing.T) {
	h := newHarness(t)
	credential := password(t, "orphan")
	request := newRequest(credential, h.continuation())

	h.client.broker.Dispatch(request)
	if result := h.next(); result.Kind != RemoteUnavailable {
		t.Fatalf("result = %s, want remote_unavailable", result)
	}
	if calls := h.transport.recordedCalls(); len(calls) != 0 {
		t.Errorf("request sent without a connection: %+v", calls)
	}
	if !credential.Secret.Closed() {
		t.Error("secret of an unsent request not closed")
	}
	if h.count(request.ID()) != 1 {
		t.Errorf("continuation ran %d times, want 1", h.count(request.ID()))
	}
}

func TestDispatchOnConnection(t *testing.T) {
	h := newHarness(t)
	broker := h.client.broker
	broker.EnsureConnected(vault)
	h.awaitState(StateConnected)

	request := newRequest(password(t, "direct"), h.continuation())
	broker.Dispatch(request)
	if result := h.next(); result.Kind != Success {
		t.Fatalf("result = %s, want success", result)
	}
	if calls := h.transport.recordedCalls(); len(calls) != 1 || calls[0].secret != "direct" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestStatusArrivedBeforeDisconnectWins(t *testing.T) {
	h := newHarness(t)
	h.transport.set(func(f *fakeTransport) {
		f.dropAfterReply = true
		f.callStatus = 5
	})

	id := h.submit(password(t, "a"))
	result := h.next()
	if result.Kind != RemoteReportedFailure || result.RemoteStatus != 5 {
		t.Fatalf("result = %s, want the status that arrived (5)", result)
	}
	h.awaitState(StateIdle)
	testutil.RequireNoReceive(t, h.results, 50*time.Millisecond, "second result")
	if h.count(id) != 1 {
		t.Errorf("continuation ran %d times, want 1", h.count(id))
	}
}
