// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/credcourier/courier/lib/clock"
	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/testutil"
	"github.com/credcourier/courier/lib/trust"
)

func TestSubmitDeliversPassword(t *testing.T) {
	h := newHarness(t)

	credential := password(t, "s3cr3t")
	id := h.submit(credential)

	result := h.next()
	if result.Kind != Success || result.RequestID != id {
		t.Fatalf("result = %+v, want success for %s", result, id)
	}

	calls := h.transport.recordedCalls()
	if len(calls) != 1 {
		t.Fatalf("remote called %d times, want 1", len(calls))
	}
	if calls[0].secret != "s3cr3t" || calls[0].payload.Mode != ModePassword || calls[0].payload.RequestID != id {
		t.Errorf("call = %+v", calls[0])
	}
	if calls[0].dest != vault {
		t.Errorf("delivered to %s, want %s", calls[0].dest, vault)
	}
	if !credential.Secret.Closed() {
		t.Error("secret buffer still open after delivery")
	}
	if h.count(id) != 1 {
		t.Errorf("continuation fired %d times", h.count(id))
	}
}

func TestUntrustedDestinationNeverCalled(t *testing.T) {
	h := newHarness(t)
	h.verifier.setTrusted(vault, false)

	credential := password(t, "s3cr3t")
	h.submit(credential)

	if result := h.next(); result.Kind != NotTrusted {
		t.Fatalf("result = %s, want not_trusted", result)
	}
	if calls := h.transport.recordedCalls(); len(calls) != 0 {
		t.Fatalf("remote called %d times for an untrusted destination", len(calls))
	}
	for _, entry := range h.log.list() {
		if strings.HasPrefix(entry, "connect") {
			t.Fatalf("transport connected to an untrusted destination: %v", h.log.list())
		}
	}
	if !credential.Secret.Closed() {
		t.Error("secret buffer still open after rejection")
	}
	if state := h.client.Status().State; state != StateIdle {
		t.Errorf("state = %s, want idle", state)
	}
}

func TestBackToBackSubmitsShareOneConnection(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.connectGate = gate })

	first := h.submit(password(t, "one"))
	second := h.submit(password(t, "two"))
	testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "connect")

	if queued := h.client.Status().Queued; queued != 2 {
		t.Fatalf("queued = %d, want 2", queued)
	}
	close(gate)

	if result := h.next(); result.RequestID != first || result.Kind != Success {
		t.Fatalf("first result = %+v, want success for %s", result, first)
	}
	if result := h.next(); result.RequestID != second || result.Kind != Success {
		t.Fatalf("second result = %+v, want success for %s", result, second)
	}
	if handles := h.transport.handleList(); len(handles) != 1 {
		t.Errorf("connected %d times, want once", len(handles))
	}
	calls := h.transport.recordedCalls()
	if len(calls) != 2 || calls[0].secret != "one" || calls[1].secret != "two" {
		t.Errorf("calls out of order: %+v", calls)
	}
	testutil.RequireNoReceive(t, h.results, 50*time.Millisecond, "extra result")
}

func TestQueuedRequestsFlushInSubmissionOrder(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.connectGate = gate })

	const count = 25
	ids := make([]string, count)
	for index := range ids {
		ids[index] = h.submit(password(t, fmt.Sprintf("secret-%d", index)))
	}
	close(gate)

	for index, id := range ids {
		result := h.next()
		if result.RequestID != id {
			t.Fatalf("result %d is for %s, want %s", index, result.RequestID, id)
		}
	}
	for index, call := range h.transport.recordedCalls() {
		if call.payload.RequestID != ids[index] {
			t.Fatalf("call %d carried %s, want %s", index, call.payload.RequestID, ids[index])
		}
	}
}

func TestExactlyOnceUnderConcurrencyAndDisconnect(t *testing.T) {
	h := newHarness(t)
	callGate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.callGate = callGate })

	const submitters, perSubmitter = 8, 12
	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	for submitter := 0; submitter < submitters; submitter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := 0; index < perSubmitter; index++ {
				id := h.submit(password(t, "pw"))
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}
		}()
	}

	// Drop the connection once the first call is stuck in flight,
	// while submitters may still be running.
	testutil.RequireReceive(t, h.transport.callStarted, waitTimeout, "first call")
	h.transport.handleList()[0].drop()
	wg.Wait()

	// Later submissions reconnect; let their calls through.
	close(callGate)

	total := submitters * perSubmitter
	seen := make(map[string]bool, total)
	for range total {
		result := h.next()
		if seen[result.RequestID] {
			t.Fatalf("request %s resolved twice", result.RequestID)
		}
		seen[result.RequestID] = true
		switch result.Kind {
		case Success, RemoteUnavailable:
		default:
			t.Errorf("request %s resolved %s", result.RequestID, result)
		}
	}
	testutil.RequireNoReceive(t, h.results, 100*time.Millisecond, "extra result")

	for _, id := range ids {
		if n := h.count(id); n != 1 {
			t.Errorf("request %s: continuation fired %d times", id, n)
		}
	}
}

func TestVerifierRunsBeforeEveryConnection(t *testing.T) {
	h := newHarness(t)

	h.submit(password(t, "a"))
	h.next()
	h.transport.handleList()[0].drop()
	h.awaitState(StateIdle)
	h.submit(password(t, "b"))
	h.next()

	var sequence []string
	for _, entry := range h.log.list() {
		if kind := strings.Fields(entry)[0]; kind != "disconnect" {
			sequence = append(sequence, kind)
		}
	}
	want := []string{"verify", "connect", "call", "verify", "connect", "call"}
	if strings.Join(sequence, " ") != strings.Join(want, " ") {
		t.Errorf("event order = %v, want %v", sequence, want)
	}
}

func TestVerificationDisabledSkipsVerifier(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *switchable) { s.policy.Enabled = false })
	h.verifier.setTrusted(vault, false)

	h.submit(password(t, "a"))
	if result := h.next(); result.Kind != Success {
		t.Fatalf("result = %s, want success", result)
	}
	if calls := h.verifier.callCount(); calls != 0 {
		t.Errorf("verifier called %d times with verification disabled", calls)
	}
}

func TestPolicyReadFailureFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *switchable) { s.policyErr = errors.New("settings unreadable") })

	h.submit(password(t, "a"))
	if result := h.next(); result.Kind != NotTrusted {
		t.Fatalf("result = %s, want not_trusted", result)
	}
	if len(h.transport.handleList()) != 0 {
		t.Error("transport connected despite unreadable policy")
	}
}

func TestDisablingAfterQueueing(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.connectGate = gate })

	queued := h.submit(password(t, "queued"))
	testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "connect")

	h.settings.set(func(s *switchable) { s.selection.Enabled = false })
	rejected := h.submit(password(t, "late"))

	result := h.next()
	if result.RequestID != rejected || result.Kind != ProviderDisabled {
		t.Fatalf("result = %+v, want provider_disabled for %s first", result, rejected)
	}

	close(gate)
	result = h.next()
	if result.RequestID != queued || result.Kind != Success {
		t.Fatalf("result = %+v, want the queued request to succeed", result)
	}
}

func TestNoProviderSelected(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *switchable) { s.selection.Target = destination.ID{} })

	credential := password(t, "a")
	h.submit(credential)
	if result := h.next(); result.Kind != NoProviderSelected {
		t.Fatalf("result = %s, want no_provider_selected", result)
	}
	if status := h.client.Status(); status.State != StateIdle || status.Queued != 0 {
		t.Errorf("broker touched without a destination: %+v", status)
	}
	if !credential.Secret.Closed() {
		t.Error("secret buffer still open")
	}
}

func TestSelectorFailureCountsAsDisabled(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *switchable) { s.err = errors.New("unreadable") })

	h.submit(password(t, "a"))
	if result := h.next(); result.Kind != ProviderDisabled {
		t.Fatalf("result = %s, want provider_disabled", result)
	}

	id := h.client.Submit(password(t, "b"), nil, h.continuation())
	if result := h.next(); result.RequestID != id || result.Kind != ProviderDisabled {
		t.Fatalf("nil selector result = %+v", result)
	}
}

func TestReleaseDuringConnect(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.connectGate = gate })

	first := password(t, "a")
	h.submit(first)
	h.submit(password(t, "b"))
	testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "connect")

	h.client.Release()

	for range 2 {
		if result := h.next(); result.Kind != Released {
			t.Fatalf("result = %s, want released", result)
		}
	}
	if status := h.client.Status(); status.State != StateIdle || status.Queued != 0 {
		t.Fatalf("status after release = %+v", status)
	}
	if !first.Secret.Closed() {
		t.Error("queued secret not closed on release")
	}

	// The abandoned attempt returns; it must not connect the broker.
	testutil.RequireReceive(t, h.transport.connectReturn, waitTimeout, "abandoned connect returning")
	if state := h.client.Status().State; state != StateIdle {
		t.Fatalf("state = %s after abandoned attempt returned", state)
	}
	close(gate)
	if calls := h.transport.recordedCalls(); len(calls) != 0 {
		t.Errorf("released requests were sent: %+v", calls)
	}
}

func TestReleaseBeforeLateConnectSucceeds(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) {
		f.connectGate = gate
		f.ignoreCancel = true
	})

	h.submit(password(t, "a"))
	testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "connect")
	h.client.Release()
	if result := h.next(); result.Kind != Released {
		t.Fatalf("result = %s, want released", result)
	}

	// The transport ignores cancellation and connects anyway.
	close(gate)
	testutil.RequireReceive(t, h.transport.connectReturn, waitTimeout, "late connect returning")

	done := make(chan struct{})
	go func() {
		for h.transport.disconnectCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	testutil.RequireClosed(t, done, waitTimeout, "late handle disconnected")
	if state := h.client.Status().State; state != StateIdle {
		t.Errorf("state = %s, want idle", state)
	}
}

func TestReleaseIsIdempotentAndClientReusable(t *testing.T) {
	h := newHarness(t)
	h.client.Release()
	h.client.Release()

	h.submit(password(t, "a"))
	if result := h.next(); result.Kind != Success {
		t.Fatalf("result = %s, want success", result)
	}
	h.client.Release()
	h.client.Release()
	if state := h.client.Status().State; state != StateIdle {
		t.Errorf("state = %s, want idle", state)
	}
	if h.transport.disconnectCount() != 1 {
		t.Errorf("disconnects = %d, want 1", h.transport.disconnectCount())
	}

	h.submit(password(t, "b"))
	if result := h.next(); result.Kind != Success {
		t.Fatalf("result after release = %s, want success", result)
	}
}

func TestReleaseResolvesInFlightCall(t *testing.T) {
	h := newHarness(t)
	callGate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.callGate = callGate })
	defer close(callGate)

	credential := password(t, "a")
	h.submit(credential)
	testutil.RequireReceive(t, h.transport.callStarted, waitTimeout, "call")

	h.client.Release()
	if result := h.next(); result.Kind != Released {
		t.Fatalf("result = %s, want released", result)
	}
	testutil.RequireNoReceive(t, h.results, 50*time.Millisecond, "second result after release")
}

func TestSwitchingDestination(t *testing.T) {
	h := newHarness(t)

	h.submit(password(t, "to-vault"))
	if result := h.next(); result.Kind != Success {
		t.Fatalf("first delivery = %s", result)
	}

	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.connectGate = gate })
	h.settings.set(func(s *switchable) { s.selection.Target = typer })

	first := h.submit(password(t, "to-typer-1"))
	second := h.submit(password(t, "to-typer-2"))
	testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "first connect")
	testutil.RequireReceive(t, h.transport.connectStarted, waitTimeout, "second connect")

	status := h.client.Status()
	if status.State != StateConnecting || status.Target != typer || status.Queued != 2 {
		t.Fatalf("status mid-switch = %+v", status)
	}
	if h.transport.disconnectCount() != 1 {
		t.Errorf("old connection not torn down")
	}

	close(gate)
	for _, id := range []string{first, second} {
		result := h.next()
		if result.RequestID != id || result.Kind != Success {
			t.Fatalf("result = %+v, want success for %s", result, id)
		}
	}
	calls := h.transport.recordedCalls()
	if len(calls) != 3 || calls[1].dest != typer || calls[2].dest != typer {
		t.Errorf("calls = %+v", calls)
	}
}

func TestSwitchingReleasesInFlightOnOldDestination(t *testing.T) {
	h := newHarness(t)
	callGate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.callGate = callGate })

	stuck := h.submit(password(t, "to-vault"))
	testutil.RequireReceive(t, h.transport.callStarted, waitTimeout, "vault call")

	h.transport.set(func(f *fakeTransport) { f.callGate = nil })
	h.settings.set(func(s *switchable) { s.selection.Target = typer })
	moved := h.submit(password(t, "to-typer"))

	results := map[string]Kind{}
	for range 2 {
		result := h.next()
		results[result.RequestID] = result.Kind
	}
	close(callGate)

	if results[stuck] != Released {
		t.Errorf("in-flight request on old destination = %s, want released", results[stuck])
	}
	if results[moved] != Success {
		t.Errorf("request for new destination = %s, want success", results[moved])
	}
}

func TestConnectFailureResolvesBindFailed(t *testing.T) {
	h := newHarness(t)
	h.transport.set(func(f *fakeTransport) { f.connectErr = errors.New("refused") })

	h.submit(password(t, "a"))
	h.submit(password(t, "b"))
	for range 2 {
		if result := h.next(); result.Kind != BindFailed {
			t.Fatalf("result = %s, want bind_failed", result)
		}
	}
	if state := h.client.Status().State; state != StateIdle {
		t.Errorf("state = %s, want idle", state)
	}
}

func TestDisconnectResolvesRemoteUnavailable(t *testing.T) {
	h := newHarness(t)
	callGate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.callGate = callGate })
	defer close(callGate)

	h.submit(password(t, "a"))
	testutil.RequireReceive(t, h.transport.callStarted, waitTimeout, "call")
	h.transport.handleList()[0].drop()

	if result := h.next(); result.Kind != RemoteUnavailable {
		t.Fatalf("result = %s, want remote_unavailable", result)
	}
	h.awaitState(StateIdle)
}

func TestDisconnectWhileConnecting(t *testing.T) {
	h := newHarness(t)
	h.transport.set(func(f *fakeTransport) { f.dropDuringConnect = true })

	h.submit(password(t, "a"))
	if result := h.next(); result.Kind != RemoteUnavailable {
		t.Fatalf("result = %s, want remote_unavailable", result)
	}
	if len(h.transport.recordedCalls()) != 0 {
		t.Error("request sent over a connection that was already lost")
	}
	h.awaitState(StateIdle)
	if h.transport.disconnectCount() != 1 {
		t.Errorf("lost handle was not closed")
	}
}

func TestRemoteStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		script func(f *fakeTransport)
		want   Result
	}{
		{"non-zero status", func(f *fakeTransport) { f.callStatus = 7 }, Result{Kind: RemoteReportedFailure, RemoteStatus: 7}},
		{"local error", func(f *fakeTransport) { f.callErr = errors.New("encode failed") }, Result{Kind: RemoteCallFailed}},
		{"connection lost", func(f *fakeTransport) { f.callErr = fmt.Errorf("read: %w", ErrConnectionLost) }, Result{Kind: RemoteUnavailable}},
		{"panic", func(f *fakeTransport) { f.callPanic = true }, Result{Kind: RemoteCallFailed}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t)
			h.transport.set(test.script)

			credential := password(t, "a")
			h.submit(credential)
			result := h.next()
			if result.Kind != test.want.Kind || result.RemoteStatus != test.want.RemoteStatus {
				t.Fatalf("result = %+v, want %+v", result, test.want)
			}
			if !credential.Secret.Closed() {
				t.Error("secret buffer still open after the call")
			}
		})
	}
}

func TestImmediateDispatchWhenConnected(t *testing.T) {
	h := newHarness(t)

	h.submit(password(t, "a"))
	h.next()
	h.submit(password(t, "b"))
	h.next()

	if handles := h.transport.handleList(); len(handles) != 1 {
		t.Errorf("connected %d times, want once", len(handles))
	}
	if calls := h.verifier.callCount(); calls != 1 {
		t.Errorf("verified %d times, want once per connection", calls)
	}
}

func TestPayloadFields(t *testing.T) {
	h := newHarness(t)

	credential := password(t, "pw")
	credential.Mode = ""
	credential.Username = "alice"
	credential.EntryTitle = "Mail"
	credential.EntryID = "entry-42"
	h.submit(credential)
	h.next()

	call := h.transport.recordedCalls()[0]
	if call.payload.Mode != ModeUserPass {
		t.Errorf("Mode = %q, want inferred userpass", call.payload.Mode)
	}
	if call.payload.Username != "alice" || call.payload.EntryTitle != "Mail" || call.payload.EntryID != "entry-42" {
		t.Errorf("payload = %+v", call.payload)
	}
}

func TestCloseResolvesLaterSubmitsReleased(t *testing.T) {
	h := newHarness(t)
	h.client.Close()
	h.client.Close()

	h.submit(password(t, "a"))
	if result := h.next(); result.Kind != Released {
		t.Fatalf("result = %s, want released", result)
	}
	if len(h.transport.handleList()) != 0 {
		t.Error("closed client connected")
	}
}

func TestOwnedExecutorDrainsOnClose(t *testing.T) {
	transport := newFakeTransport(&events{})
	settings := &switchable{selection: destination.Selection{Enabled: true, Target: vault}}
	client, err := New(Config{
		Transport: transport,
		Policy:    settings,
		Verifier:  &spyVerifier{log: &events{}, trusted: map[destination.ID]bool{}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gate := make(chan struct{})
	transport.set(func(f *fakeTransport) { f.connectGate = gate })
	defer close(gate)

	var (
		mu    sync.Mutex
		kinds []Kind
	)
	for range 3 {
		client.Submit(password(t, "a"), settings, ContinuationFunc(func(result Result) {
			mu.Lock()
			kinds = append(kinds, result.Kind)
			mu.Unlock()
		}))
	}
	client.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 3 {
		t.Fatalf("Close returned with %d of 3 continuations run", len(kinds))
	}
	for _, kind := range kinds {
		if kind != Released {
			t.Errorf("kind = %s, want released", kind)
		}
	}
}

func TestSubmitWait(t *testing.T) {
	h := newHarness(t)
	result, err := h.client.SubmitWait(context.Background(), password(t, "a"), h.settings)
	if err != nil {
		t.Fatalf("SubmitWait: %v", err)
	}
	if result.Kind != Success {
		t.Errorf("result = %s, want success", result)
	}
}

func TestSubmitWaitTimesOut(t *testing.T) {
	transport := newFakeTransport(&events{})
	gate := make(chan struct{})
	transport.set(func(f *fakeTransport) { f.connectGate = gate })
	defer close(gate)

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	settings := &switchable{
		selection: destination.Selection{Enabled: true, Target: vault},
		policy:    trust.Policy{Enabled: false},
	}
	client, err := New(Config{
		Transport:   transport,
		Policy:      settings,
		Verifier:    &spyVerifier{log: &events{}, trusted: map[destination.ID]bool{}},
		Clock:       fake,
		WaitTimeout: 8 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := client.SubmitWait(context.Background(), password(t, "a"), settings)
		done <- outcome{result, err}
	}()

	fake.WaitForTimers(1)
	fake.Advance(8 * time.Second)

	got := testutil.RequireReceive(t, done, waitTimeout, "SubmitWait returning")
	if !errors.Is(got.err, ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", got.err)
	}
	if got.result.RequestID == "" {
		t.Error("timed-out result lost its request ID")
	}
	// The delivery itself is still pending.
	if state := client.Status().State; state != StateConnecting {
		t.Errorf("state = %s, want connecting", state)
	}
}

func TestSubmitWaitContextCancelled(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.transport.set(func(f *fakeTransport) { f.connectGate = gate })
	defer close(gate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.client.SubmitWait(ctx, password(t, "a"), h.settings); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	transport := newFakeTransport(&events{})
	settings := &switchable{}
	verifier := &spyVerifier{log: &events{}}
	for name, config := range map[string]Config{
		"no transport": {Policy: settings, Verifier: verifier},
		"no policy":    {Transport: transport, Verifier: verifier},
		"no verifier":  {Transport: transport, Policy: settings},
		"negative":     {Transport: transport, Policy: settings, Verifier: verifier, WaitTimeout: -time.Second},
	} {
		if _, err := New(config); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
