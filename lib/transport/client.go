// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/credcourier/courier/lib/codec"
	"github.com/credcourier/courier/lib/delivery"
	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/netutil"
	"github.com/credcourier/courier/lib/registry"
	"github.com/credcourier/courier/lib/sealed"
	"github.com/credcourier/courier/lib/secret"
)

// dialTimeout bounds the connect phase only; the handshake has its
// own deadline.
const dialTimeout = 5 * time.Second

// RemoteError is returned when the endpoint answers a frame with an
// explicit error: a refused bind, or a deliver frame it could not
// process.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Op, e.Message)
}

// Resolver maps a destination to its socket. *registry.Registry
// implements it.
type Resolver interface {
	Resolve(dest destination.ID) (registry.Endpoint, error)
}

// Config holds a SocketTransport's collaborators.
type Config struct {
	Resolver Resolver

	// HandshakeTimeout bounds hello/welcome. Zero means 10s.
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// SocketTransport implements delivery.Transport over unix sockets.
// Each Connect opens one persistent session; calls on a session may
// overlap and are matched to replies by request ID.
type SocketTransport struct {
	resolver  Resolver
	handshake time.Duration
	logger    *slog.Logger
}

// NewSocketTransport returns a transport resolving destinations with
// config.Resolver.
func NewSocketTransport(config Config) (*SocketTransport, error) {
	if config.Resolver == nil {
		return nil, errors.New("transport: Resolver is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	handshake := config.HandshakeTimeout
	if handshake <= 0 {
		handshake = handshakeTimeout
	}
	return &SocketTransport{
		resolver:  config.Resolver,
		handshake: handshake,
		logger:    logger,
	}, nil
}

// Connect dials the destination's socket and binds to its endpoint.
// Cancelling ctx aborts the dial and the handshake.
func (t *SocketTransport) Connect(ctx context.Context, dest destination.ID, onDisconnect func(error)) (delivery.Handle, error) {
	endpoint, err := t.resolver.Resolve(dest)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dest, err)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", endpoint.Socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", endpoint.Socket, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	decoder, err := t.bind(conn, dest)
	if !stop() || err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("binding to %s: %w", dest, ctxErr)
		}
		return nil, err
	}

	s := &session{
		conn:         conn,
		decoder:      decoder,
		endpoint:     endpoint,
		onDisconnect: onDisconnect,
		pending:      make(map[string]chan statusFrame),
		done:         make(chan struct{}),
		logger:       t.logger.With("destination", dest),
	}
	go s.readLoop()

	t.logger.Debug("session established",
		"destination", dest,
		"socket", endpoint.Socket,
		"sealed", endpoint.Recipient != "")
	return s, nil
}

// bind performs the hello/welcome handshake under a deadline.
func (t *SocketTransport) bind(conn net.Conn, dest destination.ID) (*frameDecoder, error) {
	if err := conn.SetDeadline(time.Now().Add(t.handshake)); err != nil {
		return nil, fmt.Errorf("setting handshake deadline: %w", err)
	}
	if err := writeFrame(conn, helloFrame{Type: frameHello, Endpoint: dest.Endpoint}); err != nil {
		return nil, fmt.Errorf("sending hello to %s: %w", dest, err)
	}

	decoder := newFrameDecoder(conn)
	var welcome welcomeFrame
	if err := decoder.expect(frameWelcome, &welcome); err != nil {
		return nil, fmt.Errorf("reading welcome from %s: %w", dest, err)
	}
	if !welcome.OK {
		return nil, &RemoteError{Op: "bind", Message: welcome.Error}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clearing handshake deadline: %w", err)
	}
	return decoder, nil
}

// Call sends one deliver frame and waits for its status. Errors
// caused by the session ending wrap delivery.ErrConnectionLost.
func (t *SocketTransport) Call(ctx context.Context, handle delivery.Handle, payload delivery.Payload) (int, error) {
	s, ok := handle.(*session)
	if !ok {
		return 0, fmt.Errorf("transport: foreign handle %T", handle)
	}

	frame, err := s.frame(payload)
	if err != nil {
		return 0, err
	}
	// An oversize frame fails this call only. Sent, it would make the
	// endpoint drop the whole session.
	data, err := encodeFrame(frame)
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", payload.RequestID, err)
	}
	defer secret.Zero(data)

	reply, err := s.register(payload.RequestID)
	if err != nil {
		return 0, err
	}
	defer s.unregister(payload.RequestID)

	if err := s.write(data); err != nil {
		s.fail(err)
		return 0, fmt.Errorf("%w: %w", delivery.ErrConnectionLost, err)
	}

	select {
	case status := <-reply:
		return status.result()
	case <-s.done:
		if status, ok := arrived(reply); ok {
			return status.result()
		}
		return 0, fmt.Errorf("%w: %w", delivery.ErrConnectionLost, s.cause())
	case <-ctx.Done():
		if status, ok := arrived(reply); ok {
			return status.result()
		}
		return 0, ctx.Err()
	}
}

// arrived returns a status already routed to reply, if any.
func arrived(reply <-chan statusFrame) (statusFrame, bool) {
	select {
	case status := <-reply:
		return status, true
	default:
		return statusFrame{}, false
	}
}

// Disconnect closes the session without reporting a disconnect.
func (t *SocketTransport) Disconnect(handle delivery.Handle) error {
	s, ok := handle.(*session)
	if !ok {
		return fmt.Errorf("transport: foreign handle %T", handle)
	}
	s.close()
	return nil
}

// session is one bound connection.
type session struct {
	conn         net.Conn
	decoder      *frameDecoder
	endpoint     registry.Endpoint
	onDisconnect func(error)
	logger       *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan statusFrame
	closed  bool
	local   bool
	err     error
	done    chan struct{}
}

// frame builds the deliver frame for payload, sealing the secret
// fields when the endpoint publishes a recipient.
func (s *session) frame(payload delivery.Payload) (deliverFrame, error) {
	frame := deliverFrame{
		Type:       frameDeliver,
		RequestID:  payload.RequestID,
		Mode:       string(payload.Mode),
		Username:   payload.Username,
		Secret:     payload.Secret,
		OTP:        payload.OTP,
		EntryTitle: payload.EntryTitle,
		EntryID:    payload.EntryID,
	}
	if s.endpoint.Recipient == "" {
		return frame, nil
	}

	frame.Sealed = true
	var err error
	if len(payload.Secret) > 0 {
		if frame.Secret, err = sealed.Seal(payload.Secret, s.endpoint.Recipient); err != nil {
			return deliverFrame{}, fmt.Errorf("sealing secret for %s: %w", s.endpoint.ID, err)
		}
	}
	if len(payload.OTP) > 0 {
		if frame.OTP, err = sealed.Seal(payload.OTP, s.endpoint.Recipient); err != nil {
			return deliverFrame{}, fmt.Errorf("sealing one-time code for %s: %w", s.endpoint.ID, err)
		}
	}
	return frame, nil
}

func (s *session) register(requestID string) (chan statusFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: %w", delivery.ErrConnectionLost, s.err)
	}
	if _, exists := s.pending[requestID]; exists {
		return nil, fmt.Errorf("transport: request %s already in flight", requestID)
	}
	reply := make(chan statusFrame, 1)
	s.pending[requestID] = reply
	return reply, nil
}

func (s *session) unregister(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeEncoded(s.conn, data)
}

func (s *session) cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// readLoop routes status frames to their callers until the
// connection ends.
func (s *session) readLoop() {
	for {
		raw, frameType, err := s.decoder.next()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				err = errors.New("endpoint closed the connection")
			}
			s.fail(err)
			return
		}
		if frameType != frameStatus {
			s.logger.Debug("ignoring unexpected frame", "type", frameType)
			continue
		}

		var status statusFrame
		if err := codec.Unmarshal(raw, &status); err != nil {
			s.fail(fmt.Errorf("decoding status frame: %w", err))
			return
		}

		s.mu.Lock()
		reply, ok := s.pending[status.RequestID]
		delete(s.pending, status.RequestID)
		s.mu.Unlock()
		if !ok {
			s.logger.Debug("status for unknown request", "request_id", status.RequestID)
			continue
		}
		reply <- status
	}
}

// fail ends the session because of err. The first end wins. The
// disconnect callback runs unless the session was closed locally.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	notify := !s.local
	close(s.done)
	s.mu.Unlock()

	s.conn.Close()
	if notify && s.onDisconnect != nil {
		s.logger.Info("session lost", "error", err)
		s.onDisconnect(err)
	}
}

// close ends the session locally.
func (s *session) close() {
	s.mu.Lock()
	s.local = true
	s.mu.Unlock()
	s.fail(errors.New("disconnected"))
}
