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
	"os"
	"slices"
	"sync"
	"time"

	"github.com/credcourier/courier/lib/codec"
	"github.com/credcourier/courier/lib/delivery"
	"github.com/credcourier/courier/lib/netutil"
	"github.com/credcourier/courier/lib/sealed"
	"github.com/credcourier/courier/lib/secret"
)

// Delivery is one credential as an endpoint receives it. Secret and
// OTP are nil when absent, already unsealed when they arrived
// sealed, and closed by the server once the handler returns.
type Delivery struct {
	Endpoint   string
	RequestID  string
	Mode       delivery.Mode
	Username   string
	Secret     *secret.Buffer
	OTP        *secret.Buffer
	EntryTitle string
	EntryID    string
}

// Handler processes one delivery and returns its status, zero for
// success. Handlers for one session may run concurrently.
type Handler func(ctx context.Context, d Delivery) int

// ServerConfig configures an endpoint-side Server.
type ServerConfig struct {
	SocketPath string

	// Endpoints lists the endpoint names a hello may bind to. Empty
	// accepts any name.
	Endpoints []string

	Handler Handler

	// Identity opens sealed fields. It is borrowed and must stay open
	// while the server runs. Without it sealed deliveries are
	// answered with an error.
	Identity *secret.Buffer

	Logger *slog.Logger
}

// Server is the helper-service side of the protocol: it accepts
// sessions on a unix socket, answers the bind handshake, and runs the
// Handler for every deliver frame.
type Server struct {
	socketPath string
	endpoints  []string
	handler    Handler
	identity   *secret.Buffer
	logger     *slog.Logger

	// activeConnections tracks sessions for graceful shutdown. Serve
	// waits for all of them before returning.
	activeConnections sync.WaitGroup
}

// NewServer validates config and returns a Server. Call Serve to
// start it.
func NewServer(config ServerConfig) (*Server, error) {
	if config.SocketPath == "" {
		return nil, errors.New("transport: SocketPath is required")
	}
	if config.Handler == nil {
		return nil, errors.New("transport: Handler is required")
	}
	if config.Identity != nil {
		if err := sealed.ParseIdentity(config.Identity); err != nil {
			return nil, err
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		socketPath: config.SocketPath,
		endpoints:  slices.Clone(config.Endpoints),
		handler:    config.Handler,
		identity:   config.Identity,
		logger:     logger,
	}, nil
}

// Serve accepts sessions until ctx is cancelled, then closes every
// session and waits for running handlers. Any existing socket file is
// removed before listening; the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("endpoint listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection runs one session: the handshake, then deliver
// frames until the client hangs up or ctx ends.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	endpoint, decoder, ok := s.accept(conn)
	if !ok {
		return
	}
	logger := s.logger.With("endpoint", endpoint)
	logger.Debug("session bound")

	var (
		writeMu  sync.Mutex
		handlers sync.WaitGroup
	)
	defer handlers.Wait()

	reply := func(status statusFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := writeFrame(conn, status); err != nil {
			logger.Debug("failed to write status", "request_id", status.RequestID, "error", err)
		}
	}

	for {
		raw, frameType, err := decoder.next()
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				logger.Debug("session ended", "error", err)
			}
			return
		}
		if frameType != frameDeliver {
			secret.Zero(raw)
			logger.Debug("ignoring unexpected frame", "type", frameType)
			continue
		}

		var frame deliverFrame
		err = codec.Unmarshal(raw, &frame)
		secret.Zero(raw)
		if err != nil {
			logger.Warn("malformed deliver frame, closing session", "error", err)
			return
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			reply(s.serveDelivery(ctx, endpoint, frame, logger))
		}()
	}
}

// accept reads the hello frame and answers it. It reports false when
// the session should end.
func (s *Server) accept(conn net.Conn) (string, *frameDecoder, bool) {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return "", nil, false
	}

	decoder := newFrameDecoder(conn)
	var hello helloFrame
	if err := decoder.expect(frameHello, &hello); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			s.logger.Debug("invalid handshake", "error", err)
		}
		return "", nil, false
	}

	if len(s.endpoints) > 0 && !slices.Contains(s.endpoints, hello.Endpoint) {
		s.logger.Info("refusing bind to unknown endpoint", "endpoint", hello.Endpoint)
		if err := writeFrame(conn, welcomeFrame{
			Type:  frameWelcome,
			Error: fmt.Sprintf("unknown endpoint %q", hello.Endpoint),
		}); err != nil {
			s.logger.Debug("failed to write refusal", "error", err)
		}
		return "", nil, false
	}

	if err := writeFrame(conn, welcomeFrame{Type: frameWelcome, OK: true}); err != nil {
		s.logger.Debug("failed to write welcome", "error", err)
		return "", nil, false
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", nil, false
	}
	return hello.Endpoint, decoder, true
}

// serveDelivery moves the frame's secrets into buffers, runs the
// handler, and builds the status reply.
func (s *Server) serveDelivery(ctx context.Context, endpoint string, frame deliverFrame, logger *slog.Logger) statusFrame {
	status := statusFrame{Type: frameStatus, RequestID: frame.RequestID}

	d := Delivery{
		Endpoint:   endpoint,
		RequestID:  frame.RequestID,
		Mode:       delivery.Mode(frame.Mode),
		Username:   frame.Username,
		EntryTitle: frame.EntryTitle,
		EntryID:    frame.EntryID,
	}
	var err error
	if d.Secret, err = s.open(frame.Secret, frame.Sealed); err != nil {
		secret.Zero(frame.OTP)
		status.Error = fmt.Sprintf("secret: %v", err)
		return status
	}
	if d.OTP, err = s.open(frame.OTP, frame.Sealed); err != nil {
		closeBuffer(d.Secret)
		status.Error = fmt.Sprintf("one-time code: %v", err)
		return status
	}
	defer closeBuffer(d.Secret)
	defer closeBuffer(d.OTP)

	status.Status = s.runHandler(ctx, d, logger)
	logger.Info("delivery handled",
		"request_id", d.RequestID,
		"mode", d.Mode,
		"status", status.Status)
	return status
}

// open turns one field into a buffer, unsealing it if needed. An
// empty field yields nil.
func (s *Server) open(field []byte, isSealed bool) (*secret.Buffer, error) {
	if len(field) == 0 {
		return nil, nil
	}
	if !isSealed {
		return secret.NewFromBytes(field)
	}
	if s.identity == nil {
		return nil, errors.New("endpoint has no identity to open sealed fields")
	}
	return sealed.Open(field, s.identity)
}

// runHandler calls the handler, turning a panic into a failure
// status.
func (s *Server) runHandler(ctx context.Context, d Delivery, logger *slog.Logger) (status int) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("delivery handler panicked",
				"request_id", d.RequestID,
				"panic", fmt.Sprint(recovered))
			status = StatusHandlerPanic
		}
	}()
	return s.handler(ctx, d)
}

// StatusHandlerPanic is the status reported when a Handler panics.
const StatusHandlerPanic = -1

func closeBuffer(buffer *secret.Buffer) {
	if buffer != nil {
		buffer.Close()
	}
}
