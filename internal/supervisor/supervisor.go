// Package supervisor owns the socket connection lifecycle.
//
// It runs the single event-dispatch loop: message batches go to the
// ingestion pipeline, credential updates to the save callback, and
// connection transitions drive the reconnect-or-halt decision. Reconnects
// are an explicit bounded retry loop with exponential backoff, never
// recursion, so stack depth and restart rate stay bounded and the policy
// is a testable parameter.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/msgvault/internal/socket"
)

// ErrLoggedOut reports that the session credentials were invalidated.
// Fatal from this daemon's perspective until an operator re-pairs.
var ErrLoggedOut = errors.New("supervisor: session logged out, re-pairing required")

// Handler consumes message batches and is rebound to each new connection.
// Implemented by the ingestion pipeline.
type Handler interface {
	Bind(sender socket.Sender)
	HandleBatch(ctx context.Context, batch socket.MessageBatch)
}

// Policy bounds the reconnect retry loop.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy returns the reconnect policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Supervisor drives the connection state machine and event dispatch.
type Supervisor struct {
	factory   socket.Factory
	handler   Handler
	policy    Policy
	logger    *zap.Logger
	saveCreds func(socket.CredsUpdate)
	renderQR  func(code string)
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithCredsSaver sets the callback invoked verbatim on every credential
// update. The supervisor never interprets credential contents.
func WithCredsSaver(save func(socket.CredsUpdate)) Option {
	return func(s *Supervisor) { s.saveCreds = save }
}

// WithQRRenderer sets the side-channel renderer for pairing codes.
func WithQRRenderer(render func(code string)) Option {
	return func(s *Supervisor) { s.renderQR = render }
}

// New creates a Supervisor. The factory is used for the initial connection
// and every reconnect; the handler is rebound to each new client.
func New(factory socket.Factory, handler Handler, policy Policy, logger *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		factory: factory,
		handler: handler,
		policy:  policy,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run establishes the socket and dispatches its events until the context is
// cancelled, the session is terminally logged out, or reconnecting fails.
// A failure to establish the very first connection is returned as-is: that
// is a startup error, not a reconnect case.
func (s *Supervisor) Run(ctx context.Context) error {
	client, err := s.factory.New(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: establishing socket: %w", err)
	}
	s.handler.Bind(client)
	defer func() { client.Disconnect() }()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down", zap.Error(ctx.Err()))
			return nil
		case evt, ok := <-client.Events():
			if !ok {
				s.logger.Info("event stream ended")
				return nil
			}

			switch e := evt.(type) {
			case socket.MessageBatch:
				s.handler.HandleBatch(ctx, e)
			case socket.CredsUpdate:
				s.onCredsUpdate(e)
			case socket.ConnectionUpdate:
				next, err := s.onConnectionUpdate(ctx, client, e)
				if err != nil {
					return err
				}
				if next != nil {
					client = next
				}
			}
		}
	}
}

// onCredsUpdate forwards the update to the external persistence callback.
func (s *Supervisor) onCredsUpdate(update socket.CredsUpdate) {
	s.logger.Info("session credentials updated", zap.String("session_id", update.SessionID))
	if s.saveCreds != nil {
		s.saveCreds(update)
	}
}

// onConnectionUpdate applies one state transition. It returns a non-nil
// client when a reconnect produced a new connection, and a non-nil error
// when the session is over.
func (s *Supervisor) onConnectionUpdate(ctx context.Context, current socket.Client, update socket.ConnectionUpdate) (socket.Client, error) {
	if update.QR != "" {
		if s.renderQR != nil {
			s.renderQR(update.QR)
		}
		return nil, nil
	}

	switch update.State {
	case socket.StateOpen:
		ConnectionOpen.Set(1)
		s.logger.Info("connection open")
		return nil, nil

	case socket.StateClosed:
		ConnectionOpen.Set(0)
		Disconnects.WithLabelValues(strconv.Itoa(update.StatusCode)).Inc()

		switch update.StatusCode {
		case socket.CodeRestartRequired:
			s.logger.Info("connection closed, restart required",
				zap.Int("status_code", update.StatusCode))
			current.Disconnect()
			next, err := s.reconnect(ctx)
			if err != nil {
				return nil, err
			}
			s.handler.Bind(next)
			return next, nil

		case socket.CodeLoggedOut:
			s.logger.Error("session logged out, credentials invalidated",
				zap.Int("status_code", update.StatusCode))
			return nil, ErrLoggedOut

		default:
			s.logger.Warn("connection closed, manual intervention may be required",
				zap.Int("status_code", update.StatusCode))
			return nil, nil
		}
	}

	return nil, nil
}

// reconnect runs the bounded retry loop. The first attempt is immediate;
// later attempts wait out an exponential backoff capped by the policy.
func (s *Supervisor) reconnect(ctx context.Context) (socket.Client, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.policy.InitialInterval
	bo.MaxInterval = s.policy.MaxInterval
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		client, err := s.factory.New(ctx)
		if err == nil {
			Reconnects.WithLabelValues("success").Inc()
			s.logger.Info("reconnected", zap.Int("attempt", attempt))
			return client, nil
		}
		lastErr = err
		s.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.policy.MaxAttempts),
			zap.Error(err),
		)

		if attempt == s.policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}

	Reconnects.WithLabelValues("gave_up").Inc()
	return nil, fmt.Errorf("supervisor: giving up after %d reconnect attempts: %w",
		s.policy.MaxAttempts, lastErr)
}
