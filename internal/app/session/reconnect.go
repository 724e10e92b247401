package session

import (
	"context"
	"errors"

	"github.com/sethvargo/go-retry"

	"chatsync/internal/pkg/errs"
)

// onReady runs on the loop after every successful connect. The server forgets registration and
// scopes with the old connection, so both are sent again.
func (s *Store) onReady() {
	s.connected = true
	if errs.IsKind(s.lastError, errs.KindConnection) {
		s.lastError = nil
	}

	s.ch.Register(s.cred.Token())
	if s.activeID != "" {
		s.ch.JoinScope(s.activeID)
	}

	s.logger.Info().Str("active_chat", s.activeID).Msg("Push channel ready")
	s.notify()
}

// onDisconnected runs on the loop when the channel drops or the initial connect fails.
func (s *Store) onDisconnected(cause error) {
	s.connected = false
	s.peerTyping = false
	s.notify()

	if s.opts.DisableReconnect {
		s.lastError = cause
		return
	}
	if s.reconnecting {
		return
	}

	s.reconnecting = true
	s.wg.Add(1)
	go s.reconnect()
}

// reconnect retries Connect with capped exponential backoff until it succeeds, the attempt limit
// is reached, or the store closes.
func (s *Store) reconnect() {
	defer s.wg.Done()

	backoff := retry.NewExponential(s.opts.ReconnectBase)
	backoff = retry.WithCappedDuration(s.opts.ReconnectMax, backoff)
	if s.opts.MaxReconnectAttempts > 0 {
		backoff = retry.WithMaxRetries(s.opts.MaxReconnectAttempts, backoff)
	}

	attempt := 0
	err := retry.Do(s.lifetime, backoff, func(ctx context.Context) error {
		attempt++
		if err := s.ch.Connect(ctx); err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})

	s.post(func() {
		s.reconnecting = false
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Int("attempts", attempt).Msg("Giving up on push channel")
			s.lastError = err
			s.notify()
			return
		}
		// The new connection may have dropped before this ran.
		if err == nil && !s.connected {
			s.onDisconnected(nil)
		}
	})
}
