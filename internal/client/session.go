// Package client is the Go counterpart of the browser session: it restores
// a stored token, confirms it with the server, keeps a realtime socket bound
// to the principal and folds pushed events into a local State.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"ticketflow/internal/hub"
	"ticketflow/internal/model"
)

const identifyTimeout = 5 * time.Second

// ErrNoSession means the client is anonymous: no token, an expired or
// malformed one, or one the server no longer accepts.
var ErrNoSession = errors.New("no session")

type Config struct {
	ServerURL  string
	Tokens     TokenStore
	HTTPClient *http.Client
	Socket     SocketOptions
	Logger     zerolog.Logger
	Now        func() time.Time

	OnNotification func(hub.Notification)
	OnTicketUpdate func(hub.TicketUpdate)
	OnComment      func(hub.NewComment)

	// ReconnectInterval is the first retry delay after the socket drops.
	ReconnectInterval time.Duration
	// ReconnectMax caps the retry delay.
	ReconnectMax time.Duration
}

type Session struct {
	cfg   Config
	api   *APIClient
	state *State
	log   zerolog.Logger
	now   func() time.Time

	mu     sync.Mutex
	token  string
	user   model.User
	socket *Socket
}

func NewSession(cfg Config) *Session {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.Tokens == nil {
		cfg.Tokens = &MemoryTokenStore{}
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Session{
		cfg:   cfg,
		api:   NewAPIClient(cfg.ServerURL, cfg.HTTPClient),
		state: NewState(),
		log:   cfg.Logger.With().Str("component", "session").Logger(),
		now:   now,
	}
}

func (s *Session) State() *State { return s.state }

func (s *Session) User() (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.token != ""
}

// DecodeExpiry reads the exp claim without verifying the signature. It is a
// local pre-check only; the server stays the authority on validity.
func DecodeExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("malformed token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}

// Bootstrap restores the stored session. Any token the client or the
// server rejects is discarded and ErrNoSession returned. A user returned
// alongside a non-nil error means the session is valid but the realtime
// connection could not be opened; Run keeps retrying it.
func (s *Session) Bootstrap(ctx context.Context) (model.User, error) {
	token, err := s.cfg.Tokens.Load()
	if err != nil {
		return model.User{}, err
	}
	if token == "" {
		return model.User{}, ErrNoSession
	}

	exp, err := DecodeExpiry(token)
	if err != nil || !exp.After(s.now()) {
		s.log.Info().Err(err).Msg("stored token unusable, discarding")
		s.discard()
		return model.User{}, ErrNoSession
	}

	user, err := s.api.Me(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.log.Info().Msg("server rejected stored token, discarding")
			s.discard()
			return model.User{}, ErrNoSession
		}
		return model.User{}, fmt.Errorf("who am i: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		return user, fmt.Errorf("realtime connect: %w", err)
	}
	return user, nil
}

// Login exchanges credentials for a token, stores it and bootstraps.
func (s *Session) Login(ctx context.Context, email, password string) (model.User, error) {
	token, _, err := s.api.Login(ctx, email, password)
	if err != nil {
		return model.User{}, err
	}
	if err := s.cfg.Tokens.Save(token); err != nil {
		return model.User{}, err
	}
	return s.Bootstrap(ctx)
}

// Logout forgets the token, closes the socket and clears the local cache.
func (s *Session) Logout() error {
	s.mu.Lock()
	sock := s.socket
	s.socket = nil
	s.token = ""
	s.user = model.User{}
	s.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
	s.state.Reset()
	return s.cfg.Tokens.Clear()
}

func (s *Session) discard() {
	if err := s.cfg.Tokens.Clear(); err != nil {
		s.log.Warn().Err(err).Msg("could not clear stored token")
	}
	s.mu.Lock()
	s.token = ""
	s.user = model.User{}
	s.mu.Unlock()
}

func (s *Session) LoadTickets(ctx context.Context) ([]model.Ticket, error) {
	token, err := s.currentToken()
	if err != nil {
		return nil, err
	}
	tickets, err := s.api.ListTickets(ctx, token)
	if err != nil {
		return nil, err
	}
	s.state.SetTickets(tickets)
	return tickets, nil
}

func (s *Session) LoadComments(ctx context.Context, ticketID string) ([]model.Comment, error) {
	token, err := s.currentToken()
	if err != nil {
		return nil, err
	}
	comments, err := s.api.ListComments(ctx, token, ticketID)
	if err != nil {
		return nil, err
	}
	s.state.SetComments(ticketID, comments)
	return comments, nil
}

func (s *Session) LoadNotifications(ctx context.Context) ([]hub.Notification, error) {
	token, err := s.currentToken()
	if err != nil {
		return nil, err
	}
	records, err := s.api.ListNotifications(ctx, token)
	if err != nil {
		return nil, err
	}
	list := make([]hub.Notification, 0, len(records))
	for _, r := range records {
		list = append(list, hub.Notification{
			ID:        r.ID,
			Title:     r.Title,
			Message:   r.Message,
			Type:      r.Type,
			TicketID:  r.TicketID,
			CreatedAt: r.CreatedAt,
		})
	}
	s.state.SetNotifications(list)
	return list, nil
}

func (s *Session) currentToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoSession
	}
	return s.token, nil
}

// Run keeps the realtime socket up until ctx ends or the session does,
// reconnecting with exponential backoff and re-announcing identity each
// time. A server refusal of the token ends the session with ErrNoSession.
func (s *Session) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectInterval
	b.MaxInterval = s.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	for {
		s.mu.Lock()
		sock, active := s.socket, s.token != ""
		s.mu.Unlock()
		if !active {
			return ErrNoSession
		}

		if sock == nil {
			op := func() error {
				if _, err := s.currentToken(); err != nil {
					return backoff.Permanent(err)
				}
				err := s.connect(ctx)
				if errors.Is(err, ErrConnectRefused) {
					return backoff.Permanent(err)
				}
				return err
			}
			notify := func(err error, wait time.Duration) {
				s.log.Warn().Err(err).Dur("retry_in", wait).Msg("realtime connect failed")
			}
			if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
				if errors.Is(err, ErrConnectRefused) {
					s.discard()
					return ErrNoSession
				}
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.socket == sock {
				s.socket = nil
			}
			s.mu.Unlock()
			_ = sock.Close()
			return ctx.Err()
		case <-sock.Done():
			s.mu.Lock()
			if s.socket == sock {
				s.socket = nil
			}
			s.mu.Unlock()
			s.log.Info().Err(sock.Err()).Msg("realtime connection lost")
		}
	}
}

// connect dials, registers the listeners and announces identity.
func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	token, user, old := s.token, s.user, s.socket
	s.socket = nil
	s.mu.Unlock()
	if token == "" {
		return ErrNoSession
	}
	if old != nil {
		_ = old.Close()
	}

	opts := s.cfg.Socket
	opts.Token = token
	opts.Logger = s.cfg.Logger
	sock, err := DialSocket(ctx, s.cfg.ServerURL, opts)
	if err != nil {
		return err
	}
	s.listen(sock)

	idCtx, cancel := context.WithTimeout(ctx, identifyTimeout)
	defer cancel()
	res, err := sock.EmitWithAck(idCtx, "identity", user.ID)
	if err != nil {
		_ = sock.Close()
		return fmt.Errorf("identity: %w", err)
	}
	if err := identityAckError(res); err != nil {
		_ = sock.Close()
		return err
	}

	s.mu.Lock()
	if s.token != token {
		s.mu.Unlock()
		_ = sock.Close()
		return ErrNoSession
	}
	s.socket = sock
	s.mu.Unlock()

	s.log.Info().Str("user_id", user.ID).Msg("realtime connected")
	return nil
}

func identityAckError(args []json.RawMessage) error {
	if len(args) == 0 {
		return nil
	}
	var ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(args[0], &ack); err != nil {
		return fmt.Errorf("identity ack: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrConnectRefused, ack.Error)
	}
	return nil
}

func (s *Session) listen(sock *Socket) {
	sock.On(hub.EventNotification, func(args []json.RawMessage) {
		var n hub.Notification
		if !s.decodeFirst(args, &n) {
			return
		}
		s.state.AddNotification(n)
		if s.cfg.OnNotification != nil {
			s.cfg.OnNotification(n)
		}
	})
	sock.On(hub.EventTicketUpdate, func(args []json.RawMessage) {
		var u hub.TicketUpdate
		if !s.decodeFirst(args, &u) || u.TicketID == "" {
			return
		}
		s.state.ApplyTicketUpdate(u)
		if s.cfg.OnTicketUpdate != nil {
			s.cfg.OnTicketUpdate(u)
		}
	})
	sock.On(hub.EventNewComment, func(args []json.RawMessage) {
		var c hub.NewComment
		if !s.decodeFirst(args, &c) || c.TicketID == "" {
			return
		}
		s.state.AddComment(c)
		if s.cfg.OnComment != nil {
			s.cfg.OnComment(c)
		}
	})
	sock.On("error", func(args []json.RawMessage) {
		var e struct {
			Message string `json:"message"`
		}
		if s.decodeFirst(args, &e) {
			s.log.Warn().Str("message", e.Message).Msg("server reported socket error")
		}
	})
}

func (s *Session) decodeFirst(args []json.RawMessage, dst any) bool {
	if len(args) == 0 {
		return false
	}
	if err := json.Unmarshal(args[0], dst); err != nil {
		s.log.Debug().Err(err).Msg("undecodable event payload")
		return false
	}
	return true
}
