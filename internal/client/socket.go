package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"ticketflow/internal/socketio"
)

const handshakeTimeout = 10 * time.Second

var (
	// ErrConnectRefused means the server answered CONNECT with an error,
	// typically a missing or rejected token.
	ErrConnectRefused = errors.New("socket connect refused")
	ErrSocketClosed   = errors.New("socket closed")
)

type SocketOptions struct {
	Token  string
	Header http.Header
	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

// Socket is a minimal Socket.IO v5 client over a single websocket.
type Socket struct {
	ws  *websocket.Conn
	log zerolog.Logger

	sendMu sync.Mutex

	mu       sync.Mutex
	handlers map[string][]func(args []json.RawMessage)
	acks     map[int]chan []json.RawMessage
	nextAck  int
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

// SocketURL turns http(s)://host into ws(s)://host/socket.io/?EIO=4&transport=websocket.
func SocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	u.RawQuery = "EIO=4&transport=websocket"
	return u.String(), nil
}

func DialSocket(ctx context.Context, serverURL string, opts SocketOptions) (*Socket, error) {
	wsURL, err := SocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, wsURL, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s := &Socket{
		ws:       ws,
		log:      opts.Logger.With().Str("component", "socket").Logger(),
		handlers: make(map[string][]func([]json.RawMessage)),
		acks:     make(map[int]chan []json.RawMessage),
		done:     make(chan struct{}),
	}
	if err := s.handshake(ctx, opts.Token); err != nil {
		_ = ws.Close()
		return nil, err
	}

	go s.readLoop()
	return s, nil
}

func (s *Socket) handshake(ctx context.Context, token string) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.ws.SetReadDeadline(deadline)
	defer s.ws.SetReadDeadline(time.Time{})

	msg, err := s.readText()
	if err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	if msg == "" || socketio.EnginePacketType(msg[0]) != socketio.EngineOpen {
		return fmt.Errorf("unexpected open packet %q", msg)
	}

	var auth any
	if token != "" {
		auth = map[string]string{"token": token}
	}
	connect, err := socketio.BuildConnectPacket("/", auth)
	if err != nil {
		return err
	}
	if err := s.writeText(socketio.Frame(connect)); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	for {
		msg, err := s.readText()
		if err != nil {
			return fmt.Errorf("read connect ack: %w", err)
		}
		if msg == string(socketio.EnginePing) {
			_ = s.writeText(string(socketio.EnginePong))
			continue
		}
		if len(msg) < 2 || socketio.EnginePacketType(msg[0]) != socketio.EngineMessage {
			continue
		}
		pkt, err := socketio.ParseConnectPacket(msg[1:])
		if err != nil {
			continue
		}
		if pkt.Type == socketio.SocketConnectError {
			var body struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(pkt.Data, &body)
			return fmt.Errorf("%w: %s", ErrConnectRefused, body.Message)
		}
		return nil
	}
}

// On registers fn for event. Handlers run on the read goroutine and must
// not block.
func (s *Socket) On(event string, fn func(args []json.RawMessage)) {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], fn)
	s.mu.Unlock()
}

func (s *Socket) Emit(event string, args ...any) error {
	pkt, err := socketio.BuildEventPacket("/", nil, event, args...)
	if err != nil {
		return err
	}
	return s.writeText(socketio.Frame(pkt))
}

// EmitWithAck sends event and waits for the server's acknowledgement.
func (s *Socket) EmitWithAck(ctx context.Context, event string, args ...any) ([]json.RawMessage, error) {
	ch := make(chan []json.RawMessage, 1)
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return nil, s.err
	}
	id := s.nextAck
	s.nextAck++
	s.acks[id] = ch
	s.mu.Unlock()

	drop := func() {
		s.mu.Lock()
		delete(s.acks, id)
		s.mu.Unlock()
	}

	pkt, err := socketio.BuildEventPacket("/", &id, event, args...)
	if err != nil {
		drop()
		return nil, err
	}
	if err := s.writeText(socketio.Frame(pkt)); err != nil {
		drop()
		return nil, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-s.done:
		drop()
		return nil, s.Err()
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

func (s *Socket) Done() <-chan struct{} { return s.done }

// Err reports why the socket closed; nil while it is open.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Socket) Close() error {
	disconnect := socketio.Frame(string(socketio.SocketDisconnect))
	_ = s.writeText(disconnect)
	s.shutdown(ErrSocketClosed)
	return nil
}

func (s *Socket) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		_ = s.ws.Close()
		close(s.done)
	})
}

func (s *Socket) readLoop() {
	for {
		msg, err := s.readText()
		if err != nil {
			s.shutdown(fmt.Errorf("%w: %v", ErrSocketClosed, err))
			return
		}
		if msg == "" {
			continue
		}

		switch socketio.EnginePacketType(msg[0]) {
		case socketio.EnginePing:
			_ = s.writeText(string(socketio.EnginePong))
		case socketio.EngineClose:
			s.shutdown(ErrSocketClosed)
			return
		case socketio.EngineMessage:
			if s.handlePacket(msg[1:]) {
				return
			}
		}
	}
}

// handlePacket reports whether the server ended the session.
func (s *Socket) handlePacket(payload string) bool {
	if payload == "" {
		return false
	}
	switch socketio.SocketPacketType(payload[0]) {
	case socketio.SocketEvent:
		pkt, err := socketio.ParseEventPacket(payload)
		if err != nil {
			s.log.Debug().Err(err).Msg("malformed event")
			return false
		}
		s.mu.Lock()
		hs := append([]func([]json.RawMessage){}, s.handlers[pkt.Event]...)
		s.mu.Unlock()
		for _, fn := range hs {
			fn(pkt.Args)
		}
	case socketio.SocketAck:
		pkt, err := socketio.ParseAckPacket(payload)
		if err != nil {
			return false
		}
		s.mu.Lock()
		ch, ok := s.acks[pkt.ID]
		delete(s.acks, pkt.ID)
		s.mu.Unlock()
		if ok {
			ch <- pkt.Args
		}
	case socketio.SocketDisconnect:
		s.shutdown(ErrSocketClosed)
		return true
	}
	return false
}

func (s *Socket) readText() (string, error) {
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Socket) writeText(msg string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return s.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}
