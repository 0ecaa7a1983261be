package socketio

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"ticketflow/internal/auth"
	"ticketflow/internal/hub"
	"ticketflow/internal/model"
)

const (
	maxPayload   int64         = 1000000
	writeTimeout time.Duration = 10 * time.Second

	DefaultPingInterval = 25 * time.Second
	DefaultPingTimeout  = 20 * time.Second
)

var ErrConnClosed = errors.New("socket closed")

type Deps struct {
	Router      *hub.Router
	TokenConfig auth.TokenConfig
	// RequireAuth refuses CONNECT packets that carry no token.
	RequireAuth  bool
	CheckOrigin  func(r *http.Request) bool
	Logger       zerolog.Logger
	PingInterval time.Duration
	PingTimeout  time.Duration
}

type Server struct {
	router       *hub.Router
	tokenConfig  auth.TokenConfig
	requireAuth  bool
	log          zerolog.Logger
	pingInterval time.Duration
	pingTimeout  time.Duration

	upgrader websocket.Upgrader
}

func NewServer(deps Deps) *Server {
	checkOrigin := deps.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	s := &Server{
		router:       deps.Router,
		tokenConfig:  deps.TokenConfig,
		requireAuth:  deps.RequireAuth,
		log:          deps.Logger.With().Str("component", "socketio").Logger(),
		pingInterval: deps.PingInterval,
		pingTimeout:  deps.PingTimeout,
		upgrader:     websocket.Upgrader{CheckOrigin: checkOrigin},
	}
	if s.pingInterval <= 0 {
		s.pingInterval = DefaultPingInterval
	}
	if s.pingTimeout <= 0 {
		s.pingTimeout = DefaultPingTimeout
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("transport") == "polling" {
		http.Error(w, "polling transport not supported", http.StatusBadRequest)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newConn(ws, s.pingInterval, s.pingTimeout)
	defer s.unregisterConn(c)

	open := map[string]any{
		"sid":          c.sid,
		"upgrades":     []string{},
		"pingInterval": s.pingInterval.Milliseconds(),
		"pingTimeout":  s.pingTimeout.Milliseconds(),
		"maxPayload":   maxPayload,
	}
	openBytes, _ := json.Marshal(open)
	if err := c.writeText(string(EngineOpen) + string(openBytes)); err != nil {
		return
	}

	go c.pingLoop()
	c.readLoop(func(msg string) {
		s.handleMessage(c, msg)
	})
}

func (s *Server) unregisterConn(c *conn) {
	if c.connected.Load() {
		s.router.Disconnect(c)
	}
	c.Close()
}

func (s *Server) handleMessage(c *conn, msg string) {
	if msg == "" {
		return
	}

	switch EnginePacketType(msg[0]) {
	case EnginePong:
		c.markPong()
	case EngineMessage:
		s.handleSocketPayload(c, msg[1:])
	case EngineClose:
		c.Close()
	}
}

type connectAuth struct {
	Token string `json:"token"`
}

func (s *Server) handleSocketPayload(c *conn, payload string) {
	if payload == "" {
		return
	}

	switch SocketPacketType(payload[0]) {
	case SocketConnect:
		s.handleConnect(c, payload)
	case SocketEvent:
		s.handleEvent(c, payload)
	case SocketDisconnect:
		c.Close()
	}
}

func (s *Server) refuse(c *conn, namespace, reason string) {
	s.log.Info().Str("socket", c.sid).Str("reason", reason).Msg("socket connect refused")
	if pkt, err := BuildConnectErrorPacket(namespace, reason); err == nil {
		_ = c.writeText(Frame(pkt))
	}
	c.Close()
}

func (s *Server) handleConnect(c *conn, payload string) {
	if c.connected.Load() {
		return
	}

	pkt, err := ParseConnectPacket(payload)
	if err != nil {
		s.refuse(c, "/", "Invalid auth")
		return
	}

	var authObj connectAuth
	if len(pkt.Data) > 0 {
		if err := json.Unmarshal(pkt.Data, &authObj); err != nil {
			s.refuse(c, pkt.Namespace, "Invalid auth")
			return
		}
	}

	if authObj.Token == "" {
		if s.requireAuth {
			s.refuse(c, pkt.Namespace, "Missing token")
			return
		}
	} else {
		claims, err := auth.VerifyToken(authObj.Token, s.tokenConfig)
		if err != nil || claims.UserID() == "" {
			s.refuse(c, pkt.Namespace, "Invalid authentication token")
			return
		}
		c.principal = claims.UserID()
		c.role = claims.Role
	}

	c.namespace = pkt.Namespace
	c.connected.Store(true)
	s.router.Connect(c, c.role)

	ack, err := BuildConnectPacket(pkt.Namespace, map[string]string{"sid": c.sid})
	if err != nil {
		return
	}
	_ = c.writeText(Frame(ack))
}

func (s *Server) handleEvent(c *conn, payload string) {
	if !c.connected.Load() {
		return
	}

	pkt, err := ParseEventPacket(payload)
	if err != nil {
		s.log.Debug().Err(err).Str("socket", c.sid).Msg("malformed event packet")
		return
	}

	switch pkt.Event {
	case "ping":
		s.ack(c, pkt)

	case "identity":
		s.handleIdentity(c, pkt)
	}
}

func (s *Server) ack(c *conn, pkt EventPacket, args ...any) {
	if pkt.ID == nil {
		return
	}
	ackPayload, err := BuildAckPacket(pkt.Namespace, *pkt.ID, args...)
	if err == nil {
		_ = c.writeText(Frame(ackPayload))
	}
}

func (s *Server) handleIdentity(c *conn, pkt EventPacket) {
	if len(pkt.Args) < 1 {
		s.rejectIdentity(c, pkt, "Missing identity")
		return
	}
	principalID, ok := parseIdentity(pkt.Args[0])
	if !ok {
		s.rejectIdentity(c, pkt, "Invalid identity")
		return
	}
	if c.principal != "" && principalID != c.principal {
		s.log.Warn().Str("socket", c.sid).Str("token_subject", c.principal).Str("claimed", principalID).Msg("identity does not match token")
		s.rejectIdentity(c, pkt, "Identity does not match token")
		return
	}

	s.router.Identify(principalID, c)
	s.ack(c, pkt, map[string]any{"ok": true})
}

func (s *Server) rejectIdentity(c *conn, pkt EventPacket, msg string) {
	_ = c.Emit("error", map[string]string{"message": msg})
	s.ack(c, pkt, map[string]any{"ok": false, "error": msg})
}

// parseIdentity accepts the principal id as a JSON string or number.
func parseIdentity(raw json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, id != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String(), true
		}
	}
	return "", false
}

// conn is one Engine.IO websocket session. It implements hub.Handle.
type conn struct {
	ws *websocket.Conn

	sid       string
	namespace string

	connected atomic.Bool

	principal string
	role      model.Role

	sendMu sync.Mutex

	pingInterval time.Duration
	pingTimeout  time.Duration

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newConn(ws *websocket.Conn, pingInterval, pingTimeout time.Duration) *conn {
	return &conn{
		ws:           ws,
		sid:          uuid.NewString(),
		namespace:    "/",
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
		nextPingAt:   time.Now().Add(pingInterval),
	}
}

func (c *conn) ID() string { return c.sid }

func (c *conn) Emit(event string, payload any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	packet, err := BuildEventPacket(c.namespace, nil, event, payload)
	if err != nil {
		return err
	}
	return c.writeText(Frame(packet))
}

func (c *conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ws.Close()
}

func (c *conn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) readLoop(onMessage func(string)) {
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

func (c *conn) pingLoop() {
	tick := time.Second
	if c.pingInterval < tick {
		tick = c.pingInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		awaiting := c.awaitingPong
		pingSentAt := c.pingSentAt
		nextPingAt := c.nextPingAt
		if awaiting && now.Sub(pingSentAt) > c.pingTimeout {
			c.pingMu.Unlock()
			c.Close()
			return
		}
		if !awaiting && !now.Before(nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(c.pingInterval)
			c.pingMu.Unlock()
			_ = c.writeText(string(EnginePing))
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *conn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}
