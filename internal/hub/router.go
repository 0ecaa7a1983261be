package hub

import (
	"sync"

	"github.com/rs/zerolog"
	"ticketflow/internal/metrics"
	"ticketflow/internal/model"
)

// Recipient describes a connected socket as seen by an Audience.
// PrincipalID is empty until the socket identifies; Role is empty for
// sockets that connected without a token.
type Recipient struct {
	PrincipalID string
	Role        model.Role
}

// Visibility decides per recipient whether a broadcast is delivered.
type Visibility func(Recipient) bool

// Audience narrows ticket broadcasts to the recipients allowed to see the
// ticket. A nil Audience broadcasts to every connected socket.
type Audience interface {
	Resolve(ticketID string) Visibility
}

type member struct {
	handle Handle
	role   model.Role
}

// Router owns the connection registry and fans events out to sockets.
type Router struct {
	log      zerolog.Logger
	registry *Registry
	audience Audience

	mu        sync.RWMutex
	connected map[string]member
}

func NewRouter(log zerolog.Logger, audience Audience) *Router {
	return &Router{
		log:       log.With().Str("component", "router").Logger(),
		registry:  NewRegistry(),
		audience:  audience,
		connected: make(map[string]member),
	}
}

// Connect records a socket that finished its handshake. role comes from
// the handshake token and may be empty.
func (r *Router) Connect(h Handle, role model.Role) {
	r.mu.Lock()
	r.connected[h.ID()] = member{handle: h, role: role}
	n := len(r.connected)
	r.mu.Unlock()

	metrics.SocketsConnected.Inc()
	r.log.Debug().Str("socket", h.ID()).Int("total_sockets", n).Msg("socket connected")
}

func (r *Router) Identify(principalID string, h Handle) {
	r.registry.Identify(principalID, h)
	metrics.SocketsIdentified.Set(float64(r.registry.Len()))
	r.log.Info().Str("socket", h.ID()).Str("user_id", principalID).Msg("socket identified")
}

// Disconnect is safe to call more than once and for sockets that never
// identified.
func (r *Router) Disconnect(h Handle) {
	r.mu.Lock()
	_, known := r.connected[h.ID()]
	delete(r.connected, h.ID())
	r.mu.Unlock()

	principalID, bound := r.registry.Disconnect(h)
	if known {
		metrics.SocketsConnected.Dec()
	}
	metrics.SocketsIdentified.Set(float64(r.registry.Len()))
	if bound {
		r.log.Info().Str("socket", h.ID()).Str("user_id", principalID).Msg("socket disconnected")
	}
}

// CloseAll closes every connected socket. Used on shutdown.
func (r *Router) CloseAll() {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.connected))
	for _, m := range r.connected {
		handles = append(handles, m.handle)
	}
	r.mu.RUnlock()

	for _, h := range handles {
		_ = h.Close()
		r.Disconnect(h)
	}
}

func (r *Router) Resolve(principalID string) (Handle, bool) {
	return r.registry.Resolve(principalID)
}

func (r *Router) Connected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connected)
}

func (r *Router) Identified() int {
	return r.registry.Len()
}

// NotifyUser pushes n to the principal's socket, if any. A missing binding
// is an expected miss and is only logged.
func (r *Router) NotifyUser(principalID string, n Notification) {
	h, ok := r.registry.Resolve(principalID)
	if !ok {
		metrics.DeliveryMissesTotal.WithLabelValues(n.EventName()).Inc()
		r.log.Debug().Str("user_id", principalID).Str("event", n.EventName()).Msg("no socket bound, notification dropped")
		return
	}
	r.emit(h, n)
}

func (r *Router) BroadcastTicketUpdate(ticketID string, fields map[string]any) {
	r.broadcast(ticketID, TicketUpdate{TicketID: ticketID, Fields: fields}, nil)
}

// BroadcastNewComment never sends internal comments to non-staff sockets.
func (r *Router) BroadcastNewComment(ticketID string, comment model.Comment) {
	var extra Visibility
	if comment.Internal {
		extra = func(rc Recipient) bool { return rc.Role.Staff() }
	}
	r.broadcast(ticketID, NewComment{TicketID: ticketID, Comment: comment}, extra)
}

func (r *Router) broadcast(ticketID string, ev Event, extra Visibility) {
	var visible Visibility
	if r.audience != nil {
		visible = r.audience.Resolve(ticketID)
	}

	r.mu.RLock()
	targets := make([]Handle, 0, len(r.connected))
	for _, m := range r.connected {
		rc := Recipient{Role: m.role}
		if visible != nil || extra != nil {
			rc.PrincipalID, _ = r.registry.PrincipalOf(m.handle)
		}
		if visible != nil && !visible(rc) {
			continue
		}
		if extra != nil && !extra(rc) {
			continue
		}
		targets = append(targets, m.handle)
	}
	r.mu.RUnlock()

	for _, h := range targets {
		r.emit(h, ev)
	}
	r.log.Debug().Str("event", ev.EventName()).Str("ticket_id", ticketID).Int("recipients", len(targets)).Msg("broadcast")
}

func (r *Router) emit(h Handle, ev Event) {
	if err := h.Emit(ev.EventName(), ev); err != nil {
		metrics.EmitFailuresTotal.WithLabelValues(ev.EventName()).Inc()
		r.log.Warn().Err(err).Str("socket", h.ID()).Str("event", ev.EventName()).Msg("emit failed, closing socket")
		_ = h.Close()
		r.Disconnect(h)
		return
	}
	metrics.EventsEmittedTotal.WithLabelValues(ev.EventName()).Inc()
}
