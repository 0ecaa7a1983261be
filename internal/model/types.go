package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "administrador"
	RoleAgent  Role = "agente"
	RoleClient Role = "cliente"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgent, RoleClient:
		return true
	}
	return false
}

// Staff reports whether the role works tickets on behalf of clients.
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleAgent
}

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// User is a principal: anyone who can log in.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"nombre"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"rol"`
	Active       bool      `json:"activo"`
	CreatedAt    time.Time `json:"creado_en"`
	UpdatedAt    time.Time `json:"actualizado_en"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type TicketStatus string

const (
	StatusOpen       TicketStatus = "abierto"
	StatusInProgress TicketStatus = "en_progreso"
	StatusResolved   TicketStatus = "resuelto"
	StatusClosed     TicketStatus = "cerrado"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

type TicketPriority string

const (
	PriorityHigh   TicketPriority = "Alta"
	PriorityMedium TicketPriority = "Media"
	PriorityLow    TicketPriority = "Baja"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type Ticket struct {
	ID          string         `json:"id"`
	Number      string         `json:"numero_ticket"`
	Title       string         `json:"titulo"`
	Description string         `json:"descripcion"`
	Status      TicketStatus   `json:"estado"`
	Priority    TicketPriority `json:"prioridad"`
	Category    string         `json:"categoria"`
	ClientID    string         `json:"cliente_id"`
	AssigneeID  string         `json:"asignado_id,omitempty"`
	CreatedAt   time.Time      `json:"creado_en"`
	UpdatedAt   time.Time      `json:"actualizado_en"`
}

type TicketFilter struct {
	ClientID   string
	AssigneeID string
	Status     TicketStatus
	Priority   TicketPriority
	Category   string
	Search     string
}

func (f TicketFilter) Match(t Ticket) bool {
	if f.ClientID != "" && t.ClientID != f.ClientID {
		return false
	}
	if f.AssigneeID != "" && t.AssigneeID != f.AssigneeID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Category != "" && !strings.EqualFold(t.Category, f.Category) {
		return false
	}
	if f.Search != "" {
		term := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) &&
			!strings.Contains(strings.ToLower(t.Number), term) {
			return false
		}
	}
	return true
}

type Comment struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	AuthorID  string    `json:"usuario_id"`
	Message   string    `json:"mensaje"`
	Internal  bool      `json:"es_interno"`
	CreatedAt time.Time `json:"creado_en"`
}

// Notification is the stored record behind a realtime notification push.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"usuario_id"`
	Title     string    `json:"titulo"`
	Message   string    `json:"mensaje"`
	Type      string    `json:"tipo"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Read      bool      `json:"leida"`
	CreatedAt time.Time `json:"creado_en"`
}
