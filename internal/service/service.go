// Package service holds the ticket and notification use cases. Every
// mutation that other users care about is pushed through a Notifier after
// it is stored; a push that reaches nobody never fails the operation.
package service

import (
	"context"

	"ticketflow/internal/hub"
	"ticketflow/internal/model"
)

// Actor is the authenticated caller of a use case.
type Actor struct {
	ID   string
	Role model.Role
}

type TicketRepository interface {
	CreateTicket(ctx context.Context, t model.Ticket) (model.Ticket, error)
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	ListTickets(ctx context.Context, filter model.TicketFilter) ([]model.Ticket, error)
	UpdateTicket(ctx context.Context, t model.Ticket) (model.Ticket, error)
	DeleteTicket(ctx context.Context, id string) error
	CreateComment(ctx context.Context, c model.Comment) (model.Comment, error)
	ListComments(ctx context.Context, ticketID string) ([]model.Comment, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) (model.Notification, error)
}

// Notifier is the realtime side of the fan-out router.
type Notifier interface {
	NotifyUser(principalID string, n hub.Notification)
	BroadcastTicketUpdate(ticketID string, fields map[string]any)
	BroadcastNewComment(ticketID string, comment model.Comment)
}

// canView reports whether actor may read t: staff see everything, clients
// only their own tickets.
func canView(actor Actor, t model.Ticket) bool {
	return actor.Role.Staff() || (actor.ID != "" && t.ClientID == actor.ID)
}
