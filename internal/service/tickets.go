package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"ticketflow/internal/auth"
	"ticketflow/internal/model"
)

type TicketDeps struct {
	Tickets       TicketRepository
	Notifier      Notifier
	Notifications *NotificationService
	Logger        zerolog.Logger
	Now           func() time.Time
}

type TicketService struct {
	tickets  TicketRepository
	notifier Notifier
	notify   *NotificationService
	log      zerolog.Logger
	now      func() time.Time
}

func NewTicketService(deps TicketDeps) *TicketService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		tickets:  deps.Tickets,
		notifier: deps.Notifier,
		notify:   deps.Notifications,
		log:      deps.Logger.With().Str("component", "tickets").Logger(),
		now:      now,
	}
}

type CreateTicketInput struct {
	Title       string
	Description string
	Priority    model.TicketPriority
	Category    string
	// ClientID lets staff open a ticket on behalf of a client. Ignored for
	// clients, whose tickets are always their own.
	ClientID string
}

// UpdateTicketInput carries optional changes; nil fields are left untouched.
type UpdateTicketInput struct {
	Title       *string
	Description *string
	Status      *model.TicketStatus
	Priority    *model.TicketPriority
	Category    *string
	AssigneeID  *string
}

type AddCommentInput struct {
	Message  string
	Internal bool
}

func (s *TicketService) Create(ctx context.Context, actor Actor, in CreateTicketInput) (model.Ticket, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.Ticket{}, fmt.Errorf("titulo is required: %w", model.ErrInvalidInput)
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return model.Ticket{}, fmt.Errorf("unknown prioridad %q: %w", priority, model.ErrInvalidInput)
	}

	owner := actor.ID
	if actor.Role.Staff() && in.ClientID != "" {
		owner = in.ClientID
	}

	now := s.now().UTC()
	t, err := s.tickets.CreateTicket(ctx, model.Ticket{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      model.StatusOpen,
		Priority:    priority,
		Category:    strings.TrimSpace(in.Category),
		ClientID:    owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return model.Ticket{}, err
	}
	s.log.Info().Str("ticket_id", t.ID).Str("numero", t.Number).Str("cliente_id", owner).Msg("ticket created")

	if owner != actor.ID {
		s.notify.Send(ctx, owner, "Nuevo ticket", fmt.Sprintf("Se abrió el ticket %s a tu nombre", t.Number), NotificationTypeTicket, t.ID)
	}
	return t, nil
}

// List forces clients onto their own tickets whatever the filter says.
func (s *TicketService) List(ctx context.Context, actor Actor, filter model.TicketFilter) ([]model.Ticket, error) {
	if !actor.Role.Staff() {
		filter.ClientID = actor.ID
	}
	return s.tickets.ListTickets(ctx, filter)
}

func (s *TicketService) Get(ctx context.Context, actor Actor, id string) (model.Ticket, error) {
	t, err := s.tickets.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, err
	}
	if !canView(actor, t) {
		return model.Ticket{}, model.ErrForbidden
	}
	return t, nil
}

// Update applies the changes, broadcasts the changed fields and notifies the
// owner (and a new assignee) when someone else made the change.
func (s *TicketService) Update(ctx context.Context, actor Actor, id string, in UpdateTicketInput) (model.Ticket, error) {
	if !auth.IsAuthorized(actor.Role, model.RoleAdmin, model.RoleAgent) {
		return model.Ticket{}, model.ErrForbidden
	}

	t, err := s.tickets.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, err
	}

	changed := make(map[string]any)
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return model.Ticket{}, fmt.Errorf("titulo is required: %w", model.ErrInvalidInput)
		}
		if title != t.Title {
			t.Title = title
			changed["titulo"] = title
		}
	}
	if in.Description != nil && *in.Description != t.Description {
		t.Description = *in.Description
		changed["descripcion"] = t.Description
	}
	if in.Status != nil && *in.Status != t.Status {
		if !in.Status.Valid() {
			return model.Ticket{}, fmt.Errorf("unknown estado %q: %w", *in.Status, model.ErrInvalidInput)
		}
		t.Status = *in.Status
		changed["estado"] = t.Status
	}
	if in.Priority != nil && *in.Priority != t.Priority {
		if !in.Priority.Valid() {
			return model.Ticket{}, fmt.Errorf("unknown prioridad %q: %w", *in.Priority, model.ErrInvalidInput)
		}
		t.Priority = *in.Priority
		changed["prioridad"] = t.Priority
	}
	if in.Category != nil && *in.Category != t.Category {
		t.Category = *in.Category
		changed["categoria"] = t.Category
	}
	assigned := false
	if in.AssigneeID != nil && *in.AssigneeID != t.AssigneeID {
		t.AssigneeID = *in.AssigneeID
		changed["asignado_id"] = t.AssigneeID
		assigned = t.AssigneeID != ""
	}

	if len(changed) == 0 {
		return t, nil
	}

	t.UpdatedAt = s.now().UTC()
	t, err = s.tickets.UpdateTicket(ctx, t)
	if err != nil {
		return model.Ticket{}, err
	}
	changed["actualizado_en"] = t.UpdatedAt

	s.notifier.BroadcastTicketUpdate(t.ID, changed)

	if t.ClientID != "" && t.ClientID != actor.ID {
		s.notify.Send(ctx, t.ClientID, "Ticket actualizado", fmt.Sprintf("Tu ticket %s ha sido actualizado", t.Number), NotificationTypeTicket, t.ID)
	}
	if assigned && t.AssigneeID != actor.ID {
		s.notify.Send(ctx, t.AssigneeID, "Ticket asignado", fmt.Sprintf("Se te asignó el ticket %s", t.Number), NotificationTypeAssign, t.ID)
	}
	return t, nil
}

func (s *TicketService) Delete(ctx context.Context, actor Actor, id string) error {
	if !auth.IsAuthorized(actor.Role, model.RoleAdmin) {
		return model.ErrForbidden
	}
	if err := s.tickets.DeleteTicket(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("ticket_id", id).Str("actor", actor.ID).Msg("ticket deleted")
	return nil
}

// AddComment stores the comment and fans it out. Internal comments can only
// be written by staff and never notify the client.
func (s *TicketService) AddComment(ctx context.Context, actor Actor, ticketID string, in AddCommentInput) (model.Comment, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return model.Comment{}, fmt.Errorf("mensaje is required: %w", model.ErrInvalidInput)
	}

	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return model.Comment{}, err
	}
	if !canView(actor, t) {
		return model.Comment{}, model.ErrForbidden
	}
	if in.Internal && !actor.Role.Staff() {
		return model.Comment{}, model.ErrForbidden
	}

	c, err := s.tickets.CreateComment(ctx, model.Comment{
		TicketID:  t.ID,
		AuthorID:  actor.ID,
		Message:   msg,
		Internal:  in.Internal,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return model.Comment{}, err
	}

	s.notifier.BroadcastNewComment(t.ID, c)

	if !c.Internal && t.ClientID != "" && t.ClientID != actor.ID {
		s.notify.Send(ctx, t.ClientID, "Nuevo comentario", fmt.Sprintf("Hay un nuevo comentario en tu ticket %s", t.Number), NotificationTypeComment, t.ID)
	}
	if t.AssigneeID != "" && t.AssigneeID != actor.ID {
		s.notify.Send(ctx, t.AssigneeID, "Nuevo comentario", fmt.Sprintf("Hay un nuevo comentario en el ticket %s", t.Number), NotificationTypeComment, t.ID)
	}
	return c, nil
}

// ListComments hides internal comments from clients.
func (s *TicketService) ListComments(ctx context.Context, actor Actor, ticketID string) ([]model.Comment, error) {
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, t) {
		return nil, model.ErrForbidden
	}

	all, err := s.tickets.ListComments(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if actor.Role.Staff() {
		return all, nil
	}
	out := make([]model.Comment, 0, len(all))
	for _, c := range all {
		if !c.Internal {
			out = append(out, c)
		}
	}
	return out, nil
}
