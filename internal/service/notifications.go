package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"ticketflow/internal/hub"
	"ticketflow/internal/model"
)

const (
	NotificationTypeTicket  = "ticket"
	NotificationTypeComment = "comentario"
	NotificationTypeAssign  = "asignacion"
)

type NotificationService struct {
	repo     NotificationRepository
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

func NewNotificationService(repo NotificationRepository, notifier Notifier, log zerolog.Logger) *NotificationService {
	return &NotificationService{
		repo:     repo,
		notifier: notifier,
		log:      log.With().Str("component", "notifications").Logger(),
		now:      time.Now,
	}
}

// Send records the notification and pushes it to the user's live socket.
// Neither step surfaces an error: storage failures are logged and the push
// still goes out.
func (s *NotificationService) Send(ctx context.Context, userID, title, message, kind, ticketID string) {
	rec := model.Notification{
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      kind,
		TicketID:  ticketID,
		CreatedAt: s.now().UTC(),
	}
	stored, err := s.repo.CreateNotification(ctx, rec)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("notification not stored")
	} else {
		rec = stored
	}

	s.notifier.NotifyUser(userID, hub.Notification{
		ID:        rec.ID,
		Title:     rec.Title,
		Message:   rec.Message,
		Type:      rec.Type,
		TicketID:  rec.TicketID,
		CreatedAt: rec.CreatedAt,
	})
}

func (s *NotificationService) List(ctx context.Context, actor Actor) ([]model.Notification, error) {
	return s.repo.ListNotifications(ctx, actor.ID)
}

func (s *NotificationService) MarkRead(ctx context.Context, actor Actor, id string) (model.Notification, error) {
	return s.repo.MarkNotificationRead(ctx, actor.ID, id)
}
