package store

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"ticketflow/internal/model"
)

func (s *Store) CreateNotification(_ context.Context, n model.Notification) (model.Notification, error) {
	if n.UserID == "" {
		return model.Notification{}, errMissingID
	}

	s.mu.Lock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.notificationsByUser[n.UserID] = append(s.notificationsByUser[n.UserID], n)
	persist := s.persistLocked()
	s.mu.Unlock()

	persist()
	return n, nil
}

// ListNotifications returns the user's notifications newest first.
func (s *Store) ListNotifications(_ context.Context, userID string) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]model.Notification(nil), s.notificationsByUser[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkNotificationRead only touches notifications owned by userID.
func (s *Store) MarkNotificationRead(_ context.Context, userID, id string) (model.Notification, error) {
	s.mu.Lock()
	list := s.notificationsByUser[userID]
	for i := range list {
		if list[i].ID != id {
			continue
		}
		list[i].Read = true
		n := list[i]
		persist := s.persistLocked()
		s.mu.Unlock()

		persist()
		return n, nil
	}
	s.mu.Unlock()
	return model.Notification{}, notFound("notification", id)
}
