package store

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"ticketflow/internal/model"
)

func (s *Store) CreateUser(_ context.Context, user model.User) (model.User, error) {
	user.Email = model.NormalizeEmail(user.Email)

	s.mu.Lock()
	if _, taken := s.userIDByMail[user.Email]; taken {
		s.mu.Unlock()
		return model.User{}, model.ErrDuplicateEmail
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.usersByID[user.ID] = user
	s.userIDByMail[user.Email] = user.ID
	persist := s.persistLocked()
	s.mu.Unlock()

	persist()
	return user, nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByID[id]
	if !ok {
		return model.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	email = model.NormalizeEmail(email)

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userIDByMail[email]
	if !ok {
		return model.User{}, notFound("user", email)
	}
	return s.usersByID[id], nil
}

func (s *Store) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateUser replaces the stored record; the email index follows any change
// and stays unique.
func (s *Store) UpdateUser(_ context.Context, user model.User) (model.User, error) {
	if user.ID == "" {
		return model.User{}, errMissingID
	}
	user.Email = model.NormalizeEmail(user.Email)

	s.mu.Lock()
	cur, ok := s.usersByID[user.ID]
	if !ok {
		s.mu.Unlock()
		return model.User{}, notFound("user", user.ID)
	}
	if user.Email != cur.Email {
		if owner, taken := s.userIDByMail[user.Email]; taken && owner != user.ID {
			s.mu.Unlock()
			return model.User{}, model.ErrDuplicateEmail
		}
		delete(s.userIDByMail, cur.Email)
		s.userIDByMail[user.Email] = user.ID
	}
	s.usersByID[user.ID] = user
	persist := s.persistLocked()
	s.mu.Unlock()

	persist()
	return user, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	u, ok := s.usersByID[id]
	if !ok {
		s.mu.Unlock()
		return notFound("user", id)
	}
	delete(s.usersByID, id)
	delete(s.userIDByMail, u.Email)
	persist := s.persistLocked()
	s.mu.Unlock()

	persist()
	return nil
}
