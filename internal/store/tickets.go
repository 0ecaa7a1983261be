package store

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"ticketflow/internal/model"
)

// TicketNumber formats the human-facing ticket number for sequence n.
func TicketNumber(n int64) string {
	return "TK-" + strconv.FormatInt(n, 10)
}

func numberSeq(number string) int64 {
	n, _ := strconv.ParseInt(strings.TrimPrefix(number, "TK-"), 10, 64)
	return n
}

func (s *Store) CreateTicket(_ context.Context, t model.Ticket) (model.Ticket, error) {
	s.mu.Lock()
	s.ticketSeq++
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Number = TicketNumber(s.ticketSeq)
	s.ticketsByID[t.ID] = t
	persist := s.persistLocked()
	s.mu.Unlock()

	persist()
	return t, nil
}

func (s *Store) GetTicket(_ context.Context, id string) (model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.ticketsByID[id]
	if !ok {
		return model.Ticket{}, notFound("ticket", id)
	}
	return t, nil
}

// ListTickets returns matches newest first.
func (s *Store) ListTickets(_ context.Context, filter model.TicketFilter) ([]model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Ticket, 0)
	for _, t := range s.ticketsByID {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return numberSeq(out[i].Number) > numberSeq(out[j].Number)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateTicket(_ context.Context, t model.Ticket) (model.Ticket, error) {
	if t.ID == "" {
		return model.Ticket{}, errMissingID
	}

	s.mu.Lock()
	cur, ok := s.ticketsByID[t.ID]
	if !ok {
		s.mu.Unlock()
		return model.Ticket{}, notFound("ticket", t.ID)
	}
	t.Number = cur.Number
	s.ticketsByID[t.ID] = t
	persist := s.persistLocked()
	s.mu.Unlock()

	persist()
	return t, nil
}

// DeleteTicket removes the ticket together with its comments.
func (s *Store) DeleteTicket(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.ticketsByID[id]; !ok {
		s.mu.Unlock()
		return notFound("ticket", id)
	}
	delete(s.ticketsByID, id)
	delete(s.commentsByTicket, id)
	persist := s.persistLocked()
	s.mu.Unlock()

	persist()
	return nil
}

func (s *Store) CreateComment(_ context.Context, c model.Comment) (model.Comment, error) {
	s.mu.Lock()
	if _, ok := s.ticketsByID[c.TicketID]; !ok {
		s.mu.Unlock()
		return model.Comment{}, notFound("ticket", c.TicketID)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.commentsByTicket[c.TicketID] = append(s.commentsByTicket[c.TicketID], c)
	persist := s.persistLocked()
	s.mu.Unlock()

	persist()
	return c, nil
}

// ListComments returns the ticket's comments oldest first.
func (s *Store) ListComments(_ context.Context, ticketID string) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append(make([]model.Comment, 0, len(s.commentsByTicket[ticketID])), s.commentsByTicket[ticketID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
