package client

import (
	"encoding/json"
	"sort"
	"sync"

	"ticketflow/internal/hub"
	"ticketflow/internal/model"
)

// State is the client's local cache, kept current by socket events.
type State struct {
	mu            sync.RWMutex
	notifications []hub.Notification
	tickets       map[string]model.Ticket
	comments      map[string][]model.Comment
}

func NewState() *State {
	return &State{
		tickets:  make(map[string]model.Ticket),
		comments: make(map[string][]model.Comment),
	}
}

// AddNotification prepends n so the list stays newest first.
func (s *State) AddNotification(n hub.Notification) {
	s.mu.Lock()
	s.notifications = append([]hub.Notification{n}, s.notifications...)
	s.mu.Unlock()
}

func (s *State) SetNotifications(list []hub.Notification) {
	s.mu.Lock()
	s.notifications = append([]hub.Notification(nil), list...)
	s.mu.Unlock()
}

func (s *State) Notifications() []hub.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]hub.Notification(nil), s.notifications...)
}

func (s *State) SetTickets(tickets []model.Ticket) {
	s.mu.Lock()
	s.tickets = make(map[string]model.Ticket, len(tickets))
	for _, t := range tickets {
		s.tickets[t.ID] = t
	}
	s.mu.Unlock()
}

func (s *State) Ticket(id string) (model.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	return t, ok
}

// Tickets returns the cache newest first.
func (s *State) Tickets() []model.Ticket {
	s.mu.RLock()
	out := make([]model.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ApplyTicketUpdate merges the update's fields into the cached ticket.
// Updates for tickets that are not cached are ignored.
func (s *State) ApplyTicketUpdate(u hub.TicketUpdate) (model.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tickets[u.TicketID]
	if !ok {
		return model.Ticket{}, false
	}
	merged, err := mergeFields(cur, u.Fields)
	if err != nil {
		return cur, false
	}
	s.tickets[u.TicketID] = merged
	return merged, true
}

func mergeFields(t model.Ticket, fields map[string]any) (model.Ticket, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return t, err
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return t, err
	}
	for k, v := range fields {
		doc[k] = v
	}
	raw, err = json.Marshal(doc)
	if err != nil {
		return t, err
	}
	var out model.Ticket
	if err := json.Unmarshal(raw, &out); err != nil {
		return t, err
	}
	return out, nil
}

func (s *State) SetComments(ticketID string, comments []model.Comment) {
	s.mu.Lock()
	s.comments[ticketID] = append([]model.Comment(nil), comments...)
	s.mu.Unlock()
}

// AddComment appends the comment once; redelivered ids are ignored.
func (s *State) AddComment(c hub.NewComment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.comments[c.TicketID] {
		if c.Comment.ID != "" && existing.ID == c.Comment.ID {
			return
		}
	}
	s.comments[c.TicketID] = append(s.comments[c.TicketID], c.Comment)
}

func (s *State) Comments(ticketID string) []model.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Comment(nil), s.comments[ticketID]...)
}

func (s *State) Reset() {
	s.mu.Lock()
	s.notifications = nil
	s.tickets = make(map[string]model.Ticket)
	s.comments = make(map[string][]model.Comment)
	s.mu.Unlock()
}
