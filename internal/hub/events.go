package hub

import (
	"encoding/json"
	"time"

	"ticketflow/internal/model"
)

const (
	EventNotification = "notification"
	EventTicketUpdate = "ticketUpdate"
	EventNewComment   = "newComment"
)

// Event is the closed set of payloads the router pushes.
type Event interface {
	EventName() string
}

type Notification struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	TicketID  string    `json:"ticketId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Notification) EventName() string { return EventNotification }

// TicketUpdate goes on the wire flat: {"ticketId": ..., <fields>...}.
type TicketUpdate struct {
	TicketID string
	Fields   map[string]any
}

func (TicketUpdate) EventName() string { return EventTicketUpdate }

func (u TicketUpdate) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Fields)+1)
	for k, v := range u.Fields {
		out[k] = v
	}
	out["ticketId"] = u.TicketID
	return json.Marshal(out)
}

func (u *TicketUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := raw["ticketId"].(string)
	delete(raw, "ticketId")
	u.TicketID = id
	u.Fields = raw
	return nil
}

type NewComment struct {
	TicketID string        `json:"ticketId"`
	Comment  model.Comment `json:"comment"`
}

func (NewComment) EventName() string { return EventNewComment }
