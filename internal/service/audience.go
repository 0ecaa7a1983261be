package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"ticketflow/internal/hub"
)

const audienceLookupTimeout = 2 * time.Second

// TicketAudience limits ticket broadcasts to staff and the ticket's owner.
// A ticket that cannot be loaded is visible to staff only.
type TicketAudience struct {
	tickets TicketRepository
	log     zerolog.Logger
}

func NewTicketAudience(tickets TicketRepository, log zerolog.Logger) *TicketAudience {
	return &TicketAudience{tickets: tickets, log: log.With().Str("component", "audience").Logger()}
}

func (a *TicketAudience) Resolve(ticketID string) hub.Visibility {
	ctx, cancel := context.WithTimeout(context.Background(), audienceLookupTimeout)
	defer cancel()

	owner := ""
	t, err := a.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		a.log.Debug().Err(err).Str("ticket_id", ticketID).Msg("ticket lookup failed, staff only")
	} else {
		owner = t.ClientID
	}

	return func(rc hub.Recipient) bool {
		if rc.PrincipalID == "" {
			return false
		}
		return rc.Role.Staff() || (owner != "" && rc.PrincipalID == owner)
	}
}
