package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"ticketflow/internal/hub"
	"ticketflow/internal/model"
	"ticketflow/internal/store"
)

type recordingNotifier struct {
	mu       sync.Mutex
	notified map[string][]hub.Notification
	updates  []hub.TicketUpdate
	comments []hub.NewComment
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{notified: make(map[string][]hub.Notification)}
}

func (n *recordingNotifier) NotifyUser(principalID string, note hub.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified[principalID] = append(n.notified[principalID], note)
}

func (n *recordingNotifier) BroadcastTicketUpdate(ticketID string, fields map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, hub.TicketUpdate{TicketID: ticketID, Fields: fields})
}

func (n *recordingNotifier) BroadcastNewComment(ticketID string, comment model.Comment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.comments = append(n.comments, hub.NewComment{TicketID: ticketID, Comment: comment})
}

var (
	client  = Actor{ID: "c1", Role: model.RoleClient}
	client2 = Actor{ID: "c2", Role: model.RoleClient}
	agent   = Actor{ID: "a1", Role: model.RoleAgent}
	admin   = Actor{ID: "adm", Role: model.RoleAdmin}
)

func newTestTicketService(t *testing.T) (*TicketService, *store.Store, *recordingNotifier) {
	t.Helper()
	st := store.New()
	rec := newRecordingNotifier()
	notifications := NewNotificationService(st, rec, zerolog.Nop())
	svc := NewTicketService(TicketDeps{
		Tickets:       st,
		Notifier:      rec,
		Notifications: notifications,
		Logger:        zerolog.Nop(),
		Now:           func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	return svc, st, rec
}

func TestTicketService_CreateDefaultsAndOwnership(t *testing.T) {
	svc, _, _ := newTestTicketService(t)
	ctx := context.Background()

	tk, err := svc.Create(ctx, client, CreateTicketInput{Title: " Impresora ", ClientID: "someone-else"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tk.ClientID != "c1" {
		t.Fatalf("expected client to own the ticket, got %q", tk.ClientID)
	}
	if tk.Status != model.StatusOpen || tk.Priority != model.PriorityMedium || tk.Title != "Impresora" {
		t.Fatalf("unexpected defaults: %+v", tk)
	}
	if tk.Number != "TK-1" {
		t.Fatalf("expected TK-1, got %q", tk.Number)
	}

	if _, err := svc.Create(ctx, client, CreateTicketInput{Title: ""}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Create(ctx, client, CreateTicketInput{Title: "x", Priority: "Urgente"}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for priority, got %v", err)
	}
}

func TestTicketService_StaffCreatesOnBehalfNotifiesClient(t *testing.T) {
	svc, _, rec := newTestTicketService(t)

	tk, err := svc.Create(context.Background(), agent, CreateTicketInput{Title: "Correo", ClientID: "c1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tk.ClientID != "c1" {
		t.Fatalf("expected ticket for c1, got %q", tk.ClientID)
	}
	if len(rec.notified["c1"]) != 1 {
		t.Fatalf("expected c1 notified once, got %d", len(rec.notified["c1"]))
	}
}

func TestTicketService_ClientVisibility(t *testing.T) {
	svc, _, _ := newTestTicketService(t)
	ctx := context.Background()

	mine, _ := svc.Create(ctx, client, CreateTicketInput{Title: "mine"})
	_, _ = svc.Create(ctx, client2, CreateTicketInput{Title: "theirs"})

	list, err := svc.List(ctx, client, model.TicketFilter{ClientID: "c2"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Fatalf("expected only own ticket, got %+v", list)
	}
	all, _ := svc.List(ctx, agent, model.TicketFilter{})
	if len(all) != 2 {
		t.Fatalf("expected staff to see both tickets, got %d", len(all))
	}

	if _, err := svc.Get(ctx, client2, mine.ID); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Get(ctx, agent, mine.ID); err != nil {
		t.Fatalf("expected agent to read ticket: %v", err)
	}
}

func TestTicketService_UpdateBroadcastsAndNotifiesOwner(t *testing.T) {
	svc, st, rec := newTestTicketService(t)
	ctx := context.Background()

	tk, _ := svc.Create(ctx, client, CreateTicketInput{Title: "Impresora"})

	closed := model.StatusClosed
	updated, err := svc.Update(ctx, agent, tk.ID, UpdateTicketInput{Status: &closed})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != model.StatusClosed {
		t.Fatalf("expected cerrado, got %q", updated.Status)
	}

	if len(rec.updates) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(rec.updates))
	}
	u := rec.updates[0]
	if u.TicketID != tk.ID || u.Fields["estado"] != model.StatusClosed {
		t.Fatalf("unexpected broadcast: %+v", u)
	}
	if _, ok := u.Fields["titulo"]; ok {
		t.Fatalf("unchanged fields should not be broadcast: %+v", u.Fields)
	}

	notes := rec.notified["c1"]
	if len(notes) != 1 || notes[0].Title != "Ticket actualizado" || notes[0].TicketID != tk.ID {
		t.Fatalf("unexpected owner notifications: %+v", notes)
	}
	stored, _ := st.ListNotifications(ctx, "c1")
	if len(stored) != 1 || stored[0].ID != notes[0].ID {
		t.Fatalf("expected pushed notification to be stored, got %+v", stored)
	}
}

func TestTicketService_UpdateWithoutChangesIsQuiet(t *testing.T) {
	svc, _, rec := newTestTicketService(t)
	ctx := context.Background()
	tk, _ := svc.Create(ctx, client, CreateTicketInput{Title: "x"})

	open := model.StatusOpen
	if _, err := svc.Update(ctx, agent, tk.ID, UpdateTicketInput{Status: &open}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(rec.updates) != 0 || len(rec.notified["c1"]) != 0 {
		t.Fatalf("expected no events for a no-op update")
	}
}

func TestTicketService_UpdateRules(t *testing.T) {
	svc, _, rec := newTestTicketService(t)
	ctx := context.Background()
	tk, _ := svc.Create(ctx, client, CreateTicketInput{Title: "x"})

	status := model.StatusResolved
	if _, err := svc.Update(ctx, client, tk.ID, UpdateTicketInput{Status: &status}); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected clients forbidden, got %v", err)
	}
	bogus := model.TicketStatus("archivado")
	if _, err := svc.Update(ctx, agent, tk.ID, UpdateTicketInput{Status: &bogus}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Update(ctx, agent, "missing", UpdateTicketInput{Status: &status}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	assignee := "a2"
	if _, err := svc.Update(ctx, agent, tk.ID, UpdateTicketInput{AssigneeID: &assignee}); err != nil {
		t.Fatalf("Update(assign): %v", err)
	}
	if notes := rec.notified["a2"]; len(notes) != 1 || notes[0].Type != NotificationTypeAssign {
		t.Fatalf("expected assignee notified, got %+v", notes)
	}
}

func TestTicketService_DeleteAdminOnly(t *testing.T) {
	svc, _, _ := newTestTicketService(t)
	ctx := context.Background()
	tk, _ := svc.Create(ctx, client, CreateTicketInput{Title: "x"})

	if err := svc.Delete(ctx, agent, tk.ID); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected agent forbidden, got %v", err)
	}
	if err := svc.Delete(ctx, admin, tk.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, admin, tk.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTicketService_Comments(t *testing.T) {
	svc, _, rec := newTestTicketService(t)
	ctx := context.Background()
	tk, _ := svc.Create(ctx, client, CreateTicketInput{Title: "x"})

	if _, err := svc.AddComment(ctx, client, tk.ID, AddCommentInput{Message: "nota", Internal: true}); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected clients unable to write internal comments, got %v", err)
	}
	if _, err := svc.AddComment(ctx, client2, tk.ID, AddCommentInput{Message: "hola"}); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("expected other client forbidden, got %v", err)
	}
	if _, err := svc.AddComment(ctx, client, tk.ID, AddCommentInput{Message: "  "}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank message, got %v", err)
	}

	if _, err := svc.AddComment(ctx, client, tk.ID, AddCommentInput{Message: "sigue fallando"}); err != nil {
		t.Fatalf("AddComment(client): %v", err)
	}
	if _, err := svc.AddComment(ctx, agent, tk.ID, AddCommentInput{Message: "revisar driver", Internal: true}); err != nil {
		t.Fatalf("AddComment(internal): %v", err)
	}
	if _, err := svc.AddComment(ctx, agent, tk.ID, AddCommentInput{Message: "reinstale el driver"}); err != nil {
		t.Fatalf("AddComment(agent): %v", err)
	}

	if len(rec.comments) != 3 {
		t.Fatalf("expected three comment broadcasts, got %d", len(rec.comments))
	}
	if notes := rec.notified["c1"]; len(notes) != 1 || notes[0].Type != NotificationTypeComment {
		t.Fatalf("expected owner notified only for the public staff comment, got %+v", notes)
	}

	clientView, _ := svc.ListComments(ctx, client, tk.ID)
	if len(clientView) != 2 {
		t.Fatalf("expected internal comment hidden from client, got %d", len(clientView))
	}
	staffView, _ := svc.ListComments(ctx, agent, tk.ID)
	if len(staffView) != 3 {
		t.Fatalf("expected staff to see all comments, got %d", len(staffView))
	}
}

func TestNotificationService_ListAndMarkRead(t *testing.T) {
	st := store.New()
	rec := newRecordingNotifier()
	svc := NewNotificationService(st, rec, zerolog.Nop())
	ctx := context.Background()

	svc.Send(ctx, "c1", "Hola", "mensaje", NotificationTypeTicket, "")

	list, err := svc.List(ctx, client)
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %+v %v", list, err)
	}
	if _, err := svc.MarkRead(ctx, client2, list[0].ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
	n, err := svc.MarkRead(ctx, client, list[0].ID)
	if err != nil || !n.Read {
		t.Fatalf("MarkRead: %+v %v", n, err)
	}
	if len(rec.notified["c1"]) != 1 {
		t.Fatalf("expected one push, got %d", len(rec.notified["c1"]))
	}
}

func TestTicketAudience(t *testing.T) {
	st := store.New()
	ctx := context.Background()
	tk, _ := st.CreateTicket(ctx, model.Ticket{Title: "x", ClientID: "c1"})

	visible := NewTicketAudience(st, zerolog.Nop()).Resolve(tk.ID)
	cases := []struct {
		rc   hub.Recipient
		want bool
	}{
		{hub.Recipient{PrincipalID: "c1", Role: model.RoleClient}, true},
		{hub.Recipient{PrincipalID: "c2", Role: model.RoleClient}, false},
		{hub.Recipient{PrincipalID: "a1", Role: model.RoleAgent}, true},
		{hub.Recipient{PrincipalID: "", Role: model.RoleAdmin}, false},
	}
	for _, tc := range cases {
		if got := visible(tc.rc); got != tc.want {
			t.Fatalf("visible(%+v) = %v, want %v", tc.rc, got, tc.want)
		}
	}

	missing := NewTicketAudience(st, zerolog.Nop()).Resolve("nope")
	if missing(hub.Recipient{PrincipalID: "c1", Role: model.RoleClient}) {
		t.Fatalf("expected unknown ticket hidden from clients")
	}
	if !missing(hub.Recipient{PrincipalID: "a1", Role: model.RoleAgent}) {
		t.Fatalf("expected unknown ticket visible to staff")
	}
}
