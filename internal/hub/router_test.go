package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"ticketflow/internal/model"
)

func TestRouter_NotifyUserDeliversOnlyToBoundSocket(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	h1 := newFakeHandle("s1")
	h2 := newFakeHandle("s2")
	r.Connect(h1, model.RoleClient)
	r.Connect(h2, model.RoleClient)
	r.Identify("u1", h1)
	r.Identify("u2", h2)

	r.NotifyUser("u1", Notification{Title: "Nuevo ticket", Message: "TK-1", Type: "info", CreatedAt: time.Now()})

	if got := h1.received(); len(got) != 1 || got[0].event != EventNotification {
		t.Fatalf("expected one notification on s1, got %+v", got)
	}
	if got := h2.received(); len(got) != 0 {
		t.Fatalf("expected nothing on s2, got %+v", got)
	}
}

func TestRouter_NotifyUnboundIsSilent(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	h := newFakeHandle("s1")
	r.Connect(h, model.RoleClient)

	r.NotifyUser("nobody", Notification{Title: "x"})

	if got := h.received(); len(got) != 0 {
		t.Fatalf("expected no emission, got %+v", got)
	}
}

func TestRouter_NotifyAfterDisconnectIsDropped(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	h := newFakeHandle("s1")
	r.Connect(h, model.RoleAgent)
	r.Identify("u1", h)

	r.NotifyUser("u1", Notification{Title: "first"})
	r.Disconnect(h)
	r.NotifyUser("u1", Notification{Title: "second"})

	got := h.received()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(got))
	}
	if n := got[0].payload.(Notification); n.Title != "first" {
		t.Fatalf("unexpected payload %+v", n)
	}
	if r.Connected() != 0 || r.Identified() != 0 {
		t.Fatalf("expected empty router, got %d/%d", r.Connected(), r.Identified())
	}
}

func TestRouter_BroadcastReachesEveryConnectedSocket(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	handles := []*fakeHandle{newFakeHandle("s1"), newFakeHandle("s2"), newFakeHandle("s3")}
	for _, h := range handles {
		r.Connect(h, "")
	}
	// Identification is not required for broadcasts.
	r.Identify("u1", handles[0])

	r.BroadcastTicketUpdate("TK-1", map[string]any{"estado": "cerrado"})

	for _, h := range handles {
		got := h.received()
		if len(got) != 1 || got[0].event != EventTicketUpdate {
			t.Fatalf("%s: expected one ticketUpdate, got %+v", h.id, got)
		}
		data, err := json.Marshal(got[0].payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var wire map[string]any
		if err := json.Unmarshal(data, &wire); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wire["ticketId"] != "TK-1" || wire["estado"] != "cerrado" {
			t.Fatalf("%s: unexpected wire payload %s", h.id, data)
		}
	}
}

type ownerAudience struct {
	owners map[string]string
}

func (a ownerAudience) Resolve(ticketID string) Visibility {
	owner := a.owners[ticketID]
	return func(rc Recipient) bool {
		return rc.Role.Staff() || (rc.PrincipalID != "" && rc.PrincipalID == owner)
	}
}

func TestRouter_BroadcastHonorsAudience(t *testing.T) {
	r := NewRouter(zerolog.Nop(), ownerAudience{owners: map[string]string{"TK-1": "c1"}})
	owner := newFakeHandle("owner")
	other := newFakeHandle("other")
	agent := newFakeHandle("agent")
	anon := newFakeHandle("anon")
	r.Connect(owner, model.RoleClient)
	r.Connect(other, model.RoleClient)
	r.Connect(agent, model.RoleAgent)
	r.Connect(anon, "")
	r.Identify("c1", owner)
	r.Identify("c2", other)
	r.Identify("a1", agent)

	r.BroadcastTicketUpdate("TK-1", map[string]any{"estado": "en_progreso"})

	if len(owner.received()) != 1 || len(agent.received()) != 1 {
		t.Fatalf("expected owner and agent to receive the update")
	}
	if len(other.received()) != 0 || len(anon.received()) != 0 {
		t.Fatalf("expected other client and anonymous socket to receive nothing")
	}
}

func TestRouter_InternalCommentsReachStaffOnly(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	client := newFakeHandle("client")
	agent := newFakeHandle("agent")
	admin := newFakeHandle("admin")
	r.Connect(client, model.RoleClient)
	r.Connect(agent, model.RoleAgent)
	r.Connect(admin, model.RoleAdmin)

	r.BroadcastNewComment("TK-2", model.Comment{ID: "c1", TicketID: "TK-2", Message: "nota", Internal: true})
	r.BroadcastNewComment("TK-2", model.Comment{ID: "c2", TicketID: "TK-2", Message: "hola"})

	if got := client.received(); len(got) != 1 || got[0].payload.(NewComment).Comment.ID != "c2" {
		t.Fatalf("expected client to get only the public comment, got %+v", got)
	}
	if len(agent.received()) != 2 || len(admin.received()) != 2 {
		t.Fatalf("expected staff to get both comments")
	}
}

func TestRouter_FailedEmitClosesAndDisconnects(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	bad := newFakeHandle("bad")
	bad.failing = true
	good := newFakeHandle("good")
	r.Connect(bad, model.RoleClient)
	r.Connect(good, model.RoleClient)
	r.Identify("u1", bad)

	r.BroadcastTicketUpdate("TK-3", map[string]any{"prioridad": "Alta"})

	if !bad.closed {
		t.Fatalf("expected failing handle closed")
	}
	if _, ok := r.Resolve("u1"); ok {
		t.Fatalf("expected failing handle unbound")
	}
	if len(good.received()) != 1 {
		t.Fatalf("expected healthy socket to still receive the broadcast")
	}
	if r.Connected() != 1 {
		t.Fatalf("expected one connected socket, got %d", r.Connected())
	}
}

func TestRouter_DisconnectTwiceIsSafe(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	h := newFakeHandle("s1")
	r.Connect(h, model.RoleClient)
	r.Identify("u1", h)

	r.Disconnect(h)
	r.Disconnect(h)

	if r.Connected() != 0 {
		t.Fatalf("expected no connected sockets, got %d", r.Connected())
	}
}

func TestTicketUpdate_WireRoundTrip(t *testing.T) {
	in := TicketUpdate{TicketID: "TK-9", Fields: map[string]any{"estado": "resuelto"}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out TicketUpdate
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TicketID != "TK-9" || out.Fields["estado"] != "resuelto" {
		t.Fatalf("unexpected round trip: %+v", out)
	}
	if _, ok := out.Fields["ticketId"]; ok {
		t.Fatalf("ticketId should not leak into fields")
	}
}

func TestRouter_CloseAll(t *testing.T) {
	r := NewRouter(zerolog.Nop(), nil)
	h1 := newFakeHandle("s1")
	h2 := newFakeHandle("s2")
	r.Connect(h1, model.RoleClient)
	r.Connect(h2, model.RoleAdmin)
	r.Identify("u1", h1)

	r.CloseAll()

	h1.mu.Lock()
	c1 := h1.closed
	h1.mu.Unlock()
	h2.mu.Lock()
	c2 := h2.closed
	h2.mu.Unlock()
	if !c1 || !c2 {
		t.Fatalf("expected both sockets closed")
	}
	if r.Connected() != 0 || r.Identified() != 0 {
		t.Fatalf("expected empty router, got %d/%d", r.Connected(), r.Identified())
	}
}
