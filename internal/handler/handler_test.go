package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"ticketflow/internal/auth"
	"ticketflow/internal/hub"
	"ticketflow/internal/middleware"
	"ticketflow/internal/model"
	"ticketflow/internal/service"
	"ticketflow/internal/store"
)

var testTokenConfig = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

type fixture struct {
	engine *gin.Engine
	auth   *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.New()
	log := zerolog.Nop()
	authSvc := auth.NewService(auth.ServiceDeps{
		Users:       st,
		Hasher:      auth.BcryptHasher{Cost: bcrypt.MinCost},
		TokenConfig: testTokenConfig,
		Logger:      log,
	})
	router := hub.NewRouter(log, nil)
	notifications := service.NewNotificationService(st, router, log)
	tickets := service.NewTicketService(service.TicketDeps{
		Tickets:       st,
		Notifier:      router,
		Notifications: notifications,
		Logger:        log,
	})

	ah := &AuthHandler{Auth: authSvc, Logger: log}
	uh := &UserHandler{Auth: authSvc, Logger: log}
	th := &TicketHandler{Tickets: tickets, Logger: log}
	nh := &NotificationHandler{Notifications: notifications, Logger: log}

	r := gin.New()
	r.POST("/auth/register", ah.Register)
	r.POST("/auth/login", ah.Login)

	p := r.Group("/", middleware.RequireAuth(testTokenConfig))
	p.GET("/auth/me", ah.Me)
	p.POST("/usuarios", middleware.RequireRoles(model.RoleAdmin), uh.Create)
	p.PATCH("/usuarios/:id", middleware.RequireRoles(model.RoleAdmin), uh.Update)
	p.PATCH("/usuarios/:id/desactivar", middleware.RequireRoles(model.RoleAdmin), uh.Deactivate)
	p.GET("/tickets", th.List)
	p.POST("/tickets", th.Create)
	p.GET("/tickets/:id", th.Get)
	p.PATCH("/tickets/:id", th.Update)
	p.PATCH("/tickets/:id/estado", th.UpdateStatus)
	p.POST("/tickets/:id/comentarios", th.AddComment)
	p.GET("/tickets/:id/comentarios", th.ListComments)
	p.GET("/notificaciones", nh.List)

	return &fixture{engine: r, auth: authSvc}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

// user creates an account with the given role and returns it with a token.
func (f *fixture) user(t *testing.T, email string, role model.Role) (model.User, string) {
	t.Helper()
	u, err := f.auth.CreateUser(context.Background(), auth.CreateUserInput{
		Name: email, Email: email, Password: "secret123", Role: role,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	tok, err := f.auth.IssueToken(u)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return u, tok
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func TestRegisterLoginMe(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"nombre": "Ana", "email": "Ana@Example.com", "password": "secret123", "rol": "administrador",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	reg := decode[map[string]any](t, w)
	if reg["rol"] != "cliente" || reg["email"] != "ana@example.com" {
		t.Fatalf("unexpected registered user: %v", reg)
	}
	if _, leaked := reg["password"]; leaked {
		t.Fatalf("password leaked: %v", reg)
	}

	w = f.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"nombre": "Ana", "email": "ana@example.com", "password": "secret123",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "ana@example.com", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	wrongPass := w.Body.String()
	w = f.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "nobody@example.com", "password": "wrong"})
	if w.Code != http.StatusUnauthorized || w.Body.String() != wrongPass {
		t.Fatalf("expected identical 401 bodies, got %d %q vs %q", w.Code, w.Body.String(), wrongPass)
	}

	w = f.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "ana@example.com", "password": "secret123"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	login := decode[struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}](t, w)
	if login.Token == "" || login.User.ID == "" {
		t.Fatalf("unexpected login response: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/auth/me", login.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if me := decode[model.User](t, w); me.ID != login.User.ID {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestRegister_ValidationMessage(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/auth/register", "", map[string]any{"email": "not-an-email", "password": "1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decode[map[string]string](t, w)
	want := "nombre is required; email must be a valid email; password must be at least 6 characters"
	if body["error"] != want {
		t.Fatalf("unexpected message %q", body["error"])
	}
}

func TestMe_DeactivatedUserRejected(t *testing.T) {
	f := newFixture(t)
	_, adminTok := f.user(t, "admin@x.com", model.RoleAdmin)
	client, clientTok := f.user(t, "client@x.com", model.RoleClient)

	if w := f.do(t, http.MethodPatch, "/usuarios/"+client.ID+"/desactivar", clientTok, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPatch, "/usuarios/"+client.ID+"/desactivar", adminTok, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/auth/me", clientTok, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after deactivation, got %d", w.Code)
	}
}

func TestUsers_AdminCreateAndUpdate(t *testing.T) {
	f := newFixture(t)
	_, adminTok := f.user(t, "admin@x.com", model.RoleAdmin)

	w := f.do(t, http.MethodPost, "/usuarios", adminTok, map[string]any{
		"nombre": "Agente", "email": "agent@x.com", "password": "secret123", "rol": "agente",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	agent := decode[model.User](t, w)
	if agent.Role != model.RoleAgent {
		t.Fatalf("expected agente role, got %q", agent.Role)
	}

	w = f.do(t, http.MethodPost, "/usuarios", adminTok, map[string]any{
		"nombre": "X", "email": "x@x.com", "password": "secret123", "rol": "root",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}

	w = f.do(t, http.MethodPatch, "/usuarios/"+agent.ID, adminTok, map[string]any{"nombre": "Renamed"})
	if w.Code != http.StatusOK || decode[model.User](t, w).Name != "Renamed" {
		t.Fatalf("unexpected update: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPatch, "/usuarios/missing", adminTok, map[string]any{"nombre": "Y"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTickets_Flow(t *testing.T) {
	f := newFixture(t)
	owner, ownerTok := f.user(t, "owner@x.com", model.RoleClient)
	_, otherTok := f.user(t, "other@x.com", model.RoleClient)
	_, agentTok := f.user(t, "agent@x.com", model.RoleAgent)

	w := f.do(t, http.MethodPost, "/tickets", ownerTok, map[string]any{
		"titulo": "No funciona", "descripcion": "La impresora", "prioridad": "alta", "categoria": "hardware",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	tk := decode[model.Ticket](t, w)
	if tk.Number != "TK-1" || tk.Priority != model.PriorityHigh || tk.Status != model.StatusOpen || tk.ClientID != owner.ID {
		t.Fatalf("unexpected ticket: %+v", tk)
	}

	if w := f.do(t, http.MethodGet, "/tickets/"+tk.ID, otherTok, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other client, got %d", w.Code)
	}
	w = f.do(t, http.MethodGet, "/tickets", otherTok, nil)
	if list := decode[[]model.Ticket](t, w); len(list) != 0 {
		t.Fatalf("other client should see no tickets, got %d", len(list))
	}

	if w := f.do(t, http.MethodPatch, "/tickets/"+tk.ID+"/estado", ownerTok, map[string]any{"estado": "cerrado"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for client status change, got %d", w.Code)
	}
	w = f.do(t, http.MethodPatch, "/tickets/"+tk.ID+"/estado", agentTok, map[string]any{"estado": "en_proceso"})
	if w.Code != http.StatusOK || decode[model.Ticket](t, w).Status != model.StatusInProgress {
		t.Fatalf("unexpected status change: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPatch, "/tickets/"+tk.ID, agentTok, map[string]any{"prioridad": "urgente"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad priority, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/notificaciones", ownerTok, nil)
	notes := decode[[]model.Notification](t, w)
	if len(notes) != 1 || notes[0].Title != "Ticket actualizado" || notes[0].TicketID != tk.ID {
		t.Fatalf("expected one update notification, got %+v", notes)
	}

	w = f.do(t, http.MethodPost, "/tickets/"+tk.ID+"/comentarios", agentTok, map[string]any{"mensaje": "nota", "es_interno": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = f.do(t, http.MethodPost, "/tickets/"+tk.ID+"/comentarios", ownerTok, map[string]any{"contenido": "gracias"})
	if w.Code != http.StatusCreated || decode[model.Comment](t, w).Message != "gracias" {
		t.Fatalf("unexpected comment response: %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/tickets/"+tk.ID+"/comentarios", ownerTok, map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty comment, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/tickets/"+tk.ID+"/comentarios", ownerTok, nil)
	if list := decode[[]model.Comment](t, w); len(list) != 1 || list[0].Internal {
		t.Fatalf("client should only see the public comment, got %+v", list)
	}
	w = f.do(t, http.MethodGet, "/tickets/"+tk.ID+"/comentarios", agentTok, nil)
	if list := decode[[]model.Comment](t, w); len(list) != 2 {
		t.Fatalf("staff should see both comments, got %d", len(list))
	}
}

func TestTickets_ListFiltersAndPaging(t *testing.T) {
	f := newFixture(t)
	_, agentTok := f.user(t, "agent@x.com", model.RoleAgent)
	for i := 1; i <= 5; i++ {
		prio := "baja"
		if i%2 == 0 {
			prio = "alta"
		}
		w := f.do(t, http.MethodPost, "/tickets", agentTok, map[string]any{"titulo": fmt.Sprintf("ticket %d", i), "prioridad": prio})
		if w.Code != http.StatusCreated {
			t.Fatalf("create: %d %s", w.Code, w.Body.String())
		}
	}

	w := f.do(t, http.MethodGet, "/tickets?prioridad=ALTA", agentTok, nil)
	if list := decode[[]model.Ticket](t, w); len(list) != 2 {
		t.Fatalf("expected 2 high-priority tickets, got %d", len(list))
	}

	w = f.do(t, http.MethodGet, "/tickets?page=2&limit=2", agentTok, nil)
	if w.Header().Get("X-Total-Count") != "5" {
		t.Fatalf("expected total 5, got %q", w.Header().Get("X-Total-Count"))
	}
	list := decode[[]model.Ticket](t, w)
	if len(list) != 2 || list[0].Number != "TK-3" {
		t.Fatalf("unexpected page: %+v", list)
	}

	w = f.do(t, http.MethodGet, "/tickets?page=9&limit=2", agentTok, nil)
	if list := decode[[]model.Ticket](t, w); len(list) != 0 {
		t.Fatalf("expected empty page, got %d", len(list))
	}

	w = f.do(t, http.MethodGet, "/tickets?page=4611686018427387904&limit=100", agentTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("huge page: expected 200, got %d", w.Code)
	}
	if list := decode[[]model.Ticket](t, w); len(list) != 0 {
		t.Fatalf("huge page: expected empty page, got %d", len(list))
	}

	for _, q := range []string{"estado=raro", "prioridad=x", "page=0", "limit=-1"} {
		if w := f.do(t, http.MethodGet, "/tickets?"+q, agentTok, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestPageBounds(t *testing.T) {
	cases := []struct {
		total, page, limit int
		start, end         int
	}{
		{5, 1, 2, 0, 2},
		{5, 3, 2, 4, 5},
		{5, 4, 2, 5, 5},
		{0, 1, 10, 0, 0},
		{5, int(^uint(0) >> 1), 100, 5, 5},
	}
	for _, tc := range cases {
		start, end := pageBounds(tc.total, tc.page, tc.limit)
		if start != tc.start || end != tc.end {
			t.Fatalf("pageBounds(%d, %d, %d) = %d, %d; want %d, %d", tc.total, tc.page, tc.limit, start, end, tc.start, tc.end)
		}
	}
}

func TestComments_EmptyListIsArray(t *testing.T) {
	f := newFixture(t)
	_, agentTok := f.user(t, "agent@x.com", model.RoleAgent)
	w := f.do(t, http.MethodPost, "/tickets", agentTok, map[string]any{"titulo": "sin comentarios"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	tk := decode[model.Ticket](t, w)

	w = f.do(t, http.MethodGet, "/tickets/"+tk.ID+"/comentarios", agentTok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Fatalf("expected [], got %s", body)
	}
}

func TestResolveError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{model.ErrInvalidCredentials, http.StatusUnauthorized},
		{model.ErrInvalidToken, http.StatusUnauthorized},
		{model.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("ticket %q: %w", "x", model.ErrNotFound), http.StatusNotFound},
		{model.ErrDuplicateEmail, http.StatusConflict},
		{fmt.Errorf("titulo is required: %w", model.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if code, _ := resolveError(tc.err); code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, code)
		}
	}

	if _, msg := resolveError(fmt.Errorf("titulo is required: %w", model.ErrInvalidInput)); msg != "titulo is required" {
		t.Fatalf("unexpected message %q", msg)
	}
	if _, msg := resolveError(fmt.Errorf("boom: secret detail")); msg != "Internal server error" {
		t.Fatalf("internal detail leaked: %q", msg)
	}
}

func TestParsePriorityAndStatus(t *testing.T) {
	if p, ok := parsePriority("media"); !ok || p != model.PriorityMedium {
		t.Fatalf("unexpected %q %v", p, ok)
	}
	if _, ok := parsePriority(""); ok {
		t.Fatalf("empty priority should be invalid")
	}
	if s, ok := parseStatus("EN_PROCESO"); !ok || s != model.StatusInProgress {
		t.Fatalf("unexpected %q %v", s, ok)
	}
	if _, ok := parseStatus("borrado"); ok {
		t.Fatalf("unknown status should be invalid")
	}
}
