package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"ticketflow/internal/model"
	"ticketflow/internal/service"
)

const maxPageSize = 100

type TicketHandler struct {
	Tickets *service.TicketService
	Logger  zerolog.Logger
}

type createTicketBody struct {
	Title       string `json:"titulo" binding:"required,max=200"`
	Description string `json:"descripcion"`
	Priority    string `json:"prioridad"`
	Category    string `json:"categoria"`
	ClientID    string `json:"cliente_id"`
}

type updateTicketBody struct {
	Title       *string `json:"titulo" binding:"omitempty,max=200"`
	Description *string `json:"descripcion"`
	Status      *string `json:"estado"`
	Priority    *string `json:"prioridad"`
	Category    *string `json:"categoria"`
	AssigneeID  *string `json:"asignado_id"`
}

type statusBody struct {
	Status string `json:"estado" binding:"required"`
}

type assignBody struct {
	// Empty unassigns.
	UserID string `json:"usuarioId"`
}

type commentBody struct {
	Message string `json:"mensaje"`
	// Content is accepted as an alias of mensaje.
	Content  string `json:"contenido"`
	Internal bool   `json:"es_interno"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var body createTicketBody
	if !bindJSON(c, &body) {
		return
	}

	in := service.CreateTicketInput{
		Title:       body.Title,
		Description: body.Description,
		Category:    body.Category,
		ClientID:    body.ClientID,
	}
	if body.Priority != "" {
		p, ok := parsePriority(body.Priority)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "prioridad must be one of: Alta Media Baja"})
			return
		}
		in.Priority = p
	}

	t, err := h.Tickets.Create(c.Request.Context(), actor, in)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// List accepts estado, prioridad, categoria, asignadoA, createdBy and
// searchTerm filters plus optional page/limit paging. The unpaged total is
// returned in X-Total-Count.
func (h *TicketHandler) List(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	filter := model.TicketFilter{
		Category:   strings.TrimSpace(c.Query("categoria")),
		AssigneeID: strings.TrimSpace(c.Query("asignadoA")),
		ClientID:   strings.TrimSpace(c.Query("createdBy")),
		Search:     strings.TrimSpace(c.Query("searchTerm")),
	}
	if v := c.Query("estado"); v != "" {
		s, ok := parseStatus(v)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid estado"})
			return
		}
		filter.Status = s
	}
	if v := c.Query("prioridad"); v != "" {
		p, ok := parsePriority(v)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid prioridad"})
			return
		}
		filter.Priority = p
	}

	page, limit, ok := pageParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page or limit"})
		return
	}

	tickets, err := h.Tickets.List(c.Request.Context(), actor, filter)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}

	c.Header("X-Total-Count", strconv.Itoa(len(tickets)))
	if limit > 0 {
		start, end := pageBounds(len(tickets), page, limit)
		tickets = tickets[start:end]
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	c.JSON(http.StatusOK, tickets)
}

func (h *TicketHandler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	t, err := h.Tickets.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) Update(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var body updateTicketBody
	if !bindJSON(c, &body) {
		return
	}

	in := service.UpdateTicketInput{
		Title:       body.Title,
		Description: body.Description,
		Category:    body.Category,
		AssigneeID:  body.AssigneeID,
	}
	if body.Status != nil {
		s, ok := parseStatus(*body.Status)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid estado"})
			return
		}
		in.Status = &s
	}
	if body.Priority != nil {
		p, ok := parsePriority(*body.Priority)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid prioridad"})
			return
		}
		in.Priority = &p
	}

	h.update(c, actor, in)
}

func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var body statusBody
	if !bindJSON(c, &body) {
		return
	}
	s, ok := parseStatus(body.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid estado"})
		return
	}
	h.update(c, actor, service.UpdateTicketInput{Status: &s})
}

func (h *TicketHandler) Assign(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var body assignBody
	if !bindJSON(c, &body) {
		return
	}
	assignee := strings.TrimSpace(body.UserID)
	h.update(c, actor, service.UpdateTicketInput{AssigneeID: &assignee})
}

func (h *TicketHandler) update(c *gin.Context, actor service.Actor, in service.UpdateTicketInput) {
	t, err := h.Tickets.Update(c.Request.Context(), actor, c.Param("id"), in)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) Delete(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if err := h.Tickets.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *TicketHandler) ListComments(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	comments, err := h.Tickets.ListComments(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	c.JSON(http.StatusOK, comments)
}

func (h *TicketHandler) AddComment(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var body commentBody
	if !bindJSON(c, &body) {
		return
	}
	msg := body.Message
	if strings.TrimSpace(msg) == "" {
		msg = body.Content
	}

	comment, err := h.Tickets.AddComment(c.Request.Context(), actor, c.Param("id"), service.AddCommentInput{
		Message:  msg,
		Internal: body.Internal,
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// parseStatus accepts the stored values plus the "en_proceso" spelling.
func parseStatus(s string) (model.TicketStatus, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "en_proceso" {
		v = string(model.StatusInProgress)
	}
	st := model.TicketStatus(v)
	return st, st.Valid()
}

// parsePriority is case-insensitive: "alta" and "ALTA" both mean Alta.
func parsePriority(s string) (model.TicketPriority, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", false
	}
	p := model.TicketPriority(strings.ToUpper(v[:1]) + v[1:])
	return p, p.Valid()
}

// pageBounds returns the slice bounds of a 1-based page, clamped to total.
// Pages past the end are rejected before multiplying, so any page is safe.
func pageBounds(total, page, limit int) (start, end int) {
	if page-1 >= (total+limit-1)/limit {
		return total, total
	}
	start = (page - 1) * limit
	end = start + min(limit, total-start)
	return start, end
}

func pageParams(c *gin.Context) (page, limit int, ok bool) {
	page = 1
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}
	return page, limit, true
}
