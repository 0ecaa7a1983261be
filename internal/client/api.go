package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ticketflow/internal/model"
)

// ErrUnauthorized marks a 401 from the API.
var ErrUnauthorized = errors.New("unauthorized")

type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// APIClient speaks the REST half of the server.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPIClient(baseURL string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &APIClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient}
}

type loginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func (a *APIClient) Login(ctx context.Context, email, password string) (string, model.User, error) {
	var resp loginResponse
	body := map[string]string{"email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", "", body, &resp); err != nil {
		return "", model.User{}, err
	}
	if resp.Token == "" {
		return "", model.User{}, errors.New("login response carried no token")
	}
	return resp.Token, resp.User, nil
}

func (a *APIClient) Me(ctx context.Context, token string) (model.User, error) {
	var user model.User
	err := a.do(ctx, http.MethodGet, "/api/auth/me", token, nil, &user)
	return user, err
}

func (a *APIClient) ListTickets(ctx context.Context, token string) ([]model.Ticket, error) {
	var tickets []model.Ticket
	err := a.do(ctx, http.MethodGet, "/api/tickets", token, nil, &tickets)
	return tickets, err
}

func (a *APIClient) ListComments(ctx context.Context, token, ticketID string) ([]model.Comment, error) {
	var comments []model.Comment
	err := a.do(ctx, http.MethodGet, "/api/tickets/"+ticketID+"/comentarios", token, nil, &comments)
	return comments, err
}

func (a *APIClient) ListNotifications(ctx context.Context, token string) ([]model.Notification, error) {
	var list []model.Notification
	err := a.do(ctx, http.MethodGet, "/api/notificaciones", token, nil, &list)
	return list, err
}

func (a *APIClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
