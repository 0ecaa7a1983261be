// Package store is the in-memory record store. With a state file
// configured it snapshots every mutation to disk and reloads on start.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"ticketflow/internal/model"
)

const stateVersion = 1

type Store struct {
	mu sync.RWMutex

	stateFile string
	persistMu sync.Mutex
	log       zerolog.Logger

	usersByID    map[string]model.User
	userIDByMail map[string]string

	ticketsByID map[string]model.Ticket
	ticketSeq   int64

	commentsByTicket map[string][]model.Comment

	notificationsByUser map[string][]model.Notification
}

type Options struct {
	// StateFile enables JSON snapshot persistence when non-empty.
	StateFile string
	Logger    zerolog.Logger
}

func New() *Store {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Store {
	s := &Store{
		stateFile:           opts.StateFile,
		log:                 opts.Logger.With().Str("component", "store").Logger(),
		usersByID:           make(map[string]model.User),
		userIDByMail:        make(map[string]string),
		ticketsByID:         make(map[string]model.Ticket),
		commentsByTicket:    make(map[string][]model.Comment),
		notificationsByUser: make(map[string][]model.Notification),
	}

	if s.stateFile != "" {
		if err := s.loadFromFile(s.stateFile); err != nil {
			s.log.Error().Err(err).Str("path", s.stateFile).Msg("state load failed")
		}
	}

	return s
}

type persistedState struct {
	Version       int                  `json:"version"`
	Users         []persistedUser      `json:"users"`
	Tickets       []model.Ticket       `json:"tickets"`
	TicketSeq     int64                `json:"ticketSeq"`
	Comments      []model.Comment      `json:"comments"`
	Notifications []model.Notification `json:"notifications"`
	SavedAt       int64                `json:"savedAt"`
}

// persistedUser keeps the password hash, which model.User hides from JSON.
type persistedUser struct {
	model.User
	PasswordHash string `json:"passwordHash"`
}

func (s *Store) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedState
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != stateVersion {
		return fmt.Errorf("unsupported state version %d", file.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pu := range file.Users {
		if pu.ID == "" || pu.Email == "" {
			continue
		}
		u := pu.User
		u.PasswordHash = pu.PasswordHash
		s.usersByID[u.ID] = u
		s.userIDByMail[u.Email] = u.ID
	}
	for _, t := range file.Tickets {
		if t.ID == "" {
			continue
		}
		s.ticketsByID[t.ID] = t
	}
	s.ticketSeq = file.TicketSeq
	for _, c := range file.Comments {
		s.commentsByTicket[c.TicketID] = append(s.commentsByTicket[c.TicketID], c)
	}
	for _, n := range file.Notifications {
		s.notificationsByUser[n.UserID] = append(s.notificationsByUser[n.UserID], n)
	}
	return nil
}

func (s *Store) snapshotLocked() persistedState {
	st := persistedState{Version: stateVersion, TicketSeq: s.ticketSeq}
	for _, u := range s.usersByID {
		st.Users = append(st.Users, persistedUser{User: u, PasswordHash: u.PasswordHash})
	}
	sort.Slice(st.Users, func(i, j int) bool { return st.Users[i].ID < st.Users[j].ID })
	for _, t := range s.ticketsByID {
		st.Tickets = append(st.Tickets, t)
	}
	sort.Slice(st.Tickets, func(i, j int) bool { return st.Tickets[i].ID < st.Tickets[j].ID })
	for _, cs := range s.commentsByTicket {
		st.Comments = append(st.Comments, cs...)
	}
	for _, ns := range s.notificationsByUser {
		st.Notifications = append(st.Notifications, ns...)
	}
	return st
}

// persistLocked must be called with s.mu held; the write itself happens
// after the caller releases it.
func (s *Store) persistLocked() func() {
	if s.stateFile == "" {
		return func() {}
	}
	st := s.snapshotLocked()
	return func() { s.writeSnapshot(st) }
}

func (s *Store) writeSnapshot(st persistedState) {
	path := s.stateFile

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.log.Error().Err(err).Str("dir", dir).Msg("state persistence: mkdir failed")
		return
	}

	st.SavedAt = time.Now().UnixMilli()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.log.Error().Err(err).Msg("state persistence: marshal failed")
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		s.log.Error().Err(err).Msg("state persistence: create temp failed")
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		s.log.Error().Err(err).Msg("state persistence: chmod temp failed")
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		s.log.Error().Err(err).Msg("state persistence: write temp failed")
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		s.log.Error().Err(err).Msg("state persistence: sync temp failed")
		return
	}
	if err := tmp.Close(); err != nil {
		s.log.Error().Err(err).Msg("state persistence: close temp failed")
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		s.log.Error().Err(err).Msg("state persistence: rename failed")
		return
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, model.ErrNotFound)
}

var errMissingID = errors.New("missing id")
