// Package store keeps the client's conversation history: an in-memory
// conversation set mirrored to a single blob in a repository.
//
// Every mutation updates the set and then rewrites the whole blob. When the
// write fails the in-memory change is rolled back, so memory and storage never
// drift apart.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/model"
	"github.com/AlphaNoXD/pai/internal/repository"
	"github.com/AlphaNoXD/pai/internal/validation"
)

// DefaultKey is the storage key the history blob is kept under.
const DefaultKey = "aiChatHistory"

const idPrefix = "chat_"

// Store owns the conversation set, the active selection and the in-flight
// request guard.
type Store struct {
	mu       sync.Mutex
	repo     repository.Repository
	key      string
	now      func() time.Time
	set      model.ConversationSet
	aside    map[string]json.RawMessage // unreadable entries, written back as is
	active   string
	inflight map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClock overrides the time source used to generate conversation ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store backed by repo. Call Load to read persisted state.
func New(repo repository.Repository, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		key:      DefaultKey,
		now:      time.Now,
		set:      model.ConversationSet{},
		aside:    map[string]json.RawMessage{},
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory set with the persisted one, migrating legacy
// entries. Missing or unparsable state yields an empty set; only repository
// failures are returned as errors. The returned set is a copy.
func (s *Store) Load(ctx context.Context) (model.ConversationSet, error) {
	data, err := s.repo.Get(ctx, s.key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("could not read conversation history: %w", err)
	}

	res, err := decodeSet(data)
	if err != nil {
		slog.Warn("Conversation history is unreadable, starting with an empty set", "key", s.key, "error", err)
	}
	if res.migrated > 0 {
		slog.Info("Migrated conversations from the legacy format", "count", res.migrated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = res.set
	s.aside = res.unreadable
	if _, ok := s.set[s.active]; !ok {
		s.active = ""
	}
	return s.set.Clone(), nil
}

// Save rewrites the persisted blob from the in-memory set.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	data, err := encodeSet(s.set, s.aside)
	if err != nil {
		return fmt.Errorf("could not encode conversation history: %w", err)
	}
	if err := s.repo.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("could not save conversation history: %w", err)
	}
	return nil
}

// Create inserts an empty, unpinned conversation, makes it active and
// persists. It returns the new id.
func (s *Store) Create(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID()
	prevActive := s.active
	s.set[id] = &model.Conversation{Messages: []model.Message{}}
	s.active = id

	if err := s.persist(ctx); err != nil {
		delete(s.set, id)
		s.active = prevActive
		return "", err
	}
	slog.Debug("Created conversation", "chat_id", id)
	return id, nil
}

// nextID derives an id from the current time in milliseconds. Ids created
// within the same millisecond are bumped forward so they stay unique and keep
// sorting by creation order.
func (s *Store) nextID() string {
	millis := s.now().UnixMilli()
	for {
		id := idPrefix + strconv.FormatInt(millis, 10)
		_, taken := s.set[id]
		_, takenAside := s.aside[id]
		if !taken && !takenAside {
			return id
		}
		millis++
	}
}

// Select makes id the active conversation and returns a copy of its messages.
func (s *Store) Select(id string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	s.active = id
	return conv.Clone().Messages, nil
}

// Get returns a copy of the conversation without changing the selection.
func (s *Store) Get(id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// AppendMessage appends msg to the conversation and persists.
func (s *Store) AppendMessage(ctx context.Context, id string, msg model.Message) error {
	if err := validation.Struct(msg); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Content()) == "" {
		return app_errors.New(app_errors.ErrValidation, "message content cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(id)
	if err != nil {
		return err
	}
	stored := model.Message{Role: msg.Role, Parts: slices.Clone(msg.Parts)}
	for i := range stored.Parts {
		if stored.Parts[i].Type == "" {
			stored.Parts[i].Type = model.ContentChat
		}
	}
	conv.Messages = append(conv.Messages, stored)

	if err := s.persist(ctx); err != nil {
		conv.Messages = conv.Messages[:len(conv.Messages)-1]
		return err
	}
	return nil
}

// TogglePin flips the pin flag, persists and returns the new state.
func (s *Store) TogglePin(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	conv.IsPinned = !conv.IsPinned

	if err := s.persist(ctx); err != nil {
		conv.IsPinned = !conv.IsPinned
		return false, err
	}
	return conv.IsPinned, nil
}

// Delete removes the conversation and persists. It reports whether the
// deleted conversation was the active one; in that case the selection is
// cleared and the caller must select or create another conversation.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	wasActive := s.active == id
	delete(s.set, id)
	if wasActive {
		s.active = ""
	}

	if err := s.persist(ctx); err != nil {
		s.set[id] = conv
		if wasActive {
			s.active = id
		}
		return false, err
	}
	slog.Debug("Deleted conversation", "chat_id", id, "was_active", wasActive)
	return wasActive, nil
}

// List returns all conversations, pinned first, each group ordered by id
// descending (most recently created first).
func (s *Store) List() []model.ConversationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]model.ConversationEntry, 0, len(s.set))
	for id, conv := range s.set {
		entries = append(entries, model.ConversationEntry{ID: id, Conversation: conv.Clone()})
	}
	slices.SortFunc(entries, func(a, b model.ConversationEntry) int {
		if a.Conversation.IsPinned != b.Conversation.IsPinned {
			if a.Conversation.IsPinned {
				return -1
			}
			return 1
		}
		return strings.Compare(b.ID, a.ID)
	})
	return entries
}

// Active returns the id of the active conversation, if any.
func (s *Store) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}

// BeginRequest marks a relay request as in flight for the conversation.
// It fails with ErrConflict while another request on the same conversation
// has not been released. The returned release func is safe to call twice.
func (s *Store) BeginRequest(id string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	if _, busy := s.inflight[id]; busy {
		return nil, app_errors.New(app_errors.ErrConflict, fmt.Sprintf("a request for conversation %s is already in progress", id))
	}
	s.inflight[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inflight, id)
			s.mu.Unlock()
		})
	}, nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(id string) (*model.Conversation, error) {
	conv, ok := s.set[id]
	if !ok {
		return nil, app_errors.New(app_errors.ErrNotFound, fmt.Sprintf("conversation %s not found", id))
	}
	return conv, nil
}
