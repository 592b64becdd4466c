package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/model"
	"github.com/AlphaNoXD/pai/internal/store"
)

// Relay is the client's view of the relay endpoint.
type Relay interface {
	Chat(ctx context.Context, history []model.Content) (string, error)
	Image(ctx context.Context, prompt string) (string, error)
}

// ChatService drives a client session: it owns the conversation flow around
// the store (selection hand-off, sending, pinning) and talks to the relay.
type ChatService struct {
	store *store.Store
	relay Relay
}

func NewChatService(st *store.Store, relay Relay) *ChatService {
	return &ChatService{store: st, relay: relay}
}

// Start loads persisted history and selects the first conversation in listing
// order. It returns the active id, or "" when the history is empty; nothing
// is written until a conversation is actually needed.
func (s *ChatService) Start(ctx context.Context) (string, error) {
	if _, err := s.store.Load(ctx); err != nil {
		return "", err
	}
	entries := s.store.List()
	if len(entries) == 0 {
		return "", nil
	}
	if _, err := s.store.Select(entries[0].ID); err != nil {
		return "", err
	}
	return entries[0].ID, nil
}

// ListChats returns the conversation listing, pinned first then newest first.
func (s *ChatService) ListChats() []model.ConversationEntry {
	return s.store.List()
}

// ActiveChat returns the id of the displayed conversation.
func (s *ChatService) ActiveChat() (string, bool) {
	return s.store.Active()
}

// NewChat creates an empty conversation and makes it active.
func (s *ChatService) NewChat(ctx context.Context) (string, error) {
	return s.store.Create(ctx)
}

// OpenChat makes chatID active and returns its messages.
func (s *ChatService) OpenChat(chatID string) ([]model.Message, error) {
	return s.store.Select(chatID)
}

// TogglePin flips the pin of chatID and returns the new state.
func (s *ChatService) TogglePin(ctx context.Context, chatID string) (bool, error) {
	return s.store.TogglePin(ctx, chatID)
}

// DeleteChat removes chatID. When it was the active conversation another one
// is selected (first in listing order) or a new one is created. The returned
// id is the active conversation afterwards.
func (s *ChatService) DeleteChat(ctx context.Context, chatID string) (string, error) {
	wasActive, err := s.store.Delete(ctx, chatID)
	if err != nil {
		return "", err
	}
	if !wasActive {
		active, _ := s.store.Active()
		return active, nil
	}
	return s.selectFirstOrCreate(ctx)
}

func (s *ChatService) selectFirstOrCreate(ctx context.Context) (string, error) {
	if entries := s.store.List(); len(entries) > 0 {
		id := entries[0].ID
		if _, err := s.store.Select(id); err != nil {
			return "", err
		}
		return id, nil
	}
	return s.store.Create(ctx)
}

// SendMessage appends text as a user message to the active conversation,
// relays the history and appends the model's reply. The user message stays in
// the history when the relay call fails.
func (s *ChatService) SendMessage(ctx context.Context, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, app_errors.New(app_errors.ErrValidation, "message cannot be empty")
	}

	chatID, release, err := s.begin(ctx)
	if err != nil {
		return model.Message{}, err
	}
	defer release()

	if err := s.store.AppendMessage(ctx, chatID, model.NewTextMessage(model.RoleUser, text)); err != nil {
		return model.Message{}, err
	}
	conv, err := s.store.Get(chatID)
	if err != nil {
		return model.Message{}, err
	}

	reply, err := s.relay.Chat(ctx, model.HistoryFromMessages(conv.Messages))
	if err != nil {
		slog.Warn("Chat request failed", "chat_id", chatID, "error", err)
		return model.Message{}, err
	}

	msg := model.NewTextMessage(model.RoleModel, reply)
	if err := s.store.AppendMessage(ctx, chatID, msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// GenerateImage records prompt as a user message in the active conversation,
// asks the relay for an image and appends it as an image message.
func (s *ChatService) GenerateImage(ctx context.Context, prompt string) (model.Message, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return model.Message{}, app_errors.New(app_errors.ErrValidation, "image prompt cannot be empty")
	}

	chatID, release, err := s.begin(ctx)
	if err != nil {
		return model.Message{}, err
	}
	defer release()

	if err := s.store.AppendMessage(ctx, chatID, model.NewTextMessage(model.RoleUser, prompt)); err != nil {
		return model.Message{}, err
	}

	image, err := s.relay.Image(ctx, prompt)
	if err != nil {
		slog.Warn("Image request failed", "chat_id", chatID, "error", err)
		return model.Message{}, err
	}

	msg := model.NewImageMessage(model.RoleModel, image)
	if err := s.store.AppendMessage(ctx, chatID, msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

// begin resolves the active conversation, creating one if needed, and takes
// its in-flight guard.
func (s *ChatService) begin(ctx context.Context) (string, func(), error) {
	chatID, ok := s.store.Active()
	if !ok {
		var err error
		if chatID, err = s.store.Create(ctx); err != nil {
			return "", nil, err
		}
	}
	release, err := s.store.BeginRequest(chatID)
	if err != nil {
		return "", nil, fmt.Errorf("cannot send to %s: %w", chatID, err)
	}
	return chatID, release, nil
}
