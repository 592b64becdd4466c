package model

import (
	"slices"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ContentType tells how the text of a part is interpreted.
type ContentType string

const (
	ContentChat  ContentType = "chat"
	ContentImage ContentType = "image" // text holds base64-encoded image bytes
)

// DefaultTitle is shown for conversations without a user message yet.
const DefaultTitle = "New Chat"

// Part is one piece of message content.
type Part struct {
	Text string      `json:"text" validate:"required"`
	Type ContentType `json:"type" validate:"omitempty,oneof=chat image"`
}

// Message stores a single message in a conversation.
type Message struct {
	Role  Role   `json:"role" validate:"required,oneof=user model"`
	Parts []Part `json:"parts" validate:"required,min=1,dive"`
}

// NewTextMessage builds a chat message with a single text part.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text, Type: ContentChat}}}
}

// NewImageMessage builds a message whose single part is a base64 image payload.
func NewImageMessage(role Role, base64Image string) Message {
	return Message{Role: role, Parts: []Part{{Text: base64Image, Type: ContentImage}}}
}

// Content returns the text of the first part.
func (m Message) Content() string {
	if len(m.Parts) == 0 {
		return ""
	}
	return m.Parts[0].Text
}

// ContentType returns the type of the first part. Messages written before
// image support existed carry no type and are treated as chat.
func (m Message) ContentType() ContentType {
	if len(m.Parts) == 0 || m.Parts[0].Type == "" {
		return ContentChat
	}
	return m.Parts[0].Type
}

// Conversation is a pinnable, ordered sequence of messages persisted as a unit.
type Conversation struct {
	Messages []Message `json:"messages"`
	IsPinned bool      `json:"isPinned"`
}

// Title returns the text of the first user message, or DefaultTitle.
func (c *Conversation) Title() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && msg.ContentType() == ContentChat {
			if text := strings.TrimSpace(msg.Content()); text != "" {
				return text
			}
		}
	}
	return DefaultTitle
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{IsPinned: c.IsPinned, Messages: make([]Message, len(c.Messages))}
	for i, msg := range c.Messages {
		out.Messages[i] = Message{Role: msg.Role, Parts: slices.Clone(msg.Parts)}
	}
	return out
}

// ConversationSet maps conversation ids to conversations.
type ConversationSet map[string]*Conversation

// Clone returns a deep copy of the set.
func (s ConversationSet) Clone() ConversationSet {
	out := make(ConversationSet, len(s))
	for id, conv := range s {
		out[id] = conv.Clone()
	}
	return out
}

// ConversationEntry is one row of a conversation listing.
type ConversationEntry struct {
	ID           string
	Conversation *Conversation
}
