package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/model"
)

// The persisted blob maps conversation ids to conversations. Two shapes exist
// for a single entry:
//
//	current: {"messages": [...], "isPinned": false}
//	legacy:  [...]   (a bare message array written before pinning existed)
//
// Each entry is decoded against the current schema first and against the
// legacy schema only when that fails.

// record is the current on-disk shape of a conversation.
type record struct {
	Messages []model.Message `json:"messages"`
	IsPinned bool            `json:"isPinned"`
}

// decoded is the result of reading a persisted blob.
type decoded struct {
	set model.ConversationSet
	// unreadable holds entries matching neither shape, verbatim. They are kept
	// out of the set and written back unchanged on every save.
	unreadable map[string]json.RawMessage
	migrated   int
}

// decodeSet parses a persisted blob. A blob that is not a JSON object at all
// yields ErrStorageCorruption and an empty result.
func decodeSet(data []byte) (decoded, error) {
	out := decoded{set: model.ConversationSet{}, unreadable: map[string]json.RawMessage{}}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return out, fmt.Errorf("%w: %v", app_errors.ErrStorageCorruption, err)
	}

	for id, raw := range entries {
		conv, legacy, err := decodeConversation(raw)
		if err != nil {
			slog.Warn("Keeping unreadable conversation aside", "chat_id", id, "error", err)
			out.unreadable[id] = raw
			continue
		}
		if legacy {
			out.migrated++
		}
		out.set[id] = conv
	}
	return out, nil
}

func decodeConversation(raw json.RawMessage) (*model.Conversation, bool, error) {
	var rec record
	recErr := json.Unmarshal(raw, &rec)
	if recErr == nil {
		return newConversation(rec.Messages, rec.IsPinned), false, nil
	}

	var legacy []model.Message
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, false, fmt.Errorf("neither record (%v) nor legacy array (%v)", recErr, err)
	}
	return newConversation(legacy, false), true, nil
}

// newConversation normalizes decoded messages: the sequence is never nil and
// parts written before content types existed are marked as chat.
func newConversation(messages []model.Message, pinned bool) *model.Conversation {
	if messages == nil {
		messages = []model.Message{}
	}
	for i := range messages {
		for j := range messages[i].Parts {
			if messages[i].Parts[j].Type == "" {
				messages[i].Parts[j].Type = model.ContentChat
			}
		}
	}
	return &model.Conversation{Messages: messages, IsPinned: pinned}
}

// encodeSet serializes the whole set in the current shape, together with the
// unreadable entries exactly as they were read.
func encodeSet(set model.ConversationSet, unreadable map[string]json.RawMessage) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(set)+len(unreadable))
	for id, raw := range unreadable {
		out[id] = raw
	}
	for id, conv := range set {
		messages := conv.Messages
		if messages == nil {
			messages = []model.Message{}
		}
		raw, err := json.Marshal(record{Messages: messages, IsPinned: conv.IsPinned})
		if err != nil {
			return nil, err
		}
		out[id] = raw
	}
	return json.Marshal(out)
}
