package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/model"
)

func TestDecodeSet(t *testing.T) {
	t.Run("Empty and null blobs", func(t *testing.T) {
		for _, blob := range []string{"", "  \n", "null", "{}"} {
			res, err := decodeSet([]byte(blob))
			require.NoError(t, err, blob)
			assert.Empty(t, res.set, blob)
			assert.Empty(t, res.unreadable, blob)
			assert.Zero(t, res.migrated, blob)
		}
	})

	t.Run("Non-object blob is corruption", func(t *testing.T) {
		for _, blob := range []string{`[1,2]`, `"text"`, `{"chat_1":`} {
			res, err := decodeSet([]byte(blob))
			assert.ErrorIs(t, err, app_errors.ErrStorageCorruption, blob)
			assert.NotNil(t, res.set)
			assert.Empty(t, res.set)
		}
	})

	t.Run("Counts migrated entries", func(t *testing.T) {
		blob := `{"a":[],"b":[{"role":"user","parts":[{"text":"x"}]}],"c":{"messages":null,"isPinned":true}}`
		res, err := decodeSet([]byte(blob))
		require.NoError(t, err)
		assert.Equal(t, 2, res.migrated)
		set := res.set
		require.Len(t, set, 3)
		assert.NotNil(t, set["a"].Messages)
		assert.NotNil(t, set["c"].Messages)
		assert.True(t, set["c"].IsPinned)
	})

	t.Run("Keeps image content type", func(t *testing.T) {
		blob := `{"a":{"messages":[{"role":"model","parts":[{"text":"aGk=","type":"image"}]}],"isPinned":false}}`
		res, err := decodeSet([]byte(blob))
		require.NoError(t, err)
		assert.Equal(t, model.ContentImage, res.set["a"].Messages[0].ContentType())
	})

	t.Run("Unreadable entries are kept verbatim", func(t *testing.T) {
		blob := `{"a":"oops","b":{"messages":[],"isPinned":false},"c":{"messages":"nope"}}`
		res, err := decodeSet([]byte(blob))
		require.NoError(t, err)
		assert.Len(t, res.set, 1)
		require.Len(t, res.unreadable, 2)
		assert.JSONEq(t, `"oops"`, string(res.unreadable["a"]))
		assert.JSONEq(t, `{"messages":"nope"}`, string(res.unreadable["c"]))
	})
}

func TestEncodeSet_NeverWritesNullMessages(t *testing.T) {
	data, err := encodeSet(model.ConversationSet{"a": {IsPinned: true}}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"messages":[],"isPinned":true}}`, string(data))
}

func TestEncodeSet_WritesUnreadableEntriesBack(t *testing.T) {
	data, err := encodeSet(
		model.ConversationSet{"a": {Messages: []model.Message{}}},
		map[string]json.RawMessage{"b": json.RawMessage(`{"messages":"nope"}`)},
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"messages":[],"isPinned":false},"b":{"messages":"nope"}}`, string(data))
}
