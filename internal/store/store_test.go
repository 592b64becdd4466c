package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/model"
	"github.com/AlphaNoXD/pai/internal/repository"
)

// failingRepository lets reads through and fails every write.
type failingRepository struct {
	*repository.MemoryRepository
	err error
}

func (r *failingRepository) Put(context.Context, string, []byte) error { return r.err }

// fixedClock returns the same instant on every call.
func fixedClock(millis int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(millis) }
}

func newTestStore(t *testing.T, seed string) (*Store, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	if seed != "" {
		require.NoError(t, repo.Put(context.Background(), DefaultKey, []byte(seed)))
	}
	s := New(repo)
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	return s, repo
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("Absent state yields an empty set", func(t *testing.T) {
		s := New(repository.NewMemoryRepository())
		set, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, set)
	})

	t.Run("Unparsable state yields an empty set", func(t *testing.T) {
		s, _ := newTestStore(t, `{not json`)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("Legacy arrays are migrated", func(t *testing.T) {
		seed := `{
			"chat_1": [{"role":"user","parts":[{"text":"hi"}]},{"role":"model","parts":[{"text":"hello"}]}],
			"chat_2": {"messages":[{"role":"user","parts":[{"text":"pinned","type":"chat"}]}],"isPinned":true}
		}`
		s, _ := newTestStore(t, seed)

		legacy, err := s.Get("chat_1")
		require.NoError(t, err)
		assert.False(t, legacy.IsPinned)
		require.Len(t, legacy.Messages, 2)
		assert.Equal(t, model.ContentChat, legacy.Messages[0].Parts[0].Type)
		assert.Equal(t, "hello", legacy.Messages[1].Content())

		current, err := s.Get("chat_2")
		require.NoError(t, err)
		assert.True(t, current.IsPinned)
	})

	t.Run("Unreadable entries are skipped", func(t *testing.T) {
		s, _ := newTestStore(t, `{"chat_1": "oops", "chat_2": {"messages":[],"isPinned":false}}`)
		assert.Equal(t, 1, s.Len())
		_, err := s.Get("chat_2")
		assert.NoError(t, err)
		_, err = s.Get("chat_1")
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
	})

	t.Run("Unreadable entries survive later saves", func(t *testing.T) {
		s, repo := newTestStore(t, `{"chat_1": "oops", "chat_2": {"messages":[],"isPinned":false}}`)
		_, err := s.TogglePin(ctx, "chat_2")
		require.NoError(t, err)
		_, err = s.Delete(ctx, "chat_2")
		require.NoError(t, err)

		blob, err := repo.Get(ctx, DefaultKey)
		require.NoError(t, err)
		assert.JSONEq(t, `{"chat_1":"oops"}`, string(blob))
	})

	t.Run("New ids avoid unreadable entries", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		require.NoError(t, repo.Put(ctx, DefaultKey, []byte(`{"chat_1000": 42}`)))
		s := New(repo, WithClock(fixedClock(1000)))
		_, err := s.Load(ctx)
		require.NoError(t, err)

		id, err := s.Create(ctx)
		require.NoError(t, err)
		assert.Equal(t, "chat_1001", id)
	})

	t.Run("Repository failure is returned", func(t *testing.T) {
		s := New(&erroringReadRepository{err: errors.New("disk gone")})
		_, err := s.Load(ctx)
		assert.ErrorContains(t, err, "disk gone")
	})
}

type erroringReadRepository struct{ err error }

func (r *erroringReadRepository) Get(context.Context, string) ([]byte, error) { return nil, r.err }
func (r *erroringReadRepository) Put(context.Context, string, []byte) error   { return nil }

func TestStore_MigrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t, `{"chat_1":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	first, err := s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))
	blobAfterFirstSave, err := repo.Get(ctx, DefaultKey)
	require.NoError(t, err)

	second, err := s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))
	blobAfterSecondSave, err := repo.Get(ctx, DefaultKey)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.JSONEq(t, string(blobAfterFirstSave), string(blobAfterSecondSave))

	var onDisk map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(blobAfterSecondSave, &onDisk))
	assert.JSONEq(t, `[{"role":"user","parts":[{"text":"hi","type":"chat"}]}]`, string(onDisk["chat_1"]["messages"]))
	assert.JSONEq(t, `false`, string(onDisk["chat_1"]["isPinned"]))
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	s := New(repo, WithClock(fixedClock(1700000000000)))

	id, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chat_1700000000000", id)

	active, ok := s.Active()
	assert.True(t, ok)
	assert.Equal(t, id, active)

	// Same millisecond: the id is bumped instead of overwriting.
	second, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "chat_1700000000001", second)
	assert.Equal(t, 2, s.Len())

	reloaded := New(repo)
	set, err := reloaded.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, set, id)
	assert.Empty(t, set[id].Messages)
	assert.NotNil(t, set[id].Messages)
	assert.False(t, set[id].IsPinned)
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t, "")
	id, err := s.Create(ctx)
	require.NoError(t, err)

	m1 := model.NewTextMessage(model.RoleUser, "m1")
	m2 := model.NewTextMessage(model.RoleModel, "m2")
	m3 := model.NewImageMessage(model.RoleModel, "aGVsbG8=")
	for _, m := range []model.Message{m1, m2, m3} {
		require.NoError(t, s.AppendMessage(ctx, id, m))
	}

	messages, err := s.Select(id)
	require.NoError(t, err)
	assert.Equal(t, []model.Message{m1, m2, m3}, messages)

	reloaded := New(repo)
	set, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Message{m1, m2, m3}, set[id].Messages)
}

func TestStore_AppendMessage_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "")
	id, err := s.Create(ctx)
	require.NoError(t, err)

	cases := map[string]model.Message{
		"empty text":   model.NewTextMessage(model.RoleUser, ""),
		"blank text":   model.NewTextMessage(model.RoleUser, "   "),
		"no parts":     {Role: model.RoleUser},
		"unknown role": model.NewTextMessage("assistant", "hi"),
		"unknown type": {Role: model.RoleUser, Parts: []model.Part{{Text: "hi", Type: "video"}}},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			err := s.AppendMessage(ctx, id, msg)
			assert.ErrorIs(t, err, app_errors.ErrValidation)
		})
	}

	conv, err := s.Get(id)
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "")

	_, err := s.Select("chat_missing")
	assert.ErrorIs(t, err, app_errors.ErrNotFound)

	err = s.AppendMessage(ctx, "chat_missing", model.NewTextMessage(model.RoleUser, "hi"))
	assert.ErrorIs(t, err, app_errors.ErrNotFound)

	_, err = s.TogglePin(ctx, "chat_missing")
	assert.ErrorIs(t, err, app_errors.ErrNotFound)

	_, err = s.Delete(ctx, "chat_missing")
	assert.ErrorIs(t, err, app_errors.ErrNotFound)

	_, err = s.BeginRequest("chat_missing")
	assert.ErrorIs(t, err, app_errors.ErrNotFound)
}

func TestStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	seed := `{
		"chat_100": {"messages":[],"isPinned":false},
		"chat_300": {"messages":[],"isPinned":true},
		"chat_200": {"messages":[],"isPinned":false},
		"chat_050": {"messages":[],"isPinned":true},
		"chat_400": {"messages":[],"isPinned":false}
	}`
	s, _ := newTestStore(t, seed)

	ids := func() []string {
		var out []string
		for _, e := range s.List() {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, []string{"chat_300", "chat_050", "chat_400", "chat_200", "chat_100"}, ids())

	pinned, err := s.TogglePin(ctx, "chat_100")
	require.NoError(t, err)
	assert.True(t, pinned)
	assert.Equal(t, []string{"chat_300", "chat_100", "chat_050", "chat_400", "chat_200"}, ids())

	pinned, err = s.TogglePin(ctx, "chat_300")
	require.NoError(t, err)
	assert.False(t, pinned)
	assert.Equal(t, []string{"chat_100", "chat_050", "chat_400", "chat_300", "chat_200"}, ids())

	// Every pinned entry precedes every unpinned one.
	seenUnpinned := false
	for _, e := range s.List() {
		if !e.Conversation.IsPinned {
			seenUnpinned = true
		} else {
			assert.False(t, seenUnpinned, "pinned %s listed after an unpinned conversation", e.ID)
		}
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t, `{"chat_1":{"messages":[],"isPinned":false},"chat_2":{"messages":[],"isPinned":false}}`)

	_, err := s.Select("chat_2")
	require.NoError(t, err)

	wasActive, err := s.Delete(ctx, "chat_1")
	require.NoError(t, err)
	assert.False(t, wasActive)
	active, _ := s.Active()
	assert.Equal(t, "chat_2", active)

	wasActive, err = s.Delete(ctx, "chat_2")
	require.NoError(t, err)
	assert.True(t, wasActive)
	_, ok := s.Active()
	assert.False(t, ok)

	reloaded := New(repo)
	set, err := reloaded.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestStore_RollsBackWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	writeErr := errors.New("quota exceeded")
	repo := &failingRepository{MemoryRepository: repository.NewMemoryRepository(), err: writeErr}
	require.NoError(t, repo.MemoryRepository.Put(ctx, DefaultKey, []byte(`{"chat_1":{"messages":[],"isPinned":false}}`)))

	s := New(repo)
	_, err := s.Load(ctx)
	require.NoError(t, err)
	_, err = s.Select("chat_1")
	require.NoError(t, err)

	_, err = s.Create(ctx)
	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 1, s.Len())
	active, _ := s.Active()
	assert.Equal(t, "chat_1", active)

	err = s.AppendMessage(ctx, "chat_1", model.NewTextMessage(model.RoleUser, "hi"))
	assert.ErrorIs(t, err, writeErr)

	_, err = s.TogglePin(ctx, "chat_1")
	assert.ErrorIs(t, err, writeErr)

	_, err = s.Delete(ctx, "chat_1")
	assert.ErrorIs(t, err, writeErr)

	conv, err := s.Get("chat_1")
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
	assert.False(t, conv.IsPinned)
	active, _ = s.Active()
	assert.Equal(t, "chat_1", active)
}

func TestStore_BeginRequest(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "")
	id, err := s.Create(ctx)
	require.NoError(t, err)

	release, err := s.BeginRequest(id)
	require.NoError(t, err)

	_, err = s.BeginRequest(id)
	assert.ErrorIs(t, err, app_errors.ErrConflict)

	release()
	release()

	again, err := s.BeginRequest(id)
	require.NoError(t, err)
	again()
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, "")
	id, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, id, model.NewTextMessage(model.RoleUser, "original")))

	messages, err := s.Select(id)
	require.NoError(t, err)
	messages[0].Parts[0].Text = "mutated"

	conv, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "original", conv.Messages[0].Content())
}
