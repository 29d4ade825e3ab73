package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitl/service/dao"
)

type note struct {
	ID     string `json:"id"`
	Folder string `json:"folder"`
	Text   string `json:"text"`
}

func noteKey(n *note) string {
	if n.Folder == "" {
		return n.ID
	}
	return n.Folder + "/" + n.ID
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store, err := New[note](ctx, t.TempDir(), noteKey, WithFilter[note](func(n *note, params []*dao.Parameter) bool {
		p, ok := dao.Lookup("Text", params)
		return !ok || p.Value == n.Text
	}))
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, &note{ID: "1", Text: "hello"}))
	require.NoError(t, store.Save(ctx, &note{ID: "2", Folder: "cp1", Text: "world"}))
	require.NoError(t, store.Save(ctx, &note{ID: "3", Folder: "cp1", Text: "hello"}))

	loaded, err := store.Load(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "hello", loaded.Text)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hello, err := store.List(ctx, &dao.Parameter{Name: "Text", Value: "hello"})
	require.NoError(t, err)
	assert.Len(t, hello, 2)

	folder, err := store.ListPrefix(ctx, "cp1")
	require.NoError(t, err)
	assert.Len(t, folder, 2)

	empty, err := store.ListPrefix(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, &note{ID: ".."}), dao.ErrInvalidID)
	assert.ErrorIs(t, store.Save(ctx, nil), dao.ErrNilEntity)

	require.NoError(t, store.Delete(ctx, "1"))
	assert.ErrorIs(t, store.Delete(ctx, "1"), dao.ErrNotFound)
}
