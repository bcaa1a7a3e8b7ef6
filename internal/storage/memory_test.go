package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasukuchiba/message_board/internal/models"
)

func TestMemoryStorage_Save(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	err := store.Save(ctx, models.Message{ID: 0, Author: "alice", Text: "Hello"})
	require.NoError(t, err)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, uint64(0), snap.Messages[0].ID)
	assert.Equal(t, uint64(1), snap.NextID)
}

func TestMemoryStorage_Load(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	// 空の状態
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, uint64(0), snap.NextID)

	// メッセージ追加後
	require.NoError(t, store.Save(ctx, models.Message{ID: 0, Author: "alice", Text: "Hello"}))
	require.NoError(t, store.Save(ctx, models.Message{ID: 1, Author: "bob", Text: "Hi"}))

	snap, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.Identity("alice"), snap.Messages[0].Author)
	assert.Equal(t, models.Identity("bob"), snap.Messages[1].Author)
}

func TestMemoryStorage_Delete(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, models.Message{ID: 0, Author: "alice", Text: "Hello"}))
	require.NoError(t, store.Save(ctx, models.Message{ID: 1, Author: "alice", Text: "World"}))

	// 削除
	require.NoError(t, store.Delete(ctx, 0))

	// 削除してもカウンタは戻らない
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, uint64(1), snap.Messages[0].ID)
	assert.Equal(t, uint64(2), snap.NextID)

	// 存在しないIDの削除
	assert.ErrorIs(t, store.Delete(ctx, 0), ErrNotFound)
}

func TestMemoryStorage_LoadReturnsCopy(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, models.Message{ID: 0, Author: "alice", Text: "Hello"}))

	snap, _ := store.Load(ctx)
	snap.Messages[0].Text = "Modified"

	original, _ := store.Load(ctx)
	assert.Equal(t, "Hello", original.Messages[0].Text, "Load should return a copy, not original data")
}

// TestMemoryStorage_ImplementsStorage はMemoryStorageがStorageインターフェースを実装していることを確認する
func TestMemoryStorage_ImplementsStorage(t *testing.T) {
	var _ Storage = (*MemoryStorage)(nil)
}
