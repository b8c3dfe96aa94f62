package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/message"
)

func TestStore_AppendAndListSQLite(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "history.db"))
	defer s.Close()
	ctx := context.Background()

	u, err := s.Append(ctx, "c1", message.RoleUser, "hi")
	require.NoError(t, err)
	a, err := s.Append(ctx, "c1", message.RoleAssistant, "hello")
	require.NoError(t, err)
	_, err = s.Append(ctx, "c2", message.RoleUser, "elsewhere")
	require.NoError(t, err)

	require.Greater(t, a.ID, u.ID)
	require.False(t, u.CreatedAt.IsZero())

	list, err := s.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, u.ID, list[0].ID)
	require.Equal(t, message.RoleUser, list[0].Role)
	require.Equal(t, "hello", list[1].Content)
	require.WithinDuration(t, a.CreatedAt, list[1].CreatedAt, time.Second)
}

func TestStore_ListEmptyConversation(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "history.db"))
	defer s.Close()
	list, err := s.List(context.Background(), "none")
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}

func TestStore_InMemoryFallback(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing", "dir", "history.db"))
	ctx := context.Background()

	first, err := s.Append(ctx, "c1", message.RoleUser, "hi")
	require.NoError(t, err)
	second, err := s.Append(ctx, "c1", message.RoleAssistant, "hello")
	require.NoError(t, err)
	require.Equal(t, first.ID+1, second.ID)

	list, err := s.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestWithCache_NilClientPassesThrough(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "history.db"))
	defer s.Close()
	require.Same(t, Repository(s), WithCache(s, nil, time.Minute))
	require.Nil(t, NewRedis(config.RedisConfig{}))
}
