package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/comigor/jarvis-chat/internal/message"
)

func newCached(t *testing.T, next Repository) (Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return WithCache(next, rdb, time.Hour), mr
}

// heldList pauses the first List after it has read from the wrapped
// repository, until release is closed.
type heldList struct {
	Repository
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (h *heldList) List(ctx context.Context, conversationID string) ([]message.Record, error) {
	recs, err := h.Repository.List(ctx, conversationID)
	h.once.Do(func() {
		close(h.read)
		<-h.release
	})
	return recs, err
}

func TestCached_ListFillsAndAppendInvalidates(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "history.db"))
	defer s.Close()
	repo, mr := newCached(t, s)
	ctx := context.Background()

	_, err := repo.Append(ctx, "c1", message.RoleUser, "hi")
	require.NoError(t, err)

	list, err := repo.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.True(t, mr.Exists(cacheKey("c1")))

	cached, err := repo.List(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, list[0].ID, cached[0].ID)
	require.Equal(t, "hi", cached[0].Content)

	_, err = repo.Append(ctx, "c1", message.RoleAssistant, "hello")
	require.NoError(t, err)
	require.False(t, mr.Exists(cacheKey("c1")))

	list, err = repo.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestCached_ListRacingAppendDoesNotCacheStaleList(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "history.db"))
	defer s.Close()
	held := &heldList{Repository: s, read: make(chan struct{}), release: make(chan struct{})}
	repo, mr := newCached(t, held)
	ctx := context.Background()

	_, err := repo.Append(ctx, "c1", message.RoleUser, "first")
	require.NoError(t, err)

	type result struct {
		recs []message.Record
		err  error
	}
	done := make(chan result, 1)
	go func() {
		recs, err := repo.List(ctx, "c1")
		done <- result{recs, err}
	}()

	<-held.read
	_, err = repo.Append(ctx, "c1", message.RoleUser, "second")
	require.NoError(t, err)
	close(held.release)

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.recs, 1, "the racing List returns what it read")
	require.False(t, mr.Exists(cacheKey("c1")), "what it read must not be cached")

	list, err := repo.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "second", list[1].Content)
}
