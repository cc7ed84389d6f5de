package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPostgresStore_ChannelLifecycle(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()

	server, err := s.GetServer(ctx, ids.DefaultServerID)
	require.NoError(t, err)
	require.NotNil(t, server)

	ch := createTestChannel(t, s, "u1")
	t.Cleanup(func() { _ = s.DeleteChannel(context.Background(), ch.ID) })

	_, err = s.CreateChannel(ctx, &models.Channel{MessageServerID: uuid.New(), Name: "orphan"}, nil)
	require.ErrorIs(t, err, ErrServerNotFound)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateMessage(ctx, &models.Message{ChannelID: ch.ID, AuthorID: "u1", Content: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := s.GetMessagesForChannel(ctx, ch.ID, 5, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	cursor := msgs[len(msgs)-1].CreatedAt
	older, err := s.GetMessagesForChannel(ctx, ch.ID, 50, &cursor)
	require.NoError(t, err)
	for _, m := range older {
		assert.True(t, m.CreatedAt.Before(cursor))
	}

	require.NoError(t, s.DeleteChannel(ctx, ch.ID))
	got, err := s.GetChannelDetails(ctx, ch.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPostgresStore_DMChannel_Concurrent(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()
	a := "pg-" + uuid.NewString()
	b := "pg-" + uuid.NewString()

	var wg sync.WaitGroup
	results := make([]uuid.UUID, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a, b
			if i%2 == 1 {
				x, y = y, x
			}
			ch, err := s.FindOrCreateCentralDmChannel(ctx, x, y, ids.DefaultServerID)
			if assert.NoError(t, err) {
				results[i] = ch.ID
			}
		}(i)
	}
	wg.Wait()
	t.Cleanup(func() { _ = s.DeleteChannel(context.Background(), results[0]) })

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
}

func TestRedisStore_Hit(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	identity := uuid.NewString()
	for i := int64(0); i < 3; i++ {
		count, _, err := s.Hit(ctx, "test", identity, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	require.NoError(t, s.Block(ctx, identity, time.Minute, "test"))
	assert.True(t, s.IsBlocked(ctx, identity))
	require.NoError(t, s.Unblock(ctx, identity))
	assert.False(t, s.IsBlocked(ctx, identity))
}
