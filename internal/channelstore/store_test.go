package channelstore

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger/chansync/internal/model"
)

func directChannel(id string, participants ...string) model.Channel {
	return model.Channel{ID: id, Type: model.ChannelTypeFor(len(participants)), Participants: participants}
}

func TestStore_AddChannelIncrementsBucketTotal(t *testing.T) {
	s := New()
	key := model.PaginationKey{Filter: model.FilterDirect}
	s.SetPaginationMeta(key, model.PaginationMeta{Page: 1, PerPage: 10, Total: 7})

	require.True(t, s.AddChannel(directChannel("c1", "a", "b")))
	meta, ok := s.Pagination(key)
	require.True(t, ok)
	assert.Equal(t, 8, meta.Total)

	// повторное добавление известного канала total не меняет
	require.False(t, s.AddChannel(directChannel("c1", "a", "b")))
	meta, _ = s.Pagination(key)
	assert.Equal(t, 8, meta.Total)
}

func TestStore_RemoveChannelDecrementsBucketTotal(t *testing.T) {
	s := New()
	folderKey := model.PaginationKey{Filter: model.FilterGroup, ScopeID: "f1"}
	s.SetPaginationMeta(folderKey, model.PaginationMeta{Page: 1, PerPage: 10, Total: 3})
	s.UpsertChannel(model.Channel{ID: "g1", Type: model.ChannelTypeGroup, FolderID: "f1"})

	require.True(t, s.RemoveChannel("g1"))
	meta, _ := s.Pagination(folderKey)
	assert.Equal(t, 2, meta.Total)
	_, ok := s.Channel("g1")
	assert.False(t, ok)

	require.False(t, s.RemoveChannel("g1"))
	meta, _ = s.Pagination(folderKey)
	assert.Equal(t, 2, meta.Total)
}

func TestStore_AddChannelWithoutBucketDoesNotCreateOne(t *testing.T) {
	s := New()
	s.AddChannel(directChannel("c1", "a", "b"))
	_, ok := s.Pagination(model.PaginationKey{Filter: model.FilterDirect})
	assert.False(t, ok)
}

func TestStore_TryClaimIsExclusive(t *testing.T) {
	s := New()
	key := model.ChannelKey("c1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryClaim(key) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.True(t, s.IsFetching(key))

	boom := errors.New("boom")
	s.Release(key, boom)
	assert.False(t, s.IsFetching(key))
	assert.ErrorIs(t, s.FetchError(key), boom)

	require.True(t, s.TryClaim(key))
	s.Release(key, nil)
	assert.NoError(t, s.FetchError(key))
}

func TestStore_FindChannelRequiresExactSet(t *testing.T) {
	s := New()
	s.UpsertChannel(directChannel("abc", "a", "b", "c"))
	s.UpsertChannel(model.Channel{ID: "ab-deleted", Type: model.ChannelTypePersonal, Participants: []string{"a", "b"}, Deleted: true})
	s.UpsertChannel(model.Channel{ID: "ab-group", Type: model.ChannelTypePersonal, Participants: []string{"a", "b"}, GroupID: "g"})

	_, ok := s.FindChannel([]string{"a", "b"}, "")
	assert.False(t, ok)

	c, ok := s.FindChannel([]string{"b", "a"}, "g")
	require.True(t, ok)
	assert.Equal(t, "ab-group", c.ID)

	c, ok = s.FindChannel([]string{"c", "a", "b"}, "")
	require.True(t, ok)
	assert.Equal(t, "abc", c.ID)
}

func TestStore_ApplyCountersOnlyTouchesKnownChannels(t *testing.T) {
	s := New()
	s.UpsertChannel(directChannel("c1", "a", "b"))
	s.UpsertChannel(directChannel("c2", "a", "c"))

	n := s.ApplyCounters([]model.Counter{
		{ChannelID: "c1", Unread: 4},
		{ChannelID: "unknown", Unread: 9},
	})
	assert.Equal(t, 1, n)
	c1, _ := s.Channel("c1")
	c2, _ := s.Channel("c2")
	assert.Equal(t, 4, c1.UnreadCount)
	assert.Equal(t, 0, c2.UnreadCount)
	_, ok := s.Channel("unknown")
	assert.False(t, ok)
}

func TestStore_UpsertKeepsDetailedAndMergesMembers(t *testing.T) {
	s := New()
	c := directChannel("c1", "a", "b")
	c.Detailed = true
	s.UpsertChannel(c)
	s.UpsertChannel(directChannel("c1", "a", "b"))
	got, _ := s.Channel("c1")
	assert.True(t, got.Detailed)

	s.UpsertMembers([]model.Member{{GID: "a", DisplayName: "Alice", AvatarURL: "a.png"}})
	s.UpsertMembers([]model.Member{{GID: "a", Location: "Berlin"}})
	m, _ := s.Member("a")
	assert.Equal(t, model.Member{GID: "a", DisplayName: "Alice", AvatarURL: "a.png", Location: "Berlin"}, m)
}

func TestStore_SecretIsWriteOnce(t *testing.T) {
	s := New()
	s.SetSecret("c1", []byte("first"))
	s.SetSecret("c1", []byte("second"))
	v, ok := s.Secret("c1")
	require.True(t, ok)
	assert.Equal(t, []byte("first"), v)
}

func TestPaginationMeta_IsLastPage(t *testing.T) {
	assert.True(t, model.PaginationMeta{Page: 2, PerPage: 10, Total: 20}.IsLastPage())
	assert.False(t, model.PaginationMeta{Page: 2, PerPage: 10, Total: 21}.IsLastPage())
	assert.True(t, model.PaginationMeta{Page: 3, PerPage: 10, Total: 21}.IsLastPage())
	assert.True(t, model.PaginationMeta{Page: 1, PerPage: 10, Total: 0}.IsLastPage())
}

func TestStore_UpdateChannelOnlyKnown(t *testing.T) {
	s := New()
	assert.False(t, s.UpdateChannel("c1", func(c *model.Channel) { c.UnreadCount++ }))
	s.UpsertChannel(directChannel("c1", "a", "b"))
	require.True(t, s.UpdateChannel("c1", func(c *model.Channel) { c.UnreadCount++ }))
	c, _ := s.Channel("c1")
	assert.Equal(t, 1, c.UnreadCount)
}
