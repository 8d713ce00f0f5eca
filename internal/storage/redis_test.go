package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utestwalter/Mila/pkg/logx"
)

func newRedisFixture(t *testing.T) (*miniredis.Miniredis, *redisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: mr.Addr(), Prefix: "test:"}}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return mr, st.(*redisStore)
}

func TestRedisStoreContract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(t *testing.T) storeFixture {
		mr, st := newRedisFixture(t)
		return storeFixture{
			store: st,
			halfWrite: func(t *testing.T, id string) {
				require.NoError(t, mr.Set(st.textKey(id), "orphan"))
				_, err := mr.SAdd(st.indexKey(), id)
				require.NoError(t, err)
			},
		}
	})
}

func TestRedisPutWritesKeysAndIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, st := newRedisFixture(t)

	require.NoError(t, st.Put(ctx, sampleTask("alice_news")))
	assert.True(t, mr.Exists("test:task:alice_news:txt"))
	assert.True(t, mr.Exists("test:task:alice_news:meta"))
	members, err := mr.Members("test:tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice_news"}, members)

	_, err = st.Delete(ctx, "alice_news")
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:task:alice_news:txt"))
	assert.False(t, mr.Exists("test:task:alice_news:meta"))
	members, _ = mr.Members("test:tasks")
	assert.Empty(t, members)
}

func TestRedisListDropsStaleIndexEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, st := newRedisFixture(t)

	require.NoError(t, st.Put(ctx, sampleTask("alice_news")))
	_, err := mr.SAdd("test:tasks", "alice_gone")
	require.NoError(t, err)

	list, err := st.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice_news"}, list.IDs)
	assert.Empty(t, list.Corrupt)

	members, err := mr.Members("test:tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice_news"}, members)
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	assert.Equal(t, redisDefaultPrefix, newRedisStore(client, "", logx.Nop()).prefix)
}

func TestDecodeRedisPair(t *testing.T) {
	t.Parallel()

	meta, err := encodeMetadata(sampleTask("alice_x"))
	require.NoError(t, err)

	_, found, err := decodeRedisPair("alice_x", []any{nil, nil})
	assert.False(t, found)
	assert.NoError(t, err)

	_, found, err = decodeRedisPair("alice_x", []any{nil, string(meta)})
	assert.True(t, found)
	assert.ErrorIs(t, err, ErrCorrupt)

	def, found, err := decodeRedisPair("alice_x", []any{sampleTask("alice_x").Instructions, string(meta)})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "alice", def.Owner)
}
