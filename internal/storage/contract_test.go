package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFixture is one fresh backend for a contract case.
type storeFixture struct {
	store Store
	// halfWrite leaves only the instructions artifact of id behind, as an
	// interrupted Put would. Nil when the backend cannot be half-written.
	halfWrite func(t *testing.T, id string)
}

// runStoreContract checks the TaskStore behavior every backend shares.
func runStoreContract(t *testing.T, open func(t *testing.T) storeFixture) {
	t.Helper()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		st := open(t).store

		def := sampleTask("alice_go_news")
		require.NoError(t, st.Put(ctx, def))
		got, found, err := st.Get(ctx, def.ID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, def, got)

		reminder := sampleTask("alice_water")
		reminder.SearchQuery = ""
		require.NoError(t, st.Put(ctx, reminder))
		got, _, err = st.Get(ctx, reminder.ID)
		require.NoError(t, err)
		assert.True(t, got.IsReminder())
	})

	t.Run("overwrite", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		st := open(t).store

		def := sampleTask("alice_news")
		require.NoError(t, st.Put(ctx, def))
		def.Instructions = "updated"
		require.NoError(t, st.Put(ctx, def))

		got, _, err := st.Get(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Instructions)
		list, err := st.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice_news"}, list.IDs)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		st := open(t).store

		_, found, err := st.Get(ctx, "nobody_nothing")
		require.NoError(t, err)
		assert.False(t, found)
		ok, err := st.Exists(ctx, "nobody_nothing")
		require.NoError(t, err)
		assert.False(t, ok)
		existed, err := st.Delete(ctx, "nobody_nothing")
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		st := open(t).store

		require.NoError(t, st.Put(ctx, sampleTask("alice_news")))
		existed, err := st.Delete(ctx, "alice_news")
		require.NoError(t, err)
		assert.True(t, existed)

		ok, err := st.Exists(ctx, "alice_news")
		require.NoError(t, err)
		assert.False(t, ok)
		list, err := st.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Empty(t, list.IDs)
	})

	t.Run("list by owner", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		st := open(t).store

		for _, id := range []string{"alice_b", "alice_a", "bob_a", "alice2_x"} {
			require.NoError(t, st.Put(ctx, sampleTask(id)))
		}
		list, err := st.List(ctx, Filter{Owner: "alice"})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice_a", "alice_b"}, list.IDs)

		all, err := st.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice2_x", "alice_a", "alice_b", "bob_a"}, all.IDs)
	})

	t.Run("partial record is corrupt", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		fx := open(t)
		if fx.halfWrite == nil {
			t.Skip("backend writes both artifacts in one row")
		}
		st := fx.store

		require.NoError(t, st.Put(ctx, sampleTask("alice_ok")))
		fx.halfWrite(t, "alice_half")

		_, found, err := st.Get(ctx, "alice_half")
		assert.True(t, found)
		assert.ErrorIs(t, err, ErrCorrupt)
		ok, err := st.Exists(ctx, "alice_half")
		require.NoError(t, err)
		assert.True(t, ok)

		list, err := st.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"alice_ok"}, list.IDs)
		require.Len(t, list.Corrupt, 1)
		assert.Equal(t, "alice_half", list.Corrupt[0].ID)

		existed, err := st.Delete(ctx, "alice_half")
		require.NoError(t, err)
		assert.True(t, existed)
	})

	t.Run("audit", func(t *testing.T) {
		t.Parallel()
		st := open(t).store
		require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{Action: "task.deleted", TaskID: "alice_news", OK: true}))
	})
}
