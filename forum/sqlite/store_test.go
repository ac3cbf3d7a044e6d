package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rexlx/volboard/forum"
	"github.com/rexlx/volboard/forum/forumtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	msqlite "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "forum.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSuite(t *testing.T) {
	forumtest.Run(t, func(t *testing.T) forum.Store {
		return openTestStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestReopenSkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.InTx(context.Background(), func(tx forum.Tx) error {
		return tx.CreateCategory(context.Background(), &forum.Category{Name: "kept"})
	}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	categories, err := store.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "kept", categories[0].Name)

	var applied int
	require.NoError(t, store.sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 2, applied)
}

func TestInTxRollsBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx forum.Tx) error {
		if err := tx.CreateCategory(ctx, &forum.Category{Name: "lost"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	categories, err := store.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestPostIDsAreNotReused(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	var first, second forum.Post
	require.NoError(t, store.InTx(ctx, func(tx forum.Tx) error {
		c := forum.Category{Name: "c"}
		if err := tx.CreateCategory(ctx, &c); err != nil {
			return err
		}
		f := forum.Forum{CategoryID: c.ID, Name: "f"}
		if err := tx.CreateForum(ctx, &f); err != nil {
			return err
		}
		topic := forum.Topic{ForumID: f.ID, Name: "t", AuthorID: "a", Created: time.Now()}
		if err := tx.CreateTopic(ctx, &topic); err != nil {
			return err
		}
		first = forum.Post{TopicID: topic.ID, AuthorID: "a", Body: "x", Created: time.Now()}
		if err := tx.CreatePost(ctx, &first); err != nil {
			return err
		}
		if err := tx.DeletePost(ctx, first.ID); err != nil {
			return err
		}
		second = forum.Post{TopicID: topic.ID, AuthorID: "a", Body: "y", Created: time.Now()}
		return tx.CreatePost(ctx, &second)
	}))
	assert.Greater(t, second.ID, first.ID)
}

func TestReadMarksOnlyMoveForward(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	var topic forum.Topic
	require.NoError(t, store.InTx(ctx, func(tx forum.Tx) error {
		c := forum.Category{Name: "c"}
		if err := tx.CreateCategory(ctx, &c); err != nil {
			return err
		}
		f := forum.Forum{CategoryID: c.ID, Name: "f"}
		if err := tx.CreateForum(ctx, &f); err != nil {
			return err
		}
		topic = forum.Topic{ForumID: f.ID, Name: "t", AuthorID: "a", Created: time.Now()}
		return tx.CreateTopic(ctx, &topic)
	}))

	at := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	for _, postID := range []int64{7, 3, 9, 8} {
		require.NoError(t, store.InTx(ctx, func(tx forum.Tx) error {
			return tx.PutReadMark(ctx, "u1", topic.ID, postID, at)
		}))
	}
	state, err := store.GetReadState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(9), state.Topics[topic.ID])
	assert.True(t, state.LastRead.IsZero())
}

func TestBusyErrorsBecomeConflicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.db")
	holder, err := Open(path)
	require.NoError(t, err)
	defer holder.Close()
	waiter, err := Open(path, WithBusyTimeout(0))
	require.NoError(t, err)
	defer waiter.Close()

	ctx := context.Background()
	var contended error
	require.NoError(t, holder.InTx(ctx, func(tx forum.Tx) error {
		contended = waiter.InTx(ctx, func(forum.Tx) error { return nil })
		return nil
	}))
	require.Error(t, contended)
	assert.True(t, isSQLiteBusyError(contended))
	assert.Equal(t, forum.CodeTxConflict, forum.ErrorCode(contended))
	assert.ErrorIs(t, contended, forum.ErrTxConflict)

	assert.NoError(t, waiter.InTx(ctx, func(tx forum.Tx) error {
		return tx.CreateCategory(ctx, &forum.Category{Name: "after release"})
	}))
}

func TestOtherSQLiteErrorsAreNotConflicts(t *testing.T) {
	plain := fmt.Errorf("exec: %w", &msqlite.Error{})
	assert.False(t, isSQLiteBusyError(plain), "zero code is not busy")
	assert.Equal(t, forum.CodeUnknown, forum.ErrorCode(classify(plain)))
	assert.NoError(t, classify(nil))
}
