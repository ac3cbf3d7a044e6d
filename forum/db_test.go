package forum_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/rexlx/volboard/forum"
	"github.com/rexlx/volboard/forum/forumtest"
	"github.com/stretchr/testify/require"
)

var (
	pgOnce sync.Once
	pgDB   *forum.Database
	pgErr  error
)

func openPostgres(t *testing.T) *forum.Database {
	t.Helper()
	dsn := os.Getenv("VOLBOARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOLBOARD_TEST_POSTGRES_DSN not set")
	}
	pgOnce.Do(func() {
		pgDB, pgErr = forum.NewDatabase(context.Background(), dsn)
		if pgErr == nil {
			pgErr = pgDB.CreateTables(context.Background())
		}
	})
	require.NoError(t, pgErr)
	require.NoError(t, pgDB.Truncate(context.Background()))
	return pgDB
}

// pgStore hides Close so one pool serves every case.
type pgStore struct {
	*forum.Database
}

func (pgStore) Close() error { return nil }

func TestDatabaseSuite(t *testing.T) {
	forumtest.Run(t, func(t *testing.T) forum.Store {
		return pgStore{openPostgres(t)}
	})
}
