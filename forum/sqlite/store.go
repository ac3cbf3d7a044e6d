// Package sqlite provides a SQLite-backed forum store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rexlx/volboard/forum"
	"github.com/rexlx/volboard/forum/sqlite/migrations"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	topicColumns = `id, forum_id, name, author_id, created_at, updated_at, post_count, last_post_id, views, sticky, closed`
	postColumns  = `id, topic_id, author_id, body, created_at, edited_at`
	forumColumns = `id, category_id, name, position, post_count, topic_count, last_post_id, updated_at`
)

// Store persists the forum in SQLite. Every transaction begins IMMEDIATE,
// so writers are serialized by the database lock and the row lock methods
// only read.
type Store struct {
	queries
	sqlDB *sql.DB
}

var _ forum.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return fromMillis(value.Int64)
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func fromNullID(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	id := value.Int64
	return &id
}

const defaultBusyTimeout = 5 * time.Second

type options struct {
	busyTimeout time.Duration
}

type Option func(*options)

// WithBusyTimeout sets how long a transaction waits for the database lock
// before failing with a conflict. Zero fails immediately.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.busyTimeout = d
		}
	}
}

// Open opens a SQLite forum store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	o := options{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		filepath.Clean(path), o.busyTimeout.Milliseconds())
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{queries: queries{q: sqlDB}, sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) InTx(ctx context.Context, fn func(tx forum.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(&queries{q: tx}); err != nil {
		return classify(rollbackWith(tx, err))
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// classify maps lock contention that outlasted the busy timeout to a
// retryable conflict.
func classify(err error) error {
	if isSQLiteBusyError(err) {
		return forum.ConflictError(err)
	}
	return err
}

func isSQLiteBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (forum.Topic, error) {
	var (
		t                 forum.Topic
		created           int64
		updated, lastPost sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.ForumID, &t.Name, &t.AuthorID, &created, &updated,
		&t.PostCount, &lastPost, &t.Views, &t.Sticky, &t.Closed); err != nil {
		return forum.Topic{}, err
	}
	t.Created = fromMillis(created)
	t.Updated = fromNullMillis(updated)
	t.LastPostID = fromNullID(lastPost)
	return t, nil
}

func scanPost(row rowScanner) (forum.Post, error) {
	var (
		p       forum.Post
		created int64
		edited  sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.TopicID, &p.AuthorID, &p.Body, &created, &edited); err != nil {
		return forum.Post{}, err
	}
	p.Created = fromMillis(created)
	if edited.Valid {
		e := fromMillis(edited.Int64)
		p.Edited = &e
	}
	return p, nil
}

func scanForum(row rowScanner) (forum.Forum, error) {
	var (
		f                 forum.Forum
		updated, lastPost sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.CategoryID, &f.Name, &f.Position, &f.PostCount, &f.TopicCount, &lastPost, &updated); err != nil {
		return forum.Forum{}, err
	}
	f.Updated = fromNullMillis(updated)
	f.LastPostID = fromNullID(lastPost)
	return f, nil
}

func scanUser(row rowScanner) (forum.User, error) {
	var (
		u       forum.User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Handle, &u.Hash, &u.Admin, &created); err != nil {
		return forum.User{}, err
	}
	u.Created = fromMillis(created)
	return u, nil
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// inList returns "?, ?, ?" for n values along with ids as arguments.
func inList(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

func notFound(err error, kind string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return forum.NotFoundError(kind, id)
	}
	return err
}

// --- Reads ---

func (s *queries) ListCategories(ctx context.Context) ([]forum.Category, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, position FROM categories ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return collect(rows, func(r rowScanner) (forum.Category, error) {
		var c forum.Category
		err := r.Scan(&c.ID, &c.Name, &c.Position)
		return c, err
	})
}

func (s *queries) ListForums(ctx context.Context) ([]forum.Forum, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+forumColumns+` FROM forums ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list forums: %w", err)
	}
	return collect(rows, scanForum)
}

func (s *queries) GetForum(ctx context.Context, id int64) (forum.Forum, error) {
	f, err := scanForum(s.q.QueryRowContext(ctx, `SELECT `+forumColumns+` FROM forums WHERE id = ?`, id))
	if err != nil {
		return forum.Forum{}, notFound(err, "forum", id)
	}
	return f, nil
}

func (s *queries) GetTopic(ctx context.Context, id int64) (forum.Topic, error) {
	t, err := scanTopic(s.q.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id))
	if err != nil {
		return forum.Topic{}, notFound(err, "topic", id)
	}
	return t, nil
}

func (s *queries) GetPost(ctx context.Context, id int64) (forum.Post, error) {
	p, err := scanPost(s.q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if err != nil {
		return forum.Post{}, notFound(err, "post", id)
	}
	return p, nil
}

func (s *queries) PostsByIDs(ctx context.Context, ids []int64) (map[int64]forum.Post, error) {
	out := make(map[int64]forum.Post, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	marks, args := inList(ids)
	rows, err := s.q.QueryContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("posts by ids: %w", err)
	}
	posts, err := collect(rows, scanPost)
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		out[p.ID] = p
	}
	return out, nil
}

func (s *queries) ListTopics(ctx context.Context, forumID int64, limit, offset int) ([]forum.Topic, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics
		 WHERE forum_id = ?
		 ORDER BY sticky DESC, updated_at IS NULL, updated_at DESC, id DESC
		 LIMIT ? OFFSET ?`, forumID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return collect(rows, scanTopic)
}

func (s *queries) ListPosts(ctx context.Context, topicID int64, limit, offset int) ([]forum.Post, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+postColumns+` FROM posts
		 WHERE topic_id = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ? OFFSET ?`, topicID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return collect(rows, scanPost)
}

func (s *queries) CountPostsBefore(ctx context.Context, topicID int64, created time.Time, id int64) (int, error) {
	var count int
	at := toMillis(created)
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts
		 WHERE topic_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))`,
		topicID, at, at, id).Scan(&count)
	return count, err
}

func (s *queries) GetReadState(ctx context.Context, userID string) (forum.ReadState, error) {
	state := forum.ReadState{UserID: userID, Topics: map[int64]int64{}}
	var floor sql.NullInt64
	err := s.q.QueryRowContext(ctx, `SELECT last_read FROM read_states WHERE user_id = ?`, userID).Scan(&floor)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return forum.ReadState{}, fmt.Errorf("get read state: %w", err)
	}
	state.LastRead = fromNullMillis(floor)

	rows, err := s.q.QueryContext(ctx, `SELECT topic_id, post_id FROM read_marks WHERE user_id = ?`, userID)
	if err != nil {
		return forum.ReadState{}, fmt.Errorf("list read marks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var topicID, postID int64
		if err := rows.Scan(&topicID, &postID); err != nil {
			return forum.ReadState{}, err
		}
		state.Topics[topicID] = postID
	}
	return state, rows.Err()
}

func (s *queries) IsModerator(ctx context.Context, userID string, forumID int64) (bool, error) {
	var ok bool
	err := s.q.QueryRowContext(ctx, `SELECT
		   EXISTS (SELECT 1 FROM users WHERE id = ? AND admin = 1)
		   OR EXISTS (SELECT 1 FROM moderators WHERE user_id = ? AND forum_id = ?)`,
		userID, userID, forumID).Scan(&ok)
	return ok, err
}

func (s *queries) GetUser(ctx context.Context, id string) (forum.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT id, handle, hash, admin, created_at FROM users WHERE id = ?`, id))
	if err != nil {
		return forum.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (s *queries) GetUserByHandle(ctx context.Context, handle string) (forum.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT id, handle, hash, admin, created_at FROM users WHERE handle = ?`, handle))
	if err != nil {
		return forum.User{}, notFound(err, "user", handle)
	}
	return u, nil
}

func (s *queries) ListUsers(ctx context.Context, search string, limit, offset int) ([]forum.User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, handle, hash, admin, created_at FROM users
		 WHERE ? = '' OR handle LIKE '%' || ? || '%'
		 ORDER BY handle
		 LIMIT ? OFFSET ?`, search, search, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collect(rows, scanUser)
}

func (s *queries) CountUsers(ctx context.Context, search string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users
		 WHERE ? = '' OR handle LIKE '%' || ? || '%'`, search, search).Scan(&count)
	return count, err
}

func (s *queries) ListTopicsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]forum.Topic, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics
		 WHERE author_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, authorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list topics by author: %w", err)
	}
	return collect(rows, scanTopic)
}

func (s *queries) CountTopicsByAuthor(ctx context.Context, authorID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics WHERE author_id = ?`, authorID).Scan(&count)
	return count, err
}

// --- Writes ---

func (s *queries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *queries) execOne(ctx context.Context, kind string, id int64, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return forum.NotFoundError(kind, id)
	}
	return nil
}

func (s *queries) CreateCategory(ctx context.Context, c *forum.Category) error {
	id, err := s.insert(ctx, `INSERT INTO categories (name, position) VALUES (?, ?)`, c.Name, c.Position)
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	c.ID = id
	return nil
}

func (s *queries) CreateForum(ctx context.Context, f *forum.Forum) error {
	id, err := s.insert(ctx, `INSERT INTO forums (category_id, name, position) VALUES (?, ?, ?)`,
		f.CategoryID, f.Name, f.Position)
	if err != nil {
		return fmt.Errorf("create forum: %w", err)
	}
	f.ID = id
	return nil
}

func (s *queries) CreateUser(ctx context.Context, u *forum.User) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO users (id, handle, hash, admin, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Handle, u.Hash, u.Admin, toMillis(u.Created))
	if isConstraintError(err) {
		return &forum.Error{Code: forum.CodeInvalidArgument, Message: "handle already taken", Cause: err}
	}
	return err
}

func (s *queries) AddModerator(ctx context.Context, forumID int64, userID string) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO moderators (forum_id, user_id) VALUES (?, ?)
		 ON CONFLICT (forum_id, user_id) DO NOTHING`, forumID, userID)
	return err
}

func (s *queries) CreateTopic(ctx context.Context, t *forum.Topic) error {
	id, err := s.insert(ctx, `INSERT INTO topics (forum_id, name, author_id, created_at, sticky, closed)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ForumID, t.Name, t.AuthorID, toMillis(t.Created), t.Sticky, t.Closed)
	if err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	t.ID = id
	return nil
}

func (s *queries) DeleteTopic(ctx context.Context, id int64) error {
	return s.execOne(ctx, "topic", id, `DELETE FROM topics WHERE id = ?`, id)
}

func (s *queries) SetTopicFlags(ctx context.Context, id int64, sticky, closed bool) error {
	return s.execOne(ctx, "topic", id, `UPDATE topics SET sticky = ?, closed = ? WHERE id = ?`, sticky, closed, id)
}

func (s *queries) RenameTopic(ctx context.Context, id int64, name string) error {
	return s.execOne(ctx, "topic", id, `UPDATE topics SET name = ? WHERE id = ?`, name, id)
}

func (s *queries) IncrementTopicViews(ctx context.Context, id int64) error {
	return s.execOne(ctx, "topic", id, `UPDATE topics SET views = views + 1 WHERE id = ?`, id)
}

func (s *queries) CreatePost(ctx context.Context, p *forum.Post) error {
	id, err := s.insert(ctx, `INSERT INTO posts (topic_id, author_id, body, created_at) VALUES (?, ?, ?, ?)`,
		p.TopicID, p.AuthorID, p.Body, toMillis(p.Created))
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	p.ID = id
	return nil
}

func (s *queries) UpdatePostBody(ctx context.Context, id int64, body string, edited time.Time) error {
	return s.execOne(ctx, "post", id, `UPDATE posts SET body = ?, edited_at = ? WHERE id = ?`, body, toMillis(edited), id)
}

func (s *queries) DeletePost(ctx context.Context, id int64) error {
	return s.execOne(ctx, "post", id, `DELETE FROM posts WHERE id = ?`, id)
}

func (s *queries) ReassignPosts(ctx context.Context, from []int64, to int64) ([]int64, error) {
	if len(from) == 0 {
		return nil, nil
	}
	marks, args := inList(from)
	rows, err := s.q.QueryContext(ctx, `UPDATE posts SET topic_id = ? WHERE topic_id IN (`+marks+`) RETURNING id`,
		append([]any{to}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("reassign posts: %w", err)
	}
	return collect(rows, func(r rowScanner) (int64, error) {
		var id int64
		err := r.Scan(&id)
		return id, err
	})
}

// --- Locks and aggregates ---

// LockTopics reads the topics; the IMMEDIATE transaction already holds the
// database write lock.
func (s *queries) LockTopics(ctx context.Context, ids []int64) ([]forum.Topic, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	marks, args := inList(ids)
	rows, err := s.q.QueryContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id IN (`+marks+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("lock topics: %w", err)
	}
	return collect(rows, scanTopic)
}

func (s *queries) LockForums(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		var found int64
		err := s.q.QueryRowContext(ctx, `SELECT id FROM forums WHERE id = ?`, id).Scan(&found)
		if err != nil {
			return notFound(err, "forum", id)
		}
	}
	return nil
}

func (s *queries) CountPosts(ctx context.Context, owner forum.Owner) (int, error) {
	var count int
	var err error
	switch owner.Kind {
	case forum.KindTopic:
		err = s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE topic_id = ?`, owner.ID).Scan(&count)
	case forum.KindForum:
		err = s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p JOIN topics t ON t.id = p.topic_id
		 WHERE t.forum_id = ?`, owner.ID).Scan(&count)
	default:
		return 0, fmt.Errorf("count posts: unknown owner %s", owner)
	}
	return count, err
}

func (s *queries) CountForumTopics(ctx context.Context, forumID int64) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics WHERE forum_id = ?`, forumID).Scan(&count)
	return count, err
}

func (s *queries) LatestPost(ctx context.Context, owner forum.Owner) (forum.Post, bool, error) {
	var row *sql.Row
	switch owner.Kind {
	case forum.KindTopic:
		row = s.q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE topic_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, owner.ID)
	case forum.KindForum:
		row = s.q.QueryRowContext(ctx, `SELECT p.id, p.topic_id, p.author_id, p.body, p.created_at, p.edited_at
		 FROM posts p JOIN topics t ON t.id = p.topic_id
		 WHERE t.forum_id = ?
		 ORDER BY p.created_at DESC, p.id DESC LIMIT 1`, owner.ID)
	default:
		return forum.Post{}, false, fmt.Errorf("latest post: unknown owner %s", owner)
	}
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return forum.Post{}, false, nil
	}
	if err != nil {
		return forum.Post{}, false, err
	}
	return p, true, nil
}

func (s *queries) OwnsPost(ctx context.Context, owner forum.Owner, postID int64) (bool, error) {
	var ok bool
	var err error
	switch owner.Kind {
	case forum.KindTopic:
		err = s.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = ? AND topic_id = ?)`,
			postID, owner.ID).Scan(&ok)
	case forum.KindForum:
		err = s.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts p JOIN topics t ON t.id = p.topic_id
		 WHERE p.id = ? AND t.forum_id = ?)`, postID, owner.ID).Scan(&ok)
	default:
		return false, fmt.Errorf("owns post: unknown owner %s", owner)
	}
	return ok, err
}

func (s *queries) SaveAggregate(ctx context.Context, owner forum.Owner, agg forum.Aggregate) error {
	switch owner.Kind {
	case forum.KindTopic:
		return s.execOne(ctx, "topic", owner.ID,
			`UPDATE topics SET post_count = ?, last_post_id = ?, updated_at = ? WHERE id = ?`,
			agg.PostCount, nullID(agg.LastPostID), nullMillis(agg.Updated), owner.ID)
	case forum.KindForum:
		return s.execOne(ctx, "forum", owner.ID,
			`UPDATE forums SET post_count = ?, topic_count = ?, last_post_id = ?, updated_at = ? WHERE id = ?`,
			agg.PostCount, agg.TopicCount, nullID(agg.LastPostID), nullMillis(agg.Updated), owner.ID)
	default:
		return fmt.Errorf("save aggregate: unknown owner %s", owner)
	}
}

// --- Read state ---

func (s *queries) PutReadMark(ctx context.Context, userID string, topicID, postID int64, at time.Time) error {
	if _, err := s.q.ExecContext(ctx, `INSERT INTO read_states (user_id) VALUES (?)
		 ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("ensure read state: %w", err)
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO read_marks (user_id, topic_id, post_id, touched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, topic_id) DO UPDATE SET
		   post_id = MAX(read_marks.post_id, excluded.post_id),
		   touched_at = excluded.touched_at`,
		userID, topicID, postID, toMillis(at))
	if err != nil {
		return fmt.Errorf("put read mark: %w", err)
	}
	return nil
}

func (s *queries) PruneReadMarks(ctx context.Context, userID string, keep int) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM read_marks WHERE user_id = ? AND topic_id NOT IN (
		   SELECT topic_id FROM read_marks WHERE user_id = ?
		   ORDER BY touched_at DESC, topic_id DESC LIMIT ?)`, userID, userID, keep)
	if err != nil {
		return fmt.Errorf("prune read marks: %w", err)
	}
	return nil
}

func (s *queries) SetReadFloor(ctx context.Context, userID string, floor time.Time) error {
	if _, err := s.q.ExecContext(ctx, `INSERT INTO read_states (user_id, last_read) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET last_read = excluded.last_read`, userID, toMillis(floor)); err != nil {
		return fmt.Errorf("set read floor: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM read_marks WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear read marks: %w", err)
	}
	return nil
}
