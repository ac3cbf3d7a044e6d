// forum/db.go
package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS categories (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS forums (
    id BIGSERIAL PRIMARY KEY,
    category_id BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    post_count INTEGER NOT NULL DEFAULT 0,
    topic_count INTEGER NOT NULL DEFAULT 0,
    last_post_id BIGINT,
    updated TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    handle TEXT NOT NULL UNIQUE,
    hash BYTEA,
    admin BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS moderators (
    forum_id BIGINT NOT NULL REFERENCES forums(id) ON DELETE CASCADE,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    PRIMARY KEY (forum_id, user_id)
);
CREATE TABLE IF NOT EXISTS topics (
    id BIGSERIAL PRIMARY KEY,
    forum_id BIGINT NOT NULL REFERENCES forums(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    author_id UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated TIMESTAMPTZ,
    post_count INTEGER NOT NULL DEFAULT 0,
    last_post_id BIGINT,
    views INTEGER NOT NULL DEFAULT 0,
    sticky BOOLEAN NOT NULL DEFAULT FALSE,
    closed BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS posts (
    id BIGSERIAL PRIMARY KEY,
    topic_id BIGINT NOT NULL,
    author_id UUID NOT NULL,
    body TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    edited_at TIMESTAMPTZ,
    CONSTRAINT fk_topic
        FOREIGN KEY(topic_id)
        REFERENCES topics(id)
        ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS read_states (
    user_id UUID PRIMARY KEY,
    last_read TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS read_marks (
    user_id UUID NOT NULL REFERENCES read_states(user_id) ON DELETE CASCADE,
    topic_id BIGINT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
    post_id BIGINT NOT NULL,
    touched_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, topic_id)
);
CREATE INDEX IF NOT EXISTS idx_topics_forum ON topics(forum_id, sticky, updated);
CREATE INDEX IF NOT EXISTS idx_topics_author ON topics(author_id, created_at);
CREATE INDEX IF NOT EXISTS idx_posts_topic_created ON posts(topic_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_read_marks_touched ON read_marks(user_id, touched_at);
`

const (
	topicColumns = `id, forum_id, name, author_id, created_at, updated, post_count, last_post_id, views, sticky, closed`
	postColumns  = `id, topic_id, author_id, body, created_at, edited_at`
	forumColumns = `id, category_id, name, position, post_count, topic_count, last_post_id, updated`
)

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Database is the Postgres Store. Transactions run at READ COMMITTED;
// consistency of the aggregates comes from the row locks taken by
// LockTopics and LockForums.
type Database struct {
	queries
	pool *pgxpool.Pool
}

func NewDatabase(ctx context.Context, connectionString string) (*Database, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Database{queries: queries{q: pool}, pool: pool}, nil
}

func (d *Database) CreateTables(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, schema)
	return err
}

func (d *Database) Close() error {
	d.pool.Close()
	return nil
}

func (d *Database) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginTxFunc(ctx, d.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&queries{q: tx})
	})
	return classifyPgError(err)
}

// classifyPgError turns serialization failures and deadlocks into
// CodeTxConflict errors and leaves everything else alone.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return ConflictError(err)
		}
	}
	return err
}

func notFound(err error, kind string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFoundError(kind, id)
	}
	return err
}

type queries struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (Topic, error) {
	var (
		t       Topic
		updated *time.Time
	)
	err := row.Scan(&t.ID, &t.ForumID, &t.Name, &t.AuthorID, &t.Created, &updated,
		&t.PostCount, &t.LastPostID, &t.Views, &t.Sticky, &t.Closed)
	t.Created = t.Created.UTC()
	t.Updated = fromNullTime(updated)
	return t, err
}

func scanPost(row rowScanner) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.TopicID, &p.AuthorID, &p.Body, &p.Created, &p.Edited)
	p.Created = p.Created.UTC()
	if p.Edited != nil {
		e := p.Edited.UTC()
		p.Edited = &e
	}
	return p, err
}

func scanForum(row rowScanner) (Forum, error) {
	var (
		f       Forum
		updated *time.Time
	)
	err := row.Scan(&f.ID, &f.CategoryID, &f.Name, &f.Position, &f.PostCount, &f.TopicCount, &f.LastPostID, &updated)
	f.Updated = fromNullTime(updated)
	return f, err
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
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

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// --- Reads ---

func (s *queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name, position FROM categories ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r rowScanner) (Category, error) {
		var c Category
		err := r.Scan(&c.ID, &c.Name, &c.Position)
		return c, err
	})
}

func (s *queries) ListForums(ctx context.Context) ([]Forum, error) {
	rows, err := s.q.Query(ctx, `SELECT `+forumColumns+` FROM forums ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanForum)
}

func (s *queries) GetForum(ctx context.Context, id int64) (Forum, error) {
	f, err := scanForum(s.q.QueryRow(ctx, `SELECT `+forumColumns+` FROM forums WHERE id = $1`, id))
	if err != nil {
		return Forum{}, notFound(err, "forum", id)
	}
	return f, nil
}

func (s *queries) GetTopic(ctx context.Context, id int64) (Topic, error) {
	t, err := scanTopic(s.q.QueryRow(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = $1`, id))
	if err != nil {
		return Topic{}, notFound(err, "topic", id)
	}
	return t, nil
}

func (s *queries) GetPost(ctx context.Context, id int64) (Post, error) {
	p, err := scanPost(s.q.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if err != nil {
		return Post{}, notFound(err, "post", id)
	}
	return p, nil
}

func (s *queries) PostsByIDs(ctx context.Context, ids []int64) (map[int64]Post, error) {
	out := make(map[int64]Post, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.q.Query(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
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

func (s *queries) ListTopics(ctx context.Context, forumID int64, limit, offset int) ([]Topic, error) {
	rows, err := s.q.Query(ctx, `SELECT `+topicColumns+` FROM topics
              WHERE forum_id = $1
              ORDER BY sticky DESC, updated DESC NULLS LAST, id DESC
              LIMIT $2 OFFSET $3`, forumID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTopic)
}

func (s *queries) ListPosts(ctx context.Context, topicID int64, limit, offset int) ([]Post, error) {
	rows, err := s.q.Query(ctx, `SELECT `+postColumns+` FROM posts
              WHERE topic_id = $1
              ORDER BY created_at ASC, id ASC
              LIMIT $2 OFFSET $3`, topicID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPost)
}

func (s *queries) CountPostsBefore(ctx context.Context, topicID int64, created time.Time, id int64) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM posts
              WHERE topic_id = $1 AND (created_at < $2 OR (created_at = $2 AND id < $3))`,
		topicID, created, id).Scan(&count)
	return count, err
}

func (s *queries) GetReadState(ctx context.Context, userID string) (ReadState, error) {
	state := ReadState{UserID: userID, Topics: map[int64]int64{}}
	var floor *time.Time
	err := s.q.QueryRow(ctx, `SELECT last_read FROM read_states WHERE user_id = $1`, userID).Scan(&floor)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return ReadState{}, err
	}
	state.LastRead = fromNullTime(floor)

	rows, err := s.q.Query(ctx, `SELECT topic_id, post_id FROM read_marks WHERE user_id = $1`, userID)
	if err != nil {
		return ReadState{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var topicID, postID int64
		if err := rows.Scan(&topicID, &postID); err != nil {
			return ReadState{}, err
		}
		state.Topics[topicID] = postID
	}
	return state, rows.Err()
}

func (s *queries) IsModerator(ctx context.Context, userID string, forumID int64) (bool, error) {
	var ok bool
	err := s.q.QueryRow(ctx, `SELECT
              EXISTS (SELECT 1 FROM users WHERE id = $1 AND admin)
              OR EXISTS (SELECT 1 FROM moderators WHERE user_id = $1 AND forum_id = $2)`,
		userID, forumID).Scan(&ok)
	return ok, err
}

func (s *queries) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.q.QueryRow(ctx, `SELECT id, handle, hash, admin, created_at FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (s *queries) GetUserByHandle(ctx context.Context, handle string) (User, error) {
	u, err := scanUser(s.q.QueryRow(ctx, `SELECT id, handle, hash, admin, created_at FROM users WHERE handle = $1`, handle))
	if err != nil {
		return User{}, notFound(err, "user", handle)
	}
	return u, nil
}

func (s *queries) ListUsers(ctx context.Context, search string, limit, offset int) ([]User, error) {
	rows, err := s.q.Query(ctx, `SELECT id, handle, hash, admin, created_at FROM users
              WHERE $1::text = '' OR handle ILIKE '%' || $1::text || '%'
              ORDER BY handle
              LIMIT $2 OFFSET $3`, search, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

func (s *queries) CountUsers(ctx context.Context, search string) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM users
              WHERE $1::text = '' OR handle ILIKE '%' || $1::text || '%'`, search).Scan(&count)
	return count, err
}

func (s *queries) ListTopicsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]Topic, error) {
	rows, err := s.q.Query(ctx, `SELECT `+topicColumns+` FROM topics
              WHERE author_id = $1
              ORDER BY created_at DESC, id DESC
              LIMIT $2 OFFSET $3`, authorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTopic)
}

func (s *queries) CountTopicsByAuthor(ctx context.Context, authorID string) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM topics WHERE author_id = $1`, authorID).Scan(&count)
	return count, err
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Handle, &u.Hash, &u.Admin, &u.Created)
	u.Created = u.Created.UTC()
	return u, err
}

// --- Writes ---

func (s *queries) CreateCategory(ctx context.Context, c *Category) error {
	return s.q.QueryRow(ctx, `INSERT INTO categories (name, position) VALUES ($1, $2) RETURNING id`,
		c.Name, c.Position).Scan(&c.ID)
}

func (s *queries) CreateForum(ctx context.Context, f *Forum) error {
	return s.q.QueryRow(ctx, `INSERT INTO forums (category_id, name, position) VALUES ($1, $2, $3) RETURNING id`,
		f.CategoryID, f.Name, f.Position).Scan(&f.ID)
}

func (s *queries) CreateUser(ctx context.Context, u *User) error {
	_, err := s.q.Exec(ctx, `INSERT INTO users (id, handle, hash, admin, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Handle, u.Hash, u.Admin, u.Created)
	return err
}

func (s *queries) AddModerator(ctx context.Context, forumID int64, userID string) error {
	_, err := s.q.Exec(ctx, `INSERT INTO moderators (forum_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		forumID, userID)
	return err
}

func (s *queries) CreateTopic(ctx context.Context, t *Topic) error {
	return s.q.QueryRow(ctx, `INSERT INTO topics (forum_id, name, author_id, created_at, sticky, closed)
              VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.ForumID, t.Name, t.AuthorID, t.Created, t.Sticky, t.Closed).Scan(&t.ID)
}

func (s *queries) DeleteTopic(ctx context.Context, id int64) error {
	return s.execOne(ctx, "topic", id, `DELETE FROM topics WHERE id = $1`, id)
}

func (s *queries) SetTopicFlags(ctx context.Context, id int64, sticky, closed bool) error {
	return s.execOne(ctx, "topic", id, `UPDATE topics SET sticky = $2, closed = $3 WHERE id = $1`, id, sticky, closed)
}

func (s *queries) RenameTopic(ctx context.Context, id int64, name string) error {
	return s.execOne(ctx, "topic", id, `UPDATE topics SET name = $2 WHERE id = $1`, id, name)
}

func (s *queries) IncrementTopicViews(ctx context.Context, id int64) error {
	return s.execOne(ctx, "topic", id, `UPDATE topics SET views = views + 1 WHERE id = $1`, id)
}

func (s *queries) CreatePost(ctx context.Context, p *Post) error {
	return s.q.QueryRow(ctx, `INSERT INTO posts (topic_id, author_id, body, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.TopicID, p.AuthorID, p.Body, p.Created).Scan(&p.ID)
}

func (s *queries) UpdatePostBody(ctx context.Context, id int64, body string, edited time.Time) error {
	return s.execOne(ctx, "post", id, `UPDATE posts SET body = $2, edited_at = $3 WHERE id = $1`, id, body, edited)
}

func (s *queries) DeletePost(ctx context.Context, id int64) error {
	return s.execOne(ctx, "post", id, `DELETE FROM posts WHERE id = $1`, id)
}

func (s *queries) ReassignPosts(ctx context.Context, from []int64, to int64) ([]int64, error) {
	if len(from) == 0 {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `UPDATE posts SET topic_id = $2 WHERE topic_id = ANY($1) RETURNING id`, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *queries) execOne(ctx context.Context, kind string, id int64, sql string, args ...any) error {
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError(kind, id)
	}
	return nil
}

// --- Locks and aggregates ---

func (s *queries) LockTopics(ctx context.Context, ids []int64) ([]Topic, error) {
	rows, err := s.q.Query(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTopic)
}

func (s *queries) LockForums(ctx context.Context, ids []int64) error {
	rows, err := s.q.Query(ctx, `SELECT id FROM forums WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return err
	}
	locked, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return err
	}
	if len(locked) != len(ids) {
		return missingID("forum", ids, locked)
	}
	return nil
}

func (s *queries) CountPosts(ctx context.Context, owner Owner) (int, error) {
	var count int
	var err error
	switch owner.Kind {
	case KindTopic:
		err = s.q.QueryRow(ctx, `SELECT COUNT(*) FROM posts WHERE topic_id = $1`, owner.ID).Scan(&count)
	case KindForum:
		err = s.q.QueryRow(ctx, `SELECT COUNT(*) FROM posts p JOIN topics t ON t.id = p.topic_id WHERE t.forum_id = $1`,
			owner.ID).Scan(&count)
	default:
		return 0, fmt.Errorf("count posts: unknown owner %s", owner)
	}
	return count, err
}

func (s *queries) CountForumTopics(ctx context.Context, forumID int64) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM topics WHERE forum_id = $1`, forumID).Scan(&count)
	return count, err
}

func (s *queries) LatestPost(ctx context.Context, owner Owner) (Post, bool, error) {
	var row pgx.Row
	switch owner.Kind {
	case KindTopic:
		row = s.q.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE topic_id = $1
              ORDER BY created_at DESC, id DESC LIMIT 1`, owner.ID)
	case KindForum:
		row = s.q.QueryRow(ctx, `SELECT p.id, p.topic_id, p.author_id, p.body, p.created_at, p.edited_at
              FROM posts p JOIN topics t ON t.id = p.topic_id
              WHERE t.forum_id = $1
              ORDER BY p.created_at DESC, p.id DESC LIMIT 1`, owner.ID)
	default:
		return Post{}, false, fmt.Errorf("latest post: unknown owner %s", owner)
	}
	p, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Post{}, false, nil
	}
	if err != nil {
		return Post{}, false, err
	}
	return p, true, nil
}

func (s *queries) OwnsPost(ctx context.Context, owner Owner, postID int64) (bool, error) {
	var ok bool
	var err error
	switch owner.Kind {
	case KindTopic:
		err = s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1 AND topic_id = $2)`,
			postID, owner.ID).Scan(&ok)
	case KindForum:
		err = s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM posts p JOIN topics t ON t.id = p.topic_id
              WHERE p.id = $1 AND t.forum_id = $2)`, postID, owner.ID).Scan(&ok)
	default:
		return false, fmt.Errorf("owns post: unknown owner %s", owner)
	}
	return ok, err
}

func (s *queries) SaveAggregate(ctx context.Context, owner Owner, agg Aggregate) error {
	switch owner.Kind {
	case KindTopic:
		return s.execOne(ctx, "topic", owner.ID,
			`UPDATE topics SET post_count = $2, last_post_id = $3, updated = $4 WHERE id = $1`,
			owner.ID, agg.PostCount, agg.LastPostID, nullTime(agg.Updated))
	case KindForum:
		return s.execOne(ctx, "forum", owner.ID,
			`UPDATE forums SET post_count = $2, topic_count = $3, last_post_id = $4, updated = $5 WHERE id = $1`,
			owner.ID, agg.PostCount, agg.TopicCount, agg.LastPostID, nullTime(agg.Updated))
	default:
		return fmt.Errorf("save aggregate: unknown owner %s", owner)
	}
}

// --- Read state ---

func (s *queries) PutReadMark(ctx context.Context, userID string, topicID, postID int64, at time.Time) error {
	if _, err := s.q.Exec(ctx, `INSERT INTO read_states (user_id) VALUES ($1) ON CONFLICT DO NOTHING`, userID); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx, `INSERT INTO read_marks (user_id, topic_id, post_id, touched_at) VALUES ($1, $2, $3, $4)
              ON CONFLICT (user_id, topic_id) DO UPDATE
              SET post_id = GREATEST(read_marks.post_id, excluded.post_id), touched_at = excluded.touched_at`,
		userID, topicID, postID, at)
	return err
}

func (s *queries) PruneReadMarks(ctx context.Context, userID string, keep int) error {
	_, err := s.q.Exec(ctx, `DELETE FROM read_marks WHERE user_id = $1 AND topic_id NOT IN (
              SELECT topic_id FROM read_marks WHERE user_id = $1
              ORDER BY touched_at DESC, topic_id DESC LIMIT $2)`, userID, keep)
	return err
}

func (s *queries) SetReadFloor(ctx context.Context, userID string, floor time.Time) error {
	if _, err := s.q.Exec(ctx, `INSERT INTO read_states (user_id, last_read) VALUES ($1, $2)
              ON CONFLICT (user_id) DO UPDATE SET last_read = excluded.last_read`, userID, floor); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx, `DELETE FROM read_marks WHERE user_id = $1`, userID)
	return err
}

// missingID reports the first wanted id absent from got.
func missingID(kind string, want, got []int64) error {
	have := make(map[int64]struct{}, len(got))
	for _, id := range got {
		have[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := have[id]; !ok {
			return NotFoundError(kind, id)
		}
	}
	return NotFoundError(kind, want)
}
