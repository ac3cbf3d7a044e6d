// Package forumtest holds the behavioural suite every forum.Store backend
// must pass, plus the fixtures it is built from.
package forumtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rexlx/volboard/forum"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock hands out strictly increasing millisecond timestamps.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC().Truncate(time.Millisecond)}
}

// Now advances the clock by one millisecond and returns the new time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC().Truncate(time.Millisecond)
}

// Env wires the forum services over one store with a seeded board: a
// category holding two forums, a moderator of both, and two members.
type Env struct {
	Ctx        context.Context
	Store      forum.Store
	Clock      *Clock
	Aggregates *forum.AggregateTracker
	Reads      *forum.ReadTracker
	Merges     *forum.MergeCoordinator
	Posts      *forum.PostService
	Lister     *forum.Lister

	Category forum.Category
	Forum    forum.Forum
	Other    forum.Forum

	Mod   forum.Viewer
	Alice forum.Viewer
	Bob   forum.Viewer
}

func NewEnv(t *testing.T, store forum.Store) *Env {
	t.Helper()
	log := zerolog.Nop()
	clock := NewClock(time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC))
	aggregates := forum.NewAggregateTracker(log)
	reads := forum.NewReadTracker(store, log, forum.WithReadClock(clock.Now))
	env := &Env{
		Ctx:        context.Background(),
		Store:      store,
		Clock:      clock,
		Aggregates: aggregates,
		Reads:      reads,
		Merges:     forum.NewMergeCoordinator(store, aggregates, log, forum.DefaultRetryPolicy()),
		Posts:      forum.NewPostService(store, aggregates, reads, log, forum.WithClock(clock.Now)),
		Lister:     forum.NewLister(store, reads, forum.WithPageSizes(10, 10)),
	}
	env.seed(t)
	return env
}

func (e *Env) seed(t *testing.T) {
	t.Helper()
	err := e.Store.InTx(e.Ctx, func(tx forum.Tx) error {
		e.Category = forum.Category{Name: "General", Position: 1}
		if err := tx.CreateCategory(e.Ctx, &e.Category); err != nil {
			return err
		}
		e.Forum = forum.Forum{CategoryID: e.Category.ID, Name: "Announcements", Position: 1}
		if err := tx.CreateForum(e.Ctx, &e.Forum); err != nil {
			return err
		}
		e.Other = forum.Forum{CategoryID: e.Category.ID, Name: "Off topic", Position: 2}
		if err := tx.CreateForum(e.Ctx, &e.Other); err != nil {
			return err
		}
		for _, u := range []struct {
			handle string
			viewer *forum.Viewer
		}{{"mod", &e.Mod}, {"alice", &e.Alice}, {"bob", &e.Bob}} {
			user, err := forum.NewUser(u.handle, false)
			if err != nil {
				return err
			}
			if err := tx.CreateUser(e.Ctx, user); err != nil {
				return err
			}
			*u.viewer = forum.ViewerFor(user.ID)
		}
		if err := tx.AddModerator(e.Ctx, e.Forum.ID, e.Mod.UserID); err != nil {
			return err
		}
		return tx.AddModerator(e.Ctx, e.Other.ID, e.Mod.UserID)
	})
	require.NoError(t, err, "seed board")
}

// NewTopic opens a topic as actor and returns it with its head post.
func (e *Env) NewTopic(t *testing.T, actor forum.Viewer, forumID int64, name string) (forum.Topic, forum.Post) {
	t.Helper()
	topic, post, err := e.Posts.CreateTopic(e.Ctx, actor, forumID, name, name+" body")
	require.NoError(t, err)
	return topic, post
}

func (e *Env) Reply(t *testing.T, actor forum.Viewer, topicID int64) forum.Post {
	t.Helper()
	post, err := e.Posts.AddPost(e.Ctx, actor, topicID, "reply")
	require.NoError(t, err)
	return post
}

func (e *Env) Topic(t *testing.T, id int64) forum.Topic {
	t.Helper()
	topic, err := e.Store.GetTopic(e.Ctx, id)
	require.NoError(t, err)
	return topic
}

func (e *Env) ForumByID(t *testing.T, id int64) forum.Forum {
	t.Helper()
	f, err := e.Store.GetForum(e.Ctx, id)
	require.NoError(t, err)
	return f
}

func (e *Env) Unread(t *testing.T, viewer forum.Viewer, topicID int64) bool {
	t.Helper()
	unread, err := e.Reads.IsUnread(e.Ctx, viewer, e.Topic(t, topicID))
	require.NoError(t, err)
	return unread
}

const everything = 1 << 20

// AssertTopicAggregate checks the stored aggregate against the topic's
// posts: exact count, and the latest post by (created, id).
func (e *Env) AssertTopicAggregate(t *testing.T, topicID int64) {
	t.Helper()
	topic := e.Topic(t, topicID)
	posts, err := e.Store.ListPosts(e.Ctx, topicID, everything, 0)
	require.NoError(t, err)
	assert.Equal(t, len(posts), topic.PostCount, "post count of topic %d", topicID)
	if len(posts) == 0 {
		assert.Nil(t, topic.LastPostID)
		return
	}
	last := posts[len(posts)-1]
	if assert.NotNil(t, topic.LastPostID, "last post of topic %d", topicID) {
		assert.Equal(t, last.ID, *topic.LastPostID, "last post of topic %d", topicID)
	}
	assert.True(t, last.Created.Equal(topic.Updated), "topic %d updated %v, want %v", topicID, topic.Updated, last.Created)
}

// AssertForumAggregate checks the forum's stored aggregate against the
// posts of every topic it owns.
func (e *Env) AssertForumAggregate(t *testing.T, forumID int64) {
	t.Helper()
	f := e.ForumByID(t, forumID)
	topics, err := e.Store.ListTopics(e.Ctx, forumID, everything, 0)
	require.NoError(t, err)

	count := 0
	var last *forum.Post
	for _, topic := range topics {
		posts, err := e.Store.ListPosts(e.Ctx, topic.ID, everything, 0)
		require.NoError(t, err)
		count += len(posts)
		if len(posts) == 0 {
			continue
		}
		p := posts[len(posts)-1]
		if last == nil || p.Created.After(last.Created) || (p.Created.Equal(last.Created) && p.ID > last.ID) {
			last = &p
		}
	}
	assert.Equal(t, len(topics), f.TopicCount, "topic count of forum %d", forumID)
	assert.Equal(t, count, f.PostCount, "post count of forum %d", forumID)
	if last == nil {
		assert.Nil(t, f.LastPostID)
		assert.True(t, f.Updated.IsZero())
		return
	}
	if assert.NotNil(t, f.LastPostID, "last post of forum %d", forumID) {
		assert.Equal(t, last.ID, *f.LastPostID, "last post of forum %d", forumID)
	}
}
