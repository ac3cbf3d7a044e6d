package forumtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rexlx/volboard/forum"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the suite. open must return an empty, migrated store; it is
// called once per case.
func Run(t *testing.T, open func(t *testing.T) forum.Store) {
	cases := []struct {
		name string
		fn   func(t *testing.T, env *Env)
	}{
		{"AddPostRefreshesTopicThenForum", testAddPostRefreshes},
		{"ConcurrentRepliesSettle", testConcurrentReplies},
		{"RefreshRepairsDrift", testRefreshRepairsDrift},
		{"RefreshDegradesAfterSecondMiss", testRefreshDegrades},
		{"RefreshRecoversFromSingleMiss", testRefreshSingleMiss},
		{"RefreshBatch", testRefreshBatch},
		{"LatestPostTieBreaksOnID", testLatestPostTieBreak},
		{"MergeScenario", testMergeScenario},
		{"MergeAcrossForums", testMergeAcrossForums},
		{"MergeNeedsTwoTopics", testMergeNeedsTwoTopics},
		{"MergeRequiresModerator", testMergeRequiresModerator},
		{"MergeUnknownTopic", testMergeUnknownTopic},
		{"MergeRollsBackOnFailure", testMergeRollsBack},
		{"ReadStateAnonymous", testReadStateAnonymous},
		{"ReadStateFloorScenario", testReadStateFloorScenario},
		{"ReadStateFloorCoversTopics", testReadStateFloorCovers},
		{"ReadStateMarksNeverMoveBack", testReadStateMonotonic},
		{"ReadStateForumUsesFloorOnly", testReadStateForumFloorOnly},
		{"ReadStateMarkCap", testReadStateMarkCap},
		{"ReadStateRevisitTouchesMark", testReadStateRevisit},
		{"DeletePermissions", testDeletePermissions},
		{"DeletingOnlyPostRemovesTopic", testDeleteOnlyPost},
		{"EditPermissions", testEditPermissions},
		{"EditHeadPostRenamesTopic", testEditHeadPostRenames},
		{"ClosedTopicsRejectReplies", testClosedTopics},
		{"WritesNeedAuthentication", testWritesNeedAuthentication},
		{"ViewTopicCountsAndMarks", testViewTopic},
		{"PostLocation", testPostLocation},
		{"ForumPageOrdering", testForumPageOrdering},
		{"IndexAndDanglingLastPost", testIndexAndDanglingLastPost},
		{"TopicPagePagination", testTopicPagePagination},
		{"UserPages", testUserPages},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, NewEnv(t, open(t)))
		})
	}
}

func testAddPostRefreshes(t *testing.T, env *Env) {
	topic, head := env.NewTopic(t, env.Alice, env.Forum.ID, "hello")
	assert.Equal(t, 1, topic.PostCount)
	require.NotNil(t, topic.LastPostID)
	assert.Equal(t, head.ID, *topic.LastPostID)

	reply := env.Reply(t, env.Bob, topic.ID)
	got := env.Topic(t, topic.ID)
	assert.Equal(t, 2, got.PostCount)
	require.NotNil(t, got.LastPostID)
	assert.Equal(t, reply.ID, *got.LastPostID)
	assert.True(t, reply.Created.Equal(got.Updated))

	f := env.ForumByID(t, env.Forum.ID)
	assert.Equal(t, 2, f.PostCount)
	assert.Equal(t, 1, f.TopicCount)
	env.AssertTopicAggregate(t, topic.ID)
	env.AssertForumAggregate(t, env.Forum.ID)
}

func testConcurrentReplies(t *testing.T, env *Env) {
	topic, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "busy")
	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := env.Alice
			if i%2 == 1 {
				actor = env.Bob
			}
			_, err := env.Posts.AddPost(env.Ctx, actor, topic.ID, "racing")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got := env.Topic(t, topic.ID)
	assert.Equal(t, 1+writers, got.PostCount)
	env.AssertTopicAggregate(t, topic.ID)
	env.AssertForumAggregate(t, env.Forum.ID)
}

func testRefreshRepairsDrift(t *testing.T, env *Env) {
	topic, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "drift")
	env.Reply(t, env.Bob, topic.ID)

	bogus := int64(424242)
	require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
		if err := tx.SaveAggregate(env.Ctx, forum.TopicOwner(topic.ID), forum.Aggregate{PostCount: 99, LastPostID: &bogus}); err != nil {
			return err
		}
		return tx.SaveAggregate(env.Ctx, forum.ForumOwner(env.Forum.ID), forum.Aggregate{PostCount: -3})
	}))
	assert.Equal(t, 99, env.Topic(t, topic.ID).PostCount)

	for i := 0; i < 2; i++ {
		require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
			if _, err := env.Aggregates.Refresh(env.Ctx, tx, forum.TopicOwner(topic.ID)); err != nil {
				return err
			}
			_, err := env.Aggregates.Refresh(env.Ctx, tx, forum.ForumOwner(env.Forum.ID))
			return err
		}))
		env.AssertTopicAggregate(t, topic.ID)
		env.AssertForumAggregate(t, env.Forum.ID)
	}
}

// vanishingTx reports the first misses ownership checks as failed, as if
// the latest post was moved or deleted between the two queries.
type vanishingTx struct {
	forum.Tx
	misses int
	calls  int
}

func (v *vanishingTx) OwnsPost(ctx context.Context, owner forum.Owner, postID int64) (bool, error) {
	v.calls++
	if v.calls <= v.misses {
		return false, nil
	}
	return v.Tx.OwnsPost(ctx, owner, postID)
}

func testRefreshDegrades(t *testing.T, env *Env) {
	topic, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "flaky")
	env.Reply(t, env.Bob, topic.ID)

	var agg forum.Aggregate
	require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
		var err error
		agg, err = env.Aggregates.Refresh(env.Ctx, &vanishingTx{Tx: tx, misses: 2}, forum.TopicOwner(topic.ID))
		return err
	}))
	assert.True(t, agg.Degraded)
	assert.Equal(t, 2, agg.PostCount)
	assert.Nil(t, agg.LastPostID)

	stored := env.Topic(t, topic.ID)
	assert.Equal(t, 2, stored.PostCount)
	assert.Nil(t, stored.LastPostID)

	require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
		_, err := env.Aggregates.Refresh(env.Ctx, tx, forum.TopicOwner(topic.ID))
		return err
	}))
	env.AssertTopicAggregate(t, topic.ID)
}

func testRefreshSingleMiss(t *testing.T, env *Env) {
	topic, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "blip")
	reply := env.Reply(t, env.Bob, topic.ID)

	var agg forum.Aggregate
	require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
		var err error
		agg, err = env.Aggregates.Refresh(env.Ctx, &vanishingTx{Tx: tx, misses: 1}, forum.ForumOwner(env.Forum.ID))
		return err
	}))
	assert.False(t, agg.Degraded)
	require.NotNil(t, agg.LastPostID)
	assert.Equal(t, reply.ID, *agg.LastPostID)
	assert.Equal(t, 1, agg.TopicCount)
}

func testRefreshBatch(t *testing.T, env *Env) {
	a, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "a")
	b, _ := env.NewTopic(t, env.Bob, env.Other.ID, "b")
	last := env.Reply(t, env.Bob, a.ID)

	var refreshed []forum.Refreshed
	require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
		for _, o := range []forum.Owner{forum.TopicOwner(a.ID), forum.TopicOwner(b.ID), forum.ForumOwner(env.Forum.ID)} {
			if err := tx.SaveAggregate(env.Ctx, o, forum.Aggregate{}); err != nil {
				return err
			}
		}
		var err error
		refreshed, err = env.Aggregates.RefreshBatch(env.Ctx, tx, []forum.Owner{
			forum.TopicOwner(a.ID),
			forum.ForumOwner(env.Forum.ID),
			forum.TopicOwner(a.ID),
			forum.TopicOwner(b.ID),
		})
		return err
	}))
	require.Len(t, refreshed, 3)
	for _, r := range refreshed {
		require.NotNil(t, r.LastPost, "owner %s", r.Owner)
		require.NotNil(t, r.Aggregate.LastPostID)
		assert.Equal(t, r.LastPost.ID, *r.Aggregate.LastPostID)
	}
	assert.Equal(t, last.ID, refreshed[0].LastPost.ID)
	env.AssertTopicAggregate(t, a.ID)
	env.AssertTopicAggregate(t, b.ID)
	env.AssertForumAggregate(t, env.Forum.ID)
}

func testLatestPostTieBreak(t *testing.T, env *Env) {
	at := env.Clock.Now()
	var (
		first, second forum.Topic
		posts         []forum.Post
	)
	require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
		first = forum.Topic{ForumID: env.Forum.ID, Name: "tied", AuthorID: env.Alice.UserID, Created: at}
		if err := tx.CreateTopic(env.Ctx, &first); err != nil {
			return err
		}
		second = forum.Topic{ForumID: env.Forum.ID, Name: "also tied", AuthorID: env.Bob.UserID, Created: at}
		if err := tx.CreateTopic(env.Ctx, &second); err != nil {
			return err
		}
		for _, topicID := range []int64{first.ID, first.ID, second.ID} {
			p := forum.Post{TopicID: topicID, AuthorID: env.Alice.UserID, Body: "same instant", Created: at}
			if err := tx.CreatePost(env.Ctx, &p); err != nil {
				return err
			}
			posts = append(posts, p)
		}
		for _, owner := range []forum.Owner{
			forum.TopicOwner(first.ID),
			forum.TopicOwner(second.ID),
			forum.ForumOwner(env.Forum.ID),
		} {
			if _, err := env.Aggregates.Refresh(env.Ctx, tx, owner); err != nil {
				return err
			}
		}
		return nil
	}))
	require.Len(t, posts, 3)
	require.Less(t, posts[0].ID, posts[1].ID)
	require.Less(t, posts[1].ID, posts[2].ID)

	topic := env.Topic(t, first.ID)
	require.NotNil(t, topic.LastPostID)
	assert.Equal(t, posts[1].ID, *topic.LastPostID, "higher id wins a timestamp tie")
	assert.True(t, topic.Updated.Equal(at))

	f := env.ForumByID(t, env.Forum.ID)
	require.NotNil(t, f.LastPostID)
	assert.Equal(t, posts[2].ID, *f.LastPostID)
	assert.Equal(t, 3, f.PostCount)
	env.AssertTopicAggregate(t, first.ID)
	env.AssertTopicAggregate(t, second.ID)
	env.AssertForumAggregate(t, env.Forum.ID)
}

func testMergeScenario(t *testing.T, env *Env) {
	a, p1 := env.NewTopic(t, env.Alice, env.Forum.ID, "A")
	b, p3 := env.NewTopic(t, env.Bob, env.Forum.ID, "B")
	p2 := env.Reply(t, env.Alice, a.ID)
	require.True(t, p1.Created.Before(p3.Created) && p3.Created.Before(p2.Created))

	res, err := env.Merges.Merge(env.Ctx, env.Mod, forum.MergeRequest{TargetID: a.ID, SourceIDs: []int64{b.ID}})
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.TargetID)
	assert.Equal(t, []int64{b.ID}, res.DeletedTopics)
	assert.Equal(t, []int64{env.Forum.ID}, res.RefreshedForums)
	assert.EqualValues(t, 1, res.MovedPosts)

	got := env.Topic(t, a.ID)
	assert.Equal(t, 3, got.PostCount)
	require.NotNil(t, got.LastPostID)
	assert.Equal(t, p2.ID, *got.LastPostID)

	_, err = env.Store.GetTopic(env.Ctx, b.ID)
	assert.True(t, errors.Is(err, forum.ErrNotFound))
	moved, err := env.Store.GetPost(env.Ctx, p3.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, moved.TopicID)

	f := env.ForumByID(t, env.Forum.ID)
	assert.Equal(t, 3, f.PostCount)
	assert.Equal(t, 1, f.TopicCount)
	env.AssertTopicAggregate(t, a.ID)
	env.AssertForumAggregate(t, env.Forum.ID)
}

func testMergeAcrossForums(t *testing.T, env *Env) {
	a, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "target")
	b, _ := env.NewTopic(t, env.Bob, env.Other.ID, "source one")
	c, _ := env.NewTopic(t, env.Bob, env.Other.ID, "source two")
	env.Reply(t, env.Alice, b.ID)

	_, err := env.Posts.ViewTopic(env.Ctx, env.Alice, b.ID)
	require.NoError(t, err)

	res, err := env.Merges.Merge(env.Ctx, env.Mod, forum.MergeRequest{
		TargetID:  a.ID,
		SourceIDs: []int64{c.ID, b.ID, c.ID, a.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, c.ID}, res.DeletedTopics)
	assert.Equal(t, []int64{env.Forum.ID, env.Other.ID}, res.RefreshedForums)
	assert.EqualValues(t, 3, res.MovedPosts)

	assert.Equal(t, 4, env.Topic(t, a.ID).PostCount)
	other := env.ForumByID(t, env.Other.ID)
	assert.Zero(t, other.PostCount)
	assert.Zero(t, other.TopicCount)
	assert.Nil(t, other.LastPostID)
	env.AssertForumAggregate(t, env.Forum.ID)
	env.AssertForumAggregate(t, env.Other.ID)

	state, err := env.Reads.State(env.Ctx, env.Alice)
	require.NoError(t, err)
	assert.NotContains(t, state.Topics, b.ID)
}

func testMergeNeedsTwoTopics(t *testing.T, env *Env) {
	a, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "alone")
	env.Reply(t, env.Bob, a.ID)
	before := env.Topic(t, a.ID)

	for _, sources := range [][]int64{nil, {a.ID}, {a.ID, a.ID}} {
		_, err := env.Merges.Merge(env.Ctx, env.Mod, forum.MergeRequest{TargetID: a.ID, SourceIDs: sources})
		require.Error(t, err)
		assert.True(t, errors.Is(err, forum.ErrInsufficientTopics), "sources %v: %v", sources, err)
		assert.Equal(t, forum.CodePreconditionFailed, forum.ErrorCode(err))
	}
	assert.Equal(t, before, env.Topic(t, a.ID))
}

func testMergeRequiresModerator(t *testing.T, env *Env) {
	a, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "mine")
	b, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "also mine")

	_, err := env.Merges.Merge(env.Ctx, env.Alice, forum.MergeRequest{TargetID: a.ID, SourceIDs: []int64{b.ID}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, forum.ErrNotModerator))

	_, err = env.Merges.Merge(env.Ctx, forum.Anonymous, forum.MergeRequest{TargetID: a.ID, SourceIDs: []int64{b.ID}})
	assert.Equal(t, forum.ReasonUnauthenticated, forum.ErrorReason(err))

	assert.Equal(t, 1, env.Topic(t, a.ID).PostCount)
	assert.Equal(t, 1, env.Topic(t, b.ID).PostCount)
	assert.Equal(t, 2, env.ForumByID(t, env.Forum.ID).TopicCount)
}

func testMergeUnknownTopic(t *testing.T, env *Env) {
	a, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "real")
	_, err := env.Merges.Merge(env.Ctx, env.Mod, forum.MergeRequest{TargetID: a.ID, SourceIDs: []int64{a.ID + 1000}})
	assert.True(t, errors.Is(err, forum.ErrNotFound))
	assert.Equal(t, 1, env.Topic(t, a.ID).PostCount)
}

var errDeleteTopic = errors.New("delete topic refused")

// failingStore hands out transactions whose DeleteTopic always fails.
type failingStore struct {
	forum.Store
}

func (s failingStore) InTx(ctx context.Context, fn func(tx forum.Tx) error) error {
	return s.Store.InTx(ctx, func(tx forum.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	forum.Tx
}

func (failingTx) DeleteTopic(context.Context, int64) error {
	return errDeleteTopic
}

func testMergeRollsBack(t *testing.T, env *Env) {
	a, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "target")
	b, _ := env.NewTopic(t, env.Bob, env.Other.ID, "source")
	env.Reply(t, env.Bob, b.ID)

	beforeA, beforeB := env.Topic(t, a.ID), env.Topic(t, b.ID)
	beforeForum, beforeOther := env.ForumByID(t, env.Forum.ID), env.ForumByID(t, env.Other.ID)
	sourcePosts, err := env.Store.ListPosts(env.Ctx, b.ID, everything, 0)
	require.NoError(t, err)
	require.Len(t, sourcePosts, 2)

	merges := forum.NewMergeCoordinator(failingStore{Store: env.Store}, env.Aggregates, zerolog.Nop(), forum.DefaultRetryPolicy())
	_, err = merges.Merge(env.Ctx, env.Mod, forum.MergeRequest{TargetID: a.ID, SourceIDs: []int64{b.ID}})
	require.ErrorIs(t, err, errDeleteTopic)

	for _, p := range sourcePosts {
		got, err := env.Store.GetPost(env.Ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.TopicID, "post %d stays in its topic", p.ID)
	}
	assert.Equal(t, beforeA, env.Topic(t, a.ID))
	assert.Equal(t, beforeB, env.Topic(t, b.ID))
	assert.Equal(t, beforeForum, env.ForumByID(t, env.Forum.ID))
	assert.Equal(t, beforeOther, env.ForumByID(t, env.Other.ID))
}

func testReadStateAnonymous(t *testing.T, env *Env) {
	topic, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "public")
	assert.False(t, env.Unread(t, forum.Anonymous, topic.ID))
	assert.NoError(t, env.Reads.MarkTopicRead(env.Ctx, forum.Anonymous, topic))

	err := env.Reads.AdvanceGlobalFloor(env.Ctx, forum.Anonymous, env.Clock.Now())
	assert.Equal(t, forum.ReasonUnauthenticated, forum.ErrorReason(err))
}

func testReadStateFloorScenario(t *testing.T, env *Env) {
	t0 := env.Clock.Now()
	require.NoError(t, env.Reads.AdvanceGlobalFloor(env.Ctx, env.Alice, t0))

	env.Clock.Set(t0.Add(5 * time.Second))
	topic, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "news")
	assert.True(t, env.Unread(t, env.Alice, topic.ID))

	require.NoError(t, env.Reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, topic.ID)))
	assert.False(t, env.Unread(t, env.Alice, topic.ID))

	env.Clock.Set(t0.Add(6 * time.Second))
	env.Reply(t, env.Bob, topic.ID)
	assert.True(t, env.Unread(t, env.Alice, topic.ID))

	state, err := env.Reads.State(env.Ctx, env.Alice)
	require.NoError(t, err)
	assert.True(t, t0.Equal(state.LastRead))
}

func testReadStateFloorCovers(t *testing.T, env *Env) {
	first, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "first")
	second, _ := env.NewTopic(t, env.Bob, env.Other.ID, "second")
	require.NoError(t, env.Reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, first.ID)))

	require.NoError(t, env.Reads.AdvanceGlobalFloor(env.Ctx, env.Alice, env.Clock.Now()))
	assert.False(t, env.Unread(t, env.Alice, first.ID))
	assert.False(t, env.Unread(t, env.Alice, second.ID))

	require.NoError(t, env.Reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, second.ID)))
	state, err := env.Reads.State(env.Ctx, env.Alice)
	require.NoError(t, err)
	assert.Empty(t, state.Topics)
}

func testReadStateMonotonic(t *testing.T, env *Env) {
	topic, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "thread")
	stale := env.Topic(t, topic.ID)
	latest := env.Reply(t, env.Bob, topic.ID)

	require.NoError(t, env.Reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, topic.ID)))
	require.NoError(t, env.Reads.MarkTopicRead(env.Ctx, env.Alice, stale))

	state, err := env.Reads.State(env.Ctx, env.Alice)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, state.Topics[topic.ID])
	assert.False(t, env.Unread(t, env.Alice, topic.ID))
}

func testReadStateForumFloorOnly(t *testing.T, env *Env) {
	forumRow := func() forum.ForumRow {
		index, err := env.Lister.Index(env.Ctx, env.Alice)
		require.NoError(t, err)
		require.Len(t, index.Categories, 1)
		for _, row := range index.Categories[0].Forums {
			if row.Forum.ID == env.Forum.ID {
				return row
			}
		}
		t.Fatalf("forum %d missing from index", env.Forum.ID)
		return forum.ForumRow{}
	}

	topic, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "only topic")
	assert.False(t, forumRow().Unread, "no floor yet")

	require.NoError(t, env.Reads.AdvanceGlobalFloor(env.Ctx, env.Alice, env.Clock.Now()))
	assert.False(t, forumRow().Unread)

	env.Reply(t, env.Bob, topic.ID)
	assert.True(t, forumRow().Unread)
	require.NoError(t, env.Reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, topic.ID)))
	assert.False(t, env.Unread(t, env.Alice, topic.ID))
	assert.True(t, forumRow().Unread, "forums ignore topic marks")

	require.NoError(t, env.Reads.AdvanceGlobalFloor(env.Ctx, env.Alice, env.Clock.Now()))
	assert.False(t, forumRow().Unread)
}

func testReadStateMarkCap(t *testing.T, env *Env) {
	reads := forum.NewReadTracker(env.Store, zerolog.Nop(), forum.WithReadMarkLimit(2), forum.WithReadClock(env.Clock.Now))
	var ids []int64
	for _, name := range []string{"one", "two", "three"} {
		topic, _ := env.NewTopic(t, env.Bob, env.Forum.ID, name)
		ids = append(ids, topic.ID)
		require.NoError(t, reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, topic.ID)))
	}

	state, err := reads.State(env.Ctx, env.Alice)
	require.NoError(t, err)
	assert.Len(t, state.Topics, 2)
	assert.NotContains(t, state.Topics, ids[0], "least recently read mark is evicted")
	assert.Contains(t, state.Topics, ids[1])
	assert.Contains(t, state.Topics, ids[2])

	unread, err := reads.IsUnread(env.Ctx, env.Alice, env.Topic(t, ids[0]))
	require.NoError(t, err)
	assert.True(t, unread, "evicted topics fall back to the floor")
}

func testReadStateRevisit(t *testing.T, env *Env) {
	reads := forum.NewReadTracker(env.Store, zerolog.Nop(), forum.WithReadMarkLimit(2), forum.WithReadClock(env.Clock.Now))
	one, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "one")
	two, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "two")
	require.NoError(t, reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, one.ID)))
	require.NoError(t, reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, two.ID)))

	require.NoError(t, reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, one.ID)), "revisit with nothing new")
	three, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "three")
	require.NoError(t, reads.MarkTopicRead(env.Ctx, env.Alice, env.Topic(t, three.ID)))

	state, err := reads.State(env.Ctx, env.Alice)
	require.NoError(t, err)
	assert.Len(t, state.Topics, 2)
	assert.Contains(t, state.Topics, one.ID, "revisited mark survives")
	assert.NotContains(t, state.Topics, two.ID)
	assert.Contains(t, state.Topics, three.ID)
	assert.Equal(t, *env.Topic(t, one.ID).LastPostID, state.Topics[one.ID])
}

func testDeletePermissions(t *testing.T, env *Env) {
	topic, head := env.NewTopic(t, env.Alice, env.Forum.ID, "debate")
	reply := env.Reply(t, env.Bob, topic.ID)
	last := env.Reply(t, env.Alice, topic.ID)

	_, err := env.Posts.DeletePost(env.Ctx, env.Alice, head.ID)
	assert.Equal(t, forum.ReasonNotAuthor, forum.ErrorReason(err), "authors may only delete the latest post")
	_, err = env.Posts.DeletePost(env.Ctx, env.Alice, reply.ID)
	assert.Equal(t, forum.ReasonNotAuthor, forum.ErrorReason(err))

	res, err := env.Posts.DeletePost(env.Ctx, env.Alice, last.ID)
	require.NoError(t, err)
	assert.False(t, res.TopicDeleted)
	env.AssertTopicAggregate(t, topic.ID)

	_, err = env.Posts.DeletePost(env.Ctx, env.Mod, head.ID)
	require.NoError(t, err)
	got := env.Topic(t, topic.ID)
	assert.Equal(t, 1, got.PostCount)
	require.NotNil(t, got.LastPostID)
	assert.Equal(t, reply.ID, *got.LastPostID)
	env.AssertForumAggregate(t, env.Forum.ID)

	_, err = env.Posts.DeletePost(env.Ctx, env.Mod, head.ID)
	assert.True(t, errors.Is(err, forum.ErrNotFound))
}

func testDeleteOnlyPost(t *testing.T, env *Env) {
	keep, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "keep")
	topic, head := env.NewTopic(t, env.Alice, env.Forum.ID, "oops")

	res, err := env.Posts.DeletePost(env.Ctx, env.Alice, head.ID)
	require.NoError(t, err)
	assert.True(t, res.TopicDeleted)
	assert.Equal(t, env.Forum.ID, res.ForumID)

	_, err = env.Store.GetTopic(env.Ctx, topic.ID)
	assert.True(t, errors.Is(err, forum.ErrNotFound))
	f := env.ForumByID(t, env.Forum.ID)
	assert.Equal(t, 1, f.TopicCount)
	require.NotNil(t, f.LastPostID)
	assert.Equal(t, *env.Topic(t, keep.ID).LastPostID, *f.LastPostID)
	env.AssertForumAggregate(t, env.Forum.ID)
}

func testEditPermissions(t *testing.T, env *Env) {
	topic, head := env.NewTopic(t, env.Alice, env.Forum.ID, "draft")
	before := env.Topic(t, topic.ID)

	_, err := env.Posts.EditPost(env.Ctx, env.Bob, head.ID, forum.PostEdit{Body: "vandalism"})
	assert.Equal(t, forum.ReasonNotAuthor, forum.ErrorReason(err))

	edited, err := env.Posts.EditPost(env.Ctx, env.Alice, head.ID, forum.PostEdit{Body: "final"})
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Body)
	require.NotNil(t, edited.Edited)

	_, err = env.Posts.EditPost(env.Ctx, env.Mod, head.ID, forum.PostEdit{Body: "moderated"})
	require.NoError(t, err)
	stored, err := env.Store.GetPost(env.Ctx, head.ID)
	require.NoError(t, err)
	assert.Equal(t, "moderated", stored.Body)
	require.NotNil(t, stored.Edited)

	after := env.Topic(t, topic.ID)
	assert.Equal(t, before.PostCount, after.PostCount)
	assert.Equal(t, before.LastPostID, after.LastPostID)

	_, err = env.Posts.EditPost(env.Ctx, env.Alice, head.ID, forum.PostEdit{Body: "   "})
	assert.Equal(t, forum.CodeInvalidArgument, forum.ErrorCode(err))
}

func testEditHeadPostRenames(t *testing.T, env *Env) {
	topic, head := env.NewTopic(t, env.Alice, env.Forum.ID, "first title")
	reply := env.Reply(t, env.Bob, topic.ID)

	_, err := env.Posts.EditPost(env.Ctx, env.Alice, head.ID, forum.PostEdit{Body: "body", Title: "  better title "})
	require.NoError(t, err)
	assert.Equal(t, "better title", env.Topic(t, topic.ID).Name)

	_, err = env.Posts.EditPost(env.Ctx, env.Bob, reply.ID, forum.PostEdit{Body: "reply", Title: "hijacked"})
	assert.Equal(t, forum.CodeInvalidArgument, forum.ErrorCode(err))
	stored, err := env.Store.GetPost(env.Ctx, reply.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Edited, "rejected edit leaves the post alone")

	_, err = env.Posts.EditPost(env.Ctx, env.Mod, head.ID, forum.PostEdit{Body: "moderated"})
	require.NoError(t, err)
	assert.Equal(t, "better title", env.Topic(t, topic.ID).Name)
}

func testClosedTopics(t *testing.T, env *Env) {
	topic, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "locked")

	_, err := env.Posts.SetClosed(env.Ctx, env.Alice, topic.ID, true)
	assert.True(t, errors.Is(err, forum.ErrNotModerator))

	closed, err := env.Posts.SetClosed(env.Ctx, env.Mod, topic.ID, true)
	require.NoError(t, err)
	assert.True(t, closed.Closed)

	for _, actor := range []forum.Viewer{env.Bob, env.Mod} {
		_, err = env.Posts.AddPost(env.Ctx, actor, topic.ID, "let me in")
		assert.Equal(t, forum.ReasonTopicClosed, forum.ErrorReason(err))
	}
	assert.Equal(t, 1, env.Topic(t, topic.ID).PostCount)

	_, err = env.Posts.SetClosed(env.Ctx, env.Mod, topic.ID, false)
	require.NoError(t, err)
	env.Reply(t, env.Bob, topic.ID)
	env.AssertTopicAggregate(t, topic.ID)
}

func testWritesNeedAuthentication(t *testing.T, env *Env) {
	topic, head := env.NewTopic(t, env.Alice, env.Forum.ID, "guarded")

	_, _, err := env.Posts.CreateTopic(env.Ctx, forum.Anonymous, env.Forum.ID, "x", "y")
	assert.Equal(t, forum.ReasonUnauthenticated, forum.ErrorReason(err))
	_, err = env.Posts.AddPost(env.Ctx, forum.Anonymous, topic.ID, "hi")
	assert.Equal(t, forum.ReasonUnauthenticated, forum.ErrorReason(err))
	_, err = env.Posts.DeletePost(env.Ctx, forum.Anonymous, head.ID)
	assert.Equal(t, forum.ReasonUnauthenticated, forum.ErrorReason(err))

	_, _, err = env.Posts.CreateTopic(env.Ctx, env.Alice, env.Forum.ID+1000, "nowhere", "body")
	assert.True(t, errors.Is(err, forum.ErrNotFound))
	_, err = env.Posts.AddPost(env.Ctx, env.Alice, topic.ID+1000, "hi")
	assert.True(t, errors.Is(err, forum.ErrNotFound))
}

func testViewTopic(t *testing.T, env *Env) {
	topic, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "popular")
	assert.True(t, env.Unread(t, env.Alice, topic.ID))

	_, err := env.Posts.ViewTopic(env.Ctx, env.Alice, topic.ID)
	require.NoError(t, err)
	viewed, err := env.Posts.ViewTopic(env.Ctx, forum.Anonymous, topic.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, viewed.Views)
	assert.False(t, env.Unread(t, env.Alice, topic.ID))

	_, err = env.Posts.ViewTopic(env.Ctx, env.Alice, topic.ID+1000)
	assert.True(t, errors.Is(err, forum.ErrNotFound))
}

func testPostLocation(t *testing.T, env *Env) {
	topic, head := env.NewTopic(t, env.Alice, env.Forum.ID, "long")
	posts := []forum.Post{head}
	for i := 0; i < 4; i++ {
		posts = append(posts, env.Reply(t, env.Bob, topic.ID))
	}

	for i, want := range []int{1, 1, 2, 2, 3} {
		topicID, page, err := env.Posts.PostLocation(env.Ctx, posts[i].ID, 2)
		require.NoError(t, err)
		assert.Equal(t, topic.ID, topicID)
		assert.Equal(t, want, page, "post %d", i)
	}
	_, _, err := env.Posts.PostLocation(env.Ctx, head.ID, 0)
	assert.Equal(t, forum.CodeInvalidArgument, forum.ErrorCode(err))
}

func testForumPageOrdering(t *testing.T, env *Env) {
	oldest, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "oldest")
	middle, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "middle")
	newest, _ := env.NewTopic(t, env.Bob, env.Forum.ID, "newest")
	_, err := env.Posts.SetSticky(env.Ctx, env.Mod, oldest.ID, true)
	require.NoError(t, err)
	_, err = env.Posts.ViewTopic(env.Ctx, env.Alice, middle.ID)
	require.NoError(t, err)

	page, err := env.Lister.ForumPage(env.Ctx, env.Alice, env.Forum.ID, 1)
	require.NoError(t, err)
	require.Len(t, page.Topics, 3)
	var order []int64
	for _, row := range page.Topics {
		order = append(order, row.Topic.ID)
		require.NotNil(t, row.LastPost)
		assert.Equal(t, *row.Topic.LastPostID, row.LastPost.ID)
	}
	assert.Equal(t, []int64{oldest.ID, newest.ID, middle.ID}, order)
	assert.True(t, page.Topics[0].Unread)
	assert.True(t, page.Topics[1].Unread)
	assert.False(t, page.Topics[2].Unread)
	assert.Equal(t, 1, page.Pagination.TotalPages)
	assert.False(t, page.Pagination.HasNext)

	_, err = env.Lister.ForumPage(env.Ctx, env.Alice, env.Forum.ID+1000, 1)
	assert.True(t, errors.Is(err, forum.ErrNotFound))
}

func testIndexAndDanglingLastPost(t *testing.T, env *Env) {
	require.NoError(t, env.Reads.AdvanceGlobalFloor(env.Ctx, env.Alice, env.Clock.Now()))
	topic, _ := env.NewTopic(t, env.Alice, env.Forum.ID, "dangling")
	reply := env.Reply(t, env.Bob, topic.ID)

	require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
		return tx.DeletePost(env.Ctx, reply.ID)
	}))

	index, err := env.Lister.Index(env.Ctx, env.Alice)
	require.NoError(t, err)
	require.Len(t, index.Categories, 1)
	rows := index.Categories[0].Forums
	require.Len(t, rows, 2)
	assert.Equal(t, env.Forum.ID, rows[0].Forum.ID)
	assert.Nil(t, rows[0].LastPost, "stale reference resolves to no post")
	assert.True(t, rows[0].Unread)
	assert.Nil(t, rows[1].LastPost)
	assert.False(t, rows[1].Unread, "empty forums are never unread")

	page, err := env.Lister.ForumPage(env.Ctx, env.Alice, env.Forum.ID, 1)
	require.NoError(t, err)
	require.Len(t, page.Topics, 1)
	assert.Nil(t, page.Topics[0].LastPost)
	assert.True(t, page.Topics[0].Unread)

	require.NoError(t, env.Store.InTx(env.Ctx, func(tx forum.Tx) error {
		if _, err := env.Aggregates.Refresh(env.Ctx, tx, forum.TopicOwner(topic.ID)); err != nil {
			return err
		}
		_, err := env.Aggregates.Refresh(env.Ctx, tx, forum.ForumOwner(env.Forum.ID))
		return err
	}))
	env.AssertTopicAggregate(t, topic.ID)
	env.AssertForumAggregate(t, env.Forum.ID)
}

func testTopicPagePagination(t *testing.T, env *Env) {
	topic, head := env.NewTopic(t, env.Alice, env.Forum.ID, "paged")
	for i := 0; i < 11; i++ {
		env.Reply(t, env.Bob, topic.ID)
	}

	first, err := env.Lister.TopicPage(env.Ctx, topic.ID, 1)
	require.NoError(t, err)
	require.Len(t, first.Posts, 10)
	assert.Equal(t, head.ID, first.Posts[0].ID)
	assert.Equal(t, 2, first.Pagination.TotalPages)
	assert.True(t, first.Pagination.HasNext)

	second, err := env.Lister.TopicPage(env.Ctx, topic.ID, 2)
	require.NoError(t, err)
	require.Len(t, second.Posts, 2)
	assert.Equal(t, *second.Topic.LastPostID, second.Posts[1].ID)
	assert.True(t, second.Pagination.HasPrev)
	assert.False(t, second.Pagination.HasNext)
}

func testUserPages(t *testing.T, env *Env) {
	for _, name := range []string{"a1", "a2", "a3"} {
		env.NewTopic(t, env.Alice, env.Forum.ID, name)
	}
	env.NewTopic(t, env.Bob, env.Other.ID, "b1")

	details, err := env.Lister.UserDetails(env.Ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, env.Alice.UserID, details.User.ID)
	assert.Equal(t, 3, details.TopicCount)
	_, err = env.Lister.UserDetails(env.Ctx, "nobody")
	assert.True(t, errors.Is(err, forum.ErrNotFound))

	lister := forum.NewLister(env.Store, env.Reads, forum.WithPageSizes(2, 10), forum.WithUserPageSize(2))
	names := func(rows []forum.TopicRow) []string {
		var out []string
		for _, row := range rows {
			out = append(out, row.Topic.Name)
		}
		return out
	}
	first, err := lister.UserTopics(env.Ctx, env.Bob, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2"}, names(first.Topics))
	assert.Equal(t, 2, first.Pagination.TotalPages)
	assert.True(t, first.Pagination.HasNext)
	require.NotNil(t, first.Topics[0].LastPost)
	assert.Equal(t, *first.Topics[0].Topic.LastPostID, first.Topics[0].LastPost.ID)
	second, err := lister.UserTopics(env.Ctx, env.Bob, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, names(second.Topics))

	handles := func(users []forum.User) []string {
		out := []string{}
		for _, u := range users {
			out = append(out, u.Handle)
		}
		return out
	}
	all, err := lister.Users(env.Ctx, "", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, handles(all.Users))
	assert.Equal(t, 2, all.Pagination.TotalPages)
	rest, err := lister.Users(env.Ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"mod"}, handles(rest.Users))

	matched, err := lister.Users(env.Ctx, "O", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "mod"}, handles(matched.Users))
	none, err := lister.Users(env.Ctx, "zzz", 1)
	require.NoError(t, err)
	assert.Empty(t, none.Users)
	assert.Equal(t, 1, none.Pagination.TotalPages)
}
