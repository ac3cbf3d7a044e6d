package forum_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/rexlx/volboard/forum"
	"github.com/rexlx/volboard/forum/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store   forum.Store
	forumID int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	f := forum.Forum{Name: "General"}
	require.NoError(t, store.InTx(ctx, func(tx forum.Tx) error {
		c := forum.Category{Name: "Main"}
		if err := tx.CreateCategory(ctx, &c); err != nil {
			return err
		}
		f.CategoryID = c.ID
		return tx.CreateForum(ctx, &f)
	}))

	log := zerolog.Nop()
	aggregates := forum.NewAggregateTracker(log)
	reads := forum.NewReadTracker(store, log)
	merges := forum.NewMergeCoordinator(store, aggregates, log, forum.DefaultRetryPolicy())
	posts := forum.NewPostService(store, aggregates, reads, log)
	lister := forum.NewLister(store, reads)
	h := forum.NewHandlers(store, posts, reads, merges, lister, scs.New(), log)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(h.Session.LoadAndSave(mux))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store, forumID: f.ID}
}

func (s *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func do(t *testing.T, c *http.Client, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHandlersFlow(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.client(t)
	anon := srv.client(t)
	creds := map[string]string{"handle": "alice", "password": "correct horse"}

	var user forum.User
	require.Equal(t, http.StatusCreated, do(t, alice, "POST", srv.URL+"/register", creds, &user))
	assert.Equal(t, "alice", user.Handle)
	assert.Equal(t, http.StatusBadRequest, do(t, anon, "POST", srv.URL+"/register", creds, nil), "handle taken")

	var created struct {
		Topic forum.Topic `json:"topic"`
		Post  forum.Post  `json:"post"`
	}
	require.Equal(t, http.StatusCreated, do(t, alice, "POST",
		fmt.Sprintf("%s/forums/%d/topics", srv.URL, srv.forumID),
		map[string]string{"name": "Hello", "body": "first"}, &created))
	topicURL := fmt.Sprintf("%s/topics/%d", srv.URL, created.Topic.ID)

	var reply forum.Post
	require.Equal(t, http.StatusCreated, do(t, alice, "POST", topicURL+"/posts", map[string]string{"body": "second"}, &reply))

	var page forum.TopicViewData
	require.Equal(t, http.StatusOK, do(t, anon, "GET", topicURL, nil, &page))
	assert.Len(t, page.Posts, 2)
	assert.Equal(t, 2, page.Topic.PostCount)
	assert.Equal(t, 1, page.Topic.Views)

	var forumPage forum.ForumViewData
	require.Equal(t, http.StatusOK, do(t, alice, "GET", fmt.Sprintf("%s/forums/%d", srv.URL, srv.forumID), nil, &forumPage))
	require.Len(t, forumPage.Topics, 1)
	assert.True(t, forumPage.Topics[0].Unread)
	require.NotNil(t, forumPage.Topics[0].LastPost)
	assert.Equal(t, reply.ID, forumPage.Topics[0].LastPost.ID)

	require.Equal(t, http.StatusOK, do(t, alice, "GET", topicURL, nil, nil))
	require.Equal(t, http.StatusOK, do(t, alice, "GET", fmt.Sprintf("%s/forums/%d", srv.URL, srv.forumID), nil, &forumPage))
	assert.False(t, forumPage.Topics[0].Unread)

	var index forum.IndexViewData
	require.Equal(t, http.StatusOK, do(t, alice, "GET", srv.URL+"/forums", nil, &index))
	require.Len(t, index.Categories, 1)
	assert.False(t, index.Categories[0].Forums[0].Unread, "no floor yet")
	assert.Equal(t, http.StatusNoContent, do(t, alice, "POST", srv.URL+"/read/all", nil, nil))
	require.Equal(t, http.StatusOK, do(t, alice, "GET", srv.URL+"/forums", nil, &index))
	assert.False(t, index.Categories[0].Forums[0].Unread)

	var loc map[string]int64
	require.Equal(t, http.StatusOK, do(t, anon, "GET", fmt.Sprintf("%s/posts/%d", srv.URL, reply.ID), nil, &loc))
	assert.Equal(t, created.Topic.ID, loc["topic_id"])
	assert.EqualValues(t, 1, loc["page"])

	var second struct {
		Topic forum.Topic `json:"topic"`
	}
	require.Equal(t, http.StatusCreated, do(t, alice, "POST",
		fmt.Sprintf("%s/forums/%d/topics", srv.URL, srv.forumID),
		map[string]string{"name": "Again", "body": "dup"}, &second))
	assert.Equal(t, http.StatusForbidden, do(t, alice, "POST", srv.URL+"/topics/merge",
		forum.MergeRequest{TargetID: created.Topic.ID, SourceIDs: []int64{second.Topic.ID}}, nil))
	assert.Equal(t, http.StatusNotFound, do(t, alice, "POST", srv.URL+"/topics/merge",
		forum.MergeRequest{TargetID: created.Topic.ID, SourceIDs: []int64{second.Topic.ID + 100}}, nil))

	var details forum.UserDetailsData
	require.Equal(t, http.StatusOK, do(t, anon, "GET", srv.URL+"/users/alice", nil, &details))
	assert.Equal(t, 2, details.TopicCount)
	var mine forum.UserTopicsViewData
	require.Equal(t, http.StatusOK, do(t, anon, "GET", srv.URL+"/users/alice/topics", nil, &mine))
	require.Len(t, mine.Topics, 2)
	assert.Equal(t, second.Topic.ID, mine.Topics[0].Topic.ID)
	var users forum.UserListViewData
	require.Equal(t, http.StatusOK, do(t, anon, "GET", srv.URL+"/users?q=ALI", nil, &users))
	require.Len(t, users.Users, 1)
	assert.Equal(t, "alice", users.Users[0].Handle)

	var renamed forum.Post
	require.Equal(t, http.StatusOK, do(t, alice, "POST", fmt.Sprintf("%s/posts/%d/edit", srv.URL, created.Post.ID),
		forum.PostEdit{Body: "first, revised", Title: "Hello again"}, &renamed))
	var topicAfter forum.TopicViewData
	require.Equal(t, http.StatusOK, do(t, anon, "GET", topicURL, nil, &topicAfter))
	assert.Equal(t, "Hello again", topicAfter.Topic.Name)
	assert.Equal(t, http.StatusConflict, do(t, alice, "POST", srv.URL+"/topics/merge",
		forum.MergeRequest{TargetID: created.Topic.ID}, nil))

	var edited forum.Post
	require.Equal(t, http.StatusOK, do(t, alice, "POST", fmt.Sprintf("%s/posts/%d/edit", srv.URL, reply.ID),
		map[string]string{"body": "second, revised"}, &edited))
	assert.Equal(t, "second, revised", edited.Body)

	var deleted forum.DeleteResult
	require.Equal(t, http.StatusOK, do(t, alice, "POST", fmt.Sprintf("%s/posts/%d/delete", srv.URL, reply.ID), nil, &deleted))
	assert.False(t, deleted.TopicDeleted)

	assert.Equal(t, http.StatusNoContent, do(t, alice, "POST", srv.URL+"/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, alice, "POST", topicURL+"/posts", map[string]string{"body": "ghost"}, nil))

	assert.Equal(t, http.StatusUnauthorized, do(t, anon, "POST", srv.URL+"/login",
		map[string]string{"handle": "alice", "password": "wrong"}, nil))
	assert.Equal(t, http.StatusOK, do(t, anon, "POST", srv.URL+"/login", creds, nil))
	assert.Equal(t, http.StatusForbidden, do(t, anon, "POST", topicURL+"/sticky", map[string]bool{"value": true}, nil))
}

func TestHandlersRejectBadInput(t *testing.T) {
	srv := newTestServer(t)
	c := srv.client(t)

	assert.Equal(t, http.StatusBadRequest, do(t, c, "GET", srv.URL+"/topics/abc", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, c, "GET", srv.URL+"/topics/999", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, c, "GET", srv.URL+"/forums/999", nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, c, "GET", srv.URL+"/users/nobody", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, c, "POST", srv.URL+"/read/all", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, c, "POST", srv.URL+"/login", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, c, "POST", srv.URL+"/register",
		map[string]string{"handle": "bob", "password": "short"}, nil))
}
