package forum

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTopicUnread(t *testing.T) {
	floor := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
	user := Viewer{UserID: "u", Authenticated: true}
	last := int64(40)
	topic := Topic{ID: 3, LastPostID: &last, Updated: floor.Add(5 * time.Minute)}
	post := &Post{ID: 40, TopicID: 3, Created: topic.Updated}

	tests := []struct {
		name   string
		viewer Viewer
		topic  Topic
		post   *Post
		state  ReadState
		want   bool
	}{
		{"anonymous", Anonymous, topic, post, ReadState{}, false},
		{"newer than floor", user, topic, post, ReadState{LastRead: floor}, true},
		{"no floor yet", user, topic, post, ReadState{}, true},
		{"floor covers post", user, topic, post, ReadState{LastRead: floor.Add(time.Hour)}, false},
		{"floor equals post", user, topic, post, ReadState{LastRead: post.Created}, false},
		{"floor covers despite stale mark", user, topic, post, ReadState{
			LastRead: floor.Add(time.Hour), Topics: map[int64]int64{3: 1},
		}, false},
		{"marked at last post", user, topic, post, ReadState{LastRead: floor, Topics: map[int64]int64{3: 40}}, false},
		{"marked before last post", user, topic, post, ReadState{LastRead: floor, Topics: map[int64]int64{3: 39}}, true},
		{"missing post uses updated", user, topic, nil, ReadState{LastRead: floor}, true},
		{"empty topic", user, Topic{ID: 9}, nil, ReadState{LastRead: floor}, false},
		{"mark but no last post id", user, Topic{ID: 3, Updated: topic.Updated}, nil, ReadState{
			LastRead: floor, Topics: map[int64]int64{3: 40},
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTopicUnread(tc.viewer, tc.topic, tc.post, tc.state))
		})
	}
}

func TestIsForumUnreadIgnoresTopicMarks(t *testing.T) {
	floor := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
	user := Viewer{UserID: "u", Authenticated: true}
	last := int64(40)
	f := Forum{ID: 1, LastPostID: &last, Updated: floor.Add(time.Minute)}
	post := &Post{ID: 40, TopicID: 3, Created: f.Updated}
	marked := ReadState{LastRead: floor, Topics: map[int64]int64{3: 40}}

	assert.True(t, IsForumUnread(user, f, post, marked))
	assert.False(t, IsForumUnread(user, f, post, ReadState{LastRead: f.Updated}))
	assert.False(t, IsForumUnread(Anonymous, f, post, marked))
	assert.False(t, IsForumUnread(user, Forum{ID: 2}, nil, ReadState{}))
	assert.False(t, IsForumUnread(user, f, post, ReadState{Topics: map[int64]int64{}}), "no floor yet")
}

func TestMergeWorkingSet(t *testing.T) {
	assert.Equal(t, []int64{2, 5, 9}, mergeWorkingSet(MergeRequest{TargetID: 5, SourceIDs: []int64{9, 2, 5, 9}}))
	assert.Equal(t, []int64{5}, mergeWorkingSet(MergeRequest{TargetID: 5}))
}

func TestNewPagination(t *testing.T) {
	p := newPagination(2, 101, 50)
	assert.Equal(t, PaginationData{CurrentPage: 2, TotalPages: 3, NextPage: 3, PrevPage: 1, HasNext: true, HasPrev: true}, p)
	assert.Equal(t, 1, newPagination(1, 0, 50).TotalPages)
	assert.False(t, newPagination(1, 0, 50).HasNext)
}
