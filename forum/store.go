package forum

import (
	"context"
	"time"
)

// PostLoader fetches many posts with a single lookup. Missing ids are
// simply absent from the result.
type PostLoader interface {
	PostsByIDs(ctx context.Context, ids []int64) (map[int64]Post, error)
}

// Reader holds the queries list and detail pages need. Missing entities
// are reported as CodeNotFound errors.
type Reader interface {
	PostLoader

	ListCategories(ctx context.Context) ([]Category, error)
	ListForums(ctx context.Context) ([]Forum, error)
	GetForum(ctx context.Context, id int64) (Forum, error)
	GetTopic(ctx context.Context, id int64) (Topic, error)
	GetPost(ctx context.Context, id int64) (Post, error)
	// ListTopics orders sticky topics first, then by most recent activity.
	ListTopics(ctx context.Context, forumID int64, limit, offset int) ([]Topic, error)
	// ListPosts orders by (created, id) ascending.
	ListPosts(ctx context.Context, topicID int64, limit, offset int) ([]Post, error)
	// CountPostsBefore counts the topic's posts ordered strictly before (created, id).
	CountPostsBefore(ctx context.Context, topicID int64, created time.Time, id int64) (int, error)

	// GetReadState returns an empty state when the user has none yet.
	GetReadState(ctx context.Context, userID string) (ReadState, error)
	IsModerator(ctx context.Context, userID string, forumID int64) (bool, error)
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByHandle(ctx context.Context, handle string) (User, error)
	// ListUsers orders by handle. A non-empty search keeps handles that
	// contain it, ignoring case.
	ListUsers(ctx context.Context, search string, limit, offset int) ([]User, error)
	CountUsers(ctx context.Context, search string) (int, error)
	// ListTopicsByAuthor orders newest first.
	ListTopicsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]Topic, error)
	CountTopicsByAuthor(ctx context.Context, authorID string) (int, error)
}

// Tx is a single atomic unit of work against the store.
type Tx interface {
	Reader

	CreateCategory(ctx context.Context, category *Category) error
	CreateForum(ctx context.Context, forum *Forum) error
	CreateUser(ctx context.Context, user *User) error
	AddModerator(ctx context.Context, forumID int64, userID string) error

	CreateTopic(ctx context.Context, topic *Topic) error
	DeleteTopic(ctx context.Context, id int64) error
	SetTopicFlags(ctx context.Context, id int64, sticky, closed bool) error
	RenameTopic(ctx context.Context, id int64, name string) error
	IncrementTopicViews(ctx context.Context, id int64) error

	CreatePost(ctx context.Context, post *Post) error
	UpdatePostBody(ctx context.Context, id int64, body string, edited time.Time) error
	DeletePost(ctx context.Context, id int64) error
	// ReassignPosts moves every post of the from topics to the target and
	// returns the ids of the moved posts.
	ReassignPosts(ctx context.Context, from []int64, to int64) ([]int64, error)

	// LockTopics and LockForums take row locks in ascending id order.
	// Callers lock all topics before any forum.
	LockTopics(ctx context.Context, ids []int64) ([]Topic, error)
	LockForums(ctx context.Context, ids []int64) error

	CountPosts(ctx context.Context, owner Owner) (int, error)
	CountForumTopics(ctx context.Context, forumID int64) (int, error)
	// LatestPost returns the owned post with the greatest (created, id).
	LatestPost(ctx context.Context, owner Owner) (Post, bool, error)
	OwnsPost(ctx context.Context, owner Owner, postID int64) (bool, error)
	SaveAggregate(ctx context.Context, owner Owner, agg Aggregate) error

	// PutReadMark records postID for the topic unless a greater id is
	// already recorded, creating the user's read state if needed. The
	// mark's touch time is updated either way.
	PutReadMark(ctx context.Context, userID string, topicID, postID int64, at time.Time) error
	// PruneReadMarks keeps only the keep most recently touched marks.
	PruneReadMarks(ctx context.Context, userID string, keep int) error
	// SetReadFloor sets the user's floor and removes every topic mark.
	SetReadFloor(ctx context.Context, userID string, floor time.Time) error
}

// Store is implemented by the Postgres Database and the SQLite store.
type Store interface {
	Reader
	// InTx runs fn in one transaction, committing only when fn returns nil.
	// Serialization failures surface as CodeTxConflict errors.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
