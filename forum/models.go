// forum/models.go
package forum

import (
	"fmt"
	"time"
)

type Category struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Position int    `json:"position" db:"position"`
}

// Forum carries denormalized aggregates over every post of every topic it owns.
type Forum struct {
	ID         int64     `json:"id" db:"id"`
	CategoryID int64     `json:"category_id" db:"category_id"`
	Name       string    `json:"name" db:"name"`
	Position   int       `json:"position" db:"position"`
	PostCount  int       `json:"post_count" db:"post_count"`
	TopicCount int       `json:"topic_count" db:"topic_count"`
	LastPostID *int64    `json:"last_post_id" db:"last_post_id"`
	Updated    time.Time `json:"updated" db:"updated"` // zero while the forum has no posts
}

// Topic carries the same aggregates as Forum, scoped to its own posts.
// Updated always equals the Created of the post referenced by LastPostID.
type Topic struct {
	ID         int64     `json:"id" db:"id"`
	ForumID    int64     `json:"forum_id" db:"forum_id"`
	Name       string    `json:"name" db:"name"`
	AuthorID   string    `json:"author_id" db:"author_id"`
	Created    time.Time `json:"created" db:"created"`
	Updated    time.Time `json:"updated" db:"updated"`
	PostCount  int       `json:"post_count" db:"post_count"`
	LastPostID *int64    `json:"last_post_id" db:"last_post_id"`
	Views      int       `json:"views" db:"views"`
	Sticky     bool      `json:"sticky" db:"sticky"`
	Closed     bool      `json:"closed" db:"closed"`
}

// Post IDs are assigned by the store and increase monotonically, so they
// order posts even when two share a Created timestamp.
type Post struct {
	ID       int64      `json:"id" db:"id"`
	TopicID  int64      `json:"topic_id" db:"topic_id"`
	AuthorID string     `json:"author_id" db:"author_id"`
	Body     string     `json:"body" db:"body"`
	Created  time.Time  `json:"created" db:"created"`
	Edited   *time.Time `json:"edited,omitempty" db:"edited"`
}

// ReadState is one user's read floor plus per-topic overrides recorded
// after the floor was last advanced.
type ReadState struct {
	UserID   string          `json:"user_id"`
	LastRead time.Time       `json:"last_read"` // zero: no floor yet
	Topics   map[int64]int64 `json:"topics"`    // topic id -> last seen post id
}

// Viewer is the authentication collaborator's view of the requesting user.
type Viewer struct {
	UserID        string
	Authenticated bool
}

// Anonymous is the viewer of unauthenticated requests.
var Anonymous = Viewer{}

// OwnerKind selects the ownership predicate used when counting posts.
type OwnerKind int

const (
	KindTopic OwnerKind = iota + 1
	KindForum
)

func (k OwnerKind) String() string {
	switch k {
	case KindTopic:
		return "topic"
	case KindForum:
		return "forum"
	default:
		return fmt.Sprintf("owner(%d)", int(k))
	}
}

// Owner names an entity that owns posts, directly (topic) or through its
// topics (forum).
type Owner struct {
	Kind OwnerKind
	ID   int64
}

func TopicOwner(id int64) Owner { return Owner{Kind: KindTopic, ID: id} }
func ForumOwner(id int64) Owner { return Owner{Kind: KindForum, ID: id} }

func (o Owner) String() string {
	return fmt.Sprintf("%s:%d", o.Kind, o.ID)
}

// Aggregate is the denormalized summary persisted on a topic or forum.
type Aggregate struct {
	PostCount  int
	TopicCount int // forums only
	LastPostID *int64
	Updated    time.Time
	// Degraded is set when the latest post vanished twice during the
	// recompute; LastPostID is then left nil rather than dangling.
	Degraded bool
}

// MergeRequest consolidates SourceIDs into TargetID.
type MergeRequest struct {
	TargetID  int64   `json:"target_id"`
	SourceIDs []int64 `json:"source_ids"`
}

type MergeResult struct {
	TargetID        int64   `json:"target_id"`
	RefreshedForums []int64 `json:"refreshed_forums"`
	DeletedTopics   []int64 `json:"deleted_topics"`
	MovedPosts      int64   `json:"moved_posts"`
}
