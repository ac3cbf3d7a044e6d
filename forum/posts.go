package forum

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PostInvalidator is told about posts whose cached copies went stale.
type PostInvalidator interface {
	Forget(ctx context.Context, ids ...int64) error
}

type noopInvalidator struct{}

func (noopInvalidator) Forget(context.Context, ...int64) error { return nil }

// PostService is the only writer of posts. Every mutation commits the post
// change and refreshes the owning topic, then its forum, in one transaction.
type PostService struct {
	store      Store
	aggregates *AggregateTracker
	reads      *ReadTracker
	log        zerolog.Logger
	retry      RetryPolicy
	now        func() time.Time
	invalidate PostInvalidator
}

type PostServiceOption func(*PostService)

func WithClock(now func() time.Time) PostServiceOption {
	return func(s *PostService) { s.now = now }
}

func WithRetryPolicy(policy RetryPolicy) PostServiceOption {
	return func(s *PostService) { s.retry = policy }
}

func WithInvalidator(inv PostInvalidator) PostServiceOption {
	return func(s *PostService) {
		if inv != nil {
			s.invalidate = inv
		}
	}
}

func NewPostService(store Store, aggregates *AggregateTracker, reads *ReadTracker, log zerolog.Logger, opts ...PostServiceOption) *PostService {
	s := &PostService{
		store:      store,
		aggregates: aggregates,
		reads:      reads,
		log:        log.With().Str("component", "posts").Logger(),
		retry:      DefaultRetryPolicy(),
		now:        defaultClock,
		invalidate: noopInvalidator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTopic opens a topic in forumID with body as its head post.
func (s *PostService) CreateTopic(ctx context.Context, actor Viewer, forumID int64, name, body string) (Topic, Post, error) {
	if err := requireAuthor(actor); err != nil {
		return Topic{}, Post{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(body) == "" {
		return Topic{}, Post{}, newError(CodeInvalidArgument, "topic name and body are required")
	}

	var (
		topic Topic
		post  Post
	)
	err := runTx(ctx, s.store, s.retry, s.log, "create_topic", func(tx Tx) error {
		if _, err := tx.GetForum(ctx, forumID); err != nil {
			return err
		}
		if err := tx.LockForums(ctx, []int64{forumID}); err != nil {
			return err
		}
		now := s.now()
		topic = Topic{ForumID: forumID, Name: name, AuthorID: actor.UserID, Created: now}
		if err := tx.CreateTopic(ctx, &topic); err != nil {
			return fmt.Errorf("create topic: %w", err)
		}
		post = Post{TopicID: topic.ID, AuthorID: actor.UserID, Body: body, Created: now}
		if err := tx.CreatePost(ctx, &post); err != nil {
			return fmt.Errorf("create head post: %w", err)
		}
		if err := s.refresh(ctx, tx, topic.ID, forumID); err != nil {
			return err
		}
		var err error
		topic, err = tx.GetTopic(ctx, topic.ID)
		return err
	})
	if err != nil {
		return Topic{}, Post{}, err
	}
	return topic, post, nil
}

// AddPost appends a reply to an open topic.
func (s *PostService) AddPost(ctx context.Context, actor Viewer, topicID int64, body string) (Post, error) {
	if err := requireAuthor(actor); err != nil {
		return Post{}, err
	}
	if strings.TrimSpace(body) == "" {
		return Post{}, newError(CodeInvalidArgument, "post body is required")
	}

	var post Post
	err := runTx(ctx, s.store, s.retry, s.log, "add_post", func(tx Tx) error {
		topic, err := lockTopic(ctx, tx, topicID)
		if err != nil {
			return err
		}
		if topic.Closed {
			return preconditionError(ReasonTopicClosed, "topic is closed")
		}
		if err := tx.LockForums(ctx, []int64{topic.ForumID}); err != nil {
			return err
		}
		post = Post{TopicID: topicID, AuthorID: actor.UserID, Body: body, Created: s.now()}
		if err := tx.CreatePost(ctx, &post); err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		return s.refresh(ctx, tx, topicID, topic.ForumID)
	})
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

// PostEdit is the new content of a post. Title renames the topic and is
// only accepted on the topic's first post; empty leaves the name alone.
type PostEdit struct {
	Body  string `json:"body"`
	Title string `json:"title,omitempty"`
}

// EditPost replaces a post's body. Authors may edit their own posts,
// moderators any post.
func (s *PostService) EditPost(ctx context.Context, actor Viewer, postID int64, edit PostEdit) (Post, error) {
	if err := requireAuthor(actor); err != nil {
		return Post{}, err
	}
	body := edit.Body
	if strings.TrimSpace(body) == "" {
		return Post{}, newError(CodeInvalidArgument, "post body is required")
	}
	title := strings.TrimSpace(edit.Title)

	var post Post
	err := runTx(ctx, s.store, s.retry, s.log, "edit_post", func(tx Tx) error {
		var err error
		if post, err = tx.GetPost(ctx, postID); err != nil {
			return err
		}
		topic, err := lockTopic(ctx, tx, post.TopicID)
		if err != nil {
			return err
		}
		if err := tx.LockForums(ctx, []int64{topic.ForumID}); err != nil {
			return err
		}
		if post.AuthorID != actor.UserID {
			mod, err := tx.IsModerator(ctx, actor.UserID, topic.ForumID)
			if err != nil {
				return err
			}
			if !mod {
				return preconditionError(ReasonNotAuthor, "only the author or a moderator may edit this post")
			}
		}
		if title != "" {
			head, err := tx.ListPosts(ctx, topic.ID, 1, 0)
			if err != nil {
				return fmt.Errorf("load first post: %w", err)
			}
			if len(head) == 0 || head[0].ID != postID {
				return newError(CodeInvalidArgument, "only the first post of a topic carries its title")
			}
			if err := tx.RenameTopic(ctx, topic.ID, title); err != nil {
				return fmt.Errorf("rename topic: %w", err)
			}
		}
		edited := s.now()
		if err := tx.UpdatePostBody(ctx, postID, body, edited); err != nil {
			return fmt.Errorf("update post: %w", err)
		}
		post.Body = body
		post.Edited = &edited
		return s.refresh(ctx, tx, topic.ID, topic.ForumID)
	})
	if err != nil {
		return Post{}, err
	}
	s.forget(ctx, postID)
	return post, nil
}

// DeleteResult tells the caller where to go after a deletion.
type DeleteResult struct {
	TopicID      int64 `json:"topic_id"`
	ForumID      int64 `json:"forum_id"`
	TopicDeleted bool  `json:"topic_deleted"`
}

// DeletePost removes a post. Moderators may delete any post; authors only
// the latest post of a topic. Removing a topic's only post removes the topic.
func (s *PostService) DeletePost(ctx context.Context, actor Viewer, postID int64) (DeleteResult, error) {
	if err := requireAuthor(actor); err != nil {
		return DeleteResult{}, err
	}

	var res DeleteResult
	err := runTx(ctx, s.store, s.retry, s.log, "delete_post", func(tx Tx) error {
		post, err := tx.GetPost(ctx, postID)
		if err != nil {
			return err
		}
		topic, err := lockTopic(ctx, tx, post.TopicID)
		if err != nil {
			return err
		}
		if err := tx.LockForums(ctx, []int64{topic.ForumID}); err != nil {
			return err
		}
		if err := s.canDelete(ctx, tx, actor, post, topic); err != nil {
			return err
		}
		if err := tx.DeletePost(ctx, postID); err != nil {
			return fmt.Errorf("delete post: %w", err)
		}
		res = DeleteResult{TopicID: topic.ID, ForumID: topic.ForumID}

		left, err := tx.CountPosts(ctx, TopicOwner(topic.ID))
		if err != nil {
			return err
		}
		if left == 0 {
			if err := tx.DeleteTopic(ctx, topic.ID); err != nil {
				return fmt.Errorf("delete empty topic: %w", err)
			}
			res.TopicDeleted = true
		} else if _, err := s.aggregates.Refresh(ctx, tx, TopicOwner(topic.ID)); err != nil {
			return err
		}
		_, err = s.aggregates.Refresh(ctx, tx, ForumOwner(topic.ForumID))
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.forget(ctx, postID)
	return res, nil
}

func (s *PostService) canDelete(ctx context.Context, tx Tx, actor Viewer, post Post, topic Topic) error {
	mod, err := tx.IsModerator(ctx, actor.UserID, topic.ForumID)
	if err != nil {
		return err
	}
	if mod {
		return nil
	}
	if post.AuthorID != actor.UserID {
		return preconditionError(ReasonNotAuthor, "only the author or a moderator may delete this post")
	}
	latest, ok, err := tx.LatestPost(ctx, TopicOwner(topic.ID))
	if err != nil {
		return err
	}
	if !ok || latest.ID != post.ID {
		return preconditionError(ReasonNotAuthor, "authors may only delete the latest post of a topic")
	}
	return nil
}

// SetSticky pins or unpins a topic.
func (s *PostService) SetSticky(ctx context.Context, actor Viewer, topicID int64, sticky bool) (Topic, error) {
	return s.updateFlags(ctx, actor, topicID, func(t *Topic) { t.Sticky = sticky })
}

// SetClosed closes or reopens a topic for replies.
func (s *PostService) SetClosed(ctx context.Context, actor Viewer, topicID int64, closed bool) (Topic, error) {
	return s.updateFlags(ctx, actor, topicID, func(t *Topic) { t.Closed = closed })
}

func (s *PostService) updateFlags(ctx context.Context, actor Viewer, topicID int64, apply func(*Topic)) (Topic, error) {
	if err := requireAuthor(actor); err != nil {
		return Topic{}, err
	}
	var topic Topic
	err := runTx(ctx, s.store, s.retry, s.log, "topic_flags", func(tx Tx) error {
		var err error
		if topic, err = lockTopic(ctx, tx, topicID); err != nil {
			return err
		}
		mod, err := tx.IsModerator(ctx, actor.UserID, topic.ForumID)
		if err != nil {
			return err
		}
		if !mod {
			return ErrNotModerator
		}
		apply(&topic)
		return tx.SetTopicFlags(ctx, topicID, topic.Sticky, topic.Closed)
	})
	if err != nil {
		return Topic{}, err
	}
	return topic, nil
}

// ViewTopic counts a view and, for signed-in viewers, marks the topic read.
// A failed read mark is logged rather than failing the page.
func (s *PostService) ViewTopic(ctx context.Context, viewer Viewer, topicID int64) (Topic, error) {
	var topic Topic
	err := runTx(ctx, s.store, s.retry, s.log, "view_topic", func(tx Tx) error {
		if err := tx.IncrementTopicViews(ctx, topicID); err != nil {
			return err
		}
		var err error
		topic, err = tx.GetTopic(ctx, topicID)
		return err
	})
	if err != nil {
		return Topic{}, err
	}
	if err := s.reads.MarkTopicRead(ctx, viewer, topic); err != nil {
		s.log.Error().Err(err).Int64("topic_id", topicID).Msg("mark topic read")
	}
	return topic, nil
}

// PostLocation returns the topic and 1-based page holding the post.
func (s *PostService) PostLocation(ctx context.Context, postID int64, pageSize int) (int64, int, error) {
	if pageSize < 1 {
		return 0, 0, newError(CodeInvalidArgument, "page size must be positive")
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return 0, 0, err
	}
	before, err := s.store.CountPostsBefore(ctx, post.TopicID, post.Created, post.ID)
	if err != nil {
		return 0, 0, err
	}
	return post.TopicID, before/pageSize + 1, nil
}

func (s *PostService) refresh(ctx context.Context, tx Tx, topicID, forumID int64) error {
	if _, err := s.aggregates.Refresh(ctx, tx, TopicOwner(topicID)); err != nil {
		return err
	}
	_, err := s.aggregates.Refresh(ctx, tx, ForumOwner(forumID))
	return err
}

func (s *PostService) forget(ctx context.Context, ids ...int64) {
	if err := s.invalidate.Forget(ctx, ids...); err != nil {
		s.log.Warn().Err(err).Ints64("post_ids", ids).Msg("forget cached posts")
	}
}

func lockTopic(ctx context.Context, tx Tx, id int64) (Topic, error) {
	topics, err := tx.LockTopics(ctx, []int64{id})
	if err != nil {
		return Topic{}, err
	}
	if len(topics) == 0 {
		return Topic{}, NotFoundError("topic", id)
	}
	return topics[0], nil
}

func requireAuthor(actor Viewer) error {
	if !actor.Authenticated {
		return preconditionError(ReasonUnauthenticated, "sign in to write")
	}
	return nil
}
