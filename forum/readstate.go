package forum

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultReadMarkLimit caps the per-user topic override map.
const DefaultReadMarkLimit = 500

// IsTopicUnread reports whether the topic has content the viewer has not
// seen. lastPost may be nil, in which case topic.Updated stands in for its
// timestamp.
func IsTopicUnread(viewer Viewer, topic Topic, lastPost *Post, state ReadState) bool {
	if !viewer.Authenticated {
		return false
	}
	candidate, ok := candidateTime(topic.Updated, lastPost)
	if !ok || !candidate.After(state.LastRead) {
		return false
	}
	if seen, ok := state.Topics[topic.ID]; ok {
		return topic.LastPostID != nil && *topic.LastPostID > seen
	}
	return true
}

// IsForumUnread compares the forum's latest activity against the floor
// only. Forums have no per-entity overrides, so a viewer who never set a
// floor sees no forum as unread.
func IsForumUnread(viewer Viewer, forum Forum, lastPost *Post, state ReadState) bool {
	if !viewer.Authenticated || state.LastRead.IsZero() {
		return false
	}
	candidate, ok := candidateTime(forum.Updated, lastPost)
	if !ok {
		return false
	}
	return candidate.After(state.LastRead)
}

func candidateTime(updated time.Time, lastPost *Post) (time.Time, bool) {
	if lastPost != nil {
		return lastPost.Created, true
	}
	return updated, !updated.IsZero()
}

// ReadTracker maintains per-user read state: a coarse floor plus sparse
// per-topic marks for topics read after the floor was last advanced.
type ReadTracker struct {
	store     Store
	log       zerolog.Logger
	tracer    trace.Tracer
	markLimit int
	retry     RetryPolicy
	now       func() time.Time
}

type ReadTrackerOption func(*ReadTracker)

// WithReadMarkLimit caps the number of topic marks kept per user; the least
// recently touched are evicted first.
func WithReadMarkLimit(n int) ReadTrackerOption {
	return func(r *ReadTracker) {
		if n > 0 {
			r.markLimit = n
		}
	}
}

func WithReadRetry(policy RetryPolicy) ReadTrackerOption {
	return func(r *ReadTracker) { r.retry = policy }
}

func WithReadClock(now func() time.Time) ReadTrackerOption {
	return func(r *ReadTracker) { r.now = now }
}

func NewReadTracker(store Store, log zerolog.Logger, opts ...ReadTrackerOption) *ReadTracker {
	r := &ReadTracker{
		store:     store,
		log:       log.With().Str("component", "readstate").Logger(),
		tracer:    otel.Tracer(tracerName),
		markLimit: DefaultReadMarkLimit,
		retry:     DefaultRetryPolicy(),
		now:       defaultClock,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State loads the viewer's read state. Anonymous viewers get an empty one.
func (r *ReadTracker) State(ctx context.Context, viewer Viewer) (ReadState, error) {
	if !viewer.Authenticated {
		return ReadState{Topics: map[int64]int64{}}, nil
	}
	return r.store.GetReadState(ctx, viewer.UserID)
}

// IsUnread loads the viewer's state and the topic's last post, then applies
// IsTopicUnread. List pages should load state once and use the pure helpers.
func (r *ReadTracker) IsUnread(ctx context.Context, viewer Viewer, topic Topic) (bool, error) {
	if !viewer.Authenticated {
		return false, nil
	}
	state, err := r.State(ctx, viewer)
	if err != nil {
		return false, err
	}
	posts, err := LoadLastPosts(ctx, r.store, []*int64{topic.LastPostID})
	if err != nil {
		return false, err
	}
	return IsTopicUnread(viewer, topic, lastPostOf(topic.LastPostID, posts), state), nil
}

// MarkTopicRead records the topic's last post as seen and touches the mark.
// Marks never move backwards, and nothing is written when the floor already
// covers the topic.
func (r *ReadTracker) MarkTopicRead(ctx context.Context, viewer Viewer, topic Topic) error {
	if !viewer.Authenticated || topic.LastPostID == nil {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "forum.readstate.mark_topic", trace.WithAttributes(
		attribute.Int64("topic.id", topic.ID),
	))
	defer span.End()

	return runTx(ctx, r.store, r.retry, r.log, "mark_topic_read", func(tx Tx) error {
		state, err := tx.GetReadState(ctx, viewer.UserID)
		if err != nil {
			return err
		}
		if !state.LastRead.IsZero() && !topic.Updated.IsZero() && !topic.Updated.After(state.LastRead) {
			return nil
		}
		// A revisit with nothing new still refreshes the mark's recency.
		if err := tx.PutReadMark(ctx, viewer.UserID, topic.ID, *topic.LastPostID, r.now()); err != nil {
			return err
		}
		marks := len(state.Topics)
		if _, ok := state.Topics[topic.ID]; !ok {
			marks++
		}
		if marks > r.markLimit {
			return tx.PruneReadMarks(ctx, viewer.UserID, r.markLimit)
		}
		return nil
	})
}

// AdvanceGlobalFloor marks everything up to now as read and drops every
// topic mark, all of which the new floor makes redundant.
func (r *ReadTracker) AdvanceGlobalFloor(ctx context.Context, viewer Viewer, now time.Time) error {
	if !viewer.Authenticated {
		return preconditionError(ReasonUnauthenticated, "anonymous viewers have no read state")
	}
	ctx, span := r.tracer.Start(ctx, "forum.readstate.advance_floor")
	defer span.End()

	return runTx(ctx, r.store, r.retry, r.log, "advance_read_floor", func(tx Tx) error {
		return tx.SetReadFloor(ctx, viewer.UserID, now.UTC())
	})
}

func lastPostOf(id *int64, posts map[int64]Post) *Post {
	if id == nil {
		return nil
	}
	p, ok := posts[*id]
	if !ok {
		return nil
	}
	return &p
}

func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
