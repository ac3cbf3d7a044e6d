package forum

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MergeCoordinator consolidates topics into one inside a single
// transaction: posts move to the target, emptied sources are deleted, and
// every touched topic and forum is refreshed.
type MergeCoordinator struct {
	store      Store
	aggregates *AggregateTracker
	log        zerolog.Logger
	tracer     trace.Tracer
	retry      RetryPolicy
	invalidate PostInvalidator
}

func NewMergeCoordinator(store Store, aggregates *AggregateTracker, log zerolog.Logger, retry RetryPolicy) *MergeCoordinator {
	return &MergeCoordinator{
		store:      store,
		aggregates: aggregates,
		log:        log.With().Str("component", "merge").Logger(),
		tracer:     otel.Tracer(tracerName),
		retry:      retry,
		invalidate: noopInvalidator{},
	}
}

// SetInvalidator registers the cache told about posts that changed topic.
func (m *MergeCoordinator) SetInvalidator(inv PostInvalidator) {
	if inv != nil {
		m.invalidate = inv
	}
}

// Merge moves every post of req.SourceIDs into req.TargetID. The actor must
// moderate the forum of every topic in the working set.
func (m *MergeCoordinator) Merge(ctx context.Context, actor Viewer, req MergeRequest) (MergeResult, error) {
	ids := mergeWorkingSet(req)
	if len(ids) < 2 {
		return MergeResult{}, ErrInsufficientTopics
	}
	if !actor.Authenticated {
		return MergeResult{}, preconditionError(ReasonUnauthenticated, "merge requires an authenticated moderator")
	}

	ctx, span := m.tracer.Start(ctx, "forum.merge", trace.WithAttributes(
		attribute.Int64("target.id", req.TargetID),
		attribute.Int64Slice("topic.ids", ids),
	))
	defer span.End()

	var (
		result MergeResult
		moved  []int64
	)
	err := runTx(ctx, m.store, m.retry, m.log, "merge", func(tx Tx) error {
		var err error
		result, moved, err = m.mergeTx(ctx, tx, actor, req.TargetID, ids)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return MergeResult{}, err
	}
	if err := m.invalidate.Forget(ctx, moved...); err != nil {
		m.log.Warn().Err(err).Msg("forget merged posts")
	}
	m.log.Info().
		Int64("target", result.TargetID).
		Ints64("deleted", result.DeletedTopics).
		Int64("moved_posts", result.MovedPosts).
		Msg("topics merged")
	return result, nil
}

func (m *MergeCoordinator) mergeTx(ctx context.Context, tx Tx, actor Viewer, targetID int64, ids []int64) (MergeResult, []int64, error) {
	topics, err := tx.LockTopics(ctx, ids)
	if err != nil {
		return MergeResult{}, nil, fmt.Errorf("lock topics: %w", err)
	}
	byID := make(map[int64]Topic, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return MergeResult{}, nil, NotFoundError("topic", id)
		}
	}
	target := byID[targetID]

	forumIDs := make([]int64, 0, len(topics))
	for _, t := range topics {
		forumIDs = append(forumIDs, t.ForumID)
	}
	slices.Sort(forumIDs)
	forumIDs = slices.Compact(forumIDs)
	if err := tx.LockForums(ctx, forumIDs); err != nil {
		return MergeResult{}, nil, fmt.Errorf("lock forums: %w", err)
	}
	for _, forumID := range forumIDs {
		ok, err := tx.IsModerator(ctx, actor.UserID, forumID)
		if err != nil {
			return MergeResult{}, nil, fmt.Errorf("check moderator of forum %d: %w", forumID, err)
		}
		if !ok {
			return MergeResult{}, nil, ErrNotModerator
		}
	}

	sources := make([]int64, 0, len(ids)-1)
	for _, id := range ids {
		if id != targetID {
			sources = append(sources, id)
		}
	}

	movedIDs, err := tx.ReassignPosts(ctx, sources, targetID)
	if err != nil {
		return MergeResult{}, nil, fmt.Errorf("reassign posts: %w", err)
	}
	if _, err := m.aggregates.Refresh(ctx, tx, TopicOwner(targetID)); err != nil {
		return MergeResult{}, nil, err
	}
	if _, err := m.aggregates.Refresh(ctx, tx, ForumOwner(target.ForumID)); err != nil {
		return MergeResult{}, nil, err
	}

	result := MergeResult{TargetID: targetID, MovedPosts: int64(len(movedIDs))}
	refreshed := []int64{target.ForumID}
	var touched []int64
	for _, src := range sources {
		left, err := tx.CountPosts(ctx, TopicOwner(src))
		if err != nil {
			return MergeResult{}, nil, fmt.Errorf("count posts of topic %d: %w", src, err)
		}
		if left > 0 {
			// Only a concurrent writer bypassing the topic lock gets here.
			if _, err := m.aggregates.Refresh(ctx, tx, TopicOwner(src)); err != nil {
				return MergeResult{}, nil, err
			}
			continue
		}
		if err := tx.DeleteTopic(ctx, src); err != nil {
			return MergeResult{}, nil, fmt.Errorf("delete topic %d: %w", src, err)
		}
		result.DeletedTopics = append(result.DeletedTopics, src)
		touched = append(touched, byID[src].ForumID)
	}
	if _, err := tx.GetTopic(ctx, targetID); err != nil {
		if errors.Is(err, ErrNotFound) {
			panic(fmt.Sprintf("forum: merge target topic %d vanished inside its own transaction", targetID))
		}
		return MergeResult{}, nil, err
	}

	slices.Sort(touched)
	touched = slices.Compact(touched)
	if len(touched) > 0 {
		owners := make([]Owner, 0, len(touched))
		for _, forumID := range touched {
			owners = append(owners, ForumOwner(forumID))
		}
		if _, err := m.aggregates.RefreshBatch(ctx, tx, owners); err != nil {
			return MergeResult{}, nil, err
		}
	}
	for _, forumID := range touched {
		if forumID != target.ForumID {
			refreshed = append(refreshed, forumID)
		}
	}
	slices.Sort(refreshed)
	result.RefreshedForums = refreshed
	return result, movedIDs, nil
}

// mergeWorkingSet returns the distinct topic ids of req in ascending order.
func mergeWorkingSet(req MergeRequest) []int64 {
	ids := make([]int64, 0, len(req.SourceIDs)+1)
	ids = append(ids, req.TargetID)
	ids = append(ids, req.SourceIDs...)
	slices.Sort(ids)
	return slices.Compact(ids)
}
