package forum

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rexlx/volboard/forum"

// AggregateTracker recomputes post_count and last_post_id for topics and
// forums from the posts they own. It never applies incremental deltas:
// every refresh starts from the post table, so a stale value is repaired by
// the next refresh of the same owner.
//
// Refresh must run in the transaction of the mutation that triggered it,
// topic before forum.
type AggregateTracker struct {
	log    zerolog.Logger
	tracer trace.Tracer
}

func NewAggregateTracker(log zerolog.Logger) *AggregateTracker {
	return &AggregateTracker{
		log:    log.With().Str("component", "aggregates").Logger(),
		tracer: otel.Tracer(tracerName),
	}
}

// Refreshed pairs an owner with its recomputed aggregate and, when
// available, the post LastPostID points at.
type Refreshed struct {
	Owner     Owner
	Aggregate Aggregate
	LastPost  *Post
}

// Refresh recomputes and persists the aggregate of one owner.
func (a *AggregateTracker) Refresh(ctx context.Context, tx Tx, owner Owner) (Aggregate, error) {
	ctx, span := a.tracer.Start(ctx, "forum.aggregate.refresh", trace.WithAttributes(
		attribute.String("owner.kind", owner.Kind.String()),
		attribute.Int64("owner.id", owner.ID),
	))
	defer span.End()

	agg, _, err := a.compute(ctx, tx, owner)
	if err != nil {
		span.RecordError(err)
		return Aggregate{}, err
	}
	if err := a.save(ctx, tx, owner, agg); err != nil {
		span.RecordError(err)
		return Aggregate{}, err
	}
	if agg.Degraded {
		span.RecordError(ErrInconsistency)
	}
	span.SetAttributes(attribute.Int("post_count", agg.PostCount), attribute.Bool("degraded", agg.Degraded))
	return agg, nil
}

// RefreshBatch recomputes many owners. Candidate last posts of every owner
// are verified and loaded with one PostsByIDs lookup; owners whose candidate
// disappeared in between go through the single-owner retry path.
func (a *AggregateTracker) RefreshBatch(ctx context.Context, tx Tx, owners []Owner) ([]Refreshed, error) {
	ctx, span := a.tracer.Start(ctx, "forum.aggregate.refresh_batch", trace.WithAttributes(
		attribute.Int("owners", len(owners)),
	))
	defer span.End()

	owners = dedupeOwners(owners)
	type observation struct {
		count      int
		topicCount int
		latest     *Post
	}
	observed := make([]observation, len(owners))
	ids := make([]int64, 0, len(owners))
	for i, owner := range owners {
		count, latest, err := a.observe(ctx, tx, owner)
		if err != nil {
			return nil, err
		}
		obs := observation{count: count, latest: latest}
		if owner.Kind == KindForum {
			if obs.topicCount, err = tx.CountForumTopics(ctx, owner.ID); err != nil {
				return nil, fmt.Errorf("count topics of %s: %w", owner, err)
			}
		}
		observed[i] = obs
		if latest != nil {
			ids = append(ids, latest.ID)
		}
	}

	posts, err := tx.PostsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load last posts: %w", err)
	}

	out := make([]Refreshed, 0, len(owners))
	for i, owner := range owners {
		obs := observed[i]
		var (
			agg  Aggregate
			last *Post
		)
		switch {
		case obs.latest == nil:
			agg = Aggregate{PostCount: obs.count, TopicCount: obs.topicCount}
		case stillOwned(owner, obs.latest, posts):
			p := posts[obs.latest.ID]
			last = &p
			agg = Aggregate{PostCount: obs.count, TopicCount: obs.topicCount, LastPostID: &p.ID, Updated: p.Created}
		default:
			a.log.Debug().Stringer("owner", owner).Int64("post_id", obs.latest.ID).Msg("batched last post vanished, recomputing")
			agg, last, err = a.compute(ctx, tx, owner)
			if err != nil {
				return nil, err
			}
		}
		if err := a.save(ctx, tx, owner, agg); err != nil {
			return nil, err
		}
		out = append(out, Refreshed{Owner: owner, Aggregate: agg, LastPost: last})
	}
	return out, nil
}

// compute observes the owner's posts, verifying that the latest post still
// belongs to it. A vanished latest post is retried once; after that the
// aggregate is reported degraded with no last post.
func (a *AggregateTracker) compute(ctx context.Context, tx Tx, owner Owner) (Aggregate, *Post, error) {
	var (
		count  int
		latest *Post
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		count, latest, err = a.observe(ctx, tx, owner)
		if err != nil {
			return Aggregate{}, nil, err
		}
		if latest == nil {
			return a.withTopicCount(ctx, tx, owner, Aggregate{PostCount: count})
		}
		owned, err := tx.OwnsPost(ctx, owner, latest.ID)
		if err != nil {
			return Aggregate{}, nil, fmt.Errorf("verify last post of %s: %w", owner, err)
		}
		if owned {
			agg, _, err := a.withTopicCount(ctx, tx, owner, Aggregate{
				PostCount:  count,
				LastPostID: &latest.ID,
				Updated:    latest.Created,
			})
			return agg, latest, err
		}
		a.log.Debug().Stringer("owner", owner).Int64("post_id", latest.ID).Int("attempt", attempt+1).Msg("last post vanished mid-refresh")
	}

	inconsistent := &Error{
		Code:    CodeInconsistency,
		Message: fmt.Sprintf("last post %d of %s vanished twice", latest.ID, owner),
	}
	a.log.Warn().Err(inconsistent).Stringer("owner", owner).Msg("storing aggregate without last post")
	agg, _, err := a.withTopicCount(ctx, tx, owner, Aggregate{PostCount: count, Degraded: true})
	return agg, nil, err
}

func (a *AggregateTracker) observe(ctx context.Context, tx Tx, owner Owner) (int, *Post, error) {
	count, err := tx.CountPosts(ctx, owner)
	if err != nil {
		return 0, nil, fmt.Errorf("count posts of %s: %w", owner, err)
	}
	post, ok, err := tx.LatestPost(ctx, owner)
	if err != nil {
		return 0, nil, fmt.Errorf("latest post of %s: %w", owner, err)
	}
	if !ok {
		return count, nil, nil
	}
	return count, &post, nil
}

func (a *AggregateTracker) withTopicCount(ctx context.Context, tx Tx, owner Owner, agg Aggregate) (Aggregate, *Post, error) {
	if owner.Kind != KindForum {
		return agg, nil, nil
	}
	n, err := tx.CountForumTopics(ctx, owner.ID)
	if err != nil {
		return Aggregate{}, nil, fmt.Errorf("count topics of %s: %w", owner, err)
	}
	agg.TopicCount = n
	return agg, nil, nil
}

func (a *AggregateTracker) save(ctx context.Context, tx Tx, owner Owner, agg Aggregate) error {
	if err := tx.SaveAggregate(ctx, owner, agg); err != nil {
		return fmt.Errorf("save aggregate of %s: %w", owner, err)
	}
	return nil
}

// LoadLastPosts fetches the posts referenced by a page of topics or forums
// with one lookup, keyed by post id.
func LoadLastPosts(ctx context.Context, loader PostLoader, ids []*int64) (map[int64]Post, error) {
	set := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != nil && *id > 0 {
			set = append(set, *id)
		}
	}
	slices.Sort(set)
	set = slices.Compact(set)
	if len(set) == 0 {
		return map[int64]Post{}, nil
	}
	return loader.PostsByIDs(ctx, set)
}

func stillOwned(owner Owner, latest *Post, posts map[int64]Post) bool {
	p, ok := posts[latest.ID]
	if !ok {
		return false
	}
	if owner.Kind == KindTopic {
		return p.TopicID == owner.ID
	}
	return p.TopicID == latest.TopicID
}

func dedupeOwners(owners []Owner) []Owner {
	seen := make(map[Owner]struct{}, len(owners))
	out := make([]Owner, 0, len(owners))
	for _, o := range owners {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}
