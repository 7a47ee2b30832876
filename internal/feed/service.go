package feed

import (
	"context"
	"log/slog"
	"strings"

	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	feedv1 "github.com/jdholdren/hornet/api/feed/v1"
	hornerrs "github.com/jdholdren/hornet/internal/errors"
	"github.com/jdholdren/hornet/internal/logger"
	"github.com/jdholdren/hornet/internal/metrics"
)

const (
	errMsgMissingUser   = "X-User-ID header is required"
	errMsgFollowingList = "Failed to fetch following list"
)

type (
	// FollowingLister is the followers service as the feed needs it.
	FollowingLister interface {
		Following(ctx context.Context, userID string) ([]feedv1.FollowEdge, error)
	}

	// AuthorPostsLister is the posts service as the feed needs it.
	AuthorPostsLister interface {
		PostsByAuthor(ctx context.Context, authorID string) ([]feedv1.Post, error)
	}

	// Service builds a user's feed out of the accounts they follow.
	Service struct {
		followers   FollowingLister
		posts       AuthorPostsLister
		strategy    Strategy
		concurrency int
		metrics     *metrics.Metrics
	}

	ServiceConfig struct {
		// Most post fetches in flight for one feed.
		Concurrency int
	}

	ServiceParams struct {
		fx.In

		Config    ServiceConfig
		Followers FollowingLister
		Posts     AuthorPostsLister
		Strategy  Strategy
		Metrics   *metrics.Metrics `optional:"true"`
	}
)

func NewService(p ServiceParams) Service {
	concurrency := p.Config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return Service{
		followers:   p.Followers,
		posts:       p.Posts,
		strategy:    p.Strategy,
		concurrency: concurrency,
		metrics:     p.Metrics,
	}
}

// Feed builds the feed for userID.
//
// Only a missing user or a failed following lookup fail the call. An author
// whose posts can't be fetched just doesn't show up.
func (s Service) Feed(ctx context.Context, userID string) ([]feedv1.Post, error) {
	posts, err := s.feed(ctx, userID)

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = string(hornerrs.KindOf(err))
	}
	s.metrics.ObserveFeed(s.strategy.Name(), outcome, len(posts))

	return posts, err
}

func (s Service) feed(ctx context.Context, userID string) ([]feedv1.Post, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, hornerrs.E(errMsgMissingUser, hornerrs.KindInvalidRequest)
	}
	ctx = logger.Ctx(ctx, slog.String("user_id", userID), slog.String("strategy", s.strategy.Name()))

	edges, err := s.followers.Following(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "error fetching following list", "error", err)
		return nil, hornerrs.E(errMsgFollowingList, hornerrs.KindUpstreamUnavailable)
	}

	authorIDs := make([]string, 0, len(edges))
	for _, edge := range edges {
		if edge.ReceiverID == "" {
			slog.DebugContext(ctx, "skipping follow edge without a receiver", "edge_id", edge.ID)
			continue
		}
		authorIDs = append(authorIDs, string(edge.ReceiverID))
	}

	byAuthor := s.collect(ctx, authorIDs)
	feed := s.strategy.Select(ctx, byAuthor)

	slog.DebugContext(ctx, "built feed", "following", len(authorIDs), "posts", len(feed))
	return feed, nil
}

// Fetches every author's posts, at most s.concurrency at a time, and waits for
// all of them. Slot i always belongs to authorIDs[i].
func (s Service) collect(ctx context.Context, authorIDs []string) [][]feedv1.Post {
	byAuthor := make([][]feedv1.Post, len(authorIDs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, authorID := range authorIDs {
		g.Go(func() error {
			posts, err := s.posts.PostsByAuthor(ctx, authorID)
			if err != nil {
				err = hornerrs.E(err, hornerrs.KindPartialUpstreamFailure)
				slog.WarnContext(ctx, "skipping author whose posts could not be fetched", "author_id", authorID, "error", err)
				return nil
			}
			byAuthor[i] = topLevel(ctx, authorID, posts)

			return nil
		})
	}
	// Nothing returns an error; this is only the barrier.
	_ = g.Wait()

	return byAuthor
}

// Keeps the author's own top-level posts, in order.
func topLevel(ctx context.Context, authorID string, posts []feedv1.Post) []feedv1.Post {
	kept := make([]feedv1.Post, 0, len(posts))
	for _, p := range posts {
		if p.IsReply() {
			continue
		}
		if p.AuthorID != "" && string(p.AuthorID) != authorID {
			slog.WarnContext(ctx, "dropping post from an unexpected author", "author_id", authorID, "post_author_id", p.AuthorID, "post_id", p.ID)
			continue
		}
		kept = append(kept, p)
	}

	return kept
}
