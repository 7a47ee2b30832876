package feed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	feedv1 "github.com/jdholdren/hornet/api/feed/v1"
)

const (
	// Most posts a feed ever returns.
	Limit = 20
	// Most posts one author may put into the diverse strategy's pool.
	PerAuthorCap = 5
)

// Strategy names as configured.
const (
	StrategyPlain   = "plain"
	StrategyRanked  = "ranked"
	StrategyDiverse = "diverse"
)

// Strategy picks and orders what goes into a feed.
//
// byAuthor holds each followed account's posts, replies already removed, in
// following order. The result is at most [Limit] long.
type Strategy interface {
	Name() string
	Select(ctx context.Context, byAuthor [][]feedv1.Post) []feedv1.Post
}

// NewStrategy builds the strategy with the given name using the real clock and
// randomness.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyPlain:
		return Plain{}, nil
	case StrategyRanked:
		return Ranked{Now: time.Now}, nil
	case StrategyDiverse:
		return Diverse{Shuffle: rand.Shuffle}, nil
	default:
		return nil, fmt.Errorf("unknown feed strategy %q", name)
	}
}

// Plain keeps upstream order and cuts it off at the limit.
type Plain struct{}

func (Plain) Name() string { return StrategyPlain }

func (Plain) Select(_ context.Context, byAuthor [][]feedv1.Post) []feedv1.Post {
	return truncate(slices.Concat(byAuthor...))
}

// Ranked orders posts by [Score], highest first. Equal scores keep upstream
// order.
type Ranked struct {
	Now func() time.Time
}

func (Ranked) Name() string { return StrategyRanked }

func (r Ranked) Select(ctx context.Context, byAuthor [][]feedv1.Post) []feedv1.Post {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	at := now().UTC()

	posts := slices.Concat(byAuthor...)
	scored := make([]feedv1.Post, 0, len(posts))
	for _, p := range posts {
		score, err := Score(p, at)
		if err != nil {
			slog.DebugContext(ctx, "no recency boost for post", "post_id", p.ID, "error", err)
		}
		scored = append(scored, p.WithScore(score))
	}

	slices.SortStableFunc(scored, func(a, b feedv1.Post) int {
		return cmp.Compare(*b.Score, *a.Score)
	})

	return truncate(scored)
}

// Diverse lets every author in with at most [PerAuthorCap] posts, then
// shuffles so no single account dominates the top of the feed.
type Diverse struct {
	// Same contract as [rand.Shuffle]. It's called concurrently across
	// requests and has to be safe for that.
	Shuffle func(n int, swap func(i, j int))
}

func (Diverse) Name() string { return StrategyDiverse }

func (d Diverse) Select(_ context.Context, byAuthor [][]feedv1.Post) []feedv1.Post {
	shuffle := rand.Shuffle
	if d.Shuffle != nil {
		shuffle = d.Shuffle
	}

	pool := Candidates(byAuthor)
	shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	return truncate(pool)
}

// Candidates is the diverse strategy's pool before shuffling: each author's
// first [PerAuthorCap] posts, concatenated.
func Candidates(byAuthor [][]feedv1.Post) []feedv1.Post {
	var pool []feedv1.Post
	for _, posts := range byAuthor {
		pool = append(pool, posts[:min(len(posts), PerAuthorCap)]...)
	}

	return pool
}

func truncate(posts []feedv1.Post) []feedv1.Post {
	if posts == nil {
		return []feedv1.Post{}
	}

	return posts[:min(len(posts), Limit)]
}
