package feed

import (
	"fmt"
	"math"
	"time"

	"github.com/araddon/dateparse"

	feedv1 "github.com/jdholdren/hornet/api/feed/v1"
	hornerrs "github.com/jdholdren/hornet/internal/errors"
)

const (
	// Days a post keeps earning a recency boost.
	recencyWindowDays = 7
	recencyWeight     = 2
)

// ParseTimestamp reads an ISO-8601 timestamp. A trailing Z is UTC, and a
// timestamp without any offset is taken as UTC too.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing timestamp %q: %w", s, err)
	}

	return t, nil
}

// Score ranks a post by how much people engaged with it and how fresh it is:
//
//	(replies + shares) + 2 * clamp(7 - age in whole days, 0, 7)
//
// A post whose created_at can't be read still gets its engagement score, with
// no recency boost, alongside an invalid upstream data error.
func Score(p feedv1.Post, now time.Time) (int, error) {
	engagement := p.RepliesCount + p.SharesCount

	created, err := ParseTimestamp(p.CreatedAt)
	if err != nil {
		return engagement, hornerrs.E(err, hornerrs.KindInvalidUpstreamData)
	}

	return engagement + recencyWeight*recencyBoost(now.UTC().Sub(created)), nil
}

func recencyBoost(age time.Duration) int {
	days := int(math.Floor(age.Hours() / 24))

	return min(max(recencyWindowDays-days, 0), recencyWindowDays)
}
