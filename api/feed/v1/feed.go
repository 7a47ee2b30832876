// Package v1 holds the wire shapes exchanged with the followers and posts
// services and returned from the feed endpoint.
package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// UserIDHeader names the caller identity the feed is built for.
const UserIDHeader = "X-User-ID"

// ID is an identifier that upstreams send either as a JSON string or a JSON
// number. It's kept as its string form.
type ID string

func (id *ID) UnmarshalJSON(byts []byte) error {
	byts = bytes.TrimSpace(byts)
	if bytes.Equal(byts, []byte("null")) {
		*id = ""
		return nil
	}
	if len(byts) > 0 && byts[0] == '"' {
		var s string
		if err := json.Unmarshal(byts, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(byts, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type (
	// FollowEdge is one directed "follows" relationship as the followers
	// service reports it. Only the receiver matters for building a feed.
	FollowEdge struct {
		ID         ID `json:"id,omitempty"`
		SenderID   ID `json:"sender_id,omitempty"`
		FollowerID ID `json:"follower_id,omitempty"`
		ReceiverID ID `json:"receiver_id"`
	}
)

// Post is a post as the posts service returns it.
//
// The fields the feed needs are decoded into the struct; everything the
// upstream sent is kept verbatim so it goes back out untouched.
type Post struct {
	ID           ID
	AuthorID     ID
	ParentPostID ID
	RepliesCount int
	SharesCount  int
	CreatedAt    string

	// Set by ranking, emitted as "score" when present.
	Score *int

	reply  bool
	fields map[string]json.RawMessage
}

// IsReply reports whether the post answers another post.
func (p Post) IsReply() bool {
	return p.reply || p.ParentPostID != ""
}

// WithScore returns a copy of the post carrying the score.
func (p Post) WithScore(score int) Post {
	p.Score = &score
	return p
}

func (p *Post) UnmarshalJSON(byts []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(byts, &fields); err != nil {
		return err
	}

	*p = Post{fields: fields}
	if raw, ok := fields["id"]; ok {
		if err := p.ID.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("error decoding id: %w", err)
		}
	}
	if raw, ok := fields["author_id"]; ok {
		if err := p.AuthorID.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("error decoding author_id: %w", err)
		}
	}
	if raw, ok := fields["parent_post_id"]; ok {
		p.reply = truthy(raw)
		// Anything that isn't a plain id still counts through reply.
		_ = p.ParentPostID.UnmarshalJSON(raw)
		if !p.reply {
			p.ParentPostID = ""
		}
	}
	p.RepliesCount = count(fields["replies_count"])
	p.SharesCount = count(fields["shares_count"])
	if raw, ok := fields["created_at"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			p.CreatedAt = s
		}
	}

	return nil
}

func (p Post) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.fields)+1)
	if p.fields == nil {
		p.known(out)
	}
	for k, v := range p.fields {
		out[k] = v
	}
	if p.Score != nil {
		out["score"] = *p.Score
	}

	return json.Marshal(out)
}

// Fills in the decoded fields for posts that never came off the wire.
func (p Post) known(out map[string]any) {
	out["id"] = p.ID
	if p.AuthorID != "" {
		out["author_id"] = p.AuthorID
	}
	if p.ParentPostID != "" {
		out["parent_post_id"] = p.ParentPostID
	}
	out["replies_count"] = p.RepliesCount
	out["shares_count"] = p.SharesCount
	if p.CreatedAt != "" {
		out["created_at"] = p.CreatedAt
	}
}

// Mirrors "is this value set" for loosely typed JSON: null, false, zero and
// empty containers all read as unset.
func truthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}

	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// Counters are numbers on the wire, but a missing or odd value is just zero.
func count(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	if i, err := strconv.Atoi(n.String()); err == nil {
		return i
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}

	return int(f)
}
