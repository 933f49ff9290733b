// Package model contains domain models passed between layers.
package model

import "time"

// Tier determines the delivery cadence for a subscriber.
type Tier string

// Delivery tiers, fastest first.
const (
	TierActive   Tier = "active"
	TierPassive  Tier = "passive"
	TierObserver Tier = "observer"
)

// TimeframeAll is the wildcard timeframe. A subscriber asking for it
// receives every timeframe, and a delta tagged with it reaches every
// timeframe subscriber.
const TimeframeAll = "all"

// Topic identifies a subscription channel: one leaderboard slice.
type Topic struct {
	Mode      string `json:"mode"`
	Timeframe string `json:"timeframe"`
	Language  string `json:"language"`
}

// Matches reports whether a delta published on other should reach a
// subscriber filtering on t. Mode and language must match exactly;
// timeframe matches when either side is the wildcard.
func (t Topic) Matches(other Topic) bool {
	if t.Mode != other.Mode || t.Language != other.Language {
		return false
	}
	return t.Timeframe == other.Timeframe ||
		t.Timeframe == TimeframeAll ||
		other.Timeframe == TimeframeAll
}

// String renders the topic as mode/timeframe/language for logs and metrics.
func (t Topic) String() string {
	return t.Mode + "/" + t.Timeframe + "/" + t.Language
}

// ChangeType classifies how a user's ranking entry changed.
type ChangeType string

const (
	ChangeNew      ChangeType = "new"
	ChangeImproved ChangeType = "improved"
	ChangeDropped  ChangeType = "dropped"
)

// Change is one user's ranking movement within a delta.
// OldRank is nil when the user newly appeared on the board.
type Change struct {
	UserID      string     `json:"user_id"`
	Username    string     `json:"username"`
	OldRank     *int       `json:"old_rank,omitempty"`
	NewRank     int        `json:"new_rank"`
	WPM         float64    `json:"wpm"`
	Accuracy    float64    `json:"accuracy"`
	AvatarColor *string    `json:"avatar_color,omitempty"`
	IsVerified  bool       `json:"is_verified"`
	Type        ChangeType `json:"change_type"`
}

// Delta is one coherent batch of ranking changes for a single topic.
// Changes hold at most one entry per user. Removed lists users no longer
// present on the board for this topic. BatchID is set only on merged or
// otherwise synthetic deltas.
type Delta struct {
	Topic     Topic     `json:"topic"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Changes   []Change  `json:"changes"`
	Removed   []string  `json:"removed,omitempty"`
	TopN      int       `json:"top_n"`
	BatchID   string    `json:"batch_id,omitempty"`
}

// Update is the flattened transport message: one change on one topic.
type Update struct {
	Topic     Topic     `json:"topic"`
	Change    Change    `json:"change"`
	TopN      int       `json:"top_n"`
	Timestamp time.Time `json:"timestamp"`
	BatchID   string    `json:"batch_id,omitempty"`
}

// UpdateFrom flattens a single change of d into a transport message.
func UpdateFrom(d Delta, c Change) Update {
	return Update{
		Topic:     d.Topic,
		Change:    c,
		TopN:      d.TopN,
		Timestamp: d.Timestamp,
		BatchID:   d.BatchID,
	}
}

// DeltaFrom wraps a pre-formed single update back into a one-change delta.
// Kept for producers that still emit flattened updates.
func DeltaFrom(u Update) Delta {
	return Delta{
		Topic:     u.Topic,
		Version:   u.Timestamp.UnixMilli(),
		Timestamp: u.Timestamp,
		Changes:   []Change{u.Change},
		TopN:      u.TopN,
	}
}

// SubscriberRecord describes one connected viewer. UserID is empty for
// anonymous connections. Tier is the last-known tier, used as a fallback
// when no fresher activity signal exists.
type SubscriberRecord struct {
	UserID string `json:"user_id,omitempty"`
	Topic  Topic  `json:"topic"`
	Tier   Tier   `json:"tier"`
}

// Anonymous reports whether the subscriber has no identity.
func (s SubscriberRecord) Anonymous() bool {
	return s.UserID == ""
}
