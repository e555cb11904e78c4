package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// State is the pipeline stage an item currently sits in.
type State string

const (
	StateNew                State = "new"
	StateAccepted           State = "accepted"
	StateAwaitingModeration State = "awaiting_moderation"
	StateScheduled          State = "scheduled"
	StatePublished          State = "published"
	StateRejected           State = "rejected"
	StateScoringFailed      State = "scoring_failed"
)

// Terminal reports whether no transition leaves the state.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateRejected
}

// RejectReason explains why an item ended in StateRejected.
type RejectReason string

const (
	ReasonLowRelevance  RejectReason = "low_relevance"
	ReasonEngineError   RejectReason = "engine_error"
	ReasonModerator     RejectReason = "moderator"
	ReasonPublishFailed RejectReason = "publish_failed"
)

var transitions = map[State][]State{
	StateNew:                {StateAccepted, StateRejected, StateScoringFailed},
	StateAccepted:           {StateAwaitingModeration, StateRejected, StateScoringFailed},
	StateScoringFailed:      {StateAccepted, StateRejected, StateScoringFailed},
	StateAwaitingModeration: {StateScheduled, StateRejected, StateAwaitingModeration},
	StateScheduled:          {StatePublished, StateAwaitingModeration, StateScheduled, StateRejected},
}

// ValidTransition reports whether the state machine permits from -> to.
func ValidTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MediaRef points at one attachment in source order.
type MediaRef struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// SourceRef identifies the originating message inside its feed.
type SourceRef struct {
	ChannelID int64
	MessageID int64
	Permalink string
}

// Fingerprint derives the stable dedup identity of a source message.
func Fingerprint(channelID, messageID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", channelID, messageID)))
	return hex.EncodeToString(sum[:])
}

// SourceMessage is what a feed adapter hands to ingestion.
type SourceMessage struct {
	Source   SourceRef
	Text     string
	Media    []MediaRef
	PostedAt time.Time
}

// Item is the unit flowing through the pipeline. Items are never deleted;
// terminal states are kept for audit and dedup.
type Item struct {
	Fingerprint     string
	Source          SourceRef
	RawText         string
	Media           []MediaRef
	DiscoveredAt    time.Time
	Score           int // 1..10, zero while unscored
	StyledText      string
	State           State
	RejectReason    RejectReason
	ScheduledAt     *time.Time
	DestinationRef  string
	PublishedAt     *time.Time
	ScoreAttempts   int
	PublishAttempts int
}

// NewItem builds the initial record for a freshly discovered message.
func NewItem(msg SourceMessage, discoveredAt time.Time) Item {
	return Item{
		Fingerprint:  Fingerprint(msg.Source.ChannelID, msg.Source.MessageID),
		Source:       msg.Source,
		RawText:      msg.Text,
		Media:        msg.Media,
		DiscoveredAt: discoveredAt.UTC(),
		State:        StateNew,
	}
}

// Review is the engine verdict for one item.
type Review struct {
	Relevance  int
	StyledText string
}

// Valid checks the score is an integer inside the closed range [1,10].
func (r Review) Valid() bool {
	return r.Relevance >= 1 && r.Relevance <= 10
}

// AuditEntry is one row of the append-only transition log.
type AuditEntry struct {
	ID          string
	Fingerprint string
	FromState   State
	ToState     State
	Actor       string
	Note        string
	CreatedAt   time.Time
}
