// Package events carries match-service traffic over Redis pub/sub: status
// changes go out to the gateway, posting changes come in from discovery.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jobmate/matching-service/internal/model"
)

// Channel names.
const (
	ChannelMatchStatusChanged = "EVENT_MATCH_STATUS_CHANGED"
	ChannelPostingUpserted    = "EVENT_JOB_POSTING_UPSERTED"
)

// StatusChanged is the payload published on ChannelMatchStatusChanged.
type StatusChanged struct {
	EventID      string    `json:"eventId"`
	MatchID      int64     `json:"matchId"`
	ClaimantID   int64     `json:"claimantId"`
	JobPostingID int64     `json:"jobPostingId"`
	From         string    `json:"oldStatus"`
	To           string    `json:"newStatus"`
	Action       string    `json:"action"`
	ActorID      string    `json:"actorId"`
	ActorKind    string    `json:"actorKind"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewStatusChanged builds the event for a committed status change.
func NewStatusChanged(m model.Match, ch model.StatusChange) StatusChanged {
	at := ch.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return StatusChanged{
		EventID:      uuid.NewString(),
		MatchID:      m.ID,
		ClaimantID:   m.ClaimantID,
		JobPostingID: m.JobPostingID,
		From:         ch.From,
		To:           ch.To,
		Action:       ch.Action,
		ActorID:      ch.ActorID,
		ActorKind:    ch.ActorKind,
		Timestamp:    at,
	}
}

// Publisher publishes match events to Redis. A Publisher without a client
// drops every event.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishStatusChanged publishes ch on ChannelMatchStatusChanged.
func (p *Publisher) PublishStatusChanged(ctx context.Context, m model.Match, ch model.StatusChange) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(NewStatusChanged(m, ch))
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := p.rdb.Publish(ctx, ChannelMatchStatusChanged, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ChannelMatchStatusChanged, err)
	}
	return nil
}
