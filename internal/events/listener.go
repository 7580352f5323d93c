package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/matching"
	"jobmate/matching-service/internal/model"
)

// PostingSource loads what the listener needs to react to a posting change.
type PostingSource interface {
	GetPosting(ctx context.Context, id int64) (*model.JobPosting, error)
	ListClaimantsWithCriteria(ctx context.Context) ([]int64, error)
}

// Runner reconciles one claimant. *matching.Reconciler satisfies it.
type Runner interface {
	Run(ctx context.Context, req matching.Request) (*matching.Report, error)
}

// PostingListener re-indexes postings announced on ChannelPostingUpserted.
// With a Runner set, every claimant with criteria is also reconciled against
// the changed postings.
type PostingListener struct {
	rdb     *redis.Client
	source  PostingSource
	indexer *matching.Indexer
	runner  Runner
	log     *zap.Logger
}

// NewPostingListener returns a listener. runner may be nil.
func NewPostingListener(rdb *redis.Client, source PostingSource, indexer *matching.Indexer, runner Runner, log *zap.Logger) *PostingListener {
	return &PostingListener{
		rdb:     rdb,
		source:  source,
		indexer: indexer,
		runner:  runner,
		log:     logger.WithFields(log, zap.String("component", "posting-listener")),
	}
}

// Run subscribes and handles messages until ctx is cancelled.
func (l *PostingListener) Run(ctx context.Context) error {
	if l.rdb == nil {
		return errors.New("posting listener needs a redis client")
	}
	sub := l.rdb.Subscribe(ctx, ChannelPostingUpserted)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelPostingUpserted, err)
	}
	l.log.Info("listening", zap.String("channel", ChannelPostingUpserted))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := l.Handle(ctx, []byte(msg.Payload)); err != nil {
				l.log.Warn("posting event failed", zap.Error(err))
			}
		}
	}
}

// PostingIDs extracts the posting ids of an event payload. Both
// {"jobPostingId": 1} and {"jobPostingIds": [1, 2]} are accepted.
func PostingIDs(payload []byte) ([]int64, error) {
	if !gjson.ValidBytes(payload) {
		return nil, errors.New("payload is not valid JSON")
	}
	var ids []int64
	if v := gjson.GetBytes(payload, "jobPostingId"); v.Exists() {
		ids = append(ids, v.Int())
	}
	gjson.GetBytes(payload, "jobPostingIds").ForEach(func(_, v gjson.Result) bool {
		ids = append(ids, v.Int())
		return true
	})
	out := ids[:0]
	for _, id := range ids {
		if id > 0 {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("payload carries no posting id")
	}
	return out, nil
}

// Handle processes one event payload.
func (l *PostingListener) Handle(ctx context.Context, payload []byte) error {
	ids, err := PostingIDs(payload)
	if err != nil {
		return err
	}

	var refreshed []int64
	for _, id := range ids {
		p, err := l.source.GetPosting(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			l.log.Debug("posting gone, dropping its index", zap.Int64(logger.FieldPostingID, id))
			l.indexer.Forget(ctx, id)
			continue
		}
		if err != nil {
			return fmt.Errorf("load posting %d: %w", id, err)
		}
		l.indexer.Refresh(ctx, *p)
		refreshed = append(refreshed, id)
	}
	if l.runner == nil || len(refreshed) == 0 {
		return nil
	}

	claimants, err := l.source.ListClaimantsWithCriteria(ctx)
	if err != nil {
		return fmt.Errorf("list claimants: %w", err)
	}
	for _, cid := range claimants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := l.runner.Run(ctx, matching.Request{ClaimantID: cid, PostingIDs: refreshed})
		if err != nil {
			l.log.Warn("reconcile after posting change failed",
				zap.Int64(logger.FieldClaimantID, cid), zap.Error(err))
		}
	}
	return nil
}
