package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
)

// Skip reasons recorded in a Report.
const (
	ReasonInactive = "inactive"
	ReasonNotFound = "not found"
)

const remainingListTimeout = 5 * time.Second

// Store is the persistence contract the reconciler reads from and writes to.
type Store interface {
	// GetClaimantCriteria returns the criteria set criteriaID of the claimant,
	// or the most recently created one when criteriaID is 0. It returns a
	// NotFoundError when the claimant does not exist and (nil, nil) when the
	// claimant has no criteria.
	GetClaimantCriteria(ctx context.Context, claimantID, criteriaID int64) (*model.SearchCriteria, error)
	ListClaimantDocuments(ctx context.Context, claimantID int64) ([]model.Document, error)
	ListPostings(ctx context.Context, f model.PostingFilter) ([]model.JobPosting, error)
	// UpsertMatches persists one chunk atomically. Existing rows get their
	// score refreshed; status and advisor notes are never written.
	UpsertMatches(ctx context.Context, rows []model.MatchUpsert) ([]model.UpsertOutcome, error)
	DeleteStaleMatches(ctx context.Context, claimantID int64, below float64) (int64, error)
}

// DefaultThreshold is the minimum composite score a pair needs to be
// persisted when nothing else is configured.
const DefaultThreshold = 0.3

// Config tunes a Reconciler. A nil Threshold means DefaultThreshold; an
// explicit 0 persists every scored pair.
type Config struct {
	Threshold   *float64
	Weights     Weights
	ChunkSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultConfig returns the built-in reconciler settings.
func DefaultConfig() Config {
	t := DefaultThreshold
	return Config{
		Threshold:   &t,
		Weights:     DefaultWeights,
		ChunkSize:   200,
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Weights.Validate() != nil {
		c.Weights = d.Weights
	}
	if c.Threshold == nil || *c.Threshold < 0 || *c.Threshold > 1 {
		c.Threshold = d.Threshold
	} else {
		t := *c.Threshold
		c.Threshold = &t
	}
	if c.ChunkSize < 1 {
		c.ChunkSize = d.ChunkSize
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Request selects what one run reconciles.
type Request struct {
	ClaimantID int64 `mapstructure:"claimant_id" json:"claimant_id"`
	// CriteriaID pins a criteria set; 0 means the most recent one.
	CriteriaID int64 `mapstructure:"criteria_id" json:"criteria_id"`
	// PostingIDs restricts the run to these postings; empty means every
	// active posting.
	PostingIDs []int64 `mapstructure:"posting_ids" json:"posting_ids"`
	// Threshold overrides the configured minimum composite score.
	Threshold *float64 `mapstructure:"threshold" json:"threshold"`
}

// SkippedPosting is a candidate that was not scored.
type SkippedPosting struct {
	PostingID int64  `json:"posting_id"`
	Reason    string `json:"reason"`
}

// MatchedPosting is a candidate that met the threshold and was persisted.
type MatchedPosting struct {
	MatchID         int64     `json:"match_id"`
	PostingID       int64     `json:"posting_id"`
	Score           float64   `json:"score"`
	Sub             SubScores `json:"sub_scores"`
	MatchedKeywords []string  `json:"matched_keywords"`
	Created         bool      `json:"created"`
}

// Report summarises one run.
type Report struct {
	RunID          string           `json:"run_id"`
	ClaimantID     int64            `json:"claimant_id"`
	CriteriaID     int64            `json:"criteria_id"`
	Threshold      float64          `json:"threshold"`
	NoCriteria     bool             `json:"no_criteria"`
	NoSignal       bool             `json:"no_signal"`
	Scanned        int              `json:"scanned"`
	Created        int              `json:"created"`
	Updated        int              `json:"updated"`
	BelowThreshold int              `json:"below_threshold"`
	Matches        []MatchedPosting `json:"matches"`
	Skipped        []SkippedPosting `json:"skipped"`
	Incomplete     []int64          `json:"incomplete"`
	// ResumeAfterID is set when an all-active run ends early: every active
	// posting with a greater id is left undone.
	ResumeAfterID  int64            `json:"resume_after_id,omitempty"`
}

// PartialFailureError ends a run whose store kept failing after the bounded
// retries. Everything before the failing chunk is committed; re-running the
// claimant resumes safely.
type PartialFailureError struct {
	Incomplete []int64
	Err        error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("reconcile incomplete (%d postings): %v", len(e.Incomplete), e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// ─── Reconciler ──────────────────────────────────────────────────────────────

// Reconciler scores a claimant's criteria against the posting pool and
// upserts the qualifying matches.
type Reconciler struct {
	store   Store
	indexer *Indexer
	locker  Locker
	cfg     Config
	log     *zap.Logger
}

// NewReconciler wires a Reconciler. A nil indexer or locker falls back to the
// in-process implementation.
func NewReconciler(store Store, indexer *Indexer, locker Locker, cfg Config, log *zap.Logger) *Reconciler {
	log = logger.WithFields(log, zap.String("component", "reconciler"))
	if indexer == nil {
		indexer = NewIndexer(nil, log)
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Reconciler{store: store, indexer: indexer, locker: locker, cfg: cfg.withDefaults(), log: log}
}

// Config returns the effective settings.
func (r *Reconciler) Config() Config { return r.cfg }

// Run reconciles one claimant. On cancellation or partial failure the report
// of the chunks already committed is returned together with the error.
func (r *Reconciler) Run(ctx context.Context, req Request) (*Report, error) {
	if req.ClaimantID <= 0 {
		return nil, model.Invalid("claimant id must be positive, got %d", req.ClaimantID)
	}
	threshold := *r.cfg.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
		if threshold < 0 || threshold > 1 {
			return nil, model.Invalid("threshold must be within [0,1], got %v", threshold)
		}
	}

	release, err := r.locker.Acquire(ctx, req.ClaimantID)
	if err != nil {
		return nil, fmt.Errorf("claimant %d: %w", req.ClaimantID, err)
	}
	defer release()

	rep := &Report{
		RunID:      uuid.NewString(),
		ClaimantID: req.ClaimantID,
		Threshold:  threshold,
		Matches:    []MatchedPosting{},
		Skipped:    []SkippedPosting{},
		Incomplete: []int64{},
	}
	log := logger.ForClaimant(r.log, req.ClaimantID, rep.RunID)
	log.Info("reconcile started", zap.Int("explicit_postings", len(req.PostingIDs)), zap.Float64("threshold", threshold))

	q, err := r.query(ctx, req, rep, log)
	if err != nil {
		return nil, err
	}
	if rep.NoCriteria || rep.NoSignal {
		r.logSummary(log, rep)
		return rep, nil
	}

	if len(req.PostingIDs) > 0 {
		err = r.runExplicit(ctx, q, threshold, uniqueSorted(req.PostingIDs), rep)
	} else {
		err = r.runActive(ctx, q, threshold, rep)
	}
	r.logSummary(log, rep)
	if err != nil {
		log.Warn("reconcile ended early", zap.Error(err))
		return rep, err
	}
	return rep, nil
}

// query loads and normalises the claimant's criteria.
func (r *Reconciler) query(ctx context.Context, req Request, rep *Report, log *zap.Logger) (Query, error) {
	var crit *model.SearchCriteria
	err := r.retry(ctx, "get criteria", func() error {
		var err error
		crit, err = r.store.GetClaimantCriteria(ctx, req.ClaimantID, req.CriteriaID)
		return err
	})
	if err != nil {
		return Query{}, fmt.Errorf("load criteria: %w", err)
	}
	if crit == nil {
		log.Info("claimant has no search criteria, nothing to match")
		rep.NoCriteria = true
		return Query{}, nil
	}
	rep.CriteriaID = crit.ID

	q := NormalizeCriteria(*crit, nil)
	if len(q.Keywords) == 0 {
		var docs []model.Document
		err := r.retry(ctx, "list documents", func() error {
			var err error
			docs, err = r.store.ListClaimantDocuments(ctx, req.ClaimantID)
			return err
		})
		if err != nil {
			log.Warn("claimant documents unavailable, matching without them", zap.Error(err))
		}
		q = NormalizeCriteria(*crit, docs)
	}
	if q.Empty() {
		log.Info("criteria carry no keywords, sectors or location, nothing to score",
			zap.Int64("criteria_id", crit.ID))
		rep.NoSignal = true
	}
	return q, nil
}

// runExplicit reconciles an explicit posting-id subset, chunk by chunk.
func (r *Reconciler) runExplicit(ctx context.Context, q Query, threshold float64, ids []int64, rep *Report) error {
	for start := 0; start < len(ids); start += r.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			rep.Incomplete = append(rep.Incomplete, ids[start:]...)
			return err
		}
		chunk := ids[start:min(start+r.cfg.ChunkSize, len(ids))]

		var postings []model.JobPosting
		err := r.retry(ctx, "list postings", func() error {
			var err error
			postings, err = r.store.ListPostings(ctx, model.PostingFilter{IDs: chunk})
			return err
		})
		if err != nil {
			return r.partial(rep, ids[start:], err)
		}

		found := make(map[int64]struct{}, len(postings))
		for _, p := range postings {
			found[p.ID] = struct{}{}
		}
		for _, id := range chunk {
			if _, ok := found[id]; !ok {
				rep.Skipped = append(rep.Skipped, SkippedPosting{PostingID: id, Reason: ReasonNotFound})
			}
		}

		if err := r.processChunk(ctx, q, threshold, postings, rep); err != nil {
			rest := ids[min(start+r.cfg.ChunkSize, len(ids)):]
			return r.partial(rep, append(chunkIDs(postings), rest...), err)
		}
	}
	return nil
}

// runActive walks every active posting in id order using keyset paging.
func (r *Reconciler) runActive(ctx context.Context, q Query, threshold float64, rep *Report) error {
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return r.stopActive(ctx, rep, afterID, err)
		}

		var postings []model.JobPosting
		err := r.retry(ctx, "list postings", func() error {
			var err error
			postings, err = r.store.ListPostings(ctx, model.PostingFilter{AfterID: afterID, Limit: r.cfg.ChunkSize})
			return err
		})
		if err != nil {
			return r.stopActive(ctx, rep, afterID, err)
		}
		if len(postings) == 0 {
			return nil
		}

		if err := r.processChunk(ctx, q, threshold, postings, rep); err != nil {
			return r.stopActive(ctx, rep, afterID, err)
		}
		afterID = postings[len(postings)-1].ID
		if len(postings) < r.cfg.ChunkSize {
			return nil
		}
	}
}

// stopActive ends an all-active run early. Every active posting after the
// last committed chunk is recorded as incomplete; the listing uses a short
// detached context so a cancelled run still reports them. When they cannot be
// listed the report only carries ResumeAfterID.
func (r *Reconciler) stopActive(ctx context.Context, rep *Report, afterID int64, cause error) error {
	rep.ResumeAfterID = afterID

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remainingListTimeout)
	defer cancel()
	var rest []int64
	for cursor := afterID; ; {
		postings, err := r.store.ListPostings(lctx, model.PostingFilter{AfterID: cursor, Limit: r.cfg.ChunkSize})
		if err != nil {
			r.log.Warn("postings left undone could not be listed",
				zap.Int64("claimant_id", rep.ClaimantID), zap.Int64("resume_after_id", afterID), zap.Error(err))
			rest = nil
			break
		}
		rest = append(rest, chunkIDs(postings)...)
		if len(postings) < r.cfg.ChunkSize {
			break
		}
		cursor = postings[len(postings)-1].ID
	}
	return r.partial(rep, rest, cause)
}

// processChunk scores one chunk and persists its qualifying pairs in a single
// store call. Nothing of the chunk is counted until the write succeeds.
func (r *Reconciler) processChunk(ctx context.Context, q Query, threshold float64, postings []model.JobPosting, rep *Report) error {
	var (
		rows    []model.MatchUpsert
		results = make(map[int64]Result)
		skipped []SkippedPosting
		below   int
	)
	for _, p := range postings {
		if !p.IsActive {
			skipped = append(skipped, SkippedPosting{PostingID: p.ID, Reason: ReasonInactive})
			continue
		}
		res := Score(q, r.indexer.GetOrCreate(ctx, p), r.cfg.Weights)
		if res.Composite < threshold {
			below++
			continue
		}
		results[p.ID] = res
		rows = append(rows, model.MatchUpsert{ClaimantID: q.ClaimantID, JobPostingID: p.ID, Score: res.Composite})
	}

	var outcomes []model.UpsertOutcome
	if len(rows) > 0 {
		err := r.retry(ctx, "upsert matches", func() error {
			var err error
			outcomes, err = r.store.UpsertMatches(ctx, rows)
			return err
		})
		if err != nil {
			return err
		}
	}

	rep.Scanned += len(postings)
	rep.BelowThreshold += below
	rep.Skipped = append(rep.Skipped, skipped...)
	for _, o := range outcomes {
		if o.Missing {
			rep.Skipped = append(rep.Skipped, SkippedPosting{PostingID: o.Match.JobPostingID, Reason: ReasonNotFound})
			continue
		}
		if o.Created {
			rep.Created++
		} else {
			rep.Updated++
		}
		res := results[o.Match.JobPostingID]
		rep.Matches = append(rep.Matches, MatchedPosting{
			MatchID:         o.Match.ID,
			PostingID:       o.Match.JobPostingID,
			Score:           res.Composite,
			Sub:             res.Sub,
			MatchedKeywords: res.MatchedKeywords,
			Created:         o.Created,
		})
	}
	return nil
}

// partial records incomplete postings. Only store errors that survived the
// retries become a PartialFailureError; anything else is returned as-is.
func (r *Reconciler) partial(rep *Report, incomplete []int64, err error) error {
	rep.Incomplete = append(rep.Incomplete, incomplete...)
	if model.IsTransient(err) {
		return &PartialFailureError{Incomplete: rep.Incomplete, Err: err}
	}
	return err
}

// Prune deletes a claimant's matches that are still untouched (status new,
// no advisor notes) and score below the given value. It is the explicit
// maintenance counterpart of re-scoring, which never deletes.
func (r *Reconciler) Prune(ctx context.Context, claimantID int64, below float64) (int64, error) {
	if claimantID <= 0 {
		return 0, model.Invalid("claimant id must be positive, got %d", claimantID)
	}
	if below < 0 || below > 1 {
		return 0, model.Invalid("prune score must be within [0,1], got %v", below)
	}
	release, err := r.locker.Acquire(ctx, claimantID)
	if err != nil {
		return 0, fmt.Errorf("claimant %d: %w", claimantID, err)
	}
	defer release()

	var n int64
	err = r.retry(ctx, "delete stale matches", func() error {
		var err error
		n, err = r.store.DeleteStaleMatches(ctx, claimantID, below)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune claimant %d: %w", claimantID, err)
	}
	r.log.Info("stale matches pruned", zap.Int64("claimant_id", claimantID), zap.Float64("below", below), zap.Int64("deleted", n))
	return n, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// retry runs fn until it succeeds, fails with a non-transient error or runs
// out of attempts. The delay doubles after every failed attempt.
func (r *Reconciler) retry(ctx context.Context, op string, fn func() error) error {
	delay := r.cfg.RetryDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !model.IsTransient(err) || attempt >= r.cfg.MaxAttempts {
			return err
		}
		r.log.Warn("transient store failure, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
		delay *= 2
	}
}

func (r *Reconciler) logSummary(log *zap.Logger, rep *Report) {
	log.Info("reconcile finished",
		zap.Int64("criteria_id", rep.CriteriaID),
		zap.Int("scanned", rep.Scanned),
		zap.Int("created", rep.Created),
		zap.Int("updated", rep.Updated),
		zap.Int("below_threshold", rep.BelowThreshold),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int("incomplete", len(rep.Incomplete)),
	)
}

func chunkIDs(postings []model.JobPosting) []int64 {
	out := make([]int64, 0, len(postings))
	for _, p := range postings {
		out = append(out, p.ID)
	}
	return out
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
