package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
)

// Actor kinds accepted on status and notes changes.
const (
	ActorAdvisor  = "advisor"
	ActorClaimant = "claimant"
	ActorSystem   = "system"
)

// Default and maximum page sizes of ListMatches.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Actor identifies who triggered a change.
type Actor struct {
	ID   string
	Kind string
}

func (a Actor) validate() (Actor, error) {
	a.ID = strings.TrimSpace(a.ID)
	a.Kind = strings.ToLower(strings.TrimSpace(a.Kind))
	if a.ID == "" {
		return a, model.Invalid("actor id is required")
	}
	switch a.Kind {
	case "":
		a.Kind = ActorAdvisor
	case ActorAdvisor, ActorClaimant, ActorSystem:
	default:
		return a, model.Invalid("unknown actor kind %q", a.Kind)
	}
	return a, nil
}

// Repository is the persistence contract of the review service.
type Repository interface {
	GetMatch(ctx context.Context, matchID int64) (*model.Match, error)
	// UpdateMatchStatus moves the match from ch.From to ch.To and appends ch
	// to its history. It fails with a ValidationError when the stored status
	// is no longer ch.From.
	UpdateMatchStatus(ctx context.Context, ch model.StatusChange) (*model.Match, error)
	UpdateAdvisorNotes(ctx context.Context, matchID int64, notes *string) (*model.Match, error)
	ListMatches(ctx context.Context, claimantID int64, f model.MatchFilter) ([]model.Match, error)
	ListStatusHistory(ctx context.Context, matchID int64) ([]model.StatusChange, error)
}

// Publisher is notified after every committed status change.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, m model.Match, ch model.StatusChange) error
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service encapsulates match review logic. It is transport-agnostic: used by
// the gRPC server and the REST handlers.
type Service struct {
	repo Repository
	pub  Publisher
	log  *zap.Logger
	now  func() time.Time
}

// NewService returns a configured Service. pub may be nil.
func NewService(repo Repository, pub Publisher, log *zap.Logger) *Service {
	return &Service{
		repo: repo,
		pub:  pub,
		log:  logger.WithFields(log, zap.String("component", "review")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// ─── Business logic ──────────────────────────────────────────────────────────

// GetMatch returns a single match.
func (s *Service) GetMatch(ctx context.Context, matchID int64) (*model.Match, error) {
	if matchID <= 0 {
		return nil, model.Invalid("match id must be positive, got %d", matchID)
	}
	return s.repo.GetMatch(ctx, matchID)
}

// TransitionMatchStatus applies normal progress (forward, or to closed).
func (s *Service) TransitionMatchStatus(ctx context.Context, matchID int64, to string, actor Actor) (*model.Match, error) {
	return s.move(ctx, matchID, to, ActionTransition, actor)
}

// Reopen moves a closed match back to an active status, or resets an active
// match to an earlier one. Every reopen is logged with its actor.
func (s *Service) Reopen(ctx context.Context, matchID int64, to string, actor Actor) (*model.Match, error) {
	return s.move(ctx, matchID, to, ActionReopen, actor)
}

func (s *Service) move(ctx context.Context, matchID int64, toStr string, action Action, actor Actor) (*model.Match, error) {
	if matchID <= 0 {
		return nil, model.Invalid("match id must be positive, got %d", matchID)
	}
	actor, err := actor.validate()
	if err != nil {
		return nil, err
	}
	to, err := ParseStatus(toStr)
	if err != nil {
		return nil, &model.ValidationError{Msg: err.Error()}
	}

	current, err := s.repo.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	from, err := ParseStatus(current.Status)
	if err != nil {
		return nil, model.Invalid("match %d has unrecognised stored status %q", matchID, current.Status)
	}
	if err := CheckTransition(from, to, action); err != nil {
		return nil, &model.ValidationError{Msg: err.Error()}
	}

	ch := model.StatusChange{
		MatchID:   matchID,
		From:      string(from),
		To:        string(to),
		Action:    string(action),
		ActorID:   actor.ID,
		ActorKind: actor.Kind,
		At:        s.now(),
	}
	m, err := s.repo.UpdateMatchStatus(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("update match status: %w", err)
	}

	if action == ActionReopen {
		s.log.Info("match reopened",
			zap.Int64("match_id", matchID),
			zap.String("from", ch.From),
			zap.String("to", ch.To),
			zap.String("action", ch.Action),
			zap.String("actor_id", actor.ID),
			zap.String("actor_kind", actor.Kind),
		)
	}

	// Non-fatal: the change is committed.
	if s.pub != nil {
		if err := s.pub.PublishStatusChanged(ctx, *m, ch); err != nil {
			s.log.Warn("publish status change failed", zap.Int64("match_id", matchID), zap.Error(err))
		}
	}
	return m, nil
}

// UpdateAdvisorNotes sets or replaces the advisor notes of a match. Blank
// notes clear them.
func (s *Service) UpdateAdvisorNotes(ctx context.Context, matchID int64, notes string, actor Actor) (*model.Match, error) {
	if matchID <= 0 {
		return nil, model.Invalid("match id must be positive, got %d", matchID)
	}
	actor, err := actor.validate()
	if err != nil {
		return nil, err
	}
	var ptr *string
	if strings.TrimSpace(notes) != "" {
		ptr = &notes
	}
	m, err := s.repo.UpdateAdvisorNotes(ctx, matchID, ptr)
	if err != nil {
		return nil, err
	}
	s.log.Debug("advisor notes updated", zap.Int64("match_id", matchID), zap.String("actor_id", actor.ID))
	return m, nil
}

// ListMatches returns a claimant's matches, best score first. An optional
// status filter narrows the result.
func (s *Service) ListMatches(ctx context.Context, claimantID int64, f model.MatchFilter) ([]model.Match, error) {
	if claimantID <= 0 {
		return nil, model.Invalid("claimant id must be positive, got %d", claimantID)
	}
	if f.Status != "" {
		if _, err := ParseStatus(f.Status); err != nil {
			return nil, &model.ValidationError{Msg: err.Error()}
		}
	}
	if f.Offset < 0 {
		return nil, model.Invalid("offset must not be negative")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	}
	return s.repo.ListMatches(ctx, claimantID, f)
}

// History returns the status changes of a match, oldest first.
func (s *Service) History(ctx context.Context, matchID int64) ([]model.StatusChange, error) {
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	return s.repo.ListStatusHistory(ctx, matchID)
}
