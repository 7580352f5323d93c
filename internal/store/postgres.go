package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/matching-service/internal/model"
)

// Postgres implements the matching and review contracts over pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a store backed by pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const matchColumns = `id, claimant_id, job_posting_id, match_score, status, match_date, notes_for_advisor`

const postingColumns = `id, title, COALESCE(company_name, ''), COALESCE(location, ''), description,
	job_url, COALESCE(source_website, ''), date_scraped, date_posted::timestamptz, is_active`

func scanMatch(row pgx.Row, m *model.Match, extra ...any) error {
	dest := append([]any{
		&m.ID, &m.ClaimantID, &m.JobPostingID, &m.Score, &m.Status, &m.MatchDate, &m.NotesForAdvisor,
	}, extra...)
	return row.Scan(dest...)
}

func scanPosting(row pgx.Row, p *model.JobPosting) error {
	return row.Scan(
		&p.ID, &p.Title, &p.CompanyName, &p.Location, &p.Description,
		&p.JobURL, &p.SourceWebsite, &p.DateScraped, &p.DatePosted, &p.IsActive,
	)
}

// ─── Criteria & documents ────────────────────────────────────────────────────

func (s *Postgres) GetClaimantCriteria(ctx context.Context, claimantID, criteriaID int64) (*model.SearchCriteria, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claimants WHERE id = $1)`, claimantID).Scan(&exists); err != nil {
		return nil, classify("getClaimantCriteria exists", err)
	}
	if !exists {
		return nil, model.NotFound("claimant", claimantID)
	}

	const base = `
		SELECT id, claimant_id, COALESCE(keywords, ''), COALESCE(target_location, ''),
		       COALESCE(desired_sectors, ''), COALESCE(barrier_notes, ''), created_at
		FROM search_criteria
		WHERE claimant_id = $1`

	var row pgx.Row
	if criteriaID != 0 {
		row = s.pool.QueryRow(ctx, base+` AND id = $2`, claimantID, criteriaID)
	} else {
		row = s.pool.QueryRow(ctx, base+` ORDER BY created_at DESC, id DESC LIMIT 1`, claimantID)
	}

	var (
		c                 model.SearchCriteria
		keywords, sectors string
	)
	err := row.Scan(&c.ID, &c.ClaimantID, &keywords, &c.TargetLocation, &sectors, &c.BarrierNotes, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if criteriaID != 0 {
			return nil, model.NotFound("search criteria", criteriaID)
		}
		return nil, nil
	}
	if err != nil {
		return nil, classify("getClaimantCriteria scan", err)
	}
	c.Keywords = model.SplitList(keywords)
	c.Sectors = model.SplitList(sectors)
	return &c, nil
}

func (s *Postgres) ListClaimantDocuments(ctx context.Context, claimantID int64) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, claimant_id, document_type, file_path, raw_text_content, parsed_entities, uploaded_at
		 FROM claimant_documents
		 WHERE claimant_id = $1
		 ORDER BY id`,
		claimantID,
	)
	if err != nil {
		return nil, classify("listClaimantDocuments query", err)
	}
	defer rows.Close()

	docs := make([]model.Document, 0)
	for rows.Next() {
		var (
			d        model.Document
			entities []byte
		)
		if err := rows.Scan(&d.ID, &d.ClaimantID, &d.DocumentType, &d.FilePath, &d.RawText, &entities, &d.UploadedAt); err != nil {
			return nil, classify("listClaimantDocuments scan", err)
		}
		d.ParsedEntities = entities
		docs = append(docs, d)
	}
	return docs, classify("listClaimantDocuments rows", rows.Err())
}

func (s *Postgres) ListClaimantsWithCriteria(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT claimant_id FROM search_criteria ORDER BY claimant_id`)
	if err != nil {
		return nil, classify("listClaimantsWithCriteria query", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, classify("listClaimantsWithCriteria collect", err)
	}
	return ids, nil
}

// ─── Postings ────────────────────────────────────────────────────────────────

func (s *Postgres) ListPostings(ctx context.Context, f model.PostingFilter) ([]model.JobPosting, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case len(f.IDs) > 0:
		rows, err = s.pool.Query(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE id = ANY($1) ORDER BY id`, f.IDs)
	case f.Limit > 0:
		rows, err = s.pool.Query(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE is_active AND id > $1 ORDER BY id LIMIT $2`, f.AfterID, f.Limit)
	default:
		rows, err = s.pool.Query(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE is_active AND id > $1 ORDER BY id`, f.AfterID)
	}
	if err != nil {
		return nil, classify("listPostings query", err)
	}
	defer rows.Close()

	postings := make([]model.JobPosting, 0)
	for rows.Next() {
		var p model.JobPosting
		if err := scanPosting(rows, &p); err != nil {
			return nil, classify("listPostings scan", err)
		}
		postings = append(postings, p)
	}
	return postings, classify("listPostings rows", rows.Err())
}

// GetPosting returns a single posting.
func (s *Postgres) GetPosting(ctx context.Context, id int64) (*model.JobPosting, error) {
	var p model.JobPosting
	err := scanPosting(s.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE id = $1`, id), &p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("job posting", id)
	}
	if err != nil {
		return nil, classify("getPosting", err)
	}
	return &p, nil
}

// ─── Matches ─────────────────────────────────────────────────────────────────

// upsertSQL inserts a match at status new, or refreshes the score of the
// existing (claimant, posting) row. Status and notes are never in the SET
// list. No row comes back when the posting no longer exists.
const upsertSQL = `
	INSERT INTO matched_jobs (claimant_id, job_posting_id, match_score, status)
	SELECT $1, p.id, $3, 'new' FROM job_postings p WHERE p.id = $2
	ON CONFLICT (claimant_id, job_posting_id)
	DO UPDATE SET match_score = EXCLUDED.match_score
	RETURNING ` + matchColumns + `, (xmax = 0) AS inserted`

func (s *Postgres) UpsertMatch(ctx context.Context, row model.MatchUpsert) (*model.UpsertOutcome, error) {
	out, err := s.UpsertMatches(ctx, []model.MatchUpsert{row})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// UpsertMatches writes a chunk in one transaction.
func (s *Postgres) UpsertMatches(ctx context.Context, rows []model.MatchUpsert) ([]model.UpsertOutcome, error) {
	for _, row := range rows {
		if err := validateUpsert(row); err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return []model.UpsertOutcome{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify("upsertMatches begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(upsertSQL, row.ClaimantID, row.JobPostingID, row.Score)
	}
	br := tx.SendBatch(ctx, batch)

	out := make([]model.UpsertOutcome, 0, len(rows))
	for _, row := range rows {
		var o model.UpsertOutcome
		err := scanMatch(br.QueryRow(), &o.Match, &o.Created)
		if errors.Is(err, pgx.ErrNoRows) {
			o = model.UpsertOutcome{Missing: true, Match: model.Match{ClaimantID: row.ClaimantID, JobPostingID: row.JobPostingID}}
		} else if err != nil {
			br.Close()
			return nil, upsertError(row, err)
		}
		out = append(out, o)
	}
	if err := br.Close(); err != nil {
		return nil, classify("upsertMatches batch", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("upsertMatches commit", err)
	}
	return out, nil
}

// upsertError maps a foreign-key violation to the entity that vanished. A
// posting deleted between the existence check and the insert is retried,
// which then reports it as missing.
func upsertError(row model.MatchUpsert, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		if strings.Contains(pgErr.ConstraintName, "claimant") {
			return model.NotFound("claimant", row.ClaimantID)
		}
		return &model.TransientError{Op: "upsertMatches", Err: err}
	}
	return classify("upsertMatches", err)
}

func (s *Postgres) GetMatch(ctx context.Context, matchID int64) (*model.Match, error) {
	var m model.Match
	err := scanMatch(s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matched_jobs WHERE id = $1`, matchID), &m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("match", matchID)
	}
	if err != nil {
		return nil, classify("getMatch", err)
	}
	return &m, nil
}

// UpdateMatchStatus moves the status and appends the history row atomically.
func (s *Postgres) UpdateMatchStatus(ctx context.Context, ch model.StatusChange) (*model.Match, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify("updateMatchStatus begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var m model.Match
	err = scanMatch(tx.QueryRow(ctx,
		`UPDATE matched_jobs SET status = $1
		 WHERE id = $2 AND status = $3
		 RETURNING `+matchColumns,
		ch.To, ch.MatchID, ch.From,
	), &m)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM matched_jobs WHERE id = $1)`, ch.MatchID).Scan(&exists); err != nil {
			return nil, classify("updateMatchStatus exists", err)
		}
		if !exists {
			return nil, model.NotFound("match", ch.MatchID)
		}
		return nil, errStatusMoved(ch.MatchID, ch.From)
	}
	if err != nil {
		return nil, classify("updateMatchStatus update", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO match_status_history (match_id, from_status, to_status, action, actor_id, actor_kind, changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ch.MatchID, ch.From, ch.To, ch.Action, ch.ActorID, ch.ActorKind, ch.At,
	); err != nil {
		return nil, classify("updateMatchStatus history", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("updateMatchStatus commit", err)
	}
	return &m, nil
}

func (s *Postgres) UpdateAdvisorNotes(ctx context.Context, matchID int64, notes *string) (*model.Match, error) {
	var m model.Match
	err := scanMatch(s.pool.QueryRow(ctx,
		`UPDATE matched_jobs SET notes_for_advisor = $1 WHERE id = $2 RETURNING `+matchColumns,
		notes, matchID,
	), &m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("match", matchID)
	}
	if err != nil {
		return nil, classify("updateAdvisorNotes", err)
	}
	return &m, nil
}

func (s *Postgres) ListMatches(ctx context.Context, claimantID int64, f model.MatchFilter) ([]model.Match, error) {
	const base = `SELECT ` + matchColumns + ` FROM matched_jobs WHERE claimant_id = $1`
	const order = ` ORDER BY match_score DESC NULLS LAST, id`

	limit := any(nil)
	if f.Limit > 0 {
		limit = f.Limit
	}

	var (
		rows pgx.Rows
		err  error
	)
	if f.Status != "" {
		rows, err = s.pool.Query(ctx, base+` AND status = $2`+order+` LIMIT $3 OFFSET $4`, claimantID, f.Status, limit, f.Offset)
	} else {
		rows, err = s.pool.Query(ctx, base+order+` LIMIT $2 OFFSET $3`, claimantID, limit, f.Offset)
	}
	if err != nil {
		return nil, classify("listMatches query", err)
	}
	defer rows.Close()

	matches := make([]model.Match, 0)
	for rows.Next() {
		var m model.Match
		if err := scanMatch(rows, &m); err != nil {
			return nil, classify("listMatches scan", err)
		}
		matches = append(matches, m)
	}
	return matches, classify("listMatches rows", rows.Err())
}

func (s *Postgres) ListStatusHistory(ctx context.Context, matchID int64) ([]model.StatusChange, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT match_id, from_status, to_status, action, actor_id, actor_kind, changed_at
		 FROM match_status_history
		 WHERE match_id = $1
		 ORDER BY changed_at, id`,
		matchID,
	)
	if err != nil {
		return nil, classify("listStatusHistory query", err)
	}
	defer rows.Close()

	out := make([]model.StatusChange, 0)
	for rows.Next() {
		var h model.StatusChange
		if err := rows.Scan(&h.MatchID, &h.From, &h.To, &h.Action, &h.ActorID, &h.ActorKind, &h.At); err != nil {
			return nil, classify("listStatusHistory scan", err)
		}
		out = append(out, h)
	}
	return out, classify("listStatusHistory rows", rows.Err())
}

// DeleteStaleMatches removes untouched low-score matches: status new, no
// advisor notes, score below the given value.
func (s *Postgres) DeleteStaleMatches(ctx context.Context, claimantID int64, below float64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM matched_jobs
		 WHERE claimant_id = $1
		   AND status = 'new'
		   AND notes_for_advisor IS NULL
		   AND match_score < $2`,
		claimantID, below,
	)
	if err != nil {
		return 0, classify("deleteStaleMatches", err)
	}
	return tag.RowsAffected(), nil
}

// ─── Error classification ────────────────────────────────────────────────────

// transientCodes are SQLSTATEs worth retrying: serialization failure,
// deadlock, too many connections and shutdown/restart of the server.
var transientCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"53300": true,
	"57P01": true,
	"57P02": true,
	"57P03": true,
}

// classify wraps err with op and marks it transient when a retry may succeed.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if IsTransient(err) {
		return &model.TransientError{Op: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return &model.ValidationError{Msg: fmt.Sprintf("%s: %s", op, pgErr.Message)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransient reports whether a raw pgx error is a connection-level or
// concurrency failure.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
