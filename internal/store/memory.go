package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobmate/matching-service/internal/model"
)

type pair struct{ claimant, posting int64 }

// Memory is an in-process store with the same semantics as Postgres,
// cascade deletes included. It backs tests and local runs without a
// database. Faults can be queued per operation to simulate an unreliable
// store.
type Memory struct {
	mu sync.Mutex

	seq       int64
	claimants map[int64]model.Claimant
	criteria  map[int64]model.SearchCriteria
	documents map[int64]model.Document
	postings  map[int64]model.JobPosting
	matches   map[int64]model.Match
	byPair    map[pair]int64
	history   []model.StatusChange
	faults    map[string][]error

	now func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		claimants: make(map[int64]model.Claimant),
		criteria:  make(map[int64]model.SearchCriteria),
		documents: make(map[int64]model.Document),
		postings:  make(map[int64]model.JobPosting),
		matches:   make(map[int64]model.Match),
		byPair:    make(map[pair]int64),
		faults:    make(map[string][]error),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Operation names accepted by InjectFault.
const (
	OpGetCriteria   = "GetClaimantCriteria"
	OpListDocuments = "ListClaimantDocuments"
	OpListPostings  = "ListPostings"
	OpUpsert        = "UpsertMatches"
	OpDeleteStale   = "DeleteStaleMatches"
)

// InjectFault queues errs to be returned, one per call, by the next calls of
// op before any state is touched.
func (m *Memory) InjectFault(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

// fault pops the next queued error of op. Callers hold mu.
func (m *Memory) fault(op string) error {
	q := m.faults[op]
	if len(q) == 0 {
		return nil
	}
	m.faults[op] = q[1:]
	return q[0]
}

func (m *Memory) nextID() int64 {
	m.seq++
	return m.seq
}

// ─── Seeding ─────────────────────────────────────────────────────────────────

// AddClaimant stores c, assigning an id when zero.
func (m *Memory) AddClaimant(c model.Claimant) model.Claimant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.nextID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
		c.UpdatedAt = c.CreatedAt
	}
	m.claimants[c.ID] = c
	return c
}

// AddCriteria stores a criteria set. Without an explicit CreatedAt each new
// set is strictly newer than the previous one.
func (m *Memory) AddCriteria(c model.SearchCriteria) model.SearchCriteria {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.nextID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().Add(time.Duration(c.ID) * time.Microsecond)
	}
	m.criteria[c.ID] = c
	return c
}

// AddDocument stores a claimant document.
func (m *Memory) AddDocument(d model.Document) model.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		d.ID = m.nextID()
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = m.now()
	}
	m.documents[d.ID] = d
	return d
}

// PutPosting inserts or replaces a posting. A zero id reuses the id of the
// posting with the same JobURL, if any.
func (m *Memory) PutPosting(p model.JobPosting) model.JobPosting {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 && p.JobURL != "" {
		for id, existing := range m.postings {
			if existing.JobURL == p.JobURL {
				p.ID = id
				break
			}
		}
	}
	if p.ID == 0 {
		p.ID = m.nextID()
	}
	if p.DateScraped.IsZero() {
		p.DateScraped = m.now()
	}
	m.postings[p.ID] = p
	return p
}

// DeleteClaimant removes a claimant with its criteria, documents and matches.
func (m *Memory) DeleteClaimant(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimants, id)
	for cid, c := range m.criteria {
		if c.ClaimantID == id {
			delete(m.criteria, cid)
		}
	}
	for did, d := range m.documents {
		if d.ClaimantID == id {
			delete(m.documents, did)
		}
	}
	for mid, mt := range m.matches {
		if mt.ClaimantID == id {
			m.deleteMatch(mid)
		}
	}
}

// DeletePosting removes a posting and its matches.
func (m *Memory) DeletePosting(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.postings, id)
	for mid, mt := range m.matches {
		if mt.JobPostingID == id {
			m.deleteMatch(mid)
		}
	}
}

func (m *Memory) deleteMatch(id int64) {
	mt := m.matches[id]
	delete(m.byPair, pair{mt.ClaimantID, mt.JobPostingID})
	delete(m.matches, id)
	kept := m.history[:0]
	for _, h := range m.history {
		if h.MatchID != id {
			kept = append(kept, h)
		}
	}
	m.history = kept
}

// Matches returns every match of a claimant ordered by posting id.
func (m *Memory) Matches(claimantID int64) []model.Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Match
	for _, mt := range m.matches {
		if mt.ClaimantID == claimantID {
			out = append(out, cloneMatch(mt))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobPostingID < out[j].JobPostingID })
	return out
}

// ─── Criteria & postings ─────────────────────────────────────────────────────

func (m *Memory) GetClaimantCriteria(_ context.Context, claimantID, criteriaID int64) (*model.SearchCriteria, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpGetCriteria); err != nil {
		return nil, err
	}
	if _, ok := m.claimants[claimantID]; !ok {
		return nil, model.NotFound("claimant", claimantID)
	}
	if criteriaID != 0 {
		c, ok := m.criteria[criteriaID]
		if !ok || c.ClaimantID != claimantID {
			return nil, model.NotFound("search criteria", criteriaID)
		}
		return &c, nil
	}
	var latest *model.SearchCriteria
	for _, c := range m.criteria {
		if c.ClaimantID != claimantID {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) ||
			(c.CreatedAt.Equal(latest.CreatedAt) && c.ID > latest.ID) {
			c := c
			latest = &c
		}
	}
	return latest, nil
}

func (m *Memory) ListClaimantDocuments(_ context.Context, claimantID int64) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpListDocuments); err != nil {
		return nil, err
	}
	var out []model.Document
	for _, d := range m.documents {
		if d.ClaimantID == claimantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListPostings(_ context.Context, f model.PostingFilter) ([]model.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpListPostings); err != nil {
		return nil, err
	}
	var out []model.JobPosting
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if p, ok := m.postings[id]; ok {
				out = append(out, p)
			}
		}
	} else {
		for _, p := range m.postings {
			if p.IsActive && p.ID > f.AfterID {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(f.IDs) == 0 && f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// GetPosting returns a single posting.
func (m *Memory) GetPosting(_ context.Context, id int64) (*model.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.postings[id]
	if !ok {
		return nil, model.NotFound("job posting", id)
	}
	return &p, nil
}

func (m *Memory) ListClaimantsWithCriteria(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, c := range m.criteria {
		if _, ok := seen[c.ClaimantID]; ok {
			continue
		}
		seen[c.ClaimantID] = struct{}{}
		out = append(out, c.ClaimantID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ─── Matches ─────────────────────────────────────────────────────────────────

// upsert applies one row. Callers hold mu and have validated the claimant.
func (m *Memory) upsert(row model.MatchUpsert) model.UpsertOutcome {
	if _, ok := m.postings[row.JobPostingID]; !ok {
		return model.UpsertOutcome{Missing: true, Match: model.Match{ClaimantID: row.ClaimantID, JobPostingID: row.JobPostingID}}
	}
	score := row.Score
	key := pair{row.ClaimantID, row.JobPostingID}
	if id, ok := m.byPair[key]; ok {
		mt := m.matches[id]
		mt.Score = &score
		m.matches[id] = mt
		return model.UpsertOutcome{Match: cloneMatch(mt)}
	}
	mt := model.Match{
		ID:           m.nextID(),
		ClaimantID:   row.ClaimantID,
		JobPostingID: row.JobPostingID,
		Score:        &score,
		Status:       statusNew,
		MatchDate:    m.now(),
	}
	m.matches[mt.ID] = mt
	m.byPair[key] = mt.ID
	return model.UpsertOutcome{Match: cloneMatch(mt), Created: true}
}

func (m *Memory) UpsertMatch(_ context.Context, row model.MatchUpsert) (*model.UpsertOutcome, error) {
	if err := validateUpsert(row); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpUpsert); err != nil {
		return nil, err
	}
	if _, ok := m.claimants[row.ClaimantID]; !ok {
		return nil, model.NotFound("claimant", row.ClaimantID)
	}
	o := m.upsert(row)
	return &o, nil
}

func (m *Memory) UpsertMatches(_ context.Context, rows []model.MatchUpsert) ([]model.UpsertOutcome, error) {
	for _, row := range rows {
		if err := validateUpsert(row); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpUpsert); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, ok := m.claimants[row.ClaimantID]; !ok {
			return nil, model.NotFound("claimant", row.ClaimantID)
		}
	}
	out := make([]model.UpsertOutcome, 0, len(rows))
	for _, row := range rows {
		out = append(out, m.upsert(row))
	}
	return out, nil
}

func (m *Memory) GetMatch(_ context.Context, matchID int64) (*model.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return nil, model.NotFound("match", matchID)
	}
	mt = cloneMatch(mt)
	return &mt, nil
}

func (m *Memory) UpdateMatchStatus(_ context.Context, ch model.StatusChange) (*model.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[ch.MatchID]
	if !ok {
		return nil, model.NotFound("match", ch.MatchID)
	}
	if mt.Status != ch.From {
		return nil, errStatusMoved(ch.MatchID, ch.From)
	}
	mt.Status = ch.To
	m.matches[ch.MatchID] = mt
	m.history = append(m.history, ch)
	mt = cloneMatch(mt)
	return &mt, nil
}

func (m *Memory) UpdateAdvisorNotes(_ context.Context, matchID int64, notes *string) (*model.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[matchID]
	if !ok {
		return nil, model.NotFound("match", matchID)
	}
	if notes != nil {
		n := *notes
		notes = &n
	}
	mt.NotesForAdvisor = notes
	m.matches[matchID] = mt
	mt = cloneMatch(mt)
	return &mt, nil
}

func (m *Memory) ListMatches(_ context.Context, claimantID int64, f model.MatchFilter) ([]model.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Match, 0)
	for _, mt := range m.matches {
		if mt.ClaimantID != claimantID {
			continue
		}
		if f.Status != "" && mt.Status != f.Status {
			continue
		}
		out = append(out, cloneMatch(mt))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Score, out[j].Score
		switch {
		case a != nil && b != nil && *a != *b:
			return *a > *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	if f.Offset >= len(out) {
		return []model.Match{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) ListStatusHistory(_ context.Context, matchID int64) ([]model.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.StatusChange, 0)
	for _, h := range m.history {
		if h.MatchID == matchID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) DeleteStaleMatches(_ context.Context, claimantID int64, below float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpDeleteStale); err != nil {
		return 0, err
	}
	var n int64
	for id, mt := range m.matches {
		if mt.ClaimantID != claimantID || mt.Status != statusNew || mt.NotesForAdvisor != nil {
			continue
		}
		if mt.Score != nil && *mt.Score < below {
			m.deleteMatch(id)
			n++
		}
	}
	return n, nil
}

func cloneMatch(mt model.Match) model.Match {
	if mt.Score != nil {
		s := *mt.Score
		mt.Score = &s
	}
	if mt.NotesForAdvisor != nil {
		n := *mt.NotesForAdvisor
		mt.NotesForAdvisor = &n
	}
	return mt
}
