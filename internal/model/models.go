// Package model defines shared data structures for the matching service.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Claimant mirrors the claimants table row.
type Claimant struct {
	ID          int64
	Name        string
	Email       string
	PhoneNumber *string
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document types seen in claimant_documents.document_type. The column is an
// open enumeration; anything else is carried through as-is.
const (
	DocumentTypeCV          = "cv"
	DocumentTypeCoverLetter = "cover_letter"
	DocumentTypeOther       = "other"
)

// Document mirrors a claimant_documents row. ParsedEntities holds the raw
// JSONB value produced by the (external) document parser.
type Document struct {
	ID             int64
	ClaimantID     int64
	DocumentType   string
	FilePath       *string
	RawText        *string
	ParsedEntities json.RawMessage
	UploadedAt     time.Time
}

// IsCV reports whether the document is a CV, case-insensitively.
func (d Document) IsCV() bool {
	return strings.EqualFold(strings.TrimSpace(d.DocumentType), DocumentTypeCV)
}

// JobPosting mirrors the job_postings table row. JobURL is globally unique.
type JobPosting struct {
	ID            int64
	Title         string
	CompanyName   string
	Location      string
	Description   string
	JobURL        string
	SourceWebsite string
	DateScraped   time.Time
	DatePosted    *time.Time
	IsActive      bool
}

// SearchCriteria mirrors a search_criteria row. Keywords and Sectors are
// stored comma-separated and parsed on read with SplitList.
type SearchCriteria struct {
	ID             int64
	ClaimantID     int64
	Keywords       []string
	TargetLocation string
	Sectors        []string
	BarrierNotes   string
	CreatedAt      time.Time
}

// Match mirrors a matched_jobs row. Score is nil when no signal could be
// computed; Status is the stored string form of the review status.
type Match struct {
	ID              int64     `json:"id"`
	ClaimantID      int64     `json:"claimant_id"`
	JobPostingID    int64     `json:"job_posting_id"`
	Score           *float64  `json:"match_score"`
	Status          string    `json:"status"`
	MatchDate       time.Time `json:"match_date"`
	NotesForAdvisor *string   `json:"notes_for_advisor"`
}

// MatchUpsert is one row the reconciler wants persisted.
type MatchUpsert struct {
	ClaimantID   int64
	JobPostingID int64
	Score        float64
}

// UpsertOutcome reports what happened to one MatchUpsert. Missing is set
// when the posting no longer exists and nothing was written.
type UpsertOutcome struct {
	Match   Match
	Created bool
	Missing bool
}

// PostingFilter narrows ListPostings. When IDs is non-empty only those
// postings are returned (active or not); otherwise active postings with
// id > AfterID are returned in id order, at most Limit of them.
type PostingFilter struct {
	IDs     []int64
	AfterID int64
	Limit   int
}

// MatchFilter narrows ListMatches.
type MatchFilter struct {
	Status string
	Limit  int
	Offset int
}

// StatusChange is one entry of a match's status history.
type StatusChange struct {
	MatchID   int64     `json:"match_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	ActorKind string    `json:"actor_kind"`
	At        time.Time `json:"at"`
}

// SplitList parses a comma-separated column value into trimmed, non-empty
// items, preserving order.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
