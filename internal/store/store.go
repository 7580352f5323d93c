// Package store implements the persistence contracts of the matching engine
// and the review service: a pgx-backed Postgres store and an in-memory
// equivalent. The expected tables are documented in schema.sql.
package store

import (
	"fmt"
	"math"

	"jobmate/matching-service/internal/model"
)

// statusNew is the only status ever written on insert.
const statusNew = "new"

func validateUpsert(row model.MatchUpsert) error {
	if row.ClaimantID <= 0 || row.JobPostingID <= 0 {
		return model.Invalid("match needs positive claimant and posting ids, got (%d, %d)", row.ClaimantID, row.JobPostingID)
	}
	if math.IsNaN(row.Score) || row.Score < 0 || row.Score > 1 {
		return model.Invalid("match score must be within [0,1], got %v", row.Score)
	}
	return nil
}

func errStatusMoved(matchID int64, from string) error {
	return &model.ValidationError{Msg: fmt.Sprintf("match %d is no longer %s, reload and retry", matchID, from)}
}
