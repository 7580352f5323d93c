package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"jobmate/matching-service/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		transient  bool
		validation bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true, false},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true, false},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true, false},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true, false},
		{"check violation", &pgconn.PgError{Code: "23514", Message: "score out of range"}, false, true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false, false},
		{"wrapped deadlock", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"}), true, false},
		{"plain error", errors.New("boom"), false, false},
		{"cancelled", context.Canceled, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			if got := model.IsTransient(err); got != tc.transient {
				t.Errorf("IsTransient(classify(%v)) = %v, want %v", tc.err, got, tc.transient)
			}
			if got := model.IsValidation(err); got != tc.validation {
				t.Errorf("IsValidation(classify(%v)) = %v, want %v", tc.err, got, tc.validation)
			}
		})
	}

	if classify("op", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestUpsertErrorForeignKeys(t *testing.T) {
	row := model.MatchUpsert{ClaimantID: 7, JobPostingID: 9, Score: 0.5}

	err := upsertError(row, &pgconn.PgError{Code: "23503", ConstraintName: "matched_jobs_claimant_id_fkey"})
	var nf *model.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "claimant" || nf.ID != 7 {
		t.Errorf("claimant fk violation should be claimant not found, got %v", err)
	}

	err = upsertError(row, &pgconn.PgError{Code: "23503", ConstraintName: "matched_jobs_job_posting_id_fkey"})
	if !model.IsTransient(err) {
		t.Errorf("posting fk violation should be retried, got %v", err)
	}
}
