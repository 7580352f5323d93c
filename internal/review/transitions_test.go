package review_test

import (
	"testing"

	"jobmate/matching-service/internal/review"
)

var allStatuses = []review.Status{
	review.StatusNew,
	review.StatusViewed,
	review.StatusSuggested,
	review.StatusApplied,
	review.StatusClosed,
}

// ── ParseStatus ────────────────────────────────────────────────────────────

func TestParseStatus_ValidValues(t *testing.T) {
	valid := []string{"new", "viewed", "suggested_to_claimant", "applied", "closed"}
	for _, s := range valid {
		got, err := review.ParseStatus(s)
		if err != nil {
			t.Errorf("ParseStatus(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseStatus(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseStatus_Rejected(t *testing.T) {
	for _, s := range []string{"", "NEW", " new", "archived", "rejected"} {
		if _, err := review.ParseStatus(s); err == nil {
			t.Errorf("ParseStatus(%q) expected error, got nil", s)
		}
	}
}

// ── IsTransitionAllowed: forward progress ─────────────────────────────────

func TestIsTransitionAllowed_Forward(t *testing.T) {
	cases := []struct {
		from review.Status
		to   review.Status
	}{
		{review.StatusNew, review.StatusViewed},
		{review.StatusViewed, review.StatusSuggested},
		{review.StatusSuggested, review.StatusApplied},
		{review.StatusNew, review.StatusSuggested}, // skip viewed
		{review.StatusNew, review.StatusApplied},   // skip two
		{review.StatusViewed, review.StatusApplied},
	}
	for _, c := range cases {
		if !review.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be true", c.from, c.to)
		}
	}
}

// ── IsTransitionAllowed: closing is always allowed (except from closed) ───

func TestIsTransitionAllowed_ToClosed(t *testing.T) {
	for _, from := range allStatuses[:4] {
		if !review.IsTransitionAllowed(from, review.StatusClosed) {
			t.Errorf("IsTransitionAllowed(%s → closed) should be true", from)
		}
	}
}

// ── IsTransitionAllowed: backwards movements need a reopen ────────────────

func TestIsTransitionAllowed_Backwards(t *testing.T) {
	cases := []struct {
		from review.Status
		to   review.Status
	}{
		{review.StatusApplied, review.StatusViewed},
		{review.StatusApplied, review.StatusNew},
		{review.StatusSuggested, review.StatusViewed},
		{review.StatusViewed, review.StatusNew},
	}
	for _, c := range cases {
		if review.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s → %s) should be false (backwards)", c.from, c.to)
		}
		if err := review.CheckTransition(c.from, c.to, review.ActionReopen); err != nil {
			t.Errorf("reopen %s → %s should be allowed: %v", c.from, c.to, err)
		}
	}
}

// ── closed only leaves through reopen ──────────────────────────────────────

func TestCheckTransition_FromClosed(t *testing.T) {
	for _, to := range allStatuses {
		if review.IsTransitionAllowed(review.StatusClosed, to) {
			t.Errorf("IsTransitionAllowed(closed → %s) should be false", to)
		}
	}
	for _, to := range allStatuses[:4] {
		if err := review.CheckTransition(review.StatusClosed, to, review.ActionReopen); err != nil {
			t.Errorf("reopen closed → %s should be allowed: %v", to, err)
		}
	}
}

func TestCheckTransition_ReopenRules(t *testing.T) {
	if err := review.CheckTransition(review.StatusApplied, review.StatusClosed, review.ActionReopen); err == nil {
		t.Error("reopen to closed should be rejected")
	}
	if err := review.CheckTransition(review.StatusNew, review.StatusApplied, review.ActionReopen); err == nil {
		t.Error("reopen that moves forward should be rejected")
	}
	if err := review.CheckTransition(review.StatusNew, review.StatusViewed, review.Action("bogus")); err == nil {
		t.Error("unknown action should be rejected")
	}
}

// ── self-transitions are forbidden ─────────────────────────────────────────

func TestCheckTransition_Self(t *testing.T) {
	for _, s := range allStatuses {
		for _, action := range []review.Action{review.ActionTransition, review.ActionReopen} {
			if err := review.CheckTransition(s, s, action); err == nil {
				t.Errorf("CheckTransition(%s → %s, %s) should fail (self)", s, s, action)
			}
		}
	}
}

// new is only ever an initial state or a reopen target.
func TestIsTransitionAllowed_NewIsNeverReachable(t *testing.T) {
	for _, from := range allStatuses[1:] {
		if review.IsTransitionAllowed(from, review.StatusNew) {
			t.Errorf("IsTransitionAllowed(%s → new) must be false", from)
		}
	}
	if review.InitialStatus != review.StatusNew {
		t.Errorf("InitialStatus = %s, want new", review.InitialStatus)
	}
}

func TestCheckTransition_UnknownStatus(t *testing.T) {
	if err := review.CheckTransition("archived", review.StatusClosed, review.ActionTransition); err == nil {
		t.Error("unknown source status should be rejected")
	}
	if err := review.CheckTransition(review.StatusNew, "hired", review.ActionTransition); err == nil {
		t.Error("unknown target status should be rejected")
	}
}
