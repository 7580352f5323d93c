package matching_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"jobmate/matching-service/internal/matching"
	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/store"
)

type fixture struct {
	store    *store.Memory
	claimant model.Claimant
	a, b     model.JobPosting
}

// newFixture seeds the forklift scenario: posting A matches, posting B does not.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := store.NewMemory()
	c := m.AddClaimant(model.Claimant{Name: "Sam", Email: "sam@example.org"})
	m.AddCriteria(model.SearchCriteria{
		ClaimantID:     c.ID,
		Keywords:       []string{"forklift", "warehouse"},
		TargetLocation: "Springfield",
	})
	a := m.PutPosting(model.JobPosting{
		Title:       "Forklift operator",
		Description: "Forklift operator needed in Springfield, IL",
		Location:    "Springfield, IL",
		JobURL:      "https://jobs.example/a",
		IsActive:    true,
	})
	b := m.PutPosting(model.JobPosting{
		Title:       "Graphic designer",
		Description: "graphic designer remote",
		Location:    "Remote",
		JobURL:      "https://jobs.example/b",
		IsActive:    true,
	})
	return &fixture{store: m, claimant: c, a: a, b: b}
}

func newReconciler(s matching.Store, cfg matching.Config) *matching.Reconciler {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return matching.NewReconciler(s, nil, nil, cfg, nil)
}

func transient() error {
	return &model.TransientError{Op: "test", Err: errors.New("connection reset by peer")}
}

func TestReconcileScenario(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.DefaultConfig())

	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Created != 1 || rep.Updated != 0 || rep.BelowThreshold != 1 {
		t.Errorf("report = %+v, want 1 created and 1 below threshold", rep)
	}
	if rep.RunID == "" {
		t.Error("report should carry a run id")
	}

	matches := f.store.Matches(f.claimant.ID)
	if len(matches) != 1 || matches[0].JobPostingID != f.a.ID {
		t.Fatalf("expected a single match for posting A, got %+v", matches)
	}
	if matches[0].Status != "new" {
		t.Errorf("new match status = %q, want new", matches[0].Status)
	}
	sub := rep.Matches[0].Sub
	if sub.KeywordOverlap < 0.5 || sub.LocationMatch != 0.5 {
		t.Errorf("sub-scores = %+v", sub)
	}
	if got := rep.Matches[0].MatchedKeywords; !reflect.DeepEqual(got, []string{"forklift"}) {
		t.Errorf("matched keywords = %v, want [forklift]", got)
	}
}

func TestReconcileUnsetThresholdUsesDefault(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.Config{ChunkSize: 50})
	if got := *r.Config().Threshold; got != matching.DefaultThreshold {
		t.Fatalf("effective threshold = %v, want %v", got, matching.DefaultThreshold)
	}

	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Threshold != matching.DefaultThreshold || rep.Created != 1 {
		t.Errorf("report = %+v, want only posting A at the default threshold", rep)
	}
	for _, m := range f.store.Matches(f.claimant.ID) {
		if m.JobPostingID == f.b.ID {
			t.Errorf("posting B has no keyword overlap but got match %+v", m)
		}
	}
}

func TestReconcileExplicitZeroThreshold(t *testing.T) {
	f := newFixture(t)
	zero := 0.0
	r := newReconciler(f.store, matching.Config{Threshold: &zero})

	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Threshold != 0 || rep.Created != 2 {
		t.Errorf("report = %+v, want every scored posting persisted", rep)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.DefaultConfig())
	ctx := context.Background()

	if _, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := f.store.Matches(f.claimant.ID)

	rep, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := f.store.Matches(f.claimant.ID)

	if rep.Created != 0 || rep.Updated != 1 {
		t.Errorf("second run should only update, got %+v", rep)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-running changed the match set:\n%+v\n%+v", first, second)
	}
}

func TestReconcileProtectsStatusAndNotes(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.DefaultConfig())
	ctx := context.Background()

	if _, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	m := f.store.Matches(f.claimant.ID)[0]
	if _, err := f.store.UpdateMatchStatus(ctx, model.StatusChange{MatchID: m.ID, From: "new", To: "applied", Action: "transition", ActorID: "adv-1", ActorKind: "advisor"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	notes := "interview booked for Tuesday"
	if _, err := f.store.UpdateAdvisorNotes(ctx, m.ID, &notes); err != nil {
		t.Fatalf("notes: %v", err)
	}

	if _, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	got, _ := f.store.GetMatch(ctx, m.ID)
	if got.Status != "applied" {
		t.Errorf("status = %q, want applied", got.Status)
	}
	if got.NotesForAdvisor == nil || *got.NotesForAdvisor != notes {
		t.Errorf("notes = %v, want %q", got.NotesForAdvisor, notes)
	}
}

func TestReconcileThresholdExclusion(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.DefaultConfig())

	high := 0.9
	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID, Threshold: &high})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Created != 0 || rep.BelowThreshold != 2 {
		t.Errorf("report = %+v, want everything below threshold", rep)
	}
	if n := len(f.store.Matches(f.claimant.ID)); n != 0 {
		t.Errorf("below-threshold postings produced %d matches", n)
	}

	bad := 1.5
	if _, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID, Threshold: &bad}); !model.IsValidation(err) {
		t.Errorf("threshold 1.5 should be a validation error, got %v", err)
	}
}

func TestReconcileNeverDemotes(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.DefaultConfig())
	ctx := context.Background()

	if _, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	high := 0.9
	if _, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID, Threshold: &high}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := len(f.store.Matches(f.claimant.ID)); n != 1 {
		t.Errorf("a stricter re-run must not delete existing matches, got %d", n)
	}
}

func TestReconcileRescoresEditedPosting(t *testing.T) {
	f := newFixture(t)
	ix := matching.NewIndexer(nil, nil)
	r := matching.NewReconciler(f.store, ix, nil, matching.Config{RetryDelay: time.Millisecond}, nil)
	ctx := context.Background()

	if _, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	m := f.store.Matches(f.claimant.ID)[0]
	before := *m.Score
	if _, err := f.store.UpdateMatchStatus(ctx, model.StatusChange{MatchID: m.ID, From: "new", To: "viewed"}); err != nil {
		t.Fatalf("status: %v", err)
	}

	edited := f.a
	edited.Description = "Forklift operator needed in our Springfield, IL warehouse"
	f.store.PutPosting(edited)
	ix.Refresh(ctx, edited)

	if _, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	got, _ := f.store.GetMatch(ctx, m.ID)
	if *got.Score <= before {
		t.Errorf("score should rise after the edit: %v → %v", before, *got.Score)
	}
	if got.Status != "viewed" {
		t.Errorf("status = %q, want viewed", got.Status)
	}
}

func TestReconcileExplicitSubset(t *testing.T) {
	f := newFixture(t)
	inactive := f.store.PutPosting(model.JobPosting{
		Title: "Forklift driver", Description: "forklift warehouse", Location: "Springfield", IsActive: false,
	})
	r := newReconciler(f.store, matching.DefaultConfig())

	rep, err := r.Run(context.Background(), matching.Request{
		ClaimantID: f.claimant.ID,
		PostingIDs: []int64{inactive.ID, f.a.ID, 9999, f.a.ID},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Created != 1 || rep.Scanned != 2 {
		t.Errorf("report = %+v", rep)
	}
	want := map[int64]string{inactive.ID: matching.ReasonInactive, 9999: matching.ReasonNotFound}
	if len(rep.Skipped) != len(want) {
		t.Fatalf("skipped = %+v", rep.Skipped)
	}
	for _, s := range rep.Skipped {
		if want[s.PostingID] != s.Reason {
			t.Errorf("posting %d skipped for %q, want %q", s.PostingID, s.Reason, want[s.PostingID])
		}
	}
}

func TestReconcileChunking(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 7; i++ {
		f.store.PutPosting(model.JobPosting{Title: "Warehouse forklift", Description: "forklift", Location: "Springfield", IsActive: true})
	}
	r := newReconciler(f.store, matching.Config{ChunkSize: 2})

	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Scanned != 9 || rep.Created != 8 {
		t.Errorf("report = %+v, want 9 scanned and 8 created", rep)
	}
}

func TestReconcileRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.store.InjectFault(store.OpUpsert, transient(), transient())
	f.store.InjectFault(store.OpGetCriteria, transient())
	r := newReconciler(f.store, matching.Config{MaxAttempts: 3})

	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	if err != nil {
		t.Fatalf("Run should succeed within the retry budget: %v", err)
	}
	if rep.Created != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestReconcilePartialFailure(t *testing.T) {
	f := newFixture(t)
	c := f.store.PutPosting(model.JobPosting{Title: "Forklift", Description: "warehouse", Location: "Springfield", IsActive: true})
	d := f.store.PutPosting(model.JobPosting{Title: "Forklift", Description: "warehouse", Location: "Springfield", IsActive: true})
	// First chunk commits, the second keeps failing.
	f.store.InjectFault(store.OpUpsert, nil, transient(), transient(), transient())
	r := newReconciler(f.store, matching.Config{ChunkSize: 1, MaxAttempts: 3})

	rep, err := r.Run(context.Background(), matching.Request{
		ClaimantID: f.claimant.ID,
		PostingIDs: []int64{d.ID, f.a.ID, c.ID},
	})
	var pf *matching.PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if !model.IsTransient(err) {
		t.Error("partial failure should wrap the transient cause")
	}
	if !reflect.DeepEqual(pf.Incomplete, []int64{c.ID, d.ID}) {
		t.Errorf("incomplete = %v, want [%d %d]", pf.Incomplete, c.ID, d.ID)
	}
	if rep == nil || rep.Created != 1 {
		t.Fatalf("committed chunk should be reported, got %+v", rep)
	}

	// Re-running resumes safely.
	rep, err = r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if rep.Created != 2 || rep.Updated != 1 {
		t.Errorf("resume report = %+v", rep)
	}
}

// addForkliftPostings adds n postings that clear the default threshold.
func addForkliftPostings(f *fixture, n int) []int64 {
	var ids []int64
	for i := 0; i < n; i++ {
		p := f.store.PutPosting(model.JobPosting{Title: "Forklift", Description: "warehouse", Location: "Springfield", IsActive: true})
		ids = append(ids, p.ID)
	}
	return ids
}

func TestReconcileActivePartialFailure(t *testing.T) {
	f := newFixture(t)
	rest := addForkliftPostings(f, 3)
	// Chunk A commits, chunk B is below threshold, the next chunk keeps failing.
	f.store.InjectFault(store.OpUpsert, nil, transient(), transient(), transient())
	r := newReconciler(f.store, matching.Config{ChunkSize: 1, MaxAttempts: 3})

	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	var pf *matching.PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("expected PartialFailureError, got %v", err)
	}
	if !reflect.DeepEqual(pf.Incomplete, rest) {
		t.Errorf("incomplete = %v, want every posting after the committed chunks %v", pf.Incomplete, rest)
	}
	if rep.ResumeAfterID != f.b.ID || rep.Created != 1 {
		t.Errorf("report = %+v, want resume after %d and 1 created", rep, f.b.ID)
	}
}

func TestReconcileActiveListFailure(t *testing.T) {
	tests := []struct {
		name       string
		faults     int
		incomplete bool
	}{
		{"remaining postings listed", 3, true},
		{"listing still down", 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rest := addForkliftPostings(f, 3)
			faults := []error{nil}
			for i := 0; i < tt.faults; i++ {
				faults = append(faults, transient())
			}
			f.store.InjectFault(store.OpListPostings, faults...)
			r := newReconciler(f.store, matching.Config{ChunkSize: 2, MaxAttempts: 3})

			rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
			var pf *matching.PartialFailureError
			if !errors.As(err, &pf) {
				t.Fatalf("expected PartialFailureError, got %v", err)
			}
			if rep.ResumeAfterID != f.b.ID {
				t.Errorf("resume after = %d, want %d", rep.ResumeAfterID, f.b.ID)
			}
			want := []int64{}
			if tt.incomplete {
				want = rest
			}
			if !reflect.DeepEqual(rep.Incomplete, want) {
				t.Errorf("incomplete = %v, want %v", rep.Incomplete, want)
			}
		})
	}
}

func TestReconcileNonTransientNotRetried(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("syntax error")
	f.store.InjectFault(store.OpListPostings, boom)
	r := newReconciler(f.store, matching.Config{MaxAttempts: 5})

	_, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the store error, got %v", err)
	}
	var pf *matching.PartialFailureError
	if errors.As(err, &pf) {
		t.Error("a non-transient error is not a partial failure")
	}
}

func TestReconcileMissingClaimantAndCriteria(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.DefaultConfig())
	ctx := context.Background()

	if _, err := r.Run(ctx, matching.Request{ClaimantID: 4242}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown claimant should be not found, got %v", err)
	}
	if _, err := r.Run(ctx, matching.Request{}); !model.IsValidation(err) {
		t.Errorf("empty claimant id should be a validation error, got %v", err)
	}

	bare := f.store.AddClaimant(model.Claimant{Name: "No criteria"})
	rep, err := r.Run(ctx, matching.Request{ClaimantID: bare.ID})
	if err != nil || !rep.NoCriteria {
		t.Errorf("claimant without criteria: %+v, %v", rep, err)
	}

	empty := f.store.AddClaimant(model.Claimant{Name: "Empty criteria"})
	f.store.AddCriteria(model.SearchCriteria{ClaimantID: empty.ID, Keywords: []string{"  "}})
	rep, err = r.Run(ctx, matching.Request{ClaimantID: empty.ID})
	if err != nil || !rep.NoSignal {
		t.Errorf("claimant with empty criteria: %+v, %v", rep, err)
	}
	if n := len(f.store.Matches(empty.ID)); n != 0 {
		t.Errorf("no-signal criteria produced %d matches", n)
	}
}

func TestReconcileUsesCVEntities(t *testing.T) {
	f := newFixture(t)
	c := f.store.AddClaimant(model.Claimant{Name: "CV only"})
	f.store.AddCriteria(model.SearchCriteria{ClaimantID: c.ID})
	f.store.AddDocument(model.Document{ClaimantID: c.ID, DocumentType: "cv", ParsedEntities: []byte(`{"skills":["forklift"]}`)})
	r := newReconciler(f.store, matching.DefaultConfig())

	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: c.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Created != 1 {
		t.Errorf("CV skills should drive matching, got %+v", rep)
	}
}

func TestReconcileRunInProgress(t *testing.T) {
	f := newFixture(t)
	locker := matching.NewMemoryLocker()
	r := matching.NewReconciler(f.store, nil, locker, matching.DefaultConfig(), nil)

	release, err := locker.Acquire(context.Background(), f.claimant.ID)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID}); !errors.Is(err, matching.ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	release()
	if _, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID}); err != nil {
		t.Errorf("after release: %v", err)
	}
}

func TestReconcileCancelled(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := len(f.store.Matches(f.claimant.ID)); n != 0 {
		t.Errorf("a cancelled run wrote %d matches", n)
	}
	if want := []int64{f.a.ID, f.b.ID}; !reflect.DeepEqual(rep.Incomplete, want) {
		t.Errorf("incomplete = %v, want %v", rep.Incomplete, want)
	}
}

func TestReconcileParallelClaimants(t *testing.T) {
	f := newFixture(t)
	var ids []int64
	for i := 0; i < 8; i++ {
		c := f.store.AddClaimant(model.Claimant{Name: "parallel"})
		f.store.AddCriteria(model.SearchCriteria{ClaimantID: c.ID, Keywords: []string{"forklift"}})
		ids = append(ids, c.ID)
	}
	r := newReconciler(f.store, matching.DefaultConfig())

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := r.Run(context.Background(), matching.Request{ClaimantID: id})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("parallel run: %v", err)
		}
	}
	for _, id := range ids {
		if n := len(f.store.Matches(id)); n != 1 {
			t.Errorf("claimant %d has %d matches, want 1", id, n)
		}
	}
}

func TestReconcileLogsSummary(t *testing.T) {
	f := newFixture(t)
	core, observed := observer.New(zapcore.InfoLevel)
	r := matching.NewReconciler(f.store, nil, nil, matching.DefaultConfig(), zap.New(core))

	rep, err := r.Run(context.Background(), matching.Request{ClaimantID: f.claimant.ID})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	entries := observed.FilterMessage("reconcile finished").All()
	if len(entries) != 1 {
		t.Fatalf("expected one summary line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["run_id"] != rep.RunID || fields["claimant_id"] != f.claimant.ID || fields["created"] != int64(1) {
		t.Errorf("summary fields = %v", fields)
	}
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f.store, matching.DefaultConfig())
	ctx := context.Background()
	if _, err := r.Run(ctx, matching.Request{ClaimantID: f.claimant.ID}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	n, err := r.Prune(ctx, f.claimant.ID, 0.5)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v; want 1", n, err)
	}
	if _, err := r.Prune(ctx, f.claimant.ID, 2); !model.IsValidation(err) {
		t.Errorf("prune score 2 should be a validation error, got %v", err)
	}
}
