package httpapi_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"jobmate/matching-service/internal/httpapi"
	"jobmate/matching-service/internal/matching"
	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/review"
	"jobmate/matching-service/internal/store"
)

type fixture struct {
	app      *fiber.App
	store    *store.Memory
	claimant int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := store.NewMemory()
	c := m.AddClaimant(model.Claimant{Name: "Alex"})
	m.AddCriteria(model.SearchCriteria{ClaimantID: c.ID, Keywords: []string{"forklift", "warehouse"}, TargetLocation: "Springfield"})
	m.PutPosting(model.JobPosting{Title: "Forklift operator", Description: "Forklift operator needed in Springfield, IL", Location: "Springfield, IL", IsActive: true})
	m.PutPosting(model.JobPosting{Title: "Graphic designer", Description: "graphic designer remote", Location: "Remote", IsActive: true})

	cfg := matching.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	rec := matching.NewReconciler(m, nil, nil, cfg, nil)
	h := httpapi.NewHandler(rec, review.NewService(m, nil, nil), "test", nil)
	return &fixture{app: httpapi.NewApp(h), store: m, claimant: c.ID}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (int, map[string]any, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	return resp.StatusCode, obj, raw
}

func (f *fixture) claimantPath(suffix string) string {
	return "/claimants/" + strconv.FormatInt(f.claimant, 10) + suffix
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, body, _ := f.do(t, http.MethodGet, "/health", "")
	if code != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health = %d %v", code, body)
	}
}

func TestReconcileScenario(t *testing.T) {
	f := newFixture(t)

	code, rep, _ := f.do(t, http.MethodPost, f.claimantPath("/reconcile"), "")
	if code != http.StatusOK {
		t.Fatalf("reconcile status = %d (%v)", code, rep)
	}
	if rep["created"] != float64(1) || rep["below_threshold"] != float64(1) {
		t.Errorf("report = %v", rep)
	}

	code, _, raw := f.do(t, http.MethodGet, f.claimantPath("/matches"), "")
	var matches []model.Match
	if err := json.Unmarshal(raw, &matches); err != nil || code != http.StatusOK {
		t.Fatalf("list matches: %d %s", code, raw)
	}
	if len(matches) != 1 || matches[0].Score == nil || *matches[0].Score < 0.3 {
		t.Errorf("matches = %+v", matches)
	}
}

func TestReconcileErrors(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		path string
		body string
		want int
	}{
		{"/claimants/abc/reconcile", "", http.StatusBadRequest},
		{"/claimants/9999/reconcile", "", http.StatusNotFound},
		{f.claimantPath("/reconcile"), `{"threshold": 1.5}`, http.StatusBadRequest},
		{f.claimantPath("/reconcile"), `{not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if code, body, _ := f.do(t, http.MethodPost, tc.path, tc.body); code != tc.want {
			t.Errorf("POST %s %s = %d (%v), want %d", tc.path, tc.body, code, body, tc.want)
		}
	}
}

func TestReconcilePartialFailure(t *testing.T) {
	f := newFixture(t)
	transient := &model.TransientError{Op: "upsert", Err: errors.New("connection reset")}
	f.store.InjectFault(store.OpUpsert, transient, transient, transient)

	code, body, _ := f.do(t, http.MethodPost, f.claimantPath("/reconcile"), "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (%v)", code, body)
	}
	rep, ok := body["report"].(map[string]any)
	if !ok || len(rep["incomplete"].([]any)) != 2 {
		t.Errorf("partial report = %v", body["report"])
	}
}

func TestStatusRoutes(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, f.claimantPath("/reconcile"), "")
	id := strconv.FormatInt(f.store.Matches(f.claimant)[0].ID, 10)
	actor := []string{"x-actor-id", "adv-9"}

	if code, _, _ := f.do(t, http.MethodPost, "/matches/"+id+"/status", `{"status":"viewed"}`); code != http.StatusUnauthorized {
		t.Errorf("missing actor = %d, want 401", code)
	}
	if code, body, _ := f.do(t, http.MethodPost, "/matches/"+id+"/status", `{"status":"applied"}`, actor...); code != http.StatusOK || body["status"] != "applied" {
		t.Fatalf("to applied = %d %v", code, body)
	}
	if code, body, _ := f.do(t, http.MethodPost, "/matches/"+id+"/status", `{"status":"viewed"}`, actor...); code != http.StatusBadRequest {
		t.Errorf("applied → viewed = %d %v, want 400", code, body)
	}
	if code, body, _ := f.do(t, http.MethodPost, "/matches/"+id+"/status", `{"status":"closed"}`, actor...); code != http.StatusOK || body["status"] != "closed" {
		t.Errorf("applied → closed = %d %v", code, body)
	}
	if code, body, _ := f.do(t, http.MethodPost, "/matches/"+id+"/reopen", `{"status":"viewed"}`, actor...); code != http.StatusOK || body["status"] != "viewed" {
		t.Errorf("reopen = %d %v", code, body)
	}
	if code, body, _ := f.do(t, http.MethodPut, "/matches/"+id+"/notes", `{"notes":"interview Tuesday"}`, actor...); code != http.StatusOK || body["notes_for_advisor"] != "interview Tuesday" {
		t.Errorf("notes = %d %v", code, body)
	}

	_, _, raw := f.do(t, http.MethodGet, "/matches/"+id+"/history", "")
	var history []model.StatusChange
	if err := json.Unmarshal(raw, &history); err != nil || len(history) != 3 {
		t.Errorf("history = %s", raw)
	}

	if code, _, _ := f.do(t, http.MethodGet, "/matches/9999", ""); code != http.StatusNotFound {
		t.Errorf("unknown match = %d, want 404", code)
	}
}

func TestReconcileConflict(t *testing.T) {
	m := store.NewMemory()
	c := m.AddClaimant(model.Claimant{Name: "Busy"})
	m.AddCriteria(model.SearchCriteria{ClaimantID: c.ID, Keywords: []string{"chef"}})
	locker := matching.NewMemoryLocker()
	release, err := locker.Acquire(t.Context(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	rec := matching.NewReconciler(m, nil, locker, matching.DefaultConfig(), nil)
	app := httpapi.NewApp(httpapi.NewHandler(rec, review.NewService(m, nil, nil), "test", nil))
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/claimants/"+strconv.FormatInt(c.ID, 10)+"/reconcile", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, f.claimantPath("/reconcile"), "")

	if code, _, _ := f.do(t, http.MethodPost, f.claimantPath("/prune"), `{}`); code != http.StatusBadRequest {
		t.Errorf("prune without below = %d, want 400", code)
	}
	code, body, _ := f.do(t, http.MethodPost, f.claimantPath("/prune"), `{"below": 0.9}`)
	if code != http.StatusOK || body["deleted"] != float64(1) {
		t.Errorf("prune = %d %v", code, body)
	}
}
