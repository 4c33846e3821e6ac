package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockStage is a test helper that records calls and returns configured responses.
type mockStage struct {
	name   string
	action Action
	out    *http.Request
	err    error
	status int
	calls  int
}

func (s *mockStage) Name() string { return s.name }

func (s *mockStage) Process(w http.ResponseWriter, r *http.Request) (*http.Request, Action, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	if s.action == ActionDeny && s.status != 0 {
		w.WriteHeader(s.status)
	}
	if s.action == "" {
		return r, ActionAllow, nil
	}
	return s.out, s.action, nil
}

type ctxKey string

func terminal(called *bool, seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		if v, ok := r.Context().Value(ctxKey("k")).(string); ok && seen != nil {
			*seen = v
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestExecutor_Empty(t *testing.T) {
	e := NewExecutor(ExecutorConfig{})

	var called bool
	rec := httptest.NewRecorder()
	e.Then(terminal(&called, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Error("expected terminal handler to run with no stages")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestExecutor_Order(t *testing.T) {
	var order []string
	mk := func(name string) Stage {
		return StageFunc{StageName: name, Fn: func(w http.ResponseWriter, r *http.Request) (*http.Request, Action, error) {
			order = append(order, name)
			return r, ActionAllow, nil
		}}
	}

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{
			{Name: "third", Order: 30, Stage: mk("third")},
			{Name: "first", Order: 10, Stage: mk("first")},
			{Name: "second-a", Order: 20, Stage: mk("second-a")},
			{Name: "second-b", Order: 20, Stage: mk("second-b")},
		},
	})

	var called bool
	e.Then(terminal(&called, nil)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"first", "second-a", "second-b", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}

	names := e.Names()
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestExecutor_Deny(t *testing.T) {
	deny := &mockStage{name: "deny", action: ActionDeny, status: http.StatusTooManyRequests}
	after := &mockStage{name: "after"}

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{
			{Name: "deny", Order: 1, Stage: deny},
			{Name: "after", Order: 2, Stage: after},
		},
	})

	var called bool
	rec := httptest.NewRecorder()
	e.Then(terminal(&called, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if called {
		t.Error("terminal handler should not run after deny")
	}
	if after.calls != 0 {
		t.Error("later stage should not run after deny")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestExecutor_Mutate(t *testing.T) {
	mutate := StageFunc{StageName: "mutate", Fn: func(w http.ResponseWriter, r *http.Request) (*http.Request, Action, error) {
		return r.WithContext(context.WithValue(r.Context(), ctxKey("k"), "v")), ActionMutate, nil
	}}

	e := NewExecutor(ExecutorConfig{Stages: []StageConfig{{Order: 1, Stage: mutate}}})

	var called bool
	var seen string
	e.Then(terminal(&called, &seen)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Fatal("terminal handler not called")
	}
	if seen != "v" {
		t.Errorf("terminal saw %q, want mutated request", seen)
	}
}

func TestExecutor_Error(t *testing.T) {
	boom := errors.New("boom")
	failing := &mockStage{name: "failing", err: boom}

	var gotErr error
	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Name: "failing", Order: 1, Stage: failing}},
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			gotErr = err
			w.WriteHeader(http.StatusBadRequest)
		},
	})

	var called bool
	rec := httptest.NewRecorder()
	e.Then(terminal(&called, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if called {
		t.Error("terminal handler should not run after error")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !IsStageError(gotErr) {
		t.Errorf("expected StageError, got %T", gotErr)
	}
	if !errors.Is(gotErr, boom) {
		t.Error("StageError should unwrap to the stage error")
	}
}

func TestExecutor_DefaultErrorHandler(t *testing.T) {
	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Name: "failing", Order: 1, Stage: &mockStage{name: "failing", err: errors.New("x")}}},
	})

	rec := httptest.NewRecorder()
	var called bool
	e.Then(terminal(&called, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestExecutor_UnknownAction(t *testing.T) {
	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Name: "odd", Order: 1, Stage: &mockStage{name: "odd", action: "bogus"}}},
	})

	rec := httptest.NewRecorder()
	var called bool
	e.Then(terminal(&called, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if called {
		t.Error("terminal handler should not run for unknown action")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestExecutor_Observer(t *testing.T) {
	type decision struct {
		stage string
		d     Decision
	}
	var got []decision

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{
			{Name: "a", Order: 1, Stage: &mockStage{name: "a"}},
			{Name: "b", Order: 2, Stage: &mockStage{name: "b", action: ActionDeny}},
			{Name: "c", Order: 3, Stage: &mockStage{name: "c"}},
		},
		Observer: func(r *http.Request, stage string, d Decision) {
			got = append(got, decision{stage, d})
		},
	})

	var called bool
	e.Then(terminal(&called, nil)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []decision{{"a", DecisionContinue}, {"b", DecisionShortCircuit}}
	if len(got) != len(want) {
		t.Fatalf("decisions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("decision[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExecutor_SkipsNilStageAndDefaultsName(t *testing.T) {
	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{
			{Name: "nil", Order: 1},
			{Order: 2, Stage: &mockStage{name: "named-by-stage"}},
		},
	})

	names := e.Names()
	if len(names) != 1 || names[0] != "named-by-stage" {
		t.Errorf("Names() = %v", names)
	}
}

func TestFromMiddleware_Continue(t *testing.T) {
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Seen", "1")
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey("k"), "from-mw")))
		})
	}

	e := NewExecutor(ExecutorConfig{Stages: []StageConfig{{Order: 1, Stage: FromMiddleware("mw", mw)}}})

	var called bool
	var seen string
	rec := httptest.NewRecorder()
	e.Then(terminal(&called, &seen)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !called {
		t.Fatal("terminal handler not called")
	}
	if seen != "from-mw" {
		t.Errorf("terminal saw %q, want request passed by middleware", seen)
	}
	if rec.Header().Get("X-Seen") != "1" {
		t.Error("middleware header not written")
	}
}

func TestFromMiddleware_ShortCircuit(t *testing.T) {
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	var decisions []Decision
	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Order: 1, Stage: FromMiddleware("mw", mw)}},
		Observer: func(r *http.Request, stage string, d Decision) {
			decisions = append(decisions, d)
		},
	})

	var called bool
	rec := httptest.NewRecorder()
	e.Then(terminal(&called, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	if called {
		t.Error("terminal handler should not run when middleware does not call next")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if len(decisions) != 1 || decisions[0] != DecisionShortCircuit {
		t.Errorf("decisions = %v", decisions)
	}
}
