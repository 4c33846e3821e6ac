package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// Action is the result action from a pipeline stage.
type Action string

const (
	// ActionAllow permits the request to continue unchanged.
	ActionAllow Action = "allow"
	// ActionDeny stops the chain; the stage has already written the response.
	ActionDeny Action = "deny"
	// ActionMutate continues with the request returned by the stage.
	ActionMutate Action = "mutate"
)

// Decision is what the executor recorded for a single stage.
type Decision string

const (
	DecisionContinue     Decision = "continue"
	DecisionShortCircuit Decision = "short_circuit"
	DecisionError        Decision = "error"
)

// Stage processes a request in the pipeline.
type Stage interface {
	// Name returns the stage name used in logs and decision traces.
	Name() string

	// Process inspects the request. It returns the request to continue with
	// (only read for ActionMutate), the action, or an error.
	Process(w http.ResponseWriter, r *http.Request) (*http.Request, Action, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(w http.ResponseWriter, r *http.Request) (*http.Request, Action, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Process(w http.ResponseWriter, r *http.Request) (*http.Request, Action, error) {
	return s.Fn(w, r)
}

// Observer is notified of every stage decision.
type Observer func(r *http.Request, stage string, d Decision)

// ErrorHandler writes the response for a failed stage.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Executor orchestrates pipeline stage execution.
// It maintains an ordered list of stages and executes them sequentially.
type Executor struct {
	stages   []StageConfig
	observer Observer
	onError  ErrorHandler
}

// ExecutorConfig configures an executor from stage configurations.
type ExecutorConfig struct {
	Stages   []StageConfig
	Observer Observer
	OnError  ErrorHandler
}

// StageConfig is the configuration for a single stage.
type StageConfig struct {
	Name  string
	Order int
	Stage Stage
}

// NewExecutor creates an executor from configuration. Stages are sorted by
// Order once; stages with equal Order keep their relative position.
func NewExecutor(cfg ExecutorConfig) *Executor {
	stages := make([]StageConfig, 0, len(cfg.Stages))
	for _, s := range cfg.Stages {
		if s.Stage == nil {
			continue
		}
		if s.Name == "" {
			s.Name = s.Stage.Name()
		}
		stages = append(stages, s)
	}

	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Order < stages[j].Order
	})

	onError := cfg.OnError
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}

	return &Executor{
		stages:   stages,
		observer: cfg.Observer,
		onError:  onError,
	}
}

// Names returns the stage names in execution order.
func (e *Executor) Names() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes all stages in order. It returns the request to hand to the
// next handler and true, or false if a stage produced the response.
func (e *Executor) Run(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	current := r
	for _, s := range e.stages {
		out, action, err := s.Stage.Process(w, current)
		if err != nil {
			e.observe(current, s.Name, DecisionError)
			e.onError(w, current, &StageError{StageName: s.Name, Err: err})
			return nil, false
		}

		switch action {
		case ActionDeny:
			e.observe(current, s.Name, DecisionShortCircuit)
			return nil, false
		case ActionMutate:
			if out != nil {
				current = out
			}
		case ActionAllow:
			// Continue with current request
		default:
			e.observe(current, s.Name, DecisionError)
			e.onError(w, current, &StageError{StageName: s.Name, Err: fmt.Errorf("unknown action %q", action)})
			return nil, false
		}

		e.observe(current, s.Name, DecisionContinue)
	}

	return current, true
}

// Then composes the pipeline in front of next. Call it once and reuse the
// returned handler for every request.
func (e *Executor) Then(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if out, ok := e.Run(w, r); ok {
			next.ServeHTTP(w, out)
		}
	})
}

func (e *Executor) observe(r *http.Request, stage string, d Decision) {
	if e.observer != nil {
		e.observer(r, stage, d)
	}
}

// StageError is passed to the error handler when a stage fails.
type StageError struct {
	StageName string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.StageName, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsStageError returns true if err is or wraps a StageError.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// passKey carries the per-request continuation slot through a middleware.
type passKey struct{}

type pass struct {
	r *http.Request
}

type middlewareStage struct {
	name    string
	handler http.Handler
}

// FromMiddleware adapts a standard middleware into a Stage. The middleware is
// applied once; per request, the stage continues with whatever request the
// middleware passed to its next handler.
func FromMiddleware(name string, mw func(http.Handler) http.Handler) Stage {
	s := &middlewareStage{name: name}
	s.handler = mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := r.Context().Value(passKey{}).(*pass); ok {
			p.r = r
		}
	}))
	return s
}

func (s *middlewareStage) Name() string { return s.name }

func (s *middlewareStage) Process(w http.ResponseWriter, r *http.Request) (*http.Request, Action, error) {
	p := &pass{}
	s.handler.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), passKey{}, p)))
	if p.r == nil {
		return nil, ActionDeny, nil
	}
	return p.r, ActionMutate, nil
}
