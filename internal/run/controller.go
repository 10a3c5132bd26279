// Package run owns the lifecycle of simulation runs. A Controller is the only
// thing allowed to start, track or conclude a run; everything else reads its
// State.
package run

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stevenijones/reactcarwashsim/internal/params"
	"github.com/stevenijones/reactcarwashsim/internal/results"
	"github.com/stevenijones/reactcarwashsim/internal/service"
)

// ErrRunInFlight is returned by Submit while a run is Running.
var ErrRunInFlight = errors.New("a run is already in flight")

// Engine performs one run request. *service.Manager satisfies it.
type Engine interface {
	RunSimulation(ctx context.Context, p params.RunParameters) (*service.Reply, error)
}

// ParameterSource provides the snapshot a run is submitted with.
type ParameterSource interface {
	Snapshot() (params.RunParameters, error)
}

// State is a copy of the controller's view of the current or most recent run.
type State struct {
	// ID identifies the run; zero means no run was ever submitted.
	ID         uint64
	Phase      Phase
	Params     params.RunParameters
	Outcome    *Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Elapsed is the wall time of a finished run.
func (s State) Elapsed() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

type Option func(*Controller)

// WithTimeout bounds each engine request. An expired timeout resolves the
// run as a transport failure.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

type Controller struct {
	engine  Engine
	source  ParameterSource
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	seq   uint64
	state State
}

func NewController(engine Engine, source ParameterSource, opts ...Option) *Controller {
	c := &Controller{
		engine: engine,
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a copy of the current run state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit begins a new run. While another run is Running it returns
// ErrRunInFlight and changes nothing. Otherwise the previous outcome is
// discarded and the phase becomes Running; if the parameters fail validation
// the run ends Failed at once and the *params.ValidationError is returned.
// On success the returned Attempt must be executed to issue the request.
func (c *Controller) Submit() (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase == PhaseRunning {
		c.logger.Debug("submit ignored, run in flight", "run_id", c.state.ID)
		return nil, ErrRunInFlight
	}

	c.seq++
	c.state = State{
		ID:        c.seq,
		Phase:     PhaseRunning,
		StartedAt: c.now(),
	}

	p, err := c.source.Snapshot()
	if err != nil {
		failure := classify(err)
		c.finishLocked(Outcome{Failure: failure})
		return nil, err
	}
	c.state.Params = p
	c.logger.Info("run submitted", "run_id", c.state.ID, "params", p.String())

	return &Attempt{c: c, id: c.state.ID, params: p}, nil
}

// Run submits and executes a run synchronously. The error is non-nil only
// when another run is already in flight.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	attempt, err := c.Submit()
	switch {
	case errors.Is(err, ErrRunInFlight):
		return Outcome{}, err
	case err != nil:
		return Outcome{Failure: classify(err)}, nil
	}
	return attempt.Execute(ctx), nil
}

// Reset returns a finished run to Idle and drops its outcome. It does nothing
// while a run is Running.
func (c *Controller) Reset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == PhaseRunning || c.state.Phase == PhaseIdle {
		return false
	}
	c.state = State{ID: c.state.ID, Phase: PhaseIdle}
	c.logger.Debug("run state reset", "run_id", c.state.ID)
	return true
}

// resolve applies the outcome of run id. Outcomes of any run other than the
// one currently Running are dropped.
func (c *Controller) resolve(id uint64, outcome Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.ID != id || c.state.Phase != PhaseRunning {
		c.logger.Warn("stale run outcome discarded", "run_id", id, "current_run_id", c.state.ID, "phase", c.state.Phase.String())
		return false
	}
	c.finishLocked(outcome)
	return true
}

func (c *Controller) finishLocked(outcome Outcome) {
	c.state.Outcome = &outcome
	c.state.FinishedAt = c.now()
	if outcome.Succeeded() {
		c.state.Phase = PhaseSucceeded
		m := outcome.Result.Metrics
		c.logger.Info("run succeeded",
			"run_id", c.state.ID,
			"reneged_cars", m.RenegedCars,
			"avg_wait_time", m.AvgWaitTime,
			"longest_wait_time", m.LongestWaitTime,
			"elapsed", c.state.Elapsed(),
		)
		return
	}
	c.state.Phase = PhaseFailed
	c.logger.Warn("run failed",
		"run_id", c.state.ID,
		"kind", outcome.Failure.Kind.String(),
		"error", outcome.Failure.Message,
	)
}

// Attempt is the handle for one submitted run.
type Attempt struct {
	c      *Controller
	id     uint64
	params params.RunParameters

	once    sync.Once
	outcome Outcome
}

func (a *Attempt) ID() uint64 { return a.id }

func (a *Attempt) Params() params.RunParameters { return a.params }

// Execute issues the run's single engine request and resolves the controller
// with the interpreted outcome. Later calls return the first outcome without
// contacting the engine again.
func (a *Attempt) Execute(ctx context.Context) Outcome {
	a.once.Do(func() {
		if a.c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.c.timeout)
			defer cancel()
		}
		reply, err := a.c.engine.RunSimulation(ctx, a.params)
		a.outcome = interpret(reply, err)
		a.c.resolve(a.id, a.outcome)
	})
	return a.outcome
}

func interpret(reply *service.Reply, err error) Outcome {
	if err != nil {
		var tErr *service.TransportError
		if !errors.As(err, &tErr) {
			err = &service.TransportError{Op: "perform request", Err: err}
		}
		return Outcome{Failure: classify(err)}
	}
	if reply == nil {
		return Outcome{Failure: classify(&results.MalformedResponseError{Missing: "response"})}
	}
	if engErr := reply.Err(); engErr != nil {
		return Outcome{Failure: classify(engErr)}
	}
	result, err := results.Project(reply)
	if err != nil {
		return Outcome{Failure: classify(err)}
	}
	return Outcome{Result: result}
}
