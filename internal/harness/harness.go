// Package harness sequences backend pipelines: launch, wait for readiness,
// bind a client environment, run the scenario, and tear the backend down.
// One backend's failure never blocks another's run.
package harness

import (
	"context"
	"sync"
	"time"

	"github.com/LeonWang0735/s3s-conformance/internal/backend"
	"github.com/LeonWang0735/s3s-conformance/internal/scenario"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is a pipeline stage for one backend.
type State string

const (
	StatePending      State = "pending"
	StateLaunching    State = "launching"
	StateWaitingReady State = "waiting-ready"
	StateRunning      State = "running"
	StateTearingDown  State = "tearing-down"
	StateDone         State = "done"
)

// Launcher is what the harness needs from a backend launcher. The concrete
// implementation is backend.Launcher.
type Launcher interface {
	Launch(ctx context.Context, d backend.Descriptor) (backend.Handle, error)
	Teardown(h backend.Handle) error
}

// Options bound the harness's waits.
type Options struct {
	// ReadyTimeout is the total budget for a backend to accept connections.
	ReadyTimeout time.Duration
	// ScenarioTimeout bounds one scenario execution.
	ScenarioTimeout time.Duration
	// Concurrency is the number of backend pipelines run at once. Backends
	// claim fixed addresses, so the default of 1 avoids port contention.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 10 * time.Second
	}
	if o.ScenarioTimeout <= 0 {
		o.ScenarioTimeout = 2 * time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	return o
}

// Harness drives one scenario across a set of backend descriptors.
type Harness struct {
	launcher Launcher
	scenario scenario.Scenario
	opts     Options
}

// New creates a Harness.
func New(launcher Launcher, sc scenario.Scenario, opts Options) *Harness {
	return &Harness{
		launcher: launcher,
		scenario: sc,
		opts:     opts.withDefaults(),
	}
}

// Run executes the scenario against every descriptor and returns the ordered
// report. The report order matches the descriptor order regardless of
// concurrency. Cancellation of ctx aborts waiting and running stages, but
// teardown is still performed for every backend that was launched.
func (h *Harness) Run(ctx context.Context, descriptors []backend.Descriptor) Report {
	rep := Report{
		RunID:     uuid.New().String(),
		Scenario:  h.scenario.Name(),
		StartedAt: time.Now(),
		Results:   make([]Result, len(descriptors)),
	}

	sem := make(chan struct{}, h.opts.Concurrency)
	var wg sync.WaitGroup
	for i, d := range descriptors {
		wg.Add(1)
		go func(i int, d backend.Descriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			rep.Results[i] = h.runOne(ctx, d)
		}(i, d)
	}
	wg.Wait()

	rep.Duration = time.Since(rep.StartedAt)
	return rep
}

// runOne walks one descriptor through the pipeline. Every path that reaches a
// successful launch ends in exactly one teardown attempt.
func (h *Harness) runOne(ctx context.Context, d backend.Descriptor) (res Result) {
	res = Result{Backend: d.Name, State: StatePending}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	logStage(d.Name, StateLaunching)
	res.State = StateLaunching
	handle, err := h.launcher.Launch(ctx, d)
	if err != nil {
		res.fail(FailureLaunch, err)
		res.State = StateDone
		return res
	}

	defer func() {
		logStage(d.Name, StateTearingDown)
		if err := h.launcher.Teardown(handle); err != nil {
			log.Warn().Err(err).Str("backend", d.Name).Msg("Teardown failed")
			res.TeardownFailure = err.Error()
		}
		res.State = StateDone
	}()

	logStage(d.Name, StateWaitingReady)
	res.State = StateWaitingReady
	if err := backend.WaitReady(ctx, d, h.opts.ReadyTimeout); err != nil {
		res.fail(FailureNotReady, err)
		return res
	}

	logStage(d.Name, StateRunning)
	res.State = StateRunning
	env := backend.Bind(d)

	runCtx, cancel := context.WithTimeout(ctx, h.opts.ScenarioTimeout)
	defer cancel()
	output, err := h.scenario.Run(runCtx, env)
	res.Output = output
	if err != nil {
		res.fail(FailureScenario, err)
		return res
	}

	res.Succeeded = true
	log.Info().
		Str("backend", d.Name).
		Dur("duration", time.Since(start)).
		Msg("Scenario passed")
	return res
}

func logStage(name string, state State) {
	log.Debug().Str("backend", name).Str("state", string(state)).Msg("Pipeline stage")
}
