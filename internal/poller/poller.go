// Package poller waits for the backend to finish processing an uploaded file.
//
// A Poller queries the status endpoint on a fixed cadence until the graph is
// ready, the backend reports a failure, the time budget runs out or the
// caller cancels. It never polls in parallel: one query, then an
// interruptible sleep, then the next query.
package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultBudget   = 15 * time.Minute

	// Polling covers this slice of the overall operation progress.
	progressStart = 70
	progressEnd   = 90
)

// Phase is the state of a poll loop.
type Phase int

const (
	Polling Phase = iota
	Completed
	Failed
	TimedOut
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StatusFetcher is the subset of the API client the poller needs.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, fileID string) (graphapi.StatusResponse, error)
}

// Clock abstracts time so schedules can be tested without waiting.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Progress is reported before every status query.
type Progress struct {
	Percent     int
	Elapsed     time.Duration
	Remaining   time.Duration
	Attempt     int
	MaxAttempts int
}

// Message renders the progress line shown while polling.
func (p Progress) Message() string {
	return fmt.Sprintf("Checking processing status... (%s remaining, attempt %d/%d)",
		util.FormatRemaining(p.Remaining), p.Attempt, p.MaxAttempts)
}

// Config tunes a Poller. Zero values fall back to the defaults.
type Config struct {
	Interval   time.Duration
	Budget     time.Duration
	Clock      Clock
	Logger     *pterm.Logger
	// OnProgress is called before every status query, so the first report
	// arrives at 70% with the whole budget remaining.
	OnProgress func(Progress)
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Budget <= 0 {
		c.Budget = DefaultBudget
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Logger == nil {
		c.Logger = util.NewLogger(false)
	}
	return c
}

// MaxAttempts is the number of queries a loop that never succeeds performs.
func (c Config) MaxAttempts() int {
	c = c.withDefaults()
	return int(c.Budget / c.Interval)
}

// State is the mutable progress of one poll loop.
type State struct {
	Attempts  int
	Deadline  time.Time
	Cancelled bool
}

// Outcome is how a poll loop ended.
type Outcome struct {
	Phase    Phase
	Result   graphapi.GraphResult
	Err      error
	Attempts int
}

// Poller polls the status of a single file.
type Poller struct {
	fetcher StatusFetcher
	fileID  string
	cfg     Config
	state   State
	percent int
}

func New(fetcher StatusFetcher, fileID string, cfg Config) *Poller {
	return &Poller{
		fetcher: fetcher,
		fileID:  fileID,
		cfg:     cfg.withDefaults(),
	}
}

// State returns a copy of the loop state.
func (p *Poller) State() State { return p.state }

// Run polls until a terminal phase is reached. Cancelling ctx ends the loop
// with Cancelled, both between queries and during the wait.
func (p *Poller) Run(ctx context.Context) Outcome {
	clock := p.cfg.Clock
	start := clock.Now()
	p.state = State{Deadline: start.Add(p.cfg.Budget)}
	p.percent = progressStart
	maxAttempts := p.cfg.MaxAttempts()
	log := p.cfg.Logger

	for {
		if ctx.Err() != nil {
			return p.cancelled()
		}
		now := clock.Now()
		if !now.Before(p.state.Deadline) {
			log.Debug("polling budget exhausted", log.Args("file_id", p.fileID, "attempts", p.state.Attempts))
			return Outcome{Phase: TimedOut, Err: graphapi.ErrTimeout, Attempts: p.state.Attempts}
		}

		p.report(now.Sub(start), p.state.Deadline.Sub(now), maxAttempts)

		resp, err := p.fetcher.FetchStatus(ctx, p.fileID)
		if ctx.Err() != nil {
			return p.cancelled()
		}
		p.state.Attempts++

		outcome, done := interpret(p.fileID, resp, err)
		if done {
			outcome.Attempts = p.state.Attempts
			return outcome
		}
		switch {
		case errors.Is(err, graphapi.ErrNotReady):
			log.Debug("graph not ready yet", log.Args("file_id", p.fileID, "attempt", p.state.Attempts))
		case err != nil:
			log.Debug("status query failed", log.Args("file_id", p.fileID, "attempt", p.state.Attempts, "error", err))
		default:
			log.Debug("graph still processing", log.Args("file_id", p.fileID, "attempt", p.state.Attempts, "status", resp.Status))
		}

		wait := p.cfg.Interval
		if left := p.state.Deadline.Sub(clock.Now()); left < wait {
			wait = left
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return p.cancelled()
			case <-clock.After(wait):
			}
		}
	}
}

func (p *Poller) cancelled() Outcome {
	p.state.Cancelled = true
	return Outcome{Phase: Cancelled, Err: context.Canceled, Attempts: p.state.Attempts}
}

func (p *Poller) report(elapsed, remaining time.Duration, maxAttempts int) {
	ratio := float64(elapsed) / float64(p.cfg.Budget)
	percent := progressStart + int(math.Round(ratio*float64(progressEnd-progressStart)))
	if percent > progressEnd {
		percent = progressEnd
	}
	if percent > p.percent {
		p.percent = percent
	}
	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(Progress{
			Percent:     p.percent,
			Elapsed:     elapsed,
			Remaining:   remaining,
			Attempt:     p.state.Attempts + 1,
			MaxAttempts: maxAttempts,
		})
	}
}

// interpret maps one status query to a terminal outcome, or reports that
// polling should continue.
func interpret(fileID string, resp graphapi.StatusResponse, err error) (Outcome, bool) {
	if err != nil {
		return Outcome{}, false
	}
	switch resp.Status {
	case graphapi.StatusCompleted:
		if result, ok := resp.Result(fileID); ok {
			return Outcome{Phase: Completed, Result: result}, true
		}
	case graphapi.StatusError:
		return Outcome{Phase: Failed, Err: graphapi.BackendError(resp.Error)}, true
	}
	return Outcome{}, false
}

// Check performs a single status query with the same rules as a poll loop.
// It returns graphapi.ErrNotReady while the graph is not available.
func Check(ctx context.Context, fetcher StatusFetcher, fileID string) (graphapi.GraphResult, error) {
	resp, err := fetcher.FetchStatus(ctx, fileID)
	if err != nil {
		return graphapi.GraphResult{}, err
	}
	outcome, done := interpret(fileID, resp, nil)
	if !done {
		return graphapi.GraphResult{}, graphapi.ErrNotReady
	}
	if outcome.Phase == Failed {
		return graphapi.GraphResult{}, outcome.Err
	}
	return outcome.Result, nil
}
