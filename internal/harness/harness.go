// Package harness runs a test case through its setup, call and teardown
// phases and marks the start of each phase in the log.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Case is a test case with a three-phase lifecycle.
type Case interface {
	Name() string
	SetUp(ctx context.Context) error
	RunTest(ctx context.Context) error
	TearDown(ctx context.Context) error
}

// Phase names a lifecycle phase.
type Phase string

// Lifecycle phases in execution order.
const (
	PhaseSetup    Phase = "setup"
	PhaseCall     Phase = "call"
	PhaseTeardown Phase = "teardown"
)

// Outcome is the result of Run.
type Outcome struct {
	Name   string
	Passed bool

	// Phase is the first phase that failed. Empty when Passed.
	Phase Phase

	// Err holds every phase error.
	Err error

	Duration time.Duration
}

var sepLine = strings.Repeat("=", 20)

// Separator returns the log line that opens phase p of case name.
func Separator(name string, p Phase) string {
	return fmt.Sprintf("%s %s %s %s", sepLine, name, p, sepLine)
}

// Run executes c. TearDown runs only when SetUp succeeded, and runs even
// if RunTest failed.
func Run(ctx context.Context, logger *slog.Logger, c Case) Outcome {
	logger = logger.With(slog.String("component", "harness"))
	start := time.Now()
	out := Outcome{Name: c.Name()}

	fail := func(p Phase, err error) {
		logger.Error("phase failed",
			slog.String("case", out.Name),
			slog.String("phase", string(p)),
			slog.String("error", err.Error()),
		)
		if out.Phase == "" {
			out.Phase = p
		}
		out.Err = errors.Join(out.Err, fmt.Errorf("%s: %w", p, err))
	}

	logger.Info(Separator(out.Name, PhaseSetup))
	if err := c.SetUp(ctx); err != nil {
		fail(PhaseSetup, err)
		out.Duration = time.Since(start)
		return out
	}

	logger.Info(Separator(out.Name, PhaseCall))
	if err := c.RunTest(ctx); err != nil {
		fail(PhaseCall, err)
	}

	logger.Info(Separator(out.Name, PhaseTeardown))
	if err := c.TearDown(ctx); err != nil {
		fail(PhaseTeardown, err)
	}

	out.Passed = out.Err == nil
	out.Duration = time.Since(start)

	logger.Info("case finished",
		slog.String("case", out.Name),
		slog.Bool("passed", out.Passed),
		slog.Duration("duration", out.Duration),
	)
	return out
}
