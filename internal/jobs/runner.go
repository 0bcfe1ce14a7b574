// Package jobs exposes the stage, send and run entry points and the cron and
// queue triggers that invoke them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/metrics"
)

// Job names accepted by Execute.
const (
	JobStage = "stage"
	JobSend  = "send"
	JobRun   = "run"
)

// ErrUnknownJob is returned by Execute for a job name it does not know.
var ErrUnknownJob = errors.New("unknown job")

// Stager stages pending alerts.
type Stager interface {
	Stage(ctx context.Context) (string, error)
}

// Sender dispatches pending channel sends.
type Sender interface {
	Send(ctx context.Context) (string, error)
}

// Runner is the single entry point every trigger goes through.
type Runner struct {
	stager Stager
	sender Sender
	logger *zap.Logger
}

func NewRunner(stager Stager, sender Sender, logger *zap.Logger) *Runner {
	return &Runner{stager: stager, sender: sender, logger: logger}
}

// Stage runs every staging rule once.
func (r *Runner) Stage(ctx context.Context) (string, error) {
	return r.stager.Stage(ctx)
}

// Send runs the dispatcher once.
func (r *Runner) Send(ctx context.Context) (string, error) {
	return r.sender.Send(ctx)
}

// Run stages then sends and joins both summaries. Send is skipped when
// staging could not reach the store.
func (r *Runner) Run(ctx context.Context) (string, error) {
	staged, err := r.Stage(ctx)
	if err != nil {
		return staged, err
	}
	sent, err := r.Send(ctx)
	return staged + "\n" + sent, err
}

// Execute runs the named job and records its outcome for the given trigger.
func (r *Runner) Execute(ctx context.Context, job, trigger string) (string, error) {
	var fn func(context.Context) (string, error)
	switch job {
	case JobStage:
		fn = r.Stage
	case JobSend:
		fn = r.Send
	case JobRun:
		fn = r.Run
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}

	start := time.Now()
	summary, err := fn(ctx)
	metrics.RecordJobRun(job, trigger, err)

	if err != nil {
		r.logger.Error("job failed",
			zap.Error(err),
			zap.String("job", job),
			zap.String("trigger", trigger),
			zap.Duration("duration", time.Since(start)),
		)
		return summary, err
	}

	r.logger.Info("job complete",
		zap.String("job", job),
		zap.String("trigger", trigger),
		zap.Duration("duration", time.Since(start)),
	)
	return summary, nil
}
