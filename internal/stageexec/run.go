package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"grfpatch/internal/logging"
	"grfpatch/internal/services"
	"grfpatch/internal/stage"
)

// Handler is the stage contract used by the execution helper.
type Handler interface {
	Prepare(context.Context, *stage.Job) error
	Execute(context.Context, *stage.Job) error
}

// Options controls stage execution.
type Options struct {
	Logger    *slog.Logger
	Handler   Handler
	StageName string
	Job       *stage.Job
}

// Run prepares and executes one stage for a job, logging the transition.
// Failures are logged and returned unchanged; cancellation is logged at info.
func Run(ctx context.Context, opts Options) error {
	if opts.Handler == nil {
		return services.Wrap(services.ErrConfiguration, opts.StageName, "run", "stage handler unavailable", nil)
	}
	if opts.Job == nil {
		return services.Wrap(services.ErrConfiguration, opts.StageName, "run", "job is required", nil)
	}

	stageCtx := services.WithStage(ctx, opts.StageName)
	stageLogger := logging.WithContext(stageCtx, opts.Logger)
	if aware, ok := opts.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	started := time.Now()
	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("patch", opts.Job.Label()),
	)

	if err := opts.Handler.Prepare(stageCtx, opts.Job); err != nil {
		return handleFailure(stageLogger, opts.StageName, err)
	}
	if err := opts.Handler.Execute(stageCtx, opts.Job); err != nil {
		return handleFailure(stageLogger, opts.StageName, err)
	}

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("patch", opts.Job.Label()),
		logging.String("progress_message", strings.TrimSpace(opts.Job.ProgressMessage)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func handleFailure(logger *slog.Logger, stageName string, stageErr error) error {
	if services.IsCancelled(stageErr) {
		logger.Info(
			"stage cancelled",
			logging.String(logging.FieldEventType, "stage_cancelled"),
		)
		return stageErr
	}

	message := fmt.Sprintf("%s stage failed", stageName)
	if stageErr != nil {
		if detail := strings.TrimSpace(services.Details(stageErr).Message); detail != "" {
			message = detail
		}
	}
	logger.Error(
		"stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_message", message),
		logging.Error(stageErr),
	)
	return stageErr
}
