package stage

import (
	"context"
	"fmt"
	"log/slog"
)

// Handler is one step of a patch job. Prepare validates inputs and sets the
// job's progress message; Execute does the work.
type Handler interface {
	Prepare(context.Context, *Job) error
	Execute(context.Context, *Job) error
	HealthCheck(context.Context) Health
}

// LoggerAware is implemented by handlers that accept a stage-scoped logger.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Health reports whether a stage can run against the current configuration.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy formats the reason a stage cannot run.
func Unhealthy(name, format string, args ...any) Health {
	return Health{Name: name, Detail: fmt.Sprintf(format, args...)}
}
