package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type runInfoKey struct{}

// RunInfo tags a context with the run and pipeline phase it is working
// for, so sinks that only see a context (the retry monitor, repo error
// paths) can label their output without threading ids through every
// signature.
type RunInfo struct {
	RunID uuid.UUID
	Phase string
}

func WithRun(ctx context.Context, runID uuid.UUID) context.Context {
	info, _ := RunInfoFrom(ctx)
	info.RunID = runID
	return context.WithValue(ctx, runInfoKey{}, info)
}

// WithPhase keeps the run id already on the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	info, _ := RunInfoFrom(ctx)
	info.Phase = phase
	return context.WithValue(ctx, runInfoKey{}, info)
}

func RunInfoFrom(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}
