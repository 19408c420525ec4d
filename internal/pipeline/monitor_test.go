package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orderlens/orderlens-backend/internal/platform/ctxutil"
	"github.com/orderlens/orderlens-backend/internal/platform/logger"
)

func observedMonitor() (*Monitor, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	return NewMonitor(log, 0), logs
}

func TestMonitorCountsOutcomes(t *testing.T) {
	m, _ := observedMonitor()
	ctx := context.Background()

	m.Success(ctx, "transcribe.chunk")
	m.Success(ctx, "transcribe.chunk")
	m.Retry(ctx, "grade.transaction", 1, fmt.Errorf("503"))
	m.Failure(ctx, "grade.transaction", fmt.Errorf("503"))

	snap := m.Snapshot()
	if snap.Successes["transcribe.chunk"] != 2 {
		t.Fatalf("successes = %+v", snap.Successes)
	}
	if snap.Retries["grade.transaction"] != 1 || snap.Failures["grade.transaction"] != 1 {
		t.Fatalf("retries/failures = %+v/%+v", snap.Retries, snap.Failures)
	}
}

func TestMonitorFailureCarriesRunTags(t *testing.T) {
	m, logs := observedMonitor()
	runID := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001")
	ctx := ctxutil.WithPhase(ctxutil.WithRun(context.Background(), runID), "grading")

	m.Failure(ctx, "grade.transaction", fmt.Errorf("timeout"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if got := fmt.Sprint(fields["run_id"]); got != runID.String() {
		t.Fatalf("run_id field = %v", fields["run_id"])
	}
	if fields["phase"] != "grading" {
		t.Fatalf("phase field = %v", fields["phase"])
	}
	if fields["op"] != "grade.transaction" {
		t.Fatalf("op field = %v", fields["op"])
	}
}

func TestMonitorFailureWithoutRunTags(t *testing.T) {
	m, logs := observedMonitor()

	m.Failure(context.Background(), "blob.get_source", fmt.Errorf("not found"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if _, ok := fields["run_id"]; ok {
		t.Fatalf("unexpected run_id field: %v", fields["run_id"])
	}
}
