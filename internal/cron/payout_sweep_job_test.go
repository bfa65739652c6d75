package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/craftlinehq/craftline-backend/internal/payouts"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

type stubPayoutSweeper struct {
	report *payouts.SweepReport
	err    error
	limit  int
	calls  int
}

func (s *stubPayoutSweeper) Sweep(_ context.Context, limit int) (*payouts.SweepReport, error) {
	s.calls++
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Level: zerolog.ErrorLevel, Output: io.Discard})
}

func TestPayoutSweepJobRunsSweep(t *testing.T) {
	sweeper := &stubPayoutSweeper{report: &payouts.SweepReport{Processed: 3, Skipped: 1}}
	job, err := NewPayoutSweepJob(PayoutSweepJobParams{Logger: testLogger(), Payouts: sweeper})
	if err != nil {
		t.Fatalf("NewPayoutSweepJob: %v", err)
	}
	if job.Name() != "payout-sweep" {
		t.Fatalf("unexpected job name: %s", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.calls)
	}
	if sweeper.limit != payoutSweepBatchSize {
		t.Fatalf("expected default batch size %d, got %d", payoutSweepBatchSize, sweeper.limit)
	}
}

func TestPayoutSweepJobSurfacesSweepError(t *testing.T) {
	sweeper := &stubPayoutSweeper{err: errors.New("db down")}
	job, err := NewPayoutSweepJob(PayoutSweepJobParams{Logger: testLogger(), Payouts: sweeper, BatchSize: 50})
	if err != nil {
		t.Fatalf("NewPayoutSweepJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error from failed sweep")
	}
}

func TestPayoutSweepJobToleratesRowFailures(t *testing.T) {
	sweeper := &stubPayoutSweeper{report: &payouts.SweepReport{Processed: 2, Failed: 1, Errors: errors.New("row failed")}}
	job, err := NewPayoutSweepJob(PayoutSweepJobParams{Logger: testLogger(), Payouts: sweeper})
	if err != nil {
		t.Fatalf("NewPayoutSweepJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("row failures should not fail the job: %v", err)
	}
}
