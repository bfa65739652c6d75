package cron

import (
	"context"
	"fmt"

	"github.com/craftlinehq/craftline-backend/internal/payouts"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

const payoutSweepBatchSize = 200

// PayoutSweepJobParams configure the scheduled payout sweep.
type PayoutSweepJobParams struct {
	Logger    *logger.Logger
	Payouts   payoutSweeper
	BatchSize int
}

type payoutSweeper interface {
	Sweep(ctx context.Context, limit int) (*payouts.SweepReport, error)
}

// NewPayoutSweepJob builds the cron job that releases escrow funds whose
// holding period has elapsed.
func NewPayoutSweepJob(params PayoutSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = payoutSweepBatchSize
	}
	return &payoutSweepJob{
		logg:      params.Logger,
		payouts:   params.Payouts,
		batchSize: batchSize,
	}, nil
}

type payoutSweepJob struct {
	logg      *logger.Logger
	payouts   payoutSweeper
	batchSize int
}

func (j *payoutSweepJob) Name() string { return "payout-sweep" }

func (j *payoutSweepJob) Run(ctx context.Context) error {
	report, err := j.payouts.Sweep(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("payout sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": report.Processed,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
	if report.Failed > 0 {
		j.logg.Error(logCtx, "payout sweep finished with failures", report.Errors)
	} else {
		j.logg.Info(logCtx, "payout sweep complete")
	}
	return nil
}
