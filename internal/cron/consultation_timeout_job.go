package cron

import (
	"context"
	"fmt"

	"github.com/craftlinehq/craftline-backend/internal/consultations"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

const consultationTimeoutBatchSize = 200

// ConsultationTimeoutJobParams configure the consultation deadline sweep.
type ConsultationTimeoutJobParams struct {
	Logger        *logger.Logger
	Consultations consultationExpirer
	BatchSize     int
}

type consultationExpirer interface {
	ExpireOverdue(ctx context.Context, limit int) (*consultations.ExpireReport, error)
}

// NewConsultationTimeoutJob builds the cron job that resolves consultations
// whose response deadline has passed.
func NewConsultationTimeoutJob(params ConsultationTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Consultations == nil {
		return nil, fmt.Errorf("consultations service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = consultationTimeoutBatchSize
	}
	return &consultationTimeoutJob{
		logg:          params.Logger,
		consultations: params.Consultations,
		batchSize:     batchSize,
	}, nil
}

type consultationTimeoutJob struct {
	logg          *logger.Logger
	consultations consultationExpirer
	batchSize     int
}

func (j *consultationTimeoutJob) Name() string { return "consultation-timeout" }

func (j *consultationTimeoutJob) Run(ctx context.Context) error {
	report, err := j.consultations.ExpireOverdue(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("consultation timeout sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"timed_out": report.TimedOut,
		"waived":    report.Waived,
	})
	j.logg.Info(logCtx, "consultation timeout sweep complete")
	return nil
}
