package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/craftlinehq/craftline-backend/internal/consultations"
)

type stubConsultationExpirer struct {
	report *consultations.ExpireReport
	err    error
	limit  int
}

func (s *stubConsultationExpirer) ExpireOverdue(_ context.Context, limit int) (*consultations.ExpireReport, error) {
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func TestConsultationTimeoutJobRunsSweep(t *testing.T) {
	expirer := &stubConsultationExpirer{report: &consultations.ExpireReport{TimedOut: 2, Waived: 1}}
	job, err := NewConsultationTimeoutJob(ConsultationTimeoutJobParams{Logger: testLogger(), Consultations: expirer})
	if err != nil {
		t.Fatalf("NewConsultationTimeoutJob: %v", err)
	}
	if job.Name() != "consultation-timeout" {
		t.Fatalf("unexpected job name: %s", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if expirer.limit != consultationTimeoutBatchSize {
		t.Fatalf("expected default batch size %d, got %d", consultationTimeoutBatchSize, expirer.limit)
	}
}

func TestConsultationTimeoutJobSurfacesSweepError(t *testing.T) {
	expirer := &stubConsultationExpirer{err: errors.New("db down")}
	job, err := NewConsultationTimeoutJob(ConsultationTimeoutJobParams{Logger: testLogger(), Consultations: expirer})
	if err != nil {
		t.Fatalf("NewConsultationTimeoutJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error from failed sweep")
	}
}

func TestConsultationTimeoutJobRequiresService(t *testing.T) {
	if _, err := NewConsultationTimeoutJob(ConsultationTimeoutJobParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected error when consultations service is missing")
	}
}
