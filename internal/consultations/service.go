package consultations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/pkg/actor"
	"github.com/craftlinehq/craftline-backend/pkg/config"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

// requestableStatuses are the order states in which a consultation may still
// be opened. Past order_received the gate has either run or been skipped.
var requestableStatuses = map[enums.OrderStatus]struct{}{
	enums.OrderStatusInquiry:            {},
	enums.OrderStatusProcurementStarted: {},
	enums.OrderStatusPriceProposed:      {},
	enums.OrderStatusPriceApproved:      {},
	enums.OrderStatusOrderReceived:      {},
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ExpireReport summarizes one timeout sweep.
type ExpireReport struct {
	TimedOut int
	Waived   int
}

// Service enforces the pre-production consultation gate.
type Service struct {
	repo       Repository
	tx         txRunner
	dispatcher notifications.Dispatcher
	cfg        config.EscrowConfig
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the consultation gate service.
func NewService(repository Repository, tx txRunner, dispatcher notifications.Dispatcher, cfg config.EscrowConfig, logg *logger.Logger) (*Service, error) {
	if repository == nil {
		return nil, fmt.Errorf("consultations: repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("consultations: tx runner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("consultations: logger is required")
	}
	return &Service{
		repo:       repository,
		tx:         tx,
		dispatcher: dispatcher,
		cfg:        cfg,
		logg:       logg,
		now:        time.Now,
	}, nil
}

// Request opens the consultation gate for an order. A customer request is
// waivable later; a provider request marks the consultation mandatory.
func (s *Service) Request(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, ok := requestableStatuses[order.Status]; !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("consultations cannot be requested in status %s", order.Status))
	}
	if _, err := s.repo.FindByOrder(ctx, orderID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has a consultation")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up consultation")
	}

	mandatory := order.ConsultationMandatory || act.Role == enums.ActorRoleProvider
	consultation := &models.Consultation{
		OrderID:     orderID,
		Status:      enums.ConsultationStatusPending,
		RequestedBy: act.ID,
		Mandatory:   mandatory,
		TimeoutAt:   s.now().UTC().Add(s.cfg.ConsultationDeadline),
	}

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, consultation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating consultation")
		}
		counterpart := order.ProviderID
		if act.ID == order.ProviderID {
			counterpart = order.CustomerID
		}
		effects.Add(notifications.Message{
			UserID: counterpart,
			Type:   enums.NotificationTypeConsultation,
			Title:  "Consultation requested",
			Body:   "A consultation was requested for this order. Please respond within the deadline.",
			Data:   map[string]any{"order_id": orderID.String(), "timeout_at": consultation.TimeoutAt},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)
	return consultation, nil
}

// Start moves a pending consultation into progress, clearing its deadline.
func (s *Service) Start(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error) {
	consultation, err := s.findByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.UpdateStatus(ctx, consultation.ID,
		enums.ConsultationStatusPending, enums.ConsultationStatusInProgress,
		map[string]any{"started_at": s.now().UTC()})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "starting consultation")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("consultation in status %s cannot start", consultation.Status))
	}
	consultation.Status = enums.ConsultationStatusInProgress
	return consultation, nil
}

// Complete closes an in-progress consultation, releasing the gate.
func (s *Service) Complete(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error) {
	consultation, err := s.findByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.UpdateStatus(ctx, consultation.ID,
		enums.ConsultationStatusInProgress, enums.ConsultationStatusCompleted,
		map[string]any{"completed_at": s.now().UTC()})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "completing consultation")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("consultation in status %s cannot complete", consultation.Status))
	}
	consultation.Status = enums.ConsultationStatusCompleted
	return consultation, nil
}

// Waive skips a pending customer-requested consultation. Mandatory gates
// cannot be waived by either party.
func (s *Service) Waive(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error) {
	consultation, err := s.findByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if consultation.Mandatory {
		return nil, pkgerrors.New(pkgerrors.CodePolicyViolation, "a mandatory consultation cannot be waived")
	}
	if act.Role != enums.ActorRoleProvider && act.Role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the provider may waive a consultation")
	}
	rows, err := s.repo.UpdateStatus(ctx, consultation.ID,
		enums.ConsultationStatusPending, enums.ConsultationStatusWaived,
		map[string]any{"waived_at": s.now().UTC()})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "waiving consultation")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("consultation in status %s cannot be waived", consultation.Status))
	}
	consultation.Status = enums.ConsultationStatusWaived
	return consultation, nil
}

// ExpireOverdue sweeps pending consultations past their deadline. Under the
// auto-waive policy a lapsed customer-requested gate is waived so the order
// can move on; everything else times out and blocks until resolved upstream.
func (s *Service) ExpireOverdue(ctx context.Context, limit int) (*ExpireReport, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.now().UTC()
	overdue, err := s.repo.FindOverduePending(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing overdue consultations")
	}

	report := &ExpireReport{}
	for _, row := range overdue {
		autoWaive := s.cfg.ConsultationTimeout == config.ConsultationTimeoutAutoWaive && !row.Consultation.Mandatory

		to := enums.ConsultationStatusTimedOut
		updates := map[string]any{}
		if autoWaive {
			to = enums.ConsultationStatusWaived
			updates["waived_at"] = now
		}

		rows, err := s.repo.UpdateStatus(ctx, row.Consultation.ID, enums.ConsultationStatusPending, to, updates)
		if err != nil {
			s.logg.Error(ctx, "failed to expire consultation "+row.Consultation.ID.String(), err)
			continue
		}
		if rows == 0 {
			continue
		}

		if autoWaive {
			report.Waived++
		} else {
			report.TimedOut++
		}

		var effects notifications.Effects
		data := map[string]any{"order_id": row.Order.ID.String(), "outcome": string(to)}
		effects.Add(notifications.Message{
			UserID: row.Order.CustomerID,
			Type:   enums.NotificationTypeConsultation,
			Title:  "Consultation deadline passed",
			Body:   consultationOutcomeBody(autoWaive),
			Data:   data,
		})
		effects.Add(notifications.Message{
			UserID: row.Order.ProviderID,
			Type:   enums.NotificationTypeConsultation,
			Title:  "Consultation deadline passed",
			Body:   consultationOutcomeBody(autoWaive),
			Data:   data,
		})
		effects.Flush(ctx, s.dispatcher, s.logg)
	}
	return report, nil
}

func consultationOutcomeBody(waived bool) string {
	if waived {
		return "The consultation deadline passed and the consultation was waived. The order can proceed."
	}
	return "The consultation deadline passed. The order is blocked until the consultation is resolved."
}

func (s *Service) findByOrder(ctx context.Context, orderID uuid.UUID) (*models.Consultation, error) {
	consultation, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "consultation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up consultation")
	}
	return consultation, nil
}

func (s *Service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up order")
	}
	return order, nil
}
