package cron

import (
	"context"
	"fmt"

	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

const authorizationExpiryBatchSize = 200

// AuthorizationExpiryJobParams configure the expired authorization sweep.
type AuthorizationExpiryJobParams struct {
	Logger     *logger.Logger
	Payments   holdFlagger
	Dispatcher notifications.Dispatcher
	BatchSize  int
}

type holdFlagger interface {
	FlagExpiredHolds(ctx context.Context, limit int) ([]models.ProductionOrder, error)
}

// NewAuthorizationExpiryJob builds the cron job that flags orders whose card
// authorization lapsed before capture and asks the customer to reauthorize.
func NewAuthorizationExpiryJob(params AuthorizationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments manager required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = authorizationExpiryBatchSize
	}
	return &authorizationExpiryJob{
		logg:       params.Logger,
		payments:   params.Payments,
		dispatcher: params.Dispatcher,
		batchSize:  batchSize,
	}, nil
}

type authorizationExpiryJob struct {
	logg       *logger.Logger
	payments   holdFlagger
	dispatcher notifications.Dispatcher
	batchSize  int
}

func (j *authorizationExpiryJob) Name() string { return "authorization-expiry" }

func (j *authorizationExpiryJob) Run(ctx context.Context) error {
	flagged, err := j.payments.FlagExpiredHolds(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("flag expired holds: %w", err)
	}
	for _, order := range flagged {
		msg := notifications.Message{
			UserID: order.CustomerID,
			Type:   enums.NotificationTypePayment,
			Title:  "Payment authorization expired",
			Body:   "The payment hold for your order expired. Please reauthorize payment so work can continue.",
			Data: map[string]any{
				"order_id": order.ID,
			},
		}
		if err := j.dispatcher.Send(ctx, msg); err != nil {
			logCtx := j.logg.WithOrderID(ctx, order.ID.String())
			j.logg.Error(logCtx, "send reauthorization notice", err)
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"flagged": len(flagged)})
	j.logg.Info(logCtx, "authorization expiry sweep complete")
	return nil
}
