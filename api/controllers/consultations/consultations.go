package consultations

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/api/responses"
	"github.com/craftlinehq/craftline-backend/pkg/actor"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

type consultationService interface {
	Request(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error)
	Start(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error)
	Complete(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error)
	Waive(ctx context.Context, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error)
}

// Request opens a consultation on the order. Provider-requested
// consultations are mandatory and cannot later be waived.
func Request(svc consultationService, logg *logger.Logger) http.HandlerFunc {
	return handle(svc, logg, http.StatusCreated, func(ctx context.Context, svc consultationService, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error) {
		return svc.Request(ctx, orderID, act)
	})
}

// Start marks the consultation as underway.
func Start(svc consultationService, logg *logger.Logger) http.HandlerFunc {
	return handle(svc, logg, http.StatusOK, func(ctx context.Context, svc consultationService, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error) {
		return svc.Start(ctx, orderID, act)
	})
}

// Complete finishes the consultation so proofing can begin.
func Complete(svc consultationService, logg *logger.Logger) http.HandlerFunc {
	return handle(svc, logg, http.StatusOK, func(ctx context.Context, svc consultationService, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error) {
		return svc.Complete(ctx, orderID, act)
	})
}

// Waive skips a non-mandatory consultation.
func Waive(svc consultationService, logg *logger.Logger) http.HandlerFunc {
	return handle(svc, logg, http.StatusOK, func(ctx context.Context, svc consultationService, orderID uuid.UUID, act actor.Actor) (*models.Consultation, error) {
		return svc.Waive(ctx, orderID, act)
	})
}

func handle(svc consultationService, logg *logger.Logger, status int, call func(context.Context, consultationService, uuid.UUID, actor.Actor) (*models.Consultation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "consultations service unavailable"))
			return
		}
		act, ok := actor.FromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor context missing"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		consultation, err := call(r.Context(), svc, orderID, act)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, status, consultation)
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}
