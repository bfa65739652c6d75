package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/craftlinehq/craftline-backend/api/responses"
	"github.com/craftlinehq/craftline-backend/api/validators"
	internalorders "github.com/craftlinehq/craftline-backend/internal/orders"
	"github.com/craftlinehq/craftline-backend/internal/payments"
	"github.com/craftlinehq/craftline-backend/pkg/actor"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

type orderService interface {
	CreateInquiry(ctx context.Context, in internalorders.CreateInquiryInput) (*models.ProductionOrder, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.ProductionOrder, error)
	List(ctx context.Context, act actor.Actor, limit int) ([]models.ProductionOrder, error)
	StartProcurement(ctx context.Context, orderID uuid.UUID, act actor.Actor, estimateCents int) (*models.ProductionOrder, error)
	Advance(ctx context.Context, orderID uuid.UUID, action internalorders.Action, act actor.Actor) (*models.ProductionOrder, error)
	Cancel(ctx context.Context, orderID uuid.UUID, act actor.Actor, reason string) (*models.ProductionOrder, error)
}

type holdReplacer interface {
	ReplaceHold(ctx context.Context, orderID uuid.UUID, amountCents int) (*payments.HoldResult, error)
}

type createInquiryRequest struct {
	CustomerID              uuid.UUID `json:"customer_id" validate:"required"`
	ProviderID              uuid.UUID `json:"provider_id" validate:"required"`
	ProviderPayoutAccountID *string   `json:"provider_payout_account_id"`
	ConsultationMandatory   bool      `json:"consultation_mandatory"`
}

type startProcurementRequest struct {
	EstimateCents int `json:"estimate_cents" validate:"required,min=1"`
}

type transitionRequest struct {
	Action string `json:"action" validate:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type reauthorizeRequest struct {
	AmountCents int `json:"amount_cents" validate:"required,min=1"`
}

// CreateInquiry opens a new order in the inquiry stage.
func CreateInquiry(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		act, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createInquiryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !act.IsAdmin() && act.ID != payload.CustomerID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "inquiries are opened by the customer"))
			return
		}

		order, err := svc.CreateInquiry(r.Context(), internalorders.CreateInquiryInput{
			CustomerID:              payload.CustomerID,
			ProviderID:              payload.ProviderID,
			ProviderPayoutAccountID: payload.ProviderPayoutAccountID,
			ConsultationMandatory:   payload.ConsultationMandatory,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// List returns recent orders for the acting party.
func List(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		act, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		found, err := svc.List(r.Context(), act, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, found)
	}
}

// Detail returns an order visible to its customer, provider, or an admin.
func Detail(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		act, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !act.IsAdmin() && act.ID != order.CustomerID && act.ID != order.ProviderID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another party"))
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// StartProcurement places the payment hold and moves the order out of inquiry.
func StartProcurement(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		act, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload startProcurementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.StartProcurement(r.Context(), orderID, act, payload.EstimateCents)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Transition applies a named lifecycle action to the order.
func Transition(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		act, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload transitionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		action, err := internalorders.ParseAction(payload.Action)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown action"))
			return
		}

		order, err := svc.Advance(r.Context(), orderID, action, act)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Cancel terminates an uncaptured order and releases the hold.
func Cancel(svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		act, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), orderID, act, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Reauthorize replaces an expired payment hold with a fresh authorization.
func Reauthorize(escrow holdReplacer, svc orderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if escrow == nil || svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments manager unavailable"))
			return
		}
		act, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !act.IsAdmin() && act.ID != order.CustomerID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only the customer reauthorizes payment"))
			return
		}

		var payload reauthorizeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		hold, err := escrow.ReplaceHold(r.Context(), orderID, payload.AmountCents)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, hold)
	}
}

func requireActor(r *http.Request) (actor.Actor, error) {
	act, ok := actor.FromContext(r.Context())
	if !ok {
		return actor.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor context missing")
	}
	return act, nil
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
