package orders

import (
	"fmt"

	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
)

// Action names a lifecycle command an actor can issue against an order.
type Action string

const (
	ActionStartProcurement  Action = "start_procurement"
	ActionProposePrice      Action = "propose_price"
	ActionApprovePrice      Action = "approve_price"
	ActionConfirmOrder      Action = "confirm_order"
	ActionEnterConsultation Action = "enter_consultation"
	ActionBeginProofing     Action = "begin_proofing"
	ActionApproveProof      Action = "approve_proof"
	ActionBeginProduction   Action = "begin_production"
	ActionStartQualityCheck Action = "start_quality_check"
	ActionCompleteOrder     Action = "complete_order"
)

// ParseAction converts raw input into a known Action.
func ParseAction(value string) (Action, error) {
	action := Action(value)
	if _, ok := transitions[action]; !ok {
		return "", fmt.Errorf("invalid action %q", value)
	}
	return action, nil
}

type transition struct {
	from  []enums.OrderStatus
	to    enums.OrderStatus
	roles []enums.ActorRole
}

// transitions is the closed action table. Cancellation and the dispute and
// refund side lanes are handled by their own flows, not by this table.
var transitions = map[Action]transition{
	ActionStartProcurement: {
		from:  []enums.OrderStatus{enums.OrderStatusInquiry},
		to:    enums.OrderStatusProcurementStarted,
		roles: []enums.ActorRole{enums.ActorRoleProvider},
	},
	ActionProposePrice: {
		from:  []enums.OrderStatus{enums.OrderStatusProcurementStarted, enums.OrderStatusPriceProposed},
		to:    enums.OrderStatusPriceProposed,
		roles: []enums.ActorRole{enums.ActorRoleProvider},
	},
	ActionApprovePrice: {
		from:  []enums.OrderStatus{enums.OrderStatusPriceProposed},
		to:    enums.OrderStatusPriceApproved,
		roles: []enums.ActorRole{enums.ActorRoleCustomer},
	},
	ActionConfirmOrder: {
		from:  []enums.OrderStatus{enums.OrderStatusPriceApproved},
		to:    enums.OrderStatusOrderReceived,
		roles: []enums.ActorRole{enums.ActorRoleProvider},
	},
	ActionEnterConsultation: {
		from:  []enums.OrderStatus{enums.OrderStatusOrderReceived},
		to:    enums.OrderStatusConsultation,
		roles: []enums.ActorRole{enums.ActorRoleCustomer, enums.ActorRoleProvider},
	},
	ActionBeginProofing: {
		from:  []enums.OrderStatus{enums.OrderStatusOrderReceived, enums.OrderStatusConsultation},
		to:    enums.OrderStatusProofing,
		roles: []enums.ActorRole{enums.ActorRoleProvider},
	},
	ActionApproveProof: {
		from:  []enums.OrderStatus{enums.OrderStatusProofing},
		to:    enums.OrderStatusApproved,
		roles: []enums.ActorRole{enums.ActorRoleCustomer},
	},
	ActionBeginProduction: {
		from:  []enums.OrderStatus{enums.OrderStatusApproved},
		to:    enums.OrderStatusInProduction,
		roles: []enums.ActorRole{enums.ActorRoleProvider},
	},
	ActionStartQualityCheck: {
		from:  []enums.OrderStatus{enums.OrderStatusInProduction},
		to:    enums.OrderStatusQualityCheck,
		roles: []enums.ActorRole{enums.ActorRoleProvider},
	},
	ActionCompleteOrder: {
		from:  []enums.OrderStatus{enums.OrderStatusQualityCheck},
		to:    enums.OrderStatusCompleted,
		roles: []enums.ActorRole{enums.ActorRoleProvider},
	},
}

// Resolve validates an action against the table and returns the destination
// status. Admins may drive any action; other roles must be listed for it.
func Resolve(action Action, from enums.OrderStatus, role enums.ActorRole) (enums.OrderStatus, error) {
	t, ok := transitions[action]
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown action %q", action))
	}
	if role != enums.ActorRoleAdmin && !roleAllowed(t.roles, role) {
		return "", pkgerrors.New(pkgerrors.CodeForbidden,
			fmt.Sprintf("role %s may not perform %s", role, action))
	}
	if !statusAllowed(t.from, from) {
		return "", pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("cannot %s from status %s", action, from))
	}
	return t.to, nil
}

func roleAllowed(roles []enums.ActorRole, role enums.ActorRole) bool {
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}

func statusAllowed(statuses []enums.OrderStatus, status enums.OrderStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
