package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/ledger"
	"github.com/craftlinehq/craftline-backend/internal/notifications"
	"github.com/craftlinehq/craftline-backend/pkg/config"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
	pkgerrors "github.com/craftlinehq/craftline-backend/pkg/errors"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SweepReport summarizes one payout sweep run.
type SweepReport struct {
	Processed int
	Skipped   int
	Failed    int
	Errors    error
}

// Service releases escrow to providers once the holding period has passed.
type Service struct {
	repo       Repository
	tx         txRunner
	ledger     ledger.Store
	dispatcher notifications.Dispatcher
	feePercent decimal.Decimal
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the payout sweep service.
func NewService(repository Repository, tx txRunner, ledgerStore ledger.Store, dispatcher notifications.Dispatcher, cfg config.EscrowConfig, logg *logger.Logger) (*Service, error) {
	if repository == nil {
		return nil, fmt.Errorf("payouts: repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("payouts: tx runner is required")
	}
	if ledgerStore == nil {
		return nil, fmt.Errorf("payouts: ledger store is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("payouts: logger is required")
	}
	feePercent, err := decimal.NewFromString(cfg.PlatformFeePercent)
	if err != nil {
		return nil, fmt.Errorf("payouts: invalid platform fee percent %q: %w", cfg.PlatformFeePercent, err)
	}
	if feePercent.IsNegative() || feePercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("payouts: platform fee percent %s out of range", feePercent)
	}
	return &Service{
		repo:       repository,
		tx:         tx,
		ledger:     ledgerStore,
		dispatcher: dispatcher,
		feePercent: feePercent,
		logg:       logg,
		now:        time.Now,
	}, nil
}

// Sweep releases every due payout. Each row is handled independently; one
// failing row never stops the rest, and a crashed run picks up where it left
// off because every transition is a guarded update.
func (s *Service) Sweep(ctx context.Context, limit int) (*SweepReport, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.now().UTC()
	eligible, err := s.repo.FindEligible(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing eligible payouts")
	}

	report := &SweepReport{}
	for _, row := range eligible {
		processed, err := s.processOne(ctx, row, now)
		if err != nil {
			report.Failed++
			report.Errors = multierr.Append(report.Errors,
				fmt.Errorf("payout %s: %w", row.Schedule.ID, err))
			s.logg.Error(ctx, "payout release failed for schedule "+row.Schedule.ID.String(), err)
			continue
		}
		if processed {
			report.Processed++
		} else {
			report.Skipped++
		}
	}
	return report, nil
}

func (s *Service) processOne(ctx context.Context, row EligiblePayout, now time.Time) (bool, error) {
	disputed, err := s.repo.HasActiveDispute(ctx, row.Order.ID)
	if err != nil {
		return false, fmt.Errorf("checking disputes: %w", err)
	}
	if disputed {
		return false, nil
	}
	// A hold that is no longer held was refunded or frozen after this row
	// became eligible. Leave it for whichever flow owns it now.
	if row.Escrow.Status != enums.EscrowStatusHeld {
		return false, nil
	}

	gross := row.Schedule.AmountCents
	fee := s.platformFeeCents(gross)
	net := gross - fee

	var effects notifications.Effects
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		rows, err := txRepo.ReleaseEscrow(ctx, row.Escrow.ID)
		if err != nil {
			return fmt.Errorf("releasing escrow: %w", err)
		}
		if rows == 0 {
			// Another worker won this row.
			return errAlreadyReleased
		}
		rows, err = txRepo.CompleteSchedule(ctx, row.Schedule.ID, now)
		if err != nil {
			return fmt.Errorf("completing schedule: %w", err)
		}
		if rows == 0 {
			return errAlreadyReleased
		}

		txLedger := s.ledger.WithTx(tx)
		if _, err := txLedger.Record(ctx, ledger.Entry{
			OrderID:     row.Order.ID,
			ProviderID:  row.Schedule.ProviderID,
			Type:        enums.LedgerEntryTypePayoutCredit,
			AmountCents: net,
			Metadata:    map[string]any{"payout_schedule_id": row.Schedule.ID.String()},
		}); err != nil {
			return fmt.Errorf("recording payout credit: %w", err)
		}
		if fee > 0 {
			if _, err := txLedger.Record(ctx, ledger.Entry{
				OrderID:     row.Order.ID,
				ProviderID:  row.Schedule.ProviderID,
				Type:        enums.LedgerEntryTypePlatformFee,
				AmountCents: fee,
				Metadata:    map[string]any{"payout_schedule_id": row.Schedule.ID.String()},
			}); err != nil {
				return fmt.Errorf("recording platform fee: %w", err)
			}
		}

		effects.Add(notifications.Message{
			UserID: row.Schedule.ProviderID,
			Type:   enums.NotificationTypePayout,
			Title:  "Payout released",
			Body:   "Your escrowed funds were released to your balance.",
			Data: map[string]any{
				"order_id":    row.Order.ID.String(),
				"gross_cents": gross,
				"fee_cents":   fee,
				"net_cents":   net,
			},
		})
		return nil
	})
	if err != nil {
		if err == errAlreadyReleased {
			return false, nil
		}
		return false, err
	}
	effects.Flush(ctx, s.dispatcher, s.logg)

	balance, err := s.ledger.ProviderBalance(ctx, row.Schedule.ProviderID)
	if err != nil {
		s.logg.Error(ctx, "reading provider balance after payout", err)
	} else {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"provider_id":   row.Schedule.ProviderID.String(),
			"balance_cents": balance,
		}), "provider balance after payout")
	}
	return true, nil
}

// platformFeeCents computes the fee on a gross amount, rounding half up.
func (s *Service) platformFeeCents(grossCents int) int {
	fee := decimal.NewFromInt(int64(grossCents)).
		Mul(s.feePercent).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return int(fee.IntPart())
}

var errAlreadyReleased = fmt.Errorf("payout already released")
