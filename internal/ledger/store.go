package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/repo"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
	"github.com/craftlinehq/craftline-backend/pkg/enums"
)

// Entry is one money movement to append. Credits positive, debits negative;
// the sign is derived from the entry type.
type Entry struct {
	OrderID     uuid.UUID
	ProviderID  uuid.UUID
	Type        enums.LedgerEntryType
	AmountCents int
	Metadata    map[string]any
}

// Store appends immutable ledger rows and answers balance reads.
type Store interface {
	WithTx(tx *gorm.DB) Store
	Record(ctx context.Context, entry Entry) (*models.LedgerEntry, error)
	ProviderBalance(ctx context.Context, providerID uuid.UUID) (int64, error)
}

type store struct {
	repo.Base
}

// NewStore constructs the GORM-backed ledger store.
func NewStore(db *gorm.DB) Store {
	return &store{Base: repo.NewBase(db)}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	return &store{Base: repo.NewBase(tx)}
}

func (s *store) Record(ctx context.Context, entry Entry) (*models.LedgerEntry, error) {
	if entry.AmountCents < 0 {
		return nil, fmt.Errorf("ledger: amount must be non-negative, sign comes from the entry type")
	}

	if !entry.Type.IsValid() {
		return nil, fmt.Errorf("ledger: unknown entry type %q", entry.Type)
	}
	amount := signedAmount(entry.Type, entry.AmountCents)

	var metadata json.RawMessage
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("ledger: encoding metadata: %w", err)
		}
		metadata = encoded
	}

	row := &models.LedgerEntry{
		OrderID:     entry.OrderID,
		ProviderID:  entry.ProviderID,
		Type:        entry.Type,
		AmountCents: amount,
		Metadata:    metadata,
	}
	if err := s.DB(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// signedAmount applies the ledger sign convention: fees and refunds debit
// the provider, payouts credit them.
func signedAmount(entryType enums.LedgerEntryType, amount int) int {
	switch entryType {
	case enums.LedgerEntryTypePlatformFee, enums.LedgerEntryTypeRefundDebit:
		return -amount
	}
	return amount
}

func (s *store) ProviderBalance(ctx context.Context, providerID uuid.UUID) (int64, error) {
	var balance int64
	err := s.DB(ctx).Model(&models.LedgerEntry{}).
		Where("provider_id = ?", providerID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&balance).Error
	return balance, err
}
