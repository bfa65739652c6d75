package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/craftlinehq/craftline-backend/internal/repo"
	"github.com/craftlinehq/craftline-backend/pkg/db/models"
)

// Recorder persists notifications as in-app rows.
type Recorder struct {
	repo.Base
}

// NewRecorder builds a database-backed Dispatcher.
func NewRecorder(db *gorm.DB) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("notifications: db is required")
	}
	return &Recorder{Base: repo.NewBase(db)}, nil
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	var data json.RawMessage
	if len(msg.Data) > 0 {
		encoded, err := json.Marshal(msg.Data)
		if err != nil {
			return fmt.Errorf("encoding notification data: %w", err)
		}
		data = encoded
	}
	row := &models.Notification{
		UserID:  msg.UserID,
		Type:    msg.Type,
		Title:   msg.Title,
		Message: msg.Body,
		Data:    data,
	}
	return r.DB(ctx).Create(row).Error
}
