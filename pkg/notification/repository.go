package notification

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Notification{})
}

// RecordDelivery writes the audit row for a handled message.
func (r *Repository) RecordDelivery(ctx context.Context, msg Message, status Status, errMsg string) error {
	n := &Notification{
		Type:       msg.Type,
		CustomerID: msg.CustomerID,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		Content:    msg.Content,
		Status:     status,
		AdditionalData: map[string]interface{}{
			"fingerprint": msg.Fingerprint(),
			"sender":      msg.Sender,
			"queued_at":   msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
		ErrorMessage: errMsg,
	}
	if status == StatusSent {
		now := time.Now().UTC()
		n.SentAt = &now
	}
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *Repository) FindByCustomer(ctx context.Context, customerID string) ([]Notification, error) {
	var out []Notification
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *Repository) FindByStatus(ctx context.Context, status Status, limit int) ([]Notification, error) {
	var out []Notification
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
