package processing

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cloudmon/platform/pkg/cloudservice"
	"github.com/cloudmon/platform/pkg/fileupload"
)

// Persister writes one batch of subscriptions and their file relations
// atomically.
type Persister interface {
	FindService(ctx context.Context, customerID string, serviceType cloudservice.ServiceType) (*cloudservice.CloudService, error)
	SaveBatch(ctx context.Context, services []cloudservice.CloudService, relations []fileupload.ServiceFileRelation) error
}

type gormPersister struct {
	db *gorm.DB
}

func NewPersister(db *gorm.DB) Persister {
	return &gormPersister{db: db}
}

func (p *gormPersister) FindService(ctx context.Context, customerID string, serviceType cloudservice.ServiceType) (*cloudservice.CloudService, error) {
	var svc cloudservice.CloudService
	err := p.db.WithContext(ctx).
		Where("customer_id = ? AND service_type = ?", customerID, serviceType).
		First(&svc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cloudservice.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

// SaveBatch upserts on the natural key so a line repeated within one file
// still resolves to a single row, then links each row to the upload.
func (p *gormPersister) SaveBatch(ctx context.Context, services []cloudservice.CloudService, relations []fileupload.ServiceFileRelation) error {
	if len(services) == 0 {
		return nil
	}
	if len(services) != len(relations) {
		return fmt.Errorf("batch mismatch: %d services, %d relations", len(services), len(relations))
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "customer_id"}, {Name: "service_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"activation_date", "expiration_date", "amount", "status", "last_updated",
			}),
		}).Create(&services).Error
		if err != nil {
			return fmt.Errorf("saving service batch: %w", err)
		}

		for i := range relations {
			relations[i].CloudServiceID = services[i].ID
		}
		if err := tx.Create(&relations).Error; err != nil {
			return fmt.Errorf("saving relation batch: %w", err)
		}
		return nil
	})
}
