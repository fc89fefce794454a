package cloudservice

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("cloud service not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&CloudService{})
}

func (r *Repository) FindByCustomerAndType(ctx context.Context, customerID string, serviceType ServiceType) (*CloudService, error) {
	var svc CloudService
	result := r.db.WithContext(ctx).
		First(&svc, "customer_id = ? AND service_type = ?", customerID, serviceType)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &svc, result.Error
}

func (r *Repository) FindByCustomer(ctx context.Context, customerID string, limit, offset int) ([]CloudService, error) {
	if limit <= 0 {
		limit = 50
	}
	var services []CloudService
	result := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("service_type").
		Limit(limit).Offset(offset).
		Find(&services)
	return services, result.Error
}

// FindActiveOlderThan returns active subscriptions whose activation date is on
// or before the cutoff.
func (r *Repository) FindActiveOlderThan(ctx context.Context, cutoff time.Time) ([]CloudService, error) {
	var services []CloudService
	result := r.db.WithContext(ctx).
		Where("status = ? AND activation_date <= ?", StatusActive, cutoff).
		Order("customer_id, service_type").
		Find(&services)
	return services, result.Error
}

// FindCustomersWithExpiredMoreThan returns the expired subscriptions of every
// customer holding strictly more than threshold expired subscriptions.
func (r *Repository) FindCustomersWithExpiredMoreThan(ctx context.Context, threshold int) ([]ExpiredService, error) {
	var rows []ExpiredService
	result := r.db.WithContext(ctx).
		Model(&CloudService{}).
		Select("customer_id, service_type, expiration_date").
		Where("status = ?", StatusExpired).
		Where("customer_id IN (?)", r.db.Model(&CloudService{}).
			Select("customer_id").
			Where("status = ?", StatusExpired).
			Group("customer_id").
			Having("COUNT(*) > ?", threshold)).
		Order("customer_id, expiration_date").
		Scan(&rows)
	return rows, result.Error
}

type TypeCount struct {
	ServiceType ServiceType `json:"service_type"`
	Count       int64       `json:"count"`
}

func (r *Repository) CountActiveByType(ctx context.Context) ([]TypeCount, error) {
	var rows []TypeCount
	result := r.db.WithContext(ctx).
		Model(&CloudService{}).
		Select("service_type, COUNT(*) AS count").
		Where("status = ?", StatusActive).
		Group("service_type").
		Order("service_type").
		Scan(&rows)
	return rows, result.Error
}

type CustomerSpend struct {
	CustomerID    string          `json:"customer_id"`
	AverageAmount decimal.Decimal `json:"average_amount"`
}

func (r *Repository) AverageSpendPerCustomer(ctx context.Context) ([]CustomerSpend, error) {
	var rows []CustomerSpend
	result := r.db.WithContext(ctx).
		Model(&CloudService{}).
		Select("customer_id, AVG(amount) AS average_amount").
		Group("customer_id").
		Order("customer_id").
		Scan(&rows)
	return rows, result.Error
}
