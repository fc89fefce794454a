package cloudservice

import (
	"context"
	"time"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) FindByCustomer(ctx context.Context, customerID string, limit, offset int) ([]CloudService, error) {
	return s.repo.FindByCustomer(ctx, customerID, limit, offset)
}

// ActiveServicesOlderThan returns active subscriptions activated at least the
// given number of years ago.
func (s *Service) ActiveServicesOlderThan(ctx context.Context, years int) ([]CloudService, error) {
	cutoff := time.Now().UTC().AddDate(-years, 0, 0)
	return s.repo.FindActiveOlderThan(ctx, cutoff)
}

// CustomersWithExpiredMoreThan groups the expired subscriptions of offending
// customers by customer id, ready for one aggregated notification each.
func (s *Service) CustomersWithExpiredMoreThan(ctx context.Context, threshold int) (map[string][]ExpiredService, error) {
	rows, err := s.repo.FindCustomersWithExpiredMoreThan(ctx, threshold)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]ExpiredService)
	for _, row := range rows {
		grouped[row.CustomerID] = append(grouped[row.CustomerID], row)
	}
	return grouped, nil
}

type Summary struct {
	ActiveByType []TypeCount     `json:"active_by_type"`
	AverageSpend []CustomerSpend `json:"average_spend_per_customer"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	byType, err := s.repo.CountActiveByType(ctx)
	if err != nil {
		return nil, err
	}
	spend, err := s.repo.AverageSpendPerCustomer(ctx)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ActiveByType: byType,
		AverageSpend: spend,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}
