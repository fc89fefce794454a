package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudmon/platform/pkg/cloudservice"
	"github.com/cloudmon/platform/pkg/common/logger"
)

// ServiceSource is the slice of the subscription domain the rules query.
type ServiceSource interface {
	ActiveServicesOlderThan(ctx context.Context, years int) ([]cloudservice.CloudService, error)
	CustomersWithExpiredMoreThan(ctx context.Context, threshold int) (map[string][]cloudservice.ExpiredService, error)
}

// Publisher enqueues a notification message on the notification topic keyed
// by customer, so per-customer ordering is preserved.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Message) error
}

// Rule inspects the subscription data and queues notifications for whatever
// it finds. Rules never deliver directly; delivery happens when the queued
// message is consumed.
type Rule interface {
	Description() string
	Evaluate(ctx context.Context) error
}

// ActiveServiceOlderThanRule emails marketing about every subscription that
// has been ACTIVE longer than the configured number of years.
type ActiveServiceOlderThanRule struct {
	source    ServiceSource
	publisher Publisher
	years     int
	email     EmailTemplate
	now       func() time.Time
}

func NewActiveServiceOlderThanRule(source ServiceSource, publisher Publisher, cfg RulesConfig) *ActiveServiceOlderThanRule {
	return &ActiveServiceOlderThanRule{
		source:    source,
		publisher: publisher,
		years:     cfg.ActiveServiceOlderThan.Years,
		email:     cfg.ActiveServiceOlderThan.Email,
		now:       time.Now,
	}
}

func (r *ActiveServiceOlderThanRule) Description() string {
	return fmt.Sprintf("Notify marketing about services active for more than %d years", r.years)
}

func (r *ActiveServiceOlderThanRule) Evaluate(ctx context.Context) error {
	services, err := r.source.ActiveServicesOlderThan(ctx, r.years)
	if err != nil {
		return fmt.Errorf("querying long-running active services: %w", err)
	}
	logger.Log.WithFields(logrus.Fields{
		"count": len(services),
		"years": r.years,
	}).Info("found long-running active services")

	for _, svc := range services {
		msg := Message{
			Type:       TypeEmail,
			CustomerID: svc.CustomerID,
			Sender:     r.email.Sender,
			Recipient:  r.email.Recipient,
			Subject:    r.email.Subject,
			Content:    r.emailContent(svc),
			CreatedAt:  r.now().UTC(),
		}
		if err := r.publisher.Publish(ctx, svc.CustomerID, msg); err != nil {
			logger.Log.WithError(err).WithFields(logrus.Fields{
				"customer_id":  svc.CustomerID,
				"service_type": svc.ServiceType,
			}).Error("failed to queue upselling notification")
		}
	}
	return nil
}

func (r *ActiveServiceOlderThanRule) emailContent(svc cloudservice.CloudService) string {
	if strings.TrimSpace(r.email.Content) != "" {
		return r.email.Content
	}
	return fmt.Sprintf("Customer `%s` has service `%s` active since %s. Consider contacting for upselling opportunities.",
		svc.CustomerID, svc.ServiceType, svc.ActivationDate.Format("2006-01-02"))
}

// ExpiredServicesRule raises one aggregated alert per customer holding more
// than the allowed number of expired subscriptions.
type ExpiredServicesRule struct {
	source     ServiceSource
	publisher  Publisher
	threshold  int
	alert      AlertTemplate
	alertTopic string
	now        func() time.Time
}

func NewExpiredServicesRule(source ServiceSource, publisher Publisher, cfg RulesConfig, alertTopic string) *ExpiredServicesRule {
	return &ExpiredServicesRule{
		source:     source,
		publisher:  publisher,
		threshold:  cfg.ExpiredServices.MaxExpiredServicesCount,
		alert:      cfg.ExpiredServices.Alert,
		alertTopic: alertTopic,
		now:        time.Now,
	}
}

func (r *ExpiredServicesRule) Description() string {
	return fmt.Sprintf("Notify customers with more than %d expired services", r.threshold)
}

func (r *ExpiredServicesRule) Evaluate(ctx context.Context) error {
	grouped, err := r.source.CustomersWithExpiredMoreThan(ctx, r.threshold)
	if err != nil {
		return fmt.Errorf("querying customers with expired services: %w", err)
	}
	if len(grouped) == 0 {
		logger.Log.WithField("threshold", r.threshold).Info("found 0 customers with too many expired services")
		return nil
	}
	logger.Log.WithFields(logrus.Fields{
		"count":     len(grouped),
		"threshold": r.threshold,
	}).Info("found customers with too many expired services")

	// Deterministic order keeps retries and logs stable.
	customers := make([]string, 0, len(grouped))
	for customerID := range grouped {
		customers = append(customers, customerID)
	}
	sort.Strings(customers)

	for _, customerID := range customers {
		expired := grouped[customerID]
		msg := Message{
			Type:       TypeKafka,
			CustomerID: customerID,
			Sender:     r.alert.Sender,
			Recipient:  r.alertTopic,
			Subject:    r.alert.Subject,
			Content:    r.alertContent(customerID, expired),
			CreatedAt:  r.now().UTC(),
		}
		if err := r.publisher.Publish(ctx, customerID, msg); err != nil {
			logger.Log.WithError(err).WithField("customer_id", customerID).
				Error("failed to queue expired services alert")
		}
	}
	return nil
}

func (r *ExpiredServicesRule) alertContent(customerID string, expired []cloudservice.ExpiredService) string {
	summary := "No details available"
	if len(expired) > 0 {
		parts := make([]string, len(expired))
		for i, e := range expired {
			parts[i] = fmt.Sprintf("service `%s` expiration date: `%s`", e.ServiceType, e.ExpirationDate.Format("2006-01-02"))
		}
		summary = strings.Join(parts, ", ")
	}
	return fmt.Sprintf("Customer %s has %d expired services: %s", customerID, len(expired), summary)
}
