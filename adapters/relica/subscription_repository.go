package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/relica"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
)

// SubscriptionRepository implements hookrelay.SubscriptionRepository using Relica ORM.
type SubscriptionRepository struct {
	db *relica.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(sqlDB *sql.DB, driverName string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName)}
}

// Load retrieves a subscription by ID.
func (r *SubscriptionRepository) Load(ctx context.Context, id string) (model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Select("*").From(subscriptionsTable).Where("id = ?", id).One(&sub)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, hookrelay.ErrNoData
	}
	if err != nil {
		return sub, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to load subscription", err)
	}
	return sub, nil
}

// Insert stores a new subscription.
func (r *SubscriptionRepository) Insert(ctx context.Context, s *model.Subscription) error {
	err := r.db.WithContext(ctx).Model(s).Table(subscriptionsTable).Insert()
	if isUniqueViolation(err) {
		return hookrelay.ErrDuplicate
	}
	if err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to insert subscription", err)
	}
	return nil
}

// Update overwrites a stored subscription.
func (r *SubscriptionRepository) Update(ctx context.Context, s *model.Subscription) error {
	if _, err := r.Load(ctx, s.ID); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Model(s).Table(subscriptionsTable).Update()
	if err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to update subscription", err)
	}
	return nil
}

// Delete removes a subscription. Its deliveries keep their snapshot and are
// dead-lettered by the workers if still pending.
func (r *SubscriptionRepository) Delete(ctx context.Context, id string) error {
	sub, err := r.Load(ctx, id)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Model(&sub).Table(subscriptionsTable).Delete()
	if err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to delete subscription", err)
	}
	return nil
}

// List retrieves subscriptions matching the query, oldest first.
func (r *SubscriptionRepository) List(ctx context.Context, q model.SubscriptionQuery) ([]model.Subscription, error) {
	var subs []model.Subscription
	query := r.db.WithContext(ctx).Select("*").From(subscriptionsTable)
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	query = query.OrderBy("created_at ASC")
	if q.Limit > 0 {
		query = query.Limit(int64(q.Limit))
	}
	err := query.All(&subs)
	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to list subscriptions", err)
	}
	return subs, nil
}
