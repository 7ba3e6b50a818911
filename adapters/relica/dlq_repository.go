package relica

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/coregx/relica"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
)

// DLQRepository implements hookrelay.DLQRepository over dead-lettered rows of
// the deliveries table.
type DLQRepository struct {
	db      *relica.DB
	sqlDB   *sql.DB
	dialect dialect
}

// NewDLQRepository creates a new DLQRepository.
func NewDLQRepository(sqlDB *sql.DB, driverName string) *DLQRepository {
	return &DLQRepository{
		db:      relica.WrapDB(sqlDB, driverName),
		sqlDB:   sqlDB,
		dialect: dialect(driverName),
	}
}

// List retrieves dead-lettered deliveries matching the filter, newest first.
func (r *DLQRepository) List(ctx context.Context, f model.DLQFilter) ([]model.Delivery, error) {
	f = f.Normalized()

	conds := []string{"status = ?"}
	args := []interface{}{model.DeliveryStatusDeadLetter}
	if f.SubscriptionID != "" {
		conds = append(conds, "subscription_id = ?")
		args = append(args, f.SubscriptionID)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Reason != "" {
		conds = append(conds, "dead_letter_reason = ?")
		args = append(args, string(f.Reason))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "dead_lettered_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "dead_lettered_at < ?")
		args = append(args, f.Until.UTC())
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := r.sqlDB.QueryContext(ctx, r.dialect.rebind("SELECT "+deliveryColumns+" FROM "+deliveriesTable+
		" WHERE "+strings.Join(conds, " AND ")+" ORDER BY dead_lettered_at DESC, id DESC LIMIT ? OFFSET ?"), args...)
	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to list dead letters", err)
	}
	items, err := scanDeliveries(rows)
	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to scan dead letters", err)
	}
	if items == nil {
		items = []model.Delivery{}
	}
	return items, nil
}

// Stats aggregates the dead-letter queue.
func (r *DLQRepository) Stats(ctx context.Context) (model.DLQStats, error) {
	stats := model.NewDLQStats()

	var total int64
	err := r.db.WithContext(ctx).Select("COUNT(*)").
		From(deliveriesTable).
		Where("status = ?", model.DeliveryStatusDeadLetter).
		One(&total)
	if err != nil {
		return stats, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to count dead letters", err)
	}
	stats.Total = int(total)
	if total == 0 {
		return stats, nil
	}

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"subscription_id", stats.BySubscription},
		{"last_error_category", stats.ByErrorCategory},
		{"dead_letter_reason", stats.ByReason},
	}
	for _, g := range groups {
		if err := r.countBy(ctx, g.column, g.into); err != nil {
			return stats, err
		}
	}

	if stats.Oldest, err = r.edge(ctx, "ASC"); err != nil {
		return stats, err
	}
	if stats.Newest, err = r.edge(ctx, "DESC"); err != nil {
		return stats, err
	}

	return stats, nil
}

func (r *DLQRepository) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := r.sqlDB.QueryContext(ctx, r.dialect.rebind("SELECT "+column+", COUNT(*) FROM "+deliveriesTable+
		" WHERE status = ? GROUP BY "+column), model.DeliveryStatusDeadLetter)
	if err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to group dead letters by "+column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   sql.NullString
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to scan dead letter group", err)
		}
		name := key.String
		if !key.Valid {
			name = "unknown"
		}
		into[name] += count
	}
	if err := rows.Err(); err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to group dead letters by "+column, err)
	}
	return nil
}

// edge reads the first dead_lettered_at in the given order. The column is
// selected directly rather than through MIN/MAX so drivers keep its type.
func (r *DLQRepository) edge(ctx context.Context, order string) (*time.Time, error) {
	var at sql.NullTime
	err := r.sqlDB.QueryRowContext(ctx, r.dialect.rebind("SELECT dead_lettered_at FROM "+deliveriesTable+
		" WHERE status = ? AND dead_lettered_at IS NOT NULL ORDER BY dead_lettered_at "+order+" LIMIT 1"),
		model.DeliveryStatusDeadLetter).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !at.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to read dead letter age", err)
	}
	t := at.Time.UTC()
	return &t, nil
}

// Replay resets a dead-lettered delivery to pending with a fresh snapshot of
// sub and moves its event back to matched.
func (r *DLQRepository) Replay(ctx context.Context, id string, sub model.Subscription, now time.Time) (model.Delivery, error) {
	var replayed model.Delivery

	err := withTx(ctx, r.sqlDB, func(tx *sql.Tx) error {
		strategy := sub.RetryStrategy()
		res, err := tx.ExecContext(ctx, r.dialect.rebind("UPDATE "+deliveriesTable+" SET"+
			" status = ?, attempt_count = 0, next_attempt_at = ?, target_url = ?,"+
			" max_attempts = ?, base_backoff_ms = ?, max_backoff_ms = ?, jitter = ?,"+
			" last_error_category = NULL, last_error_code = NULL, last_error_message = NULL, response_code = NULL,"+
			" dead_letter_reason = NULL, dead_lettered_at = NULL, completed_at = NULL,"+
			" lease_expiry = NULL, leased_by = NULL, lease_token = NULL,"+
			" replay_count = replay_count + 1, updated_at = ?"+
			" WHERE id = ? AND status = ?"),
			model.DeliveryStatusPending, now, sub.TargetURL,
			strategy.MaxAttempts, strategy.BaseBackoff.Milliseconds(), strategy.MaxBackoff.Milliseconds(), strategy.Jitter,
			now, id, model.DeliveryStatusDeadLetter)
		if err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to replay delivery", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return hookrelay.ErrNoData
		}

		replayed, err = scanDelivery(tx.QueryRowContext(ctx, r.dialect.rebind("SELECT "+deliveryColumns+
			" FROM "+deliveriesTable+" WHERE id = ?"), id))
		if err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to read replayed delivery", err)
		}

		if _, err := tx.ExecContext(ctx, r.dialect.rebind("UPDATE "+eventsTable+
			" SET status = ?, updated_at = ? WHERE id = ? AND status = ?"),
			model.EventStatusMatched, now, replayed.EventID, model.EventStatusExhausted); err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to reopen event", err)
		}
		return nil
	})
	if err != nil {
		return model.Delivery{}, err
	}

	return replayed, nil
}
