package relica

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coregx/relica"
	"github.com/google/uuid"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
)

// DeliveryRepository implements hookrelay.DeliveryQueue and hookrelay.FanOutStore.
//
// Single-row reads and writes go through Relica. Leasing, acks and fan-out
// touch several rows that must change together and run as database/sql
// transactions.
type DeliveryRepository struct {
	db      *relica.DB
	sqlDB   *sql.DB
	dialect dialect
}

// NewDeliveryRepository creates a new DeliveryRepository.
func NewDeliveryRepository(sqlDB *sql.DB, driverName string) *DeliveryRepository {
	return &DeliveryRepository{
		db:      relica.WrapDB(sqlDB, driverName),
		sqlDB:   sqlDB,
		dialect: dialect(driverName),
	}
}

// Enqueue stores a new pending delivery.
func (r *DeliveryRepository) Enqueue(ctx context.Context, d *model.Delivery) error {
	err := r.db.WithContext(ctx).Model(d).Table(deliveriesTable).Insert()
	if isUniqueViolation(err) {
		return hookrelay.ErrDuplicate
	}
	if err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to enqueue delivery", err)
	}
	return nil
}

// Load retrieves a delivery by ID.
func (r *DeliveryRepository) Load(ctx context.Context, id string) (model.Delivery, error) {
	var d model.Delivery

	err := r.db.WithContext(ctx).Select("*").
		From(deliveriesTable).
		Where("id = ?", id).
		One(&d)

	if errors.Is(err, sql.ErrNoRows) {
		return d, hookrelay.ErrNoData
	}
	if err != nil {
		return d, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to load delivery", err)
	}

	return d, nil
}

// FindByEvent retrieves all deliveries of an event.
func (r *DeliveryRepository) FindByEvent(ctx context.Context, eventID string) ([]model.Delivery, error) {
	var deliveries []model.Delivery

	err := r.db.WithContext(ctx).Select("*").
		From(deliveriesTable).
		Where("event_id = ?", eventID).
		OrderBy("created_at ASC").
		All(&deliveries)

	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to find deliveries by event", err)
	}

	return deliveries, nil
}

// ListAttempts retrieves the attempt history of a delivery, oldest first.
func (r *DeliveryRepository) ListAttempts(ctx context.Context, deliveryID string) ([]model.Attempt, error) {
	var attempts []model.Attempt

	err := r.db.WithContext(ctx).Select("*").
		From(attemptsTable).
		Where("delivery_id = ?", deliveryID).
		OrderBy("started_at ASC").
		All(&attempts)

	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to list attempts", err)
	}

	return attempts, nil
}

// Lease claims up to limit due deliveries for workerID.
//
// Candidates are read with SKIP LOCKED where the database supports it, and
// each one is claimed with a conditional update on status=pending, so a row
// taken by a concurrent caller in between is skipped rather than leased twice.
func (r *DeliveryRepository) Lease(ctx context.Context, workerID string, now time.Time, leaseDuration time.Duration, limit int) ([]model.Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}

	var leased []model.Delivery
	err := withTx(ctx, r.sqlDB, func(tx *sql.Tx) error {
		ids, err := r.dueIDs(ctx, tx, now, limit)
		if err != nil {
			return err
		}

		expiry := now.Add(leaseDuration)
		claim := r.dialect.rebind("UPDATE " + deliveriesTable +
			" SET status = ?, lease_expiry = ?, leased_by = ?, lease_token = ?, updated_at = ?" +
			" WHERE id = ? AND status = ?")

		claimed := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, claim,
				model.DeliveryStatusLeased, expiry, workerID, uuid.NewString(), now,
				id, model.DeliveryStatusPending)
			if err != nil {
				return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to lease delivery", err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				claimed = append(claimed, id)
			}
		}
		if len(claimed) == 0 {
			return nil
		}

		rows, err := tx.QueryContext(ctx, r.dialect.rebind("SELECT "+deliveryColumns+" FROM "+deliveriesTable+
			" WHERE id IN ("+placeholders(len(claimed))+") ORDER BY next_attempt_at, id"), claimed...)
		if err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to read leased deliveries", err)
		}
		leased, err = scanDeliveries(rows)
		if err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to scan leased deliveries", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return leased, nil
}

func (r *DeliveryRepository) dueIDs(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]string, error) {
	rows, err := tx.QueryContext(ctx, r.dialect.rebind("SELECT id FROM "+deliveriesTable+
		" WHERE status = ? AND next_attempt_at <= ? ORDER BY next_attempt_at, id LIMIT ?"+r.dialect.skipLocked()),
		model.DeliveryStatusPending, now, limit)
	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to find due deliveries", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to scan delivery id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to find due deliveries", err)
	}
	return ids, nil
}

// AckSuccess marks a leased delivery as succeeded.
func (r *DeliveryRepository) AckSuccess(ctx context.Context, d model.Delivery, attempt model.Attempt) error {
	at := attempt.FinishedAt
	return r.ack(ctx, d, attempt, true,
		"status = ?, last_attempt_at = ?, response_code = ?, completed_at = ?",
		model.DeliveryStatusSucceeded, at, attempt.StatusCode, at)
}

// AckRetry returns a leased delivery to pending and counts the failed attempt.
func (r *DeliveryRepository) AckRetry(ctx context.Context, d model.Delivery, nextAttemptAt time.Time, f model.Failure, attempt model.Attempt) error {
	return r.ack(ctx, d, attempt, false,
		"status = ?, attempt_count = attempt_count + 1, last_attempt_at = ?, next_attempt_at = ?,"+
			" last_error_category = ?, last_error_code = ?, last_error_message = ?, response_code = ?",
		model.DeliveryStatusPending, attempt.FinishedAt, nextAttemptAt,
		nullString(string(f.Category)), nullString(f.Code), nullString(f.Message), nullStatus(f.StatusCode))
}

// AckDeadLetter moves a leased delivery to the dead-letter queue.
func (r *DeliveryRepository) AckDeadLetter(ctx context.Context, d model.Delivery, f model.Failure, reason model.DeadLetterReason, attempt model.Attempt) error {
	counted := 0
	if reason == model.DeadLetterAttemptsExhausted {
		counted = 1
	}
	at := attempt.FinishedAt
	return r.ack(ctx, d, attempt, true,
		"status = ?, attempt_count = attempt_count + ?, last_attempt_at = ?,"+
			" last_error_category = ?, last_error_code = ?, last_error_message = ?, response_code = ?,"+
			" dead_letter_reason = ?, dead_lettered_at = ?, completed_at = ?",
		model.DeliveryStatusDeadLetter, counted, at,
		nullString(string(f.Category)), nullString(f.Code), nullString(f.Message), nullStatus(f.StatusCode),
		string(reason), at, at)
}

// ack applies set to the delivery under its lease token, records the attempt
// and, for terminal outcomes, settles the event once no open delivery remains.
func (r *DeliveryRepository) ack(ctx context.Context, d model.Delivery, attempt model.Attempt, terminal bool, set string, args ...interface{}) error {
	at := attempt.FinishedAt
	args = append(args, at, d.ID, model.DeliveryStatusLeased, d.LeaseToken)

	return withTx(ctx, r.sqlDB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.dialect.rebind("UPDATE "+deliveriesTable+" SET "+set+
			", lease_expiry = NULL, leased_by = NULL, lease_token = NULL, updated_at = ?"+
			" WHERE id = ? AND status = ? AND lease_token = ?"), args...)
		if err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to ack delivery", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return hookrelay.ErrLeaseLost
		}

		if _, err := tx.ExecContext(ctx, r.dialect.rebind("INSERT INTO "+attemptsTable+" ("+attemptColumns+
			") VALUES ("+placeholders(12)+")"), attemptValues(&attempt)...); err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to record attempt", err)
		}

		if !terminal {
			return nil
		}
		_, err = tx.ExecContext(ctx, r.dialect.rebind("UPDATE "+eventsTable+" SET status = ?, updated_at = ?"+
			" WHERE id = ? AND status = ? AND NOT EXISTS (SELECT 1 FROM "+deliveriesTable+
			" WHERE event_id = ? AND status IN (?, ?))"),
			model.EventStatusExhausted, at, d.EventID, model.EventStatusMatched,
			d.EventID, model.DeliveryStatusPending, model.DeliveryStatusLeased)
		if err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to settle event", err)
		}
		return nil
	})
}

// ReclaimExpired returns deliveries whose lease expired before now to pending.
func (r *DeliveryRepository) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.WithContext(ctx).Update(deliveriesTable).
		Set(map[string]interface{}{
			"status":          model.DeliveryStatusPending,
			"next_attempt_at": now,
			"lease_expiry":    nil,
			"leased_by":       nil,
			"lease_token":     nil,
			"updated_at":      now,
		}).
		Where("status = ? AND lease_expiry < ?", model.DeliveryStatusLeased, now).
		Execute()

	if err != nil {
		return 0, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to reclaim expired leases", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to count reclaimed leases", err)
	}
	return int(n), nil
}

// FanOut creates the deliveries of an accepted event and moves it out of
// accepted in one transaction.
func (r *DeliveryRepository) FanOut(ctx context.Context, eventID string, now time.Time, plan hookrelay.FanOutPlanner) (hookrelay.FanOutResult, error) {
	var result hookrelay.FanOutResult

	err := withTx(ctx, r.sqlDB, func(tx *sql.Tx) error {
		event, err := scanEvent(tx.QueryRowContext(ctx, r.dialect.rebind("SELECT "+eventColumns+" FROM "+eventsTable+
			" WHERE id = ?"+r.dialect.forUpdate()), eventID))
		if errors.Is(err, sql.ErrNoRows) {
			return hookrelay.ErrNoData
		}
		if err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to lock event", err)
		}
		result.Event = event
		if event.Status != model.EventStatusAccepted {
			result.AlreadyDispatched = true
			return nil
		}

		active, err := r.activeSubscriptions(ctx, tx)
		if err != nil {
			return err
		}

		deliveries := plan(event, active)
		insert := r.dialect.rebind("INSERT INTO " + deliveriesTable + " (" + deliveryColumns +
			") VALUES (" + placeholders(deliveryColumnCount) + ")")
		for i := range deliveries {
			if _, err := tx.ExecContext(ctx, insert, deliveryValues(&deliveries[i])...); err != nil {
				return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to insert delivery", err)
			}
		}

		status := model.EventStatusMatched
		if len(deliveries) == 0 {
			status = model.EventStatusExhausted
		}
		res, err := tx.ExecContext(ctx, r.dialect.rebind("UPDATE "+eventsTable+
			" SET status = ?, delivery_count = ?, updated_at = ? WHERE id = ? AND status = ?"),
			status, len(deliveries), now, eventID, model.EventStatusAccepted)
		if err != nil {
			return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to update event status", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return errAlreadyDispatched
		}

		result.Event.Status = status
		result.Event.DeliveryCount = len(deliveries)
		result.Event.UpdatedAt = now
		result.Deliveries = deliveries
		return nil
	})

	if errors.Is(err, errAlreadyDispatched) {
		return hookrelay.FanOutResult{Event: result.Event, AlreadyDispatched: true}, nil
	}
	if err != nil {
		return hookrelay.FanOutResult{}, err
	}
	return result, nil
}

// errAlreadyDispatched rolls back a fan-out that lost the race for the event.
var errAlreadyDispatched = errors.New("event already dispatched")

func (r *DeliveryRepository) activeSubscriptions(ctx context.Context, tx *sql.Tx) ([]model.Subscription, error) {
	rows, err := tx.QueryContext(ctx, r.dialect.rebind("SELECT "+subscriptionColumns+" FROM "+subscriptionsTable+
		" WHERE status = ? ORDER BY created_at, id"), model.SubscriptionStatusActive)
	if err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to load active subscriptions", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to scan subscription", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to load active subscriptions", err)
	}
	return subs, nil
}
