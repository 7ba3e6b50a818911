package relica

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
)

var (
	eventsTable        = model.Event{}.TableName()
	subscriptionsTable = model.Subscription{}.TableName()
	deliveriesTable    = model.Delivery{}.TableName()
	attemptsTable      = model.Attempt{}.TableName()
)

// dialect renders the hand-written statements used inside transactions.
type dialect string

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d != hookrelay.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate returns the row lock suffix. SQLite locks the whole database
// for a write transaction (_txlock=immediate), so it needs none.
func (d dialect) forUpdate() string {
	if d == hookrelay.DriverSQLite3 {
		return ""
	}
	return " FOR UPDATE"
}

func (d dialect) skipLocked() string {
	if d == hookrelay.DriverSQLite3 {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// isUniqueViolation reports whether err comes from a unique index.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	// Builders that flatten driver errors into strings.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}

// withTx runs fn in a transaction and commits when it returns nil.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return hookrelay.NewErrorWithCause(hookrelay.ErrCodeDatabase, "failed to commit transaction", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const eventColumns = "id, source, event_type, idempotency_key, payload, status, delivery_count, created_at, updated_at"

func scanEvent(row rowScanner) (model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Source, &e.EventType, &e.IdempotencyKey, &e.Payload,
		&e.Status, &e.DeliveryCount, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

const subscriptionColumns = "id, name, description, target_url, event_filter, filter_kind, filter_value, status, " +
	"max_attempts, base_backoff_ms, max_backoff_ms, jitter, timeout_ms, signing_secret, custom_headers, created_at, updated_at"

func scanSubscription(row rowScanner) (model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.TargetURL, &s.EventFilter, &s.FilterKind, &s.FilterValue,
		&s.Status, &s.MaxAttempts, &s.BaseBackoffMs, &s.MaxBackoffMs, &s.Jitter, &s.TimeoutMs,
		&s.SigningSecret, &s.CustomHeaders, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

const deliveryColumns = "id, event_id, subscription_id, event_type, target_url, status, attempt_count, " +
	"max_attempts, base_backoff_ms, max_backoff_ms, jitter, last_attempt_at, next_attempt_at, " +
	"lease_expiry, leased_by, lease_token, last_error_category, last_error_code, last_error_message, " +
	"response_code, dead_letter_reason, dead_lettered_at, completed_at, replay_count, created_at, updated_at"

const deliveryColumnCount = 26

func deliveryValues(d *model.Delivery) []interface{} {
	return []interface{}{
		d.ID, d.EventID, d.SubscriptionID, d.EventType, d.TargetURL, d.Status, d.AttemptCount,
		d.MaxAttempts, d.BaseBackoffMs, d.MaxBackoffMs, d.Jitter, d.LastAttemptAt, d.NextAttemptAt,
		d.LeaseExpiry, d.LeasedBy, d.LeaseToken, d.LastErrorCategory, d.LastErrorCode, d.LastErrorMessage,
		d.ResponseCode, d.DeadLetterReason, d.DeadLetteredAt, d.CompletedAt, d.ReplayCount, d.CreatedAt, d.UpdatedAt,
	}
}

func scanDelivery(row rowScanner) (model.Delivery, error) {
	var d model.Delivery
	err := row.Scan(&d.ID, &d.EventID, &d.SubscriptionID, &d.EventType, &d.TargetURL, &d.Status, &d.AttemptCount,
		&d.MaxAttempts, &d.BaseBackoffMs, &d.MaxBackoffMs, &d.Jitter, &d.LastAttemptAt, &d.NextAttemptAt,
		&d.LeaseExpiry, &d.LeasedBy, &d.LeaseToken, &d.LastErrorCategory, &d.LastErrorCode, &d.LastErrorMessage,
		&d.ResponseCode, &d.DeadLetterReason, &d.DeadLetteredAt, &d.CompletedAt, &d.ReplayCount, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func scanDeliveries(rows *sql.Rows) ([]model.Delivery, error) {
	defer rows.Close()
	var out []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const attemptColumns = "id, delivery_id, attempt_number, worker_id, outcome, status_code, error_code, " +
	"error_message, response_body, duration_ms, started_at, finished_at"

func attemptValues(a *model.Attempt) []interface{} {
	return []interface{}{
		a.ID, a.DeliveryID, a.AttemptNumber, a.WorkerID, a.Outcome, a.StatusCode, a.ErrorCode,
		a.ErrorMessage, a.ResponseBody, a.DurationMs, a.StartedAt, a.FinishedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStatus(code int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(code), Valid: code > 0}
}
