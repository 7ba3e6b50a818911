package model

import (
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxResponseBodySize bounds the response body kept on an attempt.
const MaxResponseBodySize = 10000

// AttemptOutcome is the classified result of one HTTP call.
type AttemptOutcome string

const (
	AttemptSuccess   AttemptOutcome = "success"
	AttemptRetryable AttemptOutcome = "retryable"
	AttemptPermanent AttemptOutcome = "permanent"
)

// Attempt is the audit record of a single delivery attempt. It is written in
// the same transaction as the ack that follows the attempt.
type Attempt struct {
	ID            string         `json:"id" db:"id"`
	DeliveryID    string         `json:"deliveryId" db:"delivery_id"`
	AttemptNumber int            `json:"attemptNumber" db:"attempt_number"`
	WorkerID      string         `json:"workerId" db:"worker_id"`
	Outcome       AttemptOutcome `json:"outcome" db:"outcome"`
	StatusCode    sql.NullInt64  `json:"statusCode" db:"status_code"`
	ErrorCode     sql.NullString `json:"errorCode" db:"error_code"`
	ErrorMessage  sql.NullString `json:"errorMessage" db:"error_message"`
	ResponseBody  sql.NullString `json:"responseBody" db:"response_body"`
	DurationMs    int64          `json:"durationMs" db:"duration_ms"`
	StartedAt     time.Time      `json:"startedAt" db:"started_at"`
	FinishedAt    time.Time      `json:"finishedAt" db:"finished_at"`
}

// TableName returns the database table name for Attempt.
func (a Attempt) TableName() string {
	return tablePrefix + "delivery_attempts"
}

// NewAttempt starts the record of an attempt on d.
func NewAttempt(d Delivery, workerID string, startedAt time.Time) Attempt {
	return Attempt{
		ID:            NewID(AttemptIDPrefix),
		DeliveryID:    d.ID,
		AttemptNumber: d.AttemptCount + 1,
		WorkerID:      workerID,
		StartedAt:     startedAt,
	}
}

// Succeed completes the attempt with a 2xx response.
func (a *Attempt) Succeed(statusCode int, body string, finishedAt time.Time) {
	a.Outcome = AttemptSuccess
	a.StatusCode = sql.NullInt64{Int64: int64(statusCode), Valid: true}
	a.finish(body, finishedAt)
}

// Fail completes the attempt with a classified failure.
func (a *Attempt) Fail(f Failure, body string, finishedAt time.Time) {
	a.Outcome = AttemptRetryable
	if f.Category == ErrorCategoryPermanent {
		a.Outcome = AttemptPermanent
	}
	if f.StatusCode > 0 {
		a.StatusCode = sql.NullInt64{Int64: int64(f.StatusCode), Valid: true}
	}
	a.ErrorCode = sql.NullString{String: f.Code, Valid: f.Code != ""}
	a.ErrorMessage = sql.NullString{String: f.Message, Valid: f.Message != ""}
	a.finish(body, finishedAt)
}

func (a *Attempt) finish(body string, finishedAt time.Time) {
	body = TruncateText(body, MaxResponseBodySize)
	a.ResponseBody = sql.NullString{String: body, Valid: body != ""}
	a.FinishedAt = finishedAt
	a.DurationMs = finishedAt.Sub(a.StartedAt).Milliseconds()
}

// TruncateText returns s as storable text of at most limit bytes. Invalid UTF-8
// and NUL bytes become U+FFFD, and the cut never splits a rune.
func TruncateText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "\uFFFD")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
