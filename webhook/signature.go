package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureVersion prefixes every signature in the X-Webhook-Signature header.
const SignatureVersion = "v1"

// DefaultTolerance is the accepted clock skew between sender and receiver.
const DefaultTolerance = 5 * time.Minute

// Verification errors.
var (
	ErrInvalidTimestamp       = errors.New("webhook: invalid timestamp")
	ErrTimestampOutsideWindow = errors.New("webhook: timestamp outside allowed window")
	ErrInvalidSignature       = errors.New("webhook: invalid signature")
)

// Sign returns the X-Webhook-Signature value for body sent at timestamp:
// "v1=" followed by hex(HMAC-SHA256(secret, "<timestamp>.<body>")).
func Sign(secret, timestamp string, body []byte) string {
	return SignatureVersion + "=" + hex.EncodeToString(mac(secret, timestamp, body))
}

// Verify checks a received webhook. timestamp and signature are the raw
// X-Webhook-Timestamp and X-Webhook-Signature header values. Requests older or
// newer than tolerance relative to now are rejected.
func Verify(secret, timestamp string, body []byte, signature string, tolerance time.Duration, now time.Time) error {
	timestamp = strings.TrimSpace(timestamp)
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	sent := time.Unix(unix, 0)
	if tolerance > 0 && (sent.Before(now.Add(-tolerance)) || sent.After(now.Add(tolerance))) {
		return ErrTimestampOutsideWindow
	}

	value, ok := strings.CutPrefix(strings.TrimSpace(signature), SignatureVersion+"=")
	if !ok {
		return ErrInvalidSignature
	}
	provided, err := hex.DecodeString(value)
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(provided, mac(secret, timestamp, body)) {
		return ErrInvalidSignature
	}
	return nil
}

func mac(secret, timestamp string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(timestamp))
	_, _ = h.Write([]byte{'.'})
	_, _ = h.Write(body)
	return h.Sum(nil)
}
