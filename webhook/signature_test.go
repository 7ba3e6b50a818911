package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	sig := Sign("secret", "1767268800", []byte(`{"a":1}`))

	assert.Regexp(t, `^v1=[0-9a-f]{64}$`, sig)
	assert.Equal(t, sig, Sign("secret", "1767268800", []byte(`{"a":1}`)))
	assert.NotEqual(t, sig, Sign("other", "1767268800", []byte(`{"a":1}`)))
	assert.NotEqual(t, sig, Sign("secret", "1767268801", []byte(`{"a":1}`)))
}

func TestVerify(t *testing.T) {
	now := time.Unix(1767268800, 0)
	body := []byte(`{"id":"evt_1"}`)
	ts := "1767268800"
	valid := Sign("secret", ts, body)

	tests := []struct {
		name      string
		secret    string
		timestamp string
		body      []byte
		signature string
		now       time.Time
		wantErr   error
	}{
		{name: "valid", secret: "secret", timestamp: ts, body: body, signature: valid, now: now},
		{name: "within tolerance", secret: "secret", timestamp: ts, body: body, signature: valid, now: now.Add(4 * time.Minute)},
		{name: "too old", secret: "secret", timestamp: ts, body: body, signature: valid, now: now.Add(6 * time.Minute), wantErr: ErrTimestampOutsideWindow},
		{name: "from the future", secret: "secret", timestamp: ts, body: body, signature: valid, now: now.Add(-6 * time.Minute), wantErr: ErrTimestampOutsideWindow},
		{name: "bad timestamp", secret: "secret", timestamp: "yesterday", body: body, signature: valid, now: now, wantErr: ErrInvalidTimestamp},
		{name: "wrong secret", secret: "other", timestamp: ts, body: body, signature: valid, now: now, wantErr: ErrInvalidSignature},
		{name: "tampered body", secret: "secret", timestamp: ts, body: []byte(`{"id":"evt_2"}`), signature: valid, now: now, wantErr: ErrInvalidSignature},
		{name: "missing version", secret: "secret", timestamp: ts, body: body, signature: valid[3:], now: now, wantErr: ErrInvalidSignature},
		{name: "not hex", secret: "secret", timestamp: ts, body: body, signature: "v1=zz", now: now, wantErr: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.secret, tt.timestamp, tt.body, tt.signature, DefaultTolerance, tt.now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
