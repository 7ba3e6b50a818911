package hookrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/hookrelay/model"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		wantNil   bool
		permanent bool
		code      string
	}{
		{name: "200", status: 200, wantNil: true},
		{name: "204", status: 204, wantNil: true},
		{name: "299", status: 299, wantNil: true},
		{name: "301 is not followed", status: 301, permanent: true, code: "http_301"},
		{name: "400", status: 400, permanent: true, code: "http_400"},
		{name: "404", status: 404, permanent: true, code: "http_404"},
		{name: "410", status: 410, permanent: true, code: "http_410"},
		{name: "429", status: 429, code: "http_429"},
		{name: "500", status: 500, code: "http_500"},
		{name: "503", status: 503, code: "http_503"},
		{name: "deadline", err: context.DeadlineExceeded, code: FailureCodeTimeout},
		{name: "wrapped deadline", err: fmt.Errorf("post: %w", context.DeadlineExceeded), code: FailureCodeTimeout},
		{name: "net timeout", err: &net.OpError{Op: "read", Err: timeoutError{}}, code: FailureCodeTimeout},
		{name: "connection refused", err: errors.New("connect: connection refused"), code: FailureCodeConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyOutcome(DeliveryResponse{StatusCode: tt.status}, tt.err)
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}

			if tt.permanent {
				var p *PermanentDeliveryError
				require.ErrorAs(t, got, &p)
				assert.Equal(t, tt.code, p.Code)
				assert.Equal(t, tt.status, p.StatusCode)
				return
			}

			var r *RetryableDeliveryError
			require.ErrorAs(t, got, &r)
			assert.Equal(t, tt.code, r.Code)
			assert.Equal(t, tt.status, r.StatusCode)
		})
	}
}

func TestFailureOf(t *testing.T) {
	t.Run("permanent", func(t *testing.T) {
		f := failureOf(ClassifyOutcome(DeliveryResponse{StatusCode: 422}, nil))
		assert.Equal(t, model.ErrorCategoryPermanent, f.Category)
		assert.Equal(t, "http_422", f.Code)
		assert.Equal(t, 422, f.StatusCode)
		assert.Contains(t, f.Message, "HTTP 422")
	})

	t.Run("exhausted unwraps to the last failure", func(t *testing.T) {
		last := ClassifyOutcome(DeliveryResponse{StatusCode: 502}, nil)
		f := failureOf(&AttemptsExhaustedError{Attempts: 5, Last: last})
		assert.Equal(t, model.ErrorCategoryRetryable, f.Category)
		assert.Equal(t, "http_502", f.Code)
		assert.Equal(t, 502, f.StatusCode)
	})

	t.Run("transport error without status", func(t *testing.T) {
		f := failureOf(ClassifyOutcome(DeliveryResponse{}, errors.New("connection reset by peer")))
		assert.Equal(t, FailureCodeConnection, f.Code)
		assert.Zero(t, f.StatusCode)
		assert.Equal(t, "connection reset by peer", f.Message)
	})

	t.Run("unclassified", func(t *testing.T) {
		f := failureOf(errors.New("boom"))
		assert.Equal(t, model.ErrorCategoryRetryable, f.Category)
		assert.Equal(t, ErrCodeDelivery, f.Code)
		assert.Equal(t, "boom", f.Message)
	})

	t.Run("long messages are truncated", func(t *testing.T) {
		f := failureOf(&PermanentDeliveryError{Code: "http_400", Err: errors.New(strings.Repeat("x", 5000))})
		assert.Len(t, f.Message, maxFailureMessage)
	})
}
