package hookrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coregx/hookrelay/model"
)

// Failure codes recorded on deliveries and attempts that did not get an HTTP status.
const (
	FailureCodeTimeout              = "timeout"
	FailureCodeConnection           = "connection_error"
	FailureCodeSubscriptionNotFound = "subscription_not_found"
	FailureCodeEventNotFound        = "event_not_found"
)

const maxFailureMessage = 1000

// ClassifyOutcome turns the result of a webhook call into nil (delivered),
// *RetryableDeliveryError or *PermanentDeliveryError.
//
//	transport error, timeout → retryable
//	2xx                      → delivered
//	429, 5xx                 → retryable
//	any other status         → permanent
func ClassifyOutcome(resp DeliveryResponse, err error) error {
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return &RetryableDeliveryError{Code: FailureCodeTimeout, Err: err}
		}
		return &RetryableDeliveryError{Code: FailureCodeConnection, Err: err}
	}

	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return &RetryableDeliveryError{
			Code:       httpCode(code),
			StatusCode: code,
			Err:        fmt.Errorf("target responded with HTTP %d", code),
		}
	default:
		return &PermanentDeliveryError{
			Code:       httpCode(code),
			StatusCode: code,
			Err:        fmt.Errorf("target responded with HTTP %d", code),
		}
	}
}

func httpCode(status int) string {
	return fmt.Sprintf("http_%d", status)
}

// failureOf converts a classified delivery error into the record stored on the
// delivery and its attempt.
func failureOf(err error) model.Failure {
	var (
		permanent *PermanentDeliveryError
		retryable *RetryableDeliveryError
	)

	switch {
	case errors.As(err, &permanent):
		return model.Failure{
			Category:   model.ErrorCategoryPermanent,
			Code:       permanent.Code,
			Message:    truncate(errMessage(permanent.Err, permanent.Code)),
			StatusCode: permanent.StatusCode,
		}
	case errors.As(err, &retryable):
		return model.Failure{
			Category:   model.ErrorCategoryRetryable,
			Code:       retryable.Code,
			Message:    truncate(errMessage(retryable.Err, retryable.Code)),
			StatusCode: retryable.StatusCode,
		}
	default:
		return model.Failure{
			Category: model.ErrorCategoryRetryable,
			Code:     ErrCodeDelivery,
			Message:  truncate(errMessage(err, ErrCodeDelivery)),
		}
	}
}

func errMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}

func truncate(s string) string {
	return model.TruncateText(s, maxFailureMessage)
}
