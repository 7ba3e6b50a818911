// Package webhook delivers events to subscription targets over HTTP and
// provides the signature helpers receivers use to authenticate them.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

// Header names set on every delivery.
const (
	HeaderID        = "X-Webhook-ID"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"
)

// Client implements hookrelay.DeliveryGateway over net/http.
//
// The call deadline comes from the context passed to Deliver; the worker pool
// sets it from the subscription timeout.
type Client struct {
	httpClient *http.Client
	userAgent  string
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithClock overrides the time source used for X-Webhook-Timestamp.
func WithClock(now func() time.Time) ClientOption {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

// NewClient creates a webhook client. Redirects are not followed: a 3xx answer
// is returned to the caller and classified as a permanent failure.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: "hookrelay/" + Version,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver POSTs the event to the delivery's target URL.
//
// Any HTTP answer is returned as a response, whatever its status. An error is
// returned only when no answer was received.
func (c *Client) Deliver(ctx context.Context, req hookrelay.DeliveryRequest) (hookrelay.DeliveryResponse, error) {
	body, err := json.Marshal(model.NewWebhookPayload(req.Event, req.Delivery))
	if err != nil {
		return hookrelay.DeliveryResponse{}, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Delivery.TargetURL, bytes.NewReader(body))
	if err != nil {
		return hookrelay.DeliveryResponse{}, fmt.Errorf("failed to build webhook request: %w", err)
	}

	// Custom headers first so the transport headers below always win.
	for name, value := range req.Subscription.CustomHeaders {
		httpReq.Header.Set(name, value)
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(HeaderID, req.Delivery.ID)
	httpReq.Header.Set(HeaderEvent, req.Event.EventType)
	httpReq.Header.Set(HeaderTimestamp, timestamp)
	httpReq.Header.Set(HeaderSignature, Sign(req.Subscription.SigningSecret, timestamp, body))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return hookrelay.DeliveryResponse{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, model.MaxResponseBodySize))
	if err != nil {
		// The status line arrived; a broken body does not change the outcome.
		respBody = nil
	}
	// Drain the rest so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	return hookrelay.DeliveryResponse{
		StatusCode: resp.StatusCode,
		Body:       model.TruncateText(string(respBody), model.MaxResponseBodySize),
	}, nil
}
