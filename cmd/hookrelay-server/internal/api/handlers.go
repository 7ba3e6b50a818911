// Package api provides the HTTP handlers of the hookrelay server REST API.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gin-gonic/gin"

	"github.com/coregx/hookrelay"
	"github.com/coregx/hookrelay/model"
)

// IdempotencyKeyHeader carries the producer's idempotency key on POST /events.
const IdempotencyKeyHeader = "Idempotency-Key"

// HealthChecker reports whether a dependency is reachable. *sql.DB implements it.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	ingestor      *hookrelay.Ingestor
	subscriptions *hookrelay.SubscriptionManager
	dlq           *hookrelay.DLQManager
	health        HealthChecker
	logger        hookrelay.Logger
}

// NewHandler creates a new API handler. health may be nil.
func NewHandler(
	ingestor *hookrelay.Ingestor,
	subscriptions *hookrelay.SubscriptionManager,
	dlq *hookrelay.DLQManager,
	health HealthChecker,
	logger hookrelay.Logger,
) *Handler {
	return &Handler{
		ingestor:      ingestor,
		subscriptions: subscriptions,
		dlq:           dlq,
		health:        health,
		logger:        logger,
	}
}

// SubmitEvent handles POST /events
func (h *Handler) SubmitEvent(c *gin.Context) {
	var req hookrelay.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadJSON(c, err)
		return
	}

	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		if req.IdempotencyKey != "" && req.IdempotencyKey != key {
			h.respondError(c, hookrelay.NewValidationError(validation.Errors{
				"idempotency_key": errors.New("differs from the Idempotency-Key header"),
			}))
			return
		}
		req.IdempotencyKey = key
	}

	res, err := h.ingestor.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusAccepted
	if res.Replayed {
		status = http.StatusOK
	}
	respondSuccess(c, status, SubmitResponse{Event: FromEvent(res.Event), Replayed: res.Replayed})
}

// SubmitBatch handles POST /events/batch
func (h *Handler) SubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadJSON(c, err)
		return
	}

	results, err := h.ingestor.SubmitBatch(c.Request.Context(), req.Events)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]BatchItemDTO, len(results))
	for i, r := range results {
		items[i] = BatchItemDTO{Index: r.Index}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
			items[i].Code = errorCode(r.Err)
			continue
		}
		event := FromEvent(r.Result.Event)
		items[i].Event = &event
		items[i].Replayed = r.Result.Replayed
	}
	respondSuccess(c, http.StatusOK, items)
}

// ListEvents handles GET /events
func (h *Handler) ListEvents(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}

	events, err := h.ingestor.ListEvents(c.Request.Context(), model.EventQuery{
		Source:    c.Query("source"),
		EventType: c.Query("event_type"),
		Status:    model.EventStatus(c.Query("status")),
		Limit:     limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, FromEventSlice(events))
}

// GetEvent handles GET /events/:id
func (h *Handler) GetEvent(c *gin.Context) {
	details, err := h.ingestor.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, EventDetailsResponse{
		Event:      FromEvent(details.Event),
		Deliveries: FromDeliverySlice(details.Deliveries),
	})
}

// GetDelivery handles GET /deliveries/:id
func (h *Handler) GetDelivery(c *gin.Context) {
	delivery, attempts, err := h.ingestor.GetDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	dtos := make([]AttemptDTO, len(attempts))
	for i, a := range attempts {
		dtos[i] = FromAttempt(a)
	}
	respondSuccess(c, http.StatusOK, DeliveryDetailsResponse{Delivery: FromDelivery(delivery), Attempts: dtos})
}

// CreateSubscription handles POST /subscriptions
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadJSON(c, err)
		return
	}

	sub, err := h.subscriptions.Create(c.Request.Context(), req.toService())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, withSecret(sub))
}

// ListSubscriptions handles GET /subscriptions
func (h *Handler) ListSubscriptions(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}

	subs, err := h.subscriptions.List(c.Request.Context(), model.SubscriptionQuery{
		Status: model.SubscriptionStatus(c.Query("status")),
		Limit:  limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, FromSubscriptionSlice(subs))
}

// GetSubscription handles GET /subscriptions/:id
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.subscriptions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, FromSubscription(sub))
}

// UpdateSubscription handles PATCH /subscriptions/:id
func (h *Handler) UpdateSubscription(c *gin.Context) {
	var req UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadJSON(c, err)
		return
	}

	sub, err := h.subscriptions.Update(c.Request.Context(), c.Param("id"), req.toService())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, FromSubscription(sub))
}

// DeleteSubscription handles DELETE /subscriptions/:id
func (h *Handler) DeleteSubscription(c *gin.Context) {
	if err := h.subscriptions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PauseSubscription handles POST /subscriptions/:id/pause
func (h *Handler) PauseSubscription(c *gin.Context) {
	h.transition(c, h.subscriptions.Pause, false)
}

// ResumeSubscription handles POST /subscriptions/:id/resume
func (h *Handler) ResumeSubscription(c *gin.Context) {
	h.transition(c, h.subscriptions.Resume, false)
}

// RotateSecret handles POST /subscriptions/:id/rotate-secret
func (h *Handler) RotateSecret(c *gin.Context) {
	h.transition(c, h.subscriptions.RotateSecret, true)
}

func (h *Handler) transition(c *gin.Context, op func(context.Context, string) (model.Subscription, error), showSecret bool) {
	sub, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if showSecret {
		respondSuccess(c, http.StatusOK, withSecret(sub))
		return
	}
	respondSuccess(c, http.StatusOK, FromSubscription(sub))
}

// ListDLQ handles GET /dlq
func (h *Handler) ListDLQ(c *gin.Context) {
	filter, err := dlqFilter(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	deliveries, err := h.dlq.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, FromDeliverySlice(deliveries))
}

// DLQStats handles GET /dlq/stats
func (h *Handler) DLQStats(c *gin.Context) {
	stats, err := h.dlq.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, FromDLQStats(stats))
}

// ReplayDLQ handles POST /dlq/:id/retry
func (h *Handler) ReplayDLQ(c *gin.Context) {
	delivery, err := h.dlq.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, FromDelivery(delivery))
}

// ReplayDLQBatch handles POST /dlq/retry
func (h *Handler) ReplayDLQBatch(c *gin.Context) {
	var req ReplayBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadJSON(c, err)
		return
	}

	results, err := h.dlq.ReplayBatch(c.Request.Context(), req.IDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]ReplayItemDTO, len(results))
	for i, r := range results {
		items[i] = ReplayItemDTO{ID: r.ID}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
			items[i].Code = errorCode(r.Err)
			continue
		}
		delivery := FromDelivery(r.Delivery)
		items[i].Delivery = &delivery
	}
	respondSuccess(c, http.StatusOK, items)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.PingContext(ctx); err != nil {
			h.logger.Warnf("health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, NewErrorResponse(err.Error(), CodeUnhealthy))
			return
		}
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "healthy"})
}

func dlqFilter(c *gin.Context) (model.DLQFilter, error) {
	filter := model.DLQFilter{
		SubscriptionID: c.Query("subscription_id"),
		EventType:      c.Query("event_type"),
		Reason:         model.DeadLetterReason(c.Query("reason")),
	}

	errs := validation.Errors{}
	var err error
	if filter.Since, err = parseTime(c.Query("since")); err != nil {
		errs["since"] = err
	}
	if filter.Until, err = parseTime(c.Query("until")); err != nil {
		errs["until"] = err
	}
	if filter.Limit, err = parseCount(c.Query("limit")); err != nil {
		errs["limit"] = err
	}
	if filter.Offset, err = parseCount(c.Query("offset")); err != nil {
		errs["offset"] = err
	}

	if len(errs) > 0 {
		return model.DLQFilter{}, hookrelay.NewValidationError(errs)
	}
	return filter, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	n, err := parseCount(c.Query(name))
	if err != nil {
		return 0, hookrelay.NewValidationError(validation.Errors{name: err})
	}
	return n, nil
}

func parseCount(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("must be an RFC 3339 timestamp")
	}
	return t, nil
}
