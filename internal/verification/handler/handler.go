// Package handler exposes the verification queue, rate limiter, and usage
// tracker over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kycgate/internal/ratelimit"
	"kycgate/internal/usage"
	"kycgate/internal/verification"
	"kycgate/internal/verifier"
	dErrors "kycgate/pkg/domain-errors"
	"kycgate/pkg/platform/httputil"
)

// QueueService defines the queue operations the handler needs.
type QueueService interface {
	Enqueue(ctx context.Context, req verification.Request) (*verification.Receipt, error)
	EnqueueBatch(ctx context.Context, req verification.BatchRequest) ([]*verification.Receipt, error)
	Status(id string) (*verification.Item, error)
	ItemsByOwner(ownerID string) []*verification.Item
	Stats() verification.Stats
}

// RateLimiter defines the limiter operations the handler needs.
type RateLimiter interface {
	Status() ratelimit.Status
	Reset(ctx context.Context)
}

// UsageService defines the usage operations the handler needs.
type UsageService interface {
	DailyCounter(ctx context.Context, provider string) (*usage.Counter, error)
	MonthlyCounter(ctx context.Context, provider string) (*usage.Counter, error)
	CheckUsageLimits(ctx context.Context, provider string, monthlyLimit int, alertThreshold float64) (*usage.Alert, error)
}

// UsageBudget carries the configured monthly budget per provider.
type UsageBudget struct {
	MonthlyLimit   int
	AlertThreshold float64
}

// Handler wires verification endpoints to the queue and its collaborators.
type Handler struct {
	queue   QueueService
	limiter RateLimiter
	tracker UsageService
	budget  UsageBudget
	logger  *slog.Logger
}

// New constructs a handler with its dependencies.
func New(queue QueueService, limiter RateLimiter, tracker UsageService, budget UsageBudget, logger *slog.Logger) *Handler {
	return &Handler{
		queue:   queue,
		limiter: limiter,
		tracker: tracker,
		budget:  budget,
		logger:  logger,
	}
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verifications", h.HandleEnqueue)
	r.Post("/verifications/batch", h.HandleEnqueueBatch)
	r.Get("/verifications/{queueID}", h.HandleStatus)
	r.Get("/owners/{ownerID}/verifications", h.HandleOwnerItems)
	r.Get("/queue/stats", h.HandleQueueStats)
	r.Get("/ratelimit", h.HandleRateLimitStatus)
	r.Post("/ratelimit/reset", h.HandleRateLimitReset)
	r.Get("/usage/{provider}", h.HandleUsage)
}

// HandleEnqueue handles POST /verifications requests.
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[EnqueueRequest](w, r, h.logger)
	if !ok {
		return
	}

	receipt, err := h.queue.Enqueue(ctx, req.ToDomain())
	if err != nil {
		h.logger.WarnContext(ctx, "enqueue rejected",
			"owner_id", req.OwnerID,
			"list_id", req.ListID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verification enqueued",
		"queue_id", receipt.QueueID,
		"owner_id", req.OwnerID,
		"position", receipt.Position,
	)
	httputil.WriteJSON(w, http.StatusAccepted, FromReceipt(receipt))
}

// HandleEnqueueBatch handles POST /verifications/batch requests.
func (h *Handler) HandleEnqueueBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[BatchEnqueueRequest](w, r, h.logger)
	if !ok {
		return
	}

	receipts, err := h.queue.EnqueueBatch(ctx, req.ToDomain())
	if err != nil {
		h.logger.WarnContext(ctx, "batch enqueue rejected",
			"owner_id", req.OwnerID,
			"list_id", req.ListID,
			"entries", len(req.Entries),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "batch enqueued",
		"owner_id", req.OwnerID,
		"list_id", req.ListID,
		"accepted", len(receipts),
	)
	httputil.WriteJSON(w, http.StatusAccepted, FromReceipts(receipts))
}

// HandleStatus handles GET /verifications/{queueID} requests.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "queueID")
	if queueID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "queue id is required"))
		return
	}

	item, err := h.queue.Status(queueID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromItem(item, verifier.Mask))
}

// HandleOwnerItems handles GET /owners/{ownerID}/verifications requests.
func (h *Handler) HandleOwnerItems(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "owner id is required"))
		return
	}

	items := h.queue.ItemsByOwner(ownerID)
	out := make([]*ItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, FromItem(item, verifier.Mask))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

// HandleQueueStats handles GET /queue/stats requests.
func (h *Handler) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.queue.Stats())
}

// HandleRateLimitStatus handles GET /ratelimit requests.
func (h *Handler) HandleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.limiter.Status())
}

// HandleRateLimitReset handles POST /ratelimit/reset requests. Operator
// recovery path: waiters are rejected, capacity restored.
func (h *Handler) HandleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.limiter.Reset(ctx)
	h.logger.InfoContext(ctx, "rate limiter reset via API")
	httputil.WriteJSON(w, http.StatusOK, h.limiter.Status())
}

type usageResponse struct {
	Daily   *usage.Counter `json:"daily"`
	Monthly *usage.Counter `json:"monthly"`
	Alert   *usage.Alert   `json:"alert"`
}

// HandleUsage handles GET /usage/{provider} requests.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := chi.URLParam(r, "provider")
	if provider == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "provider is required"))
		return
	}

	daily, err := h.tracker.DailyCounter(ctx, provider)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	monthly, err := h.tracker.MonthlyCounter(ctx, provider)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	alert, err := h.tracker.CheckUsageLimits(ctx, provider, h.budget.MonthlyLimit, h.budget.AlertThreshold)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, usageResponse{
		Daily:   daily,
		Monthly: monthly,
		Alert:   alert,
	})
}
