// Package ops exposes the read-only operational surface: liveness, queue
// statistics and prometheus metrics. No endpoint here accepts notifications.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edulane/notify-service/internal/model"
	"github.com/edulane/notify-service/internal/queue"
	"github.com/edulane/notify-service/internal/repository"
)

// Pinger checks broker liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	db         *sqlx.DB
	broker     Pinger
	stats      queue.Storage
	deliveries repository.DeliveryRepository
	queues     []string
}

func NewHandler(db *sqlx.DB, broker Pinger, stats queue.Storage, deliveries repository.DeliveryRepository) *Handler {
	return &Handler{
		db:         db,
		broker:     broker,
		stats:      stats,
		deliveries: deliveries,
		queues:     []string{queue.QueueOrchestration, queue.QueueEmail, queue.QueuePush},
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/queues", h.queueStats)
	r.GET("/deliveries/status", h.deliveryCounts)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok", "broker": "ok"}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if err := h.broker.Ping(ctx); err != nil {
		checks["broker"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}

func (h *Handler) queueStats(c *gin.Context) {
	out := make([]*queue.Stats, 0, len(h.queues))
	for _, q := range h.queues {
		stats, err := h.stats.Stats(c.Request.Context(), q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, stats)
	}
	c.JSON(http.StatusOK, gin.H{"queues": out})
}

func (h *Handler) deliveryCounts(c *gin.Context) {
	counts, err := h.deliveries.CountByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending":    counts[model.DeliveryStatusPending],
		"processing": counts[model.DeliveryStatusProcessing],
		"delivered":  counts[model.DeliveryStatusDelivered],
		"failed":     counts[model.DeliveryStatusFailed],
	})
}
