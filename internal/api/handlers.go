package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nikitakiselev/pushbot/internal/broadcaster"
	"github.com/nikitakiselev/pushbot/internal/core"
	"github.com/nikitakiselev/pushbot/internal/registry"
	"github.com/nikitakiselev/pushbot/internal/scheduler"
	"github.com/nikitakiselev/pushbot/internal/store"
	"github.com/nikitakiselev/pushbot/internal/telemetry"
	"github.com/nikitakiselev/pushbot/internal/webhook"
)

type handlers struct {
	store         Store
	registry      *registry.Registry
	scheduler     *scheduler.Scheduler
	broadcaster   *broadcaster.Broadcaster
	webhookSecret string
	logger        *zap.Logger
}

func (h *handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Webhook handles POST / and POST /webhook (spec.md §4.G).
func (h *handlers) Webhook(c *gin.Context) {
	ctx, span := telemetry.StartWebhookSpan(c.Request.Context())
	c.Request = c.Request.WithContext(ctx)
	var spanErr error
	defer func() { telemetry.EndWithStatus(span, spanErr) }()

	if c.ContentType() != "application/json" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content-Type must be application/json"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}

	if !webhook.Verify(body, c.GetHeader("X-Hub-Signature-256"), h.webhookSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	match, err := webhook.Interpret(body, h.registry)
	if err != nil {
		spanErr = err
		writeWebhookError(c, err)
		return
	}

	id, _, err := h.scheduler.Enqueue(c.Request.Context(), scheduler.TriggerRequest{
		Service:       match.Service,
		Command:       match.Service.DeployCommand,
		CommitSHA:     match.CommitSHA,
		CommitMessage: match.CommitMessage,
		Branch:        &match.Branch,
		TriggeredBy:   core.TriggeredByWebhook,
	})
	if err != nil {
		spanErr = err
		h.logger.Error("enqueue webhook deployment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue deployment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deployment_id": id, "service": match.Service.Name})
}

func writeWebhookError(c *gin.Context, err error) {
	var werr *webhook.Error
	if !errors.As(err, &werr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadRequest
	if werr.Kind == webhook.KindBadSignature {
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"error": werr.Error()})
}

// ManualDeploy handles POST /api/services/{id}/deploy (spec.md §4.G).
func (h *handlers) ManualDeploy(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid service id"})
		return
	}

	svc, err := h.store.GetServiceByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "service not found"})
		return
	}
	if err != nil {
		h.logger.Error("load service for manual deploy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load service"})
		return
	}

	manual := "Manual deployment"
	depID, _, err := h.scheduler.Enqueue(c.Request.Context(), scheduler.TriggerRequest{
		Service:       svc,
		Command:       svc.DeployCommand,
		CommitMessage: &manual,
		TriggeredBy:   core.TriggeredByManual,
	})
	if err != nil {
		h.logger.Error("enqueue manual deployment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue deployment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deployment_id": depID, "service": svc.Name})
}

// ListServices handles GET /api/services.
func (h *handlers) ListServices(c *gin.Context) {
	services, err := h.store.ListServices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list services"})
		return
	}
	c.JSON(http.StatusOK, services)
}

// ListActiveDeployments handles GET /api/deployments/active.
func (h *handlers) ListActiveDeployments(c *gin.Context) {
	deployments, err := h.store.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list active deployments"})
		return
	}
	c.JSON(http.StatusOK, deployments)
}

// listDeploymentsQuery binds the query params for GET /api/deployments.
type listDeploymentsQuery struct {
	Limit  int    `form:"limit"`
	Status string `form:"status" binding:"omitempty,oneof=queued running success failed"`
}

// ListDeployments handles GET /api/deployments.
func (h *handlers) ListDeployments(c *gin.Context) {
	q := listDeploymentsQuery{Limit: 50}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var status *core.DeploymentStatus
	if q.Status != "" {
		s := core.DeploymentStatus(q.Status)
		status = &s
	}

	deployments, err := h.store.ListRecent(c.Request.Context(), q.Limit, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deployments"})
		return
	}
	c.JSON(http.StatusOK, deployments)
}

// GetDeployment handles GET /api/deployments/{id}.
func (h *handlers) GetDeployment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deployment id"})
		return
	}

	d, err := h.store.GetDeployment(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load deployment"})
		return
	}
	c.JSON(http.StatusOK, d)
}

// StreamLogs handles GET /api/deployments/{id}/logs via SSE
// (spec.md §4.F, §4.G).
func (h *handlers) StreamLogs(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deployment id"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, _ := c.Writer.(http.Flusher)
	err = h.broadcaster.Subscribe(c.Request.Context(), id, func(ev broadcaster.Event) bool {
		payload, marshalErr := json.Marshal(ev)
		if marshalErr != nil {
			h.logger.Error("marshal log event", zap.Error(marshalErr))
			return true
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
		select {
		case <-c.Request.Context().Done():
			return false
		default:
			return true
		}
	})
	if err != nil {
		h.logger.Warn("log stream ended with error", zap.Int64("deployment_id", id), zap.Error(err))
	}
}

// ClearTerminal handles POST /api/deployments/clear.
func (h *handlers) ClearTerminal(c *gin.Context) {
	count, err := h.store.PurgeTerminal(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear deployments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": count})
}
