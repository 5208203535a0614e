package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tucitasegura/payments/internal/pkg/billing"
	"github.com/tucitasegura/payments/internal/pkg/jobqueue"
	"github.com/tucitasegura/payments/internal/pkg/metrics/counter"
)

type claimsResyncRequest struct {
	UserID   string `json:"user_id"`
	PageSize int    `json:"page_size"`
}

// HandleClaimsResync triggers snapshot reconciliation. With a user_id the
// sync runs inline; without one a full sweep is enqueued as a background job.
func HandleClaimsResync(c *fiber.Ctx) error {
	var req claimsResyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request_body"})
		}
	}

	if userID := strings.TrimSpace(req.UserID); userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := getBillingService().ReconcileUserClaims(ctx, userID); err != nil {
			if errors.Is(err, billing.ErrUserNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user_not_found"})
			}
			log.Errorf("[Admin] Claims resync for %s failed: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "resync_failed"})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "user_id": userID})
	}

	payload := jobqueue.ClaimsReconcileJobPayload{PageSize: req.PageSize}
	job, err := jobqueue.GetManager().GetQueue().EnqueueJob(jobqueue.JobTypeClaimsReconcile, payload.ToMap())
	if err != nil {
		log.Errorf("[Admin] Failed to enqueue claims reconcile: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "job_id": job.ID})
}

// HandleQueueStats reports queue depth and processing counters for operators.
func HandleQueueStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := jobqueue.GetManager().GetQueue()
	stats, err := queue.GetJobStats(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	pending, _ := queue.GetQueueSize(ctx)
	processing, _ := queue.GetProcessingSize(ctx)

	webhooks, err := counter.Snapshot(ctx)
	if err != nil {
		log.Warnf("[Admin] Webhook counters unavailable: %v", err)
		webhooks = map[string]string{}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"stats":      stats,
		"pending":    pending,
		"processing": processing,
		"webhooks":   webhooks,
	})
}
