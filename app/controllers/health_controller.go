package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tucitasegura/payments/internal/pkg/cache"
	"github.com/tucitasegura/payments/internal/pkg/database"
)

// HandleHealthz reports readiness of the engine's two stores.
func HandleHealthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	checks := fiber.Map{"database": "ok", "cache": "ok"}

	db := database.GetDB()
	if db == nil {
		checks["database"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "unreachable"
		status = fiber.StatusServiceUnavailable
	}

	if client := cache.GetClient(); client == nil {
		checks["cache"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	} else if err := client.Ping(ctx).Err(); err != nil {
		checks["cache"] = "unreachable"
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{"status": httpHealthWord(status), "checks": checks})
}

func httpHealthWord(status int) string {
	if status == fiber.StatusOK {
		return "ok"
	}
	return "degraded"
}
