package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tucitasegura/payments/app/controllers"
	"github.com/tucitasegura/payments/internal/pkg/billing"
	"github.com/tucitasegura/payments/internal/pkg/cache"
	"github.com/tucitasegura/payments/internal/pkg/claims"
	"github.com/tucitasegura/payments/internal/pkg/database"
	"github.com/tucitasegura/payments/internal/pkg/env"
	"github.com/tucitasegura/payments/internal/pkg/jobqueue"
	"github.com/tucitasegura/payments/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// Graceful shutdown on SIGINT/SIGTERM: stop taking deliveries, drain the
	// job queue, then exit. In-flight webhooks either finish or their
	// providers retry against the released reservations.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		jobqueue.GetManager().Stop()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg := billing.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		// A half-configured provider must fail at boot, not on the first
		// delivery that happens to need the missing credential.
		log.Fatalf("billing configuration invalid: %v", err)
	}

	db := database.GetDB()
	repo := billing.NewRepository(db)
	ledger := billing.NewLedger(db)
	svc := billing.NewService(
		cfg,
		repo,
		ledger,
		claims.NewRedisStore(cache.GetClient()),
		billing.NewNormalizer(billing.NewStripeClient(cfg), repo),
		billing.NewPayPalClient(cfg),
	)
	controllers.SetBillingService(svc)

	jobqueue.Initialize(ledger, svc)
	jobqueue.GetManager().Start()

	app := fiber.New(fiber.Config{
		AppName:   "tucitasegura-payments",
		BodyLimit: 1 << 20, // webhook payloads are small; 1 MiB is generous
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
