package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tucitasegura/payments/app/controllers"
	"github.com/tucitasegura/payments/internal/pkg/constants"
)

type HttpRouter struct {
}

// InstallRouter registers the provider-facing and operational routes. The
// webhook endpoints stay outside the /api group: providers sign their own
// deliveries, so neither the limiter nor basicauth applies to them.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
	app.Post(constants.PayPalWebhookRoute, controllers.HandlePayPalWebhook)

	app.Get(constants.HealthzRoute, controllers.HandleHealthz)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
