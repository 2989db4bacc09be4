package rest

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/automagik/omni/hub"
	instancedomain "github.com/automagik/omni/instance/domain"
	instanceusecase "github.com/automagik/omni/instance/usecase"
	"github.com/automagik/omni/pkg/utils"
)

type Webhook struct {
	Registry  *instanceusecase.Registry
	Processor *hub.Processor
	MasterKey string
}

func InitRestWebhook(app fiber.Router, registry *instanceusecase.Registry, processor *hub.Processor, masterKey string) Webhook {
	handler := Webhook{Registry: registry, Processor: processor, MasterKey: masterKey}

	// The legacy route predates multi-tenancy and maps to the default
	// instance. Registered first so the named route does not shadow it.
	app.Post("/webhook/evolution", handler.ReceiveLegacy)
	app.Post("/webhook/:name", handler.Receive)

	return handler
}

func (h *Webhook) Receive(c *fiber.Ctx) error {
	inst, err := h.Registry.Get(c.UserContext(), c.Params("name"))
	if err != nil {
		if errors.Is(err, instancedomain.ErrInstanceNotFound) {
			return notFound(c, "Instance not found")
		}
		return internalError(c, err)
	}
	return h.accept(c, inst)
}

// ReceiveLegacy resolves the default instance; without one the route
// answers 404.
func (h *Webhook) ReceiveLegacy(c *fiber.Ctx) error {
	inst, err := h.Registry.Default(c.UserContext())
	if err != nil {
		if errors.Is(err, instancedomain.ErrNoDefaultInstance) {
			return notFound(c, "No default instance configured")
		}
		return internalError(c, err)
	}
	return h.accept(c, inst)
}

func (h *Webhook) accept(c *fiber.Ctx, inst instancedomain.Instance) error {
	if !h.authorized(c, inst) {
		return c.Status(401).JSON(utils.ResponseData{
			Status:  401,
			Code:    "UNAUTHORIZED",
			Message: "Missing or invalid webhook credentials",
		})
	}

	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	switch err := h.Processor.Enqueue(c.UserContext(), inst, body); {
	case err == nil:
		return c.JSON(utils.ResponseData{
			Status:  200,
			Code:    "ACCEPTED",
			Message: "Event accepted",
		})
	case errors.Is(err, hub.ErrQueueFull):
		return c.Status(429).JSON(utils.ResponseData{
			Status:  429,
			Code:    "QUEUE_FULL",
			Message: "Processing queue is full, retry later",
		})
	default:
		logrus.WithError(err).WithField("instance", inst.Name).Warn("[WEBHOOK] Rejecting payload")
		return badRequest(c, "Unparseable event payload")
	}
}

// authorized accepts the tenant webhook secret or the master API key. An
// instance without a secret configured still requires the master key.
func (h *Webhook) authorized(c *fiber.Ctx, inst instancedomain.Instance) bool {
	provided := c.Get("x-webhook-secret")
	if provided == "" {
		provided = c.Get("x-api-key")
	}
	if provided == "" {
		provided = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	}
	if provided == "" {
		return false
	}

	if inst.WebhookSecret != "" &&
		subtle.ConstantTimeCompare([]byte(provided), []byte(inst.WebhookSecret)) == 1 {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.MasterKey)) == 1
}
