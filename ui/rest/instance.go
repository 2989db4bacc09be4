package rest

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"

	instancedomain "github.com/automagik/omni/instance/domain"
	instanceusecase "github.com/automagik/omni/instance/usecase"
	"github.com/automagik/omni/pkg/utils"
	"github.com/automagik/omni/supervisor"
)

type Instance struct {
	Registry   *instanceusecase.Registry
	Supervisor *supervisor.Supervisor
}

func InitRestInstance(app fiber.Router, registry *instanceusecase.Registry, sup *supervisor.Supervisor) Instance {
	handler := Instance{Registry: registry, Supervisor: sup}

	group := app.Group("/instances")
	group.Post("/", handler.Create)
	group.Get("/", handler.List)
	group.Get("/:name", handler.Get)
	group.Put("/:name", handler.Update)
	group.Delete("/:name", handler.Delete)
	group.Post("/:name/set-default", handler.SetDefault)

	return handler
}

type instanceView struct {
	instancedomain.Instance
	BotStatus string `json:"bot_status,omitempty"`
}

func (h *Instance) view(c *fiber.Ctx, inst instancedomain.Instance) instanceView {
	v := instanceView{Instance: inst}
	if inst.Channel == instancedomain.ChannelDiscord && h.Supervisor != nil {
		v.BotStatus = string(h.Supervisor.BotStatusFor(c.UserContext(), inst.Name))
	}
	return v
}

func (h *Instance) Create(c *fiber.Ctx) error {
	var inst instancedomain.Instance
	if err := c.BodyParser(&inst); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	if err := h.Registry.Upsert(c.UserContext(), inst); err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			return c.Status(400).JSON(utils.ResponseData{
				Status:  400,
				Code:    "VALIDATION_ERROR",
				Message: err.Error(),
			})
		}
		return internalError(c, err)
	}
	return c.Status(201).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Instance created",
		Results: inst,
	})
}

func (h *Instance) List(c *fiber.Ctx) error {
	filter := instancedomain.ListFilter{Channel: instancedomain.ChannelKind(c.Query("channel_type"))}
	instances, err := h.Registry.List(c.UserContext(), filter)
	if err != nil {
		return internalError(c, err)
	}

	views := make([]instanceView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, h.view(c, inst))
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instances retrieved",
		Results: views,
	})
}

func (h *Instance) Get(c *fiber.Ctx) error {
	inst, err := h.Registry.Get(c.UserContext(), c.Params("name"))
	if err != nil {
		if errors.Is(err, instancedomain.ErrInstanceNotFound) {
			return notFound(c, "Instance not found")
		}
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance retrieved",
		Results: h.view(c, inst),
	})
}

func (h *Instance) Update(c *fiber.Ctx) error {
	name := c.Params("name")
	existing, err := h.Registry.Get(c.UserContext(), name)
	if err != nil {
		if errors.Is(err, instancedomain.ErrInstanceNotFound) {
			return notFound(c, "Instance not found")
		}
		return internalError(c, err)
	}

	inst := existing
	if err := c.BodyParser(&inst); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	inst.Name = name

	if err := h.Registry.Upsert(c.UserContext(), inst); err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			return c.Status(400).JSON(utils.ResponseData{
				Status:  400,
				Code:    "VALIDATION_ERROR",
				Message: err.Error(),
			})
		}
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance updated",
		Results: inst,
	})
}

func (h *Instance) Delete(c *fiber.Ctx) error {
	cascade := c.QueryBool("cascade")
	err := h.Registry.Delete(c.UserContext(), c.Params("name"), cascade)
	switch {
	case err == nil:
		return c.JSON(utils.ResponseData{
			Status:  200,
			Code:    "SUCCESS",
			Message: "Instance deleted",
		})
	case errors.Is(err, instancedomain.ErrInstanceNotFound):
		return notFound(c, "Instance not found")
	case errors.Is(err, instancedomain.ErrInstanceReferenced):
		return c.Status(409).JSON(utils.ResponseData{
			Status:  409,
			Code:    "INSTANCE_REFERENCED",
			Message: "Instance has message traces; pass cascade=true to delete them",
		})
	default:
		return internalError(c, err)
	}
}

func (h *Instance) SetDefault(c *fiber.Ctx) error {
	inst, err := h.Registry.Get(c.UserContext(), c.Params("name"))
	if err != nil {
		if errors.Is(err, instancedomain.ErrInstanceNotFound) {
			return notFound(c, "Instance not found")
		}
		return internalError(c, err)
	}

	inst.IsDefault = true
	if err := h.Registry.Upsert(c.UserContext(), inst); err != nil {
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Default instance updated",
		Results: inst,
	})
}
