package rest

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	accessdomain "github.com/automagik/omni/access/domain"
	accessusecase "github.com/automagik/omni/access/usecase"
	"github.com/automagik/omni/pkg/utils"
)

type AccessRule struct {
	Engine *accessusecase.Engine
}

func InitRestAccessRule(app fiber.Router, engine *accessusecase.Engine) AccessRule {
	handler := AccessRule{Engine: engine}

	group := app.Group("/access-rules")
	group.Post("/", handler.Create)
	group.Get("/", handler.List)
	group.Delete("/:id", handler.Delete)
	group.Post("/check", handler.Check)

	return handler
}

func (h *AccessRule) Create(c *fiber.Ctx) error {
	var rule accessdomain.AccessRule
	if err := c.BodyParser(&rule); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	created, err := h.Engine.AddRule(c.UserContext(), rule)
	switch {
	case err == nil:
		return c.Status(201).JSON(utils.ResponseData{
			Status:  201,
			Code:    "SUCCESS",
			Message: "Access rule created",
			Results: created,
		})
	case errors.Is(err, accessdomain.ErrBarePatternWildcard),
		errors.Is(err, accessdomain.ErrInvalidRule):
		return badRequest(c, err.Error())
	case errors.Is(err, accessdomain.ErrRuleExists):
		return c.Status(409).JSON(utils.ResponseData{
			Status:  409,
			Code:    "DUPLICATE_RULE",
			Message: err.Error(),
		})
	default:
		return internalError(c, err)
	}
}

// List returns every rule visible to the given scope: instance rules plus
// global ones when instance_name is set, everything otherwise.
func (h *AccessRule) List(c *fiber.Ctx) error {
	rules, err := h.Engine.ListRules(c.UserContext(), c.Query("instance_name"))
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Access rules retrieved",
		Results: rules,
	})
}

func (h *AccessRule) Delete(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "Invalid rule id")
	}

	if err := h.Engine.DeleteRule(c.UserContext(), uint(id)); err != nil {
		if errors.Is(err, accessdomain.ErrRuleNotFound) {
			return notFound(c, "Access rule not found")
		}
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Access rule deleted",
	})
}

type accessCheckRequest struct {
	Phone        string `json:"phone"`
	InstanceName string `json:"instance_name"`
}

// Check evaluates a phone against the rule set without processing a
// message. Intended for operators verifying their rules.
func (h *AccessRule) Check(c *fiber.Ctx) error {
	var req accessCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	decision, err := h.Engine.Check(c.UserContext(), req.Phone, req.InstanceName)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Access evaluated",
		Results: decision,
	})
}
