package rest

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/automagik/omni/pkg/utils"
	userdomain "github.com/automagik/omni/user/domain"
	userusecase "github.com/automagik/omni/user/usecase"
)

type User struct {
	Service *userusecase.Service
}

func InitRestUser(app fiber.Router, service *userusecase.Service) User {
	handler := User{Service: service}

	group := app.Group("/users")
	group.Get("/:id", handler.Get)
	group.Post("/:id/link", handler.Link)

	return handler
}

func (h *User) Get(c *fiber.Ctx) error {
	u, ids, err := h.Service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, userdomain.ErrUserNotFound) {
			return notFound(c, "User not found")
		}
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "User retrieved",
		Results: fiber.Map{
			"user":         u,
			"external_ids": ids,
		},
	})
}

type linkRequest struct {
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id"`
}

func (h *User) Link(c *fiber.Ctx) error {
	var req linkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if req.Channel == "" || req.ExternalID == "" {
		return badRequest(c, "channel and external_id are required")
	}

	err := h.Service.Link(c.UserContext(), c.Params("id"), req.Channel, req.ExternalID)
	switch {
	case err == nil:
		return c.JSON(utils.ResponseData{
			Status:  200,
			Code:    "SUCCESS",
			Message: "External id linked",
		})
	case errors.Is(err, userdomain.ErrUserNotFound):
		return notFound(c, "User not found")
	case errors.Is(err, userdomain.ErrExternalIDLinked):
		return c.Status(409).JSON(utils.ResponseData{
			Status:  409,
			Code:    "EXTERNAL_ID_LINKED",
			Message: err.Error(),
		})
	default:
		return internalError(c, err)
	}
}
