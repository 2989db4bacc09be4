package rest

import (
	"github.com/gofiber/fiber/v2"

	pkgError "github.com/automagik/omni/pkg/error"
	"github.com/automagik/omni/pkg/utils"
)

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(400).JSON(utils.ResponseData{
		Status:  400,
		Code:    "BAD_REQUEST",
		Message: message,
	})
}

func notFound(c *fiber.Ctx, message string) error {
	return c.Status(404).JSON(utils.ResponseData{
		Status:  404,
		Code:    "NOT_FOUND",
		Message: message,
	})
}

// internalError raises an unexpected storage/usecase failure as a typed
// error; the recovery middleware renders the envelope.
func internalError(_ *fiber.Ctx, err error) error {
	utils.PanicIfNeeded(pkgError.StorageError(err.Error()))
	return nil
}
