package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/automagik/omni/pkg/utils"
)

// APIKey guards the admin surface with the process master key. The key is
// accepted in x-api-key or as a bearer token.
func APIKey(masterKey string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		provided := ctx.Get("x-api-key")
		if provided == "" {
			auth := ctx.Get(fiber.HeaderAuthorization)
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(masterKey)) != 1 {
			return ctx.Status(fiber.StatusUnauthorized).JSON(utils.ResponseData{
				Status:  401,
				Code:    "UNAUTHORIZED",
				Message: "Missing or invalid API key",
			})
		}
		return ctx.Next()
	}
}
