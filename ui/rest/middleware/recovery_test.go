package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgError "github.com/automagik/omni/pkg/error"
	"github.com/automagik/omni/pkg/utils"
)

func TestRecovery_TypedErrorKeepsItsHTTPMapping(t *testing.T) {
	app := fiber.New()
	app.Use(Recovery())
	app.Get("/conflict", func(c *fiber.Ctx) error {
		utils.PanicIfNeeded(pkgError.ConflictError("resource already exists"))
		return nil
	})
	app.Get("/storage", func(c *fiber.Ctx) error {
		utils.PanicIfNeeded(pkgError.StorageError("database unreachable"))
		return nil
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/conflict", nil))
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)
	var body utils.ResponseData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "CONFLICT_ERROR", body.Code)
	assert.Equal(t, "resource already exists", body.Message)

	resp, err = app.Test(httptest.NewRequest("GET", "/storage", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestRecovery_UntypedPanicIs500(t *testing.T) {
	app := fiber.New()
	app.Use(Recovery())
	app.Get("/boom", func(c *fiber.Ctx) error {
		panic("unexpected")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)

	var body utils.ResponseData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Code)
}
