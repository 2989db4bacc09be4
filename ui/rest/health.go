package rest

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	instancedomain "github.com/automagik/omni/instance/domain"
	instanceusecase "github.com/automagik/omni/instance/usecase"
	"github.com/automagik/omni/pkg/msgworker"
	"github.com/automagik/omni/supervisor"
)

type Health struct {
	DB         *gorm.DB
	Registry   *instanceusecase.Registry
	Supervisor *supervisor.Supervisor
	Pool       *msgworker.Pool
}

// InitRestHealth registers the public liveness endpoint on the app root
// and the worker stats endpoint on the protected admin router.
func InitRestHealth(app fiber.Router, admin fiber.Router, db *gorm.DB, registry *instanceusecase.Registry, sup *supervisor.Supervisor, pool *msgworker.Pool) Health {
	handler := Health{DB: db, Registry: registry, Supervisor: sup, Pool: pool}

	app.Get("/health", handler.GetStatus)
	admin.Get("/workers/stats", handler.WorkerStats)

	return handler
}

// GetStatus reports overall liveness, the database ping and the sidecar
// state of every discord instance.
func (h *Health) GetStatus(c *fiber.Ctx) error {
	status := "ok"
	dbStatus := "ok"
	if sqlDB, err := h.DB.DB(); err != nil {
		status, dbStatus = "degraded", err.Error()
	} else if err := sqlDB.PingContext(c.UserContext()); err != nil {
		status, dbStatus = "degraded", err.Error()
	}

	bots := map[string]string{}
	instances, err := h.Registry.List(c.UserContext(), instancedomain.ListFilter{Channel: instancedomain.ChannelDiscord})
	if err == nil {
		for _, inst := range instances {
			bots[inst.Name] = string(h.Supervisor.BotStatusFor(c.UserContext(), inst.Name))
		}
	}

	return c.JSON(fiber.Map{
		"status":   status,
		"database": dbStatus,
		"bots":     bots,
	})
}

// WorkerStats exposes the worker pool counters.
func (h *Health) WorkerStats(c *fiber.Ctx) error {
	return c.JSON(h.Pool.Stats())
}
