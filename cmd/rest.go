package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	accessrepo "github.com/automagik/omni/access/repository"
	accessusecase "github.com/automagik/omni/access/usecase"
	"github.com/automagik/omni/agent"
	"github.com/automagik/omni/channels"
	"github.com/automagik/omni/channels/discord"
	"github.com/automagik/omni/channels/whatsapp"
	coreconfig "github.com/automagik/omni/core/config"
	coredatabase "github.com/automagik/omni/core/database"
	corevalkey "github.com/automagik/omni/core/valkey"
	"github.com/automagik/omni/hub"
	instancerepo "github.com/automagik/omni/instance/repository"
	instanceusecase "github.com/automagik/omni/instance/usecase"
	"github.com/automagik/omni/outbound"
	"github.com/automagik/omni/pkg/msgworker"
	"github.com/automagik/omni/supervisor"
	tracerepo "github.com/automagik/omni/trace/repository"
	traceusecase "github.com/automagik/omni/trace/usecase"
	"github.com/automagik/omni/ui/rest"
	"github.com/automagik/omni/ui/rest/middleware"
	userrepo "github.com/automagik/omni/user/repository"
	userusecase "github.com/automagik/omni/user/usecase"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Run the messaging hub HTTP server",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	cfg := loadConfig()

	db, err := coredatabase.NewDatabase(cfg)
	if err != nil {
		logrus.WithError(err).Error("[APP] Failed to open database")
		os.Exit(ExitStorageError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repositories and migrations
	instanceRepository := instancerepo.NewInstanceGormRepository(db)
	accessRepository := accessrepo.NewAccessRuleGormRepository(db)
	traceRepository := tracerepo.NewTraceGormRepository(db)
	userRepository := userrepo.NewUserGormRepository(db)
	for _, init := range []func(context.Context) error{
		instanceRepository.Init,
		accessRepository.Init,
		traceRepository.Init,
		userRepository.Init,
	} {
		if err := init(ctx); err != nil {
			logrus.WithError(err).Error("[APP] Schema migration failed")
			os.Exit(ExitStorageError)
		}
	}

	// Session store: Valkey survives restarts, memory is the fallback.
	var sessions agent.SessionStore = agent.NewMemorySessionStore()
	var valkeyClient *corevalkey.Client
	if cfg.Valkey.Enabled {
		valkeyClient, err = corevalkey.NewClient(corevalkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
		})
		if err != nil {
			logrus.WithError(err).Warn("[APP] Valkey unavailable, using in-memory session store")
		} else {
			sessions = agent.NewValkeySessionStore(valkeyClient)
			defer valkeyClient.Close()
		}
	}

	// Core services
	registry := instanceusecase.NewRegistry(instanceRepository)
	accessEngine := accessusecase.NewEngine(accessRepository)
	tracePipeline := traceusecase.NewPipeline(traceRepository, cfg.Trace)
	sweeper := traceusecase.NewSweeper(traceRepository, cfg.Trace)
	users := userusecase.NewService(userRepository)
	agentClient := agent.NewClient(sessions, cfg.Agent.DefaultTimeout)

	botClient := outbound.NewBotClient(cfg.App.RunDir)
	dispatcher := outbound.NewDispatcher(outbound.NewEvolutionSender(), botClient)

	handlers := channels.NewRegistry(
		whatsapp.NewHandler(users, dispatcher),
		discord.NewHandler(users, dispatcher),
	)

	pool := msgworker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueSize)
	processor := hub.NewProcessor(registry, handlers, accessEngine, agentClient, tracePipeline, pool)

	sup := supervisor.New(cfg.App.RunDir, registry, processor, botClient)
	if err := sup.Start(ctx); err != nil {
		logrus.WithError(err).Error("[APP] Supervisor start failed")
		os.Exit(ExitStorageError)
	}

	pool.Start(ctx)
	sweeper.Start(ctx)

	app := newFiberApp(cfg)

	rest.InitRestWebhook(app, registry, processor, cfg.App.APIKey)

	admin := app.Group("/api/v1", middleware.APIKey(cfg.App.APIKey))
	rest.InitRestInstance(admin, registry, sup)
	rest.InitRestAccessRule(admin, accessEngine)
	rest.InitRestTrace(admin, tracePipeline)
	rest.InitRestUser(admin, users)
	rest.InitRestHealth(app, admin, db, registry, sup, pool)

	// Graceful shutdown: stop intake, drain workers, close sockets.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[APP] Termination signal received, shutting down gracefully...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Error("[APP] Fiber shutdown error")
		}
		pool.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		sup.Shutdown(shutdownCtx)
		shutdownCancel()
		cancel()
	}()

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalln("Failed to start: ", err.Error())
	}
	logrus.Info("[APP] Shutdown complete")
}

func newFiberApp(cfg *coreconfig.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Automagik Omni",
		Network:      "tcp",
		ServerHeader: "Hidden",
		BodyLimit:    8 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORS.Origins, ", "),
		AllowMethods:     strings.Join(cfg.CORS.Methods, ", "),
		AllowHeaders:     strings.Join(cfg.CORS.Headers, ", "),
		AllowCredentials: cfg.CORS.Credentials,
	}))
	app.Use(middleware.Recovery())
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}
	return app
}
