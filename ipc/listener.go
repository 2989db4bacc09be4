package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/automagik/omni/hub"
	instancedomain "github.com/automagik/omni/instance/domain"
)

const maxEventBytes = 4 << 20

// Listener serves one instance's core socket. Bot sidecars POST their
// normalized inbound events here instead of going through the public
// webhook surface.
type Listener struct {
	inst instancedomain.Instance
	app  *fiber.App
	path string

	mu     sync.Mutex
	closed bool
}

// SocketPath is where the core listens for events from the instance's
// sidecar.
func SocketPath(runDir, instanceName string) string {
	return runDir + "/sockets/core-" + instanceName + ".sock"
}

// Listen binds the instance's core socket. A stale socket file from a
// previous run is removed first.
func Listen(runDir string, inst instancedomain.Instance, processor *hub.Processor) (*Listener, error) {
	path := SocketPath(runDir, inst.Name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             maxEventBytes,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	l := &Listener{inst: inst, app: app, path: path}

	app.Post("/event", func(c *fiber.Ctx) error {
		body := make([]byte, len(c.Body()))
		copy(body, c.Body())

		switch err := processor.Enqueue(c.Context(), inst, body); {
		case err == nil:
			return c.SendStatus(fiber.StatusAccepted)
		case errors.Is(err, hub.ErrQueueFull):
			return c.SendStatus(fiber.StatusTooManyRequests)
		default:
			logrus.WithError(err).WithField("instance", inst.Name).Warn("[IPC] Rejecting event")
			return c.SendStatus(fiber.StatusBadRequest)
		}
	})

	go func() {
		if err := app.Listener(ln); err != nil {
			logrus.WithError(err).WithField("instance", inst.Name).Error("[IPC] Core socket serve failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"instance": inst.Name,
		"socket":   path,
	}).Info("[IPC] Core socket listening")
	return l, nil
}

// Close shuts the server down and removes the socket file.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = l.app.ShutdownWithTimeout(time.Until(deadline))
	} else {
		err = l.app.Shutdown()
	}
	if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}
