package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automagik/omni/hub"
	instancedomain "github.com/automagik/omni/instance/domain"
	instanceusecase "github.com/automagik/omni/instance/usecase"
	"github.com/automagik/omni/ipc"
	"github.com/automagik/omni/outbound"
)

// BotStatus is the observed state of an instance's bot sidecar.
type BotStatus string

const (
	BotRunning    BotStatus = "running"
	BotUnhealthy  BotStatus = "unhealthy"
	BotNotRunning BotStatus = "not_running"
)

// Supervisor owns the run directory: it keeps one core socket listener
// per discord instance, probes sidecar health, and cleans sockets up on
// instance deletion and shutdown. Reconciliation is driven by registry
// change notifications.
type Supervisor struct {
	runDir    string
	registry  *instanceusecase.Registry
	processor *hub.Processor
	bots      *outbound.BotClient

	mu        sync.Mutex
	listeners map[string]*ipc.Listener
}

func New(runDir string, registry *instanceusecase.Registry, processor *hub.Processor, bots *outbound.BotClient) *Supervisor {
	return &Supervisor{
		runDir:    runDir,
		registry:  registry,
		processor: processor,
		bots:      bots,
		listeners: make(map[string]*ipc.Listener),
	}
}

// Start prepares the socket directory and brings up listeners for every
// discord instance already registered. It also hooks registry changes.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.runDir, "sockets"), 0o755); err != nil {
		return err
	}

	instances, err := s.registry.List(ctx, instancedomain.ListFilter{})
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if inst.Channel == instancedomain.ChannelDiscord {
			s.ensureListener(inst)
		}
	}

	s.registry.OnChange = func(name string) { s.Reconcile(context.Background(), name) }
	return nil
}

// Reconcile brings the named instance's listener in line with the
// registry: discord instances get a core socket, everything else has
// theirs torn down.
func (s *Supervisor) Reconcile(ctx context.Context, name string) {
	inst, err := s.registry.Get(ctx, name)
	if err != nil {
		if errors.Is(err, instancedomain.ErrInstanceNotFound) {
			s.teardown(ctx, name)
			return
		}
		logrus.WithError(err).WithField("instance", name).Warn("[SUPERVISOR] Reconcile lookup failed")
		return
	}

	if inst.Channel == instancedomain.ChannelDiscord {
		s.ensureListener(inst)
	} else {
		s.teardown(ctx, name)
	}
}

func (s *Supervisor) ensureListener(inst instancedomain.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[inst.Name]; ok {
		return
	}

	l, err := ipc.Listen(s.runDir, inst, s.processor)
	if err != nil {
		logrus.WithError(err).WithField("instance", inst.Name).Error("[SUPERVISOR] Failed to bind core socket")
		return
	}
	s.listeners[inst.Name] = l
}

// teardown closes the instance's core listener and removes a leftover
// sidecar socket so a deleted instance leaves nothing in the run dir.
func (s *Supervisor) teardown(ctx context.Context, name string) {
	s.mu.Lock()
	l, ok := s.listeners[name]
	delete(s.listeners, name)
	s.mu.Unlock()

	if ok {
		if err := l.Close(ctx); err != nil {
			logrus.WithError(err).WithField("instance", name).Warn("[SUPERVISOR] Core socket close failed")
		}
	}
	if err := os.Remove(s.bots.SocketPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).WithField("instance", name).Warn("[SUPERVISOR] Stale bot socket removal failed")
	}
}

// BotStatusFor reports the sidecar state: socket missing means not
// running; a failed probe, or a sidecar reporting "degraded" or "down",
// means unhealthy.
func (s *Supervisor) BotStatusFor(ctx context.Context, instanceName string) BotStatus {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	health, err := s.bots.Health(probeCtx, instanceName)
	if err != nil {
		var serr *outbound.SendError
		if errors.As(err, &serr) && serr.Kind == outbound.ErrKindBotMissing {
			return BotNotRunning
		}
		return BotUnhealthy
	}
	if health.Status == "healthy" {
		return BotRunning
	}
	return BotUnhealthy
}

// Shutdown closes every listener and removes the managed sockets.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.listeners))
	for name := range s.listeners {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.teardown(ctx, name)
	}
	logrus.Info("[SUPERVISOR] All core sockets closed")
}
