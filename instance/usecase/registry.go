package usecase

import (
	"context"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/sirupsen/logrus"

	"github.com/automagik/omni/instance/domain"
)

// Registry is the source of truth for instance configs. Reads go through a
// process-local cache invalidated on every write; readers may observe a
// stale config for at most one event boundary.
type Registry struct {
	repo domain.IInstanceRepository

	mu    sync.RWMutex
	cache map[string]domain.Instance

	// OnChange is invoked after any successful write with the affected
	// instance name. Used by the supervisor to reconcile workers/sockets.
	OnChange func(name string)
}

func NewRegistry(repo domain.IInstanceRepository) *Registry {
	return &Registry{
		repo:  repo,
		cache: make(map[string]domain.Instance),
	}
}

func (r *Registry) Get(ctx context.Context, name string) (domain.Instance, error) {
	r.mu.RLock()
	if inst, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return inst, nil
	}
	r.mu.RUnlock()

	inst, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return domain.Instance{}, err
	}

	r.mu.Lock()
	r.cache[name] = inst
	r.mu.Unlock()
	return inst, nil
}

func (r *Registry) List(ctx context.Context, filter domain.ListFilter) ([]domain.Instance, error) {
	return r.repo.List(ctx, filter)
}

func (r *Registry) Default(ctx context.Context) (domain.Instance, error) {
	return r.repo.GetDefault(ctx)
}

// Upsert validates and writes the instance atomically.
func (r *Registry) Upsert(ctx context.Context, inst domain.Instance) error {
	if err := validateInstance(inst); err != nil {
		return err
	}
	if err := r.repo.Save(ctx, inst); err != nil {
		return err
	}
	r.invalidate(inst.Name)
	if inst.IsDefault {
		// The previous default lost its flag inside the same transaction.
		r.invalidateAll()
	}
	logrus.WithFields(logrus.Fields{
		"instance": inst.Name,
		"channel":  inst.Channel,
	}).Info("[REGISTRY] Instance upserted")
	r.notify(inst.Name)
	return nil
}

func (r *Registry) Delete(ctx context.Context, name string, cascade bool) error {
	if err := r.repo.Delete(ctx, name, cascade); err != nil {
		return err
	}
	r.invalidate(name)
	logrus.WithFields(logrus.Fields{
		"instance": name,
		"cascade":  cascade,
	}).Info("[REGISTRY] Instance deleted")
	r.notify(name)
	return nil
}

func (r *Registry) invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	r.mu.Unlock()
}

func (r *Registry) invalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]domain.Instance)
	r.mu.Unlock()
}

func (r *Registry) notify(name string) {
	if r.OnChange != nil {
		r.OnChange(name)
	}
}

func validateInstance(inst domain.Instance) error {
	err := validation.ValidateStruct(&inst,
		validation.Field(&inst.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&inst.Channel, validation.Required, validation.By(func(interface{}) error {
			if !inst.Channel.Valid() {
				return validation.NewError("validation_channel", "unrecognized channel kind")
			}
			return nil
		})),
		validation.Field(&inst.AgentAPIURL, validation.Required, is.URL),
		validation.Field(&inst.AgentName, validation.Required),
	)
	if err != nil {
		return err
	}

	switch inst.Channel {
	case domain.ChannelWhatsApp:
		return validation.ValidateStruct(&inst,
			validation.Field(&inst.EvolutionURL, validation.Required, is.URL),
			validation.Field(&inst.EvolutionKey, validation.Required),
			validation.Field(&inst.WhatsAppInstance, validation.Required),
		)
	case domain.ChannelDiscord:
		return validation.ValidateStruct(&inst,
			validation.Field(&inst.DiscordBotToken, validation.Required),
		)
	}
	return nil
}
