package domain

import (
	"context"
	"errors"
	"time"
)

type ChannelKind string

const (
	ChannelWhatsApp ChannelKind = "whatsapp"
	ChannelDiscord  ChannelKind = "discord"
)

// Valid reports whether the channel kind is recognized.
func (k ChannelKind) Valid() bool {
	return k == ChannelWhatsApp || k == ChannelDiscord
}

var (
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrInstanceReferenced = errors.New("instance is referenced by message traces")
	ErrNoDefaultInstance  = errors.New("no default instance configured")
)

// Instance is a tenant: a named bundle of channel credentials, agent
// endpoint and behavior flags. Name is unique.
type Instance struct {
	Name    string      `json:"name"`
	Channel ChannelKind `json:"channel_type"`

	// WhatsApp (Evolution gateway) credentials
	EvolutionURL     string `json:"evolution_url,omitempty"`
	EvolutionKey     string `json:"evolution_key,omitempty"`
	WhatsAppInstance string `json:"whatsapp_instance,omitempty"`

	// Discord bot sidecar
	DiscordBotToken string `json:"discord_bot_token,omitempty"`

	// Tenant pre-shared key accepted on the webhook endpoint. The master
	// API key is always accepted as well.
	WebhookSecret string `json:"webhook_secret,omitempty"`

	// Agent endpoint
	AgentAPIURL         string `json:"agent_api_url"`
	AgentAPIKey         string `json:"agent_api_key,omitempty"`
	AgentName           string `json:"default_agent"`
	AgentStream         bool   `json:"agent_stream_mode"`
	AgentTimeoutSeconds int    `json:"agent_timeout"`

	// Behavior flags
	AutoSplit bool `json:"enable_auto_split"`
	IsDefault bool `json:"is_default"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentTimeout returns the configured per-tenant agent deadline, or zero
// when unset (callers fall back to the process default).
func (i Instance) AgentTimeout() time.Duration {
	if i.AgentTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(i.AgentTimeoutSeconds) * time.Second
}

// ListFilter narrows List results. Zero value means no filtering.
type ListFilter struct {
	Channel ChannelKind
	Limit   int
	Offset  int
}

type IInstanceRepository interface {
	Init(ctx context.Context) error
	GetByName(ctx context.Context, name string) (Instance, error)
	List(ctx context.Context, filter ListFilter) ([]Instance, error)
	GetDefault(ctx context.Context) (Instance, error)
	// Save upserts the instance; when IsDefault is set, the previous
	// default flag is cleared in the same transaction.
	Save(ctx context.Context, inst Instance) error
	// Delete removes the instance. Without cascade it fails with
	// ErrInstanceReferenced if traces reference it; with cascade the
	// traces, their payloads and instance-scoped access rules go in the
	// same transaction.
	Delete(ctx context.Context, name string, cascade bool) error
}
