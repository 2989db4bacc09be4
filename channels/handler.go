package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	instancedomain "github.com/automagik/omni/instance/domain"
	messagedomain "github.com/automagik/omni/message/domain"
	"github.com/automagik/omni/outbound"
	traceusecase "github.com/automagik/omni/trace/usecase"
	userdomain "github.com/automagik/omni/user/domain"
)

// ErrEventIgnored marks provider events that carry nothing to process
// (own messages, presence updates, unparseable envelopes of known types).
var ErrEventIgnored = errors.New("event ignored")

// Handler normalizes one channel's payloads and dispatches replies back
// through it.
type Handler interface {
	Kind() instancedomain.ChannelKind
	// Parse turns the raw provider payload into the canonical event.
	Parse(inst instancedomain.Instance, raw []byte) (*messagedomain.InboundMessage, error)
	// ResolveUser looks up or creates the logical user behind the sender.
	ResolveUser(ctx context.Context, msg *messagedomain.InboundMessage) (userdomain.User, error)
	// Dispatch sends the reply through the channel's transport.
	Dispatch(ctx context.Context, inst instancedomain.Instance, msg *messagedomain.InboundMessage, reply messagedomain.Reply, tc *traceusecase.Ctx) outbound.Result
}

// Registry maps channel kinds to their handlers.
type Registry struct {
	handlers map[instancedomain.ChannelKind]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	m := make(map[instancedomain.ChannelKind]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Kind()] = h
	}
	return &Registry{handlers: m}
}

func (r *Registry) Get(kind instancedomain.ChannelKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

var sessionSanitizer = strings.NewReplacer("@", "_", ":", "_", " ", "_", "/", "_", "+", "")

// SessionName derives the stable conversation identifier used for
// agent-side continuity: a canonical function of (instance, channel, chat).
func SessionName(instanceName string, channel instancedomain.ChannelKind, chatID string) string {
	return fmt.Sprintf("%s_%s_%s", instanceName, channel, sessionSanitizer.Replace(chatID))
}
