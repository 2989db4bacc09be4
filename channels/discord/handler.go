package discord

import (
	"context"
	"encoding/json"
	"time"

	"github.com/automagik/omni/channels"
	instancedomain "github.com/automagik/omni/instance/domain"
	messagedomain "github.com/automagik/omni/message/domain"
	"github.com/automagik/omni/outbound"
	traceusecase "github.com/automagik/omni/trace/usecase"
	userdomain "github.com/automagik/omni/user/domain"
	userusecase "github.com/automagik/omni/user/usecase"
)

// Handler consumes events already normalized by the bot sidecar and
// replies over the sidecar's unix socket.
type Handler struct {
	users      *userusecase.Service
	dispatcher *outbound.Dispatcher
}

func NewHandler(users *userusecase.Service, dispatcher *outbound.Dispatcher) *Handler {
	return &Handler{users: users, dispatcher: dispatcher}
}

func (h *Handler) Kind() instancedomain.ChannelKind {
	return instancedomain.ChannelDiscord
}

// Parse accepts the canonical InboundMessage shape the sidecar forwards
// over the core socket.
func (h *Handler) Parse(inst instancedomain.Instance, raw []byte) (*messagedomain.InboundMessage, error) {
	var msg messagedomain.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.SenderID == "" || msg.ChatID == "" {
		return nil, channels.ErrEventIgnored
	}

	msg.InstanceName = inst.Name
	msg.Channel = string(instancedomain.ChannelDiscord)
	if msg.Kind == "" {
		if msg.Text != "" {
			msg.Kind = messagedomain.KindText
		} else {
			msg.Kind = messagedomain.KindUnsupported
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.Raw = json.RawMessage(raw)
	return &msg, nil
}

func (h *Handler) ResolveUser(ctx context.Context, msg *messagedomain.InboundMessage) (userdomain.User, error) {
	return h.users.ResolveOrCreate(ctx, msg.Channel, msg.SenderID, msg.SenderName)
}

func (h *Handler) Dispatch(ctx context.Context, inst instancedomain.Instance, msg *messagedomain.InboundMessage, reply messagedomain.Reply, tc *traceusecase.Ctx) outbound.Result {
	return h.dispatcher.SendDiscord(ctx, inst, msg.ChatID, reply, nil, tc)
}
