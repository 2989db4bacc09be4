package whatsapp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/automagik/omni/channels"
	instancedomain "github.com/automagik/omni/instance/domain"
	messagedomain "github.com/automagik/omni/message/domain"
	"github.com/automagik/omni/outbound"
	traceusecase "github.com/automagik/omni/trace/usecase"
	userdomain "github.com/automagik/omni/user/domain"
	userusecase "github.com/automagik/omni/user/usecase"
)

const groupSuffix = "@g.us"

// Handler normalizes Evolution webhook envelopes and replies through the
// Evolution HTTP gateway.
type Handler struct {
	users      *userusecase.Service
	dispatcher *outbound.Dispatcher
}

func NewHandler(users *userusecase.Service, dispatcher *outbound.Dispatcher) *Handler {
	return &Handler{users: users, dispatcher: dispatcher}
}

func (h *Handler) Kind() instancedomain.ChannelKind {
	return instancedomain.ChannelWhatsApp
}

// evolutionEnvelope is the provider webhook shape. The simplified flat
// form ({message_id, from, text}) used by direct integrations is also
// accepted.
type evolutionEnvelope struct {
	Event    string         `json:"event"`
	Instance string         `json:"instance"`
	Data     *evolutionData `json:"data"`

	// Flat form
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Text      string `json:"text"`
}

type evolutionData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string           `json:"pushName"`
	MessageType      string           `json:"messageType"`
	MessageTimestamp int64            `json:"messageTimestamp"`
	Message          *evolutionDetail `json:"message"`
}

type evolutionDetail struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text        string `json:"text"`
		ContextInfo *struct {
			StanzaID    string `json:"stanzaId"`
			Participant string `json:"participant"`
		} `json:"contextInfo"`
	} `json:"extendedTextMessage"`
	ImageMessage *struct {
		URL      string `json:"url"`
		MimeType string `json:"mimetype"`
		Caption  string `json:"caption"`
	} `json:"imageMessage"`
	AudioMessage *struct {
		URL      string `json:"url"`
		MimeType string `json:"mimetype"`
	} `json:"audioMessage"`
	ReactionMessage *struct {
		Text string `json:"text"`
		Key  struct {
			ID string `json:"id"`
		} `json:"key"`
	} `json:"reactionMessage"`
}

func (h *Handler) Parse(inst instancedomain.Instance, raw []byte) (*messagedomain.InboundMessage, error) {
	var env evolutionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	// Flat form: direct integrations post the canonical fields.
	if env.Data == nil {
		if env.From == "" {
			return nil, channels.ErrEventIgnored
		}
		msg := &messagedomain.InboundMessage{
			InstanceName: inst.Name,
			Channel:      string(instancedomain.ChannelWhatsApp),
			Kind:         messagedomain.KindText,
			MessageID:    env.MessageID,
			SenderID:     env.From,
			ChatID:       env.From,
			Text:         env.Text,
			Timestamp:    time.Now().UTC(),
			Raw:          json.RawMessage(raw),
		}
		if env.Text == "" {
			msg.Kind = messagedomain.KindUnsupported
		}
		return msg, nil
	}

	if env.Event != "" && env.Event != "messages.upsert" {
		return nil, channels.ErrEventIgnored
	}
	if env.Data.Key.FromMe {
		return nil, channels.ErrEventIgnored
	}

	jid := env.Data.Key.RemoteJID
	msg := &messagedomain.InboundMessage{
		InstanceName: inst.Name,
		Channel:      string(instancedomain.ChannelWhatsApp),
		MessageID:    env.Data.Key.ID,
		SenderID:     phoneFromJID(jid),
		SenderName:   env.Data.PushName,
		ChatID:       phoneFromJID(jid),
		IsGroup:      strings.HasSuffix(jid, groupSuffix),
		Timestamp:    time.Unix(env.Data.MessageTimestamp, 0).UTC(),
		Raw:          json.RawMessage(raw),
	}
	if env.Data.MessageTimestamp == 0 {
		msg.Timestamp = time.Now().UTC()
	}

	detail := env.Data.Message
	switch {
	case detail == nil:
		msg.Kind = messagedomain.KindUnsupported
	case detail.ReactionMessage != nil:
		msg.Kind = messagedomain.KindReaction
		msg.Text = detail.ReactionMessage.Text
	case detail.Conversation != "":
		msg.Kind = messagedomain.KindText
		msg.Text = detail.Conversation
	case detail.ExtendedTextMessage != nil:
		msg.Kind = messagedomain.KindText
		msg.Text = detail.ExtendedTextMessage.Text
		if ci := detail.ExtendedTextMessage.ContextInfo; ci != nil && ci.StanzaID != "" {
			msg.Quoted = &messagedomain.QuotedRef{
				MessageID: ci.StanzaID,
				SenderID:  phoneFromJID(ci.Participant),
			}
		}
	case detail.ImageMessage != nil:
		msg.Kind = messagedomain.KindMedia
		msg.Text = detail.ImageMessage.Caption
		msg.Media = []messagedomain.MediaRef{{
			URL:      detail.ImageMessage.URL,
			MimeType: detail.ImageMessage.MimeType,
			Caption:  detail.ImageMessage.Caption,
		}}
	case detail.AudioMessage != nil:
		msg.Kind = messagedomain.KindAudio
		msg.Media = []messagedomain.MediaRef{{
			URL:      detail.AudioMessage.URL,
			MimeType: detail.AudioMessage.MimeType,
		}}
	default:
		msg.Kind = messagedomain.KindUnsupported
	}

	if msg.IsGroup {
		msg.Kind = messagedomain.KindGroupEvent
	}
	return msg, nil
}

func (h *Handler) ResolveUser(ctx context.Context, msg *messagedomain.InboundMessage) (userdomain.User, error) {
	return h.users.ResolveOrCreate(ctx, msg.Channel, msg.SenderID, msg.SenderName)
}

func (h *Handler) Dispatch(ctx context.Context, inst instancedomain.Instance, msg *messagedomain.InboundMessage, reply messagedomain.Reply, tc *traceusecase.Ctx) outbound.Result {
	return h.dispatcher.SendWhatsApp(ctx, inst, msg.ChatID, reply, nil, tc)
}

// phoneFromJID extracts the E.164-ish number from a WhatsApp JID,
// preserving a leading plus when present.
func phoneFromJID(jid string) string {
	if jid == "" {
		return ""
	}
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		jid = jid[:at]
	}
	if colon := strings.IndexByte(jid, ':'); colon >= 0 {
		jid = jid[:colon]
	}
	if jid != "" && jid[0] != '+' {
		return "+" + jid
	}
	return jid
}
