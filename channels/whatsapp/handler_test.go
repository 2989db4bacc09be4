package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automagik/omni/channels"
	instancedomain "github.com/automagik/omni/instance/domain"
	messagedomain "github.com/automagik/omni/message/domain"
)

var testInstance = instancedomain.Instance{
	Name:    "wa-main",
	Channel: instancedomain.ChannelWhatsApp,
}

func TestParse_EvolutionTextEnvelope(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": "MSG1"},
			"pushName": "Alice",
			"messageTimestamp": 1721310000,
			"message": {"conversation": "hello there"}
		}
	}`)

	h := NewHandler(nil, nil)
	msg, err := h.Parse(testInstance, raw)
	require.NoError(t, err)

	assert.Equal(t, messagedomain.KindText, msg.Kind)
	assert.Equal(t, "MSG1", msg.MessageID)
	assert.Equal(t, "+5511999999999", msg.SenderID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, "hello there", msg.Text)
	assert.False(t, msg.IsGroup)
	assert.Equal(t, "wa-main", msg.InstanceName)
}

func TestParse_FlatForm(t *testing.T) {
	raw := []byte(`{"message_id": "M2", "from": "+5511988887777", "text": "oi"}`)

	h := NewHandler(nil, nil)
	msg, err := h.Parse(testInstance, raw)
	require.NoError(t, err)

	assert.Equal(t, messagedomain.KindText, msg.Kind)
	assert.Equal(t, "M2", msg.MessageID)
	assert.Equal(t, "+5511988887777", msg.SenderID)
	assert.Equal(t, "oi", msg.Text)
}

func TestParse_OwnMessageIgnored(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": true, "id": "MSG3"},
			"message": {"conversation": "me talking"}
		}
	}`)

	h := NewHandler(nil, nil)
	_, err := h.Parse(testInstance, raw)
	assert.ErrorIs(t, err, channels.ErrEventIgnored)
}

func TestParse_OtherEventIgnored(t *testing.T) {
	raw := []byte(`{"event": "presence.update", "data": {"key": {"remoteJid": "x@s.whatsapp.net"}}}`)

	h := NewHandler(nil, nil)
	_, err := h.Parse(testInstance, raw)
	assert.ErrorIs(t, err, channels.ErrEventIgnored)
}

func TestParse_ExtendedTextWithQuote(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "MSG4"},
			"message": {
				"extendedTextMessage": {
					"text": "replying to you",
					"contextInfo": {"stanzaId": "ORIG1", "participant": "5511988887777@s.whatsapp.net"}
				}
			}
		}
	}`)

	h := NewHandler(nil, nil)
	msg, err := h.Parse(testInstance, raw)
	require.NoError(t, err)

	assert.Equal(t, messagedomain.KindText, msg.Kind)
	require.NotNil(t, msg.Quoted)
	assert.Equal(t, "ORIG1", msg.Quoted.MessageID)
	assert.Equal(t, "+5511988887777", msg.Quoted.SenderID)
}

func TestParse_ImageMessage(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "MSG5"},
			"message": {"imageMessage": {"url": "https://cdn/img.jpg", "mimetype": "image/jpeg", "caption": "look"}}
		}
	}`)

	h := NewHandler(nil, nil)
	msg, err := h.Parse(testInstance, raw)
	require.NoError(t, err)

	assert.Equal(t, messagedomain.KindMedia, msg.Kind)
	require.Len(t, msg.Media, 1)
	assert.Equal(t, "https://cdn/img.jpg", msg.Media[0].URL)
	assert.Equal(t, "look", msg.Text)
	assert.True(t, msg.Kind.Actionable())
}

func TestParse_ReactionIsNotActionable(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "MSG6"},
			"message": {"reactionMessage": {"text": "👍", "key": {"id": "ORIG2"}}}
		}
	}`)

	h := NewHandler(nil, nil)
	msg, err := h.Parse(testInstance, raw)
	require.NoError(t, err)

	assert.Equal(t, messagedomain.KindReaction, msg.Kind)
	assert.False(t, msg.Kind.Actionable())
}

func TestParse_GroupMessageBecomesGroupEvent(t *testing.T) {
	raw := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "123456789@g.us", "id": "MSG7"},
			"message": {"conversation": "group chatter"}
		}
	}`)

	h := NewHandler(nil, nil)
	msg, err := h.Parse(testInstance, raw)
	require.NoError(t, err)

	assert.True(t, msg.IsGroup)
	assert.Equal(t, messagedomain.KindGroupEvent, msg.Kind)
	assert.False(t, msg.Kind.Actionable())
}

func TestSessionName_Canonical(t *testing.T) {
	name := channels.SessionName("wa-main", instancedomain.ChannelWhatsApp, "+5511999999999")
	assert.Equal(t, "wa-main_whatsapp_5511999999999", name)

	same := channels.SessionName("wa-main", instancedomain.ChannelWhatsApp, "+5511999999999")
	assert.Equal(t, name, same)
}
