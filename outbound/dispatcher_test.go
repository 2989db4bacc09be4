package outbound

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	instancedomain "github.com/automagik/omni/instance/domain"
	messagedomain "github.com/automagik/omni/message/domain"
)

func whatsappInstance(url string) instancedomain.Instance {
	return instancedomain.Instance{
		Name:             "wa-main",
		Channel:          instancedomain.ChannelWhatsApp,
		EvolutionURL:     url,
		EvolutionKey:     "evo-key",
		WhatsAppInstance: "main",
		AutoSplit:        true,
	}
}

func TestSendWhatsApp_PostsEverySegment(t *testing.T) {
	var bodies []evolutionSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "evo-key", r.Header.Get("apikey"))
		assert.Equal(t, "/message/sendText/main", r.URL.Path)
		var req evolutionSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		bodies = append(bodies, req)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := NewDispatcher(NewEvolutionSender(), NewBotClient(t.TempDir()))
	res := d.SendWhatsApp(context.Background(), whatsappInstance(srv.URL), "+5511999999999",
		messagedomain.Reply{Text: "hello\n\nworld"}, nil, nil)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.MessageCount)
	require.Len(t, bodies, 2)
	assert.Equal(t, "hello", bodies[0].Text)
	assert.Equal(t, "world", bodies[1].Text)
	assert.Equal(t, "+5511999999999", bodies[0].Number)
}

func TestSendWhatsApp_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(NewEvolutionSender(), NewBotClient(t.TempDir()))
	res := d.SendWhatsApp(context.Background(), whatsappInstance(srv.URL), "+551100",
		messagedomain.Reply{Text: "ping"}, nil, nil)

	assert.True(t, res.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "two extra attempts after the first failure")
}

func TestSendWhatsApp_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDispatcher(NewEvolutionSender(), NewBotClient(t.TempDir()))
	res := d.SendWhatsApp(context.Background(), whatsappInstance(srv.URL), "+551100",
		messagedomain.Reply{Text: "ping"}, nil, nil)

	assert.False(t, res.Success)
	assert.Equal(t, ErrKindHTTP, res.ErrorKind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestSendWhatsApp_StopsAtFirstFailedSegment(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDispatcher(NewEvolutionSender(), NewBotClient(t.TempDir()))
	res := d.SendWhatsApp(context.Background(), whatsappInstance(srv.URL), "+551100",
		messagedomain.Reply{Text: "one\n\ntwo\n\nthree"}, nil, nil)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.MessageCount, "count reflects delivered segments only")
}

func TestSendWhatsApp_SplitOverrideDisablesSplitting(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	noSplit := false
	d := NewDispatcher(NewEvolutionSender(), NewBotClient(t.TempDir()))
	res := d.SendWhatsApp(context.Background(), whatsappInstance(srv.URL), "+551100",
		messagedomain.Reply{Text: "one\n\ntwo"}, &noSplit, nil)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.MessageCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSendWhatsApp_HungGatewayHitsAttemptDeadline(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := NewDispatcher(NewEvolutionSender(), NewBotClient(t.TempDir()))
	d.sendTimeout = 50 * time.Millisecond

	// The worker context carries no deadline; the per-attempt timeout must
	// still cut the call off.
	res := d.SendWhatsApp(context.Background(), whatsappInstance(srv.URL), "+551100",
		messagedomain.Reply{Text: "ping"}, nil, nil)

	assert.False(t, res.Success)
	assert.Equal(t, ErrKindTimeout, res.ErrorKind)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "timeouts are transient and retried")
}

// startBotSocket serves the sidecar protocol on the instance's socket path.
func startBotSocket(t *testing.T, runDir, instance string, handler http.Handler) {
	t.Helper()
	dir := filepath.Join(runDir, "sockets")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	ln, err := net.Listen("unix", filepath.Join(dir, "discord-"+instance+".sock"))
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
}

func TestSendDiscord_OverUnixSocket(t *testing.T) {
	runDir := t.TempDir()
	var got BotSendRequest
	startBotSocket(t, runDir, "disc-main", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(BotSendResponse{Success: true, MessageID: "42"})
	}))

	inst := instancedomain.Instance{
		Name:      "disc-main",
		Channel:   instancedomain.ChannelDiscord,
		AutoSplit: true,
	}
	d := NewDispatcher(NewEvolutionSender(), NewBotClient(runDir))
	res := d.SendDiscord(context.Background(), inst, "chan-1", messagedomain.Reply{Text: "hi there"}, nil, nil)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.MessageCount)
	assert.Equal(t, "chan-1", got.ChannelID)
	assert.Equal(t, "hi there", got.Text)
}

func TestSendDiscord_MissingSocketIsBotMissing(t *testing.T) {
	inst := instancedomain.Instance{Name: "ghost", Channel: instancedomain.ChannelDiscord}
	d := NewDispatcher(NewEvolutionSender(), NewBotClient(t.TempDir()))

	res := d.SendDiscord(context.Background(), inst, "chan-1", messagedomain.Reply{Text: "hi"}, nil, nil)

	assert.False(t, res.Success)
	assert.Equal(t, ErrKindBotMissing, res.ErrorKind)
	assert.Equal(t, 0, res.MessageCount)
}

func TestBotClient_Health(t *testing.T) {
	runDir := t.TempDir()
	startBotSocket(t, runDir, "disc-main", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(BotHealthResponse{Status: "healthy", UptimeS: 12})
	}))

	health, err := NewBotClient(runDir).Health(context.Background(), "disc-main")
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}
