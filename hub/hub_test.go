package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accessdomain "github.com/automagik/omni/access/domain"
	accessusecase "github.com/automagik/omni/access/usecase"
	"github.com/automagik/omni/agent"
	"github.com/automagik/omni/channels"
	"github.com/automagik/omni/channels/whatsapp"
	"github.com/automagik/omni/core/config"
	instancedomain "github.com/automagik/omni/instance/domain"
	instanceusecase "github.com/automagik/omni/instance/usecase"
	"github.com/automagik/omni/outbound"
	"github.com/automagik/omni/pkg/msgworker"
	tracedomain "github.com/automagik/omni/trace/domain"
	traceusecase "github.com/automagik/omni/trace/usecase"
	userdomain "github.com/automagik/omni/user/domain"
	userusecase "github.com/automagik/omni/user/usecase"
)

// ---- in-memory repositories ----

type memAccessRepo struct {
	mu    sync.Mutex
	rules []accessdomain.AccessRule
	next  uint
}

func (r *memAccessRepo) Init(context.Context) error { return nil }

func (r *memAccessRepo) Candidates(_ context.Context, instanceName string) ([]accessdomain.AccessRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []accessdomain.AccessRule
	for _, rule := range r.rules {
		if rule.InstanceName == "" || rule.InstanceName == instanceName {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memAccessRepo) List(ctx context.Context, instanceName string) ([]accessdomain.AccessRule, error) {
	return r.Candidates(ctx, instanceName)
}

func (r *memAccessRepo) Create(_ context.Context, rule accessdomain.AccessRule) (accessdomain.AccessRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	rule.ID = r.next
	r.rules = append(r.rules, rule)
	return rule, nil
}

func (r *memAccessRepo) Delete(context.Context, uint) error { return nil }

type memTraceRepo struct {
	mu       sync.Mutex
	traces   map[string]tracedomain.MessageTrace
	payloads []tracedomain.TracePayload
}

func newMemTraceRepo() *memTraceRepo {
	return &memTraceRepo{traces: make(map[string]tracedomain.MessageTrace)}
}

func (r *memTraceRepo) Init(context.Context) error { return nil }

func (r *memTraceRepo) CreateTrace(_ context.Context, t tracedomain.MessageTrace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[t.TraceID] = t
	return nil
}

func (r *memTraceRepo) UpdateTrace(_ context.Context, t tracedomain.MessageTrace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[t.TraceID] = t
	return nil
}

func (r *memTraceRepo) GetTrace(_ context.Context, id string) (tracedomain.MessageTrace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.traces[id]
	if !ok {
		return tracedomain.MessageTrace{}, tracedomain.ErrTraceNotFound
	}
	return t, nil
}

func (r *memTraceRepo) ListTraces(context.Context, tracedomain.TraceFilter) ([]tracedomain.MessageTrace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tracedomain.MessageTrace, 0, len(r.traces))
	for _, t := range r.traces {
		out = append(out, t)
	}
	return out, nil
}

func (r *memTraceRepo) CreatePayload(_ context.Context, p tracedomain.TracePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *memTraceRepo) ListPayloads(_ context.Context, id string) ([]tracedomain.TracePayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []tracedomain.TracePayload
	for _, p := range r.payloads {
		if p.TraceID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memTraceRepo) DeleteOlderThan(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

func (r *memTraceRepo) single(t *testing.T) tracedomain.MessageTrace {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.traces, 1)
	for _, trace := range r.traces {
		return trace
	}
	return tracedomain.MessageTrace{}
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]userdomain.User
	links map[string]string // channel|external -> user id
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]userdomain.User), links: make(map[string]string)}
}

func (r *memUserRepo) Init(context.Context) error { return nil }

func (r *memUserRepo) GetUser(_ context.Context, id string) (userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return userdomain.User{}, userdomain.ErrUserNotFound
	}
	return u, nil
}

func (r *memUserRepo) CreateUser(_ context.Context, u userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *memUserRepo) FindByExternalID(_ context.Context, channel, externalID string) (userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.links[channel+"|"+externalID]; ok {
		return r.users[id], nil
	}
	return userdomain.User{}, userdomain.ErrUserNotFound
}

func (r *memUserRepo) Link(_ context.Context, userID, channel, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := channel + "|" + externalID
	if existing, ok := r.links[key]; ok && existing != userID {
		return userdomain.ErrExternalIDLinked
	}
	r.links[key] = userID
	return nil
}

func (r *memUserRepo) ListExternalIDs(context.Context, string) ([]userdomain.ExternalID, error) {
	return nil, nil
}

// ---- fixture ----

type fixture struct {
	processor *Processor
	traces    *memTraceRepo
	access    *memAccessRepo
	inst      instancedomain.Instance
	handler   channels.Handler
}

func newFixture(t *testing.T, agentURL, evolutionURL string) *fixture {
	t.Helper()

	traces := newMemTraceRepo()
	access := &memAccessRepo{}
	users := userusecase.NewService(newMemUserRepo())

	dispatcher := outbound.NewDispatcher(outbound.NewEvolutionSender(), outbound.NewBotClient(t.TempDir()))
	waHandler := whatsapp.NewHandler(users, dispatcher)
	handlers := channels.NewRegistry(waHandler)

	pipeline := traceusecase.NewPipeline(traces, config.TraceConfig{
		Enabled:         true,
		RetentionDays:   30,
		MaxPayloadBytes: 1 << 20,
	})
	agentClient := agent.NewClient(agent.NewMemorySessionStore(), 5*time.Second)

	registry := instanceusecase.NewRegistry(&staticInstanceRepo{})
	pool := msgworker.NewPool(2, 16)

	inst := instancedomain.Instance{
		Name:             "wa-main",
		Channel:          instancedomain.ChannelWhatsApp,
		EvolutionURL:     evolutionURL,
		EvolutionKey:     "evo-key",
		WhatsAppInstance: "main",
		AgentAPIURL:      agentURL,
		AgentName:        "support",
		AutoSplit:        true,
	}

	return &fixture{
		processor: NewProcessor(registry, handlers, accessusecase.NewEngine(access), agentClient, pipeline, pool),
		traces:    traces,
		access:    access,
		inst:      inst,
		handler:   waHandler,
	}
}

type staticInstanceRepo struct{}

func (staticInstanceRepo) Init(context.Context) error { return nil }
func (staticInstanceRepo) GetByName(context.Context, string) (instancedomain.Instance, error) {
	return instancedomain.Instance{}, instancedomain.ErrInstanceNotFound
}
func (staticInstanceRepo) List(context.Context, instancedomain.ListFilter) ([]instancedomain.Instance, error) {
	return nil, nil
}
func (staticInstanceRepo) GetDefault(context.Context) (instancedomain.Instance, error) {
	return instancedomain.Instance{}, instancedomain.ErrNoDefaultInstance
}
func (staticInstanceRepo) Save(context.Context, instancedomain.Instance) error { return nil }
func (staticInstanceRepo) Delete(context.Context, string, bool) error { return nil }

func textEvent(phone, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "%s@s.whatsapp.net", "fromMe": false, "id": "MSG1"},
			"pushName": "Alice",
			"message": {"conversation": %q}
		}
	}`, phone, text))
}

func (f *fixture) process(t *testing.T, raw []byte) {
	t.Helper()
	f.processWith(t, context.Background(), raw)
}

func (f *fixture) processWith(t *testing.T, ctx context.Context, raw []byte) {
	t.Helper()
	msg, err := f.handler.Parse(f.inst, raw)
	require.NoError(t, err)
	session := channels.SessionName(f.inst.Name, f.inst.Channel, msg.ChatID)
	f.processor.Process(ctx, f.inst, f.handler, msg, session)
}

// ---- tests ----

func TestProcess_HappyPath(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": "agent says hi", "session_id": "as-1"})
	}))
	defer agentSrv.Close()

	var sent []string
	evoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		sent = append(sent, body.Text)
		w.WriteHeader(http.StatusOK)
	}))
	defer evoSrv.Close()

	f := newFixture(t, agentSrv.URL, evoSrv.URL)
	f.process(t, textEvent("5511999999999", "hello"))

	trace := f.traces.single(t)
	assert.Equal(t, tracedomain.StatusCompleted, trace.Status)
	assert.Equal(t, "as-1", trace.AgentSessionID)
	require.NotNil(t, trace.AgentResponseSuccess)
	assert.True(t, *trace.AgentResponseSuccess)
	require.NotNil(t, trace.EvolutionSuccess)
	assert.True(t, *trace.EvolutionSuccess)
	assert.Equal(t, []string{"agent says hi"}, sent)

	payloads, err := f.traces.ListPayloads(context.Background(), trace.TraceID)
	require.NoError(t, err)
	stages := make(map[tracedomain.Stage]bool)
	for _, p := range payloads {
		stages[p.Stage] = true
	}
	for _, want := range []tracedomain.Stage{
		tracedomain.StageWebhookReceived,
		tracedomain.StageAgentRequest,
		tracedomain.StageAgentResponse,
		tracedomain.StageOutboundRequest,
		tracedomain.StageOutboundResponse,
	} {
		assert.True(t, stages[want], "missing stage %s", want)
	}
	assert.False(t, stages[tracedomain.StageAccessCheck], "allowed senders leave no access payload")
}

func TestProcess_BlockedSenderClosesAccessDenied(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "http://unused.invalid")
	_, err := f.access.Create(context.Background(), accessdomain.AccessRule{
		PhonePattern: "5511*",
		RuleType:     accessdomain.RuleBlock,
	})
	require.NoError(t, err)

	f.process(t, textEvent("5511999999999", "let me in"))

	trace := f.traces.single(t)
	assert.Equal(t, tracedomain.StatusAccessDenied, trace.Status)
	assert.Empty(t, trace.ErrorStage)

	payloads, err := f.traces.ListPayloads(context.Background(), trace.TraceID)
	require.NoError(t, err)
	require.Len(t, payloads, 2, "webhook payload plus the deny decision")
	assert.Equal(t, tracedomain.StageWebhookReceived, payloads[0].Stage)
	assert.Equal(t, tracedomain.StageAccessCheck, payloads[1].Stage)
}

func TestProcess_AgentFailureClosesFailed(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer agentSrv.Close()

	f := newFixture(t, agentSrv.URL, "http://unused.invalid")
	f.process(t, textEvent("5511999999999", "hello"))

	trace := f.traces.single(t)
	assert.Equal(t, tracedomain.StatusFailed, trace.Status)
	assert.Equal(t, "agent_request", trace.ErrorStage)
	require.NotNil(t, trace.AgentResponseSuccess)
	assert.False(t, *trace.AgentResponseSuccess)
}

func TestProcess_OutboundFailureClosesFailed(t *testing.T) {
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": "reply", "session_id": "as-1"})
	}))
	defer agentSrv.Close()

	evoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer evoSrv.Close()

	f := newFixture(t, agentSrv.URL, evoSrv.URL)
	f.process(t, textEvent("5511999999999", "hello"))

	trace := f.traces.single(t)
	assert.Equal(t, tracedomain.StatusFailed, trace.Status)
	assert.Equal(t, "outbound_request", trace.ErrorStage)
	require.NotNil(t, trace.EvolutionSuccess)
	assert.False(t, *trace.EvolutionSuccess)
}

func TestProcess_CancelledContextClosesAsShutdown(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1", "http://unused.invalid")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.processWith(t, ctx, textEvent("5511999999999", "hello"))

	trace := f.traces.single(t)
	assert.Equal(t, tracedomain.StatusFailed, trace.Status)
	assert.Equal(t, "shutdown", trace.ErrorStage)
	assert.Equal(t, "process shutting down", trace.ErrorMessage)
}

func TestProcess_ReactionCompletesWithoutAgent(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "http://unused.invalid")

	raw := []byte(`{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "id": "MSG9"},
			"message": {"reactionMessage": {"text": "👍", "key": {"id": "ORIG"}}}
		}
	}`)
	f.process(t, raw)

	trace := f.traces.single(t)
	assert.Equal(t, tracedomain.StatusCompleted, trace.Status)
	assert.Nil(t, trace.AgentResponseSuccess, "agent is never called for reactions")
}

func TestEnqueue_IgnoredEventIsNotQueued(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "http://unused.invalid")

	err := f.processor.Enqueue(context.Background(), f.inst, []byte(`{"event": "presence.update", "data": {"key": {"remoteJid": "x"}}}`))
	assert.NoError(t, err)
	assert.Empty(t, f.traces.traces)
}

func TestEnqueue_UnknownChannelErrors(t *testing.T) {
	f := newFixture(t, "http://unused.invalid", "http://unused.invalid")

	inst := f.inst
	inst.Channel = instancedomain.ChannelDiscord
	err := f.processor.Enqueue(context.Background(), inst, []byte(`{}`))
	assert.Error(t, err)
}
