package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	accessusecase "github.com/automagik/omni/access/usecase"
	"github.com/automagik/omni/agent"
	"github.com/automagik/omni/channels"
	instancedomain "github.com/automagik/omni/instance/domain"
	instanceusecase "github.com/automagik/omni/instance/usecase"
	messagedomain "github.com/automagik/omni/message/domain"
	"github.com/automagik/omni/pkg/msgworker"
	tracedomain "github.com/automagik/omni/trace/domain"
	traceusecase "github.com/automagik/omni/trace/usecase"
)

// ErrQueueFull signals backpressure: the session's shard queue rejected
// the event and the caller should answer 429.
var ErrQueueFull = errors.New("worker queue full")

// Processor runs the inbound pipeline: parse, trace, access check, agent
// call, outbound dispatch. One instance serves every channel.
type Processor struct {
	registry *instanceusecase.Registry
	handlers *channels.Registry
	access   *accessusecase.Engine
	agent    *agent.Client
	traces   *traceusecase.Pipeline
	pool     *msgworker.Pool
}

func NewProcessor(
	registry *instanceusecase.Registry,
	handlers *channels.Registry,
	access *accessusecase.Engine,
	agentClient *agent.Client,
	traces *traceusecase.Pipeline,
	pool *msgworker.Pool,
) *Processor {
	return &Processor{
		registry: registry,
		handlers: handlers,
		access:   access,
		agent:    agentClient,
		traces:   traces,
		pool:     pool,
	}
}

// Enqueue parses the raw provider payload and hands the event to the
// worker pool. Ignored events return nil without queueing anything; a
// full queue returns ErrQueueFull.
func (p *Processor) Enqueue(ctx context.Context, inst instancedomain.Instance, raw []byte) error {
	handler, ok := p.handlers.Get(inst.Channel)
	if !ok {
		return errors.New("no handler for channel " + string(inst.Channel))
	}

	msg, err := handler.Parse(inst, raw)
	if err != nil {
		if errors.Is(err, channels.ErrEventIgnored) {
			logrus.WithField("instance", inst.Name).Debug("[HUB] Event ignored")
			return nil
		}
		return err
	}

	sessionName := channels.SessionName(inst.Name, inst.Channel, msg.ChatID)
	ok = p.pool.TryDispatch(msgworker.Job{
		InstanceName: inst.Name,
		SessionName:  sessionName,
		Handler: func(jobCtx context.Context) error {
			p.Process(jobCtx, inst, handler, msg, sessionName)
			return nil
		},
	})
	if !ok {
		return ErrQueueFull
	}
	return nil
}

// Process runs one event through the full pipeline. Every exit path
// closes the trace with a terminal status.
func (p *Processor) Process(ctx context.Context, inst instancedomain.Instance, handler channels.Handler, msg *messagedomain.InboundMessage, sessionName string) {
	tc := p.traces.Open(ctx, traceusecase.OpenParams{
		InstanceName: inst.Name,
		MessageID:    msg.MessageID,
		SenderID:     msg.SenderID,
		SenderName:   msg.SenderName,
		MessageType:  string(msg.Kind),
		HasMedia:     len(msg.Media) > 0,
		HasQuoted:    msg.Quoted != nil,
		SessionName:  sessionName,
	})
	defer CloseOnShutdown(context.Background(), tc)
	tc.Capture(ctx, tracedomain.StageWebhookReceived, tracedomain.DirectionInbound, json.RawMessage(msg.Raw))

	log := logrus.WithFields(logrus.Fields{
		"instance": inst.Name,
		"session":  sessionName,
		"trace_id": tc.TraceID(),
	})

	// Reactions, group events and unsupported types are traced but not
	// forwarded to the agent.
	if !msg.Kind.Actionable() {
		log.WithField("kind", msg.Kind).Debug("[HUB] Non-actionable event, completing trace")
		tc.Close(ctx, tracedomain.StatusCompleted, "", "")
		return
	}

	user, err := handler.ResolveUser(ctx, msg)
	if err != nil {
		log.WithError(err).Error("[HUB] User resolution failed")
		tc.Close(ctx, tracedomain.StatusFailed, "user_resolution", err.Error())
		return
	}

	// Access rules are phone-pattern scoped, so only WhatsApp senders are
	// checked; discord identities carry no phone to match.
	if inst.Channel == instancedomain.ChannelWhatsApp {
		decision, err := p.access.Check(ctx, msg.SenderID, inst.Name)
		if err != nil {
			log.WithError(err).Error("[HUB] Access check failed")
			tc.Close(ctx, tracedomain.StatusFailed, "access_check", err.Error())
			return
		}
		if !decision.Allowed {
			tc.Capture(ctx, tracedomain.StageAccessCheck, tracedomain.DirectionInternal, decision)
			log.WithField("sender", msg.SenderID).Info("[HUB] Sender blocked by access rules")
			tc.Close(ctx, tracedomain.StatusAccessDenied, "", "")
			return
		}
	}

	tc.MarkProcessing(ctx)

	callInput := agent.CallInput{
		SessionName: sessionName,
		UserID:      user.ID,
		Message:     msg.Text,
	}
	tc.Capture(ctx, tracedomain.StageAgentRequest, tracedomain.DirectionOutbound, map[string]interface{}{
		"agent":        inst.AgentName,
		"session_name": sessionName,
		"user_id":      user.ID,
		"message":      msg.Text,
		"stream":       inst.AgentStream,
	})

	res := p.agent.Call(ctx, inst, callInput)
	tc.MarkAgent(res.ProcessingMs, res.Success)
	if res.AgentSessionID != "" {
		tc.SetAgentSession(res.AgentSessionID)
	}

	agentCapture := map[string]interface{}{
		"success":       res.Success,
		"processing_ms": res.ProcessingMs,
	}
	if res.Success {
		agentCapture["content"] = res.Text
		agentCapture["session_id"] = res.AgentSessionID
	} else {
		agentCapture["error_kind"] = res.ErrorKind
		if res.Err != nil {
			agentCapture["error"] = res.Err.Error()
		}
	}
	tc.Capture(ctx, tracedomain.StageAgentResponse, tracedomain.DirectionInbound, agentCapture)

	if !res.Success {
		// A cancelled worker context means the process is going down, not
		// that the agent failed.
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Info("[HUB] Agent call aborted by shutdown")
			tc.Close(context.Background(), tracedomain.StatusFailed, "shutdown", "process shutting down")
			return
		}
		log.WithField("error_kind", res.ErrorKind).Error("[HUB] Agent call failed")
		msgText := res.ErrorKind
		if res.Err != nil {
			msgText = res.Err.Error()
		}
		tc.Close(ctx, tracedomain.StatusFailed, "agent_request", msgText)
		return
	}
	if res.Text == "" {
		log.Debug("[HUB] Agent returned empty reply, nothing to dispatch")
		tc.Close(ctx, tracedomain.StatusCompleted, "", "")
		return
	}

	reply := messagedomain.Reply{Text: res.Text, AgentSessionID: res.AgentSessionID}
	out := handler.Dispatch(ctx, inst, msg, reply, tc)
	tc.MarkOutbound(out.Success)
	if !out.Success {
		errText := out.ErrorKind
		if out.Err != nil {
			errText = out.Err.Error()
		}
		tc.Close(ctx, tracedomain.StatusFailed, "outbound_request", errText)
		return
	}

	log.WithField("segments", out.MessageCount).Info("[HUB] Event processed")
	tc.Close(ctx, tracedomain.StatusCompleted, "", "")
}

// CloseOnShutdown marks a trace still open at process exit as failed so
// no row is left in a non-terminal status.
func CloseOnShutdown(ctx context.Context, tc *traceusecase.Ctx) {
	if tc != nil && !tc.Closed() {
		tc.Close(ctx, tracedomain.StatusFailed, "shutdown", "process shutting down")
	}
}
