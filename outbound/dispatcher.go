package outbound

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	instancedomain "github.com/automagik/omni/instance/domain"
	messagedomain "github.com/automagik/omni/message/domain"
	tracedomain "github.com/automagik/omni/trace/domain"
	traceusecase "github.com/automagik/omni/trace/usecase"
)

const (
	maxExtraAttempts = 2
	backoffBase      = 100 * time.Millisecond
	backoffFactor    = 2
	backoffJitter    = 0.25

	// DefaultSendTimeout bounds each outbound attempt so a hung gateway
	// cannot stall the session's worker shard.
	DefaultSendTimeout = 5 * time.Second
)

// Result is the outcome of one reply dispatch. MessageCount reflects the
// segments actually delivered, even on partial failure.
type Result struct {
	Success      bool   `json:"success"`
	MessageCount int    `json:"message_count"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Err          error  `json:"-"`
}

// Dispatcher splits reply text and pushes the segments through the
// channel's transport with per-segment retries.
type Dispatcher struct {
	evolution   *EvolutionSender
	bots        *BotClient
	sendTimeout time.Duration
}

func NewDispatcher(evolution *EvolutionSender, bots *BotClient) *Dispatcher {
	return &Dispatcher{evolution: evolution, bots: bots, sendTimeout: DefaultSendTimeout}
}

// Bots exposes the sidecar client for health probing.
func (d *Dispatcher) Bots() *BotClient { return d.bots }

// SendWhatsApp dispatches the reply to the Evolution gateway.
func (d *Dispatcher) SendWhatsApp(ctx context.Context, inst instancedomain.Instance, number string, reply messagedomain.Reply, splitOverride *bool, tc *traceusecase.Ctx) Result {
	segments := SplitWhatsApp(reply.Text, resolveSplit(splitOverride, inst))
	return d.sendSegments(ctx, inst, segments, tc, func(attemptCtx context.Context, segment string) *SendError {
		return d.evolution.SendText(attemptCtx, inst, number, segment)
	}, func(segment string, index int) interface{} {
		return map[string]interface{}{
			"transport": "evolution",
			"number":    number,
			"text":      segment,
			"segment":   index + 1,
		}
	})
}

// SendDiscord dispatches the reply to the bot sidecar over its socket.
func (d *Dispatcher) SendDiscord(ctx context.Context, inst instancedomain.Instance, channelID string, reply messagedomain.Reply, splitOverride *bool, tc *traceusecase.Ctx) Result {
	segments := SplitDiscord(reply.Text, resolveSplit(splitOverride, inst))
	return d.sendSegments(ctx, inst, segments, tc, func(attemptCtx context.Context, segment string) *SendError {
		_, serr := d.bots.Send(attemptCtx, inst.Name, channelID, segment)
		return serr
	}, func(segment string, index int) interface{} {
		return map[string]interface{}{
			"transport":  "discord_socket",
			"channel_id": channelID,
			"text":       segment,
			"segment":    index + 1,
		}
	})
}

func (d *Dispatcher) sendSegments(
	ctx context.Context,
	inst instancedomain.Instance,
	segments []string,
	tc *traceusecase.Ctx,
	send func(ctx context.Context, segment string) *SendError,
	describe func(segment string, index int) interface{},
) Result {
	res := Result{Success: true}
	for i, segment := range segments {
		if tc != nil {
			tc.Capture(ctx, tracedomain.StageOutboundRequest, tracedomain.DirectionOutbound, describe(segment, i))
		}
		if serr := d.sendWithRetry(ctx, send, segment); serr != nil {
			res.Success = false
			res.ErrorKind = serr.Kind
			res.Err = serr
			logrus.WithError(serr).WithFields(logrus.Fields{
				"instance": inst.Name,
				"segment":  i + 1,
				"total":    len(segments),
			}).Warn("[DISPATCH] Segment dispatch failed")
			break
		}
		res.MessageCount++
	}

	if tc != nil {
		summary := map[string]interface{}{
			"success":       res.Success,
			"message_count": res.MessageCount,
			"segments":      len(segments),
		}
		if res.Err != nil {
			summary["error"] = res.Err.Error()
			summary["error_kind"] = res.ErrorKind
		}
		tc.Capture(ctx, tracedomain.StageOutboundResponse, tracedomain.DirectionInternal, summary)
	}
	return res
}

// sendWithRetry retries transient failures up to two extra attempts with
// exponential backoff (100 ms base, factor 2, ±25 % jitter).
func (d *Dispatcher) sendWithRetry(ctx context.Context, send func(ctx context.Context, segment string) *SendError, segment string) *SendError {
	var last *SendError
	for attempt := 0; attempt <= maxExtraAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(jitteredBackoff(attempt)):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		last = send(attemptCtx, segment)
		cancel()
		if last == nil {
			return nil
		}
		if !last.Retryable() {
			return last
		}
	}
	return last
}

func jitteredBackoff(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
	}
	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

func resolveSplit(override *bool, inst instancedomain.Instance) bool {
	if override != nil {
		return *override
	}
	return inst.AutoSplit
}
