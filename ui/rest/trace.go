package rest

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/automagik/omni/pkg/utils"
	tracedomain "github.com/automagik/omni/trace/domain"
	traceusecase "github.com/automagik/omni/trace/usecase"
)

type Trace struct {
	Pipeline *traceusecase.Pipeline
}

func InitRestTrace(app fiber.Router, pipeline *traceusecase.Pipeline) Trace {
	handler := Trace{Pipeline: pipeline}

	group := app.Group("/traces")
	group.Get("/", handler.List)
	group.Get("/:trace_id", handler.Get)
	group.Get("/:trace_id/payloads", handler.Payloads)

	return handler
}

func (h *Trace) List(c *fiber.Ctx) error {
	filter := tracedomain.TraceFilter{
		InstanceName: c.Query("instance_name"),
		Status:       tracedomain.TraceStatus(c.Query("status")),
		SessionName:  c.Query("session_name"),
		Limit:        c.QueryInt("limit", 50),
		Offset:       c.QueryInt("offset", 0),
	}

	traces, err := h.Pipeline.Repository().ListTraces(c.UserContext(), filter)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Traces retrieved",
		Results: traces,
	})
}

func (h *Trace) Get(c *fiber.Ctx) error {
	trace, err := h.Pipeline.Repository().GetTrace(c.UserContext(), c.Params("trace_id"))
	if err != nil {
		if errors.Is(err, tracedomain.ErrTraceNotFound) {
			return notFound(c, "Trace not found")
		}
		return internalError(c, err)
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Trace retrieved",
		Results: trace,
	})
}

// payloadView inlines the stored JSON payload instead of base64-encoding
// the raw bytes.
type payloadView struct {
	tracedomain.TracePayload
	Payload json.RawMessage `json:"payload"`
}

func (h *Trace) Payloads(c *fiber.Ctx) error {
	traceID := c.Params("trace_id")
	if _, err := h.Pipeline.Repository().GetTrace(c.UserContext(), traceID); err != nil {
		if errors.Is(err, tracedomain.ErrTraceNotFound) {
			return notFound(c, "Trace not found")
		}
		return internalError(c, err)
	}

	payloads, err := h.Pipeline.Repository().ListPayloads(c.UserContext(), traceID)
	if err != nil {
		return internalError(c, err)
	}

	views := make([]payloadView, 0, len(payloads))
	for _, p := range payloads {
		views = append(views, payloadView{TracePayload: p, Payload: json.RawMessage(p.Payload)})
	}
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Trace payloads retrieved",
		Results: views,
	})
}
