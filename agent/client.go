package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	instancedomain "github.com/automagik/omni/instance/domain"
)

// Error kinds classified on a failed agent call.
const (
	ErrKindTimeout   = "agent_timeout"
	ErrKindTransport = "agent_transport"
)

// ErrKindHTTP builds the classification for a non-2xx response.
func ErrKindHTTP(status int) string { return fmt.Sprintf("agent_http_%d", status) }

// Stream event names produced by the agent playground endpoint.
const (
	eventRunStarted         = "RunStarted"
	eventRunResponseContent = "RunResponseContent"
	eventRunCompleted       = "RunCompleted"
)

// CallInput carries one agent invocation.
type CallInput struct {
	SessionName string
	UserID      string
	Message     string
}

// CallResult is the agent's answer plus timing and classification.
type CallResult struct {
	Text           string
	AgentSessionID string
	ProcessingMs   int64
	Success        bool
	ErrorKind      string
	Err            error
}

// Client calls the tenant-configured agent endpoint. Stateless except for
// the session store that keeps agent-side continuity per conversation.
type Client struct {
	hc             *http.Client
	sessions       SessionStore
	defaultTimeout time.Duration
}

func NewClient(sessions SessionStore, defaultTimeout time.Duration) *Client {
	return &Client{
		hc:             &http.Client{},
		sessions:       sessions,
		defaultTimeout: defaultTimeout,
	}
}

// Call issues one authenticated request to the instance's agent. The
// deadline comes from the instance config, falling back to the process
// default. The same SessionName always maps to the same agent session:
// the first response seeds the id, later calls pass it back.
func (c *Client) Call(ctx context.Context, inst instancedomain.Instance, in CallInput) CallResult {
	timeout := inst.AgentTimeout()
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	res := c.call(callCtx, inst, in)
	res.ProcessingMs = time.Since(started).Milliseconds()

	if res.Success && res.AgentSessionID != "" {
		c.sessions.Set(ctx, in.SessionName, res.AgentSessionID)
	}
	return res
}

func (c *Client) call(ctx context.Context, inst instancedomain.Instance, in CallInput) CallResult {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("message", in.Message)
	_ = form.WriteField("stream", fmt.Sprintf("%t", inst.AgentStream))
	if sessionID, ok := c.sessions.Get(ctx, in.SessionName); ok {
		_ = form.WriteField("session_id", sessionID)
	}
	if in.UserID != "" {
		_ = form.WriteField("user_id", in.UserID)
	}
	if err := form.Close(); err != nil {
		return CallResult{ErrorKind: ErrKindTransport, Err: err}
	}

	url := fmt.Sprintf("%s/playground/agents/%s/runs",
		strings.TrimRight(inst.AgentAPIURL, "/"), inst.AgentName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return CallResult{ErrorKind: ErrKindTransport, Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if inst.AgentAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+inst.AgentAPIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CallResult{
			ErrorKind: ErrKindHTTP(resp.StatusCode),
			Err:       fmt.Errorf("agent returned %d: %s", resp.StatusCode, string(snippet)),
		}
	}

	if inst.AgentStream {
		return c.consumeStream(ctx, resp.Body)
	}
	return c.consumeJSON(resp.Body)
}

type agentResponse struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

func (c *Client) consumeJSON(body io.Reader) CallResult {
	var out agentResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return CallResult{ErrorKind: ErrKindTransport, Err: fmt.Errorf("decoding agent response: %w", err)}
	}
	return CallResult{Text: out.Content, AgentSessionID: out.SessionID, Success: true}
}

type streamEvent struct {
	Event     string `json:"event"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// consumeStream aggregates RunResponseContent events until RunCompleted
// or the deadline. Partial aggregation survives early cancellation: what
// was received is returned with the timeout classification.
func (c *Client) consumeStream(ctx context.Context, body io.Reader) CallResult {
	var sb strings.Builder
	var sessionID string

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "data: ")

		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logrus.WithField("line", line).Debug("[AGENT] Skipping unparseable stream line")
			continue
		}
		if ev.SessionID != "" {
			sessionID = ev.SessionID
		}
		switch ev.Event {
		case eventRunStarted:
			// informational only
		case eventRunResponseContent:
			sb.WriteString(ev.Content)
		case eventRunCompleted:
			return CallResult{Text: sb.String(), AgentSessionID: sessionID, Success: true}
		}
	}

	if err := scanner.Err(); err != nil {
		res := classifyTransport(ctx, err)
		res.Text = sb.String()
		res.AgentSessionID = sessionID
		return res
	}
	// Stream ended without RunCompleted: treat what arrived as the reply.
	return CallResult{Text: sb.String(), AgentSessionID: sessionID, Success: true}
}

func classifyTransport(ctx context.Context, err error) CallResult {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return CallResult{ErrorKind: ErrKindTimeout, Err: err}
	}
	return CallResult{ErrorKind: ErrKindTransport, Err: err}
}
