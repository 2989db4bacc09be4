package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultBotCallTimeout bounds one HTTP-over-unix-socket call to a bot.
const DefaultBotCallTimeout = 5 * time.Second

// BotClient speaks HTTP/1.1 over unix domain sockets to channel bot
// sidecars. One connection per call; connections are not pooled.
type BotClient struct {
	runDir  string
	timeout time.Duration
}

func NewBotClient(runDir string) *BotClient {
	return &BotClient{runDir: runDir, timeout: DefaultBotCallTimeout}
}

// SocketPath returns the sidecar socket for an instance.
func (c *BotClient) SocketPath(instanceName string) string {
	return filepath.Join(c.runDir, "sockets", fmt.Sprintf("discord-%s.sock", instanceName))
}

type BotSendRequest struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

type BotSendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type BotHealthResponse struct {
	Status  string `json:"status"`
	UptimeS int64  `json:"uptime_s,omitempty"`
}

// Send posts a reply segment to the bot sidecar. A missing socket file is
// classified ErrKindBotMissing without attempting a connection.
func (c *BotClient) Send(ctx context.Context, instanceName, channelID, text string) (*BotSendResponse, *SendError) {
	sock := c.SocketPath(instanceName)
	if _, err := os.Stat(sock); err != nil {
		return nil, &SendError{Kind: ErrKindBotMissing, Err: fmt.Errorf("bot socket %s not found", sock)}
	}

	body, err := json.Marshal(BotSendRequest{ChannelID: channelID, Text: text})
	if err != nil {
		return nil, &SendError{Kind: ErrKindTransport, Err: err}
	}

	var out BotSendResponse
	if serr := c.doJSON(ctx, sock, http.MethodPost, "/send", bytes.NewReader(body), &out); serr != nil {
		return nil, serr
	}
	if !out.Success {
		return &out, &SendError{Kind: ErrKindHTTP, StatusCode: http.StatusBadGateway, Err: fmt.Errorf("bot rejected send: %s", out.Error)}
	}
	return &out, nil
}

// Health probes GET /health over the socket.
func (c *BotClient) Health(ctx context.Context, instanceName string) (*BotHealthResponse, error) {
	sock := c.SocketPath(instanceName)
	if _, err := os.Stat(sock); err != nil {
		return nil, &SendError{Kind: ErrKindBotMissing, Err: fmt.Errorf("bot socket %s not found", sock)}
	}
	var out BotHealthResponse
	if serr := c.doJSON(ctx, sock, http.MethodGet, "/health", nil, &out); serr != nil {
		return nil, serr
	}
	return &out, nil
}

func (c *BotClient) doJSON(ctx context.Context, sock, method, path string, body io.Reader, out interface{}) *SendError {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sock)
			},
			DisableKeepAlives: true,
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, "http://bot"+path, body)
	if err != nil {
		return &SendError{Kind: ErrKindTransport, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return &SendError{Kind: ErrKindTimeout, Err: err}
		}
		return &SendError{Kind: ErrKindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SendError{
			Kind:       ErrKindHTTP,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("bot returned %d: %s", resp.StatusCode, string(snippet)),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &SendError{Kind: ErrKindTransport, Err: err}
		}
	}
	return nil
}
