package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	instancedomain "github.com/automagik/omni/instance/domain"
)

// EvolutionSender posts reply text to the tenant's Evolution gateway.
type EvolutionSender struct {
	hc *http.Client
}

func NewEvolutionSender() *EvolutionSender {
	return &EvolutionSender{hc: &http.Client{}}
}

type evolutionSendRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText issues POST {evolution_url}/message/sendText/{provider_instance}
// with the tenant apikey header. Deadlines come from the caller's context.
func (s *EvolutionSender) SendText(ctx context.Context, inst instancedomain.Instance, number, text string) *SendError {
	body, err := json.Marshal(evolutionSendRequest{Number: number, Text: text})
	if err != nil {
		return &SendError{Kind: ErrKindTransport, Err: err}
	}

	url := fmt.Sprintf("%s/message/sendText/%s",
		strings.TrimRight(inst.EvolutionURL, "/"), inst.WhatsAppInstance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &SendError{Kind: ErrKindTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", inst.EvolutionKey)

	resp, err := s.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
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
			Err:        fmt.Errorf("evolution returned %d: %s", resp.StatusCode, string(snippet)),
		}
	}
	return nil
}
