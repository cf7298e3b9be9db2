package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
)

const maxResponseSize = 1 << 20

// Dify calls the chat-messages API of a Dify application
type Dify struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type DifyOption func(*Dify)

// WithDifyHTTPClient replaces the HTTP client
func WithDifyHTTPClient(client *http.Client) DifyOption {
	return func(d *Dify) {
		d.client = client
	}
}

func NewDify(baseURL, apiKey string, opts ...DifyOption) *Dify {
	d := &Dify{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type difyRequest struct {
	Inputs         map[string]string `json:"inputs"`
	Query          string            `json:"query"`
	ResponseMode   string            `json:"response_mode"`
	User           string            `json:"user"`
	ConversationID string            `json:"conversation_id"`
}

type difyResponse struct {
	Answer string `json:"answer"`
}

func (d *Dify) Generate(ctx context.Context, req *model.ReplyRequest) (string, error) {
	body, err := json.Marshal(&difyRequest{
		Inputs:         req.Inputs(),
		Query:          req.Query,
		ResponseMode:   "blocking",
		User:           req.UserID,
		ConversationID: req.SessionID,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal dify request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/chat-messages", bytes.NewReader(body))
	if err != nil {
		return "", goerr.Wrap(err, "failed to create dify request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", goerr.Wrap(model.ErrBackendUnreachable, "failed to call dify",
			goerr.V("url", d.baseURL),
			goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", goerr.Wrap(model.ErrBackendUnreachable, "failed to read dify response",
			goerr.V("cause", err.Error()))
	}

	if resp.StatusCode != http.StatusOK {
		return "", goerr.Wrap(model.ErrBackendStatus, "dify returned error",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", truncate(string(raw), 256)))
	}

	var out difyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", goerr.Wrap(model.ErrBackendStatus, "failed to decode dify response",
			goerr.V("cause", err.Error()))
	}
	if out.Answer == "" {
		return "", goerr.Wrap(model.ErrEmptyAnswer, "dify response has no answer")
	}

	return out.Answer, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
