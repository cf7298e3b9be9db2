package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
)

// Evolution sends WhatsApp messages through Evolution API
type Evolution struct {
	baseURL  string
	apiKey   string
	instance string
	client   *http.Client
}

type EvolutionOption func(*Evolution)

// WithEvolutionHTTPClient replaces the HTTP client
func WithEvolutionHTTPClient(client *http.Client) EvolutionOption {
	return func(e *Evolution) {
		e.client = client
	}
}

func NewEvolution(baseURL, apiKey, instance string, opts ...EvolutionOption) *Evolution {
	e := &Evolution{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		instance: instance,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText posts the text and treats 200 and 201 as delivered. It never retries.
func (e *Evolution) SendText(ctx context.Context, id model.ConversationID, text string) (int, error) {
	body, err := json.Marshal(&sendTextRequest{
		Number: string(id),
		Text:   text,
	})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to marshal sendText request")
	}

	endpoint := e.baseURL + "/message/sendText/" + url.PathEscape(e.instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to create sendText request")
	}
	req.Header.Set("apikey", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, goerr.Wrap(model.ErrDeliveryUnreachable, "failed to call evolution api",
			goerr.V("url", e.baseURL),
			goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return resp.StatusCode, nil
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return resp.StatusCode, goerr.Wrap(model.ErrDeliveryStatus, "evolution api rejected message",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", truncate(string(raw), 256)))
	}
}
