package adapter

import (
	"context"
	"net/http"
	"time"

	"github.com/m-mizutani/recollect/pkg/model"
)

// DefaultTimeout bounds every outbound call when the caller gives no deadline
const DefaultTimeout = 30 * time.Second

// Generator produces a reply for an augmented request. Implementations
// classify failures with model.ErrBackendStatus, model.ErrBackendUnreachable
// or model.ErrEmptyAnswer.
type Generator interface {
	Generate(ctx context.Context, req *model.ReplyRequest) (string, error)
}

// Gateway delivers text to a conversation. It returns the HTTP status code
// observed (0 when no response was received). Failures are classified with
// model.ErrDeliveryStatus or model.ErrDeliveryUnreachable.
type Gateway interface {
	SendText(ctx context.Context, id model.ConversationID, text string) (int, error)
}

// NewHTTPClient returns the shared client used by all HTTP adapters
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
