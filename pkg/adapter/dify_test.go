package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recollect/pkg/adapter"
	"github.com/m-mizutani/recollect/pkg/model"
)

func TestDifyGenerate(t *testing.T) {
	var received map[string]any
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/v1/chat-messages")
		gt.Equal(t, r.Method, http.MethodPost)
		authHeader = r.Header.Get("Authorization")
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"hi there","conversation_id":"abc"}`))
	}))
	defer srv.Close()

	dify := adapter.NewDify(srv.URL+"/", "app-key", adapter.WithDifyHTTPClient(srv.Client()))
	items := []*model.ContextItem{
		{Timestamp: time.Unix(1700000000, 0).UTC(), Content: "previous exchange"},
	}
	req := model.NewReplyRequest("hello", items, "5511999999999")

	answer, err := dify.Generate(context.Background(), req)
	gt.NoError(t, err)
	gt.Equal(t, answer, "hi there")

	gt.Equal(t, authHeader, "Bearer app-key")
	gt.Equal(t, received["query"], any("hello"))
	gt.Equal(t, received["response_mode"], any("blocking"))
	gt.Equal(t, received["user"], any("5511999999999"))
	gt.Equal(t, received["conversation_id"], any("whatsapp_5511999999999"))

	inputs, ok := received["inputs"].(map[string]any)
	gt.True(t, ok)
	gt.Equal(t, inputs["phone"], any("5511999999999"))
	gt.Equal(t, inputs["conversation_history"], any("[2023-11-14T22:13:20Z] previous exchange"))
}

func TestDifyGenerateFailures(t *testing.T) {
	testCases := map[string]struct {
		status int
		body   string
		expect error
	}{
		"server error": {
			status: http.StatusInternalServerError,
			body:   `{"code":"internal_server_error"}`,
			expect: model.ErrBackendStatus,
		},
		"bad request": {
			status: http.StatusBadRequest,
			body:   `{"code":"invalid_param"}`,
			expect: model.ErrBackendStatus,
		},
		"invalid json": {
			status: http.StatusOK,
			body:   `not json`,
			expect: model.ErrBackendStatus,
		},
		"no answer": {
			status: http.StatusOK,
			body:   `{"message_id":"x"}`,
			expect: model.ErrEmptyAnswer,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			dify := adapter.NewDify(srv.URL, "app-key")
			_, err := dify.Generate(context.Background(), model.NewReplyRequest("hello", nil, "1"))
			gt.True(t, errors.Is(err, tc.expect))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		dify := adapter.NewDify(url, "app-key")
		_, err := dify.Generate(context.Background(), model.NewReplyRequest("hello", nil, "1"))
		gt.True(t, errors.Is(err, model.ErrBackendUnreachable))
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		dify := adapter.NewDify(srv.URL, "app-key")
		_, err := dify.Generate(ctx, model.NewReplyRequest("hello", nil, "1"))
		gt.True(t, errors.Is(err, model.ErrBackendUnreachable))
	})
}
