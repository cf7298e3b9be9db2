package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recollect/pkg/adapter"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/scheduler"
	"github.com/m-mizutani/recollect/pkg/server"
	"github.com/m-mizutani/recollect/pkg/usecase/ingest"
	"github.com/m-mizutani/recollect/pkg/usecase/pipeline"
)

// Mock Ingestor
type mockIngestor struct {
	result *ingest.Result
	err    error
	bodies []string
}

func (m *mockIngestor) Handle(ctx context.Context, body []byte) (*ingest.Result, error) {
	m.bodies = append(m.bodies, string(body))
	return m.result, m.err
}

// Mock StatsProvider
type mockStats struct{}

func (m *mockStats) Stats(ctx context.Context, id model.ConversationID) *model.Stats {
	return &model.Stats{
		Phone:              id,
		TotalInteractions:  7,
		RecentInteractions: []*model.ContextItem{{Content: "recent", Score: 1}},
	}
}

// Mock SchedulerMonitor
type mockMonitor struct{}

func (m *mockMonitor) Stats() scheduler.Stats {
	return scheduler.Stats{Pending: 2, Completed: 5}
}

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	gt.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestWebhook(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		ing := &mockIngestor{result: &ingest.Result{Accepted: true}}
		srv := httptest.NewServer(server.New(ing))
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(`{"event":"messages.upsert"}`))
		gt.NoError(t, err)
		defer resp.Body.Close()

		gt.Equal(t, resp.StatusCode, http.StatusOK)
		gt.Equal(t, decode(t, resp.Body)["status"], any("success"))
		gt.A(t, ing.bodies).Length(1)
		gt.Equal(t, ing.bodies[0], `{"event":"messages.upsert"}`)
	})

	t.Run("dropped is still success", func(t *testing.T) {
		ing := &mockIngestor{result: &ingest.Result{Accepted: false, Reason: "from me"}}
		srv := httptest.NewServer(server.New(ing))
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(`{}`))
		gt.NoError(t, err)
		defer resp.Body.Close()

		gt.Equal(t, resp.StatusCode, http.StatusOK)
		gt.Equal(t, decode(t, resp.Body)["status"], any("success"))
	})

	t.Run("malformed event", func(t *testing.T) {
		ing := &mockIngestor{err: goerr.Wrap(model.ErrMalformedEvent, "bad json")}
		srv := httptest.NewServer(server.New(ing))
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(`{`))
		gt.NoError(t, err)
		defer resp.Body.Close()

		gt.Equal(t, resp.StatusCode, http.StatusOK)
		body := decode(t, resp.Body)
		gt.Equal(t, body["status"], any("error"))
		gt.S(t, body["message"].(string)).Contains("bad json")
	})

	t.Run("overloaded", func(t *testing.T) {
		ing := &mockIngestor{err: goerr.Wrap(model.ErrSchedulerOverloaded, "full")}
		srv := httptest.NewServer(server.New(ing))
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(`{}`))
		gt.NoError(t, err)
		defer resp.Body.Close()

		gt.Equal(t, resp.StatusCode, http.StatusServiceUnavailable)
		gt.Equal(t, decode(t, resp.Body)["status"], any("error"))
	})
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(server.New(&mockIngestor{},
		server.WithServices(map[string]string{
			"evolution_api": "http://evolution-api:8080",
			"dify":          "http://dify-api:5001",
			"neo4j":         "bolt://neo4j:7687",
		}),
		server.WithSchedulerMonitor(&mockMonitor{}),
	))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	gt.NoError(t, err)
	defer resp.Body.Close()

	gt.Equal(t, resp.StatusCode, http.StatusOK)
	body := decode(t, resp.Body)
	gt.Equal(t, body["status"], any("healthy"))

	services := body["services"].(map[string]any)
	gt.Equal(t, services["neo4j"], any("bolt://neo4j:7687"))
	gt.Equal(t, services["dify"], any("http://dify-api:5001"))

	sched := body["scheduler"].(map[string]any)
	gt.Equal(t, sched["pending"], any(float64(2)))
	gt.Equal(t, sched["completed"], any(float64(5)))
}

func TestStats(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		srv := httptest.NewServer(server.New(&mockIngestor{}, server.WithStats(&mockStats{})))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/stats/5511999999999")
		gt.NoError(t, err)
		defer resp.Body.Close()

		gt.Equal(t, resp.StatusCode, http.StatusOK)
		body := decode(t, resp.Body)
		gt.Equal(t, body["phone"], any("5511999999999"))
		gt.Equal(t, body["total_interactions"], any(float64(7)))
		gt.A(t, body["recent_interactions"].([]any)).Length(1)
	})

	t.Run("disabled", func(t *testing.T) {
		srv := httptest.NewServer(server.New(&mockIngestor{}))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/stats/5511")
		gt.NoError(t, err)
		defer resp.Body.Close()
		gt.Equal(t, resp.StatusCode, http.StatusNotFound)
	})
}

func TestListenAndServeShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := server.New(&mockIngestor{})

	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx, "127.0.0.1:0")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		gt.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// blockingIngestor holds every request until release is closed
type blockingIngestor struct {
	started chan struct{}
	release chan struct{}
}

func (m *blockingIngestor) Handle(ctx context.Context, body []byte) (*ingest.Result, error) {
	close(m.started)
	<-m.release
	return &ingest.Result{Accepted: true}, nil
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	gt.NoError(t, err)
	addr := l.Addr().String()
	gt.NoError(t, l.Close())
	return addr
}

func TestListenAndServeShutdownTimeout(t *testing.T) {
	ing := &blockingIngestor{started: make(chan struct{}), release: make(chan struct{})}
	defer close(ing.release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := freeAddr(t)
	s := server.New(ing, server.WithShutdownTimeout(100*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx, addr)
	}()

	// wait for the listener, then leave one request in flight
	go func() {
		for range 100 {
			resp, err := http.Post("http://"+addr+"/webhook", "application/json", strings.NewReader(`{}`))
			if err == nil {
				_ = resp.Body.Close()
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	select {
	case <-ing.started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}

	started := time.Now()
	cancel()

	select {
	case err := <-done:
		gt.Error(t, err)
		gt.True(t, errors.Is(err, context.DeadlineExceeded))
		gt.True(t, time.Since(started) < 5*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not honor the configured timeout")
	}
}

// memoryRepository keeps episodes in memory for end-to-end runs
type memoryRepository struct {
	mu       sync.Mutex
	episodes []*model.Episode
}

func (r *memoryRepository) BuildIndices(ctx context.Context) error { return nil }

func (r *memoryRepository) SearchEpisodes(ctx context.Context, id model.ConversationID, query string, limit int) ([]*model.ContextItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var items []*model.ContextItem
	for _, e := range r.episodes {
		if e.ConversationID == id && len(items) < limit {
			items = append(items, e.ContextItem())
		}
	}
	return items, nil
}

func (r *memoryRepository) PutEpisode(ctx context.Context, episode *model.Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.episodes = append(r.episodes, episode)
	return nil
}

func (r *memoryRepository) Close(ctx context.Context) error { return nil }

func TestEndToEnd(t *testing.T) {
	const event = `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false},
			"message": {"conversation": "hello"},
			"messageTimestamp": 1700000000
		}
	}`

	testCases := []struct {
		name          string
		gatewayStatus int
		wantEpisodes  int
	}{
		{name: "delivered", gatewayStatus: http.StatusOK, wantEpisodes: 1},
		{name: "gateway failure", gatewayStatus: http.StatusInternalServerError, wantEpisodes: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				mu                              sync.Mutex
				difyQuery, sentNumber, sentText string
			)
			dify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Query string `json:"query"`
				}
				_ = json.NewDecoder(r.Body).Decode(&req)
				mu.Lock()
				difyQuery = req.Query
				mu.Unlock()
				_, _ = w.Write([]byte(`{"answer":"hi there"}`))
			}))
			defer dify.Close()

			evolution := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Number string `json:"number"`
					Text   string `json:"text"`
				}
				_ = json.NewDecoder(r.Body).Decode(&req)
				mu.Lock()
				sentNumber, sentText = req.Number, req.Text
				mu.Unlock()
				w.WriteHeader(tc.gatewayStatus)
			}))
			defer evolution.Close()

			repo := &memoryRepository{}
			uc := pipeline.New(repo,
				adapter.NewDify(dify.URL, "dify-key"),
				adapter.NewEvolution(evolution.URL, "evo-key", "whatsapp-bot"),
			)

			sched, err := scheduler.New(func(ctx context.Context, env *model.Envelope) {
				uc.Run(ctx, env)
			})
			gt.NoError(t, err)

			srv := httptest.NewServer(server.New(ingest.New(sched)))
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(event))
			gt.NoError(t, err)
			gt.Equal(t, decode(t, resp.Body)["status"], any("success"))
			resp.Body.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			gt.NoError(t, sched.Shutdown(ctx))

			mu.Lock()
			defer mu.Unlock()
			gt.Equal(t, difyQuery, "hello")
			gt.Equal(t, sentNumber, "5511999999999")
			gt.Equal(t, sentText, "hi there")

			gt.A(t, repo.episodes).Length(tc.wantEpisodes)
			if tc.wantEpisodes > 0 {
				episode := repo.episodes[0]
				gt.S(t, episode.Body).Contains("hello")
				gt.S(t, episode.Body).Contains("hi there")
				gt.True(t, episode.ReferenceTime.Equal(time.UnixMilli(1700000000000)))
			}
		})
	}
}
