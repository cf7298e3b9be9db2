package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/scheduler"
)

func envelope(id, text string) *model.Envelope {
	return &model.Envelope{
		ConversationID: model.ConversationID(id),
		Text:           text,
		MessageID:      text,
	}
}

func shutdown(t *testing.T, s *scheduler.Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gt.NoError(t, s.Shutdown(ctx))
}

func TestSchedulerSerializesConversation(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []string
		running atomic.Int32
		overlap atomic.Bool
	)

	s, err := scheduler.New(func(ctx context.Context, env *model.Envelope) {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		order = append(order, env.Text)
		mu.Unlock()
		running.Add(-1)
	}, scheduler.WithPoolSize(8))
	gt.NoError(t, err)

	var want []string
	for i := range 20 {
		text := fmt.Sprintf("msg-%02d", i)
		want = append(want, text)
		gt.NoError(t, s.Submit(envelope("5511", text)))
	}

	shutdown(t, s)

	gt.False(t, overlap.Load())
	gt.Equal(t, order, want)

	stats := s.Stats()
	gt.Equal(t, stats.Completed, int64(20))
	gt.Equal(t, stats.Pending, int64(0))
	gt.Equal(t, stats.InFlight, int64(0))
}

func TestSchedulerRunsConversationsConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	bothStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(bothStarted)
	}()

	var timedOut atomic.Bool
	s, err := scheduler.New(func(ctx context.Context, env *model.Envelope) {
		started.Done()
		select {
		case <-bothStarted:
		case <-time.After(5 * time.Second):
			timedOut.Store(true)
		}
	}, scheduler.WithPoolSize(4))
	gt.NoError(t, err)

	gt.NoError(t, s.Submit(envelope("1111", "a")))
	gt.NoError(t, s.Submit(envelope("2222", "b")))

	shutdown(t, s)
	gt.False(t, timedOut.Load())
	gt.Equal(t, s.Stats().Completed, int64(2))
}

func TestSchedulerRecoversPanic(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)

	s, err := scheduler.New(func(ctx context.Context, env *model.Envelope) {
		if env.Text == "boom" {
			panic("handler exploded")
		}
		mu.Lock()
		seen = append(seen, env.Text)
		mu.Unlock()
	})
	gt.NoError(t, err)

	gt.NoError(t, s.Submit(envelope("5511", "first")))
	gt.NoError(t, s.Submit(envelope("5511", "boom")))
	gt.NoError(t, s.Submit(envelope("5511", "after")))
	gt.NoError(t, s.Submit(envelope("6622", "other")))

	shutdown(t, s)

	gt.A(t, seen).Length(3)
	stats := s.Stats()
	gt.Equal(t, stats.Panicked, int64(1))
	gt.Equal(t, stats.Completed, int64(3))
}

func TestSchedulerRejectsAfterShutdown(t *testing.T) {
	s, err := scheduler.New(func(ctx context.Context, env *model.Envelope) {})
	gt.NoError(t, err)

	shutdown(t, s)

	err = s.Submit(envelope("5511", "late"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrSchedulerClosed))

	// second shutdown is harmless
	shutdown(t, s)
}

func TestSchedulerOverloaded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)

	s, err := scheduler.New(func(ctx context.Context, env *model.Envelope) {
		started <- struct{}{}
		<-release
	}, scheduler.WithPoolSize(1), scheduler.WithQueueSize(1))
	gt.NoError(t, err)

	gt.NoError(t, s.Submit(envelope("1111", "a")))
	<-started

	// queued behind an active conversation never counts against the limit
	gt.NoError(t, s.Submit(envelope("1111", "a2")))

	// one conversation may wait in the dispatcher and one in the buffer
	_ = s.Submit(envelope("2222", "b"))
	_ = s.Submit(envelope("3333", "c"))
	err = s.Submit(envelope("4444", "d"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrSchedulerOverloaded))

	close(release)
	shutdown(t, s)
}

func TestSchedulerShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	s, err := scheduler.New(func(ctx context.Context, env *model.Envelope) {
		close(started)
		<-release
	})
	gt.NoError(t, err)

	gt.NoError(t, s.Submit(envelope("5511", "slow")))
	gt.NoError(t, s.Submit(envelope("5511", "never")))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.Shutdown(ctx)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
}
