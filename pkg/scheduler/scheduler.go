package scheduler

import (
	"container/list"
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
	"github.com/panjf2000/ants/v2"
)

const (
	DefaultPoolSize  = 64
	DefaultQueueSize = 1024
)

// Handler processes one envelope. It runs on a pool goroutine.
type Handler func(ctx context.Context, env *model.Envelope)

// Stats is a snapshot of scheduler counters
type Stats struct {
	Pending   int64 `json:"pending"`
	InFlight  int64 `json:"in_flight"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
}

type conversationQueue struct {
	messages *list.List
}

// Scheduler runs handlers for submitted envelopes in the background. Envelopes
// of the same conversation run one at a time in arrival order; different
// conversations run concurrently on a bounded pool.
type Scheduler struct {
	handler   Handler
	baseCtx   context.Context
	poolSize  int
	queueSize int

	pool  *ants.Pool
	ready chan model.ConversationID
	done  chan struct{}

	mu     sync.Mutex
	queues map[model.ConversationID]*conversationQueue
	closed bool
	wg     sync.WaitGroup

	abandoned atomic.Bool

	pending   atomic.Int64
	inFlight  atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

// Option is a functional option for Scheduler
type Option func(*Scheduler)

// WithPoolSize sets the number of conversations processed concurrently
func WithPoolSize(size int) Option {
	return func(s *Scheduler) {
		s.poolSize = size
	}
}

// WithQueueSize sets how many idle conversations may wait for a worker
// before Submit reports overload.
func WithQueueSize(size int) Option {
	return func(s *Scheduler) {
		s.queueSize = size
	}
}

// WithBaseContext sets the context handlers run with. It should not be tied
// to any request.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		s.baseCtx = ctx
	}
}

// New creates a scheduler and starts its dispatcher
func New(handler Handler, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		handler:   handler,
		baseCtx:   context.Background(),
		poolSize:  DefaultPoolSize,
		queueSize: DefaultQueueSize,
		queues:    make(map[model.ConversationID]*conversationQueue),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.poolSize <= 0 {
		s.poolSize = DefaultPoolSize
	}
	if s.queueSize <= 0 {
		s.queueSize = DefaultQueueSize
	}

	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create worker pool", goerr.V("size", s.poolSize))
	}
	s.pool = pool
	s.ready = make(chan model.ConversationID, s.queueSize)

	go s.dispatch()

	return s, nil
}

// Submit enqueues the envelope and returns immediately
func (s *Scheduler) Submit(env *model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return goerr.Wrap(model.ErrSchedulerClosed, "scheduler is closed", goerr.V("conversation_id", env.ConversationID))
	}

	if q, ok := s.queues[env.ConversationID]; ok {
		q.messages.PushBack(env)
		s.pending.Add(1)
		return nil
	}

	select {
	case s.ready <- env.ConversationID:
	default:
		return goerr.Wrap(model.ErrSchedulerOverloaded, "too many conversations waiting",
			goerr.V("conversation_id", env.ConversationID),
			goerr.V("queue_size", s.queueSize),
		)
	}

	q := &conversationQueue{messages: list.New()}
	q.messages.PushBack(env)
	s.queues[env.ConversationID] = q
	s.pending.Add(1)
	s.wg.Add(1)

	return nil
}

func (s *Scheduler) dispatch() {
	defer close(s.done)

	for id := range s.ready {
		if err := s.pool.Submit(func() { s.drain(id) }); err != nil {
			logging.From(s.baseCtx).Error("failed to dispatch conversation", "error", err, "conversation_id", id)
			s.abandon(id)
		}
	}
}

// drain runs every queued envelope of the conversation, then removes the
// queue so that the next Submit dispatches a fresh drainer.
func (s *Scheduler) drain(id model.ConversationID) {
	defer s.wg.Done()

	for {
		env := s.next(id)
		if env == nil {
			return
		}
		s.run(env)
	}
}

func (s *Scheduler) next(id model.ConversationID) *model.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[id]
	if !ok {
		return nil
	}
	if s.abandoned.Load() {
		s.pending.Add(-int64(q.messages.Len()))
		delete(s.queues, id)
		return nil
	}
	front := q.messages.Front()
	if front == nil {
		delete(s.queues, id)
		return nil
	}
	q.messages.Remove(front)
	s.pending.Add(-1)
	return front.Value.(*model.Envelope)
}

func (s *Scheduler) abandon(id model.ConversationID) {
	s.mu.Lock()
	if q, ok := s.queues[id]; ok {
		s.pending.Add(-int64(q.messages.Len()))
		delete(s.queues, id)
	}
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Scheduler) run(env *model.Envelope) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			s.panicked.Add(1)
			logging.From(s.baseCtx).Error("panic in message handler",
				"panic", r,
				"conversation_id", env.ConversationID,
				"message_id", env.MessageID,
				"stack_trace", string(debug.Stack()),
			)
		}
	}()

	s.handler(s.baseCtx, env)
	s.completed.Add(1)
}

// Stats returns current counters
func (s *Scheduler) Stats() Stats {
	return Stats{
		Pending:   s.pending.Load(),
		InFlight:  s.inFlight.Load(),
		Completed: s.completed.Load(),
		Panicked:  s.panicked.Load(),
	}
}

// Shutdown stops accepting envelopes and waits for queued and in-flight runs
// until ctx is done. Runs still waiting after that are abandoned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ready)
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		<-s.done
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.pool.Release()
		return nil
	case <-ctx.Done():
		s.abandoned.Store(true)
		s.pool.Release()
		return goerr.Wrap(ctx.Err(), "scheduler shutdown timed out", goerr.V("pending", s.pending.Load()))
	}
}
