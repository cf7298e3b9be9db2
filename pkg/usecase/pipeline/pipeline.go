package pipeline

import (
	"context"
	"time"

	"github.com/m-mizutani/recollect/pkg/adapter"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/repository"
)

// UseCase runs the reply pipeline for one inbound message:
// retrieve context, generate a reply, deliver it and record the exchange.
type UseCase struct {
	repo      repository.Repository
	generator adapter.Generator
	gateway   adapter.Gateway

	contextLimit int
	callTimeout  time.Duration
	fallback     model.FallbackReplies
	now          func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithContextLimit sets the number of context items retrieved per run
func WithContextLimit(limit int) Option {
	return func(uc *UseCase) {
		uc.contextLimit = limit
	}
}

// WithCallTimeout bounds each external call
func WithCallTimeout(d time.Duration) Option {
	return func(uc *UseCase) {
		uc.callTimeout = d
	}
}

// WithFallbackReplies overrides apology strings. Empty fields keep the defaults.
func WithFallbackReplies(replies model.FallbackReplies) Option {
	return func(uc *UseCase) {
		uc.fallback = replies.Merge(uc.fallback)
	}
}

// WithClock replaces the wall clock used for episode names
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new pipeline UseCase instance
func New(
	repo repository.Repository,
	generator adapter.Generator,
	gateway adapter.Gateway,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		repo:      repo,
		generator: generator,
		gateway:   gateway,

		contextLimit: model.DefaultContextLimit,
		callTimeout:  adapter.DefaultTimeout,
		fallback:     model.DefaultFallbackReplies(),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.contextLimit <= 0 {
		uc.contextLimit = model.DefaultContextLimit
	}
	if uc.callTimeout <= 0 {
		uc.callTimeout = adapter.DefaultTimeout
	}

	return uc
}

func (u *UseCase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, u.callTimeout)
}
