// Package usecase runs business operations inside a store session and
// retries them from scratch when the commit hits a concurrent write.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timeline-party/internal/config"
	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/notify"
	"github.com/timeline-party/internal/store"
)

// Scope is handed to every use case attempt. It is the only way a use case
// reaches the store, the unit of work and the notification buffer.
type Scope struct {
	Session       store.Session
	Work          *UnitOfWork
	Notifications *notify.Buffer

	afterCommit []func(context.Context)
}

// LoadGame loads a game through the session
func (s *Scope) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	g, err := s.Session.LoadGame(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.ErrGameNotFound.WithDetails(map[string]any{"game_id": id})
	}
	if err != nil {
		return nil, fmt.Errorf("loading game %s: %w", id, err)
	}
	return g, nil
}

// Notify buffers a notification for the given players of a game
func (s *Scope) Notify(gameID string, playerIDs []string, n notify.Notification) {
	s.Notifications.Add(notify.KeysFor(gameID, playerIDs), n)
}

// AfterCommit registers a hook run once the attempt committed
func (s *Scope) AfterCommit(fn func(ctx context.Context)) {
	s.afterCommit = append(s.afterCommit, fn)
}

// Executor runs use cases with optimistic concurrency retries
type Executor struct {
	store    store.Store
	notifier *notify.Notifier
	cfg      config.RetryConfig
	logger   *slog.Logger
	tracer   trace.Tracer

	mu  sync.Mutex
	rnd *rand.Rand
	// wait blocks for d or until ctx is done
	wait func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor
func NewExecutor(st store.Store, notifier *notify.Notifier, cfg config.RetryConfig, logger *slog.Logger) *Executor {
	return &Executor{
		store:    st,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/timeline-party/internal/usecase"),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		wait:     sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the wait before the retry that follows the given attempt:
// min_interval * 2^attempt plus a uniform jitter
func (e *Executor) Backoff(attempt int) time.Duration {
	d := e.cfg.MinInterval << attempt
	if e.cfg.Jitter > 0 {
		e.mu.Lock()
		d += time.Duration(e.rnd.Int63n(int64(e.cfg.Jitter) + 1))
		e.mu.Unlock()
	}
	return d
}

// Run executes fn until it commits, fails with a business error, or runs out
// of attempts. Each attempt gets a fresh session and scope, so fn always
// works on freshly loaded state.
func Run[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context, sc *Scope) (T, error)) (T, error) {
	var zero T
	attempts := max(1, e.cfg.MaxAttempts)

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := runAttempt(ctx, e, name, attempt, fn)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return zero, err
		}

		e.logger.Debug("Use case conflicted", "use_case", name, "attempt", attempt)
		if attempt == attempts-1 {
			break
		}
		if err := e.wait(ctx, e.Backoff(attempt)); err != nil {
			return zero, err
		}
	}

	e.logger.Warn("Use case gave up after conflicts", "use_case", name, "attempts", attempts)
	return zero, domain.ErrConflict
}

func runAttempt[T any](ctx context.Context, e *Executor, name string, attempt int, fn func(ctx context.Context, sc *Scope) (T, error)) (result T, err error) {
	ctx, span := e.tracer.Start(ctx, "usecase."+name, trace.WithAttributes(
		attribute.String("use_case", name),
		attribute.Int("attempt", attempt),
	))
	defer func() {
		conflict := errors.Is(err, store.ErrConflict)
		span.SetAttributes(attribute.Bool("conflict", conflict))
		if err != nil && !conflict {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sess, err := e.store.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	sc := &Scope{
		Session:       sess,
		Work:          &UnitOfWork{},
		Notifications: notify.NewBuffer(),
	}

	result, err = fn(ctx, sc)
	if err != nil {
		e.notifier.Discard(sc.Notifications)
		return result, err
	}
	if err = sc.Work.Commit(ctx, sess); err != nil {
		e.notifier.Discard(sc.Notifications)
		return result, err
	}

	e.notifier.Flush(ctx, sc.Notifications)
	for _, hook := range sc.afterCommit {
		hook(ctx)
	}
	return result, nil
}
