// Package bot polls the chat transport and dispatches updates to the relay.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/observability"
	"github.com/stupiduntilnot/chatrelay/internal/relay"
)

const startCommand = "/start"

// Handler is the part of the relay the dispatcher needs.
type Handler interface {
	HandleText(ctx context.Context, msg relay.Message) (reply string, handled bool, err error)
	HandleStart(ctx context.Context) string
}

// Options configures a Runner.
type Options struct {
	// PollTimeout is the long polling timeout in seconds.
	PollTimeout int
	// Sleep is the pause between empty or failed polls.
	Sleep time.Duration
	// MaxConcurrency bounds the number of users handled at once.
	MaxConcurrency int
}

// Runner owns the update offset and the dispatch pool. Messages of one user
// are handled in arrival order by at most one worker at a time; different
// users are handled in parallel, up to MaxConcurrency.
type Runner struct {
	commander cmdpkg.Commander
	handler   Handler
	opts      Options
	metrics   *observability.Metrics
	logger    *zap.Logger
	offset    int64

	pool   *pool.Pool
	mu     sync.Mutex
	queues map[int64][]*cmdpkg.Message
}

func NewRunner(commander cmdpkg.Commander, handler Handler, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Runner {
	if opts.PollTimeout < 0 {
		opts.PollTimeout = 0
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		commander: commander,
		handler:   handler,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
		pool:      pool.New().WithMaxGoroutines(opts.MaxConcurrency),
		queues:    make(map[int64][]*cmdpkg.Message),
	}
}

// Run polls until ctx is cancelled, then waits for queued turns to finish.
// Failed polls back off exponentially.
func (r *Runner) Run(ctx context.Context) error {
	defer r.Wait()

	failures := 0
	for {
		if ctx.Err() != nil {
			r.logger.Info("stopping, waiting for in-flight turns")
			return nil
		}
		n, err := r.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			wait := max(control.Backoff(failures), r.opts.Sleep)
			r.logger.Warn("getUpdates failed",
				zap.Int("attempt", failures),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			sleep(ctx, wait)
			continue
		}
		failures = 0
		if n == 0 {
			sleep(ctx, r.opts.Sleep)
		}
	}
}

// PollOnce fetches one batch of updates, queues its text messages, and
// advances the offset. It does not wait for the messages to be handled.
// It returns the number of updates received.
func (r *Runner) PollOnce(ctx context.Context) (int, error) {
	updates, err := r.commander.GetUpdates(ctx, r.offset, r.opts.PollTimeout)
	if err != nil {
		r.metrics.ObservePollError()
		return 0, err
	}
	for _, u := range updates {
		if u.UpdateID >= r.offset {
			r.offset = u.UpdateID + 1
		}
		if u.Message == nil || u.Message.Text == nil {
			r.metrics.ObserveUpdate("non_text")
			continue
		}
		r.enqueue(ctx, u.Message)
	}
	return len(updates), nil
}

// Wait blocks until every queued message has been handled. It must not be
// called concurrently with PollOnce.
func (r *Runner) Wait() {
	r.pool.Wait()
	r.pool = pool.New().WithMaxGoroutines(r.opts.MaxConcurrency)
}

func (r *Runner) enqueue(ctx context.Context, m *cmdpkg.Message) {
	id := m.SenderID()
	r.mu.Lock()
	_, active := r.queues[id]
	r.queues[id] = append(r.queues[id], m)
	r.mu.Unlock()
	if active {
		return
	}
	// Turns outlive the poll context so that shutdown never splits a turn.
	turnCtx := context.WithoutCancel(ctx)
	r.pool.Go(func() {
		r.drain(turnCtx, id)
	})
}

// drain handles a user's queue until it is empty.
func (r *Runner) drain(ctx context.Context, userID int64) {
	for {
		r.mu.Lock()
		q := r.queues[userID]
		if len(q) == 0 {
			delete(r.queues, userID)
			r.mu.Unlock()
			return
		}
		m := q[0]
		r.queues[userID] = q[1:]
		r.mu.Unlock()

		r.dispatch(ctx, m)
	}
}

func (r *Runner) dispatch(ctx context.Context, m *cmdpkg.Message) {
	logger := r.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.Int64("user_id", m.SenderID()),
		zap.Int64("chat_id", m.Chat.ID),
	)
	text := strings.TrimSpace(*m.Text)

	if isStart(text) {
		r.metrics.ObserveUpdate("start")
		r.send(ctx, logger, m.Chat.ID, r.handler.HandleStart(ctx))
		return
	}

	r.metrics.ObserveUpdate("text")
	reply, handled, err := r.handler.HandleText(ctx, relay.Message{
		UserID: m.SenderID(),
		ChatID: m.Chat.ID,
		Text:   text,
	})
	if err != nil {
		logger.Error("turn failed", zap.Error(err))
		return
	}
	if !handled {
		logger.Debug("message ignored")
		return
	}
	r.send(ctx, logger, m.Chat.ID, reply)
}

func (r *Runner) send(ctx context.Context, logger *zap.Logger, chatID int64, text string) {
	if err := r.commander.SendMessage(ctx, chatID, text); err != nil {
		logger.Error("sendMessage failed", zap.Error(err))
		return
	}
	logger.Debug("reply sent", zap.Int("chars", len([]rune(text))))
}

// Offset is the next update id to request.
func (r *Runner) Offset() int64 {
	return r.offset
}

// isStart matches "/start", "/start@botname" and "/start payload".
func isStart(text string) bool {
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == startCommand
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
