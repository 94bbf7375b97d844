// Package relay runs one conversational turn: persist the user's message,
// assemble the prompt, ask the completion service, persist and return the
// reply.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/history"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/observability"
	"github.com/stupiduntilnot/chatrelay/internal/prompt"
)

const (
	GreetingReply = "Hey… you came back for me? 😌"
	FallbackReply = "Hmm… say that again, handsome 😌"

	// CommandPrefix marks bot commands, which never reach the model.
	CommandPrefix = "/"
)

const (
	typingTimeout = 5 * time.Second

	// DefaultCompletionTimeout bounds a turn's completion call once the
	// turn no longer follows the caller's cancellation.
	DefaultCompletionTimeout = 30 * time.Second
)

// Message is an incoming text message.
type Message struct {
	UserID int64
	ChatID int64
	Text   string
}

// Builder produces the request message sequence for a persisted user turn.
type Builder interface {
	Build(ctx context.Context, current history.Turn) ([]prompt.Message, error)
}

// TypingNotifier shows a "typing" indicator.
type TypingNotifier interface {
	SendTyping(ctx context.Context, chatID int64) error
}

// Options wires a Relay. Typing, Breaker and Metrics are optional.
type Options struct {
	Store             history.Store
	Builder           Builder
	Completer         modelpkg.Completer
	Typing            TypingNotifier
	Breaker           *control.CircuitBreaker
	Metrics           *observability.Metrics
	Logger            *zap.Logger
	CompletionTimeout time.Duration
}

// Relay handles turns. Turns of one user are serialized; different users
// proceed concurrently.
type Relay struct {
	store     history.Store
	builder   Builder
	completer modelpkg.Completer
	typing    TypingNotifier
	breaker   *control.CircuitBreaker
	metrics   *observability.Metrics
	logger    *zap.Logger
	timeout   time.Duration
	locks     *userLocks
	now       func() time.Time
}

func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.CompletionTimeout
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}
	return &Relay{
		store:     opts.Store,
		builder:   opts.Builder,
		completer: opts.Completer,
		typing:    opts.Typing,
		breaker:   opts.Breaker,
		metrics:   opts.Metrics,
		logger:    logger,
		timeout:   timeout,
		locks:     newUserLocks(),
		now:       time.Now,
	}
}

// HandleStart returns the greeting for the /start command. Nothing is stored.
func (r *Relay) HandleStart(context.Context) string {
	return GreetingReply
}

// HandleText processes one text message. Empty text and commands are
// ignored with handled=false and no side effects. Completion failures are
// answered with FallbackReply; storage failures are returned as errors.
//
// A turn that has started is not interrupted by cancelling ctx: the user
// and assistant turns are always persisted as a pair. If ctx is already
// done when the turn would start, ctx.Err() is returned and nothing is stored.
func (r *Relay) HandleText(ctx context.Context, msg Message) (reply string, handled bool, err error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || strings.HasPrefix(text, CommandPrefix) {
		r.metrics.ObserveTurn(observability.OutcomeIgnored)
		return "", false, nil
	}

	unlock := r.locks.lock(msg.UserID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	ctx = context.WithoutCancel(ctx)

	logger := r.logger.With(zap.Int64("user_id", msg.UserID))

	current, err := r.store.Append(ctx, msg.UserID, history.RoleUser, text)
	if err != nil {
		r.storageFailed()
		return "", false, fmt.Errorf("persist user turn: %w", err)
	}

	r.sendTyping(ctx, msg.ChatID)

	messages, err := r.builder.Build(ctx, current)
	if err != nil {
		r.storageFailed()
		return "", false, fmt.Errorf("assemble context: %w", err)
	}

	reply, ok := r.complete(ctx, logger, messages)

	if _, err := r.store.Append(ctx, msg.UserID, history.RoleAssistant, reply); err != nil {
		r.storageFailed()
		return "", false, fmt.Errorf("persist assistant turn: %w", err)
	}

	if ok {
		r.metrics.ObserveTurn(observability.OutcomeReplied)
	} else {
		r.metrics.ObserveTurn(observability.OutcomeFallback)
	}
	logger.Debug("turn complete",
		zap.Int64("seq", current.Seq),
		zap.Int("context_messages", len(messages)),
		zap.Bool("fallback", !ok),
	)
	return reply, true, nil
}

// complete returns the model reply, or FallbackReply and false.
func (r *Relay) complete(ctx context.Context, logger *zap.Logger, messages []prompt.Message) (string, bool) {
	if r.breaker != nil && !r.breaker.Allow(r.now()) {
		logger.Warn("completion skipped, circuit open")
		r.metrics.ObserveCompletion(0, false)
		return FallbackReply, false
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	res := r.completer.Complete(cctx, messages)
	elapsed := r.now().Sub(start)
	r.metrics.ObserveCompletion(elapsed, res.OK())

	if !res.OK() {
		logger.Warn("completion failed, sending fallback",
			zap.Duration("elapsed", elapsed),
			zap.Error(res.Err),
		)
		if r.breaker != nil && r.breaker.RecordFailure(r.now()) {
			logger.Error("completion circuit opened",
				zap.Int("threshold", r.breaker.Threshold),
				zap.Duration("cooldown", r.breaker.Cooldown),
			)
		}
		return FallbackReply, false
	}
	if r.breaker != nil {
		r.breaker.RecordSuccess()
	}
	return res.Reply, true
}

func (r *Relay) sendTyping(ctx context.Context, chatID int64) {
	if r.typing == nil || chatID == 0 {
		return
	}
	go func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), typingTimeout)
		defer cancel()
		if err := r.typing.SendTyping(tctx, chatID); err != nil {
			r.logger.Debug("typing indicator failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}()
}

func (r *Relay) storageFailed() {
	r.metrics.ObserveStorageError()
	r.metrics.ObserveTurn(observability.OutcomeError)
}
