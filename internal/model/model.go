package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/stupiduntilnot/chatrelay/internal/prompt"
)

// ErrCompletionFailed marks every failure to obtain a reply. Callers do not
// distinguish causes beyond logging them.
var ErrCompletionFailed = errors.New("completion failed")

// Result carries either a reply or the reason there is none.
type Result struct {
	Reply string
	Err   error
}

// Success wraps a reply.
func Success(reply string) Result {
	return Result{Reply: reply}
}

// Failure wraps cause so that errors.Is(r.Err, ErrCompletionFailed) holds.
func Failure(cause error) Result {
	switch {
	case cause == nil:
		cause = ErrCompletionFailed
	case !errors.Is(cause, ErrCompletionFailed):
		cause = fmt.Errorf("%w: %w", ErrCompletionFailed, cause)
	}
	return Result{Err: cause}
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Completer is the model provider abstraction used by the relay.
type Completer interface {
	Complete(ctx context.Context, messages []prompt.Message) Result
}
