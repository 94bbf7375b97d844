// Package dummy provides scripted stand-ins for the chat transport and the
// completion service. Scripts are comma separated actions:
//
//	ok           default success
//	msg:<text>   deliver or reply with text
//	msgb64:<b64> like msg, base64 encoded (for text containing commas)
//	err:<class>  fail
//	sleep:<ms>   wait, honoring context cancellation
//
// The last action repeats once the script is exhausted.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	modelpkg "github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/prompt"
)

// UserID is the sender and chat id of every scripted update.
const UserID int64 = 1

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		switch kind {
		case "err", "sleep", "msg":
			actions = append(actions, action{kind: kind, arg: arg})
		case "msgb64":
			raw, err := base64.StdEncoding.DecodeString(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid dummy action %s: %w", token, err)
			}
			actions = append(actions, action{kind: "msg", arg: string(raw)})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sent is a message delivered through the dummy commander.
type Sent struct {
	ChatID int64
	Text   string
}

// Commander replays a poll script as incoming messages from UserID and
// records what is sent back.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []Sent
	typing   int
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		return nil, sleep(ctx, a.arg)
	case "msg":
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.updateID < offset {
			c.updateID = offset
		}
		c.updateID++
		text := a.arg
		return []cmdpkg.Update{
			{
				UpdateID: c.updateID,
				Message: &cmdpkg.Message{
					MessageID: c.updateID,
					From:      &cmdpkg.User{ID: UserID, FirstName: "dummy"},
					Chat:      cmdpkg.Chat{ID: UserID},
					Text:      &text,
					Date:      time.Now().Unix(),
				},
			},
		}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, Sent{ChatID: chatID, Text: text})
	c.mu.Unlock()
	return nil
}

func (c *Commander) SendTyping(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing++
	return nil
}

// Sent returns a copy of the messages delivered so far.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// TypingCount returns how many typing indicators were sent.
func (c *Commander) TypingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Provider is a scripted completion service.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	calls  int
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

func (p *Provider) Model() string {
	return p.model
}

// Calls returns how many completions were requested.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) Complete(ctx context.Context, messages []prompt.Message) modelpkg.Result {
	p.mu.Lock()
	p.calls++
	a := p.script.next()
	p.mu.Unlock()

	switch a.kind {
	case "err":
		return modelpkg.Failure(fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api")))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return modelpkg.Failure(err)
		}
		return modelpkg.Success("dummy-after-sleep")
	case "msg":
		if strings.TrimSpace(a.arg) == "" {
			return modelpkg.Failure(fmt.Errorf("dummy provider returned empty reply"))
		}
		return modelpkg.Success(strings.TrimSpace(a.arg))
	default:
		return modelpkg.Success("dummy-ok")
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
