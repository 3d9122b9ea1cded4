// Package dummy provides scriptable fakes of the transport and the
// completion provider for local runs and loop tests. Scripts are comma
// separated actions: "ok", "err:<message>", "sleep:<seconds>",
// "msg:<text>".
package dummy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/transport"
)

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
		switch {
		case token == "":
		case token == "ok":
			actions = append(actions, action{kind: "ok"})
		case strings.HasPrefix(token, "err:"):
			actions = append(actions, action{kind: "err", arg: strings.TrimPrefix(token, "err:")})
		case strings.HasPrefix(token, "sleep:"):
			actions = append(actions, action{kind: "sleep", arg: strings.TrimPrefix(token, "sleep:")})
		case strings.HasPrefix(token, "msg:"):
			actions = append(actions, action{kind: "msg", arg: strings.TrimPrefix(token, "msg:")})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

// scriptRunner replays actions in order, repeating the last one forever.
type scriptRunner struct {
	mu      sync.Mutex
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
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func (a action) sleepDuration() time.Duration {
	seconds, err := strconv.Atoi(a.arg)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Transport is a scripted transport.Transport: each "msg:" action
// delivers one inbound message, and all outbound sends are recorded.
type Transport struct {
	runner *scriptRunner
	chatID int64

	mu     sync.Mutex
	nextID int64
	Sent   []string
	Menus  []string
	Typing int
}

// NewTransport creates a scripted transport delivering messages from the
// given chat.
func NewTransport(script string, chatID int64) (*Transport, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Transport{runner: runner, chatID: chatID, nextID: 1}, nil
}

func (t *Transport) GetUpdates(offset int64, timeout int) ([]transport.Update, error) {
	a := t.runner.next()
	switch a.kind {
	case "err":
		return nil, &transport.Failure{Class: transport.FailNetwork,
			Err: fmt.Errorf("dummy transport error: %s", a.arg)}
	case "sleep":
		time.Sleep(a.sleepDuration())
		return nil, nil
	case "msg":
		t.mu.Lock()
		id := t.nextID
		t.nextID++
		t.mu.Unlock()
		if id < offset {
			return nil, nil
		}
		text := a.arg
		return []transport.Update{{
			UpdateID: id,
			Message: &transport.Message{
				Chat: transport.Chat{ID: t.chatID},
				Text: &text,
				Date: time.Now().Unix(),
			},
		}}, nil
	}
	return nil, nil
}

func (t *Transport) SendMessage(chatID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Sent = append(t.Sent, text)
	return nil
}

func (t *Transport) SendMenu(chatID int64, text string, buttons [][]transport.Button) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Menus = append(t.Menus, text)
	return nil
}

func (t *Transport) SendTyping(chatID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Typing++
	return nil
}

// SentMessages returns a copy of everything sent so far.
func (t *Transport) SentMessages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.Sent...)
}

// Provider is a scripted model.Provider: "msg:" actions reply with their
// text, "ok" echoes the last user message.
type Provider struct {
	runner *scriptRunner
}

// NewProvider creates a scripted completion provider.
func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{runner: runner}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, messages []model.Message) (model.CompletionResponse, error) {
	a := p.runner.next()
	switch a.kind {
	case "err":
		return model.CompletionResponse{}, model.Errorf(model.ErrUnavailable, "dummy provider error: %s", a.arg)
	case "sleep":
		select {
		case <-time.After(a.sleepDuration()):
		case <-ctx.Done():
			return model.CompletionResponse{}, model.NewError(model.ErrTimeout, ctx.Err())
		}
		return model.CompletionResponse{Content: "(slept)"}, nil
	case "msg":
		return model.CompletionResponse{Content: a.arg}, nil
	}
	if len(messages) == 0 {
		return model.CompletionResponse{Content: "(no input)"}, nil
	}
	return model.CompletionResponse{Content: messages[len(messages)-1].Content}, nil
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ model.Provider      = (*Provider)(nil)
)
