// Package relay orchestrates one inbound chat message through
// sanitization, admission control, history recording, and the completion
// gateway. Per-identity state stays linearizable: the history is
// snapshotted before the gateway call so no store lock is held across
// external I/O.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/model"
	"github.com/stupiduntilnot/chatrelay/internal/ratelimit"
	"github.com/stupiduntilnot/chatrelay/internal/sanitize"
	"github.com/stupiduntilnot/chatrelay/internal/session"
)

// noticeThreshold: below this many remaining requests the reply carries a
// low-priority remaining-requests notice.
const noticeThreshold = 3

// Pipeline wires the sanitizer, rate limiter, conversation store, and
// completion gateway together for each inbound message.
type Pipeline struct {
	validator *sanitize.Validator
	limiter   *ratelimit.Limiter
	store     *session.Store
	provider  model.Provider
	journal   *db.Journal

	systemPrompt string
	timeout      time.Duration
}

// New creates a pipeline. journal may be nil; systemPrompt may be empty.
func New(
	validator *sanitize.Validator,
	limiter *ratelimit.Limiter,
	store *session.Store,
	provider model.Provider,
	journal *db.Journal,
	systemPrompt string,
	timeout time.Duration,
) *Pipeline {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		validator:    validator,
		limiter:      limiter,
		store:        store,
		provider:     provider,
		journal:      journal,
		systemPrompt: systemPrompt,
		timeout:      timeout,
	}
}

// Reply is the user-visible outcome of one inbound message.
type Reply struct {
	Text   string
	Notice string
}

// Process runs one message through the pipeline and returns the reply to
// deliver. Every outcome, including rejections, produces user-visible
// text; nothing sensitive leaks into it.
func (p *Pipeline) Process(ctx context.Context, identity int64, raw string) Reply {
	trace := uuid.NewString()
	logger := log.With().Str("trace", trace).Int64("chat_id", identity).Logger()

	p.journal.Log(nil, db.EventMessageReceived, map[string]any{
		"trace":   trace,
		"chat_id": identity,
		"text":    sanitize.ForLog(raw, 200),
	})

	ok, cleaned, reason := p.validator.Validate(raw)
	if !ok {
		logger.Info().Str("reason", reason).Msg("message rejected")
		p.journal.Log(nil, db.EventMessageRejected, map[string]any{
			"trace": trace, "chat_id": identity, "reason": reason,
		})
		return Reply{Text: fmt.Sprintf(
			"Invalid message: %s. Please send a plain text message of at most %d characters.",
			reason, p.validator.MaxLength,
		)}
	}

	allowed, remaining := p.limiter.Allow(identity)
	if !allowed {
		wait := int(p.limiter.WaitTime(identity).Round(time.Second).Seconds())
		logger.Info().Int("wait_seconds", wait).Msg("message rate limited")
		p.journal.Log(nil, db.EventRateLimited, map[string]any{
			"trace": trace, "chat_id": identity, "wait_seconds": wait,
		})
		return Reply{Text: fmt.Sprintf(
			"Rate limit exceeded. Please wait %d seconds before sending another message.", wait,
		)}
	}

	p.store.AppendUser(identity, cleaned)

	// Snapshot before the gateway call; no store lock is held while the
	// remote call runs.
	messages := p.assemble(identity)

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	resp, err := p.provider.ChatCompletion(callCtx, messages)
	if err != nil {
		// The user's message stays recorded; no rollback on failure.
		kind := model.KindOf(err)
		event := logger.Warn()
		if kind == model.ErrAuthFailed || kind == model.ErrInvalidRequest {
			// Configuration or programmer error; retrying will not help.
			event = logger.Error()
		}
		event.Str("error_kind", string(kind)).Err(err).Msg("completion failed")
		p.journal.Log(nil, db.EventCompletionFailed, map[string]any{
			"trace": trace, "chat_id": identity, "error_kind": string(kind),
		})
		return Reply{Text: "Sorry, I could not get a response right now. " +
			"Please try again in a moment, or use /reset to clear your history."}
	}

	p.store.AppendAssistant(identity, resp.Content)

	logger.Debug().
		Dur("latency", time.Since(started)).
		Int("input_tokens", resp.InputTokens).
		Int("output_tokens", resp.OutputTokens).
		Msg("completion succeeded")
	p.journal.Log(nil, db.EventCompletionDone, map[string]any{
		"trace":         trace,
		"chat_id":       identity,
		"latency_ms":    time.Since(started).Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	})

	reply := Reply{Text: resp.Content}
	if remaining <= noticeThreshold {
		reply.Notice = fmt.Sprintf("You have %d requests remaining this window.", remaining)
	}
	return reply
}

// assemble snapshots identity's history, prefixing the system prompt
// when configured.
func (p *Pipeline) assemble(identity int64) []model.Message {
	history := p.store.History(identity)
	if p.systemPrompt == "" {
		return history
	}
	messages := make([]model.Message, 0, len(history)+1)
	messages = append(messages, model.Message{Role: model.RoleSystem, Content: p.systemPrompt})
	return append(messages, history...)
}

// Reset clears identity's conversation history and rate window. Command
// events bypass sanitization and admission control.
func (p *Pipeline) Reset(identity int64) {
	p.store.Reset(identity)
	p.limiter.Reset(identity)
	p.journal.Log(nil, db.EventSessionReset, map[string]any{"chat_id": identity})
	log.Info().Int64("chat_id", identity).Msg("session and rate window reset")
}
