// Package bot runs the update loop: it drains platform updates,
// dispatches commands, and feeds chat messages through the relay
// pipeline. Commands bypass sanitization and rate limiting by design of
// the transport contract; only chat text goes through the pipeline.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/ratelimit"
	"github.com/stupiduntilnot/chatrelay/internal/relay"
	"github.com/stupiduntilnot/chatrelay/internal/sanitize"
	"github.com/stupiduntilnot/chatrelay/internal/session"
	"github.com/stupiduntilnot/chatrelay/internal/transport"
)

// Options configures the update loop.
type Options struct {
	PollTimeoutSeconds   int
	SleepSeconds         int
	DropPending          bool
	PendingWindowSeconds int64
	ModelName            string
	SessionTimeout       time.Duration
}

// Bot wires the transport to the pipeline and serves commands.
type Bot struct {
	transport transport.Transport
	pipeline  *relay.Pipeline
	limiter   *ratelimit.Limiter
	store     *session.Store
	journal   *db.Journal
	circuit   *control.Breaker
	opts      Options

	offset int64
}

// New creates a bot. journal may be nil.
func New(
	tr transport.Transport,
	pipeline *relay.Pipeline,
	limiter *ratelimit.Limiter,
	store *session.Store,
	journal *db.Journal,
	opts Options,
) *Bot {
	if opts.SleepSeconds <= 0 {
		opts.SleepSeconds = 1
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = time.Hour
	}
	return &Bot{
		transport: tr,
		pipeline:  pipeline,
		limiter:   limiter,
		store:     store,
		journal:   journal,
		circuit:   control.NewBreaker(5, 30*time.Second),
		opts:      opts,
	}
}

// Run polls for updates until ctx is cancelled. An in-flight completion
// call is allowed to finish; cancellation is only observed between
// updates.
func (b *Bot) Run(ctx context.Context) error {
	if b.opts.DropPending {
		b.skipPending()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ok, probing := b.circuit.Admit(time.Now())
		if !ok {
			b.sleep(ctx)
			continue
		}
		if probing {
			b.journal.Log(nil, db.EventCircuitHalfOpen, map[string]any{
				"error_class": b.circuit.Cause(),
			})
		}

		updates, err := b.transport.GetUpdates(b.offset, b.opts.PollTimeoutSeconds)
		if err != nil {
			class := transport.FailureClass(err)
			log.Warn().Err(err).Str("class", class).Msg("getUpdates failed")
			if b.circuit.Failure(class, time.Now()) {
				b.journal.Log(nil, db.EventCircuitOpened, map[string]any{
					"error_class":      class,
					"threshold":        b.circuit.Threshold,
					"cooldown_seconds": int(b.circuit.Cooldown.Seconds()),
				})
			}
			b.sleep(ctx)
			continue
		}
		if b.circuit.Success() {
			b.journal.Log(nil, db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		for _, update := range updates {
			b.offset = update.UpdateID + 1
			b.handleUpdate(ctx, update)
		}
		if len(updates) == 0 {
			b.sleep(ctx)
		}
	}
}

func (b *Bot) sleep(ctx context.Context) {
	select {
	case <-time.After(time.Duration(b.opts.SleepSeconds) * time.Second):
	case <-ctx.Done():
	}
}

// skipPending advances the offset past updates older than the pending
// window so a restart does not replay a stale backlog.
func (b *Bot) skipPending() {
	cutoff := time.Now().Unix() - b.opts.PendingWindowSeconds
	for i := 0; i < 10; i++ {
		updates, err := b.transport.GetUpdates(b.offset, 0)
		if err != nil || len(updates) == 0 {
			return
		}
		fresh := false
		for _, update := range updates {
			if update.Message != nil && update.Message.Date >= cutoff {
				fresh = true
				break
			}
			b.offset = update.UpdateID + 1
		}
		if fresh {
			return
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update transport.Update) {
	if update.Message == nil || update.Message.Text == nil {
		return
	}
	text := strings.TrimSpace(*update.Message.Text)
	if text == "" {
		return
	}
	chatID := update.Message.Chat.ID

	if strings.HasPrefix(text, "/") {
		b.dispatchCommand(chatID, text)
		return
	}

	_ = b.transport.SendTyping(chatID)
	reply := b.pipeline.Process(ctx, chatID, text)
	b.reply(chatID, reply.Text)
	if reply.Notice != "" {
		b.reply(chatID, reply.Notice)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.transport.SendMessage(chatID, text); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("sendMessage failed")
		return
	}
	b.journal.Log(nil, db.EventReplySent, map[string]any{"chat_id": chatID})
}

func (b *Bot) dispatchCommand(chatID int64, text string) {
	command := strings.Fields(text)[0]
	if !sanitize.ValidCommand(command) {
		b.reply(chatID, "Unknown command. Use /help to list available commands.")
		return
	}

	switch command {
	case "/start":
		b.store.Reset(chatID)
		welcome := fmt.Sprintf(
			"Hello! I am a chat assistant backed by the %s model.\n"+
				"Send me any message and I will reply, keeping our recent exchange as context.\n"+
				"Use /help to list available commands.", b.opts.ModelName,
		)
		if err := b.transport.SendMenu(chatID, welcome, [][]transport.Button{
			{{Label: "Help", Command: "/help"}, {Label: "Settings", Command: "/settings"}},
			{{Label: "Reset", Command: "/reset"}, {Label: "Stats", Command: "/stats"}},
		}); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("sendMenu failed")
		}
	case "/help":
		b.reply(chatID, b.helpText())
	case "/reset":
		b.pipeline.Reset(chatID)
		b.reply(chatID, "Conversation history and rate limits cleared. You can start fresh now.")
	case "/settings":
		info := b.store.Info(chatID)
		stats := b.limiter.Stats()
		b.reply(chatID, fmt.Sprintf(
			"Model: %s\nMessages in history: %d (max %d)\nTime since last message: %ds\nRate limit: %d messages per %s",
			b.opts.ModelName,
			info.MessageCount,
			b.store.Stats().MaxHistory,
			int(info.TimeSinceActivity.Seconds()),
			stats.MaxRequests,
			stats.Window,
		))
	case "/stats":
		limiter := b.limiter.Stats()
		store := b.store.Stats()
		b.reply(chatID, fmt.Sprintf(
			"Active sessions: %d\nTotal messages held: %d\nIdentities in rate tracker: %d",
			store.ActiveSessions, store.TotalEntries, limiter.ActiveIdentities,
		))
	default:
		b.reply(chatID, "Unknown command. Use /help to list available commands.")
	}
}

func (b *Bot) helpText() string {
	return fmt.Sprintf(`Available commands:
/start - welcome message and quick actions
/help - show this help
/reset - clear your conversation history and rate limits
/settings - show your session and the current configuration
/stats - show aggregate relay statistics

Send any other text message to chat. Conversations are held in memory
only and expire after %s of inactivity.`, b.opts.SessionTimeout)
}
