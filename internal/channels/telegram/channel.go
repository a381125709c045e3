// Package telegram implements the Telegram platform adapter (spec §4.7)
// using github.com/mymmrac/telego: normalizing telego.Update into
// bus.IncomingEvent and applying bus.OutgoingAction via the Bot API.
//
// Grounded on vanducng-goclaw's internal/channels/telegram/channel.go and
// handlers.go: the same long-polling-goroutine-with-cancel shape, forum
// topic / General-topic-ID=1 handling, and senderID "id|username" compound
// form, generalized to emit the richer bus.IncomingEvent instead of a
// flat InboundMessage, and extended with a webhook ingress mode (spec §4.7
// requires both long-polling and webhook reception per adapter; the teacher
// only wired polling).
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/channels"
)

// secretTokenHeader is the header Telegram sets on webhook requests when a
// secret_token was registered via SetWebhookParams.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// IngressMode selects how updates are received.
type IngressMode string

const (
	ModeLongPolling IngressMode = "poll"
	ModeWebhook     IngressMode = "webhook"
)

// Config configures the Telegram adapter (telegram.* keys in spec §6).
type Config struct {
	Token          string
	Proxy          string
	AllowFrom      []string
	DMPolicy       channels.Policy
	GroupPolicy    channels.Policy
	Mode           IngressMode
	WebhookURL     string // public callback URL registered with Telegram, webhook mode only
	WebhookSecret  string // X-Telegram-Bot-Api-Secret-Token value, webhook mode only
	WebhookListen  string // local bind address for the webhook HTTP server, e.g. ":8081"
}

// telegramGeneralTopicID is the fixed topic ID for a forum's "General" topic.
const telegramGeneralTopicID = 1

// Channel is the Telegram platform adapter.
type Channel struct {
	*channels.BaseChannel
	bot    *telego.Bot
	cfg    Config
	limiter *channels.WebhookRateLimiter

	pollCancel context.CancelFunc
	pollDone   chan struct{}
	httpServer *http.Server
}

// New constructs a Telegram adapter bound to router for IncomingEvent
// delivery; OutgoingAction delivery happens through Send, called by
// channels.Manager's dispatch loop.
func New(cfg Config, router bus.Router) (*Channel, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("telegram: invalid proxy url %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeLongPolling
	}

	base := channels.NewBaseChannel("telegram", router, cfg.AllowFrom, cfg.DMPolicy, cfg.GroupPolicy)
	return &Channel{
		BaseChannel: base,
		bot:         bot,
		cfg:         cfg,
		limiter:     channels.NewWebhookRateLimiter(),
	}, nil
}

// Start begins ingress per cfg.Mode.
func (c *Channel) Start(ctx context.Context) error {
	switch c.cfg.Mode {
	case ModeWebhook:
		return c.startWebhook(ctx)
	default:
		return c.startPolling(ctx)
	}
}

func (c *Channel) startPolling(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout: 30,
		AllowedUpdates: []string{
			"message", "edited_message", "callback_query", "my_chat_member",
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	c.SetRunning(true)
	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.handleUpdate(pollCtx, update)
			}
		}
	}()
	return nil
}

func (c *Channel) startWebhook(ctx context.Context) error {
	if err := c.bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:         c.cfg.WebhookURL,
		SecretToken: c.cfg.WebhookSecret,
	}); err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}

	srv := &http.Server{Addr: c.cfg.WebhookListen, Handler: c.webhookHandler()}
	c.httpServer = srv
	c.SetRunning(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("telegram: webhook server failed", "error", err)
		}
	}()
	return nil
}

// webhookHandler validates the shared secret, rate-limits by remote address,
// and decodes inbound updates per Telegram's webhook request schema.
func (c *Channel) webhookHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if c.cfg.WebhookSecret != "" && r.Header.Get(secretTokenHeader) != c.cfg.WebhookSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !c.limiter.Allow(r.RemoteAddr) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var update telego.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.handleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
	if c.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.httpServer.Shutdown(ctx)
	}
	return nil
}
