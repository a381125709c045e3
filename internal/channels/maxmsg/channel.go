package maxmsg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/channels"
)

// IngressMode selects how updates are received, mirroring internal/channels/telegram.
type IngressMode string

const (
	ModeLongPolling IngressMode = "poll"
	ModeWebhook     IngressMode = "webhook"
)

// Config configures the Max adapter (max.* keys in spec §6).
type Config struct {
	BotToken      string
	BaseURL       string // override for testing; defaults to the production API
	AllowFrom     []string
	DMPolicy      channels.Policy
	GroupPolicy   channels.Policy
	Mode          IngressMode
	WebhookURL    string
	WebhookSecret string
	WebhookListen string
	PollTimeout   time.Duration // server-side long-poll hold, default 25s
}

// Channel is the Max messenger platform adapter.
type Channel struct {
	*channels.BaseChannel
	client  *client
	cfg     Config
	limiter *channels.WebhookRateLimiter

	marker     int64
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	httpServer *http.Server
}

func New(cfg Config, router bus.Router) *Channel {
	if cfg.Mode == "" {
		cfg.Mode = ModeLongPolling
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 25 * time.Second
	}
	base := channels.NewBaseChannel("max", router, cfg.AllowFrom, cfg.DMPolicy, cfg.GroupPolicy)
	return &Channel{
		BaseChannel: base,
		client:      newClient(cfg.BaseURL, cfg.BotToken),
		cfg:         cfg,
		limiter:     channels.NewWebhookRateLimiter(),
	}
}

func (c *Channel) Start(ctx context.Context) error {
	if c.cfg.Mode == ModeWebhook {
		return c.startWebhook(ctx)
	}
	return c.startPolling(ctx)
}

func (c *Channel) startPolling(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})
	c.SetRunning(true)

	go func() {
		defer close(c.pollDone)
		backoff := time.Second
		for {
			select {
			case <-pollCtx.Done():
				return
			default:
			}

			resp, err := c.client.getUpdates(pollCtx, c.marker, int(c.cfg.PollTimeout.Seconds()))
			if err != nil {
				if pollCtx.Err() != nil {
					return
				}
				slog.Warn("maxmsg: getUpdates failed, backing off", "error", err, "backoff", backoff)
				select {
				case <-pollCtx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
			c.marker = resp.Marker
			for _, u := range resp.Updates {
				c.dispatch(u)
			}
		}
	}()
	return nil
}

func (c *Channel) startWebhook(ctx context.Context) error {
	if err := c.client.subscribeWebhook(ctx, c.cfg.WebhookURL, c.cfg.WebhookSecret); err != nil {
		return fmt.Errorf("maxmsg: subscribe webhook: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if c.cfg.WebhookSecret != "" && r.Header.Get("X-Max-Bot-Api-Secret") != c.cfg.WebhookSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !c.limiter.Allow(r.RemoteAddr) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var u update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.dispatch(u)
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: c.cfg.WebhookListen, Handler: mux}
	c.httpServer = srv
	c.SetRunning(true)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("maxmsg: webhook server failed", "error", err)
		}
	}()
	return nil
}

func (c *Channel) dispatch(u update) {
	evt, ok := translate(c.Name(), u)
	if !ok {
		return
	}
	c.PublishIncoming(evt)
}

func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("maxmsg: polling goroutine did not exit within timeout")
		}
	}
	if c.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return c.httpServer.Shutdown(shutdownCtx)
	}
	return nil
}

// Send applies one bus.OutgoingAction through the Max Bot API.
func (c *Channel) Send(ctx context.Context, action bus.OutgoingAction) error {
	switch action.Kind {
	case bus.ActionSendText:
		_, err := c.client.sendMessage(ctx, action.ChatID, sendMessageRequest{Text: action.Text})
		return err

	case bus.ActionEditMessage:
		return c.client.editMessage(ctx, action.MessageID, action.Text)

	case bus.ActionDeleteMessage:
		return c.client.deleteMessage(ctx, action.MessageID)

	case bus.ActionSendAction:
		return c.client.sendAction(ctx, action.ChatID, action.ActionType)

	case bus.ActionSendMedia, bus.ActionSendMediaGroup:
		return c.sendMediaAttachments(ctx, action)

	case bus.ActionAnswerCallback:
		return c.client.answerCallback(ctx, action.CallbackID, action.CallbackText)

	case bus.ActionPin, bus.ActionUnpin:
		// Max's Bot API has no pin endpoint as of this writing; these are
		// no-ops rather than errors so the pipeline's generic render step
		// doesn't have to special-case per-adapter capability.
		return nil

	default:
		return fmt.Errorf("maxmsg: unsupported action kind %q", action.Kind)
	}
}

func (c *Channel) sendMediaAttachments(ctx context.Context, action bus.OutgoingAction) error {
	if len(action.Media) == 0 {
		return fmt.Errorf("maxmsg: send_media: no attachments")
	}
	attachments := make([]attachment, 0, len(action.Media))
	for _, m := range action.Media {
		payload, err := json.Marshal(map[string]string{"url": m.URL})
		if err != nil {
			return fmt.Errorf("maxmsg: marshal attachment payload: %w", err)
		}
		attachments = append(attachments, attachment{Type: mediaAttachmentType(m.ContentType), Payload: payload})
	}
	_, err := c.client.sendMessage(ctx, action.ChatID, sendMessageRequest{Text: action.Text, Attachments: attachments})
	return err
}

func mediaAttachmentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "video"):
		return "video"
	case strings.HasPrefix(contentType, "audio"):
		return "audio"
	default:
		return "image"
	}
}
