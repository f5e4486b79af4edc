package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

var _ domain.Transport = (*Transport)(nil)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// userPrefix scopes Telegram user IDs in the user store.
const userPrefix = "tg:"

// Config configures the Telegram transport.
type Config struct {
	Token       string
	APIBase     string
	PollTimeout time.Duration
}

// Transport implements domain.Transport over the Bot API.
type Transport struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	offset int64
}

// New creates a Transport.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	return &Transport{
		cfg: cfg,
		// Long polls hold the request open for PollTimeout.
		client: &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		logger: logger.With(slog.String("component", "telegram")),
	}, nil
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "telegram" }

func (t *Transport) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.cfg.APIBase, t.cfg.Token, method)
}

// Run long-polls getUpdates and hands every event to handle until ctx is
// done. Transient failures back off exponentially up to 30s.
func (t *Transport) Run(ctx context.Context, handle domain.EventHandler) error {
	t.logger.InfoContext(ctx, "polling for updates")
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := t.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = apiErr.RetryAfter
			}
			t.logger.WarnContext(ctx, "get updates failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if ev, ok := toEvent(u); ok {
				handle(ctx, ev)
			}
		}
	}
}

func (t *Transport) poll(ctx context.Context) ([]update, error) {
	var updates []update
	err := t.call(ctx, "getUpdates", map[string]any{
		"offset":          t.offset,
		"timeout":         int(t.cfg.PollTimeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

// toEvent maps an update to a chat event. Updates from bots and kinds the
// bot does not handle are skipped.
func toEvent(u update) (domain.Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.Message == nil {
			return domain.Event{}, false
		}
		return domain.Event{
			Kind:       domain.EventButton,
			ChatID:     strconv.FormatInt(cq.Message.Chat.ID, 10),
			UserID:     userPrefix + strconv.FormatInt(cq.From.ID, 10),
			Username:   cq.From.Username,
			Data:       cq.Data,
			MessageID:  strconv.FormatInt(cq.Message.MessageID, 10),
			CallbackID: cq.ID,
		}, true

	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.From.IsBot {
			return domain.Event{}, false
		}
		ev := domain.Event{
			Kind:      domain.EventText,
			ChatID:    strconv.FormatInt(m.Chat.ID, 10),
			UserID:    userPrefix + strconv.FormatInt(m.From.ID, 10),
			Username:  m.From.Username,
			Text:      m.Text,
			MessageID: strconv.FormatInt(m.MessageID, 10),
		}
		if att := attachment(m); att != nil {
			ev.Kind = domain.EventPhoto
			ev.Photo = att
			ev.Text = m.Caption
		}
		return ev, true
	}
	return domain.Event{}, false
}

// attachment picks the largest photo size, or an image sent as a document.
func attachment(m *message) *domain.Attachment {
	if len(m.Photo) > 0 {
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return &domain.Attachment{FileID: best.FileID, Size: best.FileSize, MimeType: "image/jpeg"}
	}
	if m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/") {
		return &domain.Attachment{FileID: m.Document.FileID, Size: m.Document.FileSize, MimeType: m.Document.MimeType}
	}
	return nil
}

func replyMarkup(kb domain.Keyboard) *inlineKeyboard {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]inlineButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]inlineButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, inlineButton{Text: b.Label, CallbackData: b.Data})
		}
		rows = append(rows, buttons)
	}
	return &inlineKeyboard{InlineKeyboard: rows}
}

// Send posts a text message.
func (t *Transport) Send(ctx context.Context, chatID, text string, kb domain.Keyboard) (string, error) {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if m := replyMarkup(kb); m != nil {
		payload["reply_markup"] = m
	}
	var sent message
	if err := t.call(ctx, "sendMessage", payload, &sent); err != nil {
		return "", err
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// SendPhoto posts a photo by URL with a caption.
func (t *Transport) SendPhoto(ctx context.Context, chatID, photoURL, caption string, kb domain.Keyboard) (string, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"photo":   photoURL,
		"caption": caption,
	}
	if m := replyMarkup(kb); m != nil {
		payload["reply_markup"] = m
	}
	var sent message
	if err := t.call(ctx, "sendPhoto", payload, &sent); err != nil {
		return "", err
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// Edit replaces the text and keyboard of a message the bot sent.
func (t *Transport) Edit(ctx context.Context, chatID, messageID, text string, kb domain.Keyboard) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: edit: bad message id %q", messageID)
	}
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": id,
		"text":       text,
	}
	if m := replyMarkup(kb); m != nil {
		payload["reply_markup"] = m
	}
	err = t.call(ctx, "editMessageText", payload, nil)
	if isNotModified(err) {
		return nil
	}
	return err
}

// Ack answers a callback query so the client stops its spinner.
func (t *Transport) Ack(ctx context.Context, ev domain.Event, text string) error {
	if ev.CallbackID == "" {
		return nil
	}
	payload := map[string]any{"callback_query_id": ev.CallbackID}
	if text != "" {
		payload["text"] = text
	}
	return t.call(ctx, "answerCallbackQuery", payload, nil)
}

// Fetch downloads an attachment through getFile.
func (t *Transport) Fetch(ctx context.Context, att domain.Attachment) (io.ReadCloser, string, error) {
	var f file
	if err := t.call(ctx, "getFile", map[string]any{"file_id": att.FileID}, &f); err != nil {
		return nil, "", err
	}
	if f.FilePath == "" {
		return nil, "", errors.New("telegram: getFile returned no path")
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", t.cfg.APIBase, t.cfg.Token, f.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: fetch: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("telegram: fetch: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
