// Package discord binds the bot to Discord through discordgo: channel
// messages in, messages with button components out.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

var _ domain.Transport = (*Transport)(nil)

const (
	userPrefix     = "dc:"
	maxRowButtons  = 5
	maxRows        = 5
	maxLabelLen    = 80
	interactionTTL = 15 * time.Minute
)

// Config configures the Discord transport.
type Config struct {
	Token string
}

// Transport implements domain.Transport on a discordgo session.
type Transport struct {
	session *discordgo.Session
	http    *http.Client
	logger  *slog.Logger

	mu           sync.Mutex
	interactions map[string]pendingInteraction
}

type pendingInteraction struct {
	interaction *discordgo.Interaction
	at          time.Time
}

// New creates a Transport. The gateway connection opens in Run.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord: token is required")
	}
	s, err := discordgo.New(normalizeBotToken(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return &Transport{
		session:      s,
		http:         &http.Client{Timeout: 30 * time.Second},
		logger:       logger.With(slog.String("component", "discord")),
		interactions: make(map[string]pendingInteraction),
	}, nil
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "discord" }

// Run opens the gateway, delivers events to handle until ctx is done, and
// closes the session.
func (t *Transport) Run(ctx context.Context, handle domain.EventHandler) error {
	removeMsg := t.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if ev, ok := messageEvent(m); ok {
			handle(ctx, ev)
		}
	})
	removeInt := t.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		ev, ok := interactionEvent(i)
		if !ok {
			return
		}
		t.remember(ev.CallbackID, i.Interaction)
		handle(ctx, ev)
	})
	defer removeMsg()
	defer removeInt()

	if err := t.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	t.logger.InfoContext(ctx, "gateway connected")

	<-ctx.Done()

	if err := t.session.Close(); err != nil {
		return fmt.Errorf("discord: close session: %w", err)
	}
	return nil
}

func (t *Transport) remember(id string, i *discordgo.Interaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for k, p := range t.interactions {
		if now.Sub(p.at) > interactionTTL {
			delete(t.interactions, k)
		}
	}
	t.interactions[id] = pendingInteraction{interaction: i, at: now}
}

func (t *Transport) take(id string) (*discordgo.Interaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.interactions[id]
	delete(t.interactions, id)
	return p.interaction, ok
}

// Send posts a message with optional button rows.
func (t *Transport) Send(ctx context.Context, chatID, text string, kb domain.Keyboard) (string, error) {
	msg, err := t.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content:         text,
		Components:      components(kb),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send: %w", err)
	}
	return msg.ID, nil
}

// SendPhoto posts the caption with the image as an embed.
func (t *Transport) SendPhoto(ctx context.Context, chatID, photoURL, caption string, kb domain.Keyboard) (string, error) {
	msg, err := t.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content:         caption,
		Embeds:          []*discordgo.MessageEmbed{{Image: &discordgo.MessageEmbedImage{URL: photoURL}}},
		Components:      components(kb),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send photo: %w", err)
	}
	return msg.ID, nil
}

// Edit replaces the content and buttons of a message the bot sent.
func (t *Transport) Edit(ctx context.Context, chatID, messageID, text string, kb domain.Keyboard) error {
	comps := components(kb)
	if comps == nil {
		comps = []discordgo.MessageComponent{}
	}
	_, err := t.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         messageID,
		Channel:    chatID,
		Content:    &text,
		Components: &comps,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: edit: %w", err)
	}
	return nil
}

// Ack answers a button interaction. With text the reply is ephemeral;
// without it the interaction is deferred as a silent update.
func (t *Transport) Ack(ctx context.Context, ev domain.Event, text string) error {
	i, ok := t.take(ev.CallbackID)
	if !ok {
		return nil
	}
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if text != "" {
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: text, Flags: discordgo.MessageFlagsEphemeral},
		}
	}
	if err := t.session.InteractionRespond(i, resp, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: ack: %w", err)
	}
	return nil
}

// Fetch downloads an attachment from its CDN URL.
func (t *Transport) Fetch(ctx context.Context, att domain.Attachment) (io.ReadCloser, string, error) {
	if att.URL == "" {
		return nil, "", errors.New("discord: attachment has no url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("discord: fetch: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("discord: fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("discord: fetch: unexpected status %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = att.MimeType
	}
	return resp.Body, ct, nil
}

func messageEvent(m *discordgo.MessageCreate) (domain.Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return domain.Event{}, false
	}
	ev := domain.Event{
		Kind:      domain.EventText,
		ChatID:    m.ChannelID,
		UserID:    userPrefix + m.Author.ID,
		Username:  m.Author.Username,
		Text:      m.Content,
		MessageID: m.ID,
	}
	for _, a := range m.Attachments {
		if a != nil && strings.HasPrefix(a.ContentType, "image/") {
			ev.Kind = domain.EventPhoto
			ev.Photo = &domain.Attachment{FileID: a.ID, URL: a.URL, MimeType: a.ContentType, Size: int64(a.Size)}
			break
		}
	}
	return ev, true
}

func interactionEvent(i *discordgo.InteractionCreate) (domain.Event, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return domain.Event{}, false
	}
	u := i.User
	if i.Member != nil && i.Member.User != nil {
		u = i.Member.User
	}
	if u == nil {
		return domain.Event{}, false
	}
	ev := domain.Event{
		Kind:       domain.EventButton,
		ChatID:     i.ChannelID,
		UserID:     userPrefix + u.ID,
		Username:   u.Username,
		Data:       i.MessageComponentData().CustomID,
		CallbackID: i.ID,
	}
	if i.Message != nil {
		ev.MessageID = i.Message.ID
	}
	return ev, true
}

// components maps a keyboard to action rows within Discord's limits.
func components(kb domain.Keyboard) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for _, row := range kb {
		for start := 0; start < len(row); start += maxRowButtons {
			end := min(start+maxRowButtons, len(row))
			var buttons []discordgo.MessageComponent
			for _, b := range row[start:end] {
				buttons = append(buttons, discordgo.Button{
					Label:    truncate(b.Label, maxLabelLen),
					Style:    buttonStyle(b.Data),
					CustomID: b.Data,
				})
			}
			rows = append(rows, discordgo.ActionsRow{Components: buttons})
			if len(rows) == maxRows {
				return rows
			}
		}
	}
	return rows
}

func buttonStyle(data string) discordgo.ButtonStyle {
	switch {
	case strings.HasSuffix(data, ":cancel"):
		return discordgo.DangerButton
	case strings.HasSuffix(data, ":confirm"), strings.HasSuffix(data, ":done"):
		return discordgo.SuccessButton
	default:
		return discordgo.SecondaryButton
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
