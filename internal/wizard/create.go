package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
)

const (
	minQuestionLen = 10
	maxQuestionLen = 200
	minOptionLen   = 1
	maxOptionLen   = 50
)

// StartCreate begins the market creation wizard, replacing any session the
// conversation had. The balance check here is advisory; commit re-checks.
func (m *Machine) StartCreate(ctx context.Context, ev domain.Event) {
	id, ok := m.resolve(ctx, ev)
	if !ok {
		return
	}
	if short, msg := m.balanceShort(ctx, id); short {
		m.reply(ctx, ev, msg, nil)
		return
	}

	m.Sessions.Put(ev.ChatID, &session.CreateMarket{Step: session.StepQuestion})
	m.reply(ctx, ev, promptQuestion, cancelKeyboard())
}

// balanceShort reports whether the wallet cannot cover the creation fee. Read
// failures are not treated as short.
func (m *Machine) balanceShort(ctx context.Context, id domain.Identity) (bool, string) {
	fee, err := m.Chain.CreationFee(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "read creation fee failed", slog.String("error", err.Error()))
		return false, ""
	}
	bal, err := m.Chain.TokenBalance(ctx, id.Address)
	if err != nil {
		m.logger.WarnContext(ctx, "read balance failed", slog.String("error", err.Error()))
		return false, ""
	}
	if bal.Cmp(fee) >= 0 {
		return false, ""
	}
	dec, err := m.TokenDecimals(ctx)
	if err != nil {
		return true, "Your balance is below the market creation fee."
	}
	return true, fmt.Sprintf("Creating a market costs %s but your balance is %s. Top up your wallet (/wallet) and try again.",
		FormatAmount(fee, dec), FormatAmount(bal, dec))
}

func (m *Machine) onCreateInput(ctx context.Context, ev domain.Event, c *session.CreateMarket) {
	if ev.Kind == domain.EventPhoto {
		if c.Step != session.StepImage {
			m.reply(ctx, ev, m.stepPrompt(c), nil)
			return
		}
		m.onImage(ctx, ev, c)
		return
	}

	text := strings.TrimSpace(ev.Text)
	switch c.Step {
	case session.StepQuestion:
		if n := utf8.RuneCountInString(text); n < minQuestionLen || n > maxQuestionLen {
			m.reply(ctx, ev, msgQuestionInvalid, cancelKeyboard())
			return
		}
		c.Question = text
		m.advance(ctx, ev, c, session.StepOptionA)

	case session.StepOptionA, session.StepOptionB:
		if n := utf8.RuneCountInString(text); n < minOptionLen || n > maxOptionLen {
			m.reply(ctx, ev, msgOptionInvalid, cancelKeyboard())
			return
		}
		if c.Step == session.StepOptionA {
			c.OptionA = text
			m.advance(ctx, ev, c, session.StepOptionB)
		} else {
			c.OptionB = text
			m.advance(ctx, ev, c, session.StepEndTime)
		}

	case session.StepEndTime:
		end, err := dateparse.ParseIn(text, time.UTC)
		if err != nil || !end.After(m.now()) {
			m.reply(ctx, ev, msgEndTimeInvalid, cancelKeyboard())
			return
		}
		c.EndTime = end.Unix()
		m.advance(ctx, ev, c, session.StepImage)

	case session.StepImage:
		if !strings.EqualFold(text, "skip") {
			m.reply(ctx, ev, msgImageInvalid, imageKeyboard())
			return
		}
		m.advance(ctx, ev, c, session.StepTags)

	case session.StepTags:
		m.reply(ctx, ev, msgUseTagButtons, nil)

	case session.StepConfirm:
		m.reply(ctx, ev, msgUseConfirm, confirmKeyboard())
	}
}

func (m *Machine) onImage(ctx context.Context, ev domain.Event, c *session.CreateMarket) {
	if ev.Photo == nil {
		m.reply(ctx, ev, msgImageInvalid, imageKeyboard())
		return
	}
	if m.Images == nil {
		m.reply(ctx, ev, msgImageDisabled, imageKeyboard())
		return
	}
	url, err := m.Images.Upload(ctx, *ev.Photo)
	if err != nil {
		m.logger.WarnContext(ctx, "image upload failed",
			slog.String("chat_id", ev.ChatID),
			slog.String("error", err.Error()),
		)
		m.reply(ctx, ev, msgImageFailed, imageKeyboard())
		return
	}
	c.ImageURL = url
	m.advance(ctx, ev, c, session.StepTags)
}

func (m *Machine) onCreateButton(ctx context.Context, ev domain.Event, c *session.CreateMarket) {
	switch {
	case ev.Data == DataSkipImage:
		if c.Step != session.StepImage {
			return
		}
		m.advance(ctx, ev, c, session.StepTags)

	case strings.HasPrefix(ev.Data, DataTagPrefix):
		if c.Step != session.StepTags {
			return
		}
		tag := strings.TrimPrefix(ev.Data, DataTagPrefix)
		if !m.knownTag(tag) {
			return
		}
		c.ToggleTag(tag)
		m.Sessions.Touch(ev.ChatID)
		m.replyEdit(ctx, ev, tagPrompt(c), tagKeyboard(m.tags, c))

	case ev.Data == DataTagsDone:
		if c.Step != session.StepTags {
			return
		}
		c.FreezeTags()
		m.advance(ctx, ev, c, session.StepConfirm)

	case ev.Data == DataConfirm:
		if c.Step != session.StepConfirm {
			m.reply(ctx, ev, m.stepPrompt(c), nil)
			return
		}
		m.confirm(ctx, ev, c)
	}
}

func (m *Machine) knownTag(tag string) bool {
	for _, t := range m.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// advance moves c to next and prompts for it.
func (m *Machine) advance(ctx context.Context, ev domain.Event, c *session.CreateMarket, next session.Step) {
	c.Step = next
	m.Sessions.Touch(ev.ChatID)
	m.reply(ctx, ev, m.stepPrompt(c), m.stepKeyboard(c))
}

func (m *Machine) stepPrompt(c *session.CreateMarket) string {
	switch c.Step {
	case session.StepQuestion:
		return promptQuestion
	case session.StepOptionA:
		return promptOptionA
	case session.StepOptionB:
		return promptOptionB
	case session.StepEndTime:
		return promptEndTime
	case session.StepImage:
		return promptImage
	case session.StepTags:
		return tagPrompt(c)
	default:
		return confirmation(c)
	}
}

func (m *Machine) stepKeyboard(c *session.CreateMarket) domain.Keyboard {
	switch c.Step {
	case session.StepImage:
		return imageKeyboard()
	case session.StepTags:
		return tagKeyboard(m.tags, c)
	case session.StepConfirm:
		return confirmKeyboard()
	default:
		return cancelKeyboard()
	}
}
