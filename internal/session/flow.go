// Package session holds the per-conversation workflow state. A Session
// carries exactly one Flow variant; the variant type is the action and each
// variant only has the fields that action uses.
package session

import (
	"strings"
	"time"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// Action names a workflow.
type Action string

const (
	ActionCreateMarket Action = "create_market"
	ActionPlaceBet     Action = "place_bet"
	ActionWithdraw     Action = "withdraw"
)

// Flow is implemented by the workflow variants in this package only.
type Flow interface {
	Action() Action
	isFlow()
}

// Step is a position in the market creation wizard.
type Step int

const (
	StepQuestion Step = iota
	StepOptionA
	StepOptionB
	StepEndTime
	StepImage
	StepTags
	StepConfirm
)

func (s Step) String() string {
	switch s {
	case StepQuestion:
		return "question"
	case StepOptionA:
		return "optionA"
	case StepOptionB:
		return "optionB"
	case StepEndTime:
		return "endTime"
	case StepImage:
		return "image"
	case StepTags:
		return "tags"
	case StepConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

// CreateMarket accumulates the wizard fields.
type CreateMarket struct {
	Step     Step
	Question string
	OptionA  string
	OptionB  string
	EndTime  int64 // unix seconds
	ImageURL string
	// SelectedTags is an ordered set.
	SelectedTags []string
	// Tags is the comma-joined selection, frozen when tag selection ends.
	Tags string
}

func (*CreateMarket) Action() Action { return ActionCreateMarket }
func (*CreateMarket) isFlow()        {}

// HasTag reports whether tag is selected.
func (c *CreateMarket) HasTag(tag string) bool {
	for _, t := range c.SelectedTags {
		if t == tag {
			return true
		}
	}
	return false
}

// ToggleTag adds tag if absent and removes it if present, keeping insertion
// order of the remaining tags.
func (c *CreateMarket) ToggleTag(tag string) {
	for i, t := range c.SelectedTags {
		if t == tag {
			c.SelectedTags = append(c.SelectedTags[:i:i], c.SelectedTags[i+1:]...)
			return
		}
	}
	c.SelectedTags = append(c.SelectedTags, tag)
}

// FreezeTags stores the current selection as the tag string.
func (c *CreateMarket) FreezeTags() {
	c.Tags = strings.Join(c.SelectedTags, ",")
}

// EndTimeUTC returns the end time as a time.Time.
func (c *CreateMarket) EndTimeUTC() time.Time {
	return time.Unix(c.EndTime, 0).UTC()
}

// PlaceBet holds a chosen market and side while waiting for an amount.
type PlaceBet struct {
	Token  string
	Market domain.MarketRef
	Side   domain.Side
}

func (*PlaceBet) Action() Action { return ActionPlaceBet }
func (*PlaceBet) isFlow()        {}

// WithdrawStep is a position in the withdraw flow.
type WithdrawStep int

const (
	WithdrawAddress WithdrawStep = iota
	WithdrawAmount
)

// Withdraw collects a destination and an amount.
type Withdraw struct {
	Step WithdrawStep
	To   string
}

func (*Withdraw) Action() Action { return ActionWithdraw }
func (*Withdraw) isFlow()        {}

// Session is the record stored per conversation.
type Session struct {
	ChatID  string
	Flow    Flow
	Touched time.Time
}
