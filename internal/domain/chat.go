package domain

import "context"

// EventKind is the type of an inbound chat event.
type EventKind int

const (
	EventText EventKind = iota
	EventButton
	EventPhoto
)

// Attachment references an inbound file held by the transport.
type Attachment struct {
	FileID   string
	URL      string
	MimeType string
	Size     int64
}

// Event is one inbound chat event.
type Event struct {
	Kind       EventKind
	ChatID     string // conversation identity
	UserID     string // sender identity
	Username   string
	Text       string
	Data       string // button payload
	MessageID  string // message that carried the button
	CallbackID string
	Photo      *Attachment
}

// Button is an inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// Keyboard is a grid of inline buttons, row by row.
type Keyboard [][]Button

// Messenger sends outbound chat messages.
type Messenger interface {
	Send(ctx context.Context, chatID, text string, kb Keyboard) (messageID string, err error)
	SendPhoto(ctx context.Context, chatID, photoURL, caption string, kb Keyboard) (messageID string, err error)
	Edit(ctx context.Context, chatID, messageID, text string, kb Keyboard) error
	Ack(ctx context.Context, ev Event, text string) error
}

// EventHandler consumes inbound events.
type EventHandler func(ctx context.Context, ev Event)

// Transport is a chat platform binding.
type Transport interface {
	Messenger
	FileFetcher
	Run(ctx context.Context, handle EventHandler) error
	Name() string
}
