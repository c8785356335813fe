package flow

import (
	"fmt"
	"strings"
)

// EventKind names a variant of Event.
type EventKind string

const (
	EventStart     EventKind = "start"
	EventSelection EventKind = "selection"
	EventText      EventKind = "text"
	EventVoice     EventKind = "voice"
	EventPage      EventKind = "page"
	EventCancel    EventKind = "cancel"
)

// Event is one decoded user input. The set of variants is closed: Start, Selection,
// Text, Voice, Page and Cancel.
type Event interface {
	Kind() EventKind
	event()
}

// Start enters a flow. Sent once, before any other event of the session.
type Start struct{}

// Selection is a tap on one of the offered options.
type Selection struct {
	Value string
}

// Text is free text typed by the user.
type Text struct {
	Body string
}

// Voice is a recorded voice note.
type Voice struct {
	FileID   string
	Duration int // seconds
}

// Page asks for another page of the current option list.
type Page struct {
	Number int
}

// Cancel abandons the session from any state.
type Cancel struct{}

func (Start) Kind() EventKind     { return EventStart }
func (Selection) Kind() EventKind { return EventSelection }
func (Text) Kind() EventKind      { return EventText }
func (Voice) Kind() EventKind     { return EventVoice }
func (Page) Kind() EventKind      { return EventPage }
func (Cancel) Kind() EventKind    { return EventCancel }

func (Start) event()     {}
func (Selection) event() {}
func (Text) event()      {}
func (Voice) event()     {}
func (Page) event()      {}
func (Cancel) event()    {}

// Payload is the wire form of an Event as sent by a delivery adapter.
type Payload struct {
	Type     EventKind `json:"type"`
	Value    string    `json:"value,omitempty"`
	Body     string    `json:"body,omitempty"`
	FileID   string    `json:"file_id,omitempty"`
	Duration int       `json:"duration,omitempty"`
	Page     int       `json:"page,omitempty"`
}

// Decode converts a payload into an Event.
func (p Payload) Decode() (Event, error) {
	switch p.Type {
	case EventStart:
		return Start{}, nil
	case EventSelection:
		if strings.TrimSpace(p.Value) == "" {
			return nil, fmt.Errorf("selection without value: %w", ErrValidation)
		}
		return Selection{Value: strings.TrimSpace(p.Value)}, nil
	case EventText:
		return Text{Body: p.Body}, nil
	case EventVoice:
		if p.FileID == "" {
			return nil, fmt.Errorf("voice note without file id: %w", ErrValidation)
		}
		return Voice{FileID: p.FileID, Duration: p.Duration}, nil
	case EventPage:
		return Page{Number: p.Page}, nil
	case EventCancel:
		return Cancel{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q: %w", p.Type, ErrValidation)
	}
}
