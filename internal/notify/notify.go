// Package notify announces submission events to chat platforms (Slack, Discord).
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Kind identifies what happened to a submission.
type Kind string

const (
	KindSubmissionCreated Kind = "submission_created"
	KindStateChanged      Kind = "state_changed"
)

// Event describes a submission event.
type Event struct {
	Kind       Kind
	PRNumber   int
	URL        string
	User       string
	Filename   string
	ItemType   string
	ChangeType string
	State      string
	PrevState  string
}

// Notifier delivers events to one destination.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// FormattedEvent is an event rendered for display in chat.
type FormattedEvent struct {
	Title  string
	URL    string
	Body   string
	Color  string // sidebar color hint, e.g. "#36a64f"
	Fields []Field
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool
}

const (
	colorInfo    = "#439fe0"
	colorSuccess = "#36a64f"
	colorDanger  = "#d00000"
)

// Format renders evt for chat.
func Format(evt Event) FormattedEvent {
	f := FormattedEvent{
		URL: evt.URL,
		Fields: []Field{
			{Name: "User", Value: evt.User, Short: true},
			{Name: "Change", Value: evt.ChangeType, Short: true},
			{Name: "File", Value: evt.Filename, Short: true},
		},
	}
	if evt.ItemType != "" {
		f.Fields = append(f.Fields, Field{Name: "Type", Value: evt.ItemType, Short: true})
	}

	switch evt.Kind {
	case KindSubmissionCreated:
		f.Title = fmt.Sprintf("New submission #%d: %s %s/%s", evt.PRNumber, evt.ChangeType, evt.User, evt.Filename)
		f.Body = "A catalog submission is waiting for review."
		f.Color = colorInfo
	case KindStateChanged:
		f.Title = fmt.Sprintf("Submission #%d %s", evt.PRNumber, evt.State)
		f.Body = fmt.Sprintf("State changed from %s to %s.", evt.PrevState, evt.State)
		switch evt.State {
		case "Merged":
			f.Color = colorSuccess
		case "Rejected":
			f.Color = colorDanger
		default:
			f.Color = colorInfo
		}
	default:
		f.Title = "Submission #" + strconv.Itoa(evt.PRNumber)
		f.Color = colorInfo
	}
	return f
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) error { return nil }

// Recorder keeps every event it receives, for tests.
type Recorder struct {
	Events []Event
	Err    error
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, evt Event) error {
	r.Events = append(r.Events, evt)
	return r.Err
}
