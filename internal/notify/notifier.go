// Package notify announces finished queue entries.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abdulachik/multipost/internal/queue"
)

// Notification represents a notification message.
type Notification struct {
	Subject string
	Body    string
	// Status is the terminal status of the entry that triggered it.
	Status queue.Status
}

// Notifier is the interface for sending notifications.
type Notifier interface {
	// Send sends a notification.
	Send(ctx context.Context, notification Notification) error
}

// Dispatcher turns finished queue entries into notifications for every sender.
type Dispatcher struct {
	senders []Notifier
}

// NewDispatcher creates a dispatcher. It sends nothing without senders.
func NewDispatcher(senders ...Notifier) *Dispatcher {
	return &Dispatcher{senders: senders}
}

// Notify sends e to every sender. A failing sender does not stop the others.
func (d *Dispatcher) Notify(ctx context.Context, e queue.Entry) error {
	n := FormatEntry(e)

	var errs []error
	for _, s := range d.senders {
		if err := s.Send(ctx, n); err != nil {
			slog.Warn("notification failed", "entry", e.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatEntry renders the outcome of an entry, one line per site.
func FormatEntry(e queue.Entry) Notification {
	title := e.Title
	if title == "" {
		title = e.SubmissionID
	}

	var subject string
	switch e.Status {
	case queue.StatusSuccess:
		subject = fmt.Sprintf("Posted %q", title)
	case queue.StatusPartialFailure:
		subject = fmt.Sprintf("Posted %q with failures", title)
	case queue.StatusCancelled:
		subject = fmt.Sprintf("Cancelled %q", title)
	default:
		subject = fmt.Sprintf("Failed to post %q", title)
	}

	var b strings.Builder
	for _, site := range e.Sites {
		r, ok := e.Results[site]
		switch {
		case !ok:
			fmt.Fprintf(&b, "%s: not posted\n", site)
		case r.OK && r.PostURL != "":
			fmt.Fprintf(&b, "%s: %s\n", site, r.PostURL)
		case r.OK:
			fmt.Fprintf(&b, "%s: posted\n", site)
		default:
			fmt.Fprintf(&b, "%s: %s\n", site, r.Message)
		}
	}

	return Notification{
		Subject: subject,
		Body:    strings.TrimSuffix(b.String(), "\n"),
		Status:  e.Status,
	}
}
