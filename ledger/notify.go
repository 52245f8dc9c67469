package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warp/ledger-engine/observability"
)

// Notifier delivers a message to an employee's phone (SMS, WhatsApp).
// A nil error means the provider accepted the message.
type Notifier interface {
	Notify(ctx context.Context, phone, message string) error
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) error { return nil }

// Notification is a message queued during a unit of work and sent only after
// the unit commits.
type Notification struct {
	Phone   string
	Message string
}

// dispatcher sends notifications best-effort. Failures, including panics in
// the notifier, are logged and counted; they never reach the caller.
type dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
}

func (d dispatcher) send(ctx context.Context, notes []Notification) {
	for _, n := range notes {
		d.sendOne(ctx, n)
	}
}

func (d dispatcher) sendOne(ctx context.Context, n Notification) {
	if d.notifier == nil {
		return
	}
	if n.Phone == "" {
		observability.Notifications.WithLabelValues("skipped").Inc()
		d.log().DebugContext(ctx, "notification skipped, no phone number")
		return
	}

	err := safeNotify(ctx, d.notifier, n)
	if err != nil {
		observability.Notifications.WithLabelValues("failed").Inc()
		d.log().WarnContext(ctx, "notification failed",
			slog.String("phone", n.Phone),
			slog.Any("error", fmt.Errorf("%w: %v", ErrNotificationFailed, err)),
		)
		return
	}
	observability.Notifications.WithLabelValues("sent").Inc()
}

func safeNotify(ctx context.Context, notifier Notifier, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return notifier.Notify(ctx, n.Phone, n.Message)
}

func (d dispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.Default()
}
