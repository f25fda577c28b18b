// Package notify delivers coordination notifications to members.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
)

// ErrNoRecipients is returned when a notification addresses nobody.
var ErrNoRecipients = errors.New("notification has no recipients")

// Notifier delivers a single notification.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// LogNotifier writes notifications to the structured log. It stands in for a
// push provider in local and single-node deployments.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a notifier that logs every delivery.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Get().Named("notify")
	}
	return &LogNotifier{log: log}
}

// Notify logs the notification.
func (l *LogNotifier) Notify(ctx context.Context, n model.Notification) error { //nolint:gocritic // value semantics for queue payloads
	if len(n.Recipients) == 0 {
		return ErrNoRecipients
	}
	fields := []logger.Field{
		logger.String("kind", string(n.Kind)),
		logger.String("action_item", n.ActionItemID),
		logger.String("venue", n.VenueID),
		logger.String("recipients", strings.Join(n.Recipients, ",")),
	}
	if n.ChatID != "" {
		fields = append(fields, logger.String("chat", n.ChatID))
	}
	l.log.Info(ctx, "notification delivered", fields...)
	return nil
}

// Recorder keeps delivered notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []model.Notification
}

// Notify records the notification.
func (r *Recorder) Notify(_ context.Context, n model.Notification) error { //nolint:gocritic // value semantics for queue payloads
	if len(n.Recipients) == 0 {
		return ErrNoRecipients
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Fanout delivers to every wrapped notifier and joins their errors.
type Fanout []Notifier

// Notify calls each notifier in order.
func (f Fanout) Notify(ctx context.Context, n model.Notification) error { //nolint:gocritic // value semantics for queue payloads
	var errs []error
	for _, nt := range f {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
