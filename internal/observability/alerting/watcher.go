package alerting

import (
	"context"
	"log/slog"
	"time"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/notify"
	"MNEE-Nexus/pkg/logger"
)

// Source is the part of the notification feed the watcher consumes.
type Source interface {
	Subscribe(buffer int) (<-chan notify.Entry, func())
}

// Watch forwards every error entry whose code is flagged for alerting to the
// dispatcher. It returns when ctx is cancelled or the feed closes.
func Watch(ctx context.Context, source Source, dispatcher Dispatcher) {
	log := logger.Named("alerting")
	entries, cancel := source.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			event, alert := EventFromEntry(entry)
			if !alert {
				continue
			}
			sendCtx, done := context.WithTimeout(ctx, 10*time.Second)
			if err := dispatcher.Notify(sendCtx, event); err != nil {
				log.Warn("告警发送失败", slog.String("code", string(event.Code)), slog.Any("error", err))
			}
			done()
		}
	}
}

// EventFromEntry converts a feed entry into an alert event. The second return
// value is false when the entry does not warrant an alert.
func EventFromEntry(entry notify.Entry) (Event, bool) {
	if entry.Kind != notify.KindError || entry.Code == "" {
		return Event{}, false
	}
	code := xerrors.Code(entry.Code)
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert && attrs.Severity != xerrors.SeverityCritical {
		return Event{}, false
	}
	event := Event{
		Code:       code,
		Message:    entry.Text,
		Severity:   attrs.Severity,
		AttemptID:  entry.AttemptID,
		OccurredAt: entry.Timestamp,
	}
	if entry.TaskID != nil {
		event.Metadata = map[string]string{"task_id": entry.TaskID.String()}
	}
	return event, true
}
