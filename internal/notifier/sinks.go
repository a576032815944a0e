package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/zher/internal/logctx"
	"github.com/italolelis/zher/internal/transfer"
)

// Multi emits every event to each sink in order.
type Multi []transfer.Sink

func (m Multi) Emit(ctx context.Context, ev transfer.Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// LogSink writes lifecycle events to the context logger. Progress is logged at debug level.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, ev transfer.Event) {
	logger := logctx.LoggerFromContext(ctx)

	switch ev.Type {
	case transfer.EventProgress:
		logger.DebugContext(ctx, "download progress",
			"download_id", ev.ID,
			"received", humanize.IBytes(uint64(ev.Received)),
			"total", humanize.IBytes(uint64(ev.Total)),
			"percent", fmt.Sprintf("%.1f", ev.Percent),
		)
	case transfer.EventFailed:
		logger.WarnContext(ctx, "download event", "type", string(ev.Type), "download_id", ev.ID, "error", ev.Error)
	default:
		logger.InfoContext(ctx, "download event", "type", string(ev.Type), "download_id", ev.ID, "name", ev.Name)
	}
}

// NotifierSink forwards terminal events to a Notifier. Delivery happens in the
// background so a slow webhook never stalls a transfer.
type NotifierSink struct {
	notifier Notifier
	timeout  time.Duration
}

func NewNotifierSink(n Notifier, timeout time.Duration) *NotifierSink {
	return &NotifierSink{notifier: n, timeout: timeout}
}

func (s *NotifierSink) Emit(ctx context.Context, ev transfer.Event) {
	if !ev.Type.Terminal() {
		return
	}

	content := Message(ev)
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, content); err != nil {
			logger.ErrorContext(ctx, "failed to send notification", "download_id", ev.ID, "err", err)
		}
	}()
}

// Message renders a terminal event as a short human-readable line.
func Message(ev transfer.Event) string {
	switch ev.Type {
	case transfer.EventCompleted:
		return fmt.Sprintf("✅ Download finished: %s (%s)", ev.Name, humanize.IBytes(uint64(ev.Size)))
	case transfer.EventFailed:
		return fmt.Sprintf("❌ Download failed: %s (%s)", ev.Name, ev.Error)
	default:
		return fmt.Sprintf("%s: %s", ev.Type, ev.Name)
	}
}
