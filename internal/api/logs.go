package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/logging"
)

// registerLogRoutes registers the log streaming SSE endpoint.
func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Log Stream",
		Description: "Recent log entries, then new ones as they are written",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, input *struct {
		Since uint64 `query:"since" doc:"Only entries after this sequence number"`
	}, send sse.Sender) {
		// Subscribe before replaying so nothing falls between the two.
		eventCh := make(chan any, 256)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.engine.Bus(), eventCh)
		defer unsubscribe()

		last := input.Since
		for _, entry := range logging.Recent().Since(input.Since) {
			if err := send.Data(logEvent(entry)); err != nil {
				return
			}
			last = entry.Seq
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				entry, ok := ev.(events.LogEntryEvent)
				if !ok || entry.Seq <= last {
					continue
				}
				last = entry.Seq
				if err := send.Data(entry); err != nil {
					return
				}
			}
		}
	})
}

func logEvent(e logging.Entry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        e.Seq,
		Timestamp:  e.Time.Format(time.RFC3339Nano),
		Level:      e.Level,
		Module:     e.Module,
		Message:    e.Message,
		Attributes: e.Attributes,
	}
}

// ForwardLogs publishes every log entry on bus for the log stream.
func ForwardLogs(bus *events.Bus) {
	logging.OnEntry(func(e logging.Entry) {
		bus.Publish(logEvent(e))
	})
}
