package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/compositor/internal/events"
)

// registerSSERoutes registers the engine event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Engine lifecycle, program switches, source health, output status, overlays and displays",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"engine-state":          events.EngineStateEvent{},
		"scene-switched":        events.SceneSwitchedEvent{},
		"transition-started":    events.TransitionStartedEvent{},
		"source-state-changed":  events.SourceStateChangedEvent{},
		"output-status-changed": events.OutputStatusChangedEvent{},
		"overlay-changed":       events.OverlayChangedEvent{},
		"display-changed":       events.DisplayChangedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		bus := s.engine.Bus()
		eventCh := make(chan any, 32)

		subs := events.Subscriptions{
			events.SubscribeToChannel[events.EngineStateEvent](bus, eventCh),
			events.SubscribeToChannel[events.SceneSwitchedEvent](bus, eventCh),
			events.SubscribeToChannel[events.TransitionStartedEvent](bus, eventCh),
			events.SubscribeToChannel[events.SourceStateChangedEvent](bus, eventCh),
			events.SubscribeToChannel[events.OutputStatusChangedEvent](bus, eventCh),
			events.SubscribeToChannel[events.OverlayChangedEvent](bus, eventCh),
			events.SubscribeToChannel[events.DisplayChangedEvent](bus, eventCh),
		}
		defer subs.Close()

		// Tell the client where the engine stands before any change arrives.
		state := "stopped"
		if s.engine.Running() {
			state = "started"
		}
		if err := send.Data(events.EngineStateEvent{
			State:     state,
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
