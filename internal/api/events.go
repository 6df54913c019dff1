package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camkeeper/internal/events"
)

// sseEventTypes maps SSE event names to payloads; the names match the NATS
// subject suffixes.
var sseEventTypes = map[string]any{
	"session-started":     events.SessionStartedEvent{},
	"session-closed":      events.SessionClosedEvent{},
	"segment-opened":      events.SegmentOpenedEvent{},
	"segment-closed":      events.SegmentClosedEvent{},
	"recording-indicator": events.RecordingIndicatorEvent{},
	"manual-recording":    events.ManualRecordingEvent{},
	"motion-state":        events.MotionStateEvent{},
	"sink-state":          events.SinkStateEvent{},
	"merge-completed":     events.MergeCompletedEvent{},
	"merge-failed":        events.MergeFailedEvent{},
	"settings-changed":    events.SettingsChangedEvent{},
	"param-changed":       events.ParamChangedEvent{},
}

func (s *Server) registerSSERoutes() {
	if s.options.Bus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time session, segment, motion, output, merge and settings events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, sseEventTypes, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		stream := events.StreamAll(s.options.Bus, 32)
		defer func() {
			stream.Close()
			if n := stream.Dropped(); n > 0 {
				s.logger.Debug("Event stream client fell behind", "dropped", n)
			}
		}()

		// the current settings version tells a client where the stream starts
		if s.options.Settings != nil {
			if err := send.Data(events.SettingsChangedEvent{
				Version:   s.options.Settings.Snapshot().Version,
				Timestamp: nowRFC3339(),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-stream.C():
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
