package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/logging"
)

func (s *Server) registerLogRoutes() {
	if s.options.Bus == nil {
		return
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// subscribe before replaying so nothing falls in between
		stream := events.StreamOf[events.LogEntryEvent](s.options.Bus, 100)
		defer stream.Close()

		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				if err := send.Data(events.LogEntryEvent{
					Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
					Level:      entry.Level,
					Module:     entry.Module,
					Message:    entry.Message,
					Attributes: entry.Attributes,
				}); err != nil {
					return
				}
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

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339)
}
