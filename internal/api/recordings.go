package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camkeeper/internal/api/models"
	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/hls"
)

func (s *Server) registerRecordingRoutes() {
	if c := s.options.Catalog; c != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "list-sessions",
			Method:      http.MethodGet,
			Path:        "/api/sessions",
			Summary:     "List Sessions",
			Description: "Recorded sessions with their segments and merge state, newest first",
			Tags:        []string{"recordings"},
			Security:    withAuth(),
			Errors:      []int{401, 500},
		}, func(ctx context.Context, input *models.SessionListRequest) (*models.SessionListResponse, error) {
			sessions, err := c.Sessions(ctx, input.Limit)
			if err != nil {
				return nil, huma.Error500InternalServerError("Failed to list sessions", err)
			}
			return &models.SessionListResponse{
				Body: models.SessionListData{Sessions: sessions, Count: len(sessions)},
			}, nil
		})

		huma.Register(s.api, huma.Operation{
			OperationID: "get-session",
			Method:      http.MethodGet,
			Path:        "/api/sessions/{id}",
			Summary:     "Get Session",
			Description: "One session with its segments and image parameter timeline",
			Tags:        []string{"recordings"},
			Security:    withAuth(),
			Errors:      []int{401, 404, 500},
		}, func(ctx context.Context, input *models.SessionRequest) (*models.SessionResponse, error) {
			sess, err := c.Session(ctx, input.ID)
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, huma.Error404NotFound("Session not found")
			}
			if err != nil {
				return nil, huma.Error500InternalServerError("Failed to load session", err)
			}
			return &models.SessionResponse{Body: *sess}, nil
		})
	}

	if m := s.options.Merges; m != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-merges",
			Method:      http.MethodGet,
			Path:        "/api/merges",
			Summary:     "Merge Queue",
			Description: "Queued, running and recently finished merge jobs",
			Tags:        []string{"recordings"},
			Security:    withAuth(),
			Errors:      []int{401},
		}, func(_ context.Context, _ *struct{}) (*models.MergeResponse, error) {
			data := models.MergeData{Pending: m.Pending(), History: m.History()}
			if job, ok := m.Current(); ok {
				data.Current = &job
			}
			return &models.MergeResponse{Body: data}, nil
		})
	}
}

// hlsHandler serves the ring directory. The playlist must never be cached
// since it changes with every segment.
func (s *Server) hlsHandler(dir string) http.Handler {
	files := http.StripPrefix("/hls/", http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch {
		case strings.HasSuffix(r.URL.Path, "/"):
			http.NotFound(w, r)
			return
		case strings.HasSuffix(r.URL.Path, hls.PlaylistName):
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		case strings.HasSuffix(r.URL.Path, ".ts"):
			w.Header().Set("Content-Type", "video/mp2t")
		}
		files.ServeHTTP(w, r)
	})
}
