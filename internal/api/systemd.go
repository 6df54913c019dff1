package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camkeeper/internal/api/models"
)

// Restarting goes through the restart command so every transport shares
// the same delayed restart.
func (s *Server) registerSystemdRoutes() {
	if s.options.Services == nil || s.options.Unit == "" {
		return
	}
	unit := s.options.Unit

	huma.Register(s.api, huma.Operation{
		OperationID: "get-service-status",
		Method:      http.MethodGet,
		Path:        "/api/systemd/status",
		Summary:     "Service Status",
		Description: "Active state of the camkeeper systemd unit",
		Tags:        []string{"systemd"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.SystemdServiceStatusResponse, error) {
		state, err := s.options.Services.ServiceStatus(ctx, unit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get service status", err)
		}
		return &models.SystemdServiceStatusResponse{
			Body: models.SystemdServiceStatus{Service: unit, Status: state},
		}, nil
	})
}
