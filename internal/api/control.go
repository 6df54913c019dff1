package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camkeeper/internal/api/models"
	"github.com/smazurov/camkeeper/internal/control"
)

const commandSource = "http"

func (s *Server) registerControlRoutes() {
	d := s.options.Dispatcher

	if s.options.Reporter != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-status",
			Method:      http.MethodGet,
			Path:        "/api/status",
			Summary:     "Status",
			Description: "Session state, settings, merge queue, live outputs and system load",
			Tags:        []string{"status"},
			Security:    withAuth(),
			Errors:      []int{401},
		}, func(ctx context.Context, _ *struct{}) (*models.StatusResponse, error) {
			return &models.StatusResponse{Body: s.options.Reporter.Report(ctx)}, nil
		})
	}

	if s.options.Settings != nil {
		huma.Register(s.api, huma.Operation{
			OperationID: "get-settings",
			Method:      http.MethodGet,
			Path:        "/api/settings",
			Summary:     "Get Settings",
			Description: "Current runtime settings",
			Tags:        []string{"settings"},
			Security:    withAuth(),
			Errors:      []int{401},
		}, func(_ context.Context, _ *struct{}) (*models.SettingsResponse, error) {
			return &models.SettingsResponse{Body: s.options.Settings.Snapshot().View()}, nil
		})
	}

	if d == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "patch-settings",
		Method:      http.MethodPatch,
		Path:        "/api/settings",
		Summary:     "Update Settings",
		Description: "Apply any subset of the settings. The update is validated as a whole and either fully applied or rejected.",
		Tags:        []string{"settings"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422},
	}, func(ctx context.Context, input *models.SettingsPatchRequest) (*models.CommandResponse, error) {
		if !json.Valid(input.RawBody) {
			return nil, huma.Error400BadRequest("settings must be a JSON object")
		}
		resp := d.Dispatch(ctx, control.Request{
			Command: string(control.UpdateSettings),
			Value:   json.RawMessage(input.RawBody),
			Source:  commandSource,
		})
		if !resp.OK() {
			return nil, huma.Error422UnprocessableEntity(resp.Message)
		}
		return &models.CommandResponse{Body: resp}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-commands",
		Method:      http.MethodGet,
		Path:        "/api/commands",
		Summary:     "List Commands",
		Description: "Canonical command names accepted by POST /api/commands, MQTT and NATS",
		Tags:        []string{"commands"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.CommandListResponse, error) {
		return &models.CommandListResponse{Body: models.CommandListData{Commands: control.Commands()}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "run-command",
		Method:      http.MethodPost,
		Path:        "/api/commands",
		Summary:     "Run Command",
		Description: "Run a command envelope such as {\"command\": \"set_fps\", \"value\": 15}. The response mirrors the MQTT response; failures are reported in its result field.",
		Tags:        []string{"commands"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, func(ctx context.Context, input *models.CommandRequest) (*models.CommandResponse, error) {
		req, err := control.ParseRequest(input.RawBody)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid command envelope", err)
		}
		if req.Source == "" {
			req.Source = commandSource
		}
		return &models.CommandResponse{Body: d.Dispatch(ctx, req)}, nil
	})
}
