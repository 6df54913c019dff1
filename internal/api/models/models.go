package models

import (
	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/control"
	"github.com/smazurov/camkeeper/internal/merge"
	"github.com/smazurov/camkeeper/internal/status"
	"github.com/smazurov/camkeeper/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Status models
type StatusResponse struct {
	Body status.Report
}

// Settings models
type SettingsResponse struct {
	Body config.View
}

// SettingsPatchRequest carries any subset of the settings keys, e.g.
// {"fps": 15, "roi": [0, 0, 320, 240]}.
type SettingsPatchRequest struct {
	RawBody []byte `contentType:"application/json"`
}

// Command models
type CommandRequest struct {
	RawBody []byte `contentType:"application/json"`
}

type CommandResponse struct {
	Body control.Response
}

type CommandListData struct {
	Commands []control.Name `json:"commands" doc:"Canonical command names"`
}

type CommandListResponse struct {
	Body CommandListData
}

// Catalog models
type SessionListRequest struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum sessions returned, newest first"`
}

type SessionListData struct {
	Sessions []catalog.Session `json:"sessions" doc:"Recorded sessions"`
	Count    int               `json:"count" example:"3" doc:"Number of sessions returned"`
}

type SessionListResponse struct {
	Body SessionListData
}

type SessionRequest struct {
	ID string `path:"id" example:"20260105_094000" doc:"Session identifier"`
}

type SessionResponse struct {
	Body catalog.Session
}

// Merge models
type MergeData struct {
	Pending int             `json:"pending" doc:"Jobs waiting in the queue"`
	Current *merge.Job      `json:"current,omitempty" doc:"Job being merged"`
	History []merge.Outcome `json:"history" doc:"Recently finished jobs, oldest first"`
}

type MergeResponse struct {
	Body MergeData
}

// Systemd models
type SystemdServiceStatus struct {
	Service string `json:"service" example:"camkeeper.service" doc:"Unit name"`
	Status  string `json:"status" example:"active" doc:"Unit active state"`
}

type SystemdServiceStatusResponse struct {
	Body SystemdServiceStatus
}
