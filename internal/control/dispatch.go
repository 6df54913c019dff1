package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/logging"
)

// Settings is the config store as seen by commands.
type Settings interface {
	Snapshot() config.Settings
	Update(p config.Patch) (config.Settings, error)
}

// Handler carries out the commands that are not settings updates.
type Handler interface {
	StartSession(ctx context.Context) (string, error)
	StopSession(ctx context.Context) (string, error)
	StartManual(ctx context.Context) (string, error)
	StopManual(ctx context.Context) (string, error)
	EnableHLS(ctx context.Context) error
	Status(ctx context.Context) any
	Restart(ctx context.Context) error
}

// Dispatcher executes requests against the settings store and a Handler.
type Dispatcher struct {
	thing    string
	settings Settings
	handler  Handler
	logger   logging.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher answering as thing. handler may be
// nil, in which case only settings commands succeed.
func NewDispatcher(thing string, settings Settings, handler Handler, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		thing:    thing,
		settings: settings,
		handler:  handler,
		logger:   logger,
		now:      time.Now,
	}
}

// Thing returns the device name used in responses and topics.
func (d *Dispatcher) Thing() string {
	return d.thing
}

// Dispatch runs req and always returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	name, ok := Lookup(req.Command)
	if !ok {
		resp := newResponse(d.thing, req, req.Command, d.now())
		return d.fail(resp, &Error{
			Code:    CodeUnknownCommand,
			Message: fmt.Sprintf("%q", req.Command),
			Cause:   ErrUnknownCommand,
		})
	}
	resp := newResponse(d.thing, req, string(name), d.now())
	d.logger.Info("Command received", "command", name, "request_id", req.RequestID, "source", req.Source)

	patch, isSetting, err := PatchFor(name, req)
	if isSetting {
		if err != nil {
			return d.fail(resp, &Error{Code: CodeBadRequest, Message: "invalid arguments", Cause: err})
		}
		return d.update(resp, patch)
	}

	if name != Status && name != HLSOff && d.handler == nil {
		return d.fail(resp, &Error{Code: CodeFailed, Message: string(name), Cause: ErrUnsupported})
	}

	switch name {
	case SessionStart:
		id, err := d.handler.StartSession(ctx)
		if err != nil {
			return d.fail(resp, &Error{Code: CodeFailed, Message: "session start", Cause: err})
		}
		resp.Message = "session started"
		resp.Data = map[string]any{"session_id": id}

	case SessionStop:
		id, err := d.handler.StopSession(ctx)
		if err != nil {
			return d.fail(resp, &Error{Code: CodeFailed, Message: "session stop", Cause: err})
		}
		resp.Message = "session stopped"
		resp.Data = map[string]any{"session_id": id}

	case StartManual:
		path, err := d.handler.StartManual(ctx)
		if err != nil {
			return d.fail(resp, &Error{Code: CodeFailed, Message: "manual recording start", Cause: err})
		}
		resp.Message = "manual recording started"
		resp.Data = map[string]any{"path": path}

	case StopManual:
		path, err := d.handler.StopManual(ctx)
		if err != nil {
			return d.fail(resp, &Error{Code: CodeFailed, Message: "manual recording stop", Cause: err})
		}
		resp.Message = "manual recording stopped"
		resp.Data = map[string]any{"path": path}

	case HLSOn:
		if err := d.handler.EnableHLS(ctx); err != nil {
			return d.fail(resp, &Error{Code: CodeFailed, Message: "hls", Cause: err})
		}
		resp.Message = "hls enabled"

	case HLSOff:
		resp.Message = "hls is always on, request ignored"

	case Status:
		resp.Message = "status"
		resp.Data = d.status(ctx)

	case Restart:
		if err := d.handler.Restart(ctx); err != nil {
			return d.fail(resp, &Error{Code: CodeFailed, Message: "restart", Cause: err})
		}
		resp.Message = "restart scheduled"
	}
	return resp
}

// StatusResponse answers a status request.
func (d *Dispatcher) StatusResponse(ctx context.Context, req Request) Response {
	resp := newResponse(d.thing, req, string(Status), d.now())
	resp.Data = d.status(ctx)
	return resp
}

func (d *Dispatcher) status(ctx context.Context) any {
	if d.handler == nil {
		return map[string]any{"settings": d.settings.Snapshot().View()}
	}
	return d.handler.Status(ctx)
}

func (d *Dispatcher) update(resp Response, p config.Patch) Response {
	before := d.settings.Snapshot().Version
	s, err := d.settings.Update(p)
	if err != nil {
		return d.fail(resp, &Error{Code: CodeRejected, Message: "settings update rejected", Cause: err})
	}
	resp.Message = "settings updated"
	if s.Version == before {
		resp.Message = "settings unchanged"
	}
	resp.Data = s.View()
	return resp
}

func (d *Dispatcher) fail(resp Response, err *Error) Response {
	resp.Result = ResultError
	resp.Message = err.Error()
	level := d.logger.Warn
	if errors.Is(err, ErrUnknownCommand) || errors.Is(err, ErrMissingValue) {
		level = d.logger.Info
	}
	level("Command failed", "command", resp.Command, "request_id", resp.RequestID, "error", err)
	return resp
}
