package nats

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/camkeeper/internal/control"
	"github.com/smazurov/camkeeper/internal/logging"
)

// queueGroup lets several responders share the command subject without
// answering twice.
const queueGroup = "camkeeper"

// Responder answers command requests on SubjectCommand(thing).
type Responder struct {
	url        string
	dispatcher *control.Dispatcher
	logger     logging.Logger

	mu        sync.RWMutex
	conn      *nats.Conn
	sub       *nats.Subscription
	ctx       context.Context
	connected bool
}

// NewResponder creates a responder using d for every request.
func NewResponder(url string, d *control.Dispatcher, logger logging.Logger) *Responder {
	return &Responder{url: url, dispatcher: d, logger: logger}
}

// Start connects and subscribes. Requests are dispatched with ctx.
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := nats.Connect(r.url,
		nats.Name("camkeeper-control-"+r.dispatcher.Thing()),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			r.setConnected(false)
			if err != nil {
				r.logger.Warn("NATS control disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			r.setConnected(true)
			r.logger.Info("NATS control reconnected")
		}),
	)
	if err != nil {
		r.logger.Warn("Failed to connect to NATS, control over NATS disabled", "error", err)
		return err
	}

	subject := SubjectCommand(r.dispatcher.Thing())
	sub, err := conn.QueueSubscribe(subject, queueGroup, r.handle)
	if err != nil {
		conn.Close()
		return err
	}
	r.conn, r.sub, r.ctx, r.connected = conn, sub, ctx, true
	r.logger.Info("NATS control listening", "subject", subject)
	return nil
}

func (r *Responder) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

func (r *Responder) handle(msg *nats.Msg) {
	r.mu.RLock()
	ctx := r.ctx
	r.mu.RUnlock()

	var resp control.Response
	req, err := control.ParseRequest(msg.Data)
	if err != nil {
		resp = control.Response{
			ThingName: r.dispatcher.Thing(),
			Result:    control.ResultError,
			Message:   err.Error(),
			Timestamp: time.Now().Format(time.RFC3339),
		}
	} else {
		if req.Source == "" {
			req.Source = "nats"
		}
		resp = r.dispatcher.Dispatch(ctx, req)
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		r.logger.Error("Failed to marshal response", "command", resp.Command, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("Failed to send NATS reply", "command", resp.Command, "error", err)
	}
}

// IsConnected reports whether the responder is connected.
func (r *Responder) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected && r.conn != nil
}

// Stop unsubscribes and closes the connection.
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
		r.sub = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.connected = false
}
