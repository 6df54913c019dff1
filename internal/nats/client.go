package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/camkeeper/internal/control"
)

// Client sends commands to a running camkeeper.
type Client struct {
	conn *nats.Conn
}

// Dial connects to the NATS server at url.
func Dial(url string) (*Client, error) {
	conn, err := nats.Connect(url, nats.Name("camkeeper-cli"), nats.MaxReconnects(0))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Send issues req to thing and waits for the reply or ctx.
func (c *Client) Send(ctx context.Context, thing string, req control.Request) (control.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return control.Response{}, err
	}
	msg, err := c.conn.RequestWithContext(ctx, SubjectCommand(thing), data)
	if err != nil {
		return control.Response{}, fmt.Errorf("command %s: %w", req.Command, err)
	}
	var resp control.Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return control.Response{}, fmt.Errorf("decode reply: %w", err)
	}
	return resp, nil
}

// Subscribe calls fn for every event thing publishes until the returned
// function is called.
func (c *Client) Subscribe(thing string, fn func(EventMessage)) (func(), error) {
	sub, err := c.conn.Subscribe(SubjectEvent(thing, ">"), func(msg *nats.Msg) {
		if m, err := UnmarshalEvent(msg.Data); err == nil {
			fn(m)
		}
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// Close closes the connection.
func (c *Client) Close() {
	c.conn.Close()
}
