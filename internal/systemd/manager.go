// Package systemd restarts the camkeeper unit through D-Bus.
package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// DefaultUnit is the service unit installed with the appliance.
const DefaultUnit = "camkeeper.service"

// Manager handles service lifecycle operations via D-Bus.
type Manager struct {
	conn *dbus.Conn
}

// NewManager connects to the system bus, or to the user bus when user is
// true.
func NewManager(ctx context.Context, user bool) (*Manager, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

// ServiceStatus retrieves the ActiveState property of a unit.
func (m *Manager) ServiceStatus(ctx context.Context, unit string) (string, error) {
	prop, err := m.conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return "", err
	}
	state, _ := prop.Value.Value().(string)
	return state, nil
}

// RestartService restarts a unit using the replace mode and waits for
// the job result.
func (m *Manager) RestartService(ctx context.Context, unit string) error {
	done := make(chan string, 1)
	if _, err := m.conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return err
	}
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("restart %s: job %s", unit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}

// Restarter restarts one unit, connecting on demand.
type Restarter struct {
	Unit string
	User bool
}

// Restart restarts the unit. When camkeeper is the unit itself the call
// usually does not return because the process is stopped first.
func (r Restarter) Restart(ctx context.Context) error {
	unit := r.Unit
	if unit == "" {
		unit = DefaultUnit
	}
	m, err := NewManager(ctx, r.User)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.RestartService(ctx, unit)
}
