package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stead/pkg/engine"
)

// Systemctl manages units through systemctl. It implements engine.ServiceManager.
type Systemctl struct {
	// Binary is the systemctl executable.
	Binary string

	// User targets the per-user service manager.
	User bool

	logger zerolog.Logger
}

// NewSystemctl creates a client for the per-user service manager.
func NewSystemctl(logger zerolog.Logger) *Systemctl {
	return &Systemctl{
		Binary: "systemctl",
		User:   true,
		logger: logger.With().Str("component", "systemctl").Logger(),
	}
}

// UnitStatus is the live state of a unit.
type UnitStatus struct {
	Unit     string `json:"unit"`
	Active   string `json:"active"`
	Enabled  bool   `json:"enabled"`
	SubState string `json:"sub_state"`
}

// Control implements engine.ServiceManager.
func (s *Systemctl) Control(ctx context.Context, op engine.ServiceOp, unit string) error {
	if unit == "" {
		return fmt.Errorf("unit name is required")
	}
	switch op {
	case engine.ServiceRestart, engine.ServiceStart, engine.ServiceStop,
		engine.ServiceEnable, engine.ServiceDisable:
	default:
		return fmt.Errorf("unsupported service operation: %s", op)
	}

	if _, err := s.run(ctx, string(op), unit); err != nil {
		return fmt.Errorf("failed to %s service: %w", op, err)
	}
	return nil
}

// DaemonReload implements engine.ServiceManager.
func (s *Systemctl) DaemonReload(ctx context.Context) error {
	if _, err := s.run(ctx, "daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload service manager: %w", err)
	}
	return nil
}

// Status queries the live state of unit. Query failures yield empty fields.
func (s *Systemctl) Status(ctx context.Context, unit string) *UnitStatus {
	status := &UnitStatus{Unit: unit}

	active, _ := s.run(ctx, "is-active", unit)
	status.Active = active

	enabled, _ := s.run(ctx, "is-enabled", unit)
	status.Enabled = enabled == "enabled"

	subState, _ := s.run(ctx, "show", unit, "--property=SubState", "--value")
	status.SubState = subState

	return status
}

// run executes systemctl and returns trimmed stdout. Errors carry stderr.
func (s *Systemctl) run(ctx context.Context, args ...string) (string, error) {
	if s.User {
		args = append([]string{"--user"}, args...)
	}

	cmd := exec.CommandContext(ctx, s.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug().Strs("args", args).Msg("Running systemctl")

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}
