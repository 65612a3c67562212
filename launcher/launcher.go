// Package launcher starts a local browser in remote-debugging mode for
// a capture session to attach to. It is a one-shot, operator-supervised
// action: locate the executable, check the port, spawn, then block
// until the browser exits. No retry logic lives here on purpose.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrPortInUse means a debugging listener is already bound to the port.
// Recoverable: the operator may reuse the running session or proceed.
var ErrPortInUse = errors.New("launcher: debugging port already in use")

// NotFoundError reports that no browser executable exists at any of the
// checked paths. Every checked path is carried for the operator.
type NotFoundError struct {
	Checked []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("launcher: no browser executable found (checked %s)",
		strings.Join(e.Checked, ", "))
}

// Config for a launch.
type Config struct {
	// Bin overrides executable discovery when non-empty.
	Bin string
	// Port is the remote-debugging port. Default: 9222.
	Port int
	// ProfileDir is the dedicated user-data directory. Default:
	// "<os.UserHomeDir>/.chatwatch/profile".
	ProfileDir string
	// ExtraFlags are appended to the browser argument list.
	ExtraFlags []string
	// Confirm is asked before proceeding over a bound port. Nil means
	// never proceed (abort is the safe non-interactive answer).
	Confirm func(prompt string) bool

	Logger *slog.Logger
}

func (c *Config) defaults() error {
	if c.Port <= 0 {
		c.Port = 9222
	}
	if c.ProfileDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("launcher: resolve home dir: %w", err)
		}
		c.ProfileDir = home + "/.chatwatch/profile"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// FindExecutable returns the first existing path from the list, or a
// NotFoundError listing everything that was checked.
func FindExecutable(paths []string) (string, error) {
	checked := make([]string, 0, len(paths))
	for _, p := range paths {
		checked = append(checked, p)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", &NotFoundError{Checked: checked}
}

// PortInUse probes the debugging port with a short-lived connection.
// A successful dial means a listener (likely a previous debug session)
// already holds the port. Dial failure is the expected common case.
func PortInUse(port int) bool {
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(port))
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Launch runs the full one-shot sequence: find the executable, probe
// the port (prompting on conflict), ensure the profile directory, spawn
// the browser, and block until it exits.
func Launch(ctx context.Context, cfg Config) error {
	if err := cfg.defaults(); err != nil {
		return err
	}
	log := cfg.Logger

	bin := cfg.Bin
	if bin == "" {
		var err error
		bin, err = FindExecutable(DefaultPaths())
		if err != nil {
			return err
		}
	}
	log.Info("launcher: using browser", "bin", bin)

	if PortInUse(cfg.Port) {
		log.Warn("launcher: debugging port already bound", "port", cfg.Port)
		prompt := fmt.Sprintf("Port %d already has a listener (a debug session may be running). Launch anyway?", cfg.Port)
		if cfg.Confirm == nil || !cfg.Confirm(prompt) {
			return ErrPortInUse
		}
	}

	if err := os.MkdirAll(cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("launcher: create profile dir %s: %w", cfg.ProfileDir, err)
	}

	args := append([]string{
		fmt.Sprintf("--remote-debugging-port=%d", cfg.Port),
		fmt.Sprintf("--user-data-dir=%s", cfg.ProfileDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-extensions",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-blink-features=AutomationControlled",
		"--window-size=1920,1080",
	}, cfg.ExtraFlags...)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launcher: spawn browser: %w", err)
	}
	log.Info("launcher: browser started",
		"pid", cmd.Process.Pid, "port", cfg.Port, "profile", cfg.ProfileDir)

	// The launch is human-supervised: block until the browser exits.
	if err := cmd.Wait(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			log.Info("launcher: browser exited", "code", exit.ExitCode())
			return nil
		}
		return fmt.Errorf("launcher: wait: %w", err)
	}
	log.Info("launcher: browser exited cleanly")
	return nil
}
