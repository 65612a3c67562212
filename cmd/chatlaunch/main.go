// Command chatlaunch starts a browser in remote-debugging mode with a
// dedicated profile and blocks until it exits.
//
// Usage:
//
//	chatlaunch                         # default port 9222, default profile
//	chatlaunch -port 9333 -bin /usr/bin/chromium
//	chatlaunch -yes                    # skip the port-conflict prompt
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hazyhaar/chatwatch/launcher"
)

func main() {
	port := flag.Int("port", 9222, "remote debugging port")
	profile := flag.String("profile", "", "browser profile directory (default ~/.chatwatch/profile)")
	bin := flag.String("bin", "", "browser executable (default: search well-known paths)")
	yes := flag.Bool("yes", false, "answer yes to all prompts")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := launcher.Config{
		Bin:        *bin,
		Port:       *port,
		ProfileDir: *profile,
		Logger:     logger,
	}
	if !*yes {
		cfg.Confirm = stdinConfirm
	} else {
		cfg.Confirm = func(string) bool { return true }
	}

	if err := launcher.Launch(ctx, cfg); err != nil {
		var notFound *launcher.NotFoundError
		switch {
		case errors.As(err, &notFound):
			fmt.Fprintln(os.Stderr, "No browser executable found. Checked:")
			for _, p := range notFound.Checked {
				fmt.Fprintln(os.Stderr, "  "+p)
			}
			fmt.Fprintln(os.Stderr, "Install Chrome/Chromium/Edge or pass -bin.")
			os.Exit(1)
		case errors.Is(err, launcher.ErrPortInUse):
			logger.Info("chatlaunch: aborted, port in use")
			os.Exit(0)
		default:
			logger.Error("chatlaunch: fatal", "error", err)
			os.Exit(1)
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func stdinConfirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
