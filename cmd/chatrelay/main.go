// Command chatrelay bridges HTTP clients to a live chat session: POST
// a message, get the assistant reply back as JSON, an SSE stream, or
// over a websocket.
//
// Usage:
//
//	chatrelay                            # 127.0.0.1:8077, endpoint 127.0.0.1:9222
//	chatrelay -addr :8080 -archive chat.db
//
// Environment (also read from .env): CHATRELAY_ADDR, CHATWATCH_ENDPOINT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hazyhaar/chatwatch/capture"
	"github.com/hazyhaar/chatwatch/relay"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("CHATRELAY_ADDR", "127.0.0.1:8077"), "listen address")
	endpoint := flag.String("endpoint", envOr("CHATWATCH_ENDPOINT", ""), "debugging endpoint (default http://127.0.0.1:9222)")
	targetURL := flag.String("url", "", "chat page URL to look for")
	navigate := flag.Bool("navigate", false, "open the chat page if no tab matches")
	archivePath := flag.String("archive", "", "persist exchanged messages to this SQLite file")
	askTimeout := flag.Duration("ask-timeout", 180*time.Second, "how long to wait for a reply")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *endpoint, *targetURL, *navigate, *archivePath, *askTimeout); err != nil {
		if errors.Is(err, capture.ErrConnection) {
			fmt.Fprintln(os.Stderr, "Could not reach the browser debugging endpoint.")
			fmt.Fprintln(os.Stderr, "Start the browser with chatlaunch first, then retry.")
		}
		logger.Error("chatrelay: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, addr, endpoint, targetURL string, navigate bool, archivePath string, askTimeout time.Duration) error {
	cfg := capture.DefaultConfig()
	cfg.AutoStart = true
	cfg.AutoNavigate = navigate
	cfg.Baseline = capture.BaselineSkip
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if targetURL != "" {
		cfg.TargetURL = targetURL
	}
	cfg.Ask.Timeout = askTimeout

	var sinks []capture.Sink
	var archive *capture.Archive
	if archivePath != "" {
		a, err := capture.NewArchive(archivePath)
		if err != nil {
			return err
		}
		archive = a
		sinks = append(sinks, a)
	} else {
		// Without an archive the exchange still lands in the JSONL file.
		jsonl, err := capture.NewJSONLSink(cfg.OutputFile)
		if err != nil {
			return err
		}
		sinks = append(sinks, jsonl)
	}

	session := capture.New(cfg, logger, sinks...)
	if archive != nil {
		session.SetArchive(archive)
	}
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		return err
	}
	// Pre-existing turns belong to the operator, not to relay callers.
	session.Baseline()

	var store relay.Store
	if archive != nil {
		store = archive
	}
	srv := relay.New(relay.Config{Addr: addr, AskTimeout: askTimeout}, session, store, logger)
	return srv.ListenAndServe(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
