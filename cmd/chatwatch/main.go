// Command chatwatch attaches to a running debug-mode browser and
// captures chat messages to JSONL and any other configured sinks.
//
// Usage:
//
//	chatwatch                              # defaults: 127.0.0.1:9222, chat_capture.jsonl
//	chatwatch -config chatwatch.yaml
//	chatwatch -out session.jsonl -archive chat.db -interval 1s
//	chatwatch -mcp                         # also serve MCP tools on stdio
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
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/chatwatch/capture"
)

func main() {
	configPath := flag.String("config", "", "path to chatwatch.yaml config file")
	endpoint := flag.String("endpoint", "", "debugging endpoint (default http://127.0.0.1:9222)")
	out := flag.String("out", "", "JSONL output file (default chat_capture.jsonl)")
	interval := flag.Duration("interval", 0, "scan interval (default 2s)")
	targetURL := flag.String("url", "", "chat page URL to look for")
	navigate := flag.Bool("navigate", false, "open the chat page if no tab matches")
	yes := flag.Bool("yes", false, "answer yes to all prompts")
	archivePath := flag.String("archive", "", "also persist messages to this SQLite file")
	webhookURL := flag.String("webhook", "", "also POST records to this URL")
	stdout := flag.Bool("stdout", false, "also print records to stdout")
	selfTest := flag.Bool("self-test", false, "send a canary message before capturing")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio alongside capture")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("chatwatch: config", "error", err)
		os.Exit(1)
	}
	applyFlags(cfg, *endpoint, *out, *interval, *targetURL, *navigate, *yes, *selfTest)

	if err := run(ctx, logger, cfg, *archivePath, *webhookURL, *stdout, *yes, *serveMCP); err != nil {
		if errors.Is(err, capture.ErrConnection) {
			fmt.Fprintln(os.Stderr, "Could not reach the browser debugging endpoint.")
			fmt.Fprintln(os.Stderr, "Start the browser with chatlaunch first, then retry.")
		}
		logger.Error("chatwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*capture.Config, error) {
	if path == "" {
		return capture.DefaultConfig(), nil
	}
	return capture.LoadConfig(path)
}

func applyFlags(cfg *capture.Config, endpoint, out string, interval time.Duration, targetURL string, navigate, yes, selfTest bool) {
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if out != "" {
		cfg.OutputFile = out
	}
	if interval > 0 {
		cfg.Interval = interval
	}
	if targetURL != "" {
		cfg.TargetURL = targetURL
	}
	if navigate {
		cfg.AutoNavigate = true
	}
	if yes {
		cfg.AutoStart = true
	}
	if selfTest {
		cfg.SelfTest.Enabled = true
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *capture.Config, archivePath, webhookURL string, stdout, yes, serveMCP bool) error {
	sinks, archive, err := buildSinks(cfg, archivePath, webhookURL, stdout, logger)
	if err != nil {
		return err
	}

	session := capture.New(cfg, logger, sinks...)
	if archive != nil {
		session.SetArchive(archive)
	}
	if !yes {
		session.Confirm = stdinConfirm
	}
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		return err
	}

	if serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "chatwatch", Version: "0.1.0"}, nil)
		session.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("chatwatch: mcp server stopped", "error", err)
			}
		}()
	}

	return session.Run(ctx)
}

// buildSinks assembles the output fan-out: the JSONL file always, plus
// whatever the config and flags add.
func buildSinks(cfg *capture.Config, archivePath, webhookURL string, stdout bool, logger *slog.Logger) ([]capture.Sink, *capture.Archive, error) {
	jsonl, err := capture.NewJSONLSink(cfg.OutputFile)
	if err != nil {
		return nil, nil, err
	}
	sinks := []capture.Sink{jsonl}

	var archive *capture.Archive
	addArchive := func(path string) error {
		if archive != nil {
			return nil
		}
		a, err := capture.NewArchive(path)
		if err != nil {
			return err
		}
		archive = a
		sinks = append(sinks, a)
		return nil
	}

	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "jsonl":
			s, err := capture.NewJSONLSink(sc.Path)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, s)
		case "stdout":
			sinks = append(sinks, capture.NewStdoutSink(nil))
			stdout = false
		case "webhook":
			sinks = append(sinks, capture.NewWebhookSink(sc.URL))
		case "archive":
			if err := addArchive(sc.Path); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, fmt.Errorf("unknown sink type %q", sc.Type)
		}
	}

	if stdout {
		sinks = append(sinks, capture.NewStdoutSink(nil))
	}
	if webhookURL != "" {
		sinks = append(sinks, capture.NewWebhookSink(webhookURL))
	}
	if archivePath != "" {
		if err := addArchive(archivePath); err != nil {
			return nil, nil, err
		}
	}
	return sinks, archive, nil
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
