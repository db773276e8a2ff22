// Command blockshot opens a page in Chrome and exports the block the user
// clicks as a PNG.
//
// Usage:
//
//	blockshot -url https://example.com -out shots/       # one pick, then exit
//	blockshot -url https://example.com -repeat           # keep picking until Escape
//	blockshot -remote ws://127.0.0.1:9222/devtools/... -url https://example.com/docs
//	blockshot -config blockshot.yaml -listen :8088       # HTTP control API
//	blockshot -config blockshot.yaml -mcp                # MCP tools on stdio
//	blockshot -history shots.db -stats                   # print history and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/blockshot/history"
	"github.com/hazyhaar/blockshot/picker"
)

const version = "0.3.0"

// errUsage marks a command line that cannot run. main prints it and exits 2.
var errUsage = errors.New("usage")

type options struct {
	configPath string
	url        string
	remote     string
	mode       string
	out        string
	webhook    string
	historyDB  string
	listen     string
	mcp        bool
	repeat     bool
	rasterizer string
	script     string
	stats      bool
	keep       time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to blockshot.yaml config file")
	flag.StringVar(&o.url, "url", "", "page to open (or tab URL prefix with -remote)")
	flag.StringVar(&o.remote, "remote", "", "DevTools WebSocket URL of a running Chrome")
	flag.StringVar(&o.mode, "mode", "", "browser mode: headful, xvfb, headless")
	flag.StringVar(&o.out, "out", "", "directory for exported PNG files")
	flag.StringVar(&o.webhook, "webhook", "", "POST exports to this URL")
	flag.StringVar(&o.historyDB, "history", "", "SQLite export history database")
	flag.StringVar(&o.listen, "listen", "", "HTTP control API address (e.g. :8088)")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools on stdio")
	flag.BoolVar(&o.repeat, "repeat", false, "start a new session after each export")
	flag.StringVar(&o.rasterizer, "rasterizer", "", "html2canvas or cdp")
	flag.StringVar(&o.script, "script", "", "local html2canvas.min.js served in place of the CDN copy")
	flag.BoolVar(&o.stats, "stats", false, "print export history and exit")
	flag.DurationVar(&o.keep, "keep", 0, "with -stats: delete history older than this first")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger, o)
	stop()
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	case err != nil:
		logger.Error("blockshot: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := resolveConfig(o)
	if err != nil {
		return err
	}

	if o.stats {
		return runStats(ctx, os.Stdout, cfg, o.keep)
	}

	if o.mcp {
		// stdout carries the MCP stream.
		kept := cfg.Sinks[:0]
		for _, s := range cfg.Sinks {
			if s.Type == "stdout" {
				logger.Warn("blockshot: stdout sink disabled in -mcp mode")
				continue
			}
			kept = append(kept, s)
		}
		cfg.Sinks = kept
	}

	sinks, err := picker.SinksFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	p := picker.New(cfg, logger, sinks...)
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer p.Stop()

	served := false
	if cfg.Control.Listen != "" {
		served = true
		go serveHTTP(ctx, logger, cfg.Control.Listen, picker.Routes(p, logger))
	}
	if o.mcp {
		served = true
		srv := mcp.NewServer(&mcp.Implementation{Name: "blockshot", Version: version}, nil)
		picker.RegisterMCP(srv, p, logger)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("blockshot: mcp", "error", err)
			}
		}()
	}

	if served {
		logger.Info("blockshot: waiting for activation", "listen", cfg.Control.Listen, "mcp", o.mcp)
		<-ctx.Done()
		return nil
	}

	// Interactive: activate now and wait for the session (or the repeat
	// chain) to end.
	if _, err := p.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	fmt.Fprintln(os.Stderr, "blockshot: hover a block, click to export, Esc to cancel")
	return waitIdle(ctx, p)
}

// waitIdle returns once no session has been active for a short grace
// period (repeat mode re-activates right after an export ends).
func waitIdle(ctx context.Context, p *picker.Picker) error {
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	idle := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if p.Status().Active {
				idle = 0
				continue
			}
			if idle++; idle >= 3 {
				return nil
			}
		}
	}
}

func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("blockshot: control API listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("blockshot: http server", "error", err)
	}
}

// runStats prints the history summary, recent exports and sessions to w.
func runStats(ctx context.Context, w io.Writer, cfg *picker.Config, keep time.Duration) error {
	if cfg.History.DB == "" {
		return fmt.Errorf("%w: blockshot -history <db> -stats", errUsage)
	}
	h, err := history.Open(cfg.History.DB)
	if err != nil {
		return err
	}
	defer h.Close()

	if keep > 0 {
		if _, err := h.Cleanup(ctx, keep); err != nil {
			return err
		}
	}
	stats, err := h.Stats(ctx)
	if err != nil {
		return err
	}
	recent, err := h.Recent(ctx, 20)
	if err != nil {
		return err
	}
	sessions, err := h.Sessions(ctx, 20)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"stats": stats, "recent": recent, "sessions": sessions})
}

// resolveConfig loads the YAML file (if any) and applies flag overrides.
func resolveConfig(o options) (*picker.Config, error) {
	cfg := picker.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = picker.LoadConfigFile(o.configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if o.url != "" {
		cfg.Page.URL = o.url
	}
	if o.remote != "" {
		cfg.Browser.Remote = o.remote
	}
	if o.mode != "" {
		cfg.Browser.Mode = o.mode
	}
	if o.historyDB != "" {
		cfg.History.DB = o.historyDB
	}
	if o.listen != "" {
		cfg.Control.Listen = o.listen
	}
	if o.repeat {
		cfg.Picker.Repeat = true
	}
	if o.rasterizer != "" {
		cfg.Capture.Rasterizer = o.rasterizer
	}
	if o.script != "" {
		cfg.Capture.ScriptPath = o.script
	}
	if o.out != "" || o.webhook != "" {
		var sinks []picker.SinkConfig
		if o.out != "" {
			sinks = append(sinks, picker.SinkConfig{Type: "dir", Dir: o.out})
		}
		if o.webhook != "" {
			sinks = append(sinks, picker.SinkConfig{Type: "webhook", URL: o.webhook})
		}
		cfg.Sinks = sinks
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Page.URL == "" && cfg.Browser.Remote == "" && !o.stats {
		return nil, fmt.Errorf("%w: blockshot -url <page> | -remote <ws-url> | -config <file> [-listen addr] [-mcp]", errUsage)
	}
	return cfg, nil
}
