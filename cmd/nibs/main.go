// CLAUDE:SUMMARY Entry point: serve the OpenAI-compatible API, run a flow file, fire a one-shot prompt or calibrate.
// Command nibs drives a real, headed browser through an existing chat
// web UI and exposes it locally as an OpenAI-compatible API. All input
// reaches the page as OS-level mouse and keyboard synthesis; the DOM is
// read over CDP without executing scripts.
//
// Usage:
//
//	nibs -config nibs.yaml -serve :8310
//	nibs -config nibs.yaml -prompt "capital of France?"
//	nibs -config nibs.yaml -flow checkout.json
//	nibs -config nibs.yaml -calibrate
//	nibs -demo
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "embed"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/nibs/calib"
	"github.com/hazyhaar/nibs/chatapi"
	"github.com/hazyhaar/nibs/dbopen"
	"github.com/hazyhaar/nibs/events"
	"github.com/hazyhaar/nibs/flow"
	"github.com/hazyhaar/nibs/pagesrv"
	"github.com/hazyhaar/nibs/session"
	"github.com/hazyhaar/nibs/transcript"
)

func main() {
	var (
		configPath = flag.String("config", "", "session config YAML (optional)")
		url        = flag.String("url", "", "chat page URL (overrides config)")
		serveAddr  = flag.String("serve", "", "serve the OpenAI-compatible API on this address")
		mcpStdio   = flag.Bool("mcp", false, "serve MCP tools on stdio instead of HTTP")
		flowPath   = flag.String("flow", "", "run a JSON flow file and print its result")
		prompt     = flag.String("prompt", "", "send one prompt and print the reply")
		demo       = flag.Bool("demo", false, "serve a sample chat page and run one exchange against it")
		calibrate  = flag.Bool("calibrate", false, "interactive viewport-to-screen calibration")
		dryRun     = flag.Bool("dry-run", false, "log input primitives instead of synthesizing them")
		dbPath     = flag.String("db", "", "SQLite transcript database (empty disables recording)")
		eventsPath = flag.String("events", "", "JSONL event log file (empty disables events)")
		model      = flag.String("model", "", "model name echoed in API responses")
		logLevel   = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(*configPath, *url, *dryRun)
	if err != nil {
		logger.Error("nibs: config", "error", err)
		os.Exit(1)
	}
	cfg.Logger = logger

	if *eventsPath != "" {
		f, err := os.OpenFile(*eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Error("nibs: event log", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		cfg.Emitter = events.New(f)
	}

	if *dbPath != "" {
		db, err := dbopen.Open(*dbPath, dbopen.WithMkdirAll(), dbopen.WithSchema(transcript.Schema))
		if err != nil {
			logger.Error("nibs: transcript db", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		cfg.Store = transcript.NewStore(db)
	}

	switch {
	case *calibrate:
		err = runCalibrate(ctx, logger, cfg)
	case *demo:
		err = runDemo(ctx, logger, cfg, *prompt)
	case *flowPath != "":
		err = runFlow(ctx, logger, cfg, *flowPath)
	case *prompt != "":
		err = runPrompt(ctx, logger, cfg, *prompt)
	case *serveAddr != "" || *mcpStdio:
		err = runServe(ctx, logger, cfg, *serveAddr, *model, *mcpStdio)
	default:
		fmt.Fprintln(os.Stderr, "nibs: one of -serve, -mcp, -flow, -prompt, -demo or -calibrate is required")
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("nibs: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, url string, dryRun bool) (session.Config, error) {
	var cfg session.Config
	if path != "" {
		loaded, err := session.LoadFile(path)
		if err != nil {
			return session.Config{}, err
		}
		cfg = *loaded
	}
	if url != "" {
		cfg.URL = url
	}
	if dryRun {
		cfg.DryRun = true
	}
	return cfg, nil
}

func startSession(ctx context.Context, cfg session.Config) (*session.Session, error) {
	sess := session.New(cfg)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func runServe(ctx context.Context, logger *slog.Logger, cfg session.Config, addr, model string, mcpStdio bool) error {
	sess, err := startSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	apiCfg := chatapi.Config{Model: model, Logger: logger}
	if hash := os.Getenv("NIBS_BEARER_HASH"); hash != "" {
		apiCfg.BearerHash = hash
	}
	api := chatapi.NewServer(sess, apiCfg)

	if mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "nibs", Version: "1.0.0"}, nil)
		api.RegisterMCP(mcpSrv)
		logger.Info("mcp serving on stdio")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	// Completions wait for a human-paced reply; the write timeout must
	// outlast the reply timeout.
	replyTimeout := cfg.Chat.ReplyTimeout
	if replyTimeout <= 0 {
		replyTimeout = 90 * time.Second
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      replyTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func runPrompt(ctx context.Context, logger *slog.Logger, cfg session.Config, prompt string) error {
	sess, err := startSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	reply, err := sess.ChatCompletion(ctx, prompt)
	if err != nil {
		if errors.Is(err, session.ErrInterrupted) {
			logger.Warn("session paused", "reason", sess.PausedReason())
		}
		return err
	}
	fmt.Println(reply)
	return nil
}

func runFlow(ctx context.Context, logger *slog.Logger, cfg session.Config, path string) error {
	spec, err := flow.Load(path)
	if err != nil {
		return err
	}

	sess, err := startSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	runner := flow.NewRunner(sess, cfg.Emitter)
	res, err := runner.Run(ctx, spec, nil)
	if err != nil {
		return err
	}
	if res.Value != "" {
		fmt.Println(res.Value)
	}
	logger.Info("flow done", "path", path)
	return nil
}

// demoHTML is a self-contained chat page whose "assistant" echoes the
// typed prompt, so the whole synthesis path can be exercised without a
// real chat service.
//
//go:embed demo.html
var demoHTML []byte

// runDemo serves the bundled sample chat page and drives one full
// exchange against it.
func runDemo(ctx context.Context, logger *slog.Logger, cfg session.Config, prompt string) error {
	dir, err := os.MkdirTemp("", "nibs-demo-")
	if err != nil {
		return fmt.Errorf("demo: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, "demo.html"), demoHTML, 0o644); err != nil {
		return fmt.Errorf("demo: write page: %w", err)
	}

	srv, err := pagesrv.Serve(dir)
	if err != nil {
		return err
	}
	defer srv.Close()

	cfg.URL = srv.BaseURL() + "/demo.html"
	logger.Info("demo page serving", "url", cfg.URL)

	sess, err := startSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	if prompt == "" {
		prompt = "hello from the demo"
	}
	reply, err := sess.ChatCompletion(ctx, prompt)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// runCalibrate serves the two-target capture page, navigates the
// session's browser to it and records a (viewport, screen) pair per
// target: the operator places the cursor on a marker and presses Enter,
// and the cursor position is read back through the input sink.
func runCalibrate(ctx context.Context, logger *slog.Logger, cfg session.Config) error {
	dir, err := os.MkdirTemp("", "nibs-calibrate-")
	if err != nil {
		return fmt.Errorf("calibrate: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, "calibrate.html"), calib.CalibrateHTML, 0o644); err != nil {
		return fmt.Errorf("calibrate: write page: %w", err)
	}

	srv, err := pagesrv.Serve(dir)
	if err != nil {
		return err
	}
	defer srv.Close()

	cfg.URL = srv.BaseURL() + "/calibrate.html"
	sess, err := startSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	stdin := bufio.NewReader(os.Stdin)
	capture := func(selector, label string) (calib.Point, error) {
		vp, err := sess.ElementCenter(ctx, selector)
		if err != nil {
			return calib.Point{}, err
		}
		fmt.Fprintf(os.Stderr, "place the mouse on marker %s and press Enter... ", label)
		if _, err := stdin.ReadString('\n'); err != nil {
			return calib.Point{}, fmt.Errorf("calibrate: read stdin: %w", err)
		}
		sx, sy := sess.CursorPosition()
		logger.Info("calibration point", "marker", label,
			"viewport_x", vp.X, "viewport_y", vp.Y, "screen_x", sx, "screen_y", sy)
		return calib.Point{ViewportX: vp.X, ViewportY: vp.Y, ScreenX: sx, ScreenY: sy}, nil
	}

	a, err := capture("#calibrate-a", "A")
	if err != nil {
		return err
	}
	b, err := capture("#calibrate-b", "B")
	if err != nil {
		return err
	}

	cal, err := calib.Solve(a, b)
	if err != nil {
		return err
	}

	path := cfg.Motion.CalibrationPath
	if path == "" {
		path, err = calib.DefaultPath()
		if err != nil {
			return err
		}
	}
	if err := calib.Write(cal, path); err != nil {
		return err
	}
	logger.Info("calibration written", "path", path,
		"scale_x", cal.ScaleX, "scale_y", cal.ScaleY,
		"offset_x", cal.OffsetX, "offset_y", cal.OffsetY)
	return nil
}
