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

	"golang.org/x/term"

	"github.com/marbleworks/scenepilot/internal/agent"
	"github.com/marbleworks/scenepilot/internal/config"
	"github.com/marbleworks/scenepilot/internal/host/memscene"
	"github.com/marbleworks/scenepilot/internal/lockfile"
	"github.com/marbleworks/scenepilot/internal/monitor"
	"github.com/marbleworks/scenepilot/internal/provider"
	"github.com/marbleworks/scenepilot/internal/transcript"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "bootstrap":
		bootstrapCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "version":
		fmt.Printf("scenepilot %s (%s)\n", Version, Commit)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `scenepilot

Usage:
  scenepilot bootstrap [flags]
  scenepilot run [flags]
  scenepilot version

Commands:
  bootstrap   Write an initial config file.
  run         Start the interactive agent against an in-memory scene.
  version     Print build information.

`)
}

func bootstrapCmd(args []string) {
	fs := flag.NewFlagSet("bootstrap", flag.ExitOnError)

	providerID := fs.String("provider", "openai", "Model provider (openai|anthropic)")
	model := fs.String("model", "", "Model id")
	apiKeyEnv := fs.String("api-key-env", "", "Environment variable holding the API key")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	cfg := &config.Config{
		Provider:  *providerID,
		Model:     strings.TrimSpace(*model),
		APIKeyEnv: strings.TrimSpace(*apiKeyEnv),
	}
	if cfg.APIKeyEnv == "" {
		switch strings.ToLower(cfg.Provider) {
		case "anthropic":
			cfg.APIKeyEnv = "ANTHROPIC_API_KEY"
		default:
			cfg.APIKeyEnv = "OPENAI_API_KEY"
		}
	}
	if err := config.Save(*cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *cfgPath)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	dryRun := fs.Bool("dry-run", false, "Use a scripted model instead of a live provider")
	_ = fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil && *dryRun {
		// Dry runs need no provider credentials.
		cfg = &config.Config{Provider: "openai", Model: "scripted", APIKey: "unused"}
		err = nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(log, cfg, *cfgPath, *dryRun); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg *config.Config, cfgPath string, dryRun bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var model agent.ModelClient
	if dryRun {
		model = &provider.Scripted{}
	} else {
		apiKey, err := cfg.ResolveAPIKey()
		if err != nil {
			return err
		}
		model, err = provider.New(provider.Settings{
			Provider: cfg.Provider,
			Model:    cfg.Model,
			APIKey:   apiKey,
			BaseURL:  cfg.BaseURL,
		})
		if err != nil {
			return err
		}
	}

	table := agent.DefaultRangeTable()
	if path := strings.TrimSpace(cfg.RangeTablePath); path != "" {
		loaded, err := agent.LoadRangeTableYAML(path, table)
		if err != nil {
			return err
		}
		table = loaded
	}

	reg := agent.NewRegistry()
	if err := agent.RegisterBuiltins(reg); err != nil {
		return err
	}
	scene := memscene.New()
	engine, err := agent.NewEngine(agent.EngineOptions{
		Log:      log,
		Registry: reg,
		Guard:    agent.NewGuardRail(table),
		Host:     scene,
		Sink:     printProgress,
	})
	if err != nil {
		return err
	}

	maxExtra := -1
	if cfg.MaxAutoContinues != nil {
		maxExtra = *cfg.MaxAutoContinues
	}
	controller, err := agent.NewController(agent.ControllerOptions{
		Log:              log,
		Model:            model,
		Engine:           engine,
		MaxAutoContinues: maxExtra,
		Streaming:        cfg.Streaming,
	})
	if err != nil {
		return err
	}

	dbPath := strings.TrimSpace(cfg.TranscriptPath)
	if dbPath == "" {
		dbPath = config.DefaultTranscriptPath(cfgPath)
	}
	// The transcript store is single-writer; refuse to share it with another
	// running agent.
	lock, err := lockfile.Acquire(dbPath + ".lock")
	if err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			return fmt.Errorf("transcript %s is in use by another scenepilot process", dbPath)
		}
		return err
	}
	defer func() { _ = lock.Release() }()

	store, err := transcript.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sampler := monitor.NewSampler(log)
	sess := agent.NewSession()
	if err := store.CreateSession(ctx, sess.ID, "interactive"); err != nil {
		return err
	}
	log.Info("session started", "session", sess.ID, "transcript", dbPath)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	prompt(scene)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			prompt(scene)
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			sess.Clear()
			fmt.Println("session cleared")
			prompt(scene)
			continue
		}

		before := sess.TurnCount()
		outcome, err := controller.RunTurn(ctx, sess, line)
		persistTurns(ctx, log, store, sampler, sess, before)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			prompt(scene)
			continue
		}
		printOutcome(outcome)
		prompt(scene)
	}
	return scanner.Err()
}

func persistTurns(ctx context.Context, log *slog.Logger, store *transcript.Store, sampler *monitor.Sampler, sess *agent.Session, from int) {
	snap := sampler.Sample()
	stats := transcript.TurnStats{CPUPercent: snap.CPUPercent, RSSBytes: snap.RSSBytes}
	for _, turn := range sess.Turns()[from:] {
		if err := store.AppendTurn(ctx, sess.ID, turn, stats); err != nil {
			log.Warn("transcript append failed", "turn", turn.Index, "error", err)
		}
	}
}

func printProgress(ev agent.ProgressEvent) {
	switch ev.Phase {
	case agent.ProgressPhaseStart:
		fmt.Printf("  [%d/%d] %s %s ...\n", ev.Index+1, ev.Total, ev.ToolName, ev.ArgsSummary)
	case agent.ProgressPhaseSuccess:
		fmt.Printf("  [%d/%d] %s ok (%dms)\n", ev.Index+1, ev.Total, ev.ToolName, ev.ElapsedMs)
	case agent.ProgressPhaseFailure:
		fmt.Printf("  [%d/%d] %s FAILED (%dms)\n", ev.Index+1, ev.Total, ev.ToolName, ev.ElapsedMs)
	}
}

func printOutcome(outcome *agent.TurnOutcome) {
	for _, turn := range outcome.Turns {
		if turn.Report == nil {
			continue
		}
		for _, entry := range turn.Report.Entries {
			// Failed or warned calls stay visible even after a later turn
			// repaired them.
			if entry.Result.Success && len(entry.Result.Warnings) == 0 {
				continue
			}
			fmt.Printf("  ! %s: %s\n", entry.Call.Name, entry.Result.Message)
			for _, w := range entry.Result.Warnings {
				fmt.Printf("    warning: %s\n", w)
			}
		}
	}
	if text := strings.TrimSpace(stripToolBlocks(outcome.FinalText)); text != "" {
		fmt.Println(text)
	}
	if outcome.Status == agent.TurnStatusBudgetExhausted {
		fmt.Println("auto-continue budget exhausted; needs user input to proceed")
	}
}

// stripToolBlocks removes tool blocks from the final narrative shown to the
// user; the progress lines already covered them.
func stripToolBlocks(text string) string {
	var b strings.Builder
	for {
		parsed := agent.ParseToolCalls(text)
		if len(parsed.Calls) == 0 {
			b.WriteString(text)
			return b.String()
		}
		raw := parsed.Calls[0].Raw
		idx := strings.Index(text, raw)
		if idx < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:idx])
		text = text[idx+len(raw):]
	}
}

func prompt(scene *memscene.Scene) {
	state := "saved"
	if scene.Dirty() {
		state = "unsaved"
	}
	fmt.Printf("scene(%d entities, %s)> ", scene.EntityCount(), state)
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "":
		// TTY sessions default to text, redirected output to JSON.
		if term.IsTerminal(int(os.Stderr.Fd())) {
			h = slog.NewTextHandler(os.Stderr, opts)
		} else {
			h = slog.NewJSONHandler(os.Stderr, opts)
		}
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
	return slog.New(h), nil
}
