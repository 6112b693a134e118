// ABOUTME: CLI entrypoint for the agentkit run loop server.
// ABOUTME: Wires the LLM client, tool providers, stores, and HTTP facade, with signal-driven graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389-research/agentkit/agent"
	"github.com/2389-research/agentkit/llm"
	"github.com/2389-research/agentkit/server"
	"github.com/2389-research/agentkit/store"
	"github.com/2389-research/agentkit/toolprovider"
)

var version = "dev"

// config holds all CLI configuration parsed from flags.
type config struct {
	port          int
	dbPath        string
	model         string
	defaultTokens int
	showVersion   bool
}

func main() {
	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("agentkit %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("agentkit", flag.ContinueOnError)
	fs.IntVar(&cfg.port, "port", 8089, "HTTP server port")
	fs.StringVar(&cfg.dbPath, "db", "", "Path to a SQLite database file for persistent state (default: in-memory)")
	fs.StringVar(&cfg.model, "model", "claude-sonnet-4-5", "Default model name for new runs")
	fs.IntVar(&cfg.defaultTokens, "token-threshold", 100000, "Context window token threshold before summarization triggers")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "agentkit runs the agent loop behind an HTTP facade.")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	return cfg
}

func run(cfg config) int {
	if detectBackend() == "" {
		fmt.Fprintln(os.Stderr, "warning: no LLM API key found in the environment")
		fmt.Fprintln(os.Stderr, "set one of: ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY")
	}

	state, closeState, err := buildAppState(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeState()

	router := server.NewRouter(state)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ninterrupted, shutting down...")
		cancel()
	}()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	fmt.Fprintf(os.Stderr, "listening on %s\n", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return 0
}

// buildAppState wires together the stores, tool provider, LLM client, and run
// loop into a server.AppState, returning a cleanup func for any resources
// (the SQLite connection) that need closing on shutdown.
func buildAppState(cfg config) (*server.AppState, func(), error) {
	var (
		threads agent.ThreadStore
		msgs    agent.MessageStore
		runs    agent.RunStore
		closeFn = func() {}
	)

	if cfg.dbPath != "" {
		sqliteStore, err := store.OpenSqlite(cfg.dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store at %s: %w", cfg.dbPath, err)
		}
		threads, msgs, runs = sqliteStore, sqliteStore, sqliteStore
		closeFn = func() { _ = sqliteStore.Close() }
	} else {
		mem := store.NewMemoryStore()
		threads, msgs, runs = mem, mem, mem
	}

	llmClient, err := buildLLMClient()
	if err != nil {
		return nil, nil, err
	}

	tools := toolprovider.NewAggregatedToolProvider(
		toolprovider.NewStaticProvider(),
	)

	loop := agent.NewLoop(agent.NewEventEmitter())

	defaultConfig := agent.RunConfig{
		Model:                    cfg.model,
		ToolChoice:               agent.ToolChoice{Mode: agent.ToolChoiceAuto},
		MaxToolCallContinuations: 10,
		ContextManagerConfig: agent.ContextManagerConfig{
			TokenThreshold:      cfg.defaultTokens,
			SummaryTargetTokens: cfg.defaultTokens / 10,
			ReservedTokens:      cfg.defaultTokens / 20,
		},
	}
	if err := defaultConfig.Validate(); err != nil {
		return nil, nil, fmt.Errorf("default run config: %w", err)
	}

	state := &server.AppState{
		Loop:             loop,
		LLMClient:        llmClient,
		ToolProvider:     tools,
		Threads:          threads,
		Messages:         msgs,
		Runs:             runs,
		DefaultRunConfig: defaultConfig,
	}
	return state, closeFn, nil
}

// buildLLMClient detects an API key in the environment and wraps the
// resulting llm.Client as an agent.LLMClient. With no key present it still
// returns a usable client so the server can boot (and fail per-request)
// rather than refusing to start.
func buildLLMClient() (agent.LLMClient, error) {
	client, err := llm.FromEnv()
	if err != nil {
		client = llm.NewClient()
	}
	return agent.NewDefaultLLMClient(client), nil
}

// detectBackend reports which provider API key, if any, was found in the
// environment, for the startup warning message.
func detectBackend() string {
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		if os.Getenv(k) != "" {
			return k
		}
	}
	return ""
}
