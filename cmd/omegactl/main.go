// Command omegactl is the reference CLI for the orchestrator: a REPL that
// drives internal/orchestrator.Orchestrator turn by turn over stdin/stdout,
// wiring every ambient and domain component (config, tools, MCP, prompts,
// memory, metrics) the way the teacher's cmd/omega/main.go wires its web
// handlers.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ionforge/agentcore/internal/config"
	"github.com/ionforge/agentcore/internal/eventbus"
	"github.com/ionforge/agentcore/internal/llm/openaicompat"
	"github.com/ionforge/agentcore/internal/mcp"
	"github.com/ionforge/agentcore/internal/memory"
	"github.com/ionforge/agentcore/internal/metrics"
	"github.com/ionforge/agentcore/internal/orchestrator"
	"github.com/ionforge/agentcore/internal/prompt"
	"github.com/ionforge/agentcore/internal/scheduler"
	"github.com/ionforge/agentcore/internal/tool"
	"github.com/ionforge/agentcore/internal/tool/builtin"
)

func main() {
	config.LoadEnv()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgPath := os.Getenv("AGENTCORE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfgPath).Msg("omegactl: failed to load config")
	}
	if lvl, parseErr := zerolog.ParseLevel(cfg.LogLevel); parseErr == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}
	if info, statErr := os.Stat(workspaceDir); statErr != nil || !info.IsDir() {
		log.Fatal().Str("workspace", workspaceDir).Msg("omegactl: WORKSPACE_DIR does not exist or is not a directory")
	}

	llmCfg, err := openaicompat.NewConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("omegactl: failed to load LLM config")
	}
	if cfg.OpenAIBaseURL != "" {
		llmCfg.BaseURL = cfg.OpenAIBaseURL
	}
	if cfg.Model != "" {
		llmCfg.Model = cfg.Model
	}
	if cfg.ContextWindow > 0 {
		llmCfg.ContextWindow = cfg.ContextWindow
	}
	provider, err := openaicompat.NewClient(llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("omegactl: failed to initialize LLM provider")
	}
	log.Info().Str("model", llmCfg.Model).Str("base_url", llmCfg.BaseURL).Msg("omegactl: LLM provider ready")

	registry := tool.NewRegistry()
	registerBuiltinTools(registry, workspaceDir)

	if err := registry.InitAll(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("omegactl: failed to initialize tools")
	}
	defer registry.CloseAll()

	promptsDir := os.Getenv("PROMPTS_DIR")
	if promptsDir == "" {
		promptsDir = filepath.Join(workspaceDir, "prompts")
	}
	rulesPath := os.Getenv("USER_RULES_PATH")
	if rulesPath == "" {
		rulesPath = filepath.Join(workspaceDir, "rules.md")
	}
	soulPath := os.Getenv("SOUL_PATH")
	if soulPath == "" {
		soulPath = filepath.Join(workspaceDir, "soul.md")
	}
	promptLoader := prompt.NewPromptLoader(promptsDir, rulesPath, soulPath)

	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = "mcp.json"
	}
	if _, statErr := os.Stat(mcpConfigPath); statErr == nil {
		mcpMgr := mcp.NewManager(mcpConfigPath)
		mcpMgr.SetPromptLoader(promptLoader)
		registry.Register(mcp.NewReloadTool(mcpMgr, registry))

		n, mcpErrs := mcpMgr.ConnectAll(context.Background())
		for _, e := range mcpErrs {
			log.Warn().Err(e).Msg("omegactl: MCP connect error")
		}
		if n > 0 {
			if regErr := mcpMgr.RegisterTools(context.Background(), registry); regErr != nil {
				log.Warn().Err(regErr).Msg("omegactl: MCP register tools failed")
			}
			log.Info().Int("servers", n).Msg("omegactl: MCP connected")
		}
		defer mcpMgr.CloseAll()
	}

	log.Info().Int("count", len(registry.List())).Msg("omegactl: tools registered")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if srvErr := http.ListenAndServe(addr, mux); srvErr != nil {
				log.Warn().Err(srvErr).Msg("omegactl: metrics server stopped")
			}
		}()
		log.Info().Str("addr", addr).Msg("omegactl: metrics listening")
	}

	bus := eventbus.New()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()
	go printEvents(sub)

	store := memory.NewStore(sessionTTL(), sessionMaxTurns())
	defer store.Close()

	orch := orchestrator.New(store, bus, provider, registry, promptLoader, cfg, m)

	schedCfg := scheduler.Config{MaxConcurrency: cfg.MaxToolConcurrency, PerCallTimeout: scheduler.DefaultConfig().PerCallTimeout}
	sched := scheduler.New(registry, schedCfg, bus)
	orch.SetPort(sched)

	runREPL(orch, bus)
}

func registerBuiltinTools(registry *tool.Registry, workspaceDir string) {
	shellEnabled := os.Getenv("TOOL_SHELL_ENABLED") != "false"
	registry.Register(builtin.NewShellTool(workspaceDir, shellEnabled))
	registry.Register(builtin.NewFileReadTool(workspaceDir))
	registry.Register(builtin.NewFileWriteTool(workspaceDir))
	registry.Register(builtin.NewFileListTool(workspaceDir))
	registry.Register(builtin.NewFileFindTool(workspaceDir))
	registry.Register(builtin.NewFileGrepTool(workspaceDir))
	registry.Register(builtin.NewFileMoveTool(workspaceDir))
	registry.Register(builtin.NewFileOpenTool(workspaceDir))
	registry.Register(builtin.NewFileDeleteTool(workspaceDir))
	registry.Register(builtin.NewFilePatchTool(workspaceDir))
	registry.Register(builtin.NewTimeTool())
	registry.Register(builtin.NewWebReaderTool())
	registry.Register(builtin.NewGitInfoTool(workspaceDir))

	if os.Getenv("TOOL_HTTP_ENABLED") != "false" {
		allowInternal := os.Getenv("TOOL_HTTP_ALLOW_INTERNAL") == "true"
		registry.Register(builtin.NewHTTPRequestTool(allowInternal))
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		registry.Register(builtin.NewTavilySearchTool(key))
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		registry.Register(builtin.NewBraveSearchTool(key))
	}
	if allowed := parseConfigEditAllowlist(os.Getenv("CONFIG_EDIT_FILES")); len(allowed) > 0 {
		registry.Register(builtin.NewConfigEditTool(allowed))
	}
	if mcpConfigPath := os.Getenv("MCP_CONFIG"); mcpConfigPath != "" {
		registry.Register(builtin.NewMCPServerAddTool(mcpConfigPath))
		registry.Register(builtin.NewMCPServerRemoveTool(mcpConfigPath))
		registry.Register(builtin.NewMCPServerListTool(mcpConfigPath))
	}
}

// parseConfigEditAllowlist parses CONFIG_EDIT_FILES, a comma-separated list
// of alias=path pairs (e.g. "env=.env,config=config.yaml"), into the map
// builtin.NewConfigEditTool expects. Entries that don't contain "=" are
// skipped with a warning rather than failing startup.
func parseConfigEditAllowlist(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	allowed := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		alias, path, ok := strings.Cut(entry, "=")
		if !ok || alias == "" || path == "" {
			log.Warn().Str("entry", entry).Msg("omegactl: invalid CONFIG_EDIT_FILES entry, skipping")
			continue
		}
		allowed[alias] = path
	}
	return allowed
}

// sessionTTL returns SESSION_TTL_MINUTES (default 30m), mirroring the
// teacher's cmd/omega/main.go session-store wiring.
func sessionTTL() time.Duration {
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
		log.Warn().Str("value", v).Msg("omegactl: invalid SESSION_TTL_MINUTES, using default 30m")
	}
	return 30 * time.Minute
}

// sessionMaxTurns returns SESSION_MAX_TURNS (default 0, unbounded — the
// memory.Store trims on TTL, not a hard turn count, unless this is set).
func sessionMaxTurns() int {
	if v := os.Getenv("SESSION_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Warn().Str("value", v).Msg("omegactl: invalid SESSION_MAX_TURNS, using default (unbounded)")
	}
	return 0
}

// printEvents renders a subset of bus events to stderr so a REPL session
// shows assistant output streaming in and tool activity as it happens,
// without interleaving with the REPL's own stdout prompt/answer flow.
func printEvents(sub *eventbus.Subscription) {
	for evt := range sub.Events {
		switch evt.Kind {
		case eventbus.KindAssistantDelta:
			if s, ok := evt.Payload.(string); ok {
				fmt.Fprint(os.Stderr, s)
			}
		case eventbus.KindToolCallsPlanned:
			log.Debug().Str("turn", evt.TurnID).Msg("omegactl: tool calls planned")
		case eventbus.KindCompressionRun:
			log.Info().Str("turn", evt.TurnID).Interface("stats", evt.Payload).Msg("omegactl: context compressed")
		case eventbus.KindSubAgentStarted:
			log.Info().Msg("omegactl: sub-agent started")
		case eventbus.KindSubAgentFinished:
			log.Info().Msg("omegactl: sub-agent finished")
		case eventbus.KindError:
			log.Error().Str("turn", evt.TurnID).Interface("err", evt.Payload).Msg("omegactl: turn error")
		}
	}
}

// runREPL drives a single "default" conversation key over stdin until EOF,
// Ctrl-C, or the "/exit" command.
func runREPL(orch *orchestrator.Orchestrator, bus *eventbus.Bus) {
	const conversationKey = "default"

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	defer signal.Stop(sigCh)

	fmt.Println("omegactl ready — type a message, or /exit to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			break
		}
		if line == "/compact" {
			stats, err := orch.CompactNow(conversationKey)
			if err != nil {
				fmt.Printf("compact failed: %v\n", err)
			} else {
				fmt.Printf("compacted: %+v\n", stats)
			}
			continue
		}

		answer, err := sendWithApproval(ctx, orch, bus, conversationKey, line, scanner)
		fmt.Println()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(answer)
	}
}

// sendWithApproval runs one turn while watching the event bus for
// KindApprovalRequired on conversationKey; each occurrence suspends the
// turn until promptApprovals collects a disposition per pending tool call
// and Approve delivers it back. Send itself runs in its own goroutine so
// this goroutine stays free to read the operator's approval decisions from
// the same stdin scanner the outer REPL loop uses.
func sendWithApproval(ctx context.Context, orch *orchestrator.Orchestrator, bus *eventbus.Bus, conversationKey, text string, scanner *bufio.Scanner) (string, error) {
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	type sendResult struct {
		answer string
		err    error
	}
	resultCh := make(chan sendResult, 1)
	go func() {
		answer, err := orch.Send(ctx, conversationKey, text)
		resultCh <- sendResult{answer: answer, err: err}
	}()

	for {
		select {
		case res := <-resultCh:
			return res.answer, res.err
		case evt, ok := <-sub.Events:
			if !ok {
				continue
			}
			if evt.Kind != eventbus.KindApprovalRequired || evt.ConversationKey != conversationKey {
				continue
			}
			calls, _ := evt.Payload.([]memory.ToolCallDescriptor)
			decisions := promptApprovals(calls, scanner)
			if approveErr := orch.Approve(evt.TurnID, decisions); approveErr != nil {
				log.Warn().Err(approveErr).Msg("omegactl: approve failed")
			}
		}
	}
}

// promptApprovals asks the operator, per pending tool call, whether to
// approve, deny, approve_all (trust this tool name for the rest of the
// conversation), or edit its arguments before it runs.
func promptApprovals(calls []memory.ToolCallDescriptor, scanner *bufio.Scanner) map[string]orchestrator.ApprovalDecision {
	decisions := make(map[string]orchestrator.ApprovalDecision, len(calls))
	for _, c := range calls {
		fmt.Printf("\napprove %s(%s)? [y]es/[n]o/[a]ll/[e]dit: ", c.Name, string(c.Arguments))
		if !scanner.Scan() {
			decisions[c.ID] = orchestrator.ApprovalDecision{Denied: true}
			continue
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "n", "no":
			decisions[c.ID] = orchestrator.ApprovalDecision{Denied: true}
		case "a", "all":
			decisions[c.ID] = orchestrator.ApprovalDecision{ApproveAll: true}
		case "e", "edit":
			fmt.Print("new arguments (JSON): ")
			if scanner.Scan() {
				decisions[c.ID] = orchestrator.ApprovalDecision{EditedArguments: []byte(scanner.Text())}
			}
		default:
			// approve unchanged: leave this call absent from decisions.
		}
	}
	return decisions
}
