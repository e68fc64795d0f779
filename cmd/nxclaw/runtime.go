package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/autonomous"
	"github.com/nxclaw/nxclaw/internal/browser"
	"github.com/nxclaw/nxclaw/internal/channels"
	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/httpapi"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/llm"
	"github.com/nxclaw/nxclaw/internal/logging"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/orchestrator"
	"github.com/nxclaw/nxclaw/internal/session"
	"github.com/nxclaw/nxclaw/internal/skills"
	"github.com/nxclaw/nxclaw/internal/tasks"
	"github.com/nxclaw/nxclaw/internal/tool"

	_ "github.com/nxclaw/nxclaw/internal/llm/anthropic"
	_ "github.com/nxclaw/nxclaw/internal/llm/gemini"
	_ "github.com/nxclaw/nxclaw/internal/llm/openai"
)

// runtime holds every long-lived component the "start" command drives.
// Built once by buildRuntime, torn down by shutdown.
type runtime struct {
	home   string
	cfg    *config.Config
	logger *zap.Logger

	bus        *eventbus.Bus
	memoryS    *memory.Store
	objectives *objectives.Store
	laneQ      *lane.Queue
	sessions   *session.Registry
	tasksM     *tasks.Manager
	browserC   *browser.Controller
	skillsM    *skills.Manager
	toolExec   *tool.Executor

	orch     *orchestrator.Orchestrator
	auto     *autonomous.Loop
	channels *channels.Registry
	http     *httpapi.Server

	cliAdapter *channels.CLIAdapter
}

// buildRuntime constructs every component from the persisted config and
// auth files under home, wiring them exactly as orchestrator.Deps and
// its sibling Deps structs require.
func buildRuntime(home string, logCfg logging.Config) (*runtime, error) {
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	if err := config.Bootstrap(home, logger); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	paths := config.NewPaths(home)

	bus, err := eventbus.New(eventbus.Config{LogPath: paths.EventsPath()}, logger)
	if err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}

	memStore, err := memory.New(memory.Config{
		RootDir:              paths.MemoryDir(),
		SessionMemoryEnabled: cfg.Memory.SessionMemoryEnabled,
		EmbeddingEnabled:     cfg.Memory.Vector.Enabled,
		TextWeight:           cfg.Memory.Search.TextWeight,
		VectorWeight:         cfg.Memory.Search.VectorWeight,
		MinScore:             cfg.Memory.Search.MinScore,
	}, bus, logger)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	objStore, err := objectives.Open(paths.ObjectivesPath(), bus, logger)
	if err != nil {
		return nil, fmt.Errorf("objectives: %w", err)
	}

	laneQ := lane.New(cfg.Runtime.MaxQueueDepth, bus, logger)

	sessions := session.New(session.Config{
		MaxLanes:    cfg.Runtime.MaxSessionLanes,
		IdleTimeout: time.Duration(cfg.Runtime.MaxSessionIdleMinutes) * time.Minute,
	}, bus, logger)

	tasksM, err := tasks.New(tasks.Config{
		MaxConcurrentProcesses: cfg.Runtime.MaxConcurrentTasks,
		MaxFinishedTasks:       cfg.Runtime.MaxFinishedTasks,
		StateDir:               paths.StateDir(),
		LogDir:                 paths.LogsDir(),
	}, bus, logger)
	if err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}

	var browserMode browser.Mode
	if cfg.Chrome.Mode == "cdp" {
		browserMode = browser.ModeCDP
	} else {
		browserMode = browser.ModeLaunch
	}
	browserC := browser.New(browser.Config{
		Mode:                 browserMode,
		CDPURL:               cfg.Chrome.CDPURL,
		CDPConnectTimeout:    time.Duration(cfg.Chrome.CDPConnectTimeoutMs) * time.Millisecond,
		CDPReuseExistingPage: cfg.Chrome.CDPReuseExistingPage,
		CDPFallbackToLaunch:  cfg.Chrome.CDPFallbackToLaunch,
		Headless:             cfg.Chrome.Headless,
		ExecutablePath:       cfg.Chrome.ExecutablePath,
		MaxSessions:          cfg.Chrome.MaxSessions,
		ScreenshotDir:        paths.ChromeShotsDir(),
	}, bus, logger)

	skillsM, err := skills.New(skills.Config{
		Enabled:             cfg.Skills.Enabled,
		SkillsDir:           paths.SkillsDir(),
		CodexSkillsDir:      cfg.Skills.CodexSkillsDir,
		StatePath:           paths.SkillsStatePath(),
		MaxCatalogEntries:   cfg.Skills.MaxCatalogEntries,
		MaxSkillFileBytes:   cfg.Skills.MaxSkillFileBytes,
		MaxInstallFiles:     cfg.Skills.MaxInstallFiles,
		MaxInstallBytes:     cfg.Skills.MaxInstallBytes,
		InstallTimeoutMs:    cfg.Skills.InstallTimeoutMs,
		MaxPromptSkills:     cfg.Skills.MaxPromptSkills,
		MaxPromptChars:      cfg.Skills.MaxPromptChars,
		AutoEnableOnInstall: cfg.Skills.AutoEnableOnInstall,
	}, bus, logger)
	if err != nil {
		return nil, fmt.Errorf("skills: %w", err)
	}

	registry := tool.NewInMemoryRegistry()
	if err := tool.RegisterAll(registry, tool.Deps{
		Tasks:      tasksM,
		Browser:    browserC,
		Memory:     memStore,
		Objectives: objStore,
	}); err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	toolExec := tool.NewExecutor(registry, tool.Policy{AskMode: tool.AskModeMutate}, bus, logger)

	llmSession, err := buildLLMSession(home, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		PromptTimeoutMs:               cfg.Runtime.PromptTimeoutMs,
		MaxPromptRetries:              cfg.Runtime.MaxPromptRetries,
		MaxQueueDepth:                 cfg.Runtime.MaxQueueDepth,
		MaxOverflowCompactionAttempts: cfg.Runtime.MaxOverflowCompactionAttempts,
		StateDir:                      paths.StateDir(),
	}, orchestrator.Deps{
		Lane:       laneQ,
		Sessions:   sessions,
		Memory:     memStore,
		Objectives: objStore,
		Tasks:      tasksM,
		Tools:      toolExec,
		Skills:     skillsM,
		LLM:        llmSession,
		Bus:        bus,
		Auth:       authChecker{home: home},
		Logger:     logger,
	})

	adapter := orchestratorAdapter{orch: orch}

	auto := autonomous.New(autonomous.Config{
		Enabled:             cfg.Autonomous.Enabled,
		IntervalMs:          cfg.Autonomous.IntervalMs,
		Goal:                cfg.Autonomous.Goal,
		SkipWhenQueueAbove:  cfg.Autonomous.SkipWhenQueueAbove,
		MaxConcurrentTasks:  cfg.Runtime.MaxConcurrentTasks,
		MaxConsecutiveFails: cfg.Autonomous.MaxConsecutiveFailures,
		PendingMaxAge:       time.Duration(cfg.Autonomous.StalePendingHours) * time.Hour,
		InProgressMaxIdle:   time.Duration(cfg.Autonomous.StaleInProgressHours) * time.Hour,
	}, autonomous.Deps{
		Handler:    adapter,
		Objectives: objStore,
		Tasks:      tasksM,
		Lane:       laneQ,
		Bus:        bus,
		Logger:     logger,
	})

	chanRegistry := channels.NewRegistry(logger)
	cliAdapter := channels.NewCLIAdapter(channelsHandler{a: adapter}, adapter, channels.CLIConfig{}, logger)

	httpSrv := httpapi.NewServer(httpapi.Config{
		Host:  cfg.Dashboard.Host,
		Port:  cfg.Dashboard.Port,
		Token: cfg.Dashboard.Token,
	}, httpapi.Deps{
		Orchestrator: httpapiOrchestrator{a: adapter},
		Memory:       memStore,
		Bus:          bus,
		Home:         home,
	}, logger)

	return &runtime{
		home:       home,
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		memoryS:    memStore,
		objectives: objStore,
		laneQ:      laneQ,
		sessions:   sessions,
		tasksM:     tasksM,
		browserC:   browserC,
		skillsM:    skillsM,
		toolExec:   toolExec,
		orch:       orch,
		auto:       auto,
		channels:   chanRegistry,
		http:       httpSrv,
		cliAdapter: cliAdapter,
	}, nil
}

// buildLLMSession loads persisted provider credentials and wires them into
// a Router-backed Session. A home with no authenticated providers still
// produces a usable Session — the orchestrator's auth gate is what refuses
// prompts, not this constructor.
func buildLLMSession(home string, cfg *config.Config, logger *zap.Logger) (*llm.Session, error) {
	auth, err := config.LoadAuth(home)
	if err != nil {
		return nil, err
	}
	router := llm.NewRouter(logger)
	for _, pc := range auth.Providers {
		p, err := llm.CreateProvider(pc, logger)
		if err != nil {
			logger.Warn("skipping provider with no registered factory", zap.String("type", pc.Type), zap.Error(err))
			continue
		}
		router.AddProvider(p)
	}
	return llm.NewSession(router, llm.Config{Model: cfg.Provider.DefaultModel}), nil
}

// shutdown stops every background component in reverse dependency order.
func (rt *runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rt.channels.Stop(ctx)
	if rt.http != nil {
		_ = rt.http.Stop(ctx)
	}
	rt.auto.Stop()
	rt.orch.Shutdown()
	rt.skillsM.StopWatch()
	rt.browserC.CloseAll()
	rt.memoryS.Close()
	rt.bus.Close()
}
