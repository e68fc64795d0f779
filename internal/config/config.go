package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// Config is the runtime's full on-disk settings document, persisted at
// <home>/config.json. Every scope mirrors one row of the configuration
// table: provider selection, dashboard binding, orchestrator limits,
// autonomous loop control, memory tuning, the browser subsystem, and the
// skills subsystem.
type Config struct {
	Provider   ProviderSettings   `mapstructure:"provider" json:"provider"`
	Dashboard  DashboardSettings  `mapstructure:"dashboard" json:"dashboard"`
	Runtime    RuntimeSettings    `mapstructure:"runtime" json:"runtime"`
	Autonomous AutonomousSettings `mapstructure:"autonomous" json:"autonomous"`
	Memory     MemorySettings     `mapstructure:"memory" json:"memory"`
	Chrome     ChromeSettings     `mapstructure:"chrome" json:"chrome"`
	Skills     SkillsSettings     `mapstructure:"skills" json:"skills"`
}

// ProviderSettings picks the default LLM credential family and model.
type ProviderSettings struct {
	Default      string `mapstructure:"default" json:"default"`            // "gemini-cli" | "openai-codex" | "anthropic"
	DefaultModel string `mapstructure:"default_model" json:"defaultModel"` // "provider/model" override
}

// DashboardSettings binds the HTTP console.
type DashboardSettings struct {
	Host  string `mapstructure:"host" json:"host"`
	Port  int    `mapstructure:"port" json:"port"`
	Token string `mapstructure:"token" json:"token"` // empty = no token check for any client
}

// RuntimeSettings bounds the orchestrator's retry, timeout, and queue
// policy plus the task manager and session registry limits it shares.
type RuntimeSettings struct {
	PromptTimeoutMs               int `mapstructure:"prompt_timeout_ms" json:"promptTimeoutMs"`
	MaxPromptRetries              int `mapstructure:"max_prompt_retries" json:"maxPromptRetries"`
	MaxQueueDepth                 int `mapstructure:"max_queue_depth" json:"maxQueueDepth"`
	MaxConcurrentTasks            int `mapstructure:"max_concurrent_tasks" json:"maxConcurrentTasks"`
	TaskRetryLimit                int `mapstructure:"task_retry_limit" json:"taskRetryLimit"`
	TaskRetryDelayMs              int `mapstructure:"task_retry_delay_ms" json:"taskRetryDelayMs"`
	MaxOverflowCompactionAttempts int `mapstructure:"max_overflow_compaction_attempts" json:"maxOverflowCompactionAttempts"`
	MaxSessionLanes               int `mapstructure:"max_session_lanes" json:"maxSessionLanes"`
	MaxSessionIdleMinutes         int `mapstructure:"max_session_idle_minutes" json:"maxSessionIdleMinutes"`
	MaxStoredTasks                int `mapstructure:"max_stored_tasks" json:"maxStoredTasks"`
	MaxFinishedTasks              int `mapstructure:"max_finished_tasks" json:"maxFinishedTasks"`
}

// AutonomousSettings controls the self-driven tick loop.
type AutonomousSettings struct {
	Enabled                bool   `mapstructure:"enabled" json:"enabled"`
	Goal                   string `mapstructure:"goal" json:"goal"`
	IntervalMs             int    `mapstructure:"interval_ms" json:"intervalMs"`
	SkipWhenQueueAbove     int    `mapstructure:"skip_when_queue_above" json:"skipWhenQueueAbove"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures" json:"maxConsecutiveFailures"`
	StalePendingHours      int    `mapstructure:"stale_pending_hours" json:"stalePendingHours"`
	StaleInProgressHours   int    `mapstructure:"stale_in_progress_hours" json:"staleInProgressHours"`
}

// MemoryVectorSettings tunes the embedding-backed layer of memory search.
type MemoryVectorSettings struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	Provider     string `mapstructure:"provider" json:"provider"`
	Model        string `mapstructure:"model" json:"model"`
	Dims         int    `mapstructure:"dims" json:"dims"`
	BatchSize    int    `mapstructure:"batch_size" json:"batchSize"`
	CacheEnabled bool   `mapstructure:"cache_enabled" json:"cacheEnabled"`
}

// MemorySearchSettings tunes the hybrid BM25+vector scoring blend.
type MemorySearchSettings struct {
	VectorWeight float64 `mapstructure:"vector_weight" json:"vectorWeight"`
	TextWeight   float64 `mapstructure:"text_weight" json:"textWeight"`
	MinScore     float64 `mapstructure:"min_score" json:"minScore"`
}

// MemorySettings configures the memory store.
type MemorySettings struct {
	Vector               MemoryVectorSettings `mapstructure:"vector" json:"vector"`
	Search               MemorySearchSettings `mapstructure:"search" json:"search"`
	SessionMemoryEnabled bool                 `mapstructure:"session_memory_enabled" json:"sessionMemoryEnabled"`
	ExtraPaths           []string             `mapstructure:"extra_paths" json:"extraPaths"`
}

// ChromeSettings configures the browser controller.
type ChromeSettings struct {
	Mode                 string `mapstructure:"mode" json:"mode"` // "launch" | "cdp"
	CDPURL               string `mapstructure:"cdp_url" json:"cdpUrl"`
	CDPConnectTimeoutMs  int    `mapstructure:"cdp_connect_timeout_ms" json:"cdpConnectTimeoutMs"`
	CDPReuseExistingPage bool   `mapstructure:"cdp_reuse_existing_page" json:"cdpReuseExistingPage"`
	CDPFallbackToLaunch  bool   `mapstructure:"cdp_fallback_to_launch" json:"cdpFallbackToLaunch"`
	Headless             bool   `mapstructure:"headless" json:"headless"`
	ExecutablePath       string `mapstructure:"executable_path" json:"executablePath"`
	MaxSessions          int    `mapstructure:"max_sessions" json:"maxSessions"`
	ScreenshotDir        string `mapstructure:"screenshot_dir" json:"screenshotDir"`
}

// SkillsSettings configures the skill manager.
type SkillsSettings struct {
	Enabled             bool   `mapstructure:"enabled" json:"enabled"`
	MaxCatalogEntries   int    `mapstructure:"max_catalog_entries" json:"maxCatalogEntries"`
	MaxSkillFileBytes   int64  `mapstructure:"max_skill_file_bytes" json:"maxSkillFileBytes"`
	MaxInstallFiles     int    `mapstructure:"max_install_files" json:"maxInstallFiles"`
	MaxInstallBytes     int64  `mapstructure:"max_install_bytes" json:"maxInstallBytes"`
	InstallTimeoutMs    int    `mapstructure:"install_timeout_ms" json:"installTimeoutMs"`
	MaxPromptSkills     int    `mapstructure:"max_prompt_skills" json:"maxPromptSkills"`
	MaxPromptChars      int    `mapstructure:"max_prompt_chars" json:"maxPromptChars"`
	CodexSkillsDir      string `mapstructure:"codex_skills_dir" json:"codexSkillsDir"`
	AutoEnableOnInstall bool   `mapstructure:"auto_enable_on_install" json:"autoEnableOnInstall"`
}

// Defaults returns the compiled baseline every layer overlays.
func Defaults() Config {
	return Config{
		Provider: ProviderSettings{
			Default: "gemini-cli",
		},
		Dashboard: DashboardSettings{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Runtime: RuntimeSettings{
			PromptTimeoutMs:               60_000,
			MaxPromptRetries:              2,
			MaxQueueDepth:                 64,
			MaxConcurrentTasks:            2,
			TaskRetryLimit:                3,
			TaskRetryDelayMs:              2_000,
			MaxOverflowCompactionAttempts: 2,
			MaxSessionLanes:               200,
			MaxSessionIdleMinutes:         30,
			MaxStoredTasks:                500,
			MaxFinishedTasks:              100,
		},
		Autonomous: AutonomousSettings{
			Enabled:                false,
			Goal:                   "Review outstanding objectives and make progress autonomously.",
			IntervalMs:             60_000,
			SkipWhenQueueAbove:     8,
			MaxConsecutiveFailures: 5,
			StalePendingHours:      72,
			StaleInProgressHours:   6,
		},
		Memory: MemorySettings{
			Vector: MemoryVectorSettings{
				Enabled:      false,
				Provider:     "ollama",
				Dims:         768,
				BatchSize:    16,
				CacheEnabled: true,
			},
			Search: MemorySearchSettings{
				VectorWeight: 0.65,
				TextWeight:   0.35,
				MinScore:     0.12,
			},
			SessionMemoryEnabled: true,
		},
		Chrome: ChromeSettings{
			Mode:                "launch",
			CDPConnectTimeoutMs: 5_000,
			CDPFallbackToLaunch: true,
			Headless:            true,
			MaxSessions:         3,
		},
		Skills: SkillsSettings{
			Enabled:           true,
			MaxCatalogEntries: 200,
			MaxSkillFileBytes: 64 * 1024,
			MaxInstallFiles:   200,
			MaxInstallBytes:   8 * 1024 * 1024,
			InstallTimeoutMs:  30_000,
			MaxPromptSkills:   8,
			MaxPromptChars:    2_000,
		},
	}
}

// Load reads <home>/config.json (if present), overlays environment
// variables prefixed NXCLAW_ (nested keys use "_" in place of "."), and
// falls back to Defaults() for anything neither layer sets. File absence
// is not an error — a fresh home simply runs on compiled defaults until
// Save is called or the file is hand-edited.
func Load(home string) (*Config, error) {
	paths := NewPaths(home)

	v := viper.New()
	v.AddConfigPath(paths.Home)
	v.SetConfigName("config")
	v.SetConfigType("json")

	setViperDefaults(v, Defaults())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w", paths.ConfigPath(), err)
		}
	}

	v.SetEnvPrefix("NXCLAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// setViperDefaults registers every field of d as a viper default using its
// mapstructure-dotted key, so AutomaticEnv and partial config.json files
// both overlay onto a complete baseline rather than zero values.
func setViperDefaults(v *viper.Viper, d Config) {
	v.SetDefault("provider.default", d.Provider.Default)
	v.SetDefault("provider.default_model", d.Provider.DefaultModel)

	v.SetDefault("dashboard.host", d.Dashboard.Host)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("dashboard.token", d.Dashboard.Token)

	v.SetDefault("runtime.prompt_timeout_ms", d.Runtime.PromptTimeoutMs)
	v.SetDefault("runtime.max_prompt_retries", d.Runtime.MaxPromptRetries)
	v.SetDefault("runtime.max_queue_depth", d.Runtime.MaxQueueDepth)
	v.SetDefault("runtime.max_concurrent_tasks", d.Runtime.MaxConcurrentTasks)
	v.SetDefault("runtime.task_retry_limit", d.Runtime.TaskRetryLimit)
	v.SetDefault("runtime.task_retry_delay_ms", d.Runtime.TaskRetryDelayMs)
	v.SetDefault("runtime.max_overflow_compaction_attempts", d.Runtime.MaxOverflowCompactionAttempts)
	v.SetDefault("runtime.max_session_lanes", d.Runtime.MaxSessionLanes)
	v.SetDefault("runtime.max_session_idle_minutes", d.Runtime.MaxSessionIdleMinutes)
	v.SetDefault("runtime.max_stored_tasks", d.Runtime.MaxStoredTasks)
	v.SetDefault("runtime.max_finished_tasks", d.Runtime.MaxFinishedTasks)

	v.SetDefault("autonomous.enabled", d.Autonomous.Enabled)
	v.SetDefault("autonomous.goal", d.Autonomous.Goal)
	v.SetDefault("autonomous.interval_ms", d.Autonomous.IntervalMs)
	v.SetDefault("autonomous.skip_when_queue_above", d.Autonomous.SkipWhenQueueAbove)
	v.SetDefault("autonomous.max_consecutive_failures", d.Autonomous.MaxConsecutiveFailures)
	v.SetDefault("autonomous.stale_pending_hours", d.Autonomous.StalePendingHours)
	v.SetDefault("autonomous.stale_in_progress_hours", d.Autonomous.StaleInProgressHours)

	v.SetDefault("memory.vector.enabled", d.Memory.Vector.Enabled)
	v.SetDefault("memory.vector.provider", d.Memory.Vector.Provider)
	v.SetDefault("memory.vector.model", d.Memory.Vector.Model)
	v.SetDefault("memory.vector.dims", d.Memory.Vector.Dims)
	v.SetDefault("memory.vector.batch_size", d.Memory.Vector.BatchSize)
	v.SetDefault("memory.vector.cache_enabled", d.Memory.Vector.CacheEnabled)
	v.SetDefault("memory.search.vector_weight", d.Memory.Search.VectorWeight)
	v.SetDefault("memory.search.text_weight", d.Memory.Search.TextWeight)
	v.SetDefault("memory.search.min_score", d.Memory.Search.MinScore)
	v.SetDefault("memory.session_memory_enabled", d.Memory.SessionMemoryEnabled)
	v.SetDefault("memory.extra_paths", d.Memory.ExtraPaths)

	v.SetDefault("chrome.mode", d.Chrome.Mode)
	v.SetDefault("chrome.cdp_url", d.Chrome.CDPURL)
	v.SetDefault("chrome.cdp_connect_timeout_ms", d.Chrome.CDPConnectTimeoutMs)
	v.SetDefault("chrome.cdp_reuse_existing_page", d.Chrome.CDPReuseExistingPage)
	v.SetDefault("chrome.cdp_fallback_to_launch", d.Chrome.CDPFallbackToLaunch)
	v.SetDefault("chrome.headless", d.Chrome.Headless)
	v.SetDefault("chrome.executable_path", d.Chrome.ExecutablePath)
	v.SetDefault("chrome.max_sessions", d.Chrome.MaxSessions)
	v.SetDefault("chrome.screenshot_dir", d.Chrome.ScreenshotDir)

	v.SetDefault("skills.enabled", d.Skills.Enabled)
	v.SetDefault("skills.max_catalog_entries", d.Skills.MaxCatalogEntries)
	v.SetDefault("skills.max_skill_file_bytes", d.Skills.MaxSkillFileBytes)
	v.SetDefault("skills.max_install_files", d.Skills.MaxInstallFiles)
	v.SetDefault("skills.max_install_bytes", d.Skills.MaxInstallBytes)
	v.SetDefault("skills.install_timeout_ms", d.Skills.InstallTimeoutMs)
	v.SetDefault("skills.max_prompt_skills", d.Skills.MaxPromptSkills)
	v.SetDefault("skills.max_prompt_chars", d.Skills.MaxPromptChars)
	v.SetDefault("skills.codex_skills_dir", d.Skills.CodexSkillsDir)
	v.SetDefault("skills.auto_enable_on_install", d.Skills.AutoEnableOnInstall)
}

// Save persists cfg to <home>/config.json via temp+rename, mode 0600.
func Save(home string, cfg *Config) error {
	return fsutil.WriteJSONAtomic(NewPaths(home).ConfigPath(), cfg)
}

// Interval converts IntervalMs to a time.Duration for callers that build a
// time.Ticker directly from it.
func (a AutonomousSettings) Interval() time.Duration {
	return time.Duration(a.IntervalMs) * time.Millisecond
}
