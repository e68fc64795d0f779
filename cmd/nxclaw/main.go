// Command nxclaw is the composition root for the persistent agent
// runtime: it loads configuration, wires every internal package together,
// and exposes the result through a small cobra CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nxclaw/nxclaw/internal/channels"
	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/llm"
	"github.com/nxclaw/nxclaw/internal/logging"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/skills"
)

const appVersion = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "nxclaw",
		Short: "nxclaw — a persistent, autonomous agent runtime",
	}
	root.PersistentFlags().String("home", "", "override the runtime home directory (default ~/.nxclaw)")

	root.AddCommand(
		newVersionCmd(),
		newAuthCmd(),
		newOnboardCmd(),
		newStatusCmd(),
		newSkillsCmd(),
		newObjectiveCmd(),
		newStartCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func homeFromFlags(cmd *cobra.Command) string {
	home, _ := cmd.Flags().GetString("home")
	return home
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the runtime version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nxclaw v%s\n", appVersion)
		},
	}
}

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage LLM provider credentials",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFromFlags(cmd)
			f, err := config.LoadAuth(home)
			if err != nil {
				return err
			}
			if len(f.Providers) == 0 {
				fmt.Println("no providers configured; run `nxclaw auth add`")
				return nil
			}
			for _, p := range f.Providers {
				fmt.Printf("%-20s type=%-10s priority=%d models=%v\n", p.Name, p.Type, p.Priority, p.Models)
			}
			return nil
		},
	})

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a provider credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFromFlags(cmd)
			name, _ := cmd.Flags().GetString("name")
			typ, _ := cmd.Flags().GetString("type")
			apiKey, _ := cmd.Flags().GetString("api-key")
			baseURL, _ := cmd.Flags().GetString("base-url")
			priority, _ := cmd.Flags().GetInt("priority")
			if name == "" || typ == "" || apiKey == "" {
				return fmt.Errorf("--name, --type, and --api-key are required")
			}
			_, err := config.UpsertProvider(home, llm.ProviderConfig{
				Name:     name,
				Type:     typ,
				BaseURL:  baseURL,
				APIKey:   apiKey,
				Priority: priority,
			})
			if err != nil {
				return err
			}
			fmt.Printf("provider %q saved\n", name)
			return nil
		},
	}
	addCmd.Flags().String("name", "", "provider instance name")
	addCmd.Flags().String("type", "", "provider type: openai | anthropic | gemini")
	addCmd.Flags().String("api-key", "", "API key")
	addCmd.Flags().String("base-url", "", "override base URL")
	addCmd.Flags().Int("priority", 0, "routing priority, lower tried first")
	cmd.AddCommand(addCmd)

	return cmd
}

func newOnboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Create the runtime home directory and seed its default files",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFromFlags(cmd)
			logger, err := logging.New(logging.Config{Level: "info", Format: "console"})
			if err != nil {
				return err
			}
			defer logger.Sync()
			if err := config.Bootstrap(home, logger); err != nil {
				return err
			}
			paths := config.NewPaths(home)
			fmt.Printf("runtime home ready at %s\n", paths.Home)
			if !config.IsAuthenticated(home) {
				fmt.Println("no LLM provider configured yet — run `nxclaw auth add`")
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the runtime's current state without starting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFromFlags(cmd)
			paths := config.NewPaths(home)

			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			fmt.Printf("home:          %s\n", paths.Home)
			fmt.Printf("authenticated: %v\n", config.IsAuthenticated(home))
			fmt.Printf("dashboard:     http://%s:%d\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
			fmt.Printf("autonomous:    enabled=%v interval=%s\n", cfg.Autonomous.Enabled, cfg.Autonomous.Interval())

			objStore, err := objectives.Open(paths.ObjectivesPath(), nil, nil)
			if err != nil {
				return err
			}
			stats := objStore.Stats()
			fmt.Printf("objectives:    total=%d byStatus=%v\n", stats.Total, stats.ByStatus)
			return nil
		},
	}
}

// startMinimalSkills loads a skills.Manager scoped to a single CLI
// invocation, without the rest of the runtime's components.
func startMinimalSkills(home string) (*skills.Manager, error) {
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	paths := config.NewPaths(home)
	m, err := skills.New(skills.Config{
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
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect and manage installed skills",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := startMinimalSkills(homeFromFlags(cmd))
			if err != nil {
				return err
			}
			for _, s := range rt.List() {
				fmt.Printf("%-24s enabled=%v  %s\n", s.ID, s.Enabled, s.Description)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "catalog",
		Short: "List skills available to install",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := startMinimalSkills(homeFromFlags(cmd))
			if err != nil {
				return err
			}
			for _, e := range rt.Catalog() {
				fmt.Printf("%-24s %s\n", e.ID, e.Description)
			}
			return nil
		},
	})
	installCmd := &cobra.Command{
		Use:   "install <source>",
		Short: "Install a skill from a local path or catalog ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := startMinimalSkills(homeFromFlags(cmd))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s, err := rt.Install(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("installed %s\n", s.ID)
			return nil
		},
	}
	cmd.AddCommand(installCmd)
	return cmd
}

func newObjectiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objective",
		Short: "Manage the autonomous objective queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List objectives",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFromFlags(cmd)
			paths := config.NewPaths(home)
			store, err := objectives.Open(paths.ObjectivesPath(), nil, nil)
			if err != nil {
				return err
			}
			for _, o := range store.List("") {
				fmt.Printf("%-8s [%-11s] p%d  %s\n", o.ID, o.Status, o.Priority, o.Title)
			}
			return nil
		},
	})
	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a new objective",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFromFlags(cmd)
			paths := config.NewPaths(home)
			store, err := objectives.Open(paths.ObjectivesPath(), nil, nil)
			if err != nil {
				return err
			}
			priority, _ := cmd.Flags().GetInt("priority")
			title := args[0]
			for _, a := range args[1:] {
				title += " " + a
			}
			obj, err := store.Add(objectives.AddInput{Title: title, Priority: priority, Source: "cli"})
			if err != nil {
				return err
			}
			fmt.Printf("added objective %s\n", obj.ID)
			return nil
		},
	}
	addCmd.Flags().Int("priority", 3, "1 (highest) .. 5 (lowest)")
	cmd.AddCommand(addCmd)
	return cmd
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start [message]",
		Short: "Start the runtime: dashboard, channel adapters, and the autonomous loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := homeFromFlags(cmd)
			once, _ := cmd.Flags().GetBool("once")
			noSlack, _ := cmd.Flags().GetBool("no-slack")
			noTelegram, _ := cmd.Flags().GetBool("no-telegram")
			noDashboard, _ := cmd.Flags().GetBool("no-dashboard")

			rt, err := buildRuntime(home, logging.Config{Level: "info", Format: "json", OutputPath: "stdout"})
			if err != nil {
				return fmt.Errorf("building runtime: %w", err)
			}
			defer rt.shutdown()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			adapter := orchestratorAdapter{orch: rt.orch}

			if once {
				text := ""
				for i, a := range args {
					if i > 0 {
						text += " "
					}
					text += a
				}
				if text == "" {
					return fmt.Errorf("start --once requires a message")
				}
				fmt.Println(rt.cliAdapter.Once(ctx, text))
				return nil
			}

			if !noSlack {
				rt.channels.Register(channels.NewSlackAdapter(adapter))
			}
			if !noTelegram {
				rt.channels.Register(channels.NewTelegramAdapter(adapter))
			}
			rt.channels.Register(rt.cliAdapter)
			_ = rt.channels.Start(ctx) // best-effort: unconfigured channels report and continue

			if !noDashboard {
				if err := rt.http.Start(ctx); err != nil {
					return fmt.Errorf("dashboard: %w", err)
				}
			}

			rt.auto.Start(ctx)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			rt.logger.Info("nxclaw runtime started")
			<-stop
			rt.logger.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().Bool("once", false, "send a single message and exit, rather than running the full runtime")
	cmd.Flags().Bool("no-slack", false, "do not register the slack channel adapter")
	cmd.Flags().Bool("no-telegram", false, "do not register the telegram channel adapter")
	cmd.Flags().Bool("no-dashboard", false, "do not start the dashboard http server")
	return cmd
}
