// Package cli provides the command-line interface for fitetl.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/fitetl/internal/cli/commands"
	"github.com/leapstack-labs/fitetl/internal/cli/config"
	"github.com/leapstack-labs/fitetl/internal/cli/output"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// noConfig lists commands that run without loading configuration.
var noConfig = map[string]bool{
	"help": true, "completion": true, "__complete": true, "version": true, "init": true,
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var (
		cfgFile  string
		closeLog func() error
	)
	loader := config.NewLoader()

	rootCmd := &cobra.Command{
		Use:   "fitetl",
		Short: "fitetl - fitness data ETL pipeline",
		Long: `fitetl ingests raw fitness-tracking CSV files, cleans, standardises and
enriches them, and writes the result as CSV and/or Parquet for the dashboard.

Every run recomputes the full output from the raw input and is recorded in a
local run history.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if noConfig[cmd.Name()] {
				return nil
			}

			cfg, err := loader.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger, closer, err := NewLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			closeLog = closer

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			ctx = output.WithRenderer(ctx, output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)))
			cmd.SetContext(ctx)

			if cfg.Verbose {
				if f := loader.FileUsed(); f != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", f)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Using environment: %s\n", cfg.Environment)
			}
			logger.Debug("configuration loaded", "file", loader.FileUsed(), "project_root", cfg.ProjectRoot)
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: fitetl.yaml, searched upward)")
	pf.StringP("env", "e", "", "Environment profile (e.g. dev, test)")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.StringP("output", "o", "", "Output format (auto|text|markdown|json)")
	pf.String("state", "", "Path to the run history database")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-format", "", "Log format (text|json)")
	pf.String("log-file", "", "Also write logs to this file")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return output.Modes, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("env", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"dev", "test"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit, BuildDate))
	rootCmd.AddCommand(commands.NewETLCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewDashboardCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewInspectCommand())
	rootCmd.AddCommand(commands.NewDoctorCommand())
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for fitetl.

To load completions:

Bash:
  $ source <(fitetl completion bash)

Zsh:
  $ fitetl completion zsh > "${fpath[1]}/_fitetl"

Fish:
  $ fitetl completion fish | source

PowerShell:
  PS> fitetl completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
