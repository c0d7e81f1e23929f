package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/fitetl/internal/cli/config"
	"github.com/leapstack-labs/fitetl/internal/cli/output"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new fitetl project",
		Long: `Initialize a new fitetl project with a configuration file and data directories.

This creates:
  - fitetl.yaml with the default pipeline configuration and a test profile
  - data/raw/ for the raw CSV inputs
  - data/processed/ for the outputs`,
		Example: `  # Initialize in current directory
  fitetl init

  # Initialize in a new directory
  fitetl init my-project

  # Force overwrite existing config
  fitetl init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			mode, _ := cmd.Flags().GetString("output")
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(mode))
			return runInit(r, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	return cmd
}

type scaffoldOutput struct {
	Format      string `yaml:"format"`
	Path        string `yaml:"path"`
	Compression string `yaml:"compression,omitempty"`
}

type scaffoldProfile struct {
	OutputDir  string           `yaml:"output_dir,omitempty"`
	StatePath  string           `yaml:"state_path,omitempty"`
	InputFiles []string         `yaml:"input_files,omitempty"`
	Outputs    []scaffoldOutput `yaml:"outputs,omitempty"`
	LogLevel   string           `yaml:"log_level,omitempty"`
}

type scaffoldDashboard struct {
	Addr  string `yaml:"addr"`
	Watch bool   `yaml:"watch"`
}

// scaffold is the generated fitetl.yaml.
type scaffold struct {
	Environment  string                     `yaml:"environment"`
	LogLevel     string                     `yaml:"log_level"`
	RawDir       string                     `yaml:"raw_dir"`
	OutputDir    string                     `yaml:"output_dir"`
	StatePath    string                     `yaml:"state_path"`
	Outputs      []scaffoldOutput           `yaml:"outputs"`
	Standardise  map[string]string          `yaml:"standardise"`
	Enrich       map[string]any             `yaml:"enrich"`
	Dashboard    scaffoldDashboard          `yaml:"dashboard"`
	Environments map[string]scaffoldProfile `yaml:"environments"`
}

func defaultScaffold() scaffold {
	return scaffold{
		Environment: config.DefaultEnv,
		LogLevel:    "info",
		RawDir:      config.DefaultRawDir,
		OutputDir:   config.DefaultOutputDir,
		StatePath:   config.DefaultStateFile,
		Outputs: []scaffoldOutput{
			{Format: "csv", Path: "fitness_processed.csv"},
			{Format: "parquet", Path: "fitness_processed.parquet", Compression: "snappy"},
		},
		Standardise: map[string]string{"date_fallback": "flag"},
		Enrich: map[string]any{
			"hemisphere":     "north",
			"height_unit":    "auto",
			"rolling_window": 30,
		},
		Dashboard: scaffoldDashboard{Addr: config.DefaultAddr, Watch: true},
		Environments: map[string]scaffoldProfile{
			config.DefaultEnv: {LogLevel: "debug"},
			"test": {
				OutputDir: "data/test",
				StatePath: ".fitetl/test.db",
				Outputs:   []scaffoldOutput{{Format: "csv", Path: "fitness_processed.csv"}},
			},
		},
	}
}

func runInit(r *output.Renderer, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", config.ConfigFileName)
	}

	var buf bytes.Buffer
	buf.WriteString("# fitetl configuration. Values can be overridden with FITETL_* environment\n")
	buf.WriteString("# variables (FITETL_DASHBOARD__ADDR=:9000) and command-line flags.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(defaultScaffold()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	r.StatusLine(config.ConfigFileName, "success", "")

	for _, d := range []string{config.DefaultRawDir, config.DefaultOutputDir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
		r.StatusLine(d+"/", "success", "")
	}

	r.Println("")
	r.Success("fitetl project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Copy your raw CSV files into " + config.DefaultRawDir + "/")
	r.Println("  2. Run 'fitetl doctor' to check inputs and outputs")
	r.Println("  3. Run 'fitetl run' to process the data and serve the dashboard")
	return nil
}
