package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/podrag/configs"
	"github.com/Aman-CERP/podrag/internal/config"
	"github.com/Aman-CERP/podrag/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Inspect and write podrag configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/podrag/config.yaml)
  3. Project config (.podrag.yaml)
  4. .env in the working directory
  5. Environment variables (PODRAG_*)
  6. Command flags`,
		Example: `  # Show effective configuration
  podrag config show

  # Write a project config with defaults
  podrag config init

  # Convert old LLAMA_MODEL_PATH style variables
  podrag config migrate --dry-run`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigMigrateCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.OpenSearch.Password != "" {
				cfg.Store.OpenSearch.Password = "********"
			}
			if jsonOutput {
				return writeJSON(cmd, cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file with defaults",
		Long: `Write the commented default configuration to .podrag.yaml in the
working directory, or to the user config file with --user.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configTarget(user)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if _, err := os.Stat(path); err == nil && !force {
				out.Warningf("Configuration already exists: %s", path)
				out.Statusf("", "Use --force to overwrite")
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")
	return cmd
}

func newConfigMigrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Convert legacy environment variables to .podrag.yaml",
		Long: `Read the variables of the older single-model deployment
(LLAMA_MODEL_PATH, PRIMARY_MODEL, OPENSEARCH_HOST, ...) and write their
equivalent settings to .podrag.yaml. podrag itself never reads them.

An existing .podrag.yaml is backed up first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigMigrate(cmd, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the mappings without writing")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user and project config paths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, err := configTarget(false)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), project)
			return nil
		},
	}
}

func runConfigMigrate(cmd *cobra.Command, dryRun bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	migrations := config.MigrateLegacy(cfg, config.LegacyEnv())
	if len(migrations) == 0 {
		out.Status("ℹ️ ", "No legacy variables set; nothing to migrate")
		return nil
	}
	for _, m := range migrations {
		out.Status("→", m.String())
	}
	if dryRun {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("migrated configuration is invalid: %w", err)
	}

	path, err := configTarget(false)
	if err != nil {
		return err
	}
	backup, err := config.BackupFile(path)
	if err != nil {
		return err
	}
	if backup != "" {
		out.Statusf("💾", "Backed up %s to %s", path, backup)
	}
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}
	out.Successf("Wrote %d settings to %s", len(migrations), path)
	return nil
}

func configTarget(user bool) (string, error) {
	if user {
		return config.GetUserConfigPath(), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(wd, config.ProjectConfigName), nil
}
