// Package config provides CLI commands for managing drid configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/yilhu/DRID-modules/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create drid configuration",
	Long: `View or create drid configuration.

Use 'config show' to print the effective configuration, 'config init' to
write a file with every default, and 'config validate' to check a file
before deploying it to a unit.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show prints the effective configuration as YAML: defaults, then the
config file, then DRID_* environment variables. With --flat it prints the
registry view the modules read (lora_serial_port, decision_min_total_score, ...).`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a config file at ~/.config/drid/config.yaml holding every option with its default value.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	showFlat  bool
	showKeys  string
	initForce bool
	initPath  string
)

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().BoolVar(&showFlat, "flat", false, "Show flattened registry keys")
	configShowCmd.Flags().StringVar(&showKeys, "keys", "", "Only show registry keys matching this glob (implies --flat)")
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
	configInitCmd.Flags().StringVar(&initPath, "path", "", "Where to write the file (default: the user config file)")
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "# Config file: (none - using defaults)\n")
	}

	if showFlat || showKeys != "" {
		return writeFlat(out, appconfig.RegistryFrom(viper.GetViper()), showKeys)
	}

	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}
	return writeYAML(out, cfg)
}

func writeYAML(w io.Writer, cfg *appconfig.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func writeFlat(w io.Writer, reg *appconfig.Registry, pattern string) error {
	keys, err := reg.Keys(pattern)
	if err != nil {
		return err
	}
	for _, k := range keys {
		v, _ := reg.Get(k)
		if _, err := fmt.Fprintf(w, "%s = %v\n", k, v); err != nil {
			return err
		}
	}
	return nil
}

// writeDefaultConfig writes every default to path, creating its directory.
func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Fprintln(f, "# drid configuration")
	fmt.Fprintln(f, "# Every key can be overridden with DRID_<SECTION>_<KEY>, e.g. DRID_LORA_SERIAL_PORT.")
	if err := writeYAML(f, appconfig.Default()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		path = appconfig.ConfigFile()
	}
	path = appconfig.ExpandPath(path)

	if err := writeDefaultConfig(path, initForce); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", path)
	fmt.Fprintln(out, "Edit this file to set the serial ports, thresholds and broker for this unit.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/drid/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: DRID_* (e.g., DRID_DECISION_MIN_TOTAL_SCORE)")

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := appconfig.Load(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}
