package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfgcmd "github.com/yilhu/DRID-modules/internal/cmd/config"
	"github.com/yilhu/DRID-modules/internal/cmd/observability"
	"github.com/yilhu/DRID-modules/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "drid",
	Short: "Multi-sensor detection and deterrence device",
	Long: `drid runs the detection device core: a shared data hub, the decision
engine that raises the deterrence flag, and the collaborators around it
(LoRa bridge, event archive, MQTT telemetry and the watchdog status file).

Use 'drid run' on the device and 'drid status' or 'drid monitor' to
inspect a running unit.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/drid/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	cfgcmd.Register(rootCmd)
	observability.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/drid")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DRID")
	// e.g. DRID_LORA_SERIAL_PORT for lora.serial_port
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
