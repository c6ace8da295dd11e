package cmd

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/homegrid/admind/pkg/logger"
	"github.com/homegrid/admind/pkg/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "admind",
	Short: "admind - IoT platform administration backend",
	Long: `admind is the backend reconciliation core of the platform
administration service: it mirrors the object store, publishes the
available-updates report, serializes bulk rights corrections and keeps
the news, ratings and repository feeds current.`,
}

// ExecuteCLI stores build info and runs the root command.
func ExecuteCLI(v, c, d string) {
	if v != "" {
		version.Set(v, c, d)
	}
	logger.GetLogger().ConfigureFromEnv()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./admind.toml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config file in standard locations
		viper.SetConfigName("admind")
		viper.SetConfigType("toml")

		// Current directory (highest priority)
		viper.AddConfigPath(".")

		// User config directory
		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(userConfigDir + "/admind")
		}

		// System-wide config directories
		viper.AddConfigPath("/etc/admind")
		viper.AddConfigPath("/usr/local/etc/admind")
	}

	viper.SetEnvPrefix("ADMIND")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
	}
}
