package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tweakctl/tweakctl/pkg/tweak/output"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "tweakctl",
		Short: "Apply and revert realtime-audio system tweaks",
		Long: `Tweakctl applies a catalog of Linux system tweaks for realtime audio
(CPU governor, kernel cmdline, PAM limits, sysctl, udev rules, systemd
units, PipeWire config) and reverts them losslessly.

Every mutation runs inside a transaction: the original state is backed up
before anything changes, and a reset restores it exactly.

Examples:
  tweakctl status                  # Show every knob's live status
  tweakctl apply cpu-governor      # Apply one knob
  tweakctl apply --all             # Apply everything appliable
  tweakctl reset cpu-governor      # Revert a knob to its original state
  tweakctl pending                 # Preview what a full reset would touch
  tweakctl history                 # Audit trail of past transactions`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/tweakctl/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output format: table, plain, json, yaml")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().String("registry", "", "knob registry file")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("registry", rootCmd.PersistentFlags().Lookup("registry"))
}

// initConfig reads in the config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			viper.AddConfigPath(filepath.Join(xdgConfigHome, "tweakctl"))
		}
		homeDir, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(homeDir, ".config", "tweakctl"))
		}
	}

	viper.SetEnvPrefix("TWEAKCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// render formats a report with the selected formatter and prints it.
func render(report *output.Report) error {
	name := viper.GetString("output")
	if name == "" {
		name = "table"
	}
	formatter, err := output.Get(name)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, report); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	fmt.Print(buf.String())
	return nil
}
