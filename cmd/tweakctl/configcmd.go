package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tweakctl/tweakctl/pkg/tweak/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage tweakctl configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/tweakctl/config.yaml (if set)
  2. ~/.config/tweakctl/config.yaml

Environment variables can override config file settings using the
TWEAKCTL_ prefix:
  TWEAKCTL_OUTPUT=json
  TWEAKCTL_RETENTION_DAYS=30
  TWEAKCTL_ROOT_STATE_DIR=/var/lib/tweakctl`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration files",
	Long: `Create a default config file and a starter knob registry if they
don't exist yet.`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Printf("Config file: %s\n\n", configFile)
	} else {
		fmt.Println("Config file: (using defaults, no file found)")
		fmt.Println()
	}

	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("registry:            %s\n", cfg.Registry)
	fmt.Printf("user_state_dir:      %s\n", cfg.UserStateDir)
	fmt.Printf("root_state_dir:      %s\n", cfg.RootStateDir)
	fmt.Printf("output:              %s\n", cfg.Output)
	fmt.Printf("retention_days:      %d\n", cfg.RetentionDays)
	fmt.Printf("logging.level:       %s\n", cfg.Logging.Level)
	fmt.Printf("logging.path:        %s\n", cfg.Logging.Path)
	fmt.Printf("ownership.cache:     %s\n", cfg.Ownership.CachePath)
	fmt.Printf("ownership.ttl_hours: %d\n", cfg.Ownership.TTLHours)

	fmt.Println("\nEnvironment Overrides:")
	fmt.Println("----------------------")
	envVars := []string{
		"TWEAKCTL_REGISTRY",
		"TWEAKCTL_USER_STATE_DIR",
		"TWEAKCTL_ROOT_STATE_DIR",
		"TWEAKCTL_OUTPUT",
		"TWEAKCTL_RETENTION_DAYS",
		"TWEAKCTL_LOGGING_LEVEL",
	}

	anyOverrides := false
	for _, name := range envVars {
		if val := os.Getenv(name); val != "" {
			fmt.Printf("%s=%s\n", name, val)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Println("(none)")
	}

	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	if err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	configPath := filepath.Join(config.ConfigDir(), "config.yaml")

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := filepath.Join(config.ConfigDir(), "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists: %s\n", configPath)
	} else {
		if err := config.WriteDefault(); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Printf("Created default config file: %s\n", configPath)
	}

	registryPath := filepath.Join(config.ConfigDir(), config.DefaultRegistryName)
	if _, err := os.Stat(registryPath); err == nil {
		fmt.Printf("Knob registry already exists: %s\n", registryPath)
		return nil
	}
	if err := os.WriteFile(registryPath, []byte(starterRegistry), 0o644); err != nil {
		return fmt.Errorf("failed to write starter registry: %w", err)
	}
	fmt.Printf("Created starter knob registry: %s\n", registryPath)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	fmt.Println(filepath.Join(config.ConfigDir(), "config.yaml"))
	return nil
}

// starterRegistry is written by `config init` as a working example; users
// extend it with the knobs their distribution needs.
const starterRegistry = `# tweakctl knob registry
knobs:
  - id: audio-group-limits
    name: Audio group realtime limits
    description: Grant the audio group realtime priority and unlimited memlock.
    scope: root
    impl:
      kind: limits-file-append
      lines:
        path: /etc/security/limits.d/95-tweakctl-audio.conf
        lines:
          - "@audio - rtprio 95"
          - "@audio - memlock unlimited"

  - id: swappiness
    name: Lower swappiness
    description: Keep audio buffers in RAM under memory pressure.
    scope: root
    impl:
      kind: sysctl-append
      lines:
        path: /etc/sysctl.d/99-tweakctl.conf
        lines:
          - "vm.swappiness = 10"

  - id: cpu-governor
    name: Performance CPU governor
    description: Pin all CPUs to the performance frequency governor.
    scope: root
    impl:
      kind: sysfs-key-value
      sysfs:
        entries:
          - path: /sys/devices/system/cpu/cpu0/cpufreq/scaling_governor
            value: performance

  - id: threadirqs
    name: Threaded IRQs
    description: Run interrupt handlers as schedulable kernel threads.
    scope: root
    impl:
      kind: kernel-cmdline-token
      cmdline:
        tokens: [threadirqs]

  - id: audio-group-member
    name: Audio group membership
    description: Add the invoking user to the audio group.
    scope: root
    impl:
      kind: group-membership
      groups:
        groups: [audio]
`
