package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/tweakctl/tweakctl/pkg/tweak/config"
	"github.com/tweakctl/tweakctl/pkg/tweak/engine"
	"github.com/tweakctl/tweakctl/pkg/tweak/logging"
	"github.com/tweakctl/tweakctl/pkg/tweak/pkgown"
	"github.com/tweakctl/tweakctl/pkg/tweak/registry"
	"github.com/tweakctl/tweakctl/pkg/tweak/system"
	"github.com/tweakctl/tweakctl/pkg/tweak/txn"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// app wires the engine to the real machine: OS filesystem, systemctl,
// detected package manager (behind the ownership cache), GRUB cmdline, and
// the invoking user's groups.
type app struct {
	cfg   *config.Config
	reg   *registry.Registry
	eng   *engine.Engine
	cache *pkgown.Cache
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg := logging.Config{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		Components: cfg.Logging.Components,
	}
	if viper.GetBool("verbose") {
		logCfg.Level = "debug"
		logCfg.Console = true
	}
	if err := logging.Init(logCfg); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	fs := afero.NewOsFs()

	registryPath := cfg.Registry
	if flagPath := viper.GetString("registry"); flagPath != "" {
		registryPath = flagPath
	}
	reg, err := registry.Load(fs, registryPath)
	if err != nil {
		return nil, fmt.Errorf("loading knob registry: %w", err)
	}

	username := invokingUser()
	elevated := os.Geteuid() == 0

	var packages system.PackageManager
	var cache *pkgown.Cache
	if pm := system.DetectPackageManager(); pm != nil {
		packages = pm
		c, err := pkgown.Open(cfg.Ownership.CachePath, pm, time.Duration(cfg.Ownership.TTLHours)*time.Hour)
		if err != nil {
			// A locked or corrupt cache degrades to direct lookups.
			logging.Get("main").Warn("ownership cache unavailable", "error", err)
		} else {
			cache = c
			packages = c
		}
	}

	sys := &system.System{
		FS:       fs,
		Sysfs:    system.FsSysfs{FS: fs},
		Systemd:  system.Systemctl{},
		Packages: packages,
		Cmdline:  &system.GrubCmdline{FS: fs},
		Groups:   &system.UserGroups{Username: username},
		Elevated: elevated,
	}

	home := invokingHome()
	userRepo := txn.NewRepository(fs, userStateDir(cfg.UserStateDir, home), types.ScopeUser, home)
	userRepo.Meta = txn.OSMetadata
	rootRepo := txn.NewRepository(fs, cfg.RootStateDir, types.ScopeRoot, home)
	rootRepo.Meta = txn.OSMetadata

	return &app{
		cfg:   cfg,
		reg:   reg,
		eng:   engine.New(sys, userRepo, rootRepo),
		cache: cache,
	}, nil
}

func (a *app) close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	_ = logging.Close()
}

// invokingUser resolves the user the tweaks are for. Under sudo that is the
// invoking user, not root: group membership and user-scope paths must
// reflect the person at the keyboard.
func invokingUser() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		return sudoUser
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// invokingHome resolves the invoking user's home directory. Under sudo
// os.UserHomeDir reports root's home, which would misclassify the user's
// dotfiles as package-managed territory.
func invokingHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil && u.HomeDir != "" {
			return u.HomeDir
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// userStateDir returns the user-scope transaction directory. The XDG default
// resolves against the current process's home, so under sudo it is rebased
// onto the invoking user's home; an explicitly configured directory is
// honored as-is.
func userStateDir(configured, home string) string {
	if configured != config.StateDir() || home == "" {
		return configured
	}
	if current, err := os.UserHomeDir(); err == nil && current == home {
		return configured
	}
	return filepath.Join(home, ".local", "state", "tweakctl")
}

// knobsFromArgs resolves knob ids to registry knobs, or all appliable knobs
// when all is set.
func (a *app) knobsFromArgs(args []string, all bool) ([]*types.Knob, error) {
	if all {
		var knobs []*types.Knob
		for _, k := range a.reg.Knobs {
			if k.Appliable() {
				knobs = append(knobs, k)
			}
		}
		return knobs, nil
	}
	var knobs []*types.Knob
	for _, id := range args {
		k, err := a.reg.Get(id)
		if err != nil {
			return nil, err
		}
		knobs = append(knobs, k)
	}
	return knobs, nil
}
