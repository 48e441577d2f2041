// Package registry loads and validates the knob registry. The registry is a
// YAML document defining every knob the tool knows about; the engine
// consumes it as static configuration data.
package registry

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

// Registry is the loaded set of knobs, index-addressable by id.
type Registry struct {
	Knobs []*types.Knob
	byID  map[string]*types.Knob
}

// document is the YAML shape of a registry file.
type document struct {
	Knobs []*types.Knob `yaml:"knobs"`
}

// Load reads and validates a registry file.
func Load(fs afero.Fs, path string) (*Registry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates registry YAML.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}

	r := &Registry{
		Knobs: doc.Knobs,
		byID:  make(map[string]*types.Knob, len(doc.Knobs)),
	}
	for _, k := range doc.Knobs {
		if err := validate(k); err != nil {
			return nil, fmt.Errorf("knob %q: %w", k.ID, err)
		}
		if _, dup := r.byID[k.ID]; dup {
			return nil, fmt.Errorf("duplicate knob id %q", k.ID)
		}
		r.byID[k.ID] = k
	}
	return r, nil
}

// Get returns the knob with the given id.
func (r *Registry) Get(id string) (*types.Knob, error) {
	k, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrKnobNotFound, id)
	}
	return k, nil
}

// validate checks a knob's structural invariants: a usable id and scope,
// and a parameter payload matching the declared kind.
func validate(k *types.Knob) error {
	if k.ID == "" {
		return fmt.Errorf("missing id")
	}
	if !k.Scope.Valid() {
		return fmt.Errorf("invalid scope %q", k.Scope)
	}
	if k.Impl == nil {
		return nil // placeholder, not appliable
	}

	switch k.Impl.Kind {
	case types.KindLimitsAppend, types.KindSysctlAppend:
		if k.Impl.Lines == nil || k.Impl.Lines.Path == "" || len(k.Impl.Lines.Lines) == 0 {
			return fmt.Errorf("%s requires lines.path and lines.lines", k.Impl.Kind)
		}
		if !filepath.IsAbs(k.Impl.Lines.Path) {
			return fmt.Errorf("lines.path must be absolute")
		}
	case types.KindUdevRule, types.KindAppConfig:
		if k.Impl.File == nil || k.Impl.File.Path == "" || k.Impl.File.Content == "" {
			return fmt.Errorf("%s requires file.path and file.content", k.Impl.Kind)
		}
		if !filepath.IsAbs(k.Impl.File.Path) {
			return fmt.Errorf("file.path must be absolute")
		}
	case types.KindSysfsValue:
		if k.Impl.Sysfs == nil || len(k.Impl.Sysfs.Entries) == 0 {
			return fmt.Errorf("%s requires sysfs.entries", k.Impl.Kind)
		}
		for _, entry := range k.Impl.Sysfs.Entries {
			if !filepath.IsAbs(entry.Path) {
				return fmt.Errorf("sysfs entry path %q must be absolute", entry.Path)
			}
		}
	case types.KindSystemdToggle:
		if k.Impl.Unit == nil || k.Impl.Unit.Name == "" {
			return fmt.Errorf("%s requires unit.name", k.Impl.Kind)
		}
		switch k.Impl.Unit.Target {
		case types.UnitEnabled, types.UnitDisabled, types.UnitMasked:
		default:
			return fmt.Errorf("invalid unit.target %q", k.Impl.Unit.Target)
		}
	case types.KindUserServiceMask:
		if k.Impl.Unit == nil || k.Impl.Unit.Name == "" {
			return fmt.Errorf("%s requires unit.name", k.Impl.Kind)
		}
		// user-service-mask is shorthand: force the user instance and
		// the masked target.
		k.Impl.Unit.User = true
		if k.Impl.Unit.Target == "" {
			k.Impl.Unit.Target = types.UnitMasked
		}
		if k.Impl.Unit.Target != types.UnitMasked {
			return fmt.Errorf("%s target must be masked", k.Impl.Kind)
		}
	case types.KindCmdlineToken:
		if k.Impl.Cmdline == nil || len(k.Impl.Cmdline.Tokens) == 0 {
			return fmt.Errorf("%s requires cmdline.tokens", k.Impl.Kind)
		}
	case types.KindGroupMembership:
		if k.Impl.Groups == nil || len(k.Impl.Groups.Groups) == 0 {
			return fmt.Errorf("%s requires groups.groups", k.Impl.Kind)
		}
	case types.KindReadOnly:
		// no payload
	default:
		return fmt.Errorf("unknown kind %q", k.Impl.Kind)
	}
	return nil
}
