package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// RegistryKey is the hub registry key the flattened configuration lives under.
const RegistryKey = "config"

// Registry is a read-only, flat view of the configuration keyed
// "<prefix>_<key>" (lora.serial_port becomes lora_serial_port). Modules
// resolve their settings through it so a worker never needs to know the
// shape of the config file.
type Registry struct {
	values map[string]any
}

// NewRegistry wraps a flat key/value map. The map is copied.
func NewRegistry(values map[string]any) *Registry {
	return &Registry{values: maps.Clone(values)}
}

// RegistryFrom flattens every setting known to v.
func RegistryFrom(v *viper.Viper) *Registry {
	return &Registry{values: Flatten(v.AllSettings())}
}

// Flatten joins nested keys with "_". Keys are lower-cased to match viper.
func Flatten(settings map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", settings)
	return out
}

func flattenInto(out map[string]any, prefix string, in map[string]any) {
	for k, v := range in {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// Has reports whether key is present.
func (r *Registry) Has(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.values[key]
	return ok
}

// Get returns the raw value for key.
func (r *Registry) Get(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// String returns key as a string, or def when absent or unconvertible.
func (r *Registry) String(key, def string) string {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil || s == "" {
		return def
	}
	return s
}

// Int returns key as an int, or def when absent or unconvertible.
func (r *Registry) Int(key string, def int) int {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

// Float returns key as a float64, or def when absent or unconvertible.
func (r *Registry) Float(key string, def float64) float64 {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// Bool returns key as a bool, or def when absent or unconvertible.
func (r *Registry) Bool(key string, def bool) bool {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns key as a time.Duration. Bare numbers are read in unit
// (so "lora_min_tx_interval_ms: 50" with unit time.Millisecond is 50ms);
// strings such as "250ms" are parsed as Go durations.
func (r *Registry) Duration(key string, unit, def time.Duration) time.Duration {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	if s, isString := v.(string); isString {
		d, err := time.ParseDuration(s)
		if err != nil {
			return def
		}
		return d
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return time.Duration(f * float64(unit))
}

// Keys returns the sorted keys, optionally filtered by a glob pattern
// such as "lora_*".
func (r *Registry) Keys(pattern string) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	var g glob.Glob
	if pattern != "" {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
		}
		g = compiled
	}

	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		if g == nil || g.Match(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Len returns the number of keys.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.values)
}
