// Package config implements spec sections 6 and 9's configuration
// layering: a file-backed document patched at process start by
// MRSM_CONFIG and then MRSM_PATCH, with {a:b:c} values resolved as
// one-level symlinks on read. There is no teacher precedent for this
// (the teacher is a one-shot CLI reading flags directly); the layering
// itself follows github.com/spf13/viper, the idiom the rest of the
// retrieval pack reaches for whenever a repo has more than flag-only
// configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"mrsm/internal/logging"
)

var log = logging.For(logging.CLI)

// Config is the read-only ground truth for the rest of the process
// once loaded: "the patched document is the read-only ground truth",
// per spec section 9.
type Config struct {
	v *viper.Viper
}

// Load builds a Config from, in increasing precedence: the config file
// under rootDir (mrsm.yaml/mrsm.json/mrsm.toml, whichever viper finds),
// the MRSM_CONFIG env var (a JSON patch), and the MRSM_PATCH env var
// (a JSON patch layered on top of that), per spec section 9's "Config
// patching".
func Load(rootDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("mrsm")
	v.AddConfigPath(rootDir)
	v.SetEnvPrefix("MRSM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read %s: %w", rootDir, err)
		}
	}

	if err := mergeJSONPatch(v, os.Getenv("MRSM_CONFIG")); err != nil {
		return nil, fmt.Errorf("config: apply MRSM_CONFIG: %w", err)
	}
	if err := mergeJSONPatch(v, os.Getenv("MRSM_PATCH")); err != nil {
		return nil, fmt.Errorf("config: apply MRSM_PATCH: %w", err)
	}

	return &Config{v: v}, nil
}

func mergeJSONPatch(v *viper.Viper, patch string) error {
	patch = strings.TrimSpace(patch)
	if patch == "" {
		return nil
	}
	return v.MergeConfig(bytes.NewBufferString(patch))
}

// Get resolves key (a viper dotted path) and, when the stored value is
// a symlink of the form "{a:b:c}", resolves it once against the same
// document (no chaining: the target is read literally, even if it is
// itself a symlink string), per spec section 9.
func (c *Config) Get(key string) any {
	v := c.v.Get(key)
	if target, ok := symlinkTarget(v); ok {
		return c.v.Get(target)
	}
	return v
}

// GetString is a typed convenience wrapper around Get.
func (c *Config) GetString(key string) string {
	v := c.Get(key)
	s, _ := v.(string)
	return s
}

// symlinkTarget reports whether v is a "{a:b:c}" symlink string and,
// if so, the viper dotted path it refers to.
func symlinkTarget(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	if inner == "" {
		return "", false
	}
	return strings.ReplaceAll(inner, ":", "."), true
}

// RootDir resolves MRSM_ROOT_DIR, defaulting to ~/.config/mrsm.
func RootDir() string {
	if dir := os.Getenv("MRSM_ROOT_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mrsm"
	}
	return filepath.Join(home, ".config", "mrsm")
}

// PluginsDirs splits MRSM_PLUGINS_DIR's colon-separated list.
func PluginsDirs() []string {
	raw := os.Getenv("MRSM_PLUGINS_DIR")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ":")
	dirs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			dirs = append(dirs, p)
		}
	}
	return dirs
}

// NoAsk reports whether MRSM_NOASK is set, suppressing interactive
// confirmation prompts per spec section 6.
func NoAsk() bool {
	return os.Getenv("MRSM_NOASK") != ""
}

// InstanceLabels lists every instance configured under the "instances"
// key, in sorted order, so callers can enumerate backends without
// knowing their labels ahead of time.
func (c *Config) InstanceLabels() []string {
	raw, ok := c.v.Get("instances").(map[string]any)
	if !ok {
		return nil
	}
	labels := make([]string, 0, len(raw))
	for label := range raw {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// InstanceFlavor and InstanceDSN resolve a configured instance's
// backend flavor and connection string. DSN falls back to a sqlite-
// style "path" field when "dsn" is unset, matching the config file
// shape a user is most likely to hand-write.
func (c *Config) InstanceFlavor(label string) string {
	return c.GetString("instances." + label + ".flavor")
}

func (c *Config) InstanceDSN(label string) string {
	if dsn := c.GetString("instances." + label + ".dsn"); dsn != "" {
		return dsn
	}
	return c.GetString("instances." + label + ".path")
}

// ConnectorDef is one MRSM_<TYPE>_<LABEL> definition: either a bare URI
// string, or a decoded JSON document, per spec section 6.
type ConnectorDef struct {
	URI  string
	JSON map[string]any
}

// ConnectorEnvVars scans the process environment for MRSM_<TYPE>_<LABEL>
// entries (spec section 6: "define a connector by URI or JSON") and
// returns them keyed by "type:label".
func ConnectorEnvVars() map[string]ConnectorDef {
	out := map[string]ConnectorDef{}
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !strings.HasPrefix(key, "MRSM_") {
			continue
		}
		rest := strings.TrimPrefix(key, "MRSM_")
		if rest == "" || isReservedEnvSuffix(rest) {
			continue
		}
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 {
			continue
		}
		typ := strings.ToLower(parts[0])
		label := strings.ToLower(parts[1])

		def := ConnectorDef{URI: val}
		if strings.HasPrefix(strings.TrimSpace(val), "{") {
			var doc map[string]any
			if err := decodeJSON(val, &doc); err != nil {
				log.WithError(err).WithField("key", key).Warn("connector env var looked like JSON but failed to parse")
			} else {
				def = ConnectorDef{JSON: doc}
			}
		}
		out[typ+":"+label] = def
	}
	return out
}

func isReservedEnvSuffix(rest string) bool {
	switch rest {
	case "CONFIG", "PATCH", "ROOT_DIR", "PLUGINS_DIR", "NOASK":
		return true
	}
	return false
}

// decodeJSON is a small helper used by callers that need a connector
// env var's JSON form decoded rather than treated as a bare URI.
func decodeJSON(raw string, out any) error {
	return json.NewDecoder(strings.NewReader(raw)).Decode(out)
}
