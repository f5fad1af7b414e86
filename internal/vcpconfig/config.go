// Package vcpconfig loads service configuration from a filesystem root with
// deterministic layering, grounded on the teacher lineage's pkg/config
// loader (base -> env -> tenant -> env-var overrides), but with genuine YAML
// parsing via gopkg.in/yaml.v3 in place of the teacher's json-as-yaml v0
// restriction.
//
// Layout convention:
//
//	<root>/vcpaudit.yaml
//	<root>/env/<env>/vcpaudit.yaml
//	<root>/tenants/<tenant>/vcpaudit.yaml
//
// Later layers override earlier ones field-by-field (deep merge on maps,
// replace on everything else). After file layers are merged, environment
// variables prefixed VCPAUDIT_ with "__" as the nesting delimiter are
// applied last, e.g. VCPAUDIT_ANCHOR__PROVIDER=local sets anchor.provider.
package vcpconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidRoot   = errors.New("vcpconfig: invalid root")
	ErrNotObject     = errors.New("vcpconfig: top-level document must be a mapping")
	ErrDepthExceeded = errors.New("vcpconfig: override path exceeds max depth")
)

const (
	defaultEnvPrefix     = "VCPAUDIT_"
	defaultPathDelimiter = "__"
	defaultMaxDepth      = 16
)

// Options controls how Load resolves layers for one service instance.
type Options struct {
	Root   string // filesystem root holding vcpaudit.yaml and env/, tenants/
	Env    string // optional, e.g. "local", "staging", "prod"
	Tenant string // optional tenant id

	EnableEnvOverrides bool
	EnvPrefix          string
	PathDelimiter      string
	MaxDepth           int
}

func (o Options) withDefaults() Options {
	if o.EnvPrefix == "" {
		o.EnvPrefix = defaultEnvPrefix
	}
	if o.PathDelimiter == "" {
		o.PathDelimiter = defaultPathDelimiter
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = defaultMaxDepth
	}
	return o
}

// Layer records one contributing document, for audit/debugging purposes.
type Layer struct {
	Path string
	Tier string // base|env|tenant
}

// Bundle is the result of a Load: the merged configuration tree plus the
// ordered list of layers that contributed to it.
type Bundle struct {
	Layers []Layer
	Merged map[string]any
}

// Anchor holds the anchor scheduler's configuration subtree.
type Anchor struct {
	Provider      string `yaml:"provider"`
	IntervalCount int    `yaml:"interval_count"`
	TSAURL        string `yaml:"tsa_url,omitempty"`
	BitcoinRPC    string `yaml:"bitcoin_rpc,omitempty"`
}

// Service is the top-level decoded configuration shape for vcpaudit.
type Service struct {
	ListenAddr    string `yaml:"listen_addr"`
	DataDir       string `yaml:"data_dir"`
	SigningKey    string `yaml:"signing_key_path"`
	PublicKey     string `yaml:"public_key_path"`
	Anchor        Anchor `yaml:"anchor"`
	SQLMirrorDSN  string `yaml:"sql_mirror_dsn,omitempty"`
	SQLMirrorDrv  string `yaml:"sql_mirror_driver,omitempty"`
	LogLevel      string `yaml:"log_level"`
	Tier          string `yaml:"tier"`
	PolicyID      string `yaml:"policy_id"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
}

// Load resolves the base -> env -> tenant -> env-var layering described in
// the package doc comment and decodes the merged result into a Service.
func Load(opts Options) (Service, Bundle, error) {
	opts = opts.withDefaults()
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return Service{}, Bundle{}, ErrInvalidRoot
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return Service{}, Bundle{}, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}

	paths := []Layer{{Path: filepath.Join(rootAbs, "vcpaudit.yaml"), Tier: "base"}}
	if opts.Env != "" {
		paths = append(paths, Layer{Path: filepath.Join(rootAbs, "env", opts.Env, "vcpaudit.yaml"), Tier: "env"})
	}
	if opts.Tenant != "" {
		paths = append(paths, Layer{Path: filepath.Join(rootAbs, "tenants", opts.Tenant, "vcpaudit.yaml"), Tier: "tenant"})
	}

	merged := map[string]any{}
	var used []Layer
	for _, l := range paths {
		doc, ok, err := readYAMLObject(l.Path)
		if err != nil {
			return Service{}, Bundle{}, fmt.Errorf("vcpconfig: load %s: %w", l.Path, err)
		}
		if !ok {
			continue
		}
		merged = deepMerge(merged, doc, 0, opts.MaxDepth)
		used = append(used, l)
	}

	if opts.EnableEnvOverrides {
		overrides, err := envOverrides(opts.EnvPrefix, opts.PathDelimiter, opts.MaxDepth)
		if err != nil {
			return Service{}, Bundle{}, err
		}
		merged = deepMerge(merged, overrides, 0, opts.MaxDepth)
	}

	var svc Service
	b, err := yaml.Marshal(merged)
	if err != nil {
		return Service{}, Bundle{}, fmt.Errorf("vcpconfig: remarshal merged tree: %w", err)
	}
	if err := yaml.Unmarshal(b, &svc); err != nil {
		return Service{}, Bundle{}, fmt.Errorf("vcpconfig: decode merged tree: %w", err)
	}

	return svc, Bundle{Layers: used, Merged: merged}, nil
}

func readYAMLObject(path string) (map[string]any, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, false, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return normalizeKeys(doc), true, nil
}

// normalizeKeys recursively converts map[any]any (which yaml.v3 can produce
// for nested maps in some decode paths) into map[string]any so deepMerge can
// operate uniformly.
func normalizeKeys(v any) map[string]any {
	out := map[string]any{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range m {
		out[k] = normalizeValue(val)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeKeys(t)
	case map[any]any:
		conv := make(map[string]any, len(t))
		for k, val := range t {
			conv[fmt.Sprintf("%v", k)] = normalizeValue(val)
		}
		return conv
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func deepMerge(dst, src map[string]any, depth, maxDepth int) map[string]any {
	if depth > maxDepth {
		return dst
	}
	if dst == nil {
		dst = map[string]any{}
	}
	for k, sv := range src {
		if dm, ok := dst[k].(map[string]any); ok {
			if sm, ok := sv.(map[string]any); ok {
				dst[k] = deepMerge(dm, sm, depth+1, maxDepth)
				continue
			}
		}
		dst[k] = sv
	}
	return dst
}

// envOverrides scans the process environment for prefix-matching variables
// and builds a nested map by splitting each suffix on delimiter, mirroring
// the teacher convention (e.g. GATEWAY_DB__HOST) adapted to this service's
// VCPAUDIT_ prefix.
func envOverrides(prefix, delimiter string, maxDepth int) (map[string]any, error) {
	root := map[string]any{}
	env := os.Environ()
	sort.Strings(env)
	for _, kv := range env {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(key, prefix)
		if suffix == "" {
			continue
		}
		segs := strings.Split(strings.ToLower(suffix), strings.ToLower(delimiter))
		if len(segs) > maxDepth {
			return nil, fmt.Errorf("%w: %s", ErrDepthExceeded, key)
		}
		if err := setPath(root, segs, parseEnvValue(val)); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func setPath(root map[string]any, segs []string, val any) error {
	cur := root
	for i, seg := range segs {
		if seg == "" {
			return fmt.Errorf("vcpconfig: empty path segment in override")
		}
		if i == len(segs)-1 {
			cur[seg] = val
			return nil
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	return nil
}

// parseEnvValue interprets an env-var override's value as a bool, int,
// float, or falls back to a raw string, matching the teacher convention of
// "parse as JSON if possible, else treat as a string" but scoped to the
// scalar types that matter for this service's config surface.
func parseEnvValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
