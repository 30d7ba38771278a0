package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the bot.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Telegram   TelegramConfig   `json:"telegram"`
	Routing    RoutingConfig    `json:"routing"`
	Download   DownloadConfig   `json:"download"`
	Escalation EscalationConfig `json:"escalation"`
	History    HistoryConfig    `json:"history"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	DataDir                string `json:"dataDir"`
	LogLevel               string `json:"logLevel"`
	LogFormat              string `json:"logFormat"`         // "text" | "json"
	LogFile                string `json:"logFile,omitempty"` // rotating debug log; empty disables
	ShutdownTimeoutSeconds int    `json:"shutdownTimeoutSeconds"`
	BusBufferSize          int    `json:"busBufferSize"`
}

type TelegramConfig struct {
	Token              string `json:"token"`
	APIEndpoint        string `json:"apiEndpoint,omitempty"`
	PollTimeoutSeconds int    `json:"pollTimeoutSeconds"`
}

// RoutingConfig decides where videos from group chats are delivered.
type RoutingConfig struct {
	AllowedGroupIDs  FlexInt64List `json:"allowedGroupIds"`
	OverflowChatID   int64         `json:"overflowChatId,omitempty"`
	OverflowThreadID int           `json:"overflowThreadId,omitempty"`
}

type DownloadConfig struct {
	Dir                string   `json:"dir"`
	Binary             string   `json:"binary"`
	FFmpegLocation     string   `json:"ffmpegLocation,omitempty"`
	Format             string   `json:"format"`
	MergeFormat        string   `json:"mergeFormat"`
	OutputTemplate     string   `json:"outputTemplate"`
	ExtraArgs          []string `json:"extraArgs,omitempty"`
	MaxConcurrent      int      `json:"maxConcurrent"`  // 0 = unbounded
	TimeoutSeconds     int      `json:"timeoutSeconds"` // 0 = no deadline
	ProgressIntervalMs int      `json:"progressIntervalMs"`
	RetentionMinutes   int      `json:"retentionMinutes"`
	SweepSchedule      string   `json:"sweepSchedule"`
}

// EscalationConfig mirrors errors and flagged records into a chat.
type EscalationConfig struct {
	Enabled            bool  `json:"enabled"`
	ChatID             int64 `json:"chatId,omitempty"`
	ThreadID           int   `json:"threadId,omitempty"`
	RatePerMinute      int   `json:"ratePerMinute"`
	Burst              int   `json:"burst"`
	DedupWindowSeconds int   `json:"dedupWindowSeconds"`
	QueueSize          int   `json:"queueSize"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// FlexInt64List accepts a JSON array of numbers and numeric strings,
// or a single comma-separated string. Non-numeric entries are dropped.
type FlexInt64List []int64

func (f *FlexInt64List) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = ParseIDList(s)
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		var n int64
		if err := json.Unmarshal(item, &n); err == nil {
			out = append(out, n)
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, ParseIDList(s)...)
		}
	}
	*f = out
	return nil
}

// ParseIDList parses "-1001, 42,abc" into [-1001 42].
func ParseIDList(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// DefaultConfigDir returns ~/.hiddenprotocol.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hiddenprotocol"
	}
	return filepath.Join(home, ".hiddenprotocol")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML file (by extension), expands ${VAR}
// references, overlays the environment and validates the result.
// A missing file at path is not an error when allowMissing is set; the
// defaults plus environment are used instead.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg, err := Read(path, allowMissing)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for tools that only need part of the
// configuration.
func Read(path string, allowMissing bool) (*Config, error) {
	path = ExpandPath(path)
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = []byte(ExpandEnvVars(string(data)))
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && allowMissing:
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	ApplyEnv(cfg, os.LookupEnv)
	cfg.resolvePaths()
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decode goes through a generic map for YAML so both formats share the
// json tags.
func decode(path string, data []byte, cfg *Config) error {
	if !isYAML(path) {
		return json.Unmarshal(data, cfg)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return err
	}
	js, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(js, cfg)
}

func (c *Config) resolvePaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Download.Dir = ExpandPath(c.Download.Dir)
	c.History.DBPath = ExpandPath(c.History.DBPath)
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} and ${VAR:-default}. Unset variables
// without a default are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return err
		}
		if data, err = yaml.Marshal(plainNumbers(m)); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// plainNumbers turns json.Number leaves into int64 or float64 so chat ids
// are written in full rather than in exponent form.
func plainNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = plainNumbers(child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = plainNumbers(child)
		}
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	default:
		return v
	}
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, "telegram.token is required (or set TOKEN)")
	}
	if cfg.Telegram.PollTimeoutSeconds < 1 || cfg.Telegram.PollTimeoutSeconds > 50 {
		errs = append(errs, "telegram.pollTimeoutSeconds must be between 1 and 50")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "critical":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, "general.shutdownTimeoutSeconds must be >= 1")
	}

	if cfg.Download.Dir == "" {
		errs = append(errs, "download.dir is required")
	}
	if cfg.Download.Binary == "" {
		errs = append(errs, "download.binary is required")
	}
	if cfg.Download.MaxConcurrent < 0 {
		errs = append(errs, "download.maxConcurrent must be >= 0")
	}
	if cfg.Download.TimeoutSeconds < 0 {
		errs = append(errs, "download.timeoutSeconds must be >= 0")
	}
	if cfg.Download.RetentionMinutes < 1 {
		errs = append(errs, "download.retentionMinutes must be >= 1")
	}

	if (cfg.Routing.OverflowChatID == 0) != (cfg.Routing.OverflowThreadID == 0) {
		errs = append(errs, "routing.overflowChatId and routing.overflowThreadId must be set together")
	}

	if cfg.Escalation.Enabled && cfg.Escalation.ChatID == 0 {
		errs = append(errs, "escalation.chatId is required when escalation is enabled")
	}
	if cfg.Escalation.RatePerMinute < 1 {
		errs = append(errs, "escalation.ratePerMinute must be >= 1")
	}

	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
