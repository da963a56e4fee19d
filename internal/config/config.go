package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for inspectbot.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Lark         LarkConfig         `json:"lark"`
	WeCom        WeComConfig        `json:"wecom"`
	Conversation ConversationConfig `json:"conversation"`
	Job          JobConfig          `json:"job"`
	History      HistoryConfig      `json:"history"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"`
	LogLevel  string `json:"logLevel"` // debug | info | warn | error
}

// LarkConfig configures the Lark (Feishu) webhook channel and API access.
type LarkConfig struct {
	Enabled           bool   `json:"enabled"`
	Port              int    `json:"port"`
	Path              string `json:"path"`
	AppID             string `json:"appId"`
	AppSecret         string `json:"appSecret"`
	EncryptKey        string `json:"encryptKey,omitempty"`
	VerificationToken string `json:"verificationToken,omitempty"`
	APIBase           string `json:"apiBase,omitempty"`
}

// WeComConfig configures the WeCom webhook channel and API access.
type WeComConfig struct {
	Enabled        bool   `json:"enabled"`
	Port           int    `json:"port"`
	Path           string `json:"path"`
	CorpID         string `json:"corpId"`
	CorpSecret     string `json:"corpSecret"`
	AgentID        int    `json:"agentId"`
	Token          string `json:"token"`
	EncodingAESKey string `json:"encodingAesKey"`
	APIBase        string `json:"apiBase,omitempty"`
}

// ConversationConfig tunes the parameter-collection dialogue.
type ConversationConfig struct {
	Triggers       []string `json:"triggers,omitempty"`
	CancelWords    []string `json:"cancelWords,omitempty"`
	SkipWords      []string `json:"skipWords,omitempty"`
	AllowSkipDates bool     `json:"allowSkipDates"`
	MaxRetries     int      `json:"maxRetries"`
	FlowsPath      string   `json:"flowsPath,omitempty"` // YAML flow menu + status synonyms
}

// JobConfig describes the external inspection job process.
type JobConfig struct {
	Command        string   `json:"command"`
	Args           []string `json:"args,omitempty"`
	Dir            string   `json:"dir,omitempty"`
	ProgressMarker string   `json:"progressMarker"`
	AllClearMarker string   `json:"allClearMarker"`
	SummaryPath    string   `json:"summaryPath"`
	ArtifactPaths  []string `json:"artifactPaths,omitempty"`
	QueueSize      int      `json:"queueSize"`
	TimeoutMinutes int      `json:"timeoutMinutes"` // 0 = no limit
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// DefaultConfigDir returns the default config directory (~/.inspectbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inspectbot"
	}
	return filepath.Join(home, ".inspectbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Job.Dir = ExpandPath(cfg.Job.Dir)
	cfg.Conversation.FlowsPath = ExpandPath(cfg.Conversation.FlowsPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original when no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Lark.Port < 0 || cfg.Lark.Port > 65535 {
		errs = append(errs, "lark.port must be between 0 and 65535")
	}
	if cfg.WeCom.Port < 0 || cfg.WeCom.Port > 65535 {
		errs = append(errs, "wecom.port must be between 0 and 65535")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}
	if cfg.Lark.Enabled && cfg.WeCom.Enabled && cfg.Lark.Port == cfg.WeCom.Port {
		errs = append(errs, "lark.port and wecom.port must differ when both channels are enabled")
	}

	if cfg.WeCom.Enabled && len(cfg.WeCom.EncodingAESKey) != 43 {
		errs = append(errs, "wecom.encodingAesKey must be 43 characters")
	}

	if cfg.Conversation.MaxRetries < 1 || cfg.Conversation.MaxRetries > 10 {
		errs = append(errs, "conversation.maxRetries must be between 1 and 10")
	}
	if cfg.Job.QueueSize < 1 {
		errs = append(errs, "job.queueSize must be >= 1")
	}
	if cfg.Job.TimeoutMinutes < 0 {
		errs = append(errs, "job.timeoutMinutes must be >= 0")
	}
	if cfg.Job.Command == "" {
		errs = append(errs, "job.command is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
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
