package config

import "path/filepath"

// Defaults returns a config with sensible defaults. Load unmarshals the
// config file on top of this, so absent fields keep these values.
func Defaults() *Config {
	dir := DefaultConfigDir()
	return &Config{
		General: GeneralConfig{
			Workspace: filepath.Join(dir, "workspace"),
			LogLevel:  "info",
		},
		Lark: LarkConfig{
			Enabled: false,
			Port:    8081,
			Path:    "/lark",
			APIBase: "https://open.feishu.cn/open-apis",
		},
		WeCom: WeComConfig{
			Enabled: false,
			Port:    8080,
			Path:    "/wecom",
			APIBase: "https://qyapi.weixin.qq.com/cgi-bin",
		},
		Conversation: ConversationConfig{
			Triggers:       []string{"inspect", "start inspection", "run"},
			CancelWords:    []string{"cancel", "stop"},
			SkipWords:      []string{"skip", "-"},
			AllowSkipDates: false,
			MaxRetries:     3,
		},
		Job: JobConfig{
			Command:        "python3",
			Args:           []string{"main.py"},
			ProgressMarker: "[PROGRESS]",
			AllClearMarker: "🎉",
			SummaryPath:    "report_summary.md",
			ArtifactPaths:  []string{"error_logs.xlsx", "error_logs.txt"},
			QueueSize:      64,
			TimeoutMinutes: 0,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  filepath.Join(dir, "history.db"),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9091,
		},
	}
}
