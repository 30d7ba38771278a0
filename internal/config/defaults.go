package config

import (
	"errors"
	"io/fs"
)

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:                "~/.hiddenprotocol",
			LogLevel:               "info",
			LogFormat:              "text",
			LogFile:                "~/.hiddenprotocol/logs/bot.log",
			ShutdownTimeoutSeconds: 30,
			BusBufferSize:          100,
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 30,
		},
		Download: DownloadConfig{
			Dir:                "./downloads",
			Binary:             "yt-dlp",
			Format:             "mp4/bestvideo+bestaudio/best",
			MergeFormat:        "mp4",
			OutputTemplate:     "%(title).200B-%(id)s.%(ext)s",
			ProgressIntervalMs: 1500,
			RetentionMinutes:   20,
			SweepSchedule:      "@every 5m",
		},
		Escalation: EscalationConfig{
			RatePerMinute:      20,
			Burst:              5,
			DedupWindowSeconds: 60,
			QueueSize:          256,
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.hiddenprotocol/history.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
