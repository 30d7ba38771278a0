package config

import (
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(ExpandPath(f)); err != nil && !isNotExist(err) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays the deployment variables onto cfg. lookup is
// os.LookupEnv in production.
//
//	TOKEN              telegram.token
//	DOWNLOAD_DIR       download.dir
//	ALLOWED_GROUP_IDS  routing.allowedGroupIds (comma-separated)
//	TOPIC_CHAT_ID      routing.overflowChatId
//	TOPIC_THREAD_ID    routing.overflowThreadId
//	LOG_LEVEL          general.logLevel
//	LOG_CHAT_ID        escalation.chatId, enables escalation
//	LOG_THREAD_ID      escalation.threadId
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("DOWNLOAD_DIR"); ok {
		cfg.Download.Dir = v
	}
	if v, ok := get("ALLOWED_GROUP_IDS"); ok {
		cfg.Routing.AllowedGroupIDs = ParseIDList(v)
	}
	if v, ok := get("TOPIC_CHAT_ID"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Routing.OverflowChatID = id
		}
	}
	if v, ok := get("TOPIC_THREAD_ID"); ok {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Routing.OverflowThreadID = id
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.General.LogLevel = strings.ToLower(v)
	}
	if v, ok := get("LOG_CHAT_ID"); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id != 0 {
			cfg.Escalation.ChatID = id
			cfg.Escalation.Enabled = true
		}
	}
	if v, ok := get("LOG_THREAD_ID"); ok {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Escalation.ThreadID = id
		}
	}
}
