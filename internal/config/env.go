package config

import (
	"os"
	"strconv"
)

// applyEnvOverrides lets operators point the viewer at another backend or
// inject the Redis password without editing the config file.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Port, "BOOKVIEW_PORT")
	setStr(&cfg.LogLevel, "BOOKVIEW_LOG_LEVEL")
	setStr(&cfg.BackendURL, "BOOKVIEW_BACKEND_URL")
	setStr(&cfg.APIPath, "BOOKVIEW_API_PATH")
	setStr(&cfg.FrontendURL, "BOOKVIEW_FRONTEND_URL")
	setInt(&cfg.PollIntervalSeconds, "BOOKVIEW_POLL_INTERVAL_SECONDS")
	setInt(&cfg.RequestTimeoutSeconds, "BOOKVIEW_REQUEST_TIMEOUT_SECONDS")
	setStr(&cfg.DefaultSymbol, "BOOKVIEW_DEFAULT_SYMBOL")
	setInt(&cfg.DepthLevels, "BOOKVIEW_DEPTH_LEVELS")
	setInt(&cfg.CrossedAlertCooldownSeconds, "BOOKVIEW_CROSSED_ALERT_COOLDOWN_SECONDS")
	setStr(&cfg.SessionStorePath, "BOOKVIEW_SESSION_STORE_PATH")
	setStr(&cfg.ViewerID, "BOOKVIEW_VIEWER_ID")

	setStr(&cfg.Push.Transport, "BOOKVIEW_PUSH_TRANSPORT")
	setStr(&cfg.Push.URL, "BOOKVIEW_PUSH_URL")
	setStr(&cfg.Push.Event, "BOOKVIEW_PUSH_EVENT")
	setStr(&cfg.Push.SubscribeEvent, "BOOKVIEW_PUSH_SUBSCRIBE_EVENT")

	setStr(&cfg.Redis.Addr, "BOOKVIEW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOOKVIEW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOOKVIEW_REDIS_DB")
	setStr(&cfg.Redis.Channel, "BOOKVIEW_REDIS_CHANNEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
