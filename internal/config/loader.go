package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overlays RUNBOX_* environment variables onto cfg. Only
// non-empty, well-formed values override. Booleans accept 1/true/yes and
// 0/false/no.
func LoadFromEnv(cfg *Config) {
	if v := envInt("RUNBOX_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("RUNBOX_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RUNBOX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RUNBOX_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v := os.Getenv("RUNBOX_INTERPRETER"); v != "" {
		cfg.Interpreter = v
	}
	if v := os.Getenv("RUNBOX_INTERPRETER_ARGS"); v != "" {
		cfg.InterpreterArgs = strings.Fields(v)
	}
	if v := envDuration("RUNBOX_GRACE_PERIOD"); v > 0 {
		cfg.GracePeriod = v
	}
	if v := envDuration("RUNBOX_SETTLE_PERIOD"); v > 0 {
		cfg.SettlePeriod = v
	}
	if v, ok := envBool("RUNBOX_KILL_ON_CLOSE"); ok {
		cfg.KillOnClose = v
	}
	if v := envDuration("RUNBOX_EXEC_TIMEOUT"); v > 0 {
		cfg.ExecTimeout = v
	}
	if v := envDuration("RUNBOX_POLL_INTERVAL"); v > 0 {
		cfg.PollInterval = v
	}
	if v, ok := envBool("RUNBOX_SHEPHERD"); ok {
		cfg.Shepherd = v
	}
}

func envInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func envBool(key string) (value, ok bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}
