package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig is the logger setup read from the process environment.
//
//	LOG_LEVEL        debug, info, warn, error (info)
//	LOG_FORMAT       json or text (json)
//	SERVICE_NAME     value of the service field (scanium-enricher)
//	APP_ENV          local, dev or prod (local)
//	LOG_FILE         rotated log file, ignored when APP_ENV=local
//	LOG_FILE_ONLY    skip stdout outside local
//	LOG_MAX_SIZE     MB per file before rotation (100)
//	LOG_MAX_BACKUPS  rotated files kept (7)
//	LOG_MAX_AGE      days rotated files are kept (30)
//	LOG_COMPRESS     gzip rotated files (true)
type EnvConfig struct {
	Level       string
	Format      string
	Output      io.Writer // overrides every file and stdout setting
	ServiceName string
	Environment string

	LogFile     string
	LogFileOnly bool
	MaxSize     int
	MaxBackups  int
	MaxAge      int
	Compress    bool
}

// LoadFromEnv reads EnvConfig, falling back to defaults for unset or
// unparsable values.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Level:       envOr("LOG_LEVEL", "info", parseString),
		Format:      envOr("LOG_FORMAT", "json", parseString),
		ServiceName: envOr("SERVICE_NAME", "scanium-enricher", parseString),
		Environment: envOr("APP_ENV", "local", parseString),
		LogFile:     envOr("LOG_FILE", "/var/log/scanium/enricher.log", parseString),
		LogFileOnly: envOr("LOG_FILE_ONLY", false, strconv.ParseBool),
		MaxSize:     envOr("LOG_MAX_SIZE", 100, strconv.Atoi),
		MaxBackups:  envOr("LOG_MAX_BACKUPS", 7, strconv.Atoi),
		MaxAge:      envOr("LOG_MAX_AGE", 30, strconv.Atoi),
		Compress:    envOr("LOG_COMPRESS", true, strconv.ParseBool),
	}
}

func parseString(s string) (string, error) { return s, nil }

func envOr[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}
