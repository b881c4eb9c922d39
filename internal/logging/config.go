package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "SHIFTCTL_LOG_LEVEL"
	EnvLogTimestamp = "SHIFTCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "SHIFTCTL_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type config struct {
	level     zerolog.Level
	timestamp bool
	noColor   bool
	out       io.Writer
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure installs the process-wide zerolog logger once; later calls with a
// different profile are no-ops.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)

		writer := zerolog.ConsoleWriter{
			Out:     cfg.out,
			NoColor: cfg.noColor,
		}
		if cfg.timestamp {
			writer.TimeFormat = time.RFC3339
		}

		logger := zerolog.New(writer).Level(cfg.level)
		if cfg.timestamp {
			logger = logger.With().Timestamp().Logger()
		}
		log.Logger = logger
	})
}

func defaultConfig(profile Profile) config {
	if profile == ProfileTest {
		return config{
			level:     zerolog.DebugLevel,
			timestamp: false,
			noColor:   true,
			out:       os.Stderr,
		}
	}
	return config{
		level:     zerolog.InfoLevel,
		timestamp: true,
		noColor:   false,
		out:       os.Stderr,
	}
}

func applyEnvOverrides(cfg *config) {
	if raw, ok := os.LookupEnv(EnvLogLevel); ok {
		if level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw))); err == nil {
			cfg.level = level
		}
	}
	if raw, ok := os.LookupEnv(EnvLogTimestamp); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.timestamp = v
		}
	}
	if raw, ok := os.LookupEnv(EnvLogNoColor); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.noColor = v
		}
	}
}
