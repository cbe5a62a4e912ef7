package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables consulted for fields the file leaves unset.
const (
	EnvLogLevel           = "LOG_LEVEL"
	EnvLogFormat          = "LOG_FORMAT"
	EnvTracingEnabled     = "SITL_TRACING_ENABLED"
	EnvTracingExporter    = "SITL_TRACING_EXPORTER"
	EnvTracingServiceName = "SITL_TRACING_SERVICE_NAME"
	EnvTracingSampleRatio = "SITL_TRACING_SAMPLE_RATIO"
	EnvOTLPEndpoint       = "SITL_OTLP_ENDPOINT"
)

const (
	defaultServiceName = "flight-sitl"
	defaultExporter    = "stdout"
)

// envOr returns the value of key, or fallback when it is unset or blank.
func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envBool reports whether key holds a true value as strconv.ParseBool reads
// it. Unparseable values count as false.
func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

// envRatio reads a sampling ratio in [0,1]. Out-of-range or malformed values
// yield fallback.
func envRatio(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return fallback
	}
	return v
}
