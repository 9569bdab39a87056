package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/attribute"
)

// OTELConfig holds OpenTelemetry exporter configuration from environment variables
type OTELConfig struct {
	ServiceName        string `env:"OTEL_SERVICE_NAME" envDefault:"proctree"`
	ResourceAttributes string `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:""`
	ExporterEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	TracesEndpoint     string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT" envDefault:""`
	Headers            string `env:"OTEL_EXPORTER_OTLP_HEADERS" envDefault:""`
	Insecure           bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// ParseOTELConfig parses OTEL configuration from environment variables
func ParseOTELConfig() (*OTELConfig, error) {
	var cfg OTELConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	return &cfg, nil
}

// GetEndpoint returns the endpoint for traces.
// Priority: OTEL_EXPORTER_OTLP_TRACES_ENDPOINT > OTEL_EXPORTER_OTLP_ENDPOINT > localhost:4318
func (c *OTELConfig) GetEndpoint() string {
	if c.TracesEndpoint != "" {
		return c.TracesEndpoint
	}
	if c.ExporterEndpoint != "" {
		return c.ExporterEndpoint
	}
	return "localhost:4318"
}

// ParseResourceAttributes parses OTEL_RESOURCE_ATTRIBUTES (key1=value1,key2=value2).
func (c *OTELConfig) ParseResourceAttributes() []attribute.KeyValue {
	pairs := parseKeyValues(c.ResourceAttributes)
	if len(pairs) == 0 {
		return nil
	}

	attrs := make([]attribute.KeyValue, 0, len(pairs))
	for _, kv := range pairs {
		attrs = append(attrs, attribute.String(kv[0], kv[1]))
	}
	return attrs
}

// ParseHeaders parses OTEL_EXPORTER_OTLP_HEADERS into a header map.
func (c *OTELConfig) ParseHeaders() map[string]string {
	pairs := parseKeyValues(c.Headers)
	if len(pairs) == 0 {
		return nil
	}

	headers := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		headers[kv[0]] = kv[1]
	}
	return headers
}

// parseKeyValues splits "k1=v1,k2=v2", trimming spaces and dropping entries
// without '=' or with an empty key. Order is preserved.
func parseKeyValues(s string) [][2]string {
	if s == "" {
		return nil
	}

	var out [][2]string
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out = append(out, [2]string{key, strings.TrimSpace(value)})
	}
	return out
}
