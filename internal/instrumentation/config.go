package instrumentation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/viper"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "cftmail"

// Exporters. Metrics go to prometheus or otlp; traces to otlp, stdout or
// nowhere.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

var (
	metricsExporters = []string{ExporterPrometheus, ExporterOTLP}
	tracesExporters  = []string{ExporterNone, ExporterOTLP, ExporterStdout}
)

// Config selects how cftmail reports metrics, traces and the dispatch audit
// trail. The mapstructure tags are the environment variables read by
// LoadConfig.
type Config struct {
	ServiceName    string `mapstructure:"OTEL_SERVICE_NAME"`
	ServiceVersion string `mapstructure:"-"`

	// InstanceID defaults to the hostname.
	InstanceID string `mapstructure:"OTEL_SERVICE_INSTANCE_ID"`

	// Enabled false records nothing and serves no /metrics.
	Enabled bool `mapstructure:"INSTRUMENTATION_ENABLED"`

	MetricsExporter string `mapstructure:"METRICS_EXPORTER"`
	TracesExporter  string `mapstructure:"TRACING_EXPORTER"`

	// OTLPEndpoint is host:port of the collector, without scheme.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// TraceSampling is the ratio of root dispatch traces kept.
	TraceSampling float64 `mapstructure:"OTEL_TRACES_SAMPLER_ARG"`

	// SenderDomains labels dispatch metrics with the sender's email domain.
	// Agencies are few, so the label stays bounded; leave it off otherwise.
	SenderDomains bool `mapstructure:"METRICS_SENDER_DOMAINS"`

	Audit AuditConfig `mapstructure:",squash"`
}

// AuditConfig controls the dispatch audit log.
type AuditConfig struct {
	Enabled bool `mapstructure:"AUDIT_LOGGING_ENABLED"`

	// IncludePII logs sender and recipient addresses in full. The log must
	// then be stored with the same care as the mailbox.
	IncludePII bool `mapstructure:"AUDIT_LOGGING_INCLUDE_PII"`
}

var configDefaults = map[string]any{
	"OTEL_SERVICE_NAME":           DefaultServiceName,
	"OTEL_SERVICE_INSTANCE_ID":    "",
	"INSTRUMENTATION_ENABLED":     true,
	"METRICS_EXPORTER":            ExporterPrometheus,
	"TRACING_EXPORTER":            ExporterNone,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_TRACES_SAMPLER_ARG":     0.1,
	"METRICS_SENDER_DOMAINS":      false,
	"AUDIT_LOGGING_ENABLED":       true,
	"AUDIT_LOGGING_INCLUDE_PII":   false,
}

// LoadConfig reads the instrumentation settings from the environment and
// validates them.
func LoadConfig(version string) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load instrumentation configuration: %w", err)
	}
	cfg.ServiceVersion = version
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that NewProvider cannot honour. A
// disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !slices.Contains(metricsExporters, c.MetricsExporter) {
		return fmt.Errorf("invalid metrics exporter %q, must be one of %v", c.MetricsExporter, metricsExporters)
	}
	if !slices.Contains(tracesExporters, c.TracesExporter) {
		return fmt.Errorf("invalid tracing exporter %q, must be one of %v", c.TracesExporter, tracesExporters)
	}
	if c.TraceSampling < 0 || c.TraceSampling > 1 {
		return fmt.Errorf("trace sampling ratio must be between 0 and 1, got %g", c.TraceSampling)
	}
	if c.OTLPEndpoint == "" && (c.MetricsExporter == ExporterOTLP || c.TracesExporter == ExporterOTLP) {
		return errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required for the otlp exporter")
	}
	return nil
}
