package instrumentation

import (
	"strings"
	"testing"
)

// clearConfigEnv blanks every variable LoadConfig reads; viper ignores empty
// values, so the defaults apply.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for key := range configDefaults {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig("1.2.3")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", cfg.ServiceName, DefaultServiceName)
	}
	if cfg.ServiceVersion != "1.2.3" {
		t.Errorf("ServiceVersion = %q, want 1.2.3", cfg.ServiceVersion)
	}
	if !cfg.Enabled {
		t.Error("expected instrumentation on by default")
	}
	if cfg.MetricsExporter != ExporterPrometheus {
		t.Errorf("MetricsExporter = %q, want prometheus", cfg.MetricsExporter)
	}
	if cfg.TracesExporter != ExporterNone {
		t.Errorf("TracesExporter = %q, want none", cfg.TracesExporter)
	}
	if cfg.SenderDomains {
		t.Error("expected sender domains off by default")
	}
	if !cfg.Audit.Enabled || cfg.Audit.IncludePII {
		t.Errorf("expected audit on without PII, got %+v", cfg.Audit)
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OTEL_SERVICE_NAME", "cftmail-staging")
	t.Setenv("TRACING_EXPORTER", "otlp")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("METRICS_SENDER_DOMAINS", "true")
	t.Setenv("AUDIT_LOGGING_INCLUDE_PII", "true")

	cfg, err := LoadConfig("dev")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServiceName != "cftmail-staging" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.TracesExporter != ExporterOTLP || cfg.OTLPEndpoint != "collector:4318" {
		t.Errorf("expected otlp traces to collector:4318, got %q %q", cfg.TracesExporter, cfg.OTLPEndpoint)
	}
	if cfg.TraceSampling != 0.5 {
		t.Errorf("TraceSampling = %g, want 0.5", cfg.TraceSampling)
	}
	if !cfg.SenderDomains {
		t.Error("expected sender domains on")
	}
	if !cfg.Audit.IncludePII {
		t.Error("expected audit PII on")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("METRICS_EXPORTER", "stdout")

	if _, err := LoadConfig("dev"); err == nil {
		t.Fatal("expected stdout metrics to be rejected")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		ServiceName:     DefaultServiceName,
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracesExporter:  ExporterNone,
		TraceSampling:   0.1,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "prometheus without traces", mutate: func(*Config) {}},
		{name: "disabled skips checks", mutate: func(c *Config) { c.Enabled = false; c.MetricsExporter = "bogus" }},
		{name: "stdout traces", mutate: func(c *Config) { c.TracesExporter = ExporterStdout }},
		{
			name:   "otlp with endpoint",
			mutate: func(c *Config) { c.MetricsExporter = ExporterOTLP; c.OTLPEndpoint = "collector:4318" },
		},
		{
			name:    "unknown metrics exporter",
			mutate:  func(c *Config) { c.MetricsExporter = ExporterNone },
			wantErr: "invalid metrics exporter",
		},
		{
			name:    "unknown traces exporter",
			mutate:  func(c *Config) { c.TracesExporter = "jaeger" },
			wantErr: "invalid tracing exporter",
		},
		{
			name:    "sampling above one",
			mutate:  func(c *Config) { c.TraceSampling = 1.5 },
			wantErr: "between 0 and 1",
		},
		{
			name:    "otlp traces without endpoint",
			mutate:  func(c *Config) { c.TracesExporter = ExporterOTLP },
			wantErr: "OTEL_EXPORTER_OTLP_ENDPOINT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
