package telemetry

import (
	"context"
	"testing"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "cinetrack"}, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestEndpointHost(t *testing.T) {
	tests := []struct {
		endpoint     string
		wantHost     string
		wantInsecure bool
	}{
		{"http://collector:4318", "collector:4318", true},
		{"https://otel.example.com/", "otel.example.com", false},
		{"collector:4318", "collector:4318", true},
	}
	for _, tt := range tests {
		host, insecure := endpointHost(tt.endpoint)
		if host != tt.wantHost || insecure != tt.wantInsecure {
			t.Errorf("endpointHost(%q) = %q, %v; want %q, %v", tt.endpoint, host, insecure, tt.wantHost, tt.wantInsecure)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " http://collector:4318 ")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	cfg := ConfigFromEnv("cinetrack-server")
	if cfg.Endpoint != "http://collector:4318" || cfg.SampleRatio != 0.25 || cfg.ServiceName != "cinetrack-server" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "7")
	if got := ConfigFromEnv("x").SampleRatio; got != 1 {
		t.Fatalf("out of range ratio should fall back to 1, got %v", got)
	}
}
