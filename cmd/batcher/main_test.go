package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"quora/internal/config"
	ncore "quora/internal/notifications/core"
	"quora/internal/queue"
)

type stubCloudWatch struct{}

func (stubCloudWatch) PutMetricData(context.Context, *cloudwatch.PutMetricDataInput, ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/quora_test")
	t.Setenv("EVENTS_BACKEND", "none")
	t.Setenv("EMAIL_PROVIDER", "log")
	t.Setenv("FORUM_TIMEZONE", "Australia/Perth")

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	return cfg
}

func TestNewMetrics(t *testing.T) {
	m := newMetrics(config.ObservabilityConfig{EnableMetrics: false}, stubCloudWatch{}, testLogger())
	if _, ok := m.(ncore.NopMetrics); !ok {
		t.Errorf("disabled metrics: got %T, want ncore.NopMetrics", m)
	}

	m = newMetrics(config.ObservabilityConfig{EnableMetrics: true, MetricNamespace: "Quora"}, stubCloudWatch{}, testLogger())
	if _, ok := m.(*ncore.CloudWatchCronMetrics); !ok {
		t.Errorf("enabled metrics: got %T, want *ncore.CloudWatchCronMetrics", m)
	}
}

func TestReadLocalEvent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty input", input: "", want: `{}`},
		{name: "payload", input: `{"reference_time":"2026-03-01T17:00:00Z"}`, want: `{"reference_time":"2026-03-01T17:00:00Z"}`},
		{name: "invalid json", input: `{"reference_time":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readLocalEvent(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildHandler(t *testing.T) {
	cfg := loadTestConfig(t)

	h, err := buildHandler(cfg, nil, aws.Config{}, queue.NopPublisher{}, ncore.NopMetrics{}, testLogger())
	if err != nil {
		t.Fatalf("buildHandler: %v", err)
	}
	if h == nil {
		t.Fatal("expected a handler")
	}

	// A payload for another task is rejected before any storage access.
	err = h.Handle(context.Background(), json.RawMessage(`{"task":"clean_read_records"}`))
	if err == nil || !strings.Contains(err.Error(), "unexpected task") {
		t.Errorf("got %v, want unexpected task error", err)
	}
}

func TestBuildHandler_BadTimezone(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Forum.Timezone = "Mars/Olympus_Mons"

	if _, err := buildHandler(cfg, nil, aws.Config{}, queue.NopPublisher{}, ncore.NopMetrics{}, testLogger()); err == nil {
		t.Error("expected an error for an unknown timezone")
	}
}
