package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"telecom-dialer/internal/config"
)

func TestBuild_InMemoryWithoutOptionalStores(t *testing.T) {
	cfg := config.Config{
		App:  config.AppConfig{Env: "local", Port: 8080},
		Auth: config.AuthConfig{JWTSecret: "secret"},
		AMI: config.AMIConfig{
			Host:     "pbx.internal",
			Port:     5038,
			Username: "dialer",
			Secret:   "amisecret",
			Context:  "outbound-agents",
			Exten:    "7001",
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	st, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
	if st.Engine == nil || st.Audit == nil || st.Gate == nil || st.Prompter == nil {
		t.Fatalf("stack not fully wired: %+v", st)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = st.Engine.Run(ctx) }()

	status, err := st.Engine.DeviceStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != "unregistered" || status.Permitted {
		t.Fatalf("expected an idle device, got %+v", status)
	}
}

func TestLeaseIdentity(t *testing.T) {
	cfg := config.Config{AMI: config.AMIConfig{Host: "pbx", Port: 5038, Username: "agent-7"}}
	if got := leaseIdentity(cfg); got != "agent-7@pbx:5038" {
		t.Fatalf("unexpected identity %q", got)
	}
}
