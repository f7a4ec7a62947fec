package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
		AMI: AMIConfig{
			Host:     "pbx.internal",
			Port:     5038,
			Username: "dialer",
			Secret:   "amisecret",
			Context:  "outbound-agents",
			Exten:    "7001",
		},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "JWT_SECRET", "AMI_HOST", "AMI_CONTEXT"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestValidate_DefaultsPersist(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Dialer.RegistrationTimeout != 10*time.Second || c.Dialer.SettleDelay != 1500*time.Millisecond {
		t.Fatalf("dialer defaults not applied: %+v", c.Dialer)
	}
	if c.Dialer.DefaultDisposition != "connected" || c.AMI.ChannelTemplate != "PJSIP/%s" {
		t.Fatalf("unexpected defaults: %+v %+v", c.Dialer, c.AMI)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected access ttl default, got %v", c.Auth.AccessTokenTTL)
	}
	if c.PostgresEnabled() || c.RedisEnabled() {
		t.Fatalf("optional stores should be disabled without hosts")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "issuer", "aud"
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer"}
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validConfig()
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_AMISecretOrCredentialURL(t *testing.T) {
	c := validConfig()
	c.AMI.Secret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error without a secret source")
	}
	c = validConfig()
	c.AMI.Secret = ""
	c.Credential.URL = "https://auth.internal/v1/sip-credential"
	if err := c.Validate(); err != nil {
		t.Fatalf("credential url should satisfy the secret requirement: %v", err)
	}
}

func TestValidate_DialerKnobs(t *testing.T) {
	c := validConfig()
	c.Dialer.DefaultDisposition = "busy"
	c.Dialer.CountryCode = "44x"
	c.AMI.ChannelTemplate = "PJSIP/trunk"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"DIALER_DEFAULT_DISPOSITION", "DIALER_COUNTRY_CODE", "AMI_CHANNEL_TEMPLATE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("AMI_HOST", "pbx.internal")
	t.Setenv("AMI_USERNAME", "dialer")
	t.Setenv("AMI_SECRET", "amisecret")
	t.Setenv("AMI_CONTEXT", "outbound-agents")
	t.Setenv("AMI_EXTEN", "7001")
	t.Setenv("DIALER_SETTLE_DELAY", "3s")
	t.Setenv("DIALER_COUNTRY_CODE", "+44")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr() != ":9090" || c.AMIAddr() != "pbx.internal:5038" {
		t.Fatalf("unexpected addrs %q %q", c.HTTPAddr(), c.AMIAddr())
	}
	if c.Dialer.SettleDelay != 3*time.Second || c.Dialer.CountryCode != "44" {
		t.Fatalf("unexpected dialer config %+v", c.Dialer)
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DIALER_SETTLE_DELAY", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DIALER_SETTLE_DELAY") {
		t.Fatalf("expected duration error, got %v", err)
	}
}
